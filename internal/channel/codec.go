package channel

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec frames envelopes for the wire.
type Codec interface {
	Name() string
	// Binary reports whether frames go out as binary rather than text messages.
	Binary() bool
	Encode(kind string, payload any) ([]byte, error)
	Decode(data []byte) (Message, error)
}

// NewCodec returns the codec registered under name.
func NewCodec(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSONCodec{}, nil
	case "msgpack":
		return MsgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown channel codec %q", name)
	}
}

// JSONCodec frames envelopes as newline-free JSON text.
type JSONCodec struct{}

type jsonEnvelope struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Binary() bool { return false }

func (JSONCodec) Encode(kind string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return json.Marshal(jsonEnvelope{Kind: kind, Payload: raw})
}

func (JSONCodec) Decode(data []byte) (Message, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, fmt.Errorf("decode envelope: %w", err)
	}
	return Message{Kind: env.Kind, raw: env.Payload, decode: json.Unmarshal}, nil
}

// MsgpackCodec frames envelopes as MessagePack binary messages. Both ends
// must be configured with it.
type MsgpackCodec struct{}

type msgpackEnvelope struct {
	Kind    string             `msgpack:"kind"`
	Payload msgpack.RawMessage `msgpack:"payload,omitempty"`
}

func (MsgpackCodec) Name() string { return "msgpack" }

func (MsgpackCodec) Binary() bool { return true }

func (MsgpackCodec) Encode(kind string, payload any) ([]byte, error) {
	raw, err := msgpack.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return msgpack.Marshal(&msgpackEnvelope{Kind: kind, Payload: raw})
}

func (MsgpackCodec) Decode(data []byte) (Message, error) {
	var env msgpackEnvelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return Message{}, fmt.Errorf("decode envelope: %w", err)
	}
	return Message{Kind: env.Kind, raw: env.Payload, decode: msgpack.Unmarshal}, nil
}
