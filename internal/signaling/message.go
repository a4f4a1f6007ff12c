package signaling

import (
	"encoding/json"
	"fmt"
)

// Message is the envelope for every websocket frame exchanged with the relay,
// in both directions. The relay only reads Type and Room; Payload is carried
// through untouched.
type Message struct {
	Type    string          `json:"type"`
	Room    string          `json:"room,omitempty"`
	From    string          `json:"from,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Message type constants.
const (
	// C2S
	MessageTypeJoin = "join"

	// C2S and relayed S2C
	MessageTypeStart  = "start"
	MessageTypeOffer  = "offer"
	MessageTypeAnswer = "answer"
	MessageTypeICE    = "ice"

	// S2C
	MessageTypeConnected   = "connected"
	MessageTypeBye         = "bye"
	MessageTypeUpdateRooms = "update_rooms"
)

// IsRelayed reports whether the relay forwards this type to other room members.
func IsRelayed(t string) bool {
	switch t {
	case MessageTypeStart, MessageTypeOffer, MessageTypeAnswer, MessageTypeICE:
		return true
	}
	return false
}

// SessionDescription mirrors RTCSessionDescriptionInit.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Candidate mirrors RTCIceCandidateInit. An empty Candidate marks the end of
// gathering.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// NewMessage builds a message with a JSON encoded payload. A nil payload
// leaves Payload empty.
func NewMessage(msgType, room string, payload any) (*Message, error) {
	msg := &Message{Type: msgType, Room: room}
	if payload == nil {
		return msg, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", msgType, err)
	}
	msg.Payload = b
	return msg, nil
}

// Decode unmarshals the payload into v.
func (m *Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s message has no payload", m.Type)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Type, err)
	}
	return nil
}
