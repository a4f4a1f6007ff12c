package channel

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// Message kinds carried over the channel.
const (
	KindChat    = "chat"
	KindControl = "control"
)

// Label is the data channel label. Both peers create it with the same
// pre-negotiated ID so a session has exactly one.
const (
	Label = "screenlink"
	ID    = uint16(0)

	// MaxRetransmits bounds SCTP retries per message.
	MaxRetransmits = uint16(5000)
)

var (
	ErrChannelNotOpen = errors.New("channel not open")
	ErrUnknownKind    = errors.New("unknown message kind")
	ErrEmptyPayload   = errors.New("message has no payload")
)

// DataChannel is the part of *webrtc.DataChannel the channel uses.
type DataChannel interface {
	Send(data []byte) error
	SendText(s string) error
	OnOpen(f func())
	OnClose(f func())
	OnMessage(f func(msg webrtc.DataChannelMessage))
	ReadyState() webrtc.DataChannelState
	Close() error
}

// Owner is the negotiation session a channel belongs to.
type Owner interface {
	Room() string
}

// Message is one received envelope.
type Message struct {
	Kind string

	raw    []byte
	decode func([]byte, any) error
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	if len(m.raw) == 0 || m.decode == nil {
		return ErrEmptyPayload
	}
	return m.decode(m.raw, v)
}

// HandlerFunc handles one message kind.
type HandlerFunc func(Message)

// Init returns the data channel parameters every peer must use.
func Init() *webrtc.DataChannelInit {
	ordered := true
	negotiated := true
	id := ID
	maxRetransmits := MaxRetransmits
	return &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: &maxRetransmits,
		Negotiated:     &negotiated,
		ID:             &id,
	}
}

// Channel multiplexes message kinds over one reliable data channel.
type Channel struct {
	owner Owner
	codec Codec

	// dispatchMu is held for reading while a callback runs and for writing
	// by Close.
	dispatchMu sync.RWMutex

	mu       sync.Mutex
	dc       DataChannel
	handlers map[string]HandlerFunc
	onOpen   func()
	onClose  func()
	closed   bool
}

// New wraps dc. The channel is bound to owner for its whole life and is
// never reused by another session.
func New(dc DataChannel, owner Owner, codec Codec) *Channel {
	if codec == nil {
		codec = JSONCodec{}
	}
	c := &Channel{
		dc:       dc,
		owner:    owner,
		codec:    codec,
		handlers: make(map[string]HandlerFunc),
	}
	c.bind(dc)
	return c
}

// Rebind moves the channel onto dc and closes the data channel it replaces.
// Handlers stay registered. Callbacks from the replaced data channel are
// dropped.
func (c *Channel) Rebind(dc DataChannel) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return dc.Close()
	}
	previous := c.dc
	c.dc = dc
	c.mu.Unlock()

	c.bind(dc)
	return previous.Close()
}

func (c *Channel) bind(dc DataChannel) {
	dc.OnOpen(func() {
		c.run(dc, func() func() { return c.onOpen })
	})
	dc.OnClose(func() {
		c.run(dc, func() func() { return c.onClose })
	})
	dc.OnMessage(func(raw webrtc.DataChannelMessage) {
		c.dispatch(dc, raw)
	})
}

// Owner returns the session this channel belongs to.
func (c *Channel) Owner() Owner {
	return c.owner
}

// Handle registers fn for kind, replacing any previous handler.
func (c *Channel) Handle(kind string, fn HandlerFunc) {
	c.mu.Lock()
	c.handlers[kind] = fn
	c.mu.Unlock()
}

// OnOpen registers fn to run when the data channel opens.
func (c *Channel) OnOpen(fn func()) {
	c.mu.Lock()
	c.onOpen = fn
	c.mu.Unlock()
}

// OnClose registers fn to run when the data channel closes.
func (c *Channel) OnClose(fn func()) {
	c.mu.Lock()
	c.onClose = fn
	c.mu.Unlock()
}

// IsOpen reports whether Send can succeed.
func (c *Channel) IsOpen() bool {
	c.mu.Lock()
	closed, dc := c.closed, c.dc
	c.mu.Unlock()
	return !closed && dc.ReadyState() == webrtc.DataChannelStateOpen
}

func (c *Channel) current() DataChannel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dc
}

// Send frames payload under kind. It fails with ErrChannelNotOpen, without
// touching the network, when the channel is not open.
func (c *Channel) Send(kind string, payload any) error {
	if !c.IsOpen() {
		return ErrChannelNotOpen
	}

	data, err := c.codec.Encode(kind, payload)
	if err != nil {
		return err
	}

	dc := c.current()
	if c.codec.Binary() {
		err = dc.Send(data)
	} else {
		err = dc.SendText(string(data))
	}
	if err != nil {
		return fmt.Errorf("send %s: %w", kind, err)
	}
	return nil
}

// SendChat sends a chat line.
func (c *Channel) SendChat(text string) error {
	return c.Send(KindChat, text)
}

// SendControl sends a remote pointer event.
func (c *Channel) SendControl(ev ControlEvent) error {
	return c.Send(KindControl, ev)
}

// Close detaches every handler and closes the data channel. It waits for a
// running handler to return, and no handler starts after Close returns, so
// handlers must not call Close.
func (c *Channel) Close() error {
	c.dispatchMu.Lock()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.dispatchMu.Unlock()
		return nil
	}
	c.closed = true
	c.handlers = map[string]HandlerFunc{}
	c.onOpen = nil
	c.onClose = nil
	dc := c.dc
	c.mu.Unlock()
	c.dispatchMu.Unlock()

	return dc.Close()
}

// run calls the callback returned by get unless the channel is closed or
// from has been replaced.
func (c *Channel) run(from DataChannel, get func() func()) {
	c.dispatchMu.RLock()
	defer c.dispatchMu.RUnlock()

	c.mu.Lock()
	var fn func()
	if !c.closed && c.dc == from {
		fn = get()
	}
	c.mu.Unlock()

	if fn != nil {
		fn()
	}
}

func (c *Channel) dispatch(from DataChannel, raw webrtc.DataChannelMessage) {
	msg, err := c.codec.Decode(raw.Data)
	if err != nil {
		zap.L().Debug("dropping undecodable channel message", zap.String("room", c.owner.Room()), zap.Error(err))
		return
	}

	c.dispatchMu.RLock()
	defer c.dispatchMu.RUnlock()

	c.mu.Lock()
	stale := c.closed || c.dc != from
	fn := c.handlers[msg.Kind]
	c.mu.Unlock()

	if stale {
		return
	}
	if fn == nil {
		zap.L().Info("dropping channel message",
			zap.String("room", c.owner.Room()),
			zap.String("kind", msg.Kind),
			zap.Error(ErrUnknownKind),
		)
		return
	}
	fn(msg)
}
