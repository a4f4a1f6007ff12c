package signaling

import (
	"sync"

	"go.uber.org/zap"
)

// Sink receives the messages relayed into one room.
type Sink interface {
	HandleSignal(msg *Message)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(msg *Message)

// HandleSignal calls f(msg).
func (f SinkFunc) HandleSignal(msg *Message) { f(msg) }

// Handler routes incoming messages: room traffic to the sink registered for
// that room, room listings and identity greetings to channels.
type Handler struct {
	client *Client

	// RoomUpdates carries the latest public room listing. Stale listings
	// are replaced, not queued.
	RoomUpdates chan []string

	// Identity carries the endpoint ID after every (re)connect.
	Identity chan string

	mu    sync.Mutex
	sinks map[string]Sink
}

// NewHandler creates a new message handler.
func NewHandler(client *Client) *Handler {
	return &Handler{
		client:      client,
		RoomUpdates: make(chan []string, 1),
		Identity:    make(chan string, 1),
		sinks:       make(map[string]Sink),
	}
}

// Register routes messages for room to sink, replacing any previous sink.
func (h *Handler) Register(room string, sink Sink) {
	h.mu.Lock()
	h.sinks[room] = sink
	h.mu.Unlock()
}

// Unregister stops routing room.
func (h *Handler) Unregister(room string) {
	h.mu.Lock()
	delete(h.sinks, room)
	h.mu.Unlock()
}

// Start routes incoming messages until the client's incoming channel closes.
func (h *Handler) Start() {
	defer func() {
		close(h.RoomUpdates)
		close(h.Identity)
	}()

	for msg := range h.client.Incoming() {
		h.Route(msg)
	}
}

// Route dispatches one message.
func (h *Handler) Route(msg *Message) {
	switch msg.Type {
	case MessageTypeConnected:
		var id string
		if err := msg.Decode(&id); err != nil {
			zap.L().Debug("bad greeting", zap.Error(err))
			return
		}
		replaceLatest(h.Identity, id)

	case MessageTypeUpdateRooms:
		var rooms []string
		if err := msg.Decode(&rooms); err != nil {
			zap.L().Debug("bad room listing", zap.Error(err))
			return
		}
		replaceLatest(h.RoomUpdates, rooms)

	case MessageTypeStart, MessageTypeOffer, MessageTypeAnswer, MessageTypeICE, MessageTypeBye:
		h.mu.Lock()
		sink := h.sinks[msg.Room]
		h.mu.Unlock()
		if sink == nil {
			zap.L().Debug("no session for room", zap.String("room", msg.Room), zap.String("type", msg.Type))
			return
		}
		sink.HandleSignal(msg)

	default:
		zap.L().Debug("ignoring message", zap.String("type", msg.Type))
	}
}

// replaceLatest puts v into a one-slot channel, discarding an unread value.
// Route runs on a single goroutine, so the slot cannot be refilled between
// the drain and the send.
func replaceLatest[T any](ch chan T, v T) {
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}
