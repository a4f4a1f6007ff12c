package relay

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/BioHazard786/Screenlink/internal/metrics"
	"github.com/BioHazard786/Screenlink/internal/signaling"
)

// DefaultSendBuffer is the per-endpoint outbound queue length.
const DefaultSendBuffer = 256

// Options configures a Relay.
type Options struct {
	SendBuffer int
	Metrics    *metrics.Relay
}

// Relay routes signaling messages between the members of a room. It never
// inspects payloads and never waits for delivery.
type Relay struct {
	dir        *Directory
	metrics    *metrics.Relay
	sendBuffer int
}

// New creates a relay with an empty directory.
func New(opts Options) *Relay {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = DefaultSendBuffer
	}
	return &Relay{
		dir:        NewDirectory(),
		metrics:    opts.Metrics,
		sendBuffer: opts.SendBuffer,
	}
}

// Directory exposes the room directory.
func (r *Relay) Directory() *Directory {
	return r.dir
}

// PublicRooms returns a consistent snapshot of the public room listing.
func (r *Relay) PublicRooms() []string {
	return r.dir.PublicRooms()
}

// Serve takes ownership of an upgraded connection. It registers a new
// endpoint, greets it with its identifier and starts its pumps.
func (r *Relay) Serve(conn *websocket.Conn) *Endpoint {
	e := newEndpoint(r, uuid.NewString(), conn, r.sendBuffer)

	greeting, _ := signaling.NewMessage(signaling.MessageTypeConnected, "", e.id)
	r.dir.Update(func(t *Table) {
		t.Add(e)
		r.deliver(e, greeting)
		r.metrics.SetCounts(t.Counts())
	})

	zap.L().Debug("endpoint connected", zap.String("endpoint", e.id), zap.String("addr", e.remoteAddr()))

	go e.writePump()
	go e.readPump()
	return e
}

// Shutdown sends a going-away close frame to every endpoint and closes its
// connection. Each endpoint then leaves and disconnects as usual.
func (r *Relay) Shutdown() {
	var all []*Endpoint
	r.dir.View(func(t *Table) { all = t.Endpoints() })

	frame := websocket.FormatCloseMessage(websocket.CloseGoingAway, "relay shutting down")
	for _, e := range all {
		if e.conn == nil {
			continue
		}
		e.conn.WriteControl(websocket.CloseMessage, frame, time.Now().Add(writeWait))
		e.conn.Close()
	}
	zap.L().Info("relay shut down", zap.Int("endpoints", len(all)))
}

// Dispatch handles one message read from e.
func (r *Relay) Dispatch(e *Endpoint, msg *signaling.Message) {
	r.metrics.Read(msg.Type)

	switch {
	case msg.Type == signaling.MessageTypeJoin:
		room := msg.Room
		if room == "" {
			// Browser clients send the room as the payload string.
			_ = json.Unmarshal(msg.Payload, &room)
		}
		r.Join(e, room)
	case signaling.IsRelayed(msg.Type):
		r.Relay(e, msg.Room, msg.Type, msg.Payload)
	default:
		zap.L().Debug("ignoring message", zap.String("endpoint", e.id), zap.String("type", msg.Type))
	}
}

// Join adds e to room and broadcasts the room listing to every connected
// endpoint. Joining twice is harmless; the listing is still broadcast.
func (r *Relay) Join(e *Endpoint, room string) {
	if room == "" {
		return
	}
	r.dir.Update(func(t *Table) {
		if t.Join(e.id, room) {
			zap.L().Info("endpoint joined room", zap.String("endpoint", e.id), zap.String("room", room), zap.Int("members", t.Size(room)))
		}
		r.broadcastRooms(t)
		r.metrics.SetCounts(t.Counts())
	})
}

// Relay forwards payload to every other member of room. The sender does not
// have to be a member. No pairing is done: with more than two members every
// one of them receives the message, with one member nobody does.
func (r *Relay) Relay(e *Endpoint, room, msgType string, payload json.RawMessage) {
	if room == "" {
		return
	}
	msg := &signaling.Message{Type: msgType, Room: room, From: e.id, Payload: payload}
	r.dir.View(func(t *Table) {
		for _, peer := range t.Others(room, e.id) {
			r.deliver(peer, msg)
		}
	})
}

// Leaving tells the remaining members of each room e belongs to that e is
// going away. It must run before Disconnect while memberships still list e.
func (r *Relay) Leaving(e *Endpoint) {
	r.dir.View(func(t *Table) {
		for _, room := range t.RoomsOf(e.id) {
			bye, _ := signaling.NewMessage(signaling.MessageTypeBye, room, e.id)
			bye.From = e.id
			for _, peer := range t.Others(room, e.id) {
				r.deliver(peer, bye)
			}
		}
	})
}

// Disconnect removes e from the directory, closes its outbound queue and
// broadcasts the refreshed room listing.
func (r *Relay) Disconnect(e *Endpoint) {
	r.dir.Update(func(t *Table) {
		if t.Endpoint(e.id) != e {
			return
		}
		left := t.Remove(e.id)
		e.shutdown()
		r.broadcastRooms(t)
		r.metrics.SetCounts(t.Counts())
		zap.L().Debug("endpoint disconnected", zap.String("endpoint", e.id), zap.Strings("rooms", left))
	})
}

// broadcastRooms sends the public listing to every endpoint. Must run inside
// Directory.Update so the listing matches the membership that produced it.
func (r *Relay) broadcastRooms(t *Table) {
	msg, _ := signaling.NewMessage(signaling.MessageTypeUpdateRooms, "", t.PublicRooms())
	for _, e := range t.Endpoints() {
		r.deliver(e, msg)
	}
}

// deliver enqueues without blocking. Must run inside Update or View.
func (r *Relay) deliver(e *Endpoint, msg *signaling.Message) {
	if e.enqueue(msg) {
		r.metrics.Delivered(msg.Type)
		return
	}
	r.metrics.Drop(msg.Type)
	zap.L().Warn("dropping message for slow endpoint", zap.String("endpoint", e.id), zap.String("type", msg.Type), zap.String("room", msg.Room))
}
