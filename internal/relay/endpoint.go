package relay

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/BioHazard786/Screenlink/internal/signaling"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024 // 64 KB - enough for WebRTC SDP messages
)

// Endpoint is one signaling connection.
type Endpoint struct {
	id    string
	relay *Relay
	conn  *websocket.Conn

	// send is the outbound queue drained by writePump. It is only written to
	// and closed while holding the directory lock.
	send   chan *signaling.Message
	closed bool
}

func newEndpoint(r *Relay, id string, conn *websocket.Conn, buffer int) *Endpoint {
	return &Endpoint{
		id:    id,
		relay: r,
		conn:  conn,
		send:  make(chan *signaling.Message, buffer),
	}
}

// ID returns the identifier assigned at connect time.
func (e *Endpoint) ID() string {
	return e.id
}

// enqueue hands msg to the write pump without blocking. A full queue drops
// the message. The caller must hold the directory lock.
func (e *Endpoint) enqueue(msg *signaling.Message) bool {
	if e.closed {
		return false
	}
	select {
	case e.send <- msg:
		return true
	default:
		return false
	}
}

// shutdown closes the outbound queue so writePump exits. The caller must hold
// the directory write lock.
func (e *Endpoint) shutdown() {
	if e.closed {
		return
	}
	e.closed = true
	close(e.send)
}

func (e *Endpoint) remoteAddr() string {
	if e.conn == nil {
		return ""
	}
	return e.conn.RemoteAddr().String()
}

// readPump pumps messages from the websocket connection to the relay.
//
// The relay runs readPump in a per-connection goroutine, which makes it the
// only reader on the connection and the endpoint's handler.
func (e *Endpoint) readPump() {
	defer func() {
		e.relay.Leaving(e)
		e.relay.Disconnect(e)
		e.conn.Close()
	}()

	e.conn.SetReadLimit(maxMessageSize)
	e.conn.SetReadDeadline(time.Now().Add(pongWait))
	e.conn.SetPongHandler(func(string) error {
		e.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := e.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				zap.L().Debug("endpoint read failed", zap.String("endpoint", e.id), zap.Error(err))
			}
			return
		}

		var msg signaling.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			zap.L().Debug("ignoring malformed frame", zap.String("endpoint", e.id), zap.Error(err))
			continue
		}

		e.relay.Dispatch(e, &msg)
	}
}

// writePump pumps messages from the relay to the websocket connection.
//
// A goroutine running writePump is started for each connection, which makes
// it the only writer on the connection.
func (e *Endpoint) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		e.conn.Close()
	}()

	for {
		select {
		case message, ok := <-e.send:
			e.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The relay closed the queue.
				e.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := e.conn.WriteJSON(message); err != nil {
				zap.L().Debug("endpoint write failed", zap.String("endpoint", e.id), zap.Error(err))
				return
			}

		case <-ticker.C:
			e.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := e.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
