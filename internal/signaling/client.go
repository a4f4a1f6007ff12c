package signaling

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/BioHazard786/Screenlink/internal/dns"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024

	outgoingBuffer = 64
	incomingBuffer = 64
)

var (
	ErrNotConnected  = errors.New("signaling: not connected")
	ErrClientClosed  = errors.New("signaling: client closed")
	ErrSendQueueFull = errors.New("signaling: send queue full")
)

// State is the client's view of its relay connection.
type State int

const (
	StateConnecting State = iota
	StateConnected
	// StateDisconnected means reconnect attempts were exhausted.
	StateDisconnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Options configures a Client.
type Options struct {
	URL string

	// Resolver, when set, resolves the relay host with public DNS fallback.
	Resolver *dns.Resolver

	// Attempts bounds the dials made per (re)connect. Zero means one dial.
	Attempts    int
	Delay       time.Duration
	DialTimeout time.Duration

	Header http.Header
}

// Client manages the WebSocket connection to the relay. It reconnects with
// bounded exponential backoff and rejoins every room it joined before.
type Client struct {
	opts     Options
	incoming chan *Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	finishOnce sync.Once

	mu       sync.Mutex
	state    State
	id       string
	out      chan *Message
	rooms    []string
	onChange func(State)
}

// NewClient creates a client. Nothing is dialed until Connect.
func NewClient(opts Options) *Client {
	if opts.Delay <= 0 {
		opts.Delay = time.Second
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 20 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		opts:     opts,
		incoming: make(chan *Message, incomingBuffer),
		ctx:      ctx,
		cancel:   cancel,
		state:    StateConnecting,
	}
}

// OnStateChange registers fn to be called on every state transition. It must
// be set before Connect.
func (c *Client) OnStateChange(fn func(State)) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// Connect dials the relay, retrying per the options, and starts the pumps.
func (c *Client) Connect(ctx context.Context) error {
	if _, err := url.Parse(c.opts.URL); err != nil {
		c.setState(StateDisconnected)
		c.finish()
		return fmt.Errorf("invalid server URL: %w", err)
	}

	stop := context.AfterFunc(ctx, c.cancel)
	conn, err := c.dial(c.ctx)
	stop()
	if err != nil {
		c.setState(StateDisconnected)
		c.finish()
		return fmt.Errorf("failed to connect: %w", err)
	}

	c.wg.Add(1)
	go c.run(conn)
	return nil
}

// ID returns the endpoint identifier the relay assigned on the current
// connection, or "" before the greeting arrives.
func (c *Client) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Incoming returns the channel of messages read from the relay. It is closed
// when the client is closed or gives up reconnecting.
func (c *Client) Incoming() <-chan *Message {
	return c.incoming
}

// Send queues msg for the current connection without blocking.
func (c *Client) Send(msg *Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sendLocked(msg)
}

func (c *Client) sendLocked(msg *Message) error {
	switch {
	case c.state == StateClosed:
		return ErrClientClosed
	case c.state != StateConnected || c.out == nil:
		return ErrNotConnected
	}
	select {
	case c.out <- msg:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Join joins room now if connected and again after every reconnect.
func (c *Client) Join(room string) error {
	msg, err := NewMessage(MessageTypeJoin, room, nil)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return ErrClientClosed
	}
	known := false
	for _, r := range c.rooms {
		if r == room {
			known = true
			break
		}
	}
	if !known {
		c.rooms = append(c.rooms, room)
	}
	if err := c.sendLocked(msg); err != nil && !errors.Is(err, ErrNotConnected) {
		return err
	}
	return nil
}

// Close tears the connection down and waits for the pumps to exit.
func (c *Client) Close() {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
	c.setState(StateClosed)
	c.finish()
}

func (c *Client) finish() {
	c.finishOnce.Do(func() { close(c.incoming) })
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	if c.state == s || c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = s
	fn := c.onChange
	c.mu.Unlock()

	zap.L().Debug("signaling state changed", zap.Stringer("state", s))
	if fn != nil {
		fn(s)
	}
}

// run serves connections until the client is closed or reconnecting fails.
func (c *Client) run(conn *websocket.Conn) {
	defer c.wg.Done()

	for {
		c.serve(conn)
		if c.ctx.Err() != nil {
			return
		}

		c.setState(StateConnecting)
		next, err := c.dial(c.ctx)
		if err != nil {
			if c.ctx.Err() == nil {
				zap.L().Warn("giving up on signaling server", zap.String("url", c.opts.URL), zap.Error(err))
				c.setState(StateDisconnected)
				c.finish()
			}
			return
		}
		conn = next
	}
}

// serve pumps one connection until it breaks.
func (c *Client) serve(conn *websocket.Conn) {
	out := make(chan *Message, outgoingBuffer)

	c.mu.Lock()
	c.out = out
	for _, room := range c.rooms {
		if msg, err := NewMessage(MessageTypeJoin, room, nil); err == nil {
			out <- msg
		}
	}
	c.mu.Unlock()
	c.setState(StateConnected)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		c.writePump(conn, out, stop)
		close(done)
	}()

	c.readPump(conn)
	close(stop)
	<-done

	c.mu.Lock()
	c.out = nil
	c.id = ""
	c.mu.Unlock()
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.opts.DialTimeout,
		ReadBufferSize:   maxMessageSize,
		WriteBufferSize:  maxMessageSize,
	}
	if c.opts.Resolver != nil {
		dialer.NetDialContext = c.opts.Resolver.DialContext
	}

	var conn *websocket.Conn
	operation := func() error {
		dialCtx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
		defer cancel()
		cn, _, err := dialer.DialContext(dialCtx, c.opts.URL, c.opts.Header)
		if err != nil {
			return err
		}
		conn = cn
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.Delay
	b.MaxInterval = 5 * c.opts.Delay
	b.MaxElapsedTime = 0

	retries := c.opts.Attempts - 1
	if retries < 0 {
		retries = 0
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)

	err := backoff.RetryNotify(operation, policy, func(err error, wait time.Duration) {
		zap.L().Warn("signaling connect failed, retrying", zap.String("url", c.opts.URL), zap.Duration("wait", wait), zap.Error(err))
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// readPump reads messages from the WebSocket connection.
func (c *Client) readPump(conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if c.ctx.Err() == nil {
				zap.L().Debug("signaling read failed", zap.Error(err))
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		if msg.Type == MessageTypeConnected {
			var id string
			if err := msg.Decode(&id); err == nil {
				c.mu.Lock()
				c.id = id
				c.mu.Unlock()
			}
		}

		select {
		case c.incoming <- &msg:
		case <-c.ctx.Done():
			return
		}
	}
}

// writePump writes messages to the WebSocket connection and sends periodic pings.
func (c *Client) writePump(conn *websocket.Conn, out <-chan *Message, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message := <-out:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(message); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-stop:
			return

		case <-c.ctx.Done():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
