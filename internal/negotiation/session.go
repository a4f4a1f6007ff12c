package negotiation

import (
	"errors"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/BioHazard786/Screenlink/internal/channel"
	"github.com/BioHazard786/Screenlink/internal/media"
	"github.com/BioHazard786/Screenlink/internal/signaling"
)

// Signaler sends messages through the relay.
type Signaler interface {
	Send(msg *signaling.Message) error
	ID() string
}

// Config configures a Session.
type Config struct {
	Room      string
	Signaler  Signaler
	Transport Transport

	// NewTransport replaces Transport when the session has to discard a
	// pending offer. It also creates the first transport if Transport is nil.
	NewTransport TransportFactory

	// ConnectTimeout bounds how long the session may stay connecting once
	// both sides have exchanged descriptions. Zero disables it.
	ConnectTimeout time.Duration

	Cropper media.Cropper
	Codec   channel.Codec
}

// Session drives one transport through offer/answer for one room. Every
// operation runs on the session's own event goroutine in arrival order.
type Session struct {
	room         string
	signaler     Signaler
	newTransport TransportFactory
	cropper      media.Cropper
	timeout      time.Duration
	ch           *channel.Channel

	queueMu sync.Mutex
	queue   []func()
	wake    chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup

	// Owned by the event goroutine.
	transport          Transport
	remote             string
	pending            []webrtc.ICECandidateInit
	tracks             []webrtc.TrackLocal
	sender             Sender
	crop               *media.Cropped
	lastOfferer        bool
	needsRenegotiation bool
	restarting         bool
	peerSeen           bool
	timer              *time.Timer

	mu       sync.Mutex
	state    State
	err      error
	onChange func(State)
	closed   bool
}

// NewSession wires the transport's callbacks and creates the session's
// message channel. Call Close to release it.
func NewSession(cfg Config) (*Session, error) {
	if cfg.Signaler == nil || (cfg.Transport == nil && cfg.NewTransport == nil) {
		return nil, errors.New("session needs a transport and a signaler")
	}
	cropper := cfg.Cropper
	if cropper == nil {
		cropper = media.PassthroughCropper{}
	}

	transport := cfg.Transport
	if transport == nil {
		var err error
		if transport, err = cfg.NewTransport(); err != nil {
			return nil, &Error{Op: "create transport", Room: cfg.Room, Err: err}
		}
	}

	s := &Session{
		room:         cfg.Room,
		signaler:     cfg.Signaler,
		newTransport: cfg.NewTransport,
		transport:    transport,
		cropper:      cropper,
		timeout:      cfg.ConnectTimeout,
		wake:         make(chan struct{}, 1),
		done:         make(chan struct{}),
	}

	dc, err := transport.DataChannel()
	if err != nil {
		if cfg.Transport == nil {
			transport.Close()
		}
		return nil, &Error{Op: "create channel", Room: cfg.Room, Err: err}
	}
	s.ch = channel.New(dc, s, cfg.Codec)
	s.wire(transport)

	s.wg.Add(1)
	go s.loop()
	return s, nil
}

// wire routes t's callbacks to the event goroutine. Events from a transport
// the session has since replaced are dropped.
func (s *Session) wire(t Transport) {
	t.OnICECandidate(func(c *webrtc.ICECandidateInit) {
		s.post(func() {
			if t == s.transport {
				s.sendCandidate(c)
			}
		})
	})
	t.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.post(func() {
			if t == s.transport {
				s.handleConnectionState(state)
			}
		})
	})
}

// Room implements channel.Owner.
func (s *Session) Room() string {
	return s.room
}

// Channel returns the session's message channel.
func (s *Session) Channel() *channel.Channel {
	return s.ch
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error that moved the session to failed, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// OnStateChange registers fn to be called from the event goroutine on every
// state change. fn must not call Close.
func (s *Session) OnStateChange(fn func(State)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Start announces the session to the room. A peer holding tracks answers
// with a fresh offer.
func (s *Session) Start() error {
	return s.do(func() error {
		msg, err := signaling.NewMessage(signaling.MessageTypeStart, s.room, nil)
		if err != nil {
			return err
		}
		return s.signaler.Send(msg)
	})
}

// HandleSignal queues a relayed message for this room. It implements
// signaling.Sink.
func (s *Session) HandleSignal(msg *signaling.Message) {
	s.post(func() { s.handleSignal(msg) })
}

// AddTrack sends track to the peer and (re)negotiates.
func (s *Session) AddTrack(track webrtc.TrackLocal) error {
	return s.do(func() error {
		sender, err := s.transport.AddTrack(track)
		if err != nil {
			return &Error{Op: "add track", Room: s.room, Err: err}
		}
		if s.sender == nil {
			s.sender = sender
		}
		s.tracks = append(s.tracks, track)
		s.negotiate(false)
		return nil
	})
}

// ReplaceTrack crops raw to region, swaps it into the sender added first and
// renegotiates. The previous crop worker is released.
func (s *Session) ReplaceTrack(raw webrtc.TrackLocal, region media.Region) error {
	return s.do(func() error {
		if s.sender == nil {
			return &Error{Op: "replace track", Room: s.room, Err: ErrUnknownTrack}
		}

		cropped, err := s.cropper.ApplyCropping(raw, region)
		if err != nil {
			return &Error{Op: "apply cropping", Room: s.room, Err: err, Details: region.String()}
		}
		if err := s.sender.ReplaceTrack(cropped.Track); err != nil {
			cropped.Release()
			return &Error{Op: "replace track", Room: s.room, Err: err}
		}

		previous := s.crop
		s.crop = cropped
		previous.Release()

		s.negotiate(false)
		return nil
	})
}

// Close tears the session down: event goroutine, timer, channel, crop worker
// and transport. No callback fires after Close returns. Close must not be
// called from a session callback.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	s.wg.Wait()

	if s.timer != nil {
		s.timer.Stop()
	}
	s.ch.Close()
	s.crop.Release()
	err := s.transport.Close()

	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
	return err
}

// post queues fn on the event goroutine. It reports false once the session
// is closed.
func (s *Session) post(fn func()) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	s.queueMu.Lock()
	s.queue = append(s.queue, fn)
	s.queueMu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

// do runs fn on the event goroutine and waits for its result.
func (s *Session) do(fn func() error) error {
	result := make(chan error, 1)
	if !s.post(func() { result <- fn() }) {
		return ErrSessionClosed
	}
	select {
	case err := <-result:
		return err
	case <-s.done:
		return ErrSessionClosed
	}
}

func (s *Session) loop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}

		for {
			s.queueMu.Lock()
			if len(s.queue) == 0 {
				s.queueMu.Unlock()
				break
			}
			fn := s.queue[0]
			s.queue[0] = nil
			s.queue = s.queue[1:]
			s.queueMu.Unlock()

			select {
			case <-s.done:
				return
			default:
			}
			fn()
		}
	}
}

func (s *Session) handleSignal(msg *signaling.Message) {
	if s.State().Terminal() || !s.fromPeer(msg) {
		return
	}
	if msg.Type != signaling.MessageTypeBye {
		s.peerSeen = true
		s.armTimer()
	}

	switch msg.Type {
	case signaling.MessageTypeStart:
		s.handleStart()
	case signaling.MessageTypeOffer:
		s.handleOffer(msg)
	case signaling.MessageTypeAnswer:
		s.handleAnswer(msg)
	case signaling.MessageTypeICE:
		s.handleCandidate(msg)
	case signaling.MessageTypeBye:
		zap.L().Info("peer left", zap.String("room", s.room), zap.String("endpoint", msg.From))
		s.setErr(&Error{Op: "session", Room: s.room, Err: ErrPeerLeft})
		s.setState(StateClosed)
	default:
		zap.L().Debug("ignoring signal", zap.String("room", s.room), zap.String("type", msg.Type))
	}
}

// fromPeer binds the session to the first endpoint it hears from. A start or
// offer from a different endpoint means the peer rejoined the room under a
// new identity, so the session closes and its owner starts over. Other
// messages from a different endpoint are stale and dropped.
func (s *Session) fromPeer(msg *signaling.Message) bool {
	if msg.From == "" || msg.From == s.remote {
		return true
	}
	if s.remote == "" {
		if msg.Type != signaling.MessageTypeBye {
			s.remote = msg.From
		}
		return true
	}

	switch msg.Type {
	case signaling.MessageTypeStart, signaling.MessageTypeOffer:
		zap.L().Info("peer changed",
			zap.String("room", s.room),
			zap.String("previous", s.remote),
			zap.String("endpoint", msg.From),
		)
		s.setErr(&Error{Op: "session", Room: s.room, Err: ErrPeerChanged, Details: msg.From})
		s.setState(StateClosed)
	default:
		zap.L().Debug("ignoring signal from previous peer",
			zap.String("room", s.room),
			zap.String("type", msg.Type),
			zap.String("endpoint", msg.From),
		)
	}
	return false
}

// handleStart answers a peer that just arrived. Only a session with tracks
// to send offers; the other side waits for that offer.
func (s *Session) handleStart() {
	if s.transport.SignalingState() == webrtc.SignalingStateHaveLocalOffer {
		// The outstanding offer went to an empty room. Resend it with the
		// candidates gathered since, which were never delivered.
		if local := s.transport.LocalDescription(); local != nil {
			s.sendDescription(signaling.MessageTypeOffer, *local)
		}
		return
	}
	if len(s.tracks) == 0 {
		zap.L().Debug("peer arrived, waiting for its offer", zap.String("room", s.room))
		return
	}
	s.negotiate(false)
}

func (s *Session) handleOffer(msg *signaling.Message) {
	desc, err := decodeDescription(msg, webrtc.SDPTypeOffer)
	if err != nil {
		s.fail("apply offer", err)
		return
	}

	if s.transport.SignalingState() == webrtc.SignalingStateHaveLocalOffer {
		if !s.yields(msg.From) {
			zap.L().Debug("ignoring colliding offer", zap.String("room", s.room), zap.String("endpoint", msg.From))
			return
		}
		if err := s.replaceTransport(); err != nil {
			s.fail("replace transport", err)
			return
		}
		s.needsRenegotiation = len(s.tracks) > 0
	}

	if err := s.applyRemote(desc); err != nil {
		s.fail("apply offer", err)
		return
	}

	answer, err := s.transport.CreateAnswer()
	if err != nil {
		s.fail("create answer", err)
		return
	}
	if err := s.transport.SetLocalDescription(answer); err != nil {
		s.fail("set answer", err)
		return
	}
	s.lastOfferer = false
	s.sendDescription(signaling.MessageTypeAnswer, answer)
	s.armTimer()

	s.renegotiateIfNeeded()
}

func (s *Session) handleAnswer(msg *signaling.Message) {
	if s.transport.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		zap.L().Debug("ignoring unexpected answer", zap.String("room", s.room))
		return
	}

	desc, err := decodeDescription(msg, webrtc.SDPTypeAnswer)
	if err != nil {
		s.fail("apply answer", err)
		return
	}
	if err := s.applyRemote(desc); err != nil {
		s.fail("apply answer", err)
		return
	}

	s.renegotiateIfNeeded()
}

// replaceTransport discards the pending local offer by moving the session onto
// a fresh transport in the stable state. A pion peer connection cannot roll
// back a local offer. The channel and the local tracks move with it; buffered
// remote candidates are kept for the incoming offer.
func (s *Session) replaceTransport() error {
	if s.newTransport == nil {
		return ErrNoTransportFactory
	}
	next, err := s.newTransport()
	if err != nil {
		return err
	}
	dc, err := next.DataChannel()
	if err != nil {
		next.Close()
		return err
	}

	var sender Sender
	for i, track := range s.tracks {
		if i == 0 && s.crop != nil {
			track = s.crop.Track
		}
		added, err := next.AddTrack(track)
		if err != nil {
			next.Close()
			return err
		}
		if i == 0 {
			sender = added
		}
	}

	previous := s.transport
	s.transport = next
	s.sender = sender
	s.restarting = false
	s.wire(next)

	if err := s.ch.Rebind(dc); err != nil {
		zap.L().Debug("closing replaced channel", zap.String("room", s.room), zap.Error(err))
	}
	if err := previous.Close(); err != nil {
		zap.L().Debug("closing replaced transport", zap.String("room", s.room), zap.Error(err))
	}
	zap.L().Info("yielded colliding offer", zap.String("room", s.room), zap.String("endpoint", s.remote))
	return nil
}

// applyRemote sets the remote description and flushes buffered candidates
// in arrival order.
func (s *Session) applyRemote(desc webrtc.SessionDescription) error {
	if err := s.transport.SetRemoteDescription(desc); err != nil {
		return errors.Join(ErrInvalidDescription, err)
	}

	pending := s.pending
	s.pending = nil
	for _, c := range pending {
		s.addCandidate(c)
	}
	return nil
}

func (s *Session) handleCandidate(msg *signaling.Message) {
	var c signaling.Candidate
	if err := msg.Decode(&c); err != nil {
		zap.L().Warn("dropping candidate", zap.String("room", s.room), zap.Error(errors.Join(ErrInvalidCandidate, err)))
		return
	}

	candidate := webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
	if !s.transport.HasRemoteDescription() {
		s.pending = append(s.pending, candidate)
		return
	}
	s.addCandidate(candidate)
}

func (s *Session) addCandidate(c webrtc.ICECandidateInit) {
	if err := s.transport.AddICECandidate(c); err != nil {
		zap.L().Warn("cannot apply candidate",
			zap.String("room", s.room),
			zap.String("candidate", c.Candidate),
			zap.Error(errors.Join(ErrInvalidCandidate, err)),
		)
	}
}

// negotiate creates and sends an offer, or defers it until the signaling
// state is stable again.
func (s *Session) negotiate(iceRestart bool) {
	if s.State().Terminal() {
		return
	}
	if s.transport.SignalingState() != webrtc.SignalingStateStable {
		s.needsRenegotiation = true
		return
	}

	offer, err := s.transport.CreateOffer(iceRestart)
	if err != nil {
		s.fail("create offer", err)
		return
	}
	if err := s.transport.SetLocalDescription(offer); err != nil {
		s.fail("set offer", err)
		return
	}
	s.lastOfferer = true
	s.sendDescription(signaling.MessageTypeOffer, offer)
	s.armTimer()
}

func (s *Session) renegotiateIfNeeded() {
	if s.needsRenegotiation && s.transport.SignalingState() == webrtc.SignalingStateStable {
		s.needsRenegotiation = false
		s.negotiate(false)
	}
}

// yields reports whether the local endpoint gives way to remote's offer.
// The smaller endpoint ID yields.
func (s *Session) yields(remote string) bool {
	return s.signaler.ID() < remote
}

func (s *Session) sendDescription(msgType string, desc webrtc.SessionDescription) {
	payload := signaling.SessionDescription{Type: desc.Type.String(), SDP: desc.SDP}
	msg, err := signaling.NewMessage(msgType, s.room, payload)
	if err == nil {
		err = s.signaler.Send(msg)
	}
	if err != nil {
		zap.L().Warn("cannot send description", zap.String("room", s.room), zap.String("type", msgType), zap.Error(err))
	}
}

// sendCandidate trickles one local candidate. nil is sent as the empty
// end-of-candidates marker.
func (s *Session) sendCandidate(c *webrtc.ICECandidateInit) {
	if s.State().Terminal() {
		return
	}
	payload := signaling.Candidate{}
	if c != nil {
		payload = signaling.Candidate{
			Candidate:        c.Candidate,
			SDPMid:           c.SDPMid,
			SDPMLineIndex:    c.SDPMLineIndex,
			UsernameFragment: c.UsernameFragment,
		}
	}

	msg, err := signaling.NewMessage(signaling.MessageTypeICE, s.room, payload)
	if err == nil {
		err = s.signaler.Send(msg)
	}
	if err != nil {
		zap.L().Debug("cannot send candidate", zap.String("room", s.room), zap.Error(err))
	}
}

func (s *Session) handleConnectionState(state webrtc.PeerConnectionState) {
	switch state {
	case webrtc.PeerConnectionStateConnecting:
		s.setState(StateConnecting)
	case webrtc.PeerConnectionStateConnected:
		s.restarting = false
		if s.timer != nil {
			s.timer.Stop()
		}
		s.setState(StateConnected)
	case webrtc.PeerConnectionStateDisconnected:
		s.setState(StateDisconnected)
		if s.lastOfferer && !s.restarting {
			s.restarting = true
			zap.L().Info("restarting ICE", zap.String("room", s.room))
			s.negotiate(true)
		}
	case webrtc.PeerConnectionStateFailed:
		s.fail("connect", ErrConnectionFailed)
	}
}

// armTimer starts the connect timeout once a local description exists and
// the peer has been heard from.
func (s *Session) armTimer() {
	if s.timeout <= 0 || s.timer != nil || !s.peerSeen || s.transport.LocalDescription() == nil {
		return
	}
	s.timer = time.AfterFunc(s.timeout, func() {
		s.post(func() {
			switch s.State() {
			case StateNew, StateConnecting:
				s.fail("connect", ErrConnectTimeout)
			}
		})
	})
}

func (s *Session) fail(op string, err error) {
	zap.L().Warn("negotiation failed", zap.String("room", s.room), zap.String("op", op), zap.Error(err))
	s.setErr(&Error{Op: op, Room: s.room, Err: err})
	if s.timer != nil {
		s.timer.Stop()
	}
	s.setState(StateFailed)
}

func (s *Session) setErr(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

func (s *Session) setState(next State) {
	s.mu.Lock()
	current := s.state
	if current == next || !CanTransition(current, next) || s.closed {
		s.mu.Unlock()
		return
	}
	s.state = next
	fn := s.onChange
	s.mu.Unlock()

	zap.L().Debug("session state", zap.String("room", s.room), zap.Stringer("state", next))
	if fn != nil {
		fn(next)
	}
}

func decodeDescription(msg *signaling.Message, want webrtc.SDPType) (webrtc.SessionDescription, error) {
	var payload signaling.SessionDescription
	if err := msg.Decode(&payload); err != nil {
		return webrtc.SessionDescription{}, errors.Join(ErrInvalidDescription, err)
	}
	if webrtc.NewSDPType(payload.Type) != want || payload.SDP == "" {
		return webrtc.SessionDescription{}, WrapError("decode description", ErrInvalidDescription, payload.Type)
	}
	return webrtc.SessionDescription{Type: want, SDP: payload.SDP}, nil
}
