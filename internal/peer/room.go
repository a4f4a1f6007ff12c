// Package peer ties a joined room to its negotiation session, replacing the
// session whenever the other participant leaves.
package peer

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/BioHazard786/Screenlink/internal/channel"
	"github.com/BioHazard786/Screenlink/internal/config"
	"github.com/BioHazard786/Screenlink/internal/media"
	"github.com/BioHazard786/Screenlink/internal/negotiation"
	"github.com/BioHazard786/Screenlink/internal/signaling"
)

var ErrViewClosed = errors.New("room view closed")

// Signaler is the relay connection a room view sends through.
type Signaler interface {
	negotiation.Signaler
	Join(room string) error
}

// Router delivers relayed messages for a room to its sink.
type Router interface {
	Register(room string, sink signaling.Sink)
	Unregister(room string)
}

// TransportFactory creates the transport for each new session, and for a
// session that yields a colliding offer.
type TransportFactory = negotiation.TransportFactory

// Options configures a RoomView.
type Options struct {
	Room     string
	Config   *config.Config
	Signaler Signaler
	Router   Router

	// NewTransport defaults to a pion peer connection built from Config.
	NewTransport TransportFactory
	Cropper      media.Cropper

	// Source, when set, is shared once Share is called. The view owns it
	// and closes it on Close.
	Source media.Source
	Region media.Region

	// OnSession runs for every session the view creates, before the session
	// announces itself. Use it to register channel handlers.
	OnSession func(*negotiation.Session)
	// OnStateChange receives the state of the current session.
	OnStateChange func(negotiation.State)
}

type stateEvent struct {
	session *negotiation.Session
	state   negotiation.State
}

// RoomView is one joined room: its current session and channel, plus the
// outgoing media source if sharing.
type RoomView struct {
	opts  Options
	codec channel.Codec

	events chan stateEvent
	quit   chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	session *negotiation.Session
	sharing bool
	closed  bool
}

// Join registers the room with the router, joins it through the relay and
// starts the first session.
func Join(opts Options) (*RoomView, error) {
	if opts.Signaler == nil || opts.Router == nil {
		return nil, errors.New("room view needs a signaler and a router")
	}
	if opts.Config == nil {
		opts.Config = &config.Config{ChannelCodec: config.DefaultChannelCodec}
	}
	if opts.NewTransport == nil {
		cfg := opts.Config
		opts.NewTransport = func() (negotiation.Transport, error) {
			return negotiation.NewPionTransport(cfg)
		}
	}
	codec, err := channel.NewCodec(opts.Config.ChannelCodec)
	if err != nil {
		return nil, err
	}

	v := &RoomView{
		opts:   opts,
		codec:  codec,
		events: make(chan stateEvent, 16),
		quit:   make(chan struct{}),
	}

	session, err := v.newSession()
	if err != nil {
		return nil, err
	}
	v.session = session

	opts.Router.Register(opts.Room, v)
	if err := opts.Signaler.Join(opts.Room); err != nil {
		opts.Router.Unregister(opts.Room)
		session.Close()
		return nil, fmt.Errorf("join %s: %w", opts.Room, err)
	}
	v.announce(session)

	v.wg.Add(1)
	go v.supervise()
	return v, nil
}

// Room returns the room name.
func (v *RoomView) Room() string {
	return v.opts.Room
}

// Session returns the current session. It changes after the peer leaves.
func (v *RoomView) Session() *negotiation.Session {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.session
}

// Channel returns the current session's message channel.
func (v *RoomView) Channel() *channel.Channel {
	return v.Session().Channel()
}

// HandleSignal forwards relayed messages to the current session. It
// implements signaling.Sink.
func (v *RoomView) HandleSignal(msg *signaling.Message) {
	if s := v.Session(); s != nil {
		s.HandleSignal(msg)
	}
}

// Share starts the media source and sends it, cropped to the configured
// region. Source errors are returned before the session is touched.
func (v *RoomView) Share() error {
	if v.opts.Source == nil {
		return fmt.Errorf("%w: nothing to share", media.ErrSourceUnavailable)
	}
	if err := v.opts.Source.Start(); err != nil {
		return err
	}

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrViewClosed
	}
	v.sharing = true
	session := v.session
	v.mu.Unlock()

	return v.attach(session)
}

// Crop changes the shared region and renegotiates.
func (v *RoomView) Crop(region media.Region) error {
	if v.opts.Source == nil {
		return fmt.Errorf("%w: nothing to crop", media.ErrSourceUnavailable)
	}
	v.mu.Lock()
	v.opts.Region = region
	session := v.session
	v.mu.Unlock()
	return session.ReplaceTrack(v.opts.Source.Track(), region)
}

// Restart replaces the current session with a fresh one. A failed session
// is never retried otherwise.
func (v *RoomView) Restart() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrViewClosed
	}
	old := v.session
	v.mu.Unlock()
	return v.replace(old)
}

// Close synchronously tears down the session, the supervisor and the media
// source. No callback fires after Close returns.
func (v *RoomView) Close() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.closed = true
	session := v.session
	v.mu.Unlock()

	close(v.quit)
	v.wg.Wait()

	v.opts.Router.Unregister(v.opts.Room)

	var errs []error
	if err := session.Close(); err != nil {
		errs = append(errs, err)
	}
	if v.opts.Source != nil {
		if err := v.opts.Source.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (v *RoomView) newSession() (*negotiation.Session, error) {
	transport, err := v.opts.NewTransport()
	if err != nil {
		return nil, err
	}

	session, err := negotiation.NewSession(negotiation.Config{
		Room:           v.opts.Room,
		Signaler:       v.opts.Signaler,
		Transport:      transport,
		NewTransport:   v.opts.NewTransport,
		ConnectTimeout: v.opts.Config.ConnectTimeout,
		Cropper:        v.opts.Cropper,
		Codec:          v.codec,
	})
	if err != nil {
		transport.Close()
		return nil, err
	}

	session.OnStateChange(func(state negotiation.State) {
		select {
		case v.events <- stateEvent{session: session, state: state}:
		case <-v.quit:
		}
	})
	if v.opts.OnSession != nil {
		v.opts.OnSession(session)
	}
	return session, nil
}

// attach sends the shared source on session.
func (v *RoomView) attach(session *negotiation.Session) error {
	track := v.opts.Source.Track()
	if err := session.AddTrack(track); err != nil {
		return err
	}

	v.mu.Lock()
	region := v.opts.Region
	v.mu.Unlock()
	if region.Empty() {
		return nil
	}
	return session.ReplaceTrack(track, region)
}

func (v *RoomView) announce(session *negotiation.Session) {
	if err := session.Start(); err != nil {
		zap.L().Debug("cannot announce session", zap.String("room", v.opts.Room), zap.Error(err))
	}
}

// supervise republishes session states and replaces a session closed by
// the peer's departure or by another endpoint taking the peer's place.
func (v *RoomView) supervise() {
	defer v.wg.Done()
	for {
		select {
		case <-v.quit:
			return
		case ev := <-v.events:
			if ev.session != v.Session() {
				continue
			}
			if v.opts.OnStateChange != nil {
				v.opts.OnStateChange(ev.state)
			}
			if ev.state != negotiation.StateClosed {
				continue
			}
			zap.L().Info("recreating session", zap.String("room", v.opts.Room), zap.Error(ev.session.Err()))
			if err := v.replace(ev.session); err != nil {
				zap.L().Warn("cannot recreate session", zap.String("room", v.opts.Room), zap.Error(err))
			}
		}
	}
}

// replace closes old and installs a fresh session, resharing if needed.
func (v *RoomView) replace(old *negotiation.Session) error {
	if err := old.Close(); err != nil {
		zap.L().Debug("closing session", zap.String("room", v.opts.Room), zap.Error(err))
	}

	session, err := v.newSession()
	if err != nil {
		return err
	}

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		session.Close()
		return ErrViewClosed
	}
	if v.session != old {
		// Someone else replaced it first.
		v.mu.Unlock()
		session.Close()
		return nil
	}
	v.session = session
	sharing := v.sharing
	v.mu.Unlock()

	if sharing {
		if err := v.attach(session); err != nil {
			return err
		}
	}
	v.announce(session)
	return nil
}
