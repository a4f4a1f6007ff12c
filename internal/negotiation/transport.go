package negotiation

import (
	"github.com/pion/webrtc/v4"

	"github.com/BioHazard786/Screenlink/internal/channel"
	"github.com/BioHazard786/Screenlink/internal/config"
	"github.com/BioHazard786/Screenlink/internal/logging"
)

// Sender swaps the track behind an RTP sender.
type Sender interface {
	ReplaceTrack(track webrtc.TrackLocal) error
}

// Transport is the negotiated connection a Session drives. PionTransport is
// the production implementation.
type Transport interface {
	CreateOffer(iceRestart bool) (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	// LocalDescription returns the current local description with the
	// candidates gathered so far, or nil.
	LocalDescription() *webrtc.SessionDescription
	HasRemoteDescription() bool
	SignalingState() webrtc.SignalingState

	AddTrack(track webrtc.TrackLocal) (Sender, error)
	DataChannel() (channel.DataChannel, error)

	// OnICECandidate reports local candidates. nil marks the end of gathering.
	OnICECandidate(f func(candidate *webrtc.ICECandidateInit))
	OnConnectionStateChange(f func(state webrtc.PeerConnectionState))

	Close() error
}

// TransportFactory creates a fresh transport. A session uses it to replace
// its transport when it yields a colliding offer.
type TransportFactory func() (Transport, error)

// PionTransport adapts *webrtc.PeerConnection to Transport.
type PionTransport struct {
	pc *webrtc.PeerConnection
}

// Configuration builds the ICE configuration: STUN always, TURN when
// configured, relay-only when forced or when the host looks like it sits
// behind a VPN or carrier-grade NAT.
func Configuration(cfg *config.Config) webrtc.Configuration {
	var iceServers []webrtc.ICEServer
	if stun := cfg.GetSTUNServers(); stun != nil {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: stun})
	}

	turnServers := cfg.GetTURNServers()
	if turnServers != nil {
		username, password := cfg.GetTURNCredentials()
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       turnServers,
			Username:   username,
			Credential: password,
		})
	}

	policy := webrtc.ICETransportPolicyAll
	if turnServers != nil && (cfg.ForceRelay || ShouldForceRelay()) {
		policy = webrtc.ICETransportPolicyRelay
	}

	return webrtc.Configuration{
		ICEServers:         iceServers,
		ICETransportPolicy: policy,
	}
}

// Option tunes the pion setting engine.
type Option func(*webrtc.SettingEngine)

// WithLoopback gathers loopback candidates too, for peers on one host.
func WithLoopback() Option {
	return func(s *webrtc.SettingEngine) {
		s.SetIncludeLoopbackCandidate(true)
	}
}

// NewAPI returns a pion API with default codecs whose internal logging goes
// through zap.
func NewAPI(opts ...Option) (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, NewError("register codecs", err)
	}

	s := webrtc.SettingEngine{}
	s.LoggerFactory = logging.NewPionFactory()
	for _, opt := range opts {
		opt(&s)
	}

	return webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(s)), nil
}

// NewPionTransport creates a peer connection from cfg.
func NewPionTransport(cfg *config.Config, opts ...Option) (*PionTransport, error) {
	return NewPionTransportWith(Configuration(cfg), opts...)
}

// NewPionTransportWith creates a peer connection from an explicit
// configuration.
func NewPionTransportWith(conf webrtc.Configuration, opts ...Option) (*PionTransport, error) {
	api, err := NewAPI(opts...)
	if err != nil {
		return nil, err
	}
	pc, err := api.NewPeerConnection(conf)
	if err != nil {
		return nil, NewError("create peer connection", err)
	}
	return &PionTransport{pc: pc}, nil
}

// PeerConnection exposes the wrapped connection.
func (t *PionTransport) PeerConnection() *webrtc.PeerConnection {
	return t.pc
}

func (t *PionTransport) CreateOffer(iceRestart bool) (webrtc.SessionDescription, error) {
	return t.pc.CreateOffer(&webrtc.OfferOptions{ICERestart: iceRestart})
}

func (t *PionTransport) CreateAnswer() (webrtc.SessionDescription, error) {
	return t.pc.CreateAnswer(nil)
}

func (t *PionTransport) SetLocalDescription(desc webrtc.SessionDescription) error {
	return t.pc.SetLocalDescription(desc)
}

func (t *PionTransport) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return t.pc.SetRemoteDescription(desc)
}

func (t *PionTransport) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return t.pc.AddICECandidate(candidate)
}

func (t *PionTransport) LocalDescription() *webrtc.SessionDescription {
	return t.pc.LocalDescription()
}

func (t *PionTransport) HasRemoteDescription() bool {
	return t.pc.RemoteDescription() != nil
}

func (t *PionTransport) SignalingState() webrtc.SignalingState {
	return t.pc.SignalingState()
}

func (t *PionTransport) AddTrack(track webrtc.TrackLocal) (Sender, error) {
	sender, err := t.pc.AddTrack(track)
	if err != nil {
		return nil, err
	}

	// Drain RTCP so interceptors keep running.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return sender, nil
}

func (t *PionTransport) DataChannel() (channel.DataChannel, error) {
	return t.pc.CreateDataChannel(channel.Label, channel.Init())
}

func (t *PionTransport) OnICECandidate(f func(candidate *webrtc.ICECandidateInit)) {
	t.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			f(nil)
			return
		}
		candidate := c.ToJSON()
		f(&candidate)
	})
}

func (t *PionTransport) OnConnectionStateChange(f func(state webrtc.PeerConnectionState)) {
	t.pc.OnConnectionStateChange(f)
}

func (t *PionTransport) Close() error {
	return t.pc.Close()
}
