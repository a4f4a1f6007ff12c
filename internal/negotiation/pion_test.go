package negotiation

import (
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BioHazard786/Screenlink/internal/channel"
	"github.com/BioHazard786/Screenlink/internal/config"
	"github.com/BioHazard786/Screenlink/internal/signaling"
)

// pipe delivers a session's signals straight to the other session, the way
// the relay would for a two-member room. While held, signals queue up in
// order until release.
type pipe struct {
	id     string
	peer   atomic.Pointer[Session]
	offers atomic.Int32

	mu   sync.Mutex
	hold bool
	held []*signaling.Message
}

func (p *pipe) Send(msg *signaling.Message) error {
	relayed := *msg
	relayed.From = p.id
	if relayed.Type == signaling.MessageTypeOffer {
		p.offers.Add(1)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.hold {
		p.held = append(p.held, &relayed)
		return nil
	}
	p.deliver(&relayed)
	return nil
}

func (p *pipe) ID() string { return p.id }

func (p *pipe) deliver(msg *signaling.Message) {
	if peer := p.peer.Load(); peer != nil {
		peer.HandleSignal(msg)
	}
}

func (p *pipe) release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, msg := range p.held {
		p.deliver(msg)
	}
	p.held = nil
	p.hold = false
}

func newPionSession(t *testing.T, p *pipe) *Session {
	t.Helper()
	factory := func() (Transport, error) {
		return NewPionTransportWith(webrtc.Configuration{}, WithLoopback())
	}

	s, err := NewSession(Config{Room: "r1", Signaler: p, NewTransport: factory, ConnectTimeout: 20 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// peerConnection reads the session's current peer connection on its event
// goroutine.
func peerConnection(t *testing.T, s *Session) *webrtc.PeerConnection {
	t.Helper()
	var pc *webrtc.PeerConnection
	require.NoError(t, s.do(func() error {
		pc = s.transport.(*PionTransport).PeerConnection()
		return nil
	}))
	return pc
}

func expectChat(t *testing.T, from, to *Session) {
	t.Helper()
	chats := make(chan string, 1)
	to.Channel().Handle(channel.KindChat, func(msg channel.Message) {
		var text string
		if msg.Decode(&text) == nil {
			select {
			case chats <- text:
			default:
			}
		}
	})

	require.Eventually(t, func() bool { return from.Channel().IsOpen() }, 10*time.Second, 20*time.Millisecond)
	require.NoError(t, from.Channel().SendChat("hello"))
	select {
	case text := <-chats:
		assert.Equal(t, "hello", text)
	case <-time.After(5 * time.Second):
		t.Fatal("chat not delivered")
	}
}

func waitState(t *testing.T, s *Session, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return s.State() == want }, 15*time.Second, 20*time.Millisecond,
		"state %s, err %v", s.State(), s.Err())
}

func TestPionOfferAnswerAndRenegotiation(t *testing.T) {
	if testing.Short() {
		t.Skip("opens real peer connections")
	}

	sharerPipe, viewerPipe := &pipe{id: "sharer"}, &pipe{id: "viewer"}
	sharer := newPionSession(t, sharerPipe)
	viewer := newPionSession(t, viewerPipe)
	sharerPipe.peer.Store(viewer)
	viewerPipe.peer.Store(sharer)

	require.NoError(t, viewer.Start())
	require.NoError(t, sharer.AddTrack(testTrack(t, "screen")))

	waitState(t, sharer, StateConnected)
	waitState(t, viewer, StateConnected)
	expectChat(t, sharer, viewer)

	// A second track renegotiates on the same sessions.
	channelBefore := viewer.Channel()
	require.NoError(t, sharer.AddTrack(testTrack(t, "camera")))
	require.Eventually(t, func() bool {
		pc := peerConnection(t, sharer)
		return pc.SignalingState() == webrtc.SignalingStateStable && len(pc.GetSenders()) == 2
	}, 10*time.Second, 20*time.Millisecond)

	assert.Equal(t, StateConnected, sharer.State())
	assert.Same(t, channelBefore, viewer.Channel())
	assert.NoError(t, sharer.Err())
	assert.NoError(t, viewer.Err())
}

func TestPionStartThenShareAgainstWaitingViewer(t *testing.T) {
	if testing.Short() {
		t.Skip("opens real peer connections")
	}

	sharerPipe, viewerPipe := &pipe{id: "sharer"}, &pipe{id: "viewer"}
	sharer := newPionSession(t, sharerPipe)
	viewer := newPionSession(t, viewerPipe)
	sharerPipe.peer.Store(viewer)
	viewerPipe.peer.Store(sharer)

	require.NoError(t, viewer.Start())
	require.NoError(t, sharer.Start())
	require.NoError(t, sharer.AddTrack(testTrack(t, "screen")))

	waitState(t, sharer, StateConnected)
	waitState(t, viewer, StateConnected)
	expectChat(t, viewer, sharer)

	assert.Zero(t, viewerPipe.offers.Load(), "a viewer without tracks never offers")
	assert.NoError(t, sharer.Err())
	assert.NoError(t, viewer.Err())
}

func TestPionSimultaneousShareResolvesGlare(t *testing.T) {
	if testing.Short() {
		t.Skip("opens real peer connections")
	}

	aPipe, bPipe := &pipe{id: "a", hold: true}, &pipe{id: "b", hold: true}
	a := newPionSession(t, aPipe)
	b := newPionSession(t, bPipe)
	aPipe.peer.Store(b)
	bPipe.peer.Store(a)

	// Both offers are out before either side hears from the other.
	require.NoError(t, a.AddTrack(testTrack(t, "a-screen")))
	require.NoError(t, b.AddTrack(testTrack(t, "b-screen")))
	aPipe.release()
	bPipe.release()

	waitState(t, a, StateConnected)
	waitState(t, b, StateConnected)
	expectChat(t, a, b)
	expectChat(t, b, a)

	require.Eventually(t, func() bool {
		pc := peerConnection(t, a)
		return pc.SignalingState() == webrtc.SignalingStateStable && len(pc.GetSenders()) == 1
	}, 10*time.Second, 20*time.Millisecond)
	assert.NoError(t, a.Err())
	assert.NoError(t, b.Err())
}

func testConfig(turn string, force bool) *config.Config {
	return &config.Config{
		STUNServer: config.DefaultSTUN,
		TURNServer: turn,
		TURNUser:   "user",
		TURNPass:   "pass",
		ForceRelay: force,
	}
}

func TestConfigurationFromConfig(t *testing.T) {
	conf := Configuration(testConfig("", false))
	require.Len(t, conf.ICEServers, 1)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, conf.ICEServers[0].URLs)
	assert.Equal(t, webrtc.ICETransportPolicyAll, conf.ICETransportPolicy)

	conf = Configuration(testConfig("turn.example.com", true))
	require.Len(t, conf.ICEServers, 2)
	assert.Equal(t, "user", conf.ICEServers[1].Username)
	assert.Equal(t, "pass", conf.ICEServers[1].Credential)
	assert.Len(t, conf.ICEServers[1].URLs, 3)
	assert.Equal(t, webrtc.ICETransportPolicyRelay, conf.ICETransportPolicy)
}

func TestRestrictiveInterface(t *testing.T) {
	assert.True(t, restrictiveInterface("wg0", nil))
	assert.True(t, restrictiveInterface("CloudflareWARP", nil))
	assert.True(t, restrictiveInterface("eth0", []net.Addr{&net.IPNet{IP: net.ParseIP("100.72.1.2"), Mask: net.CIDRMask(32, 32)}}))
	assert.False(t, restrictiveInterface("eth0", []net.Addr{&net.IPNet{IP: net.ParseIP("192.168.1.10"), Mask: net.CIDRMask(24, 32)}}))
	assert.False(t, restrictiveInterface("en0", []net.Addr{&net.IPAddr{IP: net.ParseIP("100.128.0.1")}}))
}
