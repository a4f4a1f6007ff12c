package negotiation

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"

	"github.com/BioHazard786/Screenlink/internal/channel"
	"github.com/BioHazard786/Screenlink/internal/media"
	"github.com/BioHazard786/Screenlink/internal/signaling"
)

type fakeTransport struct {
	mu       sync.Mutex
	calls    []string
	offers   int
	state    webrtc.SignalingState
	local    *webrtc.SessionDescription
	remote   *webrtc.SessionDescription
	closed   bool
	dc       *fakeDataChannel
	senders  []*fakeSender
	remoteFn func(webrtc.SessionDescription) error

	onCandidate func(*webrtc.ICECandidateInit)
	onState     func(webrtc.PeerConnectionState)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{state: webrtc.SignalingStateStable, dc: &fakeDataChannel{}}
}

func (t *fakeTransport) record(call string) {
	t.calls = append(t.calls, call)
}

func (t *fakeTransport) Calls() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.calls...)
}

func (t *fakeTransport) CreateOffer(iceRestart bool) (webrtc.SessionDescription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.offers++
	if iceRestart {
		t.record("create offer restart")
	} else {
		t.record("create offer")
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer-%d", t.offers)}, nil
}

func (t *fakeTransport) CreateAnswer() (webrtc.SessionDescription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.record("create answer")
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer"}, nil
}

func (t *fakeTransport) SetLocalDescription(desc webrtc.SessionDescription) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.record("local " + desc.Type.String())
	t.local = &desc
	if desc.Type == webrtc.SDPTypeOffer {
		t.state = webrtc.SignalingStateHaveLocalOffer
	} else {
		t.state = webrtc.SignalingStateStable
	}
	return nil
}

func (t *fakeTransport) SetRemoteDescription(desc webrtc.SessionDescription) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.remoteFn != nil {
		if err := t.remoteFn(desc); err != nil {
			return err
		}
	}
	t.record("remote " + desc.Type.String() + " " + desc.SDP)
	t.remote = &desc
	if desc.Type == webrtc.SDPTypeOffer {
		t.state = webrtc.SignalingStateHaveRemoteOffer
	} else {
		t.state = webrtc.SignalingStateStable
	}
	return nil
}

func (t *fakeTransport) AddICECandidate(c webrtc.ICECandidateInit) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.remote == nil {
		return errors.New("no remote description")
	}
	t.record("candidate " + c.Candidate)
	return nil
}

func (t *fakeTransport) LocalDescription() *webrtc.SessionDescription {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.local
}

func (t *fakeTransport) HasRemoteDescription() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remote != nil
}

func (t *fakeTransport) SignalingState() webrtc.SignalingState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *fakeTransport) AddTrack(track webrtc.TrackLocal) (Sender, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.record("add track")
	s := &fakeSender{}
	t.senders = append(t.senders, s)
	return s, nil
}

func (t *fakeTransport) DataChannel() (channel.DataChannel, error) {
	return t.dc, nil
}

func (t *fakeTransport) OnICECandidate(f func(*webrtc.ICECandidateInit)) {
	t.mu.Lock()
	t.onCandidate = f
	t.mu.Unlock()
}

func (t *fakeTransport) OnConnectionStateChange(f func(webrtc.PeerConnectionState)) {
	t.mu.Lock()
	t.onState = f
	t.mu.Unlock()
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *fakeTransport) emitState(state webrtc.PeerConnectionState) {
	t.mu.Lock()
	fn := t.onState
	t.mu.Unlock()
	fn(state)
}

func (t *fakeTransport) emitCandidate(c *webrtc.ICECandidateInit) {
	t.mu.Lock()
	fn := t.onCandidate
	t.mu.Unlock()
	fn(c)
}

type fakeSender struct {
	mu     sync.Mutex
	tracks []webrtc.TrackLocal
}

func (s *fakeSender) ReplaceTrack(track webrtc.TrackLocal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks = append(s.tracks, track)
	return nil
}

type fakeDataChannel struct {
	mu     sync.Mutex
	sent   int
	closed bool
}

func (d *fakeDataChannel) Send([]byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent++
	return nil
}

func (d *fakeDataChannel) SendText(string) error { return d.Send(nil) }

func (d *fakeDataChannel) OnOpen(func()) {}

func (d *fakeDataChannel) OnClose(func()) {}

func (d *fakeDataChannel) OnMessage(func(webrtc.DataChannelMessage)) {}

func (d *fakeDataChannel) ReadyState() webrtc.DataChannelState {
	return webrtc.DataChannelStateConnecting
}

func (d *fakeDataChannel) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *fakeDataChannel) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

type fakeSignaler struct {
	id   string
	sent chan *signaling.Message
}

func newFakeSignaler(id string) *fakeSignaler {
	return &fakeSignaler{id: id, sent: make(chan *signaling.Message, 64)}
}

func (s *fakeSignaler) Send(msg *signaling.Message) error {
	s.sent <- msg
	return nil
}

func (s *fakeSignaler) ID() string { return s.id }

// next returns the next sent message of msgType, skipping others.
func (s *fakeSignaler) next(t *testing.T, msgType string) *signaling.Message {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case msg := <-s.sent:
			if msg.Type == msgType {
				return msg
			}
		case <-timeout:
			t.Fatalf("no %s message sent", msgType)
			return nil
		}
	}
}

type countingCropper struct {
	mu       sync.Mutex
	released int
}

func (c *countingCropper) ApplyCropping(raw webrtc.TrackLocal, region media.Region) (*media.Cropped, error) {
	if err := region.Validate(); err != nil {
		return nil, err
	}
	return media.NewCropped(raw, func() {
		c.mu.Lock()
		c.released++
		c.mu.Unlock()
	}), nil
}

func (c *countingCropper) Released() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.released
}

func signal(t *testing.T, msgType, from string, payload any) *signaling.Message {
	t.Helper()
	msg, err := signaling.NewMessage(msgType, "r1", payload)
	require.NoError(t, err)
	msg.From = from
	return msg
}

func offerFrom(t *testing.T, from, sdp string) *signaling.Message {
	return signal(t, signaling.MessageTypeOffer, from, signaling.SessionDescription{Type: "offer", SDP: sdp})
}

func answerFrom(t *testing.T, from, sdp string) *signaling.Message {
	return signal(t, signaling.MessageTypeAnswer, from, signaling.SessionDescription{Type: "answer", SDP: sdp})
}

func candidateFrom(t *testing.T, from, candidate string) *signaling.Message {
	return signal(t, signaling.MessageTypeICE, from, signaling.Candidate{Candidate: candidate})
}
