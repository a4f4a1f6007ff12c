package channel

import (
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDataChannel struct {
	mu        sync.Mutex
	state     webrtc.DataChannelState
	text      []string
	binary    [][]byte
	onOpen    func()
	onClose   func()
	onMessage func(webrtc.DataChannelMessage)
	closed    bool
}

func newFakeDataChannel() *fakeDataChannel {
	return &fakeDataChannel{state: webrtc.DataChannelStateConnecting}
}

func (f *fakeDataChannel) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.binary = append(f.binary, data)
	return nil
}

func (f *fakeDataChannel) SendText(s string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.text = append(f.text, s)
	return nil
}

func (f *fakeDataChannel) OnOpen(fn func()) { f.onOpen = fn }

func (f *fakeDataChannel) OnClose(fn func()) { f.onClose = fn }

func (f *fakeDataChannel) OnMessage(fn func(webrtc.DataChannelMessage)) { f.onMessage = fn }

func (f *fakeDataChannel) ReadyState() webrtc.DataChannelState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeDataChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeDataChannel) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeDataChannel) open() {
	f.mu.Lock()
	f.state = webrtc.DataChannelStateOpen
	f.mu.Unlock()
	f.onOpen()
}

func (f *fakeDataChannel) deliver(isString bool, data []byte) {
	f.onMessage(webrtc.DataChannelMessage{IsString: isString, Data: data})
}

func (f *fakeDataChannel) traffic() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.text) + len(f.binary)
}

type room string

func (r room) Room() string { return string(r) }

func TestSendBeforeOpenFailsWithoutTraffic(t *testing.T) {
	dc := newFakeDataChannel()
	ch := New(dc, room("r1"), nil)

	err := ch.SendChat("hello")

	assert.ErrorIs(t, err, ErrChannelNotOpen)
	assert.Zero(t, dc.traffic())
	assert.False(t, ch.IsOpen())
}

func TestChatWireFormat(t *testing.T) {
	dc := newFakeDataChannel()
	ch := New(dc, room("r1"), nil)
	opened := false
	ch.OnOpen(func() { opened = true })
	dc.open()

	require.True(t, opened)
	require.NoError(t, ch.SendChat("hi there\nfriend"))

	require.Len(t, dc.text, 1)
	assert.JSONEq(t, `{"kind":"chat","payload":"hi there\nfriend"}`, dc.text[0])
	assert.NotContains(t, dc.text[0], "\n")
}

func TestDispatchByKind(t *testing.T) {
	dc := newFakeDataChannel()
	ch := New(dc, room("r1"), nil)

	var chats []string
	var controls []ControlEvent
	ch.Handle(KindChat, func(m Message) {
		var s string
		require.NoError(t, m.Decode(&s))
		chats = append(chats, s)
	})
	ch.Handle(KindControl, func(m Message) {
		var ev ControlEvent
		require.NoError(t, m.Decode(&ev))
		controls = append(controls, ev)
	})

	dc.deliver(true, []byte(`{"kind":"chat","payload":"one"}`))
	dc.deliver(true, []byte(`{"kind":"control","payload":{"type":"click","x":10,"y":20,"timestamp":5}}`))
	dc.deliver(true, []byte(`{"kind":"telepathy","payload":"?"}`))
	dc.deliver(true, []byte(`not json`))
	dc.deliver(true, []byte(`{"kind":"chat","payload":"two"}`))

	assert.Equal(t, []string{"one", "two"}, chats)
	assert.Equal(t, []ControlEvent{{Type: ControlClick, X: 10, Y: 20, Timestamp: 5}}, controls)
}

func TestMsgpackCodecUsesBinaryFrames(t *testing.T) {
	codec, err := NewCodec("msgpack")
	require.NoError(t, err)

	sender := newFakeDataChannel()
	out := New(sender, room("r1"), codec)
	sender.open()
	require.NoError(t, out.SendControl(ControlEvent{Type: ControlMouseMove, X: 1.5, Y: 2.5, Timestamp: 9}))
	require.Len(t, sender.binary, 1)
	assert.Empty(t, sender.text)

	receiver := newFakeDataChannel()
	in := New(receiver, room("r1"), codec)
	var got ControlEvent
	in.Handle(KindControl, func(m Message) { require.NoError(t, m.Decode(&got)) })
	receiver.deliver(false, sender.binary[0])

	assert.Equal(t, ControlEvent{Type: ControlMouseMove, X: 1.5, Y: 2.5, Timestamp: 9}, got)
}

func TestUnknownCodec(t *testing.T) {
	_, err := NewCodec("xml")
	assert.Error(t, err)
}

func TestCloseStopsDelivery(t *testing.T) {
	dc := newFakeDataChannel()
	ch := New(dc, room("r1"), nil)
	calls := 0
	ch.Handle(KindChat, func(Message) { calls++ })
	dc.open()

	require.NoError(t, ch.Close())
	dc.deliver(true, []byte(`{"kind":"chat","payload":"late"}`))

	assert.Zero(t, calls)
	assert.True(t, dc.isClosed())
	assert.ErrorIs(t, ch.SendChat("after close"), ErrChannelNotOpen)
	assert.Equal(t, room("r1"), ch.Owner())
}

func TestInitIsNegotiated(t *testing.T) {
	params := Init()
	require.NotNil(t, params.Negotiated)
	assert.True(t, *params.Negotiated)
	require.NotNil(t, params.ID)
	assert.Equal(t, ID, *params.ID)
	assert.True(t, *params.Ordered)
	assert.Equal(t, MaxRetransmits, *params.MaxRetransmits)
}

func TestCloseWaitsForRunningHandler(t *testing.T) {
	dc := newFakeDataChannel()
	ch := New(dc, room("r1"), nil)

	started := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	var calls int
	var finished bool
	ch.Handle(KindChat, func(Message) {
		mu.Lock()
		calls++
		first := calls == 1
		mu.Unlock()
		if first {
			close(started)
			<-release
		}
		mu.Lock()
		finished = true
		mu.Unlock()
	})

	go dc.deliver(true, []byte(`{"kind":"chat","payload":"slow"}`))
	<-started

	closed := make(chan struct{})
	go func() {
		ch.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned while a handler was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}

	mu.Lock()
	assert.True(t, finished)
	mu.Unlock()

	dc.deliver(true, []byte(`{"kind":"chat","payload":"late"}`))
	mu.Lock()
	assert.Equal(t, 1, calls)
	mu.Unlock()
}

func TestRebindKeepsHandlersAndDropsOldChannel(t *testing.T) {
	first := newFakeDataChannel()
	ch := New(first, room("r1"), nil)

	var chats []string
	closes := 0
	ch.Handle(KindChat, func(m Message) {
		var s string
		require.NoError(t, m.Decode(&s))
		chats = append(chats, s)
	})
	ch.OnClose(func() { closes++ })

	second := newFakeDataChannel()
	require.NoError(t, ch.Rebind(second))
	assert.True(t, first.isClosed())
	assert.False(t, second.isClosed())

	first.onClose()
	first.deliver(true, []byte(`{"kind":"chat","payload":"stale"}`))
	second.deliver(true, []byte(`{"kind":"chat","payload":"fresh"}`))

	assert.Equal(t, []string{"fresh"}, chats)
	assert.Zero(t, closes)

	assert.ErrorIs(t, ch.SendChat("early"), ErrChannelNotOpen)
	second.open()
	require.NoError(t, ch.SendChat("hello"))
	assert.Len(t, second.text, 1)
	assert.Empty(t, first.text)

	require.NoError(t, ch.Close())
	assert.True(t, second.isClosed())

	third := newFakeDataChannel()
	require.NoError(t, ch.Rebind(third))
	assert.True(t, third.isClosed())
}
