package signaling

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerRoutesByRoom(t *testing.T) {
	h := NewHandler(nil)
	var r1, r2 []string
	h.Register("r1", SinkFunc(func(msg *Message) { r1 = append(r1, msg.Type) }))
	h.Register("r2", SinkFunc(func(msg *Message) { r2 = append(r2, msg.Type) }))

	h.Route(&Message{Type: MessageTypeOffer, Room: "r1"})
	h.Route(&Message{Type: MessageTypeICE, Room: "r2"})
	h.Route(&Message{Type: MessageTypeBye, Room: "r1"})
	h.Route(&Message{Type: MessageTypeAnswer, Room: "nobody"})
	h.Route(&Message{Type: "mystery", Room: "r1"})

	assert.Equal(t, []string{MessageTypeOffer, MessageTypeBye}, r1)
	assert.Equal(t, []string{MessageTypeICE}, r2)

	h.Unregister("r1")
	h.Route(&Message{Type: MessageTypeStart, Room: "r1"})
	assert.Len(t, r1, 2)
}

func TestHandlerKeepsLatestRoomListing(t *testing.T) {
	h := NewHandler(nil)

	for _, rooms := range [][]string{{"a"}, {"a", "b"}, {"b"}} {
		msg, err := NewMessage(MessageTypeUpdateRooms, "", rooms)
		require.NoError(t, err)
		h.Route(msg)
	}

	assert.Equal(t, []string{"b"}, <-h.RoomUpdates)
	assert.Empty(t, h.RoomUpdates)
}

func TestHandlerPublishesIdentity(t *testing.T) {
	h := NewHandler(nil)
	msg, err := NewMessage(MessageTypeConnected, "", "endpoint-1")
	require.NoError(t, err)
	h.Route(msg)
	h.Route(&Message{Type: MessageTypeConnected})

	assert.Equal(t, "endpoint-1", <-h.Identity)
}

func TestMessageRoundTripKeepsPayloadRaw(t *testing.T) {
	msg, err := NewMessage(MessageTypeICE, "r1", Candidate{Candidate: ""})
	require.NoError(t, err)
	assert.JSONEq(t, `{"candidate":""}`, string(msg.Payload))

	var c Candidate
	require.NoError(t, msg.Decode(&c))
	assert.Empty(t, c.Candidate)

	empty := &Message{Type: MessageTypeStart}
	assert.Error(t, empty.Decode(&c))
}
