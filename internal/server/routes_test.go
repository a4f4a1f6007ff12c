package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BioHazard786/Screenlink/internal/config"
	"github.com/BioHazard786/Screenlink/internal/metrics"
	"github.com/BioHazard786/Screenlink/internal/relay"
	"github.com/BioHazard786/Screenlink/internal/signaling"
)

func newTestServer(t *testing.T, origins ...string) (*httptest.Server, *relay.Relay) {
	t.Helper()
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	reg := prometheus.NewRegistry()
	rl := relay.New(relay.Options{Metrics: metrics.NewRelay(reg)})
	router := NewRouter(Options{
		Config:   &config.ServerConfig{AllowedOrigins: origins, Mode: "production", SendBuffer: 16},
		Relay:    rl,
		Gatherer: reg,
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, rl
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	status, body := get(t, srv.URL+"/health")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "healthy")
}

func TestRoomsListsPublicRooms(t *testing.T) {
	srv, _ := newTestServer(t)

	status, body := get(t, srv.URL+"/rooms")
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"rooms":[]}`, body)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	join, _ := signaling.NewMessage(signaling.MessageTypeJoin, "demo", nil)
	require.NoError(t, conn.WriteJSON(join))
	for {
		var msg signaling.Message
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == signaling.MessageTypeUpdateRooms {
			break
		}
	}

	_, body = get(t, srv.URL+"/rooms")
	var resp RoomsResponse
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	assert.Equal(t, []string{"demo"}, resp.Rooms)

	_, metricsBody := get(t, srv.URL+"/metrics")
	assert.Contains(t, metricsBody, "screenlink_relay_endpoints 1")
}

func TestWebsocketRejectsForeignOrigin(t *testing.T) {
	srv, _ := newTestServer(t, "https://screenlink.example")
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header.Set("Origin", "https://screenlink.example")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	conn.Close()
}
