package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BioHazard786/Screenlink/internal/config"
	"github.com/BioHazard786/Screenlink/internal/relay"
	"github.com/BioHazard786/Screenlink/internal/version"
)

// Options wires the router's dependencies.
type Options struct {
	Config *config.ServerConfig
	Relay  *relay.Relay

	// Gatherer backs /metrics. Nil disables the route.
	Gatherer prometheus.Gatherer
}

// RoomsResponse is the body of GET /rooms.
type RoomsResponse struct {
	Rooms []string `json:"rooms"`
}

// NewRouter builds the relay's HTTP surface.
func NewRouter(opts Options) *gin.Engine {
	if opts.Config.Mode == "dev" || opts.Config.Mode == "development" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false

	r.GET("/health", healthCheckHandler)
	r.GET("/rooms", roomsHandler(opts.Relay))
	r.GET("/ws", ServeWs(opts.Config, opts.Relay))
	if opts.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}
	return r
}

// NewHTTPServer wraps the router with the relay's timeouts. Websocket
// connections are hijacked, so the timeouts only bound plain requests.
func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1MB
	}
}

func healthCheckHandler(c *gin.Context) {
	c.String(http.StatusOK, "Signaling server is healthy. (%s)", version.Version)
}

func roomsHandler(rl *relay.Relay) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, RoomsResponse{Rooms: rl.PublicRooms()})
	}
}

// ServeWs upgrades the request and hands the connection to the relay.
func ServeWs(cfg *config.ServerConfig, rl *relay.Relay) gin.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  64 * 1024, // 64 KB
		WriteBufferSize: 64 * 1024, // 64 KB
		CheckOrigin: func(r *http.Request) bool {
			return cfg.OriginAllowed(r.Header.Get("Origin"))
		},
	}

	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade has already written the HTTP error.
			zap.L().Debug("websocket upgrade failed", zap.String("addr", c.ClientIP()), zap.Error(err))
			return
		}
		rl.Serve(conn)
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		zap.L().Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
