package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
)

// Default configuration values
const (
	DefaultDomain            = "localhost:8080"
	DefaultSTUN              = "stun:stun.l.google.com:19302"
	DefaultAddr              = ":8080"
	DefaultConnectTimeout    = 30 * time.Second
	DefaultReconnectAttempts = 5
	DefaultReconnectDelay    = time.Second
	DefaultDialTimeout       = 20 * time.Second
	DefaultChannelCodec      = "json"
)

// Config holds peer-side configuration.
type Config struct {
	// Domain is the relay host, optionally with a port.
	Domain string

	// SignalingURL is the websocket endpoint. Derived from Domain unless set.
	SignalingURL string

	// ICE servers for WebRTC
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool

	// ConnectTimeout bounds how long a session may stay connecting.
	ConnectTimeout time.Duration

	// Signaling reconnect policy
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	DialTimeout       time.Duration

	// ChannelCodec is "json" (browser compatible) or "msgpack".
	ChannelCodec string

	// Room is the initial room name, if one was configured.
	Room string
}

// Options carries CLI flag overrides. Zero values mean "not set".
type Options struct {
	Domain       string
	SignalingURL string
	STUNServer   string
	TURNServer   string
	TURNUser     string
	TURNPass     string
	ForceRelay   bool
	ChannelCodec string
	Room         string
}

var loadEnvOnce sync.Once

// LoadEnv reads a .env file from the working directory once. A missing file is fine.
func LoadEnv() error {
	var err error
	loadEnvOnce.Do(func() {
		if e := godotenv.Load(); e != nil && !errors.Is(e, fs.ErrNotExist) {
			err = fmt.Errorf("load .env: %w", e)
		}
	})
	return err
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables (including .env)
// 3. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	if err := LoadEnv(); err != nil {
		return nil, err
	}

	cfg := &Config{
		Domain:            pick(opts.Domain, "DOMAIN", DefaultDomain),
		STUNServer:        pick(opts.STUNServer, "STUN_SERVER", DefaultSTUN),
		TURNServer:        pick(opts.TURNServer, "TURN_SERVER", ""),
		TURNUser:          pick(opts.TURNUser, "TURN_USERNAME", ""),
		TURNPass:          pick(opts.TURNPass, "TURN_PASSWORD", ""),
		ForceRelay:        opts.ForceRelay || cast.ToBool(os.Getenv("FORCE_RELAY")),
		ChannelCodec:      strings.ToLower(pick(opts.ChannelCodec, "CHANNEL_CODEC", DefaultChannelCodec)),
		Room:              pick(opts.Room, "SCREENLINK_ROOM", ""),
		ConnectTimeout:    envDuration("CONNECT_TIMEOUT", DefaultConnectTimeout),
		ReconnectAttempts: envInt("RECONNECT_ATTEMPTS", DefaultReconnectAttempts),
		ReconnectDelay:    envDuration("RECONNECT_DELAY", DefaultReconnectDelay),
		DialTimeout:       envDuration("DIAL_TIMEOUT", DefaultDialTimeout),
	}

	cfg.SignalingURL = pick(opts.SignalingURL, "SIGNALING_URL", "")
	if cfg.SignalingURL == "" {
		cfg.SignalingURL = websocketURL(cfg.Domain)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects combinations that cannot work.
func (c *Config) Validate() error {
	switch c.ChannelCodec {
	case "json", "msgpack":
	default:
		return fmt.Errorf("unsupported channel codec %q", c.ChannelCodec)
	}
	if c.ForceRelay && c.GetTURNServers() == nil {
		return errors.New("cannot force relay mode without TURN server configured")
	}
	if c.ReconnectAttempts < 0 {
		return fmt.Errorf("reconnect attempts must not be negative, got %d", c.ReconnectAttempts)
	}
	return nil
}

// GetRoomLink returns the viewer page URL for a room.
func (c *Config) GetRoomLink(room string) string {
	return fmt.Sprintf("%s://%s/viewer/%s", httpScheme(c.Domain), c.Domain, room)
}

// GetRoomsURL returns the relay's public room listing endpoint.
func (c *Config) GetRoomsURL() string {
	return fmt.Sprintf("%s://%s/rooms", httpScheme(c.Domain), c.Domain)
}

// GetSTUNServers returns STUN server URLs as strings
func (c *Config) GetSTUNServers() []string {
	if c.STUNServer == "" {
		return nil
	}
	return []string{c.STUNServer}
}

// GetTURNServers returns TURN server URLs if configured
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	host := strings.TrimPrefix(strings.TrimPrefix(c.TURNServer, "turn:"), "turns:")
	return []string{
		fmt.Sprintf("turn:%s:3478?transport=udp", host),
		fmt.Sprintf("turn:%s:3478?transport=tcp", host),
		fmt.Sprintf("turns:%s:5349?transport=tcp", host),
	}
}

// GetTURNCredentials returns TURN username and password
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}

// ServerConfig holds relay-side configuration.
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
	Mode           string
	SendBuffer     int
}

// ServerOptions carries CLI flag overrides for the relay.
type ServerOptions struct {
	Addr           string
	AllowedOrigins string
	Mode           string
}

// LoadServer reads relay configuration with the same priority rules as Load.
func LoadServer(opts ServerOptions) (*ServerConfig, error) {
	if err := LoadEnv(); err != nil {
		return nil, err
	}

	cfg := &ServerConfig{
		Addr:       pick(opts.Addr, "ADDR", DefaultAddr),
		Mode:       pick(opts.Mode, "MODE", "production"),
		SendBuffer: envInt("SEND_BUFFER", 256),
	}
	if !strings.Contains(cfg.Addr, ":") {
		cfg.Addr = ":" + cfg.Addr
	}

	origins := pick(opts.AllowedOrigins, "ALLOWED_ORIGINS", "*")
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
		}
	}

	if cfg.SendBuffer <= 0 {
		return nil, fmt.Errorf("send buffer must be positive, got %d", cfg.SendBuffer)
	}
	return cfg, nil
}

// OriginAllowed reports whether a websocket Origin header is acceptable.
// An empty Origin comes from non-browser clients and is always allowed.
func (c *ServerConfig) OriginAllowed(origin string) bool {
	if origin == "" {
		return true
	}
	for _, o := range c.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

func pick(flag, env, def string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv(env); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		return def
	}
	return n
}

// envDuration accepts Go durations ("45s") or bare seconds ("45").
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if n, err := cast.ToIntE(v); err == nil {
		return time.Duration(n) * time.Second
	}
	d, err := cast.ToDurationE(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func websocketURL(domain string) string {
	if httpScheme(domain) == "http" {
		return fmt.Sprintf("ws://%s/ws", domain)
	}
	return fmt.Sprintf("wss://%s/ws", domain)
}

// httpScheme picks plain http for local development hosts.
func httpScheme(domain string) string {
	host := domain
	if h, _, err := net.SplitHostPort(domain); err == nil {
		host = h
	}
	if host == "localhost" || net.ParseIP(host) != nil {
		return "http"
	}
	return "https"
}
