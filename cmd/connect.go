package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/BioHazard786/Screenlink/internal/config"
	"github.com/BioHazard786/Screenlink/internal/dns"
	"github.com/BioHazard786/Screenlink/internal/signaling"
	"github.com/BioHazard786/Screenlink/internal/ui"
	"github.com/BioHazard786/Screenlink/internal/version"
)

// peerFlags are the connection flags shared by the peer commands.
type peerFlags struct {
	domain   string
	url      string
	stun     string
	turn     string
	turnUser string
	turnPass string
	relay    bool
	codec    string
}

func (f *peerFlags) options(room string) config.Options {
	return config.Options{
		Domain:       f.domain,
		SignalingURL: f.url,
		STUNServer:   f.stun,
		TURNServer:   f.turn,
		TURNUser:     f.turnUser,
		TURNPass:     f.turnPass,
		ForceRelay:   f.relay,
		ChannelCodec: f.codec,
		Room:         room,
	}
}

// RelayConnection is a connected signaling client with its router running.
type RelayConnection struct {
	Client  *signaling.Client
	Handler *signaling.Handler
	Config  *config.Config
}

// ConnectRelay dials the relay and waits for it to assign an endpoint ID.
func ConnectRelay(ctx context.Context, cfg *config.Config) (*RelayConnection, error) {
	header := http.Header{}
	header.Set("User-Agent", version.UserAgent())

	client := signaling.NewClient(signaling.Options{
		URL:         cfg.SignalingURL,
		Resolver:    dns.NewResolver(),
		Attempts:    cfg.ReconnectAttempts,
		Delay:       cfg.ReconnectDelay,
		DialTimeout: cfg.DialTimeout,
		Header:      header,
	})

	spin := ui.NewConnectionSpinner("Connecting to relay...")
	spin.Start()

	if err := client.Connect(ctx); err != nil {
		spin.Error("Could not reach the relay")
		return nil, err
	}

	handler := signaling.NewHandler(client)
	go handler.Start()

	select {
	case _, ok := <-handler.Identity:
		if !ok {
			spin.Error("Relay closed the connection")
			return nil, errors.New("relay closed the connection before greeting")
		}
	case <-time.After(cfg.DialTimeout):
		spin.Error("Relay did not respond")
		client.Close()
		return nil, fmt.Errorf("no greeting from relay within %s", cfg.DialTimeout)
	case <-ctx.Done():
		spin.Stop()
		client.Close()
		return nil, ctx.Err()
	}

	spin.Success("Connected to relay")
	return &RelayConnection{Client: client, Handler: handler, Config: cfg}, nil
}

// Close disconnects from the relay.
func (c *RelayConnection) Close() {
	c.Client.Close()
}
