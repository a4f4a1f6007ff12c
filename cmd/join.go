package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BioHazard786/Screenlink/internal/channel"
	"github.com/BioHazard786/Screenlink/internal/config"
	"github.com/BioHazard786/Screenlink/internal/media"
	"github.com/BioHazard786/Screenlink/internal/negotiation"
	"github.com/BioHazard786/Screenlink/internal/peer"
	"github.com/BioHazard786/Screenlink/internal/roomname"
	"github.com/BioHazard786/Screenlink/internal/signaling"
	"github.com/BioHazard786/Screenlink/internal/ui"
)

var (
	joinFlags     peerFlags
	flagJoinRoom  string
	flagJoinShare string
	flagJoinCrop  string
)

var joinCmd = &cobra.Command{
	Use:     "join [room]",
	Aliases: []string{"j"},
	Short:   "Join a room to share or view a screen",
	Long: `Join a room through the relay and connect to the other peer in it.
Without a room name a fresh one is generated and printed.

Examples:
  screenlink join
  screenlink join amber-quiet-otter
  screenlink join amber-quiet-otter --share screen.ivf --crop 0,0,1280,720`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		room := flagJoinRoom
		if len(args) == 1 {
			room = args[0]
		}
		return joinRoom(cmd.Context(), room)
	},
}

func joinRoom(ctx context.Context, room string) error {
	cfg, err := config.Load(joinFlags.options(room))
	if err != nil {
		return err
	}
	room = roomname.Current(cfg.Room)

	var region media.Region
	if flagJoinCrop != "" {
		if region, err = media.ParseRegion(flagJoinCrop); err != nil {
			return err
		}
	}

	var source media.Source
	if flagJoinShare != "" {
		ivf, err := media.OpenIVF(flagJoinShare)
		if err != nil {
			return err
		}
		source = ivf
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	fmt.Println()
	conn, err := ConnectRelay(ctx, cfg)
	if err != nil {
		if source != nil {
			source.Close()
		}
		return err
	}
	defer conn.Close()

	var (
		view    *peer.RoomView
		current atomic.Pointer[negotiation.Session]
	)
	chat := ui.NewChatUI(ui.ChatOptions{
		Room: room,
		Link: cfg.GetRoomLink(room),
		OnSend: func(text string) error {
			return view.Channel().SendChat(text)
		},
		OnCommand: func(name, args string) error {
			return runChatCommand(view, name, args)
		},
	})

	conn.Client.OnStateChange(func(s signaling.State) {
		if s != signaling.StateConnected {
			chat.Info("relay %s", s)
		}
	})

	view, err = peer.Join(peer.Options{
		Room:     room,
		Config:   cfg,
		Signaler: conn.Client,
		Router:   conn.Handler,
		Cropper:  media.PassthroughCropper{},
		Source:   source,
		Region:   region,
		OnSession: func(s *negotiation.Session) {
			current.Store(s)
			wireChannel(s.Channel(), chat)
		},
		OnStateChange: func(s negotiation.State) {
			chat.SetState(s.String())
			reportState(chat, current.Load(), s)
		},
	})
	if err != nil {
		if source != nil {
			source.Close()
		}
		return err
	}
	defer view.Close()

	fmt.Println(ui.RoomBox(room, cfg.GetRoomLink(room)))

	if source != nil {
		if err := view.Share(); err != nil {
			return err
		}
	}

	go func() {
		<-ctx.Done()
		chat.Quit()
	}()
	return chat.Run()
}

// wireChannel shows chat and pointer events from the peer.
func wireChannel(ch *channel.Channel, chat *ui.ChatUI) {
	ch.Handle(channel.KindChat, func(msg channel.Message) {
		var text string
		if err := msg.Decode(&text); err != nil {
			zap.L().Debug("bad chat message", zap.Error(err))
			return
		}
		chat.Received(text)
	})
	ch.Handle(channel.KindControl, func(msg channel.Message) {
		var ev channel.ControlEvent
		if err := msg.Decode(&ev); err != nil {
			zap.L().Debug("bad control event", zap.Error(err))
			return
		}
		zap.L().Debug("control event", zap.String("type", ev.Type), zap.Float64("x", ev.X), zap.Float64("y", ev.Y))
		chat.Info("peer %s at %.0f,%.0f", ev.Type, ev.X, ev.Y)
	})
	ch.OnOpen(func() { chat.Info("chat channel open") })
}

func reportState(chat *ui.ChatUI, session *negotiation.Session, s negotiation.State) {
	switch s {
	case negotiation.StateConnected:
		chat.Info("connected to peer")
	case negotiation.StateFailed:
		var err error
		if session != nil {
			err = session.Err()
		}
		if errors.Is(err, negotiation.ErrConnectTimeout) {
			chat.Info("peer did not connect in time, /restart to try again")
			return
		}
		chat.Info("connection failed: %v, /restart to try again", err)
	case negotiation.StateClosed:
		if session != nil && errors.Is(session.Err(), negotiation.ErrPeerChanged) {
			chat.Info("peer reconnected, negotiating again")
			return
		}
		chat.Info("peer left, waiting for the next one")
	}
}

// runChatCommand handles slash commands typed into the chat.
func runChatCommand(view *peer.RoomView, name, args string) error {
	switch name {
	case "crop":
		region, err := media.ParseRegion(args)
		if err != nil {
			return err
		}
		return view.Crop(region)
	case "restart":
		return view.Restart()
	case "point":
		ev, err := parsePointer(args)
		if err != nil {
			return err
		}
		return view.Channel().SendControl(ev)
	default:
		return fmt.Errorf("unknown command /%s", name)
	}
}

// parsePointer reads "type x,y" into a pointer event.
func parsePointer(args string) (channel.ControlEvent, error) {
	kind, coords, ok := strings.Cut(strings.TrimSpace(args), " ")
	if !ok {
		return channel.ControlEvent{}, errors.New("usage: /point click|mousedown|mouseup|mousemove x,y")
	}
	switch kind {
	case channel.ControlClick, channel.ControlMouseDown, channel.ControlMouseUp, channel.ControlMouseMove:
	default:
		return channel.ControlEvent{}, fmt.Errorf("unknown pointer event %q", kind)
	}

	var ev channel.ControlEvent
	if _, err := fmt.Sscanf(strings.TrimSpace(coords), "%g,%g", &ev.X, &ev.Y); err != nil {
		return channel.ControlEvent{}, fmt.Errorf("invalid coordinates %q", coords)
	}
	ev.Type = kind
	ev.Timestamp = time.Now().UnixMilli()
	return ev, nil
}

func init() {
	rootCmd.AddCommand(joinCmd)

	addPeerFlags(joinCmd, &joinFlags)
	joinCmd.Flags().StringVar(&flagJoinRoom, "room", "", "Room to join when no argument is given")
	joinCmd.Flags().StringVar(&joinFlags.codec, "codec", "", "Channel codec: json or msgpack")
	joinCmd.Flags().StringVar(&flagJoinShare, "share", "", "IVF file to share as the screen stream")
	joinCmd.Flags().StringVar(&flagJoinCrop, "crop", "", "Shared region as x,y,width,height")
}

func addPeerFlags(c *cobra.Command, f *peerFlags) {
	c.Flags().StringVar(&f.domain, "domain", "", "Relay domain")
	c.Flags().StringVar(&f.url, "url", "", "Relay websocket URL, overrides --domain")
	c.Flags().StringVarP(&f.stun, "stun", "s", "", "Custom STUN server")
	c.Flags().StringVarP(&f.turn, "turn", "t", "", "Custom TURN server")
	c.Flags().StringVar(&f.turnUser, "turn-user", "", "TURN username")
	c.Flags().StringVar(&f.turnPass, "turn-pass", "", "TURN password")
	c.Flags().BoolVarP(&f.relay, "relay", "r", false, "Force relay mode")
}
