package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/Screenlink/internal/config"
	"github.com/BioHazard786/Screenlink/internal/dns"
	"github.com/BioHazard786/Screenlink/internal/server"
	"github.com/BioHazard786/Screenlink/internal/ui"
	"github.com/BioHazard786/Screenlink/internal/version"
)

var (
	roomsFlags     peerFlags
	flagRoomsWatch bool
)

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List the public rooms on the relay",
	Long: `List the rooms that currently have members. Rooms named after an
endpoint are private and never listed.

Examples:
  screenlink rooms
  screenlink rooms --watch`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(roomsFlags.options(""))
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		if flagRoomsWatch {
			return watchRooms(ctx, cfg)
		}

		rooms, err := fetchRooms(ctx, cfg)
		if err != nil {
			return err
		}
		fmt.Println(ui.RoomsView(rooms))
		return nil
	},
}

// fetchRooms reads the listing from the relay's HTTP endpoint.
func fetchRooms(ctx context.Context, cfg *config.Config) ([]string, error) {
	client := &http.Client{
		Timeout:   cfg.DialTimeout,
		Transport: &http.Transport{DialContext: dns.NewResolver().DialContext},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.GetRoomsURL(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch rooms: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch rooms: relay answered %s", resp.Status)
	}

	var body server.RoomsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode rooms: %w", err)
	}
	return body.Rooms, nil
}

// watchRooms prints every listing the relay broadcasts until interrupted.
func watchRooms(ctx context.Context, cfg *config.Config) error {
	rooms, err := fetchRooms(ctx, cfg)
	if err != nil {
		return err
	}
	fmt.Println(ui.RoomsView(rooms))

	conn, err := ConnectRelay(ctx, cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case rooms, ok := <-conn.Handler.RoomUpdates:
			if !ok {
				return fmt.Errorf("relay connection lost")
			}
			fmt.Printf("%s\n%s\n", time.Now().Format("15:04:05"), ui.RoomsView(rooms))
		}
	}
}

func init() {
	rootCmd.AddCommand(roomsCmd)

	roomsCmd.Flags().StringVar(&roomsFlags.domain, "domain", "", "Relay domain")
	roomsCmd.Flags().StringVar(&roomsFlags.url, "url", "", "Relay websocket URL, overrides --domain")
	roomsCmd.Flags().BoolVarP(&flagRoomsWatch, "watch", "w", false, "Keep listening for room changes")
}
