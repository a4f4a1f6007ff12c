package cmd

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/BioHazard786/Screenlink/internal/config"
	"github.com/BioHazard786/Screenlink/internal/negotiation"
	"github.com/BioHazard786/Screenlink/internal/ui"
)

const probeTimeout = 10 * time.Second

var probeFlags peerFlags

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check which ICE candidates each STUN and TURN server yields",
	Long: `Gather ICE candidates against every configured STUN and TURN server
and report the candidate types each one produced. A TURN server that
yields no relay candidate is unreachable or rejected the credentials.

Examples:
  screenlink probe
  screenlink probe --turn turn.example.com --turn-user me --turn-pass secret`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(probeFlags.options(""))
		if err != nil {
			return err
		}

		api, err := negotiation.NewAPI()
		if err != nil {
			return err
		}

		spin := ui.NewSpinner("Gathering candidates...")
		spin.Start()
		results := probe(cmd.Context(), api, probeTargets(cfg))
		spin.Stop()

		fmt.Println(ui.ProbeView(results))
		if negotiation.ShouldForceRelay() {
			ui.PrintWarning("This host looks like it is behind a VPN or carrier-grade NAT; sessions will use TURN relay when available.")
		}
		return nil
	},
}

type probeTarget struct {
	url    string
	server webrtc.ICEServer
	policy webrtc.ICETransportPolicy
}

// probeTargets splits the configured ICE servers into one target per URL.
// TURN targets gather relay candidates only.
func probeTargets(cfg *config.Config) []probeTarget {
	var targets []probeTarget
	for _, server := range negotiation.Configuration(cfg).ICEServers {
		for _, url := range server.URLs {
			single := server
			single.URLs = []string{url}

			policy := webrtc.ICETransportPolicyAll
			if strings.HasPrefix(url, "turn") {
				policy = webrtc.ICETransportPolicyRelay
			}
			targets = append(targets, probeTarget{url: url, server: single, policy: policy})
		}
	}
	return targets
}

// probe gathers candidates for every target concurrently.
func probe(ctx context.Context, api *webrtc.API, targets []probeTarget) []ui.ProbeResult {
	results := make([]ui.ProbeResult, len(targets))

	g, ctx := errgroup.WithContext(ctx)
	for i, target := range targets {
		i, target := i, target
		g.Go(func() error {
			types, err := gather(ctx, api, target)
			results[i] = ui.ProbeResult{URL: target.url, Candidates: types, Err: err}
			return nil
		})
	}
	g.Wait()
	return results
}

// gather runs ICE gathering against one server and returns the candidate
// types it produced.
func gather(ctx context.Context, api *webrtc.API, target probeTarget) ([]string, error) {
	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers:         []webrtc.ICEServer{target.server},
		ICETransportPolicy: target.policy,
	})
	if err != nil {
		return nil, err
	}
	defer pc.Close()

	var (
		mu    sync.Mutex
		types = make(map[string]struct{})
	)
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		mu.Lock()
		types[c.Typ.String()] = struct{}{}
		mu.Unlock()
	})

	if _, err := pc.CreateDataChannel("probe", nil); err != nil {
		return nil, err
	}
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	done := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	select {
	case <-done:
	case <-ctx.Done():
	}

	mu.Lock()
	defer mu.Unlock()
	return sortedKeys(types), nil
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func init() {
	rootCmd.AddCommand(probeCmd)

	addPeerFlags(probeCmd, &probeFlags)
}
