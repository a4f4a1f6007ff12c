package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BioHazard786/Screenlink/internal/config"
	"github.com/BioHazard786/Screenlink/internal/metrics"
	"github.com/BioHazard786/Screenlink/internal/relay"
	"github.com/BioHazard786/Screenlink/internal/server"
	"github.com/BioHazard786/Screenlink/internal/version"
)

const shutdownTimeout = 10 * time.Second

var (
	flagServeAddr    string
	flagServeOrigins string
	flagServeMode    string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the signaling relay",
	Long: `Run the signaling relay that pairs peers by room name.

The relay exposes /ws for peers, /rooms for the public room listing,
/health and /metrics.

Examples:
  screenlink serve
  screenlink serve --addr :9000 --origins https://screenlink.example.com`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadServer(config.ServerOptions{
			Addr:           flagServeAddr,
			AllowedOrigins: flagServeOrigins,
			Mode:           flagServeMode,
		})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

func serve(ctx context.Context, cfg *config.ServerConfig) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	rl := relay.New(relay.Options{
		SendBuffer: cfg.SendBuffer,
		Metrics:    metrics.NewRelay(reg),
	})
	srv := server.NewHTTPServer(cfg.Addr, server.NewRouter(server.Options{
		Config:   cfg,
		Relay:    rl,
		Gatherer: reg,
	}))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zap.L().Info("relay listening",
			zap.String("addr", cfg.Addr),
			zap.String("mode", cfg.Mode),
			zap.String("version", version.Version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		zap.L().Info("relay shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		// Websocket connections are hijacked, so Shutdown does not see them.
		rl.Shutdown()
		return err
	})
	return g.Wait()
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&flagServeAddr, "addr", "a", "", "Listen address (default :8080)")
	serveCmd.Flags().StringVar(&flagServeOrigins, "origins", "", "Comma separated allowed websocket origins")
	serveCmd.Flags().StringVar(&flagServeMode, "mode", "", "Run mode: production or dev")
}
