package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"rescueops-hub/internal/api"
	"rescueops-hub/internal/audit"
	"rescueops-hub/internal/config"
	"rescueops-hub/internal/correlate"
	"rescueops-hub/internal/hub"
	"rescueops-hub/internal/leaderboard"
	"rescueops-hub/internal/logging"
	"rescueops-hub/internal/session"
	"rescueops-hub/internal/state"
	"rescueops-hub/internal/writeback"
)

var (
	servePrintOnly  bool
	serveConfigPath string
	serveSchemaPath string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the coordination hub",
	Long:  "serve starts the event channel on /ws and the query API on /api.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(serveConfigPath, serveSchemaPath)
		if err != nil {
			return err
		}
		log := logging.New(cfg.Log.Level, cfg.Log.Format)
		slog.SetDefault(log)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(logging.NewContext(ctx, log), cfg, servePrintOnly)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&servePrintOnly, "print-only", false, "Print records to STDOUT instead of writing to storage")
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "", "Path to hub configuration YAML (defaults apply when empty)")
	serveCmd.Flags().StringVar(&serveSchemaPath, "schema", "", "Path to CUE schema file (embedded schema when empty)")
}

// serve runs until ctx is cancelled. Components log through the logger
// stored in ctx.
func serve(ctx context.Context, cfg *config.Config, printOnly bool) error {
	log := logging.FromContext(ctx)
	b, err := openBackends(ctx, cfg, printOnly)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			log.Error("closing storage", "err", err)
		}
	}()

	keyer, err := correlate.KeyerFor(cfg.Correlation.Strategy)
	if err != nil {
		return err
	}
	agents := state.NewStore()
	sessions := session.NewRegistry(b.Claimer())
	trail := audit.NewTrail()
	corr := correlate.New(keyer, cfg.Correlation.PendingTTL)

	if b.sqlite != nil {
		if err := rehydrate(ctx, b.sqlite, agents, sessions, trail, corr); err != nil {
			return err
		}
		log.Info("state restored", "agents", agents.Len(), "sessions", len(sessions.List()), "audit_events", trail.Len(), "pending", corr.Pending())
	}

	queue := writeback.New(ctx, writeback.Config{
		Workers: cfg.Storage.Writeback.Workers,
		Depth:   cfg.Storage.Writeback.Depth,
		Timeout: cfg.Storage.Writeback.Timeout,
	})

	h := hub.New(hub.Deps{
		State:      agents,
		Sessions:   sessions,
		Audit:      trail,
		Correlator: corr,
		Queue:      queue,
		Writer:     b.Writer(),
	}, hub.Options{
		DefaultSession: cfg.Hub.DefaultSession,
		SendBuffer:     cfg.Server.SendBuffer,
		ReadLimit:      cfg.Server.ReadLimitBytes,
		WriteTimeout:   cfg.Server.WriteTimeout,
		InboundRate:    cfg.Server.InboundRate,
		InboundBurst:   cfg.Server.InboundBurst,
	}, log)

	srv := api.NewServer(api.Deps{
		Agents:        agents,
		Sessions:      sessions,
		Audit:         trail,
		Leaderboard:   leaderboard.New(agents, trail),
		Keyer:         keyer,
		PendingTTL:    cfg.Correlation.PendingTTL,
		TrendSize:     cfg.Correlation.TrendSize,
		Docks:         cfg.Docks,
		Events:        http.HandlerFunc(h.ServeWS),
		RatePerMinute: cfg.Server.RateLimitPerMinute,
	}, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(gctx, cfg.Server.ListenAddr)
	})
	g.Go(func() error {
		corr.RunExpiry(gctx, cfg.Correlation.SweepInterval)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := h.Shutdown(shutdownCtx)
		queue.Close()
		log.Info("hub stopped")
		return err
	})
	return g.Wait()
}
