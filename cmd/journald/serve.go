package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/callingjournal/internal/api"
	"github.com/MikeSquared-Agency/callingjournal/internal/deepgram"
	"github.com/MikeSquared-Agency/callingjournal/internal/speech"
	"github.com/MikeSquared-Agency/callingjournal/internal/telephony"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, telephony bridge and event subscriptions",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := buildApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	var transcriber speech.Transcriber
	if cfg.DeepgramAPIKey != "" {
		transcriber = deepgram.NewProvider(deepgram.Config{
			APIKey:      cfg.DeepgramAPIKey,
			Model:       cfg.DeepgramModel,
			SmartFormat: true,
			Endpointing: 500,
		})
		a.logger.Info("deepgram transcriber ready", "model", cfg.DeepgramModel)
	} else {
		a.logger.Warn("DEEPGRAM_API_KEY not set, telephony calls will not be transcribed")
	}
	bridge := telephony.NewBridge(a.ctrl, a.db, transcriber, a.logger)

	if a.events != nil {
		if err := a.events.SubscribeMaintenance(a.maint.Apply); err != nil {
			return err
		}
	}

	srv := api.NewServer(cfg.Port, api.Deps{
		Conversation: a.ctrl,
		Journals:     a.db,
		Index:        a.index,
		Artifacts:    a.artifacts,
		Maintenance:  a.maint,
		Telephony:    bridge,
		Logger:       a.logger,
	})
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	go sweepLoop(ctx, a)

	a.logger.Info("journald ready", "port", cfg.Port, "index", cfg.IndexBackend, "provider", cfg.LLMProvider)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		a.logger.Error("HTTP server error", "error", err)
		return err
	}

	a.logger.Info("shutting down")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("HTTP shutdown incomplete", "error", err)
	}
	if a.events != nil {
		_ = a.events.Flush(shutdownCtx)
	}
	a.logger.Info("journald stopped")
	return nil
}

// sweepLoop periodically retires stale sessions and purges expired ones.
func sweepLoop(ctx context.Context, a *app) {
	interval := a.cfg.SessionStaleAfter / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runSweep(ctx, a)
		}
	}
}

func runSweep(ctx context.Context, a *app) (abandoned, purged int64) {
	abandoned, err := a.ctrl.AbandonStale(ctx, a.cfg.SessionStaleAfter)
	if err != nil {
		a.logger.Error("abandon stale sessions failed", "error", err)
	}
	purged, err = a.ctrl.PurgeExpired(ctx, a.cfg.Retention())
	if err != nil {
		a.logger.Error("purge expired sessions failed", "error", err)
	}
	return abandoned, purged
}
