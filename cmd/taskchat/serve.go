package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ZanzyTHEbar/taskchat/taskchat/api"
	"github.com/ZanzyTHEbar/taskchat/taskchat/config"
	"github.com/ZanzyTHEbar/taskchat/taskchat/db"
	"github.com/ZanzyTHEbar/taskchat/taskchat/harness"
	"github.com/ZanzyTHEbar/taskchat/taskchat/harness/adapters"
	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func serve(ctx context.Context) error {
	if cfg.Server.JWTSecret == "" {
		return errors.New("server.jwt_secret must be set to serve the API")
	}

	conn, err := openDatabase(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	components, err := harness.NewFactory(cfg, conn, logger).Build(ctx)
	if err != nil {
		return err
	}

	if closer, ok := components.Limiter.(io.Closer); ok {
		defer closer.Close()
	}

	scheduler, err := startPruning(components.Limiter)
	if err != nil {
		return err
	}
	defer scheduler.Stop()

	config.Watch(func(next *config.Config) {
		limits := adapters.WindowLimits{PerMinute: next.RateLimit.PerMinute, PerHour: next.RateLimit.PerHour}
		components.Limiter.SetLimits(limits)
		logger.Info().
			Int("per_minute", limits.PerMinute).
			Int("per_hour", limits.PerHour).
			Msg("Rate limits reloaded")
	}, func(err error) {
		logger.Warn().Err(err).Msg("Config reload failed, keeping previous settings")
	})

	if lc := cfg.Log.Level; lc != "debug" && lc != "trace" {
		gin.SetMode(gin.ReleaseMode)
	}
	server := api.NewServer(
		components.Orchestrator,
		components.Conversations,
		func(ctx context.Context) error { return db.Ping(ctx, conn) },
		api.Options{
			JWTSecret:      cfg.Server.JWTSecret,
			RequestTimeout: cfg.Server.RequestTimeout,
			Provider:       cfg.LLM.Provider,
		},
		logger,
	)

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Server.Addr).Str("provider", cfg.LLM.Provider).Msg("Server started")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

// startPruning schedules removal of expired rate limit state.
func startPruning(limiter adapters.ManagedLimiter) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(cfg.RateLimit.PruneSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		n, err := limiter.Prune(ctx, time.Now())
		if err != nil {
			logger.Warn().Err(err).Msg("Rate limit prune failed")
			return
		}
		event := logger.Debug().Int("removed", n)
		if wl, ok := limiter.(*adapters.WindowLimiter); ok {
			tracked := wl.Tracked()
			if tracked > cfg.RateLimit.Capacity {
				event = logger.Warn().Int("removed", n).Int("capacity", cfg.RateLimit.Capacity)
			}
			event = event.Int("tracked", tracked)
		}
		event.Msg("Rate limit state pruned")
	})
	if err != nil {
		return nil, fmt.Errorf("invalid rate_limit.prune_schedule %q: %w", cfg.RateLimit.PruneSchedule, err)
	}
	c.Start()
	return c, nil
}

