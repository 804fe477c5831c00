package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/medimitra/voiceagent/internal/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the voice server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := app.LoadConfig(configPath)
	if err != nil {
		return err
	}
	logger, err := app.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			EnableTracing:    true,
			TracesSampleRate: 0.2,
			Environment:      cfg.Environment,
			Release:          version,
		})
		if err != nil {
			logger.Warn("sentry init failed", zap.Error(err))
		} else {
			logger.Info("sentry initialized")
			defer sentry.Flush(2 * time.Second)
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		sentry.CaptureException(err)
		return fmt.Errorf("init app: %w", err)
	}
	defer a.Close()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	a.Sweeper().Start()
	a.Discord().NotifyStartup(version, a.Services())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return shutdown(a, srv, cfg.ShutdownTimeout, logger)
	})
	return g.Wait()
}

// shutdown stops accepting sessions, lets open connections and in-flight
// turns finish within timeout, then closes the server.
func shutdown(a *app.App, srv *http.Server, timeout time.Duration, logger *zap.Logger) error {
	logger.Info("shutting down", zap.Int64("active_connections", a.Conns().ActiveCount()))
	a.Conns().StartDraining()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	drained := make(chan struct{})
	go func() {
		a.Conns().Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		logger.Warn("connections still open at shutdown deadline",
			zap.Int64("active_connections", a.Conns().ActiveCount()))
	}

	a.Sweeper().Stop()
	if err := a.Engine().Shutdown(ctx); err != nil {
		logger.Warn("turns still running at shutdown deadline", zap.Error(err))
	}
	return srv.Shutdown(ctx)
}
