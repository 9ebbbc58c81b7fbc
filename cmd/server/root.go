package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/shehryarbajwa/rostersync/internal/api"
	"github.com/shehryarbajwa/rostersync/internal/browser"
	"github.com/shehryarbajwa/rostersync/internal/config"
	"github.com/shehryarbajwa/rostersync/internal/metrics"
	"github.com/shehryarbajwa/rostersync/internal/notify"
	"github.com/shehryarbajwa/rostersync/internal/proxy"
	"github.com/shehryarbajwa/rostersync/internal/ratelimit"
	"github.com/shehryarbajwa/rostersync/internal/session"
)

const (
	// writeTimeout covers a full OTP submission including the scrape.
	writeTimeout    = 10 * time.Minute
	shutdownTimeout = 10 * time.Second

	limiterIdle  = time.Hour
	limiterSweep = 10 * time.Minute
)

func runRoot() error {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Info("No .env file found, using system environment variables")
	}

	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.Log.ConfigureLogging(); err != nil {
		return err
	}

	log.Info("Starting rostersync...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	launcher, cleanup, err := newLauncher(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	m := metrics.New(prometheus.DefaultRegisterer)

	var notifier session.Notifier
	if cfg.Notify.URL != "" {
		notifier = notify.NewRoomNotifier(cfg.Notify.URL, cfg.Notify.Domain, cfg.Notify.Timeout)
		log.WithField("url", cfg.Notify.URL).Info("✓ Room notifications enabled")
	}

	sessionMgr := session.NewManager(session.NewMemoryStore(), launcher, notifier, m, cfg.SessionOptions())
	go sessionMgr.Run(ctx)
	log.WithField("max-sessions", cfg.MaxSessions).Info("✓ Session manager initialized")

	rateLimiter := ratelimit.NewLimiter(cfg.RateLimit.PerHour, cfg.RateLimit.Burst)
	go forgetIdleClients(ctx, rateLimiter)
	log.Infof("✓ Rate limiter initialized (%d req/hour per client)", cfg.RateLimit.PerHour)

	var debug http.HandlerFunc
	if cfg.Driver == config.DriverDocker {
		debug = proxy.NewServer(sessionMgr).HandleDebugConnection
		log.Info("✓ WebSocket debug proxy initialized")
	}

	router := api.NewHandler(sessionMgr).SetupRoutes(debug, rateLimiter, prometheus.DefaultGatherer)
	log.Info("✓ HTTP routes configured")

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Infof("🚀 Server listening on %s", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			sessionMgr.Shutdown()
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("⏳ Shutting down server gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("server forced to shutdown")
	}
	sessionMgr.Shutdown()

	log.Info("✅ Server stopped cleanly")
	return nil
}

// newLauncher builds the configured browser driver. cleanup releases what
// the driver holds beyond individual sessions.
func newLauncher(ctx context.Context, cfg *config.Config) (session.Launcher, func(), error) {
	if cfg.Driver != config.DriverDocker {
		log.WithField("headless", cfg.Headless).Info("✓ Local browser driver initialized")
		return &browser.LocalLauncher{
			Headless:     cfg.Headless,
			ExecPath:     cfg.ChromePath,
			StartTimeout: cfg.StartTimeout,
		}, func() {}, nil
	}

	pool, err := browser.NewPool(cfg.DockerImage)
	if err != nil {
		return nil, nil, err
	}

	log.Info("⏳ Ensuring browser image is available...")
	pullCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()
	if err := pool.EnsureImage(pullCtx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ensure image: %w", err)
	}
	if n, err := pool.Prune(pullCtx); err != nil {
		log.WithError(err).Warn("failed to prune leftover browser containers")
	} else if n > 0 {
		log.WithField("containers", n).Info("removed leftover browser containers")
	}
	log.WithField("image", cfg.DockerImage).Info("✓ Docker browser driver initialized")

	cleanup := func() {
		if err := pool.Close(); err != nil {
			log.WithError(err).Warn("failed to close docker client")
		}
	}
	return &browser.DockerLauncher{Pool: pool, StartTimeout: cfg.StartTimeout}, cleanup, nil
}

func forgetIdleClients(ctx context.Context, l *ratelimit.Limiter) {
	ticker := time.NewTicker(limiterSweep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Forget(limiterIdle)
		}
	}
}
