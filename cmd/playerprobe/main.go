package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hls-player/internal/engine"
	"hls-player/internal/platform/config"
	"hls-player/internal/platform/logger"
	"hls-player/internal/platform/metrics"
	"hls-player/internal/player"
	"hls-player/internal/probe"
	"hls-player/internal/protection"
	"hls-player/internal/stream"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")
	rateLimit := config.GetEnvInt("PROBE_RATE_LIMIT", 120)

	log := logger.New(logLevel, logFormat)
	met := metrics.New()
	clock := clockwork.NewRealClock()

	playerCfg := player.Config{
		IdleTimeout:           config.GetEnvDuration("IDLE_TIMEOUT", player.DefaultIdleTimeout),
		PreviewPromptFraction: config.GetEnvFloat("PREVIEW_PROMPT_FRACTION", player.DefaultPreviewPromptFraction),
		Retry: stream.RetryPolicy{
			MaxNetworkRetries: config.GetEnvInt("MAX_NETWORK_RETRIES", stream.DefaultMaxNetworkRetries),
			BaseDelay:         config.GetEnvDuration("RETRY_BASE_DELAY", stream.DefaultRetryBaseDelay),
			MaxDelay:          config.GetEnvDuration("RETRY_MAX_DELAY", stream.DefaultRetryMaxDelay),
		},
	}
	svc := probe.NewService(probe.NewRegistry(), probe.Config{
		Tick:          config.GetEnvDuration("PROBE_TICK", probe.DefaultTick),
		Player:        playerCfg,
		CaptureWindow: config.GetEnvDuration("CAPTURE_WINDOW", protection.DefaultCaptureWindow),
		Capabilities: &protection.Capabilities{
			Watermark:   config.GetEnvBool("WATERMARK_ENABLED", true),
			DebugReveal: config.GetEnvBool("DEBUG_REVEAL", false),
		},
		Engine: engine.Config{
			ManifestTimeout: config.GetEnvDuration("MANIFEST_TIMEOUT", engine.DefaultManifestTimeout),
		},
		Clock:   clock,
		Log:     log,
		Metrics: met,
	})

	origin := probe.NewOrigin(clock, log)
	origin.AddVOD("demo", 20, 6, nil)
	origin.AddLive("live", 4, probe.DefaultLiveWindow, nil)

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() { met.SetActiveSessions(svc.Count()) }).ServeHTTP(w, r)
	})
	r.Route("/probes", func(r chi.Router) {
		r.Use(httprate.LimitByIP(rateLimit, time.Minute))
		probe.NewHandler(svc, log).Routes(r)
	})
	r.Route("/origin", origin.Routes)

	srv := &http.Server{Addr: ":" + port, Handler: r}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("server starting",
			"port", port,
			"log_level", logLevel,
			"idle_timeout", playerCfg.IdleTimeout,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return svc.Run(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutdown signal received, draining connections")
		svc.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}
