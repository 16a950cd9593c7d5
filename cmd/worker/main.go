package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"marcaje/internal/attendance"
	"marcaje/internal/config"
	"marcaje/internal/logger"
	"marcaje/internal/notify"
	"marcaje/internal/queue"
	"marcaje/internal/store"
	"marcaje/internal/telemetry"
	"marcaje/internal/worker"
)

// Worker delivers notification jobs and runs the daily absence sweep.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("could not load configuration")
	}
	logger.Setup("marcaje-worker", !cfg.IsProd())
	gin.SetMode(gin.ReleaseMode)

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("worker failed")
	}
}

func run(cfg config.App) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracer(ctx, "marcaje-worker", telemetry.Choose(cfg.OTLPEndpoint, !cfg.IsProd()), cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	if cfg.QueueBackend == "memory" {
		return errors.New("QUEUE_BACKEND=memory runs inside the api process; use redis or sqs for a separate worker")
	}

	repo, closeRepo, err := store.OpenRepository(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closeRepo(context.Background()) }()

	rdb := store.NewRedis(cfg.RedisAddr)
	defer rdb.Close()

	q, err := queue.Open(ctx, cfg, rdb)
	if err != nil {
		return err
	}

	svc := attendance.NewService(repo, attendance.Options{
		DefaultLocation: cfg.Location(),
		Notifier:        notify.NewEnqueuer(q),
	})

	relay := notify.NewRelay(notify.ChannelsFromConfig(ctx, cfg)...)
	if len(relay.Channels()) == 0 {
		log.Warn().Msg("no notification channels configured; jobs will be dropped")
	}
	log.Info().Strs("channels", relay.Channels()).Msg("notification relay ready")

	sweep, err := notify.NewSweep(svc, cfg.AbsenceCron, cfg.Location())
	if err != nil {
		return err
	}
	sweep.Start()
	defer sweep.Stop()
	log.Info().Str("cron", cfg.AbsenceCron).Msg("absence sweep scheduled")

	go serveOps(ctx, cfg.HTTPPort, repo)

	w := worker.New(q, notify.NewProcessor(svc, relay, cfg.MaxAttempts))
	if cfg.WorkerConcurrency > 0 {
		w.Concurrency = cfg.WorkerConcurrency
	}
	return w.Start(ctx)
}

// serveOps exposes /metrics and /healthz for the orchestrator.
func serveOps(ctx context.Context, port string, repo attendance.Repository) {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) {
		if err := repo.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	srv := &http.Server{Addr: ":" + port, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("ops server failed")
	}
}
