package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"marcaje/internal/attendance"
	"marcaje/internal/auth"
	"marcaje/internal/cache"
	"marcaje/internal/cloudinary"
	"marcaje/internal/config"
	"marcaje/internal/faceclient"
	"marcaje/internal/handler"
	"marcaje/internal/httpmiddleware"
	"marcaje/internal/logger"
	"marcaje/internal/notify"
	"marcaje/internal/queue"
	"marcaje/internal/realtime"
	"marcaje/internal/store"
	"marcaje/internal/telemetry"
	"marcaje/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("could not load configuration")
	}
	logger.Setup("marcaje-api", !cfg.IsProd())

	if cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("api failed")
	}
}

func run(cfg config.App) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracer(ctx, "marcaje-api", telemetry.Choose(cfg.OTLPEndpoint, !cfg.IsProd()), cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	repo, closeRepo, err := store.OpenRepository(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closeRepo(context.Background()) }()

	rdb := store.NewRedis(cfg.RedisAddr)
	defer rdb.Close()
	if !store.RedisHealthy(ctx, rdb) {
		log.Warn().Str("addr", cfg.RedisAddr).Msg("redis not reachable; cache and realtime degrade until it is")
	}

	q, err := queue.Open(ctx, cfg, rdb)
	if err != nil {
		return err
	}

	face := faceclient.New(cfg.FaceServiceURL, cfg.FaceSkip, cfg.FaceMockUserID)
	if !cfg.FaceSkip {
		if err := face.Health(ctx); err != nil {
			log.Warn().Err(err).Msg("face service not available")
		}
	}

	var photos attendance.PhotoStore
	cdn := cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
	if cdn.Configured() {
		photos = cdn
		log.Info().Str("cloud", cfg.CloudinaryCloudName).Msg("cloudinary configured")
	} else {
		log.Info().Msg("cloudinary not configured, uploads disabled")
	}

	svc := attendance.NewService(repo, attendance.Options{
		DedupWindow:     cfg.DedupWindow,
		DefaultLocation: cfg.Location(),
		MinConfidence:   cfg.MinConfidence,
		Notifier:        notify.NewEnqueuer(q),
		Broadcaster:     realtime.NewPublisher(rdb, cfg.RealtimeChannel),
		Face:            face,
		Photos:          photos,
	})

	if err := seedAdmin(ctx, repo, cfg); err != nil {
		return err
	}

	// Without an external broker the API consumes its own notification jobs.
	if mem, ok := q.(*queue.InMemory); ok {
		go runInlineWorker(ctx, cfg, svc, mem)
	}

	signer := auth.NewSigner(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.AccessTTL, cfg.RefreshTTL)
	responses := cache.New(cache.NewRedisBackend(rdb), "marcaje:cache:", cfg.CacheTTL)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger())
	r.Use(httpmiddleware.Metrics())
	r.Use(cors.New(corsConfig(cfg.CORSOrigins)))
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).Middleware(nil))

	handler.New(svc, signer, responses, photos,
		handler.HealthCheck{Name: "redis", Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }},
		handler.HealthCheck{Name: "face", Check: face.Health},
	).Register(r)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      otelhttp.NewHandler(r, "marcaje-api"),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.HTTPPort).Str("store", cfg.StoreBackend).Str("queue", cfg.QueueBackend).Msg("api starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	if err := svc.Drain(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("side effects still running at exit")
	}
	log.Info().Msg("server exited")
	return nil
}

// seedAdmin creates or updates the bootstrap admin from the environment.
func seedAdmin(ctx context.Context, repo attendance.Repository, cfg config.App) error {
	if cfg.AdminEmail == "" || cfg.AdminPassword == "" {
		return nil
	}
	hash, err := auth.HashPassword(cfg.AdminPassword)
	if err != nil {
		return err
	}
	err = repo.UpsertAdmin(ctx, attendance.Admin{
		Email:        strings.ToLower(cfg.AdminEmail),
		Name:         "Administrador",
		PasswordHash: hash,
	})
	if err != nil {
		return err
	}
	log.Info().Str("email", cfg.AdminEmail).Msg("admin account ready")
	return nil
}

func runInlineWorker(ctx context.Context, cfg config.App, svc *attendance.Service, q queue.Queue) {
	relay := notify.NewRelay(notify.ChannelsFromConfig(ctx, cfg)...)
	w := worker.New(q, notify.NewProcessor(svc, relay, cfg.MaxAttempts))
	w.Concurrency = 1
	log.Info().Strs("channels", relay.Channels()).Msg("inline notification worker enabled")

	sweep, err := notify.NewSweep(svc, cfg.AbsenceCron, cfg.Location())
	if err != nil {
		log.Error().Err(err).Msg("absence sweep disabled")
	} else {
		sweep.Start()
		defer sweep.Stop()
	}
	if err := w.Start(ctx); err != nil {
		log.Error().Err(err).Msg("inline worker stopped")
	}
}

func corsConfig(origins []string) cors.Config {
	c := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Disposition", "X-Request-ID"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		c.AllowAllOrigins = true
		return c
	}
	c.AllowOrigins = origins
	c.AllowCredentials = true
	return c
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}
