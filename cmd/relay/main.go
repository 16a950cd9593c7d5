package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"marcaje/internal/config"
	"marcaje/internal/logger"
	"marcaje/internal/realtime"
	"marcaje/internal/store"
)

// Relay pushes newly recorded events to dashboards over WebSocket.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("could not load configuration")
	}
	logger.Setup("marcaje-relay", !cfg.IsProd())
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := store.NewRedis(cfg.RedisAddr)
	defer rdb.Close()

	hub := realtime.NewHub(originChecker(cfg.CORSOrigins))
	go hub.Run(ctx)
	go func() {
		for {
			err := realtime.Relay(ctx, rdb, cfg.RealtimeChannel, hub)
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Msg("subscription lost, retrying")
			select {
			case <-time.After(2 * time.Second):
			case <-ctx.Done():
				return
			}
		}
	}()

	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/ws", gin.WrapF(hub.ServeWS))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) {
		status := http.StatusOK
		redisOK := store.RedisHealthy(c.Request.Context(), rdb)
		if !redisOK {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"redis": redisOK, "clients": hub.ClientCount(c.Request.Context())})
	})

	srv := &http.Server{Addr: ":" + cfg.HTTPPort, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info().Str("port", cfg.HTTPPort).Str("channel", cfg.RealtimeChannel).Msg("relay starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info().Msg("relay exited")
}

func originChecker(origins []string) func(*http.Request) bool {
	if len(origins) == 0 || slices.Contains(origins, "*") {
		return nil
	}
	return func(r *http.Request) bool {
		return slices.Contains(origins, r.Header.Get("Origin"))
	}
}
