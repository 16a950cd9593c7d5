// Package cache keeps short-lived copies of JSON GET responses in Redis.
package cache

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"marcaje/internal/metrics"
)

// ErrMiss is returned by Backend.Get when the key is absent.
var ErrMiss = errors.New("cache miss")

// Backend stores raw bytes with a TTL.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	DeletePrefix(ctx context.Context, prefix string) error
}

// Cache wraps GET handlers. Backend errors degrade to pass-through.
type Cache struct {
	backend Backend
	prefix  string
	ttl     time.Duration
}

func New(b Backend, prefix string, ttl time.Duration) *Cache {
	return &Cache{backend: b, prefix: prefix, ttl: ttl}
}

func (c *Cache) key(r *http.Request) string {
	return c.prefix + r.Method + ":" + r.URL.RequestURI()
}

type recorder struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (r *recorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *recorder) WriteString(s string) (int, error) {
	r.body.WriteString(s)
	return r.ResponseWriter.WriteString(s)
}

// Middleware serves cached 200 JSON bodies and stores fresh ones.
func (c *Cache) Middleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if c == nil || c.backend == nil || ctx.Request.Method != http.MethodGet {
			ctx.Next()
			return
		}
		key := c.key(ctx.Request)
		body, err := c.backend.Get(ctx.Request.Context(), key)
		switch {
		case err == nil:
			metrics.CacheLookups.WithLabelValues("hit").Inc()
			ctx.Header("X-Cache", "HIT")
			ctx.Data(http.StatusOK, "application/json; charset=utf-8", body)
			ctx.Abort()
			return
		case errors.Is(err, ErrMiss):
			metrics.CacheLookups.WithLabelValues("miss").Inc()
		default:
			metrics.CacheLookups.WithLabelValues("error").Inc()
			log.Ctx(ctx.Request.Context()).Warn().Err(err).Msg("cache get failed")
			ctx.Next()
			return
		}

		rec := &recorder{ResponseWriter: ctx.Writer}
		ctx.Writer = rec
		ctx.Next()

		if rec.Status() != http.StatusOK || rec.body.Len() == 0 {
			return
		}
		if err := c.backend.Set(ctx.Request.Context(), key, rec.body.Bytes(), c.ttl); err != nil {
			log.Ctx(ctx.Request.Context()).Warn().Err(err).Msg("cache set failed")
		}
	}
}

// Invalidate drops every cached response.
func (c *Cache) Invalidate(ctx context.Context) {
	if c == nil || c.backend == nil {
		return
	}
	if err := c.backend.DeletePrefix(ctx, c.prefix); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("cache invalidate failed")
	}
}

// InvalidateOnWrite clears the cache after any successful non-GET request.
func (c *Cache) InvalidateOnWrite() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ctx.Next()
		if ctx.Request.Method == http.MethodGet || ctx.Writer.Status() >= 400 {
			return
		}
		c.Invalidate(ctx.Request.Context())
	}
}

// RedisBackend stores entries as plain Redis strings.
type RedisBackend struct {
	client *redis.Client
}

func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := b.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	return val, err
}

func (b *RedisBackend) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	return b.client.Set(ctx, key, val, ttl).Err()
}

func (b *RedisBackend) DeletePrefix(ctx context.Context, prefix string) error {
	iter := b.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return b.client.Del(ctx, keys...).Err()
}
