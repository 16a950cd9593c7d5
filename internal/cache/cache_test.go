package cache

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memBackend struct {
	mu   sync.Mutex
	data map[string][]byte
	fail bool
}

func newMemBackend() *memBackend { return &memBackend{data: map[string][]byte{}} }

func (m *memBackend) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return nil, errors.New("down")
	}
	v, ok := m.data[key]
	if !ok {
		return nil, ErrMiss
	}
	return v, nil
}

func (m *memBackend) Set(_ context.Context, key string, val []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), val...)
	return nil
}

func (m *memBackend) DeletePrefix(_ context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			delete(m.data, k)
		}
	}
	return nil
}

func router(c *Cache, hits *int) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(c.InvalidateOnWrite())
	r.GET("/items", c.Middleware(), func(ctx *gin.Context) {
		*hits++
		ctx.JSON(http.StatusOK, gin.H{"n": *hits})
	})
	r.GET("/missing", c.Middleware(), func(ctx *gin.Context) {
		*hits++
		ctx.JSON(http.StatusNotFound, gin.H{"error": "nope"})
	})
	r.POST("/items", func(ctx *gin.Context) { ctx.Status(http.StatusCreated) })
	return r
}

func get(r http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestMiddlewareCachesOK(t *testing.T) {
	hits := 0
	r := router(New(newMemBackend(), "test:", time.Minute), &hits)

	first := get(r, "/items?a=1")
	require.Equal(t, http.StatusOK, first.Code)
	second := get(r, "/items?a=1")
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, hits)

	get(r, "/items?a=2")
	assert.Equal(t, 2, hits)
}

func TestMiddlewareSkipsErrors(t *testing.T) {
	hits := 0
	r := router(New(newMemBackend(), "test:", time.Minute), &hits)
	get(r, "/missing")
	get(r, "/missing")
	assert.Equal(t, 2, hits)
}

func TestWriteInvalidates(t *testing.T) {
	hits := 0
	r := router(New(newMemBackend(), "test:", time.Minute), &hits)
	get(r, "/items")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/items", nil))
	require.Equal(t, http.StatusCreated, w.Code)
	get(r, "/items")
	assert.Equal(t, 2, hits)
}

func TestBackendFailurePassesThrough(t *testing.T) {
	hits := 0
	b := newMemBackend()
	b.fail = true
	r := router(New(b, "test:", time.Minute), &hits)
	assert.Equal(t, http.StatusOK, get(r, "/items").Code)
	assert.Equal(t, http.StatusOK, get(r, "/items").Code)
	assert.Equal(t, 2, hits)
}
