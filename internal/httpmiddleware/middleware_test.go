package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marcaje/internal/metrics"
)

func TestTokenBucketRefills(t *testing.T) {
	now := time.Date(2024, 7, 1, 8, 0, 0, 0, time.UTC)
	l := NewTokenBucket(2, 60)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"))

	now = now.Add(time.Second)
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))

	now = now.Add(500 * time.Millisecond)
	assert.False(t, l.Allow("a"))
	now = now.Add(500 * time.Millisecond)
	assert.True(t, l.Allow("a"))
}

func TestTokenBucketForgetsIdleKeys(t *testing.T) {
	now := time.Date(2024, 7, 1, 8, 0, 0, 0, time.UTC)
	l := NewTokenBucket(2, 60)
	l.now = func() time.Time { return now }

	for _, k := range []string{"a", "b", "c"} {
		l.Allow(k)
	}
	assert.Equal(t, 3, l.Len())

	now = now.Add(time.Minute)
	l.Allow("d")
	assert.Equal(t, 1, l.Len())
}

func TestMiddlewareRejects(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestLogger(), Metrics(), NewTokenBucket(1, 1).Middleware(nil))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))

	assert.Equal(t, 2, testutil.CollectAndCount(metrics.HTTPDuration))
}

func TestRequestIDPropagates(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestLogger())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(requestIDHeader, "abc")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc", w.Header().Get(requestIDHeader))
}
