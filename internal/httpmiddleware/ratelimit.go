package httpmiddleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// TokenBucket is an in-memory per-key rate limiter. Each API replica keeps
// its own buckets. Tokens refill continuously; buckets idle long enough to
// be full again are forgotten.
type TokenBucket struct {
	capacity float64
	perSec   float64
	mu       sync.Mutex
	state    map[string]*bucket
	lastGC   time.Time
	now      func() time.Time
}

type bucket struct {
	tokens float64
	last   time.Time
}

// NewTokenBucket creates a limiter with capacity tokens refilled at perMinute.
func NewTokenBucket(capacity, perMinute int) *TokenBucket {
	if capacity <= 0 && perMinute <= 0 {
		capacity, perMinute = 60, 60
	}
	if capacity <= 0 {
		capacity = perMinute
	}
	if perMinute <= 0 {
		perMinute = capacity
	}
	return &TokenBucket{
		capacity: float64(capacity),
		perSec:   float64(perMinute) / 60,
		state:    make(map[string]*bucket),
		now:      time.Now,
	}
}

// KeyFunc picks the bucket for a request.
type KeyFunc func(c *gin.Context) string

// ByClientIP keys buckets by remote address.
func ByClientIP(c *gin.Context) string {
	return c.ClientIP()
}

// Middleware enforces the limit. A nil key func means ByClientIP.
func (l *TokenBucket) Middleware(key KeyFunc) gin.HandlerFunc {
	if key == nil {
		key = ByClientIP
	}
	return func(c *gin.Context) {
		k := key(c)
		if k == "" {
			k = "unknown"
		}
		if !l.Allow(k) {
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit"})
			return
		}
		c.Next()
	}
}

// Allow consumes one token for key.
func (l *TokenBucket) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.gc(now)

	b, ok := l.state[key]
	if !ok {
		b = &bucket{tokens: l.capacity, last: now}
		l.state[key] = b
	}
	b.tokens = min(l.capacity, b.tokens+now.Sub(b.last).Seconds()*l.perSec)
	b.last = now
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// gc drops full buckets at most once per refill period.
func (l *TokenBucket) gc(now time.Time) {
	full := time.Duration(l.capacity / l.perSec * float64(time.Second))
	if now.Sub(l.lastGC) < full {
		return
	}
	l.lastGC = now
	for k, b := range l.state {
		if now.Sub(b.last) >= full {
			delete(l.state, k)
		}
	}
}

// Len reports how many keys are tracked.
func (l *TokenBucket) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.state)
}
