package httpmiddleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"marcaje/internal/logger"
	"marcaje/internal/metrics"
)

const requestIDHeader = "X-Request-ID"

// RequestLogger attaches a request-scoped zerolog logger to the request
// context and logs one line per request.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		reqID := c.GetHeader(requestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Header(requestIDHeader, reqID)

		ctx := logger.WithTrace(c.Request.Context())
		l := log.Ctx(ctx).With().Str("request_id", reqID).Logger()
		c.Request = c.Request.WithContext(l.WithContext(ctx))

		c.Next()

		status := c.Writer.Status()
		var evt *zerolog.Event
		switch {
		case status >= 500:
			evt = l.Error()
		case status >= 400:
			evt = l.Warn()
		default:
			evt = l.Info()
		}
		if len(c.Errors) > 0 {
			evt = evt.Str("errors", c.Errors.String())
		}
		evt.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("request")
	}
}

// Metrics records request latency labelled by the matched route.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPDuration.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
