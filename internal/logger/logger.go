package logger

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

// Setup configures the global zerolog logger. Local development gets a
// console writer at debug level, everything else JSON at info.
func Setup(service string, localDev bool) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	l := zerolog.New(os.Stderr)
	level := zerolog.InfoLevel
	if localDev {
		l = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = l.With().Timestamp().Str("service", service).Logger()
	zerolog.DefaultContextLogger = &log.Logger
}

// WithTrace returns ctx carrying a logger tagged with the active span ids.
func WithTrace(ctx context.Context) context.Context {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return log.Logger.WithContext(ctx)
	}
	l := log.With().
		Str("trace_id", sc.TraceID().String()).
		Str("span_id", sc.SpanID().String()).
		Logger()
	return l.WithContext(ctx)
}
