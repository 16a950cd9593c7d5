package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"marcaje/internal/logger"
	"marcaje/internal/queue"
)

// Processor handles one message. On failure it says whether the message
// should be retried and after how long.
type Processor interface {
	Process(ctx context.Context, msg queue.Message) (retry bool, delay time.Duration, err error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, msg queue.Message) (bool, time.Duration, error)

func (f ProcessorFunc) Process(ctx context.Context, msg queue.Message) (bool, time.Duration, error) {
	return f(ctx, msg)
}

// Worker consumes a queue and hands messages to a bounded pool of processors.
type Worker struct {
	q         queue.Queue
	processor Processor
	// Concurrency controls how many messages are processed at the same time.
	Concurrency int
}

func New(q queue.Queue, p Processor) *Worker {
	return &Worker{q: q, processor: p, Concurrency: 4}
}

// Start runs until ctx is cancelled and in-flight messages are finished.
func (w *Worker) Start(ctx context.Context) error {
	messages, err := w.q.Consume(ctx)
	if err != nil {
		return err
	}
	log.Info().Int("concurrency", w.Concurrency).Msg("worker started, waiting for messages")

	var wg sync.WaitGroup
	for i := 0; i < w.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for msg := range messages {
				w.handle(ctx, msg)
			}
		}()
	}
	wg.Wait()
	log.Info().Msg("worker stopped")
	return nil
}

func (w *Worker) handle(ctx context.Context, msg queue.Message) {
	ctx, span := otel.Tracer("marcaje/worker").Start(ctx, "process_message",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.message_id", msg.ID),
			attribute.String("app.message_type", msg.Type),
			attribute.Int("app.attempt", msg.Attempt),
		),
	)
	defer span.End()
	ctx = logger.WithTrace(ctx)
	l := log.Ctx(ctx).With().Str("message_id", msg.ID).Str("type", msg.Type).Int("attempt", msg.Attempt).Logger()

	// Acks and retries must survive shutdown cancellation.
	settle := context.WithoutCancel(ctx)

	retry, delay, err := w.processor.Process(ctx, msg)
	switch {
	case err == nil:
		if aerr := w.q.Ack(settle, msg); aerr != nil {
			l.Warn().Err(aerr).Msg("ack failed")
		}
	case retry:
		span.RecordError(err)
		l.Warn().Err(err).Dur("retry_delay", delay).Msg("processing failed, will retry")
		if rerr := w.q.Retry(settle, msg, delay); rerr != nil {
			l.Error().Err(rerr).Msg("schedule retry failed")
		}
	default:
		span.RecordError(err)
		l.Error().Err(err).Msg("unrecoverable error processing message, dropping")
		if aerr := w.q.Ack(settle, msg); aerr != nil {
			l.Warn().Err(aerr).Msg("ack failed")
		}
	}
}
