package notify

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"marcaje/internal/attendance"
	"marcaje/internal/metrics"
	"marcaje/internal/queue"
)

// EventStore is the part of the attendance service the processor needs.
type EventStore interface {
	GetEvent(ctx context.Context, id string) (attendance.Event, error)
	MarkNotified(ctx context.Context, id string) error
}

// Deliverer is satisfied by *Relay.
type Deliverer interface {
	Deliver(ctx context.Context, j Job) error
}

// Processor handles notification jobs from the queue.
type Processor struct {
	events      EventStore
	deliverer   Deliverer
	cb          *gobreaker.CircuitBreaker
	maxAttempts int
}

// NewProcessor wires delivery through a circuit breaker so a failing mail
// or push provider is not hammered by every queued job.
func NewProcessor(events EventStore, d Deliverer, maxAttempts int) *Processor {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	settings := gobreaker.Settings{
		Name:        "notification-delivery",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 10 && failureRatio >= 0.5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNoRecipient)
		},
	}
	return &Processor{
		events:      events,
		deliverer:   d,
		cb:          gobreaker.NewCircuitBreaker(settings),
		maxAttempts: maxAttempts,
	}
}

// Process implements worker.Processor.
func (p *Processor) Process(ctx context.Context, msg queue.Message) (bool, time.Duration, error) {
	j, err := DecodeJob(msg)
	if err != nil {
		metrics.NotificationsProcessed.WithLabelValues(msg.Type, "malformed").Inc()
		return false, 0, err
	}
	l := log.Ctx(ctx).With().Str("kind", j.Kind).Str("user_id", j.UserID).Logger()

	if j.Kind == KindLate && j.EventID != "" {
		evt, err := p.events.GetEvent(ctx, j.EventID)
		if errors.Is(err, attendance.ErrNotFound) {
			metrics.NotificationsProcessed.WithLabelValues(j.Kind, "orphan").Inc()
			return false, 0, fmt.Errorf("event %s: %w", j.EventID, err)
		}
		if err != nil {
			return true, backoff(msg.Attempt), fmt.Errorf("load event %s: %w", j.EventID, err)
		}
		if evt.NotificationSent {
			l.Info().Str("event_id", j.EventID).Msg("notification already sent, skipping")
			metrics.NotificationsProcessed.WithLabelValues(j.Kind, "duplicate").Inc()
			return false, 0, nil
		}
	}

	_, err = p.cb.Execute(func() (interface{}, error) {
		return nil, p.deliverer.Deliver(ctx, j)
	})
	switch {
	case errors.Is(err, ErrNoRecipient), errors.Is(err, ErrNoChannels):
		l.Info().Err(err).Msg("notification not deliverable, dropping")
		metrics.NotificationsProcessed.WithLabelValues(j.Kind, "undeliverable").Inc()
		return false, 0, nil
	case err != nil:
		if errors.Is(err, gobreaker.ErrOpenState) {
			l.Warn().Msg("circuit breaker is open; skipping delivery")
		}
		if msg.Attempt+1 >= p.maxAttempts {
			metrics.NotificationsProcessed.WithLabelValues(j.Kind, "exhausted").Inc()
			return false, 0, fmt.Errorf("giving up after %d attempts: %w", msg.Attempt+1, err)
		}
		metrics.NotificationsProcessed.WithLabelValues(j.Kind, "retry").Inc()
		return true, backoff(msg.Attempt + 1), err
	}

	metrics.NotificationsProcessed.WithLabelValues(j.Kind, "delivered").Inc()
	if j.Kind == KindLate && j.EventID != "" {
		if err := p.events.MarkNotified(ctx, j.EventID); err != nil {
			// Delivered already; a retry would notify twice.
			l.Error().Err(err).Str("event_id", j.EventID).Msg("mark notified failed")
		}
	}
	return false, 0, nil
}

// backoff grows exponentially with each attempt, capped at one hour.
func backoff(attempt int) time.Duration {
	secs := math.Pow(2, float64(attempt)) * 10
	if secs > 3600 {
		secs = 3600
	}
	return time.Duration(secs) * time.Second
}
