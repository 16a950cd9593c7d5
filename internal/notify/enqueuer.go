package notify

import (
	"context"

	"marcaje/internal/attendance"
	"marcaje/internal/queue"
)

// Enqueuer publishes notification jobs; it implements attendance.Notifier.
type Enqueuer struct {
	q queue.Queue
}

func NewEnqueuer(q queue.Queue) *Enqueuer {
	return &Enqueuer{q: q}
}

func (e *Enqueuer) NotifyLate(ctx context.Context, u attendance.User, evt attendance.Event) error {
	return e.publish(ctx, LateJob(u, evt))
}

func (e *Enqueuer) NotifyAbsent(ctx context.Context, u attendance.User, date string) error {
	return e.publish(ctx, AbsentJob(u, date))
}

func (e *Enqueuer) publish(ctx context.Context, j Job) error {
	msg, err := j.Message()
	if err != nil {
		return err
	}
	return e.q.Publish(ctx, msg)
}
