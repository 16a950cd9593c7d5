package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// AbsenceNotifier is satisfied by *attendance.Service.
type AbsenceNotifier interface {
	NotifyAbsences(ctx context.Context, date string) (int, error)
	Today() string
}

// Sweep runs the absence check on a cron schedule.
type Sweep struct {
	svc     AbsenceNotifier
	cron    *cron.Cron
	timeout time.Duration
}

// NewSweep schedules the absence check with a standard five-field spec
// evaluated in loc.
func NewSweep(svc AbsenceNotifier, spec string, loc *time.Location) (*Sweep, error) {
	s := &Sweep{
		svc:     svc,
		cron:    cron.New(cron.WithLocation(loc)),
		timeout: 5 * time.Minute,
	}
	if _, err := s.cron.AddFunc(spec, func() { s.Run(context.Background()) }); err != nil {
		return nil, fmt.Errorf("absence cron %q: %w", spec, err)
	}
	return s, nil
}

// Run performs one sweep for today.
func (s *Sweep) Run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	date := s.svc.Today()
	n, err := s.svc.NotifyAbsences(ctx, date)
	if err != nil {
		log.Error().Err(err).Str("date", date).Msg("absence sweep failed")
		return
	}
	log.Info().Str("date", date).Int("enqueued", n).Msg("absence sweep done")
}

func (s *Sweep) Start() { s.cron.Start() }

// Stop halts scheduling and waits for a running sweep.
func (s *Sweep) Stop() {
	<-s.cron.Stop().Done()
}
