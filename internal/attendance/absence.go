package attendance

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// AbsentUsers lists active users whose active schedule covers date's weekday
// and who have no entry event on date ("YYYY-MM-DD").
//
// Event dates are local to each establishment while date is a single
// calendar day, usually Today in the default location. Establishments in
// other zones are checked against that same date, so a sweep run close to
// midnight can look at a day that has not started, or has already ended,
// where they are.
func (s *Service) AbsentUsers(ctx context.Context, date string) ([]User, error) {
	day, err := time.Parse(DateLayout, date)
	if err != nil {
		return nil, fmt.Errorf("%w: date %q: %v", ErrValidation, date, err)
	}

	schedules, err := s.repo.ListSchedules(ctx)
	if err != nil {
		return nil, err
	}
	working := map[string]bool{}
	for _, sched := range schedules {
		if sched.Active && sched.WorksOn(day.Weekday()) {
			working[sched.ID] = true
		}
	}
	if len(working) == 0 {
		return []User{}, nil
	}

	users, err := s.repo.ListUsers(ctx, UserFilter{ActiveOnly: true})
	if err != nil {
		return nil, err
	}
	entries, err := s.repo.ListEvents(ctx, EventFilter{Type: EventEntry, From: date, To: date})
	if err != nil {
		return nil, err
	}
	present := make(map[string]bool, len(entries))
	for _, evt := range entries {
		present[evt.UserID] = true
	}

	absent := []User{}
	for _, u := range users {
		if working[u.ScheduleID] && !present[u.ID] {
			absent = append(absent, u)
		}
	}
	return absent, nil
}

// NotifyAbsences enqueues an absence notification for every absent user on
// date and returns how many were enqueued. Individual failures are logged.
func (s *Service) NotifyAbsences(ctx context.Context, date string) (int, error) {
	if s.opts.Notifier == nil {
		return 0, nil
	}
	absent, err := s.AbsentUsers(ctx, date)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, u := range absent {
		if err := s.opts.Notifier.NotifyAbsent(ctx, u, date); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("user_id", u.ID).Msg("enqueue absence notification")
			continue
		}
		sent++
	}
	return sent, nil
}

// Today returns the current date in the default location, not in any
// establishment's own timezone.
func (s *Service) Today() string {
	return s.opts.Now().In(s.opts.DefaultLocation).Format(DateLayout)
}
