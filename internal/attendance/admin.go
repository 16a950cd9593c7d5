package attendance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrValidation marks bad admin input.
var ErrValidation = errors.New("validation failed")

func (s *Service) ListSchedules(ctx context.Context) ([]Schedule, error) {
	return s.repo.ListSchedules(ctx)
}

func (s *Service) GetSchedule(ctx context.Context, id string) (Schedule, error) {
	return s.repo.GetSchedule(ctx, id)
}

// CreateSchedule validates and stores a new schedule. A nil WorkDays slice
// becomes Monday to Friday.
func (s *Service) CreateSchedule(ctx context.Context, sched Schedule) (Schedule, error) {
	if sched.WorkDays == nil {
		sched.WorkDays = weekdays()
	}
	if err := sched.Validate(); err != nil {
		return Schedule{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return s.repo.CreateSchedule(ctx, sched)
}

// UpdateSchedule replaces an existing schedule. Past events keep the status
// they were classified with.
func (s *Service) UpdateSchedule(ctx context.Context, sched Schedule) (Schedule, error) {
	if sched.WorkDays == nil {
		sched.WorkDays = weekdays()
	}
	if err := sched.Validate(); err != nil {
		return Schedule{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return s.repo.UpdateSchedule(ctx, sched)
}

func weekdays() []int { return []int{1, 2, 3, 4, 5} }

func (s *Service) DeleteSchedule(ctx context.Context, id string) error {
	return s.repo.DeleteSchedule(ctx, id)
}

func (s *Service) ListEstablishments(ctx context.Context) ([]Establishment, error) {
	return s.repo.ListEstablishments(ctx)
}

func (s *Service) GetEstablishment(ctx context.Context, id string) (Establishment, error) {
	return s.repo.GetEstablishment(ctx, id)
}

func (s *Service) CreateEstablishment(ctx context.Context, e Establishment) (Establishment, error) {
	if err := validateEstablishment(e); err != nil {
		return Establishment{}, err
	}
	return s.repo.CreateEstablishment(ctx, e)
}

func (s *Service) UpdateEstablishment(ctx context.Context, e Establishment) (Establishment, error) {
	if err := validateEstablishment(e); err != nil {
		return Establishment{}, err
	}
	return s.repo.UpdateEstablishment(ctx, e)
}

func (s *Service) DeleteEstablishment(ctx context.Context, id string) error {
	return s.repo.DeleteEstablishment(ctx, id)
}

func validateEstablishment(e Establishment) error {
	if strings.TrimSpace(e.Name) == "" {
		return fmt.Errorf("%w: name required", ErrValidation)
	}
	if e.Timezone != "" {
		if _, err := time.LoadLocation(e.Timezone); err != nil {
			return fmt.Errorf("%w: timezone %q: %v", ErrValidation, e.Timezone, err)
		}
	}
	return nil
}

func (s *Service) ListUsers(ctx context.Context, f UserFilter) ([]User, error) {
	return s.repo.ListUsers(ctx, f)
}

func (s *Service) GetUser(ctx context.Context, id string) (User, error) {
	return s.repo.GetUser(ctx, id)
}

func (s *Service) CreateUser(ctx context.Context, u User) (User, error) {
	if err := s.validateUser(ctx, u); err != nil {
		return User{}, err
	}
	return s.repo.CreateUser(ctx, u)
}

func (s *Service) UpdateUser(ctx context.Context, u User) (User, error) {
	if err := s.validateUser(ctx, u); err != nil {
		return User{}, err
	}
	return s.repo.UpdateUser(ctx, u)
}

func (s *Service) DeleteUser(ctx context.Context, id string) error {
	return s.repo.DeleteUser(ctx, id)
}

// SetFaceTrained flips the enrolment flag without touching the photo.
func (s *Service) SetFaceTrained(ctx context.Context, id string, trained bool) error {
	return s.repo.SetFaceTrained(ctx, id, trained, "")
}

func (s *Service) validateUser(ctx context.Context, u User) error {
	if strings.TrimSpace(u.Document) == "" {
		return fmt.Errorf("%w: document required", ErrValidation)
	}
	if strings.TrimSpace(u.FirstName) == "" {
		return fmt.Errorf("%w: first_name required", ErrValidation)
	}
	if u.ScheduleID != "" {
		if _, err := s.repo.GetSchedule(ctx, u.ScheduleID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return fmt.Errorf("%w: schedule %s does not exist", ErrValidation, u.ScheduleID)
			}
			return err
		}
	}
	if u.EstablishmentID != "" {
		if _, err := s.repo.GetEstablishment(ctx, u.EstablishmentID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return fmt.Errorf("%w: establishment %s does not exist", ErrValidation, u.EstablishmentID)
			}
			return err
		}
	}
	return nil
}
