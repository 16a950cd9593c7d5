package attendance

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("already exists")
	ErrInvalidScan      = errors.New("invalid scan")
	ErrUserInactive     = errors.New("user inactive")
	ErrNoActiveSchedule = errors.New("no active schedule")
	ErrNotRecognized    = errors.New("face not recognized")
)

// Repository persists attendance data. Lookups return ErrNotFound when the
// record does not exist.
type Repository interface {
	GetUser(ctx context.Context, id string) (User, error)
	ListUsers(ctx context.Context, f UserFilter) ([]User, error)
	CreateUser(ctx context.Context, u User) (User, error)
	UpdateUser(ctx context.Context, u User) (User, error)
	DeleteUser(ctx context.Context, id string) error
	SetFaceTrained(ctx context.Context, id string, trained bool, photoURL string) error

	GetSchedule(ctx context.Context, id string) (Schedule, error)
	ListSchedules(ctx context.Context) ([]Schedule, error)
	CreateSchedule(ctx context.Context, s Schedule) (Schedule, error)
	UpdateSchedule(ctx context.Context, s Schedule) (Schedule, error)
	DeleteSchedule(ctx context.Context, id string) error

	GetEstablishment(ctx context.Context, id string) (Establishment, error)
	ListEstablishments(ctx context.Context) ([]Establishment, error)
	CreateEstablishment(ctx context.Context, e Establishment) (Establishment, error)
	UpdateEstablishment(ctx context.Context, e Establishment) (Establishment, error)
	DeleteEstablishment(ctx context.Context, id string) error

	InsertEvent(ctx context.Context, evt Event) (Event, error)
	GetEvent(ctx context.Context, id string) (Event, error)
	// RecentEvent returns the newest event of the given type for the user
	// that occurred at or after since, or nil.
	RecentEvent(ctx context.Context, userID string, typ EventType, since time.Time) (*Event, error)
	ListEvents(ctx context.Context, f EventFilter) ([]Event, error)
	MarkNotified(ctx context.Context, id string) error

	GetAdminByEmail(ctx context.Context, email string) (Admin, error)
	UpsertAdmin(ctx context.Context, a Admin) error

	UpsertDevice(ctx context.Context, deviceID string) error
	SaveRefreshToken(ctx context.Context, subject, token string, expiresAt time.Time) error
	// RefreshTokenActive reports whether the token is stored, unrevoked and unexpired.
	RefreshTokenActive(ctx context.Context, token string) (bool, error)
	RevokeRefreshToken(ctx context.Context, token string) error

	Ping(ctx context.Context) error
}
