package attendance

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository keeps everything in process memory. It backs
// STORE_BACKEND=memory for local development and the package tests.
type MemoryRepository struct {
	mu             sync.RWMutex
	users          map[string]User
	schedules      map[string]Schedule
	establishments map[string]Establishment
	events         map[string]Event
	admins         map[string]Admin
	devices        map[string]time.Time
	tokens         map[string]refreshToken
}

type refreshToken struct {
	subject   string
	expiresAt time.Time
	revoked   bool
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:          make(map[string]User),
		schedules:      make(map[string]Schedule),
		establishments: make(map[string]Establishment),
		events:         make(map[string]Event),
		admins:         make(map[string]Admin),
		devices:        make(map[string]time.Time),
		tokens:         make(map[string]refreshToken),
	}
}

func (r *MemoryRepository) Ping(context.Context) error { return nil }

func (r *MemoryRepository) GetUser(_ context.Context, id string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (r *MemoryRepository) ListUsers(_ context.Context, f UserFilter) ([]User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []User{}
	for _, u := range r.users {
		if f.EstablishmentID != "" && u.EstablishmentID != f.EstablishmentID {
			continue
		}
		if f.ScheduleID != "" && u.ScheduleID != f.ScheduleID {
			continue
		}
		if f.ActiveOnly && !u.Active {
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastName != out[j].LastName {
			return out[i].LastName < out[j].LastName
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *MemoryRepository) CreateUser(_ context.Context, u User) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if _, ok := r.users[u.ID]; ok {
		return User{}, ErrConflict
	}
	for _, existing := range r.users {
		if u.Document != "" && strings.EqualFold(existing.Document, u.Document) {
			return User{}, ErrConflict
		}
	}
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	r.users[u.ID] = u
	return u, nil
}

func (r *MemoryRepository) UpdateUser(_ context.Context, u User) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.users[u.ID]
	if !ok {
		return User{}, ErrNotFound
	}
	u.CreatedAt = existing.CreatedAt
	u.UpdatedAt = time.Now().UTC()
	r.users[u.ID] = u
	return u, nil
}

func (r *MemoryRepository) DeleteUser(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[id]; !ok {
		return ErrNotFound
	}
	delete(r.users, id)
	return nil
}

func (r *MemoryRepository) SetFaceTrained(_ context.Context, id string, trained bool, photoURL string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return ErrNotFound
	}
	u.FaceTrained = trained
	if photoURL != "" {
		u.PhotoURL = photoURL
	}
	u.UpdatedAt = time.Now().UTC()
	r.users[id] = u
	return nil
}

func (r *MemoryRepository) GetSchedule(_ context.Context, id string) (Schedule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schedules[id]
	if !ok {
		return Schedule{}, ErrNotFound
	}
	return s, nil
}

func (r *MemoryRepository) ListSchedules(context.Context) ([]Schedule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Schedule, 0, len(r.schedules))
	for _, s := range r.schedules {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *MemoryRepository) CreateSchedule(_ context.Context, s Schedule) (Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if _, ok := r.schedules[s.ID]; ok {
		return Schedule{}, ErrConflict
	}
	now := time.Now().UTC()
	s.CreatedAt, s.UpdatedAt = now, now
	r.schedules[s.ID] = s
	return s, nil
}

func (r *MemoryRepository) UpdateSchedule(_ context.Context, s Schedule) (Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.schedules[s.ID]
	if !ok {
		return Schedule{}, ErrNotFound
	}
	s.CreatedAt = existing.CreatedAt
	s.UpdatedAt = time.Now().UTC()
	r.schedules[s.ID] = s
	return s, nil
}

func (r *MemoryRepository) DeleteSchedule(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.schedules[id]; !ok {
		return ErrNotFound
	}
	delete(r.schedules, id)
	return nil
}

func (r *MemoryRepository) GetEstablishment(_ context.Context, id string) (Establishment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.establishments[id]
	if !ok {
		return Establishment{}, ErrNotFound
	}
	return e, nil
}

func (r *MemoryRepository) ListEstablishments(context.Context) ([]Establishment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Establishment, 0, len(r.establishments))
	for _, e := range r.establishments {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *MemoryRepository) CreateEstablishment(_ context.Context, e Establishment) (Establishment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if _, ok := r.establishments[e.ID]; ok {
		return Establishment{}, ErrConflict
	}
	now := time.Now().UTC()
	e.CreatedAt, e.UpdatedAt = now, now
	r.establishments[e.ID] = e
	return e, nil
}

func (r *MemoryRepository) UpdateEstablishment(_ context.Context, e Establishment) (Establishment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.establishments[e.ID]
	if !ok {
		return Establishment{}, ErrNotFound
	}
	e.CreatedAt = existing.CreatedAt
	e.UpdatedAt = time.Now().UTC()
	r.establishments[e.ID] = e
	return e, nil
}

func (r *MemoryRepository) DeleteEstablishment(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.establishments[id]; !ok {
		return ErrNotFound
	}
	delete(r.establishments, id)
	return nil
}

func (r *MemoryRepository) InsertEvent(_ context.Context, evt Event) (Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if _, ok := r.events[evt.ID]; ok {
		return Event{}, ErrConflict
	}
	evt.CreatedAt = time.Now().UTC()
	r.events[evt.ID] = evt
	return evt, nil
}

func (r *MemoryRepository) GetEvent(_ context.Context, id string) (Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	evt, ok := r.events[id]
	if !ok {
		return Event{}, ErrNotFound
	}
	return evt, nil
}

func (r *MemoryRepository) RecentEvent(_ context.Context, userID string, typ EventType, since time.Time) (*Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var newest *Event
	for _, evt := range r.events {
		if evt.UserID != userID || evt.Type != typ || evt.OccurredAt.Before(since) {
			continue
		}
		if newest == nil || evt.OccurredAt.After(newest.OccurredAt) {
			e := evt
			newest = &e
		}
	}
	return newest, nil
}

func (r *MemoryRepository) ListEvents(_ context.Context, f EventFilter) ([]Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []Event{}
	for _, evt := range r.events {
		if matchEvent(evt, f) {
			out = append(out, evt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OccurredAt.After(out[j].OccurredAt) })
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return []Event{}, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func matchEvent(evt Event, f EventFilter) bool {
	switch {
	case f.UserID != "" && evt.UserID != f.UserID:
		return false
	case f.EstablishmentID != "" && evt.EstablishmentID != f.EstablishmentID:
		return false
	case f.DeviceID != "" && evt.DeviceID != f.DeviceID:
		return false
	case f.Type != "" && evt.Type != f.Type:
		return false
	case f.Status != "" && evt.Status != f.Status:
		return false
	case f.From != "" && evt.Date < f.From:
		return false
	case f.To != "" && evt.Date > f.To:
		return false
	}
	return true
}

func (r *MemoryRepository) MarkNotified(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	evt, ok := r.events[id]
	if !ok {
		return ErrNotFound
	}
	evt.NotificationSent = true
	r.events[id] = evt
	return nil
}

func (r *MemoryRepository) GetAdminByEmail(_ context.Context, email string) (Admin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.admins[strings.ToLower(email)]
	if !ok {
		return Admin{}, ErrNotFound
	}
	return a, nil
}

func (r *MemoryRepository) UpsertAdmin(_ context.Context, a Admin) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := strings.ToLower(a.Email)
	if existing, ok := r.admins[key]; ok {
		a.ID = existing.ID
		a.CreatedAt = existing.CreatedAt
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	r.admins[key] = a
	return nil
}

func (r *MemoryRepository) UpsertDevice(_ context.Context, deviceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.devices[deviceID]; !ok {
		r.devices[deviceID] = time.Now().UTC()
	}
	return nil
}

func (r *MemoryRepository) SaveRefreshToken(_ context.Context, subject, token string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[token] = refreshToken{subject: subject, expiresAt: expiresAt}
	return nil
}

func (r *MemoryRepository) RefreshTokenActive(_ context.Context, token string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tokens[token]
	return ok && !t.revoked && time.Now().Before(t.expiresAt), nil
}

func (r *MemoryRepository) RevokeRefreshToken(_ context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tokens[token]; ok {
		t.revoked = true
		r.tokens[token] = t
	}
	return nil
}
