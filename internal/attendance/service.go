package attendance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"marcaje/internal/metrics"
)

// Notifier enqueues user-facing notifications.
type Notifier interface {
	NotifyLate(ctx context.Context, user User, evt Event) error
	NotifyAbsent(ctx context.Context, user User, date string) error
}

// Broadcaster pushes newly recorded events to live dashboards.
type Broadcaster interface {
	Broadcast(ctx context.Context, evt Event) error
}

// FaceMatch is the face service verdict for a photo.
type FaceMatch struct {
	Matched    bool
	UserID     string
	Confidence float64
}

// FaceRecognizer talks to the external recognition service.
type FaceRecognizer interface {
	Recognize(ctx context.Context, photo []byte, filename string) (FaceMatch, error)
	Enroll(ctx context.Context, userID string, photo []byte, filename string) error
}

// PhotoStore uploads enrolment photos and returns their public URL.
type PhotoStore interface {
	UploadPhoto(ctx context.Context, data []byte, filename string) (string, error)
}

// ErrUpstream wraps failures of the face service or photo store.
var ErrUpstream = errors.New("upstream service failed")

const sideEffectTimeout = 10 * time.Second

// Options configures a Service. Zero values get sensible defaults.
type Options struct {
	DedupWindow     time.Duration
	DefaultLocation *time.Location
	MinConfidence   float64
	Notifier        Notifier
	Broadcaster     Broadcaster
	Face            FaceRecognizer
	Photos          PhotoStore
	Now             func() time.Time
}

// Service coordinates scans, classification and the follow-up side effects.
type Service struct {
	repo Repository
	opts Options
	wg   sync.WaitGroup
}

// NewService creates a service backed by a repository.
func NewService(repo Repository, opts Options) *Service {
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = time.Minute
	}
	if opts.DefaultLocation == nil {
		opts.DefaultLocation = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{repo: repo, opts: opts}
}

// Scan is a clock-in or clock-out request from a terminal.
type Scan struct {
	UserID     string
	Type       EventType
	DeviceID   string
	Confidence *float64
	At         time.Time
}

// RegisterScan records a scan and classifies entries against the user's
// schedule. A repeated scan of the same type inside the dedup window
// returns the earlier event.
func (s *Service) RegisterScan(ctx context.Context, scan Scan) (Event, error) {
	if strings.TrimSpace(scan.UserID) == "" {
		return Event{}, fmt.Errorf("%w: user id required", ErrInvalidScan)
	}
	if !scan.Type.Valid() {
		return Event{}, fmt.Errorf("%w: type must be entry or exit", ErrInvalidScan)
	}
	if scan.At.IsZero() {
		scan.At = s.opts.Now()
	}

	user, err := s.repo.GetUser(ctx, scan.UserID)
	if err != nil {
		return Event{}, fmt.Errorf("load user %s: %w", scan.UserID, err)
	}
	if !user.Active {
		return Event{}, ErrUserInactive
	}

	local := scan.At.In(s.location(ctx, user.EstablishmentID))

	recent, err := s.repo.RecentEvent(ctx, user.ID, scan.Type, scan.At.Add(-s.opts.DedupWindow))
	if err != nil {
		return Event{}, fmt.Errorf("dedup lookup: %w", err)
	}
	if recent != nil {
		metrics.ScansDeduplicated.Inc()
		return *recent, nil
	}

	result := Result{Status: StatusOnTime}
	if scan.Type == EventEntry {
		sched, err := s.activeSchedule(ctx, user)
		if err != nil {
			return Event{}, err
		}
		entry, err := ParseClock(sched.EntryTime)
		if err != nil {
			return Event{}, fmt.Errorf("schedule %s: %w", sched.ID, err)
		}
		result = ClassifyEvent(scan.Type, entry, sched.ToleranceMinutes, ClockOf(local))
	}

	evt, err := s.repo.InsertEvent(ctx, Event{
		UserID:          user.ID,
		EstablishmentID: user.EstablishmentID,
		DeviceID:        scan.DeviceID,
		Type:            scan.Type,
		Date:            local.Format(DateLayout),
		Time:            local.Format(TimeLayout),
		Status:          result.Status,
		MinutesLate:     result.MinutesLate,
		Confidence:      scan.Confidence,
		OccurredAt:      scan.At.UTC(),
	})
	if err != nil {
		return Event{}, fmt.Errorf("persist event: %w", err)
	}
	metrics.ScansRecorded.WithLabelValues(string(evt.Type), string(evt.Status)).Inc()

	if evt.Status == StatusLate && s.opts.Notifier != nil {
		s.dispatch(ctx, "notify_late", func(ctx context.Context) error {
			return s.opts.Notifier.NotifyLate(ctx, user, evt)
		})
	}
	if s.opts.Broadcaster != nil {
		s.dispatch(ctx, "broadcast", func(ctx context.Context) error {
			return s.opts.Broadcaster.Broadcast(ctx, evt)
		})
	}
	return evt, nil
}

func (s *Service) activeSchedule(ctx context.Context, user User) (Schedule, error) {
	if user.ScheduleID == "" {
		return Schedule{}, ErrNoActiveSchedule
	}
	sched, err := s.repo.GetSchedule(ctx, user.ScheduleID)
	if errors.Is(err, ErrNotFound) {
		return Schedule{}, ErrNoActiveSchedule
	}
	if err != nil {
		return Schedule{}, fmt.Errorf("load schedule %s: %w", user.ScheduleID, err)
	}
	if !sched.Active {
		return Schedule{}, ErrNoActiveSchedule
	}
	return sched, nil
}

// location resolves the establishment timezone, falling back to the default.
func (s *Service) location(ctx context.Context, establishmentID string) *time.Location {
	if establishmentID == "" {
		return s.opts.DefaultLocation
	}
	est, err := s.repo.GetEstablishment(ctx, establishmentID)
	if err != nil || est.Timezone == "" {
		return s.opts.DefaultLocation
	}
	loc, err := time.LoadLocation(est.Timezone)
	if err != nil {
		log.Ctx(ctx).Warn().Str("timezone", est.Timezone).Err(err).Msg("unknown establishment timezone")
		return s.opts.DefaultLocation
	}
	return loc
}

// dispatch runs fn detached from the caller. Errors are logged only.
func (s *Service) dispatch(ctx context.Context, name string, fn func(context.Context) error) {
	logger := log.Ctx(ctx).With().Str("effect", name).Logger()
	base := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(base, sideEffectTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			metrics.SideEffectFailures.WithLabelValues(name).Inc()
			logger.Warn().Err(err).Msg("side effect failed")
		}
	}()
}

// Drain waits for in-flight side effects or until ctx is done.
func (s *Service) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RecognizeScan identifies the person in photo and registers the scan for them.
func (s *Service) RecognizeScan(ctx context.Context, photo []byte, filename string, typ EventType, deviceID string) (Event, error) {
	if s.opts.Face == nil {
		return Event{}, fmt.Errorf("%w: face service not configured", ErrUpstream)
	}
	if len(photo) == 0 {
		return Event{}, fmt.Errorf("%w: photo required", ErrInvalidScan)
	}
	if !typ.Valid() {
		return Event{}, fmt.Errorf("%w: type must be entry or exit", ErrInvalidScan)
	}
	match, err := s.opts.Face.Recognize(ctx, photo, filename)
	if err != nil {
		return Event{}, fmt.Errorf("%w: recognize: %v", ErrUpstream, err)
	}
	if !match.Matched || match.UserID == "" || match.Confidence < s.opts.MinConfidence {
		metrics.FaceRejected.Inc()
		return Event{}, ErrNotRecognized
	}
	confidence := match.Confidence
	return s.RegisterScan(ctx, Scan{
		UserID:     match.UserID,
		Type:       typ,
		DeviceID:   deviceID,
		Confidence: &confidence,
	})
}

// EnrollFace stores the user's reference photo and trains the face service.
func (s *Service) EnrollFace(ctx context.Context, userID string, photo []byte, filename string) (User, error) {
	if len(photo) == 0 {
		return User{}, fmt.Errorf("%w: photo required", ErrInvalidScan)
	}
	if s.opts.Face == nil {
		return User{}, fmt.Errorf("%w: face service not configured", ErrUpstream)
	}
	if _, err := s.repo.GetUser(ctx, userID); err != nil {
		return User{}, fmt.Errorf("load user %s: %w", userID, err)
	}
	var url string
	if s.opts.Photos != nil {
		u, err := s.opts.Photos.UploadPhoto(ctx, photo, filename)
		if err != nil {
			return User{}, fmt.Errorf("%w: upload photo: %v", ErrUpstream, err)
		}
		url = u
	}
	if err := s.opts.Face.Enroll(ctx, userID, photo, filename); err != nil {
		return User{}, fmt.Errorf("%w: enroll: %v", ErrUpstream, err)
	}
	if err := s.repo.SetFaceTrained(ctx, userID, true, url); err != nil {
		return User{}, err
	}
	return s.repo.GetUser(ctx, userID)
}

// ListEvents returns events matching f, newest first.
func (s *Service) ListEvents(ctx context.Context, f EventFilter) ([]Event, error) {
	return s.repo.ListEvents(ctx, f)
}

// GetEvent returns one event.
func (s *Service) GetEvent(ctx context.Context, id string) (Event, error) {
	return s.repo.GetEvent(ctx, id)
}

// MarkNotified records that the lateness notification was delivered.
func (s *Service) MarkNotified(ctx context.Context, id string) error {
	return s.repo.MarkNotified(ctx, id)
}

// RegisterDevice validates and persists device metadata.
func (s *Service) RegisterDevice(ctx context.Context, deviceID string) error {
	if strings.TrimSpace(deviceID) == "" {
		return fmt.Errorf("%w: device id required", ErrInvalidScan)
	}
	return s.repo.UpsertDevice(ctx, deviceID)
}

// Repository exposes the underlying store for token bookkeeping.
func (s *Service) Repository() Repository { return s.repo }
