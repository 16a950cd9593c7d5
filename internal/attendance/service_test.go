package attendance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNotifier struct {
	mu     sync.Mutex
	late   []Event
	absent []string
	err    error
}

func (f *fakeNotifier) NotifyLate(_ context.Context, _ User, evt Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.late = append(f.late, evt)
	return f.err
}

func (f *fakeNotifier) NotifyAbsent(_ context.Context, u User, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.absent = append(f.absent, u.ID)
	return f.err
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	events []Event
	block  chan struct{}
}

func (f *fakeBroadcaster) Broadcast(ctx context.Context, evt Event) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, evt)
	return errors.New("subscriber gone")
}

type fakeFace struct {
	match    FaceMatch
	err      error
	enrolled []string
}

func (f *fakeFace) Recognize(context.Context, []byte, string) (FaceMatch, error) {
	return f.match, f.err
}

func (f *fakeFace) Enroll(_ context.Context, userID string, _ []byte, _ string) error {
	f.enrolled = append(f.enrolled, userID)
	return f.err
}

type fakePhotos struct{ url string }

func (f fakePhotos) UploadPhoto(context.Context, []byte, string) (string, error) {
	return f.url, nil
}

type fixture struct {
	repo     *MemoryRepository
	svc      *Service
	notifier *fakeNotifier
	bc       *fakeBroadcaster
	face     *fakeFace
	now      time.Time
	user     User
	sched    Schedule
}

// newFixture seeds one establishment in Santiago, an 08:00 schedule with a
// 15 minute tolerance and one active user.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		repo:     NewMemoryRepository(),
		notifier: &fakeNotifier{},
		bc:       &fakeBroadcaster{},
		face:     &fakeFace{},
	}
	est, err := f.repo.CreateEstablishment(ctx, Establishment{Name: "HQ", Timezone: "America/Santiago", Active: true})
	require.NoError(t, err)
	f.sched, err = f.repo.CreateSchedule(ctx, Schedule{
		Name: "Morning", EntryTime: "08:00", ExitTime: "17:00", ToleranceMinutes: 15,
		WorkDays: []int{1, 2, 3, 4, 5}, Active: true,
	})
	require.NoError(t, err)
	f.user, err = f.repo.CreateUser(ctx, User{
		Document: "11.111.111-1", FirstName: "Ana", LastName: "Rojas",
		ScheduleID: f.sched.ID, EstablishmentID: est.ID, Active: true,
	})
	require.NoError(t, err)

	f.svc = NewService(f.repo, Options{
		MinConfidence: 0.8,
		Notifier:      f.notifier,
		Broadcaster:   f.bc,
		Face:          f.face,
		Photos:        fakePhotos{url: "https://cdn.example/ana.jpg"},
		Now:           func() time.Time { return f.now },
	})
	return f
}

// at returns a UTC instant whose Santiago wall clock is hh:mm on 2024-07-01,
// a Monday in Chilean winter time (UTC-4).
func at(hh, mm int) time.Time {
	return time.Date(2024, 7, 1, hh+4, mm, 0, 0, time.UTC)
}

func TestRegisterScanLateEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	evt, err := f.svc.RegisterScan(ctx, Scan{UserID: f.user.ID, Type: EventEntry, DeviceID: "kiosk-1", At: at(8, 20)})
	require.NoError(t, err)
	assert.Equal(t, StatusLate, evt.Status)
	assert.Equal(t, 5, evt.MinutesLate)
	assert.Equal(t, "2024-07-01", evt.Date)
	assert.Equal(t, "08:20:00", evt.Time)
	assert.False(t, evt.NotificationSent)

	require.NoError(t, f.svc.Drain(ctx))
	assert.Len(t, f.notifier.late, 1)
	assert.Len(t, f.bc.events, 1, "broadcast failures are swallowed")

	stored, err := f.repo.GetEvent(ctx, evt.ID)
	require.NoError(t, err)
	assert.Equal(t, evt.Status, stored.Status)
}

func TestRegisterScanOnTimeDoesNotNotify(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	evt, err := f.svc.RegisterScan(ctx, Scan{UserID: f.user.ID, Type: EventEntry, At: at(7, 50)})
	require.NoError(t, err)
	assert.Equal(t, StatusOnTime, evt.Status)

	require.NoError(t, f.svc.Drain(ctx))
	assert.Empty(t, f.notifier.late)
	assert.Len(t, f.bc.events, 1)
}

func TestRegisterScanExitSkipsClassifier(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// The schedule is irrelevant for exits, even a missing one.
	u := f.user
	u.ScheduleID = ""
	_, err := f.repo.UpdateUser(ctx, u)
	require.NoError(t, err)

	evt, err := f.svc.RegisterScan(ctx, Scan{UserID: f.user.ID, Type: EventExit, At: at(3, 0)})
	require.NoError(t, err)
	assert.Equal(t, StatusOnTime, evt.Status)
	assert.Zero(t, evt.MinutesLate)
}

func TestRegisterScanDedup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.RegisterScan(ctx, Scan{UserID: f.user.ID, Type: EventEntry, At: at(8, 0)})
	require.NoError(t, err)
	again, err := f.svc.RegisterScan(ctx, Scan{UserID: f.user.ID, Type: EventEntry, At: at(8, 0).Add(30 * time.Second)})
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	exit, err := f.svc.RegisterScan(ctx, Scan{UserID: f.user.ID, Type: EventExit, At: at(8, 0).Add(40 * time.Second)})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, exit.ID)

	later, err := f.svc.RegisterScan(ctx, Scan{UserID: f.user.ID, Type: EventEntry, At: at(8, 5)})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, later.ID)
}

func TestRegisterScanErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.RegisterScan(ctx, Scan{UserID: "", Type: EventEntry})
	assert.ErrorIs(t, err, ErrInvalidScan)

	_, err = f.svc.RegisterScan(ctx, Scan{UserID: f.user.ID, Type: "lunch"})
	assert.ErrorIs(t, err, ErrInvalidScan)

	_, err = f.svc.RegisterScan(ctx, Scan{UserID: "ghost", Type: EventEntry})
	assert.ErrorIs(t, err, ErrNotFound)

	sched := f.sched
	sched.Active = false
	_, err = f.repo.UpdateSchedule(ctx, sched)
	require.NoError(t, err)
	_, err = f.svc.RegisterScan(ctx, Scan{UserID: f.user.ID, Type: EventEntry, At: at(8, 0)})
	assert.ErrorIs(t, err, ErrNoActiveSchedule)

	u := f.user
	u.Active = false
	_, err = f.repo.UpdateUser(ctx, u)
	require.NoError(t, err)
	_, err = f.svc.RegisterScan(ctx, Scan{UserID: f.user.ID, Type: EventEntry, At: at(8, 0)})
	assert.ErrorIs(t, err, ErrUserInactive)
}

// failingInserts is a MemoryRepository that cannot store events.
type failingInserts struct {
	*MemoryRepository
}

func (failingInserts) InsertEvent(context.Context, Event) (Event, error) {
	return Event{}, errors.New("disk full")
}

func TestRegisterScanPersistFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := NewService(failingInserts{f.repo}, Options{
		Notifier:    f.notifier,
		Broadcaster: f.bc,
		Now:         func() time.Time { return f.now },
	})

	_, err := svc.RegisterScan(ctx, Scan{UserID: f.user.ID, Type: EventEntry, At: at(8, 40)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	require.NoError(t, svc.Drain(ctx))
	assert.Empty(t, f.notifier.late)
	assert.Empty(t, f.bc.events)

	events, err := f.repo.ListEvents(ctx, EventFilter{})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestScheduleUpdateIsNotRetroactive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	evt, err := f.svc.RegisterScan(ctx, Scan{UserID: f.user.ID, Type: EventEntry, At: at(8, 20)})
	require.NoError(t, err)
	require.Equal(t, StatusLate, evt.Status)

	sched := f.sched
	sched.EntryTime = "09:00"
	_, err = f.svc.UpdateSchedule(ctx, sched)
	require.NoError(t, err)

	stored, err := f.svc.GetEvent(ctx, evt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusLate, stored.Status)
	assert.Equal(t, 5, stored.MinutesLate)

	// New scans use the updated schedule.
	next, err := f.svc.RegisterScan(ctx, Scan{UserID: f.user.ID, Type: EventEntry, At: at(9, 10).AddDate(0, 0, 1)})
	require.NoError(t, err)
	assert.Equal(t, StatusOnTime, next.Status)
	require.NoError(t, f.svc.Drain(ctx))
}

func TestTodayUsesDefaultLocation(t *testing.T) {
	f := newFixture(t)
	loc, err := time.LoadLocation("America/Santiago")
	require.NoError(t, err)
	svc := NewService(f.repo, Options{
		DefaultLocation: loc,
		Now:             func() time.Time { return time.Date(2024, 7, 2, 2, 30, 0, 0, time.UTC) },
	})
	// 02:30 UTC is still the previous evening in Santiago.
	assert.Equal(t, "2024-07-01", svc.Today())
}

func TestRegisterScanDoesNotWaitForSideEffects(t *testing.T) {
	f := newFixture(t)
	f.bc.block = make(chan struct{})
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := f.svc.RegisterScan(ctx, Scan{UserID: f.user.ID, Type: EventEntry, At: at(8, 0)})
		assert.NoError(t, err)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RegisterScan blocked on broadcast")
	}

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, f.svc.Drain(short), context.DeadlineExceeded)

	close(f.bc.block)
	require.NoError(t, f.svc.Drain(ctx))
}

func TestRecognizeScan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.now = at(8, 10)

	f.face.match = FaceMatch{Matched: true, UserID: f.user.ID, Confidence: 0.93}
	evt, err := f.svc.RecognizeScan(ctx, []byte("jpeg"), "a.jpg", EventEntry, "kiosk-2")
	require.NoError(t, err)
	require.NotNil(t, evt.Confidence)
	assert.InDelta(t, 0.93, *evt.Confidence, 1e-9)
	assert.Equal(t, "kiosk-2", evt.DeviceID)
	assert.Equal(t, StatusOnTime, evt.Status)

	f.face.match = FaceMatch{Matched: true, UserID: f.user.ID, Confidence: 0.5}
	_, err = f.svc.RecognizeScan(ctx, []byte("jpeg"), "a.jpg", EventExit, "kiosk-2")
	assert.ErrorIs(t, err, ErrNotRecognized)

	f.face.match = FaceMatch{}
	_, err = f.svc.RecognizeScan(ctx, []byte("jpeg"), "a.jpg", EventExit, "kiosk-2")
	assert.ErrorIs(t, err, ErrNotRecognized)

	f.face.err = errors.New("connection refused")
	_, err = f.svc.RecognizeScan(ctx, []byte("jpeg"), "a.jpg", EventExit, "kiosk-2")
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestEnrollFace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u, err := f.svc.EnrollFace(ctx, f.user.ID, []byte("jpeg"), "ana.jpg")
	require.NoError(t, err)
	assert.True(t, u.FaceTrained)
	assert.Equal(t, "https://cdn.example/ana.jpg", u.PhotoURL)
	assert.Equal(t, []string{f.user.ID}, f.face.enrolled)

	_, err = f.svc.EnrollFace(ctx, "ghost", []byte("jpeg"), "x.jpg")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStatsAndAbsence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	other, err := f.svc.CreateUser(ctx, User{Document: "22.222.222-2", FirstName: "Luis", ScheduleID: f.sched.ID, Active: true})
	require.NoError(t, err)

	_, err = f.svc.RegisterScan(ctx, Scan{UserID: f.user.ID, Type: EventEntry, At: at(8, 45)})
	require.NoError(t, err)
	_, err = f.svc.RegisterScan(ctx, Scan{UserID: f.user.ID, Type: EventExit, At: at(17, 0)})
	require.NoError(t, err)
	require.NoError(t, f.svc.Drain(ctx))

	st, err := f.svc.Stats(ctx, EventFilter{From: "2024-07-01", To: "2024-07-01"})
	require.NoError(t, err)
	assert.Equal(t, 2, st.Total)
	assert.Equal(t, 1, st.Entries)
	assert.Equal(t, 1, st.Exits)
	assert.Equal(t, 1, st.Late)
	assert.Equal(t, 30, st.TotalMinutesLate)
	assert.InDelta(t, 30.0, st.AvgMinutesLate, 1e-9)

	absent, err := f.svc.AbsentUsers(ctx, "2024-07-01")
	require.NoError(t, err)
	require.Len(t, absent, 1)
	assert.Equal(t, other.ID, absent[0].ID)

	// Sunday is not a work day.
	absent, err = f.svc.AbsentUsers(ctx, "2024-06-30")
	require.NoError(t, err)
	assert.Empty(t, absent)

	n, err := f.svc.NotifyAbsences(ctx, "2024-07-01")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{other.ID}, f.notifier.absent)

	_, err = f.svc.AbsentUsers(ctx, "01/07/2024")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestSummarize(t *testing.T) {
	events := []Event{
		{UserID: "a", Type: EventEntry, Status: StatusLate, MinutesLate: 10},
		{UserID: "a", Type: EventEntry, Status: StatusLate, MinutesLate: 4},
		{UserID: "b", Type: EventEntry, Status: StatusEarly},
		{UserID: "b", Type: EventEntry, Status: StatusOnTime},
		{UserID: "b", Type: EventExit, Status: StatusOnTime},
	}
	st := Summarize(events)
	assert.Equal(t, 5, st.Total)
	assert.Equal(t, 4, st.Entries)
	assert.Equal(t, 1, st.Exits)
	assert.Equal(t, 1, st.OnTime)
	assert.Equal(t, 2, st.Late)
	assert.Equal(t, 1, st.Early)
	assert.Equal(t, 14, st.TotalMinutesLate)
	assert.InDelta(t, 7.0, st.AvgMinutesLate, 1e-9)
	require.Len(t, st.ByUser, 2)
	assert.Equal(t, UserStats{UserID: "a", Entries: 2, Late: 2, TotalMinutesLate: 14}, st.ByUser[0])

	empty := Summarize(nil)
	assert.Zero(t, empty.AvgMinutesLate)
	assert.Empty(t, empty.ByUser)
}

func TestAdminValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateSchedule(ctx, Schedule{Name: "Night", EntryTime: "25:00", ExitTime: "06:00"})
	assert.ErrorIs(t, err, ErrValidation)

	s, err := f.svc.CreateSchedule(ctx, Schedule{Name: "Night", EntryTime: "22:00", ExitTime: "06:00", Active: true})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, s.WorkDays)

	_, err = f.svc.CreateEstablishment(ctx, Establishment{Name: "Branch", Timezone: "Mars/Olympus"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.CreateUser(ctx, User{Document: "3", FirstName: "X", ScheduleID: "missing"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.CreateUser(ctx, User{Document: f.user.Document, FirstName: "Dup"})
	assert.ErrorIs(t, err, ErrConflict)

	assert.ErrorIs(t, f.svc.DeleteSchedule(ctx, "missing"), ErrNotFound)
}
