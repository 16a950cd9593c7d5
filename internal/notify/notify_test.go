package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"firebase.google.com/go/v4/messaging"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"

	"marcaje/internal/attendance"
	"marcaje/internal/queue"
)

type fakeDialer struct {
	sent []*gomail.Message
	err  error
}

func (f *fakeDialer) DialAndSend(m ...*gomail.Message) error {
	f.sent = append(f.sent, m...)
	return f.err
}

type fakePush struct {
	sent []*messaging.Message
	err  error
}

func (f *fakePush) Send(_ context.Context, m *messaging.Message) (string, error) {
	f.sent = append(f.sent, m)
	return "projects/x/messages/1", f.err
}

type fakeSES struct {
	in []*ses.SendEmailInput
}

func (f *fakeSES) SendEmail(_ context.Context, in *ses.SendEmailInput, _ ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	f.in = append(f.in, in)
	return &ses.SendEmailOutput{MessageId: aws.String("ses-1")}, nil
}

var lateJob = Job{
	Kind: KindLate, EventID: "e1", UserID: "u1", Name: "Ana Rojas",
	Email: "ana@example.com", PushToken: "tok", Date: "2024-07-01", Time: "08:20:00", MinutesLate: 5,
}

func TestChannels(t *testing.T) {
	ctx := context.Background()

	d := &fakeDialer{}
	require.NoError(t, NewEmailChannel(d, "noreply@example.com").Deliver(ctx, lateJob))
	require.Len(t, d.sent, 1)
	assert.Equal(t, []string{"ana@example.com"}, d.sent[0].GetHeader("To"))

	p := &fakePush{}
	require.NoError(t, NewPushChannel(p).Deliver(ctx, lateJob))
	require.Len(t, p.sent, 1)
	assert.Equal(t, "tok", p.sent[0].Token)
	assert.Equal(t, "e1", p.sent[0].Data["event_id"])

	s := &fakeSES{}
	require.NoError(t, NewSESChannel(s, "rrhh@example.com").Deliver(ctx, lateJob))
	require.Len(t, s.in, 1)
	assert.Equal(t, "rrhh@example.com", aws.ToString(s.in[0].Source))
	assert.Contains(t, aws.ToString(s.in[0].Message.Body.Text.Data), "5 minutos")

	noAddr := lateJob
	noAddr.Email, noAddr.PushToken = "", ""
	assert.ErrorIs(t, NewEmailChannel(d, "x").Deliver(ctx, noAddr), ErrNoRecipient)
	assert.ErrorIs(t, NewPushChannel(p).Deliver(ctx, noAddr), ErrNoRecipient)
	assert.ErrorIs(t, NewSESChannel(s, "x").Deliver(ctx, noAddr), ErrNoRecipient)
}

func TestRelay(t *testing.T) {
	ctx := context.Background()
	broken := &fakeDialer{err: errors.New("smtp 421")}
	push := &fakePush{}

	r := NewRelay(NewEmailChannel(broken, "x"), NewPushChannel(push))
	assert.Equal(t, []string{"email", "push"}, r.Channels())
	assert.NoError(t, r.Deliver(ctx, lateJob), "push succeeded")

	onlyEmail := lateJob
	onlyEmail.PushToken = ""
	err := r.Deliver(ctx, onlyEmail)
	assert.ErrorContains(t, err, "smtp 421")

	nobody := lateJob
	nobody.Email, nobody.PushToken = "", ""
	assert.ErrorIs(t, r.Deliver(ctx, nobody), ErrNoRecipient)

	assert.ErrorIs(t, NewRelay().Deliver(ctx, lateJob), ErrNoChannels)
}

type fakeEvents struct {
	mu     sync.Mutex
	events map[string]attendance.Event
	marked []string
	getErr error
}

func (f *fakeEvents) GetEvent(_ context.Context, id string) (attendance.Event, error) {
	if f.getErr != nil {
		return attendance.Event{}, f.getErr
	}
	evt, ok := f.events[id]
	if !ok {
		return attendance.Event{}, attendance.ErrNotFound
	}
	return evt, nil
}

func (f *fakeEvents) MarkNotified(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marked = append(f.marked, id)
	return nil
}

type fakeDeliverer struct{ err error }

func (f fakeDeliverer) Deliver(context.Context, Job) error { return f.err }

func message(t *testing.T, j Job, attempt int) queue.Message {
	t.Helper()
	msg, err := j.Message()
	require.NoError(t, err)
	msg.Attempt = attempt
	return msg
}

func TestProcessorMarksLateEventNotified(t *testing.T) {
	events := &fakeEvents{events: map[string]attendance.Event{"e1": {ID: "e1", Status: attendance.StatusLate}}}
	p := NewProcessor(events, fakeDeliverer{}, 3)

	retry, _, err := p.Process(context.Background(), message(t, lateJob, 0))
	require.NoError(t, err)
	assert.False(t, retry)
	assert.Equal(t, []string{"e1"}, events.marked)
}

func TestProcessorSkipsAlreadyNotified(t *testing.T) {
	events := &fakeEvents{events: map[string]attendance.Event{"e1": {ID: "e1", NotificationSent: true}}}
	p := NewProcessor(events, fakeDeliverer{err: errors.New("must not be called")}, 3)

	retry, _, err := p.Process(context.Background(), message(t, lateJob, 0))
	require.NoError(t, err)
	assert.False(t, retry)
	assert.Empty(t, events.marked)
}

func TestProcessorRetriesWithBackoff(t *testing.T) {
	events := &fakeEvents{events: map[string]attendance.Event{"e1": {ID: "e1"}}}
	p := NewProcessor(events, fakeDeliverer{err: errors.New("timeout")}, 3)

	retry, delay, err := p.Process(context.Background(), message(t, lateJob, 0))
	assert.Error(t, err)
	assert.True(t, retry)
	assert.Equal(t, 20*time.Second, delay)

	retry, _, err = p.Process(context.Background(), message(t, lateJob, 2))
	assert.ErrorContains(t, err, "giving up after 3 attempts")
	assert.False(t, retry)
	assert.Empty(t, events.marked)
}

func TestProcessorDropsMalformedAndUndeliverable(t *testing.T) {
	p := NewProcessor(&fakeEvents{}, fakeDeliverer{err: ErrNoRecipient}, 3)

	retry, _, err := p.Process(context.Background(), queue.Message{Type: "late", Body: []byte("{")})
	assert.Error(t, err)
	assert.False(t, retry)

	absent := AbsentJob(attendance.User{ID: "u2", FirstName: "Luis"}, "2024-07-01")
	retry, _, err = p.Process(context.Background(), message(t, absent, 0))
	assert.NoError(t, err)
	assert.False(t, retry)

	retry, _, err = p.Process(context.Background(), message(t, lateJob, 0))
	assert.ErrorIs(t, err, attendance.ErrNotFound, "event was deleted")
	assert.False(t, retry)
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, 10*time.Second, backoff(0))
	assert.Equal(t, 80*time.Second, backoff(3))
	assert.Equal(t, time.Hour, backoff(12))
}

func TestEnqueuer(t *testing.T) {
	ctx := context.Background()
	q := queue.NewInMemory(4)
	e := NewEnqueuer(q)
	u := attendance.User{ID: "u1", FirstName: "Ana", Email: "ana@example.com"}

	require.NoError(t, e.NotifyLate(ctx, u, attendance.Event{ID: "e1", Date: "2024-07-01", Time: "08:20:00", MinutesLate: 5}))
	require.NoError(t, e.NotifyAbsent(ctx, u, "2024-07-02"))
	assert.Equal(t, 2, q.Len())

	cctx, cancel := context.WithCancel(ctx)
	defer cancel()
	ch, err := q.Consume(cctx)
	require.NoError(t, err)

	first := <-ch
	j, err := DecodeJob(first)
	require.NoError(t, err)
	assert.Equal(t, KindLate, first.Type)
	assert.Equal(t, "e1", j.EventID)
	assert.Equal(t, 5, j.MinutesLate)

	second := <-ch
	j, err = DecodeJob(second)
	require.NoError(t, err)
	assert.Equal(t, KindAbsent, j.Kind)
	assert.Equal(t, "2024-07-02", j.Date)
}

type fakeAbsence struct {
	dates []string
}

func (f *fakeAbsence) NotifyAbsences(_ context.Context, date string) (int, error) {
	f.dates = append(f.dates, date)
	return 2, nil
}

func (f *fakeAbsence) Today() string { return "2024-07-01" }

func TestSweep(t *testing.T) {
	svc := &fakeAbsence{}
	s, err := NewSweep(svc, "0 11 * * 1-5", time.UTC)
	require.NoError(t, err)
	s.Run(context.Background())
	assert.Equal(t, []string{"2024-07-01"}, svc.dates)

	_, err = NewSweep(svc, "every tuesday", time.UTC)
	assert.Error(t, err)
}
