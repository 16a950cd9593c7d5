package notify

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"marcaje/internal/attendance"
	"marcaje/internal/queue"
)

// Job kinds.
const (
	KindLate   = "late"
	KindAbsent = "absent"
)

// Job is the payload of a notification message.
type Job struct {
	Kind        string `json:"kind"`
	EventID     string `json:"event_id,omitempty"`
	UserID      string `json:"user_id"`
	Name        string `json:"name"`
	Email       string `json:"email,omitempty"`
	PushToken   string `json:"push_token,omitempty"`
	Date        string `json:"date"`
	Time        string `json:"time,omitempty"`
	MinutesLate int    `json:"minutes_late,omitempty"`
}

// LateJob builds the job for a late entry.
func LateJob(u attendance.User, evt attendance.Event) Job {
	return Job{
		Kind:        KindLate,
		EventID:     evt.ID,
		UserID:      u.ID,
		Name:        u.FullName(),
		Email:       u.Email,
		PushToken:   u.PushToken,
		Date:        evt.Date,
		Time:        evt.Time,
		MinutesLate: evt.MinutesLate,
	}
}

// AbsentJob builds the job for a missing entry on date.
func AbsentJob(u attendance.User, date string) Job {
	return Job{
		Kind:      KindAbsent,
		UserID:    u.ID,
		Name:      u.FullName(),
		Email:     u.Email,
		PushToken: u.PushToken,
		Date:      date,
	}
}

// Message wraps the job for the queue.
func (j Job) Message() (queue.Message, error) {
	body, err := json.Marshal(j)
	if err != nil {
		return queue.Message{}, err
	}
	return queue.Message{ID: uuid.NewString(), Type: j.Kind, Body: body}, nil
}

// DecodeJob parses a queued job and checks its kind.
func DecodeJob(msg queue.Message) (Job, error) {
	var j Job
	if err := json.Unmarshal(msg.Body, &j); err != nil {
		return Job{}, fmt.Errorf("decode job: %w", err)
	}
	if j.Kind != KindLate && j.Kind != KindAbsent {
		return Job{}, fmt.Errorf("unknown job kind %q", j.Kind)
	}
	return j, nil
}

// Subject is the title used by every channel.
func (j Job) Subject() string {
	if j.Kind == KindLate {
		return fmt.Sprintf("Atraso registrado: %d min", j.MinutesLate)
	}
	return "Ausencia registrada " + j.Date
}

// Text is the plain body used for push notifications.
func (j Job) Text() string {
	if j.Kind == KindLate {
		return fmt.Sprintf("%s, tu entrada del %s a las %s quedó registrada con %d minutos de atraso.",
			j.Name, j.Date, j.Time, j.MinutesLate)
	}
	return fmt.Sprintf("%s, no registramos tu entrada del %s.", j.Name, j.Date)
}

// HTML is the email body.
func (j Job) HTML() string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html><body style="font-family: Arial, sans-serif;">
<h2>%s</h2>
<p>%s</p>
<p style="color:#777;font-size:12px;">Mensaje automático del sistema de asistencia.</p>
</body></html>`, j.Subject(), j.Text())
}
