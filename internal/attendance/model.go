package attendance

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Status is the attendance classification of an event.
type Status string

const (
	StatusOnTime Status = "on-time"
	StatusLate   Status = "late"
	StatusEarly  Status = "early"
)

// EventType distinguishes clock-in from clock-out scans.
type EventType string

const (
	EventEntry EventType = "entry"
	EventExit  EventType = "exit"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	return t == EventEntry || t == EventExit
}

// DefaultToleranceMinutes applies when a schedule is created without one.
const DefaultToleranceMinutes = 15

// Date and time layouts used for the stored wall-clock fields.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04:05"
)

// Schedule is a shift template shared by many users.
type Schedule struct {
	ID               string    `json:"id" bson:"_id"`
	Name             string    `json:"name" bson:"name"`
	EntryTime        string    `json:"entry_time" bson:"entry_time"`
	ExitTime         string    `json:"exit_time" bson:"exit_time"`
	ToleranceMinutes int       `json:"tolerance_minutes" bson:"tolerance_minutes"`
	WorkDays         []int     `json:"work_days" bson:"work_days"`
	Active           bool      `json:"active" bson:"active"`
	CreatedAt        time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" bson:"updated_at"`
}

// Validate checks the fields an admin can set.
func (s Schedule) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("name required")
	}
	if !ValidHHMM(s.EntryTime) {
		return fmt.Errorf("entry_time %q must be HH:MM", s.EntryTime)
	}
	if !ValidHHMM(s.ExitTime) {
		return fmt.Errorf("exit_time %q must be HH:MM", s.ExitTime)
	}
	if s.ToleranceMinutes < 0 {
		return errors.New("tolerance_minutes must not be negative")
	}
	for _, d := range s.WorkDays {
		if d < 0 || d > 6 {
			return fmt.Errorf("work day %d out of range 0-6", d)
		}
	}
	return nil
}

// WorksOn reports whether the schedule covers the weekday.
func (s Schedule) WorksOn(day time.Weekday) bool {
	for _, d := range s.WorkDays {
		if d == int(day) {
			return true
		}
	}
	return false
}

// Establishment is a workplace; its timezone defines the wall clock of scans.
type Establishment struct {
	ID        string    `json:"id" bson:"_id"`
	Name      string    `json:"name" bson:"name"`
	Address   string    `json:"address" bson:"address"`
	Timezone  string    `json:"timezone" bson:"timezone"`
	Active    bool      `json:"active" bson:"active"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// User is an employee who clocks in at a terminal.
type User struct {
	ID              string    `json:"id" bson:"_id"`
	Document        string    `json:"document" bson:"document"`
	FirstName       string    `json:"first_name" bson:"first_name"`
	LastName        string    `json:"last_name" bson:"last_name"`
	Email           string    `json:"email" bson:"email"`
	Phone           string    `json:"phone,omitempty" bson:"phone"`
	ScheduleID      string    `json:"schedule_id,omitempty" bson:"schedule_id"`
	EstablishmentID string    `json:"establishment_id,omitempty" bson:"establishment_id"`
	FaceTrained     bool      `json:"face_trained" bson:"face_trained"`
	PhotoURL        string    `json:"photo_url,omitempty" bson:"photo_url"`
	PushToken       string    `json:"push_token,omitempty" bson:"push_token"`
	Active          bool      `json:"active" bson:"active"`
	CreatedAt       time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" bson:"updated_at"`
}

// FullName joins first and last name.
func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Event is a single clock-in or clock-out scan (a marcaje).
type Event struct {
	ID               string    `json:"id" bson:"_id"`
	UserID           string    `json:"user_id" bson:"user_id"`
	EstablishmentID  string    `json:"establishment_id,omitempty" bson:"establishment_id"`
	DeviceID         string    `json:"device_id,omitempty" bson:"device_id"`
	Type             EventType `json:"type" bson:"type"`
	Date             string    `json:"date" bson:"date"`
	Time             string    `json:"time" bson:"time"`
	Status           Status    `json:"status" bson:"status"`
	MinutesLate      int       `json:"minutes_late" bson:"minutes_late"`
	Confidence       *float64  `json:"confidence,omitempty" bson:"confidence,omitempty"`
	NotificationSent bool      `json:"notification_sent" bson:"notification_sent"`
	OccurredAt       time.Time `json:"occurred_at" bson:"occurred_at"`
	CreatedAt        time.Time `json:"created_at" bson:"created_at"`
}

// Admin is an operator of the admin UI.
type Admin struct {
	ID           string    `json:"id" bson:"_id"`
	Email        string    `json:"email" bson:"email"`
	Name         string    `json:"name" bson:"name"`
	PasswordHash string    `json:"-" bson:"password_hash"`
	CreatedAt    time.Time `json:"created_at" bson:"created_at"`
}

// EventFilter narrows ListEvents. Dates are inclusive "YYYY-MM-DD" bounds.
// A zero Limit means no limit.
type EventFilter struct {
	UserID          string
	EstablishmentID string
	DeviceID        string
	Type            EventType
	Status          Status
	From            string
	To              string
	Limit           int
	Offset          int
}

// UserFilter narrows ListUsers.
type UserFilter struct {
	EstablishmentID string
	ScheduleID      string
	ActiveOnly      bool
}

func encodeWorkDays(days []int) string {
	sorted := append([]int(nil), days...)
	sort.Ints(sorted)
	parts := make([]string, 0, len(sorted))
	for _, d := range sorted {
		parts = append(parts, strconv.Itoa(d))
	}
	return strings.Join(parts, ",")
}

func decodeWorkDays(s string) []int {
	if strings.TrimSpace(s) == "" {
		return []int{}
	}
	parts := strings.Split(s, ",")
	days := make([]int, 0, len(parts))
	for _, p := range parts {
		if d, err := strconv.Atoi(strings.TrimSpace(p)); err == nil {
			days = append(days, d)
		}
	}
	return days
}
