package attendance

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Clock is a wall-clock time of day with no date and no timezone.
type Clock struct {
	Hour   int
	Minute int
	Second int
}

// ParseClock accepts "HH:MM" or "HH:MM:SS".
func ParseClock(s string) (Clock, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return Clock{}, fmt.Errorf("invalid time %q: want HH:MM or HH:MM:SS", s)
	}
	vals := make([]int, 3)
	limits := []int{23, 59, 59}
	for i, p := range parts {
		if len(p) != 2 || !isDigit(p[0]) || !isDigit(p[1]) {
			return Clock{}, fmt.Errorf("invalid time %q: want two digits per field", s)
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > limits[i] {
			return Clock{}, fmt.Errorf("invalid time %q", s)
		}
		vals[i] = n
	}
	return Clock{Hour: vals[0], Minute: vals[1], Second: vals[2]}, nil
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

// MustClock is ParseClock for literals known to be valid.
func MustClock(s string) Clock {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

// ClockOf returns the wall-clock part of t in t's location.
func ClockOf(t time.Time) Clock {
	return Clock{Hour: t.Hour(), Minute: t.Minute(), Second: t.Second()}
}

// Minutes returns minutes since midnight; seconds are dropped.
func (c Clock) Minutes() int {
	return c.Hour*60 + c.Minute
}

// String formats as HH:MM:SS.
func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", c.Hour, c.Minute, c.Second)
}

// HHMM formats as HH:MM.
func (c Clock) HHMM() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// ValidHHMM reports whether s is a well-formed "HH:MM" value.
func ValidHHMM(s string) bool {
	if len(s) != 5 {
		return false
	}
	_, err := ParseClock(s)
	return err == nil
}
