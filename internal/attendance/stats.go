package attendance

import (
	"context"
	"sort"
)

// Stats aggregates a set of events.
type Stats struct {
	Total            int         `json:"total"`
	Entries          int         `json:"entries"`
	Exits            int         `json:"exits"`
	OnTime           int         `json:"on_time"`
	Late             int         `json:"late"`
	Early            int         `json:"early"`
	TotalMinutesLate int         `json:"total_minutes_late"`
	AvgMinutesLate   float64     `json:"avg_minutes_late"`
	ByUser           []UserStats `json:"by_user"`
}

// UserStats is the per-user slice of Stats.
type UserStats struct {
	UserID           string `json:"user_id"`
	Entries          int    `json:"entries"`
	Late             int    `json:"late"`
	Early            int    `json:"early"`
	TotalMinutesLate int    `json:"total_minutes_late"`
}

// Summarize computes Stats. Status counters consider entry events only,
// since exits are never classified. AvgMinutesLate is over late entries.
func Summarize(events []Event) Stats {
	st := Stats{ByUser: []UserStats{}}
	per := map[string]*UserStats{}
	for _, evt := range events {
		st.Total++
		if evt.Type == EventExit {
			st.Exits++
			continue
		}
		st.Entries++
		us, ok := per[evt.UserID]
		if !ok {
			us = &UserStats{UserID: evt.UserID}
			per[evt.UserID] = us
		}
		us.Entries++
		switch evt.Status {
		case StatusLate:
			st.Late++
			st.TotalMinutesLate += evt.MinutesLate
			us.Late++
			us.TotalMinutesLate += evt.MinutesLate
		case StatusEarly:
			st.Early++
			us.Early++
		default:
			st.OnTime++
		}
	}
	if st.Late > 0 {
		st.AvgMinutesLate = float64(st.TotalMinutesLate) / float64(st.Late)
	}
	for _, us := range per {
		st.ByUser = append(st.ByUser, *us)
	}
	sort.Slice(st.ByUser, func(i, j int) bool {
		if st.ByUser[i].TotalMinutesLate != st.ByUser[j].TotalMinutesLate {
			return st.ByUser[i].TotalMinutesLate > st.ByUser[j].TotalMinutesLate
		}
		return st.ByUser[i].UserID < st.ByUser[j].UserID
	})
	return st
}

// Stats summarizes every event matching f. Limit and Offset are ignored.
func (s *Service) Stats(ctx context.Context, f EventFilter) (Stats, error) {
	f.Limit, f.Offset = 0, 0
	events, err := s.repo.ListEvents(ctx, f)
	if err != nil {
		return Stats{}, err
	}
	return Summarize(events), nil
}
