// Package engagement implements consecutive-day streak bookkeeping.
//
// A user's streak advances at most once per calendar day, on the first
// engagement write of the day. Day boundaries are local midnights in the
// configured location.
package engagement

import (
	"time"

	"github.com/charmbracelet/log"
)

// Streak is the per-user streak state as stored on the user row.
type Streak struct {
	Current        int
	Longest        int
	LastActiveDate *time.Time
	UpdatedToday   bool
}

// Touch applies one engagement event at time now and returns the next state
// plus whether anything changed. Transitions, keyed by the whole-day gap
// between now and LastActiveDate:
//
//	no LastActiveDate  -> start a streak of 1
//	gap 0, counted     -> no change
//	gap 0, not counted -> increment (first engagement since the day rolled over
//	                      with LastActiveDate still stamped today)
//	gap 1              -> increment (streak continues into a new day)
//	gap > 1            -> reset to 1 (streak broken)
//	gap < 0            -> no change; clock skew or bad data, logged as an anomaly
func Touch(s Streak, now time.Time, loc *time.Location) (Streak, bool) {
	if loc == nil {
		loc = time.UTC
	}
	now = now.In(loc)

	if s.LastActiveDate == nil {
		return stamp(s, now, 1), true
	}

	gap := daysBetween(*s.LastActiveDate, now, loc)
	switch {
	case gap < 0:
		log.Warn("Streak anomaly: last active date is in the future",
			"lastActiveDate", s.LastActiveDate, "now", now)
		return s, false
	case gap == 0 && s.UpdatedToday:
		return s, false
	case gap == 0 || gap == 1:
		return stamp(s, now, s.Current+1), true
	default:
		return stamp(s, now, 1), true
	}
}

func stamp(s Streak, now time.Time, current int) Streak {
	s.Current = current
	if current > s.Longest {
		s.Longest = current
	}
	s.UpdatedToday = true
	t := now
	s.LastActiveDate = &t
	return s
}

// daysBetween returns the number of whole calendar days from a's midnight to
// b's midnight in loc. Negative when a is after b.
func daysBetween(a, b time.Time, loc *time.Location) int {
	am := midnight(a.In(loc))
	bm := midnight(b.In(loc))
	return int(bm.Sub(am) / (24 * time.Hour))
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
