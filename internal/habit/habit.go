package habit

import (
	"time"

	"momentum/internal/domain"
)

// DateLayout is the calendar-date format stored in habit history.
const DateLayout = "2006-01-02"

const (
	MaxStability = 100
	baseGain     = 10
	streakBonus  = 5
	bonusAfter   = 3
	decayPenalty = 10
)

// Date formats t as a calendar date in loc.
func Date(t time.Time, loc *time.Location) string {
	if loc != nil {
		t = t.In(loc)
	}
	return t.Format(DateLayout)
}

// Yesterday returns the calendar date before day, or "" if day is malformed.
func Yesterday(day string) string {
	d, err := time.Parse(DateLayout, day)
	if err != nil {
		return ""
	}
	return d.AddDate(0, 0, -1).Format(DateLayout)
}

// Gain is the stability increase for a check-in that brings the streak to
// streak.
func Gain(streak int) int {
	if streak > bonusAfter {
		return baseGain + streakBonus
	}
	return baseGain
}

// CheckIn records today on h. It returns ok=false and h unchanged when
// today is already in the history.
func CheckIn(h domain.Habit, today string) (domain.Habit, int, bool) {
	if h.CheckedOn(today) {
		return h, 0, false
	}
	h.History = append(append([]string(nil), h.History...), today)
	h.Streak++
	gain := Gain(h.Streak)
	h.Stability += gain
	if h.Stability > MaxStability {
		h.Stability = MaxStability
	}
	return h, gain, true
}

// Decay drops the streak of a habit last checked in before yesterday and
// takes 10 stability points. It is applied once per load, never per elapsed
// day. Habits with no history are left alone. The bool reports whether h
// changed.
func Decay(h domain.Habit, today string) (domain.Habit, bool) {
	last := h.LastCheckIn()
	if last == "" || last == today || last == Yesterday(today) || h.Streak <= 0 {
		return h, false
	}
	h.Streak = 0
	h.Stability -= decayPenalty
	if h.Stability < 0 {
		h.Stability = 0
	}
	return h, true
}
