// Package suggest learns when the user is productive from the pattern log
// and turns the current context into a single suggestion.
package suggest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"momentum/internal/domain"
)

// Learnable action names.
const (
	ActionToggleTask = "TOGGLE_TASK"
	ActionCheckHabit = "CHECK_HABIT"
	ActionAddXP      = "ADD_XP"
)

const (
	BurnoutThreshold = 3
	EveningHour      = 20
	MorningHour      = 9
	BacklogThreshold = 5
)

const (
	textBurnout = "⚠️ High burnout risk detected. You have 3+ High Energy tasks. Delegate or reschedule one."
	textPeak    = "⚡ You are entering your Peak Productivity Zone. Tackle a 'Deep Work' task now!"
	textEvening = "🌙 Good evening. Review your wins for the day and plan 3 tasks for tomorrow."
	textMorning = "☀️ Early riser. Start with an 'Easy' task to build momentum."
	textBacklog = "🚀 You have %d pending tasks. Focus on the one with the highest impact."
	textDefault = "Ready to conquer your goals? Add a task to get started."
)

// PatternStore persists the pattern log.
type PatternStore interface {
	AppendPattern(ctx context.Context, p domain.PatternEntry) (domain.PatternEntry, error)
}

// Observation is what the dispatcher reports after running a handler.
type Observation struct {
	Action  string
	Payload any
	// TaskStatus is the referenced task's status after a TOGGLE_TASK, or ""
	// when the task does not exist.
	TaskStatus string
}

// Engine is not safe for concurrent use; the dispatcher serializes access.
type Engine struct {
	store    PatternStore
	loc      *time.Location
	patterns []domain.PatternEntry
	peak     *int
}

func New(store PatternStore, loc *time.Location) *Engine {
	if loc == nil {
		loc = time.Local
	}
	return &Engine{store: store, loc: loc}
}

// Reset replaces the in-memory log, typically with the log read at load
// time. The store is not touched.
func (e *Engine) Reset(patterns []domain.PatternEntry) {
	e.patterns = append([]domain.PatternEntry(nil), patterns...)
	e.Analyze()
}

func (e *Engine) Patterns() []domain.PatternEntry {
	return append([]domain.PatternEntry(nil), e.patterns...)
}

func learnable(o Observation) bool {
	switch o.Action {
	case ActionCheckHabit, ActionAddXP:
		return true
	case ActionToggleTask:
		return o.TaskStatus == domain.TaskDone
	}
	return false
}

// Learn appends an entry for o at now when the action indicates
// productivity. It returns nil, nil when o is not learnable. A failed write
// leaves the in-memory log untouched.
func (e *Engine) Learn(ctx context.Context, now time.Time, o Observation) (*domain.PatternEntry, error) {
	if !learnable(o) {
		return nil, nil
	}
	details, err := json.Marshal(o.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", o.Action, err)
	}
	local := now.In(e.loc)
	hour, day := local.Hour(), int(local.Weekday())
	entry := domain.PatternEntry{
		Type:      o.Action,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
		Hour:      &hour,
		Day:       &day,
		Details:   string(details),
	}
	entry, err = e.store.AppendPattern(ctx, entry)
	if err != nil {
		return nil, err
	}
	e.patterns = append(e.patterns, entry)
	e.Analyze()
	return &entry, nil
}

// Analyze re-derives the peak hour from TOGGLE_TASK and CHECK_HABIT
// entries. Ties go to the lowest hour.
func (e *Engine) Analyze() {
	var counts [24]int
	for _, p := range e.patterns {
		if p.Hour == nil || *p.Hour < 0 || *p.Hour > 23 {
			continue
		}
		if p.Type == ActionToggleTask || p.Type == ActionCheckHabit {
			counts[*p.Hour]++
		}
	}
	e.peak = nil
	best := 0
	for h, c := range counts {
		if c > best {
			best = c
			hour := h
			e.peak = &hour
		}
	}
}

// PeakHour returns the peak hour and whether one is known.
func (e *Engine) PeakHour() (int, bool) {
	if e.peak == nil {
		return 0, false
	}
	return *e.peak, true
}

// Suggestion evaluates the cascade; the first matching rule wins.
func (e *Engine) Suggestion(currentHour, pendingTasks, highEnergyPending int) domain.Suggestion {
	if highEnergyPending >= BurnoutThreshold {
		return domain.Suggestion{Text: textBurnout, Type: domain.SuggestionWarning}
	}
	if peak, ok := e.PeakHour(); ok && abs(peak-currentHour) <= 1 {
		return domain.Suggestion{Text: textPeak, Type: domain.SuggestionSuccess}
	}
	if currentHour >= EveningHour {
		return domain.Suggestion{Text: textEvening, Type: domain.SuggestionInfo}
	}
	if currentHour < MorningHour {
		return domain.Suggestion{Text: textMorning, Type: domain.SuggestionSuccess}
	}
	if pendingTasks > BacklogThreshold {
		return domain.Suggestion{Text: fmt.Sprintf(textBacklog, pendingTasks), Type: domain.SuggestionInfo}
	}
	return domain.Suggestion{Text: textDefault, Type: domain.SuggestionNeutral}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
