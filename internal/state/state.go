// Package state holds the canonical in-memory snapshot of one session and
// the load pass that builds it from the store.
package state

import (
	"sort"
	"time"

	"momentum/internal/domain"
	"momentum/internal/habit"
)

type Filter string

const (
	FilterAll       Filter = "all"
	FilterActive    Filter = "active"
	FilterCompleted Filter = "completed"
	FilterDeep      Filter = "deep"
)

func (f Filter) Valid() bool {
	switch f {
	case FilterAll, FilterActive, FilterCompleted, FilterDeep:
		return true
	}
	return false
}

type State struct {
	Tasks       []domain.Task         `json:"tasks"`
	Goals       []domain.Goal         `json:"goals"`
	Habits      []domain.Habit        `json:"habits"`
	Skills      []domain.Skill        `json:"skills"`
	History     []domain.PatternEntry `json:"history"`
	TasksFilter Filter                `json:"tasks_filter" enum:"all,active,completed,deep"`
	User        domain.UserStats      `json:"user"`
}

func New() *State {
	return &State{
		Tasks:       []domain.Task{},
		Goals:       []domain.Goal{},
		Habits:      []domain.Habit{},
		Skills:      []domain.Skill{},
		History:     []domain.PatternEntry{},
		TasksFilter: FilterAll,
		User:        domain.UserStats{Level: 1},
	}
}

// Clone returns a deep copy safe to hand outside the dispatcher.
func (s *State) Clone() State {
	out := *s
	out.Tasks = append([]domain.Task{}, s.Tasks...)
	out.Goals = make([]domain.Goal, len(s.Goals))
	for i, g := range s.Goals {
		if g.ParentID != nil {
			p := *g.ParentID
			g.ParentID = &p
		}
		out.Goals[i] = g
	}
	out.Habits = make([]domain.Habit, len(s.Habits))
	for i, h := range s.Habits {
		h.History = append([]string{}, h.History...)
		out.Habits[i] = h
	}
	out.Skills = append([]domain.Skill{}, s.Skills...)
	out.History = make([]domain.PatternEntry, len(s.History))
	for i, p := range s.History {
		if p.Hour != nil {
			v := *p.Hour
			p.Hour = &v
		}
		if p.Day != nil {
			v := *p.Day
			p.Day = &v
		}
		out.History[i] = p
	}
	return out
}

func (s *State) TaskIndex(id string) int {
	for i := range s.Tasks {
		if s.Tasks[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *State) GoalIndex(id string) int {
	for i := range s.Goals {
		if s.Goals[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *State) HabitIndex(id string) int {
	for i := range s.Habits {
		if s.Habits[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *State) Skill(id string) (domain.Skill, bool) {
	for _, sk := range s.Skills {
		if sk.ID == id {
			return sk, true
		}
	}
	return domain.Skill{}, false
}

// PendingCounts returns the number of open tasks and how many of them need
// high energy.
func (s *State) PendingCounts() (pending, highEnergy int) {
	for _, t := range s.Tasks {
		if t.Status == domain.TaskDone {
			continue
		}
		pending++
		if t.Energy == domain.EnergyHigh {
			highEnergy++
		}
	}
	return pending, highEnergy
}

// FilterTasks returns the tasks visible under f. Unknown filters show all.
func (s *State) FilterTasks(f Filter) []domain.Task {
	out := []domain.Task{}
	for _, t := range s.Tasks {
		switch f {
		case FilterActive:
			if t.Status == domain.TaskDone {
				continue
			}
		case FilterCompleted:
			if t.Status != domain.TaskDone {
				continue
			}
		case FilterDeep:
			if t.Type != domain.TaskDeep {
				continue
			}
		}
		out = append(out, t)
	}
	return out
}

type DayCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

type Analytics struct {
	TotalTasks     int        `json:"total_tasks"`
	CompletedTasks int        `json:"completed_tasks"`
	CompletionRate int        `json:"completion_rate"`
	Trend          []DayCount `json:"trend"`
}

// Analytics computes the completion rate in whole percent and the number of
// history entries per calendar day for the seven days ending today.
func (s *State) Analytics(now time.Time, loc *time.Location) Analytics {
	a := Analytics{TotalTasks: len(s.Tasks)}
	for _, t := range s.Tasks {
		if t.Status == domain.TaskDone {
			a.CompletedTasks++
		}
	}
	if a.TotalTasks > 0 {
		a.CompletionRate = (a.CompletedTasks*200 + a.TotalTasks) / (2 * a.TotalTasks)
	}

	perDay := map[string]int{}
	for _, p := range s.History {
		ts, err := time.Parse(time.RFC3339Nano, p.Timestamp)
		if err != nil {
			continue
		}
		perDay[habit.Date(ts, loc)]++
	}
	today := habit.Date(now, loc)
	days := make([]string, 0, 7)
	for d, i := today, 0; i < 7; i++ {
		days = append(days, d)
		d = habit.Yesterday(d)
	}
	for i := len(days) - 1; i >= 0; i-- {
		a.Trend = append(a.Trend, DayCount{Date: days[i], Count: perDay[days[i]]})
	}
	return a
}

func sortByCreated[T any](items []T, created func(T) string, id func(T) string) {
	sort.SliceStable(items, func(i, j int) bool {
		ci, cj := created(items[i]), created(items[j])
		if ci != cj {
			return ci < cj
		}
		return id(items[i]) < id(items[j])
	})
}
