package state

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"momentum/internal/domain"
	"momentum/internal/gamify"
	"momentum/internal/habit"
	"momentum/internal/logger"
	"momentum/internal/repo"
	"momentum/internal/store"
)

// Load reads every collection, applies habit decay for today, and seeds
// default skills and user stats on a fresh store. A missing collection is
// logged and loaded as empty. Write failures during decay and seeding are
// logged; the returned state keeps the in-memory result.
func Load(ctx context.Context, r repo.Repo, today string, log *logger.Logger) (*State, error) {
	if log == nil {
		log = logger.Nop()
	}
	s := New()
	var (
		tasks    []domain.Task
		goals    []domain.Goal
		habits   []domain.Habit
		skills   []domain.Skill
		patterns []domain.PatternEntry
		user     domain.UserStats
		hasUser  bool
		skillsOK = true
	)

	missing := func(c store.Collection, err error) error {
		if errors.Is(err, store.ErrCollectionMissing) {
			log.Warn("collection missing, loading empty", "collection", string(c))
			return nil
		}
		return fmt.Errorf("load %s: %w", c, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		if tasks, err = r.ListTasks(gctx); err != nil {
			tasks = nil
			return missing(store.Tasks, err)
		}
		return nil
	})
	g.Go(func() (err error) {
		if goals, err = r.ListGoals(gctx); err != nil {
			goals = nil
			return missing(store.Goals, err)
		}
		return nil
	})
	g.Go(func() (err error) {
		if habits, err = r.ListHabits(gctx); err != nil {
			habits = nil
			return missing(store.Habits, err)
		}
		return nil
	})
	g.Go(func() (err error) {
		if skills, err = r.ListSkills(gctx); err != nil {
			skills, skillsOK = nil, false
			return missing(store.Skills, err)
		}
		return nil
	})
	g.Go(func() (err error) {
		if patterns, err = r.ListPatterns(gctx); err != nil {
			patterns = nil
			return missing(store.Patterns, err)
		}
		return nil
	})
	g.Go(func() error {
		u, err := r.GetUserStats(gctx)
		switch {
		case err == nil:
			user, hasUser = u, true
			return nil
		case errors.Is(err, repo.ErrNotFound):
			return nil
		default:
			return missing(store.Settings, err)
		}
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sortByCreated(tasks, func(t domain.Task) string { return t.CreatedAt }, func(t domain.Task) string { return t.ID })
	sortByCreated(goals, func(g domain.Goal) string { return g.CreatedAt }, func(g domain.Goal) string { return g.ID })
	sortByCreated(habits, func(h domain.Habit) string { return h.CreatedAt }, func(h domain.Habit) string { return h.ID })

	if tasks != nil {
		s.Tasks = tasks
	}
	if goals != nil {
		s.Goals = goals
	}
	if patterns != nil {
		s.History = patterns
	}

	decayed := 0
	for i, h := range habits {
		next, changed := habit.Decay(h, today)
		if !changed {
			continue
		}
		habits[i] = next
		decayed++
		log.Info("habit streak broken", "habit", h.ID, "title", h.Title, "stability", next.Stability)
		if err := r.UpdateHabit(ctx, next); err != nil {
			log.Warn("persist decayed habit failed", "habit", h.ID, "error", err)
		}
	}
	if habits != nil {
		s.Habits = habits
	}

	switch {
	case len(skills) > 0:
		s.Skills = skills
	case skillsOK:
		s.Skills = gamify.DefaultSkills()
		for _, sk := range s.Skills {
			if err := r.InsertSkill(ctx, sk); err != nil && !errors.Is(err, store.ErrExists) {
				log.Warn("seed skill failed", "skill", sk.ID, "error", err)
			}
		}
	}

	if hasUser {
		s.User = user
	} else {
		s.User = gamify.NewUserStats()
		if err := r.PutUserStats(ctx, s.User); err != nil {
			log.Warn("seed user stats failed", "error", err)
		}
	}

	log.Debug("state loaded",
		"tasks", len(s.Tasks), "goals", len(s.Goals), "habits", len(s.Habits),
		"skills", len(s.Skills), "history", len(s.History), "decayed", decayed)
	return s, nil
}
