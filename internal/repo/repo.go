package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"momentum/internal/domain"
	"momentum/internal/store"
)

// Settings keys.
const (
	KeyUserXP      = "user_xp"
	KeyUserProfile = "user_profile"
)

var ErrNotFound = store.ErrNotFound

// Repo maps domain entities onto store collections as JSON documents.
type Repo struct {
	Store store.Store
}

func list[T any](ctx context.Context, s store.Store, c store.Collection) ([]T, error) {
	recs, err := s.GetAll(ctx, c)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(recs))
	for _, rec := range recs {
		var v T
		if err := json.Unmarshal(rec.Value, &v); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", c, rec.Key, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func get[T any](ctx context.Context, s store.Store, c store.Collection, key string) (T, error) {
	var v T
	raw, err := s.Get(ctx, c, key)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("decode %s/%s: %w", c, key, err)
	}
	return v, nil
}

func add(ctx context.Context, s store.Store, c store.Collection, key string, v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return s.Add(ctx, c, key, b)
}

func put(ctx context.Context, s store.Store, c store.Collection, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Update(ctx, c, key, b)
}

func (r Repo) ListTasks(ctx context.Context) ([]domain.Task, error) {
	return list[domain.Task](ctx, r.Store, store.Tasks)
}

func (r Repo) InsertTask(ctx context.Context, t domain.Task) error {
	_, err := add(ctx, r.Store, store.Tasks, t.ID, t)
	return err
}

func (r Repo) UpdateTask(ctx context.Context, t domain.Task) error {
	return put(ctx, r.Store, store.Tasks, t.ID, t)
}

func (r Repo) DeleteTask(ctx context.Context, id string) error {
	return r.Store.Delete(ctx, store.Tasks, id)
}

func (r Repo) ListGoals(ctx context.Context) ([]domain.Goal, error) {
	return list[domain.Goal](ctx, r.Store, store.Goals)
}

func (r Repo) InsertGoal(ctx context.Context, g domain.Goal) error {
	_, err := add(ctx, r.Store, store.Goals, g.ID, g)
	return err
}

func (r Repo) UpdateGoal(ctx context.Context, g domain.Goal) error {
	return put(ctx, r.Store, store.Goals, g.ID, g)
}

func (r Repo) ListHabits(ctx context.Context) ([]domain.Habit, error) {
	return list[domain.Habit](ctx, r.Store, store.Habits)
}

func (r Repo) InsertHabit(ctx context.Context, h domain.Habit) error {
	_, err := add(ctx, r.Store, store.Habits, h.ID, h)
	return err
}

func (r Repo) UpdateHabit(ctx context.Context, h domain.Habit) error {
	return put(ctx, r.Store, store.Habits, h.ID, h)
}

func (r Repo) ListSkills(ctx context.Context) ([]domain.Skill, error) {
	return list[domain.Skill](ctx, r.Store, store.Skills)
}

func (r Repo) InsertSkill(ctx context.Context, s domain.Skill) error {
	_, err := add(ctx, r.Store, store.Skills, s.ID, s)
	return err
}

func (r Repo) UpdateSkill(ctx context.Context, s domain.Skill) error {
	return put(ctx, r.Store, store.Skills, s.ID, s)
}

// ListPatterns returns the pattern log with IDs taken from store keys.
func (r Repo) ListPatterns(ctx context.Context) ([]domain.PatternEntry, error) {
	recs, err := r.Store.GetAll(ctx, store.Patterns)
	if err != nil {
		return nil, err
	}
	out := make([]domain.PatternEntry, 0, len(recs))
	for _, rec := range recs {
		var p domain.PatternEntry
		if err := json.Unmarshal(rec.Value, &p); err != nil {
			return nil, fmt.Errorf("decode patterns/%s: %w", rec.Key, err)
		}
		if id, err := strconv.ParseInt(rec.Key, 10, 64); err == nil {
			p.ID = id
		}
		out = append(out, p)
	}
	return out, nil
}

// AppendPattern writes p and returns it with its assigned ID.
func (r Repo) AppendPattern(ctx context.Context, p domain.PatternEntry) (domain.PatternEntry, error) {
	p.ID = 0
	key, err := add(ctx, r.Store, store.Patterns, "", p)
	if err != nil {
		return p, err
	}
	p.ID, _ = strconv.ParseInt(key, 10, 64)
	return p, nil
}

// GetUserStats returns ErrNotFound when no stats were saved yet.
func (r Repo) GetUserStats(ctx context.Context) (domain.UserStats, error) {
	return get[domain.UserStats](ctx, r.Store, store.Settings, KeyUserXP)
}

func (r Repo) PutUserStats(ctx context.Context, u domain.UserStats) error {
	return put(ctx, r.Store, store.Settings, KeyUserXP, u)
}

// GetProfile returns ErrNotFound when nobody registered yet.
func (r Repo) GetProfile(ctx context.Context) (domain.UserProfile, error) {
	return get[domain.UserProfile](ctx, r.Store, store.Settings, KeyUserProfile)
}

func (r Repo) PutProfile(ctx context.Context, p domain.UserProfile) error {
	return put(ctx, r.Store, store.Settings, KeyUserProfile, p)
}

// HasProfile reports whether a profile exists on this installation.
func (r Repo) HasProfile(ctx context.Context) (bool, error) {
	_, err := r.GetProfile(ctx)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}
