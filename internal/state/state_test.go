package state_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"momentum/internal/domain"
	"momentum/internal/gamify"
	"momentum/internal/repo"
	"momentum/internal/state"
	"momentum/internal/store"
)

func newRepo(t *testing.T, missing ...store.Collection) repo.Repo {
	t.Helper()
	s := store.NewMemory(missing...)
	require.NoError(t, s.Init(context.Background()))
	return repo.Repo{Store: s}
}

func TestLoadSeedsFreshStore(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)

	s, err := state.Load(ctx, r, "2024-03-10", nil)
	require.NoError(t, err)
	if diff := cmp.Diff(gamify.DefaultSkills(), s.Skills); diff != "" {
		t.Fatalf("skills mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, domain.UserStats{XP: 0, Level: 1, Streak: 0}, s.User)
	assert.Equal(t, state.FilterAll, s.TasksFilter)

	stored, err := r.ListSkills(ctx)
	require.NoError(t, err)
	assert.Len(t, stored, 3)
	u, err := r.GetUserStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, u.Level)

	// Second load keeps the stored values instead of reseeding.
	require.NoError(t, r.UpdateSkill(ctx, domain.Skill{ID: "focus", Name: "Deep Focus", Level: 3, XP: 7, MaxXP: 225}))
	s, err = state.Load(ctx, r, "2024-03-10", nil)
	require.NoError(t, err)
	sk, ok := s.Skill("focus")
	require.True(t, ok)
	assert.Equal(t, 3, sk.Level)
}

func TestLoadDecaysStaleHabits(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	require.NoError(t, r.InsertHabit(ctx, domain.Habit{ID: "stale", Title: "Run", Streak: 5, Stability: 50, History: []string{"2024-03-07"}, CreatedAt: "2024-01-01T00:00:00Z"}))
	require.NoError(t, r.InsertHabit(ctx, domain.Habit{ID: "fresh", Title: "Read", Streak: 5, Stability: 50, History: []string{"2024-03-09"}, CreatedAt: "2024-01-02T00:00:00Z"}))

	s, err := state.Load(ctx, r, "2024-03-10", nil)
	require.NoError(t, err)
	require.Len(t, s.Habits, 2)
	assert.Equal(t, 0, s.Habits[0].Streak)
	assert.Equal(t, 40, s.Habits[0].Stability)
	assert.Equal(t, 5, s.Habits[1].Streak)
	assert.Equal(t, 50, s.Habits[1].Stability)

	stored, err := r.ListHabits(ctx)
	require.NoError(t, err)
	for _, h := range stored {
		if h.ID == "stale" {
			assert.Equal(t, 40, h.Stability)
		}
	}

	// A later load on the same stale state does not decay again.
	s, err = state.Load(ctx, r, "2024-03-11", nil)
	require.NoError(t, err)
	assert.Equal(t, 40, s.Habits[0].Stability)
}

func TestLoadMissingCollectionsAreEmpty(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t, store.Habits, store.Skills)

	s, err := state.Load(ctx, r, "2024-03-10", nil)
	require.NoError(t, err)
	assert.Empty(t, s.Habits)
	assert.Empty(t, s.Skills, "skills are not seeded into a missing collection")
	assert.NotNil(t, s.Habits)
}

func TestLoadOrdersByCreation(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	require.NoError(t, r.InsertTask(ctx, domain.Task{ID: "b", CreatedAt: "2024-03-02T00:00:00Z"}))
	require.NoError(t, r.InsertTask(ctx, domain.Task{ID: "a", CreatedAt: "2024-03-01T00:00:00Z"}))
	s, err := state.Load(ctx, r, "2024-03-10", nil)
	require.NoError(t, err)
	require.Len(t, s.Tasks, 2)
	assert.Equal(t, "a", s.Tasks[0].ID)
}

func TestCloneIsDeep(t *testing.T) {
	parent := "g0"
	hour := 9
	s := state.New()
	s.Goals = []domain.Goal{{ID: "g1", ParentID: &parent}}
	s.Habits = []domain.Habit{{ID: "h1", History: []string{"2024-03-09"}}}
	s.History = []domain.PatternEntry{{ID: 1, Hour: &hour}}

	c := s.Clone()
	if diff := cmp.Diff(*s, c); diff != "" {
		t.Fatalf("clone differs (-orig +clone):\n%s", diff)
	}
	*c.Goals[0].ParentID = "other"
	c.Habits[0].History[0] = "1999-01-01"
	*c.History[0].Hour = 23
	assert.Equal(t, "g0", *s.Goals[0].ParentID)
	assert.Equal(t, "2024-03-09", s.Habits[0].History[0])
	assert.Equal(t, 9, *s.History[0].Hour)
}

func TestFilterTasksAndCounts(t *testing.T) {
	s := state.New()
	s.Tasks = []domain.Task{
		{ID: "1", Status: domain.TaskTodo, Type: domain.TaskDeep, Energy: domain.EnergyHigh},
		{ID: "2", Status: domain.TaskDone, Type: domain.TaskDeep, Energy: domain.EnergyHigh},
		{ID: "3", Status: domain.TaskTodo, Type: domain.TaskShallow, Energy: domain.EnergyLow},
	}
	ids := func(ts []domain.Task) []string {
		out := []string{}
		for _, t := range ts {
			out = append(out, t.ID)
		}
		return out
	}
	assert.Equal(t, []string{"1", "2", "3"}, ids(s.FilterTasks(state.FilterAll)))
	assert.Equal(t, []string{"1", "3"}, ids(s.FilterTasks(state.FilterActive)))
	assert.Equal(t, []string{"2"}, ids(s.FilterTasks(state.FilterCompleted)))
	assert.Equal(t, []string{"1", "2"}, ids(s.FilterTasks(state.FilterDeep)))

	pending, high := s.PendingCounts()
	assert.Equal(t, 2, pending)
	assert.Equal(t, 1, high)
}

func TestAnalytics(t *testing.T) {
	s := state.New()
	s.Tasks = []domain.Task{{Status: domain.TaskDone}, {Status: domain.TaskTodo}, {Status: domain.TaskTodo}}
	s.History = []domain.PatternEntry{
		{Timestamp: "2024-03-10T08:00:00Z"},
		{Timestamp: "2024-03-10T09:00:00Z"},
		{Timestamp: "2024-03-04T09:00:00Z"},
		{Timestamp: "2024-03-01T09:00:00Z"},
		{Timestamp: "garbage"},
	}
	a := s.Analytics(time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC), time.UTC)
	assert.Equal(t, 33, a.CompletionRate)
	require.Len(t, a.Trend, 7)
	assert.Equal(t, state.DayCount{Date: "2024-03-04", Count: 1}, a.Trend[0])
	assert.Equal(t, state.DayCount{Date: "2024-03-10", Count: 2}, a.Trend[6])

	empty := state.New().Analytics(time.Now(), time.UTC)
	assert.Zero(t, empty.CompletionRate)
}
