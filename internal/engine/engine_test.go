package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"momentum/internal/domain"
	"momentum/internal/engine"
	"momentum/internal/events"
	"momentum/internal/logger"
	"momentum/internal/repo"
	"momentum/internal/state"
	"momentum/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSession struct {
	mu   sync.Mutex
	user string
}

func (f *fakeSession) Login(u string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.user = u
	return nil
}

func (f *fakeSession) Logout() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.user = ""
	return nil
}

func (f *fakeSession) current() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.user
}

// flakyStore fails every write while failWrites is set.
type flakyStore struct {
	store.Store
	mu         sync.Mutex
	failWrites bool
}

var errDiskFull = errors.New("disk full")

func (f *flakyStore) failing() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failWrites
}

func (f *flakyStore) Add(ctx context.Context, c store.Collection, key string, v json.RawMessage) (string, error) {
	if f.failing() {
		return "", errDiskFull
	}
	return f.Store.Add(ctx, c, key, v)
}

func (f *flakyStore) Update(ctx context.Context, c store.Collection, key string, v json.RawMessage) error {
	if f.failing() {
		return errDiskFull
	}
	return f.Store.Update(ctx, c, key, v)
}

type testEnv struct {
	Engine  *engine.Engine
	Repo    repo.Repo
	Store   store.Store
	Session *fakeSession
	Ctx     context.Context

	mu  sync.Mutex
	now time.Time
}

func (env *testEnv) clock() time.Time {
	env.mu.Lock()
	defer env.mu.Unlock()
	return env.now
}

func (env *testEnv) advance(d time.Duration) {
	env.mu.Lock()
	defer env.mu.Unlock()
	env.now = env.now.Add(d)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithStore(t, store.NewMemory())
}

func newTestEnvWithStore(t *testing.T, s store.Store) *testEnv {
	t.Helper()
	ctx := context.Background()
	if err := s.Init(ctx); err != nil {
		t.Fatalf("init store: %v", err)
	}
	env := &testEnv{
		Repo:    repo.Repo{Store: s},
		Store:   s,
		Session: &fakeSession{},
		Ctx:     ctx,
		now:     time.Date(2024, 3, 10, 14, 0, 0, 0, time.UTC),
	}
	env.open(t)
	t.Cleanup(func() { _ = s.Close() })
	return env
}

// open (re)starts the engine over the env's store, as a new session would.
func (env *testEnv) open(t *testing.T) {
	t.Helper()
	if env.Engine != nil {
		require.NoError(t, env.Engine.Close())
	}
	seq := 0
	eng, err := engine.Open(env.Ctx, env.Repo, engine.Options{
		Session:  env.Session,
		Location: time.UTC,
		Now:      env.clock,
		NewID: func() string {
			seq++
			return fmt.Sprintf("id-%02d", seq)
		},
	})
	if err != nil {
		t.Fatalf("open engine: %v", err)
	}
	env.Engine = eng
	t.Cleanup(func() { _ = eng.Close() })
}

func (env *testEnv) dispatch(t *testing.T, a engine.Action) engine.Result {
	t.Helper()
	res, err := env.Engine.Dispatch(env.Ctx, a)
	require.NoError(t, err)
	return res
}

func intp(n int) *int { return &n }

func skill(t *testing.T, s state.State, id string) domain.Skill {
	t.Helper()
	sk, ok := s.Skill(id)
	require.True(t, ok, "skill %s", id)
	return sk
}

func TestAddTaskComputesXPValue(t *testing.T) {
	env := newTestEnv(t)
	res := env.dispatch(t, engine.AddTask{Title: "Ship", Difficulty: domain.DifficultyHard, Energy: domain.EnergyHigh, Type: domain.TaskDeep})
	assert.Equal(t, engine.StatusApplied, res.Status)
	env.dispatch(t, engine.AddTask{Title: "Email", Difficulty: domain.DifficultyMedium, Energy: domain.EnergyLow})

	s := env.Engine.Snapshot()
	require.Len(t, s.Tasks, 2)
	assert.Equal(t, 75, s.Tasks[0].XPValue)
	assert.Equal(t, domain.TaskTodo, s.Tasks[0].Status)
	assert.Equal(t, domain.TaskShallow, s.Tasks[1].Type)
	assert.Equal(t, 20, s.Tasks[1].XPValue)

	stored, err := env.Repo.ListTasks(env.Ctx)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestToggleTaskRewardAsymmetry(t *testing.T) {
	env := newTestEnv(t)
	env.dispatch(t, engine.AddTask{Title: "Refactor", Difficulty: domain.DifficultyHard, Energy: domain.EnergyMedium, Type: domain.TaskDeep})
	id := env.Engine.Snapshot().Tasks[0].ID

	res := env.dispatch(t, engine.ToggleTask{ID: id})
	require.Equal(t, engine.StatusApplied, res.Status)
	require.NotNil(t, res.Pattern, "completion is learned")
	s := env.Engine.Snapshot()
	assert.Equal(t, 75, s.User.XP)
	assert.Equal(t, 15, skill(t, s, "focus").XP)
	assert.Equal(t, 20, skill(t, s, "discipline").XP)
	assert.Equal(t, 0, skill(t, s, "velocity").XP)

	res = env.dispatch(t, engine.ToggleTask{ID: id})
	assert.Nil(t, res.Pattern, "undo is not learned")
	s = env.Engine.Snapshot()
	assert.Equal(t, domain.TaskTodo, s.Tasks[0].Status)
	assert.Equal(t, 0, s.User.XP)
	assert.Equal(t, 15, skill(t, s, "focus").XP, "skill xp is kept on undo")
	assert.Len(t, s.History, 1)

	u, err := env.Repo.GetUserStats(env.Ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, u.XP)
}

func TestToggleTaskFallsBackToDefaultXP(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.Repo.InsertTask(env.Ctx, domain.Task{ID: "legacy", Title: "Old", Type: domain.TaskShallow, Status: domain.TaskTodo}))
	env.open(t)

	env.dispatch(t, engine.ToggleTask{ID: "legacy"})
	s := env.Engine.Snapshot()
	assert.Equal(t, 10, s.User.XP)
	assert.Equal(t, 5, skill(t, s, "velocity").XP)
}

func TestUnknownIDsAreNoops(t *testing.T) {
	env := newTestEnv(t)
	before := env.Engine.Snapshot()
	for _, a := range []engine.Action{
		engine.ToggleTask{ID: "nope"},
		engine.DeleteTask{ID: "nope"},
		engine.ToggleGoal{ID: "nope"},
	} {
		res := env.dispatch(t, a)
		assert.Equal(t, engine.StatusIgnored, res.Status, "%s", a.Name())
		assert.Nil(t, res.PersistErr)
	}
	assert.Equal(t, before, env.Engine.Snapshot())
}

func TestParseBoundary(t *testing.T) {
	env := newTestEnv(t)

	res, err := env.Engine.DispatchRaw(env.Ctx, "LAUNCH_ROCKET", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Equal(t, engine.StatusIgnored, res.Status)

	res, err = env.Engine.DispatchRaw(env.Ctx, "ADD_TASK", json.RawMessage(`{"difficulty":"easy","energy":"low"}`))
	require.NoError(t, err)
	assert.Equal(t, engine.StatusAborted, res.Status)
	assert.Contains(t, res.Reason, "title")

	res, err = env.Engine.DispatchRaw(env.Ctx, "ADD_XP", json.RawMessage(`{"source":"focus_session"}`))
	require.NoError(t, err)
	assert.Equal(t, engine.StatusAborted, res.Status)

	res, err = env.Engine.DispatchRaw(env.Ctx, "ADD_TASK", json.RawMessage(`{"title":"x","difficulty":"easy","energy":"low","type":"deep"}`))
	require.NoError(t, err)
	assert.Equal(t, engine.StatusApplied, res.Status)

	s := env.Engine.Snapshot()
	assert.Len(t, s.Tasks, 1)
	assert.Zero(t, s.User.XP)
	assert.Empty(t, s.History)
}

func TestParseActionErrors(t *testing.T) {
	_, err := engine.ParseAction("NOPE", nil)
	assert.ErrorIs(t, err, engine.ErrUnknownAction)

	_, err = engine.ParseAction("CHECK_HABIT", json.RawMessage(`{}`))
	var mf *engine.MissingFieldError
	require.ErrorAs(t, err, &mf)
	assert.Equal(t, engine.ActCheckHabit, mf.Action)
	assert.Equal(t, "id", mf.Field)

	_, err = engine.ParseAction("SET_TASK_FILTER", json.RawMessage(`{"filter":"someday"}`))
	var inv *engine.InvalidFieldError
	assert.ErrorAs(t, err, &inv)

	a, err := engine.ParseAction("COMPLETE_FOCUS", nil)
	require.NoError(t, err)
	assert.Equal(t, engine.CompleteFocus{}, a)

	a, err = engine.ParseAction("ADD_GOAL", json.RawMessage(`{"title":"Run a marathon","type":"year","parentId":"g0"}`))
	require.NoError(t, err)
	goal := a.(engine.AddGoal)
	require.NotNil(t, goal.ParentID)
	assert.Equal(t, "g0", *goal.ParentID)

	for _, n := range engine.Names {
		_, err := engine.ParseAction(string(n), json.RawMessage(`{}`))
		assert.False(t, errors.Is(err, engine.ErrUnknownAction), "%s must be recognized", n)
	}
}

func TestGoalRewardIsNotIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.dispatch(t, engine.AddGoal{Title: "Learn Go", Type: domain.GoalYear})
	id := env.Engine.Snapshot().Goals[0].ID

	res := env.dispatch(t, engine.ToggleGoal{ID: id})
	require.NotEmpty(t, res.Notifications)
	assert.Equal(t, 250, env.Engine.Snapshot().User.XP)

	env.dispatch(t, engine.ToggleGoal{ID: id})
	s := env.Engine.Snapshot()
	assert.Equal(t, domain.GoalActive, s.Goals[0].Status)
	assert.Equal(t, 250, s.User.XP, "reopening does not refund")

	env.dispatch(t, engine.ToggleGoal{ID: id})
	s = env.Engine.Snapshot()
	assert.Equal(t, 500, s.User.XP)
	assert.Equal(t, 6, s.User.Level)
	// Two completions give 2x50 discipline, exactly one skill level.
	disc := skill(t, s, "discipline")
	assert.Equal(t, 2, disc.Level)
	assert.Equal(t, 0, disc.XP)
	assert.Equal(t, 150, disc.MaxXP)
	assert.Equal(t, 50, skill(t, s, "focus").XP)
}

func TestCheckHabit(t *testing.T) {
	env := newTestEnv(t)
	env.dispatch(t, engine.AddHabit{Title: "Meditate"})
	id := env.Engine.Snapshot().Habits[0].ID

	res := env.dispatch(t, engine.CheckHabit{ID: id})
	require.Equal(t, engine.StatusApplied, res.Status)
	s := env.Engine.Snapshot()
	assert.Equal(t, 1, s.Habits[0].Streak)
	assert.Equal(t, 10, s.Habits[0].Stability)
	assert.Equal(t, []string{"2024-03-10"}, s.Habits[0].History)
	assert.Equal(t, 15, s.User.XP)
	assert.Equal(t, 10, skill(t, s, "discipline").XP)

	res = env.dispatch(t, engine.CheckHabit{ID: id})
	assert.Equal(t, engine.StatusIgnored, res.Status)
	s = env.Engine.Snapshot()
	assert.Equal(t, 1, s.Habits[0].Streak)
	assert.Equal(t, 15, s.User.XP)

	env.advance(24 * time.Hour)
	env.dispatch(t, engine.CheckHabit{ID: id})
	s = env.Engine.Snapshot()
	assert.Equal(t, 2, s.Habits[0].Streak)
	assert.Equal(t, 20, s.Habits[0].Stability)

	stored, err := env.Repo.ListHabits(env.Ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stored[0].Streak)
}

func TestHabitDecaysOnLoad(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.Repo.InsertHabit(env.Ctx, domain.Habit{ID: "h1", Title: "Run", Streak: 5, Stability: 50, History: []string{"2024-03-07"}}))
	require.NoError(t, env.Repo.InsertHabit(env.Ctx, domain.Habit{ID: "h2", Title: "Read", Streak: 5, Stability: 50, History: []string{"2024-03-09"}}))
	env.open(t)

	s := env.Engine.Snapshot()
	byID := map[string]domain.Habit{}
	for _, h := range s.Habits {
		byID[h.ID] = h
	}
	assert.Equal(t, 0, byID["h1"].Streak)
	assert.Equal(t, 40, byID["h1"].Stability)
	assert.Equal(t, 5, byID["h2"].Streak)
	assert.Equal(t, 50, byID["h2"].Stability)
}

func TestAddXP(t *testing.T) {
	env := newTestEnv(t)
	res := env.dispatch(t, engine.AddXP{Amount: intp(130), Source: engine.SourceFocusSession})
	require.NotNil(t, res.Award)
	assert.True(t, res.Award.LeveledUp)
	assert.Equal(t, 2, res.Award.NewLevel)
	var types []string
	for _, n := range res.Notifications {
		types = append(types, n.Type)
	}
	assert.Contains(t, types, events.TypeLevelUp)

	s := env.Engine.Snapshot()
	assert.Equal(t, 65, skill(t, s, "focus").XP)

	env.dispatch(t, engine.AddXP{Amount: intp(-1000)})
	s = env.Engine.Snapshot()
	assert.Equal(t, 0, s.User.XP)
	assert.Equal(t, 1, s.User.Level)
	assert.Equal(t, 65, skill(t, s, "focus").XP, "plain ADD_XP does not touch skills")
}

func TestCompleteFocus(t *testing.T) {
	env := newTestEnv(t)
	res := env.dispatch(t, engine.CompleteFocus{})
	assert.Nil(t, res.Pattern)

	s := env.Engine.Snapshot()
	assert.Equal(t, 50, s.User.XP)
	assert.Equal(t, 50, skill(t, s, "focus").XP)
	require.Len(t, s.History, 1)
	assert.Equal(t, domain.PatternFocusSession, s.History[0].Type)
	assert.Equal(t, 25, s.History[0].Duration)

	stored, err := env.Repo.ListPatterns(env.Ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, domain.PatternFocusSession, stored[0].Type)

	env.dispatch(t, engine.CompleteFocus{Minutes: 60})
	assert.Equal(t, 170, env.Engine.Snapshot().User.XP)
}

func TestSetTaskFilterIsNotPersisted(t *testing.T) {
	env := newTestEnv(t)
	env.dispatch(t, engine.SetTaskFilter{Filter: state.FilterDeep})
	assert.Equal(t, state.FilterDeep, env.Engine.Snapshot().TasksFilter)
	env.open(t)
	assert.Equal(t, state.FilterAll, env.Engine.Snapshot().TasksFilter)
}

func TestTaskFilterSurvivesSignIn(t *testing.T) {
	env := newTestEnv(t)
	env.dispatch(t, engine.SetTaskFilter{Filter: state.FilterDeep})

	res := env.dispatch(t, engine.RegisterUser{Username: "ada", Password: "pw"})
	require.Equal(t, engine.StatusApplied, res.Status)
	assert.Equal(t, state.FilterDeep, env.Engine.Snapshot().TasksFilter)

	env.dispatch(t, engine.LogoutUser{})
	env.dispatch(t, engine.LoginUser{Username: "ada", Password: "pw"})
	assert.Equal(t, state.FilterDeep, env.Engine.Snapshot().TasksFilter)

	require.NoError(t, env.Engine.Reset(env.Ctx, true))
	assert.Equal(t, state.FilterAll, env.Engine.Snapshot().TasksFilter)
}

func TestAuthFlow(t *testing.T) {
	env := newTestEnv(t)

	res := env.dispatch(t, engine.LoginUser{Username: "ada", Password: "pw"})
	assert.Equal(t, engine.StatusDenied, res.Status, "no profile yet")

	res = env.dispatch(t, engine.RegisterUser{Username: "ada", Password: "pw"})
	require.Equal(t, engine.StatusApplied, res.Status)
	assert.Equal(t, "ada", env.Session.current())
	p, err := env.Repo.GetProfile(env.Ctx)
	require.NoError(t, err)
	assert.Equal(t, "pw", p.Password)

	env.dispatch(t, engine.LogoutUser{})
	assert.Empty(t, env.Session.current())

	res = env.dispatch(t, engine.LoginUser{Username: "ada", Password: "wrong"})
	assert.Equal(t, engine.StatusDenied, res.Status)
	assert.Equal(t, "Access Denied: Invalid Credentials.", res.Reason)
	assert.Empty(t, env.Session.current())

	res = env.dispatch(t, engine.LoginUser{Username: "ada", Password: "pw"})
	assert.Equal(t, engine.StatusApplied, res.Status)
	assert.Equal(t, "ada", env.Session.current())

	assert.Empty(t, env.Engine.Snapshot().History, "auth actions are never learned")
}

func TestPersistFailureKeepsInMemoryChange(t *testing.T) {
	fs := &flakyStore{Store: store.NewMemory()}
	env := newTestEnvWithStore(t, fs)

	fs.mu.Lock()
	fs.failWrites = true
	fs.mu.Unlock()

	res := env.dispatch(t, engine.AddTask{Title: "Unsaved", Difficulty: domain.DifficultyEasy, Energy: domain.EnergyLow})
	assert.Equal(t, engine.StatusApplied, res.Status)
	require.Error(t, res.PersistErr)
	assert.ErrorIs(t, res.PersistErr, errDiskFull)
	assert.Len(t, env.Engine.Snapshot().Tasks, 1)

	stored, err := env.Repo.ListTasks(env.Ctx)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestConcurrentDispatchIsSerialized(t *testing.T) {
	env := newTestEnv(t)
	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.Engine.Dispatch(env.Ctx, engine.AddXP{Amount: intp(1)})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, n, env.Engine.Snapshot().User.XP)
	u, err := env.Repo.GetUserStats(env.Ctx)
	require.NoError(t, err)
	assert.Equal(t, n, u.XP)
	assert.Len(t, env.Engine.History(0), n)
	assert.Len(t, env.Engine.History(5), 5)
}

func TestSuggestUsesStateAndPeak(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 3; i++ {
		env.dispatch(t, engine.AddTask{Title: fmt.Sprintf("big %d", i), Difficulty: domain.DifficultyHard, Energy: domain.EnergyHigh})
	}
	assert.Equal(t, domain.SuggestionWarning, env.Engine.Suggest().Type)

	id := env.Engine.Snapshot().Tasks[0].ID
	env.dispatch(t, engine.ToggleTask{ID: id})
	peak, ok := env.Engine.PeakHour()
	require.True(t, ok)
	assert.Equal(t, 14, peak)
	got := env.Engine.Suggest()
	assert.Equal(t, domain.SuggestionSuccess, got.Type)
	assert.Contains(t, got.Text, "Peak Productivity Zone")
}

func TestAnalytics(t *testing.T) {
	env := newTestEnv(t)
	env.dispatch(t, engine.AddTask{Title: "a", Difficulty: domain.DifficultyEasy, Energy: domain.EnergyLow})
	env.dispatch(t, engine.AddTask{Title: "b", Difficulty: domain.DifficultyEasy, Energy: domain.EnergyLow})
	env.dispatch(t, engine.ToggleTask{ID: env.Engine.Snapshot().Tasks[0].ID})
	env.dispatch(t, engine.CompleteFocus{Minutes: 10})

	a := env.Engine.Analytics()
	assert.Equal(t, 50, a.CompletionRate)
	require.Len(t, a.Trend, 7)
	assert.Equal(t, 2, a.Trend[6].Count)
}

func TestReset(t *testing.T) {
	env := newTestEnv(t)
	env.dispatch(t, engine.RegisterUser{Username: "ada", Password: "pw"})
	env.dispatch(t, engine.AddXP{Amount: intp(300)})

	assert.ErrorIs(t, env.Engine.Reset(env.Ctx, false), engine.ErrResetNotConfirmed)
	assert.Equal(t, 300, env.Engine.Snapshot().User.XP)

	require.NoError(t, env.Engine.Reset(env.Ctx, true))
	s := env.Engine.Snapshot()
	assert.Zero(t, s.User.XP)
	assert.Len(t, s.Skills, 3)
	assert.Empty(t, s.History)
	assert.Empty(t, env.Session.current())
	_, err := env.Repo.GetProfile(env.Ctx)
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestCloseRejectsFurtherActions(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.Engine.Close())
	require.NoError(t, env.Engine.Close())
	_, err := env.Engine.Dispatch(env.Ctx, engine.LogoutUser{})
	assert.ErrorIs(t, err, engine.ErrClosed)
	assert.ErrorIs(t, env.Engine.Reset(env.Ctx, true), engine.ErrClosed)
}

func TestSQLiteSessionSurvivesReopen(t *testing.T) {
	env := newTestEnvWithStore(t, store.NewSQLite(t.TempDir()))
	env.dispatch(t, engine.AddTask{Title: "Persist me", Difficulty: domain.DifficultyMedium, Energy: domain.EnergyMedium, Type: domain.TaskDeep})
	env.dispatch(t, engine.ToggleTask{ID: env.Engine.Snapshot().Tasks[0].ID})
	env.open(t)

	s := env.Engine.Snapshot()
	require.Len(t, s.Tasks, 1)
	assert.Equal(t, domain.TaskDone, s.Tasks[0].Status)
	assert.Equal(t, 30, s.User.XP)
	assert.Equal(t, 15, skill(t, s, "focus").XP)
	require.Len(t, s.History, 1)
	assert.Equal(t, "TOGGLE_TASK", s.History[0].Type)
	peak, ok := env.Engine.PeakHour()
	require.True(t, ok)
	assert.Equal(t, 14, peak)
}

func TestAwardBounds(t *testing.T) {
	env := newTestEnv(t)
	env.dispatch(t, engine.AddXP{Amount: intp(120)})

	for _, a := range []engine.Action{
		engine.CompleteFocus{Minutes: engine.MaxFocusMinutes + 1},
		engine.CompleteFocus{Minutes: -5},
		engine.AddXP{Amount: intp(engine.MaxXPDelta + 1)},
		engine.AddXP{Amount: intp(-engine.MaxXPDelta - 1)},
	} {
		res := env.dispatch(t, a)
		assert.Equal(t, engine.StatusAborted, res.Status, "%#v", a)
		assert.Contains(t, res.Reason, "invalid")
	}
	assert.Equal(t, 120, env.Engine.Snapshot().User.XP, "rejected awards leave XP alone")

	res := env.dispatch(t, engine.CompleteFocus{Minutes: engine.MaxFocusMinutes})
	require.Equal(t, engine.StatusApplied, res.Status)
	assert.Equal(t, 120+engine.MaxFocusMinutes*2, env.Engine.Snapshot().User.XP)
}

func TestSinkCanReadStateDuringDispatch(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	require.NoError(t, s.Init(ctx))
	defer s.Close()

	var eng *engine.Engine
	var rendered []int
	sink := events.SinkFunc(func(n events.Notification) {
		if n.Type != events.TypeRender {
			return
		}
		rendered = append(rendered, len(eng.Snapshot().Tasks))
		eng.Suggest()
		eng.Analytics()
		eng.History(1)
	})
	eng, err := engine.Open(ctx, repo.Repo{Store: s}, engine.Options{Sinks: []events.Sink{sink}, Location: time.UTC})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := eng.Dispatch(ctx, engine.AddTask{Title: "Ship", Difficulty: domain.DifficultyEasy, Energy: domain.EnergyLow})
		assert.NoError(t, err)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("dispatch blocked while a sink read state")
	}
	require.NoError(t, eng.Close())
	assert.Equal(t, []int{1}, rendered)
}

func TestStateLoadedNotification(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	require.NoError(t, s.Init(ctx))
	defer s.Close()
	r := repo.Repo{Store: s}
	require.NoError(t, r.InsertHabit(ctx, domain.Habit{ID: "h1", Title: "Run"}))

	buf := &events.Buffer{}
	eng, err := engine.Open(ctx, r, engine.Options{Sinks: []events.Sink{buf}, Location: time.UTC})
	require.NoError(t, err)
	defer eng.Close()

	items := buf.Items()
	require.Len(t, items, 1)
	assert.Equal(t, events.TypeStateLoaded, items[0].Type)
	assert.Equal(t, 1, items[0].Payload["habits"])
	assert.Equal(t, 0, items[0].Payload["tasks"])

	res, err := eng.Dispatch(ctx, engine.RegisterUser{Username: "ada", Password: "pw"})
	require.NoError(t, err)
	var types []string
	for _, n := range res.Notifications {
		types = append(types, n.Type)
	}
	assert.Equal(t, []string{events.TypeStateLoaded, events.TypeRender}, types)
	assert.Len(t, buf.Items(), 3, "sinks see the same notifications after dispatch")
}

func TestRegisterWarnsWhenReplacingProfile(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	require.NoError(t, s.Init(ctx))
	defer s.Close()
	r := repo.Repo{Store: s}

	core, logs := observer.New(zap.WarnLevel)
	eng, err := engine.Open(ctx, r, engine.Options{Log: logger.FromZap(zap.New(core)), Location: time.UTC})
	require.NoError(t, err)
	defer eng.Close()

	ok, err := r.HasProfile(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = eng.Dispatch(ctx, engine.RegisterUser{Username: "ada", Password: "pw"})
	require.NoError(t, err)
	assert.Zero(t, logs.FilterMessage("replacing existing profile").Len())

	ok, err = r.HasProfile(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = eng.Dispatch(ctx, engine.RegisterUser{Username: "grace", Password: "pw2"})
	require.NoError(t, err)
	replaced := logs.FilterMessage("replacing existing profile").All()
	require.Len(t, replaced, 1)
	assert.Equal(t, "grace", replaced[0].ContextMap()["username"])

	p, err := r.GetProfile(ctx)
	require.NoError(t, err)
	assert.Equal(t, "grace", p.Username)
}
