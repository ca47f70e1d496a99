package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"momentum/internal/domain"
	"momentum/internal/events"
	"momentum/internal/gamify"
	"momentum/internal/habit"
	"momentum/internal/logger"
	"momentum/internal/repo"
	"momentum/internal/state"
	"momentum/internal/suggest"
)

var (
	ErrClosed            = errors.New("engine closed")
	ErrResetNotConfirmed = errors.New("reset requires explicit confirmation")
)

const deniedReason = "Access Denied: Invalid Credentials."

type Status string

const (
	StatusApplied Status = "applied"
	StatusIgnored Status = "ignored"
	StatusAborted Status = "aborted"
	StatusDenied  Status = "denied"
)

// Result describes what one dispatched action did. PersistErr holds the
// first store write failure; the in-memory change is kept regardless.
type Result struct {
	Action        Name                  `json:"action"`
	Status        Status                `json:"status" enum:"applied,ignored,aborted,denied"`
	Reason        string                `json:"reason,omitempty"`
	Award         *gamify.Award         `json:"award,omitempty"`
	Pattern       *domain.PatternEntry  `json:"pattern,omitempty"`
	Notifications []events.Notification `json:"notifications,omitempty"`
	PersistErr    error                 `json:"-"`
}

// Session is the external "currently logged in" marker.
type Session interface {
	Login(username string) error
	Logout() error
}

type Options struct {
	Log     *logger.Logger
	Sinks   []events.Sink
	Session Session
	// Location defines "today" and the hour of day. Defaults to time.Local.
	Location *time.Location
	Now      func() time.Time
	NewID    func() string
}

// Engine owns the session state. Actions run one at a time on a single
// goroutine, each fully persisted before the next starts.
type Engine struct {
	Repo    repo.Repo
	Events  events.Writer
	Log     *logger.Logger
	Session Session
	Loc     *time.Location
	Now     func() time.Time
	NewID   func() string

	mu    sync.RWMutex
	state *state.State
	ai    *suggest.Engine

	queue     chan job
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

type job struct {
	ctx  context.Context
	fn   func(ctx context.Context)
	done chan struct{}
}

// Open loads the session state from r and starts the dispatch loop. The
// store behind r must already be initialized.
func Open(ctx context.Context, r repo.Repo, opts Options) (*Engine, error) {
	e := &Engine{
		Repo:    r,
		Log:     opts.Log,
		Session: opts.Session,
		Loc:     opts.Location,
		Now:     opts.Now,
		NewID:   opts.NewID,
		queue:   make(chan job),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	if e.Log == nil {
		e.Log = logger.Nop()
	}
	if e.Loc == nil {
		e.Loc = time.Local
	}
	if e.Now == nil {
		e.Now = time.Now
	}
	if e.NewID == nil {
		e.NewID = uuid.NewString
	}
	e.Events = events.Writer{Now: e.Now, Sinks: opts.Sinks}
	e.ai = suggest.New(r, e.Loc)
	loaded, err := e.load(ctx)
	if err != nil {
		return nil, err
	}
	e.Events.Notify(loaded)
	go e.run()
	return e, nil
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) today() string {
	return habit.Date(e.now(), e.Loc)
}

// load rebuilds state and the pattern log from the store. Callers hold mu
// or run before the loop starts, and deliver the returned state.loaded
// notification once mu is released.
func (e *Engine) load(ctx context.Context) (events.Notification, error) {
	s, err := state.Load(ctx, e.Repo, e.today(), e.Log)
	if err != nil {
		return events.Notification{}, err
	}
	if e.state != nil {
		s.TasksFilter = e.state.TasksFilter
	}
	e.state = s
	e.ai.Reset(s.History)
	e.Log.Info("state loaded", "tasks", len(s.Tasks), "habits", len(s.Habits), "patterns", len(s.History))
	return e.Events.Stamp(events.TypeStateLoaded, "", "", events.Payload{
		"tasks":    len(s.Tasks),
		"goals":    len(s.Goals),
		"habits":   len(s.Habits),
		"patterns": len(s.History),
	}), nil
}

func (e *Engine) run() {
	defer close(e.stopped)
	for {
		select {
		case j := <-e.queue:
			j.fn(j.ctx)
			close(j.done)
		case <-e.done:
			return
		}
	}
}

// submit hands fn to the dispatch loop and waits for it to finish. Once
// accepted, fn runs to completion even if ctx is cancelled.
func (e *Engine) submit(ctx context.Context, fn func(ctx context.Context)) error {
	j := job{ctx: context.WithoutCancel(ctx), fn: fn, done: make(chan struct{})}
	select {
	case <-e.done:
		return ErrClosed
	default:
	}
	select {
	case e.queue <- j:
	case <-e.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-j.done
	return nil
}

// Close stops the dispatch loop after the action in flight completes.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() { close(e.done) })
	<-e.stopped
	return nil
}

// Dispatch runs a on the dispatch loop. The error is non-nil only when the
// action never ran (engine closed or ctx done before it was accepted).
func (e *Engine) Dispatch(ctx context.Context, a Action) (Result, error) {
	if a == nil {
		return Result{Status: StatusIgnored, Reason: ErrUnknownAction.Error()}, nil
	}
	var res Result
	err := e.submit(ctx, func(ctx context.Context) {
		res = e.apply(ctx, a)
	})
	return res, err
}

// DispatchRaw parses name and payload and dispatches the result. Unknown
// names are ignored and malformed payloads aborted, both without effects.
func (e *Engine) DispatchRaw(ctx context.Context, name string, payload json.RawMessage) (Result, error) {
	a, err := ParseAction(name, payload)
	if errors.Is(err, ErrUnknownAction) {
		e.Log.Debug("ignoring unknown action", "action", name)
		return Result{Action: Name(name), Status: StatusIgnored, Reason: err.Error()}, nil
	}
	if err != nil {
		e.Log.Debug("aborting action", "action", name, "error", err)
		return Result{Action: Name(name), Status: StatusAborted, Reason: err.Error()}, nil
	}
	return e.Dispatch(ctx, a)
}

// Snapshot returns a deep copy of the current state.
func (e *Engine) Snapshot() state.State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.Clone()
}

// Suggest evaluates the suggestion cascade for the current hour.
func (e *Engine) Suggest() domain.Suggestion {
	e.mu.RLock()
	defer e.mu.RUnlock()
	pending, high := e.state.PendingCounts()
	return e.ai.Suggestion(e.now().In(e.Loc).Hour(), pending, high)
}

// PeakHour reports the learned peak productivity hour.
func (e *Engine) PeakHour() (int, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ai.PeakHour()
}

func (e *Engine) Analytics() state.Analytics {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.Analytics(e.now(), e.Loc)
}

// History returns the last n pattern entries, or all of them when n <= 0.
func (e *Engine) History(n int) []domain.PatternEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h := e.state.History
	if n > 0 && len(h) > n {
		h = h[len(h)-n:]
	}
	return append([]domain.PatternEntry{}, h...)
}

// Reset wipes the store and reloads an empty session. The reload happens
// even when the wipe fails, so the session never keeps a half-reset view.
func (e *Engine) Reset(ctx context.Context, confirmed bool) error {
	if !confirmed {
		return ErrResetNotConfirmed
	}
	var resetErr error
	err := e.submit(ctx, func(ctx context.Context) {
		var loaded []events.Notification
		defer func() { e.Events.Notify(loaded...) }()
		e.mu.Lock()
		defer e.mu.Unlock()
		log := e.Log.With("op", "reset")
		if err := e.Repo.Store.DeleteDatabase(ctx); err != nil {
			log.Error("delete database failed, reloading anyway", "error", err)
			resetErr = fmt.Errorf("delete database: %w", err)
		}
		if e.Session != nil {
			if err := e.Session.Logout(); err != nil {
				log.Warn("clear session failed", "error", err)
			}
		}
		if err := e.Repo.Store.Init(ctx); err != nil {
			resetErr = errors.Join(resetErr, fmt.Errorf("reinit store: %w", err))
			e.state = state.New()
			e.ai.Reset(nil)
			return
		}
		e.state.TasksFilter = state.FilterAll
		n, err := e.load(ctx)
		if err != nil {
			resetErr = errors.Join(resetErr, fmt.Errorf("reload: %w", err))
			return
		}
		loaded = append(loaded, n)
		log.Info("factory reset complete")
	})
	if err != nil {
		return err
	}
	return resetErr
}

type tracker struct {
	e   *Engine
	res *Result
}

func (t tracker) persist(what string, err error) {
	if err == nil {
		return
	}
	t.e.Log.Warn("persist failed, keeping in-memory change", "action", string(t.res.Action), "what", what, "error", err)
	if t.res.PersistErr == nil {
		t.res.PersistErr = fmt.Errorf("persist %s: %w", what, err)
	}
}

// notify records a notification on the result. Sinks see it after the
// action releases mu.
func (t tracker) notify(typ, kind, id string, p events.Payload) {
	t.res.Notifications = append(t.res.Notifications, t.e.Events.Stamp(typ, kind, id, p))
}

func (t tracker) ignore(reason string) {
	t.res.Status = StatusIgnored
	t.res.Reason = reason
}

func (e *Engine) apply(ctx context.Context, a Action) Result {
	res := Result{Action: a.Name(), Status: StatusApplied}
	if err := a.validate(); err != nil {
		res.Status = StatusAborted
		res.Reason = err.Error()
		return res
	}

	e.mu.Lock()
	e.handle(ctx, a, &res)
	e.mu.Unlock()
	e.Events.Notify(res.Notifications...)
	return res
}

// handle runs a against the state. Callers hold mu.
func (e *Engine) handle(ctx context.Context, a Action, res *Result) {
	t := tracker{e: e, res: res}
	log := e.Log.With("action", string(res.Action))
	if !isAuth(res.Action) {
		log.Debug("dispatch", "payload", a)
	}

	switch act := a.(type) {
	case AddTask:
		e.addTask(ctx, t, act)
	case ToggleTask:
		e.toggleTask(ctx, t, act)
	case DeleteTask:
		e.deleteTask(ctx, t, act)
	case AddGoal:
		e.addGoal(ctx, t, act)
	case ToggleGoal:
		e.toggleGoal(ctx, t, act)
	case AddHabit:
		e.addHabit(ctx, t, act)
	case CheckHabit:
		e.checkHabit(ctx, t, act)
	case AddXP:
		e.addXP(ctx, t, act)
	case CompleteFocus:
		e.completeFocus(ctx, t, act)
	case SetTaskFilter:
		e.state.TasksFilter = act.Filter
	case RegisterUser:
		e.register(ctx, t, act)
	case LoginUser:
		e.login(ctx, t, act)
	case LogoutUser:
		e.logout(t)
	default:
		t.ignore(fmt.Sprintf("%s: no handler", a.Name()))
		return
	}

	if !isAuth(res.Action) {
		e.learn(ctx, t, a)
	}
	if res.Status == StatusApplied {
		t.notify(events.TypeRender, "", "", nil)
	}
	log.Debug("dispatched", "status", string(res.Status))
}

func (e *Engine) learn(ctx context.Context, t tracker, a Action) {
	obs := suggest.Observation{Action: string(a.Name()), Payload: a}
	if tt, ok := a.(ToggleTask); ok {
		if i := e.state.TaskIndex(tt.ID); i >= 0 {
			obs.TaskStatus = e.state.Tasks[i].Status
		}
	}
	entry, err := e.ai.Learn(ctx, e.now(), obs)
	if err != nil {
		t.persist("pattern", err)
		return
	}
	if entry != nil {
		e.state.History = append(e.state.History, *entry)
		t.res.Pattern = entry
	}
}

func (e *Engine) awardXP(ctx context.Context, t tracker, amount int) {
	next, award := gamify.AwardXP(e.state.User, amount)
	e.state.User = next
	t.res.Award = &award
	if award.LeveledUp {
		e.Log.Info("level up", "level", award.NewLevel, "xp", award.XP)
		t.notify(events.TypeLevelUp, "user", "", events.Payload{"level": award.NewLevel})
	}
	t.persist("user_xp", e.Repo.PutUserStats(ctx, next))
}

func (e *Engine) awardSkillXP(ctx context.Context, t tracker, id string, amount int) {
	levels, ok := gamify.AwardSkillXP(e.state.Skills, id, amount)
	if !ok {
		return
	}
	sk, _ := e.state.Skill(id)
	if levels > 0 {
		t.notify(events.TypeSkillLevelUp, "skill", sk.ID, events.Payload{"name": sk.Name, "level": sk.Level})
	}
	t.persist("skill "+id, e.Repo.UpdateSkill(ctx, sk))
}

func (e *Engine) addTask(ctx context.Context, t tracker, a AddTask) {
	typ := a.Type
	if typ == "" {
		typ = domain.TaskShallow
	}
	task := domain.Task{
		ID:         e.NewID(),
		Title:      a.Title,
		Difficulty: a.Difficulty,
		Energy:     a.Energy,
		Type:       typ,
		Status:     domain.TaskTodo,
		CreatedAt:  e.now().UTC().Format(time.RFC3339),
		XPValue:    gamify.TaskXP(a.Difficulty, typ),
	}
	e.state.Tasks = append(e.state.Tasks, task)
	t.persist("task", e.Repo.InsertTask(ctx, task))
}

func (e *Engine) toggleTask(ctx context.Context, t tracker, a ToggleTask) {
	i := e.state.TaskIndex(a.ID)
	if i < 0 {
		t.ignore("task not found")
		return
	}
	task := &e.state.Tasks[i]
	wasDone := task.Status == domain.TaskDone
	xp := task.XPValue
	if xp == 0 {
		xp = gamify.DefaultTaskXP
	}
	if wasDone {
		task.Status = domain.TaskTodo
		// Skill XP stays: only the user XP is refunded.
		e.awardXP(ctx, t, -xp)
	} else {
		task.Status = domain.TaskDone
		e.awardXP(ctx, t, xp)
		bonus := gamify.TaskSkillBonus(*task)
		for _, id := range gamify.SkillOrder {
			if amt, ok := bonus[id]; ok {
				e.awardSkillXP(ctx, t, id, amt)
			}
		}
	}
	t.persist("task", e.Repo.UpdateTask(ctx, e.state.Tasks[i]))
}

func (e *Engine) deleteTask(ctx context.Context, t tracker, a DeleteTask) {
	i := e.state.TaskIndex(a.ID)
	if i < 0 {
		t.ignore("task not found")
		return
	}
	e.state.Tasks = append(e.state.Tasks[:i], e.state.Tasks[i+1:]...)
	t.persist("task", e.Repo.DeleteTask(ctx, a.ID))
}

func (e *Engine) addGoal(ctx context.Context, t tracker, a AddGoal) {
	g := domain.Goal{
		ID:        e.NewID(),
		Title:     a.Title,
		Type:      a.Type,
		ParentID:  a.ParentID,
		Status:    domain.GoalActive,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	e.state.Goals = append(e.state.Goals, g)
	t.persist("goal", e.Repo.InsertGoal(ctx, g))
}

func (e *Engine) toggleGoal(ctx context.Context, t tracker, a ToggleGoal) {
	i := e.state.GoalIndex(a.ID)
	if i < 0 {
		t.ignore("goal not found")
		return
	}
	g := &e.state.Goals[i]
	if g.Status == domain.GoalDone {
		// Reopening a goal keeps the reward already granted.
		g.Status = domain.GoalActive
	} else {
		g.Status = domain.GoalDone
		amount := gamify.GoalReward(g.Type)
		e.awardXP(ctx, t, amount)
		t.notify(events.TypeGoalComplete, "goal", g.ID, events.Payload{"title": g.Title, "reward": amount})
		discipline, focus := gamify.GoalSkillBonus(amount)
		e.awardSkillXP(ctx, t, gamify.SkillDiscipline, discipline)
		e.awardSkillXP(ctx, t, gamify.SkillFocus, focus)
	}
	t.persist("goal", e.Repo.UpdateGoal(ctx, e.state.Goals[i]))
}

func (e *Engine) addHabit(ctx context.Context, t tracker, a AddHabit) {
	h := domain.Habit{
		ID:        e.NewID(),
		Title:     a.Title,
		History:   []string{},
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	e.state.Habits = append(e.state.Habits, h)
	t.persist("habit", e.Repo.InsertHabit(ctx, h))
}

func (e *Engine) checkHabit(ctx context.Context, t tracker, a CheckHabit) {
	i := e.state.HabitIndex(a.ID)
	if i < 0 {
		t.ignore("habit not found")
		return
	}
	next, gain, ok := habit.CheckIn(e.state.Habits[i], e.today())
	if !ok {
		t.ignore("already checked in today")
		return
	}
	e.state.Habits[i] = next
	e.Log.Debug("habit checked in", "habit", next.ID, "streak", next.Streak, "gain", gain)
	e.awardXP(ctx, t, gamify.HabitCheckInXP)
	e.awardSkillXP(ctx, t, gamify.SkillDiscipline, gamify.HabitCheckInDiscipline)
	t.persist("habit", e.Repo.UpdateHabit(ctx, next))
}

func (e *Engine) addXP(ctx context.Context, t tracker, a AddXP) {
	amount := *a.Amount
	e.awardXP(ctx, t, amount)
	if a.Source == SourceFocusSession {
		e.awardSkillXP(ctx, t, gamify.SkillFocus, gamify.Round(float64(amount)/2))
	}
}

func (e *Engine) completeFocus(ctx context.Context, t tracker, a CompleteFocus) {
	minutes := a.minutes()
	xp := minutes * gamify.FocusXPPerMinute
	e.awardXP(ctx, t, xp)
	e.awardSkillXP(ctx, t, gamify.SkillFocus, xp)

	entry := domain.PatternEntry{
		Type:      domain.PatternFocusSession,
		Duration:  minutes,
		Timestamp: e.now().UTC().Format(time.RFC3339Nano),
	}
	saved, err := e.Repo.AppendPattern(ctx, entry)
	t.persist("focus session", err)
	if err == nil {
		entry = saved
	}
	e.state.History = append(e.state.History, entry)
}

// reload rebuilds the session after a successful sign-in. A failed reload
// keeps the previous state.
func (e *Engine) reload(ctx context.Context, t tracker) {
	n, err := e.load(ctx)
	if err != nil {
		t.persist("reload", err)
		return
	}
	t.res.Notifications = append(t.res.Notifications, n)
}

func (e *Engine) register(ctx context.Context, t tracker, a RegisterUser) {
	p := domain.UserProfile{
		Username: a.Username,
		Password: a.Password,
		JoinedAt: e.now().UTC().Format(time.RFC3339),
	}
	exists, err := e.Repo.HasProfile(ctx)
	if err != nil {
		e.Log.Warn("read profile failed", "error", err)
	}
	if exists {
		e.Log.Warn("replacing existing profile", "username", a.Username)
	}
	t.persist("profile", e.Repo.PutProfile(ctx, p))
	if e.Session != nil {
		t.persist("session", e.Session.Login(a.Username))
	}
	e.Log.Info("user registered", "username", a.Username)
	e.reload(ctx, t)
}

func (e *Engine) login(ctx context.Context, t tracker, a LoginUser) {
	p, err := e.Repo.GetProfile(ctx)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		e.Log.Warn("read profile failed", "error", err)
	}
	if err != nil || p.Username != a.Username || p.Password != a.Password {
		t.res.Status = StatusDenied
		t.res.Reason = deniedReason
		t.notify(events.TypeAccessDenied, "user", a.Username, nil)
		e.Log.Info("login denied", "username", a.Username)
		return
	}
	if e.Session != nil {
		t.persist("session", e.Session.Login(a.Username))
	}
	e.Log.Info("user logged in", "username", a.Username)
	e.reload(ctx, t)
}

func (e *Engine) logout(t tracker) {
	if e.Session != nil {
		t.persist("session", e.Session.Logout())
	}
	t.notify(events.TypeLogout, "user", "", nil)
}
