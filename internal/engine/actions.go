package engine

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"momentum/internal/domain"
	"momentum/internal/state"
)

type Name string

const (
	ActAddTask       Name = "ADD_TASK"
	ActToggleTask    Name = "TOGGLE_TASK"
	ActDeleteTask    Name = "DELETE_TASK"
	ActAddGoal       Name = "ADD_GOAL"
	ActToggleGoal    Name = "TOGGLE_GOAL"
	ActAddHabit      Name = "ADD_HABIT"
	ActCheckHabit    Name = "CHECK_HABIT"
	ActAddXP         Name = "ADD_XP"
	ActCompleteFocus Name = "COMPLETE_FOCUS"
	ActSetTaskFilter Name = "SET_TASK_FILTER"
	ActRegisterUser  Name = "REGISTER_USER"
	ActLoginUser     Name = "LOGIN_USER"
	ActLogoutUser    Name = "LOGOUT_USER"
)

// Names lists every recognized action.
var Names = []Name{
	ActAddTask, ActToggleTask, ActDeleteTask,
	ActAddGoal, ActToggleGoal,
	ActAddHabit, ActCheckHabit,
	ActAddXP, ActCompleteFocus, ActSetTaskFilter,
	ActRegisterUser, ActLoginUser, ActLogoutUser,
}

// SourceFocusSession marks ADD_XP awards that also feed the focus skill.
const SourceFocusSession = "focus_session"

const DefaultFocusMinutes = 25

// Upper bounds on a single award.
const (
	MaxFocusMinutes = 24 * 60
	MaxXPDelta      = 1_000_000
)

var ErrUnknownAction = errors.New("unknown action")

// MissingFieldError reports a required payload field that was absent.
type MissingFieldError struct {
	Action Name
	Field  string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("%s: missing required field %q", e.Action, e.Field)
}

// InvalidFieldError reports a payload field outside its allowed values.
type InvalidFieldError struct {
	Action Name
	Field  string
	Value  any
}

func (e *InvalidFieldError) Error() string {
	return fmt.Sprintf("%s: invalid %s %v", e.Action, e.Field, e.Value)
}

// Action is the closed set of requests the dispatcher accepts. Each
// implementation carries its own payload.
type Action interface {
	Name() Name
	validate() error
}

type AddTask struct {
	Title      string            `json:"title"`
	Difficulty domain.Difficulty `json:"difficulty"`
	Energy     domain.Energy     `json:"energy"`
	Type       domain.TaskType   `json:"type,omitempty"`
}

type ToggleTask struct {
	ID string `json:"id"`
}

type DeleteTask struct {
	ID string `json:"id"`
}

type AddGoal struct {
	Title    string          `json:"title"`
	Type     domain.GoalType `json:"type"`
	ParentID *string         `json:"parentId,omitempty"`
}

type ToggleGoal struct {
	ID string `json:"id"`
}

type AddHabit struct {
	Title string `json:"title"`
}

type CheckHabit struct {
	ID string `json:"id"`
}

// AddXP.Amount may be negative.
type AddXP struct {
	Amount *int   `json:"amount"`
	Source string `json:"source,omitempty"`
}

type CompleteFocus struct {
	Minutes int `json:"minutes,omitempty"`
}

type SetTaskFilter struct {
	Filter state.Filter `json:"filter"`
}

type RegisterUser struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginUser struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LogoutUser struct{}

func (AddTask) Name() Name       { return ActAddTask }
func (ToggleTask) Name() Name    { return ActToggleTask }
func (DeleteTask) Name() Name    { return ActDeleteTask }
func (AddGoal) Name() Name       { return ActAddGoal }
func (ToggleGoal) Name() Name    { return ActToggleGoal }
func (AddHabit) Name() Name      { return ActAddHabit }
func (CheckHabit) Name() Name    { return ActCheckHabit }
func (AddXP) Name() Name         { return ActAddXP }
func (CompleteFocus) Name() Name { return ActCompleteFocus }
func (SetTaskFilter) Name() Name { return ActSetTaskFilter }
func (RegisterUser) Name() Name  { return ActRegisterUser }
func (LoginUser) Name() Name     { return ActLoginUser }
func (LogoutUser) Name() Name    { return ActLogoutUser }

func missing(a Name, field string) error { return &MissingFieldError{Action: a, Field: field} }

func (a AddTask) validate() error {
	switch {
	case a.Title == "":
		return missing(ActAddTask, "title")
	case a.Difficulty == "":
		return missing(ActAddTask, "difficulty")
	case a.Energy == "":
		return missing(ActAddTask, "energy")
	case !a.Difficulty.Valid():
		return &InvalidFieldError{ActAddTask, "difficulty", a.Difficulty}
	case !a.Energy.Valid():
		return &InvalidFieldError{ActAddTask, "energy", a.Energy}
	case a.Type != "" && !a.Type.Valid():
		return &InvalidFieldError{ActAddTask, "type", a.Type}
	}
	return nil
}

func (a ToggleTask) validate() error { return requireID(ActToggleTask, a.ID) }
func (a DeleteTask) validate() error { return requireID(ActDeleteTask, a.ID) }
func (a ToggleGoal) validate() error { return requireID(ActToggleGoal, a.ID) }
func (a CheckHabit) validate() error { return requireID(ActCheckHabit, a.ID) }

func requireID(n Name, id string) error {
	if id == "" {
		return missing(n, "id")
	}
	return nil
}

func (a AddGoal) validate() error {
	switch {
	case a.Title == "":
		return missing(ActAddGoal, "title")
	case a.Type == "":
		return missing(ActAddGoal, "type")
	}
	switch a.Type {
	case domain.GoalLife, domain.GoalYear, domain.GoalMonth, domain.GoalWeek:
		return nil
	}
	return &InvalidFieldError{ActAddGoal, "type", a.Type}
}

func (a AddHabit) validate() error {
	if a.Title == "" {
		return missing(ActAddHabit, "title")
	}
	return nil
}

func (a AddXP) validate() error {
	if a.Amount == nil {
		return missing(ActAddXP, "amount")
	}
	if *a.Amount > MaxXPDelta || *a.Amount < -MaxXPDelta {
		return &InvalidFieldError{ActAddXP, "amount", *a.Amount}
	}
	return nil
}

func (a CompleteFocus) validate() error {
	if a.Minutes < 0 || a.Minutes > MaxFocusMinutes {
		return &InvalidFieldError{ActCompleteFocus, "minutes", a.Minutes}
	}
	return nil
}

func (a CompleteFocus) minutes() int {
	if a.Minutes == 0 {
		return DefaultFocusMinutes
	}
	return a.Minutes
}

func (a SetTaskFilter) validate() error {
	if a.Filter == "" {
		return missing(ActSetTaskFilter, "filter")
	}
	if !a.Filter.Valid() {
		return &InvalidFieldError{ActSetTaskFilter, "filter", a.Filter}
	}
	return nil
}

func validateCredentials(n Name, username, password string) error {
	if username == "" {
		return missing(n, "username")
	}
	if password == "" {
		return missing(n, "password")
	}
	return nil
}

func (a RegisterUser) validate() error { return validateCredentials(ActRegisterUser, a.Username, a.Password) }
func (a LoginUser) validate() error    { return validateCredentials(ActLoginUser, a.Username, a.Password) }
func (LogoutUser) validate() error     { return nil }

func isAuth(n Name) bool {
	return n == ActRegisterUser || n == ActLoginUser || n == ActLogoutUser
}

// ParseAction is the only place raw action names meet the typed union. An
// unrecognized name yields ErrUnknownAction; a payload that is missing a
// required field yields *MissingFieldError.
func ParseAction(name string, payload json.RawMessage) (Action, error) {
	var (
		a   Action
		err error
	)
	switch Name(name) {
	case ActAddTask:
		a, err = decode[AddTask](payload)
	case ActToggleTask:
		a, err = decode[ToggleTask](payload)
	case ActDeleteTask:
		a, err = decode[DeleteTask](payload)
	case ActAddGoal:
		a, err = decode[AddGoal](payload)
	case ActToggleGoal:
		a, err = decode[ToggleGoal](payload)
	case ActAddHabit:
		a, err = decode[AddHabit](payload)
	case ActCheckHabit:
		a, err = decode[CheckHabit](payload)
	case ActAddXP:
		a, err = decode[AddXP](payload)
	case ActCompleteFocus:
		a, err = decode[CompleteFocus](payload)
	case ActSetTaskFilter:
		a, err = decode[SetTaskFilter](payload)
	case ActRegisterUser:
		a, err = decode[RegisterUser](payload)
	case ActLoginUser:
		a, err = decode[LoginUser](payload)
	case ActLogoutUser:
		a = LogoutUser{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, name)
	}
	if err != nil {
		return nil, err
	}
	if err := a.validate(); err != nil {
		return nil, err
	}
	return a, nil
}

func decode[T Action](payload json.RawMessage) (Action, error) {
	var v T
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		return v, nil
	}
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", v.Name(), err)
	}
	return v, nil
}
