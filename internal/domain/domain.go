package domain

type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}

type Energy string

const (
	EnergyLow    Energy = "low"
	EnergyMedium Energy = "medium"
	EnergyHigh   Energy = "high"
)

func (e Energy) Valid() bool {
	switch e {
	case EnergyLow, EnergyMedium, EnergyHigh:
		return true
	}
	return false
}

type TaskType string

const (
	TaskShallow TaskType = "shallow"
	TaskDeep    TaskType = "deep"
)

func (t TaskType) Valid() bool { return t == TaskShallow || t == TaskDeep }

const (
	TaskTodo = "todo"
	TaskDone = "done"
)

type Task struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Difficulty Difficulty `json:"difficulty" enum:"easy,medium,hard"`
	Energy     Energy     `json:"energy" enum:"low,medium,high"`
	Type       TaskType   `json:"type" enum:"shallow,deep"`
	Status     string     `json:"status" enum:"todo,done"`
	CreatedAt  string     `json:"created_at" format:"date-time"`
	XPValue    int        `json:"xp_value"`
}

type GoalType string

const (
	GoalLife  GoalType = "life"
	GoalYear  GoalType = "year"
	GoalMonth GoalType = "month"
	GoalWeek  GoalType = "week"
)

const (
	GoalActive = "active"
	GoalDone   = "done"
)

type Goal struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Type      GoalType `json:"type" enum:"life,year,month,week"`
	ParentID  *string  `json:"parent_id,omitempty"`
	Status    string   `json:"status" enum:"active,done"`
	CreatedAt string   `json:"created_at" format:"date-time"`
}

// Habit history holds ISO dates (YYYY-MM-DD) in insertion order, one per day.
type Habit struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Streak    int      `json:"streak"`
	Stability int      `json:"stability"`
	History   []string `json:"history"`
	CreatedAt string   `json:"created_at" format:"date-time"`
}

// LastCheckIn returns the most recent history date, or "" if none.
func (h Habit) LastCheckIn() string {
	if len(h.History) == 0 {
		return ""
	}
	return h.History[len(h.History)-1]
}

func (h Habit) CheckedOn(date string) bool {
	for _, d := range h.History {
		if d == date {
			return true
		}
	}
	return false
}

type Skill struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Level       int    `json:"level"`
	XP          int    `json:"xp"`
	MaxXP       int    `json:"max_xp"`
	Icon        string `json:"icon"`
	Description string `json:"description"`
}

type UserStats struct {
	XP     int `json:"xp"`
	Level  int `json:"level"`
	Streak int `json:"streak"`
}

// PatternFocusSession is the synthetic pattern type written by COMPLETE_FOCUS.
const PatternFocusSession = "focus_session"

// PatternEntry is one row of the append-only activity log. Duration is only
// set for focus sessions; Hour/Day/Details only for learned actions.
type PatternEntry struct {
	ID        int64  `json:"id,omitempty"`
	Type      string `json:"type"`
	Timestamp string `json:"timestamp" format:"date-time"`
	Hour      *int   `json:"hour,omitempty"`
	Day       *int   `json:"day,omitempty"`
	Details   string `json:"details,omitempty"`
	Duration  int    `json:"duration,omitempty"`
}

type UserProfile struct {
	Username string `json:"username"`
	Password string `json:"password"`
	JoinedAt string `json:"joined_at" format:"date-time"`
}

// Suggestion is the output of the suggestion cascade.
type Suggestion struct {
	Text string `json:"text"`
	Type string `json:"type" enum:"warning,success,info,neutral"`
}

const (
	SuggestionWarning = "warning"
	SuggestionSuccess = "success"
	SuggestionInfo    = "info"
	SuggestionNeutral = "neutral"
)
