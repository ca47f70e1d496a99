// Package gamify computes XP rewards, levels and skill progression.
// Every function is pure; callers own the state they pass in.
package gamify

import (
	"math"

	"momentum/internal/domain"
)

const (
	SkillFocus      = "focus"
	SkillDiscipline = "discipline"
	SkillVelocity   = "velocity"
)

const (
	XPPerLevel     = 100
	DefaultTaskXP  = 10
	skillGrowth    = 1.5
	deepMultiplier = 1.5
)

// Fixed rewards outside the task formula.
const (
	HabitCheckInXP         = 15
	HabitCheckInDiscipline = 10
	DeepTaskFocus          = 15
	ShallowTaskVelocity    = 5
	HardTaskDiscipline     = 20
	FocusXPPerMinute       = 2
)

// Round rounds half toward positive infinity.
func Round(x float64) int {
	return int(math.Floor(x + 0.5))
}

func baseXP(d domain.Difficulty) int {
	switch d {
	case domain.DifficultyMedium:
		return 20
	case domain.DifficultyHard:
		return 50
	default:
		return 10
	}
}

// TaskXP is the XP value fixed on a task at creation.
func TaskXP(d domain.Difficulty, t domain.TaskType) int {
	mult := 1.0
	if t == domain.TaskDeep {
		mult = deepMultiplier
	}
	return Round(float64(baseXP(d)) * mult)
}

// addXP returns cur+amount clamped to [0, math.MaxInt].
func addXP(cur, amount int) int {
	if amount > 0 && cur > math.MaxInt-amount {
		return math.MaxInt
	}
	if sum := cur + amount; sum > 0 {
		return sum
	}
	return 0
}

func LevelForXP(xp int) int {
	return xp/XPPerLevel + 1
}

// Award describes the outcome of one AwardXP call.
type Award struct {
	XP        int  `json:"xp"`
	Level     int  `json:"level"`
	LeveledUp bool `json:"leveled_up"`
	NewLevel  int  `json:"new_level,omitempty"`
}

// AwardXP adds amount (possibly negative) to u. XP is floored at zero and
// the level recomputed from the absolute total, so it may go down.
func AwardXP(u domain.UserStats, amount int) (domain.UserStats, Award) {
	oldLevel := u.Level
	u.XP = addXP(u.XP, amount)
	u.Level = LevelForXP(u.XP)
	a := Award{XP: u.XP, Level: u.Level}
	if u.Level > oldLevel {
		a.LeveledUp = true
		a.NewLevel = u.Level
	}
	return u, a
}

// AwardSkillXP applies amount to the skill with the given id and returns
// the number of levels gained. Unknown ids return ok=false and change nothing.
func AwardSkillXP(skills []domain.Skill, id string, amount int) (levels int, ok bool) {
	for i := range skills {
		if skills[i].ID != id {
			continue
		}
		s := &skills[i]
		s.XP = addXP(s.XP, amount)
		if s.MaxXP <= 0 {
			s.MaxXP = XPPerLevel
		}
		for s.XP >= s.MaxXP {
			s.Level++
			s.XP -= s.MaxXP
			s.MaxXP = Round(float64(s.MaxXP) * skillGrowth)
			levels++
		}
		return levels, true
	}
	return 0, false
}

// GoalReward is the XP granted when a goal of type t is completed.
func GoalReward(t domain.GoalType) int {
	switch t {
	case domain.GoalLife:
		return 500
	case domain.GoalYear:
		return 250
	case domain.GoalMonth:
		return 100
	default:
		return 50
	}
}

// GoalSkillBonus splits a goal reward into discipline and focus skill XP.
func GoalSkillBonus(amount int) (discipline, focus int) {
	return Round(float64(amount) * 0.2), Round(float64(amount) * 0.1)
}

// TaskSkillBonus lists the skill awards for completing t. The bonuses are
// independent, so a hard deep task earns both focus and discipline.
func TaskSkillBonus(t domain.Task) map[string]int {
	out := map[string]int{}
	switch t.Type {
	case domain.TaskDeep:
		out[SkillFocus] = DeepTaskFocus
	case domain.TaskShallow:
		out[SkillVelocity] = ShallowTaskVelocity
	}
	if t.Difficulty == domain.DifficultyHard {
		out[SkillDiscipline] = HardTaskDiscipline
	}
	return out
}

// SkillOrder fixes iteration order over skill bonus maps.
var SkillOrder = []string{SkillFocus, SkillDiscipline, SkillVelocity}

func DefaultSkills() []domain.Skill {
	return []domain.Skill{
		{ID: SkillFocus, Name: "Deep Focus", Level: 1, XP: 0, MaxXP: XPPerLevel, Icon: "🧠", Description: "Ability to work without distraction."},
		{ID: SkillDiscipline, Name: "Iron Will", Level: 1, XP: 0, MaxXP: XPPerLevel, Icon: "🛡️", Description: "Consistency in habits and hard tasks."},
		{ID: SkillVelocity, Name: "Velocity", Level: 1, XP: 0, MaxXP: XPPerLevel, Icon: "⚡", Description: "Speed of execution for small tasks."},
	}
}

// NewUserStats is the record seeded for a fresh installation.
func NewUserStats() domain.UserStats {
	return domain.UserStats{XP: 0, Level: 1, Streak: 0}
}
