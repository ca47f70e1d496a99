package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"momentum/internal/domain"
	"momentum/internal/events"
)

const (
	IconTask    = "📝"
	IconGoal    = "🎯"
	IconHabit   = "🔁"
	IconLevelUp = "🎉"
	IconSkillUp = "🆙"
	IconDenied  = "⛔"
	IconBar     = "█"
)

var (
	cPrimary = lipgloss.Color("63")  // blue
	cAccent  = lipgloss.Color("205") // magenta
	cGood    = lipgloss.Color("42")  // green
	cWarn    = lipgloss.Color("214") // orange
	cBad     = lipgloss.Color("196") // red
	cMuted   = lipgloss.Color("244") // gray
	cGold    = lipgloss.Color("220") // gold
)

var (
	Title = lipgloss.NewStyle().Bold(true).Foreground(cAccent)
	Key   = lipgloss.NewStyle().Bold(true).Foreground(cPrimary)
	Good  = lipgloss.NewStyle().Bold(true).Foreground(cGood)
	Warn  = lipgloss.NewStyle().Bold(true).Foreground(cWarn)
	Bad   = lipgloss.NewStyle().Bold(true).Foreground(cBad)
	Gold  = lipgloss.NewStyle().Bold(true).Foreground(cGold)
	Muted = lipgloss.NewStyle().Foreground(cMuted)

	Panel = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(cMuted).Padding(0, 1)
)

func Heading(icon, title string) string {
	icon = strings.TrimSpace(icon)
	if icon != "" {
		icon += " "
	}
	return Title.Render(icon + title)
}

func LabelValue(label string, value any) string {
	return fmt.Sprintf("%s %v", Key.Render(label+":"), value)
}

func StatusText(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case domain.TaskDone:
		return Good.Render("done")
	case domain.GoalActive:
		return Key.Render("active")
	case domain.TaskTodo:
		return Warn.Render("todo")
	default:
		return Muted.Render(status)
	}
}

// Suggestion renders a suggestion in a panel colored by its type.
func Suggestion(s domain.Suggestion) string {
	style := Muted
	switch s.Type {
	case domain.SuggestionWarning:
		style = Warn
	case domain.SuggestionSuccess:
		style = Good
	case domain.SuggestionInfo:
		style = Key
	}
	return Panel.Render(style.Render(s.Text))
}

// Notification renders the user-facing notifications; others return "".
func Notification(n events.Notification) string {
	switch n.Type {
	case events.TypeLevelUp:
		return Gold.Render(fmt.Sprintf("%s LEVEL UP! You are now Level %v!", IconLevelUp, n.Payload["level"]))
	case events.TypeSkillLevelUp:
		return Gold.Render(fmt.Sprintf("%s SKILL LEVEL UP: %v is now Level %v!", IconSkillUp, n.Payload["name"], n.Payload["level"]))
	case events.TypeGoalComplete:
		return Good.Render(fmt.Sprintf("%s GOAL COMPLETED: +%v XP", IconGoal, n.Payload["reward"]))
	case events.TypeAccessDenied:
		return Bad.Render(IconDenied + " Access Denied: Invalid Credentials.")
	}
	return ""
}

// Bar draws value/max as a fixed-width progress bar.
func Bar(value, max, width int) string {
	if max <= 0 || width <= 0 {
		return ""
	}
	filled := value * width / max
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return Good.Render(strings.Repeat(IconBar, filled)) + Muted.Render(strings.Repeat("░", width-filled))
}
