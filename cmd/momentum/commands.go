package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"momentum/internal/app"
	"momentum/internal/domain"
	"momentum/internal/engine"
	"momentum/internal/state"
	"momentum/internal/ui"
)

// dispatch runs one action and reports its outcome. Aborted and denied
// actions become errors so the process exits non-zero.
func dispatch(ctx context.Context, rt *app.Runtime, a engine.Action) (engine.Result, error) {
	res, err := rt.Engine.Dispatch(ctx, a)
	if err != nil {
		return res, err
	}
	if viper.GetBool("json") {
		if err := printJSON(res); err != nil {
			return res, err
		}
	}
	switch res.Status {
	case engine.StatusAborted:
		return res, errors.New(res.Reason)
	case engine.StatusDenied:
		return res, errors.New(ui.IconDenied + " " + res.Reason)
	case engine.StatusIgnored:
		if !viper.GetBool("json") {
			fmt.Println(ui.Muted.Render("nothing changed: " + res.Reason))
		}
	}
	if res.PersistErr != nil && !viper.GetBool("json") {
		fmt.Println(ui.Warn.Render("warning: change kept for this session but not saved: " + res.PersistErr.Error()))
	}
	return res, nil
}

func printAward(res engine.Result) {
	if viper.GetBool("json") || res.Award == nil || res.Status != engine.StatusApplied {
		return
	}
	fmt.Println(ui.LabelValue("XP", fmt.Sprintf("%d (level %d)", res.Award.XP, res.Award.Level)))
}

func done(msg string) {
	if !viper.GetBool("json") {
		fmt.Println(ui.Good.Render(msg))
	}
}

// --- auth ---

func credentialFlags(cmd *cobra.Command, username, password *string) {
	cmd.Flags().StringVarP(username, "username", "u", "", "username")
	cmd.Flags().StringVarP(password, "password", "p", "", "password (prompted when omitted)")
	_ = cmd.MarkFlagRequired("username")
}

func promptPassword(password string) (string, error) {
	if password != "" {
		return password, nil
	}
	fmt.Print("Password: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func registerCmd() *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create the local profile and log in",
		Long:  "Registering again replaces the existing profile.",
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := promptPassword(password)
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if _, err := dispatch(ctx, rt, engine.RegisterUser{Username: username, Password: pw}); err != nil {
					return err
				}
				done("Welcome, " + username + "!")
				return nil
			})
		},
	}
	credentialFlags(cmd, &username, &password)
	return cmd
}

func loginCmd() *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in with the stored profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := promptPassword(password)
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if _, err := dispatch(ctx, rt, engine.LoginUser{Username: username, Password: pw}); err != nil {
					return err
				}
				done("Logged in as " + username)
				return nil
			})
		},
	}
	credentialFlags(cmd, &username, &password)
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Log out; data stays in the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if _, err := dispatch(ctx, rt, engine.LogoutUser{}); err != nil {
					return err
				}
				done("Logged out")
				return nil
			})
		},
	}
}

// --- tasks ---

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "task", Short: "Manage tasks"}
	cmd.AddCommand(taskAddCmd())
	cmd.AddCommand(taskListCmd())
	cmd.AddCommand(taskToggleCmd())
	cmd.AddCommand(taskDeleteCmd())
	cmd.AddCommand(taskFilterCmd())
	return cmd
}

func taskAddCmd() *cobra.Command {
	var difficulty, energy, typ string
	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Add a task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				res, err := dispatch(ctx, rt, engine.AddTask{
					Title:      strings.Join(args, " "),
					Difficulty: domain.Difficulty(difficulty),
					Energy:     domain.Energy(energy),
					Type:       domain.TaskType(typ),
				})
				if err != nil {
					return err
				}
				if res.Status == engine.StatusApplied && !viper.GetBool("json") {
					snap := rt.Engine.Snapshot()
					t := snap.Tasks[len(snap.Tasks)-1]
					fmt.Printf("%s %s %s\n", ui.IconTask, ui.Key.Render(t.ID), ui.Muted.Render(fmt.Sprintf("(%d XP)", t.XPValue)))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&difficulty, "difficulty", "d", string(domain.DifficultyMedium), "easy, medium or hard")
	cmd.Flags().StringVarP(&energy, "energy", "e", string(domain.EnergyMedium), "low, medium or high")
	cmd.Flags().StringVarP(&typ, "type", "t", string(domain.TaskShallow), "shallow or deep")
	return cmd
}

func printTasks(tasks []domain.Task) error {
	if viper.GetBool("json") {
		return printJSON(tasks)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Title", "Status", "Difficulty", "Energy", "Type", "XP"})
	for _, t := range tasks {
		tw.AppendRow(table.Row{t.ID, t.Title, ui.StatusText(t.Status), t.Difficulty, t.Energy, t.Type, t.XPValue})
	}
	tw.Render()
	return nil
}

func taskListCmd() *cobra.Command {
	var filter string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := state.Filter(filter)
			if !f.Valid() {
				return fmt.Errorf("--filter must be all, active, completed or deep (got %q)", filter)
			}
			return withUser(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				snap := rt.Engine.Snapshot()
				return printTasks(snap.FilterTasks(f))
			})
		},
	}
	cmd.Flags().StringVarP(&filter, "filter", "f", string(state.FilterAll), "all, active, completed or deep")
	return cmd
}

// taskFilterCmd sets the session filter and shows the resulting view. The
// filter is never persisted, so it lasts for this invocation only.
func taskFilterCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "filter <all|active|completed|deep>",
		Short:     "Show tasks through a view filter",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"all", "active", "completed", "deep"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if _, err := dispatch(ctx, rt, engine.SetTaskFilter{Filter: state.Filter(args[0])}); err != nil {
					return err
				}
				snap := rt.Engine.Snapshot()
				return printTasks(snap.FilterTasks(snap.TasksFilter))
			})
		},
	}
}

func taskToggleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <id>",
		Short: "Mark a task done, or reopen it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				res, err := dispatch(ctx, rt, engine.ToggleTask{ID: args[0]})
				if err != nil {
					return err
				}
				printAward(res)
				return nil
			})
		},
	}
}

func taskDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				res, err := dispatch(ctx, rt, engine.DeleteTask{ID: args[0]})
				if err == nil && res.Status == engine.StatusApplied {
					done("Deleted " + args[0])
				}
				return err
			})
		},
	}
}

// --- goals ---

func goalCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "goal", Short: "Manage goals"}
	cmd.AddCommand(goalAddCmd())
	cmd.AddCommand(goalListCmd())
	cmd.AddCommand(goalToggleCmd())
	return cmd
}

func goalAddCmd() *cobra.Command {
	var typ, parent string
	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Add a goal",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := engine.AddGoal{Title: strings.Join(args, " "), Type: domain.GoalType(typ)}
			if parent != "" {
				a.ParentID = &parent
			}
			return withUser(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				res, err := dispatch(ctx, rt, a)
				if err == nil && res.Status == engine.StatusApplied && !viper.GetBool("json") {
					snap := rt.Engine.Snapshot()
					fmt.Printf("%s %s\n", ui.IconGoal, ui.Key.Render(snap.Goals[len(snap.Goals)-1].ID))
				}
				return err
			})
		},
	}
	cmd.Flags().StringVarP(&typ, "type", "t", string(domain.GoalWeek), "life, year, month or week")
	cmd.Flags().StringVar(&parent, "parent", "", "parent goal id")
	return cmd
}

func goalListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show goals as a tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				goals := rt.Engine.Snapshot().Goals
				if viper.GetBool("json") {
					return printJSON(goals)
				}
				known := map[string]bool{}
				for _, g := range goals {
					known[g.ID] = true
				}
				children := map[string][]domain.Goal{}
				var roots []domain.Goal
				for _, g := range goals {
					if g.ParentID != nil && known[*g.ParentID] {
						children[*g.ParentID] = append(children[*g.ParentID], g)
						continue
					}
					roots = append(roots, g)
				}
				for i, g := range roots {
					printGoalTree(g, children, "", i == len(roots)-1)
				}
				return nil
			})
		},
	}
}

func printGoalTree(g domain.Goal, children map[string][]domain.Goal, prefix string, last bool) {
	connector := "├── "
	newPrefix := prefix + "│   "
	if last {
		connector = "└── "
		newPrefix = prefix + "    "
	}
	fmt.Printf("%s%s%s %s [%s] %s\n", prefix, connector, g.Title, ui.Muted.Render(string(g.Type)), ui.StatusText(g.Status), ui.Muted.Render(g.ID))
	for i, c := range children[g.ID] {
		printGoalTree(c, children, newPrefix, i == len(children[g.ID])-1)
	}
}

func goalToggleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <id>",
		Short: "Complete a goal, or reopen it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				res, err := dispatch(ctx, rt, engine.ToggleGoal{ID: args[0]})
				if err != nil {
					return err
				}
				printAward(res)
				return nil
			})
		},
	}
}

// --- habits ---

func habitCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "habit", Short: "Manage habits"}
	cmd.AddCommand(&cobra.Command{
		Use:   "add <title>",
		Short: "Add a habit",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				res, err := dispatch(ctx, rt, engine.AddHabit{Title: strings.Join(args, " ")})
				if err == nil && res.Status == engine.StatusApplied && !viper.GetBool("json") {
					snap := rt.Engine.Snapshot()
					fmt.Printf("%s %s\n", ui.IconHabit, ui.Key.Render(snap.Habits[len(snap.Habits)-1].ID))
				}
				return err
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List habits with streaks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				habits := rt.Engine.Snapshot().Habits
				if viper.GetBool("json") {
					return printJSON(habits)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Streak", "Stability", "Last check-in"})
				for _, h := range habits {
					last := "never"
					if n := len(h.History); n > 0 {
						last = h.History[n-1]
					}
					tw.AppendRow(table.Row{h.ID, h.Title, h.Streak, ui.Bar(h.Stability, 100, 10), last})
				}
				tw.Render()
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "check <id>",
		Short: "Check in a habit for today",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				res, err := dispatch(ctx, rt, engine.CheckHabit{ID: args[0]})
				if err != nil {
					return err
				}
				printAward(res)
				return nil
			})
		},
	})
	return cmd
}

// --- xp & focus ---

func xpCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "xp", Short: "Adjust XP"}
	var source string
	add := &cobra.Command{
		Use:   "add <amount>",
		Short: "Grant (or with a negative amount, remove) XP",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("amount must be an integer: %w", err)
			}
			return withUser(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				res, err := dispatch(ctx, rt, engine.AddXP{Amount: &amount, Source: source})
				if err != nil {
					return err
				}
				printAward(res)
				return nil
			})
		},
	}
	add.Flags().StringVar(&source, "source", "", "where the XP came from; focus_session also trains Deep Focus")
	cmd.AddCommand(add)
	return cmd
}

func focusCmd() *cobra.Command {
	var minutes int
	cmd := &cobra.Command{
		Use:   "focus",
		Short: "Record a completed focus session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if _, err := dispatch(ctx, rt, engine.CompleteFocus{Minutes: minutes}); err != nil {
					return err
				}
				done(fmt.Sprintf("Focus session logged: %d minutes", minutes))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&minutes, "minutes", "m", engine.DefaultFocusMinutes, "session length in minutes")
	return cmd
}

// --- views ---

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show level, XP and today's suggestion",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				snap := rt.Engine.Snapshot()
				sug := rt.Engine.Suggest()
				pending, high := snap.PendingCounts()
				user, _ := rt.Session.Current()
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"username":      user,
						"user":          snap.User,
						"pending_tasks": pending,
						"high_energy":   high,
						"suggestion":    sug,
					})
				}
				fmt.Println(ui.Heading("", "Momentum · "+user))
				fmt.Println(ui.LabelValue("Level", snap.User.Level))
				fmt.Println(ui.LabelValue("XP", fmt.Sprintf("%d %s", snap.User.XP, ui.Bar(snap.User.XP%100, 100, 20))))
				fmt.Println(ui.LabelValue("Pending tasks", fmt.Sprintf("%d (%d high energy)", pending, high)))
				fmt.Println(ui.Suggestion(sug))
				return nil
			})
		},
	}
}

func skillsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "skills",
		Short: "Show skill levels",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				skills := rt.Engine.Snapshot().Skills
				if viper.GetBool("json") {
					return printJSON(skills)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"", "Skill", "Level", "Progress", "XP"})
				for _, s := range skills {
					tw.AppendRow(table.Row{s.Icon, s.Name, s.Level, ui.Bar(s.XP, s.MaxXP, 15), fmt.Sprintf("%d/%d", s.XP, s.MaxXP)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func suggestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "suggest",
		Short: "Get a suggestion for right now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				sug := rt.Engine.Suggest()
				peak, ok := rt.Engine.PeakHour()
				if viper.GetBool("json") {
					out := map[string]any{"suggestion": sug}
					if ok {
						out["peak_hour"] = peak
					}
					return printJSON(out)
				}
				fmt.Println(ui.Suggestion(sug))
				if ok {
					fmt.Println(ui.LabelValue("Peak hour", fmt.Sprintf("%02d:00", peak)))
				}
				return nil
			})
		},
	}
}

func analyticsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analytics",
		Short: "Completion rate and the last seven days of activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				a := rt.Engine.Analytics()
				if viper.GetBool("json") {
					return printJSON(a)
				}
				fmt.Println(ui.LabelValue("Completion", fmt.Sprintf("%d%% (%d of %d tasks)", a.CompletionRate, a.CompletedTasks, a.TotalTasks)))
				most := 1
				for _, d := range a.Trend {
					if d.Count > most {
						most = d.Count
					}
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Day", "Activity", ""})
				for _, d := range a.Trend {
					tw.AppendRow(table.Row{d.Date, d.Count, ui.Bar(d.Count, most, 20)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Pattern log",
		Long:  "The behavioral history momentum learns from: completed tasks, habit check-ins, XP grants and focus sessions.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var typ string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest pattern entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				var items []domain.PatternEntry
				for _, p := range rt.Engine.History(0) {
					if typ == "" || p.Type == typ {
						items = append(items, p)
					}
				}
				if n > 0 && len(items) > n {
					items = items[len(items)-n:]
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"#", "Type", "When", "Hour", "Details"})
				for _, p := range items {
					hour := ""
					if p.Hour != nil {
						hour = strconv.Itoa(*p.Hour)
					}
					details := p.Details
					if p.Duration > 0 {
						details = fmt.Sprintf("%d min", p.Duration)
					}
					tw.AppendRow(table.Row{p.ID, p.Type, p.Timestamp, hour, details})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&n, "n", "n", 20, "number of entries")
	cmd.Flags().StringVar(&typ, "type", "", "entry type filter, e.g. TOGGLE_TASK")
	return cmd
}

// --- reset ---

func resetCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Factory reset: delete all data in this workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				fmt.Print("This deletes every task, goal, habit, skill and the profile. Type 'reset' to confirm: ")
				line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
				yes = strings.TrimSpace(line) == "reset"
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if err := rt.Engine.Reset(ctx, yes); err != nil {
					return err
				}
				done("Workspace reset")
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}
