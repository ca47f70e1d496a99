package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"momentum/internal/app"
	"momentum/internal/config"
	"momentum/internal/db"
	"momentum/internal/events"
	"momentum/internal/logger"
	"momentum/internal/server"
	"momentum/internal/session"
	"momentum/internal/ui"
)

var rootCmd = &cobra.Command{
	Use:   "momentum",
	Short: "Momentum CLI",
	Long: `Momentum is a single-user productivity tracker that turns work into XP.
Core concepts:
- Tasks: things to do, each worth XP by difficulty; deep work pays 1.5x.
- Goals: life, year, month or week goals, optionally nested; completing one pays a big reward.
- Habits: daily check-ins build a streak; missing a full day resets it.
- Skills: Deep Focus, Iron Will and Velocity level up as you finish the matching work.
- Suggestions: momentum learns your most productive hour and nudges you accordingly.
- Workspace: the .momentum directory holding the database and the login marker.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := db.EnsureWorkspace(viper.GetString("workspace"))
		return err
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println(ui.Bad.Render("error:"), err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("MOMENTUM")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("backend", "", "store backend: sqlite, memory or redis (overrides momentum.yml)")
	rootCmd.PersistentFlags().String("timezone", "", "IANA timezone defining today and the hour of day")
	rootCmd.PersistentFlags().String("log-mode", "", "development or production logging")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "log engine activity to stderr")
	for _, name := range []string{"workspace", "json", "backend", "timezone", "log-mode", "verbose"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
	// Not a flag: secrets come from MOMENTUM_JWT_SECRET or momentum.yml only.
	_ = viper.BindEnv("jwt-secret")
	_ = viper.BindEnv("redis-password")
}

func registerCommands() {
	rootCmd.AddCommand(registerCmd())
	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(logoutCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(goalCmd())
	rootCmd.AddCommand(habitCmd())
	rootCmd.AddCommand(xpCmd())
	rootCmd.AddCommand(focusCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(skillsCmd())
	rootCmd.AddCommand(suggestCmd())
	rootCmd.AddCommand(analyticsCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(resetCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

// --- helpers ---

// loadConfig reads momentum.yml and applies flag and environment overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetString("workspace"))
	if err != nil {
		return nil, err
	}
	if v := viper.GetString("backend"); v != "" {
		cfg.Store.Backend = v
	}
	if v := viper.GetString("timezone"); v != "" {
		cfg.Clock.Timezone = v
	}
	if v := viper.GetString("log-mode"); v != "" {
		cfg.Log.Mode = v
	}
	if v := viper.GetString("jwt-secret"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := viper.GetString("redis-password"); v != "" {
		cfg.Redis.Password = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger honours --verbose; otherwise only warnings reach stderr.
func newLogger(cfg *config.Config) (*logger.Logger, error) {
	if viper.GetBool("verbose") {
		return logger.New(cfg.Log.Mode)
	}
	zc := zap.NewDevelopmentConfig()
	zc.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	zc.DisableStacktrace = true
	z, err := zc.Build()
	if err != nil {
		return nil, err
	}
	return logger.FromZap(z), nil
}

// printNotifications renders user-facing notifications as they happen.
func printNotifications() events.Sink {
	return events.SinkFunc(func(n events.Notification) {
		if viper.GetBool("json") || n.Type == events.TypeAccessDenied {
			return
		}
		if text := ui.Notification(n); text != "" {
			fmt.Println(text)
		}
	})
}

func withRuntime(ctx context.Context, fn func(context.Context, *app.Runtime) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()
	rt, err := app.Bootstrap(ctx, viper.GetString("workspace"), cfg, log, printNotifications())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rt.Close(); cerr != nil {
			log.Warn("close runtime", "error", cerr)
		}
	}()
	return fn(ctx, rt)
}

var errNotLoggedIn = errors.New("not logged in; run 'momentum register' or 'momentum login' first")

// withUser is withRuntime for commands that need a logged in user.
func withUser(ctx context.Context, fn func(context.Context, *app.Runtime) error) error {
	user, err := session.New(viper.GetString("workspace")).Current()
	if err != nil {
		return err
	}
	if user == "" {
		return errNotLoggedIn
	}
	return withRuntime(ctx, fn)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

const shutdownGrace = 5 * time.Second

// serveUntilDone serves on ln until ctx is done, then drains in-flight
// requests for up to grace before returning.
func serveUntilDone(ctx context.Context, srv *http.Server, ln net.Listener, grace time.Duration, log *logger.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			log.Warn("http shutdown", "error", err)
		}
	}()
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-drained
	return nil
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		Long:  "Serve the actions API. Set MOMENTUM_JWT_SECRET to require bearer tokens issued on login.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if addr == "" {
					addr = rt.Config.Server.Addr
				}
				if basePath == "" {
					basePath = rt.Config.Server.BasePath
				}
				if rt.Config.Auth.JWTSecret == "" {
					rt.Log.Warn("serving without authentication; set MOMENTUM_JWT_SECRET to require tokens")
				}
				handler, err := server.New(server.Config{
					Engine:   rt.Engine,
					BasePath: basePath,
					Log:      rt.Log.With("component", "http"),
					Auth: server.AuthConfig{
						JWTSecret: rt.Config.Auth.JWTSecret,
						TokenTTL:  rt.Config.Auth.TokenTTL,
					},
				})
				if err != nil {
					return err
				}
				ln, err := net.Listen("tcp", addr)
				if err != nil {
					return err
				}
				srv := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				fmt.Printf("Serving Momentum API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", ln.Addr(), basePath, basePath)
				return serveUntilDone(ctx, srv, ln, shutdownGrace, rt.Log)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from momentum.yml)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from momentum.yml)")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Manage momentum.yml"}
	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default momentum.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("Wrote", path)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret != "" {
				cfg.Auth.JWTSecret = "[REDACTED]"
			}
			if cfg.Redis.Password != "" {
				cfg.Redis.Password = "[REDACTED]"
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate momentum.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(); err != nil {
				return err
			}
			fmt.Println(ui.Good.Render("config ok"))
			return nil
		},
	})
	return cmd
}
