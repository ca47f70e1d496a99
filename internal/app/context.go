package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"momentum/internal/config"
	"momentum/internal/db"
	"momentum/internal/engine"
	"momentum/internal/events"
	"momentum/internal/logger"
	"momentum/internal/repo"
	"momentum/internal/session"
	"momentum/internal/store"
)

var (
	ErrInitTimeout = errors.New("store initialization timed out")
	ErrInitFailed  = errors.New("store initialization failed")
)

// NewStore builds the backend named by cfg without opening it.
func NewStore(workspace string, cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Backend {
	case config.BackendSQLite:
		return store.NewSQLite(workspace), nil
	case config.BackendMemory:
		return store.NewMemory(), nil
	case config.BackendRedis:
		return store.NewRedis(store.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		}), nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
}

func remediation(workspace string, cfg *config.Config) string {
	switch cfg.Store.Backend {
	case config.BackendRedis:
		return fmt.Sprintf("Check that Redis is running and reachable at %s, or set store.backend to sqlite in %s.",
			cfg.Redis.Addr, config.Path(workspace))
	case config.BackendSQLite:
		return fmt.Sprintf("Check that %s is writable and not locked by another momentum process.", db.Path(workspace))
	}
	return "Retry, or choose another store.backend in " + config.Path(workspace) + "."
}

// OpenStore initializes s, giving up after the configured timeout. Both
// failure modes are fatal to the session and carry remediation guidance.
func OpenStore(ctx context.Context, s store.Store, workspace string, cfg *config.Config) error {
	timeout := cfg.Store.InitTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	errc := make(chan error, 1)
	go func() { errc <- s.Init(ctx) }()
	select {
	case err := <-errc:
		if err == nil {
			return nil
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s: %v\n\n%s", ErrInitTimeout, timeout, err, remediation(workspace, cfg))
		}
		return fmt.Errorf("%w: %v\n\n%s", ErrInitFailed, err, remediation(workspace, cfg))
	case <-ctx.Done():
		return fmt.Errorf("%w after %s\n\n%s", ErrInitTimeout, timeout, remediation(workspace, cfg))
	}
}

// Runtime bundles what one session needs.
type Runtime struct {
	Config  *config.Config
	Store   store.Store
	Engine  *engine.Engine
	Session session.File
	Log     *logger.Logger
}

// Bootstrap opens the configured store, loads state and starts the engine.
func Bootstrap(ctx context.Context, workspace string, cfg *config.Config, log *logger.Logger, sinks ...events.Sink) (*Runtime, error) {
	if log == nil {
		log = logger.Nop()
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	s, err := NewStore(workspace, cfg)
	if err != nil {
		return nil, err
	}
	if err := OpenStore(ctx, s, workspace, cfg); err != nil {
		log.Error("store init failed", "backend", cfg.Store.Backend, "error", err)
		_ = s.Close()
		return nil, err
	}
	log.Info("store opened", "backend", cfg.Store.Backend)

	sess := session.New(workspace)
	eng, err := engine.Open(ctx, repo.Repo{Store: s}, engine.Options{
		Log:      log.With("component", "engine"),
		Sinks:    append([]events.Sink{events.Log(log.With("component", "events"))}, sinks...),
		Session:  sess,
		Location: loc,
	})
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("load state: %w", err)
	}
	return &Runtime{Config: cfg, Store: s, Engine: eng, Session: sess, Log: log}, nil
}

// Close stops the engine and releases the store.
func (r *Runtime) Close() error {
	return errors.Join(r.Engine.Close(), r.Store.Close())
}
