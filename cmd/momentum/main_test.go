package main

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"momentum/internal/app"
	"momentum/internal/config"
	"momentum/internal/engine"
	"momentum/internal/logger"
)

func useWorkspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	viper.Reset()
	viper.Set("workspace", dir)
	viper.Set("json", true)
	t.Cleanup(viper.Reset)
	return dir
}

func TestLoadConfigAppliesOverrides(t *testing.T) {
	useWorkspace(t)
	viper.Set("backend", config.BackendMemory)
	viper.Set("timezone", "Asia/Tokyo")
	viper.Set("jwt-secret", "s3cret")

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, config.BackendMemory, cfg.Store.Backend)
	assert.Equal(t, "Asia/Tokyo", cfg.Clock.Timezone)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
}

func TestLoadConfigRejectsBadOverride(t *testing.T) {
	useWorkspace(t)
	viper.Set("backend", "etcd")
	_, err := loadConfig()
	assert.Error(t, err)
}

func TestCommandsRequireLogin(t *testing.T) {
	useWorkspace(t)
	called := false
	err := withUser(context.Background(), func(context.Context, *app.Runtime) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, errNotLoggedIn)
	assert.False(t, called)
}

func TestRegisterThenUserCommand(t *testing.T) {
	useWorkspace(t)
	ctx := context.Background()

	require.NoError(t, withRuntime(ctx, func(ctx context.Context, rt *app.Runtime) error {
		_, err := dispatch(ctx, rt, engine.RegisterUser{Username: "ada", Password: "pw"})
		return err
	}))
	require.NoError(t, withUser(ctx, func(ctx context.Context, rt *app.Runtime) error {
		res, err := dispatch(ctx, rt, engine.AddHabit{Title: "Stretch"})
		assert.Equal(t, engine.StatusApplied, res.Status)
		return err
	}))
	require.NoError(t, withUser(ctx, func(ctx context.Context, rt *app.Runtime) error {
		assert.Len(t, rt.Engine.Snapshot().Habits, 1)
		return nil
	}))

	err := withRuntime(ctx, func(ctx context.Context, rt *app.Runtime) error {
		_, err := dispatch(ctx, rt, engine.LoginUser{Username: "ada", Password: "wrong"})
		return err
	})
	assert.ErrorContains(t, err, "Access Denied")
}

func TestServeUntilDoneDrains(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ok")
	})}
	core, logs := observer.New(zap.WarnLevel)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- serveUntilDone(ctx, srv, ln, time.Second, logger.FromZap(zap.New(core))) }()

	resp, err := http.Get("http://" + ln.Addr().String())
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "ok", string(body))

	cancel()
	require.NoError(t, <-served)
	assert.Zero(t, logs.Len())
}

func TestServeUntilDoneLogsShutdownTimeout(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	entered := make(chan struct{})
	release := make(chan struct{})
	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
	})}
	core, logs := observer.New(zap.WarnLevel)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- serveUntilDone(ctx, srv, ln, 20*time.Millisecond, logger.FromZap(zap.New(core))) }()

	requested := make(chan struct{})
	go func() {
		defer close(requested)
		if resp, err := http.Get("http://" + ln.Addr().String()); err == nil {
			resp.Body.Close()
		}
	}()
	<-entered
	cancel()
	require.NoError(t, <-served)
	close(release)
	<-requested

	entries := logs.FilterMessage("http shutdown").All()
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].ContextMap()["error"], context.DeadlineExceeded.Error())
}
