package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MimeLyc/menulens/internal/config"
	"github.com/MimeLyc/menulens/internal/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeScheduler struct {
	called bool
	err    error
}

func (f *fakeScheduler) Schedule(context.Context) error {
	f.called = true
	return f.err
}

type fakeCron struct {
	mu      sync.Mutex
	started bool
	stopped bool
}

func (f *fakeCron) Start() {
	f.mu.Lock()
	f.started = true
	f.mu.Unlock()
}

func (f *fakeCron) Stop() context.Context {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
	return context.Background()
}

type fakeHTTP struct {
	listenCalled chan struct{}
	shutdownOnce sync.Once
	shutdownCh   chan struct{}
	listenErr    error
}

func newFakeHTTP() *fakeHTTP {
	return &fakeHTTP{
		listenCalled: make(chan struct{}),
		shutdownCh:   make(chan struct{}),
	}
}

func (f *fakeHTTP) ListenAndServe(string) error {
	close(f.listenCalled)
	if f.listenErr != nil {
		return f.listenErr
	}
	<-f.shutdownCh
	return http.ErrServerClosed
}

func (f *fakeHTTP) Shutdown(context.Context) error {
	f.shutdownOnce.Do(func() { close(f.shutdownCh) })
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		HTTP:      config.HTTPConfig{Addr: "127.0.0.1:0"},
		Lifecycle: config.LifecycleConfig{ReaperSchedule: "@every 60s"},
	}
}

func TestMain_StartsCronAndHTTP(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scheduler := &fakeScheduler{}
	cronEngine := &fakeCron{}
	httpSrv := newFakeHTTP()

	doneCh := make(chan error, 1)
	go func() {
		doneCh <- runWithComponents(ctx, testConfig(), scheduler, cronEngine, httpSrv)
	}()

	select {
	case <-httpSrv.listenCalled:
	case <-time.After(2 * time.Second):
		t.Fatal("http server did not start")
	}

	cancel()

	select {
	case err := <-doneCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runWithComponents did not exit after cancellation")
	}

	assert.True(t, scheduler.called)
	cronEngine.mu.Lock()
	defer cronEngine.mu.Unlock()
	assert.True(t, cronEngine.started)
	assert.True(t, cronEngine.stopped)
}

func TestMain_ListenFailureStopsCron(t *testing.T) {
	cronEngine := &fakeCron{}
	httpSrv := newFakeHTTP()
	httpSrv.listenErr = errors.New("address in use")

	err := runWithComponents(context.Background(), testConfig(), &fakeScheduler{}, cronEngine, httpSrv)
	assert.EqualError(t, err, "address in use")
	assert.True(t, cronEngine.stopped)
}

func TestMain_ScheduleFailure(t *testing.T) {
	cronEngine := &fakeCron{}
	httpSrv := newFakeHTTP()

	err := runWithComponents(context.Background(), testConfig(), &fakeScheduler{err: errors.New("bad expr")}, cronEngine, httpSrv)
	assert.ErrorContains(t, err, "schedule reaper")
	assert.False(t, cronEngine.started)
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	cfg := &config.Config{Store: config.StoreConfig{Driver: config.DriverMemory}}
	store, err := openStore(ctx, cfg)
	require.NoError(t, err)
	assert.IsType(t, &persistence.MemoryStore{}, store)

	cfg = &config.Config{Store: config.StoreConfig{Driver: config.DriverSQLite, DataDir: filepath.Join(t.TempDir(), "nested")}}
	store, err = openStore(ctx, cfg)
	require.NoError(t, err)
	assert.IsType(t, &persistence.SQLiteStore{}, store)
	assert.FileExists(t, cfg.Store.SQLitePath())
	require.NoError(t, store.Close())
}

func TestMigrateCommand(t *testing.T) {
	t.Setenv("LLM_API_KEY", "")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DATA_DIR", t.TempDir())
	t.Setenv("SETTINGS_FILE", "")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"migrate", "--env-file", filepath.Join(t.TempDir(), "missing.env")})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "sqlite schema is up to date")
}
