package lifecycle

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MimeLyc/menulens/internal/menu"
	"github.com/MimeLyc/menulens/internal/persistence"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type submitFunc func(ctx context.Context, fileIDs []string, hint string) (*menu.Template, error)

// fakeTranslator counts calls and tracks how many Submit calls overlap.
type fakeTranslator struct {
	mu          sync.Mutex
	submit      submitFunc
	calls       int
	inFlight    int
	maxInFlight int
	hints       []string
	released    map[string]int
	releaseErr  error
}

func newFakeTranslator(submit submitFunc) *fakeTranslator {
	if submit == nil {
		submit = func(context.Context, []string, string) (*menu.Template, error) {
			return completedTemplate(), nil
		}
	}
	return &fakeTranslator{submit: submit, released: make(map[string]int)}
}

func (f *fakeTranslator) Submit(ctx context.Context, fileIDs []string, hint string) (*menu.Template, error) {
	f.mu.Lock()
	f.calls++
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.hints = append(f.hints, hint)
	submit := f.submit
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()
	return submit(ctx, fileIDs, hint)
}

func (f *fakeTranslator) Release(_ context.Context, fileID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released[fileID]++
	return f.releaseErr
}

func (f *fakeTranslator) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeTranslator) MaxInFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInFlight
}

func (f *fakeTranslator) Released(fileID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.released[fileID]
}

func completedTemplate() *menu.Template {
	price := "9"
	return &menu.Template{
		Status:           menu.StatusCompleted,
		OriginalLanguage: "fr",
		Sections: []menu.Section{{
			Title: "Plats",
			Dishes: []menu.Dish{{
				OriginalName:   "Boeuf bourguignon",
				TranslatedName: "Beef stew",
				Description:    "Beef braised in red wine",
				Price:          &price,
			}},
		}},
	}
}

type storeFactory func(t *testing.T) Store

var storeBackends = []struct {
	name     string
	newStore storeFactory
}{
	{name: "memory", newStore: func(*testing.T) Store { return persistence.NewMemoryStore() }},
	{name: "sqlite", newStore: func(t *testing.T) Store {
		store, err := persistence.NewSQLiteStore(filepath.Join(t.TempDir(), "menulens.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		return store
	}},
}

// forEachStore runs the scenario once per store backend.
func forEachStore(t *testing.T, run func(t *testing.T, newStore storeFactory)) {
	for _, backend := range storeBackends {
		t.Run(backend.name, func(t *testing.T) {
			run(t, backend.newStore)
		})
	}
}

type fixture struct {
	store      Store
	clock      *fakeClock
	translator *fakeTranslator
	manager    *Manager
}

func newFixtureOn(t *testing.T, newStore storeFactory, submit submitFunc, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		store:      newStore(t),
		clock:      newFakeClock(),
		translator: newFakeTranslator(submit),
	}
	opts = append([]Option{WithClock(f.clock.Now)}, opts...)
	f.manager = NewManager(f.store, f.translator, opts...)
	return f
}

func (f *fixture) createSession(t *testing.T, fileIDs ...string) string {
	t.Helper()
	if len(fileIDs) == 0 {
		fileIDs = []string{"file-1", "file-2"}
	}
	names := make([]string, len(fileIDs))
	types := make([]string, len(fileIDs))
	for i := range fileIDs {
		names[i] = fileIDs[i] + ".jpg"
		types[i] = "image/jpeg"
	}
	info, err := f.manager.CreateSession(context.Background(), fileIDs, names, types)
	require.NoError(t, err)
	return info.Token
}

func (f *fixture) retryCount(t *testing.T, tok string) int {
	t.Helper()
	session, err := f.store.GetSession(context.Background(), tok, f.clock.Now())
	require.NoError(t, err)
	return session.RetryCount
}
