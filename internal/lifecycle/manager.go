package lifecycle

import (
	"context"
	"strings"
	"time"

	"github.com/MimeLyc/menulens/internal/apperr"
	"github.com/MimeLyc/menulens/internal/menu"
	"github.com/MimeLyc/menulens/internal/persistence"
	"github.com/MimeLyc/menulens/internal/token"
	"github.com/MimeLyc/menulens/pkg/log"
	"github.com/robfig/cron/v3"
	"golang.org/x/text/language"
)

// maxTokenAttempts bounds regeneration after token collisions.
const maxTokenAttempts = 3

type Option func(*Manager)

func WithClock(clock Clock) Option {
	return func(m *Manager) { m.clock = clock }
}

func WithSessionTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.sessionTTL = ttl }
}

func WithShareTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.shareTTL = ttl }
}

func WithMaxRetries(n int) Option {
	return func(m *Manager) { m.maxRetries = n }
}

func WithWatchdogTimeout(d time.Duration) Option {
	return func(m *Manager) { m.watchdog = d }
}

func WithDefaultLanguage(tag string) Option {
	return func(m *Manager) { m.defaultLanguage = tag }
}

// WithSweepBatch sets how many expired rows one reaper scan reads at a time.
func WithSweepBatch(n int) Option {
	return func(m *Manager) { m.sweepBatch = n }
}

func WithSessionTokens(g *token.Generator) Option {
	return func(m *Manager) { m.sessionTokens = g }
}

func WithShareTokens(g *token.Generator) Option {
	return func(m *Manager) { m.shareTokens = g }
}

// Manager is the single entry point for session and share lifecycles.
type Manager struct {
	store      Store
	translator Translator
	locks      *tokenLocks

	clock           Clock
	sessionTTL      time.Duration
	shareTTL        time.Duration
	maxRetries      int
	watchdog        time.Duration
	defaultLanguage string
	sweepBatch      int
	sessionTokens   *token.Generator
	shareTokens     *token.Generator

	coordinator *Coordinator
	reaper      *Reaper
}

func NewManager(store Store, translator Translator, opts ...Option) *Manager {
	m := &Manager{
		store:           store,
		translator:      translator,
		locks:           newTokenLocks(),
		clock:           time.Now,
		sessionTTL:      DefaultSessionTTL,
		shareTTL:        DefaultShareTTL,
		maxRetries:      DefaultMaxRetries,
		watchdog:        DefaultWatchdogTimeout,
		defaultLanguage: "en",
		sweepBatch:      DefaultSweepBatch,
		sessionTokens:   token.NewGenerator(token.SessionBytes),
		shareTokens:     token.NewGenerator(token.ShareBytes),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.coordinator = newCoordinator(m.store, m.translator, m.locks, m.clock, m.maxRetries, m.watchdog)
	m.reaper = newReaper(m.store, m.translator, m.locks, m.clock, m.sweepBatch)
	return m
}

func (m *Manager) now() time.Time {
	return m.clock().UTC()
}

// CreateSession records uploaded file handles under a fresh session token.
func (m *Manager) CreateSession(ctx context.Context, fileIDs, filenames, contentTypes []string) (*SessionInfo, error) {
	for attempt := 0; attempt < maxTokenAttempts; attempt++ {
		tok, err := m.sessionTokens.Generate()
		if err != nil {
			return nil, apperr.Wrap(err, apperr.ErrInternal, "generate session token")
		}
		now := m.now()
		session := &persistence.UploadSession{
			Token:        tok,
			FileIDs:      append([]string(nil), fileIDs...),
			Filenames:    append([]string(nil), filenames...),
			ContentTypes: append([]string(nil), contentTypes...),
			CreatedAt:    now,
			ExpiresAt:    now.Add(m.sessionTTL),
		}
		err = m.store.PutSession(ctx, session, now)
		if apperr.IsErrorType(err, apperr.ErrConflict) {
			log.Warn("Session token collision, regenerating")
			continue
		}
		if err != nil {
			return nil, err
		}
		log.Info("Created session with %d file(s), expires %s", len(fileIDs), session.ExpiresAt.Format(time.RFC3339))
		return m.describe(session, now), nil
	}
	return nil, apperr.Newf(apperr.ErrConflict, "could not allocate a unique session token after %d attempts", maxTokenAttempts)
}

// DescribeSession returns the live session with its remaining lifetime.
func (m *Manager) DescribeSession(ctx context.Context, tok string) (*SessionInfo, error) {
	now := m.now()
	session, err := m.store.GetSession(ctx, tok, now)
	if err != nil {
		return nil, err
	}
	return m.describe(session, now), nil
}

func (m *Manager) describe(session *persistence.UploadSession, now time.Time) *SessionInfo {
	return &SessionInfo{
		Token:      session.Token,
		FileCount:  len(session.FileIDs),
		Filenames:  append([]string(nil), session.Filenames...),
		RetryCount: session.RetryCount,
		MaxRetries: m.maxRetries,
		Failed:     session.Failure != "",
		CreatedAt:  session.CreatedAt,
		ExpiresAt:  session.ExpiresAt,
		TTLSeconds: session.TTLSeconds(now),
	}
}

// RetrySession runs one translation attempt. An empty languageHint falls back
// to the default output language.
func (m *Manager) RetrySession(ctx context.Context, tok, languageHint string) (*menu.Template, error) {
	hint, err := m.normalizeLanguage(languageHint)
	if err != nil {
		return nil, err
	}
	return m.coordinator.Process(ctx, tok, hint)
}

func (m *Manager) normalizeLanguage(hint string) (string, error) {
	hint = strings.TrimSpace(hint)
	if hint == "" {
		hint = m.defaultLanguage
	}
	tag, err := language.Parse(hint)
	if err != nil {
		return "", apperr.Wrap(err, apperr.ErrValidation, "invalid language").WithContext("language", hint)
	}
	return tag.String(), nil
}

// DeleteSession releases the session's file handles and removes it.
// Deleting an unknown or expired session is a no-op; expired ones are left
// to the reaper, which releases their handles.
func (m *Manager) DeleteSession(ctx context.Context, tok string) error {
	unlock, err := m.locks.Lock(ctx, tok)
	if err != nil {
		return apperr.Wrap(err, apperr.ErrBusy, "session is busy")
	}
	defer unlock()

	session, err := m.store.GetSession(ctx, tok, m.now())
	if apperr.IsErrorType(err, apperr.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if failures := releaseAll(ctx, m.translator, session.FileIDs, DefaultReleaseWorkers); failures > 0 {
		log.Warn("Deleted session left %d file handle(s) unreleased", failures)
	}
	if err := m.store.DeleteSession(ctx, tok); err != nil {
		return err
	}
	log.Info("Deleted session with %d file(s)", len(session.FileIDs))
	return nil
}

// PublishShare stores a completed template behind a new share token.
func (m *Manager) PublishShare(ctx context.Context, tpl *menu.Template) (*Share, error) {
	if err := tpl.Validate(); err != nil {
		return nil, apperr.Wrap(err, apperr.ErrValidation, "template cannot be shared")
	}
	for attempt := 0; attempt < maxTokenAttempts; attempt++ {
		tok, err := m.shareTokens.Generate()
		if err != nil {
			return nil, apperr.Wrap(err, apperr.ErrInternal, "generate share token")
		}
		now := m.now()
		share := &persistence.ShareToken{
			Token:     tok,
			Template:  tpl.Clone(),
			CreatedAt: now,
			ExpiresAt: now.Add(m.shareTTL),
		}
		err = m.store.PutShare(ctx, share, now)
		if apperr.IsErrorType(err, apperr.ErrConflict) {
			log.Warn("Share token collision, regenerating")
			continue
		}
		if err != nil {
			return nil, err
		}
		log.Info("Published share with %d dish(es)", tpl.DishCount())
		return &Share{
			Token:            tok,
			ExpiresAt:        share.ExpiresAt,
			ExpiresInSeconds: share.TTLSeconds(now),
		}, nil
	}
	return nil, apperr.Newf(apperr.ErrConflict, "could not allocate a unique share token after %d attempts", maxTokenAttempts)
}

// ResolveShare returns the published template. Unknown and expired tokens
// produce the same NotFound error.
func (m *Manager) ResolveShare(ctx context.Context, tok string) (*menu.Template, error) {
	share, err := m.store.GetShare(ctx, tok, m.now())
	if err != nil {
		return nil, err
	}
	return share.Template, nil
}

// Sweep runs one reaper cycle on demand.
func (m *Manager) Sweep(ctx context.Context) (SweepReport, error) {
	return m.reaper.Sweep(ctx)
}

// ScheduleSweeps registers the reaper on c.
func (m *Manager) ScheduleSweeps(ctx context.Context, c *cron.Cron, expr string) error {
	return m.reaper.Schedule(ctx, c, expr)
}

func (m *Manager) MaxRetries() int {
	return m.maxRetries
}
