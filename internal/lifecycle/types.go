// Package lifecycle owns upload sessions and share tokens from creation to
// expiry: the retry coordinator, the expiry reaper and the Manager facade.
package lifecycle

import (
	"context"
	"time"

	"github.com/MimeLyc/menulens/internal/menu"
	"github.com/MimeLyc/menulens/internal/persistence"
)

// Store is the durable record store. Reads filter out records whose
// expires_at is not after now.
type Store interface {
	PutSession(ctx context.Context, session *persistence.UploadSession, now time.Time) error
	GetSession(ctx context.Context, token string, now time.Time) (*persistence.UploadSession, error)
	IncrementRetry(ctx context.Context, token string, now time.Time) (int, error)
	MarkSessionFailed(ctx context.Context, token, reason string, now time.Time) error
	DeleteSession(ctx context.Context, token string) error
	DeleteExpiredSession(ctx context.Context, token string, now time.Time) (bool, error)
	ScanExpiredSessions(ctx context.Context, now time.Time, limit int) ([]*persistence.UploadSession, error)

	PutShare(ctx context.Context, share *persistence.ShareToken, now time.Time) error
	GetShare(ctx context.Context, token string, now time.Time) (*persistence.ShareToken, error)
	DeleteShare(ctx context.Context, token string) error
	DeleteExpiredShare(ctx context.Context, token string, now time.Time) (bool, error)
	ScanExpiredShares(ctx context.Context, now time.Time, limit int) ([]*persistence.ShareToken, error)
}

// Translator is the external menu translation service.
//
// Submit failures typed apperr.ErrPermanent block the session for good;
// every other failure is treated as transient.
type Translator interface {
	Submit(ctx context.Context, fileIDs []string, languageHint string) (*menu.Template, error)
	Release(ctx context.Context, fileID string) error
}

// Clock returns the current time. Tests inject a fake one.
type Clock func() time.Time

const (
	DefaultSessionTTL      = 30 * time.Minute
	DefaultShareTTL        = 24 * time.Hour
	DefaultMaxRetries      = 5
	DefaultWatchdogTimeout = 120 * time.Second
	DefaultSweepBatch      = 500
	DefaultReleaseWorkers  = 4
)

// SessionInfo describes a live upload session.
type SessionInfo struct {
	Token      string    `json:"token"`
	FileCount  int       `json:"file_count"`
	Filenames  []string  `json:"filenames"`
	RetryCount int       `json:"retry_count"`
	MaxRetries int       `json:"max_retries"`
	Failed     bool      `json:"failed"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	TTLSeconds int       `json:"ttl_seconds"`
}

// Share is returned by PublishShare.
type Share struct {
	Token            string    `json:"token"`
	ExpiresAt        time.Time `json:"expires_at"`
	ExpiresInSeconds int       `json:"expires_in_seconds"`
}

// SweepReport summarises one reaper cycle.
type SweepReport struct {
	SessionsReaped  int `json:"sessions_reaped"`
	SharesReaped    int `json:"shares_reaped"`
	SkippedLocked   int `json:"skipped_locked"`
	ReleaseFailures int `json:"release_failures"`
}
