package persistence

import (
	"fmt"
	"time"

	"github.com/MimeLyc/menulens/internal/apperr"
	"github.com/MimeLyc/menulens/internal/menu"
)

type Kind string

const (
	KindUploadSession Kind = "upload_session"
	KindShareToken    Kind = "share_token"
)

// UploadSession holds the external file handles of one uploaded photo batch.
type UploadSession struct {
	Token        string    `json:"token"`
	FileIDs      []string  `json:"file_ids"`
	Filenames    []string  `json:"filenames"`
	ContentTypes []string  `json:"content_types"`
	RetryCount   int       `json:"retry_count"`
	Failure      string    `json:"failure,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Validate enforces the parallel-slice invariant.
func (s *UploadSession) Validate() error {
	if s.Token == "" {
		return fmt.Errorf("session token is empty")
	}
	if len(s.FileIDs) == 0 {
		return fmt.Errorf("session needs at least one file handle")
	}
	if len(s.Filenames) != len(s.FileIDs) || len(s.ContentTypes) != len(s.FileIDs) {
		return fmt.Errorf("file handles, filenames and content types differ in length: %d/%d/%d",
			len(s.FileIDs), len(s.Filenames), len(s.ContentTypes))
	}
	if !s.ExpiresAt.After(s.CreatedAt) {
		return fmt.Errorf("session expires_at must be after created_at")
	}
	return nil
}

// TTLSeconds is the remaining lifetime in whole seconds, never negative.
func (s *UploadSession) TTLSeconds(now time.Time) int {
	return ttlSeconds(s.ExpiresAt, now)
}

func (s *UploadSession) Clone() *UploadSession {
	if s == nil {
		return nil
	}
	tmp := *s
	tmp.FileIDs = append([]string(nil), s.FileIDs...)
	tmp.Filenames = append([]string(nil), s.Filenames...)
	tmp.ContentTypes = append([]string(nil), s.ContentTypes...)
	return &tmp
}

// ShareToken is a published read-only menu.
type ShareToken struct {
	Token     string         `json:"token"`
	Template  *menu.Template `json:"template"`
	CreatedAt time.Time      `json:"created_at"`
	ExpiresAt time.Time      `json:"expires_at"`
}

func (s *ShareToken) Validate() error {
	if s.Token == "" {
		return fmt.Errorf("share token is empty")
	}
	if err := s.Template.Validate(); err != nil {
		return err
	}
	if !s.ExpiresAt.After(s.CreatedAt) {
		return fmt.Errorf("share expires_at must be after created_at")
	}
	return nil
}

func (s *ShareToken) TTLSeconds(now time.Time) int {
	return ttlSeconds(s.ExpiresAt, now)
}

func (s *ShareToken) Clone() *ShareToken {
	if s == nil {
		return nil
	}
	tmp := *s
	tmp.Template = s.Template.Clone()
	return &tmp
}

func ttlSeconds(expiresAt, now time.Time) int {
	remaining := expiresAt.Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int(remaining / time.Second)
}

func notFound(kind Kind) error {
	// token deliberately omitted: callers must not learn whether it ever existed
	return apperr.Newf(apperr.ErrNotFound, "%s not found", kind)
}

func conflict(kind Kind, token string) error {
	return apperr.Newf(apperr.ErrConflict, "live %s already exists", kind).WithContext("token", token)
}

func invalid(err error) error {
	return apperr.Wrap(err, apperr.ErrValidation, "invalid record")
}
