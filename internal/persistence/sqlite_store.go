package persistence

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/MimeLyc/menulens/pkg/log"
	_ "modernc.org/sqlite"
)

//go:embed migrations/sqlite/*.sql
var sqliteMigrations embed.FS

const sqliteMigrationDir = "migrations/sqlite"

const sessionColumns = `token, file_ids, filenames, content_types, retry_count, failure, created_at, expires_at`

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer keeps per-record read-modify-write sequences atomic
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := sqliteMigrations.ReadDir(sqliteMigrationDir)
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version := migrationVersion(entry.Name())
		if version <= 0 {
			continue
		}
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if exists > 0 {
			continue
		}
		content, err := sqliteMigrations.ReadFile(path.Join(sqliteMigrationDir, entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
		log.Debug("Applied sqlite migration %s", entry.Name())
	}
	return nil
}

// migrationVersion extracts the leading integer from a migration filename (e.g. "001_init.sql" → 1).
func migrationVersion(name string) int {
	for i, c := range name {
		if c < '0' || c > '9' {
			if i == 0 {
				return 0
			}
			n, _ := strconv.Atoi(name[:i])
			return n
		}
	}
	n, _ := strconv.Atoi(name)
	return n
}

// PutSession inserts a session unless a live row holds the token.
// An expired row under the same token is replaced.
func (s *SQLiteStore) PutSession(ctx context.Context, session *UploadSession, now time.Time) (err error) {
	if err := session.Validate(); err != nil {
		return invalid(err)
	}
	fileIDs, err := encodeStrings(session.FileIDs)
	if err != nil {
		return err
	}
	filenames, err := encodeStrings(session.Filenames)
	if err != nil {
		return err
	}
	contentTypes, err := encodeStrings(session.ContentTypes)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx,
		`DELETE FROM upload_sessions WHERE token = ? AND expires_at <= ?`,
		session.Token, toMillis(now),
	); err != nil {
		return fmt.Errorf("clear expired session: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO upload_sessions (`+sessionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(token) DO NOTHING`,
		session.Token,
		fileIDs,
		filenames,
		contentTypes,
		session.RetryCount,
		session.Failure,
		toMillis(session.CreatedAt),
		toMillis(session.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		err = conflict(KindUploadSession, session.Token)
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetSession(ctx context.Context, token string, now time.Time) (*UploadSession, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+`
		 FROM upload_sessions
		 WHERE token = ? AND expires_at > ?`,
		token, toMillis(now),
	)
	session, err := scanSQLiteSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound(KindUploadSession)
		}
		return nil, err
	}
	return session, nil
}

// IncrementRetry bumps retry_count of a live session and returns the new value.
// The expiry check and the update are one statement.
func (s *SQLiteStore) IncrementRetry(ctx context.Context, token string, now time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`UPDATE upload_sessions
		 SET retry_count = retry_count + 1
		 WHERE token = ? AND expires_at > ?
		 RETURNING retry_count`,
		token, toMillis(now),
	).Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, notFound(KindUploadSession)
		}
		return 0, fmt.Errorf("increment retry: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) MarkSessionFailed(ctx context.Context, token string, reason string, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE upload_sessions SET failure = ? WHERE token = ? AND expires_at > ?`,
		reason, token, toMillis(now),
	)
	if err != nil {
		return fmt.Errorf("mark session failed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return notFound(KindUploadSession)
	}
	return nil
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM upload_sessions WHERE token = ?`, token)
	return err
}

// DeleteExpiredSession removes the row only while it is still expired at now.
func (s *SQLiteStore) DeleteExpiredSession(ctx context.Context, token string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM upload_sessions WHERE token = ? AND expires_at <= ?`,
		token, toMillis(now),
	)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *SQLiteStore) ScanExpiredSessions(ctx context.Context, now time.Time, limit int) ([]*UploadSession, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+`
		 FROM upload_sessions
		 WHERE expires_at <= ?
		 ORDER BY expires_at ASC
		 LIMIT ?`,
		toMillis(now), normalizeLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]*UploadSession, 0)
	for rows.Next() {
		session, err := scanSQLiteSession(rows)
		if err != nil {
			return nil, err
		}
		ret = append(ret, session)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *SQLiteStore) PutShare(ctx context.Context, share *ShareToken, now time.Time) (err error) {
	if err := share.Validate(); err != nil {
		return invalid(err)
	}
	templateJSON, err := encodeTemplate(share.Template)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx,
		`DELETE FROM share_tokens WHERE token = ? AND expires_at <= ?`,
		share.Token, toMillis(now),
	); err != nil {
		return fmt.Errorf("clear expired share: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO share_tokens (token, template_json, created_at, expires_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(token) DO NOTHING`,
		share.Token,
		templateJSON,
		toMillis(share.CreatedAt),
		toMillis(share.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("insert share: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		err = conflict(KindShareToken, share.Token)
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetShare(ctx context.Context, token string, now time.Time) (*ShareToken, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT token, template_json, created_at, expires_at
		 FROM share_tokens
		 WHERE token = ? AND expires_at > ?`,
		token, toMillis(now),
	)
	share, err := scanSQLiteShare(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound(KindShareToken)
		}
		return nil, err
	}
	return share, nil
}

func (s *SQLiteStore) DeleteShare(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM share_tokens WHERE token = ?`, token)
	return err
}

func (s *SQLiteStore) DeleteExpiredShare(ctx context.Context, token string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM share_tokens WHERE token = ? AND expires_at <= ?`,
		token, toMillis(now),
	)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *SQLiteStore) ScanExpiredShares(ctx context.Context, now time.Time, limit int) ([]*ShareToken, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT token, template_json, created_at, expires_at
		 FROM share_tokens
		 WHERE expires_at <= ?
		 ORDER BY expires_at ASC
		 LIMIT ?`,
		toMillis(now), normalizeLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]*ShareToken, 0)
	for rows.Next() {
		share, err := scanSQLiteShare(rows)
		if err != nil {
			return nil, err
		}
		ret = append(ret, share)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteSession(row rowScanner) (*UploadSession, error) {
	var (
		session                           UploadSession
		fileIDs, filenames, contentTypes  string
		createdAt, expiresAt              int64
	)
	if err := row.Scan(
		&session.Token,
		&fileIDs,
		&filenames,
		&contentTypes,
		&session.RetryCount,
		&session.Failure,
		&createdAt,
		&expiresAt,
	); err != nil {
		return nil, err
	}
	var err error
	if session.FileIDs, err = decodeStrings([]byte(fileIDs)); err != nil {
		return nil, err
	}
	if session.Filenames, err = decodeStrings([]byte(filenames)); err != nil {
		return nil, err
	}
	if session.ContentTypes, err = decodeStrings([]byte(contentTypes)); err != nil {
		return nil, err
	}
	session.CreatedAt = fromMillis(createdAt)
	session.ExpiresAt = fromMillis(expiresAt)
	return &session, nil
}

func scanSQLiteShare(row rowScanner) (*ShareToken, error) {
	var (
		share                ShareToken
		templateJSON         string
		createdAt, expiresAt int64
	)
	if err := row.Scan(&share.Token, &templateJSON, &createdAt, &expiresAt); err != nil {
		return nil, err
	}
	tpl, err := decodeTemplate([]byte(templateJSON))
	if err != nil {
		return nil, err
	}
	share.Template = tpl
	share.CreatedAt = fromMillis(createdAt)
	share.ExpiresAt = fromMillis(expiresAt)
	return &share, nil
}

const defaultScanLimit = 500

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultScanLimit
	}
	return limit
}
