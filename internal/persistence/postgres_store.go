package persistence

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/postgres/*.sql
var postgresMigrations embed.FS

const postgresMigrationDir = "migrations/postgres"

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunPostgresMigrations applies the embedded goose migrations.
func RunPostgresMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(postgresMigrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	if err := gooseUpContext(ctx, db, postgresMigrationDir); err != nil {
		return fmt.Errorf("apply postgres migrations: %w", err)
	}
	return nil
}

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects via pgx and migrates the schema.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("database url is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := RunPostgresMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an already migrated connection.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresStore) PutSession(ctx context.Context, session *UploadSession, now time.Time) (err error) {
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
		`DELETE FROM upload_sessions WHERE token = $1 AND expires_at <= $2`,
		session.Token, now.UTC(),
	); err != nil {
		return fmt.Errorf("clear expired session: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO upload_sessions (`+sessionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (token) DO NOTHING`,
		session.Token,
		fileIDs,
		filenames,
		contentTypes,
		session.RetryCount,
		session.Failure,
		session.CreatedAt.UTC(),
		session.ExpiresAt.UTC(),
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

func (s *PostgresStore) GetSession(ctx context.Context, token string, now time.Time) (*UploadSession, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+`
		 FROM upload_sessions
		 WHERE token = $1 AND expires_at > $2`,
		token, now.UTC(),
	)
	session, err := scanPostgresSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound(KindUploadSession)
		}
		return nil, err
	}
	return session, nil
}

func (s *PostgresStore) IncrementRetry(ctx context.Context, token string, now time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`UPDATE upload_sessions
		 SET retry_count = retry_count + 1
		 WHERE token = $1 AND expires_at > $2
		 RETURNING retry_count`,
		token, now.UTC(),
	).Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, notFound(KindUploadSession)
		}
		return 0, fmt.Errorf("increment retry: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) MarkSessionFailed(ctx context.Context, token string, reason string, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE upload_sessions SET failure = $1 WHERE token = $2 AND expires_at > $3`,
		reason, token, now.UTC(),
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

func (s *PostgresStore) DeleteSession(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM upload_sessions WHERE token = $1`, token)
	return err
}

func (s *PostgresStore) DeleteExpiredSession(ctx context.Context, token string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM upload_sessions WHERE token = $1 AND expires_at <= $2`,
		token, now.UTC(),
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

func (s *PostgresStore) ScanExpiredSessions(ctx context.Context, now time.Time, limit int) ([]*UploadSession, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+`
		 FROM upload_sessions
		 WHERE expires_at <= $1
		 ORDER BY expires_at ASC
		 LIMIT $2`,
		now.UTC(), normalizeLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]*UploadSession, 0)
	for rows.Next() {
		session, err := scanPostgresSession(rows)
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

func (s *PostgresStore) PutShare(ctx context.Context, share *ShareToken, now time.Time) (err error) {
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
		`DELETE FROM share_tokens WHERE token = $1 AND expires_at <= $2`,
		share.Token, now.UTC(),
	); err != nil {
		return fmt.Errorf("clear expired share: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO share_tokens (token, template_json, created_at, expires_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (token) DO NOTHING`,
		share.Token,
		templateJSON,
		share.CreatedAt.UTC(),
		share.ExpiresAt.UTC(),
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

func (s *PostgresStore) GetShare(ctx context.Context, token string, now time.Time) (*ShareToken, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT token, template_json, created_at, expires_at
		 FROM share_tokens
		 WHERE token = $1 AND expires_at > $2`,
		token, now.UTC(),
	)
	share, err := scanPostgresShare(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound(KindShareToken)
		}
		return nil, err
	}
	return share, nil
}

func (s *PostgresStore) DeleteShare(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM share_tokens WHERE token = $1`, token)
	return err
}

func (s *PostgresStore) DeleteExpiredShare(ctx context.Context, token string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM share_tokens WHERE token = $1 AND expires_at <= $2`,
		token, now.UTC(),
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

func (s *PostgresStore) ScanExpiredShares(ctx context.Context, now time.Time, limit int) ([]*ShareToken, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT token, template_json, created_at, expires_at
		 FROM share_tokens
		 WHERE expires_at <= $1
		 ORDER BY expires_at ASC
		 LIMIT $2`,
		now.UTC(), normalizeLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]*ShareToken, 0)
	for rows.Next() {
		share, err := scanPostgresShare(rows)
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

func scanPostgresSession(row rowScanner) (*UploadSession, error) {
	var (
		session                          UploadSession
		fileIDs, filenames, contentTypes []byte
	)
	if err := row.Scan(
		&session.Token,
		&fileIDs,
		&filenames,
		&contentTypes,
		&session.RetryCount,
		&session.Failure,
		&session.CreatedAt,
		&session.ExpiresAt,
	); err != nil {
		return nil, err
	}
	var err error
	if session.FileIDs, err = decodeStrings(fileIDs); err != nil {
		return nil, err
	}
	if session.Filenames, err = decodeStrings(filenames); err != nil {
		return nil, err
	}
	if session.ContentTypes, err = decodeStrings(contentTypes); err != nil {
		return nil, err
	}
	session.CreatedAt = session.CreatedAt.UTC()
	session.ExpiresAt = session.ExpiresAt.UTC()
	return &session, nil
}

func scanPostgresShare(row rowScanner) (*ShareToken, error) {
	var (
		share        ShareToken
		templateJSON []byte
	)
	if err := row.Scan(&share.Token, &templateJSON, &share.CreatedAt, &share.ExpiresAt); err != nil {
		return nil, err
	}
	tpl, err := decodeTemplate(templateJSON)
	if err != nil {
		return nil, err
	}
	share.Template = tpl
	share.CreatedAt = share.CreatedAt.UTC()
	share.ExpiresAt = share.ExpiresAt.UTC()
	return &share, nil
}
