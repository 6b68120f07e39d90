package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// ErrVersionConflict reports that another writer claimed the same
// (session_key, version) pair first. Within one process the serializer
// prevents this; it can still happen when another instance writes the
// same session.
var ErrVersionConflict = errors.New("graph version conflict")

type PostgresStore struct {
	db *sql.DB
}

// Open dials Postgres through the pgx stdlib driver, bounds the pool, and
// verifies the connection with a ping before handing the store back.
func Open(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) InsertUtterance(ctx context.Context, u Utterance) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO utterances (utterance_id, session_key, user_id, text, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, u.ID, u.SessionKey, u.UserID, u.Text, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert utterance: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListUtterances(ctx context.Context, sessionKey string) ([]Utterance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT utterance_id, session_key, user_id, text, created_at
		FROM utterances
		WHERE session_key=$1
		ORDER BY created_at ASC
	`, sessionKey)
	if err != nil {
		return nil, fmt.Errorf("list utterances: %w", err)
	}
	defer rows.Close()

	items := make([]Utterance, 0)
	for rows.Next() {
		var item Utterance
		if err := rows.Scan(&item.ID, &item.SessionKey, &item.UserID, &item.Text, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan utterance: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate utterances: %w", err)
	}
	return items, nil
}

// LatestSnapshot returns the newest version for a session and the raw
// graph_state of its most recent snapshot. A session with no versions yet
// returns (nil, nil, nil).
func (s *PostgresStore) LatestSnapshot(ctx context.Context, sessionKey string) (*GraphVersion, []byte, error) {
	var gv GraphVersion
	err := s.db.QueryRowContext(ctx, `
		SELECT graph_version_id, session_key, version, created_at
		FROM graph_versions
		WHERE session_key=$1
		ORDER BY version DESC
		LIMIT 1
	`, sessionKey).Scan(&gv.ID, &gv.SessionKey, &gv.Version, &gv.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("latest version: %w", err)
	}

	var state []byte
	err = s.db.QueryRowContext(ctx, `
		SELECT graph_state
		FROM graph_snapshots
		WHERE graph_version_id=$1
		ORDER BY created_at DESC
		LIMIT 1
	`, gv.ID).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return &gv, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("latest snapshot: %w", err)
	}
	return &gv, state, nil
}

// nextVersion assigns the next version number for a session, 1 when none
// exist yet. It runs against whatever querier the caller is inside, so
// PersistSnapshot can compute it within its own transaction.
func nextVersion(ctx context.Context, q rowQuerier, sessionKey string) (int, error) {
	var latest sql.NullInt64
	err := q.QueryRowContext(ctx, `
		SELECT MAX(version) FROM graph_versions WHERE session_key=$1
	`, sessionKey).Scan(&latest)
	if err != nil {
		return 0, fmt.Errorf("next version: %w", err)
	}
	if !latest.Valid {
		return 1, nil
	}
	return int(latest.Int64) + 1, nil
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PersistSnapshot creates the version row and its snapshot row in one
// transaction; a version is never visible without its snapshot. The version
// number is assigned inside the transaction so serialized writers see no
// gaps. Returns the assigned version number.
func (s *PostgresStore) PersistSnapshot(ctx context.Context, sessionKey, versionID string, state []byte) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin persist tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	version, err := nextVersion(ctx, tx, sessionKey)
	if err != nil {
		return 0, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO graph_versions (graph_version_id, session_key, version)
		VALUES ($1, $2, $3)
	`, versionID, sessionKey, version); err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("persist version %d for %s: %w", version, sessionKey, ErrVersionConflict)
		}
		return 0, fmt.Errorf("insert graph version: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO graph_snapshots (graph_snapshot_id, graph_version_id, graph_state)
		VALUES ($1, $2, $3)
	`, uuid.NewString(), versionID, state); err != nil {
		return 0, fmt.Errorf("insert graph snapshot: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit persist tx: %w", err)
	}
	return version, nil
}

func (s *PostgresStore) ListVersions(ctx context.Context, sessionKey string) ([]GraphVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT graph_version_id, session_key, version, created_at
		FROM graph_versions
		WHERE session_key=$1
		ORDER BY version ASC
	`, sessionKey)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	items := make([]GraphVersion, 0)
	for rows.Next() {
		var item GraphVersion
		if err := rows.Scan(&item.ID, &item.SessionKey, &item.Version, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate versions: %w", err)
	}
	return items, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
