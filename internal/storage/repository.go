package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	createSchemaSQL = `CREATE TABLE IF NOT EXISTS rate_commits (
        id            UUID PRIMARY KEY,
        pair          TEXT NOT NULL,
        rate          NUMERIC NOT NULL,
        previous_rate NUMERIC NOT NULL,
        change_pct    NUMERIC,
        reason        TEXT NOT NULL,
        committed_at  TIMESTAMPTZ NOT NULL,
        created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
    );
    CREATE INDEX IF NOT EXISTS rate_commits_pair_committed_at_idx
        ON rate_commits (pair, committed_at);
    CREATE TABLE IF NOT EXISTS alerts (
        id         BIGSERIAL PRIMARY KEY,
        pair       TEXT NOT NULL,
        kind       TEXT NOT NULL,
        message    TEXT NOT NULL,
        channels   TEXT[] NOT NULL DEFAULT '{}',
        created_at TIMESTAMPTZ NOT NULL DEFAULT now()
    );`

	insertCommitSQL = `INSERT INTO rate_commits (
        id,
        pair,
        rate,
        previous_rate,
        change_pct,
        reason,
        committed_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    ON CONFLICT (id) DO NOTHING;`

	listCommitsBetweenSQL = `SELECT
        id::text,
        pair,
        rate::text,
        previous_rate::text,
        change_pct::text,
        reason,
        committed_at,
        created_at
    FROM rate_commits
    WHERE pair = $1
      AND committed_at >= $2
      AND committed_at < $3
    ORDER BY committed_at;`

	listRecentCommitsSQL = `SELECT
        id::text,
        pair,
        rate::text,
        previous_rate::text,
        change_pct::text,
        reason,
        committed_at,
        created_at
    FROM rate_commits
    WHERE pair = $1
    ORDER BY committed_at DESC
    LIMIT $2;`

	countCommitsSQL = `SELECT COUNT(*) FROM rate_commits WHERE pair = $1;`

	insertAlertSQL = `INSERT INTO alerts (
        pair,
        kind,
        message,
        channels
    ) VALUES (
        $1,$2,$3,$4
    )
    RETURNING id, pair, kind, message, channels, created_at;`

	listRecentAlertsSQL = `SELECT
        id,
        pair,
        kind,
        message,
        channels,
        created_at
    FROM alerts
    WHERE pair = $1
    ORDER BY created_at DESC
    LIMIT $2;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// CommitStore defines operations for the commit audit log.
type CommitStore interface {
	InsertCommit(ctx context.Context, rec CommitRecord) error
	ListCommitsBetween(ctx context.Context, pair string, from, to time.Time) ([]CommitRecord, error)
	ListRecentCommits(ctx context.Context, pair string, limit int) ([]CommitRecord, error)
	CountCommits(ctx context.Context, pair string) (int64, error)
}

// AlertStore defines operations for alert auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	ListRecentAlerts(ctx context.Context, pair string, limit int) ([]AlertRecord, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to commits and alerts.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// AdvisoryKey maps a pair to a stable advisory lock key.
func AdvisoryKey(pair string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte("rate-oracle-updater:" + pair))
	return int64(h.Sum64())
}

// EnsureSchema creates the tables if they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, createSchemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// best effort; the session lock also goes away with the connection
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertCommit persists a commit. Re-inserting the same ID is a no-op.
func (s *Store) InsertCommit(ctx context.Context, rec CommitRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var change interface{}
	if rec.ChangePct != nil {
		change = rec.ChangePct.String()
	}

	_, execErr := pool.Exec(ctx, insertCommitSQL,
		rec.ID.String(),
		rec.Pair,
		rec.Rate.String(),
		rec.PreviousRate.String(),
		change,
		rec.Reason,
		rec.CommittedAt,
	)
	if execErr != nil {
		return fmt.Errorf("insert commit: %w", execErr)
	}
	return nil
}

// ListCommitsBetween lists commits for a pair within a time window.
func (s *Store) ListCommitsBetween(ctx context.Context, pair string, from, to time.Time) ([]CommitRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listCommitsBetweenSQL, pair, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list commits between: %w", queryErr)
	}
	defer rows.Close()

	return collectCommits(rows, 0)
}

// ListRecentCommits lists the most recent commits ordered by descending time.
func (s *Store) ListRecentCommits(ctx context.Context, pair string, limit int) ([]CommitRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentCommitsSQL, pair, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent commits: %w", queryErr)
	}
	defer rows.Close()

	return collectCommits(rows, limit)
}

// CountCommits counts stored commits for a pair.
func (s *Store) CountCommits(ctx context.Context, pair string) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countCommitsSQL, pair).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count commits: %w", scanErr)
	}
	return count, nil
}

// InsertAlert persists an alert emission.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	channels := alert.Channels
	if channels == nil {
		channels = []string{}
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.Pair,
		alert.Kind,
		alert.Message,
		channels,
	)

	var rec AlertRecord
	if scanErr := row.Scan(
		&rec.ID,
		&rec.Pair,
		&rec.Kind,
		&rec.Message,
		&rec.Channels,
		&rec.CreatedAt,
	); scanErr != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	return rec, nil
}

// ListRecentAlerts lists most recent alerts for a pair.
func (s *Store) ListRecentAlerts(ctx context.Context, pair string, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, pair, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		var rec AlertRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.Pair,
			&rec.Kind,
			&rec.Message,
			&rec.Channels,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

func collectCommits(rows pgx.Rows, capacity int) ([]CommitRecord, error) {
	commits := make([]CommitRecord, 0, capacity)
	for rows.Next() {
		rec, err := scanCommit(rows)
		if err != nil {
			return nil, err
		}
		commits = append(commits, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return commits, nil
}

func scanCommit(rows pgx.Rows) (CommitRecord, error) {
	var (
		idStr       string
		pair        string
		rateStr     string
		previousStr string
		changeStr   sql.NullString
		reason      string
		committedAt time.Time
		createdAt   time.Time
	)

	if err := rows.Scan(
		&idStr,
		&pair,
		&rateStr,
		&previousStr,
		&changeStr,
		&reason,
		&committedAt,
		&createdAt,
	); err != nil {
		return CommitRecord{}, err
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return CommitRecord{}, fmt.Errorf("parse commit id: %w", err)
	}
	rate, err := decimal.NewFromString(rateStr)
	if err != nil {
		return CommitRecord{}, fmt.Errorf("parse rate: %w", err)
	}
	previous, err := decimal.NewFromString(previousStr)
	if err != nil {
		return CommitRecord{}, fmt.Errorf("parse previous rate: %w", err)
	}

	rec := CommitRecord{
		ID:           id,
		Pair:         pair,
		Rate:         rate,
		PreviousRate: previous,
		Reason:       reason,
		CommittedAt:  committedAt,
		CreatedAt:    createdAt,
	}

	if changeStr.Valid {
		change, err := decimal.NewFromString(changeStr.String)
		if err != nil {
			return CommitRecord{}, fmt.Errorf("parse change pct: %w", err)
		}
		rec.ChangePct = &change
	}

	return rec, nil
}
