package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS event_log (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	ts      TIMESTAMP NOT NULL,
	subject TEXT NOT NULL,
	payload TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_event_log_subject ON event_log(subject);

CREATE TABLE IF NOT EXISTS snapshots (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
`

// SQLiteStore is the on-disk event log. It is safe for concurrent use, but
// total order of ids is only guaranteed when appends are serialized through
// the Appender.
type SQLiteStore struct {
	db      *sqlx.DB
	timeout time.Duration
}

// OpenSQLite opens (creating if necessary) the database at path and applies
// the schema. Use ":memory:" for tests.
func OpenSQLite(path string, timeout time.Duration) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// modernc sqlite serializes writes; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db, timeout: timeout}, nil
}

// Append writes one entry and returns its assigned id.
func (s *SQLiteStore) Append(ctx context.Context, subject string, payload any) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal payload for %s: %w", subject, err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO event_log (ts, subject, payload) VALUES (?, ?, ?)`,
		time.Now().UTC(), subject, string(raw))
	if err != nil {
		return 0, fmt.Errorf("append %s: %w", subject, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append %s: last id: %w", subject, err)
	}
	return id, nil
}

// StreamFrom returns up to limit entries with id >= from, ascending.
func (s *SQLiteStore) StreamFrom(ctx context.Context, from int64, limit int) ([]Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.db.QueryxContext(ctx,
		`SELECT id, ts, subject, payload FROM event_log WHERE id >= ? ORDER BY id ASC LIMIT ?`,
		from, limit)
	if err != nil {
		return nil, fmt.Errorf("stream from %d: %w", from, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e       Entry
			payload string
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Subject, &payload); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.Payload = json.RawMessage(payload)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// LastID returns the highest assigned id, 0 when the log is empty.
func (s *SQLiteStore) LastID(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var id sql.NullInt64
	err := s.db.GetContext(ctx, &id, `SELECT MAX(id) FROM event_log`)
	if err != nil {
		return 0, fmt.Errorf("last id: %w", err)
	}
	return id.Int64, nil
}

// Truncate removes all entries. Only the recovery service calls this, and
// only on an explicit replay reset.
func (s *SQLiteStore) Truncate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM event_log`); err != nil {
		return fmt.Errorf("truncate event log: %w", err)
	}
	return nil
}

// SaveSnapshot upserts a latest-snapshot row.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, key string, value any) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal snapshot %s: %w", key, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(raw), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", key, err)
	}
	return nil
}

// LoadSnapshot reads a latest-snapshot row into v. Returns false when the key
// has never been written.
func (s *SQLiteStore) LoadSnapshot(ctx context.Context, key string, v any) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var raw string
	err := s.db.GetContext(ctx, &raw, `SELECT value FROM snapshots WHERE key = ?`, key)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load snapshot %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("decode snapshot %s: %w", key, err)
	}
	return true, nil
}

// DeleteSnapshots clears the read-model projections ahead of a replay reset.
func (s *SQLiteStore) DeleteSnapshots(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM snapshots`); err != nil {
		return fmt.Errorf("delete snapshots: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Snapshot keys for latest-state rows.
const (
	SnapshotAllocation    = "allocation"
	SnapshotHighWatermark = "high_watermark"
	SnapshotTotalSwept    = "total_swept"
	SnapshotPositions     = "positions"
	SnapshotDailyStart    = "daily_start_equity"
)
