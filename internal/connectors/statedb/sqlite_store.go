package statedb

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Store keeps app-owned state in SQLite: alert cooldown markers and the
// history of archive sync runs.
type Store struct {
	db *sql.DB
}

// SyncRun is one archive sync execution.
type SyncRun struct {
	ID             string     `json:"id"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	DateFrom       string     `json:"date_from"`
	DateTo         string     `json:"date_to"`
	Company        string     `json:"company"`
	Status         string     `json:"status"`
	Error          string     `json:"error,omitempty"`
	Fetched        int64      `json:"fetched"`
	Approved       int64      `json:"approved"`
	SkippedTeam    int64      `json:"skipped_team"`
	SkippedTags    int64      `json:"skipped_tags"`
	SkippedCompany int64      `json:"skipped_company"`
	ViaContact     int64      `json:"via_contact"`
	Saved          int64      `json:"saved"`
}

// ServiceStats reports state DB health and row counts.
type ServiceStats struct {
	PingMS   int64 `json:"ping_ms"`
	Markers  int64 `json:"markers"`
	SyncRuns int64 `json:"sync_runs"`
}

func NewSQLiteStore(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("sqlite path required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if _, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS alert_markers (
  marker_key TEXT PRIMARY KEY,
  ts REAL NOT NULL,
  updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS sync_runs (
  id TEXT PRIMARY KEY,
  started_at DATETIME NOT NULL,
  finished_at DATETIME,
  date_from TEXT NOT NULL DEFAULT '',
  date_to TEXT NOT NULL DEFAULT '',
  company TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL,
  error TEXT NOT NULL DEFAULT '',
  fetched INTEGER NOT NULL DEFAULT 0,
  approved INTEGER NOT NULL DEFAULT 0,
  skipped_team INTEGER NOT NULL DEFAULT 0,
  skipped_tags INTEGER NOT NULL DEFAULT 0,
  skipped_company INTEGER NOT NULL DEFAULT 0,
  via_contact INTEGER NOT NULL DEFAULT 0,
  saved INTEGER NOT NULL DEFAULT 0
);
`); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_sync_runs_started ON sync_runs(started_at);`); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Marker returns the stored unix timestamp for key. found is false when no
// row exists.
func (s *Store) Marker(ctx context.Context, key string) (ts float64, found bool, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT ts FROM alert_markers WHERE marker_key = ?;`, key).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return ts, true, nil
}

// SetMarker overwrites the timestamp for key.
func (s *Store) SetMarker(ctx context.Context, key string, ts float64) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO alert_markers (marker_key, ts, updated_at)
VALUES (?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(marker_key) DO UPDATE SET ts = excluded.ts, updated_at = CURRENT_TIMESTAMP;
`, key, ts)
	return err
}

// SwapMarker sets key to next only if it still holds old. A missing row
// matches old == 0.
func (s *Store) SwapMarker(ctx context.Context, key string, old, next float64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE alert_markers SET ts = ?, updated_at = CURRENT_TIMESTAMP
WHERE marker_key = ? AND ts = ?;
`, next, key, old)
	if err != nil {
		return false, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return false, err
	} else if n == 1 {
		return true, nil
	}
	if old != 0 {
		return false, nil
	}

	res, err = s.db.ExecContext(ctx, `
INSERT INTO alert_markers (marker_key, ts, updated_at)
VALUES (?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(marker_key) DO NOTHING;
`, key, next)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SaveSyncRun inserts or replaces a sync run row.
func (s *Store) SaveSyncRun(ctx context.Context, run SyncRun) error {
	var finished sql.NullTime
	if run.FinishedAt != nil {
		finished = sql.NullTime{Time: run.FinishedAt.UTC(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO sync_runs (id, started_at, finished_at, date_from, date_to, company, status, error,
  fetched, approved, skipped_team, skipped_tags, skipped_company, via_contact, saved)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  finished_at = excluded.finished_at,
  status = excluded.status,
  error = excluded.error,
  fetched = excluded.fetched,
  approved = excluded.approved,
  skipped_team = excluded.skipped_team,
  skipped_tags = excluded.skipped_tags,
  skipped_company = excluded.skipped_company,
  via_contact = excluded.via_contact,
  saved = excluded.saved;
`, run.ID, run.StartedAt.UTC(), finished, run.DateFrom, run.DateTo, strings.TrimSpace(run.Company), run.Status, run.Error,
		run.Fetched, run.Approved, run.SkippedTeam, run.SkippedTags, run.SkippedCompany, run.ViaContact, run.Saved)
	return err
}

// ListSyncRuns returns the most recent runs first.
func (s *Store) ListSyncRuns(ctx context.Context, limit int) ([]SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, started_at, finished_at, date_from, date_to, company, status, error,
  fetched, approved, skipped_team, skipped_tags, skipped_company, via_contact, saved
FROM sync_runs
ORDER BY started_at DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]SyncRun, 0, limit)
	for rows.Next() {
		var (
			item     SyncRun
			finished sql.NullTime
		)
		if err := rows.Scan(&item.ID, &item.StartedAt, &finished, &item.DateFrom, &item.DateTo, &item.Company, &item.Status, &item.Error,
			&item.Fetched, &item.Approved, &item.SkippedTeam, &item.SkippedTags, &item.SkippedCompany, &item.ViaContact, &item.Saved); err != nil {
			return nil, err
		}
		if finished.Valid {
			t := finished.Time
			item.FinishedAt = &t
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ServiceStats pings the DB and counts rows.
func (s *Store) ServiceStats(ctx context.Context) (*ServiceStats, error) {
	start := time.Now()
	if err := s.db.PingContext(ctx); err != nil {
		return nil, err
	}
	out := &ServiceStats{PingMS: time.Since(start).Milliseconds()}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alert_markers;`).Scan(&out.Markers); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_runs;`).Scan(&out.SyncRuns); err != nil {
		return nil, err
	}
	return out, nil
}
