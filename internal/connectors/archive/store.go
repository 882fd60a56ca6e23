package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"

	_ "github.com/go-sql-driver/mysql"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"go-helpdesk-insights-ui/internal/config"
	"go-helpdesk-insights-ui/internal/insights"
)

// Store wraps the ticket archive MySQL database.
type Store struct {
	db           *sql.DB
	queryTimeout time.Duration
}

// ServiceStats reports archive DB health and volume.
type ServiceStats struct {
	PingMS        int64      `json:"ping_ms"`
	UptimeSeconds int64      `json:"uptime_seconds"`
	TicketsTotal  int64      `json:"tickets_total"`
	Customers     int64      `json:"customers"`
	LastSyncedAt  *time.Time `json:"last_synced_at,omitempty"`
}

// Query filters archived tickets. Term matches the company id exactly or
// the customer name ignoring case and accents.
type Query struct {
	Term   string
	From   time.Time
	To     time.Time
	Limit  int
	Offset int
}

func NewStore(cfg config.Config) (*Store, error) {
	db, err := sql.Open("mysql", cfg.ArchiveDSN())
	if err != nil {
		return nil, err
	}

	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ArchiveConnTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, createTicketsTable); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create helpdesk_tickets: %w", err)
	}

	return &Store{db: db, queryTimeout: cfg.ArchiveQueryTimeout}, nil
}

const createTicketsTable = `
CREATE TABLE IF NOT EXISTS helpdesk_tickets (
  id VARCHAR(64) NOT NULL PRIMARY KEY,
  customer VARCHAR(255) NOT NULL DEFAULT '',
  customer_folded VARCHAR(255) NOT NULL DEFAULT '',
  author_name VARCHAR(255) NOT NULL DEFAULT '',
  author_email VARCHAR(255) NOT NULL DEFAULT '',
  state VARCHAR(32) NOT NULL DEFAULT '',
  company_id VARCHAR(64) NOT NULL DEFAULT '',
  tags_json TEXT NOT NULL,
  preview TEXT NOT NULL,
  link VARCHAR(512) NOT NULL DEFAULT '',
  churn_risk TINYINT(1) NOT NULL DEFAULT 0,
  created_at DATETIME NOT NULL,
  updated_at DATETIME NOT NULL,
  synced_at DATETIME NOT NULL,
  KEY idx_ht_company (company_id),
  KEY idx_ht_customer (customer_folded),
  KEY idx_ht_updated (updated_at)
) DEFAULT CHARSET=utf8mb4;
`

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveBatch upserts tickets by id inside one transaction and returns the
// number written.
func (s *Store) SaveBatch(ctx context.Context, tickets []insights.ArchiveTicket, syncedAt time.Time) (int, error) {
	if len(tickets) == 0 {
		return 0, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO helpdesk_tickets (id, customer, customer_folded, author_name, author_email, state, company_id,
  tags_json, preview, link, churn_risk, created_at, updated_at, synced_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
  customer = VALUES(customer),
  customer_folded = VALUES(customer_folded),
  author_name = VALUES(author_name),
  author_email = VALUES(author_email),
  state = VALUES(state),
  company_id = VALUES(company_id),
  tags_json = VALUES(tags_json),
  preview = VALUES(preview),
  link = VALUES(link),
  churn_risk = VALUES(churn_risk),
  updated_at = VALUES(updated_at),
  synced_at = VALUES(synced_at);
`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for _, t := range tickets {
		tags, err := json.Marshal(nonNil(t.Tags))
		if err != nil {
			return 0, err
		}
		if _, err := stmt.ExecContext(ctx, t.ID, t.Customer, Fold(t.Customer), t.AuthorName, t.AuthorEmail, t.State, t.CompanyID,
			string(tags), t.Preview, t.Link, t.ChurnRisk, t.CreatedAt.UTC(), t.UpdatedAt.UTC(), syncedAt.UTC()); err != nil {
			return 0, fmt.Errorf("save ticket %s: %w", t.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(tickets), nil
}

// Search lists archived tickets, most recently updated first.
func (s *Store) Search(ctx context.Context, q Query) ([]insights.ArchiveTicket, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	where, args := q.clause()
	limit := q.Limit
	if limit <= 0 {
		limit = 200
	}
	args = append(args, limit, max(q.Offset, 0))

	rows, err := s.db.QueryContext(ctx, `
SELECT id, customer, author_name, author_email, state, company_id, tags_json, preview, link, churn_risk, created_at, updated_at
FROM helpdesk_tickets`+where+`
ORDER BY updated_at DESC
LIMIT ? OFFSET ?;
`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]insights.ArchiveTicket, 0)
	for rows.Next() {
		var (
			t    insights.ArchiveTicket
			tags string
		)
		if err := rows.Scan(&t.ID, &t.Customer, &t.AuthorName, &t.AuthorEmail, &t.State, &t.CompanyID, &tags, &t.Preview, &t.Link,
			&t.ChurnRisk, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(tags), &t.Tags); err != nil {
			t.Tags = nil
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Count returns the number of tickets matching q, ignoring limit and offset.
func (s *Store) Count(ctx context.Context, q Query) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	where, args := q.clause()
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM helpdesk_tickets`+where+`;`, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// ServiceStats returns archive health and counters.
func (s *Store) ServiceStats(ctx context.Context) (*ServiceStats, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	start := time.Now()
	if err := s.db.PingContext(ctx); err != nil {
		return nil, err
	}
	out := &ServiceStats{PingMS: time.Since(start).Milliseconds()}

	var statusName string
	var statusValue sql.NullString
	if err := s.db.QueryRowContext(ctx, `SHOW GLOBAL STATUS LIKE 'Uptime';`).Scan(&statusName, &statusValue); err == nil && statusValue.Valid {
		if v, err := time.ParseDuration(statusValue.String + "s"); err == nil {
			out.UptimeSeconds = int64(v.Seconds())
		}
	}

	var last sql.NullTime
	if err := s.db.QueryRowContext(ctx, `
SELECT COUNT(*), COUNT(DISTINCT customer_folded), MAX(synced_at)
FROM helpdesk_tickets;
`).Scan(&out.TicketsTotal, &out.Customers, &last); err != nil {
		return nil, err
	}
	if last.Valid {
		t := last.Time
		out.LastSyncedAt = &t
	}
	return out, nil
}

func (q Query) clause() (string, []any) {
	parts := make([]string, 0, 3)
	args := make([]any, 0, 4)
	if term := strings.TrimSpace(q.Term); term != "" {
		parts = append(parts, "(company_id = ? OR customer_folded LIKE ?)")
		args = append(args, term, "%"+escapeLike(Fold(term))+"%")
	}
	if !q.From.IsZero() {
		parts = append(parts, "updated_at >= ?")
		args = append(args, q.From.UTC())
	}
	if !q.To.IsZero() {
		parts = append(parts, "updated_at < ?")
		args = append(args, q.To.UTC())
	}
	if len(parts) == 0 {
		return "", args
	}
	return "\nWHERE " + strings.Join(parts, " AND "), args
}

// Fold lowercases s and strips diacritics so "Cadência" matches "cadencia".
func Fold(s string) string {
	// Chains hold state, so each call builds its own.
	folder := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(folder, strings.TrimSpace(s))
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func nonNil(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
