package dashboard

import (
	"sort"
	"sync"
	"time"
)

const maxNotices = 20

// Progress is the latest page report of one labelled fetch.
type Progress struct {
	Label     string    `json:"label"`
	Fetched   int       `json:"fetched"`
	Total     int       `json:"total"`
	Fraction  float64   `json:"fraction"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Notice is one throttle wait announced by the HTTP client.
type Notice struct {
	Wait    time.Duration `json:"wait"`
	Attempt int           `json:"attempt"`
	At      time.Time     `json:"at"`
}

// ProgressSnapshot is the board's content at one point in time.
type ProgressSnapshot struct {
	Fetches []Progress `json:"fetches"`
	Notices []Notice   `json:"notices"`
}

// ProgressBoard collects cosmetic progress from collectors and throttle
// notices from the client for display.
type ProgressBoard struct {
	mu      sync.Mutex
	now     func() time.Time
	fetches map[string]Progress
	notices []Notice
}

func NewProgressBoard() *ProgressBoard {
	return &ProgressBoard{now: time.Now, fetches: make(map[string]Progress)}
}

// Report matches intercom.ProgressFunc.
func (b *ProgressBoard) Report(label string, fetched, total int, fraction float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fetches[label] = Progress{Label: label, Fetched: fetched, Total: total, Fraction: fraction, UpdatedAt: b.now()}
}

// Notice records a throttle wait; only the most recent ones are kept.
func (b *ProgressBoard) Notice(wait time.Duration, attempt int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notices = append(b.notices, Notice{Wait: wait, Attempt: attempt, At: b.now()})
	if len(b.notices) > maxNotices {
		b.notices = b.notices[len(b.notices)-maxNotices:]
	}
}

// Snapshot copies the board, fetches ordered by label.
func (b *ProgressBoard) Snapshot() ProgressSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := ProgressSnapshot{
		Fetches: make([]Progress, 0, len(b.fetches)),
		Notices: append(make([]Notice, 0, len(b.notices)), b.notices...),
	}
	for _, p := range b.fetches {
		out.Fetches = append(out.Fetches, p)
	}
	sort.Slice(out.Fetches, func(i, j int) bool { return out.Fetches[i].Label < out.Fetches[j].Label })
	return out
}
