package dashboard

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"go-helpdesk-insights-ui/internal/connectors/intercom"
	"go-helpdesk-insights-ui/internal/insights"
	"go-helpdesk-insights-ui/internal/notify"
)

// LimboSnapshot is the result of one limbo check.
type LimboSnapshot struct {
	Status    intercom.Status     `json:"status"`
	Error     string              `json:"error,omitempty"`
	Rows      []insights.LimboRow `json:"rows"`
	Decision  notify.Decision     `json:"decision"`
	CheckedAt time.Time           `json:"checked_at"`
}

// LimboMonitor periodically looks for unassigned open conversations and
// alerts through the notifier.
type LimboMonitor struct {
	svc      *Service
	notifier *notify.Notifier
	interval time.Duration
	logger   *zap.Logger

	mu   sync.RWMutex
	last *LimboSnapshot
}

// NewLimboMonitor builds a monitor. A nil notifier only records snapshots.
func NewLimboMonitor(svc *Service, notifier *notify.Notifier, interval time.Duration, logger *zap.Logger) *LimboMonitor {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LimboMonitor{svc: svc, notifier: notifier, interval: interval, logger: logger}
}

// RunOnce performs one check. A failed fetch never triggers an alert.
func (m *LimboMonitor) RunOnce(ctx context.Context) LimboSnapshot {
	view := m.svc.Limbo(ctx)
	snap := LimboSnapshot{
		Status:    view.Status,
		Error:     view.Error,
		Rows:      view.Data,
		CheckedAt: view.GeneratedAt,
	}
	switch {
	case view.Status != intercom.StatusOK && view.Status != intercom.StatusEmpty:
		m.logger.Warn("limbo check failed", zap.String("status", string(view.Status)), zap.String("error", view.Error))
		snap.Decision = notify.Decision{Reason: "fetch failed"}
	case m.notifier != nil:
		snap.Decision = m.notifier.NotifyLimbo(ctx, view.Data, view.GeneratedAt)
	default:
		snap.Decision = notify.Decision{Count: len(view.Data), Reason: "notifier disabled"}
	}

	m.mu.Lock()
	m.last = &snap
	m.mu.Unlock()
	return snap
}

// Run checks immediately and then on every tick until ctx is done.
func (m *LimboMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RunOnce(ctx)
		}
	}
}

// Snapshot returns the latest check, if any ran.
func (m *LimboMonitor) Snapshot() (LimboSnapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.last == nil {
		return LimboSnapshot{}, false
	}
	return *m.last, true
}
