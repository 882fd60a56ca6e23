package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"go-helpdesk-insights-ui/internal/insights"
)

const defaultMaxLinks = 5

// Alert is what a sink delivers.
type Alert struct {
	Count int
	Rows  []insights.LimboRow
	Text  string
	At    time.Time
}

// Sink delivers an alert to one destination.
type Sink interface {
	Name() string
	Send(ctx context.Context, alert Alert) error
}

// Decision records what NotifyLimbo did.
type Decision struct {
	Sent      bool          `json:"sent"`
	Count     int           `json:"count"`
	RetryIn   time.Duration `json:"retry_in"`
	Reason    string        `json:"reason,omitempty"`
	Delivered []string      `json:"delivered,omitempty"`
	Failed    []string      `json:"failed,omitempty"`
}

// ObserveFunc receives the outcome of each sink delivery.
type ObserveFunc func(sink string, duration time.Duration, err error)

// Notifier sends limbo alerts through the configured sinks, at most once
// per gate cooldown.
type Notifier struct {
	gate     *Gate
	sinks    []Sink
	maxLinks int
	observe  ObserveFunc
	logger   *zap.Logger
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithMaxLinks caps the number of conversation links in the message.
func WithMaxLinks(n int) Option {
	return func(nt *Notifier) {
		if n > 0 {
			nt.maxLinks = n
		}
	}
}

// WithObserver registers a delivery callback, used for metrics.
func WithObserver(fn ObserveFunc) Option {
	return func(nt *Notifier) { nt.observe = fn }
}

// New builds a Notifier. A nil gate never suppresses alerts.
func New(gate *Gate, sinks []Sink, logger *zap.Logger, opts ...Option) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	n := &Notifier{gate: gate, sinks: sinks, maxLinks: defaultMaxLinks, logger: logger}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Sinks lists the configured sink names.
func (n *Notifier) Sinks() []string {
	out := make([]string, 0, len(n.sinks))
	for _, s := range n.sinks {
		out = append(out, s.Name())
	}
	return out
}

// Gate returns the cooldown gate, nil when none is configured.
func (n *Notifier) Gate() *Gate { return n.gate }

// NotifyLimbo alerts about rows unless there are none or the cooldown has
// not elapsed. The cooldown slot is claimed before delivery so a slow or
// failing webhook cannot cause a second alert from another process.
func (n *Notifier) NotifyLimbo(ctx context.Context, rows []insights.LimboRow, now time.Time) Decision {
	d := Decision{Count: len(rows)}
	if len(rows) == 0 {
		d.Reason = "no limbo conversations"
		return d
	}
	if len(n.sinks) == 0 {
		d.Reason = "no alert sinks configured"
		return d
	}
	if n.gate != nil {
		ok, wait, err := n.gate.TryAcquire(ctx, now)
		if err != nil {
			n.logger.Warn("alert marker unavailable, skipping alert", zap.Error(err))
			d.Reason = "alert marker unavailable"
			return d
		}
		if !ok {
			d.RetryIn = wait
			d.Reason = "cooldown"
			return d
		}
	}

	alert := Alert{Count: len(rows), Rows: rows, Text: LimboMessage(rows, n.maxLinks), At: now}
	for _, s := range n.sinks {
		started := time.Now()
		err := s.Send(ctx, alert)
		if n.observe != nil {
			n.observe(s.Name(), time.Since(started), err)
		}
		if err != nil {
			n.logger.Warn("limbo alert delivery failed", zap.String("sink", s.Name()), zap.Error(err))
			d.Failed = append(d.Failed, s.Name())
			continue
		}
		d.Delivered = append(d.Delivered, s.Name())
	}
	d.Sent = len(d.Delivered) > 0
	n.logger.Info("limbo alert processed",
		zap.Int("count", d.Count),
		zap.Strings("delivered", d.Delivered),
		zap.Strings("failed", d.Failed),
	)
	return d
}

// LimboMessage renders the chat text: a headline with the count and links
// to the most recent conversations.
func LimboMessage(rows []insights.LimboRow, maxLinks int) string {
	if maxLinks <= 0 {
		maxLinks = defaultMaxLinks
	}
	noun := "conversations"
	if len(rows) == 1 {
		noun = "conversation"
	}
	var b strings.Builder
	b.WriteString("*LIMBO DETECTED*\n")
	fmt.Fprintf(&b, "There are *%s %s* with no team and no owner!", humanize.Comma(int64(len(rows))), noun)
	if len(rows) > maxLinks {
		rows = rows[:maxLinks]
	}
	links := make([]string, 0, len(rows))
	for _, r := range rows {
		links = append(links, fmt.Sprintf("<%s|#%s>", r.Link, r.ID))
	}
	if len(links) > 0 {
		b.WriteString("\nRecent: ")
		b.WriteString(strings.Join(links, ", "))
	}
	return b.String()
}
