// Package notify decides when a limbo alert may go out and delivers it.
package notify

import (
	"context"
	"time"
)

// Marker stores the unix time (seconds) of the last alert. Last returns 0
// for a missing or unreadable marker; err is reserved for backend failures.
type Marker interface {
	Last(ctx context.Context) (float64, error)
	Record(ctx context.Context, ts float64) error
	CompareAndSwap(ctx context.Context, old, next float64) (bool, error)
}

// Gate enforces a cooldown between alerts shared by every process using the
// same marker.
type Gate struct {
	marker   Marker
	cooldown time.Duration
}

func NewGate(marker Marker, cooldown time.Duration) *Gate {
	return &Gate{marker: marker, cooldown: cooldown}
}

// Cooldown is the minimum time between two alerts.
func (g *Gate) Cooldown() time.Duration { return g.cooldown }

// ShouldSend reports whether strictly more than the cooldown has passed
// since the recorded alert. A backend error reads as "never sent".
func (g *Gate) ShouldSend(ctx context.Context, now time.Time) bool {
	last, err := g.marker.Last(ctx)
	if err != nil {
		last = 0
	}
	return g.open(last, now)
}

// Remaining is how long until the gate opens; zero when open.
func (g *Gate) Remaining(ctx context.Context, now time.Time) time.Duration {
	last, err := g.marker.Last(ctx)
	if err != nil {
		return 0
	}
	return g.remaining(last, now)
}

// RecordSend overwrites the marker with now.
func (g *Gate) RecordSend(ctx context.Context, now time.Time) error {
	return g.marker.Record(ctx, unixSeconds(now))
}

// TryAcquire checks the cooldown and, when open, claims the slot by
// swapping the observed marker for now. Of two concurrent callers that
// read the same marker at most one wins. wait is the remaining cooldown
// when the gate is closed.
func (g *Gate) TryAcquire(ctx context.Context, now time.Time) (ok bool, wait time.Duration, err error) {
	last, err := g.marker.Last(ctx)
	if err != nil {
		return false, 0, err
	}
	if !g.open(last, now) {
		return false, g.remaining(last, now), nil
	}
	swapped, err := g.marker.CompareAndSwap(ctx, last, unixSeconds(now))
	if err != nil {
		return false, 0, err
	}
	if !swapped {
		return false, g.cooldown, nil
	}
	return true, 0, nil
}

func (g *Gate) open(last float64, now time.Time) bool {
	return unixSeconds(now)-last > g.cooldown.Seconds()
}

func (g *Gate) remaining(last float64, now time.Time) time.Duration {
	if g.open(last, now) {
		return 0
	}
	left := g.cooldown.Seconds() - (unixSeconds(now) - last)
	if left <= 0 {
		// exactly at the boundary the gate is still closed
		return time.Nanosecond
	}
	return time.Duration(left * float64(time.Second))
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
