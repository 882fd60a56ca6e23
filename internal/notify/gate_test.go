package notify

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"go-helpdesk-insights-ui/internal/connectors/statedb"
)

var t0 = time.Unix(1_700_000_000, 0)

func TestGate_StrictCooldown(t *testing.T) {
	ctx := context.Background()
	m := NewFileMarker(filepath.Join(t.TempDir(), "marker.json"))
	g := NewGate(m, 600*time.Second)

	if err := g.RecordSend(ctx, t0); err != nil {
		t.Fatalf("RecordSend: %v", err)
	}
	cases := []struct {
		after time.Duration
		want  bool
	}{
		{599 * time.Second, false},
		{600 * time.Second, false},
		{601 * time.Second, true},
	}
	for _, tc := range cases {
		if got := g.ShouldSend(ctx, t0.Add(tc.after)); got != tc.want {
			t.Errorf("ShouldSend at +%s = %v, want %v", tc.after, got, tc.want)
		}
	}
	if left := g.Remaining(ctx, t0.Add(599*time.Second)); left != time.Second {
		t.Errorf("expected 1s remaining, got %s", left)
	}
}

func TestGate_MissingOrCorruptMarkerIsZero(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	missing := NewGate(NewFileMarker(filepath.Join(dir, "none.json")), 600*time.Second)
	if !missing.ShouldSend(ctx, t0) {
		t.Fatalf("missing marker should allow sending")
	}

	for name, content := range map[string]string{
		"garbage":  "not json",
		"wrong":    `{"timestamp":"yesterday"}`,
		"negative": `{"timestamp":-5}`,
	} {
		path := filepath.Join(dir, name+".json")
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
		m := NewFileMarker(path)
		last, err := m.Last(ctx)
		if err != nil || last != 0 {
			t.Errorf("%s: expected 0 without error, got %v err=%v", name, last, err)
		}
		if !NewGate(m, 600*time.Second).ShouldSend(ctx, t0) {
			t.Errorf("%s: corrupt marker should allow sending", name)
		}
	}
}

func TestFileMarker_RoundTripAndSwap(t *testing.T) {
	ctx := context.Background()
	m := NewFileMarker(filepath.Join(t.TempDir(), "marker.json"))
	ts := 1_700_000_000.25

	ok, err := m.CompareAndSwap(ctx, 0, ts)
	if err != nil || !ok {
		t.Fatalf("first swap: ok=%v err=%v", ok, err)
	}
	if ok, _ := m.CompareAndSwap(ctx, 0, ts+1); ok {
		t.Fatalf("stale swap must fail")
	}
	last, err := m.Last(ctx)
	if err != nil || last != ts {
		t.Fatalf("expected %v, got %v err=%v", ts, last, err)
	}
}

func TestGate_TryAcquireSingleWinner(t *testing.T) {
	store, err := statedb.NewSQLiteStore(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open state db: %v", err)
	}
	defer store.Close()

	markers := map[string]Marker{
		"sqlite": NewSQLiteMarker(store, "limbo"),
		"file":   NewFileMarker(filepath.Join(t.TempDir(), "marker.json")),
	}
	for name, m := range markers {
		t.Run(name, func(t *testing.T) {
			g := NewGate(m, 600*time.Second)
			var wins atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					ok, _, err := g.TryAcquire(context.Background(), t0)
					if err != nil {
						t.Errorf("TryAcquire: %v", err)
					}
					if ok {
						wins.Add(1)
					}
				}()
			}
			wg.Wait()
			if wins.Load() != 1 {
				t.Fatalf("expected exactly one winner, got %d", wins.Load())
			}

			ok, wait, err := g.TryAcquire(context.Background(), t0.Add(time.Minute))
			if err != nil || ok {
				t.Fatalf("expected closed gate, ok=%v err=%v", ok, err)
			}
			if wait != 9*time.Minute {
				t.Fatalf("expected 9m wait, got %s", wait)
			}
		})
	}
}

func TestRedisMarker_UnreachableReportsError(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond, MaxRetries: -1})
	defer client.Close()

	m := NewRedisMarker(client, "helpdesk:test")
	if _, err := m.Last(context.Background()); err == nil {
		t.Fatalf("expected connection error")
	}
	g := NewGate(m, time.Minute)
	if _, _, err := g.TryAcquire(context.Background(), t0); err == nil {
		t.Fatalf("TryAcquire should surface backend errors")
	}
	if !g.ShouldSend(context.Background(), t0) {
		t.Fatalf("ShouldSend treats backend errors as never sent")
	}
}
