package intercom

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type recordedSleeps struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *recordedSleeps) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.waits = append(r.waits, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *recordedSleeps) all() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.waits...)
}

func newTestClient(t *testing.T, baseURL string, opts ...Option) *Client {
	t.Helper()
	c, err := New(baseURL, "tok", opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestDo_SuccessSetsHeaders(t *testing.T) {
	var gotAuth, gotVersion, gotType, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotVersion = r.Header.Get("Intercom-Version")
		gotType = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, WithVersion("2.11"))
	raw, err := c.Do(context.Background(), http.MethodPost, "/conversations/search", map[string]int{"a": 1}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(raw) != `{"ok":true}` {
		t.Fatalf("unexpected body %s", raw)
	}
	if gotAuth != "Bearer tok" {
		t.Fatalf("expected bearer auth, got %q", gotAuth)
	}
	if gotVersion != "2.11" {
		t.Fatalf("expected version header, got %q", gotVersion)
	}
	if gotType != "application/json" {
		t.Fatalf("expected json content type, got %q", gotType)
	}
	if gotBody != `{"a":1}` {
		t.Fatalf("unexpected request body %q", gotBody)
	}
}

func TestDo_EmptySuccessBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	raw, err := newTestClient(t, srv.URL).Do(context.Background(), http.MethodGet, "/admins", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(raw) != "{}" {
		t.Fatalf("expected empty object, got %s", raw)
	}
}

func TestDo_RetriesUsingResetHeader(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(now.Unix()+5, 10))
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"admins":[]}`))
	}))
	defer srv.Close()

	sleeps := &recordedSleeps{}
	var notices atomic.Int32
	c := newTestClient(t, srv.URL,
		WithClock(func() time.Time { return now }),
		WithSleeper(sleeps.sleep),
		WithNotice(func(time.Duration, int) { notices.Add(1) }),
	)
	if _, err := c.Do(context.Background(), http.MethodGet, "/admins", nil, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 calls, got %d", calls.Load())
	}
	waits := sleeps.all()
	if len(waits) != 1 {
		t.Fatalf("expected one wait, got %v", waits)
	}
	if waits[0] < 5*time.Second || waits[0] > 7*time.Second {
		t.Fatalf("expected ~6s wait, got %s", waits[0])
	}
	if notices.Load() != 1 {
		t.Fatalf("expected one throttle notice, got %d", notices.Load())
	}
}

func TestDo_ExhaustsAfterThreeAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	sleeps := &recordedSleeps{}
	c := newTestClient(t, srv.URL, WithSleeper(sleeps.sleep))
	_, err := c.Do(context.Background(), http.MethodGet, "/admins", nil, nil)

	var rl *RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if rl.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", rl.Attempts)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 calls, got %d", calls.Load())
	}
	waits := sleeps.all()
	want := []time.Duration{2 * time.Second, 3 * time.Second, 5 * time.Second}
	if len(waits) != len(want) {
		t.Fatalf("expected waits %v, got %v", want, waits)
	}
	for i := range want {
		if waits[i] != want[i] {
			t.Fatalf("wait %d: expected %s, got %s", i, want[i], waits[i])
		}
	}
	if Classify(err) != StatusTransient {
		t.Fatalf("expected transient classification, got %s", Classify(err))
	}
}

func TestDo_ServerErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(strings.Repeat("x", 1000)))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Do(context.Background(), http.MethodGet, "/admins", nil, nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != 500 {
		t.Fatalf("expected 500, got %d", apiErr.StatusCode)
	}
	if len(apiErr.Body) != 512 {
		t.Fatalf("expected body truncated to 512 bytes, got %d", len(apiErr.Body))
	}
	if calls.Load() != 1 {
		t.Fatalf("expected exactly 1 call, got %d", calls.Load())
	}
	if Classify(err) != StatusFatal {
		t.Fatalf("expected fatal classification, got %s", Classify(err))
	}
}

func TestDo_NetworkErrorIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newTestClient(t, url, WithTimeout(time.Second)).Do(context.Background(), http.MethodGet, "/admins", nil, nil)
	if err == nil {
		t.Fatalf("expected error")
	}
	if Classify(err) != StatusFatal {
		t.Fatalf("expected fatal classification, got %s", Classify(err))
	}
}

func TestDo_CancelledDuringWait(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c := newTestClient(t, srv.URL, WithSleeper(func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}))
	_, err := c.Do(ctx, http.MethodGet, "/admins", nil, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestDo_AbsoluteURLMustStayOnHost(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	if _, err := c.Do(context.Background(), http.MethodGet, srv.URL+"/admins/activity_logs?page=2", nil, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotQuery != "page=2" {
		t.Fatalf("expected page=2 query, got %q", gotQuery)
	}

	_, err := c.Do(context.Background(), http.MethodGet, "https://evil.example.com/admins", nil, nil)
	if !errors.Is(err, ErrForeignHost) {
		t.Fatalf("expected ErrForeignHost, got %v", err)
	}
}

func TestDo_ObserverSeesNormalizedOperation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	var op string
	c := newTestClient(t, srv.URL, WithObserver(func(operation string, _ time.Duration, _ error) { op = operation }))
	if _, err := c.Do(context.Background(), http.MethodGet, "/teams/2975006", nil, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if op != "GET /teams/{id}" {
		t.Fatalf("unexpected operation %q", op)
	}
}

func TestNew_RejectsRelativeBaseURL(t *testing.T) {
	if _, err := New("api.intercom.io", "tok"); err == nil {
		t.Fatalf("expected error for relative base url")
	}
}
