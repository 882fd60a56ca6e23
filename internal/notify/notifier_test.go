package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go-helpdesk-insights-ui/internal/connectors/amqp"
	"go-helpdesk-insights-ui/internal/insights"
)

func limboRows(n int) []insights.LimboRow {
	rows := make([]insights.LimboRow, 0, n)
	for i := 0; i < n; i++ {
		id := string(rune('a' + i))
		rows = append(rows, insights.LimboRow{ID: id, Link: "https://app.example/" + id})
	}
	return rows
}

type stubSink struct {
	name  string
	err   error
	calls int
	last  Alert
}

func (s *stubSink) Name() string { return s.name }

func (s *stubSink) Send(_ context.Context, a Alert) error {
	s.calls++
	s.last = a
	return s.err
}

func TestLimboMessage(t *testing.T) {
	msg := LimboMessage(limboRows(7), 5)
	if !strings.HasPrefix(msg, "*LIMBO DETECTED*\nThere are *7 conversations* with no team and no owner!") {
		t.Fatalf("unexpected headline: %q", msg)
	}
	if !strings.Contains(msg, "Recent: <https://app.example/a|#a>, ") {
		t.Fatalf("expected first link, got %q", msg)
	}
	if strings.Count(msg, "<https://") != 5 {
		t.Fatalf("expected 5 links, got %q", msg)
	}
	if one := LimboMessage(limboRows(1), 5); !strings.Contains(one, "*1 conversation*") {
		t.Fatalf("expected singular, got %q", one)
	}
}

func TestNotifyLimbo_SlackAndCooldown(t *testing.T) {
	var posts atomic.Int32
	var gotText string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posts.Add(1)
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		gotText = body["text"]
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	gate := NewGate(NewFileMarker(filepath.Join(t.TempDir(), "m.json")), 600*time.Second)
	n := New(gate, []Sink{NewSlackSink(srv.URL, time.Second)}, nil)

	d := n.NotifyLimbo(context.Background(), limboRows(2), t0)
	if !d.Sent || posts.Load() != 1 {
		t.Fatalf("expected one post, got %+v posts=%d", d, posts.Load())
	}
	if !strings.Contains(gotText, "*2 conversations*") {
		t.Fatalf("unexpected text %q", gotText)
	}

	d = n.NotifyLimbo(context.Background(), limboRows(2), t0.Add(599*time.Second))
	if d.Sent || d.Reason != "cooldown" || d.RetryIn != time.Second {
		t.Fatalf("expected cooldown suppression, got %+v", d)
	}
	d = n.NotifyLimbo(context.Background(), limboRows(2), t0.Add(601*time.Second))
	if !d.Sent || posts.Load() != 2 {
		t.Fatalf("expected second post after cooldown, got %+v posts=%d", d, posts.Load())
	}
}

func TestNotifyLimbo_NoRowsNoSend(t *testing.T) {
	sink := &stubSink{name: "stub"}
	n := New(NewGate(NewFileMarker(filepath.Join(t.TempDir(), "m.json")), time.Minute), []Sink{sink}, nil)
	d := n.NotifyLimbo(context.Background(), nil, t0)
	if d.Sent || sink.calls != 0 {
		t.Fatalf("expected no delivery, got %+v calls=%d", d, sink.calls)
	}
	if !n.Gate().ShouldSend(context.Background(), t0) {
		t.Fatalf("empty check must not consume the cooldown")
	}
}

func TestNotifyLimbo_FailingSinkDoesNotBlockOthers(t *testing.T) {
	bad := &stubSink{name: "bad", err: errors.New("boom")}
	good := &stubSink{name: "good"}
	var observed []string
	n := New(nil, []Sink{bad, good}, nil, WithObserver(func(sink string, _ time.Duration, err error) {
		observed = append(observed, sink)
	}))
	d := n.NotifyLimbo(context.Background(), limboRows(1), t0)
	if !d.Sent || len(d.Failed) != 1 || d.Failed[0] != "bad" || len(d.Delivered) != 1 {
		t.Fatalf("unexpected decision %+v", d)
	}
	if good.calls != 1 || len(observed) != 2 {
		t.Fatalf("expected both sinks attempted, good=%d observed=%v", good.calls, observed)
	}
}

type recordingPublisher struct {
	key string
	ev  amqp.Event
}

func (p *recordingPublisher) Publish(_ context.Context, key string, ev amqp.Event) error {
	p.key, p.ev = key, ev
	return nil
}

func TestAMQPSink(t *testing.T) {
	pub := &recordingPublisher{}
	alert := Alert{Count: 3, Rows: limboRows(3), Text: "x", At: t0}
	if err := NewAMQPSink(pub).Send(context.Background(), alert); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if pub.key != amqp.KeyLimboAlert || pub.ev.Type != amqp.KeyLimboAlert {
		t.Fatalf("unexpected routing %q/%q", pub.key, pub.ev.Type)
	}
	data, ok := pub.ev.Data.(limboAlertData)
	if !ok || data.Count != 3 || len(data.Rows) != 3 {
		t.Fatalf("unexpected payload %#v", pub.ev.Data)
	}
}

func TestSlackSink_NonSuccessIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("invalid_token"))
	}))
	defer srv.Close()
	err := NewSlackSink(srv.URL, time.Second).Send(context.Background(), Alert{Text: "hi"})
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("expected 403 error, got %v", err)
	}
}
