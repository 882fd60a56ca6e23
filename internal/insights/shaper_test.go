package insights

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"go-helpdesk-insights-ui/internal/connectors/intercom"
)

var brt = time.FixedZone("UTC-3", -3*60*60)

func mustConvs(t *testing.T, raw string) []intercom.Conversation {
	t.Helper()
	var convs []intercom.Conversation
	if err := json.Unmarshal([]byte(raw), &convs); err != nil {
		t.Fatalf("decode conversations: %v", err)
	}
	return convs
}

func testShaper() Shaper {
	return NewShaper(brt, "app1", []intercom.Admin{
		{ID: "10", Name: "Ana"},
		{ID: "11", Name: "Bruno"},
		{ID: "12", Name: "Carla"},
	})
}

func TestUniqueConversationsKeepsFirst(t *testing.T) {
	convs := mustConvs(t, `[{"id":"1","state":"open"},{"id":"2"},{"id":"1","state":"closed"}]`)
	out := UniqueConversations(convs)
	if len(out) != 2 {
		t.Fatalf("expected 2 unique conversations, got %d", len(out))
	}
	if out[0].State != "open" {
		t.Fatalf("expected first occurrence kept, got state %q", out[0].State)
	}
}

func TestShaperLinkAndNames(t *testing.T) {
	s := testShaper()
	if got := s.Link("99"); got != "https://app.intercom.com/a/inbox/app1/inbox/conversation/99" {
		t.Fatalf("unexpected link %q", got)
	}
	if got := s.AdminName(""); got != UnassignedAgent {
		t.Fatalf("expected unassigned, got %q", got)
	}
	if got := s.AdminName("404"); got != UnknownAgent {
		t.Fatalf("expected unknown, got %q", got)
	}
	if got := s.AdminName("11"); got != "Bruno" {
		t.Fatalf("expected Bruno, got %q", got)
	}
}

func TestShaperDayUsesDisplayZone(t *testing.T) {
	// 2024-03-02 01:00 UTC is still 2024-03-01 in UTC-3.
	ts := time.Date(2024, 3, 2, 1, 0, 0, 0, time.UTC).Unix()
	if got := testShaper().Day(ts); got != "2024-03-01" {
		t.Fatalf("expected 2024-03-01, got %s", got)
	}
}

func TestDayRangeIsInclusiveOfLastDay(t *testing.T) {
	from := time.Date(2024, 3, 1, 15, 0, 0, 0, brt)
	to := time.Date(2024, 3, 3, 9, 0, 0, 0, brt)
	r := DayRange(from, to, brt)
	if !r.From.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, brt)) {
		t.Fatalf("unexpected from %s", r.From)
	}
	if !r.To.Equal(time.Date(2024, 3, 4, 0, 0, 0, 0, brt)) {
		t.Fatalf("unexpected to %s", r.To)
	}
	last := time.Date(2024, 3, 3, 23, 59, 59, 0, brt).Unix()
	if !r.Contains(last) {
		t.Fatalf("last second of the last day must be inside the range")
	}
	if r.Contains(r.To.Unix()) {
		t.Fatalf("range end is exclusive")
	}
}

func TestCleanPreview(t *testing.T) {
	got := CleanPreview("<p>Olá</p><p>mundo</p>")
	if got != "Olá mundo" {
		t.Fatalf("unexpected preview %q", got)
	}
	long := CleanPreview(strings.Repeat("é", 150))
	if n := len([]rune(long)); n != 100 {
		t.Fatalf("expected 100 runes, got %d", n)
	}
}

func TestFormatWait(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want string
	}{
		{0, "0h 0m"},
		{95 * time.Minute, "1h 35m"},
		{26*time.Hour + 10*time.Minute, "1d 2h"},
		{-time.Minute, "0h 0m"},
	}
	for _, tc := range cases {
		if got := FormatWait(tc.in); got != tc.want {
			t.Fatalf("FormatWait(%s): expected %q, got %q", tc.in, tc.want, got)
		}
	}
}

func TestAttributeValue(t *testing.T) {
	cases := []struct {
		in   any
		want string
		ok   bool
	}{
		{nil, "", false},
		{"  ", "", false},
		{" x ", "x", true},
		{float64(3), "3", true},
		{1.5, "1.5", true},
		{true, "true", true},
	}
	for _, tc := range cases {
		got, ok := attributeValue(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("attributeValue(%v): expected %q/%v, got %q/%v", tc.in, tc.want, tc.ok, got, ok)
		}
	}
}
