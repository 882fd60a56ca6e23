// Package insights turns raw Intercom records into flat rows and report
// aggregates. Every function here is pure: the caller passes the records,
// the time range and the business settings explicitly.
package insights

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/samber/lo"
	"golang.org/x/text/unicode/norm"

	"go-helpdesk-insights-ui/internal/connectors/intercom"
)

const (
	// UnassignedAgent labels rows with no admin assignee.
	UnassignedAgent = "Unassigned"
	// UnknownAgent labels admin ids missing from the admin list.
	UnknownAgent = "Unknown"

	previewMaxRunes = 100
)

// Range is a half-open time interval [From, To).
type Range struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Contains reports whether the unix timestamp ts falls inside the range.
func (r Range) Contains(ts int64) bool {
	t := time.Unix(ts, 0)
	return !t.Before(r.From) && t.Before(r.To)
}

// DayRange returns [from 00:00, to+1d 00:00) in loc for inclusive calendar days.
func DayRange(from, to time.Time, loc *time.Location) Range {
	if loc == nil {
		loc = time.UTC
	}
	f := from.In(loc)
	t := to.In(loc)
	return Range{
		From: time.Date(f.Year(), f.Month(), f.Day(), 0, 0, 0, 0, loc),
		To:   time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1),
	}
}

// Count is one labelled tally.
type Count struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// Shaper holds the lookups shared by every row builder.
type Shaper struct {
	Location   *time.Location
	AppID      string
	AdminNames map[string]string
}

// NewShaper builds a Shaper with an admin id → name lookup.
func NewShaper(loc *time.Location, appID string, admins []intercom.Admin) Shaper {
	if loc == nil {
		loc = time.UTC
	}
	names := make(map[string]string, len(admins))
	for _, a := range admins {
		names[a.ID.String()] = a.Name
	}
	return Shaper{Location: loc, AppID: appID, AdminNames: names}
}

// Link is the inbox URL of a conversation.
func (s Shaper) Link(id string) string {
	return fmt.Sprintf("https://app.intercom.com/a/inbox/%s/inbox/conversation/%s", s.AppID, id)
}

// AdminName resolves an admin id; unassigned ids yield UnassignedAgent.
func (s Shaper) AdminName(id intercom.ID) string {
	if id.IsZero() {
		return UnassignedAgent
	}
	if name, ok := s.AdminNames[id.String()]; ok && name != "" {
		return name
	}
	return UnknownAgent
}

// Time converts a unix timestamp into the display zone.
func (s Shaper) Time(unix int64) time.Time {
	return time.Unix(unix, 0).In(s.location())
}

// Day is the calendar day (YYYY-MM-DD) of a unix timestamp in the display zone.
func (s Shaper) Day(unix int64) string {
	return s.Time(unix).Format("2006-01-02")
}

func (s Shaper) location() *time.Location {
	if s.Location == nil {
		return time.UTC
	}
	return s.Location
}

// UniqueConversations drops repeated ids, keeping the first occurrence.
// Pages fetched while the remote data changes may repeat a record.
func UniqueConversations(convs []intercom.Conversation) []intercom.Conversation {
	return lo.UniqBy(convs, func(c intercom.Conversation) intercom.ID { return c.ID })
}

// CleanPreview strips the paragraph markup Intercom puts in message bodies
// and truncates to a short preview.
func CleanPreview(body string) string {
	body = norm.NFC.String(body)
	body = strings.NewReplacer("<p>", "", "</p>", " ", "<br>", " ", "<br/>", " ", "<br />", " ").Replace(body)
	body = strings.TrimSpace(body)
	if utf8.RuneCountInString(body) <= previewMaxRunes {
		return body
	}
	runes := []rune(body)
	return strings.TrimSpace(string(runes[:previewMaxRunes]))
}

// FormatWait renders a waiting time as "Nd Nh" past one day and "Nh Nm" below.
func FormatWait(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	days := int(d / (24 * time.Hour))
	rest := d - time.Duration(days)*24*time.Hour
	hours := int(rest / time.Hour)
	if days > 0 {
		return fmt.Sprintf("%dd %dh", days, hours)
	}
	minutes := int((rest - time.Duration(hours)*time.Hour) / time.Minute)
	return fmt.Sprintf("%dh %dm", hours, minutes)
}

// AttributeLabels maps attribute names to their display labels.
func AttributeLabels(defs []intercom.DataAttribute) map[string]string {
	out := make(map[string]string, len(defs))
	for _, d := range defs {
		if d.Name != "" && d.Label != "" {
			out[d.Name] = d.Label
		}
	}
	return out
}

// attributeValue renders a custom attribute value; ok is false for
// missing or blank values.
func attributeValue(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		x = strings.TrimSpace(x)
		return x, x != ""
	case float64:
		if x == float64(int64(x)) {
			return fmt.Sprintf("%d", int64(x)), true
		}
		return fmt.Sprintf("%g", x), true
	case bool:
		if x {
			return "true", true
		}
		return "false", true
	default:
		return fmt.Sprint(x), true
	}
}

// sortedCounts orders tallies by count descending, then key.
func sortedCounts(m map[string]int) []Count {
	out := make([]Count, 0, len(m))
	for k, v := range m {
		out = append(out, Count{Key: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// keyedCounts orders tallies by key ascending.
func keyedCounts(m map[string]int) []Count {
	out := sortedCounts(m)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func percent(part, whole int) float64 {
	if whole <= 0 {
		return 0
	}
	return round(float64(part)/float64(whole)*100, 1)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
