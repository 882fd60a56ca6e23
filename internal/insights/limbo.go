package insights

import (
	"sort"
	"time"

	"github.com/dustin/go-humanize"

	"go-helpdesk-insights-ui/internal/connectors/intercom"
)

// LimboRow is an open conversation with neither an admin nor a team assignee.
type LimboRow struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   int64     `json:"updated_at"`
	Wait        string    `json:"wait"`
	WaitSeconds int64     `json:"wait_seconds"`
	Age         string    `json:"age"`
	Link        string    `json:"link"`
	Preview     string    `json:"preview"`
}

// IsLimbo reports whether a conversation is open and assigned to nobody.
func IsLimbo(c intercom.Conversation) bool {
	return c.State == "open" && c.AdminAssigneeID.IsZero() && c.TeamAssigneeID.IsZero()
}

// DetectLimbo returns the unassigned open conversations, most recently
// updated first.
func (s Shaper) DetectLimbo(convs []intercom.Conversation, now time.Time) []LimboRow {
	out := make([]LimboRow, 0)
	for _, c := range UniqueConversations(convs) {
		if !IsLimbo(c) {
			continue
		}
		created := s.Time(c.CreatedAt)
		wait := now.Sub(created)
		if wait < 0 {
			wait = 0
		}
		out = append(out, LimboRow{
			ID:          c.ID.String(),
			CreatedAt:   created,
			UpdatedAt:   c.UpdatedAt,
			Wait:        FormatWait(wait),
			WaitSeconds: int64(wait / time.Second),
			Age:         humanize.RelTime(created, now, "ago", "from now"),
			Link:        s.Link(c.ID.String()),
			Preview:     CleanPreview(c.Source.Body),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt > out[j].UpdatedAt })
	return out
}
