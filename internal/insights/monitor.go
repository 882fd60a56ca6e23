package insights

import (
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"go-helpdesk-insights-ui/internal/connectors/intercom"
)

// MonitorRules are the operational monitor's alert thresholds.
type MonitorRules struct {
	RecentWindow     time.Duration
	OpenAlertAt      int
	RecentAlertAt    int
	AgentsOnlineGoal int
}

// MonitorInput is everything the monitor reads, fetched by the caller.
type MonitorInput struct {
	MemberIDs     []intercom.ID
	Admins        []intercom.Admin
	OpenCounts    map[string]int
	SnoozedCounts map[string]int
	Queue         []intercom.Conversation
	Period        []intercom.Conversation
	Latest        []intercom.Conversation
	Now           time.Time
}

// TicketRef links one conversation.
type TicketRef struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Link      string    `json:"link"`
}

// MemberStatus is one team member's row.
type MemberStatus struct {
	AdminID     string      `json:"admin_id"`
	Agent       string      `json:"agent"`
	Away        bool        `json:"away"`
	Open        int         `json:"open"`
	OpenAlert   bool        `json:"open_alert"`
	Snoozed     int         `json:"snoozed"`
	Period      int         `json:"period"`
	Recent      int         `json:"recent"`
	RecentAlert bool        `json:"recent_alert"`
	Tickets     []TicketRef `json:"tickets"`
}

// LatestRow is one entry of the latest-assignments log.
type LatestRow struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Subject   string    `json:"subject"`
	Agent     string    `json:"agent"`
	Link      string    `json:"link"`
}

// MonitorReport is the real-time operations payload.
type MonitorReport struct {
	Members     []MemberStatus `json:"members"`
	Queue       []TicketRef    `json:"queue"`
	PeriodTotal int            `json:"period_total"`
	RecentTotal int            `json:"recent_total"`
	Online      int            `json:"online"`
	Goal        int            `json:"goal"`
	BelowGoal   bool           `json:"below_goal"`
	Latest      []LatestRow    `json:"latest"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// BuildMonitor assembles member load, waiting queue and recent volume.
func (s Shaper) BuildMonitor(in MonitorInput, rules MonitorRules) MonitorReport {
	admins := make(map[string]intercom.Admin, len(in.Admins))
	for _, a := range in.Admins {
		admins[a.ID.String()] = a
	}

	cutoff := in.Now.Add(-rules.RecentWindow).Unix()
	period := make(map[string]int)
	recent := make(map[string]int)
	tickets := make(map[string][]TicketRef)
	report := MonitorReport{Goal: rules.AgentsOnlineGoal, UpdatedAt: in.Now.In(s.location())}

	for _, c := range UniqueConversations(in.Period) {
		aid := c.AdminAssigneeID.String()
		if c.AdminAssigneeID.IsZero() {
			aid = ""
		}
		period[aid]++
		report.PeriodTotal++
		tickets[aid] = append(tickets[aid], TicketRef{ID: c.ID.String(), CreatedAt: s.Time(c.CreatedAt), Link: s.Link(c.ID.String())})
		if c.CreatedAt > cutoff {
			recent[aid]++
			report.RecentTotal++
		}
	}

	report.Members = make([]MemberStatus, 0, len(in.MemberIDs))
	for _, id := range in.MemberIDs {
		sid := id.String()
		name, away := "ID "+sid, true
		if a, ok := admins[sid]; ok {
			name, away = a.Name, a.AwayModeEnabled
		}
		if !away {
			report.Online++
		}
		refs := tickets[sid]
		sort.SliceStable(refs, func(i, j int) bool { return refs[i].CreatedAt.After(refs[j].CreatedAt) })
		if refs == nil {
			refs = make([]TicketRef, 0)
		}
		open := in.OpenCounts[sid]
		report.Members = append(report.Members, MemberStatus{
			AdminID:     sid,
			Agent:       name,
			Away:        away,
			Open:        open,
			OpenAlert:   open >= rules.OpenAlertAt,
			Snoozed:     in.SnoozedCounts[sid],
			Period:      period[sid],
			Recent:      recent[sid],
			RecentAlert: recent[sid] >= rules.RecentAlertAt,
			Tickets:     refs,
		})
	}
	report.BelowGoal = report.Online < rules.AgentsOnlineGoal

	report.Queue = make([]TicketRef, 0)
	for _, c := range UniqueConversations(in.Queue) {
		if c.State != "" && c.State != "open" {
			continue
		}
		if !c.AdminAssigneeID.IsZero() {
			continue
		}
		report.Queue = append(report.Queue, TicketRef{ID: c.ID.String(), CreatedAt: s.Time(c.CreatedAt), Link: s.Link(c.ID.String())})
	}

	report.Latest = make([]LatestRow, 0, len(in.Latest))
	for _, c := range in.Latest {
		report.Latest = append(report.Latest, LatestRow{
			ID:        c.ID.String(),
			CreatedAt: s.Time(c.CreatedAt),
			Subject:   Summary(c.Source),
			Agent:     s.AdminName(c.AdminAssigneeID),
			Link:      s.Link(c.ID.String()),
		})
	}
	return report
}

var tagPattern = regexp.MustCompile(`<[^>]+>`)

const summaryMaxRunes = 60

// Summary is a one-line description of a conversation's opening message:
// the subject when present, else the body with markup removed.
func Summary(src intercom.Source) string {
	if subject := strings.TrimSpace(src.Subject); subject != "" {
		return subject
	}
	clean := strings.Join(strings.Fields(tagPattern.ReplaceAllString(src.Body, " ")), " ")
	switch {
	case clean == "" && (strings.Contains(src.Body, "<img") || strings.Contains(src.Body, "<figure")):
		return "[image/attachment]"
	case clean == "":
		return "(no text)"
	case utf8.RuneCountInString(clean) > summaryMaxRunes:
		return string([]rune(clean)[:summaryMaxRunes]) + "..."
	}
	return clean
}
