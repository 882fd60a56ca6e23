package insights

import (
	"sort"
	"time"

	"github.com/samber/lo"

	"go-helpdesk-insights-ui/internal/connectors/intercom"
)

// Volume entry kinds.
const (
	KindSupportInbound = "support_inbound"
	KindLeadNew        = "lead_new"
	KindLeadMoved      = "lead_moved"
)

// VolumeRules names the two teams whose inbound volume is reported.
type VolumeRules struct {
	SupportTeamID string
	LeadsTeamID   string
}

// VolumeRow is one counted conversation.
type VolumeRow struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Day       string    `json:"day"`
	Kind      string    `json:"kind"`
	Agent     string    `json:"agent"`
	Tags      []string  `json:"tags"`
	Link      string    `json:"link"`
}

// VolumeReport is the inbound volume dashboard payload.
type VolumeReport struct {
	Total        int         `json:"total"`
	Support      int         `json:"support"`
	Leads        int         `json:"leads"`
	ActiveAgents int         `json:"active_agents"`
	ByDay        []Count     `json:"by_day"`
	ByAgent      []Count     `json:"by_agent"`
	ByTag        []Count     `json:"by_tag"`
	CSATInRange  int         `json:"csat_in_range"`
	Rows         []VolumeRow `json:"rows"`
}

// BuildVolume classifies conversations by the team that owns them. A
// conversation without a team falls back to its admin's team through
// agentTeams. Support conversations count only when created inside rng;
// leads conversations always count, as new when created inside rng and as
// moved otherwise.
func (s Shaper) BuildVolume(convs []intercom.Conversation, rng Range, rules VolumeRules, agentTeams map[string]string) VolumeReport {
	report := VolumeReport{Rows: make([]VolumeRow, 0)}
	tagCounts := make(map[string]int)

	for _, c := range UniqueConversations(convs) {
		if _, _, rated := ratingInRange(c, rng); rated && *c.Rating.Score > 0 {
			report.CSATInRange++
		}

		kind := volumeKind(c, rng, rules, agentTeams)
		if kind == "" {
			continue
		}
		tags := c.TagNames()
		for _, t := range tags {
			tagCounts[t]++
		}
		report.Rows = append(report.Rows, VolumeRow{
			ID:        c.ID.String(),
			CreatedAt: s.Time(c.CreatedAt),
			Day:       s.Day(c.CreatedAt),
			Kind:      kind,
			Agent:     s.AdminName(c.AdminAssigneeID),
			Tags:      tags,
			Link:      s.Link(c.ID.String()),
		})
	}

	sort.SliceStable(report.Rows, func(i, j int) bool {
		if report.Rows[i].Day != report.Rows[j].Day {
			return report.Rows[i].Day < report.Rows[j].Day
		}
		return report.Rows[i].Kind < report.Rows[j].Kind
	})

	report.Total = len(report.Rows)
	report.Support = lo.CountBy(report.Rows, func(r VolumeRow) bool { return r.Kind == KindSupportInbound })
	report.Leads = report.Total - report.Support
	report.ByDay = keyedCounts(lo.CountValuesBy(report.Rows, func(r VolumeRow) string { return r.Day }))
	byAgent := lo.CountValuesBy(report.Rows, func(r VolumeRow) string { return r.Agent })
	report.ByAgent = sortedCounts(byAgent)
	report.ActiveAgents = len(lo.OmitByKeys(byAgent, []string{UnassignedAgent}))
	report.ByTag = sortedCounts(tagCounts)
	return report
}

func volumeKind(c intercom.Conversation, rng Range, rules VolumeRules, agentTeams map[string]string) string {
	team := c.TeamAssigneeID.String()
	if c.TeamAssigneeID.IsZero() {
		team = agentTeams[c.AdminAssigneeID.String()]
	}
	created := rng.Contains(c.CreatedAt)
	switch {
	case team == "":
		return ""
	case team == rules.SupportTeamID:
		if created {
			return KindSupportInbound
		}
	case team == rules.LeadsTeamID:
		if created {
			return KindLeadNew
		}
		return KindLeadMoved
	}
	return ""
}
