package insights

import (
	"sort"
	"time"

	"github.com/samber/lo"

	"go-helpdesk-insights-ui/internal/connectors/intercom"
)

const awayModeChange = "admin_away_mode_change"

// AwayCycle is one closed away period: the admin went away and came back.
type AwayCycle struct {
	AdminID string    `json:"admin_id"`
	Agent   string    `json:"agent"`
	Day     string    `json:"day"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Minutes float64   `json:"minutes"`
	Hours   float64   `json:"hours"`
}

// AgentAway totals one agent's away time.
type AgentAway struct {
	Agent   string  `json:"agent"`
	Minutes float64 `json:"minutes"`
	Hours   float64 `json:"hours"`
}

// AwayPoint is one bar of the day × agent chart.
type AwayPoint struct {
	Day   string  `json:"day"`
	Agent string  `json:"agent"`
	Hours float64 `json:"hours"`
}

// AwayReport is the away-time dashboard payload.
type AwayReport struct {
	Days   []string    `json:"days"`
	Agents []AgentAway `json:"agents"`
	Chart  []AwayPoint `json:"chart"`
	Cycles []AwayCycle `json:"cycles"`
}

type awayEvent struct {
	at   int64
	away bool
}

// BuildAwayCycles pairs away→back transitions per admin. An away event
// without a later return stays open and is dropped; a return without a prior
// away is ignored. Cycles whose return falls on a day before from's day are
// dropped, so callers can fetch logs from a few days earlier to catch
// cycles that started before the range.
func (s Shaper) BuildAwayCycles(logs []intercom.ActivityLog, from time.Time) []AwayCycle {
	events := make(map[string][]awayEvent)
	for _, l := range logs {
		if l.ActivityType != awayModeChange || l.PerformedBy.ID.IsZero() {
			continue
		}
		away, _ := l.AwayMode()
		id := l.PerformedBy.ID.String()
		events[id] = append(events[id], awayEvent{at: l.CreatedAt, away: away})
	}

	loc := s.location()
	f := from.In(loc)
	firstDay := time.Date(f.Year(), f.Month(), f.Day(), 0, 0, 0, 0, loc)

	cycles := make([]AwayCycle, 0)
	for _, id := range sortedKeys(events) {
		evs := events[id]
		sort.SliceStable(evs, func(i, j int) bool { return evs[i].at < evs[j].at })
		agent := s.AdminName(intercom.ID(id))

		var start int64
		for _, ev := range evs {
			if ev.away {
				start = ev.at
				continue
			}
			if start == 0 {
				continue
			}
			end := s.Time(ev.at)
			if !end.Before(firstDay) {
				secs := float64(ev.at - start)
				cycles = append(cycles, AwayCycle{
					AdminID: id,
					Agent:   agent,
					Day:     end.Format("2006-01-02"),
					Start:   s.Time(start),
					End:     end,
					Minutes: round(secs/60, 0),
					Hours:   round(secs/3600, 2),
				})
			}
			start = 0
		}
	}
	return cycles
}

// SummarizeAway totals cycles per agent (hours descending) and per
// day × agent. A non-empty days list restricts both to those days.
func SummarizeAway(cycles []AwayCycle, days []string) AwayReport {
	allDays := lo.Uniq(lo.Map(cycles, func(c AwayCycle, _ int) string { return c.Day }))
	sort.Strings(allDays)

	view := cycles
	if len(days) > 0 {
		view = lo.Filter(cycles, func(c AwayCycle, _ int) bool { return lo.Contains(days, c.Day) })
	}

	minutes := make(map[string]float64)
	chart := make(map[[2]string]float64)
	for _, c := range view {
		minutes[c.Agent] += c.Minutes
		chart[[2]string{c.Day, c.Agent}] += c.Hours
	}

	agents := make([]AgentAway, 0, len(minutes))
	for name, m := range minutes {
		agents = append(agents, AgentAway{Agent: name, Minutes: m, Hours: round(m/60, 2)})
	}
	sort.Slice(agents, func(i, j int) bool {
		if agents[i].Hours != agents[j].Hours {
			return agents[i].Hours > agents[j].Hours
		}
		return agents[i].Agent < agents[j].Agent
	})

	points := make([]AwayPoint, 0, len(chart))
	for k, h := range chart {
		points = append(points, AwayPoint{Day: k[0], Agent: k[1], Hours: round(h, 2)})
	}
	sort.Slice(points, func(i, j int) bool {
		if points[i].Day != points[j].Day {
			return points[i].Day < points[j].Day
		}
		return points[i].Agent < points[j].Agent
	})

	if view == nil {
		view = make([]AwayCycle, 0)
	}
	return AwayReport{Days: allDays, Agents: agents, Chart: points, Cycles: view}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := lo.Keys(m)
	sort.Strings(keys)
	return keys
}
