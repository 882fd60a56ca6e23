package insights

import (
	"math"
	"time"

	"github.com/samber/lo"
)

// AnalystRow is one conversation in an analyst's classification list.
type AnalystRow struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	Reason     string    `json:"reason"`
	Classified bool      `json:"classified"`
	Link       string    `json:"link"`
}

// AnalystReport tracks one analyst's classification goal.
type AnalystReport struct {
	Agent      string       `json:"agent"`
	Total      int          `json:"total"`
	Classified int          `json:"classified"`
	Pending    int          `json:"pending"`
	Rate       float64      `json:"rate"`
	GoalPct    float64      `json:"goal_pct"`
	GoalMet    bool         `json:"goal_met"`
	Needed     int          `json:"needed_for_goal"`
	Rows       []AnalystRow `json:"rows"`
}

// BuildAnalyst reports how many of an analyst's conversations carry a
// contact reason against the goal percentage.
func BuildAnalyst(agent string, rows []AttributeRow, reasonLabel string, goalPct float64) AnalystReport {
	out := lo.Map(rows, func(r AttributeRow, _ int) AnalystRow {
		reason := r.Values[reasonLabel]
		return AnalystRow{ID: r.ID, CreatedAt: r.CreatedAt, Reason: reason, Classified: reason != "", Link: r.Link}
	})
	report := AnalystReport{Agent: agent, Total: len(out), GoalPct: goalPct, Rows: out}
	report.Classified = lo.CountBy(out, func(r AnalystRow) bool { return r.Classified })
	report.Pending = report.Total - report.Classified
	report.Rate = percent(report.Classified, report.Total)
	report.GoalMet = report.Rate >= goalPct
	if !report.GoalMet {
		need := int(math.Ceil(goalPct/100*float64(report.Total))) - report.Classified
		report.Needed = max(need, 0)
	}
	return report
}
