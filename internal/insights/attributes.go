package insights

import (
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"

	"go-helpdesk-insights-ui/internal/connectors/intercom"
)

// AttributeRules names the attribute labels the KPIs read.
type AttributeRules struct {
	ReasonLabel       string
	SecondReasonLabel string
	StatusLabel       string
	ResolvedValue     string
}

// AttributeRow is one conversation with its custom attributes keyed by label.
type AttributeRow struct {
	ID        string            `json:"id"`
	CreatedAt time.Time         `json:"created_at"`
	Day       string            `json:"day"`
	Agent     string            `json:"agent"`
	Link      string            `json:"link"`
	Values    map[string]string `json:"values"`
	Filled    int               `json:"filled"`
}

// ColumnCounts is the value distribution of one attribute column.
type ColumnCounts struct {
	Column string  `json:"column"`
	Counts []Count `json:"counts"`
}

// CrossCell is one cell of a two-column cross tabulation.
type CrossCell struct {
	Row   string `json:"row"`
	Col   string `json:"col"`
	Count int    `json:"count"`
}

// AttributeReport is the attribute dashboard payload.
type AttributeReport struct {
	Total          int            `json:"total"`
	Classified     int            `json:"classified"`
	ClassifiedRate float64        `json:"classified_rate"`
	Resolved       int            `json:"resolved"`
	TopReason      string         `json:"top_reason"`
	TopReasonCount int            `json:"top_reason_count"`
	Available      []string       `json:"available_columns"`
	Columns        []string       `json:"columns"`
	ValueCounts    []ColumnCounts `json:"value_counts"`
	ByAgent        []Count        `json:"by_agent"`
	ReasonRanking  []Count        `json:"reason_ranking"`
	ReasonMatrix   []CrossCell    `json:"reason_matrix"`
	StatusByReason []CrossCell    `json:"status_by_reason"`
	Rows           []AttributeRow `json:"rows"`
}

// ShapeAttributes flattens custom attributes into rows keyed by display
// label, falling back to the raw attribute name. Rows are ordered by
// creation time.
func (s Shaper) ShapeAttributes(convs []intercom.Conversation, labels map[string]string) []AttributeRow {
	unique := UniqueConversations(convs)
	sort.SliceStable(unique, func(i, j int) bool { return unique[i].CreatedAt < unique[j].CreatedAt })

	rows := make([]AttributeRow, 0, len(unique))
	for _, c := range unique {
		values := make(map[string]string, len(c.CustomAttributes))
		for key, raw := range c.CustomAttributes {
			v, ok := attributeValue(raw)
			if !ok {
				continue
			}
			label := key
			if l, found := labels[key]; found {
				label = l
			}
			values[label] = v
		}
		rows = append(rows, AttributeRow{
			ID:        c.ID.String(),
			CreatedAt: s.Time(c.CreatedAt),
			Day:       s.Day(c.CreatedAt),
			Agent:     s.AdminName(c.AdminAssigneeID),
			Link:      s.Link(c.ID.String()),
			Values:    values,
		})
	}
	return rows
}

// AvailableColumns lists every label seen in rows plus the second-reason
// column, which is always offered even when no row fills it.
func AvailableColumns(rows []AttributeRow, rules AttributeRules) []string {
	seen := make(map[string]struct{})
	for _, r := range rows {
		for k := range r.Values {
			seen[k] = struct{}{}
		}
	}
	if rules.SecondReasonLabel != "" && len(rows) > 0 {
		seen[rules.SecondReasonLabel] = struct{}{}
	}
	return sortedKeys(seen)
}

// BuildAttributeReport computes KPIs and distributions. columns selects the
// attributes counted per row and listed in value counts; unknown columns are
// dropped and an empty selection uses defaults present in the data.
func BuildAttributeReport(rows []AttributeRow, columns, defaults []string, rules AttributeRules) AttributeReport {
	available := AvailableColumns(rows, rules)
	if len(columns) == 0 {
		columns = defaults
	}
	columns = lo.Filter(lo.Uniq(columns), func(c string, _ int) bool { return lo.Contains(available, c) })

	out := make([]AttributeRow, len(rows))
	for i, r := range rows {
		r.Filled = lo.CountBy(columns, func(c string) bool { return r.Values[c] != "" })
		out[i] = r
	}

	report := AttributeReport{
		Total:     len(out),
		Available: available,
		Columns:   columns,
		Rows:      out,
	}
	report.Classified = lo.CountBy(out, func(r AttributeRow) bool { return r.Values[rules.ReasonLabel] != "" })
	report.ClassifiedRate = percent(report.Classified, report.Total)
	if rules.StatusLabel != "" {
		report.Resolved = lo.CountBy(out, func(r AttributeRow) bool { return r.Values[rules.StatusLabel] == rules.ResolvedValue })
	}

	reasons := columnCounts(out, rules.ReasonLabel)
	if len(reasons) > 0 {
		report.TopReason = ReasonTail(reasons[0].Key)
		report.TopReasonCount = reasons[0].Count
	}

	report.ValueCounts = make([]ColumnCounts, 0, len(columns))
	for _, col := range columns {
		report.ValueCounts = append(report.ValueCounts, ColumnCounts{Column: col, Counts: columnCounts(out, col)})
	}
	report.ByAgent = sortedCounts(lo.CountValuesBy(out, func(r AttributeRow) string { return r.Agent }))

	unified := make(map[string]int)
	for _, r := range out {
		for _, col := range []string{rules.ReasonLabel, rules.SecondReasonLabel} {
			if v := r.Values[col]; col != "" && v != "" {
				unified[v]++
			}
		}
	}
	report.ReasonRanking = sortedCounts(unified)
	report.ReasonMatrix = CrossTab(out, rules.ReasonLabel, rules.SecondReasonLabel)
	report.StatusByReason = CrossTab(out, rules.ReasonLabel, rules.StatusLabel)
	return report
}

// FilterAttributeRows hides rows with no selected attribute filled, or keeps
// only rows with at least two.
func FilterAttributeRows(rows []AttributeRow, hideEmpty, complexOnly bool) []AttributeRow {
	return lo.Filter(rows, func(r AttributeRow, _ int) bool {
		if complexOnly && r.Filled < 2 {
			return false
		}
		return !hideEmpty || r.Filled > 0
	})
}

// CrossTab counts rows by the pair of values in two columns. Rows missing
// either value are skipped.
func CrossTab(rows []AttributeRow, rowCol, colCol string) []CrossCell {
	counts := make(map[[2]string]int)
	for _, r := range rows {
		a, b := r.Values[rowCol], r.Values[colCol]
		if a == "" || b == "" {
			continue
		}
		counts[[2]string{a, b}]++
	}
	out := make([]CrossCell, 0, len(counts))
	for k, n := range counts {
		out = append(out, CrossCell{Row: k[0], Col: k[1], Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Row != out[j].Row {
			return out[i].Row < out[j].Row
		}
		return out[i].Col < out[j].Col
	})
	return out
}

// ReasonTail keeps the last segment of a "Category > Reason" value.
func ReasonTail(v string) string {
	if i := strings.LastIndex(v, ">"); i >= 0 {
		return strings.TrimSpace(v[i+1:])
	}
	return strings.TrimSpace(v)
}

func columnCounts(rows []AttributeRow, col string) []Count {
	m := make(map[string]int)
	for _, r := range rows {
		if v := r.Values[col]; v != "" {
			m[v]++
		}
	}
	return sortedCounts(m)
}
