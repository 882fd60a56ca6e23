package insights

import (
	"sort"
	"time"

	"github.com/samber/lo"

	"go-helpdesk-insights-ui/internal/connectors/intercom"
)

// Sentiment classifies one rating score.
type Sentiment string

const (
	Positive Sentiment = "positive"
	Neutral  Sentiment = "neutral"
	Negative Sentiment = "negative"
)

// CSATRules holds the score thresholds.
type CSATRules struct {
	PositiveMin int
	Neutral     int
}

// Classify maps a score to a sentiment.
func (r CSATRules) Classify(score int) Sentiment {
	switch {
	case score >= r.PositiveMin:
		return Positive
	case score == r.Neutral:
		return Neutral
	default:
		return Negative
	}
}

// CSATCounts tallies ratings by sentiment.
type CSATCounts struct {
	Positive int     `json:"positive"`
	Neutral  int     `json:"neutral"`
	Negative int     `json:"negative"`
	Total    int     `json:"total"`
	Real     float64 `json:"csat_real"`
	Adjusted float64 `json:"csat_adjusted"`
}

func (c *CSATCounts) add(s Sentiment) {
	switch s {
	case Positive:
		c.Positive++
	case Neutral:
		c.Neutral++
	default:
		c.Negative++
	}
	c.Total++
}

// finish computes the real score (positive over all ratings) and the
// adjusted score, which ignores neutral ratings.
func (c *CSATCounts) finish() {
	c.Real = percent(c.Positive, c.Total)
	c.Adjusted = percent(c.Positive, c.Positive+c.Negative)
}

// AgentCSAT is one agent's tally.
type AgentCSAT struct {
	Agent string `json:"agent"`
	CSATCounts
}

// CSATDetail is one rating in the detail table.
type CSATDetail struct {
	ID        string    `json:"id"`
	RatedAt   time.Time `json:"rated_at"`
	Agent     string    `json:"agent"`
	Score     int       `json:"score"`
	Sentiment Sentiment `json:"sentiment"`
	Remark    string    `json:"remark"`
	Link      string    `json:"link"`
}

// CSATReport is the quality dashboard payload.
type CSATReport struct {
	Team    CSATCounts   `json:"team"`
	Agents  []AgentCSAT  `json:"agents"`
	Details []CSATDetail `json:"details"`
}

// BuildCSAT counts ratings given inside rng on conversations that have an
// admin assignee. The rating timestamp decides membership, not the
// conversation's. agentFilter narrows the detail list only.
func (s Shaper) BuildCSAT(convs []intercom.Conversation, rng Range, rules CSATRules, agentFilter []string) CSATReport {
	var team CSATCounts
	perAgent := make(map[string]*CSATCounts)
	details := make([]CSATDetail, 0)

	for _, c := range UniqueConversations(convs) {
		score, ratedAt, ok := ratingInRange(c, rng)
		if !ok || c.AdminAssigneeID.IsZero() {
			continue
		}
		sentiment := rules.Classify(score)
		agent := s.AdminName(c.AdminAssigneeID)

		team.add(sentiment)
		counts, found := perAgent[agent]
		if !found {
			counts = &CSATCounts{}
			perAgent[agent] = counts
		}
		counts.add(sentiment)

		remark := c.Rating.Remark
		if remark == "" {
			remark = "-"
		}
		details = append(details, CSATDetail{
			ID:        c.ID.String(),
			RatedAt:   s.Time(ratedAt),
			Agent:     agent,
			Score:     score,
			Sentiment: sentiment,
			Remark:    remark,
			Link:      s.Link(c.ID.String()),
		})
	}
	team.finish()

	agents := make([]AgentCSAT, 0, len(perAgent))
	for name, counts := range perAgent {
		counts.finish()
		agents = append(agents, AgentCSAT{Agent: name, CSATCounts: *counts})
	}
	sort.Slice(agents, func(i, j int) bool {
		if agents[i].Total != agents[j].Total {
			return agents[i].Total > agents[j].Total
		}
		return agents[i].Agent < agents[j].Agent
	})

	if len(agentFilter) > 0 {
		details = lo.Filter(details, func(d CSATDetail, _ int) bool { return lo.Contains(agentFilter, d.Agent) })
	}
	sort.SliceStable(details, func(i, j int) bool { return details[i].RatedAt.After(details[j].RatedAt) })

	return CSATReport{Team: team, Agents: agents, Details: details}
}

// ratingInRange returns the score and rating time when c carries a rating
// created inside rng.
func ratingInRange(c intercom.Conversation, rng Range) (int, int64, bool) {
	if c.Rating == nil || c.Rating.Score == nil || c.Rating.CreatedAt == 0 {
		return 0, 0, false
	}
	if !rng.Contains(c.Rating.CreatedAt) {
		return 0, 0, false
	}
	return *c.Rating.Score, c.Rating.CreatedAt, true
}
