package insights

import (
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"

	"go-helpdesk-insights-ui/internal/connectors/intercom"
)

// ArchiveTicket is the flattened record kept in the ticket archive.
type ArchiveTicket struct {
	ID          string    `json:"id"`
	Customer    string    `json:"customer"`
	AuthorName  string    `json:"author_name"`
	AuthorEmail string    `json:"author_email"`
	State       string    `json:"state"`
	CompanyID   string    `json:"company_id"`
	Tags        []string  `json:"tags"`
	Preview     string    `json:"preview"`
	Link        string    `json:"link"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	ChurnRisk   bool      `json:"churn_risk"`
}

var churnMarkers = []string{"cancel", "churn", "rescisão"}

// ShapeArchiveTickets keeps conversations opened by a user or lead and
// flattens them, most recently updated first. A non-empty customer name
// overrides the author name.
func (s Shaper) ShapeArchiveTickets(convs []intercom.Conversation, companyID, customer string) []ArchiveTicket {
	unique := UniqueConversations(convs)
	sort.SliceStable(unique, func(i, j int) bool { return unique[i].UpdatedAt > unique[j].UpdatedAt })

	out := make([]ArchiveTicket, 0, len(unique))
	for _, c := range unique {
		author := c.Source.Author
		if author.Type != "user" && author.Type != "lead" {
			continue
		}
		name := customer
		if name == "" {
			name = lo.Ternary(author.Name != "", author.Name, UnknownAgent)
		}
		tags := c.TagNames()
		out = append(out, ArchiveTicket{
			ID:          c.ID.String(),
			Customer:    name,
			AuthorName:  lo.Ternary(author.Name != "", author.Name, "-"),
			AuthorEmail: lo.Ternary(author.Email != "", author.Email, "-"),
			State:       lo.Ternary(c.State != "", c.State, "unknown"),
			CompanyID:   companyID,
			Tags:        tags,
			Preview:     CleanPreview(c.Source.Body),
			Link:        s.Link(c.ID.String()),
			CreatedAt:   s.Time(c.CreatedAt),
			UpdatedAt:   s.Time(c.UpdatedAt),
			ChurnRisk:   HasMarkerTag(tags, churnMarkers),
		})
	}
	return out
}

// HasMarkerTag reports whether any tag contains one of markers,
// case-insensitively.
func HasMarkerTag(tags, markers []string) bool {
	for _, t := range tags {
		lower := strings.ToLower(t)
		for _, m := range markers {
			if m != "" && strings.Contains(lower, strings.ToLower(m)) {
				return true
			}
		}
	}
	return false
}

// TeamOf is the owning team id, falling back to the assignee id when the
// conversation payload only names the team as assignee.
func TeamOf(c intercom.Conversation) string {
	if !c.TeamAssigneeID.IsZero() {
		return c.TeamAssigneeID.String()
	}
	if c.Assignee != nil && c.Assignee.Type == "team" {
		return c.Assignee.ID.String()
	}
	return ""
}

// HasCompany reports whether companyID is listed among the conversation's
// companies.
func HasCompany(c intercom.Conversation, companyID string) bool {
	return lo.ContainsBy(c.Companies.Companies, func(ref intercom.CompanyRef) bool {
		return ref.ID.String() == companyID
	})
}
