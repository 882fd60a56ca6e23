package insights

import (
	"strings"
	"time"

	"go-helpdesk-insights-ui/internal/connectors/intercom"
)

// Transcript roles.
const (
	RoleCustomer = "customer"
	RoleAgent    = "agent"
)

// TranscriptLine is one message of a conversation.
type TranscriptLine struct {
	Role   string    `json:"role"`
	Author string    `json:"author"`
	At     time.Time `json:"at"`
	Text   string    `json:"text"`
}

// Transcript is a conversation rendered as a plain dialogue.
type Transcript struct {
	ID    string           `json:"id"`
	Link  string           `json:"link"`
	Lines []TranscriptLine `json:"lines"`
}

// Text joins the dialogue into one block.
func (t Transcript) Text() string {
	var b strings.Builder
	for i, l := range t.Lines {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(strings.ToUpper(l.Role))
		b.WriteString(": ")
		b.WriteString(l.Text)
	}
	return b.String()
}

var paragraphs = strings.NewReplacer("<p>", "", "</p>", "\n", "<br>", "\n", "<br/>", "\n")

// BuildTranscript keeps the opening message and every non-empty comment.
// Notes, assignments and other system parts are dropped.
func (s Shaper) BuildTranscript(c intercom.Conversation) Transcript {
	t := Transcript{ID: c.ID.String(), Link: s.Link(c.ID.String())}
	t.Lines = append(t.Lines, TranscriptLine{
		Role:   RoleCustomer,
		Author: c.Source.Author.Name,
		At:     s.Time(c.CreatedAt),
		Text:   strings.TrimSpace(paragraphs.Replace(c.Source.Body)),
	})
	for _, p := range c.Parts.Parts {
		if p.PartType != "comment" {
			continue
		}
		text := strings.TrimSpace(paragraphs.Replace(p.Body))
		if text == "" {
			continue
		}
		role := RoleCustomer
		if p.Author.Type == "admin" {
			role = RoleAgent
		}
		t.Lines = append(t.Lines, TranscriptLine{Role: role, Author: p.Author.Name, At: s.Time(p.CreatedAt), Text: text})
	}
	return t
}
