package intercom

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ID is an Intercom identifier. The API sends ids both as JSON strings and
// numbers, and uses null for "unassigned".
type ID string

// UnmarshalJSON accepts strings, numbers and null.
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || string(b) == "null":
		*id = ""
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(s))
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("intercom id: %w", err)
		}
		*id = ID(n.String())
	}
	return nil
}

// IsZero reports an unset id. Intercom uses 0 for "no team" in some payloads.
func (id ID) IsZero() bool {
	return id == "" || id == "0"
}

func (id ID) String() string { return string(id) }

// Int returns the numeric form of the id, used in search filters.
func (id ID) Int() (int64, bool) {
	n, err := strconv.ParseInt(string(id), 10, 64)
	return n, err == nil
}

// Conversation is the subset of the conversation model the dashboards read.
type Conversation struct {
	ID               ID             `json:"id"`
	State            string         `json:"state"`
	Open             bool           `json:"open"`
	CreatedAt        int64          `json:"created_at"`
	UpdatedAt        int64          `json:"updated_at"`
	AdminAssigneeID  ID             `json:"admin_assignee_id"`
	TeamAssigneeID   ID             `json:"team_assignee_id"`
	Assignee         *Author        `json:"assignee,omitempty"`
	Source           Source         `json:"source"`
	Rating           *Rating        `json:"conversation_rating"`
	Tags             TagList        `json:"tags"`
	CustomAttributes map[string]any `json:"custom_attributes"`
	Companies        CompanyList    `json:"companies"`
	Parts            PartList       `json:"conversation_parts"`
}

// TagNames returns the tag names in API order.
func (c Conversation) TagNames() []string {
	out := make([]string, 0, len(c.Tags.Tags))
	for _, t := range c.Tags.Tags {
		out = append(out, t.Name)
	}
	return out
}

// Source is the message that opened a conversation.
type Source struct {
	Type        string `json:"type"`
	DeliveredAs string `json:"delivered_as"`
	Subject     string `json:"subject"`
	Body        string `json:"body"`
	Author      Author `json:"author"`
}

// Author is an admin, user, lead or bot that wrote a message.
type Author struct {
	ID    ID     `json:"id"`
	Type  string `json:"type"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Rating is a conversation's satisfaction rating. Score is nil when unrated.
type Rating struct {
	Score     *int   `json:"rating"`
	Remark    string `json:"remark"`
	CreatedAt int64  `json:"created_at"`
}

// TagList wraps the tags envelope.
type TagList struct {
	Tags []Tag `json:"tags"`
}

// Tag is a conversation tag.
type Tag struct {
	ID   ID     `json:"id"`
	Name string `json:"name"`
}

// CompanyList wraps the companies attached to a conversation.
type CompanyList struct {
	Companies []CompanyRef `json:"companies"`
}

// CompanyRef is a short company reference.
type CompanyRef struct {
	ID   ID     `json:"id"`
	Name string `json:"name"`
}

// PartList wraps conversation parts.
type PartList struct {
	Parts      []Part `json:"conversation_parts"`
	TotalCount int    `json:"total_count"`
}

// Part is one reply, note or assignment in a conversation.
type Part struct {
	ID        ID     `json:"id"`
	PartType  string `json:"part_type"`
	Body      string `json:"body"`
	CreatedAt int64  `json:"created_at"`
	Author    Author `json:"author"`
}

// Admin is a teammate.
type Admin struct {
	ID              ID     `json:"id"`
	Name            string `json:"name"`
	Email           string `json:"email"`
	AwayModeEnabled bool   `json:"away_mode_enabled"`
	TeamIDs         []ID   `json:"team_ids"`
}

// Team groups admins.
type Team struct {
	ID       ID     `json:"id"`
	Name     string `json:"name"`
	AdminIDs []ID   `json:"admin_ids"`
}

// ActivityLog is one admin activity entry.
type ActivityLog struct {
	ID           ID             `json:"id"`
	ActivityType string         `json:"activity_type"`
	CreatedAt    int64          `json:"created_at"`
	PerformedBy  Author         `json:"performed_by"`
	Metadata     map[string]any `json:"metadata"`
}

// AwayMode reads metadata.away_mode. ok is false when the entry has no such flag.
func (l ActivityLog) AwayMode() (away bool, ok bool) {
	v, found := l.Metadata["away_mode"]
	if !found {
		return false, false
	}
	b, isBool := v.(bool)
	return b, isBool
}

// DataAttribute describes a custom attribute.
type DataAttribute struct {
	Name  string `json:"name"`
	Label string `json:"label"`
	Model string `json:"model"`
}

// Company is a company record.
type Company struct {
	Type      string `json:"type"`
	ID        ID     `json:"id"`
	CompanyID string `json:"company_id"`
	Name      string `json:"name"`
}

// Contact is the subset of a contact needed to resolve its company.
type Contact struct {
	ID        ID     `json:"id"`
	Role      string `json:"role"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Companies struct {
		Data []CompanyRef `json:"data"`
	} `json:"companies"`
}

// SearchRequest is the body of a POST /…/search call.
type SearchRequest struct {
	Query      Filter      `json:"query"`
	Pagination *Pagination `json:"pagination,omitempty"`
	Sort       *Sort       `json:"sort,omitempty"`
}

// Filter is either a single field predicate or an AND/OR group.
type Filter struct {
	Field    string `json:"field,omitempty"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

// Field builds a single predicate.
func Field(field, operator string, value any) Filter {
	return Filter{Field: field, Operator: operator, Value: value}
}

// And groups predicates that must all hold.
func And(filters ...Filter) Filter {
	return Filter{Operator: "AND", Value: filters}
}

// Or groups predicates of which one must hold.
func Or(filters ...Filter) Filter {
	return Filter{Operator: "OR", Value: filters}
}

// Pagination controls page size and cursor.
type Pagination struct {
	PerPage       int    `json:"per_page,omitempty"`
	StartingAfter string `json:"starting_after,omitempty"`
}

// Sort orders search results.
type Sort struct {
	Field string `json:"field"`
	Order string `json:"order"`
}

// Decode unmarshals raw items into T. Items that fail to decode are skipped;
// the first such error is returned alongside the decoded items.
func Decode[T any](items []json.RawMessage) ([]T, error) {
	out := make([]T, 0, len(items))
	var firstErr error
	for i, raw := range items {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("decode item %d: %w", i, err)
			}
			continue
		}
		out = append(out, v)
	}
	return out, firstErr
}
