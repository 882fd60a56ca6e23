package intercom

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// API exposes the Intercom endpoints the dashboards read.
type API struct {
	doer      Doer
	collector *Collector
	pageSize  int
}

// NewAPI wires typed endpoint helpers on top of doer and collector.
func NewAPI(doer Doer, collector *Collector, pageSize int) *API {
	if pageSize <= 0 || pageSize > 150 {
		pageSize = 150
	}
	if collector == nil {
		collector = NewCollector(doer)
	}
	return &API{doer: doer, collector: collector, pageSize: pageSize}
}

// SearchConversations collects every conversation matching query.
func (a *API) SearchConversations(ctx context.Context, query Filter, sort *Sort, pageSize int, label string) Collection {
	if pageSize <= 0 {
		pageSize = a.pageSize
	}
	req := SearchRequest{Query: query, Pagination: &Pagination{PerPage: pageSize}, Sort: sort}
	return a.collector.Search(ctx, "/conversations/search", req, "conversations", label)
}

// SearchConversationsPage returns only the first page of a search together
// with the total count reported by the API.
func (a *API) SearchConversationsPage(ctx context.Context, query Filter, sort *Sort, perPage int) ([]Conversation, int, error) {
	req := SearchRequest{Query: query, Sort: sort}
	if perPage > 0 {
		req.Pagination = &Pagination{PerPage: perPage}
	}
	raw, err := a.doer.Do(ctx, http.MethodPost, "/conversations/search", req, nil)
	if err != nil {
		return nil, 0, err
	}
	var resp struct {
		TotalCount    int            `json:"total_count"`
		Conversations []Conversation `json:"conversations"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, 0, fmt.Errorf("decode conversation search: %w", err)
	}
	return resp.Conversations, resp.TotalCount, nil
}

// CountConversations returns total_count for query without paging.
func (a *API) CountConversations(ctx context.Context, query Filter) (int, error) {
	_, total, err := a.SearchConversationsPage(ctx, query, nil, 1)
	return total, err
}

// RecentConversations lists the most recently updated conversations.
func (a *API) RecentConversations(ctx context.Context, perPage int) ([]Conversation, error) {
	if perPage <= 0 {
		perPage = 60
	}
	q := url.Values{}
	q.Set("sort", "updated_at")
	q.Set("order", "desc")
	q.Set("per_page", strconv.Itoa(perPage))
	raw, err := a.doer.Do(ctx, http.MethodGet, "/conversations", nil, q)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Conversations []Conversation `json:"conversations"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode conversations: %w", err)
	}
	return resp.Conversations, nil
}

// Conversation fetches one conversation with its parts as plain text.
func (a *API) Conversation(ctx context.Context, id string) (*Conversation, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("conversation id required")
	}
	q := url.Values{}
	q.Set("display_as", "plaintext")
	raw, err := a.doer.Do(ctx, http.MethodGet, "/conversations/"+url.PathEscape(id), nil, q)
	if err != nil {
		return nil, err
	}
	var conv Conversation
	if err := json.Unmarshal(raw, &conv); err != nil {
		return nil, fmt.Errorf("decode conversation: %w", err)
	}
	return &conv, nil
}

// Admins lists all teammates.
func (a *API) Admins(ctx context.Context) ([]Admin, error) {
	raw, err := a.doer.Do(ctx, http.MethodGet, "/admins", nil, nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Admins []Admin `json:"admins"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode admins: %w", err)
	}
	return resp.Admins, nil
}

// Team fetches one team and its member ids.
func (a *API) Team(ctx context.Context, id string) (*Team, error) {
	raw, err := a.doer.Do(ctx, http.MethodGet, "/teams/"+url.PathEscape(strings.TrimSpace(id)), nil, nil)
	if err != nil {
		return nil, err
	}
	var team Team
	if err := json.Unmarshal(raw, &team); err != nil {
		return nil, fmt.Errorf("decode team: %w", err)
	}
	return &team, nil
}

// ActivityLogs collects admin activity between from and to.
func (a *API) ActivityLogs(ctx context.Context, from, to time.Time, maxPages int, label string) Collection {
	q := url.Values{}
	q.Set("created_at_after", strconv.FormatInt(from.Unix(), 10))
	q.Set("created_at_before", strconv.FormatInt(to.Unix(), 10))
	return a.collector.Follow(ctx, "/admins/activity_logs", q, "activity_logs", label, maxPages)
}

// DataAttributes lists attribute definitions for model ("conversation", "contact", …).
func (a *API) DataAttributes(ctx context.Context, model string) ([]DataAttribute, error) {
	q := url.Values{}
	q.Set("model", model)
	raw, err := a.doer.Do(ctx, http.MethodGet, "/data_attributes", nil, q)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Data []DataAttribute `json:"data"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode data attributes: %w", err)
	}
	return resp.Data, nil
}

// FindCompany resolves term as an external company_id first and as an exact
// company name second. It returns nil without error when nothing matches.
func (a *API) FindCompany(ctx context.Context, term string) (*Company, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, nil
	}

	q := url.Values{}
	q.Set("company_id", term)
	raw, err := a.doer.Do(ctx, http.MethodGet, "/companies", nil, q)
	var apiErr *APIError
	switch {
	case err == nil:
		if c := decodeCompanyLookup(raw); c != nil {
			return c, nil
		}
	case errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound:
	default:
		return nil, err
	}

	req := SearchRequest{Query: And(Field("name", "=", term))}
	raw, err = a.doer.Do(ctx, http.MethodPost, "/companies/search", req, nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		TotalCount int       `json:"total_count"`
		Data       []Company `json:"data"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode company search: %w", err)
	}
	if resp.TotalCount == 0 || len(resp.Data) == 0 {
		return nil, nil
	}
	return &resp.Data[0], nil
}

func decodeCompanyLookup(raw json.RawMessage) *Company {
	var single Company
	if json.Unmarshal(raw, &single) == nil && single.Type == "company" && !single.ID.IsZero() {
		return &single
	}
	var list struct {
		Data []Company `json:"data"`
	}
	if json.Unmarshal(raw, &list) == nil && len(list.Data) > 0 {
		return &list.Data[0]
	}
	return nil
}

// ContactCompanyID returns the id of the first company attached to a contact.
func (a *API) ContactCompanyID(ctx context.Context, contactID string) (string, error) {
	raw, err := a.doer.Do(ctx, http.MethodGet, "/contacts/"+url.PathEscape(strings.TrimSpace(contactID)), nil, nil)
	if err != nil {
		return "", err
	}
	var contact Contact
	if err := json.Unmarshal(raw, &contact); err != nil {
		return "", fmt.Errorf("decode contact: %w", err)
	}
	if len(contact.Companies.Data) == 0 {
		return "", nil
	}
	return contact.Companies.Data[0].ID.String(), nil
}
