package intercom

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
)

// scriptedDoer answers calls in order from a list of canned responses.
type scriptedDoer struct {
	responses []scriptedResponse
	calls     []scriptedCall
}

type scriptedResponse struct {
	body string
	err  error
}

type scriptedCall struct {
	method string
	target string
	body   []byte
	query  url.Values
}

func (d *scriptedDoer) Do(_ context.Context, method, target string, body any, query url.Values) (json.RawMessage, error) {
	var encoded []byte
	if body != nil {
		encoded, _ = json.Marshal(body)
	}
	d.calls = append(d.calls, scriptedCall{method: method, target: target, body: encoded, query: query})
	i := len(d.calls) - 1
	if i >= len(d.responses) {
		return nil, fmt.Errorf("unexpected call %d", i)
	}
	r := d.responses[i]
	if r.err != nil {
		return nil, r.err
	}
	return json.RawMessage(r.body), nil
}

func conversationPage(start, n, total int, next string) string {
	items := make([]string, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, fmt.Sprintf(`{"id":"%d"}`, start+i))
	}
	pages := `{"type":"pages"}`
	if next != "" {
		pages = fmt.Sprintf(`{"next":{"starting_after":%q}}`, next)
	}
	return fmt.Sprintf(`{"total_count":%d,"conversations":[%s],"pages":%s}`, total, strings.Join(items, ","), pages)
}

func itemIDs(t *testing.T, items []json.RawMessage) []string {
	t.Helper()
	convs, err := Decode[Conversation](items)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	ids := make([]string, 0, len(convs))
	for _, c := range convs {
		ids = append(ids, c.ID.String())
	}
	return ids
}

func TestSearch_ThreePagesInOrder(t *testing.T) {
	doer := &scriptedDoer{responses: []scriptedResponse{
		{body: conversationPage(0, 50, 120, "c1")},
		{body: conversationPage(50, 50, 120, "c2")},
		{body: conversationPage(100, 20, 120, "")},
	}}
	var fractions []float64
	col := NewCollector(doer, WithProgress(func(_ string, _, _ int, f float64) {
		fractions = append(fractions, f)
	}))

	req := SearchRequest{Query: And(Field("state", "=", "open")), Pagination: &Pagination{PerPage: 50}}
	out := col.Search(context.Background(), "/conversations/search", req, "conversations", "test")

	if out.Err != nil {
		t.Fatalf("unexpected error: %v", out.Err)
	}
	if len(out.Items) != 120 {
		t.Fatalf("expected 120 items, got %d", len(out.Items))
	}
	if len(out.Items) > out.Total {
		t.Fatalf("collected %d exceeds total %d", len(out.Items), out.Total)
	}
	ids := itemIDs(t, out.Items)
	for i, id := range ids {
		if id != fmt.Sprint(i) {
			t.Fatalf("item %d out of order: %s", i, id)
		}
	}
	if out.Status() != StatusOK || out.Partial() {
		t.Fatalf("expected ok and not partial, got %s partial=%v", out.Status(), out.Partial())
	}
	if req.Pagination.StartingAfter != "" {
		t.Fatalf("caller request was mutated")
	}

	if len(doer.calls) != 3 {
		t.Fatalf("expected 3 calls, got %d", len(doer.calls))
	}
	if strings.Contains(string(doer.calls[0].body), "starting_after") {
		t.Fatalf("first call must not carry a cursor: %s", doer.calls[0].body)
	}
	if !strings.Contains(string(doer.calls[1].body), `"starting_after":"c1"`) {
		t.Fatalf("second call must carry cursor c1: %s", doer.calls[1].body)
	}
	if !strings.Contains(string(doer.calls[2].body), `"starting_after":"c2"`) {
		t.Fatalf("third call must carry cursor c2: %s", doer.calls[2].body)
	}

	if len(fractions) != 3 {
		t.Fatalf("expected 3 progress reports, got %d", len(fractions))
	}
	for _, f := range fractions {
		if f < 0 || f > 0.99 {
			t.Fatalf("progress out of range: %v", f)
		}
	}
	if fractions[2] != 0.99 {
		t.Fatalf("final progress should cap at 0.99, got %v", fractions[2])
	}
}

func TestSearch_SecondPageFailureKeepsFirstPage(t *testing.T) {
	doer := &scriptedDoer{responses: []scriptedResponse{
		{body: conversationPage(0, 50, 120, "c1")},
		{err: &RateLimitError{Attempts: 3}},
	}}
	out := NewCollector(doer).Search(context.Background(), "/conversations/search", SearchRequest{}, "conversations", "test")

	if len(out.Items) != 50 {
		t.Fatalf("expected first page only (50), got %d", len(out.Items))
	}
	if !out.Partial() {
		t.Fatalf("expected partial collection")
	}
	if out.Status() != StatusTransient {
		t.Fatalf("expected transient status, got %s", out.Status())
	}
}

func TestSearch_FirstPageFailureIsEmpty(t *testing.T) {
	doer := &scriptedDoer{responses: []scriptedResponse{
		{err: &APIError{StatusCode: 401}},
	}}
	out := NewCollector(doer).Search(context.Background(), "/conversations/search", SearchRequest{}, "conversations", "test")
	if len(out.Items) != 0 {
		t.Fatalf("expected no items, got %d", len(out.Items))
	}
	if out.Partial() {
		t.Fatalf("empty failure is not partial")
	}
	if out.Status() != StatusFatal {
		t.Fatalf("expected fatal status, got %s", out.Status())
	}
}

func TestSearch_NoResultsIsEmpty(t *testing.T) {
	doer := &scriptedDoer{responses: []scriptedResponse{
		{body: `{"type":"conversation.list","total_count":0,"conversations":[],"pages":{"type":"pages","page":1,"total_pages":0}}`},
	}}
	out := NewCollector(doer).Search(context.Background(), "/conversations/search", SearchRequest{}, "conversations", "test")
	if out.Status() != StatusEmpty {
		t.Fatalf("expected empty status, got %s", out.Status())
	}
	if out.Err != nil {
		t.Fatalf("empty is not an error: %v", out.Err)
	}
}

func TestSearch_MalformedNextStops(t *testing.T) {
	cases := map[string]string{
		"next is a number":        `{"conversations":[{"id":"1"}],"pages":{"next":42}}`,
		"next without cursor":     `{"conversations":[{"id":"1"}],"pages":{"next":{}}}`,
		"next with blank cursor":  `{"conversations":[{"id":"1"}],"pages":{"next":{"starting_after":"  "}}}`,
		"pages is a string":       `{"conversations":[{"id":"1"}],"pages":"oops"}`,
		"pages missing":           `{"conversations":[{"id":"1"}]}`,
		"next is explicitly null": `{"conversations":[{"id":"1"}],"pages":{"next":null}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			doer := &scriptedDoer{responses: []scriptedResponse{{body: body}}}
			out := NewCollector(doer).Search(context.Background(), "/conversations/search", SearchRequest{}, "conversations", "test")
			if out.Err != nil {
				t.Fatalf("unexpected error: %v", out.Err)
			}
			if len(out.Items) != 1 || len(doer.calls) != 1 {
				t.Fatalf("expected a single page, got items=%d calls=%d", len(out.Items), len(doer.calls))
			}
		})
	}
}

func TestSearch_RepeatedCursorStops(t *testing.T) {
	doer := &scriptedDoer{responses: []scriptedResponse{
		{body: conversationPage(0, 2, 10, "same")},
		{body: conversationPage(2, 2, 10, "same")},
	}}
	out := NewCollector(doer).Search(context.Background(), "/conversations/search", SearchRequest{}, "conversations", "test")
	if len(doer.calls) != 2 {
		t.Fatalf("expected loop to stop on repeated cursor, got %d calls", len(doer.calls))
	}
	if len(out.Items) != 4 {
		t.Fatalf("expected 4 items, got %d", len(out.Items))
	}
}

func TestSearch_DuplicatesAcrossPagesPropagate(t *testing.T) {
	doer := &scriptedDoer{responses: []scriptedResponse{
		{body: `{"total_count":3,"conversations":[{"id":"1"},{"id":"2"}],"pages":{"next":{"starting_after":"x"}}}`},
		{body: `{"total_count":3,"conversations":[{"id":"2"},{"id":"3"}]}`},
	}}
	out := NewCollector(doer).Search(context.Background(), "/conversations/search", SearchRequest{}, "conversations", "test")
	if got := strings.Join(itemIDs(t, out.Items), ","); got != "1,2,2,3" {
		t.Fatalf("collector must not dedupe, got %s", got)
	}
}

func TestFollow_UsesNextURLAndPageCap(t *testing.T) {
	var calls atomic.Int32
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n == 1 && r.URL.Query().Get("created_at_after") != "100" {
			t.Errorf("first call lost its query: %s", r.URL.RawQuery)
		}
		fmt.Fprintf(w, `{"activity_logs":[{"id":"%d"}],"pages":{"next":"%s/admins/activity_logs?page=%d"}}`, n, srv.URL, n+1)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	q := url.Values{}
	q.Set("created_at_after", "100")
	out := NewCollector(client).Follow(context.Background(), "/admins/activity_logs", q, "activity_logs", "logs", 3)

	if out.Err != nil {
		t.Fatalf("unexpected error: %v", out.Err)
	}
	if calls.Load() != 4 {
		t.Fatalf("expected first page plus 3 follow-ups, got %d calls", calls.Load())
	}
	if len(out.Items) != 4 {
		t.Fatalf("expected 4 items, got %d", len(out.Items))
	}
}

func TestFollow_FailureMidLoopIsPartial(t *testing.T) {
	doer := &scriptedDoer{responses: []scriptedResponse{
		{body: `{"activity_logs":[{"id":"1"},{"id":"2"}],"pages":{"next":"https://api.intercom.io/admins/activity_logs?page=2"}}`},
		{err: errors.New("connection reset")},
	}}
	out := NewCollector(doer).Follow(context.Background(), "/admins/activity_logs", nil, "activity_logs", "logs", 40)
	if len(out.Items) != 2 || !out.Partial() {
		t.Fatalf("expected partial result with 2 items, got %d partial=%v", len(out.Items), out.Partial())
	}
	if doer.calls[1].target != "https://api.intercom.io/admins/activity_logs?page=2" {
		t.Fatalf("expected next url to be followed, got %q", doer.calls[1].target)
	}
}

func TestDecodeSkipsBadItems(t *testing.T) {
	items := []json.RawMessage{
		json.RawMessage(`{"id":1}`),
		json.RawMessage(`{"id":{"nested":true}}`),
		json.RawMessage(`{"id":"3","admin_assignee_id":null,"team_assignee_id":0}`),
	}
	convs, err := Decode[Conversation](items)
	if err == nil {
		t.Fatalf("expected decode error for bad item")
	}
	if len(convs) != 2 {
		t.Fatalf("expected 2 decoded items, got %d", len(convs))
	}
	if convs[0].ID != "1" {
		t.Fatalf("numeric id not decoded: %q", convs[0].ID)
	}
	if !convs[1].AdminAssigneeID.IsZero() || !convs[1].TeamAssigneeID.IsZero() {
		t.Fatalf("null/zero assignees should be zero ids")
	}
}
