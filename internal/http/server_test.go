package http

import (
	"context"
	"errors"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"go-helpdesk-insights-ui/internal/config"
	"go-helpdesk-insights-ui/internal/connectors/archive"
	"go-helpdesk-insights-ui/internal/connectors/intercom"
	"go-helpdesk-insights-ui/internal/dashboard"
	"go-helpdesk-insights-ui/internal/etl"
	"go-helpdesk-insights-ui/internal/insights"
)

func testConfig() config.Config {
	return config.Config{
		ListenAddr:            ":0",
		DefaultLimit:          50,
		DefaultRangeDay:       7,
		AppPassword:           "secret",
		SessionTTL:            time.Hour,
		DisplayUTCOffsetHours: -3,
	}
}

// fakeIntercom answers the handful of endpoints the handlers reach.
func fakeIntercom(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		switch {
		case r.Method == nethttp.MethodGet && r.URL.Path == "/conversations":
			now := time.Now().Unix()
			_, _ = io.WriteString(w, `{"conversations":[
				{"id":"11","state":"open","created_at":`+itoa(now-3600)+`,"updated_at":`+itoa(now)+`,"admin_assignee_id":null,"team_assignee_id":null},
				{"id":"12","state":"open","created_at":`+itoa(now-60)+`,"updated_at":`+itoa(now)+`,"admin_assignee_id":"5","team_assignee_id":null}
			]}`)
		case r.Method == nethttp.MethodPost && r.URL.Path == "/conversations/search":
			_, _ = io.WriteString(w, `{"total_count":0,"conversations":[],"pages":{}}`)
		case r.Method == nethttp.MethodGet && r.URL.Path == "/conversations/77":
			_, _ = io.WriteString(w, `{"id":"77","created_at":1700000000,"source":{"body":"<p>Hello</p>","author":{"name":"Ana","type":"user"}}}`)
		case r.Method == nethttp.MethodGet && r.URL.Path == "/admins":
			_, _ = io.WriteString(w, `{"admins":[{"id":"5","name":"Bia"}]}`)
		case r.Method == nethttp.MethodGet && r.URL.Path == "/data_attributes":
			_, _ = io.WriteString(w, `{"data":[]}`)
		default:
			w.WriteHeader(nethttp.StatusNotFound)
			_, _ = io.WriteString(w, `{"type":"error.list"}`)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}

func newService(t *testing.T, baseURL string) *dashboard.Service {
	t.Helper()
	client, err := intercom.New(baseURL, "tok")
	if err != nil {
		t.Fatalf("intercom.New: %v", err)
	}
	settings := dashboard.SettingsFromConfig(testConfig())
	settings.LimboScanSize = 60
	return dashboard.NewService(intercom.NewAPI(client, nil, 0), settings, nil)
}

func login(t *testing.T, h nethttp.Handler) *nethttp.Cookie {
	t.Helper()
	form := url.Values{"password": {"secret"}}
	req := httptest.NewRequest(nethttp.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != nethttp.StatusSeeOther {
		t.Fatalf("login: expected 303, got %d", rec.Code)
	}
	for _, c := range rec.Result().Cookies() {
		if c.Value != "" {
			return c
		}
	}
	t.Fatalf("login did not set a session cookie")
	return nil
}

func get(h nethttp.Handler, path string, cookie *nethttp.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(nethttp.MethodGet, path, nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestPublicRoutesSkipAuth(t *testing.T) {
	h := NewServer(testConfig(), Deps{}).Handler()
	for _, path := range []string{"/health", "/metrics"} {
		if rec := get(h, path, nil); rec.Code != nethttp.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
	}
	if rec := get(h, "/login", nil); rec.Code != nethttp.StatusOK {
		t.Fatalf("login page: expected 200, got %d", rec.Code)
	}
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	h := NewServer(testConfig(), Deps{}).Handler()

	rec := get(h, "/api/v1/csat", nil)
	if rec.Code != nethttp.StatusUnauthorized {
		t.Fatalf("expected 401 for api without session, got %d", rec.Code)
	}
	rec = get(h, "/", nil)
	if rec.Code != nethttp.StatusSeeOther || rec.Header().Get("Location") != "/login" {
		t.Fatalf("expected redirect to login, got %d %q", rec.Code, rec.Header().Get("Location"))
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	h := NewServer(testConfig(), Deps{}).Handler()
	req := httptest.NewRequest(nethttp.MethodPost, "/login", strings.NewReader("password=nope"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != nethttp.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "wrong password") {
		t.Fatalf("expected error on login page")
	}
}

func TestMissingPasswordLocksUI(t *testing.T) {
	cfg := testConfig()
	cfg.AppPassword = ""
	h := NewServer(cfg, Deps{}).Handler()

	rec := get(h, "/login", nil)
	if rec.Code != nethttp.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), "not configured") {
		t.Fatalf("expected locked login page, got %d", rec.Code)
	}
	rec = get(h, "/api/v1/limbo", nil)
	if rec.Code != nethttp.StatusUnauthorized || !strings.Contains(rec.Body.String(), "not configured") {
		t.Fatalf("expected not configured error, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestMissingTokenNamesKey(t *testing.T) {
	h := NewServer(testConfig(), Deps{}).Handler()
	cookie := login(t, h)

	rec := get(h, "/api/v1/csat", cookie)
	if rec.Code != nethttp.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "APP_INTERCOM_TOKEN") {
		t.Fatalf("expected missing key in body, got %s", rec.Body.String())
	}
	if rec := get(h, "/ready", nil); rec.Code != nethttp.StatusServiceUnavailable {
		t.Fatalf("expected not ready, got %d", rec.Code)
	}
}

func TestLimboEndpoint(t *testing.T) {
	svc := newService(t, fakeIntercom(t).URL)
	h := NewServer(testConfig(), Deps{Service: svc}).Handler()
	cookie := login(t, h)

	rec := get(h, "/api/v1/limbo", cookie)
	if rec.Code != nethttp.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"count":1`) || !strings.Contains(body, `"id":"11"`) {
		t.Fatalf("expected one limbo row for conversation 11, got %s", body)
	}
	if strings.Contains(body, `"id":"12"`) {
		t.Fatalf("assigned conversation must not be in limbo: %s", body)
	}
}

func TestEmptyRangeIsNotAnError(t *testing.T) {
	svc := newService(t, fakeIntercom(t).URL)
	h := NewServer(testConfig(), Deps{Service: svc}).Handler()
	cookie := login(t, h)

	rec := get(h, "/api/v1/csat?date_from=2024-03-01&date_to=2024-03-07", cookie)
	if rec.Code != nethttp.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"status":"empty"`) {
		t.Fatalf("expected empty status, got %s", rec.Body.String())
	}
}

func TestDashboardRejectsBadDates(t *testing.T) {
	svc := newService(t, fakeIntercom(t).URL)
	h := NewServer(testConfig(), Deps{Service: svc}).Handler()
	cookie := login(t, h)

	cases := map[string]string{
		"/api/v1/volume?date_from=03-01-2024":                    "invalid date_from",
		"/api/v1/volume?date_from=2024-03-07&date_to=2024-03-01": "date_to must be the same or after date_from",
		"/api/v1/monitor?window=week":                            "invalid window",
	}
	for path, want := range cases {
		rec := get(h, path, cookie)
		if rec.Code != nethttp.StatusBadRequest || !strings.Contains(rec.Body.String(), want) {
			t.Fatalf("%s: expected 400 with %q, got %d %s", path, want, rec.Code, rec.Body.String())
		}
	}
}

func TestAnalystRequiresAdmin(t *testing.T) {
	svc := newService(t, fakeIntercom(t).URL)
	h := NewServer(testConfig(), Deps{Service: svc}).Handler()
	cookie := login(t, h)

	if rec := get(h, "/api/v1/analyst", cookie); rec.Code != nethttp.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestTranscriptRoute(t *testing.T) {
	svc := newService(t, fakeIntercom(t).URL)
	h := NewServer(testConfig(), Deps{Service: svc}).Handler()
	cookie := login(t, h)

	rec := get(h, "/api/v1/conversations/77/transcript", cookie)
	if rec.Code != nethttp.StatusOK || !strings.Contains(rec.Body.String(), `"text":"Hello"`) {
		t.Fatalf("unexpected transcript response %d %s", rec.Code, rec.Body.String())
	}
	if rec := get(h, "/api/v1/conversations/77", cookie); rec.Code != nethttp.StatusNotFound {
		t.Fatalf("expected 404 without transcript suffix, got %d", rec.Code)
	}
	if rec := get(h, "/api/v1/conversations/99/transcript", cookie); rec.Code != nethttp.StatusBadGateway {
		t.Fatalf("expected 502 for a missing conversation, got %d", rec.Code)
	}
}

func TestAttributesExportIsWorkbook(t *testing.T) {
	svc := newService(t, fakeIntercom(t).URL)
	h := NewServer(testConfig(), Deps{Service: svc}).Handler()
	cookie := login(t, h)

	rec := get(h, "/api/v1/attributes/export?date_from=2024-03-01&date_to=2024-03-02", cookie)
	if rec.Code != nethttp.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Header().Get("Content-Type"), "spreadsheetml") {
		t.Fatalf("unexpected content type %q", rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(rec.Header().Get("Content-Disposition"), "attributes_2024-03-01_2024-03-02.xlsx") {
		t.Fatalf("unexpected disposition %q", rec.Header().Get("Content-Disposition"))
	}
	if !strings.HasPrefix(rec.Body.String(), "PK") {
		t.Fatalf("expected a zip container")
	}
}

type stubSyncer struct {
	params etl.Params
	stats  etl.Stats
	err    error
}

func (s *stubSyncer) Run(_ context.Context, p etl.Params) (etl.Stats, error) {
	s.params = p
	return s.stats, s.err
}

func post(h nethttp.Handler, path, body string, cookie *nethttp.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(nethttp.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSyncHandler(t *testing.T) {
	syncer := &stubSyncer{stats: etl.Stats{Status: intercom.StatusOK, Saved: 3}}
	h := NewServer(testConfig(), Deps{Syncer: syncer}).Handler()
	cookie := login(t, h)

	if rec := post(h, "/api/v1/sync", `{"date_from":"2024-03-01","date_to":"2024-03-01"}`, cookie); rec.Code != nethttp.StatusBadRequest {
		t.Fatalf("expected 400 without company, got %d", rec.Code)
	}
	if rec := get(h, "/api/v1/sync", cookie); rec.Code != nethttp.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET, got %d", rec.Code)
	}

	rec := post(h, "/api/v1/sync", `{"date_from":"2024-03-01","date_to":"2024-03-01","company":" Acme "}`, cookie)
	if rec.Code != nethttp.StatusOK || !strings.Contains(rec.Body.String(), `"saved":3`) {
		t.Fatalf("unexpected sync response %d %s", rec.Code, rec.Body.String())
	}
	if syncer.params.Company != "Acme" {
		t.Fatalf("expected trimmed company, got %q", syncer.params.Company)
	}
	loc := testConfig().DisplayLocation()
	wantFrom := time.Date(2024, 3, 1, 0, 0, 0, 0, loc)
	if !syncer.params.Range.From.Equal(wantFrom) || !syncer.params.Range.To.Equal(wantFrom.AddDate(0, 0, 1)) {
		t.Fatalf("unexpected range %+v", syncer.params.Range)
	}

	syncer.err = etl.ErrCompanyNotFound
	rec = post(h, "/api/v1/sync", `{"date_from":"2024-03-01","date_to":"2024-03-01","company":"Nope"}`, cookie)
	if rec.Code != nethttp.StatusNotFound {
		t.Fatalf("expected 404 for unknown company, got %d", rec.Code)
	}
}

func TestSyncDisabledWithoutArchive(t *testing.T) {
	h := NewServer(testConfig(), Deps{}).Handler()
	cookie := login(t, h)
	rec := post(h, "/api/v1/sync", `{}`, cookie)
	if rec.Code != nethttp.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), "APP_ARCHIVE_ENABLED") {
		t.Fatalf("expected archive disabled, got %d %s", rec.Code, rec.Body.String())
	}
}

type stubArchive struct {
	query archive.Query
	items []insights.ArchiveTicket
	err   error
}

func (s *stubArchive) Search(_ context.Context, q archive.Query) ([]insights.ArchiveTicket, error) {
	s.query = q
	return s.items, s.err
}

func (s *stubArchive) Count(_ context.Context, _ archive.Query) (int64, error) {
	return int64(len(s.items)), s.err
}

func (s *stubArchive) ServiceStats(context.Context) (*archive.ServiceStats, error) {
	return &archive.ServiceStats{TicketsTotal: int64(len(s.items))}, s.err
}

func TestArchiveTickets(t *testing.T) {
	store := &stubArchive{items: []insights.ArchiveTicket{{ID: "1"}, {ID: "2"}}}
	h := NewServer(testConfig(), Deps{Archive: store}).Handler()
	cookie := login(t, h)

	rec := get(h, "/api/v1/archive/tickets?q=acme&limit=10&offset=5&date_from=2024-03-01&date_to=2024-03-31", cookie)
	if rec.Code != nethttp.StatusOK || !strings.Contains(rec.Body.String(), `"total":2`) {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
	}
	if store.query.Term != "acme" || store.query.Limit != 10 || store.query.Offset != 5 {
		t.Fatalf("unexpected query %+v", store.query)
	}
	if store.query.To.Sub(store.query.From) != 31*24*time.Hour {
		t.Fatalf("expected 31 inclusive days, got %s", store.query.To.Sub(store.query.From))
	}

	store.err = errors.New("db down")
	if rec := get(h, "/api/v1/archive/tickets", cookie); rec.Code != nethttp.StatusInternalServerError {
		t.Fatalf("expected 500 on store failure, got %d", rec.Code)
	}
}

func TestServicesStatusWithNothingEnabled(t *testing.T) {
	h := NewServer(testConfig(), Deps{}).Handler()
	cookie := login(t, h)
	rec := get(h, "/api/v1/status/services", cookie)
	if rec.Code != nethttp.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	for _, name := range []string{"intercom", "archive", "state_db", "amqp", "redis", "slack", "limbo_monitor"} {
		if !strings.Contains(rec.Body.String(), `"`+name+`"`) {
			t.Fatalf("missing %s in %s", name, rec.Body.String())
		}
	}
}

func TestLogoutEndsSession(t *testing.T) {
	h := NewServer(testConfig(), Deps{}).Handler()
	cookie := login(t, h)

	if rec := post(h, "/logout", "", cookie); rec.Code != nethttp.StatusSeeOther {
		t.Fatalf("expected redirect after logout, got %d", rec.Code)
	}
	if rec := get(h, "/api/v1/settings", cookie); rec.Code != nethttp.StatusUnauthorized {
		t.Fatalf("expected session to be gone, got %d", rec.Code)
	}
}

func TestParseDayRangeDefaults(t *testing.T) {
	loc := time.FixedZone("UTC-3", -3*3600)
	defFrom := time.Date(2024, 3, 1, 15, 0, 0, 0, loc)
	defTo := time.Date(2024, 3, 7, 15, 0, 0, 0, loc)

	from, to, err := parseDayRange("", "", loc, defFrom, defTo)
	if err != nil || !from.Equal(defFrom) || !to.Equal(defTo) {
		t.Fatalf("expected defaults, got %s %s %v", from, to, err)
	}
	from, _, err = parseDayRange("2024-02-20", "", loc, defFrom, defTo)
	if err != nil || !from.Equal(time.Date(2024, 2, 20, 0, 0, 0, 0, loc)) {
		t.Fatalf("expected parsed from in display zone, got %s %v", from, err)
	}
}
