// Package dashboard fetches helpdesk data for one filter and turns it into
// report views. Every view carries a status so callers can tell an empty
// range apart from a failed fetch.
package dashboard

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"go-helpdesk-insights-ui/internal/config"
	"go-helpdesk-insights-ui/internal/connectors/intercom"
	"go-helpdesk-insights-ui/internal/insights"
)

// API is the part of the helpdesk client the dashboards read.
type API interface {
	SearchConversations(ctx context.Context, query intercom.Filter, sort *intercom.Sort, pageSize int, label string) intercom.Collection
	SearchConversationsPage(ctx context.Context, query intercom.Filter, sort *intercom.Sort, perPage int) ([]intercom.Conversation, int, error)
	CountConversations(ctx context.Context, query intercom.Filter) (int, error)
	RecentConversations(ctx context.Context, perPage int) ([]intercom.Conversation, error)
	Conversation(ctx context.Context, id string) (*intercom.Conversation, error)
	Admins(ctx context.Context) ([]intercom.Admin, error)
	Team(ctx context.Context, id string) (*intercom.Team, error)
	ActivityLogs(ctx context.Context, from, to time.Time, maxPages int, label string) intercom.Collection
	DataAttributes(ctx context.Context, model string) ([]intercom.DataAttribute, error)
}

// Settings are the business rules and sizes the reports use.
type Settings struct {
	AppID               string
	Location            *time.Location
	SupportTeamID       string
	LeadsTeamID         string
	MonitorTeamID       string
	AttributeTeamIDs    []string
	DefaultColumns      []string
	CSAT                insights.CSATRules
	Attributes          insights.AttributeRules
	Monitor             insights.MonitorRules
	AnalystGoalPct      float64
	ActivityLogMaxPages int
	LimboScanSize       int
	DefaultRangeDays    int
	CacheTTL            time.Duration
}

// SettingsFromConfig copies the report rules out of cfg.
func SettingsFromConfig(cfg config.Config) Settings {
	return Settings{
		AppID:            cfg.IntercomAppID,
		Location:         cfg.DisplayLocation(),
		SupportTeamID:    cfg.SupportTeamID,
		LeadsTeamID:      cfg.LeadsTeamID,
		MonitorTeamID:    cfg.MonitorTeamID,
		AttributeTeamIDs: cfg.AttributeTeamIDs,
		DefaultColumns:   cfg.DefaultColumns,
		CSAT:             insights.CSATRules{PositiveMin: cfg.CSATPositiveMin, Neutral: cfg.CSATNeutral},
		Attributes: insights.AttributeRules{
			ReasonLabel:       cfg.ReasonLabel,
			SecondReasonLabel: cfg.SecondReasonLabel,
			StatusLabel:       cfg.StatusLabel,
			ResolvedValue:     cfg.ResolvedValue,
		},
		Monitor: insights.MonitorRules{
			RecentWindow:     cfg.RecentWindow,
			OpenAlertAt:      cfg.OpenAlertAt,
			RecentAlertAt:    cfg.RecentAlertAt,
			AgentsOnlineGoal: cfg.AgentsOnlineGoal,
		},
		AnalystGoalPct:      cfg.AnalystGoalPct,
		ActivityLogMaxPages: cfg.ActivityLogMaxPages,
		LimboScanSize:       cfg.LimboScanSize,
		DefaultRangeDays:    cfg.DefaultRangeDay,
		CacheTTL:            cfg.CacheTTL,
	}
}

// Filter is the explicit request state of one dashboard call.
type Filter struct {
	From        time.Time `json:"date_from"`
	To          time.Time `json:"date_to"`
	TeamIDs     []string  `json:"team_ids,omitempty"`
	AdminID     string    `json:"admin_id,omitempty"`
	Agents      []string  `json:"agents,omitempty"`
	Columns     []string  `json:"columns,omitempty"`
	Days        []string  `json:"days,omitempty"`
	HideEmpty   bool      `json:"hide_empty,omitempty"`
	ComplexOnly bool      `json:"complex_only,omitempty"`
	Window      string    `json:"window,omitempty"`
}

// Monitor windows.
const (
	WindowToday = "today"
	Window48h   = "48h"
)

func (f Filter) cacheKey(method string) string {
	parts := []string{
		method,
		f.From.Format("2006-01-02"),
		f.To.Format("2006-01-02"),
		strings.Join(sortedCopy(f.TeamIDs), ","),
		f.AdminID,
		strings.Join(sortedCopy(f.Agents), ","),
		strings.Join(f.Columns, ","),
		strings.Join(sortedCopy(f.Days), ","),
		strconv.FormatBool(f.HideEmpty),
		strconv.FormatBool(f.ComplexOnly),
		f.Window,
	}
	return strings.Join(parts, "|")
}

func sortedCopy(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}

// View is one report together with the outcome of the fetch behind it.
type View[T any] struct {
	Status      intercom.Status `json:"status"`
	Error       string          `json:"error,omitempty"`
	Partial     bool            `json:"partial"`
	Data        T               `json:"data"`
	GeneratedAt time.Time       `json:"generated_at"`
}

// OK reports whether the view can be cached.
func (v View[T]) OK() bool {
	return v.Status == intercom.StatusOK || v.Status == intercom.StatusEmpty
}

// ObserveFunc receives the status of each computed view.
type ObserveFunc func(report string, status intercom.Status, duration time.Duration)

// Service computes dashboard views from the helpdesk API.
type Service struct {
	api      API
	settings Settings
	progress *ProgressBoard
	cache    *ttlCache
	observe  ObserveFunc
	logger   *zap.Logger
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithObserver registers a callback for every computed view.
func WithObserver(fn ObserveFunc) Option {
	return func(s *Service) { s.observe = fn }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithProgressBoard shares a board with the API's collector.
func WithProgressBoard(b *ProgressBoard) Option {
	return func(s *Service) {
		if b != nil {
			s.progress = b
		}
	}
}

// NewService builds a Service.
func NewService(api API, settings Settings, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if settings.Location == nil {
		settings.Location = time.UTC
	}
	if settings.DefaultRangeDays <= 0 {
		settings.DefaultRangeDays = 7
	}
	s := &Service{
		api:      api,
		settings: settings,
		progress: NewProgressBoard(),
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cache = newTTLCache(settings.CacheTTL, s.now)
	return s
}

// Settings returns the active report rules.
func (s *Service) Settings() Settings { return s.settings }

// Progress returns the fetch progress board.
func (s *Service) Progress() *ProgressBoard { return s.progress }

// ClearCache drops every cached view.
func (s *Service) ClearCache() { s.cache.clear() }

// DefaultFilter covers the last DefaultRangeDays days, today included.
func (s *Service) DefaultFilter() Filter {
	today := s.now().In(s.settings.Location)
	return Filter{From: today.AddDate(0, 0, -(s.settings.DefaultRangeDays - 1)), To: today}
}

func (s *Service) dayRange(f Filter) insights.Range {
	from, to := f.From, f.To
	if from.IsZero() || to.IsZero() {
		d := s.DefaultFilter()
		if from.IsZero() {
			from = d.From
		}
		if to.IsZero() {
			to = d.To
		}
	}
	if to.Before(from) {
		from, to = to, from
	}
	return insights.DayRange(from, to, s.settings.Location)
}

func (s *Service) shaper(admins []intercom.Admin) insights.Shaper {
	return insights.NewShaper(s.settings.Location, s.settings.AppID, admins)
}

// cachedAdmins fetches the admin list once per cache TTL. A failure yields
// no names rather than failing the report.
func (s *Service) cachedAdmins(ctx context.Context) ([]intercom.Admin, error) {
	if v, ok := s.cache.get("admins"); ok {
		return v.([]intercom.Admin), nil
	}
	admins, err := s.api.Admins(ctx)
	if err != nil {
		return nil, err
	}
	s.cache.set("admins", admins)
	return admins, nil
}

func (s *Service) adminsOrEmpty(ctx context.Context) []intercom.Admin {
	admins, err := s.cachedAdmins(ctx)
	if err != nil {
		s.logger.Warn("admin list unavailable, names will show as unknown", zap.Error(err))
	}
	return admins
}

// cached runs compute unless a fresh view for key exists. Failed views are
// never cached.
func cached[T any](s *Service, key, report string, compute func() View[T]) View[T] {
	if v, ok := s.cache.get(key); ok {
		return v.(View[T])
	}
	started := s.now()
	view := compute()
	view.GeneratedAt = s.now()
	if s.observe != nil {
		s.observe(report, view.Status, view.GeneratedAt.Sub(started))
	}
	if view.Status != intercom.StatusOK && view.Status != intercom.StatusEmpty {
		s.logger.Warn("dashboard fetch failed",
			zap.String("report", report),
			zap.String("status", string(view.Status)),
			zap.Bool("partial", view.Partial),
			zap.String("error", view.Error),
		)
	}
	if view.OK() {
		s.cache.set(key, view)
	}
	return view
}

// fromCollection tags data with the outcome of a paginated fetch.
func fromCollection[T any](data T, col intercom.Collection) View[T] {
	return View[T]{
		Status:  col.Status(),
		Error:   intercom.UserMessage(col.Err),
		Partial: col.Partial(),
		Data:    data,
	}
}

// fromError tags data with the outcome of a single call.
func fromError[T any](data T, err error, empty bool) View[T] {
	v := View[T]{Status: intercom.Classify(err), Error: intercom.UserMessage(err), Data: data}
	if err == nil && empty {
		v.Status = intercom.StatusEmpty
	}
	return v
}

// idValues turns numeric ids into numbers, which the search API expects
// for team and admin fields.
func idValues(ids []string) []any {
	out := make([]any, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if n, ok := intercom.ID(id).Int(); ok {
			out = append(out, n)
			continue
		}
		out = append(out, id)
	}
	return out
}

func idValue(id string) any {
	if v := idValues([]string{id}); len(v) == 1 {
		return v[0]
	}
	return id
}

func decodeConversations(col intercom.Collection, logger *zap.Logger) []intercom.Conversation {
	convs, err := intercom.Decode[intercom.Conversation](col.Items)
	if err != nil {
		logger.Warn("skipped undecodable conversations", zap.String("label", col.Label), zap.Error(err))
	}
	return convs
}

type cacheEntry struct {
	value   any
	expires time.Time
}

type ttlCache struct {
	ttl  time.Duration
	now  func() time.Time
	mu   sync.Mutex
	data map[string]cacheEntry
}

func newTTLCache(ttl time.Duration, now func() time.Time) *ttlCache {
	return &ttlCache{ttl: ttl, now: now, data: make(map[string]cacheEntry)}
}

func (c *ttlCache) get(key string) (any, bool) {
	if c.ttl <= 0 {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.data[key]
	if !ok {
		return nil, false
	}
	if !c.now().Before(e.expires) {
		delete(c.data, key)
		return nil, false
	}
	return e.value, true
}

func (c *ttlCache) set(key string, v any) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.data[key] = cacheEntry{value: v, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

func (c *ttlCache) clear() {
	c.mu.Lock()
	c.data = make(map[string]cacheEntry)
	c.mu.Unlock()
}
