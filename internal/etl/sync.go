// Package etl copies helpdesk conversations into the ticket archive.
package etl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"go-helpdesk-insights-ui/internal/connectors/amqp"
	"go-helpdesk-insights-ui/internal/connectors/intercom"
	"go-helpdesk-insights-ui/internal/connectors/statedb"
	"go-helpdesk-insights-ui/internal/insights"
)

const syncPageSize = 50

// ErrCompanyNotFound is returned when the company term matches nothing.
var ErrCompanyNotFound = errors.New("company not found")

// Source is the part of the helpdesk API a sync reads.
type Source interface {
	FindCompany(ctx context.Context, term string) (*intercom.Company, error)
	SearchConversations(ctx context.Context, query intercom.Filter, sort *intercom.Sort, pageSize int, label string) intercom.Collection
	ContactCompanyID(ctx context.Context, contactID string) (string, error)
}

// TicketSink persists shaped tickets.
type TicketSink interface {
	SaveBatch(ctx context.Context, tickets []insights.ArchiveTicket, syncedAt time.Time) (int, error)
}

// RunRecorder keeps a history of sync runs.
type RunRecorder interface {
	SaveSyncRun(ctx context.Context, run statedb.SyncRun) error
}

// EventPublisher announces finished runs.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, ev amqp.Event) error
}

// Params selects what one run copies. Range is half-open in the display zone.
type Params struct {
	Range       insights.Range
	Company     string
	IgnoreTeams bool
}

// Stats counts what happened to each fetched conversation.
type Stats struct {
	RunID          string          `json:"run_id"`
	Status         intercom.Status `json:"status"`
	Partial        bool            `json:"partial"`
	Error          string          `json:"error,omitempty"`
	Company        string          `json:"company,omitempty"`
	Fetched        int             `json:"fetched"`
	Approved       int             `json:"approved"`
	SkippedCompany int             `json:"skipped_company"`
	SkippedTeam    int             `json:"skipped_team"`
	SkippedTags    int             `json:"skipped_tags"`
	ViaContact     int             `json:"via_contact"`
	Saved          int             `json:"saved"`
}

// Syncer runs the archive pipeline: fetch, filter, shape, save.
type Syncer struct {
	source  Source
	sink    TicketSink
	runs    RunRecorder
	events  EventPublisher
	shaper  insights.Shaper
	teams   []string
	markers []string
	logger  *zap.Logger
	now     func() time.Time
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithRunRecorder stores a row per run.
func WithRunRecorder(r RunRecorder) Option {
	return func(s *Syncer) { s.runs = r }
}

// WithEvents publishes sync.completed after each run.
func WithEvents(p EventPublisher) Option {
	return func(s *Syncer) { s.events = p }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Syncer) { s.now = now }
}

// NewSyncer builds a Syncer. teams are the team ids kept unless a run
// ignores teams; conversations tagged with any of markers are skipped.
func NewSyncer(source Source, sink TicketSink, shaper insights.Shaper, teams, markers []string, logger *zap.Logger, opts ...Option) *Syncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Syncer{
		source:  source,
		sink:    sink,
		shaper:  shaper,
		teams:   teams,
		markers: markers,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes one sync. A failed page after the first keeps what was
// collected and reports a partial run.
func (s *Syncer) Run(ctx context.Context, p Params) (Stats, error) {
	started := s.now()
	stats := Stats{RunID: uuid.NewString(), Status: intercom.StatusOK}
	log := s.logger.With(zap.String("run_id", stats.RunID))

	tickets, err := s.collect(ctx, p, &stats, log)
	if err == nil && len(tickets) > 0 {
		stats.Saved, err = s.sink.SaveBatch(ctx, tickets, started)
		if err != nil {
			err = fmt.Errorf("save tickets: %w", err)
			stats.Status = intercom.StatusFatal
		}
	}
	if err != nil {
		stats.Error = err.Error()
	}
	if err == nil && stats.Status == intercom.StatusOK && stats.Fetched == 0 {
		stats.Status = intercom.StatusEmpty
	}

	s.record(ctx, p, stats, started, log)
	log.Info("archive sync finished",
		zap.String("status", string(stats.Status)),
		zap.Int("fetched", stats.Fetched),
		zap.Int("approved", stats.Approved),
		zap.Int("saved", stats.Saved),
		zap.Duration("duration", s.now().Sub(started)),
	)
	return stats, err
}

func (s *Syncer) collect(ctx context.Context, p Params, stats *Stats, log *zap.Logger) ([]insights.ArchiveTicket, error) {
	var companyID string
	if p.Company != "" {
		company, err := s.source.FindCompany(ctx, p.Company)
		if err != nil {
			stats.Status = intercom.Classify(err)
			return nil, fmt.Errorf("find company: %w", err)
		}
		if company == nil {
			stats.Status = intercom.StatusFatal
			return nil, fmt.Errorf("%w: %s", ErrCompanyNotFound, p.Company)
		}
		companyID = company.ID.String()
		stats.Company = company.Name
	}

	query := intercom.And(
		intercom.Field("created_at", ">", p.Range.From.Unix()-1),
		intercom.Field("created_at", "<", p.Range.To.Unix()),
	)
	out := s.source.SearchConversations(ctx, query, &intercom.Sort{Field: "updated_at", Order: "descending"}, syncPageSize, "sync")
	if out.Err != nil {
		stats.Status = out.Status()
		stats.Partial = out.Partial()
		if !out.Partial() {
			return nil, fmt.Errorf("search conversations: %w", out.Err)
		}
		log.Warn("archive sync collected a partial result", zap.Error(out.Err), zap.Int("items", len(out.Items)))
	}
	convs, err := intercom.Decode[intercom.Conversation](out.Items)
	if err != nil {
		log.Warn("skipped undecodable conversations", zap.Error(err))
	}
	convs = insights.UniqueConversations(convs)
	stats.Fetched = len(convs)

	contactCompany := map[string]string{}
	kept := lo.Filter(convs, func(c intercom.Conversation, _ int) bool {
		if companyID != "" {
			ok, viaContact := s.belongsTo(ctx, c, companyID, contactCompany, log)
			if !ok {
				stats.SkippedCompany++
				return false
			}
			if viaContact {
				stats.ViaContact++
			}
		}
		if !p.IgnoreTeams && !lo.Contains(s.teams, insights.TeamOf(c)) {
			stats.SkippedTeam++
			return false
		}
		if insights.HasMarkerTag(c.TagNames(), s.markers) {
			stats.SkippedTags++
			return false
		}
		return true
	})
	stats.Approved = len(kept)
	return s.shaper.ShapeArchiveTickets(kept, companyID, stats.Company), nil
}

// belongsTo checks the conversation's companies first and then the
// company of the user who opened it. Contact lookups are cached per run.
func (s *Syncer) belongsTo(ctx context.Context, c intercom.Conversation, companyID string, cache map[string]string, log *zap.Logger) (ok, viaContact bool) {
	if insights.HasCompany(c, companyID) {
		return true, false
	}
	author := c.Source.Author
	if author.Type != "user" || author.ID.IsZero() {
		return false, false
	}
	id, seen := cache[author.ID.String()]
	if !seen {
		var err error
		id, err = s.source.ContactCompanyID(ctx, author.ID.String())
		if err != nil {
			log.Warn("contact company lookup failed", zap.String("contact_id", author.ID.String()), zap.Error(err))
		}
		cache[author.ID.String()] = id
	}
	if id == companyID {
		return true, true
	}
	return false, false
}

func (s *Syncer) record(ctx context.Context, p Params, stats Stats, started time.Time, log *zap.Logger) {
	finished := s.now()
	if s.runs != nil {
		run := statedb.SyncRun{
			ID:             stats.RunID,
			StartedAt:      started,
			FinishedAt:     &finished,
			DateFrom:       p.Range.From.Format("2006-01-02"),
			DateTo:         p.Range.To.Add(-time.Second).Format("2006-01-02"),
			Company:        p.Company,
			Status:         string(stats.Status),
			Error:          stats.Error,
			Fetched:        int64(stats.Fetched),
			Approved:       int64(stats.Approved),
			SkippedTeam:    int64(stats.SkippedTeam),
			SkippedTags:    int64(stats.SkippedTags),
			SkippedCompany: int64(stats.SkippedCompany),
			ViaContact:     int64(stats.ViaContact),
			Saved:          int64(stats.Saved),
		}
		if err := s.runs.SaveSyncRun(ctx, run); err != nil {
			log.Warn("failed to record sync run", zap.Error(err))
		}
	}
	if s.events != nil {
		if err := s.events.Publish(ctx, amqp.KeySyncCompleted, amqp.NewEvent(amqp.KeySyncCompleted, finished, stats)); err != nil {
			log.Warn("failed to publish sync event", zap.Error(err))
		}
	}
}
