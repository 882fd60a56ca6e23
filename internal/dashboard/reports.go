package dashboard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"go-helpdesk-insights-ui/internal/connectors/intercom"
	"go-helpdesk-insights-ui/internal/insights"
)

const (
	monitorQueuePage  = 60
	monitorLatestPage = 10

	// monitorCountWorkers caps concurrent count searches against the
	// rate-limited API.
	monitorCountWorkers = 4
)

// ErrAdminRequired is returned by Analyst without an admin id.
var ErrAdminRequired = errors.New("admin id required")

func rangeQuery(field string, rng insights.Range, extra ...intercom.Filter) intercom.Filter {
	filters := []intercom.Filter{
		intercom.Field(field, ">", rng.From.Unix()-1),
		intercom.Field(field, "<", rng.To.Unix()),
	}
	return intercom.And(append(filters, extra...)...)
}

// CSAT reports satisfaction ratings given in the filter's range on
// conversations of the support and leads teams.
func (s *Service) CSAT(ctx context.Context, f Filter) View[insights.CSATReport] {
	return cached(s, f.cacheKey("csat"), "csat", func() View[insights.CSATReport] {
		rng := s.dayRange(f)
		teams := idValues([]string{s.settings.SupportTeamID, s.settings.LeadsTeamID})
		query := rangeQuery("updated_at", rng, intercom.Field("team_assignee_id", "IN", teams))
		col := s.api.SearchConversations(ctx, query, nil, 0, "csat")
		convs := decodeConversations(col, s.logger)
		report := s.shaper(s.adminsOrEmpty(ctx)).BuildCSAT(convs, rng, s.settings.CSAT, f.Agents)
		return fromCollection(report, col)
	})
}

// teamMembers maps admin id to team id for the given teams. Later teams
// win for admins in several.
func (s *Service) teamMembers(ctx context.Context, teamIDs []string) (map[string]string, error) {
	out := make(map[string]string)
	for _, tid := range teamIDs {
		if tid == "" {
			continue
		}
		team, err := s.api.Team(ctx, tid)
		if err != nil {
			return out, fmt.Errorf("team %s: %w", tid, err)
		}
		for _, aid := range team.AdminIDs {
			out[aid.String()] = tid
		}
	}
	return out, nil
}

// Volume reports customer-initiated conversations handled by the support
// and leads teams or by their members.
func (s *Service) Volume(ctx context.Context, f Filter) View[insights.VolumeReport] {
	return cached(s, f.cacheKey("volume"), "volume", func() View[insights.VolumeReport] {
		rng := s.dayRange(f)
		teamIDs := []string{s.settings.SupportTeamID, s.settings.LeadsTeamID}
		agentTeams, err := s.teamMembers(ctx, teamIDs)
		if err != nil {
			s.logger.Warn("team members unavailable, volume falls back to team assignment only", zap.Error(err))
		}

		owner := []intercom.Filter{intercom.Field("team_assignee_id", "IN", idValues(teamIDs))}
		if len(agentTeams) > 0 {
			owner = append(owner, intercom.Field("admin_assignee_id", "IN", idValues(sortedCopy(lo.Keys(agentTeams)))))
		}
		query := rangeQuery("updated_at", rng,
			intercom.Field("source.delivered_as", "=", "customer_initiated"),
			intercom.Or(owner...),
		)
		col := s.api.SearchConversations(ctx, query, nil, 0, "volume")
		convs := decodeConversations(col, s.logger)
		rules := insights.VolumeRules{SupportTeamID: s.settings.SupportTeamID, LeadsTeamID: s.settings.LeadsTeamID}
		report := s.shaper(s.adminsOrEmpty(ctx)).BuildVolume(convs, rng, rules, agentTeams)
		return fromCollection(report, col)
	})
}

// awayLookbackDays is how far before the range the activity log is read so
// an away that started earlier pairs with a return inside the range.
const awayLookbackDays = 3

// Away reports away-mode cycles from the admin activity log.
func (s *Service) Away(ctx context.Context, f Filter) View[insights.AwayReport] {
	return cached(s, f.cacheKey("away"), "away", func() View[insights.AwayReport] {
		rng := s.dayRange(f)
		col := s.api.ActivityLogs(ctx, rng.From.AddDate(0, 0, -awayLookbackDays), rng.To, s.settings.ActivityLogMaxPages, "away")
		logs, err := intercom.Decode[intercom.ActivityLog](col.Items)
		if err != nil {
			s.logger.Warn("skipped undecodable activity logs", zap.Error(err))
		}
		cycles := s.shaper(s.adminsOrEmpty(ctx)).BuildAwayCycles(logs, rng.From)
		return fromCollection(insights.SummarizeAway(cycles, f.Days), col)
	})
}

// attributeRows fetches conversations created in rng matching extra and
// flattens their custom attributes.
func (s *Service) attributeRows(ctx context.Context, rng insights.Range, label string, extra intercom.Filter) ([]insights.AttributeRow, intercom.Collection) {
	labels := map[string]string{}
	if defs, err := s.api.DataAttributes(ctx, "conversation"); err != nil {
		s.logger.Warn("attribute definitions unavailable, using raw names", zap.Error(err))
	} else {
		labels = insights.AttributeLabels(defs)
	}
	col := s.api.SearchConversations(ctx, rangeQuery("created_at", rng, extra), nil, 0, label)
	rows := s.shaper(s.adminsOrEmpty(ctx)).ShapeAttributes(decodeConversations(col, s.logger), labels)
	return rows, col
}

// Attributes reports classification attributes of the selected teams.
func (s *Service) Attributes(ctx context.Context, f Filter) View[insights.AttributeReport] {
	return cached(s, f.cacheKey("attributes"), "attributes", func() View[insights.AttributeReport] {
		teams := f.TeamIDs
		if len(teams) == 0 {
			teams = s.settings.AttributeTeamIDs
		}
		rows, col := s.attributeRows(ctx, s.dayRange(f), "attributes", intercom.Field("team_assignee_id", "IN", idValues(teams)))
		report := insights.BuildAttributeReport(rows, f.Columns, s.settings.DefaultColumns, s.settings.Attributes)
		report.Rows = insights.FilterAttributeRows(report.Rows, f.HideEmpty, f.ComplexOnly)
		return fromCollection(report, col)
	})
}

// WriteAttributesWorkbook writes the attribute report as an Excel file.
func (s *Service) WriteAttributesWorkbook(ctx context.Context, f Filter, w io.Writer) (View[insights.AttributeReport], error) {
	view := s.Attributes(ctx, f)
	if !view.OK() && !view.Partial {
		return view, errors.New(view.Error)
	}
	return view, insights.WriteAttributesWorkbook(w, view.Data)
}

// Analyst reports one admin's classification progress.
func (s *Service) Analyst(ctx context.Context, f Filter) View[insights.AnalystReport] {
	if f.AdminID == "" {
		return View[insights.AnalystReport]{
			Status:      intercom.StatusFatal,
			Error:       ErrAdminRequired.Error(),
			GeneratedAt: s.now(),
		}
	}
	return cached(s, f.cacheKey("analyst"), "analyst", func() View[insights.AnalystReport] {
		rows, col := s.attributeRows(ctx, s.dayRange(f), "analyst", intercom.Field("admin_assignee_id", "=", idValue(f.AdminID)))
		name := s.shaper(s.adminsOrEmpty(ctx)).AdminName(intercom.ID(f.AdminID))
		report := insights.BuildAnalyst(name, rows, s.settings.Attributes.ReasonLabel, s.settings.AnalystGoalPct)
		return fromCollection(report, col)
	})
}

func (s *Service) monitorStart(window string, now time.Time) time.Time {
	if window == Window48h {
		return now.Add(-48 * time.Hour)
	}
	local := now.In(s.settings.Location)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.settings.Location)
}

// firstErr keeps the first error reported by concurrent fetches.
type firstErr struct {
	mu  sync.Mutex
	err error
}

func (e *firstErr) set(err error) {
	if err == nil {
		return
	}
	e.mu.Lock()
	if e.err == nil {
		e.err = err
	}
	e.mu.Unlock()
}

// Monitor reports live team load: member status and open counts, the
// unassigned team queue, volume since the window start and the latest
// conversations.
func (s *Service) Monitor(ctx context.Context, f Filter) View[insights.MonitorReport] {
	return cached(s, f.cacheKey("monitor"), "monitor", func() View[insights.MonitorReport] {
		now := s.now()
		teamID := s.settings.MonitorTeamID
		start := s.monitorStart(f.Window, now)
		in := insights.MonitorInput{
			OpenCounts:    make(map[string]int),
			SnoozedCounts: make(map[string]int),
			Now:           now,
		}
		var failed firstErr

		team, err := s.api.Team(ctx, teamID)
		if err != nil {
			failed.set(fmt.Errorf("team %s: %w", teamID, err))
		} else {
			in.MemberIDs = team.AdminIDs
		}
		admins, err := s.cachedAdmins(ctx)
		failed.set(err)
		in.Admins = admins

		var mu sync.Mutex
		var g errgroup.Group
		g.SetLimit(monitorCountWorkers)
		for _, id := range in.MemberIDs {
			for _, state := range []string{"open", "snoozed"} {
				id, state := id, state
				g.Go(func() error {
					n, err := s.api.CountConversations(ctx, intercom.And(
						intercom.Field("state", "=", state),
						intercom.Field("admin_assignee_id", "=", idValue(id.String())),
					))
					if err != nil {
						failed.set(err)
						return nil
					}
					mu.Lock()
					if state == "open" {
						in.OpenCounts[id.String()] = n
					} else {
						in.SnoozedCounts[id.String()] = n
					}
					mu.Unlock()
					return nil
				})
			}
		}
		_ = g.Wait()

		ownedByTeam := intercom.Field("team_assignee_id", "=", idValue(teamID))
		queue, _, err := s.api.SearchConversationsPage(ctx, intercom.And(intercom.Field("state", "=", "open"), ownedByTeam), nil, monitorQueuePage)
		failed.set(err)
		in.Queue = queue

		since := intercom.And(intercom.Field("created_at", ">", start.Unix()), ownedByTeam)
		col := s.api.SearchConversations(ctx, since, nil, 0, "monitor")
		failed.set(col.Err)
		in.Period = decodeConversations(col, s.logger)

		latest, _, err := s.api.SearchConversationsPage(ctx, since, &intercom.Sort{Field: "created_at", Order: "descending"}, monitorLatestPage)
		failed.set(err)
		in.Latest = latest

		report := s.shaper(admins).BuildMonitor(in, s.settings.Monitor)
		view := fromError(report, failed.err, len(in.MemberIDs) == 0 && len(in.Period) == 0 && len(in.Queue) == 0)
		view.Partial = failed.err != nil && (len(in.MemberIDs) > 0 || len(in.Period) > 0)
		return view
	})
}

// Limbo lists open conversations assigned to nobody among the most
// recently updated ones. It is never cached.
func (s *Service) Limbo(ctx context.Context) View[[]insights.LimboRow] {
	started := s.now()
	convs, err := s.api.RecentConversations(ctx, s.settings.LimboScanSize)
	rows := make([]insights.LimboRow, 0)
	if err == nil {
		rows = s.shaper(nil).DetectLimbo(convs, s.now())
	}
	view := fromError(rows, err, len(rows) == 0)
	view.GeneratedAt = s.now()
	if s.observe != nil {
		s.observe("limbo", view.Status, view.GeneratedAt.Sub(started))
	}
	return view
}

// Admins lists teammates.
func (s *Service) Admins(ctx context.Context) View[[]intercom.Admin] {
	admins, err := s.cachedAdmins(ctx)
	if admins == nil {
		admins = make([]intercom.Admin, 0)
	}
	view := fromError(admins, err, len(admins) == 0)
	view.GeneratedAt = s.now()
	return view
}

// Transcript renders one conversation as customer and agent lines.
func (s *Service) Transcript(ctx context.Context, id string) View[insights.Transcript] {
	conv, err := s.api.Conversation(ctx, id)
	var t insights.Transcript
	if err == nil {
		t = s.shaper(nil).BuildTranscript(*conv)
	}
	view := fromError(t, err, err == nil && len(t.Lines) == 0)
	view.GeneratedAt = s.now()
	return view
}
