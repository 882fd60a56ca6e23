package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	nethttp "net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"go-helpdesk-insights-ui/internal/connectors/archive"
	"go-helpdesk-insights-ui/internal/connectors/intercom"
	"go-helpdesk-insights-ui/internal/connectors/statedb"
	"go-helpdesk-insights-ui/internal/dashboard"
	"go-helpdesk-insights-ui/internal/etl"
	"go-helpdesk-insights-ui/internal/insights"
)

const (
	intercomDisabled = "intercom integration disabled (set APP_INTERCOM_TOKEN)"
	archiveDisabled  = "archive integration disabled (set APP_ARCHIVE_ENABLED=true)"
	stateDisabled    = "state database disabled (set APP_STATE_SQLITE_PATH)"
	dateLayout       = "2006-01-02"
)

type syncRequest struct {
	DateFrom    string `json:"date_from"`
	DateTo      string `json:"date_to"`
	Company     string `json:"company"`
	IgnoreTeams bool   `json:"ignore_teams"`
}

func requireMethod(w nethttp.ResponseWriter, r *nethttp.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	writeJSON(w, nethttp.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
	return false
}

func requireService(w nethttp.ResponseWriter, svc *dashboard.Service) bool {
	if svc != nil {
		return true
	}
	writeJSON(w, nethttp.StatusServiceUnavailable, map[string]any{"error": intercomDisabled})
	return false
}

// viewStatusCode keeps partial and empty views renderable; only a fetch
// that produced nothing is an HTTP failure.
func viewStatusCode(status intercom.Status, partial bool) int {
	switch {
	case status == intercom.StatusOK, status == intercom.StatusEmpty, partial:
		return nethttp.StatusOK
	case status == intercom.StatusTransient:
		return nethttp.StatusServiceUnavailable
	default:
		return nethttp.StatusBadGateway
	}
}

func writeView[T any](w nethttp.ResponseWriter, view dashboard.View[T], meta map[string]any) {
	if meta == nil {
		meta = map[string]any{}
	}
	meta["status"] = view.Status
	meta["partial"] = view.Partial
	meta["generated_at"] = view.GeneratedAt
	if view.Error != "" {
		meta["error"] = view.Error
	}
	writeJSON(w, viewStatusCode(view.Status, view.Partial), map[string]any{
		"meta": meta,
		"data": view.Data,
	})
}

func limboHandler(svc *dashboard.Service, monitor *dashboard.LimboMonitor) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if !requireService(w, svc) {
			return
		}
		if monitor != nil && r.URL.Query().Get("refresh") != "1" {
			if snap, ok := monitor.Snapshot(); ok {
				writeJSON(w, viewStatusCode(snap.Status, false), map[string]any{
					"meta": map[string]any{
						"status":     snap.Status,
						"error":      snap.Error,
						"checked_at": snap.CheckedAt,
						"decision":   snap.Decision,
						"count":      len(snap.Rows),
					},
					"data": snap.Rows,
				})
				return
			}
		}
		view := svc.Limbo(r.Context())
		writeView(w, view, map[string]any{"count": len(view.Data)})
	}
}

func csatHandler(svc *dashboard.Service) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if !requireService(w, svc) {
			return
		}
		f, ok := filterOrBadRequest(w, r, svc)
		if !ok {
			return
		}
		writeView(w, svc.CSAT(r.Context(), f), map[string]any{"filter": f})
	}
}

func volumeHandler(svc *dashboard.Service) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if !requireService(w, svc) {
			return
		}
		f, ok := filterOrBadRequest(w, r, svc)
		if !ok {
			return
		}
		writeView(w, svc.Volume(r.Context(), f), map[string]any{"filter": f})
	}
}

func awayHandler(svc *dashboard.Service) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if !requireService(w, svc) {
			return
		}
		f, ok := filterOrBadRequest(w, r, svc)
		if !ok {
			return
		}
		writeView(w, svc.Away(r.Context(), f), map[string]any{"filter": f})
	}
}

func attributesHandler(svc *dashboard.Service) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if !requireService(w, svc) {
			return
		}
		f, ok := filterOrBadRequest(w, r, svc)
		if !ok {
			return
		}
		writeView(w, svc.Attributes(r.Context(), f), map[string]any{"filter": f})
	}
}

func attributesExportHandler(svc *dashboard.Service, logger *zap.Logger) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if !requireService(w, svc) {
			return
		}
		f, ok := filterOrBadRequest(w, r, svc)
		if !ok {
			return
		}
		var buf bytes.Buffer
		view, err := svc.WriteAttributesWorkbook(r.Context(), f, &buf)
		if err != nil {
			if view.OK() || view.Partial {
				logger.Error("write attributes workbook", zap.Error(err))
				writeJSON(w, nethttp.StatusInternalServerError, map[string]any{"error": "failed to build workbook"})
				return
			}
			writeView(w, view, map[string]any{"filter": f})
			return
		}

		name := fmt.Sprintf("attributes_%s_%s.xlsx", f.From.Format(dateLayout), f.To.Format(dateLayout))
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
		w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
		_, _ = buf.WriteTo(w)
	}
}

func analystHandler(svc *dashboard.Service) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if !requireService(w, svc) {
			return
		}
		f, ok := filterOrBadRequest(w, r, svc)
		if !ok {
			return
		}
		if f.AdminID == "" {
			writeJSON(w, nethttp.StatusBadRequest, map[string]any{"error": dashboard.ErrAdminRequired.Error()})
			return
		}
		writeView(w, svc.Analyst(r.Context(), f), map[string]any{"filter": f})
	}
}

func monitorHandler(svc *dashboard.Service) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if !requireService(w, svc) {
			return
		}
		f, ok := filterOrBadRequest(w, r, svc)
		if !ok {
			return
		}
		switch f.Window {
		case "", dashboard.WindowToday, dashboard.Window48h:
		default:
			writeJSON(w, nethttp.StatusBadRequest, map[string]any{"error": "invalid window, expected today or 48h"})
			return
		}
		writeView(w, svc.Monitor(r.Context(), f), map[string]any{"window": f.Window})
	}
}

func adminsHandler(svc *dashboard.Service) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if !requireService(w, svc) {
			return
		}
		view := svc.Admins(r.Context())
		writeView(w, view, map[string]any{"count": len(view.Data)})
	}
}

// transcriptHandler serves /api/v1/conversations/{id}/transcript.
func transcriptHandler(svc *dashboard.Service) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/api/v1/conversations/")
		id, tail, _ := strings.Cut(rest, "/")
		if id == "" || tail != "transcript" {
			nethttp.NotFound(w, r)
			return
		}
		if !requireService(w, svc) {
			return
		}
		writeView(w, svc.Transcript(r.Context(), id), map[string]any{"conversation_id": id})
	}
}

func syncHandler(syncer SyncRunner, loc *time.Location, logger *zap.Logger) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if !requireMethod(w, r, nethttp.MethodPost) {
			return
		}
		if syncer == nil {
			writeJSON(w, nethttp.StatusServiceUnavailable, map[string]any{"error": archiveDisabled})
			return
		}

		var req syncRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, nethttp.StatusBadRequest, map[string]any{"error": "invalid json body"})
			return
		}
		req.Company = strings.TrimSpace(req.Company)
		if req.Company == "" {
			writeJSON(w, nethttp.StatusBadRequest, map[string]any{"error": "company is required"})
			return
		}
		if strings.TrimSpace(req.DateFrom) == "" || strings.TrimSpace(req.DateTo) == "" {
			writeJSON(w, nethttp.StatusBadRequest, map[string]any{"error": "date_from and date_to are required"})
			return
		}
		from, to, err := parseDayRange(req.DateFrom, req.DateTo, loc, time.Time{}, time.Time{})
		if err != nil {
			writeJSON(w, nethttp.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}

		start := time.Now()
		stats, err := syncer.Run(r.Context(), etl.Params{
			Range:       insights.DayRange(from, to, loc),
			Company:     req.Company,
			IgnoreTeams: req.IgnoreTeams,
		})
		recordSyncRun(string(stats.Status), time.Since(start).Seconds())
		switch {
		case errors.Is(err, etl.ErrCompanyNotFound):
			writeJSON(w, nethttp.StatusNotFound, map[string]any{"error": err.Error()})
			return
		case err != nil:
			logger.Warn("archive sync failed", zap.String("company", req.Company), zap.Error(err))
			writeJSON(w, viewStatusCode(stats.Status, stats.Partial), map[string]any{
				"error": "archive sync failed",
				"data":  stats,
			})
			return
		}
		writeJSON(w, nethttp.StatusOK, map[string]any{
			"meta": map[string]any{"duration_ms": time.Since(start).Milliseconds()},
			"data": stats,
		})
	}
}

func syncRunsHandler(defaultLimit int, store *statedb.Store) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if store == nil {
			writeJSON(w, nethttp.StatusServiceUnavailable, map[string]any{"error": stateDisabled})
			return
		}
		limit := parseLimit(r, defaultLimit)
		start := time.Now()
		runs, err := store.ListSyncRuns(r.Context(), limit)
		recordDBQuery("statedb", "ListSyncRuns", time.Since(start).Seconds(), err)
		if err != nil {
			writeJSON(w, nethttp.StatusInternalServerError, map[string]any{"error": "failed to list sync runs"})
			return
		}
		writeJSON(w, nethttp.StatusOK, map[string]any{
			"meta": map[string]any{"limit": limit, "count": len(runs)},
			"data": runs,
		})
	}
}

func archiveTicketsHandler(defaultLimit int, store ArchiveReader, loc *time.Location) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if store == nil {
			writeJSON(w, nethttp.StatusServiceUnavailable, map[string]any{"error": archiveDisabled})
			return
		}

		q := archive.Query{
			Term:   strings.TrimSpace(r.URL.Query().Get("q")),
			Limit:  parseLimit(r, defaultLimit),
			Offset: parseOffset(r),
		}
		fromRaw, toRaw := r.URL.Query().Get("date_from"), r.URL.Query().Get("date_to")
		if strings.TrimSpace(fromRaw) != "" || strings.TrimSpace(toRaw) != "" {
			now := time.Now().In(loc)
			from, to, err := parseDayRange(fromRaw, toRaw, loc, now.AddDate(0, 0, -30), now)
			if err != nil {
				writeJSON(w, nethttp.StatusBadRequest, map[string]any{"error": err.Error()})
				return
			}
			rng := insights.DayRange(from, to, loc)
			q.From, q.To = rng.From, rng.To
		}

		start := time.Now()
		total, err := store.Count(r.Context(), q)
		recordDBQuery("archive", "Count", time.Since(start).Seconds(), err)
		if err != nil {
			writeJSON(w, nethttp.StatusInternalServerError, map[string]any{"error": "failed to count archived tickets"})
			return
		}
		start = time.Now()
		items, err := store.Search(r.Context(), q)
		recordDBQuery("archive", "Search", time.Since(start).Seconds(), err)
		if err != nil {
			writeJSON(w, nethttp.StatusInternalServerError, map[string]any{"error": "failed to search archived tickets"})
			return
		}

		writeJSON(w, nethttp.StatusOK, map[string]any{
			"meta": map[string]any{
				"q":      q.Term,
				"limit":  q.Limit,
				"offset": q.Offset,
				"count":  len(items),
				"total":  total,
			},
			"data": items,
		})
	}
}

func archiveStatsHandler(store ArchiveReader) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if store == nil {
			writeJSON(w, nethttp.StatusServiceUnavailable, map[string]any{"error": archiveDisabled})
			return
		}
		start := time.Now()
		stats, err := store.ServiceStats(r.Context())
		recordDBQuery("archive", "ServiceStats", time.Since(start).Seconds(), err)
		if err != nil {
			writeJSON(w, nethttp.StatusInternalServerError, map[string]any{"error": "failed to read archive stats"})
			return
		}
		writeJSON(w, nethttp.StatusOK, map[string]any{"data": stats})
	}
}

func progressHandler(svc *dashboard.Service) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, _ *nethttp.Request) {
		if !requireService(w, svc) {
			return
		}
		writeJSON(w, nethttp.StatusOK, map[string]any{"data": svc.Progress().Snapshot()})
	}
}

func cacheClearHandler(svc *dashboard.Service) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if !requireMethod(w, r, nethttp.MethodPost) {
			return
		}
		if !requireService(w, svc) {
			return
		}
		svc.ClearCache()
		writeJSON(w, nethttp.StatusOK, map[string]any{"status": "cleared"})
	}
}

// filterOrBadRequest parses the dashboard filter or answers 400.
func filterOrBadRequest(w nethttp.ResponseWriter, r *nethttp.Request, svc *dashboard.Service) (dashboard.Filter, bool) {
	f, err := parseFilter(r, svc)
	if err != nil {
		writeJSON(w, nethttp.StatusBadRequest, map[string]any{"error": err.Error()})
		return dashboard.Filter{}, false
	}
	return f, true
}

func parseFilter(r *nethttp.Request, svc *dashboard.Service) (dashboard.Filter, error) {
	q := r.URL.Query()
	def := svc.DefaultFilter()
	from, to, err := parseDayRange(q.Get("date_from"), q.Get("date_to"), svc.Settings().Location, def.From, def.To)
	if err != nil {
		return dashboard.Filter{}, err
	}
	return dashboard.Filter{
		From:        from,
		To:          to,
		TeamIDs:     parseList(r, "team_id"),
		AdminID:     strings.TrimSpace(q.Get("admin_id")),
		Agents:      parseList(r, "agent"),
		Columns:     parseList(r, "column"),
		Days:        parseList(r, "day"),
		HideEmpty:   parseBool(q.Get("hide_empty")),
		ComplexOnly: parseBool(q.Get("complex_only")),
		Window:      strings.TrimSpace(q.Get("window")),
	}, nil
}

// parseDayRange reads inclusive YYYY-MM-DD days in loc. Blank values fall
// back to the given defaults.
func parseDayRange(fromRaw, toRaw string, loc *time.Location, defFrom, defTo time.Time) (time.Time, time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	from, to := defFrom, defTo
	if v := strings.TrimSpace(fromRaw); v != "" {
		parsed, err := time.ParseInLocation(dateLayout, v, loc)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid date_from, expected YYYY-MM-DD")
		}
		from = parsed
	}
	if v := strings.TrimSpace(toRaw); v != "" {
		parsed, err := time.ParseInLocation(dateLayout, v, loc)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid date_to, expected YYYY-MM-DD")
		}
		to = parsed
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("date_to must be the same or after date_from")
	}
	return from, to, nil
}

// parseList accepts repeated keys and comma separated values.
func parseList(r *nethttp.Request, key string) []string {
	var out []string
	for _, raw := range r.URL.Query()[key] {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func parseBool(raw string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	return err == nil && v
}

func parseLimit(r *nethttp.Request, defaultLimit int) int {
	limit := defaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err == nil && parsed > 0 && parsed <= 1000 {
			limit = parsed
		}
	}
	return limit
}

func parseOffset(r *nethttp.Request) int {
	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	return offset
}
