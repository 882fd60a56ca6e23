package http

import (
	nethttp "net/http"

	"go-helpdesk-insights-ui/internal/config"
)

// settingsHandler exposes the non-secret business rules the UI renders
// next to the reports.
func settingsHandler(cfg config.Config) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, _ *nethttp.Request) {
		writeJSON(w, nethttp.StatusOK, map[string]any{
			"data": map[string]any{
				"intercom_app_id":          cfg.IntercomAppID,
				"display_utc_offset_hours": cfg.DisplayUTCOffsetHours,
				"default_range_days":       cfg.DefaultRangeDay,
				"cache_ttl_seconds":        int(cfg.CacheTTL.Seconds()),
				"support_team_id":          cfg.SupportTeamID,
				"leads_team_id":            cfg.LeadsTeamID,
				"monitor_team_id":          cfg.MonitorTeamID,
				"attribute_team_ids":       cfg.AttributeTeamIDs,
				"archive_team_ids":         cfg.ArchiveTeamIDs,
				"archive_tag_markers":      cfg.ArchiveTagMarkers,
				"csat_positive_min":        cfg.CSATPositiveMin,
				"csat_neutral":             cfg.CSATNeutral,
				"reason_label":             cfg.ReasonLabel,
				"second_reason_label":      cfg.SecondReasonLabel,
				"status_label":             cfg.StatusLabel,
				"resolved_value":           cfg.ResolvedValue,
				"default_columns":          cfg.DefaultColumns,
				"analyst_goal_pct":         cfg.AnalystGoalPct,
				"agents_online_goal":       cfg.AgentsOnlineGoal,
				"recent_window_minutes":    int(cfg.RecentWindow.Minutes()),
				"open_alert_at":            cfg.OpenAlertAt,
				"recent_alert_at":          cfg.RecentAlertAt,
				"limbo_enabled":            cfg.LimboEnabled,
				"limbo_interval_seconds":   int(cfg.LimboInterval.Seconds()),
				"limbo_scan_size":          cfg.LimboScanSize,
				"alert_cooldown_seconds":   int(cfg.AlertCooldown.Seconds()),
				"alert_marker_backend":     cfg.AlertMarkerBackend,
				"slack_enabled":            cfg.SlackWebhookURL != "",
				"archive_enabled":          cfg.ArchiveEnabled,
				"amqp_enabled":             cfg.AMQPEnabled,
			},
		})
	}
}
