package http

import (
	"context"
	nethttp "net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"go-helpdesk-insights-ui/internal/config"
	"go-helpdesk-insights-ui/internal/connectors/amqp"
	"go-helpdesk-insights-ui/internal/connectors/statedb"
	"go-helpdesk-insights-ui/internal/dashboard"
)

func servicesStatusHandler(cfg config.Config, deps Deps) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 8*time.Second)
		defer cancel()

		payload := map[string]any{
			"generated_at": time.Now().UTC(),
			"services":     map[string]any{},
		}
		services := payload["services"].(map[string]any)

		services["intercom"] = intercomStatus(ctx, deps.Service)
		services["limbo_monitor"] = limboMonitorStatus(cfg, deps.Monitor)
		services["archive"] = archiveStatus(ctx, deps.Archive)
		services["state_db"] = stateDBStatus(ctx, deps.State)
		services["amqp"] = amqpStatus(deps.Publisher)
		services["redis"] = redisStatus(ctx, deps.Redis)
		services["slack"] = map[string]any{"enabled": cfg.SlackWebhookURL != "", "ok": cfg.SlackWebhookURL != ""}

		writeJSON(w, nethttp.StatusOK, payload)
	}
}

func intercomStatus(ctx context.Context, svc *dashboard.Service) map[string]any {
	if svc == nil {
		return map[string]any{"enabled": false, "ok": false, "error": intercomDisabled}
	}
	view := svc.Admins(ctx)
	out := map[string]any{"enabled": true, "ok": view.OK(), "status": view.Status, "admins": len(view.Data)}
	if view.Error != "" {
		out["error"] = view.Error
	}
	if notices := svc.Progress().Snapshot().Notices; len(notices) > 0 {
		out["last_notice"] = notices[len(notices)-1]
	}
	return out
}

func limboMonitorStatus(cfg config.Config, monitor *dashboard.LimboMonitor) map[string]any {
	if monitor == nil || !cfg.LimboEnabled {
		return map[string]any{"enabled": false, "ok": false, "error": "limbo monitor disabled"}
	}
	out := map[string]any{"enabled": true, "interval_seconds": int(cfg.LimboInterval.Seconds())}
	snap, ok := monitor.Snapshot()
	if !ok {
		out["ok"] = true
		out["checked"] = false
		return out
	}
	out["ok"] = snap.Error == ""
	out["checked"] = true
	out["last"] = snap
	return out
}

func archiveStatus(ctx context.Context, store ArchiveReader) map[string]any {
	if store == nil {
		return map[string]any{"enabled": false, "ok": false, "error": "archive integration disabled"}
	}
	start := time.Now()
	stats, err := store.ServiceStats(ctx)
	recordDBQuery("archive", "ServiceStats", time.Since(start).Seconds(), err)
	if err != nil {
		return map[string]any{"enabled": true, "ok": false, "error": err.Error()}
	}
	return map[string]any{"enabled": true, "ok": true, "stats": stats}
}

func stateDBStatus(ctx context.Context, store *statedb.Store) map[string]any {
	if store == nil {
		return map[string]any{"enabled": false, "ok": false, "error": "state database disabled"}
	}
	start := time.Now()
	stats, err := store.ServiceStats(ctx)
	recordDBQuery("statedb", "ServiceStats", time.Since(start).Seconds(), err)
	if err != nil {
		return map[string]any{"enabled": true, "ok": false, "error": err.Error()}
	}
	return map[string]any{"enabled": true, "ok": true, "stats": stats}
}

func amqpStatus(p *amqp.Publisher) map[string]any {
	if p == nil {
		return map[string]any{"enabled": false, "ok": false, "error": "amqp integration disabled"}
	}
	start := time.Now()
	err := p.Ping()
	recordExternalCall("amqp", "Ping", time.Since(start).Seconds(), err)
	if err != nil {
		return map[string]any{"enabled": true, "ok": false, "exchange": p.Exchange(), "error": err.Error()}
	}
	return map[string]any{"enabled": true, "ok": true, "exchange": p.Exchange()}
}

func redisStatus(ctx context.Context, client redis.UniversalClient) map[string]any {
	if client == nil {
		return map[string]any{"enabled": false, "ok": false, "error": "redis integration disabled"}
	}
	start := time.Now()
	err := client.Ping(ctx).Err()
	recordExternalCall("redis", "PING", time.Since(start).Seconds(), err)
	if err != nil {
		return map[string]any{"enabled": true, "ok": false, "error": err.Error()}
	}
	return map[string]any{"enabled": true, "ok": true, "ping_ms": time.Since(start).Milliseconds()}
}
