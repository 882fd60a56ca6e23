package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"go-helpdesk-insights-ui/internal/config"
	"go-helpdesk-insights-ui/internal/connectors/amqp"
	"go-helpdesk-insights-ui/internal/connectors/archive"
	"go-helpdesk-insights-ui/internal/connectors/intercom"
	"go-helpdesk-insights-ui/internal/connectors/statedb"
	"go-helpdesk-insights-ui/internal/dashboard"
	"go-helpdesk-insights-ui/internal/etl"
	httpapi "go-helpdesk-insights-ui/internal/http"
	"go-helpdesk-insights-ui/internal/insights"
	"go-helpdesk-insights-ui/internal/notify"
)

var errNoToken = errors.New("intercom token missing (set APP_INTERCOM_TOKEN)")

// app holds every integration built from one Config. Optional parts stay
// nil when their settings are absent.
type app struct {
	cfg       config.Config
	logger    *zap.Logger
	api       *intercom.API
	service   *dashboard.Service
	monitor   *dashboard.LimboMonitor
	notifier  *notify.Notifier
	state     *statedb.Store
	archive   *archive.Store
	publisher *amqp.Publisher
	redis     redis.UniversalClient
	syncer    *etl.Syncer
	closers   []func() error
}

func buildApp(cfg config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	if cfg.StateSQLitePath != "" {
		store, err := statedb.NewSQLiteStore(cfg.StateSQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open state db: %w", err)
		}
		a.state = store
		a.closers = append(a.closers, store.Close)
	}
	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		a.closers = append(a.closers, a.redis.Close)
	}
	if cfg.AMQPEnabled {
		a.publisher = amqp.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, logger.Named("amqp"))
		a.closers = append(a.closers, a.publisher.Close)
	}
	if cfg.ArchiveEnabled {
		store, err := archive.NewStore(cfg)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("open archive: %w", err)
		}
		a.archive = store
		a.closers = append(a.closers, store.Close)
	}

	if strings.TrimSpace(cfg.IntercomToken) == "" {
		return a, nil
	}

	board := dashboard.NewProgressBoard()
	client, err := intercom.New(cfg.IntercomBaseURL, cfg.IntercomToken,
		intercom.WithTimeout(cfg.IntercomTimeout),
		intercom.WithVersion(cfg.IntercomVersion),
		intercom.WithMaxAttempts(cfg.IntercomMaxAttempts),
		intercom.WithNotice(board.Notice),
		intercom.WithObserver(httpapi.ObserveIntercomCall),
		intercom.WithLogger(logger.Named("intercom")),
	)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("intercom client: %w", err)
	}
	collector := intercom.NewCollector(client,
		intercom.WithProgress(board.Report),
		intercom.WithCollectorLogger(logger.Named("collector")),
	)
	a.api = intercom.NewAPI(client, collector, cfg.IntercomPageSize)
	a.service = dashboard.NewService(a.api, dashboard.SettingsFromConfig(cfg), logger.Named("dashboard"),
		dashboard.WithProgressBoard(board),
		dashboard.WithObserver(httpapi.ObserveReportView),
	)

	a.notifier, err = a.buildNotifier()
	if err != nil {
		a.close()
		return nil, err
	}
	a.monitor = dashboard.NewLimboMonitor(a.service, a.notifier, cfg.LimboInterval, logger.Named("limbo"))

	if a.archive != nil {
		opts := []etl.Option{}
		if a.state != nil {
			opts = append(opts, etl.WithRunRecorder(a.state))
		}
		if a.publisher != nil {
			opts = append(opts, etl.WithEvents(a.publisher))
		}
		shaper := insights.NewShaper(cfg.DisplayLocation(), cfg.IntercomAppID, nil)
		a.syncer = etl.NewSyncer(a.api, a.archive, shaper, cfg.ArchiveTeamIDs, cfg.ArchiveTagMarkers, logger.Named("sync"), opts...)
	}
	return a, nil
}

// buildNotifier picks the cooldown marker backend and the alert sinks.
// It returns nil when no sink is configured.
func (a *app) buildNotifier() (*notify.Notifier, error) {
	var sinks []notify.Sink
	if a.cfg.SlackWebhookURL != "" {
		sinks = append(sinks, notify.NewSlackSink(a.cfg.SlackWebhookURL, a.cfg.SlackTimeout))
	}
	if a.publisher != nil {
		sinks = append(sinks, notify.NewAMQPSink(a.publisher))
	}
	if len(sinks) == 0 {
		a.logger.Info("no alert sinks configured, limbo alerts disabled")
		return nil, nil
	}

	var marker notify.Marker
	switch a.cfg.AlertMarkerBackend {
	case "", "file":
		marker = notify.NewFileMarker(a.cfg.AlertMarkerPath)
	case "sqlite":
		if a.state == nil {
			return nil, errors.New("alert marker backend sqlite needs APP_STATE_SQLITE_PATH")
		}
		marker = notify.NewSQLiteMarker(a.state, a.cfg.AlertMarkerKey)
	case "redis":
		if a.redis == nil {
			return nil, errors.New("alert marker backend redis needs APP_REDIS_ADDR")
		}
		marker = notify.NewRedisMarker(a.redis, a.cfg.AlertMarkerKey)
	default:
		return nil, fmt.Errorf("unknown alert marker backend %q", a.cfg.AlertMarkerBackend)
	}

	gate := notify.NewGate(marker, a.cfg.AlertCooldown)
	return notify.New(gate, sinks, a.logger.Named("notify"),
		notify.WithMaxLinks(a.cfg.LimboMaxLinks),
		notify.WithObserver(httpapi.ObserveNotification),
	), nil
}

func (a *app) deps() httpapi.Deps {
	d := httpapi.Deps{
		Logger:    a.logger.Named("http"),
		Service:   a.service,
		Monitor:   a.monitor,
		State:     a.state,
		Publisher: a.publisher,
		Redis:     a.redis,
		Closers:   a.closers,
	}
	// Typed nils must not leak into the interface fields.
	if a.archive != nil {
		d.Archive = a.archive
	}
	if a.syncer != nil {
		d.Syncer = a.syncer
	}
	return d
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close integration", zap.Error(err))
		}
	}
}
