// Package app wires the process together: config, logging, audit store,
// optional event/notify integrations, and the HTTP server lifecycle.
package app

import (
	"context"
	"fmt"

	"areacast/internal/audit"
	"areacast/internal/channel"
	"areacast/internal/config"
	"areacast/internal/directory"
	"areacast/internal/events"
	"areacast/internal/metrics"
	"areacast/internal/notify"
	"areacast/internal/provider"
	"areacast/internal/server"
	"areacast/pkg/logx"
)

type App struct {
	cfg *config.Config
	log logx.Logger

	closeLog func() error
	store    audit.Store
	pruner   *audit.Pruner
	events   events.Publisher
	srv      *server.Server
}

func New(cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log, closeLog := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	a := &App{cfg: cfg, log: log, closeLog: closeLog}

	store, err := audit.Open(audit.Config{Driver: cfg.Audit.Driver, Path: cfg.Audit.Path}, log.With(logx.String("comp", "audit")))
	if err != nil {
		a.closeAll()
		_ = closeLog()
		return nil, fmt.Errorf("open audit store: %w", err)
	}
	a.store = store
	a.pruner = audit.NewPruner(store, cfg.RetentionWindow(), cfg.Audit.PruneSchedule, log.With(logx.String("comp", "audit")))

	// An enabled broker that cannot be reached is a deployment error;
	// starting without it would silently drop every blast event.
	if cfg.Events != nil && cfg.Events.Enabled {
		pub, err := events.NewRabbit(cfg.Events.URL, cfg.Events.Exchange, log.With(logx.String("comp", "events")))
		if err != nil {
			a.closeAll()
			_ = closeLog()
			return nil, fmt.Errorf("connect event broker: %w", err)
		}
		a.events = pub
	}

	// The operator notifier is best-effort end to end; a bad token only
	// costs the notifications.
	var notifier *notify.Notifier
	if cfg.Notify != nil && cfg.Notify.Enabled {
		n, err := notify.New(notify.Config{Token: cfg.Notify.Token, ChatID: cfg.Notify.ChatID}, log.With(logx.String("comp", "notify")))
		if err != nil {
			log.Warn("operator notifier disabled", logx.Err(err))
		} else {
			notifier = n
		}
	}

	pricing := audit.Pricing{
		Currency: cfg.Pricing.Currency,
		Default:  cfg.Pricing.DefaultCategory,
		Prices: map[string]float64{
			audit.CategoryService:   cfg.Pricing.Service,
			audit.CategoryUtility:   cfg.Pricing.Utility,
			audit.CategoryMarketing: cfg.Pricing.Marketing,
		},
	}

	a.srv = server.New(server.Options{
		Listen:      cfg.Listen,
		CORSOrigins: cfg.CORSOrigins,
		Log:         log.With(logx.String("comp", "http")),
		Directory:   directory.NewLoader(cfg.ContactsCSV, log.With(logx.String("comp", "directory"))),
		Pick: func(ch channel.Channel) (string, bool) {
			return provider.Pick(cfg, ch)
		},
		SenderFor: func(ch channel.Channel) (provider.Sender, error) {
			s, _, err := provider.ForChannel(cfg, ch, log.With(logx.String("comp", "provider")))
			return s, err
		},
		Workers:   cfg.Dispatch.Workers,
		PaceBulk:  cfg.BulkPace(),
		PaceCloud: cfg.CloudPace(),
		Pricing:   pricing,
		Store:     store,
		Publisher: a.events,
		Notifier:  notifier,
		Metrics:   metrics.New(),
	})
	return a, nil
}

func (a *App) Start() error {
	if err := a.pruner.Start(); err != nil {
		return fmt.Errorf("start audit pruner: %w", err)
	}
	if err := a.srv.Start(); err != nil {
		return fmt.Errorf("start http server: %w", err)
	}
	a.log.Info("areacast started", logx.String("listen", a.srv.Addr()), logx.String("contacts", a.cfg.ContactsCSV))
	return nil
}

func (a *App) Stop(ctx context.Context) {
	if a.srv != nil {
		if err := a.srv.Stop(ctx); err != nil {
			a.log.Warn("http shutdown", logx.Err(err))
		}
	}
	a.pruner.Stop()
	a.closeAll()
	a.log.Info("areacast stopped")
	if a.closeLog != nil {
		_ = a.closeLog()
		a.closeLog = nil
	}
}

func (a *App) closeAll() {
	if a.events != nil {
		if err := a.events.Close(); err != nil {
			a.log.Warn("event broker close", logx.Err(err))
		}
		a.events = nil
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("audit store close", logx.Err(err))
		}
		a.store = nil
	}
}
