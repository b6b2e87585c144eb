// Package app assembles the services into one runnable process: config,
// logging, storage, the Telegram adapter, the publish gate, the campaign
// service, the posting loop and the HTTP surfaces.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"promobot/internal/adapters/telegram"
	"promobot/internal/config"
	"promobot/internal/observability/pprof"
	"promobot/internal/publish"
	"promobot/internal/services/campaign"
	"promobot/internal/services/dashboard"
	"promobot/internal/services/poster"
	"promobot/internal/services/scheduler"
	"promobot/internal/storage"
	logx "promobot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor

	logs *logx.Service
	log  logx.Logger

	store   storage.Store
	adapter *telegram.Adapter
	gate    *publish.Gate
	svc     *campaign.Service

	sched  *scheduler.Service
	poster *poster.Service
	dash   *dashboard.Service
	prof   *pprof.Service

	seedFile string
}

// New loads the config and constructs every component. The Telegram
// handshake runs here, so a bad token fails startup instead of the
// first post.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	logs, log := logx.New(mapLogging(cfg))

	loc := time.Local
	if cfg.Timezone != "" {
		if loc, err = time.LoadLocation(cfg.Timezone); err != nil {
			return nil, fmt.Errorf("timezone: %w", err)
		}
	}

	store, err := storage.Open(mapStorage(cfg), log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	adapter, err := telegram.New(mapTelegram(cfg), log.With(logx.String("comp", "telegram")))
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	logs.SetNotifier(adapter)

	gate := publish.NewGate(mapPacing(cfg), adapter, store, log.With(logx.String("comp", "publish")))

	svc := campaign.New(store, gate, mapWindow(cfg), loc, log.With(logx.String("comp", "campaign")))

	sched, err := scheduler.New(scheduler.Config{
		Timezone:       cfg.Timezone,
		DefaultTimeout: schedulerDefaultTimeout,
	}, log.With(logx.String("comp", "scheduler")))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	return &App{
		cfgm:     cfgm,
		logs:     logs,
		log:      log.With(logx.String("comp", "app")),
		store:    store,
		adapter:  adapter,
		gate:     gate,
		svc:      svc,
		sched:    sched,
		poster:   poster.New(mapPoster(cfg), svc, sched, log.With(logx.String("comp", "poster"))),
		dash:     dashboard.New(mapDashboard(cfg), svc, gate, sched, log.With(logx.String("comp", "dashboard"))),
		prof:     pprof.New(mapPprof(cfg), log.With(logx.String("comp", "pprof"))),
		seedFile: cfg.SeedFile,
	}, nil
}

// Done is closed when the supervisor context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = newSupervisor(ctx, a.log)

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	// Sections that cannot be re-applied to a running process are
	// rejected at reload time; everything else hot-applies below.
	a.cfgm.SetValidator(func(_ context.Context, next *config.Config) error {
		prev := a.cfgm.Get()
		if prev == nil {
			return nil
		}
		if next.Storage != prev.Storage {
			return fmt.Errorf("storage settings require a restart")
		}
		if next.Timezone != prev.Timezone {
			return fmt.Errorf("timezone requires a restart")
		}
		if next.Telegram != prev.Telegram {
			return fmt.Errorf("telegram settings require a restart")
		}
		return nil
	})

	if a.seedFile != "" {
		if err := a.svc.Seed(a.sup.Context(), a.seedFile); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
	}

	a.sched.Start(a.sup.Context())
	if err := a.poster.Start(a.sup.Context()); err != nil {
		return err
	}
	if err := a.dash.Start(a.sup.Context()); err != nil {
		return err
	}
	if err := a.prof.Start(a.sup.Context()); err != nil {
		return err
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return nil
			case next, ok := <-sub:
				if !ok {
					return nil
				}
				// Coalesce bursts: only the newest config matters.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						drained = true
					}
				}
				a.apply(c, next)
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	notifySystemd(a.sup, a.log)

	a.log.Info("app started")
	return nil
}

// apply hot-applies one validated config reload.
func (a *App) apply(ctx context.Context, cfg *config.Config) {
	a.logs.Apply(mapLogging(cfg))
	a.gate.Apply(mapPacing(cfg))
	if err := a.svc.SetWindow(ctx, mapWindow(cfg)); err != nil {
		a.log.Warn("active hours not applied", logx.Err(err))
	}
	if err := a.poster.Apply(ctx, mapPoster(cfg)); err != nil {
		a.log.Warn("poster config not applied", logx.Err(err))
	}
	a.log.Info("config applied")
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	a.log.Info("stopping")

	a.sup.Cancel()
	a.poster.Stop()
	a.dash.Stop(ctx)
	a.prof.Stop(ctx)

	sctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	a.sched.Stop(sctx)
	cancel()

	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	err := a.sup.Wait(wctx)
	cancel()

	if cerr := a.store.Close(); cerr != nil {
		a.log.Warn("store close failed", logx.Err(cerr))
	}
	_ = a.logs.Close()
	return err
}

// notifySystemd signals readiness and, when the unit configures a
// watchdog, keeps it fed at half the configured interval. Both are
// no-ops outside systemd.
func notifySystemd(sup *supervisor, log logx.Logger) {
	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warn("sd_notify failed", logx.Err(err))
	} else if sent {
		log.Debug("systemd readiness notified")
	}

	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	sup.Go("systemd.watchdog", func(ctx context.Context) error {
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-t.C:
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	})
}
