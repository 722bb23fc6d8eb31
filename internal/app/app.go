// Package app wires the services together and owns their lifecycle.
package app

import (
	"context"
	"sync"
	"time"

	"castbot/internal/bot"
	"castbot/internal/broadcast"
	"castbot/internal/config"
	"castbot/internal/quota"
	"castbot/internal/scheduler"
	"castbot/internal/session"
	"castbot/internal/storage"
	"castbot/internal/telegram"
	"castbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger

	store    storage.Store
	ledger   *quota.Ledger
	sessions *session.Manager
	sched    *scheduler.Service
	dispatch *broadcast.Service
	tg       *telegram.Client

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	busyTimeout, err := config.ParseDuration("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	lateTolerance, err := config.ParseDuration("scheduler.late_tolerance", cfg.Scheduler.LateTolerance, config.DefaultLateTolerance)
	if err != nil {
		return nil, err
	}
	sched := scheduler.New(scheduler.Config{
		Timezone:      cfg.TimezoneOrDefault(),
		LateTolerance: lateTolerance,
		Workers:       cfg.Scheduler.Workers,
		QueueSize:     cfg.Scheduler.QueueSize,
	}, log.With(logx.String("comp", "scheduler")))

	ledger := quota.New(quota.Config{
		Mode:         quota.Mode(cfg.Quota.Mode),
		MonthlyLimit: cfg.FreeMonthlyLimitOrDefault(),
		DeveloperID:  cfg.Telegram.DeveloperID,
	}, store, sched.Location(), log.With(logx.String("comp", "quota")))

	idleTTL, err := config.ParseDuration("session.idle_ttl", cfg.Session.IdleTTL, config.DefaultIdleTTL)
	if err != nil {
		return nil, err
	}
	sessions := session.NewManager(idleTTL, log.With(logx.String("comp", "session")))

	pollTimeout, err := config.ParseDuration("telegram.poll_timeout", cfg.Telegram.PollTimeout, config.DefaultPollTimeout)
	if err != nil {
		return nil, err
	}
	tg, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	dispatch := broadcast.New(broadcast.Config{}, store, ledger, tg, sched,
		log.With(logx.String("comp", "broadcast")))

	handlers := bot.New(bot.Config{DeveloperID: cfg.Telegram.DeveloperID},
		store, sessions, ledger, dispatch, tg, sched.Location(),
		log.With(logx.String("comp", "bot")))
	dispatch.SetReporter(handlers)
	handlers.Register(tg.Bot())

	return &App{
		cfgm:     cfgm,
		logs:     logs,
		log:      log.With(logx.String("comp", "app")),
		store:    store,
		ledger:   ledger,
		sessions: sessions,
		sched:    sched,
		dispatch: dispatch,
		tg:       tg,
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = true
	rctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.mu.Unlock()

	a.sched.Start(rctx)

	if err := a.sched.AddCron("session-sweep", "@every 5m", func(ctx context.Context) error {
		a.sessions.Sweep(time.Now())
		return nil
	}); err != nil {
		return err
	}
	if err := a.sched.AddCron("quota-sweep", "@daily", func(ctx context.Context) error {
		now := time.Now().In(a.sched.Location())
		monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		n, err := a.store.ResetStaleQuotas(ctx, monthStart)
		if n > 0 {
			a.log.Info("monthly counters reset", logx.Int("count", n))
		}
		return err
	}); err != nil {
		return err
	}
	if err := a.sched.AddCron("premium-sweep", "@daily", func(ctx context.Context) error {
		n, err := a.store.ExpirePremium(ctx, time.Now())
		if n > 0 {
			a.log.Info("expired premium cleared", logx.Int("count", n))
		}
		return err
	}); err != nil {
		return err
	}

	if armed, dropped, err := a.dispatch.Rehydrate(rctx); err != nil {
		a.log.Error("job rehydration failed", logx.Err(err))
	} else {
		a.log.Info("startup rehydration done", logx.Int("armed", armed), logx.Int("dropped", dropped))
	}

	a.tg.Start(rctx)

	a.wg.Add(1)
	go a.watchConfig(rctx)

	a.log.Info("started")
	return nil
}

// watchConfig follows the config file and applies the hot-reloadable
// settings in place. Token and storage path changes need a restart.
func (a *App) watchConfig(ctx context.Context) {
	defer a.wg.Done()

	sub := a.cfgm.Subscribe(1)
	defer a.cfgm.Unsubscribe(sub)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.cfgm.Watch(ctx); err != nil && ctx.Err() == nil {
			a.log.Warn("config watch ended", logx.Err(err))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			a.applyConfig(cfg)
		}
	}
}

func (a *App) applyConfig(cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	a.ledger.Apply(quota.Config{
		Mode:         quota.Mode(cfg.Quota.Mode),
		MonthlyLimit: cfg.FreeMonthlyLimitOrDefault(),
		DeveloperID:  cfg.Telegram.DeveloperID,
	})
	if ttl, err := config.ParseDuration("session.idle_ttl", cfg.Session.IdleTTL, config.DefaultIdleTTL); err == nil {
		a.sessions.SetIdleTTL(ttl)
	}
	if tol, err := config.ParseDuration("scheduler.late_tolerance", cfg.Scheduler.LateTolerance, config.DefaultLateTolerance); err == nil {
		a.sched.SetLateTolerance(tol)
	}
	a.log.Info("config applied")
}

func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	cancel := a.cancel
	a.cancel = nil
	wasRunning := a.running
	a.running = false
	a.mu.Unlock()
	if !wasRunning {
		return nil
	}
	if cancel != nil {
		cancel()
	}

	err := a.tg.Stop(ctx)
	a.sched.Stop(ctx)
	a.wg.Wait()

	if cerr := a.store.Close(); cerr != nil && err == nil {
		err = cerr
	}
	a.log.Info("stopped")
	_ = a.logs.Close()
	return err
}
