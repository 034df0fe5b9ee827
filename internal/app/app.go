package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"planbook/internal/config"
	"planbook/internal/notify"
	"planbook/internal/schedule"
	"planbook/internal/storage"
	logx "planbook/pkg/logx"
)

// App wires config, logging, storage, the schedule core and the reminder
// service together for the daemon.
type App struct {
	cfgMgr *config.ConfigManager
	logSvc *logx.Service
	log    logx.Logger

	feed      *storage.Feed
	store     storage.Store
	repo      *schedule.Repository
	manager   *schedule.Manager
	reminders *notify.Service

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

func New(cfgPath string) (*App, error) {
	cfgMgr := config.NewConfigManager(cfgPath)
	cfg, err := cfgMgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	logSvc, log := logx.New(loggingConfig(cfg.Logging))
	cfgMgr.SetLogger(log.With(logx.String("comp", "config")))
	cfgMgr.SetValidator(func(_ context.Context, c *config.Config) error { return validate(c) })

	storeCfg, err := storageConfig(cfg.Storage)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	feed := storage.NewFeed()
	store, err := storage.Open(storeCfg, feed, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	repo := schedule.NewRepository(store, feed, log.With(logx.String("comp", "repo")))

	remCfg, err := reminderConfig(cfg.Reminder)
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}
	remLog := log.With(logx.String("comp", "reminder"))
	reminders := notify.New(remCfg, notify.LogSender{Log: remLog}, remLog)

	manager := schedule.NewManager(repo, reminders, log.With(logx.String("comp", "schedule")))

	return &App{
		cfgMgr:    cfgMgr,
		logSvc:    logSvc,
		log:       log,
		feed:      feed,
		store:     store,
		repo:      repo,
		manager:   manager,
		reminders: reminders,
	}, nil
}

// Manager exposes the schedule core to the embedding presentation layer.
func (a *App) Manager() *schedule.Manager { return a.manager }

func (a *App) Repository() *schedule.Repository { return a.repo }

func (a *App) Reminders() *notify.Service { return a.reminders }

func (a *App) Log() logx.Logger { return a.log }

// Start brings up the reminder sweep, the known-dates live query and the
// config watcher. Idempotent.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return nil
	}
	a.started = true
	wctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.mu.Unlock()

	if err := a.reminders.Start(wctx); err != nil {
		return err
	}
	if err := a.manager.LoadKnownDates(wctx); err != nil {
		return err
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.cfgMgr.Watch(wctx); err != nil && wctx.Err() == nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()

	updates := a.cfgMgr.Subscribe(1)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.cfgMgr.Unsubscribe(updates)
		for {
			select {
			case <-wctx.Done():
				return
			case cfg, ok := <-updates:
				if !ok {
					return
				}
				a.applyConfig(cfg)
			}
		}
	}()

	a.log.Info("planbook started")
	return nil
}

// Stop tears everything down in dependency order.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	cancel := a.cancel
	a.cancel = nil
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	a.wg.Wait()

	a.manager.Close()
	a.reminders.Stop(ctx)
	err := a.store.Close()
	a.log.Info("planbook stopped")
	_ = a.logSvc.Close()
	return err
}

// applyConfig applies the reloadable sections. Storage is deliberately
// not reloadable; changing the database out from under live queries needs
// a restart.
func (a *App) applyConfig(cfg *config.Config) {
	a.logSvc.Apply(loggingConfig(cfg.Logging))

	remCfg, err := reminderConfig(cfg.Reminder)
	if err != nil {
		a.log.Warn("reminder config not applied", logx.Err(err))
		return
	}
	a.reminders.Apply(remCfg)
}

func validate(cfg *config.Config) error {
	if _, err := storageConfig(cfg.Storage); err != nil {
		return err
	}
	if _, err := reminderConfig(cfg.Reminder); err != nil {
		return err
	}
	return nil
}

func loggingConfig(c config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.ConsoleEnabled(),
		File: logx.FileConfig{
			Enabled: c.File.Enabled,
			Path:    c.File.Path,
		},
	}
}

func storageConfig(c config.StorageConfig) (storage.Config, error) {
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", c.BusyTimeout, 5*time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      c.Driver,
		Path:        c.Path,
		BusyTimeout: busy,
	}, nil
}

func reminderConfig(c config.ReminderConfig) (notify.Config, error) {
	retryBase, err := config.ParseDurationField("reminder.retry_base", c.RetryBase)
	if err != nil {
		return notify.Config{}, err
	}
	return notify.Config{
		Enabled:     c.ReminderEnabled(),
		RatePerSec:  c.RatePerSec,
		RetryMax:    c.RetryMax,
		RetryBase:   retryBase,
		HistorySize: c.HistorySize,
		Timezone:    c.Timezone,
	}, nil
}
