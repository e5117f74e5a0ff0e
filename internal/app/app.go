package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/TheGrinnerWx/Eas-Discord-posting-bot/internal/alertstore"
	"github.com/TheGrinnerWx/Eas-Discord-posting-bot/internal/config"
	"github.com/TheGrinnerWx/Eas-Discord-posting-bot/internal/fanout"
	"github.com/TheGrinnerWx/Eas-Discord-posting-bot/internal/feed"
	"github.com/TheGrinnerWx/Eas-Discord-posting-bot/internal/poller"
	"github.com/TheGrinnerWx/Eas-Discord-posting-bot/internal/runtime/supervisor"
	"github.com/TheGrinnerWx/Eas-Discord-posting-bot/internal/tenant"
	"github.com/TheGrinnerWx/Eas-Discord-posting-bot/internal/transport"
	"github.com/TheGrinnerWx/Eas-Discord-posting-bot/internal/transport/discord"
	logx "github.com/TheGrinnerWx/Eas-Discord-posting-bot/pkg/logx"
)

// App owns the full wiring: storage, tenant registry, chat adapter, feed
// client, fan-out, and the poll loop.
type App struct {
	cfg *config.Config
	log logx.Logger

	store     alertstore.Store
	registry  *tenant.Registry
	delivered *alertstore.DeliveredSet
	adapter   transport.Adapter
	feed      *feed.Client
	deliverer *fanout.Deliverer
	poller    *poller.Service

	startTime time.Time
}

func New(cfg *config.Config, log logx.Logger) (*App, error) {
	store, err := alertstore.Open(alertstore.Options{
		Driver:        cfg.Storage.Driver,
		DeliveredPath: cfg.Storage.DeliveredPath,
		TenantsPath:   cfg.Storage.TenantsPath,
		SQLitePath:    cfg.Storage.SQLitePath,
		BusyTimeout:   cfg.StorageBusyTimeout(),
	}, log.With(logx.String("component", "store")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	registry := tenant.NewRegistry(store, log.With(logx.String("component", "tenants")))
	if err := registry.Load(); err != nil {
		store.Close()
		return nil, err
	}

	ids, err := store.LoadDelivered()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("load delivered set: %w", err)
	}
	delivered := alertstore.NewDeliveredSet(ids)

	adapter, err := discord.New(discord.Config{Token: cfg.Discord.Token},
		log.With(logx.String("component", "discord")))
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("discord adapter: %w", err)
	}

	client := feed.NewClient(cfg.Feed.URL, cfg.FeedTimeout(), cfg.AudioTimeout(),
		log.With(logx.String("component", "feed")))

	deliverer := fanout.NewDeliverer(adapter, client, registry, delivered, store,
		log.With(logx.String("component", "fanout")))

	interval := cfg.PollInterval(log)
	svc := poller.New(interval, client, deliverer, registry, delivered,
		log.With(logx.String("component", "poller")))

	a := &App{
		cfg:       cfg,
		log:       log,
		store:     store,
		registry:  registry,
		delivered: delivered,
		adapter:   adapter,
		feed:      client,
		deliverer: deliverer,
		poller:    svc,
		startTime: time.Now(),
	}
	adapter.RegisterCommands(a.commands())
	return a, nil
}

// Run connects to Discord and drives the poll loop until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.log.Info("starting",
		logx.String("feed", a.cfg.Feed.URL),
		logx.Int("tenants", a.registry.Count()),
		logx.Int("delivered", a.delivered.Len()))

	if err := a.adapter.Start(ctx); err != nil {
		return fmt.Errorf("connect to discord: %w", err)
	}

	sup := supervisor.New(ctx, supervisor.WithLogger(a.log))

	sup.GoRestart("poller", a.poller.Run)

	if usesTenantFile(a.cfg) {
		path := a.cfg.Storage.TenantsPath
		sup.GoRestart("tenants-watch", func(ctx context.Context) error {
			err := a.registry.Watch(ctx, path)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	<-sup.Context().Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.adapter.Stop(stopCtx); err != nil {
		a.log.Warn("discord shutdown", logx.Err(err))
	}
	if err := sup.Wait(stopCtx); err != nil && !errors.Is(err, context.Canceled) {
		a.log.Warn("worker shutdown", logx.Err(err))
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("storage close", logx.Err(err))
	}
	a.log.Info("stopped")

	if err := sup.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func usesTenantFile(cfg *config.Config) bool {
	switch cfg.Storage.Driver {
	case "", "file":
		return cfg.Storage.TenantsPath != ""
	default:
		return false
	}
}
