package cli

import (
	"context"
	"fmt"

	"github.com/cloudlift/cloudlift-agent/internal/account"
	"github.com/cloudlift/cloudlift-agent/internal/config"
	"github.com/cloudlift/cloudlift-agent/internal/events"
	"github.com/cloudlift/cloudlift-agent/internal/notify"
	"github.com/cloudlift/cloudlift-agent/internal/remote"
	"github.com/cloudlift/cloudlift-agent/internal/remote/backends"
	"github.com/cloudlift/cloudlift-agent/internal/store"
	"github.com/cloudlift/cloudlift-agent/internal/thumbnails"
	"github.com/cloudlift/cloudlift-agent/internal/worker"
)

// app wires the long-lived collaborators every command needs. Commands build
// one, use it, and Close it on the way out.
type app struct {
	cfg      *config.Config
	store    *store.Store
	resolver *account.ConfigResolver
	bus      *events.EventBus
	notifier *notify.Notifier
	thumbs   *thumbnails.Generator
}

func newApp() (*app, error) {
	path := cfgFile
	if path == "" {
		var err error
		path, err = config.DefaultConfigPath()
		if err != nil {
			return nil, err
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	st, err := store.Open(cfg.Agent.DataDir)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		store:    st,
		resolver: account.NewConfigResolver(cfg),
		bus:      events.NewEventBus(0),
		notifier: notify.New(cfg.Notifications, logger),
		thumbs:   thumbnails.NewGenerator(cfg.Agent.DataDir, logger),
	}
	return a, nil
}

func (a *app) Close() {
	a.thumbs.Stop()
	a.bus.Close()
	if err := a.store.Close(); err != nil {
		logger.Warn().Err(err).Msg("failed to close upload store")
	}
}

// clientFactory builds per-account transfer clients with the configured proxy.
func (a *app) clientFactory() worker.ClientFactory {
	return func(ctx context.Context, acct account.Account) (remote.Client, error) {
		return backends.New(ctx, acct, a.cfg.Proxy.URL, logger)
	}
}
