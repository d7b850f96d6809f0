package cmd

import (
	"context"

	"github.com/spf13/viper"

	"github.com/pagegate/pagegate/internal/config"
	"github.com/pagegate/pagegate/internal/core/credentials"
	"github.com/pagegate/pagegate/internal/core/engine"
	"github.com/pagegate/pagegate/internal/core/graph"
	"github.com/pagegate/pagegate/internal/core/pages"
	"github.com/pagegate/pagegate/internal/core/store"
	errwrap "github.com/pagegate/pagegate/internal/errors"
)

// gateway is the process-wide component graph: one shared throttle state, one
// executor, one credential store.
type gateway struct {
	cfg      *config.Config
	client   *graph.Client
	store    store.CredentialStore
	resolver *credentials.Resolver
	pages    *pages.Service
}

func loadConfig(ctx context.Context) (*config.Config, error) {
	cfg, err := config.Load(ctx, viper.GetViper())
	if err != nil {
		return nil, errwrap.WrapConfigInvalid(ctx, err, "failed to load configuration")
	}
	return cfg, nil
}

func openCredentialStore(ctx context.Context) (store.CredentialStore, error) {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return nil, err
	}
	st, err := store.OpenCredentialStore(ctx, cfg)
	if err != nil {
		return nil, errwrap.WrapDatabaseError(ctx, err, "failed to open credential store")
	}
	return st, nil
}

func openGateway(ctx context.Context, cfg *config.Config) (*gateway, error) {
	env, err := credentials.ParseEnvMap(cfg.Credentials.PageTokens)
	if err != nil {
		return nil, errwrap.WrapConfigInvalid(ctx, err, "invalid credentials.page_tokens")
	}
	env = env.Merge(cfg.Credentials.Resources)

	client := graph.New(engine.NewState(), cfg.Throttle, cfg.Guard.Window)
	client.BaseURL = cfg.Graph.BaseURL
	client.UploadURL = cfg.Graph.UploadURL
	client.Timeouts = cfg.Graph.Timeouts

	st, err := store.OpenCredentialStore(ctx, cfg)
	if err != nil {
		return nil, errwrap.WrapDatabaseError(ctx, err, "failed to open credential store")
	}

	resolver := credentials.NewDefaultResolver(env, st, client)
	return &gateway{
		cfg:      cfg,
		client:   client,
		store:    st,
		resolver: resolver,
		pages:    pages.NewService(client, resolver, cfg.Credentials.MasterToken),
	}, nil
}

func (g *gateway) Close() error {
	if g == nil || g.store == nil {
		return nil
	}
	return g.store.Close()
}
