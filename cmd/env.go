package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/propale/propale/internal/billing"
	"github.com/propale/propale/internal/engine"
	"github.com/propale/propale/internal/extract"
	"github.com/propale/propale/internal/ledger"
	"github.com/propale/propale/internal/storage"
	"github.com/propale/propale/internal/store"
	"github.com/propale/propale/pkg/anthropic"
)

// env bundles the wired collaborators shared by the subcommands.
type env struct {
	Store   *store.PostgresStore
	Blobs   *storage.S3Storage
	Ledger  *ledger.Ledger
	Engine  *engine.Engine
	Billing *billing.Handler
}

// initEnv connects the store and blob backend and wires the engine.
func initEnv(ctx context.Context) (*env, error) {
	if cfg.Store.DatabaseURL == "" {
		return nil, eris.New("store.database_url is required")
	}

	st, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, &cfg.Store.Pool)
	if err != nil {
		return nil, err
	}

	blobs, err := storage.NewS3(ctx, cfg.Storage)
	if err != nil {
		st.Close()
		return nil, err
	}

	led := ledger.New(st.Pool())
	extractor := extract.NewAnthropic(anthropic.NewClient(cfg.Anthropic.Key), cfg.Anthropic.MaxTokens)
	eng := engine.New(st, blobs, led, extractor, cfg.Engine)

	var webhookHandler *billing.Handler
	if cfg.Stripe.WebhookSecret != "" {
		webhookHandler = billing.NewHandler(st, led, cfg.Stripe)
	}

	return &env{
		Store:   st,
		Blobs:   blobs,
		Ledger:  led,
		Engine:  eng,
		Billing: webhookHandler,
	}, nil
}

func (e *env) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}
