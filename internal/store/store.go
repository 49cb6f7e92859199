package store

import (
	"context"

	"github.com/propale/propale/internal/model"
)

// Store defines the persistence interface for the proposition engine.
// Lookup methods return (nil, nil) when the row does not exist.
type Store interface {
	// Organizations
	CreateOrganization(ctx context.Context, org model.Organization) (*model.Organization, error)
	GetOrganization(ctx context.Context, id string) (*model.Organization, error)

	// Templates
	CreateTemplate(ctx context.Context, tpl model.PropositionTemplate) (*model.PropositionTemplate, error)
	GetTemplate(ctx context.Context, id string) (*model.PropositionTemplate, error)
	CountTemplates(ctx context.Context, orgID string) (int, error)
	UpdateTemplateStatus(ctx context.Context, id string, status model.TemplateStatus) error

	// Propositions
	CreateProposition(ctx context.Context, p model.Proposition) (*model.Proposition, error)
	GetProposition(ctx context.Context, id string) (*model.Proposition, error)
	SaveProposition(ctx context.Context, p *model.Proposition) error
	// Transition moves a proposition between states only if its current
	// state matches from. Returns false when another writer got there first.
	Transition(ctx context.Context, id string, from, to model.PropositionStatus) (bool, error)
	SetArtifactURL(ctx context.Context, id, url string) error
	// ListPropositions returns an organization's propositions newest-first.
	ListPropositions(ctx context.Context, orgID string) ([]model.Proposition, error)
	DeletePropositions(ctx context.Context, ids []string) (int64, error)

	// Stripe transactions
	GetTransactionByEvent(ctx context.Context, eventID string) (*model.StripeTransaction, error)
	InsertTransaction(ctx context.Context, tx model.StripeTransaction) (bool, error)
	UpdateTransactionStatus(ctx context.Context, id string, status model.TransactionStatus) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
