package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/propale/propale/internal/db"
	"github.com/propale/propale/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// the hot paths of the generation pipeline.
var preparedStatements = map[string]string{
	"get_proposition":    `SELECT id, organization_id, template_id, client_name, source_documents, extracted_data, filled_data, statut, duplicated_template_url, suggestions_generees, suggestions_editees, synthese_editee, created_at, updated_at FROM propositions WHERE id = $1`,
	"transition":         `UPDATE propositions SET statut = $1, updated_at = $2 WHERE id = $3 AND statut = $4`,
	"set_artifact_url":   `UPDATE propositions SET duplicated_template_url = $1, updated_at = $2 WHERE id = $3`,
	"get_organization":   `SELECT id, name, credit_balance, tariff, billing_email, stripe_customer_id, created_at, updated_at FROM organizations WHERE id = $1`,
	"list_propositions":  `SELECT id, organization_id, template_id, client_name, source_documents, extracted_data, filled_data, statut, duplicated_template_url, suggestions_generees, suggestions_editees, synthese_editee, created_at, updated_at FROM propositions WHERE organization_id = $1 ORDER BY created_at DESC`,
	"count_templates":    `SELECT COUNT(*) FROM proposition_templates WHERE organization_id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that need direct
// query access (the credit ledger's atomic balance updates).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS organizations (
	id                 TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name               TEXT NOT NULL,
	credit_balance     NUMERIC NOT NULL DEFAULT 0,
	tariff             NUMERIC NOT NULL DEFAULT 1,
	billing_email      TEXT NOT NULL DEFAULT '',
	stripe_customer_id TEXT NOT NULL DEFAULT '',
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS proposition_templates (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	organization_id TEXT REFERENCES organizations(id),
	name            TEXT NOT NULL,
	file_type       TEXT NOT NULL,
	config          JSONB NOT NULL,
	statut          TEXT NOT NULL DEFAULT 'brouillon',
	file_key        TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS propositions (
	id                      TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	organization_id         TEXT NOT NULL REFERENCES organizations(id),
	template_id             TEXT REFERENCES proposition_templates(id),
	client_name             TEXT NOT NULL DEFAULT '',
	source_documents        JSONB NOT NULL DEFAULT '[]',
	extracted_data          JSONB,
	filled_data             JSONB,
	statut                  TEXT NOT NULL DEFAULT 'draft',
	duplicated_template_url TEXT NOT NULL DEFAULT '',
	suggestions_generees    JSONB,
	suggestions_editees     JSONB,
	synthese_editee         JSONB,
	created_at              TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at              TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS stripe_transactions (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	organization_id TEXT NOT NULL REFERENCES organizations(id),
	session_id      TEXT NOT NULL DEFAULT '',
	event_id        TEXT NOT NULL UNIQUE,
	amount          NUMERIC NOT NULL DEFAULT 0,
	credits_granted NUMERIC NOT NULL DEFAULT 0,
	status          TEXT NOT NULL DEFAULT 'pending',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_templates_org ON proposition_templates(organization_id);
CREATE INDEX IF NOT EXISTS idx_propositions_statut ON propositions(statut);
CREATE INDEX IF NOT EXISTS idx_propositions_org_created ON propositions(organization_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_transactions_org ON stripe_transactions(organization_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateOrganization(ctx context.Context, org model.Organization) (*model.Organization, error) {
	if org.ID == "" {
		org.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	org.CreatedAt = now
	org.UpdatedAt = now

	_, err := s.pool.Exec(ctx,
		`INSERT INTO organizations (id, name, credit_balance, tariff, billing_email, stripe_customer_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		org.ID, org.Name, org.CreditBalance, org.Tariff, org.BillingEmail, org.StripeCustomerID, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert organization")
	}
	return &org, nil
}

func (s *PostgresStore) GetOrganization(ctx context.Context, id string) (*model.Organization, error) {
	var o model.Organization
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, credit_balance, tariff, billing_email, stripe_customer_id, created_at, updated_at
		 FROM organizations WHERE id = $1`,
		id,
	).Scan(&o.ID, &o.Name, &o.CreditBalance, &o.Tariff, &o.BillingEmail, &o.StripeCustomerID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get organization %s", id)
	}
	return &o, nil
}

func (s *PostgresStore) CreateTemplate(ctx context.Context, tpl model.PropositionTemplate) (*model.PropositionTemplate, error) {
	if tpl.ID == "" {
		tpl.ID = uuid.New().String()
	}
	if tpl.Status == "" {
		tpl.Status = model.TemplateStatusDraft
	}
	now := time.Now().UTC()
	tpl.CreatedAt = now
	tpl.UpdatedAt = now

	configJSON, err := json.Marshal(tpl.Config)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal template config")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO proposition_templates (id, organization_id, name, file_type, config, statut, file_key, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		tpl.ID, tpl.OrganizationID, tpl.Name, string(tpl.FileType), configJSON, string(tpl.Status), tpl.FileKey, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert template")
	}
	return &tpl, nil
}

func (s *PostgresStore) GetTemplate(ctx context.Context, id string) (*model.PropositionTemplate, error) {
	var t model.PropositionTemplate
	var configJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, organization_id, name, file_type, config, statut, file_key, created_at, updated_at
		 FROM proposition_templates WHERE id = $1`,
		id,
	).Scan(&t.ID, &t.OrganizationID, &t.Name, &t.FileType, &configJSON, &t.Status, &t.FileKey, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get template %s", id)
	}
	if err := json.Unmarshal(configJSON, &t.Config); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal template config")
	}
	return &t, nil
}

func (s *PostgresStore) CountTemplates(ctx context.Context, orgID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM proposition_templates WHERE organization_id = $1`,
		orgID,
	).Scan(&count)
	return count, eris.Wrap(err, "postgres: count templates")
}

func (s *PostgresStore) UpdateTemplateStatus(ctx context.Context, id string, status model.TemplateStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE proposition_templates SET statut = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update template status %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("template not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) CreateProposition(ctx context.Context, p model.Proposition) (*model.Proposition, error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Status == "" {
		p.Status = model.StatusDraft
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	docsJSON, err := json.Marshal(orEmptySlice(p.SourceDocuments))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal source documents")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO propositions (id, organization_id, template_id, client_name, source_documents, statut, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.OrganizationID, p.TemplateID, p.ClientName, docsJSON, string(p.Status), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert proposition")
	}
	return &p, nil
}

func (s *PostgresStore) GetProposition(ctx context.Context, id string) (*model.Proposition, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, organization_id, template_id, client_name, source_documents, extracted_data, filled_data, statut,
		        duplicated_template_url, suggestions_generees, suggestions_editees, synthese_editee, created_at, updated_at
		 FROM propositions WHERE id = $1`,
		id,
	)
	p, err := scanProposition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get proposition %s", id)
	}
	return p, nil
}

// SaveProposition persists the mutable fields of a proposition wholesale.
// The statut column is deliberately excluded: state moves only through
// Transition so concurrent exports cannot clobber each other.
func (s *PostgresStore) SaveProposition(ctx context.Context, p *model.Proposition) error {
	docsJSON, err := json.Marshal(orEmptySlice(p.SourceDocuments))
	if err != nil {
		return eris.Wrap(err, "postgres: marshal source documents")
	}
	extractedJSON, err := marshalOrNil(p.ExtractedData)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal extracted data")
	}
	filledJSON, err := marshalOrNil(p.FilledData)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal filled data")
	}
	genJSON, err := marshalOrNil(p.SuggestionsGen)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal generated suggestions")
	}
	editJSON, err := marshalOrNil(p.SuggestionsEdit)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal edited suggestions")
	}
	synthJSON, err := marshalOrNil(p.SynthesisEdit)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal edited synthesis")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE propositions SET client_name = $1, source_documents = $2, extracted_data = $3, filled_data = $4,
		        suggestions_generees = $5, suggestions_editees = $6, synthese_editee = $7, updated_at = $8
		 WHERE id = $9`,
		p.ClientName, docsJSON, extractedJSON, filledJSON, genJSON, editJSON, synthJSON, time.Now().UTC(), p.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: save proposition %s", p.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("proposition not found: %s", p.ID)
	}
	return nil
}

func (s *PostgresStore) Transition(ctx context.Context, id string, from, to model.PropositionStatus) (bool, error) {
	if !model.CanTransition(from, to) {
		return false, eris.Errorf("postgres: illegal transition %s -> %s", from, to)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE propositions SET statut = $1, updated_at = $2 WHERE id = $3 AND statut = $4`,
		string(to), time.Now().UTC(), id, string(from),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: transition proposition %s", id)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) SetArtifactURL(ctx context.Context, id, url string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE propositions SET duplicated_template_url = $1, updated_at = $2 WHERE id = $3`,
		url, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set artifact url %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("proposition not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) ListPropositions(ctx context.Context, orgID string) ([]model.Proposition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, organization_id, template_id, client_name, source_documents, extracted_data, filled_data, statut,
		        duplicated_template_url, suggestions_generees, suggestions_editees, synthese_editee, created_at, updated_at
		 FROM propositions WHERE organization_id = $1 ORDER BY created_at DESC`,
		orgID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list propositions")
	}
	defer rows.Close()

	var props []model.Proposition
	for rows.Next() {
		p, err := scanProposition(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan proposition")
		}
		props = append(props, *p)
	}
	return props, eris.Wrap(rows.Err(), "postgres: list propositions iterate")
}

func (s *PostgresStore) DeletePropositions(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM propositions WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete propositions")
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) GetTransactionByEvent(ctx context.Context, eventID string) (*model.StripeTransaction, error) {
	var t model.StripeTransaction
	err := s.pool.QueryRow(ctx,
		`SELECT id, organization_id, session_id, event_id, amount, credits_granted, status, created_at, updated_at
		 FROM stripe_transactions WHERE event_id = $1`,
		eventID,
	).Scan(&t.ID, &t.OrganizationID, &t.SessionID, &t.EventID, &t.Amount, &t.CreditsGranted, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get transaction by event %s", eventID)
	}
	return &t, nil
}

// InsertTransaction inserts a transaction row, deduplicating on event id.
// Returns false when the event was already recorded.
func (s *PostgresStore) InsertTransaction(ctx context.Context, tx model.StripeTransaction) (bool, error) {
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO stripe_transactions (id, organization_id, session_id, event_id, amount, credits_granted, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (event_id) DO NOTHING`,
		tx.ID, tx.OrganizationID, tx.SessionID, tx.EventID, tx.Amount, tx.CreditsGranted, string(tx.Status), now, now,
	)
	if err != nil {
		return false, eris.Wrap(err, "postgres: insert transaction")
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) UpdateTransactionStatus(ctx context.Context, id string, status model.TransactionStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE stripe_transactions SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update transaction status %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("transaction not found: %s", id)
	}
	return nil
}

// scanProposition reads one proposition row from a pgx.Row or pgx.Rows.
func scanProposition(row pgx.Row) (*model.Proposition, error) {
	var p model.Proposition
	var docsJSON []byte
	var extractedJSON, filledJSON, genJSON, editJSON, synthJSON *[]byte

	if err := row.Scan(&p.ID, &p.OrganizationID, &p.TemplateID, &p.ClientName, &docsJSON,
		&extractedJSON, &filledJSON, &p.Status, &p.ArtifactURL,
		&genJSON, &editJSON, &synthJSON, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(docsJSON, &p.SourceDocuments); err != nil {
		return nil, eris.Wrap(err, "unmarshal source documents")
	}
	if err := unmarshalIfSet(extractedJSON, &p.ExtractedData); err != nil {
		return nil, eris.Wrap(err, "unmarshal extracted data")
	}
	if err := unmarshalIfSet(filledJSON, &p.FilledData); err != nil {
		return nil, eris.Wrap(err, "unmarshal filled data")
	}
	if genJSON != nil {
		p.SuggestionsGen = &model.SuggestionBundle{}
		if err := json.Unmarshal(*genJSON, p.SuggestionsGen); err != nil {
			return nil, eris.Wrap(err, "unmarshal generated suggestions")
		}
	}
	if err := unmarshalIfSet(editJSON, &p.SuggestionsEdit); err != nil {
		return nil, eris.Wrap(err, "unmarshal edited suggestions")
	}
	if synthJSON != nil {
		p.SynthesisEdit = &model.Synthesis{}
		if err := json.Unmarshal(*synthJSON, p.SynthesisEdit); err != nil {
			return nil, eris.Wrap(err, "unmarshal edited synthesis")
		}
	}
	return &p, nil
}

func unmarshalIfSet[T any](raw *[]byte, dst *T) error {
	if raw == nil {
		return nil
	}
	return json.Unmarshal(*raw, dst)
}

func marshalOrNil(v any) ([]byte, error) {
	if isNil(v) {
		return nil, nil
	}
	return json.Marshal(v)
}

func isNil(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case map[string]any:
		return x == nil
	case []model.Suggestion:
		return x == nil
	case *model.SuggestionBundle:
		return x == nil
	case *model.Synthesis:
		return x == nil
	}
	return false
}

func orEmptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
