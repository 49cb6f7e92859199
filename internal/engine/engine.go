// Package engine drives a proposition from draft to export: data intake,
// filler dispatch, artifact persistence, the export-once state transition
// and the matching credit debit.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/propale/propale/internal/drift"
	"github.com/propale/propale/internal/extract"
	"github.com/propale/propale/internal/filler"
	"github.com/propale/propale/internal/model"
	"github.com/propale/propale/internal/retention"
	"github.com/propale/propale/internal/storage"
	"github.com/propale/propale/internal/store"
)

// Sentinel errors surfaced to the HTTP layer.
var (
	ErrNotFound      = eris.New("engine: not found")
	ErrNoTemplate    = eris.New("engine: proposition has no template")
	ErrNotReady      = eris.New("engine: proposition is not ready for generation")
	ErrTemplateLimit = eris.New("engine: organization template limit reached")
	ErrForeignOwner  = eris.New("engine: template belongs to another organization")
)

// CreditLedger is the slice of the ledger the engine needs.
type CreditLedger interface {
	Debit(ctx context.Context, orgID string, amount float64) (float64, error)
}

// Config tunes engine behavior.
type Config struct {
	RetentionKeep    int    `yaml:"retention_keep" mapstructure:"retention_keep"`
	ExtractionModel  string `yaml:"extraction_model" mapstructure:"extraction_model"`
	ExtractionPrompt string `yaml:"extraction_prompt" mapstructure:"extraction_prompt"`
}

// Engine wires the pipeline's collaborators together.
type Engine struct {
	store     store.Store
	blobs     storage.Storage
	ledger    CreditLedger
	extractor extract.Extractor
	retention *retention.Policy
	cfg       Config
}

// New creates an Engine.
func New(st store.Store, blobs storage.Storage, ledger CreditLedger, extractor extract.Extractor, cfg Config) *Engine {
	if cfg.RetentionKeep <= 0 {
		cfg.RetentionKeep = 20
	}
	return &Engine{
		store:     st,
		blobs:     blobs,
		ledger:    ledger,
		extractor: extractor,
		retention: retention.New(st, blobs),
		cfg:       cfg,
	}
}

// CreateDraft creates a new draft proposition, enforcing the retention
// window first so storage growth stays bounded. A retention failure is
// logged, never fatal: the policy is opportunistic.
func (e *Engine) CreateDraft(ctx context.Context, orgID string, templateID *string, clientName string) (*model.Proposition, error) {
	org, err := e.store.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if org == nil {
		return nil, ErrNotFound
	}

	if _, err := e.retention.Enforce(ctx, orgID, e.cfg.RetentionKeep); err != nil {
		zap.L().Warn("retention enforcement failed before draft creation",
			zap.String("organization_id", orgID),
			zap.Error(err),
		)
	}

	if templateID != nil {
		tpl, err := e.store.GetTemplate(ctx, *templateID)
		if err != nil {
			return nil, err
		}
		if tpl == nil {
			return nil, ErrNotFound
		}
		if tpl.OrganizationID != nil && *tpl.OrganizationID != orgID {
			return nil, ErrForeignOwner
		}
	}

	return e.store.CreateProposition(ctx, model.Proposition{
		OrganizationID: orgID,
		TemplateID:     templateID,
		ClientName:     clientName,
		Status:         model.StatusDraft,
	})
}

// Patch carries partial proposition updates; nil fields are untouched.
type Patch struct {
	ClientName      *string        `json:"client_name,omitempty"`
	SourceDocuments []string       `json:"source_documents,omitempty"`
	ExtractedData   map[string]any `json:"extracted_data,omitempty"`
	FilledData      map[string]any `json:"filled_data,omitempty"`
}

// UpdateProposition applies a patch and advances the state machine when the
// data now supports it (draft -> processing once data exists, processing ->
// ready once a mapped field is non-empty).
func (e *Engine) UpdateProposition(ctx context.Context, id string, patch Patch) (*model.Proposition, error) {
	p, err := e.store.GetProposition(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrNotFound
	}

	if patch.ClientName != nil {
		p.ClientName = *patch.ClientName
	}
	if patch.SourceDocuments != nil {
		p.SourceDocuments = patch.SourceDocuments
	}
	if patch.ExtractedData != nil {
		p.ExtractedData = patch.ExtractedData
	}
	if patch.FilledData != nil {
		p.FilledData = patch.FilledData
	}

	if err := e.store.SaveProposition(ctx, p); err != nil {
		return nil, err
	}
	if err := e.advance(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// UpdateSuggestions stores the edited suggestion set and returns the drift
// evaluation against the generated baseline, so callers can surface the
// unsynchronized-edit warning before export.
func (e *Engine) UpdateSuggestions(ctx context.Context, id string, edited []model.Suggestion, synthesis *model.Synthesis) (*model.Proposition, drift.ModificationState, error) {
	p, err := e.store.GetProposition(ctx, id)
	if err != nil {
		return nil, drift.ModificationState{}, err
	}
	if p == nil {
		return nil, drift.ModificationState{}, ErrNotFound
	}

	p.SuggestionsEdit = edited
	p.SynthesisEdit = synthesis
	if err := e.store.SaveProposition(ctx, p); err != nil {
		return nil, drift.ModificationState{}, err
	}

	return p, e.EvaluateSuggestionDrift(p), nil
}

// EvaluateSuggestionDrift compares a proposition's edited suggestions
// against its generated baseline. Advisory only.
func (e *Engine) EvaluateSuggestionDrift(p *model.Proposition) drift.ModificationState {
	var baseline model.SuggestionBundle
	if p.SuggestionsGen != nil {
		baseline = *p.SuggestionsGen
	}
	var synthesis model.Synthesis
	if p.SynthesisEdit != nil {
		synthesis = *p.SynthesisEdit
	} else {
		synthesis = baseline.Synthesis
	}
	return drift.Evaluate(baseline, p.SuggestionsEdit, synthesis)
}

// ExtractData invokes the AI extraction collaborator on the proposition's
// source documents. Failures move the proposition to error; re-invoking
// retries.
func (e *Engine) ExtractData(ctx context.Context, id string) (*model.Proposition, error) {
	p, err := e.store.GetProposition(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrNotFound
	}
	tpl, err := e.templateFor(ctx, p)
	if err != nil {
		return nil, err
	}
	if tpl == nil {
		return nil, ErrNoTemplate
	}

	if p.Status == model.StatusDraft {
		if _, err := e.store.Transition(ctx, id, model.StatusDraft, model.StatusProcessing); err != nil {
			return nil, err
		}
		p.Status = model.StatusProcessing
	}

	data, err := e.extractor.Extract(ctx, p.SourceDocuments, tpl.Config.FieldKeys(), e.cfg.ExtractionPrompt, e.cfg.ExtractionModel)
	if err != nil {
		e.markError(ctx, p)
		return nil, err
	}

	p.ExtractedData = data
	if err := e.store.SaveProposition(ctx, p); err != nil {
		return nil, err
	}
	if err := e.advance(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// GenerateResult is the outcome of one generation run.
type GenerateResult struct {
	FileURL string  `json:"file_url"`
	Debited bool    `json:"debited"`
	Balance float64 `json:"balance,omitempty"`
}

// Generate runs the full pipeline: mapping lookup, filler dispatch, blob
// persistence, the export-once transition and the credit debit. Exactly one
// of any number of concurrent calls wins the ready -> exported transition
// and debits; the rest regenerate without debiting. A failed debit after a
// persisted artifact is logged for reconciliation, never undone.
func (e *Engine) Generate(ctx context.Context, id string) (*GenerateResult, error) {
	p, err := e.store.GetProposition(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrNotFound
	}
	tpl, err := e.templateFor(ctx, p)
	if err != nil {
		return nil, err
	}
	if tpl == nil {
		return nil, ErrNoTemplate
	}
	if tpl.FileType != tpl.Config.FileType {
		return nil, eris.Errorf("engine: template %s declares %s but its config targets %s", tpl.ID, tpl.FileType, tpl.Config.FileType)
	}
	if err := tpl.Config.Validate(); err != nil {
		return nil, err
	}

	switch p.Status {
	case model.StatusReady, model.StatusExported:
	case model.StatusError:
		// Retry path: recover the proposition before exporting again.
		ok, err := e.store.Transition(ctx, id, model.StatusError, model.StatusReady)
		if err != nil {
			return nil, err
		}
		if ok {
			p.Status = model.StatusReady
		}
	default:
		return nil, ErrNotReady
	}

	org, err := e.store.GetOrganization(ctx, p.OrganizationID)
	if err != nil {
		return nil, err
	}
	if org == nil {
		return nil, ErrNotFound
	}

	reExport := p.Status == model.StatusExported

	templateBin, err := e.blobs.Download(ctx, tpl.FileKey)
	if err != nil {
		e.markError(ctx, p)
		return nil, err
	}

	eng, err := filler.For(tpl.FileType)
	if err != nil {
		e.markError(ctx, p)
		return nil, err
	}

	filled, err := eng.Fill(ctx, templateBin, tpl.Config, p.GenerationData())
	if err != nil {
		e.markError(ctx, p)
		return nil, err
	}

	key := artifactKey(p, tpl.FileType)
	url, err := e.blobs.Upload(ctx, key, filled, contentTypeFor(tpl.FileType))
	if err != nil {
		e.markError(ctx, p)
		return nil, err
	}
	if err := e.store.SetArtifactURL(ctx, id, url); err != nil {
		e.markError(ctx, p)
		return nil, err
	}

	result := &GenerateResult{FileURL: url}
	if !reExport {
		won, err := e.store.Transition(ctx, id, model.StatusReady, model.StatusExported)
		if err != nil {
			return nil, err
		}
		if won {
			balance, err := e.ledger.Debit(ctx, org.ID, org.Tariff)
			if err != nil {
				// Deliberate trade-off: the customer keeps the document they
				// already received; the missed debit goes to reconciliation.
				zap.L().Error("debit failed after successful export; manual reconciliation required",
					zap.String("proposition_id", id),
					zap.String("organization_id", org.ID),
					zap.Float64("tariff", org.Tariff),
					zap.Error(err),
				)
			} else {
				result.Debited = true
				result.Balance = balance
			}
		}
	}

	zap.L().Info("proposition generated",
		zap.String("proposition_id", id),
		zap.String("file_type", string(tpl.FileType)),
		zap.Bool("re_export", reExport),
		zap.Bool("debited", result.Debited),
	)
	return result, nil
}

// DeleteProposition removes a proposition and cascades to every blob it
// references. Blob failures are logged and skipped; the row deletion is
// what counts.
func (e *Engine) DeleteProposition(ctx context.Context, id string) error {
	p, err := e.store.GetProposition(ctx, id)
	if err != nil {
		return err
	}
	if p == nil {
		return ErrNotFound
	}
	if _, err := e.store.DeletePropositions(ctx, []string{id}); err != nil {
		return err
	}

	keys := append([]string(nil), p.SourceDocuments...)
	if p.ArtifactURL != "" {
		keys = append(keys, e.blobs.KeyFromURL(p.ArtifactURL))
	}
	for _, key := range keys {
		if key == "" {
			continue
		}
		if err := e.blobs.Delete(ctx, key); err != nil {
			zap.L().Warn("blob deletion failed during proposition delete",
				zap.String("proposition_id", id),
				zap.String("key", key),
				zap.Error(err),
			)
		}
	}
	return nil
}

// GetProposition loads one proposition.
func (e *Engine) GetProposition(ctx context.Context, id string) (*model.Proposition, error) {
	p, err := e.store.GetProposition(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrNotFound
	}
	return p, nil
}

// CreateTemplate validates the mapping config and enforces the per-org
// template cap before persisting.
func (e *Engine) CreateTemplate(ctx context.Context, tpl model.PropositionTemplate) (*model.PropositionTemplate, error) {
	if tpl.FileType != tpl.Config.FileType {
		return nil, eris.Errorf("engine: template declares %s but its config targets %s", tpl.FileType, tpl.Config.FileType)
	}
	if err := tpl.Config.Validate(); err != nil {
		return nil, err
	}
	if tpl.OrganizationID != nil {
		count, err := e.store.CountTemplates(ctx, *tpl.OrganizationID)
		if err != nil {
			return nil, err
		}
		if count >= model.MaxTemplatesPerOrg {
			return nil, ErrTemplateLimit
		}
	}
	return e.store.CreateTemplate(ctx, tpl)
}

// TestTemplate runs the template's filler against placeholder data so
// configuration errors (wrong worksheet, non-form PDF) surface at test time
// instead of at generation time. Success promotes a draft template to
// tested.
func (e *Engine) TestTemplate(ctx context.Context, templateID string) error {
	tpl, err := e.store.GetTemplate(ctx, templateID)
	if err != nil {
		return err
	}
	if tpl == nil {
		return ErrNotFound
	}
	if err := tpl.Config.Validate(); err != nil {
		return err
	}

	templateBin, err := e.blobs.Download(ctx, tpl.FileKey)
	if err != nil {
		return err
	}
	eng, err := filler.For(tpl.FileType)
	if err != nil {
		return err
	}

	sample := make(map[string]any)
	for _, key := range tpl.Config.FieldKeys() {
		sample[key] = "[" + key + "]"
	}
	if _, err := eng.Fill(ctx, templateBin, tpl.Config, sample); err != nil {
		return err
	}

	if tpl.Status == model.TemplateStatusDraft {
		return e.store.UpdateTemplateStatus(ctx, templateID, model.TemplateStatusTested)
	}
	return nil
}

// templateFor loads the proposition's template, or nil when it has none.
func (e *Engine) templateFor(ctx context.Context, p *model.Proposition) (*model.PropositionTemplate, error) {
	if p.TemplateID == nil {
		return nil, nil
	}
	return e.store.GetTemplate(ctx, *p.TemplateID)
}

// advance moves the proposition forward when its data supports it.
func (e *Engine) advance(ctx context.Context, p *model.Proposition) error {
	if p.Status == model.StatusDraft && p.HasData() {
		ok, err := e.store.Transition(ctx, p.ID, model.StatusDraft, model.StatusProcessing)
		if err != nil {
			return err
		}
		if ok {
			p.Status = model.StatusProcessing
		}
	}
	if p.Status == model.StatusProcessing {
		var keys []string
		tpl, err := e.templateFor(ctx, p)
		if err != nil {
			return err
		}
		if tpl != nil {
			keys = tpl.Config.FieldKeys()
		}
		if p.HasNonEmptyMappedField(keys) {
			ok, err := e.store.Transition(ctx, p.ID, model.StatusProcessing, model.StatusReady)
			if err != nil {
				return err
			}
			if ok {
				p.Status = model.StatusReady
			}
		}
	}
	return nil
}

// markError moves the proposition to error, best-effort: generation must
// never leave a proposition stuck in processing.
func (e *Engine) markError(ctx context.Context, p *model.Proposition) {
	ok, err := e.store.Transition(ctx, p.ID, p.Status, model.StatusError)
	if err != nil || !ok {
		zap.L().Warn("failed to mark proposition as errored",
			zap.String("proposition_id", p.ID),
			zap.String("from", string(p.Status)),
			zap.Error(err),
		)
		return
	}
	p.Status = model.StatusError
}

func artifactKey(p *model.Proposition, ft model.FileType) string {
	return fmt.Sprintf("propositions/%s/proposal-%d.%s", p.ID, time.Now().UTC().Unix(), extensionFor(ft))
}

func extensionFor(ft model.FileType) string {
	switch ft {
	case model.FileTypeExcel:
		return "xlsx"
	case model.FileTypeWord:
		return "docx"
	default:
		return "pdf"
	}
}

func contentTypeFor(ft model.FileType) string {
	switch ft {
	case model.FileTypeExcel:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case model.FileTypeWord:
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	default:
		return "application/pdf"
	}
}
