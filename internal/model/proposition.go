package model

import "time"

// PropositionStatus is the explicit lifecycle state of a proposition.
type PropositionStatus string

const (
	StatusDraft      PropositionStatus = "draft"
	StatusProcessing PropositionStatus = "processing"
	StatusReady      PropositionStatus = "ready"
	StatusExported   PropositionStatus = "exported"
	StatusError      PropositionStatus = "error"
)

// transitions is the validated transition table. Any state may move to
// error. error -> ready is the retry path: re-invoking generation on a
// failed proposition recovers it before exporting. exported -> exported
// covers accepted re-exports.
var transitions = map[PropositionStatus][]PropositionStatus{
	StatusDraft:      {StatusProcessing, StatusError},
	StatusProcessing: {StatusReady, StatusError},
	StatusReady:      {StatusExported, StatusError},
	StatusError:      {StatusReady, StatusError},
	StatusExported:   {StatusExported, StatusError},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to PropositionStatus) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Proposition is one commercial proposal moving from draft to export.
type Proposition struct {
	ID              string            `json:"id"`
	OrganizationID  string            `json:"organization_id"`
	TemplateID      *string           `json:"template_id,omitempty"`
	ClientName      string            `json:"client_name,omitempty"`
	SourceDocuments []string          `json:"source_documents,omitempty"` // blob storage keys, upload order preserved
	ExtractedData   map[string]any    `json:"extracted_data,omitempty"`
	FilledData      map[string]any    `json:"filled_data,omitempty"`
	Status          PropositionStatus `json:"statut"`
	ArtifactURL     string            `json:"duplicated_template_url,omitempty"`
	SuggestionsGen  *SuggestionBundle `json:"suggestions_generees,omitempty"`
	SuggestionsEdit []Suggestion      `json:"suggestions_editees,omitempty"`
	SynthesisEdit   *Synthesis        `json:"synthese_editee,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// GenerationData merges extracted and human-edited data, with edited values
// taking precedence. The result is what the fillers consume.
func (p *Proposition) GenerationData() map[string]any {
	data := make(map[string]any, len(p.ExtractedData)+len(p.FilledData))
	for k, v := range p.ExtractedData {
		data[k] = v
	}
	for k, v := range p.FilledData {
		data[k] = v
	}
	return data
}

// HasData reports whether any data record has been supplied or extracted.
func (p *Proposition) HasData() bool {
	return len(p.ExtractedData) > 0 || len(p.FilledData) > 0
}

// HasNonEmptyMappedField reports whether at least one of the given field
// keys resolves to a non-empty value. An empty fieldKeys slice falls back to
// "any non-empty value at all", for propositions without a template.
func (p *Proposition) HasNonEmptyMappedField(fieldKeys []string) bool {
	data := p.GenerationData()
	if len(fieldKeys) == 0 {
		for _, v := range data {
			if v != nil && v != "" {
				return true
			}
		}
		return false
	}
	for _, k := range fieldKeys {
		if v, ok := data[k]; ok && v != nil && v != "" {
			return true
		}
	}
	return false
}
