package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from PropositionStatus
		to   PropositionStatus
		want bool
	}{
		{StatusDraft, StatusProcessing, true},
		{StatusDraft, StatusError, true},
		{StatusDraft, StatusReady, false},
		{StatusDraft, StatusExported, false},
		{StatusProcessing, StatusReady, true},
		{StatusProcessing, StatusExported, false},
		{StatusReady, StatusExported, true},
		{StatusReady, StatusDraft, false},
		{StatusError, StatusReady, true},
		{StatusError, StatusDraft, false},
		{StatusExported, StatusExported, true},
		{StatusExported, StatusReady, false},
		{StatusExported, StatusError, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"_to_"+string(tt.to), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestGenerationDataPrecedence(t *testing.T) {
	t.Parallel()

	p := &Proposition{
		ExtractedData: map[string]any{"client_name": "Acme", "siret": "123"},
		FilledData:    map[string]any{"client_name": "Acme Corp"},
	}

	data := p.GenerationData()
	assert.Equal(t, "Acme Corp", data["client_name"], "edited value wins over extracted")
	assert.Equal(t, "123", data["siret"])
}

func TestHasNonEmptyMappedField(t *testing.T) {
	t.Parallel()

	p := &Proposition{
		ExtractedData: map[string]any{"client_name": "", "siret": nil, "total": 42.0},
	}

	assert.False(t, p.HasNonEmptyMappedField([]string{"client_name", "siret"}))
	assert.True(t, p.HasNonEmptyMappedField([]string{"siret", "total"}))
	assert.False(t, p.HasNonEmptyMappedField([]string{"unknown"}))

	// No field keys: any non-empty value counts.
	assert.True(t, p.HasNonEmptyMappedField(nil))
	empty := &Proposition{ExtractedData: map[string]any{"a": "", "b": nil}}
	assert.False(t, empty.HasNonEmptyMappedField(nil))
}

func TestHasData(t *testing.T) {
	t.Parallel()

	assert.False(t, (&Proposition{}).HasData())
	assert.True(t, (&Proposition{FilledData: map[string]any{"k": "v"}}).HasData())
	assert.True(t, (&Proposition{ExtractedData: map[string]any{"k": "v"}}).HasData())
}
