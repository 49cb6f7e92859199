// Package drift compares edited product-substitution suggestions against
// their machine-generated baseline. A suggestion whose product changed
// while its justification text stayed put is an unsynchronized edit: not an
// error, but something the user must see before final export.
package drift

import "github.com/propale/propale/internal/model"

// ModificationState summarizes how far the current suggestions have moved
// from the generated baseline.
type ModificationState struct {
	ProductsChanged       int  `json:"products_changed"`
	JustificationsChanged bool `json:"justifications_changed"`
	SynthesisChanged      bool `json:"synthesis_changed"`
	UnsyncedEdits         int  `json:"unsynced_edits"`
}

// NeedsWarning reports whether any suggestion's product changed without a
// matching justification update. Advisory only; never blocks export.
func (m ModificationState) NeedsWarning() bool {
	return m.UnsyncedEdits > 0
}

// Evaluate compares the current suggestions and synthesis against the
// generated baseline. Index misalignment is not an error: a current
// suggestion beyond the baseline's length simply has no original to
// compare against.
func Evaluate(original model.SuggestionBundle, current []model.Suggestion, synthesis model.Synthesis) ModificationState {
	var state ModificationState

	for i, cur := range current {
		if i >= len(original.Suggestions) {
			continue
		}
		base := original.Suggestions[i]
		productChanged := cur.ProposedProduct != base.ProposedProduct
		justificationChanged := cur.Justification != base.Justification

		if productChanged {
			state.ProductsChanged++
			if !justificationChanged {
				state.UnsyncedEdits++
			}
		}
		if justificationChanged {
			state.JustificationsChanged = true
		}
	}

	if synthesis.Text != original.Synthesis.Text ||
		synthesis.TotalMonthlySaving != original.Synthesis.TotalMonthlySaving ||
		!equalStrings(synthesis.Improvements, original.Synthesis.Improvements) {
		state.SynthesisChanged = true
	}

	return state
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
