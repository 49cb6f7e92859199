package model

// Suggestion is one line-item product substitution proposed to the client.
type Suggestion struct {
	CurrentProduct  string  `json:"current_product"`
	ProposedProduct string  `json:"proposed_product"`
	CurrentPrice    float64 `json:"current_price"`
	ProposedPrice   float64 `json:"proposed_price"`
	MonthlySaving   float64 `json:"monthly_saving"`
	Justification   string  `json:"justification"`
}

// Synthesis aggregates a suggestion list: total savings plus a bullet list
// of improvements.
type Synthesis struct {
	TotalMonthlySaving float64  `json:"total_monthly_saving"`
	Improvements       []string `json:"improvements,omitempty"`
	Text               string   `json:"text,omitempty"`
}

// SuggestionBundle pairs machine-generated suggestions with their synthesis.
// It is the baseline the drift tracker compares edits against.
type SuggestionBundle struct {
	Suggestions []Suggestion `json:"suggestions"`
	Synthesis   Synthesis    `json:"synthesis"`
}
