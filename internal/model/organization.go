package model

import "time"

// Organization owns the credit balance that generation debits against.
// The balance is only ever mutated through the ledger; nothing else in the
// codebase writes credit_balance directly.
type Organization struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	CreditBalance    float64   `json:"credit_balance"`
	Tariff           float64   `json:"tariff"` // credits debited per generated document
	BillingEmail     string    `json:"billing_email,omitempty"`
	StripeCustomerID string    `json:"stripe_customer_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}
