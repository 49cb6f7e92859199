package model

import "time"

// TransactionStatus tracks a payment-provider transaction.
type TransactionStatus string

const (
	TxPending   TransactionStatus = "pending"
	TxSucceeded TransactionStatus = "succeeded"
	TxFailed    TransactionStatus = "failed"
	TxRefunded  TransactionStatus = "refunded"
	TxCanceled  TransactionStatus = "canceled"
)

// StripeTransaction is the ledger audit record for one credit purchase.
// Rows are immutable once succeeded; EventID deduplicates webhook retries.
type StripeTransaction struct {
	ID             string            `json:"id"`
	OrganizationID string            `json:"organization_id"`
	SessionID      string            `json:"session_id"`
	EventID        string            `json:"event_id"`
	Amount         float64           `json:"amount"`
	CreditsGranted float64           `json:"credits_granted"` // amount plus tier bonus
	Status         TransactionStatus `json:"status"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}
