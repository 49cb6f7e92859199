// Package ledger holds the credit balance subsystem. Debits and credits are
// single atomic UPDATE expressions at the storage layer, so two concurrent
// exports for the same organization can never lose an update.
package ledger

import (
	"context"
	"math"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/propale/propale/internal/db"
)

// LedgerError marks a debit or credit failure that needs manual
// reconciliation. A failed debit after a successful export does not undo
// the export; it is logged and surfaced through this type.
type LedgerError struct {
	Op    string // "debit" or "credit"
	OrgID string
	Err   error
}

func (e *LedgerError) Error() string {
	return "ledger: " + e.Op + " failed for organization " + e.OrgID + ": " + e.Err.Error()
}

func (e *LedgerError) Unwrap() error { return e.Err }

// Ledger performs atomic balance mutations against the organizations table.
type Ledger struct {
	pool db.Pool
}

// New creates a Ledger over a database pool.
func New(pool db.Pool) *Ledger {
	return &Ledger{pool: pool}
}

// Debit subtracts amount from the organization's balance, flooring at zero.
// The business rule is "let the document through, then flag the
// organization as under-funded", so an insufficient balance is not an
// error; the resulting balance is simply 0.
func (l *Ledger) Debit(ctx context.Context, orgID string, amount float64) (float64, error) {
	if amount < 0 {
		return 0, &LedgerError{Op: "debit", OrgID: orgID, Err: eris.Errorf("negative amount %f", amount)}
	}
	var balance float64
	err := l.pool.QueryRow(ctx,
		`UPDATE organizations SET credit_balance = GREATEST(0, credit_balance - $1), updated_at = now()
		 WHERE id = $2 RETURNING credit_balance`,
		amount, orgID,
	).Scan(&balance)
	if err != nil {
		return 0, &LedgerError{Op: "debit", OrgID: orgID, Err: err}
	}
	if balance == 0 {
		zap.L().Warn("organization under-funded after debit",
			zap.String("organization_id", orgID),
			zap.Float64("amount", amount),
		)
	}
	return balance, nil
}

// Credit adds amount to the organization's balance. No ceiling, no floor.
func (l *Ledger) Credit(ctx context.Context, orgID string, amount float64) (float64, error) {
	if amount < 0 {
		return 0, &LedgerError{Op: "credit", OrgID: orgID, Err: eris.Errorf("negative amount %f", amount)}
	}
	var balance float64
	err := l.pool.QueryRow(ctx,
		`UPDATE organizations SET credit_balance = credit_balance + $1, updated_at = now()
		 WHERE id = $2 RETURNING credit_balance`,
		amount, orgID,
	).Scan(&balance)
	if err != nil {
		return 0, &LedgerError{Op: "credit", OrgID: orgID, Err: err}
	}
	return balance, nil
}

// bonusTiers maps purchase thresholds to bonus percentages. Lower bounds
// are inclusive: a purchase of exactly 500 earns 15%, a purchase of 999
// stays at 15%.
var bonusTiers = []struct {
	threshold float64
	percent   float64
}{
	{1000, 0.20},
	{500, 0.15},
	{250, 0.10},
	{100, 0.05},
}

// BonusPercent returns the purchase bonus percentage for a given amount.
func BonusPercent(amount float64) float64 {
	for _, t := range bonusTiers {
		if amount >= t.threshold {
			return t.percent
		}
	}
	return 0
}

// GrantedCredits computes base amount plus tier bonus, rounded to the
// nearest whole unit.
func GrantedCredits(amount float64) float64 {
	return math.Round(amount * (1 + BonusPercent(amount)))
}
