package ledger

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebit(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	led := New(mock)

	mock.ExpectQuery(`UPDATE organizations SET credit_balance = GREATEST`).
		WithArgs(10.0, "org-1").
		WillReturnRows(pgxmock.NewRows([]string{"credit_balance"}).AddRow(90.0))

	balance, err := led.Debit(context.Background(), "org-1", 10)
	require.NoError(t, err)
	assert.Equal(t, 90.0, balance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDebitFloorsAtZero(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	led := New(mock)

	// The GREATEST expression floors server-side; the ledger just reports
	// the resulting balance without erroring.
	mock.ExpectQuery(`UPDATE organizations SET credit_balance = GREATEST`).
		WithArgs(500.0, "org-1").
		WillReturnRows(pgxmock.NewRows([]string{"credit_balance"}).AddRow(0.0))

	balance, err := led.Debit(context.Background(), "org-1", 500)
	require.NoError(t, err)
	assert.Equal(t, 0.0, balance)
}

func TestDebitNegativeAmount(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = New(mock).Debit(context.Background(), "org-1", -1)
	require.Error(t, err)

	var lerr *LedgerError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, "debit", lerr.Op)
	assert.Equal(t, "org-1", lerr.OrgID)
}

func TestCredit(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	led := New(mock)

	mock.ExpectQuery(`UPDATE organizations SET credit_balance = credit_balance \+`).
		WithArgs(115.0, "org-1").
		WillReturnRows(pgxmock.NewRows([]string{"credit_balance"}).AddRow(215.0))

	balance, err := led.Credit(context.Background(), "org-1", 115)
	require.NoError(t, err)
	assert.Equal(t, 215.0, balance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBonusTiers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		amount      float64
		wantPercent float64
		wantGranted float64
	}{
		{50, 0, 50},
		{99, 0, 99},
		{100, 0.05, 105},
		{249, 0.05, 261}, // 261.45 rounds down
		{250, 0.10, 275},
		{499, 0.10, 549}, // 548.9 rounds up
		{500, 0.15, 575},
		{999, 0.15, 1149}, // 1148.85 rounds up
		{1000, 0.20, 1200},
		{2500, 0.20, 3000},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.wantPercent, BonusPercent(tt.amount), "percent for %v", tt.amount)
		assert.Equal(t, tt.wantGranted, GrantedCredits(tt.amount), "granted for %v", tt.amount)
	}
}
