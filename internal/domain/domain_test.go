package domain

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactionStatusMovesForwardOnly(t *testing.T) {
	tests := []struct {
		from, to TransactionStatus
		want     bool
	}{
		{TxPending, TxProcessing, true},
		{TxPending, TxCompleted, true},
		{TxPending, TxCancelled, true},
		{TxProcessing, TxCompleted, true},
		{TxProcessing, TxFailed, true},
		{TxProcessing, TxPending, false},
		{TxProcessing, TxProcessing, false},
		{TxCompleted, TxFailed, false},
		{TxFailed, TxCompleted, false},
		{TxCancelled, TxPending, false},
		{TransactionStatus("BOGUS"), TxCompleted, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestExternalStatusMapsOntoTransaction(t *testing.T) {
	assert.Equal(t, TxCompleted, ExtCompleted.TransactionStatus())
	assert.Equal(t, TxFailed, ExtFailed.TransactionStatus())
	assert.Equal(t, TxFailed, ExtReturned.TransactionStatus())
	assert.Equal(t, TxProcessing, ExtProcessing.TransactionStatus())

	assert.True(t, ExtReturned.Terminal())
	assert.False(t, ExtProcessing.Terminal())
}

func TestValidAmount(t *testing.T) {
	assert.True(t, ValidAmount(decimal.RequireFromString("30.00"), "USD"))
	assert.True(t, ValidAmount(decimal.RequireFromString("0.01"), "USD"))
	assert.False(t, ValidAmount(decimal.RequireFromString("0.001"), "USD"))
	assert.False(t, ValidAmount(decimal.Zero, "USD"))
	assert.False(t, ValidAmount(decimal.RequireFromString("-5"), "USD"))
	assert.False(t, ValidAmount(decimal.RequireFromString("1.5"), "JPY"))
	assert.Equal(t, "30.00", FormatAmount(decimal.NewFromInt(30), "USD"))
}

func TestRejectionUnwraps(t *testing.T) {
	err := fmt.Errorf("peer transfer: %w", Reject(ReasonInsufficientFunds, "available %s", "10.00"))

	r, ok := AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, ReasonInsufficientFunds, r.Reason)
	assert.Equal(t, "INSUFFICIENT_FUNDS: available 10.00", r.Error())

	_, ok = AsRejection(ErrNotFound)
	assert.False(t, ok)
}

func TestLedgerTotalsNet(t *testing.T) {
	totals := LedgerTotals{Credits: decimal.NewFromInt(100), Debits: decimal.NewFromInt(30)}
	assert.True(t, totals.Net().Equal(decimal.NewFromInt(70)))

	debit := LedgerEntry{Type: EntryDebit, Amount: decimal.NewFromInt(30)}
	assert.True(t, debit.Signed().Equal(decimal.NewFromInt(-30)))
}
