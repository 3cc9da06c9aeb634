package seed

import (
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentifiersAreStable(t *testing.T) {
	assert.Equal(t, UserID(7), UserID(7))
	assert.NotEqual(t, UserID(7), UserID(8))
	assert.NotEqual(t, UserID(7), AccountID(7))
	assert.Equal(t, "user0042@seed.local", Email(42))
	assert.Len(t, AccountNumber(123456), 13)
}

func TestBuildFundsEveryAccount(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rows := Build(Plan{Users: 3, OpeningBalance: decimal.RequireFromString("100.00"), Links: true}, at)

	require.Len(t, rows.Users, 3)
	require.Len(t, rows.Accounts, 3)
	require.Len(t, rows.Links, 3)
	require.Len(t, rows.Transactions, 3)
	require.Len(t, rows.Entries, 3)

	for i, row := range rows.Accounts {
		assert.Equal(t, AccountID(i), row[0])
		assert.Equal(t, UserID(i), row[1])
		assert.Len(t, row, len(copies[1].columns))
	}
	for _, c := range copies {
		for _, row := range c.rows(rows) {
			assert.Len(t, row, len(c.columns), c.table)
		}
	}

	bal := rows.Accounts[0][7].(pgtype.Numeric)
	entryAfter := rows.Entries[0][5].(pgtype.Numeric)
	assert.Equal(t, bal, entryAfter)
	assert.Equal(t, int64(10000), bal.Int.Int64())
	assert.Equal(t, int32(-2), bal.Exp)
}

func TestBuildUnfunded(t *testing.T) {
	rows := Build(Plan{Users: 2}, time.Now())
	assert.Len(t, rows.Accounts, 2)
	assert.Empty(t, rows.Transactions)
	assert.Empty(t, rows.Entries)
	assert.Empty(t, rows.Links)
}
