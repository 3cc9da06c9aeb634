//go:build integration
// +build integration

package seed_test

import (
	"context"
	"testing"
	"time"

	"github.com/punchamoorthee/neoledger/internal/logging"
	"github.com/punchamoorthee/neoledger/internal/seed"
	"github.com/punchamoorthee/neoledger/internal/service"
	"github.com/punchamoorthee/neoledger/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestLoadIsBalancedAndIdempotent(t *testing.T) {
	ctx := context.Background()
	pgContainer, err := postgres.Run(ctx,
		"postgres:alpine",
		postgres.WithDatabase("ledger"),
		postgres.WithUsername("ledger"),
		postgres.WithPassword("ledger"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgContainer.Terminate(ctx) })

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	s, err := store.NewStore(ctx, connStr, store.Options{})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	require.NoError(t, s.Migrate(ctx))

	plan := seed.Plan{Users: 25, OpeningBalance: decimal.RequireFromString("100.00"), Links: true}
	res, err := seed.Load(ctx, s.Db, plan, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(25), res["accounts"])
	assert.Equal(t, int64(25), res["ledger_entries"])

	again, err := seed.Load(ctx, s.Db, plan, time.Now())
	require.NoError(t, err)
	assert.Empty(t, again)

	acct, err := s.GetAccount(ctx, seed.AccountID(3))
	require.NoError(t, err)
	assert.True(t, acct.Balance.Equal(decimal.NewFromInt(100)))

	rep, err := service.NewLedger(s, logging.Discard()).VerifyAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 25, rep.Checked)
	assert.True(t, rep.OK(), "%v", rep.Failures)
}
