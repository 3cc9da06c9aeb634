package service

import (
	"regexp"
	"testing"

	"github.com/google/uuid"
	"github.com/punchamoorthee/neoledger/internal/domain"
	"github.com/punchamoorthee/neoledger/internal/rail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAccountNumber(t *testing.T) {
	digits := regexp.MustCompile(`^\d{13}$`)
	for range 50 {
		assert.Regexp(t, digits, GenerateAccountNumber(testNow))
	}
}

func TestOpenAccount(t *testing.T) {
	e := newEnv(t)
	u := e.user("alice", domain.KYCVerified)

	acct, err := e.accounts.Open(e.ctx, u.ID, domain.ClassChecking, "")
	require.NoError(t, err)
	assert.Equal(t, domain.AccountActive, acct.Status)
	assert.Equal(t, domain.DefaultCurrency, acct.Currency)
	assert.Equal(t, RoutingNumber, acct.RoutingNumber)
	assert.True(t, acct.Balance.IsZero())

	_, err = e.accounts.Open(e.ctx, u.ID, domain.ClassSavings, "USD")
	assert.ErrorIs(t, err, domain.ErrAccountExists)

	_, err = e.accounts.Open(e.ctx, uuid.New(), domain.ClassChecking, "USD")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = e.accounts.Open(e.ctx, u.ID, domain.AccountClass("BROKERAGE"), "USD")
	assert.Error(t, err)
}

func TestAccountLifecycle(t *testing.T) {
	e := newEnv(t)
	u := e.user("alice", domain.KYCVerified)
	acct, err := e.accounts.Open(e.ctx, u.ID, domain.ClassChecking, "USD")
	require.NoError(t, err)

	frozen, err := e.accounts.Freeze(e.ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AccountFrozen, frozen.Status)

	_, err = e.accounts.Freeze(e.ctx, acct.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	active, err := e.accounts.Unfreeze(e.ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AccountActive, active.Status)

	e.fund(acct, "1")
	_, err = e.accounts.Close(e.ctx, acct.ID)
	assert.ErrorIs(t, err, domain.ErrNonZeroBalance)

	got, err := e.accounts.Get(e.ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AccountActive, got.Status)
}

func TestCloseThenReopen(t *testing.T) {
	e := newEnv(t)
	u := e.user("alice", domain.KYCVerified)
	acct, err := e.accounts.Open(e.ctx, u.ID, domain.ClassChecking, "USD")
	require.NoError(t, err)

	closed, err := e.accounts.Close(e.ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AccountClosed, closed.Status)

	_, err = e.accounts.Close(e.ctx, acct.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = e.accounts.Unfreeze(e.ctx, acct.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	next, err := e.accounts.Open(e.ctx, u.ID, domain.ClassChecking, "USD")
	require.NoError(t, err)
	assert.NotEqual(t, acct.ID, next.ID)
}

func TestUnfreezeRefusedWhenAnotherAccountIsActive(t *testing.T) {
	e := newEnv(t)
	u := e.user("alice", domain.KYCVerified)
	old, err := e.accounts.Open(e.ctx, u.ID, domain.ClassChecking, "USD")
	require.NoError(t, err)
	_, err = e.accounts.Freeze(e.ctx, old.ID)
	require.NoError(t, err)

	_, err = e.accounts.Open(e.ctx, u.ID, domain.ClassSavings, "USD")
	require.NoError(t, err)

	_, err = e.accounts.Unfreeze(e.ctx, old.ID)
	assert.ErrorIs(t, err, domain.ErrAccountExists)

	got, err := e.accounts.Get(e.ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AccountFrozen, got.Status)
}

func TestCloseWaitsForExternalTransfers(t *testing.T) {
	e := newEnv(t)
	u, a := e.customer("alice")
	link := e.link(u, domain.LinkVerified)

	res, err := e.exec.InitiateExternalTransfer(e.ctx, ExternalTransferRequest{
		UserID: u.ID, ExternalAccountID: link.ID, Amount: dec("25.00"), Direction: domain.DirectionDeposit,
	})
	require.NoError(t, err)
	require.Equal(t, domain.TxProcessing, res.Status)

	_, err = e.accounts.Close(e.ctx, a.ID)
	assert.ErrorIs(t, err, domain.ErrTransfersInFlight)

	_, err = e.rec.Reconcile(e.ctx, Notification{RailTransferID: res.RailTransferID, Status: rail.StatusFailed})
	require.NoError(t, err)

	closed, err := e.accounts.Close(e.ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AccountClosed, closed.Status)
}
