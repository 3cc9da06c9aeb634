package service

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/neoledger/internal/domain"
	"github.com/punchamoorthee/neoledger/internal/rail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withdraw(t *testing.T, e *env, u domain.User, link domain.ExternalAccount, amount string) ExternalResult {
	t.Helper()
	res, err := e.exec.InitiateExternalTransfer(e.ctx, ExternalTransferRequest{
		UserID: u.ID, ExternalAccountID: link.ID, Amount: dec(amount), Direction: domain.DirectionWithdrawal,
	})
	require.NoError(t, err)
	return res
}

func TestWithdrawalSettlesOnceWhenPosted(t *testing.T) {
	e := newEnv(t)
	u, a := e.customer("alice")
	e.fund(a, "500.00")
	link := e.link(u, domain.LinkVerified)

	res := withdraw(t, e, u, link, "200.00")
	assert.Equal(t, domain.TxProcessing, res.Status)
	assert.Equal(t, domain.ExtProcessing, res.TransferStatus)
	require.NotNil(t, res.ExternalTransferID)
	require.NotEmpty(t, res.RailTransferID)

	// Nothing is posted at initiation, but the amount is held.
	assertDecimal(t, "500.00", e.balance(a))
	assert.Len(t, e.entries(a), 1)
	bal, err := e.ledger.GetAccountBalance(e.ctx, a.ID)
	require.NoError(t, err)
	assertDecimal(t, "300.00", bal.Available)

	posted := Notification{RailTransferID: res.RailTransferID, Status: rail.StatusPosted}
	outcome, err := e.rec.Reconcile(e.ctx, posted)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	outcome, err = e.rec.Reconcile(e.ctx, posted)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)

	assertDecimal(t, "300.00", e.balance(a))
	entries := e.entries(a)
	require.Len(t, entries, 2)
	assert.Equal(t, domain.EntryDebit, entries[1].Type)
	assertDecimal(t, "200.00", entries[1].Amount)
	assertDecimal(t, "300.00", entries[1].BalanceAfter)

	txn, err := e.ledger.GetTransaction(e.ctx, res.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.TxCompleted, txn.Status)
	require.NotNil(t, txn.External)
	assert.Equal(t, domain.ExtCompleted, txn.External.Status)
	e.assertBalanced()
}

func TestReturnedAfterPostedIsDropped(t *testing.T) {
	e := newEnv(t)
	u, a := e.customer("alice")
	e.fund(a, "500.00")
	link := e.link(u, domain.LinkVerified)
	res := withdraw(t, e, u, link, "200.00")

	_, err := e.rec.Reconcile(e.ctx, Notification{RailTransferID: res.RailTransferID, Status: rail.StatusPosted})
	require.NoError(t, err)

	for _, late := range []rail.Status{rail.StatusReturned, rail.StatusPending, rail.StatusFailed} {
		outcome, err := e.rec.Reconcile(e.ctx, Notification{RailTransferID: res.RailTransferID, Status: late, FailureReason: "R01"})
		require.NoError(t, err)
		assert.Equal(t, OutcomeAnomaly, outcome, "status %s", late)
	}

	et, err := e.ledger.GetExternalTransfer(e.ctx, *res.ExternalTransferID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExtCompleted, et.Status)
	assert.Nil(t, et.FailureReason)
	assertDecimal(t, "300.00", e.balance(a))
	assert.Contains(t, e.logs.String(), "dropped")
}

func TestFailedDepositLeavesBalanceAlone(t *testing.T) {
	e := newEnv(t)
	u, a := e.customer("alice")
	link := e.link(u, domain.LinkVerified)

	res, err := e.exec.InitiateExternalTransfer(e.ctx, ExternalTransferRequest{
		UserID: u.ID, ExternalAccountID: link.ID, Amount: dec("75.00"), Direction: domain.DirectionDeposit,
	})
	require.NoError(t, err)

	outcome, err := e.rec.Reconcile(e.ctx, Notification{RailTransferID: res.RailTransferID, Status: rail.StatusFailed, FailureReason: "account closed"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	outcome, err = e.rec.Reconcile(e.ctx, Notification{RailTransferID: res.RailTransferID, Status: rail.StatusPosted})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAnomaly, outcome)

	assertDecimal(t, "0", e.balance(a))
	assert.Empty(t, e.entries(a))

	txn, err := e.ledger.GetTransaction(e.ctx, res.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.TxFailed, txn.Status)
	assert.Equal(t, "account closed", txn.Metadata["failure_reason"])
	require.NotNil(t, txn.External.FailureReason)
	assert.Equal(t, "account closed", *txn.External.FailureReason)
}

func TestCancelledAndReturnedMapping(t *testing.T) {
	e := newEnv(t)
	u, a := e.customer("alice")
	e.fund(a, "100.00")
	link := e.link(u, domain.LinkVerified)

	cancelled := withdraw(t, e, u, link, "10.00")
	returned := withdraw(t, e, u, link, "20.00")

	_, err := e.rec.Reconcile(e.ctx, Notification{RailTransferID: cancelled.RailTransferID, Status: rail.StatusCancelled})
	require.NoError(t, err)
	_, err = e.rec.Reconcile(e.ctx, Notification{RailTransferID: returned.RailTransferID, Status: rail.StatusReturned})
	require.NoError(t, err)

	c, err := e.ledger.GetExternalTransfer(e.ctx, *cancelled.ExternalTransferID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExtFailed, c.Status)

	r, err := e.ledger.GetExternalTransfer(e.ctx, *returned.ExternalTransferID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExtReturned, r.Status)

	bal, err := e.ledger.GetAccountBalance(e.ctx, a.ID)
	require.NoError(t, err)
	assertDecimal(t, "100.00", bal.Balance)
	assertDecimal(t, "100.00", bal.Available)
}

func TestUnknownRailTransferIsDropped(t *testing.T) {
	e := newEnv(t)
	outcome, err := e.rec.Reconcile(e.ctx, Notification{RailTransferID: "tr_missing", Status: rail.StatusPosted})
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnknown, outcome)
	assert.Contains(t, e.logs.String(), "tr_missing")
}

func TestImmediateSettlementCompletesDeposit(t *testing.T) {
	e := newEnv(t, withSettlement(ImmediateSettlement{}))
	u, a := e.customer("alice")
	link := e.link(u, domain.LinkVerified)

	res, err := e.exec.InitiateExternalTransfer(e.ctx, ExternalTransferRequest{
		UserID: u.ID, ExternalAccountID: link.ID, Amount: dec("120.00"), Direction: domain.DirectionDeposit,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TxCompleted, res.Status)
	assert.Equal(t, domain.ExtCompleted, res.TransferStatus)
	assertDecimal(t, "120.00", e.balance(a))

	// A late "posted" from the rail must not credit twice.
	outcome, err := e.rec.Reconcile(e.ctx, Notification{RailTransferID: res.RailTransferID, Status: rail.StatusPosted})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	assertDecimal(t, "120.00", e.balance(a))
	e.assertBalanced()
}

func TestReceiptStatusIsFollowed(t *testing.T) {
	e := newEnv(t)
	u, a := e.customer("alice")
	link := e.link(u, domain.LinkVerified)

	e.sandbox.Answer = rail.StatusPosted
	res, err := e.exec.InitiateExternalTransfer(e.ctx, ExternalTransferRequest{
		UserID: u.ID, ExternalAccountID: link.ID, Amount: dec("80.00"), Direction: domain.DirectionDeposit,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TxCompleted, res.Status)
	assert.Equal(t, domain.ExtCompleted, res.TransferStatus)
	assertDecimal(t, "80.00", e.balance(a))
	require.Len(t, e.entries(a), 1)

	outcome, err := e.rec.Reconcile(e.ctx, Notification{RailTransferID: res.RailTransferID, Status: rail.StatusPosted})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.Len(t, e.entries(a), 1)

	e.sandbox.Answer = rail.StatusFailed
	failed := withdraw(t, e, u, link, "30.00")
	assert.Equal(t, domain.TxFailed, failed.Status)
	assert.Equal(t, domain.ExtFailed, failed.TransferStatus)
	assert.Equal(t, "rail reported failed", failed.FailureReason)
	assertDecimal(t, "80.00", e.balance(a))

	bal, err := e.ledger.GetAccountBalance(e.ctx, a.ID)
	require.NoError(t, err)
	assertDecimal(t, "80.00", bal.Available)
	e.assertBalanced()
}

func TestRailRejectionRecordsFailedTransaction(t *testing.T) {
	e := newEnv(t)
	u, a := e.customer("alice")
	e.fund(a, "1000.00")
	link := e.link(u, domain.LinkVerified)
	limit := dec("100")
	e.sandbox.DeclineAbove = &limit

	req := ExternalTransferRequest{UserID: u.ID, ExternalAccountID: link.ID, Amount: dec("150.00"),
		Direction: domain.DirectionWithdrawal, IdempotencyKey: "wd-1"}
	res, err := e.exec.InitiateExternalTransfer(e.ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.TxFailed, res.Status)
	assert.Equal(t, string(domain.ReasonRailRejected), res.FailureReason)
	assert.Nil(t, res.ExternalTransferID)

	again, err := e.exec.InitiateExternalTransfer(e.ctx, req)
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, res.TransactionID, again.TransactionID)

	_, err = e.ledger.GetTransaction(e.ctx, res.TransactionID)
	require.NoError(t, err)
	bal, err := e.ledger.GetAccountBalance(e.ctx, a.ID)
	require.NoError(t, err)
	assertDecimal(t, "1000.00", bal.Available)
	assert.Empty(t, e.sandbox.Submissions())
}

func TestRailTimeoutRollsBack(t *testing.T) {
	e := newEnv(t, func(o *envOptions) { o.railTimeout = 20 * time.Millisecond })
	u, a := e.customer("alice")
	e.fund(a, "1000.00")
	link := e.link(u, domain.LinkVerified)
	e.sandbox.Delay = time.Second

	res, err := e.exec.InitiateExternalTransfer(e.ctx, ExternalTransferRequest{
		UserID: u.ID, ExternalAccountID: link.ID, Amount: dec("50.00"), Direction: domain.DirectionWithdrawal,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TxFailed, res.Status)
	assert.Equal(t, string(domain.ReasonRailTimeout), res.FailureReason)

	_, err = e.store.GetExternalTransferByTransaction(e.ctx, res.TransactionID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assertDecimal(t, "1000.00", e.balance(a))
}

func TestExternalTransferRejections(t *testing.T) {
	e := newEnv(t)
	u, a := e.customer("alice")
	e.fund(a, "100.00")
	other, _ := e.customer("bob")

	pending := e.link(u, domain.LinkPending)
	foreign := e.link(other, domain.LinkVerified)
	verified := e.link(u, domain.LinkVerified)

	tests := []struct {
		name      string
		link      uuid.UUID
		amount    string
		direction domain.Direction
		want      domain.RejectionReason
	}{
		{"link not verified", pending.ID, "10", domain.DirectionDeposit, domain.ReasonExternalAccountNotVerified},
		{"someone else's link", foreign.ID, "10", domain.DirectionDeposit, domain.ReasonExternalAccountNotVerified},
		{"unknown link", uuid.New(), "10", domain.DirectionDeposit, domain.ReasonExternalAccountNotVerified},
		{"withdraw over balance", verified.ID, "100.01", domain.DirectionWithdrawal, domain.ReasonInsufficientFunds},
		{"deposit over ceiling", verified.ID, "10000.01", domain.DirectionDeposit, domain.ReasonExceedsTransferLimit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.exec.InitiateExternalTransfer(e.ctx, ExternalTransferRequest{
				UserID: u.ID, ExternalAccountID: tt.link, Amount: dec(tt.amount), Direction: tt.direction,
			})
			requireRejection(t, err, tt.want)
		})
	}
	assert.Empty(t, e.sandbox.Submissions())
}

func TestHeldWithdrawalReducesAvailableForPeer(t *testing.T) {
	e := newEnv(t)
	u, a := e.customer("alice")
	_, b := e.customer("bob")
	e.fund(a, "100.00")
	link := e.link(u, domain.LinkVerified)

	withdraw(t, e, u, link, "80.00")

	_, err := e.exec.InitiatePeerTransfer(e.ctx, PeerTransferRequest{SenderID: u.ID, RecipientIdentifier: b.AccountNumber, Amount: dec("30.00")})
	requireRejection(t, err, domain.ReasonInsufficientFunds)

	_, err = e.exec.InitiatePeerTransfer(e.ctx, PeerTransferRequest{SenderID: u.ID, RecipientIdentifier: b.AccountNumber, Amount: dec("20.00")})
	require.NoError(t, err)
}
