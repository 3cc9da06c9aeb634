package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/punchamoorthee/neoledger/internal/domain"
	"github.com/punchamoorthee/neoledger/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListLedgerEntriesPages(t *testing.T) {
	e := newEnv(t)
	_, a := e.customer("alice")
	for _, amt := range []string{"1", "2", "3", "4", "5"} {
		e.fund(a, amt)
	}

	var (
		seen  []string
		after int64
		pages int
	)
	for {
		page, err := e.ledger.ListLedgerEntries(e.ctx, a.ID, Page{Limit: 2, After: after})
		require.NoError(t, err)
		pages++
		for _, en := range page.Entries {
			seen = append(seen, en.Amount.String())
		}
		if !page.HasMore {
			assert.Nil(t, page.NextCursor)
			break
		}
		require.NotNil(t, page.NextCursor)
		after = *page.NextCursor
	}
	assert.Equal(t, 3, pages)
	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, seen)
}

func TestListLedgerEntriesEmptyAndMissing(t *testing.T) {
	e := newEnv(t)
	_, a := e.customer("alice")

	page, err := e.ledger.ListLedgerEntries(e.ctx, a.ID, Page{})
	require.NoError(t, err)
	assert.NotNil(t, page.Entries)
	assert.Empty(t, page.Entries)
	assert.False(t, page.HasMore)

	_, err = e.ledger.ListLedgerEntries(e.ctx, uuid.New(), Page{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = e.ledger.GetTransaction(e.ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGetTransactionIncludesLegs(t *testing.T) {
	e := newEnv(t)
	u, a := e.customer("alice")
	_, b := e.customer("bob")
	e.fund(a, "50")

	res, err := e.exec.InitiatePeerTransfer(e.ctx, PeerTransferRequest{SenderID: u.ID, RecipientIdentifier: b.AccountNumber, Amount: dec("20")})
	require.NoError(t, err)

	d, err := e.ledger.GetTransaction(e.ctx, res.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.TypePeerTransfer, d.Type)
	require.Len(t, d.Entries, 2)
	assert.Nil(t, d.External)

	types := map[domain.EntryType]uuid.UUID{}
	for _, en := range d.Entries {
		types[en.Type] = en.AccountID
	}
	assert.Equal(t, a.ID, types[domain.EntryDebit])
	assert.Equal(t, b.ID, types[domain.EntryCredit])
}

func TestVerifyAccountDetectsDrift(t *testing.T) {
	e := newEnv(t)
	_, a := e.customer("alice")
	_, b := e.customer("bob")
	e.fund(a, "100")
	e.fund(b, "10")
	require.NoError(t, e.ledger.VerifyAccount(e.ctx, a.ID))

	// An entry written without moving the balance.
	require.NoError(t, e.store.WithinTx(e.ctx, func(ctx context.Context, tx store.Tx) error {
		txn := domain.Transaction{
			ID: uuid.New(), UserID: a.UserID, ToAccountID: &a.ID, Amount: dec("5"), Currency: "USD",
			Type: domain.TypeExternalCredit, Status: domain.TxCompleted, IdempotencyKey: uuid.NewString(),
			RequestHash: "fixture", CreatedAt: testNow, UpdatedAt: testNow,
		}
		if err := tx.InsertTransaction(ctx, &txn); err != nil {
			return err
		}
		return tx.InsertLedgerEntry(ctx, &domain.LedgerEntry{
			ID: uuid.New(), AccountID: a.ID, TransactionID: txn.ID, Type: domain.EntryCredit,
			Amount: dec("5"), BalanceAfter: dec("105"), CreatedAt: testNow,
		})
	}))

	err := e.ledger.VerifyAccount(e.ctx, a.ID)
	assert.ErrorIs(t, err, domain.ErrIntegrity)
	assert.Contains(t, e.logs.String(), "ledger integrity violation")

	rep, err := e.ledger.VerifyAll(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Checked)
	assert.False(t, rep.OK())
	require.Len(t, rep.Failures, 1)
	assert.ErrorIs(t, rep.Failures[0], domain.ErrIntegrity)
}

func TestBalanceAvailable(t *testing.T) {
	e := newEnv(t)
	_, a := e.customer("alice")
	e.fund(a, "42.50")

	bal, err := e.ledger.GetAccountBalance(e.ctx, a.ID)
	require.NoError(t, err)
	assertDecimal(t, "42.50", bal.Balance)
	assertDecimal(t, "42.50", bal.Available)
	assert.Equal(t, "USD", bal.Currency)
}

func TestListTransactionsCoversSentAndReceived(t *testing.T) {
	e := newEnv(t)
	alice, a := e.customer("alice")
	bob, b := e.customer("bob")
	e.fund(a, "100")
	e.fund(b, "100")

	sent, err := e.exec.InitiatePeerTransfer(e.ctx, PeerTransferRequest{SenderID: alice.ID, RecipientIdentifier: b.AccountNumber, Amount: dec("10")})
	require.NoError(t, err)
	received, err := e.exec.InitiatePeerTransfer(e.ctx, PeerTransferRequest{SenderID: bob.ID, RecipientIdentifier: a.AccountNumber, Amount: dec("4")})
	require.NoError(t, err)

	page, err := e.ledger.ListTransactions(e.ctx, alice.ID, store.TransactionFilter{}, OffsetPage{})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, DefaultPageSize, page.Limit)
	assert.False(t, page.HasMore)
	require.Len(t, page.Transactions, 3)
	got := map[uuid.UUID]int{}
	for _, d := range page.Transactions {
		got[d.ID] = len(d.Entries)
	}
	assert.Equal(t, 2, got[sent.TransactionID])
	assert.Equal(t, 2, got[received.TransactionID])

	peer, err := e.ledger.ListTransactions(e.ctx, alice.ID, store.TransactionFilter{Type: domain.TypePeerTransfer}, OffsetPage{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, peer.Total)
	assert.True(t, peer.HasMore)
	require.Len(t, peer.Transactions, 1)

	rest, err := e.ledger.ListTransactions(e.ctx, alice.ID, store.TransactionFilter{Type: domain.TypePeerTransfer}, OffsetPage{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.False(t, rest.HasMore)
	require.Len(t, rest.Transactions, 1)
	assert.NotEqual(t, peer.Transactions[0].ID, rest.Transactions[0].ID)

	stranger, err := e.ledger.ListTransactions(e.ctx, uuid.New(), store.TransactionFilter{}, OffsetPage{})
	require.NoError(t, err)
	assert.Zero(t, stranger.Total)
	assert.NotNil(t, stranger.Transactions)
}

func TestListExternalTransfers(t *testing.T) {
	e := newEnv(t)
	u, a := e.customer("alice")
	other, _ := e.customer("bob")
	e.fund(a, "300")
	link := e.link(u, domain.LinkVerified)

	first := withdraw(t, e, u, link, "10.00")
	second := withdraw(t, e, u, link, "20.00")

	list, err := e.ledger.ListExternalTransfers(e.ctx, u.ID, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	ids := []uuid.UUID{list[0].ID, list[1].ID}
	assert.ElementsMatch(t, []uuid.UUID{*first.ExternalTransferID, *second.ExternalTransferID}, ids)

	one, err := e.ledger.ListExternalTransfers(e.ctx, u.ID, 1)
	require.NoError(t, err)
	assert.Len(t, one, 1)

	none, err := e.ledger.ListExternalTransfers(e.ctx, other.ID, 0)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestVerifyAccountWhileTransfersRun(t *testing.T) {
	e := newEnv(t)
	alice, a := e.customer("alice")
	_, b := e.customer("bob")
	e.fund(a, "1000")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 50 {
			_, err := e.exec.InitiatePeerTransfer(e.ctx, PeerTransferRequest{SenderID: alice.ID, RecipientIdentifier: b.AccountNumber, Amount: dec("1")})
			if err != nil {
				return
			}
		}
	}()

	for {
		require.NoError(t, e.ledger.VerifyAccount(e.ctx, a.ID))
		select {
		case <-done:
			require.NoError(t, e.ledger.VerifyAccount(e.ctx, a.ID))
			assertDecimal(t, "950", e.balance(a))
			return
		default:
		}
	}
}
