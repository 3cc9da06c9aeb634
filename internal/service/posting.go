package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/neoledger/internal/domain"
	"github.com/punchamoorthee/neoledger/internal/store"
)

const (
	peerSentDescription     = "P2P Transfer - Sent"
	peerReceivedDescription = "P2P Transfer - Received"
)

// postPeer writes the DEBIT and CREDIT legs of a peer transfer and moves both
// balances to the entries' balanceAfter values. Accounts must already be
// locked by tx.
func postPeer(ctx context.Context, tx store.Tx, txn domain.Transaction, from, to domain.Account, at time.Time) error {
	if from.ID == to.ID {
		return fmt.Errorf("peer posting needs two accounts, got %s twice", from.ID)
	}
	fromAfter := from.Balance.Sub(txn.Amount)
	toAfter := to.Balance.Add(txn.Amount)

	sent := describe(txn.Description, peerSentDescription)
	received := describe(txn.Description, peerReceivedDescription)

	legs := []domain.LedgerEntry{
		{ID: uuid.New(), AccountID: from.ID, TransactionID: txn.ID, Type: domain.EntryDebit,
			Amount: txn.Amount, BalanceAfter: fromAfter, Description: sent, CreatedAt: at},
		{ID: uuid.New(), AccountID: to.ID, TransactionID: txn.ID, Type: domain.EntryCredit,
			Amount: txn.Amount, BalanceAfter: toAfter, Description: received, CreatedAt: at},
	}
	for i := range legs {
		if err := tx.InsertLedgerEntry(ctx, &legs[i]); err != nil {
			return fmt.Errorf("ledger entry failed: %w", err)
		}
	}

	if err := tx.UpdateBalance(ctx, from.ID, fromAfter); err != nil {
		return fmt.Errorf("debit balance: %w", err)
	}
	if err := tx.UpdateBalance(ctx, to.ID, toAfter); err != nil {
		return fmt.Errorf("credit balance: %w", err)
	}
	return nil
}

// postExternal writes the single entry that settles an external transfer:
// CREDIT for a deposit, DEBIT for a withdrawal. acct must be locked by tx.
func postExternal(ctx context.Context, tx store.Tx, et domain.ExternalTransfer, txn domain.Transaction, acct domain.Account, at time.Time) (domain.Account, error) {
	entry := domain.LedgerEntry{
		ID:            uuid.New(),
		AccountID:     acct.ID,
		TransactionID: txn.ID,
		Amount:        et.Amount,
		Description:   describe(txn.Description, externalDescription(et.Direction)),
		CreatedAt:     at,
	}
	if et.Direction == domain.DirectionDeposit {
		entry.Type = domain.EntryCredit
		acct.Balance = acct.Balance.Add(et.Amount)
	} else {
		entry.Type = domain.EntryDebit
		acct.Balance = acct.Balance.Sub(et.Amount)
	}
	entry.BalanceAfter = acct.Balance

	if err := tx.InsertLedgerEntry(ctx, &entry); err != nil {
		return acct, fmt.Errorf("ledger entry failed: %w", err)
	}
	if err := tx.UpdateBalance(ctx, acct.ID, acct.Balance); err != nil {
		return acct, fmt.Errorf("update balance: %w", err)
	}
	return acct, nil
}

func externalDescription(d domain.Direction) string {
	if d == domain.DirectionDeposit {
		return "Transfer from linked account"
	}
	return "Transfer to linked account"
}

func describe(given, fallback string) string {
	if given != "" {
		return given
	}
	return fallback
}
