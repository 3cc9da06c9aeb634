// Package store persists accounts, transactions, ledger entries and external
// transfers. All mutations happen inside a unit of work obtained from
// Store.WithinTx; reads may run outside one.
package store

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/neoledger/internal/domain"
	"github.com/shopspring/decimal"
)

var (
	// ErrDuplicateIdempotencyKey is returned when a transaction with the same idempotency key already exists.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrDuplicate is returned for any other unique constraint violation.
	ErrDuplicate = errors.New("duplicate record")
)

// Reader holds the queries available both inside and outside a unit of work.
type Reader interface {
	GetUser(ctx context.Context, id uuid.UUID) (domain.User, error)
	FindUserByEmail(ctx context.Context, email string) (domain.User, error)

	GetAccount(ctx context.Context, id uuid.UUID) (domain.Account, error)
	FindAccountByNumber(ctx context.Context, number string) (domain.Account, error)
	ListAccountsByUser(ctx context.Context, userID uuid.UUID) ([]domain.Account, error)
	ListAccountIDs(ctx context.Context) ([]uuid.UUID, error)

	GetExternalAccount(ctx context.Context, id uuid.UUID) (domain.ExternalAccount, error)

	GetTransaction(ctx context.Context, id uuid.UUID) (domain.Transaction, error)
	GetTransactionByIdempotencyKey(ctx context.Context, key string) (domain.Transaction, error)
	// ListTransactions returns transactions the user initiated or received,
	// newest first, and how many match f in total.
	ListTransactions(ctx context.Context, userID uuid.UUID, f TransactionFilter, offset, limit int) ([]domain.Transaction, int, error)
	// SumInitiatedSince totals the user's transfers created at or after since
	// that are completed or still in flight.
	SumInitiatedSince(ctx context.Context, userID uuid.UUID, since time.Time) (decimal.Decimal, error)
	// SumHeldWithdrawals totals external withdrawals from the account that
	// have been submitted but not yet settled.
	SumHeldWithdrawals(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error)
	// RecentPeerRecipients returns destination accounts of the user's completed
	// peer transfers, most recent first, without duplicates.
	RecentPeerRecipients(ctx context.Context, userID uuid.UUID, limit int) ([]uuid.UUID, error)

	ListLedgerEntries(ctx context.Context, accountID uuid.UUID, afterSeq int64, limit int) ([]domain.LedgerEntry, error)
	ListTransactionEntries(ctx context.Context, transactionID uuid.UUID) ([]domain.LedgerEntry, error)
	LedgerTotals(ctx context.Context, accountID uuid.UUID) (domain.LedgerTotals, error)

	GetExternalTransfer(ctx context.Context, id uuid.UUID) (domain.ExternalTransfer, error)
	GetExternalTransferByTransaction(ctx context.Context, transactionID uuid.UUID) (domain.ExternalTransfer, error)
	// ListExternalTransfers returns the user's external transfers, newest first.
	ListExternalTransfers(ctx context.Context, userID uuid.UUID, limit int) ([]domain.ExternalTransfer, error)
	// CountInFlightExternalTransfers counts the account's transfers the rail has not settled.
	CountInFlightExternalTransfers(ctx context.Context, accountID uuid.UUID) (int, error)
}

// TransactionFilter narrows ListTransactions. Zero fields match everything;
// From and To are inclusive.
type TransactionFilter struct {
	Type   domain.TransactionType
	Status domain.TransactionStatus
	From   time.Time
	To     time.Time
}

func (f TransactionFilter) match(t domain.Transaction) bool {
	switch {
	case f.Type != "" && t.Type != f.Type:
		return false
	case f.Status != "" && t.Status != f.Status:
		return false
	case !f.From.IsZero() && t.CreatedAt.Before(f.From):
		return false
	case !f.To.IsZero() && t.CreatedAt.After(f.To):
		return false
	}
	return true
}

// Tx is a unit of work. Lock methods hold row locks until the unit ends.
type Tx interface {
	Reader

	// LockAccounts locks the given accounts in ascending id order.
	LockAccounts(ctx context.Context, ids ...uuid.UUID) (map[uuid.UUID]domain.Account, error)
	LockTransaction(ctx context.Context, id uuid.UUID) (domain.Transaction, error)
	LockExternalTransferByRailID(ctx context.Context, railID string) (domain.ExternalTransfer, error)

	InsertUser(ctx context.Context, u *domain.User) error
	InsertAccount(ctx context.Context, a *domain.Account) error
	InsertExternalAccount(ctx context.Context, a *domain.ExternalAccount) error
	UpdateAccountStatus(ctx context.Context, id uuid.UUID, status domain.AccountStatus) error
	UpdateBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal) error

	InsertTransaction(ctx context.Context, t *domain.Transaction) error
	// UpdateTransactionStatus sets the status and merges meta into the stored metadata.
	UpdateTransactionStatus(ctx context.Context, id uuid.UUID, status domain.TransactionStatus, meta map[string]any) error
	InsertLedgerEntry(ctx context.Context, e *domain.LedgerEntry) error

	InsertExternalTransfer(ctx context.Context, et *domain.ExternalTransfer) error
	UpdateExternalTransfer(ctx context.Context, id uuid.UUID, status domain.ExternalTransferStatus, failureReason *string) error
}

// Store opens units of work and serves reads.
type Store interface {
	Reader
	// WithinTx runs fn in a single atomic unit. Any error from fn rolls the
	// unit back. fn may run more than once if the backend retries conflicts.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// SortIDs returns ids in the order locks must be taken.
func SortIDs(ids []uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids))
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	slices.SortFunc(out, func(a, b uuid.UUID) int {
		return bytes.Compare(a[:], b[:])
	})
	return out
}

func mergeMeta(base, extra map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
