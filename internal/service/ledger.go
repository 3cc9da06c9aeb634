package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/punchamoorthee/neoledger/internal/domain"
	"github.com/punchamoorthee/neoledger/internal/store"
	"github.com/shopspring/decimal"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// Ledger serves read-side queries over balances and entries and audits the
// balance invariant.
type Ledger struct {
	store store.Store
	log   *log.Logger
}

func NewLedger(s store.Store, logger *log.Logger) *Ledger {
	if logger == nil {
		logger = log.Default()
	}
	return &Ledger{store: s, log: logger.With("component", "ledger")}
}

type Balance struct {
	AccountID uuid.UUID       `json:"account_id"`
	Balance   decimal.Decimal `json:"balance"`
	// Available excludes withdrawals submitted to the rail but not yet settled.
	Available decimal.Decimal `json:"available"`
	Currency  string          `json:"currency"`
}

func (l *Ledger) GetAccountBalance(ctx context.Context, accountID uuid.UUID) (Balance, error) {
	a, err := l.store.GetAccount(ctx, accountID)
	if err != nil {
		return Balance{}, err
	}
	held, err := l.store.SumHeldWithdrawals(ctx, accountID)
	if err != nil {
		return Balance{}, err
	}
	return Balance{AccountID: a.ID, Balance: a.Balance, Available: a.Balance.Sub(held), Currency: a.Currency}, nil
}

// Page selects entries after a sequence cursor.
type Page struct {
	Limit int
	After int64
}

type EntryPage struct {
	Entries    []domain.LedgerEntry `json:"entries"`
	NextCursor *int64               `json:"next_cursor,omitempty"`
	HasMore    bool                 `json:"has_more"`
}

// ListLedgerEntries returns an account's entries oldest first.
func (l *Ledger) ListLedgerEntries(ctx context.Context, accountID uuid.UUID, p Page) (EntryPage, error) {
	if _, err := l.store.GetAccount(ctx, accountID); err != nil {
		return EntryPage{}, err
	}
	limit := pageLimit(p.Limit)

	entries, err := l.store.ListLedgerEntries(ctx, accountID, p.After, limit+1)
	if err != nil {
		return EntryPage{}, err
	}
	page := EntryPage{Entries: entries}
	if len(entries) > limit {
		page.Entries = entries[:limit]
		page.HasMore = true
		next := page.Entries[limit-1].Sequence
		page.NextCursor = &next
	}
	if page.Entries == nil {
		page.Entries = []domain.LedgerEntry{}
	}
	return page, nil
}

type TransactionDetail struct {
	domain.Transaction
	Entries  []domain.LedgerEntry     `json:"entries"`
	External *domain.ExternalTransfer `json:"external_transfer,omitempty"`
}

func (l *Ledger) GetTransaction(ctx context.Context, id uuid.UUID) (TransactionDetail, error) {
	txn, err := l.store.GetTransaction(ctx, id)
	if err != nil {
		return TransactionDetail{}, err
	}
	return l.detail(ctx, txn)
}

func (l *Ledger) detail(ctx context.Context, txn domain.Transaction) (TransactionDetail, error) {
	entries, err := l.store.ListTransactionEntries(ctx, txn.ID)
	if err != nil {
		return TransactionDetail{}, err
	}
	d := TransactionDetail{Transaction: txn, Entries: entries}
	if d.Entries == nil {
		d.Entries = []domain.LedgerEntry{}
	}

	et, err := l.store.GetExternalTransferByTransaction(ctx, txn.ID)
	switch {
	case err == nil:
		d.External = &et
	case !errors.Is(err, domain.ErrNotFound):
		return TransactionDetail{}, err
	}
	return d, nil
}

// OffsetPage selects a window of a newest-first listing.
type OffsetPage struct {
	Limit  int
	Offset int
}

type TransactionPage struct {
	Transactions []TransactionDetail `json:"transactions"`
	Total        int                 `json:"total"`
	Limit        int                 `json:"limit"`
	Offset       int                 `json:"offset"`
	HasMore      bool                `json:"has_more"`
}

// ListTransactions returns the user's history, sent and received, newest
// first, each with its ledger entries.
func (l *Ledger) ListTransactions(ctx context.Context, userID uuid.UUID, f store.TransactionFilter, p OffsetPage) (TransactionPage, error) {
	limit := pageLimit(p.Limit)
	offset := max(p.Offset, 0)

	txns, total, err := l.store.ListTransactions(ctx, userID, f, offset, limit)
	if err != nil {
		return TransactionPage{}, err
	}
	page := TransactionPage{
		Transactions: make([]TransactionDetail, 0, len(txns)),
		Total:        total,
		Limit:        limit,
		Offset:       offset,
		HasMore:      offset+limit < total,
	}
	for _, txn := range txns {
		d, err := l.detail(ctx, txn)
		if err != nil {
			return TransactionPage{}, err
		}
		page.Transactions = append(page.Transactions, d)
	}
	return page, nil
}

func (l *Ledger) GetExternalTransfer(ctx context.Context, id uuid.UUID) (domain.ExternalTransfer, error) {
	return l.store.GetExternalTransfer(ctx, id)
}

// ListExternalTransfers returns the user's deposits and withdrawals, newest first.
func (l *Ledger) ListExternalTransfers(ctx context.Context, userID uuid.UUID, limit int) ([]domain.ExternalTransfer, error) {
	out, err := l.store.ListExternalTransfers(ctx, userID, pageLimit(limit))
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []domain.ExternalTransfer{}
	}
	return out, nil
}

func pageLimit(n int) int {
	if n <= 0 {
		return DefaultPageSize
	}
	return min(n, MaxPageSize)
}

// VerifyAccount checks that the stored balance equals credits minus debits
// and that the newest entry's balanceAfter agrees with it. Balance and
// entries are read under the account lock, which every posting also takes.
func (l *Ledger) VerifyAccount(ctx context.Context, accountID uuid.UUID) error {
	var (
		a      domain.Account
		totals domain.LedgerTotals
	)
	err := l.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		locked, err := tx.LockAccounts(ctx, accountID)
		if err != nil {
			return err
		}
		a = locked[accountID]
		totals, err = tx.LedgerTotals(ctx, accountID)
		return err
	})
	if err != nil {
		return err
	}

	var problem string
	switch {
	case !totals.Net().Equal(a.Balance):
		problem = fmt.Sprintf("balance %s but entries net %s", a.Balance, totals.Net())
	case totals.LastAfter != nil && !totals.LastAfter.Equal(a.Balance):
		problem = fmt.Sprintf("balance %s but last entry left %s", a.Balance, *totals.LastAfter)
	case totals.LastAfter == nil && !a.Balance.IsZero():
		problem = fmt.Sprintf("balance %s with no entries", a.Balance)
	}
	if problem == "" {
		return nil
	}

	integrityFailures.Inc()
	l.log.Error("ledger integrity violation", "account", accountID, "detail", problem, "entries", totals.Entries)
	return fmt.Errorf("%w: account %s: %s", domain.ErrIntegrity, accountID, problem)
}

// AuditReport summarises a VerifyAll run.
type AuditReport struct {
	Checked  int
	Failures []error
}

func (r AuditReport) OK() bool { return len(r.Failures) == 0 }

// VerifyAll audits every account. Integrity failures are collected; any
// other error stops the run.
func (l *Ledger) VerifyAll(ctx context.Context) (AuditReport, error) {
	ids, err := l.store.ListAccountIDs(ctx)
	if err != nil {
		return AuditReport{}, err
	}
	var rep AuditReport
	for _, id := range ids {
		err := l.VerifyAccount(ctx, id)
		rep.Checked++
		if errors.Is(err, domain.ErrIntegrity) {
			rep.Failures = append(rep.Failures, err)
			continue
		}
		if err != nil {
			return rep, err
		}
	}
	return rep, nil
}
