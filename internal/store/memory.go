package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/neoledger/internal/domain"
	"github.com/shopspring/decimal"
)

var (
	_ Store = (*Memory)(nil)
	_ Store = (*Postgres)(nil)
)

// Memory is an in-process Store. Units of work are serialized by a single
// mutex; each runs against a private copy of the state that replaces the
// committed state only when the unit succeeds. Committed states are never
// mutated, so reads outside a unit work on a snapshot and do not wait for
// a running unit.
type Memory struct {
	mu      sync.Mutex
	stateMu sync.RWMutex
	state   *memState
	clock   func() time.Time
}

func NewMemory() *Memory {
	return &Memory{state: newMemState(), clock: time.Now}
}

type memState struct {
	users        map[uuid.UUID]domain.User
	emails       map[string]uuid.UUID
	accounts     map[uuid.UUID]domain.Account
	numbers      map[string]uuid.UUID
	extAccounts  map[uuid.UUID]domain.ExternalAccount
	transactions map[uuid.UUID]domain.Transaction
	keys         map[string]uuid.UUID
	entries      []domain.LedgerEntry
	entryKeys    map[string]bool
	seq          int64
	transfers    map[uuid.UUID]domain.ExternalTransfer
	railIDs      map[string]uuid.UUID
	byTxn        map[uuid.UUID]uuid.UUID
}

func newMemState() *memState {
	return &memState{
		users:        map[uuid.UUID]domain.User{},
		emails:       map[string]uuid.UUID{},
		accounts:     map[uuid.UUID]domain.Account{},
		numbers:      map[string]uuid.UUID{},
		extAccounts:  map[uuid.UUID]domain.ExternalAccount{},
		transactions: map[uuid.UUID]domain.Transaction{},
		keys:         map[string]uuid.UUID{},
		entryKeys:    map[string]bool{},
		transfers:    map[uuid.UUID]domain.ExternalTransfer{},
		railIDs:      map[string]uuid.UUID{},
		byTxn:        map[uuid.UUID]uuid.UUID{},
	}
}

func (s *memState) clone() *memState {
	return &memState{
		users:        maps.Clone(s.users),
		emails:       maps.Clone(s.emails),
		accounts:     maps.Clone(s.accounts),
		numbers:      maps.Clone(s.numbers),
		extAccounts:  maps.Clone(s.extAccounts),
		transactions: maps.Clone(s.transactions),
		keys:         maps.Clone(s.keys),
		entries:      s.entries[:len(s.entries):len(s.entries)],
		entryKeys:    maps.Clone(s.entryKeys),
		seq:          s.seq,
		transfers:    maps.Clone(s.transfers),
		railIDs:      maps.Clone(s.railIDs),
		byTxn:        maps.Clone(s.byTxn),
	}
}

func (m *Memory) snapshot() *memState {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.state
}

func (m *Memory) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	work := &memTx{memState: m.snapshot().clone(), now: m.clock}
	if err := fn(ctx, work); err != nil {
		return err
	}
	m.stateMu.Lock()
	m.state = work.memState
	m.stateMu.Unlock()
	return nil
}

// Reads outside a unit of work.

func (m *Memory) GetUser(ctx context.Context, id uuid.UUID) (domain.User, error) {
	return m.snapshot().GetUser(ctx, id)
}

func (m *Memory) FindUserByEmail(ctx context.Context, email string) (domain.User, error) {
	return m.snapshot().FindUserByEmail(ctx, email)
}

func (m *Memory) GetAccount(ctx context.Context, id uuid.UUID) (domain.Account, error) {
	return m.snapshot().GetAccount(ctx, id)
}

func (m *Memory) FindAccountByNumber(ctx context.Context, number string) (domain.Account, error) {
	return m.snapshot().FindAccountByNumber(ctx, number)
}

func (m *Memory) ListAccountsByUser(ctx context.Context, userID uuid.UUID) ([]domain.Account, error) {
	return m.snapshot().ListAccountsByUser(ctx, userID)
}

func (m *Memory) ListAccountIDs(ctx context.Context) ([]uuid.UUID, error) {
	return m.snapshot().ListAccountIDs(ctx)
}

func (m *Memory) GetExternalAccount(ctx context.Context, id uuid.UUID) (domain.ExternalAccount, error) {
	return m.snapshot().GetExternalAccount(ctx, id)
}

func (m *Memory) GetTransaction(ctx context.Context, id uuid.UUID) (domain.Transaction, error) {
	return m.snapshot().GetTransaction(ctx, id)
}

func (m *Memory) GetTransactionByIdempotencyKey(ctx context.Context, key string) (domain.Transaction, error) {
	return m.snapshot().GetTransactionByIdempotencyKey(ctx, key)
}

func (m *Memory) ListTransactions(ctx context.Context, userID uuid.UUID, f TransactionFilter, offset, limit int) ([]domain.Transaction, int, error) {
	return m.snapshot().ListTransactions(ctx, userID, f, offset, limit)
}

func (m *Memory) SumInitiatedSince(ctx context.Context, userID uuid.UUID, since time.Time) (decimal.Decimal, error) {
	return m.snapshot().SumInitiatedSince(ctx, userID, since)
}

func (m *Memory) SumHeldWithdrawals(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error) {
	return m.snapshot().SumHeldWithdrawals(ctx, accountID)
}

func (m *Memory) RecentPeerRecipients(ctx context.Context, userID uuid.UUID, limit int) ([]uuid.UUID, error) {
	return m.snapshot().RecentPeerRecipients(ctx, userID, limit)
}

func (m *Memory) ListLedgerEntries(ctx context.Context, accountID uuid.UUID, afterSeq int64, limit int) ([]domain.LedgerEntry, error) {
	return m.snapshot().ListLedgerEntries(ctx, accountID, afterSeq, limit)
}

func (m *Memory) ListTransactionEntries(ctx context.Context, transactionID uuid.UUID) ([]domain.LedgerEntry, error) {
	return m.snapshot().ListTransactionEntries(ctx, transactionID)
}

func (m *Memory) LedgerTotals(ctx context.Context, accountID uuid.UUID) (domain.LedgerTotals, error) {
	return m.snapshot().LedgerTotals(ctx, accountID)
}

func (m *Memory) GetExternalTransfer(ctx context.Context, id uuid.UUID) (domain.ExternalTransfer, error) {
	return m.snapshot().GetExternalTransfer(ctx, id)
}

func (m *Memory) GetExternalTransferByTransaction(ctx context.Context, transactionID uuid.UUID) (domain.ExternalTransfer, error) {
	return m.snapshot().GetExternalTransferByTransaction(ctx, transactionID)
}

func (m *Memory) ListExternalTransfers(ctx context.Context, userID uuid.UUID, limit int) ([]domain.ExternalTransfer, error) {
	return m.snapshot().ListExternalTransfers(ctx, userID, limit)
}

func (m *Memory) CountInFlightExternalTransfers(ctx context.Context, accountID uuid.UUID) (int, error) {
	return m.snapshot().CountInFlightExternalTransfers(ctx, accountID)
}

func lookup[K comparable, V any](m map[K]V, k K) (V, error) {
	v, ok := m[k]
	if !ok {
		return v, domain.ErrNotFound
	}
	return v, nil
}

func (s *memState) GetUser(_ context.Context, id uuid.UUID) (domain.User, error) {
	return lookup(s.users, id)
}

func (s *memState) FindUserByEmail(_ context.Context, email string) (domain.User, error) {
	id, ok := s.emails[strings.ToLower(email)]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return lookup(s.users, id)
}

func (s *memState) GetAccount(_ context.Context, id uuid.UUID) (domain.Account, error) {
	return lookup(s.accounts, id)
}

func (s *memState) FindAccountByNumber(_ context.Context, number string) (domain.Account, error) {
	id, ok := s.numbers[number]
	if !ok {
		return domain.Account{}, domain.ErrNotFound
	}
	return lookup(s.accounts, id)
}

func (s *memState) ListAccountsByUser(_ context.Context, userID uuid.UUID) ([]domain.Account, error) {
	var out []domain.Account
	for _, a := range s.accounts {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	slices.SortFunc(out, func(a, b domain.Account) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	return out, nil
}

func (s *memState) ListAccountIDs(_ context.Context) ([]uuid.UUID, error) {
	return SortIDs(slices.Collect(maps.Keys(s.accounts))), nil
}

func (s *memState) GetExternalAccount(_ context.Context, id uuid.UUID) (domain.ExternalAccount, error) {
	return lookup(s.extAccounts, id)
}

func (s *memState) GetTransaction(_ context.Context, id uuid.UUID) (domain.Transaction, error) {
	return lookup(s.transactions, id)
}

func (s *memState) GetTransactionByIdempotencyKey(_ context.Context, key string) (domain.Transaction, error) {
	id, ok := s.keys[key]
	if !ok {
		return domain.Transaction{}, domain.ErrNotFound
	}
	return lookup(s.transactions, id)
}

func (s *memState) ListTransactions(_ context.Context, userID uuid.UUID, f TransactionFilter, offset, limit int) ([]domain.Transaction, int, error) {
	var matched []domain.Transaction
	for _, t := range s.transactions {
		mine := t.UserID == userID
		if !mine && t.ToAccountID != nil {
			mine = s.accounts[*t.ToAccountID].UserID == userID
		}
		if mine && f.match(t) {
			matched = append(matched, t)
		}
	}
	slices.SortFunc(matched, func(a, b domain.Transaction) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return bytes.Compare(b.ID[:], a.ID[:])
	})
	total := len(matched)
	if offset >= total {
		return nil, total, nil
	}
	matched = matched[offset:]
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, total, nil
}

func (s *memState) SumInitiatedSince(_ context.Context, userID uuid.UUID, since time.Time) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, t := range s.transactions {
		if t.UserID != userID || t.CreatedAt.Before(since) {
			continue
		}
		switch t.Type {
		case domain.TypePeerTransfer, domain.TypeExternalCredit, domain.TypeExternalDebit:
		default:
			continue
		}
		switch t.Status {
		case domain.TxPending, domain.TxProcessing, domain.TxCompleted:
			sum = sum.Add(t.Amount)
		}
	}
	return sum, nil
}

func (s *memState) SumHeldWithdrawals(_ context.Context, accountID uuid.UUID) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, et := range s.transfers {
		if et.AccountID != accountID || et.Direction != domain.DirectionWithdrawal {
			continue
		}
		if et.Status == domain.ExtPending || et.Status == domain.ExtProcessing {
			sum = sum.Add(et.Amount)
		}
	}
	return sum, nil
}

func (s *memState) RecentPeerRecipients(_ context.Context, userID uuid.UUID, limit int) ([]uuid.UUID, error) {
	latest := map[uuid.UUID]time.Time{}
	for _, t := range s.transactions {
		if t.UserID != userID || t.Type != domain.TypePeerTransfer || t.Status != domain.TxCompleted || t.ToAccountID == nil {
			continue
		}
		if at, ok := latest[*t.ToAccountID]; !ok || t.CreatedAt.After(at) {
			latest[*t.ToAccountID] = t.CreatedAt
		}
	}
	ids := slices.Collect(maps.Keys(latest))
	slices.SortFunc(ids, func(a, b uuid.UUID) int {
		return latest[b].Compare(latest[a])
	})
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (s *memState) ListLedgerEntries(_ context.Context, accountID uuid.UUID, afterSeq int64, limit int) ([]domain.LedgerEntry, error) {
	var out []domain.LedgerEntry
	for _, e := range s.entries {
		if e.AccountID != accountID || e.Sequence <= afterSeq {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memState) ListTransactionEntries(_ context.Context, transactionID uuid.UUID) ([]domain.LedgerEntry, error) {
	var out []domain.LedgerEntry
	for _, e := range s.entries {
		if e.TransactionID == transactionID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memState) LedgerTotals(_ context.Context, accountID uuid.UUID) (domain.LedgerTotals, error) {
	t := domain.LedgerTotals{Credits: decimal.Zero, Debits: decimal.Zero}
	for _, e := range s.entries {
		if e.AccountID != accountID {
			continue
		}
		if e.Type == domain.EntryCredit {
			t.Credits = t.Credits.Add(e.Amount)
		} else {
			t.Debits = t.Debits.Add(e.Amount)
		}
		t.Entries++
		last := e.BalanceAfter
		t.LastAfter = &last
	}
	return t, nil
}

func (s *memState) GetExternalTransfer(_ context.Context, id uuid.UUID) (domain.ExternalTransfer, error) {
	return lookup(s.transfers, id)
}

func (s *memState) GetExternalTransferByTransaction(_ context.Context, transactionID uuid.UUID) (domain.ExternalTransfer, error) {
	id, ok := s.byTxn[transactionID]
	if !ok {
		return domain.ExternalTransfer{}, domain.ErrNotFound
	}
	return lookup(s.transfers, id)
}

func (s *memState) ListExternalTransfers(_ context.Context, userID uuid.UUID, limit int) ([]domain.ExternalTransfer, error) {
	var out []domain.ExternalTransfer
	for _, et := range s.transfers {
		if et.UserID == userID {
			out = append(out, et)
		}
	}
	slices.SortFunc(out, func(a, b domain.ExternalTransfer) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return bytes.Compare(b.ID[:], a.ID[:])
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memState) CountInFlightExternalTransfers(_ context.Context, accountID uuid.UUID) (int, error) {
	n := 0
	for _, et := range s.transfers {
		if et.AccountID == accountID && (et.Status == domain.ExtPending || et.Status == domain.ExtProcessing) {
			n++
		}
	}
	return n, nil
}

// activeElsewhere mirrors the one-active-account-per-user index.
func (s *memState) activeElsewhere(userID, accountID uuid.UUID) bool {
	for _, a := range s.accounts {
		if a.UserID == userID && a.ID != accountID && a.Status == domain.AccountActive {
			return true
		}
	}
	return false
}

// memTx mutates a private copy of the state.
type memTx struct {
	*memState
	now func() time.Time
}

func (t *memTx) LockAccounts(_ context.Context, ids ...uuid.UUID) (map[uuid.UUID]domain.Account, error) {
	out := make(map[uuid.UUID]domain.Account, len(ids))
	for _, id := range SortIDs(ids) {
		a, ok := t.accounts[id]
		if !ok {
			return nil, fmt.Errorf("lock account %s: %w", id, domain.ErrNotFound)
		}
		out[id] = a
	}
	return out, nil
}

func (t *memTx) LockTransaction(ctx context.Context, id uuid.UUID) (domain.Transaction, error) {
	return t.GetTransaction(ctx, id)
}

func (t *memTx) LockExternalTransferByRailID(_ context.Context, railID string) (domain.ExternalTransfer, error) {
	id, ok := t.railIDs[railID]
	if !ok {
		return domain.ExternalTransfer{}, domain.ErrNotFound
	}
	return lookup(t.transfers, id)
}

func (t *memTx) InsertUser(_ context.Context, u *domain.User) error {
	email := strings.ToLower(u.Email)
	if _, ok := t.users[u.ID]; ok {
		return fmt.Errorf("%w: users_pkey", ErrDuplicate)
	}
	if _, ok := t.emails[email]; ok {
		return fmt.Errorf("%w: users_email_key", ErrDuplicate)
	}
	t.users[u.ID] = *u
	t.emails[email] = u.ID
	return nil
}

func (t *memTx) InsertAccount(_ context.Context, a *domain.Account) error {
	if _, ok := t.accounts[a.ID]; ok {
		return fmt.Errorf("%w: accounts_pkey", ErrDuplicate)
	}
	if _, ok := t.numbers[a.AccountNumber]; ok {
		return fmt.Errorf("%w: accounts_account_number_key", ErrDuplicate)
	}
	if _, ok := t.users[a.UserID]; !ok {
		return fmt.Errorf("account owner %s: %w", a.UserID, domain.ErrNotFound)
	}
	if a.Status == domain.AccountActive && t.activeElsewhere(a.UserID, a.ID) {
		return fmt.Errorf("%w: accounts_one_active_per_user", ErrDuplicate)
	}
	t.accounts[a.ID] = *a
	t.numbers[a.AccountNumber] = a.ID
	return nil
}

func (t *memTx) InsertExternalAccount(_ context.Context, a *domain.ExternalAccount) error {
	if _, ok := t.extAccounts[a.ID]; ok {
		return fmt.Errorf("%w: external_accounts_pkey", ErrDuplicate)
	}
	t.extAccounts[a.ID] = *a
	return nil
}

func (t *memTx) UpdateAccountStatus(_ context.Context, id uuid.UUID, status domain.AccountStatus) error {
	a, ok := t.accounts[id]
	if !ok {
		return domain.ErrNotFound
	}
	if status == domain.AccountActive && t.activeElsewhere(a.UserID, id) {
		return fmt.Errorf("%w: accounts_one_active_per_user", ErrDuplicate)
	}
	a.Status = status
	a.UpdatedAt = t.now()
	t.accounts[id] = a
	return nil
}

func (t *memTx) UpdateBalance(_ context.Context, id uuid.UUID, balance decimal.Decimal) error {
	a, ok := t.accounts[id]
	if !ok {
		return domain.ErrNotFound
	}
	a.Balance = balance
	a.UpdatedAt = t.now()
	t.accounts[id] = a
	return nil
}

func (t *memTx) InsertTransaction(_ context.Context, txn *domain.Transaction) error {
	if txn.FromAccountID == nil && txn.ToAccountID == nil {
		return errors.New("transaction has neither source nor destination account")
	}
	if _, ok := t.keys[txn.IdempotencyKey]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateIdempotencyKey, txn.IdempotencyKey)
	}
	if _, ok := t.transactions[txn.ID]; ok {
		return fmt.Errorf("%w: transactions_pkey", ErrDuplicate)
	}
	stored := *txn
	stored.Metadata = maps.Clone(txn.Metadata)
	t.transactions[txn.ID] = stored
	t.keys[txn.IdempotencyKey] = txn.ID
	return nil
}

func (t *memTx) UpdateTransactionStatus(_ context.Context, id uuid.UUID, status domain.TransactionStatus, meta map[string]any) error {
	txn, ok := t.transactions[id]
	if !ok {
		return domain.ErrNotFound
	}
	txn.Status = status
	txn.Metadata = mergeMeta(txn.Metadata, meta)
	txn.UpdatedAt = t.now()
	t.transactions[id] = txn
	return nil
}

func (t *memTx) InsertLedgerEntry(_ context.Context, e *domain.LedgerEntry) error {
	if !e.Amount.IsPositive() {
		return fmt.Errorf("ledger entry amount must be positive, got %s", e.Amount)
	}
	key := e.TransactionID.String() + "/" + e.AccountID.String() + "/" + string(e.Type)
	if t.entryKeys[key] {
		return fmt.Errorf("%w: ledger_entries_transaction_id_account_id_entry_type_key", ErrDuplicate)
	}
	t.seq++
	e.Sequence = t.seq
	t.entryKeys[key] = true
	t.entries = append(t.entries, *e)
	return nil
}

func (t *memTx) InsertExternalTransfer(_ context.Context, et *domain.ExternalTransfer) error {
	if _, ok := t.railIDs[et.RailTransferID]; ok {
		return fmt.Errorf("%w: external_transfers_rail_transfer_id_key", ErrDuplicate)
	}
	if _, ok := t.byTxn[et.TransactionID]; ok {
		return fmt.Errorf("%w: external_transfers_transaction_id_key", ErrDuplicate)
	}
	t.transfers[et.ID] = *et
	t.railIDs[et.RailTransferID] = et.ID
	t.byTxn[et.TransactionID] = et.ID
	return nil
}

func (t *memTx) UpdateExternalTransfer(_ context.Context, id uuid.UUID, status domain.ExternalTransferStatus, failureReason *string) error {
	et, ok := t.transfers[id]
	if !ok {
		return domain.ErrNotFound
	}
	et.Status = status
	if failureReason != nil {
		et.FailureReason = failureReason
	}
	et.UpdatedAt = t.now()
	t.transfers[id] = et
	return nil
}
