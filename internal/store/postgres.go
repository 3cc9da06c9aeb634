package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/punchamoorthee/neoledger/internal/domain"
	"github.com/shopspring/decimal"
)

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"

	idempotencyConstraint = "transactions_idempotency_key_key"
)

// Options tunes the Postgres store.
type Options struct {
	// MaxRetries bounds how often a unit of work is re-run after a
	// serialization failure or deadlock.
	MaxRetries int
	MaxConns   int32
}

// Postgres is the pgx-backed Store.
type Postgres struct {
	queries
	Db   *pgxpool.Pool
	opts Options
}

func NewStore(ctx context.Context, connString string, opts Options) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}
	if opts.MaxConns > 0 {
		config.MaxConns = opts.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Postgres{queries: queries{db: pool}, Db: pool, opts: opts}, nil
}

func (s *Postgres) Close() {
	s.Db.Close()
}

// WithinTx runs fn in a READ COMMITTED transaction. Row locks taken through
// the Tx serialize competing writers; conflicts the database reports are
// retried.
func (s *Postgres) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	var err error
	for attempt := 0; attempt <= s.opts.MaxRetries; attempt++ {
		err = s.runTx(ctx, fn)
		if err == nil || !retryable(err) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return err
}

func (s *Postgres) runTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.Db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &pgTx{queries: queries{db: tx}}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", mapErr(err))
	}
	return nil
}

func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected
	}
	return false
}

// mapErr translates driver errors into store and domain sentinels.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		if pgErr.ConstraintName == idempotencyConstraint {
			return fmt.Errorf("%w: %s", ErrDuplicateIdempotencyKey, pgErr.Detail)
		}
		return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
	}
	return err
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type queries struct {
	db querier
}

const (
	userColumns     = "id, email, first_name, last_name, kyc_status, created_at"
	accountColumns  = "id, user_id, account_number, routing_number, account_class, currency, status, balance, created_at, updated_at"
	extAcctColumns  = "id, user_id, institution_name, mask, rail_handle, verification_status, created_at"
	txnColumns      = "id, user_id, from_account_id, to_account_id, amount, currency, type, status, description, idempotency_key, request_hash, external_id, metadata, created_at, updated_at"
	entryColumns    = "id, seq, account_id, transaction_id, entry_type, amount, balance_after, description, created_at"
	extXferColumns  = "id, user_id, external_account_id, account_id, transaction_id, direction, amount, currency, status, rail_transfer_id, failure_reason, expected_settlement, created_at, updated_at"
	initiatedTypes  = "('P2P_TRANSFER', 'EXTERNAL_CREDIT', 'EXTERNAL_DEBIT')"
	countedStatuses = "('PENDING', 'PROCESSING', 'COMPLETED')"
)

func scanUser(row pgx.Row) (domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.KYCStatus, &u.CreatedAt)
	return u, mapErr(err)
}

func scanAccount(row pgx.Row) (domain.Account, error) {
	var a domain.Account
	err := row.Scan(&a.ID, &a.UserID, &a.AccountNumber, &a.RoutingNumber, &a.Class,
		&a.Currency, &a.Status, &a.Balance, &a.CreatedAt, &a.UpdatedAt)
	return a, mapErr(err)
}

func scanTransaction(row pgx.Row) (domain.Transaction, error) {
	var t domain.Transaction
	err := row.Scan(&t.ID, &t.UserID, &t.FromAccountID, &t.ToAccountID, &t.Amount, &t.Currency,
		&t.Type, &t.Status, &t.Description, &t.IdempotencyKey, &t.RequestHash, &t.ExternalID,
		&t.Metadata, &t.CreatedAt, &t.UpdatedAt)
	return t, mapErr(err)
}

func scanEntry(row pgx.Row) (domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	err := row.Scan(&e.ID, &e.Sequence, &e.AccountID, &e.TransactionID, &e.Type, &e.Amount,
		&e.BalanceAfter, &e.Description, &e.CreatedAt)
	return e, mapErr(err)
}

func scanExternalTransfer(row pgx.Row) (domain.ExternalTransfer, error) {
	var et domain.ExternalTransfer
	err := row.Scan(&et.ID, &et.UserID, &et.ExternalAccountID, &et.AccountID, &et.TransactionID,
		&et.Direction, &et.Amount, &et.Currency, &et.Status, &et.RailTransferID, &et.FailureReason,
		&et.ExpectedSettlement, &et.CreatedAt, &et.UpdatedAt)
	return et, mapErr(err)
}

func (q queries) GetUser(ctx context.Context, id uuid.UUID) (domain.User, error) {
	return scanUser(q.db.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", id))
}

func (q queries) FindUserByEmail(ctx context.Context, email string) (domain.User, error) {
	return scanUser(q.db.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE lower(email) = lower($1)", email))
}

func (q queries) GetAccount(ctx context.Context, id uuid.UUID) (domain.Account, error) {
	return scanAccount(q.db.QueryRow(ctx, "SELECT "+accountColumns+" FROM accounts WHERE id = $1", id))
}

func (q queries) FindAccountByNumber(ctx context.Context, number string) (domain.Account, error) {
	return scanAccount(q.db.QueryRow(ctx, "SELECT "+accountColumns+" FROM accounts WHERE account_number = $1", number))
}

func (q queries) ListAccountsByUser(ctx context.Context, userID uuid.UUID) ([]domain.Account, error) {
	rows, err := q.db.Query(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE user_id = $1 ORDER BY created_at, id", userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (q queries) ListAccountIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := q.db.Query(ctx, "SELECT id FROM accounts ORDER BY id")
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

func (q queries) GetExternalAccount(ctx context.Context, id uuid.UUID) (domain.ExternalAccount, error) {
	var a domain.ExternalAccount
	err := q.db.QueryRow(ctx, "SELECT "+extAcctColumns+" FROM external_accounts WHERE id = $1", id).
		Scan(&a.ID, &a.UserID, &a.InstitutionName, &a.Mask, &a.RailHandle, &a.VerificationStatus, &a.CreatedAt)
	return a, mapErr(err)
}

func (q queries) GetTransaction(ctx context.Context, id uuid.UUID) (domain.Transaction, error) {
	return scanTransaction(q.db.QueryRow(ctx, "SELECT "+txnColumns+" FROM transactions WHERE id = $1", id))
}

func (q queries) GetTransactionByIdempotencyKey(ctx context.Context, key string) (domain.Transaction, error) {
	return scanTransaction(q.db.QueryRow(ctx, "SELECT "+txnColumns+" FROM transactions WHERE idempotency_key = $1", key))
}

func (q queries) ListTransactions(ctx context.Context, userID uuid.UUID, f TransactionFilter, offset, limit int) ([]domain.Transaction, int, error) {
	where := []string{"(user_id = $1 OR to_account_id IN (SELECT id FROM accounts WHERE user_id = $1))"}
	args := []any{userID}
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Type != "" {
		add("type = $%d", string(f.Type))
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if !f.From.IsZero() {
		add("created_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("created_at <= $%d", f.To)
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := q.db.QueryRow(ctx, "SELECT COUNT(*) FROM transactions WHERE "+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.db.Query(ctx,
		"SELECT "+txnColumns+" FROM transactions WHERE "+clause+
			fmt.Sprintf(" ORDER BY created_at DESC, id DESC OFFSET $%d LIMIT $%d", len(args)+1, len(args)+2),
		append(args, offset, limit)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, t)
	}
	return out, total, rows.Err()
}

func (q queries) SumInitiatedSince(ctx context.Context, userID uuid.UUID, since time.Time) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := q.db.QueryRow(ctx,
		"SELECT COALESCE(SUM(amount), 0) FROM transactions WHERE user_id = $1 AND created_at >= $2 AND type IN "+
			initiatedTypes+" AND status IN "+countedStatuses,
		userID, since).Scan(&sum)
	return sum, err
}

func (q queries) SumHeldWithdrawals(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := q.db.QueryRow(ctx,
		"SELECT COALESCE(SUM(amount), 0) FROM external_transfers WHERE account_id = $1 AND direction = 'WITHDRAWAL' AND status IN ('PENDING', 'PROCESSING')",
		accountID).Scan(&sum)
	return sum, err
}

func (q queries) RecentPeerRecipients(ctx context.Context, userID uuid.UUID, limit int) ([]uuid.UUID, error) {
	rows, err := q.db.Query(ctx, `
		SELECT to_account_id FROM transactions
		WHERE user_id = $1 AND type = 'P2P_TRANSFER' AND status = 'COMPLETED' AND to_account_id IS NOT NULL
		GROUP BY to_account_id
		ORDER BY MAX(created_at) DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

func (q queries) ListLedgerEntries(ctx context.Context, accountID uuid.UUID, afterSeq int64, limit int) ([]domain.LedgerEntry, error) {
	rows, err := q.db.Query(ctx,
		"SELECT "+entryColumns+" FROM ledger_entries WHERE account_id = $1 AND seq > $2 ORDER BY seq LIMIT $3",
		accountID, afterSeq, limit)
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}

func (q queries) ListTransactionEntries(ctx context.Context, transactionID uuid.UUID) ([]domain.LedgerEntry, error) {
	rows, err := q.db.Query(ctx,
		"SELECT "+entryColumns+" FROM ledger_entries WHERE transaction_id = $1 ORDER BY seq", transactionID)
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}

func collectEntries(rows pgx.Rows) ([]domain.LedgerEntry, error) {
	defer rows.Close()
	var out []domain.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (q queries) LedgerTotals(ctx context.Context, accountID uuid.UUID) (domain.LedgerTotals, error) {
	var t domain.LedgerTotals
	err := q.db.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE entry_type = 'CREDIT'), 0),
			COALESCE(SUM(amount) FILTER (WHERE entry_type = 'DEBIT'), 0),
			COUNT(*)
		FROM ledger_entries WHERE account_id = $1`, accountID).Scan(&t.Credits, &t.Debits, &t.Entries)
	if err != nil {
		return t, err
	}
	if t.Entries == 0 {
		return t, nil
	}

	var last decimal.Decimal
	err = q.db.QueryRow(ctx,
		"SELECT balance_after FROM ledger_entries WHERE account_id = $1 ORDER BY seq DESC LIMIT 1",
		accountID).Scan(&last)
	if err != nil {
		return t, mapErr(err)
	}
	t.LastAfter = &last
	return t, nil
}

func (q queries) GetExternalTransfer(ctx context.Context, id uuid.UUID) (domain.ExternalTransfer, error) {
	return scanExternalTransfer(q.db.QueryRow(ctx, "SELECT "+extXferColumns+" FROM external_transfers WHERE id = $1", id))
}

func (q queries) GetExternalTransferByTransaction(ctx context.Context, transactionID uuid.UUID) (domain.ExternalTransfer, error) {
	return scanExternalTransfer(q.db.QueryRow(ctx,
		"SELECT "+extXferColumns+" FROM external_transfers WHERE transaction_id = $1", transactionID))
}

func (q queries) ListExternalTransfers(ctx context.Context, userID uuid.UUID, limit int) ([]domain.ExternalTransfer, error) {
	rows, err := q.db.Query(ctx,
		"SELECT "+extXferColumns+" FROM external_transfers WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2",
		userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ExternalTransfer
	for rows.Next() {
		et, err := scanExternalTransfer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, et)
	}
	return out, rows.Err()
}

func (q queries) CountInFlightExternalTransfers(ctx context.Context, accountID uuid.UUID) (int, error) {
	var n int
	err := q.db.QueryRow(ctx,
		"SELECT COUNT(*) FROM external_transfers WHERE account_id = $1 AND status IN ('PENDING', 'PROCESSING')",
		accountID).Scan(&n)
	return n, err
}

// pgTx is the unit of work handed to WithinTx callbacks.
type pgTx struct {
	queries
}

// LockAccounts acquires row locks in ascending id order so two units that
// touch the same pair of accounts cannot deadlock.
func (t *pgTx) LockAccounts(ctx context.Context, ids ...uuid.UUID) (map[uuid.UUID]domain.Account, error) {
	out := make(map[uuid.UUID]domain.Account, len(ids))
	for _, id := range SortIDs(ids) {
		a, err := scanAccount(t.db.QueryRow(ctx,
			"SELECT "+accountColumns+" FROM accounts WHERE id = $1 FOR UPDATE", id))
		if err != nil {
			return nil, fmt.Errorf("lock account %s: %w", id, err)
		}
		out[id] = a
	}
	return out, nil
}

func (t *pgTx) LockTransaction(ctx context.Context, id uuid.UUID) (domain.Transaction, error) {
	return scanTransaction(t.db.QueryRow(ctx, "SELECT "+txnColumns+" FROM transactions WHERE id = $1 FOR UPDATE", id))
}

func (t *pgTx) LockExternalTransferByRailID(ctx context.Context, railID string) (domain.ExternalTransfer, error) {
	return scanExternalTransfer(t.db.QueryRow(ctx,
		"SELECT "+extXferColumns+" FROM external_transfers WHERE rail_transfer_id = $1 FOR UPDATE", railID))
}

func (t *pgTx) InsertUser(ctx context.Context, u *domain.User) error {
	_, err := t.db.Exec(ctx,
		"INSERT INTO users ("+userColumns+") VALUES ($1, $2, $3, $4, $5, $6)",
		u.ID, u.Email, u.FirstName, u.LastName, u.KYCStatus, u.CreatedAt)
	return mapErr(err)
}

func (t *pgTx) InsertAccount(ctx context.Context, a *domain.Account) error {
	_, err := t.db.Exec(ctx,
		"INSERT INTO accounts ("+accountColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)",
		a.ID, a.UserID, a.AccountNumber, a.RoutingNumber, a.Class, a.Currency, a.Status, a.Balance,
		a.CreatedAt, a.UpdatedAt)
	return mapErr(err)
}

func (t *pgTx) InsertExternalAccount(ctx context.Context, a *domain.ExternalAccount) error {
	_, err := t.db.Exec(ctx,
		"INSERT INTO external_accounts ("+extAcctColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7)",
		a.ID, a.UserID, a.InstitutionName, a.Mask, a.RailHandle, a.VerificationStatus, a.CreatedAt)
	return mapErr(err)
}

func (t *pgTx) UpdateAccountStatus(ctx context.Context, id uuid.UUID, status domain.AccountStatus) error {
	tag, err := t.db.Exec(ctx, "UPDATE accounts SET status = $1, updated_at = now() WHERE id = $2", status, id)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (t *pgTx) UpdateBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal) error {
	tag, err := t.db.Exec(ctx, "UPDATE accounts SET balance = $1, updated_at = now() WHERE id = $2", balance, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (t *pgTx) InsertTransaction(ctx context.Context, txn *domain.Transaction) error {
	meta := txn.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	_, err := t.db.Exec(ctx,
		"INSERT INTO transactions ("+txnColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)",
		txn.ID, txn.UserID, txn.FromAccountID, txn.ToAccountID, txn.Amount, txn.Currency, txn.Type,
		txn.Status, txn.Description, txn.IdempotencyKey, txn.RequestHash, txn.ExternalID, meta,
		txn.CreatedAt, txn.UpdatedAt)
	return mapErr(err)
}

func (t *pgTx) UpdateTransactionStatus(ctx context.Context, id uuid.UUID, status domain.TransactionStatus, meta map[string]any) error {
	if meta == nil {
		meta = map[string]any{}
	}
	tag, err := t.db.Exec(ctx,
		"UPDATE transactions SET status = $1, metadata = metadata || $2::jsonb, updated_at = now() WHERE id = $3",
		status, meta, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (t *pgTx) InsertLedgerEntry(ctx context.Context, e *domain.LedgerEntry) error {
	err := t.db.QueryRow(ctx, `
		INSERT INTO ledger_entries (id, account_id, transaction_id, entry_type, amount, balance_after, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING seq`,
		e.ID, e.AccountID, e.TransactionID, e.Type, e.Amount, e.BalanceAfter, e.Description, e.CreatedAt).
		Scan(&e.Sequence)
	return mapErr(err)
}

func (t *pgTx) InsertExternalTransfer(ctx context.Context, et *domain.ExternalTransfer) error {
	_, err := t.db.Exec(ctx,
		"INSERT INTO external_transfers ("+extXferColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)",
		et.ID, et.UserID, et.ExternalAccountID, et.AccountID, et.TransactionID, et.Direction, et.Amount,
		et.Currency, et.Status, et.RailTransferID, et.FailureReason, et.ExpectedSettlement, et.CreatedAt, et.UpdatedAt)
	return mapErr(err)
}

func (t *pgTx) UpdateExternalTransfer(ctx context.Context, id uuid.UUID, status domain.ExternalTransferStatus, failureReason *string) error {
	tag, err := t.db.Exec(ctx,
		"UPDATE external_transfers SET status = $1, failure_reason = COALESCE($2, failure_reason), updated_at = now() WHERE id = $3",
		status, failureReason, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
