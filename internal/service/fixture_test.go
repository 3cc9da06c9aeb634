package service

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/punchamoorthee/neoledger/internal/domain"
	"github.com/punchamoorthee/neoledger/internal/rail"
	"github.com/punchamoorthee/neoledger/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

type env struct {
	t         *testing.T
	ctx       context.Context
	store     *store.Memory
	sandbox   *rail.Sandbox
	exec      *Executor
	rec       *Reconciler
	ledger    *Ledger
	accounts  *Accounts
	dir       *Directory
	logs      *bytes.Buffer
	numbers   int
	reviewer  uuid.UUID // admitted to decide review-held transfers
	reviewers ReviewerSet
}

type envOptions struct {
	limits      Limits
	settlement  Settlement
	railTimeout time.Duration
}

func newEnv(t *testing.T, opts ...func(*envOptions)) *env {
	t.Helper()
	o := envOptions{limits: DefaultLimits(), settlement: DeferredSettlement{}, railTimeout: time.Second}
	for _, fn := range opts {
		fn(&o)
	}

	var buf bytes.Buffer
	logger := log.New(&buf)
	logger.SetLevel(log.DebugLevel)

	clock := func() time.Time { return testNow }
	mem := store.NewMemory()
	verifier := StoreVerifier{Users: mem}
	dir := NewDirectory(mem, verifier)
	sandbox := rail.NewSandbox()
	reviewer := uuid.New()
	reviewers := NewReviewerSet(reviewer)

	return &env{
		t:         t,
		ctx:       context.Background(),
		store:     mem,
		sandbox:   sandbox,
		exec: NewExecutor(Deps{
			Store:       mem,
			Validator:   NewValidator(o.limits, verifier, StoreLinks{Accounts: mem}, dir, clock),
			Rail:        sandbox,
			Settlement:  o.settlement,
			Reviewers:   reviewers,
			RailTimeout: o.railTimeout,
			Logger:      logger,
			Now:         clock,
		}),
		rec:       NewReconciler(mem, logger, clock),
		ledger:    NewLedger(mem, logger),
		accounts:  NewAccounts(mem, logger, clock),
		dir:       dir,
		logs:      &buf,
		reviewer:  reviewer,
		reviewers: reviewers,
	}
}

func withLimits(perTransfer, daily, review int64) func(*envOptions) {
	return func(o *envOptions) {
		o.limits.PerTransfer = decimal.NewFromInt(perTransfer)
		o.limits.Daily = decimal.NewFromInt(daily)
		o.limits.ReviewThreshold = decimal.NewFromInt(review)
	}
}

func withSettlement(s Settlement) func(*envOptions) {
	return func(o *envOptions) { o.settlement = s }
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (e *env) user(name string, kyc domain.KYCStatus) domain.User {
	e.t.Helper()
	u := domain.User{ID: uuid.New(), Email: name + "@example.com", FirstName: name, KYCStatus: kyc, CreatedAt: testNow}
	require.NoError(e.t, e.store.WithinTx(e.ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertUser(ctx, &u)
	}))
	return u
}

// customer creates a verified user with an open checking account.
func (e *env) customer(name string) (domain.User, domain.Account) {
	e.t.Helper()
	u := e.user(name, domain.KYCVerified)
	return u, e.account(u)
}

func (e *env) account(u domain.User) domain.Account {
	e.t.Helper()
	e.numbers++
	a := domain.Account{
		ID: uuid.New(), UserID: u.ID, AccountNumber: fmt.Sprintf("9000%06d", e.numbers), RoutingNumber: RoutingNumber,
		Class: domain.ClassChecking, Currency: "USD", Status: domain.AccountActive, Balance: decimal.Zero,
		CreatedAt: testNow, UpdatedAt: testNow,
	}
	require.NoError(e.t, e.store.WithinTx(e.ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertAccount(ctx, &a)
	}))
	return a
}

// fund credits the account through a settled deposit dated two days ago so
// it does not count against today's limit.
func (e *env) fund(a domain.Account, amount string) {
	e.t.Helper()
	amt := dec(amount)
	at := testNow.Add(-48 * time.Hour)
	require.NoError(e.t, e.store.WithinTx(e.ctx, func(ctx context.Context, tx store.Tx) error {
		locked, err := tx.LockAccounts(ctx, a.ID)
		if err != nil {
			return err
		}
		cur := locked[a.ID]
		txn := domain.Transaction{
			ID: uuid.New(), UserID: a.UserID, ToAccountID: &a.ID, Amount: amt, Currency: "USD",
			Type: domain.TypeExternalCredit, Status: domain.TxCompleted, IdempotencyKey: uuid.NewString(),
			RequestHash: "fixture", CreatedAt: at, UpdatedAt: at,
		}
		if err := tx.InsertTransaction(ctx, &txn); err != nil {
			return err
		}
		after := cur.Balance.Add(amt)
		if err := tx.InsertLedgerEntry(ctx, &domain.LedgerEntry{
			ID: uuid.New(), AccountID: a.ID, TransactionID: txn.ID, Type: domain.EntryCredit,
			Amount: amt, BalanceAfter: after, CreatedAt: at,
		}); err != nil {
			return err
		}
		return tx.UpdateBalance(ctx, a.ID, after)
	}))
}

func (e *env) link(u domain.User, status domain.VerificationStatus) domain.ExternalAccount {
	e.t.Helper()
	x := domain.ExternalAccount{
		ID: uuid.New(), UserID: u.ID, InstitutionName: "First Platypus Bank", Mask: "0000",
		RailHandle: "access-sandbox-" + u.FirstName, VerificationStatus: status, CreatedAt: testNow,
	}
	require.NoError(e.t, e.store.WithinTx(e.ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertExternalAccount(ctx, &x)
	}))
	return x
}

func (e *env) balance(a domain.Account) decimal.Decimal {
	e.t.Helper()
	got, err := e.store.GetAccount(e.ctx, a.ID)
	require.NoError(e.t, err)
	return got.Balance
}

func (e *env) entries(a domain.Account) []domain.LedgerEntry {
	e.t.Helper()
	page, err := e.ledger.ListLedgerEntries(e.ctx, a.ID, Page{Limit: MaxPageSize})
	require.NoError(e.t, err)
	return page.Entries
}

// assertBalanced checks balance == credits - debits for every account.
func (e *env) assertBalanced() {
	e.t.Helper()
	rep, err := e.ledger.VerifyAll(e.ctx)
	require.NoError(e.t, err)
	assert.Empty(e.t, rep.Failures)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), "want %s, got %s", want, got)
}

func requireRejection(t *testing.T, err error, reason domain.RejectionReason) *domain.Rejection {
	t.Helper()
	rej, ok := domain.AsRejection(err)
	require.True(t, ok, "expected rejection %s, got %v", reason, err)
	assert.Equal(t, reason, rej.Reason)
	return rej
}
