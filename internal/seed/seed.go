// Package seed bulk-loads a deterministic population of verified users with
// funded accounts, for load testing and local development.
package seed

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/punchamoorthee/neoledger/internal/domain"
	"github.com/punchamoorthee/neoledger/internal/service"
	"github.com/shopspring/decimal"
)

// namespace keeps seeded ids stable across runs so load generators can
// address users without querying the database.
var namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("neoledger/seed"))

type Plan struct {
	Users          int
	OpeningBalance decimal.Decimal
	// Links also gives every user a verified external account.
	Links bool
}

func UserID(i int) uuid.UUID {
	return uuid.NewSHA1(namespace, []byte(fmt.Sprintf("user/%d", i)))
}

func AccountID(i int) uuid.UUID {
	return uuid.NewSHA1(namespace, []byte(fmt.Sprintf("account/%d", i)))
}

func ExternalAccountID(i int) uuid.UUID {
	return uuid.NewSHA1(namespace, []byte(fmt.Sprintf("link/%d", i)))
}

func Email(i int) string {
	return fmt.Sprintf("user%04d@seed.local", i)
}

// AccountNumber is the 13 digit number of seeded account i.
func AccountNumber(i int) string {
	return fmt.Sprintf("0%012d", i)
}

// Rows holds the COPY input for each table.
type Rows struct {
	Users, Accounts, Links, Transactions, Entries [][]any
}

func numeric(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}

// Build renders the plan. Every account is opened with a completed deposit
// and its matching CREDIT entry so the balance invariant holds from the start.
func Build(p Plan, at time.Time) Rows {
	var r Rows
	funded := p.OpeningBalance.IsPositive()
	amount := numeric(p.OpeningBalance)

	for i := range p.Users {
		uid, aid := UserID(i), AccountID(i)
		r.Users = append(r.Users, []any{uid, Email(i), "Seed", fmt.Sprintf("User %d", i), string(domain.KYCVerified), at})

		balance := numeric(decimal.Zero)
		if funded {
			balance = amount
		}
		r.Accounts = append(r.Accounts, []any{
			aid, uid, AccountNumber(i), service.RoutingNumber, string(domain.ClassChecking), domain.DefaultCurrency,
			string(domain.AccountActive), balance, at, at,
		})

		if p.Links {
			r.Links = append(r.Links, []any{
				ExternalAccountID(i), uid, "Seed Savings Bank", fmt.Sprintf("%04d", i%10000),
				fmt.Sprintf("access-seed-%d", i), string(domain.LinkVerified), at,
			})
		}

		if !funded {
			continue
		}
		tid := uuid.NewSHA1(namespace, []byte(fmt.Sprintf("opening/%d", i)))
		r.Transactions = append(r.Transactions, []any{
			tid, uid, aid, amount, domain.DefaultCurrency, string(domain.TypeExternalCredit), string(domain.TxCompleted),
			"Opening deposit", fmt.Sprintf("seed-opening-%d", i), "seed", at, at,
		})
		r.Entries = append(r.Entries, []any{
			uuid.NewSHA1(namespace, []byte(fmt.Sprintf("entry/%d", i))), aid, tid, string(domain.EntryCredit),
			amount, amount, "Opening deposit", at,
		})
	}
	return r
}

var copies = []struct {
	table   string
	columns []string
	rows    func(Rows) [][]any
}{
	{"users", []string{"id", "email", "first_name", "last_name", "kyc_status", "created_at"},
		func(r Rows) [][]any { return r.Users }},
	{"accounts", []string{"id", "user_id", "account_number", "routing_number", "account_class", "currency", "status", "balance", "created_at", "updated_at"},
		func(r Rows) [][]any { return r.Accounts }},
	{"external_accounts", []string{"id", "user_id", "institution_name", "mask", "rail_handle", "verification_status", "created_at"},
		func(r Rows) [][]any { return r.Links }},
	{"transactions", []string{"id", "user_id", "to_account_id", "amount", "currency", "type", "status", "description", "idempotency_key", "request_hash", "created_at", "updated_at"},
		func(r Rows) [][]any { return r.Transactions }},
	{"ledger_entries", []string{"id", "account_id", "transaction_id", "entry_type", "amount", "balance_after", "description", "created_at"},
		func(r Rows) [][]any { return r.Entries }},
}

// Result counts rows written per table.
type Result map[string]int64

// Load copies the plan into the database in one transaction. It does nothing
// when the first seeded user already exists.
func Load(ctx context.Context, pool *pgxpool.Pool, p Plan, at time.Time) (Result, error) {
	var exists bool
	if err := pool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)", UserID(0)).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check existing seed: %w", err)
	}
	if exists {
		return Result{}, nil
	}

	rows := Build(p, at)
	res := Result{}

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	for _, c := range copies {
		src := c.rows(rows)
		if len(src) == 0 {
			continue
		}
		n, err := tx.CopyFrom(ctx, pgx.Identifier{c.table}, c.columns, pgx.CopyFromRows(src))
		if err != nil {
			return nil, fmt.Errorf("bulk insert into %s failed: %w", c.table, err)
		}
		res[c.table] = n
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return res, nil
}
