package store

import (
	"context"
	_ "embed"
	"fmt"
)

//go:embed schema.sql
var schema string

// Migrate creates the ledger tables if they do not exist. It is safe to run
// repeatedly.
func (s *Postgres) Migrate(ctx context.Context) error {
	if _, err := s.Db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Reset truncates every ledger table.
func (s *Postgres) Reset(ctx context.Context) error {
	_, err := s.Db.Exec(ctx,
		"TRUNCATE external_transfers, ledger_entries, transactions, external_accounts, accounts, users")
	if err != nil {
		return fmt.Errorf("reset tables: %w", err)
	}
	return nil
}
