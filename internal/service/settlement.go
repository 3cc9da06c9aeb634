package service

import (
	"context"
	"fmt"
	"time"

	"github.com/punchamoorthee/neoledger/internal/domain"
	"github.com/punchamoorthee/neoledger/internal/store"
)

// Settlement decides what happens to a freshly submitted external transfer
// inside the initiating unit of work. acct is the internal account, locked.
type Settlement interface {
	Settle(ctx context.Context, tx store.Tx, et domain.ExternalTransfer, txn domain.Transaction, acct domain.Account, at time.Time) (domain.ExternalTransfer, domain.Transaction, error)
	Name() string
}

// DeferredSettlement leaves the transfer PROCESSING until the rail reports
// an outcome to the Reconciler. This is the production behaviour.
type DeferredSettlement struct{}

func (DeferredSettlement) Settle(_ context.Context, _ store.Tx, et domain.ExternalTransfer, txn domain.Transaction, _ domain.Account, _ time.Time) (domain.ExternalTransfer, domain.Transaction, error) {
	return et, txn, nil
}

func (DeferredSettlement) Name() string { return "deferred" }

// ImmediateSettlement posts the ledger effect in the initiating unit and
// completes both records. Only sandbox rails settle this way.
type ImmediateSettlement struct{}

func (ImmediateSettlement) Settle(ctx context.Context, tx store.Tx, et domain.ExternalTransfer, txn domain.Transaction, acct domain.Account, at time.Time) (domain.ExternalTransfer, domain.Transaction, error) {
	if _, err := postExternal(ctx, tx, et, txn, acct, at); err != nil {
		return et, txn, err
	}
	if err := tx.UpdateExternalTransfer(ctx, et.ID, domain.ExtCompleted, nil); err != nil {
		return et, txn, fmt.Errorf("complete external transfer: %w", err)
	}
	meta := map[string]any{"settled_at": at.UTC().Format(time.RFC3339), "settlement": "immediate"}
	if err := tx.UpdateTransactionStatus(ctx, txn.ID, domain.TxCompleted, meta); err != nil {
		return et, txn, fmt.Errorf("complete transaction: %w", err)
	}
	et.Status = domain.ExtCompleted
	txn.Status = domain.TxCompleted
	txn.Metadata = mergeMeta(txn.Metadata, meta)
	return et, txn, nil
}

func (ImmediateSettlement) Name() string { return "immediate" }

// SettlementFor returns the strategy registered under name.
func SettlementFor(name string) (Settlement, error) {
	switch name {
	case "", "deferred":
		return DeferredSettlement{}, nil
	case "immediate":
		return ImmediateSettlement{}, nil
	}
	return nil, fmt.Errorf("unknown settlement strategy %q", name)
}
