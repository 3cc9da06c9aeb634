package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/punchamoorthee/neoledger/internal/domain"
	"github.com/punchamoorthee/neoledger/internal/rail"
	"github.com/punchamoorthee/neoledger/internal/store"
)

// Notification is a lifecycle event reported by the rail. Delivery is
// at-least-once and unordered.
type Notification struct {
	RailTransferID string
	Status         rail.Status
	FailureReason  string
}

// Outcome describes what a notification did.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeAnomaly   Outcome = "anomaly"
	OutcomeUnknown   Outcome = "unknown_transfer"
)

var railStatusTable = map[rail.Status]domain.ExternalTransferStatus{
	rail.StatusPosted:    domain.ExtCompleted,
	rail.StatusFailed:    domain.ExtFailed,
	rail.StatusCancelled: domain.ExtFailed,
	rail.StatusReturned:  domain.ExtReturned,
}

// MapRailStatus translates a rail status. Statuses the table does not name
// mean the transfer is still moving.
func MapRailStatus(s rail.Status) domain.ExternalTransferStatus {
	if st, ok := railStatusTable[s]; ok {
		return st
	}
	return domain.ExtProcessing
}

type decision int

const (
	decideNoop decision = iota
	decideApply
	decideAnomaly
)

// transition guards the external transfer lifecycle: terminal states never
// change, repeating the current state does nothing.
func transition(cur, next domain.ExternalTransferStatus) decision {
	switch {
	case cur == next:
		return decideNoop
	case cur.Terminal():
		return decideAnomaly
	case cur == domain.ExtProcessing && next == domain.ExtPending:
		return decideNoop
	}
	return decideApply
}

// Reconciler applies rail notifications to external transfers.
type Reconciler struct {
	store store.Store
	log   *log.Logger
	now   func() time.Time
}

func NewReconciler(s store.Store, logger *log.Logger, now func() time.Time) *Reconciler {
	if logger == nil {
		logger = log.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Reconciler{store: s, log: logger.With("component", "reconciler"), now: now}
}

// Reconcile advances the external transfer named by n. Ledger effects are
// applied only on the transition into COMPLETED, so redelivery is safe.
// Anomalies are logged and dropped; only storage failures are returned, so
// the sender knows to redeliver.
func (r *Reconciler) Reconcile(ctx context.Context, n Notification) (Outcome, error) {
	next := MapRailStatus(n.Status)
	var (
		outcome Outcome
		from    domain.ExternalTransferStatus
	)

	err := r.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		et, err := tx.LockExternalTransferByRailID(ctx, n.RailTransferID)
		if errors.Is(err, domain.ErrNotFound) {
			outcome = OutcomeUnknown
			return nil
		}
		if err != nil {
			return err
		}
		from = et.Status

		switch transition(et.Status, next) {
		case decideNoop:
			outcome = OutcomeDuplicate
			return nil
		case decideAnomaly:
			outcome = OutcomeAnomaly
			return nil
		}

		txn, err := tx.LockTransaction(ctx, et.TransactionID)
		if err != nil {
			return fmt.Errorf("load transaction %s: %w", et.TransactionID, err)
		}
		if target := next.TransactionStatus(); txn.Status != target && !txn.Status.CanTransition(target) {
			outcome = OutcomeAnomaly
			return nil
		}
		if _, _, err := applyRailStatus(ctx, tx, et, txn, next, n.Status, n.FailureReason, r.now()); err != nil {
			return err
		}
		outcome = OutcomeApplied
		return nil
	})
	if err != nil {
		r.log.Error("reconcile failed", "rail_transfer_id", n.RailTransferID, "status", n.Status, "err", err)
		return "", err
	}

	reconcileTotal.WithLabelValues(string(outcome)).Inc()
	switch outcome {
	case OutcomeApplied:
		r.log.Info("external transfer advanced", "rail_transfer_id", n.RailTransferID, "from", from, "to", next)
	case OutcomeDuplicate:
		r.log.Debug("duplicate notification", "rail_transfer_id", n.RailTransferID, "status", n.Status)
	case OutcomeAnomaly:
		r.log.Warn("notification conflicts with recorded state; dropped",
			"rail_transfer_id", n.RailTransferID, "current", from, "reported", n.Status)
	case OutcomeUnknown:
		r.log.Warn("notification for unknown transfer; dropped", "rail_transfer_id", n.RailTransferID, "status", n.Status)
	}
	return outcome, nil
}

// applyRailStatus moves et and txn to next, posting the ledger entry when
// next is COMPLETED. Both records must be locked by tx.
func applyRailStatus(ctx context.Context, tx store.Tx, et domain.ExternalTransfer, txn domain.Transaction,
	next domain.ExternalTransferStatus, reported rail.Status, failure string, now time.Time,
) (domain.ExternalTransfer, domain.Transaction, error) {
	target := next.TransactionStatus()
	meta := map[string]any{"rail_status": string(reported)}

	var reason *string
	switch next {
	case domain.ExtCompleted:
		locked, err := tx.LockAccounts(ctx, et.AccountID)
		if err != nil {
			return et, txn, err
		}
		if _, err := postExternal(ctx, tx, et, txn, locked[et.AccountID], now); err != nil {
			return et, txn, err
		}
		meta["settled_at"] = now.UTC().Format(time.RFC3339)
	case domain.ExtFailed, domain.ExtReturned:
		if failure == "" {
			failure = "rail reported " + string(reported)
		}
		reason = &failure
		meta["failure_reason"] = failure
	}

	if err := tx.UpdateExternalTransfer(ctx, et.ID, next, reason); err != nil {
		return et, txn, fmt.Errorf("update external transfer: %w", err)
	}
	et.Status = next
	et.FailureReason = reason
	if txn.Status == target {
		return et, txn, nil
	}
	if err := tx.UpdateTransactionStatus(ctx, txn.ID, target, meta); err != nil {
		return et, txn, err
	}
	txn.Status = target
	txn.Metadata = mergeMeta(txn.Metadata, meta)
	return et, txn, nil
}
