// Package service holds the transfer engine: policy checks, the peer and
// external transfer flows, settlement reconciliation and ledger queries.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/punchamoorthee/neoledger/internal/domain"
	"github.com/punchamoorthee/neoledger/internal/store"
	"github.com/shopspring/decimal"
)

const (
	flowPeer     = "peer"
	flowExternal = "external"

	DefaultRailTimeout = 10 * time.Second
)

// Deps wires an Executor.
type Deps struct {
	Store       store.Store
	Validator   *Validator
	Rail        Rail
	Settlement  Settlement
	// Reviewers admits who may decide review-held transfers. Nobody may when nil.
	Reviewers   Reviewers
	RailTimeout time.Duration
	Logger      *log.Logger
	Now         func() time.Time
}

// Executor is the only code path that creates transfers and moves balances
// at initiation time.
type Executor struct {
	store       store.Store
	validator   *Validator
	rail        Rail
	settlement  Settlement
	reviewers   Reviewers
	railTimeout time.Duration
	log         *log.Logger
	now         func() time.Time
}

func NewExecutor(d Deps) *Executor {
	e := &Executor{
		store:       d.Store,
		validator:   d.Validator,
		rail:        d.Rail,
		settlement:  d.Settlement,
		reviewers:   d.Reviewers,
		railTimeout: d.RailTimeout,
		log:         d.Logger,
		now:         d.Now,
	}
	if e.settlement == nil {
		e.settlement = DeferredSettlement{}
	}
	if e.reviewers == nil {
		e.reviewers = NewReviewerSet()
	}
	if e.railTimeout <= 0 {
		e.railTimeout = DefaultRailTimeout
	}
	if e.log == nil {
		e.log = log.Default()
	}
	e.log = e.log.With("component", "executor")
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

type PeerTransferRequest struct {
	SenderID            uuid.UUID
	RecipientIdentifier string
	Amount              decimal.Decimal
	Description         string
	// IdempotencyKey identifies the attempt. One is generated when empty.
	IdempotencyKey string
}

type TransferResult struct {
	TransactionID  uuid.UUID                `json:"transaction_id"`
	Status         domain.TransactionStatus `json:"status"`
	Amount         decimal.Decimal          `json:"amount"`
	Currency       string                   `json:"currency"`
	IdempotencyKey string                   `json:"idempotency_key"`
	FailureReason  string                   `json:"failure_reason,omitempty"`
	// Replayed is set when the result was stored by an earlier attempt.
	Replayed bool `json:"replayed"`
}

func transferResult(txn domain.Transaction, replayed bool) TransferResult {
	return TransferResult{
		TransactionID:  txn.ID,
		Status:         txn.Status,
		Amount:         txn.Amount,
		Currency:       txn.Currency,
		IdempotencyKey: txn.IdempotencyKey,
		FailureReason:  metaString(txn.Metadata, "failure_reason"),
		Replayed:       replayed,
	}
}

// InitiatePeerTransfer moves money between two internal accounts. Amounts at
// or above the review threshold are recorded PENDING without touching
// balances; everything else is posted immediately.
func (e *Executor) InitiatePeerTransfer(ctx context.Context, req PeerTransferRequest) (TransferResult, error) {
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.NewString()
	}
	hash := requestHash(flowPeer, req.SenderID.String(), normalizeIdentifier(req.RecipientIdentifier),
		req.Amount.String(), req.Description)

	prior, err := priorAttempt(ctx, e.store, req.IdempotencyKey, hash)
	if err != nil {
		return TransferResult{}, err
	}
	if prior != nil {
		replaysTotal.WithLabelValues(flowPeer).Inc()
		return transferResult(*prior, true), nil
	}

	var res TransferResult
	err = e.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		prior, err := priorAttempt(ctx, tx, req.IdempotencyKey, hash)
		if err != nil {
			return err
		}
		if prior != nil {
			res = transferResult(*prior, true)
			return nil
		}

		appr, err := e.validator.ValidatePeer(ctx, tx, PeerCheck{
			SenderID:            req.SenderID,
			RecipientIdentifier: req.RecipientIdentifier,
			Amount:              req.Amount,
		})
		if err != nil {
			return err
		}

		now := e.now()
		review := req.Amount.GreaterThanOrEqual(e.validator.Limits().ReviewThreshold)
		txn := domain.Transaction{
			ID:             uuid.New(),
			UserID:         req.SenderID,
			FromAccountID:  &appr.Sender.ID,
			ToAccountID:    &appr.Recipient.ID,
			Amount:         req.Amount,
			Currency:       appr.Sender.Currency,
			Type:           domain.TypePeerTransfer,
			Status:         domain.TxCompleted,
			Description:    req.Description,
			IdempotencyKey: req.IdempotencyKey,
			RequestHash:    hash,
			Metadata:       map[string]any{"recipient_identifier": normalizeIdentifier(req.RecipientIdentifier)},
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if review {
			txn.Status = domain.TxPending
			txn.Metadata["review_required"] = true
		}

		if err := tx.InsertTransaction(ctx, &txn); err != nil {
			return fmt.Errorf("transaction insert failed: %w", err)
		}
		if !review {
			if err := postPeer(ctx, tx, txn, appr.Sender, *appr.Recipient, now); err != nil {
				return err
			}
		}
		res = transferResult(txn, false)
		return nil
	})

	if errors.Is(err, store.ErrDuplicateIdempotencyKey) {
		// A concurrent attempt with the same key won the insert.
		return e.replayPeer(ctx, req.IdempotencyKey, hash)
	}
	if err != nil {
		if rej, ok := domain.AsRejection(err); ok {
			rejectionsTotal.WithLabelValues(flowPeer, string(rej.Reason)).Inc()
			e.log.Info("peer transfer rejected", "sender", req.SenderID, "reason", rej.Reason)
			return TransferResult{}, err
		}
		if errors.Is(err, domain.ErrIdempotencyMismatch) {
			return TransferResult{}, err
		}
		e.log.Error("peer transfer failed", "sender", req.SenderID, "err", err)
		return TransferResult{}, fmt.Errorf("peer transfer: %w", err)
	}

	if res.Replayed {
		replaysTotal.WithLabelValues(flowPeer).Inc()
	} else {
		transfersTotal.WithLabelValues(flowPeer, string(res.Status)).Inc()
		e.log.Info("peer transfer recorded", "transaction", res.TransactionID, "status", res.Status, "amount", res.Amount)
	}
	return res, nil
}

func (e *Executor) replayPeer(ctx context.Context, key, hash string) (TransferResult, error) {
	prior, err := priorAttempt(ctx, e.store, key, hash)
	if err != nil {
		return TransferResult{}, err
	}
	if prior == nil {
		return TransferResult{}, fmt.Errorf("idempotency key %s conflicted but no transaction is stored", key)
	}
	replaysTotal.WithLabelValues(flowPeer).Inc()
	return transferResult(*prior, true), nil
}

// ApproveReviewedTransfer settles a peer transfer held for review. The
// reviewer must be admitted by Reviewers and may not be the sender or the
// recipient. The sender's balance is checked again under lock; if it no
// longer covers the amount the transfer fails with INSUFFICIENT_FUNDS
// instead. Approving an already approved transfer returns it unchanged.
func (e *Executor) ApproveReviewedTransfer(ctx context.Context, txnID, reviewer uuid.UUID) (TransferResult, error) {
	var res TransferResult
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		txn, err := tx.LockTransaction(ctx, txnID)
		if err != nil {
			return err
		}
		if txn.Type != domain.TypePeerTransfer {
			return fmt.Errorf("%w: %s is not a peer transfer", domain.ErrInvalidTransition, txn.ID)
		}
		if err := e.authorizeReview(ctx, tx, txn, reviewer); err != nil {
			return err
		}
		if txn.Status == domain.TxCompleted {
			res = transferResult(txn, true)
			return nil
		}
		if txn.Status != domain.TxPending {
			return fmt.Errorf("%w: transfer is %s", domain.ErrInvalidTransition, txn.Status)
		}

		locked, err := tx.LockAccounts(ctx, *txn.FromAccountID, *txn.ToAccountID)
		if err != nil {
			return err
		}
		from, to := locked[*txn.FromAccountID], locked[*txn.ToAccountID]
		now := e.now()
		meta := map[string]any{"reviewed_by": reviewer.String(), "reviewed_at": now.UTC().Format(time.RFC3339)}

		var failure domain.RejectionReason
		switch {
		case !from.Transferable() || !to.Transferable():
			failure = domain.ReasonAccountInactive
		default:
			held, err := tx.SumHeldWithdrawals(ctx, from.ID)
			if err != nil {
				return err
			}
			if from.Balance.Sub(held).LessThan(txn.Amount) {
				failure = domain.ReasonInsufficientFunds
			}
		}

		if failure != "" {
			meta["failure_reason"] = string(failure)
			if err := tx.UpdateTransactionStatus(ctx, txn.ID, domain.TxFailed, meta); err != nil {
				return err
			}
			txn.Status = domain.TxFailed
			txn.Metadata = mergeMeta(txn.Metadata, meta)
			res = transferResult(txn, false)
			return nil
		}

		if err := postPeer(ctx, tx, txn, from, to, now); err != nil {
			return err
		}
		if err := tx.UpdateTransactionStatus(ctx, txn.ID, domain.TxCompleted, meta); err != nil {
			return err
		}
		txn.Status = domain.TxCompleted
		res = transferResult(txn, false)
		return nil
	})
	if err != nil {
		e.logReviewRefusal(err, txnID, reviewer)
		return TransferResult{}, err
	}

	if !res.Replayed {
		transfersTotal.WithLabelValues(flowPeer, string(res.Status)).Inc()
		e.log.Info("reviewed transfer approved", "transaction", txnID, "reviewer", reviewer, "status", res.Status)
	}
	return res, nil
}

// CancelReviewedTransfer moves a review-pending transfer to CANCELLED. No
// ledger effect was applied while it was pending, so none is reversed.
// The same reviewer rules as approval apply.
func (e *Executor) CancelReviewedTransfer(ctx context.Context, txnID, reviewer uuid.UUID, reason string) (TransferResult, error) {
	var res TransferResult
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		txn, err := tx.LockTransaction(ctx, txnID)
		if err != nil {
			return err
		}
		if txn.Type != domain.TypePeerTransfer {
			return fmt.Errorf("%w: %s is not a peer transfer", domain.ErrInvalidTransition, txn.ID)
		}
		if err := e.authorizeReview(ctx, tx, txn, reviewer); err != nil {
			return err
		}
		if txn.Status == domain.TxCancelled {
			res = transferResult(txn, true)
			return nil
		}
		if txn.Status != domain.TxPending {
			return fmt.Errorf("%w: transfer is %s", domain.ErrInvalidTransition, txn.Status)
		}

		meta := map[string]any{"cancelled_by": reviewer.String()}
		if reason != "" {
			meta["cancel_reason"] = reason
		}
		if err := tx.UpdateTransactionStatus(ctx, txn.ID, domain.TxCancelled, meta); err != nil {
			return err
		}
		txn.Status = domain.TxCancelled
		res = transferResult(txn, false)
		return nil
	})
	if err != nil {
		e.logReviewRefusal(err, txnID, reviewer)
		return TransferResult{}, err
	}
	if !res.Replayed {
		transfersTotal.WithLabelValues(flowPeer, string(res.Status)).Inc()
		e.log.Info("reviewed transfer cancelled", "transaction", txnID, "reviewer", reviewer)
	}
	return res, nil
}

// authorizeReview admits reviewers who are not a party to txn.
func (e *Executor) authorizeReview(ctx context.Context, r store.Reader, txn domain.Transaction, reviewer uuid.UUID) error {
	ok, err := e.reviewers.IsReviewer(ctx, reviewer)
	if err != nil {
		return fmt.Errorf("check reviewer: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s is not a reviewer", domain.ErrForbidden, reviewer)
	}
	if txn.UserID == reviewer {
		return fmt.Errorf("%w: reviewer initiated the transfer", domain.ErrForbidden)
	}
	if txn.ToAccountID != nil {
		to, err := r.GetAccount(ctx, *txn.ToAccountID)
		if err != nil {
			return err
		}
		if to.UserID == reviewer {
			return fmt.Errorf("%w: reviewer receives the transfer", domain.ErrForbidden)
		}
	}
	return nil
}

func (e *Executor) logReviewRefusal(err error, txnID, reviewer uuid.UUID) {
	if errors.Is(err, domain.ErrForbidden) {
		e.log.Warn("review decision refused", "transaction", txnID, "reviewer", reviewer, "err", err)
	}
}

func metaString(meta map[string]any, key string) string {
	if v, ok := meta[key].(string); ok {
		return v
	}
	return ""
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
