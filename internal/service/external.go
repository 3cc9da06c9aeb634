package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/neoledger/internal/domain"
	"github.com/punchamoorthee/neoledger/internal/rail"
	"github.com/punchamoorthee/neoledger/internal/store"
	"github.com/shopspring/decimal"
)

type ExternalTransferRequest struct {
	UserID            uuid.UUID
	ExternalAccountID uuid.UUID
	Amount            decimal.Decimal
	Direction         domain.Direction
	Description       string
	IdempotencyKey    string
}

type ExternalResult struct {
	ExternalTransferID *uuid.UUID                    `json:"external_transfer_id,omitempty"`
	TransactionID      uuid.UUID                     `json:"transaction_id"`
	Status             domain.TransactionStatus      `json:"status"`
	TransferStatus     domain.ExternalTransferStatus `json:"transfer_status,omitempty"`
	RailTransferID     string                        `json:"rail_transfer_id,omitempty"`
	ExpectedSettlement *time.Time                    `json:"expected_settlement,omitempty"`
	FailureReason      string                        `json:"failure_reason,omitempty"`
	Replayed           bool                          `json:"replayed"`
}

// errRailFailed aborts the initiating unit after the rail refused or timed out.
var errRailFailed = errors.New("rail submission failed")

// InitiateExternalTransfer submits a deposit or withdrawal to the rail and
// records it PROCESSING, or in the final state the rail's receipt reports. Validation, submission and the inserts share one
// unit of work, so the account lock covers the rail call. When the rail
// refuses or does not answer in time nothing from that unit survives; a
// FAILED transaction carrying the reason is stored under the same key
// instead and returned without an error.
func (e *Executor) InitiateExternalTransfer(ctx context.Context, req ExternalTransferRequest) (ExternalResult, error) {
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.NewString()
	}
	hash := requestHash(flowExternal, req.UserID.String(), req.ExternalAccountID.String(),
		req.Amount.String(), string(req.Direction), req.Description)

	prior, err := priorAttempt(ctx, e.store, req.IdempotencyKey, hash)
	if err != nil {
		return ExternalResult{}, err
	}
	if prior != nil {
		return e.replayExternal(ctx, e.store, *prior)
	}

	var (
		res     ExternalResult
		sender  domain.Account
		railErr error
	)
	err = e.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		prior, err := priorAttempt(ctx, tx, req.IdempotencyKey, hash)
		if err != nil {
			return err
		}
		if prior != nil {
			res, err = e.replayExternal(ctx, tx, *prior)
			return err
		}

		appr, err := e.validator.ValidateExternal(ctx, tx, ExternalCheck{
			UserID:            req.UserID,
			ExternalAccountID: req.ExternalAccountID,
			Amount:            req.Amount,
			Direction:         req.Direction,
		})
		if err != nil {
			return err
		}
		sender = appr.Sender

		receipt, err := e.submit(ctx, rail.Submission{
			Handle:         appr.Link.Handle,
			Amount:         req.Amount,
			Currency:       sender.Currency,
			Direction:      req.Direction,
			IdempotencyKey: req.IdempotencyKey,
			Description:    req.Description,
		})
		if err != nil {
			railErr = err
			return errRailFailed
		}

		now := e.now()
		txn := domain.Transaction{
			ID:             uuid.New(),
			UserID:         req.UserID,
			Amount:         req.Amount,
			Currency:       sender.Currency,
			Type:           req.Direction.TransactionType(),
			Status:         domain.TxProcessing,
			Description:    req.Description,
			IdempotencyKey: req.IdempotencyKey,
			RequestHash:    hash,
			ExternalID:     &receipt.TransferID,
			Metadata:       map[string]any{"external_account_id": req.ExternalAccountID.String()},
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if req.Direction == domain.DirectionDeposit {
			txn.ToAccountID = &sender.ID
		} else {
			txn.FromAccountID = &sender.ID
		}
		if err := tx.InsertTransaction(ctx, &txn); err != nil {
			return fmt.Errorf("transaction insert failed: %w", err)
		}

		et := domain.ExternalTransfer{
			ID:                 uuid.New(),
			UserID:             req.UserID,
			ExternalAccountID:  req.ExternalAccountID,
			AccountID:          sender.ID,
			TransactionID:      txn.ID,
			Direction:          req.Direction,
			Amount:             req.Amount,
			Currency:           sender.Currency,
			Status:             domain.ExtProcessing,
			RailTransferID:     receipt.TransferID,
			ExpectedSettlement: receipt.ExpectedSettlement,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if err := tx.InsertExternalTransfer(ctx, &et); err != nil {
			return fmt.Errorf("external transfer insert failed: %w", err)
		}

		// A rail that already knows the outcome is followed; otherwise the
		// settlement strategy decides.
		if next := MapRailStatus(receipt.Status); next != domain.ExtProcessing {
			et, txn, err = applyRailStatus(ctx, tx, et, txn, next, receipt.Status, "", now)
			if err != nil {
				return fmt.Errorf("apply rail status %s: %w", receipt.Status, err)
			}
		} else {
			et, txn, err = e.settlement.Settle(ctx, tx, et, txn, sender, now)
			if err != nil {
				return fmt.Errorf("%s settlement: %w", e.settlement.Name(), err)
			}
		}
		res = externalResult(txn, &et, false)
		return nil
	})

	switch {
	case errors.Is(err, errRailFailed):
		return e.recordRailFailure(ctx, req, hash, sender, railErr)
	case errors.Is(err, store.ErrDuplicateIdempotencyKey):
		prior, perr := priorAttempt(ctx, e.store, req.IdempotencyKey, hash)
		if perr != nil {
			return ExternalResult{}, perr
		}
		if prior == nil {
			return ExternalResult{}, fmt.Errorf("idempotency key %s conflicted but no transaction is stored", req.IdempotencyKey)
		}
		return e.replayExternal(ctx, e.store, *prior)
	case err != nil:
		if rej, ok := domain.AsRejection(err); ok {
			rejectionsTotal.WithLabelValues(flowExternal, string(rej.Reason)).Inc()
			e.log.Info("external transfer rejected", "user", req.UserID, "direction", req.Direction, "reason", rej.Reason)
			return ExternalResult{}, err
		}
		if errors.Is(err, domain.ErrIdempotencyMismatch) {
			return ExternalResult{}, err
		}
		e.log.Error("external transfer failed", "user", req.UserID, "err", err)
		return ExternalResult{}, fmt.Errorf("external transfer: %w", err)
	}

	if res.Replayed {
		replaysTotal.WithLabelValues(flowExternal).Inc()
	} else {
		transfersTotal.WithLabelValues(flowExternal, string(res.Status)).Inc()
		e.log.Info("external transfer submitted", "transaction", res.TransactionID,
			"rail_transfer_id", res.RailTransferID, "direction", req.Direction, "status", res.Status)
	}
	return res, nil
}

func (e *Executor) submit(ctx context.Context, sub rail.Submission) (rail.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, e.railTimeout)
	defer cancel()

	start := time.Now()
	receipt, err := e.rail.Submit(ctx, sub)
	railLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return rail.Receipt{}, err
	}
	if receipt.TransferID == "" {
		return rail.Receipt{}, errors.New("rail accepted the transfer without an id")
	}
	return receipt, nil
}

// recordRailFailure stores the failed attempt in a fresh unit so the caller's
// retry with the same key sees the failure rather than resubmitting.
func (e *Executor) recordRailFailure(ctx context.Context, req ExternalTransferRequest, hash string, sender domain.Account, railErr error) (ExternalResult, error) {
	reason := domain.ReasonRailTimeout
	var rej *rail.Rejection
	if errors.As(railErr, &rej) {
		reason = domain.ReasonRailRejected
	}
	e.log.Warn("rail submission failed", "user", req.UserID, "reason", reason, "err", railErr)

	// The caller's deadline may be what expired; the failure is still recorded.
	ctx = context.WithoutCancel(ctx)

	var res ExternalResult
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		prior, err := priorAttempt(ctx, tx, req.IdempotencyKey, hash)
		if err != nil {
			return err
		}
		if prior != nil {
			res, err = e.replayExternal(ctx, tx, *prior)
			return err
		}

		now := e.now()
		txn := domain.Transaction{
			ID:             uuid.New(),
			UserID:         req.UserID,
			Amount:         req.Amount,
			Currency:       sender.Currency,
			Type:           req.Direction.TransactionType(),
			Status:         domain.TxFailed,
			Description:    req.Description,
			IdempotencyKey: req.IdempotencyKey,
			RequestHash:    hash,
			Metadata: map[string]any{
				"external_account_id": req.ExternalAccountID.String(),
				"failure_reason":      string(reason),
				"rail_error":          railErr.Error(),
			},
			CreatedAt: now,
			UpdatedAt: now,
		}
		if req.Direction == domain.DirectionDeposit {
			txn.ToAccountID = &sender.ID
		} else {
			txn.FromAccountID = &sender.ID
		}
		if err := tx.InsertTransaction(ctx, &txn); err != nil {
			return fmt.Errorf("transaction insert failed: %w", err)
		}
		res = externalResult(txn, nil, false)
		return nil
	})
	if err != nil {
		return ExternalResult{}, fmt.Errorf("record rail failure: %w", err)
	}
	if !res.Replayed {
		transfersTotal.WithLabelValues(flowExternal, string(res.Status)).Inc()
	}
	return res, nil
}

func (e *Executor) replayExternal(ctx context.Context, r store.Reader, txn domain.Transaction) (ExternalResult, error) {
	et, err := r.GetExternalTransferByTransaction(ctx, txn.ID)
	if errors.Is(err, domain.ErrNotFound) {
		return externalResult(txn, nil, true), nil
	}
	if err != nil {
		return ExternalResult{}, err
	}
	return externalResult(txn, &et, true), nil
}

func externalResult(txn domain.Transaction, et *domain.ExternalTransfer, replayed bool) ExternalResult {
	res := ExternalResult{
		TransactionID: txn.ID,
		Status:        txn.Status,
		FailureReason: metaString(txn.Metadata, "failure_reason"),
		Replayed:      replayed,
	}
	if et != nil {
		id := et.ID
		res.ExternalTransferID = &id
		res.TransferStatus = et.Status
		res.RailTransferID = et.RailTransferID
		res.ExpectedSettlement = et.ExpectedSettlement
		if res.FailureReason == "" && et.FailureReason != nil {
			res.FailureReason = *et.FailureReason
		}
	}
	return res
}
