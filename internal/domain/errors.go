package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrIdempotencyMismatch is returned when an idempotency key is reused with different parameters.
	ErrIdempotencyMismatch = errors.New("key reuse with mismatched payload")

	// ErrInvalidTransition is returned when a status change would move backwards or out of a terminal state.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrAccountExists is returned when a user already holds an active transfer-eligible account.
	ErrAccountExists = errors.New("active account already exists")

	// ErrNonZeroBalance is returned when closing an account that still holds funds.
	ErrNonZeroBalance = errors.New("account balance is not zero")

	// ErrForbidden is returned when the caller may not act on the record.
	ErrForbidden = errors.New("forbidden")

	// ErrTransfersInFlight is returned when closing an account that still has unsettled external transfers.
	ErrTransfersInFlight = errors.New("external transfers still in flight")

	// ErrIntegrity marks a ledger that disagrees with its stored balance. It needs an operator.
	ErrIntegrity = errors.New("ledger integrity violation")
)

// RejectionReason names the policy check a transfer failed.
type RejectionReason string

const (
	ReasonInvalidAmount              RejectionReason = "INVALID_AMOUNT"
	ReasonVerificationRequired       RejectionReason = "VERIFICATION_REQUIRED"
	ReasonNoActiveAccount            RejectionReason = "NO_ACTIVE_ACCOUNT"
	ReasonRecipientNotFound          RejectionReason = "RECIPIENT_NOT_FOUND"
	ReasonSelfTransfer               RejectionReason = "SELF_TRANSFER"
	ReasonRecipientNotVerified       RejectionReason = "RECIPIENT_NOT_VERIFIED"
	ReasonExternalAccountNotVerified RejectionReason = "EXTERNAL_ACCOUNT_NOT_VERIFIED"
	ReasonInsufficientFunds          RejectionReason = "INSUFFICIENT_FUNDS"
	ReasonExceedsTransferLimit       RejectionReason = "EXCEEDS_TRANSFER_LIMIT"
	ReasonExceedsDailyLimit          RejectionReason = "EXCEEDS_DAILY_LIMIT"
	ReasonAccountInactive            RejectionReason = "ACCOUNT_INACTIVE"
	ReasonRailRejected               RejectionReason = "RAIL_REJECTED"
	ReasonRailTimeout                RejectionReason = "RAIL_TIMEOUT"
)

// Rejection is a synchronous policy outcome. It is never retried and never
// leaves partial state behind.
type Rejection struct {
	Reason    RejectionReason
	Message   string
	Remaining *decimal.Decimal
}

func (r *Rejection) Error() string {
	if r.Message == "" {
		return string(r.Reason)
	}
	return fmt.Sprintf("%s: %s", r.Reason, r.Message)
}

// Reject builds a Rejection with a formatted message.
func Reject(reason RejectionReason, format string, args ...any) *Rejection {
	return &Rejection{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// AsRejection unwraps err into a Rejection when it is one.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}
