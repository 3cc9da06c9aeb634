// Package rail talks to the external payment rail provider that moves money
// between the ledger and linked bank accounts.
package rail

import (
	"fmt"
	"time"

	"github.com/punchamoorthee/neoledger/internal/domain"
	"github.com/shopspring/decimal"
)

// Status is a transfer state as reported by the provider.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPosted    Status = "posted"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusReturned  Status = "returned"
)

// Submission asks the provider to move Amount to or from the linked account
// identified by Handle.
type Submission struct {
	Handle         string           `json:"access_handle"`
	Amount         decimal.Decimal  `json:"amount"`
	Currency       string           `json:"iso_currency_code"`
	Direction      domain.Direction `json:"direction"`
	IdempotencyKey string           `json:"idempotency_key"`
	Description    string           `json:"description"`
}

// Receipt is the provider's acknowledgement of a submission.
type Receipt struct {
	TransferID         string     `json:"transfer_id"`
	Status             Status     `json:"status"`
	ExpectedSettlement *time.Time `json:"expected_settlement_date,omitempty"`
}

// Rejection is a synchronous decline from the provider.
type Rejection struct {
	Code   string `json:"error_code"`
	Reason string `json:"error_message"`
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("rail rejected transfer: %s: %s", r.Code, r.Reason)
}
