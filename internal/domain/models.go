package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// User is the slice of an identity record the ledger needs: who owns an
// account and how they can be found by email.
type User struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	KYCStatus KYCStatus `json:"kyc_status"`
	CreatedAt time.Time `json:"created_at"`
}

// Account represents a user's internal deposit account.
// Balance must always equal the sum of its CREDIT entries minus its DEBIT entries.
type Account struct {
	ID            uuid.UUID       `json:"id"`
	UserID        uuid.UUID       `json:"user_id"`
	AccountNumber string          `json:"account_number"`
	RoutingNumber string          `json:"routing_number"`
	Class         AccountClass    `json:"account_class"`
	Currency      string          `json:"currency"`
	Status        AccountStatus   `json:"status"`
	Balance       decimal.Decimal `json:"balance"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Transferable reports whether the account can send or receive transfers.
func (a Account) Transferable() bool {
	return a.Status == AccountActive && a.Class.TransferEligible()
}

// ExternalAccount is a bank account at another institution linked through the rail provider.
type ExternalAccount struct {
	ID                 uuid.UUID          `json:"id"`
	UserID             uuid.UUID          `json:"user_id"`
	InstitutionName    string             `json:"institution_name"`
	Mask               string             `json:"mask"`
	RailHandle         string             `json:"-"`
	VerificationStatus VerificationStatus `json:"verification_status"`
	CreatedAt          time.Time          `json:"created_at"`
}

// ExternalLink is the resolved view of an external account for a transfer.
type ExternalLink struct {
	ExternalAccountID uuid.UUID
	UserID            uuid.UUID
	Verified          bool
	Handle            string
}

// Transaction represents the intent to move money. At least one of
// FromAccountID and ToAccountID is set; a nil side means the money entered
// or left the system through an external rail.
type Transaction struct {
	ID             uuid.UUID         `json:"id"`
	UserID         uuid.UUID         `json:"user_id"`
	FromAccountID  *uuid.UUID        `json:"from_account_id,omitempty"`
	ToAccountID    *uuid.UUID        `json:"to_account_id,omitempty"`
	Amount         decimal.Decimal   `json:"amount"`
	Currency       string            `json:"currency"`
	Type           TransactionType   `json:"type"`
	Status         TransactionStatus `json:"status"`
	Description    string            `json:"description"`
	IdempotencyKey string            `json:"idempotency_key"`
	RequestHash    string            `json:"-"`
	ExternalID     *string           `json:"external_id,omitempty"`
	Metadata       map[string]any    `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// LedgerEntry represents one leg of a double-entry transaction.
// Entries are immutable; Sequence orders them per store.
type LedgerEntry struct {
	ID            uuid.UUID       `json:"id"`
	Sequence      int64           `json:"sequence"`
	AccountID     uuid.UUID       `json:"account_id"`
	TransactionID uuid.UUID       `json:"transaction_id"`
	Type          EntryType       `json:"entry_type"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	Description   string          `json:"description"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Signed returns the entry amount as a balance delta.
func (e LedgerEntry) Signed() decimal.Decimal {
	if e.Type == EntryDebit {
		return e.Amount.Neg()
	}
	return e.Amount
}

// ExternalTransfer tracks money moving over an external rail for one Transaction.
type ExternalTransfer struct {
	ID                 uuid.UUID              `json:"id"`
	UserID             uuid.UUID              `json:"user_id"`
	ExternalAccountID  uuid.UUID              `json:"external_account_id"`
	AccountID          uuid.UUID              `json:"account_id"`
	TransactionID      uuid.UUID              `json:"transaction_id"`
	Direction          Direction              `json:"direction"`
	Amount             decimal.Decimal        `json:"amount"`
	Currency           string                 `json:"currency"`
	Status             ExternalTransferStatus `json:"status"`
	RailTransferID     string                 `json:"rail_transfer_id"`
	FailureReason      *string                `json:"failure_reason,omitempty"`
	ExpectedSettlement *time.Time             `json:"expected_settlement,omitempty"`
	CreatedAt          time.Time              `json:"created_at"`
	UpdatedAt          time.Time              `json:"updated_at"`
}

// LedgerTotals aggregates an account's ledger history for integrity checks.
type LedgerTotals struct {
	Credits   decimal.Decimal
	Debits    decimal.Decimal
	Entries   int64
	LastAfter *decimal.Decimal
}

// Net is credits minus debits.
func (t LedgerTotals) Net() decimal.Decimal {
	return t.Credits.Sub(t.Debits)
}
