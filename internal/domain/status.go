package domain

type KYCStatus string

const (
	KYCPending        KYCStatus = "PENDING"
	KYCVerified       KYCStatus = "VERIFIED"
	KYCRejected       KYCStatus = "REJECTED"
	KYCRequiresReview KYCStatus = "REQUIRES_REVIEW"
)

type AccountClass string

const (
	ClassChecking AccountClass = "CHECKING"
	ClassSavings  AccountClass = "SAVINGS"
)

// TransferEligible reports whether accounts of this class take part in transfers.
func (c AccountClass) TransferEligible() bool {
	return c == ClassChecking || c == ClassSavings
}

type AccountStatus string

const (
	AccountActive AccountStatus = "ACTIVE"
	AccountFrozen AccountStatus = "FROZEN"
	AccountClosed AccountStatus = "CLOSED"
)

type VerificationStatus string

const (
	LinkPending  VerificationStatus = "PENDING"
	LinkVerified VerificationStatus = "VERIFIED"
	LinkFailed   VerificationStatus = "FAILED"
)

type TransactionType string

const (
	TypePeerTransfer   TransactionType = "P2P_TRANSFER"
	TypeExternalCredit TransactionType = "EXTERNAL_CREDIT"
	TypeExternalDebit  TransactionType = "EXTERNAL_DEBIT"
	TypeCardPurchase   TransactionType = "CARD_PURCHASE"
	TypeCardRefund     TransactionType = "CARD_REFUND"
	TypeFee            TransactionType = "FEE"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TypePeerTransfer, TypeExternalCredit, TypeExternalDebit, TypeCardPurchase, TypeCardRefund, TypeFee:
		return true
	}
	return false
}

type EntryType string

const (
	EntryDebit  EntryType = "DEBIT"
	EntryCredit EntryType = "CREDIT"
)

type Direction string

const (
	DirectionDeposit    Direction = "DEPOSIT"
	DirectionWithdrawal Direction = "WITHDRAWAL"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == DirectionDeposit || d == DirectionWithdrawal
}

// TransactionType is the ledger type recorded for transfers in this direction.
func (d Direction) TransactionType() TransactionType {
	if d == DirectionDeposit {
		return TypeExternalCredit
	}
	return TypeExternalDebit
}

type TransactionStatus string

const (
	TxPending    TransactionStatus = "PENDING"
	TxProcessing TransactionStatus = "PROCESSING"
	TxCompleted  TransactionStatus = "COMPLETED"
	TxFailed     TransactionStatus = "FAILED"
	TxCancelled  TransactionStatus = "CANCELLED"
)

var txRank = map[TransactionStatus]int{
	TxPending:    0,
	TxProcessing: 1,
	TxCompleted:  2,
	TxFailed:     2,
	TxCancelled:  2,
}

func (s TransactionStatus) Valid() bool {
	_, ok := txRank[s]
	return ok
}

// Terminal reports whether no further transition is allowed.
func (s TransactionStatus) Terminal() bool {
	return txRank[s] == 2
}

// CanTransition reports whether s may move to next. Status only moves forward.
func (s TransactionStatus) CanTransition(next TransactionStatus) bool {
	cur, ok := txRank[s]
	if !ok {
		return false
	}
	n, ok := txRank[next]
	if !ok {
		return false
	}
	return !s.Terminal() && n > cur
}

type ExternalTransferStatus string

const (
	ExtPending    ExternalTransferStatus = "PENDING"
	ExtProcessing ExternalTransferStatus = "PROCESSING"
	ExtCompleted  ExternalTransferStatus = "COMPLETED"
	ExtFailed     ExternalTransferStatus = "FAILED"
	ExtCancelled  ExternalTransferStatus = "CANCELLED"
	ExtReturned   ExternalTransferStatus = "RETURNED"
)

// Terminal reports whether the external transfer has settled one way or another.
func (s ExternalTransferStatus) Terminal() bool {
	switch s {
	case ExtCompleted, ExtFailed, ExtCancelled, ExtReturned:
		return true
	}
	return false
}

// TransactionStatus is the status the owning Transaction takes when the
// external transfer enters s.
func (s ExternalTransferStatus) TransactionStatus() TransactionStatus {
	switch s {
	case ExtCompleted:
		return TxCompleted
	case ExtFailed, ExtReturned:
		return TxFailed
	case ExtCancelled:
		return TxCancelled
	case ExtPending:
		return TxPending
	}
	return TxProcessing
}
