package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/neoledger/internal/domain"
	"github.com/punchamoorthee/neoledger/internal/store"
	"github.com/shopspring/decimal"
)

// Limits are the static transfer thresholds.
type Limits struct {
	PerTransfer decimal.Decimal
	Daily       decimal.Decimal
	// ReviewThreshold holds peer transfers of at least this amount for review.
	ReviewThreshold decimal.Decimal
	// Location fixes the daily window to local midnight.
	Location *time.Location
	Currency string
}

// DefaultLimits mirrors the thresholds the product launched with.
func DefaultLimits() Limits {
	return Limits{
		PerTransfer:     decimal.NewFromInt(10000),
		Daily:           decimal.NewFromInt(25000),
		ReviewThreshold: decimal.NewFromInt(5000),
		Location:        time.UTC,
		Currency:        domain.DefaultCurrency,
	}
}

// PeerCheck is the input to ValidatePeer.
type PeerCheck struct {
	SenderID            uuid.UUID
	RecipientIdentifier string
	Amount              decimal.Decimal
}

// ExternalCheck is the input to ValidateExternal.
type ExternalCheck struct {
	UserID            uuid.UUID
	ExternalAccountID uuid.UUID
	Amount            decimal.Decimal
	Direction         domain.Direction
}

// Approval carries the records a passed validation resolved. Sender and
// Recipient are read under row locks held by the unit of work.
type Approval struct {
	Sender    domain.Account
	Recipient *domain.Account
	Link      *domain.ExternalLink
}

// Validator runs the transfer policy checks in a fixed order and stops at
// the first failure.
type Validator struct {
	limits   Limits
	verifier Verifier
	links    LinkResolver
	dir      *Directory
	now      func() time.Time
}

func NewValidator(limits Limits, verifier Verifier, links LinkResolver, dir *Directory, now func() time.Time) *Validator {
	if limits.Location == nil {
		limits.Location = time.UTC
	}
	if limits.Currency == "" {
		limits.Currency = domain.DefaultCurrency
	}
	if now == nil {
		now = time.Now
	}
	return &Validator{limits: limits, verifier: verifier, links: links, dir: dir, now: now}
}

func (v *Validator) Limits() Limits {
	return v.limits
}

// ValidatePeer must run inside the unit of work that will apply the transfer.
func (v *Validator) ValidatePeer(ctx context.Context, tx store.Tx, c PeerCheck) (Approval, error) {
	sender, err := v.commonChecks(ctx, tx, c.SenderID, c.Amount)
	if err != nil {
		return Approval{}, err
	}

	recipient, err := v.dir.Resolve(ctx, tx, c.RecipientIdentifier, c.SenderID)
	if err != nil {
		return Approval{}, err
	}

	locked, err := tx.LockAccounts(ctx, sender.ID, recipient.ID)
	if err != nil {
		return Approval{}, err
	}
	sender, recipient = locked[sender.ID], locked[recipient.ID]
	if !sender.Transferable() {
		return Approval{}, domain.Reject(domain.ReasonAccountInactive, "account %s is %s", sender.AccountNumber, sender.Status)
	}
	if !recipient.Transferable() {
		return Approval{}, domain.Reject(domain.ReasonRecipientNotFound, "recipient account is no longer active")
	}

	if err := v.balanceAndLimits(ctx, tx, sender, c.SenderID, c.Amount, true); err != nil {
		return Approval{}, err
	}
	return Approval{Sender: sender, Recipient: &recipient}, nil
}

// ValidateExternal must run inside the unit of work that will record the transfer.
func (v *Validator) ValidateExternal(ctx context.Context, tx store.Tx, c ExternalCheck) (Approval, error) {
	if !c.Direction.Valid() {
		return Approval{}, fmt.Errorf("unknown direction %q", c.Direction)
	}
	sender, err := v.commonChecks(ctx, tx, c.UserID, c.Amount)
	if err != nil {
		return Approval{}, err
	}

	link, err := v.links.ResolveExternalLink(ctx, c.UserID, c.ExternalAccountID)
	if errors.Is(err, domain.ErrNotFound) {
		return Approval{}, domain.Reject(domain.ReasonExternalAccountNotVerified, "external account not linked")
	}
	if err != nil {
		return Approval{}, err
	}
	if !link.Verified || link.UserID != c.UserID {
		return Approval{}, domain.Reject(domain.ReasonExternalAccountNotVerified, "external account is not verified")
	}

	locked, err := tx.LockAccounts(ctx, sender.ID)
	if err != nil {
		return Approval{}, err
	}
	sender = locked[sender.ID]
	if !sender.Transferable() {
		return Approval{}, domain.Reject(domain.ReasonAccountInactive, "account %s is %s", sender.AccountNumber, sender.Status)
	}

	debits := c.Direction == domain.DirectionWithdrawal
	if err := v.balanceAndLimits(ctx, tx, sender, c.UserID, c.Amount, debits); err != nil {
		return Approval{}, err
	}
	return Approval{Sender: sender, Link: &link}, nil
}

// commonChecks covers the amount, verification and account checks shared by both flows.
func (v *Validator) commonChecks(ctx context.Context, tx store.Tx, userID uuid.UUID, amount decimal.Decimal) (domain.Account, error) {
	if !domain.ValidAmount(amount, v.limits.Currency) {
		return domain.Account{}, domain.Reject(domain.ReasonInvalidAmount,
			"amount must be positive with at most %d decimal places", domain.MinorUnits(v.limits.Currency))
	}

	ok, err := v.verifier.IsVerified(ctx, userID)
	if err != nil {
		return domain.Account{}, fmt.Errorf("verification lookup: %w", err)
	}
	if !ok {
		return domain.Account{}, domain.Reject(domain.ReasonVerificationRequired, "identity verification is required before transferring")
	}

	accounts, err := tx.ListAccountsByUser(ctx, userID)
	if err != nil {
		return domain.Account{}, err
	}
	var active []domain.Account
	for _, a := range accounts {
		if a.Transferable() {
			active = append(active, a)
		}
	}
	if len(active) != 1 {
		return domain.Account{}, domain.Reject(domain.ReasonNoActiveAccount, "found %d active accounts", len(active))
	}
	return active[0], nil
}

func (v *Validator) balanceAndLimits(ctx context.Context, tx store.Tx, sender domain.Account, userID uuid.UUID, amount decimal.Decimal, debits bool) error {
	if debits {
		held, err := tx.SumHeldWithdrawals(ctx, sender.ID)
		if err != nil {
			return err
		}
		available := sender.Balance.Sub(held)
		if available.LessThan(amount) {
			return domain.Reject(domain.ReasonInsufficientFunds, "available balance %s", domain.FormatAmount(available, sender.Currency))
		}
	}

	if amount.GreaterThan(v.limits.PerTransfer) {
		return domain.Reject(domain.ReasonExceedsTransferLimit, "maximum transfer amount is %s",
			domain.FormatAmount(v.limits.PerTransfer, v.limits.Currency))
	}

	spent, err := tx.SumInitiatedSince(ctx, userID, v.dayStart())
	if err != nil {
		return err
	}
	if spent.Add(amount).GreaterThan(v.limits.Daily) {
		remaining := decimal.Max(v.limits.Daily.Sub(spent), decimal.Zero)
		rej := domain.Reject(domain.ReasonExceedsDailyLimit, "daily limit remaining %s",
			domain.FormatAmount(remaining, v.limits.Currency))
		rej.Remaining = &remaining
		return rej
	}
	return nil
}

// dayStart is local midnight of the current day in the configured location.
func (v *Validator) dayStart() time.Time {
	now := v.now().In(v.limits.Location)
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, v.limits.Location)
}
