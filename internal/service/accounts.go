package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/punchamoorthee/neoledger/internal/domain"
	"github.com/punchamoorthee/neoledger/internal/store"
	"github.com/shopspring/decimal"
)

const (
	RoutingNumber = "021000021"

	openAttempts = 3
)

// Accounts handles onboarding and status changes of internal accounts.
type Accounts struct {
	store store.Store
	log   *log.Logger
	now   func() time.Time
}

func NewAccounts(s store.Store, logger *log.Logger, now func() time.Time) *Accounts {
	if logger == nil {
		logger = log.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Accounts{store: s, log: logger.With("component", "accounts"), now: now}
}

// GenerateAccountNumber builds a 13 digit number from the last eight digits
// of the millisecond clock and five random digits.
func GenerateAccountNumber(now time.Time) string {
	return fmt.Sprintf("%08d%05d", now.UnixMilli()%100_000_000, rand.IntN(100_000))
}

// Open creates a zero-balance account for userID. A user holds at most one
// active transfer-eligible account.
func (a *Accounts) Open(ctx context.Context, userID uuid.UUID, class domain.AccountClass, currency string) (domain.Account, error) {
	if !class.TransferEligible() {
		return domain.Account{}, fmt.Errorf("unsupported account class %q", class)
	}
	if currency == "" {
		currency = domain.DefaultCurrency
	}

	var acct domain.Account
	var err error
	for attempt := 0; attempt < openAttempts; attempt++ {
		err = a.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
			if _, err := tx.GetUser(ctx, userID); err != nil {
				return fmt.Errorf("user %s: %w", userID, err)
			}
			existing, err := tx.ListAccountsByUser(ctx, userID)
			if err != nil {
				return err
			}
			for _, e := range existing {
				if e.Transferable() {
					return domain.ErrAccountExists
				}
			}

			now := a.now()
			acct = domain.Account{
				ID:            uuid.New(),
				UserID:        userID,
				AccountNumber: GenerateAccountNumber(now),
				RoutingNumber: RoutingNumber,
				Class:         class,
				Currency:      currency,
				Status:        domain.AccountActive,
				Balance:       decimal.Zero,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			return tx.InsertAccount(ctx, &acct)
		})
		// A clashing account number or a concurrent open; the next attempt
		// either picks a fresh number or sees the other account.
		if !errors.Is(err, store.ErrDuplicate) {
			break
		}
	}
	if err != nil {
		return domain.Account{}, err
	}
	a.log.Info("account opened", "account", acct.ID, "user", userID, "class", class)
	return acct, nil
}

func (a *Accounts) Get(ctx context.Context, id uuid.UUID) (domain.Account, error) {
	return a.store.GetAccount(ctx, id)
}

// Freeze stops an active account from sending or receiving transfers.
func (a *Accounts) Freeze(ctx context.Context, id uuid.UUID) (domain.Account, error) {
	return a.setStatus(ctx, id, domain.AccountFrozen, func(_ context.Context, _ store.Tx, acct domain.Account) error {
		if acct.Status != domain.AccountActive {
			return fmt.Errorf("%w: account is %s", domain.ErrInvalidTransition, acct.Status)
		}
		return nil
	})
}

// Unfreeze returns a frozen account to service, unless the owner has since
// opened another active account.
func (a *Accounts) Unfreeze(ctx context.Context, id uuid.UUID) (domain.Account, error) {
	return a.setStatus(ctx, id, domain.AccountActive, func(ctx context.Context, tx store.Tx, acct domain.Account) error {
		if acct.Status != domain.AccountFrozen {
			return fmt.Errorf("%w: account is %s", domain.ErrInvalidTransition, acct.Status)
		}
		others, err := tx.ListAccountsByUser(ctx, acct.UserID)
		if err != nil {
			return err
		}
		for _, o := range others {
			if o.ID != acct.ID && o.Status == domain.AccountActive {
				return domain.ErrAccountExists
			}
		}
		return nil
	})
}

// Close retires an account permanently. Its balance must be zero and no
// deposit or withdrawal may still be awaiting the rail.
func (a *Accounts) Close(ctx context.Context, id uuid.UUID) (domain.Account, error) {
	return a.setStatus(ctx, id, domain.AccountClosed, func(ctx context.Context, tx store.Tx, acct domain.Account) error {
		if acct.Status == domain.AccountClosed {
			return fmt.Errorf("%w: account is already closed", domain.ErrInvalidTransition)
		}
		if !acct.Balance.IsZero() {
			return domain.ErrNonZeroBalance
		}
		n, err := tx.CountInFlightExternalTransfers(ctx, acct.ID)
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: %d pending", domain.ErrTransfersInFlight, n)
		}
		return nil
	})
}

type statusCheck func(ctx context.Context, tx store.Tx, acct domain.Account) error

func (a *Accounts) setStatus(ctx context.Context, id uuid.UUID, status domain.AccountStatus, check statusCheck) (domain.Account, error) {
	var acct domain.Account
	err := a.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		locked, err := tx.LockAccounts(ctx, id)
		if err != nil {
			return err
		}
		acct = locked[id]
		if err := check(ctx, tx, acct); err != nil {
			return err
		}
		if err := tx.UpdateAccountStatus(ctx, id, status); err != nil {
			return err
		}
		acct.Status = status
		return nil
	})
	// A concurrent open took the one active slot.
	if errors.Is(err, store.ErrDuplicate) {
		return domain.Account{}, domain.ErrAccountExists
	}
	if err != nil {
		return domain.Account{}, err
	}
	a.log.Info("account status changed", "account", id, "status", status)
	return acct, nil
}
