package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/punchamoorthee/neoledger/internal/domain"
	"github.com/punchamoorthee/neoledger/internal/store"
)

const DefaultRecentRecipients = 5

// Recipient is the public view of a resolved peer-transfer destination.
type Recipient struct {
	AccountID     uuid.UUID `json:"account_id"`
	AccountNumber string    `json:"account_number"`
	FirstName     string    `json:"first_name"`
	LastName      string    `json:"last_name"`
	Email         string    `json:"email"`
}

// Directory maps recipient identifiers to transferable internal accounts.
// It never writes.
type Directory struct {
	store    store.Reader
	verifier Verifier
}

func NewDirectory(r store.Reader, verifier Verifier) *Directory {
	return &Directory{store: r, verifier: verifier}
}

// Resolve finds the account identifier points at, reading through r so it
// sees the caller's unit of work. Identifiers containing '@' are emails and
// match case-insensitively; anything else must be an account number.
func (d *Directory) Resolve(ctx context.Context, r store.Reader, identifier string, senderID uuid.UUID) (domain.Account, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return domain.Account{}, domain.Reject(domain.ReasonRecipientNotFound, "recipient identifier is empty")
	}

	var (
		acct domain.Account
		err  error
	)
	if strings.Contains(identifier, "@") {
		acct, err = d.byEmail(ctx, r, strings.ToLower(identifier))
	} else {
		acct, err = d.byNumber(ctx, r, identifier)
	}
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Account{}, domain.Reject(domain.ReasonRecipientNotFound, "no eligible account for %q", identifier)
	}
	if err != nil {
		return domain.Account{}, err
	}

	if acct.UserID == senderID {
		return domain.Account{}, domain.Reject(domain.ReasonSelfTransfer, "cannot transfer to your own account")
	}
	ok, err := d.verifier.IsVerified(ctx, acct.UserID)
	if err != nil {
		return domain.Account{}, err
	}
	if !ok {
		return domain.Account{}, domain.Reject(domain.ReasonRecipientNotVerified, "recipient has not completed verification")
	}
	return acct, nil
}

func (d *Directory) byEmail(ctx context.Context, r store.Reader, email string) (domain.Account, error) {
	u, err := r.FindUserByEmail(ctx, email)
	if err != nil {
		return domain.Account{}, err
	}
	accounts, err := r.ListAccountsByUser(ctx, u.ID)
	if err != nil {
		return domain.Account{}, err
	}
	for _, a := range accounts {
		if a.Transferable() {
			return a, nil
		}
	}
	return domain.Account{}, domain.ErrNotFound
}

func (d *Directory) byNumber(ctx context.Context, r store.Reader, number string) (domain.Account, error) {
	for _, c := range number {
		if c < '0' || c > '9' {
			return domain.Account{}, domain.ErrNotFound
		}
	}
	a, err := r.FindAccountByNumber(ctx, number)
	if err != nil {
		return domain.Account{}, err
	}
	if !a.Transferable() {
		return domain.Account{}, domain.ErrNotFound
	}
	return a, nil
}

// Lookup resolves identifier for senderID outside any unit of work.
func (d *Directory) Lookup(ctx context.Context, identifier string, senderID uuid.UUID) (Recipient, error) {
	acct, err := d.Resolve(ctx, d.store, identifier, senderID)
	if err != nil {
		return Recipient{}, err
	}
	return d.recipient(ctx, acct)
}

// RecentRecipients lists the accounts userID most recently paid, newest first.
// Accounts that are no longer transferable are skipped.
func (d *Directory) RecentRecipients(ctx context.Context, userID uuid.UUID, limit int) ([]Recipient, error) {
	if limit <= 0 {
		limit = DefaultRecentRecipients
	}
	ids, err := d.store.RecentPeerRecipients(ctx, userID, limit)
	if err != nil {
		return nil, err
	}

	out := make([]Recipient, 0, len(ids))
	for _, id := range ids {
		acct, err := d.store.GetAccount(ctx, id)
		if err != nil {
			return nil, err
		}
		if !acct.Transferable() {
			continue
		}
		rc, err := d.recipient(ctx, acct)
		if err != nil {
			return nil, err
		}
		out = append(out, rc)
	}
	return out, nil
}

func (d *Directory) recipient(ctx context.Context, acct domain.Account) (Recipient, error) {
	u, err := d.store.GetUser(ctx, acct.UserID)
	if err != nil {
		return Recipient{}, err
	}
	return Recipient{
		AccountID:     acct.ID,
		AccountNumber: acct.AccountNumber,
		FirstName:     u.FirstName,
		LastName:      u.LastName,
		Email:         u.Email,
	}, nil
}
