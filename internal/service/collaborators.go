package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/punchamoorthee/neoledger/internal/domain"
	"github.com/punchamoorthee/neoledger/internal/rail"
	"github.com/punchamoorthee/neoledger/internal/store"
)

// Verifier answers whether a user has passed identity verification.
type Verifier interface {
	IsVerified(ctx context.Context, userID uuid.UUID) (bool, error)
}

// LinkResolver looks up a linked external account on behalf of userID.
// It returns domain.ErrNotFound when the link does not exist or belongs to
// someone else.
type LinkResolver interface {
	ResolveExternalLink(ctx context.Context, userID, externalAccountID uuid.UUID) (domain.ExternalLink, error)
}

// Rail submits money movements to the external payment provider.
type Rail interface {
	Submit(ctx context.Context, sub rail.Submission) (rail.Receipt, error)
}

// StoreVerifier reads the KYC status recorded on the user row.
type StoreVerifier struct {
	Users store.Reader
}

func (v StoreVerifier) IsVerified(ctx context.Context, userID uuid.UUID) (bool, error) {
	u, err := v.Users.GetUser(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load user: %w", err)
	}
	return u.KYCStatus == domain.KYCVerified, nil
}

// StoreLinks resolves external accounts from the external_accounts table.
type StoreLinks struct {
	Accounts store.Reader
}

func (l StoreLinks) ResolveExternalLink(ctx context.Context, userID, externalAccountID uuid.UUID) (domain.ExternalLink, error) {
	a, err := l.Accounts.GetExternalAccount(ctx, externalAccountID)
	if err != nil {
		return domain.ExternalLink{}, err
	}
	if a.UserID != userID {
		return domain.ExternalLink{}, domain.ErrNotFound
	}
	return domain.ExternalLink{
		ExternalAccountID: a.ID,
		UserID:            a.UserID,
		Verified:          a.VerificationStatus == domain.LinkVerified,
		Handle:            a.RailHandle,
	}, nil
}

// Reviewers decides who may settle or cancel transfers held for review.
type Reviewers interface {
	IsReviewer(ctx context.Context, userID uuid.UUID) (bool, error)
}

// ReviewerSet is a fixed list of reviewer user ids, usually from configuration.
// The zero value admits nobody.
type ReviewerSet map[uuid.UUID]struct{}

func NewReviewerSet(ids ...uuid.UUID) ReviewerSet {
	s := make(ReviewerSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s ReviewerSet) IsReviewer(_ context.Context, userID uuid.UUID) (bool, error) {
	_, ok := s[userID]
	return ok, nil
}
