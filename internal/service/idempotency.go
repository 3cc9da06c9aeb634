package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/punchamoorthee/neoledger/internal/domain"
	"github.com/punchamoorthee/neoledger/internal/store"
)

// requestHash fingerprints the parameters that define a transfer attempt so a
// reused idempotency key can be told apart from a genuine retry.
func requestHash(fields ...string) string {
	h := sha256.New()
	for _, f := range fields {
		h.Write([]byte(f))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// priorAttempt returns the transaction already stored under key, or nil.
// A stored attempt with a different fingerprint is ErrIdempotencyMismatch.
func priorAttempt(ctx context.Context, r store.Reader, key, hash string) (*domain.Transaction, error) {
	txn, err := r.GetTransactionByIdempotencyKey(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if txn.RequestHash != hash {
		return nil, domain.ErrIdempotencyMismatch
	}
	return &txn, nil
}

func normalizeIdentifier(s string) string {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "@") {
		return strings.ToLower(s)
	}
	return s
}
