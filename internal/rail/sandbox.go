package rail

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Sandbox is an in-process provider for development and tests. It accepts
// every submission unless told otherwise and never calls back on its own.
type Sandbox struct {
	// DeclineAbove rejects submissions larger than this amount when set.
	DeclineAbove *decimal.Decimal
	// Delay holds every submission, letting callers exercise their timeout.
	Delay time.Duration
	// SettleAfter is added to the submission time to produce ExpectedSettlement.
	SettleAfter time.Duration
	// Answer is the status receipts report; pending when empty.
	Answer Status

	mu       sync.Mutex
	receipts map[string]Receipt
	subs     []Submission
}

func NewSandbox() *Sandbox {
	return &Sandbox{SettleAfter: 24 * time.Hour, receipts: map[string]Receipt{}}
}

func (s *Sandbox) Submit(ctx context.Context, sub Submission) (Receipt, error) {
	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return Receipt{}, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.receipts[sub.IdempotencyKey]; ok {
		return r, nil
	}
	if s.DeclineAbove != nil && sub.Amount.GreaterThan(*s.DeclineAbove) {
		return Receipt{}, &Rejection{Code: "TRANSFER_LIMIT_EXCEEDED", Reason: "amount exceeds sandbox limit"}
	}
	if sub.Handle == "" {
		return Receipt{}, &Rejection{Code: "INVALID_ACCESS_TOKEN", Reason: "missing account handle"}
	}

	status := s.Answer
	if status == "" {
		status = StatusPending
	}
	settle := time.Now().Add(s.SettleAfter)
	r := Receipt{
		TransferID:         "sbx_" + uuid.NewString(),
		Status:             status,
		ExpectedSettlement: &settle,
	}
	if s.receipts == nil {
		s.receipts = map[string]Receipt{}
	}
	s.receipts[sub.IdempotencyKey] = r
	s.subs = append(s.subs, sub)
	return r, nil
}

// Submissions returns every accepted submission in arrival order.
func (s *Sandbox) Submissions() []Submission {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Submission, len(s.subs))
	copy(out, s.subs)
	return out
}
