package service

import (
	"testing"

	"github.com/punchamoorthee/neoledger/internal/domain"
	"github.com/punchamoorthee/neoledger/internal/rail"
	"github.com/stretchr/testify/assert"
)

func TestMapRailStatus(t *testing.T) {
	tests := []struct {
		in   rail.Status
		want domain.ExternalTransferStatus
	}{
		{rail.StatusPosted, domain.ExtCompleted},
		{rail.StatusFailed, domain.ExtFailed},
		{rail.StatusCancelled, domain.ExtFailed},
		{rail.StatusReturned, domain.ExtReturned},
		{rail.StatusPending, domain.ExtProcessing},
		{rail.Status("settled_maybe"), domain.ExtProcessing},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MapRailStatus(tt.in), "rail status %q", tt.in)
	}
}

func TestTransition(t *testing.T) {
	tests := []struct {
		name      string
		cur, next domain.ExternalTransferStatus
		want      decision
	}{
		{"repeat processing", domain.ExtProcessing, domain.ExtProcessing, decideNoop},
		{"repeat completed", domain.ExtCompleted, domain.ExtCompleted, decideNoop},
		{"processing to pending", domain.ExtProcessing, domain.ExtPending, decideNoop},
		{"pending to processing", domain.ExtPending, domain.ExtProcessing, decideApply},
		{"processing to completed", domain.ExtProcessing, domain.ExtCompleted, decideApply},
		{"processing to failed", domain.ExtProcessing, domain.ExtFailed, decideApply},
		{"processing to returned", domain.ExtProcessing, domain.ExtReturned, decideApply},
		{"completed to returned", domain.ExtCompleted, domain.ExtReturned, decideAnomaly},
		{"failed to completed", domain.ExtFailed, domain.ExtCompleted, decideAnomaly},
		{"returned to processing", domain.ExtReturned, domain.ExtProcessing, decideAnomaly},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, transition(tt.cur, tt.next))
		})
	}
}
