package xerrors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReason(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrNoActivePlan, ReasonNoPlan},
		{fmt.Errorf("activate: %w", ErrPlanExpired), ReasonPlanExpired},
		{ErrNoTokensAvailable, ReasonNoTokens},
		{ErrNotFound, ReasonNotFound},
		{ErrForbidden, ReasonForbidden},
		{ErrInvalidInput, ReasonInvalidInput},
		{ErrInvalidTransition, ReasonInvalidTransition},
		{ErrDuplicatePayment, ReasonDuplicatePayment},
		{Storage(errors.New("conn reset"), "save ledger"), ReasonStorage},
		{errors.New("boom"), ReasonInternal},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Reason(tt.err), "%v", tt.err)
	}
}

func TestStorageWrapping(t *testing.T) {
	assert.Nil(t, Storage(nil, "x"))

	wrapped := Storage(context.DeadlineExceeded, "lock ledger")
	assert.ErrorIs(t, wrapped, ErrStorage)
	assert.ErrorIs(t, wrapped, context.DeadlineExceeded)
	assert.False(t, IsEligibility(wrapped))

	// Eligibility outcomes are never disguised as storage failures.
	assert.Same(t, ErrNotFound, Storage(ErrNotFound, "lock listing"))
	assert.True(t, IsEligibility(ErrNoTokensAvailable))

	// Already-wrapped errors are not wrapped twice.
	assert.Equal(t, wrapped, Storage(wrapped, "again"))
}
