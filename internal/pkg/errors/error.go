package xerrors

import (
	"errors"
	"fmt"
)

// Common reusable application errors
var (
	ErrNotFound       = errors.New("resource not found")
	ErrUnauthorized   = errors.New("unauthorized access")
	ErrForbidden      = errors.New("forbidden")
	ErrInvalidInput   = errors.New("invalid input")
	ErrConflict       = errors.New("conflict: resource already exists")
	ErrInternal       = errors.New("internal server error")
	ErrRateLimited    = errors.New("too many requests")
	ErrDuplicateEntry = errors.New("duplicate entry")
)

// Token accounting errors. Everything except ErrStorage is an eligibility
// outcome the caller is expected to show to the account holder.
var (
	ErrNoActivePlan      = errors.New("account has no active plan")
	ErrPlanExpired       = errors.New("account plan has expired")
	ErrNoTokensAvailable = errors.New("no listing tokens available")
	ErrInvalidTransition = errors.New("listing is already in the requested token state")
	ErrDuplicatePayment  = errors.New("payment reference already applied")
	ErrStorage           = errors.New("storage failure")
)

// Reason codes returned to API clients alongside eligibility errors.
const (
	ReasonNoPlan            = "no_plan"
	ReasonPlanExpired       = "plan_expired"
	ReasonNoTokens          = "no_tokens"
	ReasonNotFound          = "not_found"
	ReasonForbidden         = "forbidden"
	ReasonInvalidInput      = "invalid_input"
	ReasonInvalidTransition = "invalid_transition"
	ReasonDuplicatePayment  = "duplicate_payment"
	ReasonStorage           = "storage_failure"
	ReasonInternal          = "internal"
)

// Reason maps an error to its stable reason code.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoActivePlan):
		return ReasonNoPlan
	case errors.Is(err, ErrPlanExpired):
		return ReasonPlanExpired
	case errors.Is(err, ErrNoTokensAvailable):
		return ReasonNoTokens
	case errors.Is(err, ErrNotFound):
		return ReasonNotFound
	case errors.Is(err, ErrForbidden):
		return ReasonForbidden
	case errors.Is(err, ErrInvalidInput):
		return ReasonInvalidInput
	case errors.Is(err, ErrInvalidTransition):
		return ReasonInvalidTransition
	case errors.Is(err, ErrDuplicatePayment):
		return ReasonDuplicatePayment
	case errors.Is(err, ErrStorage):
		return ReasonStorage
	default:
		return ReasonInternal
	}
}

// IsEligibility reports whether err is a business outcome rather than a fault.
func IsEligibility(err error) bool {
	switch Reason(err) {
	case ReasonStorage, ReasonInternal, "":
		return false
	}
	return true
}

// Storage wraps a persistence failure so callers can detect it with errors.Is(err, ErrStorage).
// Eligibility errors pass through untouched.
func Storage(err error, message string) error {
	if err == nil {
		return nil
	}
	if IsEligibility(err) || errors.Is(err, ErrStorage) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", message, ErrStorage, err)
}

// Is allows checking whether an error is a specific sentinel error.
func Is(err, target error) bool {
	return errors.Is(err, target)
}
