package verify

import (
	"errors"
	"fmt"
	"math/big"
)

// Reason classifies why a verification failed. Callers branch on it:
// retryable reasons go back through the retry budget, permanent ones
// are surfaced to the user as-is and must never be retried.
type Reason string

const (
	// ReasonTransientNetwork covers timeouts and rate limits. Retryable.
	ReasonTransientNetwork Reason = "transient_network_error"

	// ReasonNotFound means the node has no receipt for the hash, which
	// usually just means the transaction is not mined yet. Retryable.
	ReasonNotFound Reason = "transaction_not_found"

	// ReasonReverted means the transaction executed and failed. Permanent.
	ReasonReverted Reason = "transaction_reverted"

	// ReasonLogMismatch means the receipt exists but no matching
	// transfer event was emitted to the expected recipient. A likely
	// sign of a wrong or forged hash. Permanent.
	ReasonLogMismatch Reason = "log_mismatch"

	// ReasonAmountMismatch means the transferred amount does not equal
	// the expected amount exactly. Permanent.
	ReasonAmountMismatch Reason = "amount_mismatch"
)

// Error is a classified verification failure. For amount mismatches it
// carries both values so callers can explain the discrepancy.
type Error struct {
	Reason   Reason
	Message  string
	Expected *big.Int
	Actual   *big.Int
	Err      error
}

func (e *Error) Error() string {
	if e.Reason == ReasonAmountMismatch && e.Expected != nil && e.Actual != nil {
		return fmt.Sprintf("%s: expected %s, got %s", e.Reason, e.Expected, e.Actual)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Reason, e.Message)
	}
	return string(e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure may resolve on its own.
func (e *Error) Retryable() bool {
	return e.Reason == ReasonTransientNetwork || e.Reason == ReasonNotFound
}

// ReasonOf extracts the verification reason from an error chain.
func ReasonOf(err error) (Reason, bool) {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Reason, true
	}
	return "", false
}

// IsRetryable reports whether err is a retryable verification failure.
// Unclassified errors are not retried here; transport retries happen
// below this layer.
func IsRetryable(err error) bool {
	var ve *Error
	return errors.As(err, &ve) && ve.Retryable()
}
