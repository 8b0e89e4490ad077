package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig is returned when the client configuration is
	// invalid.
	ErrInvalidConfig = errors.New("invalid ledger client configuration")

	// ErrFaucetRejected is returned when the faucet refuses an airdrop
	// request.
	ErrFaucetRejected = errors.New("faucet rejected the airdrop request")

	// ErrConfirmTimeout is returned when a submitted transfer was not
	// confirmed within the configured window.
	ErrConfirmTimeout = errors.New("timed out waiting for confirmation")
)

// NetworkError wraps connectivity or RPC level failures. Callers recover
// from these by surfacing a message and leaving the session usable.
type NetworkError struct {
	// Op is the ledger operation that failed.
	Op string

	// Err is the underlying failure.
	Err error
}

// Error implements the error interface.
func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error in %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// SubmissionError wraps failures of a transfer submission. Fees may have
// been charged even though the transfer failed, so callers must re-fetch
// the balance after seeing one of these.
type SubmissionError struct {
	// Err is the underlying failure.
	Err error
}

// Error implements the error interface.
func (e *SubmissionError) Error() string {
	return fmt.Sprintf("transfer submission failed: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// IsNetworkError reports whether err is (or wraps) a NetworkError.
func IsNetworkError(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr)
}

// IsSubmissionError reports whether err is (or wraps) a SubmissionError.
func IsSubmissionError(err error) bool {
	var subErr *SubmissionError
	return errors.As(err, &subErr)
}
