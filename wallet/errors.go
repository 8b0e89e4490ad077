package wallet

import "errors"

var (
	// ErrInvalidConfig is returned when the session configuration is
	// incomplete.
	ErrInvalidConfig = errors.New("invalid config")

	// ErrNoAccount is returned when an operation needs an active account
	// and none is configured.
	ErrNoAccount = errors.New("no active account")

	// ErrNoLedger is returned when an operation needs a ledger connection
	// and the session has none.
	ErrNoLedger = errors.New("no ledger connection")

	// ErrNoTransfer is returned when a send is attempted while the
	// transfer intent is incomplete.
	ErrNoTransfer = errors.New("transfer intent incomplete")

	// ErrNoSignature is returned when a confirmation is attempted without
	// a signature.
	ErrNoSignature = errors.New("no signature to confirm")
)
