package validate

import (
	"strconv"
)

const (
	// PublicKeyLength is the exact length of a base58 encoded public key.
	PublicKeyLength = 44

	// SignatureLength is the exact length of a base58 encoded transaction
	// signature.
	SignatureLength = 88
)

// Status is the verdict of validating a single input field.
type Status int

const (
	// StatusUnset means the field is empty and no verdict applies.
	StatusUnset Status = iota

	// StatusWarning means the input looks incomplete but not wrong yet.
	StatusWarning

	// StatusError means the input can never become valid as-is.
	StatusError

	// StatusSuccess means the input parsed to a usable value.
	StatusSuccess
)

// String returns a human readable name for the status.
func (s Status) String() string {
	switch s {
	case StatusUnset:
		return "unset"
	case StatusWarning:
		return "warning"
	case StatusError:
		return "error"
	case StatusSuccess:
		return "success"
	default:
		return "unknown"
	}
}

// Result is the outcome of validating a raw input string. Message is only
// set when there is something to tell the user.
type Result struct {
	Status  Status
	Message string
}

// isAlphanumeric reports whether s consists only of ASCII letters and
// digits. The base58 alphabet is a strict subset of this, which is all the
// form layer needs to check.
func isAlphanumeric(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z':
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

// isDigits reports whether s consists only of ASCII digits.
func isDigits(s string) bool {
	if len(s) == 0 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// leadingInt parses the longest run of leading digits in s, mirroring the
// lenient integer parsing browsers apply to form input. The second return
// value is false when s has no leading digit at all.
func leadingInt(s string) (uint64, bool) {
	var (
		end int
	)
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}

	value, err := strconv.ParseUint(s[:end], 10, 64)
	if err != nil {
		// Out of range for uint64, treat as larger than any ceiling.
		return ^uint64(0), true
	}

	return value, true
}

// PublicKey validates a recipient public key field. Exactly
// PublicKeyLength alphanumeric characters are a success, anything longer is
// an error, shorter non-empty input is treated as still being typed.
func PublicKey(raw string) Result {
	length := len(raw)
	switch {
	case length == PublicKeyLength:
		if isAlphanumeric(raw) {
			return Result{Status: StatusSuccess}
		}
		return Result{Status: StatusError}

	case length > PublicKeyLength:
		return Result{Status: StatusError}

	case length > 0:
		return Result{Status: StatusWarning}

	default:
		return Result{Status: StatusUnset}
	}
}

// Amount validates a transfer amount field against the current balance
// ceiling. The returned value is only meaningful when the result status is
// StatusSuccess.
//
// The ceiling check uses lenient leading-digit parsing on purpose: input
// like "999x" with a ceiling of 10 is reported as insufficient funds rather
// than malformed, matching how the amount field has always behaved.
func Amount(raw string, ceiling uint64) (Result, uint64) {
	if len(raw) == 0 {
		return Result{Status: StatusUnset}, 0
	}

	if value, ok := leadingInt(raw); ok && value > ceiling {
		return Result{
			Status:  StatusError,
			Message: "Insufficient funds",
		}, 0
	}

	if isDigits(raw) {
		value, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return Result{
				Status:  StatusError,
				Message: "Insufficient funds",
			}, 0
		}
		return Result{Status: StatusSuccess}, value
	}

	return Result{
		Status:  StatusError,
		Message: "Not a valid number",
	}, 0
}

// Signature validates a transaction signature field. Exactly
// SignatureLength alphanumeric characters are a success. Input longer than a
// public key but not a full signature is an error, anything shorter is
// treated as still being typed.
func Signature(raw string) Result {
	length := len(raw)
	switch {
	case length == SignatureLength:
		if isAlphanumeric(raw) {
			return Result{Status: StatusSuccess}
		}
		return Result{Status: StatusError}

	case length > PublicKeyLength:
		return Result{Status: StatusError}

	case length > 0:
		return Result{Status: StatusWarning}

	default:
		return Result{Status: StatusUnset}
	}
}
