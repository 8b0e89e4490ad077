package channel

import (
	"encoding/json"
	"fmt"
)

// Methods of the cross-window funding protocol.
const (
	// MethodAddFunds is sent by a requester page asking the wallet to
	// fund a public key.
	MethodAddFunds = "addFunds"

	// MethodReady is announced by the wallet once it is listening for
	// requests.
	MethodReady = "ready"

	// MethodAddFundsResponse carries the outcome of a funding request
	// back to the requester.
	MethodAddFundsResponse = "addFundsResponse"
)

// WildcardOrigin addresses any origin. Only the initial ready announcement
// uses it, before a requester origin has been recorded.
const WildcardOrigin = "*"

// Envelope is a single protocol message: a method name plus its raw
// parameters.
type Envelope struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// NewEnvelope builds an envelope from a method name and a params value.
// A nil params value produces an envelope without parameters.
func NewEnvelope(method string, params interface{}) (Envelope, error) {
	env := Envelope{Method: method}

	if params != nil {
		encoded, err := json.Marshal(params)
		if err != nil {
			return Envelope{}, fmt.Errorf("failed to encode "+
				"params: %w", err)
		}
		env.Params = encoded
	}

	return env, nil
}

// AmountValue is a requested amount as it appears on the wire, where both
// JSON numbers and strings are accepted.
type AmountValue string

// UnmarshalJSON accepts a number, a string or null.
func (a *AmountValue) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*a = ""
		return nil
	}

	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		*a = AmountValue(asString)
		return nil
	}

	var asNumber json.Number
	if err := json.Unmarshal(data, &asNumber); err == nil {
		*a = AmountValue(asNumber.String())
		return nil
	}

	return fmt.Errorf("amount must be a number or a string")
}

// AddFundsParams are the parameters of an inbound addFunds request.
type AddFundsParams struct {
	// PubKey is the public key the requester wants funded.
	PubKey string `json:"pubkey"`

	// Network is the entry point URL of the network the requester
	// operates on.
	Network string `json:"network"`

	// Amount is the requested amount. Optional.
	Amount AmountValue `json:"amount,omitempty"`
}

// ResponseParams are the parameters of an outbound addFundsResponse. Either
// Err is true, or Signature and Amount describe the executed transfer.
type ResponseParams struct {
	Err       bool   `json:"err,omitempty"`
	Signature string `json:"signature,omitempty"`
	Amount    uint64 `json:"amount,omitempty"`
}

// Request is a normalized, accepted funding request.
type Request struct {
	// RequesterOrigin is the origin of the window that sent the request
	// and is awaiting the response.
	RequesterOrigin string

	// PublicKey is the public key to fund.
	PublicKey string

	// Amount is the requested amount as a string, empty when the
	// requester did not specify one.
	Amount string

	// Pending is true while no response has been sent.
	Pending bool
}
