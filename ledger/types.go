package ledger

import (
	"encoding/json"
	"time"
)

// Wire types for the ledger JSON-RPC API.

// rpcRequest is a single JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

// rpcResponse is a single JSON-RPC 2.0 response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// rpcError is the error member of a JSON-RPC response.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *rpcError) Error() string {
	return e.Message
}

// RPC error codes returned by the entry point.
const (
	// codeFaucetRejected signals that the faucet refused to serve the
	// airdrop request.
	codeFaucetRejected = -32005

	// codeTransactionRejected signals that a submitted transaction was
	// rejected by the network.
	codeTransactionRejected = -32002
)

// balanceResult is the result of a getBalance call.
type balanceResult struct {
	Value uint64 `json:"value"`
}

// blockhashResult is the result of a getRecentBlockhash call.
type blockhashResult struct {
	Blockhash string `json:"blockhash"`
}

// signatureStatusResult is the result of a confirmTransaction call.
type signatureStatusResult struct {
	Confirmed bool   `json:"confirmed"`
	Slot      uint64 `json:"slot,omitempty"`
}

// transferMessage is the signed portion of a submitted transfer.
type transferMessage struct {
	Source          string `json:"source"`
	Destination     string `json:"destination"`
	Amount          uint64 `json:"amount"`
	RecentBlockhash string `json:"recent_blockhash"`
}

// signedTransfer is the full wire form of a submitted transfer: the message
// plus the base58 signature over its canonical JSON encoding.
type signedTransfer struct {
	Message   transferMessage `json:"message"`
	Signature string          `json:"signature"`
}

// cacheEntry is a generic cache entry with TTL.
type cacheEntry struct {
	value     interface{}
	expiresAt time.Time
}
