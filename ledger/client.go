package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
	"golang.org/x/time/rate"

	"github.com/webwallet-labs/webwallet/keyring"
)

// Ledger is the contract the wallet session consumes. A Client satisfies it
// against a real entry point; tests substitute a mock.
type Ledger interface {
	// GetBalance fetches the current balance of the given public key.
	GetBalance(ctx context.Context, pubKey string) (uint64, error)

	// RequestAirdrop asks the faucet to credit the given public key.
	RequestAirdrop(ctx context.Context, pubKey string, amount uint64) error

	// SubmitTransfer signs, submits and awaits confirmation of a
	// transfer, returning the transaction signature.
	SubmitTransfer(ctx context.Context, from *keyring.Account, to string,
		amount uint64) (string, error)

	// ConfirmTransaction reports whether the given signature has been
	// confirmed by the network.
	ConfirmTransaction(ctx context.Context, signature string) (bool, error)
}

// Config holds configuration for the ledger client.
type Config struct {
	// EntryPoint is the base URL of the ledger RPC entry point.
	EntryPoint string

	// RateLimit is the number of requests per second allowed.
	// Default: 10
	RateLimit int

	// Timeout is the HTTP request timeout.
	// Default: 30 seconds
	Timeout time.Duration

	// RetryAttempts is the number of retry attempts for failed requests.
	// Default: 3
	RetryAttempts int

	// RetryDelay is the delay between retry attempts.
	// Default: 1 second
	RetryDelay time.Duration

	// ConfirmInterval is how often submitted transfers are polled for
	// confirmation.
	// Default: 2 seconds
	ConfirmInterval time.Duration

	// ConfirmTimeout is how long SubmitTransfer waits for confirmation
	// before failing.
	// Default: 60 seconds
	ConfirmTimeout time.Duration

	// BlockhashTTL is how long a fetched recent blockhash stays usable
	// for transfer construction.
	// Default: 5 seconds
	BlockhashTTL time.Duration

	// Clock is the time source, swappable in tests.
	Clock clock.Clock

	// ConfirmTicker drives the confirmation poll loop, swappable in
	// tests. When nil a real ticker at ConfirmInterval is used.
	ConfirmTicker ticker.Ticker
}

// DefaultConfig returns a default configuration for the given entry point.
func DefaultConfig(entryPoint string) *Config {
	return &Config{
		EntryPoint:      entryPoint,
		RateLimit:       10,
		Timeout:         30 * time.Second,
		RetryAttempts:   3,
		RetryDelay:      time.Second,
		ConfirmInterval: 2 * time.Second,
		ConfirmTimeout:  60 * time.Second,
		BlockhashTTL:    5 * time.Second,
		Clock:           clock.NewDefaultClock(),
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.EntryPoint == "" {
		return fmt.Errorf("%w: entry point required", ErrInvalidConfig)
	}
	if c.RateLimit <= 0 {
		return fmt.Errorf("%w: rate limit must be positive",
			ErrInvalidConfig)
	}

	return nil
}

// Client is an HTTP JSON-RPC client for the ledger entry point with rate
// limiting and retries.
type Client struct {
	cfg *Config

	httpClient  *http.Client
	rateLimiter *rate.Limiter
	cache       *cache
	confirmer   *confirmer

	nextID uint64 // atomic
}

// NewClient creates a new ledger client. The returned client is ready to
// use; Start only needs to be called when confirmation polling is wanted.
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config required", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}

	pollTicker := cfg.ConfirmTicker
	if pollTicker == nil {
		pollTicker = ticker.New(cfg.ConfirmInterval)
	}

	client := &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		rateLimiter: rate.NewLimiter(
			rate.Limit(cfg.RateLimit), cfg.RateLimit,
		),
		cache: newCache(cfg.BlockhashTTL, cfg.Clock),
	}
	client.confirmer = newConfirmer(
		client.confirmOnce, pollTicker, cfg.Clock,
	)

	return client, nil
}

// Start starts the confirmation poller.
func (c *Client) Start() error {
	c.confirmer.Start()
	return nil
}

// Stop stops the confirmation poller. In-flight awaits are failed.
func (c *Client) Stop() error {
	c.confirmer.Stop()
	return nil
}

// EntryPoint returns the entry point URL this client talks to.
func (c *Client) EntryPoint() string {
	return c.cfg.EntryPoint
}

// call performs a single JSON-RPC call with rate limiting and retries.
func (c *Client) call(ctx context.Context, method string,
	params []interface{}, result interface{}) error {

	id := atomic.AddUint64(&c.nextID, 1)
	reqBody, err := json.Marshal(&rpcRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.RetryAttempts; attempt++ {
		// Wait for rate limiter.
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return &NetworkError{Op: method, Err: err}
		}

		req, err := http.NewRequestWithContext(
			ctx, http.MethodPost, c.cfg.EntryPoint,
			bytes.NewReader(reqBody),
		)
		if err != nil {
			return &NetworkError{Op: method, Err: err}
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			if attempt < c.cfg.RetryAttempts {
				log.Debugf("%s attempt %d failed: %v, "+
					"retrying", method, attempt+1, err)
				time.Sleep(
					c.cfg.RetryDelay *
						time.Duration(attempt+1),
				)
				continue
			}
			return &NetworkError{Op: method, Err: lastErr}
		}

		rpcResp, decodeErr := decodeResponse(resp)
		if decodeErr != nil {
			lastErr = decodeErr

			// Server side errors are worth retrying, anything
			// else is not.
			if retryable(resp.StatusCode) &&
				attempt < c.cfg.RetryAttempts {

				time.Sleep(
					c.cfg.RetryDelay *
						time.Duration(attempt+1),
				)
				continue
			}
			return &NetworkError{Op: method, Err: lastErr}
		}

		// An RPC level error is a definitive answer from the entry
		// point, not a transport failure. Map the well-known codes.
		if rpcResp.Error != nil {
			switch rpcResp.Error.Code {
			case codeFaucetRejected:
				return fmt.Errorf("%w: %s", ErrFaucetRejected,
					rpcResp.Error.Message)
			default:
				return &NetworkError{
					Op:  method,
					Err: rpcResp.Error,
				}
			}
		}

		if result != nil {
			err := json.Unmarshal(rpcResp.Result, result)
			if err != nil {
				return &NetworkError{
					Op: method,
					Err: fmt.Errorf("failed to parse "+
						"result: %w", err),
				}
			}
		}

		return nil
	}

	return &NetworkError{Op: method, Err: lastErr}
}

// decodeResponse reads and decodes a JSON-RPC response body.
func decodeResponse(resp *http.Response) (*rpcResponse, error) {
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status code %d",
			resp.StatusCode)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &rpcResp, nil
}

// retryable reports whether a status code is worth another attempt.
func retryable(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:

		return true
	default:
		return false
	}
}

// GetBalance fetches the current balance of the given public key.
func (c *Client) GetBalance(ctx context.Context, pubKey string) (uint64,
	error) {

	var result balanceResult
	err := c.call(ctx, "getBalance", []interface{}{pubKey}, &result)
	if err != nil {
		return 0, err
	}

	return result.Value, nil
}

// RequestAirdrop asks the faucet to credit the given public key. Fails with
// ErrFaucetRejected when the faucet refuses, or a NetworkError otherwise.
func (c *Client) RequestAirdrop(ctx context.Context, pubKey string,
	amount uint64) error {

	return c.call(
		ctx, "requestAirdrop", []interface{}{pubKey, amount}, nil,
	)
}

// recentBlockhash returns a recent blockhash for transfer construction,
// served from cache within its TTL.
func (c *Client) recentBlockhash(ctx context.Context) (string, error) {
	if blockhash, ok := c.cache.getBlockhash(); ok {
		return blockhash, nil
	}

	var result blockhashResult
	err := c.call(ctx, "getRecentBlockhash", nil, &result)
	if err != nil {
		return "", err
	}

	c.cache.setBlockhash(result.Blockhash)

	return result.Blockhash, nil
}

// SubmitTransfer signs and submits a transfer from the given account, then
// waits for the network to confirm it. All failures are reported as a
// SubmissionError: fees may have been charged even when the transfer did
// not go through, so the caller must re-fetch the balance afterwards.
func (c *Client) SubmitTransfer(ctx context.Context, from *keyring.Account,
	to string, amount uint64) (string, error) {

	if from == nil {
		return "", &SubmissionError{
			Err: fmt.Errorf("no active account"),
		}
	}

	blockhash, err := c.recentBlockhash(ctx)
	if err != nil {
		return "", &SubmissionError{Err: err}
	}

	message := transferMessage{
		Source:          from.PublicKey(),
		Destination:     to,
		Amount:          amount,
		RecentBlockhash: blockhash,
	}
	encoded, err := json.Marshal(message)
	if err != nil {
		return "", &SubmissionError{
			Err: fmt.Errorf("failed to encode transfer: %w", err),
		}
	}

	signature := from.Sign(encoded)
	transfer := signedTransfer{
		Message:   message,
		Signature: signature,
	}

	err = c.call(ctx, "sendTransaction", []interface{}{transfer}, nil)
	if err != nil {
		return "", &SubmissionError{Err: err}
	}

	log.Debugf("Submitted transfer of %d to %s, signature %s", amount,
		to, signature)

	// The submission is only done once the network confirms it.
	err = c.confirmer.AwaitConfirmation(
		ctx, signature, c.cfg.ConfirmTimeout,
	)
	if err != nil {
		return "", &SubmissionError{Err: err}
	}

	return signature, nil
}

// ConfirmTransaction reports whether the given signature has been confirmed
// by the network.
func (c *Client) ConfirmTransaction(ctx context.Context, signature string) (
	bool, error) {

	if c.cache.isConfirmed(signature) {
		return true, nil
	}

	confirmed, err := c.confirmOnce(ctx, signature)
	if err != nil {
		return false, err
	}

	if confirmed {
		c.cache.setConfirmed(signature)
	}

	return confirmed, nil
}

// confirmOnce performs a single confirmation status query.
func (c *Client) confirmOnce(ctx context.Context, signature string) (bool,
	error) {

	var result signatureStatusResult
	err := c.call(
		ctx, "confirmTransaction", []interface{}{signature}, &result,
	)
	if err != nil {
		return false, err
	}

	return result.Confirmed, nil
}

// Compile time check.
var _ Ledger = (*Client)(nil)
