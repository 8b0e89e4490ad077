package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
)

// statusFunc queries the confirmation status of a single signature.
type statusFunc func(ctx context.Context, signature string) (bool, error)

// pollTimeout bounds a single status query inside the poll loop.
const pollTimeout = 10 * time.Second

// confirmRequest is one registered wait for a confirmation.
type confirmRequest struct {
	signature string

	// confirmed is closed once the signature confirms.
	confirmed chan struct{}
}

// confirmer polls the entry point for confirmation of submitted transfers
// and wakes up registered waiters. A single poll loop serves all pending
// signatures.
type confirmer struct {
	status statusFunc
	ticker ticker.Ticker
	clock  clock.Clock

	requests map[string][]*confirmRequest
	mu       sync.Mutex

	started bool
	quit    chan struct{}
	wg      sync.WaitGroup
}

// newConfirmer creates a new confirmer.
func newConfirmer(status statusFunc, pollTicker ticker.Ticker,
	clk clock.Clock) *confirmer {

	return &confirmer{
		status:   status,
		ticker:   pollTicker,
		clock:    clk,
		requests: make(map[string][]*confirmRequest),
		quit:     make(chan struct{}),
	}
}

// Start starts the poll loop.
func (c *confirmer) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return
	}
	c.started = true

	c.wg.Add(1)
	go c.pollLoop()
}

// Stop stops the poll loop and abandons all pending waits.
func (c *confirmer) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	c.mu.Unlock()

	close(c.quit)
	c.wg.Wait()
	c.ticker.Stop()

	c.mu.Lock()
	c.requests = make(map[string][]*confirmRequest)
	c.mu.Unlock()
}

// register adds a waiter for the given signature.
func (c *confirmer) register(signature string) *confirmRequest {
	req := &confirmRequest{
		signature: signature,
		confirmed: make(chan struct{}),
	}

	c.mu.Lock()
	wasIdle := len(c.requests) == 0
	c.requests[signature] = append(c.requests[signature], req)
	c.mu.Unlock()

	if wasIdle {
		c.ticker.Resume()
	}

	return req
}

// deregister removes a waiter again, e.g. after a timeout.
func (c *confirmer) deregister(req *confirmRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()

	waiters := c.requests[req.signature]
	for i, waiter := range waiters {
		if waiter == req {
			waiters = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}
	if len(waiters) == 0 {
		delete(c.requests, req.signature)
	} else {
		c.requests[req.signature] = waiters
	}

	if len(c.requests) == 0 {
		c.ticker.Pause()
	}
}

// AwaitConfirmation blocks until the signature confirms, the context is
// cancelled, or the timeout elapses. The confirmer keeps polling through
// transient network errors; only timeout or cancellation end the wait
// early.
func (c *confirmer) AwaitConfirmation(ctx context.Context, signature string,
	timeout time.Duration) error {

	req := c.register(signature)
	defer c.deregister(req)

	select {
	case <-req.confirmed:
		return nil

	case <-ctx.Done():
		return ctx.Err()

	case <-c.clock.TickAfter(timeout):
		return ErrConfirmTimeout

	case <-c.quit:
		return ErrConfirmTimeout
	}
}

// pollLoop queries the status of all pending signatures on every tick.
func (c *confirmer) pollLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.quit:
			return

		case <-c.ticker.Ticks():
			c.pollOnce()
		}
	}
}

// pollOnce checks every pending signature once and wakes up the waiters of
// those that confirmed.
func (c *confirmer) pollOnce() {
	c.mu.Lock()
	pending := make([]string, 0, len(c.requests))
	for signature := range c.requests {
		pending = append(pending, signature)
	}
	c.mu.Unlock()

	for _, signature := range pending {
		ctx, cancel := context.WithTimeout(
			context.Background(), pollTimeout,
		)
		confirmed, err := c.status(ctx, signature)
		cancel()

		if err != nil {
			// Transient failure, keep polling.
			log.Debugf("Confirmation poll for %s failed: %v",
				signature, err)
			continue
		}

		if !confirmed {
			continue
		}

		c.mu.Lock()
		waiters := c.requests[signature]
		delete(c.requests, signature)
		idle := len(c.requests) == 0
		c.mu.Unlock()

		for _, waiter := range waiters {
			close(waiter.confirmed)
		}

		if idle {
			c.ticker.Pause()
		}
	}
}
