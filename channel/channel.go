package channel

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
)

// SettingsStore is the slice of the wallet configuration the channel needs:
// reading and switching the network entry point.
type SettingsStore interface {
	// NetworkEntryPoint returns the configured network entry point URL.
	NetworkEntryPoint() string

	// SetNetworkEntryPoint replaces the configured network entry point.
	SetNetworkEntryPoint(entryPoint string) error
}

// Sink receives the user-visible log entries the channel emits while
// validating requests.
type Sink interface {
	// AddError appends an error entry to the message log.
	AddError(text string)

	// AddWarning appends a warning entry to the message log.
	AddWarning(text string)
}

// Handlers are the inbound callbacks a transport invokes. OnMessage is
// registered before OnConnect can fire, so no message racing the readiness
// announcement is lost.
type Handlers struct {
	// OnMessage delivers one inbound envelope with the sender origin.
	OnMessage func(env Envelope, origin string)

	// OnConnect fires when a requester window attaches.
	OnConnect func()
}

// Transport carries protocol envelopes between the wallet and the requester
// window.
type Transport interface {
	// Send delivers an envelope addressed to the given target origin.
	// Delivery is fire-and-forget; a mismatched origin is dropped, not
	// an error.
	Send(targetOrigin string, env Envelope) error

	// Listen registers the inbound handlers.
	Listen(handlers Handlers)
}

// Config holds the channel configuration.
type Config struct {
	// Store is the wallet settings store.
	Store SettingsStore

	// Sink receives user-visible log entries.
	Sink Sink

	// Transport carries messages to and from the requester window. Nil
	// when the wallet was not opened by a requester; all outbound sends
	// are then silently dropped, matching a window without an opener.
	Transport Transport

	// OnRequest is invoked with every accepted, normalized funding
	// request.
	OnRequest func(req Request)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Store == nil {
		return fmt.Errorf("settings store required")
	}
	if c.Sink == nil {
		return fmt.Errorf("message sink required")
	}

	return nil
}

// Channel validates inbound funding requests and delivers responses back to
// the requester window. At most one request is pending at any time; further
// requests are ignored until a response clears the pending one.
type Channel struct {
	cfg *Config

	requesterOrigin string
	pending         bool
	mu              sync.Mutex
}

// New creates a new funding request channel.
func New(cfg *Config) (*Channel, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Channel{
		cfg:             cfg,
		requesterOrigin: WildcardOrigin,
	}, nil
}

// Start attaches the channel to its transport. The inbound handler is
// registered before readiness can be announced.
func (c *Channel) Start() error {
	if c.cfg.Transport == nil {
		return nil
	}

	c.cfg.Transport.Listen(Handlers{
		OnMessage: c.HandleIncoming,
		OnConnect: func() {
			if err := c.Respond(MethodReady, nil); err != nil {
				log.Errorf("Failed to announce readiness: %v",
					err)
			}
		},
	})

	return nil
}

// HandleIncoming dispatches one inbound envelope. Unknown methods are
// ignored.
func (c *Channel) HandleIncoming(env Envelope, origin string) {
	switch env.Method {
	case MethodAddFunds:
		if len(env.Params) == 0 {
			return
		}

		var params AddFundsParams
		if err := json.Unmarshal(env.Params, &params); err != nil {
			log.Debugf("Ignoring malformed addFunds params "+
				"from %s: %v", origin, err)
			return
		}

		c.handleAddFunds(params, origin)

	default:
		log.Debugf("Ignoring message with method %q from %s",
			env.Method, origin)
	}
}

// handleAddFunds validates and admits one funding request.
func (c *Channel) handleAddFunds(params AddFundsParams, origin string) {
	c.mu.Lock()
	if c.pending {
		c.mu.Unlock()

		// At most one request in flight; a second one is dropped
		// without feedback.
		log.Debugf("Ignoring addFunds from %s, request already "+
			"pending", origin)
		return
	}
	c.mu.Unlock()

	if params.PubKey == "" || params.Network == "" {
		if params.PubKey == "" {
			c.cfg.Sink.AddError(
				"Request did not specify a public key",
			)
		}
		if params.Network == "" {
			c.cfg.Sink.AddError(
				"Request did not specify a network",
			)
		}
		return
	}

	requestedNetwork, err := parseOrigin(params.Network)
	if err != nil {
		c.cfg.Sink.AddError(fmt.Sprintf(
			"Request network is invalid: %q", params.Network,
		))
		return
	}

	// A request for another network switches the wallet over before the
	// request is accepted. This is deliberate even though the rest of
	// the workflow may still fail later: the requester declared which
	// network it lives on and every follow-up action must target it.
	walletNetwork, err := parseOrigin(c.cfg.Store.NetworkEntryPoint())
	if err != nil || requestedNetwork != walletNetwork {
		err := c.cfg.Store.SetNetworkEntryPoint(requestedNetwork)
		if err != nil {
			log.Errorf("Failed to switch network entry point "+
				"to %s: %v", requestedNetwork, err)
		} else {
			c.cfg.Sink.AddWarning(fmt.Sprintf(
				"Changed wallet network from %q to %q",
				walletNetwork, requestedNetwork,
			))
		}
	}

	c.mu.Lock()
	if c.pending {
		// Another request won the race while this one validated.
		c.mu.Unlock()
		return
	}
	c.requesterOrigin = origin
	c.pending = true
	c.mu.Unlock()

	request := Request{
		RequesterOrigin: origin,
		PublicKey:       params.PubKey,
		Amount:          string(params.Amount),
		Pending:         true,
	}

	log.Infof("Accepted funding request from %s for %s", origin,
		params.PubKey)

	if c.cfg.OnRequest != nil {
		c.cfg.OnRequest(request)
	}
}

// Respond sends an envelope to the recorded requester origin. Without a
// transport (no opener window) this is a no-op.
func (c *Channel) Respond(method string, params interface{}) error {
	if c.cfg.Transport == nil {
		return nil
	}

	env, err := NewEnvelope(method, params)
	if err != nil {
		return err
	}

	c.mu.Lock()
	target := c.requesterOrigin
	c.mu.Unlock()

	return c.cfg.Transport.Send(target, env)
}

// ClearPending clears the pending flag, re-admitting new requests. The
// lifecycle controller calls this the moment it captures a transfer, before
// any network call resolves.
func (c *Channel) ClearPending() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pending = false
}

// Pending reports whether a funding request is currently pending.
func (c *Channel) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.pending
}

// RequesterOrigin returns the recorded requester origin, WildcardOrigin
// until a request has been accepted.
func (c *Channel) RequesterOrigin() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.requesterOrigin
}

// parseOrigin reduces a URL to its origin (scheme://host).
func parseOrigin(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("url %q has no origin", rawURL)
	}

	return parsed.Scheme + "://" + parsed.Host, nil
}
