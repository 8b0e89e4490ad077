package wallet

import (
	"context"
	"fmt"
	"sync"

	"github.com/webwallet-labs/webwallet/channel"
	"github.com/webwallet-labs/webwallet/keyring"
	"github.com/webwallet-labs/webwallet/ledger"
	"github.com/webwallet-labs/webwallet/settings"
	"github.com/webwallet-labs/webwallet/validate"
)

// Severity classifies a message log entry.
type Severity int

const (
	// SeverityError marks a failure the user should look at.
	SeverityError Severity = iota

	// SeverityWarning marks something unexpected but survivable.
	SeverityWarning

	// SeverityInfo marks a purely informational entry.
	SeverityInfo
)

// String returns a human readable name for the severity.
func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityInfo:
		return "info"
	default:
		return "unknown"
	}
}

// Message is one entry of the user-visible message log.
type Message struct {
	Text     string
	Severity Severity
}

// PendingOperation is the busy indicator shown while one workflow is in
// flight.
type PendingOperation struct {
	Title       string
	Description string
}

// FundingRequest mirrors the accepted cross-window funding request into the
// session. Amount is zero until the requested amount validates against the
// current balance.
type FundingRequest struct {
	PublicKey string
	Amount    uint64
	Pending   bool
}

// Responder delivers funding responses back over the request channel.
// *channel.Channel satisfies it.
type Responder interface {
	// Respond sends an envelope to the recorded requester origin.
	Respond(method string, params interface{}) error

	// ClearPending re-admits new funding requests.
	ClearPending()
}

// LedgerFactory builds a ledger connection for an entry point URL. The
// session calls it on every settings change and replaces its connection
// wholesale; a returned value implementing Stop() error is stopped when
// replaced.
type LedgerFactory func(entryPoint string) (ledger.Ledger, error)

// Config holds the session configuration.
type Config struct {
	// Store is the wallet settings store. The session subscribes to it
	// and rebuilds its ledger connection and account on every change.
	Store settings.Store

	// NewLedger builds the ledger connection for an entry point.
	NewLedger LedgerFactory

	// CloseWindow terminates the wallet window. Called as the terminal
	// action of a successful send with closeOnSuccess set. Optional.
	CloseWindow func()
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Store == nil {
		return fmt.Errorf("%w: settings store required", ErrInvalidConfig)
	}
	if c.NewLedger == nil {
		return fmt.Errorf("%w: ledger factory required", ErrInvalidConfig)
	}

	return nil
}

// Session is the aggregate wallet state: the active account, its balance,
// the busy indicator, the message log, the mirrored funding request and the
// transfer and confirmation intents. All exported methods are safe for
// concurrent use, though the busy indicator only advises against overlap,
// it does not enforce it.
type Session struct {
	cfg *Config

	responder Responder

	account *keyring.Account
	ledger  ledger.Ledger
	balance uint64

	messages []Message
	busy     *PendingOperation

	request FundingRequest

	// Transfer intent. Both must be non-nil for a send.
	recipient *string
	amount    *uint64

	// Confirmation intent. confirmed stays nil until an attempt
	// completes.
	signature string
	confirmed *bool

	cancelStore func()
	mu          sync.Mutex
}

// NewSession creates a new wallet session. Call Start to connect it to the
// settings store.
func NewSession(cfg *Config) (*Session, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config required", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Session{
		cfg: cfg,
	}, nil
}

// SetResponder attaches the funding request channel the session answers on.
// Must be called before Start.
func (s *Session) SetResponder(responder Responder) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.responder = responder
}

// Start subscribes the session to settings changes and performs the initial
// connection build.
func (s *Session) Start() error {
	s.cancelStore = s.cfg.Store.Subscribe(s.handleStoreChange)
	s.handleStoreChange()

	return nil
}

// Stop detaches the session from the settings store and tears down the
// ledger connection. A stopped session never acts on a late store
// notification.
func (s *Session) Stop() error {
	if s.cancelStore != nil {
		s.cancelStore()
		s.cancelStore = nil
	}

	s.mu.Lock()
	conn := s.ledger
	s.ledger = nil
	s.account = nil
	s.mu.Unlock()

	stopLedger(conn)

	return nil
}

// handleStoreChange rebuilds the ledger connection and the account from the
// current settings, then refreshes the balance. The old connection and
// account are replaced wholesale; in-flight operations keep the references
// they captured at call start.
func (s *Session) handleStoreChange() {
	entryPoint := s.cfg.Store.NetworkEntryPoint()
	secret := s.cfg.Store.AccountSecret()

	conn, err := s.cfg.NewLedger(entryPoint)
	if err != nil {
		s.AddError(fmt.Sprintf("Failed to connect to %s: %v",
			entryPoint, err))
		return
	}

	var account *keyring.Account
	if len(secret) > 0 {
		account, err = keyring.New(secret)
		if err != nil {
			s.AddError(fmt.Sprintf("Failed to load account: %v",
				err))
		}
	}

	s.mu.Lock()
	oldConn := s.ledger
	s.ledger = conn
	s.account = account
	s.balance = 0
	s.mu.Unlock()

	stopLedger(oldConn)

	log.Infof("Connected to %s", entryPoint)

	if account != nil {
		// Failures surface in the message log, nothing more to do
		// here.
		_ = s.RefreshBalance(context.Background())
	}
}

// stopLedger stops a replaced ledger connection when it supports stopping.
func stopLedger(conn ledger.Ledger) {
	if conn == nil {
		return
	}

	if stopper, ok := conn.(interface{ Stop() error }); ok {
		if err := stopper.Stop(); err != nil {
			log.Errorf("Failed to stop ledger connection: %v", err)
		}
	}
}

// HandleFundingRequest mirrors an accepted funding request into the session
// and seeds the transfer intent with the request's fields, to the extent
// they validate.
func (s *Session) HandleFundingRequest(req channel.Request) {
	s.mu.Lock()
	balance := s.balance
	s.mu.Unlock()

	request := FundingRequest{
		PublicKey: req.PublicKey,
		Pending:   true,
	}

	var (
		recipient *string
		amount    *uint64
	)
	if res := validate.PublicKey(req.PublicKey); res.Status ==
		validate.StatusSuccess {

		key := req.PublicKey
		recipient = &key
	}
	if res, value := validate.Amount(req.Amount, balance); res.Status ==
		validate.StatusSuccess {

		request.Amount = value
		amount = &value
	}

	s.mu.Lock()
	s.request = request
	s.recipient = recipient
	s.amount = amount
	s.mu.Unlock()

	log.Infof("Funding request for %s, amount %q", req.PublicKey,
		req.Amount)
}

// Request returns the mirrored funding request.
func (s *Session) Request() FundingRequest {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.request
}

// SetRecipient validates and records the recipient public key of the
// transfer intent. Anything but a fully valid key leaves the intent unset.
func (s *Session) SetRecipient(raw string) validate.Result {
	res := validate.PublicKey(raw)

	s.mu.Lock()
	defer s.mu.Unlock()

	if res.Status == validate.StatusSuccess {
		key := raw
		s.recipient = &key
	} else {
		s.recipient = nil
	}

	return res
}

// SetAmount validates the transfer amount against the current balance and
// records it. Anything but a valid amount leaves the intent unset.
func (s *Session) SetAmount(raw string) validate.Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, value := validate.Amount(raw, s.balance)
	if res.Status == validate.StatusSuccess {
		s.amount = &value
	} else {
		s.amount = nil
	}

	return res
}

// SetSignature validates and records the signature of the confirmation
// intent, resetting any previous confirmation result.
func (s *Session) SetSignature(raw string) validate.Result {
	res := validate.Signature(raw)

	s.mu.Lock()
	defer s.mu.Unlock()

	if res.Status == validate.StatusSuccess {
		s.signature = raw
	} else {
		s.signature = ""
	}
	s.confirmed = nil

	return res
}

// ConfirmationResult returns the outcome of the last confirmation attempt,
// nil while none has resolved.
func (s *Session) ConfirmationResult() *bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.confirmed == nil {
		return nil
	}

	confirmed := *s.confirmed
	return &confirmed
}

// Account returns the active account, nil when none is configured.
func (s *Session) Account() *keyring.Account {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.account
}

// Balance returns the last fetched balance.
func (s *Session) Balance() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.balance
}

// Busy returns the active busy indicator, nil when no workflow is in
// flight.
func (s *Session) Busy() *PendingOperation {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.busy == nil {
		return nil
	}

	op := *s.busy
	return &op
}

// AddError appends an error entry to the message log.
func (s *Session) AddError(text string) {
	s.addMessage(Message{Text: text, Severity: SeverityError})
}

// AddWarning appends a warning entry to the message log.
func (s *Session) AddWarning(text string) {
	s.addMessage(Message{Text: text, Severity: SeverityWarning})
}

// AddInfo appends an info entry to the message log.
func (s *Session) AddInfo(text string) {
	s.addMessage(Message{Text: text, Severity: SeverityInfo})
}

func (s *Session) addMessage(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = append(s.messages, msg)

	log.Debugf("Message log [%s]: %s", msg.Severity, msg.Text)
}

// Messages returns a copy of the message log in insertion order.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	messages := make([]Message, len(s.messages))
	copy(messages, s.messages)

	return messages
}

// DismissMessage removes the message at the given index. Out-of-range
// indexes are ignored.
func (s *Session) DismissMessage(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= len(s.messages) {
		return
	}

	s.messages = append(s.messages[:index], s.messages[index+1:]...)
}

// Compile time check: the session is the channel's message sink.
var _ channel.Sink = (*Session)(nil)
