package wallet

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/webwallet-labs/webwallet/channel"
	"github.com/webwallet-labs/webwallet/keyring"
	"github.com/webwallet-labs/webwallet/ledger"
	"github.com/webwallet-labs/webwallet/settings"
	"github.com/webwallet-labs/webwallet/validate"
)

// testRecipient is a syntactically valid recipient public key.
var testRecipient = strings.Repeat("A", validate.PublicKeyLength)

// testSignature is a syntactically valid transaction signature.
var testSignature = strings.Repeat("B", validate.SignatureLength)

// mockLedger is a testify mock of the ledger contract.
type mockLedger struct {
	mock.Mock

	stops int
}

func (m *mockLedger) GetBalance(ctx context.Context, pubKey string) (uint64,
	error) {

	args := m.Called(ctx, pubKey)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *mockLedger) RequestAirdrop(ctx context.Context, pubKey string,
	amount uint64) error {

	args := m.Called(ctx, pubKey, amount)
	return args.Error(0)
}

func (m *mockLedger) SubmitTransfer(ctx context.Context,
	from *keyring.Account, to string, amount uint64) (string, error) {

	args := m.Called(ctx, from, to, amount)
	return args.String(0), args.Error(1)
}

func (m *mockLedger) ConfirmTransaction(ctx context.Context,
	signature string) (bool, error) {

	args := m.Called(ctx, signature)
	return args.Bool(0), args.Error(1)
}

func (m *mockLedger) Stop() error {
	m.stops++
	return nil
}

var _ ledger.Ledger = (*mockLedger)(nil)

// recordingResponder records funding responses and pending clears.
type recordingResponder struct {
	responses  []channel.ResponseParams
	clearCalls int
	mu         sync.Mutex
}

func (r *recordingResponder) Respond(method string,
	params interface{}) error {

	r.mu.Lock()
	defer r.mu.Unlock()

	if method != channel.MethodAddFundsResponse {
		return fmt.Errorf("unexpected method %q", method)
	}

	r.responses = append(r.responses, params.(channel.ResponseParams))

	return nil
}

func (r *recordingResponder) ClearPending() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.clearCalls++
}

func (r *recordingResponder) cleared() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.clearCalls
}

// harness bundles a session with its collaborator fakes.
type harness struct {
	session   *Session
	ledger    *mockLedger
	responder *recordingResponder
	store     *settings.MemoryStore

	// pubKey is the active account's public key.
	pubKey string

	closed bool
}

// newHarness builds an unstarted session around a mock ledger. Tests set
// their GetBalance expectation before calling start.
func newHarness(t *testing.T, withAccount bool) *harness {
	t.Helper()

	h := &harness{
		ledger:    &mockLedger{},
		responder: &recordingResponder{},
		store:     settings.NewMemoryStore(),
	}

	if withAccount {
		seed := bytes.Repeat([]byte{0x01}, keyring.SeedSize)
		require.NoError(t, h.store.SetAccountSecret(seed))

		account, err := keyring.New(seed)
		require.NoError(t, err)
		h.pubKey = account.PublicKey()
	}

	session, err := NewSession(&Config{
		Store: h.store,
		NewLedger: func(entryPoint string) (ledger.Ledger, error) {
			return h.ledger, nil
		},
		CloseWindow: func() {
			h.closed = true
		},
	})
	require.NoError(t, err)

	session.SetResponder(h.responder)
	h.session = session

	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()

	require.NoError(t, h.session.Start())
	t.Cleanup(func() {
		require.NoError(t, h.session.Stop())
	})
}

// TestSession_RefreshBalance tests the balance refresh workflow.
func TestSession_RefreshBalance(t *testing.T) {
	t.Parallel()

	h := newHarness(t, true)
	h.ledger.On("GetBalance", mock.Anything, h.pubKey).
		Return(uint64(500), nil)
	h.start(t)

	require.EqualValues(t, 500, h.session.Balance())
	require.Nil(t, h.session.Busy())
	require.Empty(t, h.session.Messages())
}

// TestSession_RefreshBalance_NoAccount tests that the refresh is a no-op
// without an active account.
func TestSession_RefreshBalance_NoAccount(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false)
	h.start(t)

	require.NoError(t, h.session.RefreshBalance(context.Background()))
	require.EqualValues(t, 0, h.session.Balance())
	h.ledger.AssertNotCalled(t, "GetBalance", mock.Anything, mock.Anything)
}

// TestSession_RefreshBalance_NetworkError tests that a failed refresh
// surfaces as an error log entry and clears the busy indicator.
func TestSession_RefreshBalance_NetworkError(t *testing.T) {
	t.Parallel()

	h := newHarness(t, true)
	h.ledger.On("GetBalance", mock.Anything, h.pubKey).
		Return(uint64(0), fmt.Errorf("connection refused"))
	h.start(t)

	messages := h.session.Messages()
	require.Len(t, messages, 1)
	require.Equal(t, SeverityError, messages[0].Severity)
	require.Contains(t, messages[0].Text, "connection refused")
	require.Nil(t, h.session.Busy())
}

// TestSession_RequestAirdrop tests the airdrop workflow and the UI-level
// ceiling guard.
func TestSession_RequestAirdrop(t *testing.T) {
	t.Parallel()

	h := newHarness(t, true)
	h.ledger.On("GetBalance", mock.Anything, h.pubKey).
		Return(uint64(500), nil).Once()
	h.start(t)

	require.False(t, h.session.AirdropDisabled())

	h.ledger.On("RequestAirdrop", mock.Anything, h.pubKey, AirdropAmount).
		Return(nil).Once()
	h.ledger.On("GetBalance", mock.Anything, h.pubKey).
		Return(uint64(1500), nil).Once()

	require.NoError(t, h.session.RequestAirdrop(context.Background()))
	require.EqualValues(t, 1500, h.session.Balance())
	require.True(t, h.session.AirdropDisabled())
	require.Nil(t, h.session.Busy())

	h.ledger.AssertExpectations(t)
}

// TestSession_RequestAirdrop_Rejected tests the faucet rejection path.
func TestSession_RequestAirdrop_Rejected(t *testing.T) {
	t.Parallel()

	h := newHarness(t, true)
	h.ledger.On("GetBalance", mock.Anything, h.pubKey).
		Return(uint64(500), nil).Once()
	h.start(t)

	h.ledger.On("RequestAirdrop", mock.Anything, h.pubKey, AirdropAmount).
		Return(fmt.Errorf("faucet rejected the request")).Once()

	err := h.session.RequestAirdrop(context.Background())
	require.Error(t, err)

	messages := h.session.Messages()
	require.Len(t, messages, 1)
	require.Equal(t, SeverityError, messages[0].Severity)
	require.Nil(t, h.session.Busy())

	// The balance is only refreshed after a successful airdrop.
	require.EqualValues(t, 500, h.session.Balance())
	h.ledger.AssertExpectations(t)
}

// TestSession_SendTransaction tests the success path with the window kept
// open: exactly one response with signature and amount, balance refreshed,
// pending request cleared before the submission resolves.
func TestSession_SendTransaction(t *testing.T) {
	t.Parallel()

	h := newHarness(t, true)
	h.ledger.On("GetBalance", mock.Anything, h.pubKey).
		Return(uint64(500), nil).Once()
	h.start(t)

	h.session.HandleFundingRequest(channel.Request{
		RequesterOrigin: "https://dapp.example.org",
		PublicKey:       testRecipient,
		Amount:          "250",
		Pending:         true,
	})
	require.False(t, h.session.SendDisabled())
	require.True(t, h.session.Request().Pending)
	require.EqualValues(t, 250, h.session.Request().Amount)

	h.ledger.On(
		"SubmitTransfer", mock.Anything, mock.Anything, testRecipient,
		uint64(250),
	).Run(func(args mock.Arguments) {
		// The pending request must already be gone when the network
		// call runs.
		require.False(t, h.session.Request().Pending)
		require.EqualValues(t, 0, h.session.Request().Amount)
		require.Equal(t, 1, h.responder.cleared())
	}).Return("transferSignature", nil).Once()
	h.ledger.On("GetBalance", mock.Anything, h.pubKey).
		Return(uint64(250), nil).Once()

	err := h.session.SendTransaction(context.Background(), false)
	require.NoError(t, err)

	require.Len(t, h.responder.responses, 1)
	require.Equal(t, channel.ResponseParams{
		Signature: "transferSignature",
		Amount:    250,
	}, h.responder.responses[0])

	require.EqualValues(t, 250, h.session.Balance())
	require.True(t, h.session.SendDisabled())
	require.False(t, h.closed)
	require.Nil(t, h.session.Busy())
	require.Empty(t, h.session.Messages())

	h.ledger.AssertExpectations(t)
}

// TestSession_SendTransaction_CloseOnSuccess tests that a terminal send
// closes the window instead of refreshing the balance.
func TestSession_SendTransaction_CloseOnSuccess(t *testing.T) {
	t.Parallel()

	h := newHarness(t, true)
	h.ledger.On("GetBalance", mock.Anything, h.pubKey).
		Return(uint64(500), nil).Once()
	h.start(t)

	h.session.HandleFundingRequest(channel.Request{
		PublicKey: testRecipient,
		Amount:    "100",
		Pending:   true,
	})

	h.ledger.On(
		"SubmitTransfer", mock.Anything, mock.Anything, testRecipient,
		uint64(100),
	).Return("transferSignature", nil).Once()

	err := h.session.SendTransaction(context.Background(), true)
	require.NoError(t, err)

	require.True(t, h.closed)
	require.Len(t, h.responder.responses, 1)
	require.Equal(t, "transferSignature",
		h.responder.responses[0].Signature)

	// No balance refresh after a terminal send.
	h.ledger.AssertExpectations(t)
}

// TestSession_SendTransaction_Failure tests the failure path: exactly one
// {err:true} response, one error log entry, balance re-fetched, window left
// open.
func TestSession_SendTransaction_Failure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, true)
	h.ledger.On("GetBalance", mock.Anything, h.pubKey).
		Return(uint64(500), nil).Once()
	h.start(t)

	h.session.HandleFundingRequest(channel.Request{
		PublicKey: testRecipient,
		Amount:    "250",
		Pending:   true,
	})

	h.ledger.On(
		"SubmitTransfer", mock.Anything, mock.Anything, testRecipient,
		uint64(250),
	).Return("", fmt.Errorf("transaction rejected")).Once()

	// Fees may have been charged, the balance is re-fetched.
	h.ledger.On("GetBalance", mock.Anything, h.pubKey).
		Return(uint64(495), nil).Once()

	err := h.session.SendTransaction(context.Background(), true)
	require.Error(t, err)

	require.Len(t, h.responder.responses, 1)
	require.Equal(t, channel.ResponseParams{Err: true},
		h.responder.responses[0])

	messages := h.session.Messages()
	require.Len(t, messages, 1)
	require.Equal(t, SeverityError, messages[0].Severity)
	require.Contains(t, messages[0].Text, "transaction rejected")

	require.EqualValues(t, 495, h.session.Balance())
	require.False(t, h.closed)
	require.Nil(t, h.session.Busy())

	h.ledger.AssertExpectations(t)
}

// TestSession_SendTransaction_NoIntent tests that an incomplete transfer
// intent never reaches the network.
func TestSession_SendTransaction_NoIntent(t *testing.T) {
	t.Parallel()

	h := newHarness(t, true)
	h.ledger.On("GetBalance", mock.Anything, h.pubKey).
		Return(uint64(500), nil).Once()
	h.start(t)

	err := h.session.SendTransaction(context.Background(), false)
	require.ErrorIs(t, err, ErrNoTransfer)

	require.Empty(t, h.responder.responses)
	require.Zero(t, h.responder.cleared())
	h.ledger.AssertNotCalled(
		t, "SubmitTransfer", mock.Anything, mock.Anything,
		mock.Anything, mock.Anything,
	)
}

// TestSession_ConfirmTransaction tests the confirmation workflow.
func TestSession_ConfirmTransaction(t *testing.T) {
	t.Parallel()

	h := newHarness(t, true)
	h.ledger.On("GetBalance", mock.Anything, h.pubKey).
		Return(uint64(500), nil).Once()
	h.start(t)

	res := h.session.SetSignature(testSignature)
	require.Equal(t, validate.StatusSuccess, res.Status)
	require.Nil(t, h.session.ConfirmationResult())

	h.ledger.On("ConfirmTransaction", mock.Anything, testSignature).
		Return(true, nil).Once()

	require.NoError(t, h.session.ConfirmTransaction(context.Background()))

	result := h.session.ConfirmationResult()
	require.NotNil(t, result)
	require.True(t, *result)

	h.ledger.AssertExpectations(t)
}

// TestSession_ConfirmTransaction_NetworkError tests that a failed
// confirmation leaves the result unresolved.
func TestSession_ConfirmTransaction_NetworkError(t *testing.T) {
	t.Parallel()

	h := newHarness(t, true)
	h.ledger.On("GetBalance", mock.Anything, h.pubKey).
		Return(uint64(500), nil).Once()
	h.start(t)

	h.session.SetSignature(testSignature)

	h.ledger.On("ConfirmTransaction", mock.Anything, testSignature).
		Return(false, fmt.Errorf("connection refused")).Once()

	err := h.session.ConfirmTransaction(context.Background())
	require.Error(t, err)

	require.Nil(t, h.session.ConfirmationResult())
	require.Len(t, h.session.Messages(), 1)
	require.Nil(t, h.session.Busy())
}

// TestSession_ConfirmTransaction_NoSignature tests the disabled state.
func TestSession_ConfirmTransaction_NoSignature(t *testing.T) {
	t.Parallel()

	h := newHarness(t, true)
	h.ledger.On("GetBalance", mock.Anything, h.pubKey).
		Return(uint64(500), nil).Once()
	h.start(t)

	err := h.session.ConfirmTransaction(context.Background())
	require.ErrorIs(t, err, ErrNoSignature)
	h.ledger.AssertNotCalled(
		t, "ConfirmTransaction", mock.Anything, mock.Anything,
	)
}
