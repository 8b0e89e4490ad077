package channel

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

// recordingSink collects user-visible log entries.
type recordingSink struct {
	errors   []string
	warnings []string
}

func (s *recordingSink) AddError(text string) {
	s.errors = append(s.errors, text)
}

func (s *recordingSink) AddWarning(text string) {
	s.warnings = append(s.warnings, text)
}

// fakeStore is a minimal settings store for channel tests.
type fakeStore struct {
	entryPoint string
	setCalls   int
}

func (s *fakeStore) NetworkEntryPoint() string {
	return s.entryPoint
}

func (s *fakeStore) SetNetworkEntryPoint(entryPoint string) error {
	s.entryPoint = entryPoint
	s.setCalls++
	return nil
}

// recordingTransport records outbound envelopes and exposes the registered
// handlers.
type recordingTransport struct {
	handlers Handlers
	sent     []sentEnvelope
}

type sentEnvelope struct {
	targetOrigin string
	env          Envelope
}

func (t *recordingTransport) Send(targetOrigin string, env Envelope) error {
	t.sent = append(t.sent, sentEnvelope{
		targetOrigin: targetOrigin,
		env:          env,
	})
	return nil
}

func (t *recordingTransport) Listen(handlers Handlers) {
	t.handlers = handlers
}

// testChannel builds a channel wired to fresh fakes.
func testChannel(t *testing.T) (*Channel, *fakeStore, *recordingSink,
	*recordingTransport, *[]Request) {

	t.Helper()

	store := &fakeStore{entryPoint: "http://localhost:8899"}
	sink := &recordingSink{}
	transport := &recordingTransport{}
	requests := &[]Request{}

	c, err := New(&Config{
		Store:     store,
		Sink:      sink,
		Transport: transport,
		OnRequest: func(req Request) {
			*requests = append(*requests, req)
		},
	})
	require.NoError(t, err)

	return c, store, sink, transport, requests
}

// addFunds builds an addFunds envelope.
func addFunds(t *testing.T, params AddFundsParams) Envelope {
	t.Helper()

	env, err := NewEnvelope(MethodAddFunds, params)
	require.NoError(t, err)

	return env
}

// TestChannel_AddFunds_Accepted tests the happy admission path.
func TestChannel_AddFunds_Accepted(t *testing.T) {
	t.Parallel()

	c, store, sink, _, requests := testChannel(t)

	c.HandleIncoming(addFunds(t, AddFundsParams{
		PubKey:  "requesterPublicKey",
		Network: "http://localhost:8899/rpc",
		Amount:  "250",
	}), "https://dapp.example.org")

	require.Len(t, *requests, 1)
	req := (*requests)[0]
	require.Equal(t, "https://dapp.example.org", req.RequesterOrigin)
	require.Equal(t, "requesterPublicKey", req.PublicKey)
	require.Equal(t, "250", req.Amount)
	require.True(t, req.Pending)

	require.True(t, c.Pending())
	require.Equal(t, "https://dapp.example.org", c.RequesterOrigin())

	// Same origin, no network switch, no log entries.
	require.Empty(t, sink.errors)
	require.Empty(t, sink.warnings)
	require.Equal(t, 0, store.setCalls)
}

// TestChannel_AddFunds_NumericAmount tests that a JSON number amount is
// normalized to its string form.
func TestChannel_AddFunds_NumericAmount(t *testing.T) {
	t.Parallel()

	c, _, _, _, requests := testChannel(t)

	c.HandleIncoming(Envelope{
		Method: MethodAddFunds,
		Params: json.RawMessage(`{
			"pubkey": "requesterPublicKey",
			"network": "http://localhost:8899",
			"amount": 42
		}`),
	}, "https://dapp.example.org")

	require.Len(t, *requests, 1)
	require.Equal(t, "42", (*requests)[0].Amount)
}

// TestChannel_AddFunds_NoAmount tests that an absent amount normalizes to
// the empty string.
func TestChannel_AddFunds_NoAmount(t *testing.T) {
	t.Parallel()

	c, _, _, _, requests := testChannel(t)

	c.HandleIncoming(addFunds(t, AddFundsParams{
		PubKey:  "requesterPublicKey",
		Network: "http://localhost:8899",
	}), "https://dapp.example.org")

	require.Len(t, *requests, 1)
	require.Equal(t, "", (*requests)[0].Amount)
}

// TestChannel_AddFunds_MissingPubKey tests rejection with exactly one error
// entry mentioning the public key.
func TestChannel_AddFunds_MissingPubKey(t *testing.T) {
	t.Parallel()

	c, _, sink, _, requests := testChannel(t)

	c.HandleIncoming(addFunds(t, AddFundsParams{
		Network: "http://localhost:8899",
	}), "https://dapp.example.org")

	require.Empty(t, *requests)
	require.False(t, c.Pending())
	require.Len(t, sink.errors, 1)
	require.Contains(t, sink.errors[0], "public key")
}

// TestChannel_AddFunds_MissingBoth tests one error entry per missing field.
func TestChannel_AddFunds_MissingBoth(t *testing.T) {
	t.Parallel()

	c, _, sink, _, requests := testChannel(t)

	c.HandleIncoming(addFunds(t, AddFundsParams{}),
		"https://dapp.example.org")

	require.Empty(t, *requests)
	require.Len(t, sink.errors, 2)
	require.Contains(t, sink.errors[0], "public key")
	require.Contains(t, sink.errors[1], "network")
}

// TestChannel_AddFunds_InvalidNetwork tests rejection of an unparseable
// network URL.
func TestChannel_AddFunds_InvalidNetwork(t *testing.T) {
	t.Parallel()

	c, store, sink, _, requests := testChannel(t)

	c.HandleIncoming(addFunds(t, AddFundsParams{
		PubKey:  "requesterPublicKey",
		Network: "not a url",
	}), "https://dapp.example.org")

	require.Empty(t, *requests)
	require.False(t, c.Pending())
	require.Len(t, sink.errors, 1)
	require.Contains(t, sink.errors[0], "Request network is invalid")
	require.Equal(t, 0, store.setCalls)
}

// TestChannel_AddFunds_NetworkSwitch tests the unconditional network switch
// side effect on origin mismatch.
func TestChannel_AddFunds_NetworkSwitch(t *testing.T) {
	t.Parallel()

	c, store, sink, _, requests := testChannel(t)

	c.HandleIncoming(addFunds(t, AddFundsParams{
		PubKey:  "requesterPublicKey",
		Network: "https://api.testnet.example.org/rpc",
	}), "https://dapp.example.org")

	// The request is accepted, the wallet switched networks, and exactly
	// one warning was logged.
	require.Len(t, *requests, 1)
	require.Equal(t, 1, store.setCalls)
	require.Equal(
		t, "https://api.testnet.example.org", store.entryPoint,
	)
	require.Len(t, sink.warnings, 1)
	require.Contains(t, sink.warnings[0], "Changed wallet network")
	require.Contains(
		t, sink.warnings[0], "https://api.testnet.example.org",
	)
	require.Empty(t, sink.errors)
}

// TestChannel_AtMostOnePending tests that a second request is ignored while
// one is pending and leaves the first untouched.
func TestChannel_AtMostOnePending(t *testing.T) {
	t.Parallel()

	c, _, sink, _, requests := testChannel(t)

	c.HandleIncoming(addFunds(t, AddFundsParams{
		PubKey:  "firstKey",
		Network: "http://localhost:8899",
		Amount:  "10",
	}), "https://first.example.org")

	c.HandleIncoming(addFunds(t, AddFundsParams{
		PubKey:  "secondKey",
		Network: "http://localhost:8899",
		Amount:  "20",
	}), "https://second.example.org")

	require.Len(t, *requests, 1)
	require.Equal(t, "firstKey", (*requests)[0].PublicKey)
	require.Equal(t, "https://first.example.org", c.RequesterOrigin())
	require.Empty(t, sink.errors)

	// After clearing, new requests are admitted again.
	c.ClearPending()

	c.HandleIncoming(addFunds(t, AddFundsParams{
		PubKey:  "thirdKey",
		Network: "http://localhost:8899",
	}), "https://third.example.org")

	require.Len(t, *requests, 2)
	require.Equal(t, "thirdKey", (*requests)[1].PublicKey)
}

// TestChannel_Respond tests that responses target the recorded requester
// origin.
func TestChannel_Respond(t *testing.T) {
	t.Parallel()

	c, _, _, transport, _ := testChannel(t)

	// Before any request, the target is the wildcard.
	require.NoError(t, c.Respond(MethodReady, nil))
	require.Len(t, transport.sent, 1)
	require.Equal(t, WildcardOrigin, transport.sent[0].targetOrigin)
	require.Equal(t, MethodReady, transport.sent[0].env.Method)

	c.HandleIncoming(addFunds(t, AddFundsParams{
		PubKey:  "requesterPublicKey",
		Network: "http://localhost:8899",
	}), "https://dapp.example.org")

	require.NoError(t, c.Respond(MethodAddFundsResponse, ResponseParams{
		Signature: "someSignature",
		Amount:    10,
	}))
	require.Len(t, transport.sent, 2)
	require.Equal(
		t, "https://dapp.example.org", transport.sent[1].targetOrigin,
	)

	var params ResponseParams
	err := json.Unmarshal(transport.sent[1].env.Params, &params)
	require.NoError(t, err)
	require.Equal(t, "someSignature", params.Signature)
	require.Equal(t, uint64(10), params.Amount)
	require.False(t, params.Err)
}

// TestChannel_Respond_NoTransport tests that sends without an opener window
// are silent no-ops.
func TestChannel_Respond_NoTransport(t *testing.T) {
	t.Parallel()

	c, err := New(&Config{
		Store: &fakeStore{entryPoint: "http://localhost:8899"},
		Sink:  &recordingSink{},
	})
	require.NoError(t, err)

	require.NoError(t, c.Respond(MethodReady, nil))
	require.NoError(
		t, c.Respond(MethodAddFundsResponse, ResponseParams{Err: true}),
	)
}

// TestChannel_Start_AnnouncesReady tests that Start registers the inbound
// handler first and announces readiness on connect.
func TestChannel_Start_AnnouncesReady(t *testing.T) {
	t.Parallel()

	c, _, _, transport, requests := testChannel(t)

	require.NoError(t, c.Start())
	require.NotNil(t, transport.handlers.OnMessage)
	require.NotNil(t, transport.handlers.OnConnect)

	// Nothing announced until a requester attaches.
	require.Empty(t, transport.sent)

	transport.handlers.OnConnect()
	require.Len(t, transport.sent, 1)
	require.Equal(t, MethodReady, transport.sent[0].env.Method)
	require.Equal(t, WildcardOrigin, transport.sent[0].targetOrigin)

	// The registered handler feeds the channel.
	transport.handlers.OnMessage(addFunds(t, AddFundsParams{
		PubKey:  "requesterPublicKey",
		Network: "http://localhost:8899",
	}), "https://dapp.example.org")

	require.Len(t, *requests, 1)
}

// TestAmountValue_Unmarshal tests wire decoding of the amount field.
func TestAmountValue_Unmarshal(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		input   string
		want    AmountValue
		wantErr bool
	}{
		{name: "number", input: `123`, want: "123"},
		{name: "string", input: `"123"`, want: "123"},
		{name: "null", input: `null`, want: ""},
		{name: "empty string", input: `""`, want: ""},
		{name: "object", input: `{}`, wantErr: true},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var amount AmountValue
			err := json.Unmarshal([]byte(tc.input), &amount)
			if tc.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			require.Equal(t, tc.want, amount)
		})
	}
}
