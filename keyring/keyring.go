package keyring

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"github.com/mr-tron/base58"
)

const (
	// SeedSize is the size of the secret seed an account is derived from.
	SeedSize = ed25519.SeedSize
)

// Account is a single ed25519 keypair. The public key is exposed in its
// base58 form, which is the only representation the rest of the wallet and
// the funding protocol ever deal in.
//
// An account is immutable once created. On a network or identity change the
// session replaces the whole account rather than mutating it, so in-flight
// operations holding a reference keep signing with the key they started
// with.
type Account struct {
	pubKey  ed25519.PublicKey
	privKey ed25519.PrivateKey

	// pubKeyStr is the base58 encoding of pubKey, computed once.
	pubKeyStr string
}

// New creates an account from secret material. The secret must be either an
// ed25519 seed (32 bytes) or a full ed25519 private key (64 bytes).
func New(secret []byte) (*Account, error) {
	var privKey ed25519.PrivateKey
	switch len(secret) {
	case ed25519.SeedSize:
		privKey = ed25519.NewKeyFromSeed(secret)

	case ed25519.PrivateKeySize:
		privKey = ed25519.PrivateKey(secret)

	default:
		return nil, fmt.Errorf("secret material must be %d or %d "+
			"bytes, got %d", ed25519.SeedSize,
			ed25519.PrivateKeySize, len(secret))
	}

	pubKey, ok := privKey.Public().(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("unexpected public key type")
	}

	return &Account{
		pubKey:    pubKey,
		privKey:   privKey,
		pubKeyStr: base58.Encode(pubKey),
	}, nil
}

// Generate creates an account from a fresh random seed.
func Generate() (*Account, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("failed to generate seed: %w", err)
	}

	return New(seed)
}

// PublicKey returns the base58 encoded public key of the account.
func (a *Account) PublicKey() string {
	return a.pubKeyStr
}

// Seed returns the secret seed the account was derived from.
func (a *Account) Seed() []byte {
	return a.privKey.Seed()
}

// Sign signs the given message and returns the base58 encoded signature.
func (a *Account) Sign(message []byte) string {
	return base58.Encode(ed25519.Sign(a.privKey, message))
}

// Verify checks a base58 encoded signature over message against the
// account's public key.
func (a *Account) Verify(message []byte, signature string) bool {
	sig, err := base58.Decode(signature)
	if err != nil {
		return false
	}

	return ed25519.Verify(a.pubKey, message, sig)
}
