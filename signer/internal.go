package signer

import (
	"context"
	"encoding/hex"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip04"

	"github.com/nostrwire/core/protocol"
)

// Internal is the built-in Signer: a single secp256k1/Schnorr keypair
// held in process memory, optionally persisted via SaveToStorage. It
// follows the same shape as the teacher's own EventSigner
// (protocol/signer.go in the reference pack), generalised from that
// package's single-purpose ephemeral-event signing to NIP-01 events and
// NIP-04 DMs.
type Internal struct {
	secretKeyHex string
	publicKeyHex string
}

// GenerateInternal creates a brand-new random keypair.
func GenerateInternal() (*Internal, error) {
	return NewInternal(nostr.GeneratePrivateKey())
}

// NewInternal builds an Internal signer from an existing 32-byte hex
// secret key, validating it is a well-formed secp256k1 scalar.
func NewInternal(secretKeyHex string) (*Internal, error) {
	skBytes, err := hex.DecodeString(secretKeyHex)
	if err != nil {
		return nil, protocol.SignerErrorf("secret key is not valid hex: %w", err)
	}
	if len(skBytes) != 32 {
		return nil, protocol.SignerErrorf("secret key must be 32 bytes, got %d", len(skBytes))
	}
	var scalar btcec.ModNScalar
	if overflow := scalar.SetByteSlice(skBytes); overflow || scalar.IsZero() {
		return nil, protocol.SignerErrorf("secret key is not a valid secp256k1 scalar")
	}

	publicKeyHex, err := nostr.GetPublicKey(secretKeyHex)
	if err != nil {
		return nil, protocol.SignerErrorf("derive public key: %w", err)
	}
	return &Internal{secretKeyHex: secretKeyHex, publicKeyHex: publicKeyHex}, nil
}

func (s *Internal) GetPublicKey(_ context.Context) (string, error) {
	return s.publicKeyHex, nil
}

// SignEvent constructs the NIP-01 canonical serialisation
// [0, pubkey, created_at, kind, tags, content], hashes it with SHA-256
// to produce id, and signs id with Schnorr/secp256k1 to produce sig —
// exactly go-nostr's Event.Sign, which this delegates to.
func (s *Internal) SignEvent(_ context.Context, unsigned protocol.Event) (protocol.Event, error) {
	unsigned.PubKey = s.publicKeyHex
	if err := unsigned.Sign(s.secretKeyHex); err != nil {
		return protocol.Event{}, protocol.SignerErrorf("sign event: %w", err)
	}
	return unsigned, nil
}

func (s *Internal) Nip04Encrypt(_ context.Context, peer, plaintext string) (string, error) {
	shared, err := nip04.ComputeSharedSecret(peer, s.secretKeyHex)
	if err != nil {
		return "", protocol.SignerErrorf("compute nip-04 shared secret: %w", err)
	}
	ciphertext, err := nip04.Encrypt(plaintext, shared)
	if err != nil {
		return "", protocol.SignerErrorf("nip-04 encrypt: %w", err)
	}
	return ciphertext, nil
}

func (s *Internal) Nip04Decrypt(_ context.Context, peer, ciphertext string) (string, error) {
	shared, err := nip04.ComputeSharedSecret(peer, s.secretKeyHex)
	if err != nil {
		return "", protocol.SignerErrorf("compute nip-04 shared secret: %w", err)
	}
	plaintext, err := nip04.Decrypt(ciphertext, shared)
	if err != nil {
		return "", protocol.SignerErrorf("nip-04 decrypt: %w", err)
	}
	return plaintext, nil
}

// secretKeyBytes exposes the raw 32-byte secret key, for keystore
// persistence only.
func (s *Internal) secretKeyBytes() ([]byte, error) {
	return hex.DecodeString(s.secretKeyHex)
}

var _ Signer = (*Internal)(nil)
