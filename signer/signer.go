// Package signer provides the pluggable signing capability the engine
// needs to emit events: an internal passphrase-protected keystore, and
// an external signer delegating to a named provider registered by the
// embedding process.
package signer

import (
	"context"

	"github.com/nostrwire/core/protocol"
)

// Signer is the capability set every variant must implement: public
// key retrieval, event signing, and NIP-04 symmetric encryption for
// direct messages. Implementations may fail NIP-04 operations with
// ErrNip04Unsupported.
type Signer interface {
	// GetPublicKey returns the signer's serialised x-only public key.
	GetPublicKey(ctx context.Context) (string, error)

	// SignEvent completes an unsigned event (kind, content, tags,
	// created_at populated; id/pubkey/sig empty) and returns it signed.
	SignEvent(ctx context.Context, unsigned protocol.Event) (protocol.Event, error)

	// Nip04Encrypt encrypts plaintext for peer per NIP-04.
	Nip04Encrypt(ctx context.Context, peer, plaintext string) (string, error)

	// Nip04Decrypt is the inverse of Nip04Encrypt.
	Nip04Decrypt(ctx context.Context, peer, ciphertext string) (string, error)
}
