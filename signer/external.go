package signer

import (
	"context"
	"errors"
	"sync"

	"github.com/nostrwire/core/protocol"
)

// ErrNip04Unsupported is returned by an External signer whose provider
// does not implement Nip04Provider.
var ErrNip04Unsupported = errors.New("signer: provider does not support nip-04")

// ExternalProvider is implemented by an embedding process that wants to
// hold the secret key itself and perform signing out of process —
// the NIP-07 "host provides a signer" capability, minus the browser.
type ExternalProvider interface {
	GetPublicKey(ctx context.Context) (string, error)
	SignEvent(ctx context.Context, unsigned protocol.Event) (protocol.Event, error)
}

// Nip04Provider is an optional capability of an ExternalProvider. A
// provider that doesn't implement it causes External's NIP-04 methods
// to fail with ErrNip04Unsupported.
type Nip04Provider interface {
	Nip04Encrypt(ctx context.Context, peer, plaintext string) (string, error)
	Nip04Decrypt(ctx context.Context, peer, ciphertext string) (string, error)
}

var (
	registryMu sync.Mutex
	registry   = map[string]ExternalProvider{}
)

// RegisterProvider makes an ExternalProvider available under name, for
// later lookup by NewExternal. Registering under an existing name
// replaces it.
func RegisterProvider(name string, provider ExternalProvider) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = provider
}

// External delegates every Signer operation to a provider resolved by
// name at construction time, the way a NIP-07 host extension is looked
// up by capability rather than embedded directly in the core.
type External struct {
	name     string
	provider ExternalProvider
}

// NewExternal looks up a provider registered under name and wraps it.
func NewExternal(name string) (*External, error) {
	registryMu.Lock()
	provider, ok := registry[name]
	registryMu.Unlock()
	if !ok {
		return nil, protocol.SignerErrorf("no external signer provider registered under %q", name)
	}
	return &External{name: name, provider: provider}, nil
}

func (s *External) GetPublicKey(ctx context.Context) (string, error) {
	return s.provider.GetPublicKey(ctx)
}

func (s *External) SignEvent(ctx context.Context, unsigned protocol.Event) (protocol.Event, error) {
	signed, err := s.provider.SignEvent(ctx, unsigned)
	if err != nil {
		return protocol.Event{}, protocol.SignerErrorf("external provider %q sign event: %w", s.name, err)
	}
	return signed, nil
}

func (s *External) Nip04Encrypt(ctx context.Context, peer, plaintext string) (string, error) {
	nip04, ok := s.provider.(Nip04Provider)
	if !ok {
		return "", ErrNip04Unsupported
	}
	return nip04.Nip04Encrypt(ctx, peer, plaintext)
}

func (s *External) Nip04Decrypt(ctx context.Context, peer, ciphertext string) (string, error) {
	nip04, ok := s.provider.(Nip04Provider)
	if !ok {
		return "", ErrNip04Unsupported
	}
	return nip04.Nip04Decrypt(ctx, peer, ciphertext)
}

var _ Signer = (*External)(nil)
