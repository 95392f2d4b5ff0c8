package protocol

import (
	"errors"
	"fmt"
)

// Sentinel error kinds per the engine's error handling design. Callers
// use errors.Is against these to classify a failure without depending
// on a concrete type.
var (
	ErrTransport   = errors.New("transport error")
	ErrParse       = errors.New("parse error")
	ErrStorage     = errors.New("storage error")
	ErrSigner      = errors.New("signer error")
	ErrRelayReject = errors.New("relay rejected event")
)

// TransportErrorf wraps a WebSocket open/send failure.
func TransportErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrTransport}, args...)...)
}

// ParseErrorf wraps a malformed relay frame, event, or stored record.
func ParseErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrParse}, args...)...)
}

// StorageErrorf wraps a persistent-store failure.
func StorageErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrStorage}, args...)...)
}

// SignerErrorf wraps a signer unavailable/rejected/missing-capability failure.
func SignerErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrSigner}, args...)...)
}

// RelayRejectErrorf wraps a negative OK from a relay.
func RelayRejectErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrRelayReject}, args...)...)
}
