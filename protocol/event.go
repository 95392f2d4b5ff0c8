// Package protocol holds the wire-level types shared by every other
// package in this module: the Nostr event shape, relay frames, filter
// construction, the outbox item record, and subscription state.
package protocol

import (
	"time"

	"github.com/nbd-wtf/go-nostr"
)

// Event is the wire-canonical Nostr event: id, pubkey, created_at, kind,
// tags, content, sig. go-nostr's json tags already match NIP-01 field
// names, so it is reused verbatim instead of re-declaring the struct.
type Event = nostr.Event

// Tag and Tags mirror go-nostr's representation of an ordered sequence
// of ordered string sequences.
type Tag = nostr.Tag
type Tags = nostr.Tags

// NIP-28 / NIP-04 kind numbers this engine emits and subscribes to.
const (
	KindChannelCreate  = 40
	KindChannelMessage = 42
	KindEncryptedDM    = 4
)

// StoredEvent extends Event with the fields the local store adds on
// insertion. Invariant: ID is unique in the store; insertion is
// idempotent on ID.
type StoredEvent struct {
	Event
	RelayHint  string `json:"relay_hint,omitempty"`
	InsertedAt int64  `json:"inserted_at"`
}

// NowTimestamp returns the current time as a nostr.Timestamp, for
// populating an unsigned event's created_at field.
func NowTimestamp() nostr.Timestamp {
	return nostr.Timestamp(time.Now().Unix())
}

// UiRow is the shape poll_events hands back to the embedding UI.
type UiRow struct {
	ID        string  `json:"id"`
	Kind      int     `json:"kind"`
	PubKey    string  `json:"pubkey"`
	CreatedAt int64   `json:"created_at"`
	Content   string  `json:"content"`
	ImageURL  *string `json:"image_url,omitempty"`
}
