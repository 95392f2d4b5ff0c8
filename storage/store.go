// Package storage implements the engine's persistent key-value
// contract: events keyed by id, DM threads keyed by peer, last-seen
// cursors keyed by scope, the outbox keyed by req_id, and a singleton
// encrypted keypair blob.
package storage

import "github.com/nostrwire/core/protocol"

// Filter narrows GetEvents the way spec.md's Filter JSON does, applied
// client-side against the local store rather than shipped to a relay.
type Filter struct {
	Kinds   []int
	Authors []string
	Since   *int64
	Until   *int64
	Limit   int
}

// Store is the abstract persistence contract every other package in
// this engine depends on. Implementations must make SaveEvent
// idempotent on id.
type Store interface {
	// SaveEvent persists an inbound or outbound event, keyed by its id.
	// Calling it twice with the same id overwrites the first record
	// (last writer wins with identical key), so an id is stored once.
	SaveEvent(id string, eventJSON []byte, relayHint string, insertedAt int64) error

	// GetEvents returns stored events matching filter, newest first.
	GetEvents(filter Filter) ([]protocol.StoredEvent, error)

	// UpsertDmThread records that a message with peer arrived at lastMsgAt.
	UpsertDmThread(peer string, lastMsgAt int64) error

	// GetDmThreads returns all known DM threads, most recent first.
	GetDmThreads() ([]protocol.DmThread, error)

	// GetLastSeen returns the read cursor for scope, or 0 if unset.
	GetLastSeen(scope string) (int64, error)

	// SetLastSeen records the read cursor for scope.
	SetLastSeen(scope string, ts int64) error

	// EnqueueOutbox persists a newly created outbox item.
	EnqueueOutbox(item protocol.OutboxItem) error

	// UpdateOutboxStatus updates the persisted item's status and sets its
	// error message to errMsg, whatever the status.
	UpdateOutboxStatus(reqID string, status protocol.OutboxStatus, errMsg string) error

	// UpdateOutboxRetry persists a retry attempt: new status, last_try_at,
	// and the incremented retry_count.
	UpdateOutboxRetry(reqID string, status protocol.OutboxStatus, lastTryAt int64, retryCount uint32) error

	// GetPendingOutbox returns every item whose status is Queued or Sent.
	GetPendingOutbox() ([]protocol.OutboxItem, error)

	// DeleteOutbox removes a terminal (Ok) item from the store.
	DeleteOutbox(reqID string) error

	// SaveKeypair persists the encrypted keystore blob, overwriting any
	// previous one (at most one keypair per installation).
	SaveKeypair(encrypted []byte) error

	// GetKeypair returns the encrypted keystore blob, or nil if none was
	// ever saved.
	GetKeypair() ([]byte, error)

	// Close releases any resources held by the store.
	Close() error
}
