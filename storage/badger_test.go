package storage

import (
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nostrwire/core/protocol"
)

func newTestBadger(t *testing.T) *Badger {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &Badger{db: db}
}

func TestBadger_SaveEventIsIdempotentAndRoundTrips(t *testing.T) {
	b := newTestBadger(t)
	raw := eventJSON(t, "id1", 42, "pub", 100)

	require.NoError(t, b.SaveEvent("id1", raw, "wss://relay", 1000))
	require.NoError(t, b.SaveEvent("id1", raw, "wss://relay", 2000))

	events, err := b.GetEvents(Filter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "id1", events[0].ID)
	assert.Equal(t, "wss://relay", events[0].RelayHint)
	assert.Equal(t, "hello", events[0].Content)
}

func TestBadger_GetEventsFilterAndOrdering(t *testing.T) {
	b := newTestBadger(t)
	require.NoError(t, b.SaveEvent("a", eventJSON(t, "a", 1, "alice", 100), "", 0))
	require.NoError(t, b.SaveEvent("b", eventJSON(t, "b", 42, "bob", 200), "", 0))

	events, err := b.GetEvents(Filter{})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "b", events[0].ID, "newest first")

	events, err = b.GetEvents(Filter{Kinds: []int{42}})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "b", events[0].ID)

	limited, err := b.GetEvents(Filter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "b", limited[0].ID)
}

func TestBadger_OutboxLifecycle(t *testing.T) {
	b := newTestBadger(t)
	item := protocol.OutboxItem{ReqID: "r1", EventJSON: []byte(`{}`), EventID: "e1", Status: protocol.StatusQueued}
	require.NoError(t, b.EnqueueOutbox(item))

	pending, err := b.GetPendingOutbox()
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, b.UpdateOutboxRetry("r1", protocol.StatusSent, 100, 1))
	pending, err = b.GetPendingOutbox()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, protocol.StatusSent, pending[0].Status)
	assert.EqualValues(t, 1, pending[0].RetryCount)

	require.NoError(t, b.UpdateOutboxStatus("r1", protocol.StatusError, "blocked"))
	pending, err = b.GetPendingOutbox()
	require.NoError(t, err)
	assert.Len(t, pending, 0, "Error status is not Queued or Sent")

	require.NoError(t, b.DeleteOutbox("r1"))
	require.NoError(t, b.DeleteOutbox("r1"), "deleting an absent key is not an error")
}

func TestBadger_DmThreadsAndLastSeen(t *testing.T) {
	b := newTestBadger(t)
	require.NoError(t, b.UpsertDmThread("peer1", 500))
	require.NoError(t, b.UpsertDmThread("peer1", 600))

	threads, err := b.GetDmThreads()
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.Equal(t, "peer1", threads[0].Peer)
	assert.Equal(t, int64(600), threads[0].LastMsgAt)

	ts, err := b.GetLastSeen("scope1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), ts)

	require.NoError(t, b.SetLastSeen("scope1", 777))
	ts, err = b.GetLastSeen("scope1")
	require.NoError(t, err)
	assert.Equal(t, int64(777), ts)
}

func TestBadger_Keypair(t *testing.T) {
	b := newTestBadger(t)
	blob, err := b.GetKeypair()
	require.NoError(t, err)
	assert.Nil(t, blob)

	require.NoError(t, b.SaveKeypair([]byte("encrypted-blob")))
	blob, err = b.GetKeypair()
	require.NoError(t, err)
	assert.Equal(t, []byte("encrypted-blob"), blob)
}
