package outbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nostrwire/core/protocol"
	"github.com/nostrwire/core/storage"
)

type fakeSender struct {
	connected bool
	sendErr   error
	sent      [][]byte
}

func (f *fakeSender) IsConnected() bool { return f.connected }
func (f *fakeSender) Send(frame []byte) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, frame)
	return nil
}

func testEvent(id string) []byte {
	return []byte(`{"id":"` + id + `","kind":1,"content":"hi"}`)
}

func TestOutbox_EnqueueAndDequeue(t *testing.T) {
	store := storage.NewMemory()
	ob := New(store)

	reqID, err := ob.Enqueue(testEvent("e1"), "e1", 1000)
	require.NoError(t, err)
	assert.NotEmpty(t, reqID)
	assert.Equal(t, 1, ob.Len())

	frame, ok := ob.Dequeue()
	require.True(t, ok)
	assert.Contains(t, string(frame), "e1")
}

func TestOutbox_ProcessSendsToConnectedRelaysOnly(t *testing.T) {
	store := storage.NewMemory()
	ob := New(store)
	_, err := ob.Enqueue(testEvent("e1"), "e1", 1000)
	require.NoError(t, err)

	down := &fakeSender{connected: false}
	up := &fakeSender{connected: true}

	require.NoError(t, ob.Process([]Sender{down, up}, 1000))
	assert.Empty(t, down.sent)
	require.Len(t, up.sent, 1)
}

func TestOutbox_OnOKAccepted_RemovesItem(t *testing.T) {
	store := storage.NewMemory()
	ob := New(store)
	_, err := ob.Enqueue(testEvent("e1"), "e1", 1000)
	require.NoError(t, err)

	up := &fakeSender{connected: true}
	require.NoError(t, ob.Process([]Sender{up}, 1000))
	require.NoError(t, ob.OnOK("e1", true, ""))

	assert.Equal(t, 0, ob.Len())
	pending, err := store.GetPendingOutbox()
	require.NoError(t, err)
	assert.Len(t, pending, 0)
}

func TestOutbox_OnOKRejected_MarksError(t *testing.T) {
	store := storage.NewMemory()
	ob := New(store)
	_, err := ob.Enqueue(testEvent("e1"), "e1", 1000)
	require.NoError(t, err)

	up := &fakeSender{connected: true}
	require.NoError(t, ob.Process([]Sender{up}, 1000))
	require.NoError(t, ob.OnOK("e1", false, "blocked"))

	pending, err := store.GetPendingOutbox()
	require.NoError(t, err)
	assert.Len(t, pending, 0, "errored items are no longer queued or sent")
}

func TestOutbox_RetryFailedRearmsAfterBackoff(t *testing.T) {
	store := storage.NewMemory()
	ob := New(store)
	_, err := ob.Enqueue(testEvent("e1"), "e1", 1000)
	require.NoError(t, err)

	up := &fakeSender{connected: true}
	require.NoError(t, ob.Process([]Sender{up}, 1000))
	require.NoError(t, ob.OnOK("e1", false, "blocked"))

	// retry_count is 1 after the single send attempt; backoff = 5*1 = 5s.
	require.NoError(t, ob.RetryFailed(1001))
	assert.Equal(t, protocol.StatusError, ob.items[ob.order[0]].Status, "backoff not yet elapsed")

	require.NoError(t, ob.RetryFailed(1005))
	assert.Equal(t, protocol.StatusQueued, ob.items[ob.order[0]].Status, "backoff elapsed, rearmed")
}

func TestOutbox_ExhaustedHeadDoesNotBlockLaterItems(t *testing.T) {
	store := storage.NewMemory()
	require.NoError(t, store.EnqueueOutbox(protocol.OutboxItem{
		ReqID: "r1", EventJSON: testEvent("e1"), EventID: "e1",
		Status: protocol.StatusQueued, RetryCount: protocol.MaxRetryCount,
	}))
	ob := New(store)
	require.NoError(t, ob.LoadPending())

	_, err := ob.Enqueue(testEvent("e2"), "e2", 2000)
	require.NoError(t, err)
	require.Equal(t, 2, ob.Len())

	up := &fakeSender{connected: true}
	require.NoError(t, ob.Process([]Sender{up}, 2000))
	assert.Empty(t, up.sent, "the exhausted head is never transmitted")
	assert.Equal(t, 1, ob.Len(), "the exhausted item is dropped from the active queue")

	require.NoError(t, ob.Process([]Sender{up}, 2000))
	require.Len(t, up.sent, 1, "the second item must be sent once it reaches the head")
	assert.Contains(t, string(up.sent[0]), "e2")
}

func TestOutbox_LoadPendingRecoversFromStorage(t *testing.T) {
	store := storage.NewMemory()
	require.NoError(t, store.EnqueueOutbox(protocol.OutboxItem{
		ReqID: "r1", EventJSON: testEvent("e1"), EventID: "e1", Status: protocol.StatusQueued,
	}))
	require.NoError(t, store.EnqueueOutbox(protocol.OutboxItem{
		ReqID: "r2", EventJSON: testEvent("e2"), EventID: "e2", Status: protocol.StatusSent,
	}))

	ob := New(store)
	require.NoError(t, ob.LoadPending())
	assert.Equal(t, 2, ob.Len())
}

func TestOutbox_RetryBudgetExhaustionIsTerminal(t *testing.T) {
	store := storage.NewMemory()
	require.NoError(t, store.EnqueueOutbox(protocol.OutboxItem{
		ReqID: "r1", EventJSON: testEvent("e1"), EventID: "e1",
		Status: protocol.StatusQueued, RetryCount: protocol.MaxRetryCount,
	}))
	ob := New(store)
	require.NoError(t, ob.LoadPending())

	up := &fakeSender{connected: true}
	require.NoError(t, ob.Process([]Sender{up}, 2000))
	assert.Empty(t, up.sent, "an exhausted item is never transmitted again")

	pending, err := store.GetPendingOutbox()
	require.NoError(t, err)
	assert.Len(t, pending, 0)
}
