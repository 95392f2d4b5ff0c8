package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nostrwire/core/protocol"
	"github.com/nostrwire/core/signer"
	"github.com/nostrwire/core/storage"
)

// fakeRelayServer is a minimal in-process relay: it upgrades exactly
// one websocket connection, forwards every inbound text frame onto
// received, and lets the test push frames back to the client over the
// conn handed back from accept().
type fakeRelayServer struct {
	server   *httptest.Server
	connCh   chan *websocket.Conn
	received chan []byte
}

func newFakeRelayServer(t *testing.T) *fakeRelayServer {
	t.Helper()
	upgrader := websocket.Upgrader{}
	f := &fakeRelayServer{connCh: make(chan *websocket.Conn, 1), received: make(chan []byte, 16)}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		f.connCh <- conn
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			f.received <- data
		}
	}))
	return f
}

func (f *fakeRelayServer) url() string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http")
}

func (f *fakeRelayServer) close() {
	f.server.Close()
}

// accept blocks until the client connection has completed its
// handshake and returns the server-side conn.
func (f *fakeRelayServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-f.connCh:
		return conn
	case <-time.After(time.Second):
		t.Fatal("relay server never accepted a connection")
		return nil
	}
}

func (f *fakeRelayServer) waitForFrame(t *testing.T, timeout time.Duration) []byte {
	t.Helper()
	select {
	case frame := <-f.received:
		return frame
	case <-time.After(timeout):
		t.Fatal("timed out waiting for relay frame")
		return nil
	}
}

func waitForTick(t *testing.T, core *CoreHandle, ctx context.Context, predicate func() bool, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		core.Tick(ctx)
		if predicate() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestCoreHandle_PublicMessageHappyPath(t *testing.T) {
	relayServer := newFakeRelayServer(t)
	defer relayServer.close()

	store := storage.NewMemory()
	core := New([]string{relayServer.url()}, store, nil)
	sign, err := signer.GenerateInternal()
	require.NoError(t, err)
	core.SetSigner(sign)

	ctx := context.Background()
	core.ConnectAll(ctx)
	conn := relayServer.accept(t)

	id, err := core.SendPublic(ctx, "ch_abc", "hi")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	core.Tick(ctx)
	frame := relayServer.waitForFrame(t, time.Second)

	var arr []json.RawMessage
	require.NoError(t, json.Unmarshal(frame, &arr))
	require.Len(t, arr, 2)
	var tag string
	require.NoError(t, json.Unmarshal(arr[0], &tag))
	assert.Equal(t, "EVENT", tag)

	var ev protocol.Event
	require.NoError(t, json.Unmarshal(arr[1], &ev))
	assert.Equal(t, 42, ev.Kind)
	assert.Equal(t, "hi", ev.Content)
	require.Len(t, ev.Tags, 1)
	assert.Equal(t, protocol.Tag{"e", "ch_abc"}, ev.Tags[0])
	assert.Equal(t, id, ev.ID)

	okFrame, err := json.Marshal([]any{"OK", ev.ID, true, ""})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, okFrame))

	waitForTick(t, core, ctx, func() bool {
		pending, _ := store.GetPendingOutbox()
		return len(pending) == 0
	}, time.Second)
}

func TestCoreHandle_OKRejectionMarksOutboxError(t *testing.T) {
	relayServer := newFakeRelayServer(t)
	defer relayServer.close()

	store := storage.NewMemory()
	core := New([]string{relayServer.url()}, store, nil)
	sign, err := signer.GenerateInternal()
	require.NoError(t, err)
	core.SetSigner(sign)

	ctx := context.Background()
	core.ConnectAll(ctx)
	conn := relayServer.accept(t)

	id, err := core.SendPublic(ctx, "ch_abc", "hi")
	require.NoError(t, err)

	core.Tick(ctx)
	relayServer.waitForFrame(t, time.Second)

	frame, err := json.Marshal([]any{"OK", id, false, "blocked"})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))

	waitForTick(t, core, ctx, func() bool {
		pending, _ := store.GetPendingOutbox()
		return len(pending) == 0
	}, time.Second)
}

func TestCoreHandle_EventDispatchPersistsAndFeedsUI(t *testing.T) {
	store := storage.NewMemory()
	core := New(nil, store, nil)

	inbound := protocol.Event{ID: "ev1", Kind: 42, PubKey: "pub1", CreatedAt: protocol.NowTimestamp(), Content: "echoed"}
	raw, err := json.Marshal(inbound)
	require.NoError(t, err)

	require.NoError(t, core.dispatchEvent(&protocol.RelayMessage{Kind: protocol.MessageEvent, SubID: "ch:root", EventJSON: raw}))

	events, err := store.GetEvents(storage.Filter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "ev1", events[0].ID)

	rows := core.PollEvents(10)
	require.Len(t, rows, 1)
	assert.Equal(t, "ev1", rows[0].ID)
	assert.Equal(t, "echoed", rows[0].Content)

	assert.Empty(t, core.PollEvents(10), "poll_events removes what it returns")
}

func TestCoreHandle_EoseWidensWindowThenFreezes(t *testing.T) {
	store := storage.NewMemory()
	core := New(nil, store, nil)

	require.NoError(t, core.OpenChannel("ch_x"))
	subID := "ch:ch_x"

	for i := 0; i < protocol.MaxExtensionStage; i++ {
		require.NoError(t, core.dispatchEose(&protocol.RelayMessage{Kind: protocol.MessageEose, SubID: subID}))
	}
	sub, ok := core.subs.Get(subID)
	require.True(t, ok)

	before := sub.Window.Since
	require.NoError(t, core.dispatchEose(&protocol.RelayMessage{Kind: protocol.MessageEose, SubID: subID}))
	after, _ := core.subs.Get(subID)
	assert.False(t, after.NeedsExtension(), "stops widening after the last stage")
	assert.Equal(t, before, after.Window.Since, "an EOSE past the max stage does not move since")
}

func TestCoreHandle_CrashRecoveryReloadsPendingOutbox(t *testing.T) {
	store := storage.NewMemory()
	require.NoError(t, store.EnqueueOutbox(protocol.OutboxItem{
		ReqID: "r1", EventJSON: []byte(`{"id":"e1","kind":1}`), EventID: "e1", Status: protocol.StatusQueued,
	}))
	require.NoError(t, store.EnqueueOutbox(protocol.OutboxItem{
		ReqID: "r2", EventJSON: []byte(`{"id":"e2","kind":1}`), EventID: "e2", Status: protocol.StatusQueued,
	}))

	core := New(nil, store, nil)
	require.NoError(t, core.LoadPendingOutbox())
	assert.Equal(t, 2, core.outbox.Len())
}
