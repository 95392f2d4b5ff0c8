package storage

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/samber/lo"

	"github.com/nostrwire/core/protocol"
)

// Memory is an in-process Store used by tests and by callers that don't
// need durability across restarts. It mirrors the reference mock store
// the original implementation ships for the same purpose.
type Memory struct {
	mu       sync.Mutex
	events   map[string]protocol.StoredEvent
	dmThread map[string]protocol.DmThread
	lastSeen map[string]int64
	outbox   map[string]protocol.OutboxItem
	keypair  []byte
}

// NewMemory constructs an empty in-memory Store.
func NewMemory() *Memory {
	return &Memory{
		events:   make(map[string]protocol.StoredEvent),
		dmThread: make(map[string]protocol.DmThread),
		lastSeen: make(map[string]int64),
		outbox:   make(map[string]protocol.OutboxItem),
	}
}

func (m *Memory) SaveEvent(id string, eventJSON []byte, relayHint string, insertedAt int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ev protocol.Event
	if err := json.Unmarshal(eventJSON, &ev); err != nil {
		return protocol.ParseErrorf("decode event for storage: %w", err)
	}
	m.events[id] = protocol.StoredEvent{Event: ev, RelayHint: relayHint, InsertedAt: insertedAt}
	return nil
}

func (m *Memory) GetEvents(filter Filter) ([]protocol.StoredEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]protocol.StoredEvent, 0, len(m.events))
	for _, ev := range m.events {
		if !matchesFilter(ev, filter) {
			continue
		}
		result = append(result, ev)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt > result[j].CreatedAt
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func matchesFilter(ev protocol.StoredEvent, f Filter) bool {
	if len(f.Kinds) > 0 && !lo.Contains(f.Kinds, ev.Kind) {
		return false
	}
	if len(f.Authors) > 0 && !lo.Contains(f.Authors, ev.PubKey) {
		return false
	}
	if f.Since != nil && int64(ev.CreatedAt) < *f.Since {
		return false
	}
	if f.Until != nil && int64(ev.CreatedAt) > *f.Until {
		return false
	}
	return true
}

func (m *Memory) UpsertDmThread(peer string, lastMsgAt int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	thread, ok := m.dmThread[peer]
	if !ok {
		thread = protocol.DmThread{Peer: peer}
	}
	thread.LastMsgAt = lastMsgAt
	m.dmThread[peer] = thread
	return nil
}

func (m *Memory) GetDmThreads() ([]protocol.DmThread, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]protocol.DmThread, 0, len(m.dmThread))
	for _, t := range m.dmThread {
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].LastMsgAt > result[j].LastMsgAt })
	return result, nil
}

func (m *Memory) GetLastSeen(scope string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSeen[scope], nil
}

func (m *Memory) SetLastSeen(scope string, ts int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSeen[scope] = ts
	return nil
}

func (m *Memory) EnqueueOutbox(item protocol.OutboxItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outbox[item.ReqID] = item
	return nil
}

func (m *Memory) UpdateOutboxStatus(reqID string, status protocol.OutboxStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.outbox[reqID]
	if !ok {
		return nil
	}
	item.Status = status
	item.Error = errMsg
	m.outbox[reqID] = item
	return nil
}

func (m *Memory) UpdateOutboxRetry(reqID string, status protocol.OutboxStatus, lastTryAt int64, retryCount uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.outbox[reqID]
	if !ok {
		return nil
	}
	item.Status = status
	item.LastTryAt = lastTryAt
	item.RetryCount = retryCount
	m.outbox[reqID] = item
	return nil
}

func (m *Memory) GetPendingOutbox() ([]protocol.OutboxItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]protocol.OutboxItem, 0)
	for _, item := range m.outbox {
		if item.Status == protocol.StatusQueued || item.Status == protocol.StatusSent {
			result = append(result, item)
		}
	}
	return result, nil
}

func (m *Memory) DeleteOutbox(reqID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.outbox, reqID)
	return nil
}

func (m *Memory) SaveKeypair(encrypted []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keypair = append([]byte(nil), encrypted...)
	return nil
}

func (m *Memory) GetKeypair() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keypair == nil {
		return nil, nil
	}
	return append([]byte(nil), m.keypair...), nil
}

func (m *Memory) Close() error { return nil }

var _ Store = (*Memory)(nil)
