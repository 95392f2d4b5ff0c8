// Package outbox implements the durable, retrying, at-least-once send
// queue: events are persisted before transmission, resent on a linear
// backoff, and removed only once a relay acknowledges them positively.
package outbox

import (
	"sync"

	"github.com/google/uuid"

	"github.com/nostrwire/core/protocol"
	"github.com/nostrwire/core/storage"
)

const sentAwaitSeconds = 5

// Sender is the minimal relay-connection capability the outbox needs;
// relay.Connection satisfies it.
type Sender interface {
	Send(frame []byte) error
	IsConnected() bool
}

// Outbox is the in-memory working set mirroring the persistent queue,
// plus the explicit id -> req_id index that replaces the original
// implementation's substring-match correlation (see DESIGN.md).
type Outbox struct {
	store storage.Store

	mu      sync.Mutex
	order   []string // req_id, FIFO by enqueue order
	items   map[string]protocol.OutboxItem
	idIndex map[string]string // event id -> req_id
}

// New constructs an empty Outbox backed by store.
func New(store storage.Store) *Outbox {
	return &Outbox{
		store:   store,
		items:   make(map[string]protocol.OutboxItem),
		idIndex: make(map[string]string),
	}
}

// Enqueue persists a new item and appends it to the FIFO.
func (o *Outbox) Enqueue(eventJSON []byte, eventID string, now int64) (string, error) {
	reqID := uuid.NewString()
	item := protocol.OutboxItem{
		ReqID:     reqID,
		EventJSON: append([]byte(nil), eventJSON...),
		EventID:   eventID,
		Status:    protocol.StatusQueued,
		LastTryAt: now,
	}
	if err := o.store.EnqueueOutbox(item); err != nil {
		return "", err
	}

	o.mu.Lock()
	o.items[reqID] = item
	o.order = append(o.order, reqID)
	o.idIndex[eventID] = reqID
	o.mu.Unlock()
	return reqID, nil
}

// LoadPending rebuilds the in-memory deque from Storage; called once
// at startup to recover from a crash.
func (o *Outbox) LoadPending() error {
	pending, err := o.store.GetPendingOutbox()
	if err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.order = o.order[:0]
	o.items = make(map[string]protocol.OutboxItem, len(pending))
	o.idIndex = make(map[string]string, len(pending))
	for _, item := range pending {
		o.items[item.ReqID] = item
		o.order = append(o.order, item.ReqID)
		o.idIndex[item.EventID] = item.ReqID
	}
	return nil
}

// Dequeue returns the EVENT frame for the head item iff it is Queued;
// it does not remove the item, which stays queued until an OK
// terminates it.
func (o *Outbox) Dequeue() ([]byte, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.order) == 0 {
		return nil, false
	}
	head := o.items[o.order[0]]
	if head.Status != protocol.StatusQueued {
		return nil, false
	}
	frame, err := protocol.BuildEvent(head.EventJSON)
	if err != nil {
		return nil, false
	}
	return frame, true
}

// Process advances the head item's state machine per tick: exhausted
// retries become terminal Error, a recently-Sent item is left to await
// its OK, otherwise the event is broadcast to every connected relay.
func (o *Outbox) Process(relays []Sender, now int64) error {
	o.mu.Lock()
	if len(o.order) == 0 {
		o.mu.Unlock()
		return nil
	}
	reqID := o.order[0]
	item := o.items[reqID]
	o.mu.Unlock()

	if item.RetryCount >= protocol.MaxRetryCount {
		if err := o.markError(reqID, "retry budget exhausted"); err != nil {
			return err
		}
		o.mu.Lock()
		o.removeFromOrderLocked(reqID)
		o.mu.Unlock()
		return nil
	}
	if item.Status == protocol.StatusSent && now-item.LastTryAt < sentAwaitSeconds {
		return nil
	}
	if item.Status != protocol.StatusQueued && item.Status != protocol.StatusSent {
		return nil
	}

	frame, err := protocol.BuildEvent(item.EventJSON)
	if err != nil {
		return err
	}

	sentOK := false
	for _, r := range relays {
		if !r.IsConnected() {
			continue
		}
		if sendErr := r.Send(frame); sendErr == nil {
			sentOK = true
		}
	}
	if !sentOK {
		return nil
	}

	o.mu.Lock()
	item.Status = protocol.StatusSent
	item.LastTryAt = now
	item.RetryCount++
	o.items[reqID] = item
	o.mu.Unlock()
	return o.store.UpdateOutboxRetry(reqID, protocol.StatusSent, now, item.RetryCount)
}

// markError transitions reqID to Error and persists it. Callers that
// know the error is terminal (retry budget exhausted) are responsible
// for also removing reqID from order so it stops blocking the head of
// the FIFO; a rejection via OnOK may still have retry budget left, so
// it stays in order for RetryFailed to find and rearm.
func (o *Outbox) markError(reqID, message string) error {
	o.mu.Lock()
	item, ok := o.items[reqID]
	if ok {
		item.Status = protocol.StatusError
		item.Error = message
		o.items[reqID] = item
	}
	o.mu.Unlock()
	if !ok {
		return nil
	}
	return o.store.UpdateOutboxStatus(reqID, protocol.StatusError, message)
}

// OnOK correlates an inbound OK frame to its outbox item via the
// id -> req_id index recorded at enqueue time, and applies the
// resulting transition.
func (o *Outbox) OnOK(eventID string, accepted bool, message string) error {
	o.mu.Lock()
	reqID, ok := o.idIndex[eventID]
	o.mu.Unlock()
	if !ok {
		return nil
	}

	if accepted {
		o.mu.Lock()
		delete(o.items, reqID)
		delete(o.idIndex, eventID)
		o.removeFromOrderLocked(reqID)
		o.mu.Unlock()
		if err := o.store.UpdateOutboxStatus(reqID, protocol.StatusOK, ""); err != nil {
			return err
		}
		return o.store.DeleteOutbox(reqID)
	}

	return o.markError(reqID, message)
}

func (o *Outbox) removeFromOrderLocked(reqID string) {
	for i, id := range o.order {
		if id == reqID {
			o.order = append(o.order[:i], o.order[i+1:]...)
			return
		}
	}
}

// RetryFailed rearms Error items whose backoff has elapsed back to
// Queued, per the linear schedule RetryDelaySeconds * retry_count.
func (o *Outbox) RetryFailed(now int64) error {
	o.mu.Lock()
	var toRearm []string
	for _, reqID := range o.order {
		item := o.items[reqID]
		if item.Status != protocol.StatusError {
			continue
		}
		if item.RetryCount >= protocol.MaxRetryCount {
			continue
		}
		delay := int64(protocol.RetryDelaySeconds) * int64(item.RetryCount)
		if now-item.LastTryAt >= delay {
			toRearm = append(toRearm, reqID)
		}
	}
	for _, reqID := range toRearm {
		item := o.items[reqID]
		item.Status = protocol.StatusQueued
		o.items[reqID] = item
	}
	o.mu.Unlock()

	for _, reqID := range toRearm {
		if err := o.store.UpdateOutboxStatus(reqID, protocol.StatusQueued, ""); err != nil {
			return err
		}
	}
	return nil
}

// Len reports the number of items still tracked: queued, sent, or
// rejected and waiting for RetryFailed to rearm them.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.order)
}
