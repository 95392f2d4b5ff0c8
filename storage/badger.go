package storage

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/nostrwire/core/protocol"
)

const (
	eventPrefix    = "event:"
	dmThreadPrefix = "dmthread:"
	lastSeenPrefix = "lastseen:"
	outboxPrefix   = "outbox:"
	keypairKey     = "keypair:default"
)

// Badger is a Store backed by an embedded badger/v4 database, the
// durable on-disk key-value engine the rest of this module's Nostr-relay
// sibling projects in the reference pack reach for.
type Badger struct {
	db *badger.DB
}

// OpenBadger opens (creating if absent) a badger database rooted at dir.
func OpenBadger(dir string) (*Badger, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, protocol.StorageErrorf("open badger store at %s: %w", dir, err)
	}
	return &Badger{db: db}, nil
}

func (b *Badger) Close() error {
	if err := b.db.Close(); err != nil {
		return protocol.StorageErrorf("close badger store: %w", err)
	}
	return nil
}

// eventRecord is the envelope wrapped around the canonical event JSON;
// the JSON bytes themselves are never transcoded.
type eventRecord struct {
	EventJSON  []byte `msgpack:"event_json"`
	RelayHint  string `msgpack:"relay_hint,omitempty"`
	InsertedAt int64  `msgpack:"inserted_at"`
}

func (b *Badger) SaveEvent(id string, eventJSON []byte, relayHint string, insertedAt int64) error {
	rec := eventRecord{EventJSON: append([]byte(nil), eventJSON...), RelayHint: relayHint, InsertedAt: insertedAt}
	val, err := msgpack.Marshal(rec)
	if err != nil {
		return protocol.StorageErrorf("encode event record: %w", err)
	}
	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(eventPrefix+id), val)
	})
	if err != nil {
		return protocol.StorageErrorf("save event %s: %w", id, err)
	}
	return nil
}

func (b *Badger) GetEvents(filter Filter) ([]protocol.StoredEvent, error) {
	var result []protocol.StoredEvent
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(eventPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var rec eventRecord
			err := item.Value(func(val []byte) error {
				return msgpack.Unmarshal(val, &rec)
			})
			if err != nil {
				return protocol.StorageErrorf("decode event record %s: %w", item.Key(), err)
			}
			var ev protocol.Event
			if err := json.Unmarshal(rec.EventJSON, &ev); err != nil {
				return protocol.ParseErrorf("decode stored event json: %w", err)
			}
			stored := protocol.StoredEvent{Event: ev, RelayHint: rec.RelayHint, InsertedAt: rec.InsertedAt}
			if matchesFilter(stored, filter) {
				result = append(result, stored)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt > result[j].CreatedAt })
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

type dmRecord struct {
	LastSeen  int64 `msgpack:"last_seen"`
	LastMsgAt int64 `msgpack:"last_msg_at"`
}

func (b *Badger) UpsertDmThread(peer string, lastMsgAt int64) error {
	key := []byte(dmThreadPrefix + peer)
	return b.db.Update(func(txn *badger.Txn) error {
		rec := dmRecord{LastMsgAt: lastMsgAt}
		item, err := txn.Get(key)
		if err == nil {
			_ = item.Value(func(val []byte) error { return msgpack.Unmarshal(val, &rec) })
			rec.LastMsgAt = lastMsgAt
		} else if err != badger.ErrKeyNotFound {
			return protocol.StorageErrorf("read dm thread %s: %w", peer, err)
		}
		val, err := msgpack.Marshal(rec)
		if err != nil {
			return protocol.StorageErrorf("encode dm thread %s: %w", peer, err)
		}
		return txn.Set(key, val)
	})
}

func (b *Badger) GetDmThreads() ([]protocol.DmThread, error) {
	var result []protocol.DmThread
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(dmThreadPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			peer := strings.TrimPrefix(string(item.Key()), dmThreadPrefix)
			var rec dmRecord
			err := item.Value(func(val []byte) error { return msgpack.Unmarshal(val, &rec) })
			if err != nil {
				return protocol.StorageErrorf("decode dm thread %s: %w", peer, err)
			}
			result = append(result, protocol.DmThread{Peer: peer, LastSeen: rec.LastSeen, LastMsgAt: rec.LastMsgAt})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(result, func(i, j int) bool { return result[i].LastMsgAt > result[j].LastMsgAt })
	return result, nil
}

func (b *Badger) GetLastSeen(scope string) (int64, error) {
	var ts int64
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(lastSeenPrefix + scope))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return protocol.StorageErrorf("read last seen %s: %w", scope, err)
		}
		return item.Value(func(val []byte) error { return msgpack.Unmarshal(val, &ts) })
	})
	return ts, err
}

func (b *Badger) SetLastSeen(scope string, ts int64) error {
	val, err := msgpack.Marshal(ts)
	if err != nil {
		return protocol.StorageErrorf("encode last seen %s: %w", scope, err)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(lastSeenPrefix+scope), val)
	})
}

func (b *Badger) EnqueueOutbox(item protocol.OutboxItem) error {
	val, err := msgpack.Marshal(item)
	if err != nil {
		return protocol.StorageErrorf("encode outbox item %s: %w", item.ReqID, err)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(outboxPrefix+item.ReqID), val)
	})
}

func (b *Badger) loadOutboxItem(txn *badger.Txn, reqID string) (protocol.OutboxItem, error) {
	var item protocol.OutboxItem
	it, err := txn.Get([]byte(outboxPrefix + reqID))
	if err != nil {
		return item, err
	}
	err = it.Value(func(val []byte) error { return msgpack.Unmarshal(val, &item) })
	return item, err
}

func (b *Badger) UpdateOutboxStatus(reqID string, status protocol.OutboxStatus, errMsg string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		item, err := b.loadOutboxItem(txn, reqID)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return protocol.StorageErrorf("read outbox item %s: %w", reqID, err)
		}
		item.Status = status
		item.Error = errMsg
		val, err := msgpack.Marshal(item)
		if err != nil {
			return protocol.StorageErrorf("encode outbox item %s: %w", reqID, err)
		}
		return txn.Set([]byte(outboxPrefix+reqID), val)
	})
}

func (b *Badger) UpdateOutboxRetry(reqID string, status protocol.OutboxStatus, lastTryAt int64, retryCount uint32) error {
	return b.db.Update(func(txn *badger.Txn) error {
		item, err := b.loadOutboxItem(txn, reqID)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return protocol.StorageErrorf("read outbox item %s: %w", reqID, err)
		}
		item.Status = status
		item.LastTryAt = lastTryAt
		item.RetryCount = retryCount
		val, err := msgpack.Marshal(item)
		if err != nil {
			return protocol.StorageErrorf("encode outbox item %s: %w", reqID, err)
		}
		return txn.Set([]byte(outboxPrefix+reqID), val)
	})
}

func (b *Badger) GetPendingOutbox() ([]protocol.OutboxItem, error) {
	var result []protocol.OutboxItem
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(outboxPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var item protocol.OutboxItem
			err := it.Item().Value(func(val []byte) error { return msgpack.Unmarshal(val, &item) })
			if err != nil {
				return protocol.StorageErrorf("decode outbox item: %w", err)
			}
			if item.Status == protocol.StatusQueued || item.Status == protocol.StatusSent {
				result = append(result, item)
			}
		}
		return nil
	})
	return result, err
}

func (b *Badger) DeleteOutbox(reqID string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(outboxPrefix + reqID))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
}

func (b *Badger) SaveKeypair(encrypted []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keypairKey), encrypted)
	})
}

func (b *Badger) GetKeypair() ([]byte, error) {
	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keypairKey))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return protocol.StorageErrorf("read keypair: %w", err)
		}
		return item.Value(func(val []byte) error {
			out = append([]byte(nil), val...)
			return nil
		})
	})
	return out, err
}

var _ Store = (*Badger)(nil)
