// Package subscription tracks the set of live REQ subscriptions the
// engine keeps open against its relays, and drives the time-window
// widening schedule triggered by EOSE.
package subscription

import (
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/nostrwire/core/protocol"
)

// Manager holds every active subscription, keyed by sub_id, using the
// same concurrent map type the teacher's relay pool uses for its
// relay registry.
type Manager struct {
	subs *xsync.MapOf[string, *protocol.ActiveSubscription]
}

// New constructs an empty Manager.
func New() *Manager {
	return &Manager{subs: xsync.NewMapOf[string, *protocol.ActiveSubscription]()}
}

// OpenChannel registers a channel subscription starting at since,
// returning the sub_id and REQ filter JSON to send.
func (m *Manager) OpenChannel(channelID string, since int64) (subID string, filterJSON []byte, err error) {
	subID = protocol.ChannelSubID(channelID)
	filter := protocol.ChannelFilter(channelID, since)
	raw, err := protocol.MarshalFilter(filter)
	if err != nil {
		return "", nil, err
	}
	m.subs.Store(subID, &protocol.ActiveSubscription{
		SubID:      subID,
		FilterJSON: raw,
		Window:     protocol.TimeWindow{Since: since},
	})
	return subID, raw, nil
}

// OpenDM registers the pair of subscriptions (outgoing authored-by-self,
// incoming authored-by-peer) a DM thread with peer needs.
func (m *Manager) OpenDM(peer, selfPubkey string, since int64) (outSubID, inSubID string, outFilterJSON, inFilterJSON []byte, err error) {
	outSubID, inSubID = protocol.DmSubID(peer)
	outFilter, inFilter := protocol.DmFilters(peer, selfPubkey, since)

	outRaw, err := protocol.MarshalFilter(outFilter)
	if err != nil {
		return "", "", nil, nil, err
	}
	inRaw, err := protocol.MarshalFilter(inFilter)
	if err != nil {
		return "", "", nil, nil, err
	}

	m.subs.Store(outSubID, &protocol.ActiveSubscription{SubID: outSubID, FilterJSON: outRaw, Window: protocol.TimeWindow{Since: since}})
	m.subs.Store(inSubID, &protocol.ActiveSubscription{SubID: inSubID, FilterJSON: inRaw, Window: protocol.TimeWindow{Since: since}})
	return outSubID, inSubID, outRaw, inRaw, nil
}

// Get returns the subscription registered under subID, if any.
func (m *Manager) Get(subID string) (*protocol.ActiveSubscription, bool) {
	return m.subs.Load(subID)
}

// MarkEose increments the EOSE count for subID, returning false if
// subID is not tracked.
func (m *Manager) MarkEose(subID string) bool {
	sub, ok := m.subs.Load(subID)
	if !ok {
		return false
	}
	sub.EoseCount++
	return true
}

// NeedsExtension reports whether subID's window should be widened on
// this tick.
func (m *Manager) NeedsExtension(subID string) bool {
	sub, ok := m.subs.Load(subID)
	if !ok {
		return false
	}
	return sub.NeedsExtension()
}

// ExtendWindow widens subID's time window per the extension schedule
// and returns the updated REQ filter JSON to resend, or an error if
// subID is untracked.
func (m *Manager) ExtendWindow(subID string, nowUnix int64) ([]byte, error) {
	sub, ok := m.subs.Load(subID)
	if !ok {
		return nil, protocol.ParseErrorf("extend window: unknown subscription %s", subID)
	}
	additional := protocol.WindowExtensionSeconds(sub.EoseCount)
	sub.Window.Extend(additional)
	sub.LastExtendedAt = nowUnix

	raw, err := protocol.WithSince(sub.FilterJSON, sub.Window.Since)
	if err != nil {
		return nil, err
	}
	sub.FilterJSON = raw
	return raw, nil
}

// Close forgets subID; callers are responsible for sending the CLOSE
// frame before or after calling this.
func (m *Manager) Close(subID string) {
	m.subs.Delete(subID)
}

// All returns every tracked sub_id.
func (m *Manager) All() []string {
	ids := make([]string, 0, m.subs.Size())
	m.subs.Range(func(key string, _ *protocol.ActiveSubscription) bool {
		ids = append(ids, key)
		return true
	})
	return ids
}
