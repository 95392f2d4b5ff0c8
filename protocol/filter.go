package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/nbd-wtf/go-nostr"
)

// ChannelSubID returns the sub_id used for a NIP-28 channel subscription.
func ChannelSubID(channelID string) string {
	return fmt.Sprintf("ch:%s", channelID)
}

// DmSubID returns the sub_id pair used for a NIP-04 DM thread: the
// outgoing half (self -> peer) and the incoming half (peer -> self).
func DmSubID(peer string) (out string, in string) {
	return fmt.Sprintf("dm:%s", peer), fmt.Sprintf("dm:%s:r", peer)
}

// timestamp converts a UNIX-seconds int64 into a *nostr.Timestamp, the
// pointer type nostr.Filter's Since/Until fields require.
func timestamp(seconds int64) *nostr.Timestamp {
	t := nostr.Timestamp(seconds)
	return &t
}

// ChannelFilter builds the NIP-28 filter for a channel's public
// messages: kind 42 tagged with the channel's root event id.
func ChannelFilter(channelID string, since int64) nostr.Filter {
	return nostr.Filter{
		Kinds: []int{KindChannelMessage},
		Tags:  nostr.TagMap{"e": []string{channelID}},
		Since: timestamp(since),
	}
}

// DmFilters builds the outgoing/incoming NIP-04 filter pair for a DM
// thread with peer, from selfPubkey's point of view.
func DmFilters(peer, selfPubkey string, since int64) (out nostr.Filter, in nostr.Filter) {
	out = nostr.Filter{
		Kinds:   []int{KindEncryptedDM},
		Authors: []string{selfPubkey},
		Tags:    nostr.TagMap{"p": []string{peer}},
		Since:   timestamp(since),
	}
	in = nostr.Filter{
		Kinds:   []int{KindEncryptedDM},
		Authors: []string{peer},
		Tags:    nostr.TagMap{"p": []string{selfPubkey}},
		Since:   timestamp(since),
	}
	return out, in
}

// MarshalFilter renders a filter to its canonical JSON form for
// inclusion in a REQ frame.
func MarshalFilter(f nostr.Filter) (json.RawMessage, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return nil, ParseErrorf("marshal filter: %w", err)
	}
	return b, nil
}

// WithSince returns a copy of filterJSON with its "since" field
// overwritten, per the window-extension rule that since is the only
// field ever mutated on an already-issued filter.
func WithSince(filterJSON []byte, since int64) ([]byte, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(filterJSON, &m); err != nil {
		return nil, ParseErrorf("unmarshal filter for extension: %w", err)
	}
	sinceJSON, err := json.Marshal(since)
	if err != nil {
		return nil, err
	}
	m["since"] = sinceJSON
	return json.Marshal(m)
}
