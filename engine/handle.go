// Package engine wires RelayConnection, SubscriptionManager, Outbox,
// Storage, and Signer into CoreHandle, the composition root a UI
// drives with a single tick() call on a timer.
package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nostrwire/core/outbox"
	"github.com/nostrwire/core/protocol"
	"github.com/nostrwire/core/relay"
	"github.com/nostrwire/core/signer"
	"github.com/nostrwire/core/storage"
	"github.com/nostrwire/core/subscription"
)

// CoreHandle owns every relay connection, the subscription manager,
// the outbox, and an in-memory UI feed buffer. Storage and the signer
// are shared by reference. CoreHandle is not safe for concurrent use;
// the embedding side is expected to call its methods, including tick,
// from a single goroutine.
type CoreHandle struct {
	store  storage.Store
	log    *slog.Logger
	signer signer.Signer

	relays []*relay.Connection
	subs   *subscription.Manager
	outbox *outbox.Outbox

	feedMu sync.Mutex
	feed   []protocol.UiRow
}

// New constructs a CoreHandle with one RelayConnection per URL, a
// fresh SubscriptionManager and Outbox, and no signer attached yet.
func New(relayURLs []string, store storage.Store, log *slog.Logger) *CoreHandle {
	if log == nil {
		log = slog.Default()
	}
	conns := make([]*relay.Connection, 0, len(relayURLs))
	for _, url := range relayURLs {
		conns = append(conns, relay.New(url))
	}
	return &CoreHandle{
		store:  store,
		log:    log,
		relays: conns,
		subs:   subscription.New(),
		outbox: outbox.New(store),
	}
}

// SetSigner attaches s, replacing any previously attached signer.
func (h *CoreHandle) SetSigner(s signer.Signer) {
	h.signer = s
}

// GetPublicKey returns the attached signer's public key.
func (h *CoreHandle) GetPublicKey(ctx context.Context) (string, error) {
	if h.signer == nil {
		return "", protocol.SignerErrorf("no signer attached")
	}
	return h.signer.GetPublicKey(ctx)
}

// ConnectAll invokes Connect on every relay, tolerating per-relay
// failure; it only attempts relays whose state isn't already
// Connecting or Connected.
func (h *CoreHandle) ConnectAll(ctx context.Context) {
	now := time.Now()
	for _, r := range h.relays {
		if !r.NeedsReconnect(now) {
			continue
		}
		if err := r.Connect(ctx); err != nil {
			h.log.Warn("relay connect failed", "url", r.URL, "error", err)
		}
	}
}

// LoadPendingOutbox recovers the in-memory outbox working set from
// Storage; call once at startup.
func (h *CoreHandle) LoadPendingOutbox() error {
	return h.outbox.LoadPending()
}

func (h *CoreHandle) broadcast(frame []byte) {
	for _, r := range h.relays {
		if !r.IsConnected() {
			continue
		}
		if err := r.Send(frame); err != nil {
			h.log.Debug("relay send failed", "url", r.URL, "error", err)
		}
	}
}

// OpenChannel subscribes to a NIP-28 channel's public messages from
// since (the channel's own last-seen cursor if already known, else 0),
// broadcasting the REQ frame to every relay.
func (h *CoreHandle) OpenChannel(channelID string) error {
	since, err := h.store.GetLastSeen(channelID)
	if err != nil {
		return err
	}
	subID, filterJSON, err := h.subs.OpenChannel(channelID, since)
	if err != nil {
		return err
	}
	frame, err := protocol.BuildReq(subID, filterJSON)
	if err != nil {
		return err
	}
	h.broadcast(frame)
	return nil
}

// OpenDM subscribes to both halves of a DM thread with peer, using the
// attached signer's public key. Requires a signer.
func (h *CoreHandle) OpenDM(ctx context.Context, peer string) error {
	if h.signer == nil {
		return protocol.SignerErrorf("open_dm requires a signer")
	}
	selfPubkey, err := h.signer.GetPublicKey(ctx)
	if err != nil {
		return err
	}
	since, err := h.store.GetLastSeen(peer)
	if err != nil {
		return err
	}
	outSubID, inSubID, outFilter, inFilter, err := h.subs.OpenDM(peer, selfPubkey, since)
	if err != nil {
		return err
	}
	outFrame, err := protocol.BuildReq(outSubID, outFilter)
	if err != nil {
		return err
	}
	inFrame, err := protocol.BuildReq(inSubID, inFilter)
	if err != nil {
		return err
	}
	h.broadcast(outFrame)
	h.broadcast(inFrame)
	return nil
}

type channelContent struct {
	Name    string `json:"name"`
	About   string `json:"about"`
	Picture string `json:"picture"`
}

// CreateChannel assembles, signs, and enqueues a kind-40 channel
// creation event, returning its id.
func (h *CoreHandle) CreateChannel(ctx context.Context, name, about, picture string) (string, error) {
	content, err := json.Marshal(channelContent{Name: name, About: about, Picture: picture})
	if err != nil {
		return "", err
	}
	unsigned := protocol.Event{
		Kind:      protocol.KindChannelCreate,
		CreatedAt: protocol.NowTimestamp(),
		Content:   string(content),
	}
	return h.signAndEnqueue(ctx, unsigned)
}

// SendPublic assembles, signs, and enqueues a kind-42 channel message.
func (h *CoreHandle) SendPublic(ctx context.Context, channelID, content string) (string, error) {
	unsigned := protocol.Event{
		Kind:      protocol.KindChannelMessage,
		CreatedAt: protocol.NowTimestamp(),
		Content:   content,
		Tags:      protocol.Tags{{"e", channelID}},
	}
	return h.signAndEnqueue(ctx, unsigned)
}

// SendDM NIP-04 encrypts plaintext for peer, assembles, signs, and
// enqueues a kind-4 event. Requires a signer.
func (h *CoreHandle) SendDM(ctx context.Context, peer, plaintext string) (string, error) {
	if h.signer == nil {
		return "", protocol.SignerErrorf("send_dm requires a signer")
	}
	ciphertext, err := h.signer.Nip04Encrypt(ctx, peer, plaintext)
	if err != nil {
		return "", err
	}
	unsigned := protocol.Event{
		Kind:      protocol.KindEncryptedDM,
		CreatedAt: protocol.NowTimestamp(),
		Content:   ciphertext,
		Tags:      protocol.Tags{{"p", peer}},
	}
	return h.signAndEnqueue(ctx, unsigned)
}

func (h *CoreHandle) signAndEnqueue(ctx context.Context, unsigned protocol.Event) (string, error) {
	if h.signer == nil {
		return "", protocol.SignerErrorf("no signer attached")
	}
	signed, err := h.signer.SignEvent(ctx, unsigned)
	if err != nil {
		return "", err
	}
	eventJSON, err := json.Marshal(signed)
	if err != nil {
		return "", err
	}
	if _, err := h.outbox.Enqueue(eventJSON, signed.ID, time.Now().Unix()); err != nil {
		return "", err
	}
	return signed.ID, nil
}

// Tick runs one cooperative control-loop step: reconnect checks,
// inbound drain and dispatch, and a single outbox send attempt.
func (h *CoreHandle) Tick(ctx context.Context) {
	h.ConnectAll(ctx)

	for _, r := range h.relays {
		for _, msg := range r.DrainMessages() {
			if err := h.dispatch(msg); err != nil {
				h.log.Debug("dispatch failed", "kind", msg.Kind, "error", err)
			}
		}
	}

	senders := make([]outbox.Sender, 0, len(h.relays))
	for _, r := range h.relays {
		senders = append(senders, r)
	}
	if err := h.outbox.Process(senders, time.Now().Unix()); err != nil {
		h.log.Debug("outbox process failed", "error", err)
	}
	if err := h.outbox.RetryFailed(time.Now().Unix()); err != nil {
		h.log.Debug("outbox retry_failed failed", "error", err)
	}
}

func (h *CoreHandle) dispatch(msg *protocol.RelayMessage) error {
	switch msg.Kind {
	case protocol.MessageEvent:
		return h.dispatchEvent(msg)
	case protocol.MessageEose:
		return h.dispatchEose(msg)
	case protocol.MessageOK:
		return h.outbox.OnOK(msg.EventID, msg.Accepted, msg.Message)
	case protocol.MessageNotice:
		h.log.Info("relay notice", "message", msg.Message)
		return nil
	default:
		return nil
	}
}

func (h *CoreHandle) dispatchEvent(msg *protocol.RelayMessage) error {
	var ev protocol.Event
	if err := json.Unmarshal(msg.EventJSON, &ev); err != nil {
		return protocol.ParseErrorf("decode inbound event: %w", err)
	}
	if err := h.store.SaveEvent(ev.ID, msg.EventJSON, msg.SubID, time.Now().Unix()); err != nil {
		return err
	}

	row := protocol.UiRow{
		ID:        ev.ID,
		Kind:      ev.Kind,
		PubKey:    ev.PubKey,
		CreatedAt: int64(ev.CreatedAt),
		Content:   ev.Content,
	}
	h.feedMu.Lock()
	h.feed = append(h.feed, row)
	h.feedMu.Unlock()
	return nil
}

func (h *CoreHandle) dispatchEose(msg *protocol.RelayMessage) error {
	if !h.subs.MarkEose(msg.SubID) {
		return nil
	}
	if !h.subs.NeedsExtension(msg.SubID) {
		return nil
	}
	filterJSON, err := h.subs.ExtendWindow(msg.SubID, time.Now().Unix())
	if err != nil {
		return err
	}
	frame, err := protocol.BuildReq(msg.SubID, filterJSON)
	if err != nil {
		return err
	}
	h.broadcast(frame)
	return nil
}

// PollEvents returns up to max buffered UI feed rows, removing them.
func (h *CoreHandle) PollEvents(max int) []protocol.UiRow {
	h.feedMu.Lock()
	defer h.feedMu.Unlock()
	if max <= 0 || max > len(h.feed) {
		max = len(h.feed)
	}
	out := h.feed[:max]
	h.feed = h.feed[max:]
	return out
}
