package protocol

// TimeWindow is a subscription's [since, until) bound. until is never
// set by this engine; only since moves, and only backwards.
type TimeWindow struct {
	Since int64
	Until *int64
}

// Extend pushes Since further into the past by additionalSeconds. since
// only ever decreases, per the invariant in the data model.
func (w *TimeWindow) Extend(additionalSeconds int64) {
	w.Since -= additionalSeconds
}

// windowExtensionSchedule maps the eose_count reached after an EOSE
// increment to the number of seconds subtracted from since. Stage 5 and
// beyond freeze the window.
var windowExtensionSchedule = map[uint32]int64{
	1: 3600,
	2: 86400,
	3: 604800,
	4: 2592000,
}

// MaxExtensionStage is the last stage at which the window still widens.
const MaxExtensionStage = 4

// WindowExtensionSeconds returns the number of seconds to subtract from
// since for the widening triggered when eose_count reaches stage. It
// returns 0 for stages outside the schedule (already frozen).
func WindowExtensionSeconds(stage uint32) int64 {
	return windowExtensionSchedule[stage]
}

// ActiveSubscription is the manager's bookkeeping for one open REQ.
type ActiveSubscription struct {
	SubID          string
	FilterJSON     []byte
	EoseCount      uint32
	LastExtendedAt int64
	Window         TimeWindow
}

// NeedsExtension reports whether further widening stages remain.
func (s *ActiveSubscription) NeedsExtension() bool {
	return s.EoseCount >= 1 && s.EoseCount <= MaxExtensionStage
}

// DmThread is one row of per-peer DM bookkeeping.
type DmThread struct {
	Peer      string
	LastSeen  int64
	LastMsgAt int64
}

// LastSeenCursor is a read cursor for a UI context, keyed by an opaque scope.
type LastSeenCursor struct {
	Scope string
	Ts    int64
}
