package relay

import "time"

const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 60 * time.Second
)

// backoff implements the reconnect delay schedule: start at 1s, double
// on every consecutive failure, cap at 60s, reset to 1s on success.
type backoff struct {
	current time.Duration
}

func newBackoff() *backoff {
	return &backoff{current: initialBackoff}
}

// next returns the delay to wait before the next attempt and advances
// the schedule.
func (b *backoff) next() time.Duration {
	delay := b.current
	b.current *= 2
	if b.current > maxBackoff {
		b.current = maxBackoff
	}
	return delay
}

func (b *backoff) reset() {
	b.current = initialBackoff
}
