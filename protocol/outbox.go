package protocol

// OutboxStatus is the lifecycle state of a durably queued outbound event.
type OutboxStatus string

const (
	StatusQueued OutboxStatus = "queued"
	StatusSent   OutboxStatus = "sent"
	StatusOK     OutboxStatus = "ok"
	StatusError  OutboxStatus = "error"
)

// MaxRetryCount bounds how many times the outbox will resend an item
// before marking it terminally Error.
const MaxRetryCount = 5

// RetryDelaySeconds is the unit of the linear backoff applied between
// resends: base delay is RetryDelaySeconds * RetryCount.
const RetryDelaySeconds = 5

// OutboxItem is one durably queued signed event awaiting relay
// acceptance. Invariant: ReqID is unique and stable; RetryCount is
// non-decreasing; once Status is StatusOK the item is deleted.
type OutboxItem struct {
	ReqID      string       `msgpack:"req_id"`
	EventJSON  []byte       `msgpack:"event_json"`
	EventID    string       `msgpack:"event_id"`
	Status     OutboxStatus `msgpack:"status"`
	LastTryAt  int64        `msgpack:"last_try_at"`
	RetryCount uint32       `msgpack:"retry_count"`
	Error      string       `msgpack:"error,omitempty"`
}
