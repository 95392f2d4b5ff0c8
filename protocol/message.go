package protocol

import (
	"encoding/json"
)

// MessageKind identifies which of the four inbound relay frame shapes a
// RelayMessage carries.
type MessageKind string

const (
	MessageEvent  MessageKind = "EVENT"
	MessageEose   MessageKind = "EOSE"
	MessageOK     MessageKind = "OK"
	MessageNotice MessageKind = "NOTICE"
)

// RelayMessage is the parsed form of one inbound relay frame. Only the
// fields relevant to Kind are populated.
type RelayMessage struct {
	Kind MessageKind

	// EVENT
	SubID     string
	EventJSON json.RawMessage

	// EOSE carries SubID only.

	// OK
	EventID  string
	Accepted bool
	Message  string

	// NOTICE reuses Message.
}

// ParseRelayMessage decodes a relay frame: a JSON array whose first
// element is one of "EVENT", "EOSE", "OK", or "NOTICE". Any other shape,
// or a malformed array, is a ParseError.
func ParseRelayMessage(raw []byte) (*RelayMessage, error) {
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err != nil {
		return nil, ParseErrorf("relay frame is not a JSON array: %w", err)
	}
	if len(arr) == 0 {
		return nil, ParseErrorf("empty relay frame")
	}

	var tag string
	if err := json.Unmarshal(arr[0], &tag); err != nil {
		return nil, ParseErrorf("relay frame tag is not a string: %w", err)
	}

	switch MessageKind(tag) {
	case MessageEvent:
		if len(arr) < 3 {
			return nil, ParseErrorf("EVENT frame has %d elements, want 3", len(arr))
		}
		var subID string
		if err := json.Unmarshal(arr[1], &subID); err != nil {
			return nil, ParseErrorf("EVENT sub_id is not a string: %w", err)
		}
		return &RelayMessage{Kind: MessageEvent, SubID: subID, EventJSON: arr[2]}, nil

	case MessageEose:
		if len(arr) < 2 {
			return nil, ParseErrorf("EOSE frame has %d elements, want 2", len(arr))
		}
		var subID string
		if err := json.Unmarshal(arr[1], &subID); err != nil {
			return nil, ParseErrorf("EOSE sub_id is not a string: %w", err)
		}
		return &RelayMessage{Kind: MessageEose, SubID: subID}, nil

	case MessageOK:
		if len(arr) < 3 {
			return nil, ParseErrorf("OK frame has %d elements, want at least 3", len(arr))
		}
		var eventID string
		if err := json.Unmarshal(arr[1], &eventID); err != nil {
			return nil, ParseErrorf("OK event_id is not a string: %w", err)
		}
		var accepted bool
		if err := json.Unmarshal(arr[2], &accepted); err != nil {
			return nil, ParseErrorf("OK accepted flag is not a bool: %w", err)
		}
		message := ""
		if len(arr) > 3 {
			_ = json.Unmarshal(arr[3], &message)
		}
		return &RelayMessage{Kind: MessageOK, EventID: eventID, Accepted: accepted, Message: message}, nil

	case MessageNotice:
		if len(arr) < 2 {
			return nil, ParseErrorf("NOTICE frame has %d elements, want 2", len(arr))
		}
		var message string
		if err := json.Unmarshal(arr[1], &message); err != nil {
			return nil, ParseErrorf("NOTICE message is not a string: %w", err)
		}
		return &RelayMessage{Kind: MessageNotice, Message: message}, nil

	default:
		return nil, ParseErrorf("unknown relay frame tag %q", tag)
	}
}

// BuildReq renders an outbound ["REQ", sub_id, filter_json] frame.
func BuildReq(subID string, filterJSON json.RawMessage) ([]byte, error) {
	return json.Marshal([]any{"REQ", subID, filterJSON})
}

// BuildEvent renders an outbound ["EVENT", event_json] frame.
func BuildEvent(eventJSON json.RawMessage) ([]byte, error) {
	return json.Marshal([]any{"EVENT", eventJSON})
}

// BuildClose renders an outbound ["CLOSE", sub_id] frame.
func BuildClose(subID string) ([]byte, error) {
	return json.Marshal([]any{"CLOSE", subID})
}
