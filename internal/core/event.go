package core

import "time"

// EventKind classifies what happened to a datagram or a log entry.
type EventKind int

const (
	EventReceived EventKind = iota
	EventRecorded
	EventHeaderInvalid
	EventReceiveError
	EventWriteError
	EventDurabilityWarning
	EventFlushed
	EventSynced
	EventSent
	EventSkipped
	EventSendError
)

var eventKindNames = [...]string{
	EventReceived:          "received",
	EventRecorded:          "recorded",
	EventHeaderInvalid:     "header_invalid",
	EventReceiveError:      "receive_error",
	EventWriteError:        "write_error",
	EventDurabilityWarning: "durability_warning",
	EventFlushed:           "flushed",
	EventSynced:            "synced",
	EventSent:              "sent",
	EventSkipped:           "skipped",
	EventSendError:         "send_error",
}

func (k EventKind) String() string {
	if k >= 0 && int(k) < len(eventKindNames) {
		return eventKindNames[k]
	}
	return "unknown"
}

// IsError reports whether the event describes a failure.
func (k EventKind) IsError() bool {
	switch k {
	case EventHeaderInvalid, EventReceiveError, EventWriteError,
		EventDurabilityWarning, EventSkipped, EventSendError:
		return true
	}
	return false
}

// Event is a per-item observation emitted by the recorder and the replayer.
// Index is 1-based (record number in receipt or replay order), 0 when not
// tied to a record.
type Event struct {
	Kind     EventKind
	Index    int
	Source   string
	Length   int
	Interval float64       // recorded interval in seconds
	Wait     time.Duration // replay wait before sending
	Header   *PacketHeader // set when the payload header decoded
	Err      error
}

// EventHandler receives events synchronously on the loop goroutine.
type EventHandler func(Event)

// Emit calls h if it is non-nil.
func (h EventHandler) Emit(e Event) {
	if h != nil {
		h(e)
	}
}
