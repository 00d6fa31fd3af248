package evsync

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// RawEvent mirrors the kernel's struct input_event exactly: a timestamp
// followed by the (type, code, value) tuple. Read buffers are reinterpreted
// as slices of this struct, so its layout must not change.
type RawEvent struct {
	Time  unix.Timeval
	Type  uint16
	Code  uint16
	Value int32
}

// Timestamp converts the kernel timeval to a time.Time.
func (e RawEvent) Timestamp() time.Time {
	return time.Unix(int64(e.Time.Sec), int64(e.Time.Usec)*1000)
}

// Event is the capability shared by every concrete event kind. Code and
// value semantics depend on the kind: keys and switches carry 0/1 (keys also
// 2 for autorepeat), absolute axes a position, relative axes a signed delta.
type Event interface {
	Timestamp() time.Time
	EventType() EventType
	Code() uint16
	Value() int32
	Raw() RawEvent
}

type eventBase struct {
	raw RawEvent
}

func (e eventBase) Timestamp() time.Time { return e.raw.Timestamp() }
func (e eventBase) EventType() EventType { return EventType(e.raw.Type) }
func (e eventBase) Code() uint16         { return e.raw.Code }
func (e eventBase) Value() int32         { return e.raw.Value }
func (e eventBase) Raw() RawEvent        { return e.raw }

// SyncEvent delimits batches. A SYN_REPORT closes a batch; a SYN_DROPPED
// reports that the kernel ring buffer overflowed.
type SyncEvent struct{ eventBase }

// IsReport reports whether the event is a SYN_REPORT batch terminator.
func (e SyncEvent) IsReport() bool { return e.raw.Code == SynReport }

// IsDropped reports whether the event signals a kernel buffer overflow.
func (e SyncEvent) IsDropped() bool { return e.raw.Code == SynDropped }

// KeyState is the press state carried by a KeyEvent's value.
type KeyState uint8

const (
	KeyUp   KeyState = 0
	KeyDown KeyState = 1
	KeyHold KeyState = 2
)

// KeyEvent describes a key or button state change.
type KeyEvent struct{ eventBase }

// State interprets the event value as a press state.
func (e KeyEvent) State() KeyState {
	switch e.raw.Value {
	case 0:
		return KeyUp
	case 2:
		return KeyHold
	}
	return KeyDown
}

// RelEvent carries a signed delta on a relative axis.
type RelEvent struct{ eventBase }

// AbsEvent carries a new position on an absolute axis, or, for ABS_MT_SLOT,
// a multitouch slot selection.
type AbsEvent struct{ eventBase }

// MiscEvent carries miscellaneous per-device data such as scan codes.
type MiscEvent struct{ eventBase }

// SwitchEvent describes a binary switch change (lid, headphone jack, ...).
type SwitchEvent struct{ eventBase }

// LedEvent describes an LED turning on or off.
type LedEvent struct{ eventBase }

// SoundEvent describes a simple sound output change (bell, tone).
type SoundEvent struct{ eventBase }

// RepeatEvent carries autorepeat parameter changes.
type RepeatEvent struct{ eventBase }

// FFEvent controls force-feedback effect playback.
type FFEvent struct{ eventBase }

// PowerEvent carries power-management input.
type PowerEvent struct{ eventBase }

// FFStatusEvent reports force-feedback effect status.
type FFStatusEvent struct{ eventBase }

// OtherEvent is any event whose type this package does not model.
type OtherEvent struct{ eventBase }

// wrapEvent selects the concrete event kind for a raw kernel event. It is
// the single classification point; everything downstream dispatches on the
// returned variant.
func wrapEvent(raw RawEvent) Event {
	base := eventBase{raw: raw}
	switch EventType(raw.Type) {
	case EvSyn:
		return SyncEvent{base}
	case EvKey:
		return KeyEvent{base}
	case EvRel:
		return RelEvent{base}
	case EvAbs:
		return AbsEvent{base}
	case EvMsc:
		return MiscEvent{base}
	case EvSw:
		return SwitchEvent{base}
	case EvLed:
		return LedEvent{base}
	case EvSnd:
		return SoundEvent{base}
	case EvRep:
		return RepeatEvent{base}
	case EvFF:
		return FFEvent{base}
	case EvPwr:
		return PowerEvent{base}
	case EvFFStatus:
		return FFStatusEvent{base}
	}
	return OtherEvent{base}
}

// NewEvent builds an event with a zero timestamp. Mostly useful in tests
// and for feeding synthetic input through the same pipeline as real events.
func NewEvent(t EventType, code uint16, value int32) Event {
	return wrapEvent(RawEvent{Type: uint16(t), Code: code, Value: value})
}

func newEventAt(t EventType, code uint16, value int32, tv unix.Timeval) Event {
	return wrapEvent(RawEvent{Time: tv, Type: uint16(t), Code: code, Value: value})
}

// FormatEvent renders an event for logs: "EV_KEY code=30 value=1".
func FormatEvent(ev Event) string {
	return fmt.Sprintf("%s code=%d value=%d", ev.EventType(), ev.Code(), ev.Value())
}

// Batch is an ordered group of events that occurred together, ending with
// the SYN_REPORT that closed it. A batch with Dropped set stands in for
// events the kernel discarded on overflow; it carries no payload.
type Batch struct {
	Events  []Event
	Dropped bool
}

// Len returns the number of events in the batch, terminator included.
func (b *Batch) Len() int { return len(b.Events) }
