package evsync

// EventType identifies which sub-namespace an event's (code, value) pair
// belongs to. The values are the kernel's EV_* constants.
type EventType uint16

const (
	EvSyn      EventType = 0x00
	EvKey      EventType = 0x01
	EvRel      EventType = 0x02
	EvAbs      EventType = 0x03
	EvMsc      EventType = 0x04
	EvSw       EventType = 0x05
	EvLed      EventType = 0x11
	EvSnd      EventType = 0x12
	EvRep      EventType = 0x14
	EvFF       EventType = 0x15
	EvPwr      EventType = 0x16
	EvFFStatus EventType = 0x17

	evMax = 0x1f
)

func (t EventType) String() string {
	switch t {
	case EvSyn:
		return "EV_SYN"
	case EvKey:
		return "EV_KEY"
	case EvRel:
		return "EV_REL"
	case EvAbs:
		return "EV_ABS"
	case EvMsc:
		return "EV_MSC"
	case EvSw:
		return "EV_SW"
	case EvLed:
		return "EV_LED"
	case EvSnd:
		return "EV_SND"
	case EvRep:
		return "EV_REP"
	case EvFF:
		return "EV_FF"
	case EvPwr:
		return "EV_PWR"
	case EvFFStatus:
		return "EV_FF_STATUS"
	}
	return "EV_UNKNOWN"
}

// Synchronization codes. SynReport terminates a batch; SynDropped tells
// userspace the kernel ring buffer overflowed and events were lost.
const (
	SynReport   uint16 = 0
	SynConfig   uint16 = 1
	SynMtReport uint16 = 2
	SynDropped  uint16 = 3
)

// Absolute-axis codes the core needs to interpret. AbsMtSlot selects the
// active multitouch slot; codes above it are scoped to that slot.
const (
	AbsX            uint16 = 0x00
	AbsY            uint16 = 0x01
	AbsMtSlot       uint16 = 0x2f
	AbsMtTouchMajor uint16 = 0x30
	AbsMtToolY      uint16 = 0x3d
)

// Highest valid code per event type, taken from input-event-codes.h. They
// size the bitmaps exchanged with the kernel.
const (
	keyMax uint16 = 0x2ff
	relMax uint16 = 0x0f
	absMax uint16 = 0x3f
	mscMax uint16 = 0x07
	swMax  uint16 = 0x10
	ledMax uint16 = 0x0f
	sndMax uint16 = 0x07
	repMax uint16 = 0x01
	ffMax  uint16 = 0x7f
)

// maxCode reports the highest valid code for an event type, or 0 when the
// type has no code namespace we track.
func maxCode(t EventType) uint16 {
	switch t {
	case EvKey:
		return keyMax
	case EvRel:
		return relMax
	case EvAbs:
		return absMax
	case EvMsc:
		return mscMax
	case EvSw:
		return swMax
	case EvLed:
		return ledMax
	case EvSnd:
		return sndMax
	case EvRep:
		return repMax
	case EvFF:
		return ffMax
	}
	return 0
}

// isSlotScoped reports whether an absolute-axis code is stored per
// multitouch slot rather than device-wide.
func isSlotScoped(code uint16) bool {
	return code > AbsMtSlot && code <= AbsMtToolY
}
