package evsync

import (
	"slices"
	"time"

	"golang.org/x/sys/unix"
)

// DeviceState is an in-memory mirror of a device's current state: pressed
// keys, absolute-axis values, active switches, lit LEDs and per-slot
// multitouch values. One SyncStream owns exactly one DeviceState; nothing
// else mutates it.
//
// Between two batches the mirror matches the kernel's view as of the end of
// the last batch, unless an overflow occurred, in which case it is stale
// until the stream rebuilds it from a fresh state query.
type DeviceState struct {
	caps *Capabilities

	keys     Bitset
	switches Bitset
	leds     Bitset
	abs      map[uint16]AbsInfo

	// One value map per multitouch slot, plus the currently selected slot.
	slots []map[uint16]int32
	slot  int32
}

// newDeviceState returns an empty state sized for the device's
// capabilities: nothing pressed, no axis values, all slots empty.
func newDeviceState(caps *Capabilities) *DeviceState {
	s := &DeviceState{
		caps:     caps,
		keys:     newBitset(keyMax),
		switches: newBitset(swMax),
		leds:     newBitset(ledMax),
		abs:      make(map[uint16]AbsInfo),
	}
	if n := caps.SlotCount(); n > 0 {
		s.slots = make([]map[uint16]int32, n)
		for i := range s.slots {
			s.slots[i] = make(map[uint16]int32)
		}
	}
	return s
}

// apply folds one event into the mirror. Values are stored as-is; range
// validation against the capability bounds is not this layer's job. It
// never fails.
func (s *DeviceState) apply(ev Event) {
	switch ev := ev.(type) {
	case KeyEvent:
		if ev.Value() == 0 {
			s.keys.clear(ev.Code())
		} else {
			s.keys.set(ev.Code())
		}
	case SwitchEvent:
		if ev.Value() == 0 {
			s.switches.clear(ev.Code())
		} else {
			s.switches.set(ev.Code())
		}
	case LedEvent:
		if ev.Value() == 0 {
			s.leds.clear(ev.Code())
		} else {
			s.leds.set(ev.Code())
		}
	case AbsEvent:
		s.applyAbs(ev.Code(), ev.Value())
	}
	// Relative deltas, sync markers and the remaining kinds carry no
	// device state to mirror.
}

func (s *DeviceState) applyAbs(code uint16, value int32) {
	switch {
	case code == AbsMtSlot:
		s.slot = value
	case isSlotScoped(code):
		// Slot-scoped values land in the selected slot. An index the
		// device never advertised has no slot to write to.
		if i := int(s.slot); i >= 0 && i < len(s.slots) {
			s.slots[i][code] = value
		}
	default:
		info, ok := s.abs[code]
		if !ok {
			// First write to this axis: seed calibration from the
			// capability descriptor.
			info, _ = s.caps.AbsAxis(code)
		}
		info.Value = value
		s.abs[code] = info
	}
}

// clone returns a deep copy. Used to keep the pre-overflow snapshot around
// while the live state is rebuilt.
func (s *DeviceState) clone() *DeviceState {
	c := &DeviceState{
		caps:     s.caps,
		keys:     s.keys.clone(),
		switches: s.switches.clone(),
		leds:     s.leds.clone(),
		abs:      make(map[uint16]AbsInfo, len(s.abs)),
		slot:     s.slot,
	}
	for code, info := range s.abs {
		c.abs[code] = info
	}
	if s.slots != nil {
		c.slots = make([]map[uint16]int32, len(s.slots))
		for i, vals := range s.slots {
			c.slots[i] = make(map[uint16]int32, len(vals))
			for code, v := range vals {
				c.slots[i][code] = v
			}
		}
	}
	return c
}

// PressedKeys returns the currently pressed key codes in ascending order.
func (s *DeviceState) PressedKeys() []uint16 { return s.keys.Codes() }

// ActiveSwitches returns the currently active switch codes in ascending
// order.
func (s *DeviceState) ActiveSwitches() []uint16 { return s.switches.Codes() }

// LitLEDs returns the currently lit LED codes in ascending order.
func (s *DeviceState) LitLEDs() []uint16 { return s.leds.Codes() }

// KeyPressed reports whether the key is currently down.
func (s *DeviceState) KeyPressed(code uint16) bool { return s.keys.Contains(code) }

// AbsValue returns the mirrored value and calibration of an absolute axis,
// and whether the axis has been seen.
func (s *DeviceState) AbsValue(code uint16) (AbsInfo, bool) {
	info, ok := s.abs[code]
	return info, ok
}

// AbsValues returns a copy of every tracked absolute axis.
func (s *DeviceState) AbsValues() map[uint16]AbsInfo {
	out := make(map[uint16]AbsInfo, len(s.abs))
	for code, info := range s.abs {
		out[code] = info
	}
	return out
}

// SelectedSlot returns the currently selected multitouch slot index.
func (s *DeviceState) SelectedSlot() int { return int(s.slot) }

// SlotCount returns the number of tracked multitouch slots.
func (s *DeviceState) SlotCount() int { return len(s.slots) }

// SlotValue returns the mirrored value of a slot-scoped code in the given
// slot, and whether one has been recorded.
func (s *DeviceState) SlotValue(slot int, code uint16) (int32, bool) {
	if slot < 0 || slot >= len(s.slots) {
		return 0, false
	}
	v, ok := s.slots[slot][code]
	return v, ok
}

// diffStates computes the minimal synthetic batch that transforms old into
// new. Events are grouped in a stable order -- keys, absolute axes,
// switches, LEDs, then multitouch slots -- each group in ascending code
// order, terminated by a single SYN_REPORT. Keys gained synthesize a press,
// keys lost a release; axis, switch and LED changes synthesize one
// value-set event each. Slot updates are preceded by an ABS_MT_SLOT
// selection, and a final selection event leaves the new slot active.
//
// The order within and between groups is an internal stability choice, not
// a kernel contract.
func diffStates(old, new *DeviceState) *Batch {
	tv := unix.NsecToTimeval(time.Now().UnixNano())
	var events []Event

	emit := func(t EventType, code uint16, value int32) {
		events = append(events, newEventAt(t, code, value, tv))
	}

	diffBitset(old.keys, new.keys, func(code uint16, present bool) {
		if present {
			emit(EvKey, code, 1)
		} else {
			emit(EvKey, code, 0)
		}
	})

	for _, code := range codeUnion(old.abs, new.abs) {
		ov, oldHas := old.abs[code]
		nv, newHas := new.abs[code]
		if !newHas {
			// The axis vanished from the fresh snapshot; there is no
			// value to synthesize for it.
			continue
		}
		if !oldHas || ov.Value != nv.Value {
			emit(EvAbs, code, nv.Value)
		}
	}

	diffBitset(old.switches, new.switches, func(code uint16, present bool) {
		if present {
			emit(EvSw, code, 1)
		} else {
			emit(EvSw, code, 0)
		}
	})

	diffBitset(old.leds, new.leds, func(code uint16, present bool) {
		if present {
			emit(EvLed, code, 1)
		} else {
			emit(EvLed, code, 0)
		}
	})

	// Multitouch: select each differing slot once, replay its changed
	// values, then make sure the selection ends up where the fresh
	// snapshot says it is.
	selected := old.slot
	for i := 0; i < len(new.slots); i++ {
		var oldVals map[uint16]int32
		if i < len(old.slots) {
			oldVals = old.slots[i]
		}
		for _, code := range codeUnion(oldVals, new.slots[i]) {
			nv, newHas := new.slots[i][code]
			if !newHas {
				continue
			}
			ov, oldHas := oldVals[code]
			if oldHas && ov == nv {
				continue
			}
			if selected != int32(i) {
				emit(EvAbs, AbsMtSlot, int32(i))
				selected = int32(i)
			}
			emit(EvAbs, code, nv)
		}
	}
	if len(new.slots) > 0 && selected != new.slot {
		emit(EvAbs, AbsMtSlot, new.slot)
	}

	emit(EvSyn, SynReport, 0)
	return &Batch{Events: events}
}

// codeUnion returns the sorted union of the key sets of two code maps.
func codeUnion[V any](a, b map[uint16]V) []uint16 {
	seen := make(map[uint16]struct{}, len(a)+len(b))
	for code := range a {
		seen[code] = struct{}{}
	}
	for code := range b {
		seen[code] = struct{}{}
	}
	codes := make([]uint16, 0, len(seen))
	for code := range seen {
		codes = append(codes, code)
	}
	slices.Sort(codes)
	return codes
}
