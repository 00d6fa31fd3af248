package evsync

// InputID identifies a device: bus type plus vendor/product/version as
// reported by EVIOCGID.
type InputID struct {
	BusType uint16
	Vendor  uint16
	Product uint16
	Version uint16
}

// Capabilities is the static description of a device queried once at open:
// which event types it emits, which codes exist within each type, the
// calibration of its absolute axes, and how many multitouch slots it has.
type Capabilities struct {
	Name          string
	ID            InputID
	DriverVersion uint32

	types Bitset
	codes map[EventType]Bitset
	abs   map[uint16]AbsInfo

	// Autorepeat parameters (EVIOCGREP), zero when unsupported.
	RepeatDelay  int32
	RepeatPeriod int32
}

// HasEventType reports whether the device emits events of type t.
func (c *Capabilities) HasEventType(t EventType) bool {
	return c.types.Contains(uint16(t))
}

// HasEventCode reports whether the device supports the given (type, code)
// pair.
func (c *Capabilities) HasEventCode(t EventType, code uint16) bool {
	return c.HasEventType(t) && c.codes[t].Contains(code)
}

// SupportedCodes returns the codes the device supports within type t, in
// ascending order.
func (c *Capabilities) SupportedCodes(t EventType) []uint16 {
	return c.codes[t].Codes()
}

// AbsAxis returns the calibration recorded at open time for an absolute
// axis, and whether the axis exists.
func (c *Capabilities) AbsAxis(code uint16) (AbsInfo, bool) {
	info, ok := c.abs[code]
	return info, ok
}

// SlotCount returns the number of multitouch slots, zero for devices
// without the slot protocol. The count comes from the ABS_MT_SLOT axis
// range.
func (c *Capabilities) SlotCount() int {
	info, ok := c.abs[AbsMtSlot]
	if !ok {
		return 0
	}
	return int(info.Maximum) + 1
}

// DriverVersionTriple splits the EVIOCGVERSION value into major, minor and
// revision.
func (c *Capabilities) DriverVersionTriple() (int, int, int) {
	v := c.DriverVersion
	return int(v>>16) & 0xffff, int(v>>8) & 0xff, int(v) & 0xff
}
