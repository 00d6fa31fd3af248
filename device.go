package evsync

import (
	"bytes"
	"fmt"
	"os"
	"unsafe"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/evsync/evsync/internal/ioc"
)

var defaultLogger = zerolog.New(os.Stdout).With().Str("subsystem", "evsync").Logger()

// evdev ioctl requests, from linux/input.h. Length-parameterized requests
// are built on demand.
const evBase = 'E'

var (
	sizeofEvent   = int(unsafe.Sizeof(RawEvent{}))
	sizeofAbsInfo = unsafe.Sizeof(AbsInfo{})

	eviocgVersion = ioc.IOR(evBase, 0x01, unsafe.Sizeof(int32(0)))
	eviocgID      = ioc.IOR(evBase, 0x02, unsafe.Sizeof(InputID{}))
	eviocgRep     = ioc.IOR(evBase, 0x03, 2*unsafe.Sizeof(int32(0)))
	eviocGrab     = ioc.IOW(evBase, 0x90, unsafe.Sizeof(int32(0)))
)

func eviocgName(n int) uintptr    { return ioc.Request(ioc.Read, evBase, 0x06, uintptr(n)) }
func eviocgMtSlots(n int) uintptr { return ioc.Request(ioc.Read, evBase, 0x0a, uintptr(n)) }
func eviocgKey(n int) uintptr     { return ioc.Request(ioc.Read, evBase, 0x18, uintptr(n)) }
func eviocgLed(n int) uintptr     { return ioc.Request(ioc.Read, evBase, 0x19, uintptr(n)) }
func eviocgSw(n int) uintptr      { return ioc.Request(ioc.Read, evBase, 0x1b, uintptr(n)) }
func eviocgAbs(code uint16) uintptr {
	return ioc.IOR(evBase, 0x40+uintptr(code), sizeofAbsInfo)
}
func eviocgBit(t EventType, n int) uintptr {
	return ioc.Request(ioc.Read, evBase, 0x20+uintptr(t), uintptr(n))
}

// readBatchSize is the number of events one read(2) can return at most.
const readBatchSize = 64

// Device is an open evdev character device. It implements the collaborator
// seams the streams consume: raw event reads (EventSource) and point-in-time
// state queries (StateQuerier). Capability and state queries are safe to
// share, but only one stream may consume the event buffer.
type Device struct {
	fd   int
	path string
	caps *Capabilities
	log  *zerolog.Logger

	readBuf []byte
}

// Open opens the device node at path (typically /dev/input/eventN) in
// blocking mode and queries its capability description. A nil logger falls
// back to a package default.
func Open(path string, logger *zerolog.Logger) (*Device, error) {
	if logger == nil {
		l := defaultLogger
		logger = &l
	}
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	d := &Device{
		fd:      fd,
		path:    path,
		log:     logger,
		readBuf: make([]byte, sizeofEvent*readBatchSize),
	}
	if err := d.queryCapabilities(); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	logger.Debug().
		Str("path", path).
		Str("name", d.caps.Name).
		Int("slots", d.caps.SlotCount()).
		Msg("Opened input device")
	return d, nil
}

// Close releases the device handle. Pending reads in other goroutines fail
// once the descriptor is gone.
func (d *Device) Close() error {
	if d.fd < 0 {
		return nil
	}
	err := unix.Close(d.fd)
	d.fd = -1
	return err
}

// Path returns the device node path the device was opened from.
func (d *Device) Path() string { return d.path }

// Capabilities returns the static capability description queried at open.
func (d *Device) Capabilities() *Capabilities { return d.caps }

// SetNonBlocking switches the descriptor between blocking and non-blocking
// reads. In non-blocking mode ReadEvents returns ErrWouldBlock when the
// kernel queue is empty.
func (d *Device) SetNonBlocking(enable bool) error {
	return unix.SetNonblock(d.fd, enable)
}

// Grab takes exclusive access to the device: no other process receives its
// events until Ungrab. Handle with care on keyboards.
func (d *Device) Grab() error {
	if err := ioc.IoctlInt(d.fd, eviocGrab, 1); err != nil {
		return mapIOError("grab device", err)
	}
	return nil
}

// Ungrab releases exclusive access previously taken with Grab.
func (d *Device) Ungrab() error {
	if err := ioc.IoctlInt(d.fd, eviocGrab, 0); err != nil {
		return mapIOError("ungrab device", err)
	}
	return nil
}

// ReadEvents performs one read(2) against the device and decodes whatever
// the kernel returned, at most readBatchSize events. The result is not
// aligned to batch boundaries; the stream layers handle grouping.
func (d *Device) ReadEvents() ([]RawEvent, error) {
	n, err := unix.Read(d.fd, d.readBuf)
	if err != nil {
		return nil, mapIOError("read events", err)
	}
	if n == 0 {
		return nil, ErrClosed
	}
	if n%sizeofEvent != 0 {
		return nil, fmt.Errorf("read events: short read of %d bytes", n)
	}
	decoded := unsafe.Slice((*RawEvent)(unsafe.Pointer(&d.readBuf[0])), n/sizeofEvent)
	out := make([]RawEvent, len(decoded))
	copy(out, decoded)
	return out, nil
}

// QueryState reads the device's true current state directly from the
// kernel, bypassing the event queue. Used for the cold start and for
// resynchronization after an overflow; any failure means the handle can no
// longer be trusted.
func (d *Device) QueryState() (*DeviceState, error) {
	s := newDeviceState(d.caps)

	if d.caps.HasEventType(EvKey) {
		if err := ioc.Ioctl(d.fd, eviocgKey(len(s.keys)), unsafe.Pointer(&s.keys[0])); err != nil {
			return nil, mapIOError("query key state", err)
		}
	}
	if d.caps.HasEventType(EvLed) {
		if err := ioc.Ioctl(d.fd, eviocgLed(len(s.leds)), unsafe.Pointer(&s.leds[0])); err != nil {
			return nil, mapIOError("query led state", err)
		}
	}
	if d.caps.HasEventType(EvSw) {
		if err := ioc.Ioctl(d.fd, eviocgSw(len(s.switches)), unsafe.Pointer(&s.switches[0])); err != nil {
			return nil, mapIOError("query switch state", err)
		}
	}
	if d.caps.HasEventType(EvAbs) {
		for _, code := range d.caps.SupportedCodes(EvAbs) {
			if isSlotScoped(code) {
				continue
			}
			var info AbsInfo
			if err := ioc.Ioctl(d.fd, eviocgAbs(code), unsafe.Pointer(&info)); err != nil {
				return nil, mapIOError("query abs state", err)
			}
			if code == AbsMtSlot {
				s.slot = info.Value
				continue
			}
			s.abs[code] = info
		}
		if err := d.queryMtSlots(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// queryMtSlots fills the per-slot values for every slot-scoped code the
// device supports, one EVIOCGMTSLOTS call per code.
func (d *Device) queryMtSlots(s *DeviceState) error {
	if len(s.slots) == 0 {
		return nil
	}
	// struct input_mt_request_layout: code followed by one value per slot.
	buf := make([]int32, 1+len(s.slots))
	for _, code := range d.caps.SupportedCodes(EvAbs) {
		if !isSlotScoped(code) {
			continue
		}
		buf[0] = int32(code)
		size := len(buf) * 4
		if err := ioc.Ioctl(d.fd, eviocgMtSlots(size), unsafe.Pointer(&buf[0])); err != nil {
			return mapIOError("query mt slots", err)
		}
		for i := range s.slots {
			s.slots[i][code] = buf[1+i]
		}
	}
	return nil
}

func (d *Device) queryCapabilities() error {
	caps := &Capabilities{
		types: newBitset(evMax),
		codes: make(map[EventType]Bitset),
		abs:   make(map[uint16]AbsInfo),
	}

	name := make([]byte, 256)
	if err := ioc.Ioctl(d.fd, eviocgName(len(name)), unsafe.Pointer(&name[0])); err != nil {
		return mapIOError("query device name", err)
	}
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	caps.Name = string(name)

	if err := ioc.Ioctl(d.fd, eviocgID, unsafe.Pointer(&caps.ID)); err != nil {
		return mapIOError("query device id", err)
	}
	if err := ioc.Ioctl(d.fd, eviocgVersion, unsafe.Pointer(&caps.DriverVersion)); err != nil {
		return mapIOError("query driver version", err)
	}

	if err := ioc.Ioctl(d.fd, eviocgBit(0, len(caps.types)), unsafe.Pointer(&caps.types[0])); err != nil {
		return mapIOError("query event types", err)
	}

	for _, t := range []EventType{EvKey, EvRel, EvAbs, EvMsc, EvSw, EvLed, EvSnd, EvFF} {
		if !caps.types.Contains(uint16(t)) {
			continue
		}
		bits := newBitset(maxCode(t))
		if err := ioc.Ioctl(d.fd, eviocgBit(t, len(bits)), unsafe.Pointer(&bits[0])); err != nil {
			return mapIOError("query event codes", err)
		}
		caps.codes[t] = bits
	}

	for _, code := range caps.codes[EvAbs].Codes() {
		var info AbsInfo
		if err := ioc.Ioctl(d.fd, eviocgAbs(code), unsafe.Pointer(&info)); err != nil {
			return mapIOError("query abs calibration", err)
		}
		caps.abs[code] = info
	}

	if caps.types.Contains(uint16(EvRep)) {
		var rep [2]int32
		if err := ioc.Ioctl(d.fd, eviocgRep, unsafe.Pointer(&rep[0])); err == nil {
			caps.RepeatDelay, caps.RepeatPeriod = rep[0], rep[1]
		}
	}

	d.caps = caps
	return nil
}
