package evsync

import (
	"errors"
	"fmt"
	"io"

	"golang.org/x/sys/unix"
)

var (
	// ErrWouldBlock is returned by non-blocking reads when no events are
	// queued. It is not fatal; retry once the descriptor is readable.
	ErrWouldBlock = errors.New("no events available")

	// ErrClosed is returned once a stream has ended, either because the
	// caller closed it or the source was exhausted. Terminal.
	ErrClosed = errors.New("event stream closed")

	// ErrDeviceGone marks errors meaning the device handle can no longer
	// be trusted (unplugged, or a state query failed mid-resync). Terminal.
	ErrDeviceGone = errors.New("device gone")
)

// mapIOError translates a raw read/ioctl failure into this package's error
// kinds. EAGAIN becomes ErrWouldBlock, ENODEV/EOF become terminal kinds and
// anything else is wrapped with the failing operation's name.
func mapIOError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, unix.EAGAIN):
		return ErrWouldBlock
	case errors.Is(err, unix.ENODEV):
		return fmt.Errorf("%s: %w: %w", op, ErrDeviceGone, err)
	case errors.Is(err, io.EOF):
		return ErrClosed
	}
	return fmt.Errorf("%s: %w", op, err)
}
