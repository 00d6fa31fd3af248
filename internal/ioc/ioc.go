// Package ioc builds ioctl request numbers the way Linux's ioctl.h macros
// do and issues them against an open file descriptor.
package ioc

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// Direction bits of an ioctl request.
const (
	None  = 0x0
	Write = 0x1
	Read  = 0x2
)

const (
	nrBits   = 8
	typeBits = 8
	sizeBits = 14

	nrShift   = 0
	typeShift = nrShift + nrBits
	sizeShift = typeShift + typeBits
	dirShift  = sizeShift + sizeBits
)

// Request encodes an ioctl request number, mirroring the kernel's _IOC macro.
func Request(dir, typ, nr, size uintptr) uintptr {
	return dir<<dirShift | typ<<typeShift | nr<<nrShift | size<<sizeShift
}

// IOR encodes a read request (_IOR).
func IOR(typ, nr, size uintptr) uintptr {
	return Request(Read, typ, nr, size)
}

// IOW encodes a write request (_IOW).
func IOW(typ, nr, size uintptr) uintptr {
	return Request(Write, typ, nr, size)
}

// Ioctl issues the request against fd. A non-zero errno is returned as-is so
// callers can match on unix.EAGAIN, unix.ENODEV and friends.
func Ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	return IoctlInt(fd, req, uintptr(arg))
}

// IoctlInt issues a request whose argument is an integer rather than a
// pointer (EVIOCGRAB and similar).
func IoctlInt(fd int, req, arg uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, arg)
	if errno != 0 {
		return errno
	}
	return nil
}
