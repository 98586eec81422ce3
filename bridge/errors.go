package bridge

import (
	"errors"

	"github.com/usnistgov/tsbridge/hw/dmamem"
	"golang.org/x/sys/unix"
)

// Error conditions.
var (
	ErrNoMemory   = dmamem.ErrNoMemory
	ErrBusy       = errors.New("device or resource busy")
	ErrInvalid    = errors.New("invalid argument")
	ErrLoop       = errors.New("redirect would form a loop")
	ErrWouldBlock = errors.New("operation would block")
)

// Errno converts an error to a negative errno, as returned to the administrative interface.
func Errno(e error) int {
	switch {
	case e == nil:
		return 0
	case errors.Is(e, ErrNoMemory):
		return -int(unix.ENOMEM)
	case errors.Is(e, ErrBusy):
		return -int(unix.EBUSY)
	case errors.Is(e, ErrInvalid):
		return -int(unix.EINVAL)
	case errors.Is(e, ErrLoop):
		return -int(unix.ELOOP)
	case errors.Is(e, ErrWouldBlock):
		return -int(unix.EAGAIN)
	}
	return -int(unix.EIO)
}
