//go:build linux

package mmio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"unsafe"

	"github.com/usnistgov/tsbridge/core/pciaddr"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// ErrNoUIO indicates the card is not bound to a UIO driver.
var ErrNoUIO = errors.New("no UIO device bound to the card")

// PCIBus is a Bus that maps BAR0 of a card through sysfs.
// Only link 0 is reachable; reads on other links return AllOnes.
type PCIBus struct {
	addr   pciaddr.PCIAddress
	mem    []byte
	warned atomic.Bool
}

var _ Bus = (*PCIBus)(nil)

// OpenPCI maps BAR0 of the card at addr.
func OpenPCI(addr pciaddr.PCIAddress) (b *PCIBus, e error) {
	filename := addr.ResourcePath(0)
	fd, e := unix.Open(filename, unix.O_RDWR|unix.O_SYNC, 0)
	if e != nil {
		return nil, fmt.Errorf("open %s %w", filename, e)
	}
	defer unix.Close(fd)

	var st unix.Stat_t
	if e = unix.Fstat(fd, &st); e != nil {
		return nil, fmt.Errorf("fstat %s %w", filename, e)
	}

	mem, e := unix.Mmap(fd, 0, int(st.Size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if e != nil {
		return nil, fmt.Errorf("mmap %s %w", filename, e)
	}

	logger.Info("BAR0 mapped", zap.Stringer("pci", addr), zap.Int64("size", st.Size))
	return &PCIBus{addr: addr, mem: mem}, nil
}

func (b *PCIBus) reg(link int, addr uint32) *uint32 {
	if link != 0 || int(addr)+4 > len(b.mem) || addr%4 != 0 {
		if b.warned.CompareAndSwap(false, true) {
			logger.Warn("register out of reach", zap.Stringer("pci", b.addr), zap.Int("link", link), zap.Uint32("addr", addr))
		}
		return nil
	}
	return (*uint32)(unsafe.Pointer(&b.mem[addr]))
}

// Read32 implements Bus.
func (b *PCIBus) Read32(link int, addr uint32) uint32 {
	if p := b.reg(link, addr); p != nil {
		return atomic.LoadUint32(p)
	}
	return AllOnes
}

// Write32 implements Bus.
func (b *PCIBus) Write32(link int, addr uint32, value uint32) {
	if p := b.reg(link, addr); p != nil {
		atomic.StoreUint32(p, value)
	}
}

// Close unmaps the BAR.
func (b *PCIBus) Close() error {
	if b.mem == nil {
		return nil
	}
	e := unix.Munmap(b.mem)
	b.mem = nil
	return e
}

// UIO receives interrupts of a card bound to uio_pci_generic.
type UIO struct {
	fd int
}

// OpenUIO opens the UIO device of the card at addr.
func OpenUIO(addr pciaddr.PCIAddress) (u *UIO, e error) {
	entries, e := os.ReadDir(filepath.Join(addr.SysfsPath(), "uio"))
	if e != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoUIO, e)
	}
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), "uio") {
			continue
		}
		fd, e := unix.Open(filepath.Join("/dev", entry.Name()), unix.O_RDWR|unix.O_CLOEXEC, 0)
		if e != nil {
			return nil, fmt.Errorf("open /dev/%s %w", entry.Name(), e)
		}
		return &UIO{fd: fd}, nil
	}
	return nil, ErrNoUIO
}

// Enable unmasks the interrupt.
func (u *UIO) Enable() error {
	var buf [4]byte
	binary.NativeEndian.PutUint32(buf[:], 1)
	_, e := unix.Write(u.fd, buf[:])
	return e
}

// Wait blocks until an interrupt arrives and returns the total interrupt count.
func (u *UIO) Wait(ctx context.Context) (count uint32, e error) {
	for {
		if e = ctx.Err(); e != nil {
			return 0, e
		}
		fds := []unix.PollFd{{Fd: int32(u.fd), Events: unix.POLLIN}}
		n, e := unix.Poll(fds, 100)
		switch {
		case errors.Is(e, unix.EINTR):
			continue
		case e != nil:
			return 0, e
		case n == 0:
			continue
		}

		var buf [4]byte
		if _, e = unix.Read(u.fd, buf[:]); e != nil {
			return 0, e
		}
		return binary.NativeEndian.Uint32(buf[:]), nil
	}
}

// Close closes the UIO device.
func (u *UIO) Close() error {
	return unix.Close(u.fd)
}
