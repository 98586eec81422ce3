//go:build linux

package dmamem

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"unsafe"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// HugepageSize is the size of one hugepage chunk.
const HugepageSize = 2 << 20

// Hugepages is a Memory carved from locked 2 MiB hugepages.
// A hugepage is physically contiguous, so each region has a single bus address.
// This assumes the card sees physical addresses, i.e. no IOMMU translation.
type Hugepages struct {
	mu      sync.Mutex
	chunks  [][]byte
	cur     []byte
	curPhys uint64
	off     int
}

var _ Memory = (*Hugepages)(nil)

// Alloc implements Memory.
// Freed regions are not reused until Close.
func (m *Hugepages) Alloc(size int) (region []byte, bus uint64, e error) {
	if size > HugepageSize {
		return nil, 0, fmt.Errorf("%w: region %d exceeds hugepage", ErrNoMemory, size)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	off := (m.off + heapAlign - 1) / heapAlign * heapAlign
	if m.cur == nil || off+size > len(m.cur) {
		if e = m.newChunk(); e != nil {
			return nil, 0, e
		}
		off = 0
	}

	region = m.cur[off : off+size : off+size]
	m.off = off + size
	return region, m.curPhys + uint64(off), nil
}

func (m *Hugepages) newChunk() error {
	chunk, e := unix.Mmap(-1, 0, HugepageSize, unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_HUGETLB|unix.MAP_POPULATE|unix.MAP_LOCKED)
	if e != nil {
		return fmt.Errorf("%w: mmap hugepage %v", ErrNoMemory, e)
	}
	phys, e := virtToPhys(uintptr(unsafe.Pointer(&chunk[0])))
	if e != nil {
		unix.Munmap(chunk)
		return fmt.Errorf("%w: %v", ErrNoMemory, e)
	}

	logger.Debug("hugepage mapped", zap.Uint64("phys", phys))
	m.chunks = append(m.chunks, chunk)
	m.cur, m.curPhys, m.off = chunk, phys, 0
	return nil
}

// Free implements Memory.
func (m *Hugepages) Free(region []byte, bus uint64) {}

// Close unmaps all hugepages.
func (m *Hugepages) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, chunk := range m.chunks {
		unix.Munmap(chunk)
	}
	m.chunks, m.cur = nil, nil
	return nil
}

func virtToPhys(virt uintptr) (uint64, error) {
	f, e := os.Open("/proc/self/pagemap")
	if e != nil {
		return 0, e
	}
	defer f.Close()

	pageSize := uintptr(unix.Getpagesize())
	var entry [8]byte
	if _, e = f.ReadAt(entry[:], int64(virt/pageSize*8)); e != nil {
		return 0, fmt.Errorf("pagemap %w", e)
	}
	v := binary.LittleEndian.Uint64(entry[:])
	if v&(1<<63) == 0 {
		return 0, fmt.Errorf("page at %#x not present", virt)
	}
	pfn := v & (1<<55 - 1)
	if pfn == 0 {
		return 0, fmt.Errorf("pagemap PFN hidden, CAP_SYS_ADMIN required")
	}
	return uint64(pfn)*uint64(pageSize) + uint64(virt%pageSize), nil
}
