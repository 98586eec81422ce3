package dmamem

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// HeapBase is the first bus address handed out by a Heap.
// It lies above 4 GiB so that both halves of every address are exercised.
const HeapBase = 0x1_0000_0000

const heapAlign = 4096

// Heap is a simulated device-visible memory with a fixed capacity.
// It also lets a simulated card reach memory by bus address.
type Heap struct {
	mu      sync.Mutex
	limit   int
	used    int
	next    uint64
	regions map[uint64][]byte
}

var _ Memory = (*Heap)(nil)

// NewHeap creates a Heap that holds at most limit octets.
func NewHeap(limit int) *Heap {
	return &Heap{
		limit:   limit,
		next:    HeapBase,
		regions: map[uint64][]byte{},
	}
}

// Alloc implements Memory.
func (h *Heap) Alloc(size int) (region []byte, bus uint64, e error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.used+size > h.limit {
		logger.Debug("heap exhausted", zap.Int("size", size), zap.Int("used", h.used), zap.Int("limit", h.limit))
		return nil, 0, ErrNoMemory
	}
	region = make([]byte, size)
	bus = h.next
	h.next += uint64((size + heapAlign - 1) / heapAlign * heapAlign)
	h.used += size
	h.regions[bus] = region
	return region, bus, nil
}

// Free implements Memory.
func (h *Heap) Free(region []byte, bus uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.regions[bus]; ok {
		h.used -= len(r)
		delete(h.regions, bus)
	}
}

// Used returns allocated octets.
func (h *Heap) Used() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.used
}

// Access returns n octets of memory starting at a bus address.
// It returns nil if the range is not within one allocated region.
func (h *Heap) Access(bus uint64, n int) []byte {
	h.mu.Lock()
	defer h.mu.Unlock()

	starts := make([]uint64, 0, len(h.regions))
	for start := range h.regions {
		starts = append(starts, start)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })
	i := sort.Search(len(starts), func(i int) bool { return starts[i] > bus }) - 1
	if i < 0 {
		return nil
	}
	region := h.regions[starts[i]]
	off := int(bus - starts[i])
	if off+n > len(region) {
		return nil
	}
	return region[off : off+n]
}
