// Package frame implements the physical frame table: one entry per
// in-use user frame, a process-wide index for O(1) lookup by physical
// page number, and second-chance clock eviction over unpinned frames.
//
// Grounded on biscuit's mem package (the Pa_t physical-address
// type and Allocator this table draws frames from) and the general
// shape of a clock-replacement scan already used by kcore/cache's
// clockSweep, generalized here to dispatch victim handling through the
// Resident interface instead of hardcoding one backing store.
package frame

import (
	"sync"

	"kcore/mem"
	"kcore/metrics"
)

// Resident is implemented by whatever owns a frame's contents (the
// supplemental page table entry, in this system) so the frame table
// itself never needs to know about ELF/MMAP/SWAP variants.
type Resident interface {
	// Accessed reports and clears the hardware accessed bit for this
	// entry's virtual page.
	Accessed() bool
	// Pinned reports whether eviction must skip this entry.
	Pinned() bool
	// Evict performs whatever writeback/promotion the variant requires
	// and marks the entry non-resident. Called with the frame already
	// removed from the table.
	Evict()
}

// Entry is one occupied physical frame.
type Entry struct {
	Pa    mem.Pa_t
	PgNo  uint32
	Owner Resident
}

// Table is the process-wide frame table and allocator front-end.
type Table struct {
	alloc mem.Allocator

	mu      sync.Mutex
	entries []*Entry
	index   map[uint32]*Entry
	hand    int
}

// New constructs a frame table drawing frames from alloc.
func New(alloc mem.Allocator) *Table {
	return &Table{alloc: alloc, index: make(map[uint32]*Entry)}
}

func pgNo(pa mem.Pa_t) uint32 { return uint32(pa >> mem.PGSHIFT) }

// Get obtains a frame for owner, evicting if the allocator is empty,
// and links the new entry into the table (frame_get).
func (t *Table) Get(owner Resident, zero bool) (*Entry, *mem.Page_t) {
	for {
		pa, page, ok := t.alloc.Acquire(zero)
		if ok {
			e := &Entry{Pa: pa, PgNo: pgNo(pa), Owner: owner}
			t.mu.Lock()
			t.entries = append(t.entries, e)
			t.index[e.PgNo] = e
			t.mu.Unlock()
			metrics.FramesInUse.Inc()
			return e, page
		}
		if !t.evictOne() {
			panic("frame: allocator empty and no evictable frame found")
		}
	}
}

// Free releases e's frame back to the allocator (frame_free).
func (t *Table) Free(e *Entry) {
	t.mu.Lock()
	t.unlink(e)
	t.mu.Unlock()
	t.alloc.Release(e.Pa)
	metrics.FramesInUse.Dec()
}

// Lookup finds the frame entry owning physical page number pgno.
func (t *Table) Lookup(pgno uint32) (*Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.index[pgno]
	return e, ok
}

// unlink removes e from the scan slice and index. Called with mu held.
func (t *Table) unlink(e *Entry) {
	delete(t.index, e.PgNo)
	for i, x := range t.entries {
		if x == e {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			break
		}
	}
}

// evictOne runs a second-chance scan, up to twice around the table: a
// frame with its accessed bit set is spared once (bit cleared) and
// passed over; the first unpinned frame found with the bit already
// clear is the victim. Returns false only if the table holds no
// unpinned frames at all.
func (t *Table) evictOne() bool {
	t.mu.Lock()
	n := len(t.entries)
	if n == 0 {
		t.mu.Unlock()
		return false
	}
	var victim *Entry
	for round := 0; round < 2 && victim == nil; round++ {
		for i := 0; i < n; i++ {
			e := t.entries[t.hand]
			t.hand = (t.hand + 1) % n
			if e.Owner.Pinned() {
				continue
			}
			if e.Owner.Accessed() {
				continue // second chance granted, accessed bit now cleared
			}
			victim = e
			break
		}
	}
	if victim == nil {
		t.mu.Unlock()
		return false
	}
	t.unlink(victim)
	t.mu.Unlock()

	victim.Owner.Evict()
	t.alloc.Release(victim.Pa)
	metrics.FrameEvictions.Inc()
	metrics.FramesInUse.Dec()
	return true
}
