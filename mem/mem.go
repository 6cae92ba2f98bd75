// Package mem defines the physical-address types and the allocator
// interface that stands in for an external physical-page allocator
// (palloc_get_page/palloc_free_page). It is the direct
// generalization of biscuit's mem package: Pa_t and PGSIZE are kept
// verbatim in spirit, but Physmem_t's cr3/TLB/COW machinery is dropped:
// this module's frame table owns eviction, not a hardware pmap refcounter.
package mem

import "sync"

// PGSHIFT is the base-2 exponent of the page size.
const PGSHIFT = 12

// PGSIZE is the size of one physical frame / user page, in bytes.
const PGSIZE = 1 << PGSHIFT

// Pa_t is a physical frame address (always page-aligned).
type Pa_t uintptr

// Page_t is the byte contents of one physical frame.
type Page_t [PGSIZE]byte

// Allocator is the external physical-page allocator collaborator.
// Acquire returns ok=false when no frame is free; the
// frame table is the only caller that reacts to that by evicting.
type Allocator interface {
	// Acquire returns a fresh frame, optionally zeroed, or ok=false if
	// none is available.
	Acquire(zero bool) (pa Pa_t, page *Page_t, ok bool)
	// Release returns a frame to the free pool.
	Release(pa Pa_t)
	// Free reports the number of frames currently available.
	Free() int
	// Page looks up the backing storage for a frame address.
	Page(pa Pa_t) *Page_t
}

// SimAllocator is a reference Allocator backed by a fixed Go-heap pool,
// used by cmd/mkcore and by every package's tests in place of a real
// physical memory manager. It mirrors biscuit's Physmem_t free-list
// bookkeeping (a singly linked free list threaded through spare pages)
// without the per-CPU sharding real hardware needs.
type SimAllocator struct {
	mu    sync.Mutex
	pages map[Pa_t]*Page_t
	free  []Pa_t
	next  Pa_t
}

// NewSimAllocator creates a pool of n frames.
func NewSimAllocator(n int) *SimAllocator {
	a := &SimAllocator{pages: make(map[Pa_t]*Page_t, n)}
	for i := 0; i < n; i++ {
		a.next += PGSIZE
		pa := a.next
		a.pages[pa] = &Page_t{}
		a.free = append(a.free, pa)
	}
	return a
}

func (a *SimAllocator) Acquire(zero bool) (Pa_t, *Page_t, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.free) == 0 {
		return 0, nil, false
	}
	pa := a.free[len(a.free)-1]
	a.free = a.free[:len(a.free)-1]
	pg := a.pages[pa]
	if zero {
		*pg = Page_t{}
	}
	return pa, pg, true
}

func (a *SimAllocator) Release(pa Pa_t) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.pages[pa]; !ok {
		panic("mem: release of unknown frame")
	}
	a.free = append(a.free, pa)
}

func (a *SimAllocator) Free() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.free)
}

func (a *SimAllocator) Page(pa Pa_t) *Page_t {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pages[pa]
}
