// Package spt implements the supplemental page table: per-process,
// page-addressed entries tagged ELF, MMAP, or SWAP, that turn a page
// fault into "obtain a frame, populate it, install the hardware
// mapping." It is the piece that ties kcore/frame,
// kcore/inode, and kcore/swap together the way biscuit's vm
// package ties its page tables to its filesystem and anonymous-memory
// paths, minus the real-hardware pmap walking (see kcore/pagetable).
package spt

import (
	"sync"

	"kcore/defs"
	"kcore/frame"
	"kcore/inode"
	"kcore/mem"
	"kcore/pagetable"
	"kcore/swap"
)

// Variant tags which backing store an Entry loads from.
type Variant int

const (
	Elf Variant = iota
	Mmap
	Swap
)

// Entry is one supplemental page table entry. It implements
// frame.Resident so the frame table can evict it without knowing its
// variant.
type Entry struct {
	mu sync.Mutex

	// loadMu serializes Load calls for this entry and is held for each
	// call's whole duration: Load releases mu before calling into the frame
	// table (which may evict, taking the frame table's own lock and
	// then some other entry's mu), so two concurrent faults on the
	// same entry need a lock that stays held for the whole operation
	// instead.
	loadMu sync.Mutex

	table *Table
	addr  uint32 // page-aligned user virtual address
	writable bool
	present  bool
	pinned   bool
	variant  Variant

	// ELF / MMAP fields.
	file      *inode.Inode
	ofs       uint32
	readBytes uint32
	zeroBytes uint32

	// SWAP field.
	swapSlot int

	frame *frame.Entry
}

// Addr returns the entry's virtual address.
func (e *Entry) Addr() uint32 { return e.addr }

// Present reports the residency flag (is_present).
func (e *Entry) Present() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.present
}

// Pin marks the entry pinned, so eviction skips it.
func (e *Entry) Pin() {
	e.mu.Lock()
	e.pinned = true
	e.mu.Unlock()
}

// Unpin clears the pin.
func (e *Entry) Unpin() {
	e.mu.Lock()
	e.pinned = false
	e.mu.Unlock()
}

// Writable reports the entry's writability.
func (e *Entry) Writable() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.writable
}

// Accessed implements frame.Resident.
func (e *Entry) Accessed() bool {
	return e.table.pt.TestAndClearAccessed(e.addr)
}

// Pinned implements frame.Resident.
func (e *Entry) Pinned() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pinned
}

// Evict implements frame.Resident: dispatches writeback by variant,
// then marks the entry non-resident. Called by the frame table with
// the frame already unlinked from its table.
func (e *Entry) Evict() {
	e.mu.Lock()
	defer e.mu.Unlock()

	dirty := e.table.pt.IsDirty(e.addr)
	e.table.pt.Clear(e.addr)

	switch e.variant {
	case Mmap:
		if dirty {
			e.writeback()
		}
	case Swap:
		e.dumpToSwap()
	case Elf:
		if dirty {
			e.variant = Swap
			e.dumpToSwap()
		}
		// else: clean ELF page, simply dropped. Re-read from the
		// executable on next fault.
	}

	e.present = false
	e.frame = nil
}

func (e *Entry) writeback() {
	page := e.table.alloc.Page(e.frame.Pa)
	e.file.WriteAt(page[:e.readBytes], e.ofs)
}

func (e *Entry) dumpToSwap() {
	page := e.table.alloc.Page(e.frame.Pa)
	e.swapSlot = e.table.swap.Dump(page[:])
}

// Table is one process's supplemental page table.
type Table struct {
	mu      sync.Mutex
	entries map[uint32]*Entry

	frames *frame.Table
	pt     *pagetable.AddrSpace
	swap   *swap.Device
	alloc  mem.Allocator
}

// New constructs an empty supplemental page table for one process.
func New(frames *frame.Table, pt *pagetable.AddrSpace, sw *swap.Device, alloc mem.Allocator) *Table {
	return &Table{entries: make(map[uint32]*Entry), frames: frames, pt: pt, swap: sw, alloc: alloc}
}

// pageAlign rounds addr down to a page boundary.
func pageAlign(addr uint32) uint32 { return addr &^ (defs.PageSize - 1) }

// GetSPTE looks up the entry covering addr, rounding down to its page
// (get_spte).
func (t *Table) GetSPTE(addr uint32) (*Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[pageAlign(addr)]
	return e, ok
}

// Remove unlinks spte (spt_remove).
func (t *Table) Remove(e *Entry) {
	t.mu.Lock()
	delete(t.entries, e.addr)
	t.mu.Unlock()
}

// LinkElf registers a lazy, ELF-backed entry (spt_link_elf).
func (t *Table) LinkElf(va uint32, file *inode.Inode, ofs, readBytes, zeroBytes uint32, writable bool) *Entry {
	return t.link(va, Elf, file, ofs, readBytes, zeroBytes, writable)
}

// LinkMmap registers a lazy, file-backed mmap entry (spt_link_mmap).
func (t *Table) LinkMmap(va uint32, file *inode.Inode, ofs, readBytes, zeroBytes uint32, writable bool) *Entry {
	return t.link(va, Mmap, file, ofs, readBytes, zeroBytes, writable)
}

func (t *Table) link(va uint32, variant Variant, file *inode.Inode, ofs, readBytes, zeroBytes uint32, writable bool) *Entry {
	va = pageAlign(va)
	e := &Entry{table: t, addr: va, variant: variant, file: file, ofs: ofs,
		readBytes: readBytes, zeroBytes: zeroBytes, writable: writable}
	t.mu.Lock()
	t.entries[va] = e
	t.mu.Unlock()
	return e
}

// Load brings spte resident, dispatching by variant (spt_load).
//
// e.mu is never held while calling into the frame table: Table.Get may
// evict, which takes the frame table's own lock and then some victim
// entry's mu to read its pinned/accessed bits. Holding e.mu across
// that call would invert that order for e itself and deadlock against
// a concurrent fault that is evicting e. loadMu instead serializes
// concurrent Load calls on this one entry for the operation's whole
// duration, without ever being acquired by eviction.
func (t *Table) Load(e *Entry) {
	e.loadMu.Lock()
	defer e.loadMu.Unlock()

	e.mu.Lock()
	if e.present {
		e.mu.Unlock()
		return
	}
	variant := e.variant
	file, ofs, readBytes, zeroBytes := e.file, e.ofs, e.readBytes, e.zeroBytes
	swapSlot := e.swapSlot
	writable := e.writable
	e.mu.Unlock()

	var fe *frame.Entry
	var page *mem.Page_t
	switch variant {
	case Elf, Mmap:
		fe, page = t.frames.Get(e, readBytes == 0)
		if readBytes > 0 {
			file.ReadAt(page[:readBytes], ofs)
		}
		for i := readBytes; i < readBytes+zeroBytes; i++ {
			page[i] = 0
		}
	case Swap:
		fe, page = t.frames.Get(e, false)
		t.swap.Load(swapSlot, page[:])
	}

	t.pt.Install(e.addr, fe.PgNo, writable)
	e.mu.Lock()
	e.frame = fe
	e.present = true
	e.mu.Unlock()
}

// WriteUserPage copies data into e's backing frame at byte offset off
// and sets the simulated hardware dirty bit for e's page. On real
// hardware a user-mode write to a mapped page needs no kernel
// involvement at all, since the page is already writable in the
// process's own address space; this exists only because
// kcore/pagetable stands in for that hardware, so something has to
// mutate the page's simulated backing bytes the way a CPU store would.
// e must already be present (callers reach that through uaccess.Pin).
func (t *Table) WriteUserPage(e *Entry, off int, data []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.present {
		panic("spt: WriteUserPage of a non-resident entry")
	}
	page := t.alloc.Page(e.frame.Pa)
	copy(page[off:], data)
	t.pt.Touch(e.addr, true)
}

// Sync writes e back to its file if it is a dirty, present MMAP entry,
// frees its frame if one is held, and removes e from the table.
// munmap uses this to drop mappings immediately rather than waiting
// for ordinary eviction to notice them.
func (t *Table) Sync(e *Entry) {
	e.mu.Lock()
	if e.present {
		if e.variant == Mmap && t.pt.IsDirty(e.addr) {
			e.writeback()
		}
		t.pt.Clear(e.addr)
		t.frames.Free(e.frame)
		e.present = false
		e.frame = nil
	}
	e.mu.Unlock()
	t.Remove(e)
}

// StackGrowth implements spt_stack_growth: grows the stack with a
// fresh zeroed SWAP-variant page iff faultVA is within 8 MiB of
// PhysBase and no further than StackGrowthSlack below esp.
func (t *Table) StackGrowth(faultVA, esp uint32) *Entry {
	if defs.PhysBase-pageAlign(faultVA) > defs.StackLimit {
		return nil
	}
	if faultVA+defs.StackGrowthSlack < esp {
		return nil
	}

	va := pageAlign(faultVA)
	e := &Entry{table: t, addr: va, variant: Swap, writable: true, swapSlot: -1}
	fe, _ := t.frames.Get(e, true)
	e.frame = fe
	t.pt.Install(va, fe.PgNo, true)
	e.present = true

	t.mu.Lock()
	t.entries[va] = e
	t.mu.Unlock()
	return e
}
