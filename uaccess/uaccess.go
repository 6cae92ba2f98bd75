// Package uaccess implements the syscall-boundary pin/unpin pattern:
// when a syscall receives a user pointer and length, it walks the
// covered pages, faults in anything missing (synchronously
// loading it or growing the stack), pins each page's supplemental page
// table entry against eviction, and unpins them all on syscall exit.
//
// Generalizes biscuit's vm.Userbuf_t, a single-address-space
// validate-then-pin-then-copy loop tightly coupled to unsafe pointer
// walks into a real pmap (Userdmap8_inner), into one driven by
// kcore/spt instead of raw hardware memory, since this module's page
// tables are the software kcore/pagetable simulation, not real
// physical memory the Go runtime could read through unsafely.
package uaccess

import (
	"github.com/pkg/errors"

	"kcore/spt"
)

// Pinned is a validated, pinned run of user pages, covering [addr,
// addr+length). Call Unpin when the syscall using it returns.
type Pinned struct {
	entries []*spt.Entry
}

// Pin validates and pins every page covering [addr, addr+length),
// faulting in missing pages synchronously (loading them from their
// backing store, or growing the stack). write additionally requires
// every covered page to be writable, and fails the whole call (after
// unpinning what it already pinned) if any page is not.
func Pin(t *spt.Table, addr, length uint32, write bool, esp uint32) (*Pinned, error) {
	if length == 0 {
		return &Pinned{}, nil
	}

	start := addr &^ 0xfff
	end := (addr + length + 0xfff) &^ 0xfff

	var entries []*spt.Entry
	for va := start; va < end; va += 0x1000 {
		e, ok := t.GetSPTE(va)
		if !ok {
			e = t.StackGrowth(va, esp)
			if e == nil {
				unpinAll(entries)
				return nil, errors.Errorf("uaccess: bad user address %#x", va)
			}
		}
		if !e.Present() {
			t.Load(e)
		}
		if write && !e.Writable() {
			unpinAll(entries)
			return nil, errors.Errorf("uaccess: write to read-only page at %#x", va)
		}
		e.Pin()
		entries = append(entries, e)
	}

	return &Pinned{entries: entries}, nil
}

// Unpin releases every page this Pinned covers, making them eligible
// for eviction again.
func (p *Pinned) Unpin() {
	unpinAll(p.entries)
}

func unpinAll(entries []*spt.Entry) {
	for _, e := range entries {
		e.Unpin()
	}
}
