package uaccess

import (
	"sync"

	"github.com/pkg/errors"

	"kcore/defs"
	"kcore/inode"
	"kcore/spt"
)

// Mapping is a memory-map descriptor: a mapid and the SPT entries it
// owns. Its lifecycle is tied to the owning process; Munmap writes
// back dirty pages through the file and drops the entries.
type Mapping struct {
	id      int
	entries []*spt.Entry
}

// MapTable assigns mapids and tracks the mappings a process owns.
type MapTable struct {
	mu       sync.Mutex
	next     int
	mappings map[int]*Mapping
}

// NewMapTable constructs an empty per-process map table.
func NewMapTable() *MapTable {
	return &MapTable{mappings: make(map[int]*Mapping)}
}

// Mmap maps length bytes of file's contents at addr, one lazy
// MMAP-variant SPT entry per page, and returns a mapid identifying the
// mapping. addr must be page-aligned and length nonzero.
func (mt *MapTable) Mmap(t *spt.Table, file *inode.Inode, addr, length uint32, writable bool) (int, error) {
	if addr&(defs.PageSize-1) != 0 {
		return -1, errors.Errorf("uaccess: mmap address %#x is not page-aligned", addr)
	}
	if length == 0 {
		return -1, errors.New("uaccess: mmap of a zero-length file")
	}

	npages := (length + defs.PageSize - 1) / defs.PageSize
	entries := make([]*spt.Entry, 0, npages)
	for i := uint32(0); i < npages; i++ {
		va := addr + i*defs.PageSize
		ofs := i * defs.PageSize
		rb := uint32(defs.PageSize)
		if ofs+defs.PageSize > length {
			rb = length - ofs
		}
		entries = append(entries, t.LinkMmap(va, file, ofs, rb, defs.PageSize-rb, writable))
	}

	mt.mu.Lock()
	mt.next++
	id := mt.next
	mt.mappings[id] = &Mapping{id: id, entries: entries}
	mt.mu.Unlock()
	return id, nil
}

// Munmap writes back dirty pages of mapid's mapping through the file
// and unlinks its SPT entries.
func (mt *MapTable) Munmap(t *spt.Table, mapid int) error {
	mt.mu.Lock()
	m, ok := mt.mappings[mapid]
	delete(mt.mappings, mapid)
	mt.mu.Unlock()
	if !ok {
		return errors.Errorf("uaccess: munmap of unknown mapid %d", mapid)
	}
	for _, e := range m.entries {
		t.Sync(e)
	}
	return nil
}
