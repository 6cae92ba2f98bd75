package inode

import (
	"kcore/cache"
	"kcore/defs"
	"kcore/util"
)

// sectorIndex locates the logical data-sector index for a byte offset.
func sectorIndex(off uint32) uint32 {
	return off / defs.SectorSize
}

// path describes how to reach logical data-sector index i from the
// inode's pointer array, growing the index tree lazily as writes
// reach further offsets.
type path struct {
	// steps are field indices to walk, in order: the first is always
	// into the inode's own pointer array (0..124); subsequent steps (if
	// any) are field indices (0..127) within the indirect block reached
	// so far.
	steps []int
}

func computePath(i uint32) path {
	switch {
	case i < numDirect:
		return path{steps: []int{int(i)}}
	case i < numDirect+ptrsPerBlock:
		return path{steps: []int{singlyIdx, int(i - numDirect)}}
	default:
		j := i - numDirect - ptrsPerBlock
		return path{steps: []int{doublyIdx, int(j / ptrsPerBlock), int(j % ptrsPerBlock)}}
	}
}

// walk descends path starting from the inode's own sector, returning
// the final data sector (or 0 for a hole), or an error if an allocation
// fails. If alloc is true and a step finds a zero pointer, it
// allocates a new sector, links it into the parent, and continues.
func (ino *Inode) walk(p path, alloc bool) (uint32, error) {
	parent := ino.sector
	for idx, field := range p.steps {
		last := idx == len(p.steps)-1

		h := ino.fs.Cache.Lock(parent, cache.SH)
		ptr := util.ReadU32(h.Read(), field)
		h.Unlock()

		if ptr == 0 {
			if !alloc {
				return 0, nil // hole
			}
			var err error
			ptr, err = ino.allocChild(parent, field, last)
			if err != nil {
				return 0, err
			}
		}

		parent = ptr
	}
	return parent, nil
}

// allocChild re-locks the parent exclusively, re-checks for a
// concurrent allocator, and if still zero, allocates a new sector,
// writes the pointer, and zeroes the new sector. last indicates the
// allocated sector is a data sector (true) rather than an indirect
// block (false); both kinds are zeroed alike, so last changes nothing.
func (ino *Inode) allocChild(parent uint32, field int, last bool) (uint32, error) {
	h := ino.fs.Cache.Lock(parent, cache.EX)
	defer h.Unlock()

	buf := h.Read()
	if ptr := util.ReadU32(buf, field); ptr != 0 {
		return ptr, nil
	}

	newSector, ok := ino.fs.Data.Alloc()
	if !ok {
		return 0, errNoSpace
	}

	util.WriteU32(buf, field, newSector)
	h.Dirty()

	ch := ino.fs.Cache.Lock(newSector, cache.EX)
	ch.SetZero()
	ch.Unlock()
	_ = last

	return newSector, nil
}
