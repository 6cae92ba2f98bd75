package inode

import "kcore/bitmap"

// FreeMap tracks which data sectors in a contiguous disk region are in
// use, grounded on biscuit's Superblock_t.Freeblock/Freeblocklen
// fields: those name the region, this is the allocator that owns it.
// mkcore writes Freeblock/Freeblocklen when it formats an image; FS
// only needs the resulting bitmap at runtime.
type FreeMap struct {
	base uint32
	bm   *bitmap.Bitmap
}

// NewFreeMap constructs an allocator over the sector range
// [base, base+count).
func NewFreeMap(base, count uint32) *FreeMap {
	return &FreeMap{base: base, bm: bitmap.New(int(count))}
}

// Alloc reserves and returns a free sector number, or ok=false if the
// region is exhausted (ENOSPC).
func (f *FreeMap) Alloc() (uint32, bool) {
	i, ok := f.bm.Alloc()
	if !ok {
		return 0, false
	}
	return f.base + uint32(i), true
}

// Release returns sector to the free pool.
func (f *FreeMap) Release(sector uint32) {
	f.bm.Free(int(sector - f.base))
}

// InUse reports how many sectors are currently allocated.
func (f *FreeMap) InUse() int { return f.bm.Count() }
