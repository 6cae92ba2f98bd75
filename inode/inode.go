// Package inode implements a multilevel-indexed on-disk inode: a
// 512-byte inode sector holding 125 sector pointers
// (direct/singly-indirect/doubly-indirect), an open-inode registry
// that deduplicates concurrent opens of the same sector, deny-write
// coordination, and length publication synchronized against the block
// cache's own locking.
//
// Grounded on biscuit's fs/blk.go Bdev_block_t (the block-level
// cache/lock split this package builds on top of) and fs/super.go
// Superblock_t (the free-region bitmap fields its free-sector
// allocator follows), generalized from biscuit's single combined
// inode+directory+log filesystem into a bare multilevel-index inode
// layer, with journaling and directory entries left out.
package inode

import (
	"sync"

	"kcore/cache"
	"kcore/defs"
	"kcore/hashtable"
	"kcore/util"
)

// Kind is the inode's file type.
type Kind uint32

const (
	KindFile Kind = 1
	KindDir  Kind = 2
)

// Magic identifies a valid inode sector, catching a misdirected read.
const Magic = 0x494e4f44

// On-disk layout: 128 4-byte fields exactly filling one 512-byte
// sector. Fields 0..124 are the pointer array; 125 is kind; 126 is
// length; 127 is magic.
const (
	numPointers  = 125
	numDirect    = 123 // indices 0..122
	singlyIdx    = 123
	doublyIdx    = 124
	fieldKind    = 125
	fieldLength  = 126
	fieldMagic   = 127
	ptrsPerBlock = defs.SectorSize / 4 // 128
)

// MaxSize is the number of bytes a file's index tree can address.
const MaxSize = (numDirect + ptrsPerBlock + ptrsPerBlock*ptrsPerBlock) * defs.SectorSize

// FS bundles the collaborators every open inode needs: the block
// cache, and the two free-sector allocators carved out of the device
// by mkcore at format time: one for inode sectors (biscuit's
// Superblock_t.Imaplen region), one for file data and indirect blocks
// (Superblock_t.Freeblock/Freeblocklen).
type FS struct {
	Cache  *cache.Cache
	Inodes *FreeMap
	Data   *FreeMap

	open   *hashtable.Table[uint32, *Inode]
	openMu sync.Mutex // serializes open-registry mutation
}

// NewFS constructs a filesystem-level handle over an already-formatted
// device region.
func NewFS(c *cache.Cache, inodes, data *FreeMap) *FS {
	return &FS{Cache: c, Inodes: inodes, Data: data, open: hashtable.New[uint32, *Inode](256)}
}

// Inode is an in-memory handle to one on-disk inode. Identity is
// enforced by FS's open registry: two Inode values for the same sector
// never coexist.
type Inode struct {
	fs     *FS
	sector uint32

	mu       sync.Mutex
	openCnt  int
	removed  bool

	denyMu      sync.Mutex
	noWrite     *sync.Cond
	writeCnt    int
	denyWriteCnt int

	extMu sync.Mutex // serializes length growth (the "extension lock")
}

// Create writes a zeroed inode to sector (length 0, magic set, kind
// kind) and returns an open handle, matching inode_create.
func (fs *FS) Create(sector uint32, kind Kind) *Inode {
	h := fs.Cache.Lock(sector, cache.EX)
	buf := h.Read()
	for i := range buf {
		buf[i] = 0
	}
	util.WriteU32(buf, fieldKind, uint32(kind))
	util.WriteU32(buf, fieldLength, 0)
	util.WriteU32(buf, fieldMagic, Magic)
	h.Dirty()
	h.Unlock()

	return fs.Open(sector)
}

// Open returns the unique handle for sector, creating it on first open
// and bumping the open count on subsequent opens (inode_open).
func (fs *FS) Open(sector uint32) *Inode {
	fs.openMu.Lock()
	defer fs.openMu.Unlock()

	if ino, ok := fs.open.Get(sector); ok {
		ino.mu.Lock()
		ino.openCnt++
		ino.mu.Unlock()
		return ino
	}

	ino := &Inode{fs: fs, sector: sector, openCnt: 1}
	ino.noWrite = sync.NewCond(&ino.denyMu)
	fs.open.Set(sector, ino)
	return ino
}

// Reopen increments the open count of an already-open inode
// (inode_reopen).
func (ino *Inode) Reopen() {
	ino.mu.Lock()
	ino.openCnt++
	ino.mu.Unlock()
}

// Close decrements the open count; on the last close of a removed
// inode, it recursively frees every allocated sector and the inode
// sector itself (inode_close / inode_erase).
func (ino *Inode) Close() {
	ino.mu.Lock()
	ino.openCnt--
	last := ino.openCnt == 0
	removed := ino.removed
	ino.mu.Unlock()

	if !last {
		return
	}

	ino.fs.openMu.Lock()
	ino.fs.open.Del(ino.sector)
	ino.fs.openMu.Unlock()

	if removed {
		ino.erase()
	}
}

// Remove marks the inode removed; actual reclamation happens at last
// close (so concurrent openers keep working until they too close).
func (ino *Inode) Remove() {
	ino.mu.Lock()
	ino.removed = true
	ino.mu.Unlock()
}

// GetInumber returns the inode's sector number (inode_get_inumber).
func (ino *Inode) GetInumber() uint32 { return ino.sector }

// Length returns the inode's current byte length (inode_length).
func (ino *Inode) Length() uint32 {
	h := ino.fs.Cache.Lock(ino.sector, cache.SH)
	defer h.Unlock()
	return util.ReadU32(h.Read(), fieldLength)
}

// Kind returns the inode's file type.
func (ino *Inode) Kind() Kind {
	h := ino.fs.Cache.Lock(ino.sector, cache.SH)
	defer h.Unlock()
	return Kind(util.ReadU32(h.Read(), fieldKind))
}

// DenyWrite waits for live writers to drain, then increments the
// deny-write counter (inode_deny_write). Invariant: 0 ≤ deny_write_cnt
// ≤ open_cnt, each opener calling this at most once.
func (ino *Inode) DenyWrite() {
	ino.denyMu.Lock()
	defer ino.denyMu.Unlock()
	for ino.writeCnt > 0 {
		ino.noWrite.Wait()
	}
	ino.denyWriteCnt++
}

// AllowWrite decrements the deny-write counter (inode_allow_write).
func (ino *Inode) AllowWrite() {
	ino.denyMu.Lock()
	defer ino.denyMu.Unlock()
	if ino.denyWriteCnt == 0 {
		panic("inode: AllowWrite without matching DenyWrite")
	}
	ino.denyWriteCnt--
}

// enterWrite registers a live writer, refusing if a deny is active.
func (ino *Inode) enterWrite() bool {
	ino.denyMu.Lock()
	defer ino.denyMu.Unlock()
	if ino.denyWriteCnt > 0 {
		return false
	}
	ino.writeCnt++
	return true
}

// exitWrite retires a live writer, waking any pending DenyWrite.
func (ino *Inode) exitWrite() {
	ino.denyMu.Lock()
	ino.writeCnt--
	if ino.writeCnt == 0 {
		ino.noWrite.Broadcast()
	}
	ino.denyMu.Unlock()
}

// erase walks every nonzero pointer in the inode, recursively freeing
// indirect blocks in post-order (depth 0 = data, 1 = indirect, 2 =
// double-indirect), then frees the inode sector itself.
func (ino *Inode) erase() {
	h := ino.fs.Cache.Lock(ino.sector, cache.EX)
	buf := h.Read()
	ptrs := make([]uint32, numPointers)
	for i := range ptrs {
		ptrs[i] = util.ReadU32(buf, i)
	}
	h.Unlock()

	for i, p := range ptrs {
		if p == 0 {
			continue
		}
		depth := 0
		if i == singlyIdx {
			depth = 1
		} else if i == doublyIdx {
			depth = 2
		}
		ino.eraseTree(p, depth)
	}

	ino.fs.Cache.Free(ino.sector)
	ino.fs.Inodes.Release(ino.sector)
}

func (ino *Inode) eraseTree(sector uint32, depth int) {
	if depth > 0 {
		h := ino.fs.Cache.Lock(sector, cache.SH)
		buf := h.Read()
		children := make([]uint32, ptrsPerBlock)
		for i := range children {
			children[i] = util.ReadU32(buf, i)
		}
		h.Unlock()
		for _, c := range children {
			if c != 0 {
				ino.eraseTree(c, depth-1)
			}
		}
	}
	ino.fs.Cache.Free(sector)
	ino.fs.Data.Release(sector)
}
