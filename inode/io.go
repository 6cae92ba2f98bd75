package inode

import (
	"github.com/pkg/errors"

	"kcore/cache"
	"kcore/defs"
	"kcore/util"
)

// errNoSpace is returned when the free-sector map is exhausted
// mid-write; WriteAt passes it to its caller unchanged, along with the
// count of bytes written before the failure.
var errNoSpace = errors.New("inode: free sector map exhausted")

// ReadAt reads up to len(buf) bytes starting at off, zero-filling
// holes and stopping at the inode's current length (inode_read_at).
func (ino *Inode) ReadAt(buf []byte, off uint32) (int, error) {
	length := ino.Length()
	if off >= length {
		return 0, nil
	}
	n := uint32(len(buf))
	if off+n > length {
		n = length - off
	}

	var done uint32
	for done < n {
		idx := sectorIndex(off + done)
		within := (off + done) % defs.SectorSize
		chunk := defs.SectorSize - within
		if chunk > n-done {
			chunk = n - done
		}

		p := computePath(idx)
		sector, err := ino.walk(p, false)
		if err != nil {
			return int(done), err
		}
		dst := buf[done : done+chunk]
		if sector == 0 {
			for i := range dst {
				dst[i] = 0
			}
		} else {
			h := ino.fs.Cache.Lock(sector, cache.SH)
			copy(dst, h.Read()[within:within+chunk])
			h.Unlock()
		}
		done += chunk
	}
	return int(done), nil
}

// WriteAt writes len(buf) bytes starting at off, allocating sectors as
// needed and extending the inode's length if off+len(buf) exceeds it.
// The new length is published only after the data itself has landed in
// the cache (inode_write_at).
func (ino *Inode) WriteAt(buf []byte, off uint32) (int, error) {
	if !ino.enterWrite() {
		return 0, errors.New("inode: write denied (deny_write active)")
	}
	defer ino.exitWrite()

	end := off + uint32(len(buf))
	if end > MaxSize {
		return 0, errors.Errorf("inode: write would exceed max file size %d", MaxSize)
	}

	var done uint32
	n := uint32(len(buf))
	for done < n {
		idx := sectorIndex(off + done)
		within := (off + done) % defs.SectorSize
		chunk := defs.SectorSize - within
		if chunk > n-done {
			chunk = n - done
		}

		p := computePath(idx)
		sector, err := ino.walk(p, true)
		if err != nil {
			return int(done), err
		}

		h := ino.fs.Cache.Lock(sector, cache.EX)
		copy(h.Read()[within:within+chunk], buf[done:done+chunk])
		h.Dirty()
		h.Unlock()

		done += chunk
	}

	if end > off { // always true when n>0; guards the zero-length call
		ino.growTo(end)
	}
	return int(done), nil
}

// growTo publishes a new length if grow exceeds the current one,
// serialized by the inode's extension lock and performed under the
// cache's own exclusive lock on the header sector so concurrent
// readers never observe a length past what was actually written.
func (ino *Inode) growTo(grow uint32) {
	ino.extMu.Lock()
	defer ino.extMu.Unlock()

	h := ino.fs.Cache.Lock(ino.sector, cache.EX)
	defer h.Unlock()
	buf := h.Read()
	cur := util.ReadU32(buf, fieldLength)
	if grow > cur {
		util.WriteU32(buf, fieldLength, grow)
		h.Dirty()
	}
}
