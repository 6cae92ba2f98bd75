// Package util contains the raw little-endian marshaling the inode
// layer uses to pack its on-disk sector fields.
package util

import "unsafe"

// Readn reads n bytes from a starting at off and returns the value.
// It panics if the requested region is out of bounds or the size is unsupported.
func Readn(a []uint8, n int, off int) int {
	if off < 0 || off+n > len(a) {
		panic("Readn out of bounds")
	}
	p := unsafe.Pointer(&a[off])
	var ret int
	switch n {
	case 8:
		ret = *(*int)(p)
	case 4:
		ret = int(*(*uint32)(p))
	case 2:
		ret = int(*(*uint16)(p))
	case 1:
		ret = int(*(*uint8)(p))
	default:
		panic("unsupported size")
	}
	return ret
}

// Writen writes val using sz bytes into a starting at off.
// It panics if the destination is out of bounds or the size is unsupported.
func Writen(a []uint8, sz int, off int, val int) {
	if off < 0 || off+sz > len(a) {
		panic("Writen out of bounds")
	}
	p := unsafe.Pointer(&a[off])
	switch sz {
	case 8:
		*(*int)(p) = val
	case 4:
		*(*uint32)(p) = uint32(val)
	case 2:
		*(*uint16)(p) = uint16(val)
	case 1:
		*(*uint8)(p) = uint8(val)
	default:
		panic("unsupported size")
	}
}

// ReadU32 reads a little-endian uint32 field (a sector pointer, a length,
// or the inode magic) out of an on-disk sector buffer at the given field
// index (not byte offset).
func ReadU32(sector []uint8, field int) uint32 {
	off := field * 4
	return uint32(Readn(sector, 4, off))
}

// WriteU32 writes a little-endian uint32 field into an on-disk sector
// buffer at the given field index (not byte offset).
func WriteU32(sector []uint8, field int, v uint32) {
	off := field * 4
	Writen(sector, 4, off, int(v))
}
