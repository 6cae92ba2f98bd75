// Package swap implements a bitmap-managed swap device: one bit per
// 8-sector (one page) slot, dump-to-slot and
// load-from-slot, with full-swap and load-of-free-slot both being
// bugs rather than recoverable conditions.
//
// Grounded on biscuit's fs/blk.go block-list write/read pattern
// (Bdev_block_t.Write/Read operating a whole block at a time) and the
// disk abstraction this module shares with kcore/cache, generalized
// from "one sector" to "one page of 8 sectors" per unit.
package swap

import (
	"fmt"

	"kcore/bitmap"
	"kcore/defs"
	"kcore/disk"
	"kcore/metrics"
)

// Device manages a raw block device as a set of page-sized swap slots.
type Device struct {
	disk  disk.Device
	slots *bitmap.Bitmap
}

// New constructs a swap device over dev, which must hold an exact
// multiple of defs.SectorsPerPage sectors.
func New(dev disk.Device) *Device {
	n := dev.NumSectors() / defs.SectorsPerPage
	return &Device{disk: dev, slots: bitmap.New(int(n))}
}

// Dump allocates a free slot and writes the page's 8 sectors into it,
// returning the slot index. Panics if swap is full.
func (d *Device) Dump(page []byte) int {
	if len(page) != defs.PageSize {
		panic(fmt.Sprintf("swap: Dump needs exactly %d bytes, got %d", defs.PageSize, len(page)))
	}
	slot, ok := d.slots.Alloc()
	if !ok {
		panic("swap: device full")
	}
	d.writeSlot(slot, page)
	metrics.SwapSlotsInUse.Set(float64(d.slots.Count()))
	return slot
}

// Load reads the page at slot into dst and frees the slot. Panics if
// slot was never allocated: loading a free slot indicates a bug in
// the caller's SPT bookkeeping, not a recoverable condition.
func (d *Device) Load(slot int, dst []byte) {
	if len(dst) != defs.PageSize {
		panic(fmt.Sprintf("swap: Load needs exactly %d bytes, got %d", defs.PageSize, len(dst)))
	}
	if !d.slots.Test(slot) {
		panic(fmt.Sprintf("swap: Load of free slot %d", slot))
	}
	d.readSlot(slot, dst)
	d.slots.Free(slot)
	metrics.SwapSlotsInUse.Set(float64(d.slots.Count()))
}

func (d *Device) writeSlot(slot int, page []byte) {
	base := uint32(slot) * defs.SectorsPerPage
	for i := uint32(0); i < defs.SectorsPerPage; i++ {
		off := i * defs.SectorSize
		if err := d.disk.WriteSector(base+i, page[off:off+defs.SectorSize]); err != nil {
			panic(fmt.Sprintf("swap: fatal write error at slot %d sector %d: %v", slot, i, err))
		}
	}
}

func (d *Device) readSlot(slot int, dst []byte) {
	base := uint32(slot) * defs.SectorsPerPage
	for i := uint32(0); i < defs.SectorsPerPage; i++ {
		off := i * defs.SectorSize
		if err := d.disk.ReadSector(base+i, dst[off:off+defs.SectorSize]); err != nil {
			panic(fmt.Sprintf("swap: fatal read error at slot %d sector %d: %v", slot, i, err))
		}
	}
}
