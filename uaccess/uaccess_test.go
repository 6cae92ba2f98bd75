package uaccess

import (
	"os"
	"testing"

	"kcore/cache"
	"kcore/defs"
	"kcore/disk"
	"kcore/frame"
	"kcore/inode"
	"kcore/mem"
	"kcore/pagetable"
	"kcore/spt"
	"kcore/swap"
)

func testTable(t *testing.T) *spt.Table {
	t.Helper()
	fsPath, _ := os.CreateTemp(t.TempDir(), "kcore-fs-*")
	fsPath.Close()
	fsDev, err := disk.OpenFile(fsPath.Name(), 512, true)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { fsDev.Close() })
	c := cache.New(fsDev, 16)
	t.Cleanup(c.Close)
	_ = inode.NewFS(c, inode.NewFreeMap(1, 8), inode.NewFreeMap(10, 500))

	swapPath, _ := os.CreateTemp(t.TempDir(), "kcore-swap-*")
	swapPath.Close()
	swapDev, err := disk.OpenFile(swapPath.Name(), defs.SectorsPerPage*4, true)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { swapDev.Close() })

	alloc := mem.NewSimAllocator(8)
	ft := frame.New(alloc)
	pt := pagetable.New()
	return spt.New(ft, pt, swap.New(swapDev), alloc)
}

func TestPinGrowsStackAndPins(t *testing.T) {
	tbl := testTable(t)
	esp := uint32(defs.PhysBase - 4096)
	pinned, err := Pin(tbl, esp, 16, false, esp)
	if err != nil {
		t.Fatal(err)
	}
	e, ok := tbl.GetSPTE(esp)
	if !ok || !e.Present() {
		t.Fatal("expected stack page resident after Pin")
	}
	if !e.Pinned() {
		t.Fatal("expected page pinned")
	}
	pinned.Unpin()
	if e.Pinned() {
		t.Fatal("expected page unpinned after Unpin")
	}
}

func TestPinBadAddressFails(t *testing.T) {
	tbl := testTable(t)
	_, err := Pin(tbl, 0x1000, 16, false, 0)
	if err == nil {
		t.Fatal("expected error for an address with no backing SPT entry or stack growth")
	}
}

func TestPinWriteToReadOnlyFails(t *testing.T) {
	tbl := testTable(t)
	tbl.LinkElf(0x3000, nil, 0, 0, 0, false) // read-only, zero-fill-only page
	_, err := Pin(tbl, 0x3000, 16, true, 0)
	if err == nil {
		t.Fatal("expected write to a read-only page to fail")
	}
}
