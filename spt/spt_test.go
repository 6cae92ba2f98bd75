package spt

import (
	"bytes"
	"os"
	"testing"

	"kcore/cache"
	"kcore/defs"
	"kcore/disk"
	"kcore/frame"
	"kcore/inode"
	"kcore/mem"
	"kcore/pagetable"
	"kcore/swap"
)

func testEnv(t *testing.T, frames int) (*Table, *inode.Inode) {
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
	fs := inode.NewFS(c, inode.NewFreeMap(1, 8), inode.NewFreeMap(10, 500))
	file := fs.Create(1, inode.KindFile)
	content := bytes.Repeat([]byte{0x42}, defs.PageSize)
	file.WriteAt(content, 0)

	swapPath, _ := os.CreateTemp(t.TempDir(), "kcore-swap-*")
	swapPath.Close()
	swapDev, err := disk.OpenFile(swapPath.Name(), defs.SectorsPerPage*4, true)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { swapDev.Close() })
	sw := swap.New(swapDev)

	alloc := mem.NewSimAllocator(frames)
	ft := frame.New(alloc)
	pt := pagetable.New()
	return New(ft, pt, sw, alloc), file
}

func TestLinkElfThenLoad(t *testing.T) {
	tbl, file := testEnv(t, 4)
	e := tbl.LinkElf(0x1000, file, 0, defs.PageSize, 0, false)
	if e.Present() {
		t.Fatal("expected lazy entry to start non-resident")
	}
	tbl.Load(e)
	if !e.Present() {
		t.Fatal("expected entry resident after Load")
	}
}

func TestStackGrowthWithinWindow(t *testing.T) {
	tbl, _ := testEnv(t, 4)
	esp := uint32(defs.PhysBase - 4096)
	faultVA := esp - 4 // just below esp, within slack
	e := tbl.StackGrowth(faultVA, esp)
	if e == nil {
		t.Fatal("expected stack growth to succeed")
	}
	if !e.Present() {
		t.Fatal("expected new stack page to be resident")
	}
}

func TestStackGrowthRejectsFarFault(t *testing.T) {
	tbl, _ := testEnv(t, 4)
	esp := uint32(defs.PhysBase - 4096)
	faultVA := esp - 1<<20 // far below esp and current stack
	if e := tbl.StackGrowth(faultVA, esp); e != nil {
		t.Fatal("expected stack growth to be rejected")
	}
}

func TestEvictionPromotesDirtyElfToSwap(t *testing.T) {
	tbl, file := testEnv(t, 1) // one frame forces eviction on second fault
	e1 := tbl.LinkElf(0x1000, file, 0, defs.PageSize, 0, true)
	tbl.Load(e1)
	tbl.pt.Touch(e1.addr, true) // simulate a dirtying write fault

	e2 := tbl.LinkElf(0x2000, file, 0, defs.PageSize, 0, true)
	tbl.Load(e2) // forces eviction of e1's frame

	if e1.Present() {
		t.Fatal("expected e1 evicted")
	}
	if e1.variant != Swap {
		t.Fatal("expected dirty ELF page promoted to swap variant on eviction")
	}
}
