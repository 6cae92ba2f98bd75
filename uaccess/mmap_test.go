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

func mmapTestEnv(t *testing.T) (*spt.Table, *inode.Inode) {
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
	if _, err := file.WriteAt(make([]byte, defs.PageSize), 0); err != nil {
		t.Fatal(err)
	}

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
	return spt.New(ft, pt, swap.New(swapDev), alloc), file
}

func TestMmapMunmapWritesBackDirtyPage(t *testing.T) {
	tbl, file := mmapTestEnv(t)
	mt := NewMapTable()

	mapid, err := mt.Mmap(tbl, file, 0x40000000, defs.PageSize, true)
	if err != nil {
		t.Fatal(err)
	}

	e, ok := tbl.GetSPTE(0x40000000)
	if !ok {
		t.Fatal("expected an SPT entry for the mapped page")
	}
	tbl.Load(e)
	tbl.WriteUserPage(e, 0, []byte{0xAA, 0xAA, 0xAA, 0xAA})

	if err := mt.Munmap(tbl, mapid); err != nil {
		t.Fatal(err)
	}

	if _, ok := tbl.GetSPTE(0x40000000); ok {
		t.Fatal("expected munmap to unlink the SPT entry")
	}

	buf := make([]byte, 4)
	if _, err := file.ReadAt(buf, 0); err != nil {
		t.Fatal(err)
	}
	for _, b := range buf {
		if b != 0xAA {
			t.Fatalf("expected munmap to write the dirtied page back, got %v", buf)
		}
	}
}

func TestMmapRejectsUnalignedAddr(t *testing.T) {
	tbl, file := mmapTestEnv(t)
	mt := NewMapTable()
	if _, err := mt.Mmap(tbl, file, 0x1001, defs.PageSize, true); err == nil {
		t.Fatal("expected an unaligned address to be rejected")
	}
}

func TestMmapRejectsZeroLength(t *testing.T) {
	tbl, file := mmapTestEnv(t)
	mt := NewMapTable()
	if _, err := mt.Mmap(tbl, file, 0x40000000, 0, true); err == nil {
		t.Fatal("expected a zero-length mapping to be rejected")
	}
}

func TestMunmapOfUnknownMapidFails(t *testing.T) {
	tbl, _ := mmapTestEnv(t)
	mt := NewMapTable()
	if err := mt.Munmap(tbl, 999); err == nil {
		t.Fatal("expected munmap of an unregistered mapid to fail")
	}
}
