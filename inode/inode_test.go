package inode

import (
	"bytes"
	"os"
	"testing"

	"github.com/kylelemons/godebug/pretty"

	"kcore/cache"
	"kcore/disk"
)

func newTestFS(t *testing.T, nsectors uint32) *FS {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "kcore-fs-*")
	if err != nil {
		t.Fatal(err)
	}
	path := f.Name()
	f.Close()
	dev, err := disk.OpenFile(path, nsectors, true)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { dev.Close() })

	c := cache.New(dev, 16)
	t.Cleanup(c.Close)
	inodes := NewFreeMap(1, 8)
	data := NewFreeMap(10, nsectors-10)
	return NewFS(c, inodes, data)
}

func TestCreateOpenReadWrite(t *testing.T) {
	fs := newTestFS(t, 512)
	ino := fs.Create(1, KindFile)
	if ino.Length() != 0 {
		t.Fatalf("expected zero length, got %d", ino.Length())
	}

	data := bytes.Repeat([]byte("x"), 1000)
	n, err := ino.WriteAt(data, 0)
	if err != nil || n != len(data) {
		t.Fatalf("WriteAt: n=%d err=%v", n, err)
	}
	if got := ino.Length(); got != uint32(len(data)) {
		t.Fatalf("length = %d, want %d", got, len(data))
	}

	buf := make([]byte, len(data))
	n, err = ino.ReadAt(buf, 0)
	if err != nil || n != len(data) {
		t.Fatalf("ReadAt: n=%d err=%v", n, err)
	}
	if diff := pretty.Compare(buf, data); diff != "" {
		t.Fatalf("round trip mismatch (-got +want):\n%s", diff)
	}
	ino.Close()
}

func TestReadHoleZeroFilled(t *testing.T) {
	fs := newTestFS(t, 512)
	ino := fs.Create(1, KindFile)
	ino.WriteAt([]byte("hi"), 4000) // forces a sparse hole before offset 4000

	buf := make([]byte, 10)
	n, err := ino.ReadAt(buf, 0)
	if err != nil || n != 10 {
		t.Fatalf("ReadAt: n=%d err=%v", n, err)
	}
	for _, b := range buf {
		if b != 0 {
			t.Fatal("expected zero-filled hole")
		}
	}
	ino.Close()
}

func TestOpenRegistryDeduplicates(t *testing.T) {
	fs := newTestFS(t, 512)
	a := fs.Create(1, KindFile)
	b := fs.Open(1)
	if a != b {
		t.Fatal("expected same *Inode for the same sector")
	}
	a.Close()
	b.Close()
}

func TestDenyWriteBlocksWriters(t *testing.T) {
	fs := newTestFS(t, 512)
	ino := fs.Create(1, KindFile)
	ino.DenyWrite()
	if _, err := ino.WriteAt([]byte("x"), 0); err == nil {
		t.Fatal("expected write to be denied")
	}
	ino.AllowWrite()
	if _, err := ino.WriteAt([]byte("x"), 0); err != nil {
		t.Fatalf("expected write to succeed after allow: %v", err)
	}
	ino.Close()
}

func TestRemoveErasesOnLastClose(t *testing.T) {
	fs := newTestFS(t, 512)
	ino := fs.Create(1, KindFile)
	ino.WriteAt([]byte("y"), 70000) // index 136, inside the singly-indirect block
	before := fs.Data.InUse()
	ino.Remove()
	ino.Close()
	if fs.Data.InUse() >= before {
		t.Fatalf("expected sectors freed on erase, before=%d after=%d", before, fs.Data.InUse())
	}
}

func TestStatReflectsInumberKindAndSize(t *testing.T) {
	fs := newTestFS(t, 512)
	ino := fs.Create(1, KindFile)
	ino.WriteAt([]byte("hello"), 0)

	var st StatT
	ino.Stat(&st)
	if st.Ino() != 1 {
		t.Fatalf("Ino() = %d, want 1", st.Ino())
	}
	if st.Kind() != KindFile {
		t.Fatalf("Kind() = %v, want KindFile", st.Kind())
	}
	if st.Size() != 5 {
		t.Fatalf("Size() = %d, want 5", st.Size())
	}
	ino.Close()
}

func TestIndirectPathBoundaries(t *testing.T) {
	cases := []struct {
		idx      uint32
		wantLen  int
		wantHead int
	}{
		{0, 1, 0},
		{122, 1, 122},
		{123, 2, singlyIdx},
		{250, 2, singlyIdx},
		{251, 3, doublyIdx},
	}
	for _, c := range cases {
		p := computePath(c.idx)
		if len(p.steps) != c.wantLen || p.steps[0] != c.wantHead {
			t.Errorf("computePath(%d) = %v, want len %d head %d", c.idx, p.steps, c.wantLen, c.wantHead)
		}
	}
}
