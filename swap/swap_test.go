package swap

import (
	"bytes"
	"os"
	"testing"

	"kcore/defs"
	"kcore/disk"
)

func newTestDevice(t *testing.T, pages uint32) *Device {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "kcore-swap-*")
	if err != nil {
		t.Fatal(err)
	}
	path := f.Name()
	f.Close()
	dev, err := disk.OpenFile(path, pages*defs.SectorsPerPage, true)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { dev.Close() })
	return New(dev)
}

func TestDumpLoadRoundTrip(t *testing.T) {
	d := newTestDevice(t, 4)
	page := bytes.Repeat([]byte{0xab}, defs.PageSize)
	slot := d.Dump(page)

	out := make([]byte, defs.PageSize)
	d.Load(slot, out)
	if !bytes.Equal(page, out) {
		t.Fatal("round trip mismatch")
	}
}

func TestLoadOfFreeSlotPanics(t *testing.T) {
	d := newTestDevice(t, 2)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	d.Load(0, make([]byte, defs.PageSize))
}

func TestFullSwapPanics(t *testing.T) {
	d := newTestDevice(t, 1)
	page := make([]byte, defs.PageSize)
	d.Dump(page)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on full swap")
		}
	}()
	d.Dump(page)
}
