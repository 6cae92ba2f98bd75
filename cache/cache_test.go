package cache

import (
	"os"
	"sync"
	"testing"
	"time"

	"kcore/defs"
	"kcore/disk"
)

func tempDevice(t *testing.T, nsectors uint32) disk.Device {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "kcore-disk-*")
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
	return dev
}

func TestReadWriteRoundTrip(t *testing.T) {
	dev := tempDevice(t, 16)
	c := New(dev, 4)

	h := c.Lock(3, EX)
	buf := h.Read()
	copy(buf, []byte("hello"))
	h.Dirty()
	h.Unlock()

	c.Flush() // Free drops the binding without writing it back
	c.Free(3) // not idle-blocking since nobody holds it

	h2 := c.Lock(3, SH)
	got := h2.Read()
	h2.Unlock()
	if string(got[:5]) != "hello" {
		t.Fatalf("got %q", got[:5])
	}
}

func TestDirtyPanicsWithoutRead(t *testing.T) {
	dev := tempDevice(t, 4)
	c := New(dev, 2)
	h := c.Lock(0, EX)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
		h.Unlock()
	}()
	h.Dirty()
}

func TestEvictionWritesBackDirty(t *testing.T) {
	dev := tempDevice(t, 8)
	c := New(dev, 2) // force eviction with only two slots

	for i := uint32(0); i < 2; i++ {
		h := c.Lock(i, EX)
		buf := h.Read()
		buf[0] = byte(i + 1)
		h.Dirty()
		h.Unlock()
	}
	// third sector forces an eviction of one of the first two
	h := c.Lock(2, EX)
	h.Read()
	h.Dirty()
	h.Unlock()

	if dev.(*disk.FileDevice).Stats() == "" {
		t.Fatal("expected stats string")
	}
	// the clock hand starts at entry 0, so sector 0 is the victim
	got := make([]byte, defs.SectorSize)
	if err := dev.ReadSector(0, got); err != nil {
		t.Fatal(err)
	}
	if got[0] != 1 {
		t.Fatalf("evicted sector 0 not written back: first byte %d, want 1", got[0])
	}
}

func TestConcurrentReadersExcludeWriter(t *testing.T) {
	dev := tempDevice(t, 4)
	c := New(dev, 2)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h := c.Lock(0, SH)
			h.Read()
			h.Unlock()
		}()
	}
	wg.Wait()

	r := c.Lock(0, SH)
	acquired := make(chan struct{})
	go func() {
		w := c.Lock(0, EX)
		close(acquired)
		w.Unlock()
	}()
	select {
	case <-acquired:
		t.Fatal("writer acquired the buffer while a reader held it")
	case <-time.After(50 * time.Millisecond):
	}
	r.Unlock()
	<-acquired

	h := c.Lock(0, EX)
	h.Read()
	h.Dirty()
	h.Unlock()
}

func TestFlushClearsDirty(t *testing.T) {
	dev := tempDevice(t, 4)
	c := New(dev, 2)
	h := c.Lock(1, EX)
	h.Read()
	h.Dirty()
	h.Unlock()

	c.Flush()
	if c.Stats().Flushes == 0 {
		t.Fatal("expected at least one flush")
	}
	c.Flush()
	if got := c.Stats().Flushes; got != 1 {
		t.Fatalf("second flush rewrote a buffer: Flushes = %d, want 1", got)
	}
}

func TestLockInvalidSectorPanics(t *testing.T) {
	dev := tempDevice(t, 4)
	c := New(dev, 2)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	c.Lock(defs.InvalidSector, SH)
}
