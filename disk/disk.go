// Package disk implements a raw block device abstraction
// (block_read/block_write/block_size), plus a file-backed reference
// implementation grounded on biscuit's ahci_disk_t (biscuit's
// ufs/driver.go), which simulates a disk with a host file. biscuit
// serializes all I/O behind one mutex wrapping
// Seek+Read/Write; here, positioned I/O (golang.org/x/sys/unix's Pread/
// Pwrite) lets concurrent requests at different sectors proceed without
// a device-wide lock, which is closer to what a real block device can
// do and is what the cache's per-buffer data lock actually assumes.
package disk

import (
	"fmt"
	"os"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"kcore/defs"
)

// Device is the raw block device collaborator.
type Device interface {
	ReadSector(sector uint32, buf []byte) error
	WriteSector(sector uint32, buf []byte) error
	Flush() error
	NumSectors() uint32
	ID() uuid.UUID
	Stats() string
}

// FileDevice backs a Device with a host file, one sector aligned chunk
// at a time. Safe for concurrent use.
type FileDevice struct {
	f       *os.File
	fd      int
	id      uuid.UUID
	nsector uint32

	reads, writes, flushes atomic.Int64
}

// OpenFile opens (or, with create, creates and sizes) a file as a block
// device of nsectors sectors.
func OpenFile(path string, nsectors uint32, create bool) (*FileDevice, error) {
	flags := os.O_RDWR
	if create {
		flags |= os.O_CREATE
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "disk: open %s", path)
	}
	size := int64(nsectors) * defs.SectorSize
	if create {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, errors.Wrapf(err, "disk: truncate %s", path)
		}
	} else {
		fi, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, errors.Wrap(err, "disk: stat")
		}
		if fi.Size() < size {
			f.Close()
			return nil, errors.Errorf("disk: %s too small for %d sectors", path, nsectors)
		}
	}
	return &FileDevice{f: f, fd: int(f.Fd()), id: uuid.New(), nsector: nsectors}, nil
}

func (d *FileDevice) checkBounds(sector uint32, buf []byte) error {
	if sector == defs.InvalidSector || sector >= d.nsector {
		return errors.Errorf("disk: sector %d out of range [0,%d)", sector, d.nsector)
	}
	if len(buf) != defs.SectorSize {
		return errors.Errorf("disk: buffer must be exactly %d bytes, got %d", defs.SectorSize, len(buf))
	}
	return nil
}

// ReadSector synchronously reads one sector. A host I/O error or short
// read is fatal to the whole kernel image, not a recoverable
// per-caller condition, so it panics; an out-of-range sector or a
// buffer that is not exactly one sector is returned as an error.
func (d *FileDevice) ReadSector(sector uint32, buf []byte) error {
	if err := d.checkBounds(sector, buf); err != nil {
		return err
	}
	off := int64(sector) * defs.SectorSize
	n, err := unix.Pread(d.fd, buf, off)
	if err != nil || n != defs.SectorSize {
		panic(fmt.Sprintf("disk: fatal read error at sector %d: %v", sector, err))
	}
	d.reads.Add(1)
	return nil
}

// WriteSector synchronously writes one sector.
func (d *FileDevice) WriteSector(sector uint32, buf []byte) error {
	if err := d.checkBounds(sector, buf); err != nil {
		return err
	}
	off := int64(sector) * defs.SectorSize
	n, err := unix.Pwrite(d.fd, buf, off)
	if err != nil || n != defs.SectorSize {
		panic(fmt.Sprintf("disk: fatal write error at sector %d: %v", sector, err))
	}
	d.writes.Add(1)
	return nil
}

// Flush forces pending writes to stable storage.
func (d *FileDevice) Flush() error {
	if err := unix.Fdatasync(d.fd); err != nil {
		panic(fmt.Sprintf("disk: fatal flush error: %v", err))
	}
	d.flushes.Add(1)
	return nil
}

func (d *FileDevice) NumSectors() uint32 { return d.nsector }
func (d *FileDevice) ID() uuid.UUID      { return d.id }

func (d *FileDevice) Stats() string {
	return fmt.Sprintf("reads=%d writes=%d flushes=%d sectors=%d",
		d.reads.Load(), d.writes.Load(), d.flushes.Load(), d.nsector)
}

// Close releases the backing file.
func (d *FileDevice) Close() error {
	return d.f.Close()
}
