// Command mkcore formats a filesystem and swap image and runs a demo
// page-fault-driven workload against the storage/memory/paging core:
// it writes a file large enough to span the inode's indirect blocks,
// links it into a tiny supplemental page table as a lazily-loaded ELF
// segment, pins and faults pages in through kcore/uaccess, forces
// eviction with an undersized frame pool, and reports cache/frame/swap
// activity through kcore/metrics.
//
// Grounded on biscuit's mkfs/ufs command-line tools (biscuit's
// mkfs.go walks a host directory tree into a fresh image; this keeps
// that CLI shape but drops directory entries and a log, which are
// outside this module's scope).
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kcore/cache"
	"kcore/config"
	"kcore/defs"
	"kcore/disk"
	"kcore/frame"
	"kcore/inode"
	"kcore/mem"
	"kcore/metrics"
	"kcore/pagetable"
	"kcore/spt"
	"kcore/swap"
	"kcore/uaccess"
)

func main() {
	cfgPath := flag.String("config", "", "path to a YAML config file (optional; defaults used otherwise)")
	flag.Parse()

	cfg := config.Default()
	if *cfgPath != "" {
		var err error
		cfg, err = config.Load(*cfgPath)
		if err != nil {
			log.Fatalf("mkcore: %v", err)
		}
	}

	if cfg.MetricsAddr != "" {
		reg := metrics.Registry()
		http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			log.Printf("mkcore: serving metrics on %s", cfg.MetricsAddr)
			log.Println(http.ListenAndServe(cfg.MetricsAddr, nil))
		}()
	}

	if err := run(cfg); err != nil {
		log.Fatalf("mkcore: %v", err)
	}
}

func run(cfg config.Config) error {
	fsDev, err := disk.OpenFile(cfg.FSImage, cfg.FSSectors, true)
	if err != nil {
		return err
	}
	defer fsDev.Close()

	swapDev, err := disk.OpenFile(cfg.SwapImage, cfg.SwapPages*defs.SectorsPerPage, true)
	if err != nil {
		return err
	}
	defer swapDev.Close()

	var opts []cache.Option
	if cfg.Readahead {
		opts = append(opts, cache.WithReadahead(32, 4))
	}
	if cfg.FlushCron != "" {
		opts = append(opts, cache.WithPeriodicFlush(cfg.FlushCron))
	}
	c := cache.New(fsDev, cfg.CacheSize, opts...)
	defer c.Close()

	// sector 1 is the demo file's inode; inodes 1..8 are reserved,
	// sectors 10.. are data.
	fs := inode.NewFS(c, inode.NewFreeMap(1, 8), inode.NewFreeMap(10, cfg.FSSectors-10))
	file := fs.Create(1, inode.KindFile)

	payload := demoPayload()
	if _, err := file.WriteAt(payload, 0); err != nil {
		return err
	}

	var st inode.StatT
	file.Stat(&st)
	log.Printf("mkcore: wrote demo file, inumber=%d kind=%v length=%d", st.Ino(), st.Kind(), st.Size())

	sw := swap.New(swapDev)
	alloc := mem.NewSimAllocator(cfg.Frames)
	ft := frame.New(alloc)
	pt := pagetable.New()
	spTable := spt.New(ft, pt, sw, alloc)

	npages := (uint32(len(payload)) + defs.PageSize - 1) / defs.PageSize
	for i := uint32(0); i < npages; i++ {
		va := uint32(0x08048000) + i*defs.PageSize
		ofs := i * defs.PageSize
		rb := defs.PageSize
		if ofs+defs.PageSize > uint32(len(payload)) {
			rb = int(uint32(len(payload)) - ofs)
		}
		spTable.LinkElf(va, file, ofs, uint32(rb), defs.PageSize-uint32(rb), true)
	}

	esp := uint32(defs.PhysBase - 4096)
	for i := uint32(0); i < npages; i++ {
		va := uint32(0x08048000) + i*defs.PageSize
		pinned, err := uaccess.Pin(spTable, va, 16, false, esp)
		if err != nil {
			return fmt.Errorf("mkcore: pin page %d: %w", i, err)
		}
		pinned.Unpin()
	}

	c.Flush()
	stats := c.Stats()
	log.Printf("mkcore: cache stats hits=%d misses=%d evictions=%d flushes=%d",
		stats.Hits, stats.Misses, stats.Evictions, stats.Flushes)
	log.Printf("mkcore: disk stats: %s", fsDev.Stats())

	file.Close()
	return nil
}

// demoPayload returns a buffer large enough to force the inode layer's
// singly-indirect block into play, so the demo workload exercises more
// than the direct pointer range.
func demoPayload() []byte {
	n := (inode.MaxSize / 4)
	if n > 256*1024 {
		n = 256 * 1024
	}
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(i)
	}
	return buf
}
