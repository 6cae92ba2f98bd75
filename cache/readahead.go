package cache

import (
	"context"
	"log"
	"sync"

	"golang.org/x/sync/semaphore"

	"kcore/circbuf"
)

// readahead is the optional background readahead daemon. Hints land in
// a bounded ring (kcore/circbuf); a single dispatcher goroutine drains
// it and fans work out to a bounded pool of worker slots, so a burst of
// hints can't spawn unbounded goroutines or unbounded disk queue depth.
// Grounded on biscuit's net stack's single-reader-goroutine-plus-
// worker-semaphore shape (ixgbe's RX ring drained by one goroutine,
// work handed off bounded by a fixed descriptor count); here the ring
// holds sector numbers instead of packet descriptors.
type readahead struct {
	c      *Cache
	ring   *circbuf.Ring
	notify chan struct{}
	sem    *semaphore.Weighted
	cancel context.CancelFunc
	done   chan struct{}

	mu sync.Mutex
}

func newReadahead(c *Cache, queueCap, workers int) *readahead {
	if queueCap <= 0 {
		queueCap = 32
	}
	if workers <= 0 {
		workers = 4
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &readahead{
		c:      c,
		ring:   circbuf.NewRing(queueCap),
		notify: make(chan struct{}, 1),
		sem:    semaphore.NewWeighted(int64(workers)),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go r.run(ctx)
	return r
}

// hint enqueues sector for best-effort prefetch; dropped silently if
// the ring is full (readahead is advisory, never load-bearing).
func (r *readahead) hint(sector uint32) {
	r.mu.Lock()
	r.ring.Push(sector)
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

func (r *readahead) run(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.notify:
		}
		for {
			r.mu.Lock()
			sector, ok := r.ring.Pop()
			r.mu.Unlock()
			if !ok {
				break
			}
			if err := r.sem.Acquire(ctx, 1); err != nil {
				return // context cancelled
			}
			go func(sector uint32) {
				defer r.sem.Release(1)
				r.fetch(sector)
			}(sector)
		}
	}
}

// fetch locks and immediately unlocks the sector shared, which is
// enough to pull it into the cache and populate it via Handle.Read; a
// real consumer later calling Lock finds it already up to date.
func (r *readahead) fetch(sector uint32) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("cache: readahead fetch of sector %d failed: %v", sector, rec)
		}
	}()
	h := r.c.Lock(sector, SH)
	h.Read()
	h.Unlock()
}

func (r *readahead) stop() {
	r.cancel()
	<-r.done
}
