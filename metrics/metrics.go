// Package metrics exposes the storage/memory/paging core's internal
// counters through github.com/prometheus/client_golang, generalizing
// biscuit's stats package (an atomic Counter_t/Cycles_t pair
// activated by the Stats/Timing build flags and surfaced only via
// Stats2String) into something a real monitoring stack can scrape.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// CacheHits counts Cache.Lock calls that found the sector already
	// resident.
	CacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kcore_cache_hits_total",
		Help: "Block cache lookups that found the sector already resident.",
	})
	// CacheMisses counts Cache.Lock calls that bound a free or
	// newly-evicted entry to the sector.
	CacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kcore_cache_misses_total",
		Help: "Block cache lookups that required binding a new entry.",
	})
	// CacheEvictions counts clock-sweep evictions.
	CacheEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kcore_cache_evictions_total",
		Help: "Block cache buffers reclaimed by the clock sweep.",
	})
	// FramesInUse gauges the number of occupied physical frames.
	FramesInUse = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kcore_frames_in_use",
		Help: "Physical frames currently owned by a frame table entry.",
	})
	// FrameEvictions counts second-chance frame evictions.
	FrameEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kcore_frame_evictions_total",
		Help: "Frame table second-chance evictions.",
	})
	// SwapSlotsInUse gauges swap bitmap occupancy.
	SwapSlotsInUse = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kcore_swap_slots_in_use",
		Help: "Swap bitmap slots currently allocated.",
	})
)

// Registry bundles every collector above for a caller that wants to
// expose them on its own /metrics handler (cmd/mkcore does this); tests
// use the package-level vars directly and never register them, which is
// fine: an unregistered collector still tracks Inc/Set/Dec calls.
func Registry() *prometheus.Registry {
	r := prometheus.NewRegistry()
	r.MustRegister(CacheHits, CacheMisses, CacheEvictions, FramesInUse, FrameEvictions, SwapSlotsInUse)
	return r
}
