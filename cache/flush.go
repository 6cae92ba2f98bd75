package cache

import "github.com/robfig/cron/v3"

// periodicFlush schedules Cache.Flush on a cron spec, generalizing
// biscuit's periodic writeback timer (a single flush goroutine on a
// fixed tick): robfig/cron lets an operator pick a schedule instead of
// a hardcoded interval.
type periodicFlush struct {
	c   *Cache
	cr  *cron.Cron
}

func newPeriodicFlush(c *Cache, spec string) *periodicFlush {
	cr := cron.New()
	pf := &periodicFlush{c: c, cr: cr}
	if _, err := cr.AddFunc(spec, func() { c.Flush() }); err != nil {
		panic("cache: invalid periodic flush schedule " + spec + ": " + err.Error())
	}
	cr.Start()
	return pf
}

func (pf *periodicFlush) stop() {
	ctx := pf.cr.Stop()
	<-ctx.Done()
}
