package fetchcache

import "time"

// SetClockForTest overrides the cache's time source.
func SetClockForTest(c *Cache, now func() time.Time) {
	c.now = now
}
