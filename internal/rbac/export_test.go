package rbac

import "time"

// SetInvalidator replaces the cache bumped after writes.
func (s *Service) SetInvalidator(inv Invalidator) {
	s.Catalog.hook.cache = inv
	s.Roles.hook.cache = inv
	s.Assignments.hook.cache = inv
}

// SetClock overrides the cache clock used for expiry-bound TTLs.
func (c *SnapshotCache) SetClock(now func() time.Time) {
	c.now = now
}
