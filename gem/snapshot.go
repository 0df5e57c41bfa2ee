package gem

import (
	"time"

	"github.com/arloliu/go-secs/secs2"
	"github.com/puzpuzpuz/xsync/v3"
)

// EventSnapshot holds the variable values captured when an event fired.
// Snapshots are a bounded-lifetime cache, never an authoritative store.
type EventSnapshot struct {
	EventID    uint32
	CapturedAt time.Time
	Values     map[uint32]secs2.Item
}

// snapshotCache maps event ids to their most recent capture. Entries expire
// after the configured TTL; expiry is enforced opportunistically on access
// and by a periodic sweep, neither of which needs to be precise.
type snapshotCache struct {
	entries *xsync.MapOf[uint32, *EventSnapshot]
	ttl     time.Duration
}

func newSnapshotCache(ttl time.Duration) *snapshotCache {
	return &snapshotCache{
		entries: xsync.NewMapOf[uint32, *EventSnapshot](),
		ttl:     ttl,
	}
}

// get returns the snapshot for ceid if one exists and is still fresh.
// An expired entry is purged on the way out.
func (c *snapshotCache) get(ceid uint32) (*EventSnapshot, bool) {
	snap, ok := c.entries.Load(ceid)
	if !ok {
		return nil, false
	}
	if time.Since(snap.CapturedAt) > c.ttl {
		c.entries.Delete(ceid)
		return nil, false
	}
	return snap, true
}

// put stores a freshly captured snapshot.
func (c *snapshotCache) put(snap *EventSnapshot) {
	c.entries.Store(snap.EventID, snap)
}

// sweep purges all expired entries and returns how many were removed.
func (c *snapshotCache) sweep() int {
	removed := 0
	now := time.Now()
	c.entries.Range(func(ceid uint32, snap *EventSnapshot) bool {
		if now.Sub(snap.CapturedAt) > c.ttl {
			c.entries.Delete(ceid)
			removed++
		}
		return true
	})
	return removed
}
