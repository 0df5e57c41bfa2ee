package gem

import (
	"testing"
	"time"

	"github.com/arloliu/go-secs/secs2"
)

func TestSnapshotCacheExpiry(t *testing.T) {
	cache := newSnapshotCache(20 * time.Millisecond)

	cache.put(&EventSnapshot{
		EventID:    11004,
		CapturedAt: time.Now(),
		Values:     map[uint32]secs2.Item{1: secs2.U4(uint64(10))},
	})

	if _, ok := cache.get(11004); !ok {
		t.Fatal("fresh snapshot not served")
	}

	time.Sleep(30 * time.Millisecond)

	if _, ok := cache.get(11004); ok {
		t.Fatal("expired snapshot served")
	}
}

func TestSnapshotCacheSweep(t *testing.T) {
	cache := newSnapshotCache(10 * time.Millisecond)

	cache.put(&EventSnapshot{EventID: 1, CapturedAt: time.Now().Add(-time.Second)})
	cache.put(&EventSnapshot{EventID: 2, CapturedAt: time.Now()})

	if removed := cache.sweep(); removed != 1 {
		t.Fatalf("sweep removed %d entries, want 1", removed)
	}
	if _, ok := cache.get(2); !ok {
		t.Fatal("live snapshot removed by sweep")
	}
}
