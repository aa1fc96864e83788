package approval

import (
	"testing"
	"time"
)

func TestDedupIndex_WindowExpiry(t *testing.T) {
	t.Parallel()

	now := time.Now()
	d := newDedupIndex(30 * time.Second)
	d.put("fp", "req-1", now)

	if id, ok := d.lookup("fp", now.Add(29*time.Second)); !ok || id != "req-1" {
		t.Fatalf("lookup inside window = %q, %v", id, ok)
	}
	if _, ok := d.lookup("fp", now.Add(31*time.Second)); ok {
		t.Fatal("lookup after window should miss")
	}
	// The expired entry was dropped on sight.
	if len(d.entries) != 0 {
		t.Error("expired entry should be removed by lookup")
	}
}

func TestDedupIndex_RemoveOnlyMatchingID(t *testing.T) {
	t.Parallel()

	now := time.Now()
	d := newDedupIndex(30 * time.Second)
	d.put("fp", "req-1", now)

	// A newer request reclaimed the fingerprint; stale removal must not
	// clobber it.
	d.put("fp", "req-2", now.Add(time.Second))
	d.remove("fp", "req-1")
	if id, ok := d.lookup("fp", now.Add(2*time.Second)); !ok || id != "req-2" {
		t.Fatalf("entry clobbered: %q, %v", id, ok)
	}

	d.remove("fp", "req-2")
	if _, ok := d.lookup("fp", now.Add(2*time.Second)); ok {
		t.Fatal("matching removal should delete the entry")
	}
}

func TestDedupIndex_Evict(t *testing.T) {
	t.Parallel()

	now := time.Now()
	d := newDedupIndex(30 * time.Second)
	d.put("old", "req-1", now.Add(-time.Minute))
	d.put("fresh", "req-2", now)

	d.evict(now)
	if _, ok := d.entries["old"]; ok {
		t.Error("old entry should be evicted")
	}
	if _, ok := d.entries["fresh"]; !ok {
		t.Error("fresh entry should survive")
	}
}
