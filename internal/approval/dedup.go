package approval

import "time"

// dedupEntry maps a fingerprint to the pending request collecting its
// duplicates.
type dedupEntry struct {
	requestID string
	addedAt   time.Time
}

// dedupIndex collapses near-simultaneous identical submissions into one
// pending request. Entries expire after the window. Not safe for concurrent
// use; the registry serializes access.
type dedupIndex struct {
	window  time.Duration
	entries map[string]dedupEntry
}

func newDedupIndex(window time.Duration) *dedupIndex {
	return &dedupIndex{
		window:  window,
		entries: make(map[string]dedupEntry),
	}
}

// lookup returns the request ID recorded for fp if it is still inside the
// dedup window. Expired entries are dropped on sight.
func (d *dedupIndex) lookup(fp string, now time.Time) (string, bool) {
	entry, ok := d.entries[fp]
	if !ok {
		return "", false
	}
	if now.Sub(entry.addedAt) > d.window {
		delete(d.entries, fp)
		return "", false
	}
	return entry.requestID, true
}

func (d *dedupIndex) put(fp, requestID string, now time.Time) {
	d.entries[fp] = dedupEntry{requestID: requestID, addedAt: now}
}

// remove drops the entry for fp if it still points at requestID. A newer
// request may have reclaimed the fingerprint after the original expired.
func (d *dedupIndex) remove(fp, requestID string) {
	if entry, ok := d.entries[fp]; ok && entry.requestID == requestID {
		delete(d.entries, fp)
	}
}

// evict drops all entries older than the window.
func (d *dedupIndex) evict(now time.Time) {
	for fp, entry := range d.entries {
		if now.Sub(entry.addedAt) > d.window {
			delete(d.entries, fp)
		}
	}
}
