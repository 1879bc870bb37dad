package engine

import (
	"sync"
	"time"
)

// Key addresses per-rule, per-server tracker state.
// Params: rule identifier and server address.
// Returns: composite map key immune to string concatenation collisions.
type Key struct {
	RuleID string
	Server string
}

// countEntry stores the consecutive-match counter for one key.
// Params: cycles in a row and the map that produced them.
// Returns: counter reset whenever the observed map changes.
type countEntry struct {
	count          int
	lastMatchedMap string
}

// notifyEntry stores the last successful notification for one key.
// Params: notified map value and notification timestamp.
// Returns: cooldown and dedup inputs, survives Clear.
type notifyEntry struct {
	lastNotifiedMap string
	lastNotifiedAt  time.Time
}

// Tracker keeps in-memory match state across cycles.
// Params: injected clock and per-key counter/notify/seen maps.
// Returns: state store exclusively owned by the engine.
//
// Counters, notifications, and previous-seen values live in separate maps:
// Clear drops only the counter so a later match restarts at 1 while the
// notification history still drives cooldown and duplicate suppression.
type Tracker struct {
	mu       sync.Mutex
	now      func() time.Time
	counts   map[Key]countEntry
	notified map[Key]notifyEntry
	seen     map[Key]string
}

// NewTracker creates an empty tracker.
// Params: now function (defaults to time.Now when nil).
// Returns: initialized tracker.
func NewTracker(now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		now:      now,
		counts:   make(map[Key]countEntry),
		notified: make(map[Key]notifyEntry),
		seen:     make(map[Key]string),
	}
}

// RecordObservation feeds one matching map into the consecutive counter.
// Params: tracker key and currently observed map.
// Returns: new consecutive count (1 on map change or first sighting).
func (t *Tracker) RecordObservation(key Key, mapName string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.counts[key]
	if !ok || entry.lastMatchedMap != mapName {
		t.counts[key] = countEntry{count: 1, lastMatchedMap: mapName}
		return 1
	}
	entry.count++
	t.counts[key] = entry
	return entry.count
}

// Clear deletes the consecutive counter when rule conditions do not hold.
// Params: tracker key.
// Returns: counter removed so a future match starts fresh at 1.
func (t *Tracker) Clear(key Key) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.counts, key)
}

// Count reads the current consecutive counter.
// Params: tracker key.
// Returns: count value and presence flag.
func (t *Tracker) Count(key Key) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.counts[key]
	return entry.count, ok
}

// IsCoolingDown reports whether the cooldown window is still open.
// Params: tracker key and rule cooldown duration.
// Returns: true when the last notification is newer than the cooldown.
func (t *Tracker) IsCoolingDown(key Key, cooldown time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.notified[key]
	if !ok {
		return false
	}
	return t.now().Sub(entry.lastNotifiedAt) < cooldown
}

// IsDuplicate reports whether notifying again would repeat an unchanged map.
// Params: tracker key and currently observed map.
// Returns: true when the same map was already notified and no different
// map has been observed since.
func (t *Tracker) IsDuplicate(key Key, currentMap string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.notified[key]
	if !ok {
		return false
	}
	return entry.lastNotifiedMap == currentMap && t.seen[key] == currentMap
}

// MarkNotified records a successful notification for cooldown and dedup.
// Params: tracker key and notified map value.
// Returns: notification entry updated with the current instant.
func (t *Tracker) MarkNotified(key Key, currentMap string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.notified[key] = notifyEntry{lastNotifiedMap: currentMap, lastNotifiedAt: t.now()}
}

// UpdatePreviousSeen stores this cycle's observation for the next dedup read.
// Params: tracker key and currently observed map (empty when offline).
// Returns: previous-seen value replaced unconditionally.
func (t *Tracker) UpdatePreviousSeen(key Key, currentMap string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seen[key] = currentMap
}
