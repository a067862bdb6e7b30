// Package presence tracks which participants are currently online, merging
// periodic full snapshots with incremental online/offline deltas.
package presence

import (
	"sort"
	"sync"

	"github.com/mulyachat/mulyachat/pkg/wire"
)

// Tracker owns the online set. Snapshot and delta application are each
// atomic; readers never observe a partially-applied snapshot.
type Tracker struct {
	mu     sync.RWMutex
	online map[string]struct{}

	// onChange, when set, fires after every effective mutation with a
	// snapshot copy of the online set.
	onChange func([]string)
}

func NewTracker() *Tracker {
	return &Tracker{online: make(map[string]struct{})}
}

// SetOnChange registers a callback invoked with the new online set after
// every change. The slice is sorted and owned by the callback.
func (t *Tracker) SetOnChange(fn func([]string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onChange = fn
}

// ApplySnapshot replaces the online set with a full snapshot. A failed
// snapshot fetch must simply not call this; the set is left unchanged.
func (t *Tracker) ApplySnapshot(ids []string) {
	t.mu.Lock()
	next := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		next[id] = struct{}{}
	}
	t.online = next
	fn, snapshot := t.onChange, t.snapshotLocked()
	t.mu.Unlock()

	if fn != nil {
		fn(snapshot)
	}
}

// ApplyEvent applies one incremental delta. Last writer for a given id
// wins.
func (t *Tracker) ApplyEvent(ev wire.PresenceEvent) {
	t.mu.Lock()
	_, present := t.online[ev.UserID]
	changed := ev.Online != present
	if ev.Online {
		t.online[ev.UserID] = struct{}{}
	} else {
		delete(t.online, ev.UserID)
	}
	fn, snapshot := t.onChange, t.snapshotLocked()
	t.mu.Unlock()

	if changed && fn != nil {
		fn(snapshot)
	}
}

// IsOnline reports whether the given participant is currently online.
func (t *Tracker) IsOnline(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.online[userID]
	return ok
}

// Online returns a sorted copy of the online set.
func (t *Tracker) Online() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() []string {
	out := make([]string, 0, len(t.online))
	for id := range t.online {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
