// Package directory maintains the local user's list of direct
// conversations and the per-peer unread counters. Entries are persisted
// through a Store scoped by the owning user's id; unread counts live only
// for the session.
package directory

import (
	"fmt"
	"sort"
	"sync"

	"github.com/mulyachat/mulyachat/pkg/wire"
)

// Entry is one direct-conversation peer known to the local user.
type Entry struct {
	PeerID   string `json:"userId"`
	PeerName string `json:"userName"`
}

// Store persists directory entries across sessions, namespaced by the
// owning user's id so different logged-in users never see each other's
// conversation lists.
type Store interface {
	Load(ownerID string) ([]Entry, error)
	Save(ownerID string, entries []Entry) error
}

// Directory owns the conversation list and unread counters for one logged
// in user. All mutation goes through its methods.
type Directory struct {
	mu      sync.Mutex
	ownerID string
	store   Store
	entries map[string]Entry
	order   []string
	unread  map[string]int

	onUnread func(map[string]int)
}

// Open loads the persisted conversation list for ownerID. A store read
// failure yields an empty directory rather than an error surface the core
// cannot act on; the failure is reported for logging.
func Open(ownerID string, store Store) (*Directory, error) {
	d := &Directory{
		ownerID: ownerID,
		store:   store,
		entries: make(map[string]Entry),
		unread:  make(map[string]int),
	}

	entries, err := store.Load(ownerID)
	if err != nil {
		return d, fmt.Errorf("load directory for %s: %w", ownerID, err)
	}
	for _, e := range entries {
		if _, ok := d.entries[e.PeerID]; ok {
			continue
		}
		d.entries[e.PeerID] = e
		d.order = append(d.order, e.PeerID)
	}
	return d, nil
}

// SetOnUnread registers a callback fired with a copy of the unread map
// after every change to it.
func (d *Directory) SetOnUnread(fn func(map[string]int)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onUnread = fn
}

// Add inserts a peer. The insert is idempotent by peer id: adding a known
// peer leaves exactly one entry and does not rewrite the store. Returns
// true when the peer was new.
func (d *Directory) Add(peer wire.User) (bool, error) {
	d.mu.Lock()
	if _, ok := d.entries[peer.ID]; ok {
		d.mu.Unlock()
		return false, nil
	}
	d.entries[peer.ID] = Entry{PeerID: peer.ID, PeerName: peer.Name}
	d.order = append(d.order, peer.ID)
	entries := d.entriesLocked()
	ownerID, store := d.ownerID, d.store
	d.mu.Unlock()

	if err := store.Save(ownerID, entries); err != nil {
		return true, fmt.Errorf("persist directory for %s: %w", ownerID, err)
	}
	return true, nil
}

// Contains reports whether the peer is already known.
func (d *Directory) Contains(peerID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.entries[peerID]
	return ok
}

// Entries returns the conversation list in insertion order.
func (d *Directory) Entries() []Entry {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.entriesLocked()
}

// IncrementUnread bumps the unread counter for a peer.
func (d *Directory) IncrementUnread(peerID string) {
	d.mu.Lock()
	d.unread[peerID]++
	fn, snapshot := d.onUnread, d.unreadLocked()
	d.mu.Unlock()

	if fn != nil {
		fn(snapshot)
	}
}

// ClearUnread removes a peer's unread counter. Activating a conversation
// calls this synchronously before any new message for it is routed.
func (d *Directory) ClearUnread(peerID string) {
	d.mu.Lock()
	if _, ok := d.unread[peerID]; !ok {
		d.mu.Unlock()
		return
	}
	delete(d.unread, peerID)
	fn, snapshot := d.onUnread, d.unreadLocked()
	d.mu.Unlock()

	if fn != nil {
		fn(snapshot)
	}
}

// Unread returns a copy of the unread map.
func (d *Directory) Unread() map[string]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.unreadLocked()
}

// UnreadFor returns the unread count for one peer.
func (d *Directory) UnreadFor(peerID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.unread[peerID]
}

func (d *Directory) entriesLocked() []Entry {
	out := make([]Entry, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.entries[id])
	}
	return out
}

func (d *Directory) unreadLocked() map[string]int {
	out := make(map[string]int, len(d.unread))
	for id, n := range d.unread {
		out[id] = n
	}
	return out
}

// SortedPeerIDs returns the known peer ids in lexical order. Mostly a
// convenience for deterministic rendering and tests.
func (d *Directory) SortedPeerIDs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.entries))
	for id := range d.entries {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
