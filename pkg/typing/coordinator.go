// Package typing implements the two halves of the typing-indicator state
// machine: the sender-side keystroke debounce and the receiver-side set of
// remote typers with freshness expiry.
package typing

import (
	"sync"
	"time"

	"github.com/mulyachat/mulyachat/pkg/logger"
	"github.com/mulyachat/mulyachat/pkg/wire"
)

// Sender debounces local keystrokes into typing / stop-typing emissions.
// A single inactivity timer is live at a time, global to the input.
type Sender struct {
	mu    sync.Mutex
	idle  time.Duration
	timer *time.Timer
	emit  func(stop bool)
}

// NewSender creates a sender with the given inactivity window. emit is
// called with stop=false on every keystroke and stop=true when the burst
// ends.
func NewSender(idle time.Duration, emit func(stop bool)) *Sender {
	return &Sender{idle: idle, emit: emit}
}

// Keystroke records one local keystroke: emits a typing signal and
// (re)starts the inactivity timer that will emit the stop signal.
// Emissions happen under the sender lock so they are strictly ordered
// with the timer state.
func (s *Sender) Keystroke() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	// The callback fires only while its own timer is still the live one;
	// a callback that lost the race to a newer keystroke must not clear
	// the fresh timer or emit a stale stop.
	var t *time.Timer
	t = time.AfterFunc(s.idle, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.timer != t {
			return
		}
		s.timer = nil
		s.emit(true)
	})
	s.timer = t
	s.emit(false)
}

// Stop emits a stop-typing signal immediately and cancels the pending
// timer. Called on submit and when the input is cleared.
func (s *Sender) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.emit(true)
}

// Cancel drops the pending timer without emitting anything. Called on
// conversation switch and teardown.
func (s *Sender) Cancel() {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
}

type typerEntry struct {
	name string
	gen  uint64
}

// Receiver maintains the set of remote participants currently typing in
// the active conversation. Every entry expires within the freshness window
// unless refreshed, so a lost stop signal can never leave a stuck
// indicator.
type Receiver struct {
	mu        sync.Mutex
	expire    time.Duration
	localUser string
	direct    bool
	peer      string
	typers    map[string]*typerEntry
	nextGen   uint64
	onChange  func(map[string]string)
}

// NewReceiver creates a receiver with the given freshness window.
func NewReceiver(expire time.Duration) *Receiver {
	return &Receiver{
		expire: expire,
		typers: make(map[string]*typerEntry),
	}
}

// SetOnChange registers a callback fired with a copy of the typing set
// after every effective change.
func (r *Receiver) SetOnChange(fn func(map[string]string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = fn
}

// SetLocalUser sets the id whose own signals are ignored.
func (r *Receiver) SetLocalUser(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.localUser = id
}

// SetScope rebinds the receiver to the active conversation and clears any
// typers left over from the previous one.
func (r *Receiver) SetScope(direct bool, peerID string) {
	r.mu.Lock()
	r.direct = direct
	r.peer = peerID
	changed := len(r.typers) > 0
	r.typers = make(map[string]*typerEntry)
	fn, snapshot := r.onChange, r.snapshotLocked()
	r.mu.Unlock()

	if changed && fn != nil {
		fn(snapshot)
	}
}

// HandlePayload decodes one inbound typing payload and applies it.
// Malformed payloads are dropped without affecting the set.
func (r *Receiver) HandlePayload(payload []byte) {
	sig, legacy, err := wire.ParseTypingSignal(payload)
	if err != nil {
		logger.DebugCF("typing", "Dropping malformed typing payload", map[string]any{
			"error": err.Error(),
		})
		return
	}
	r.Apply(sig, legacy)
}

// Apply upserts or removes one typer according to the signal. Signals from
// the local user are ignored, as are signals from non-active peers while a
// direct conversation is open. Legacy signals carry no stop event and rely
// on the expiry timer alone.
func (r *Receiver) Apply(sig wire.TypingSignal, legacy bool) {
	r.mu.Lock()
	if sig.UserID == r.localUser {
		r.mu.Unlock()
		return
	}
	if r.direct && !legacy && sig.UserID != r.peer {
		r.mu.Unlock()
		return
	}

	changed := false
	if sig.IsTyping {
		r.nextGen++
		gen := r.nextGen
		entry, ok := r.typers[sig.UserID]
		if !ok {
			entry = &typerEntry{}
			r.typers[sig.UserID] = entry
			changed = true
		}
		if entry.name != sig.UserName {
			entry.name = sig.UserName
			changed = true
		}
		entry.gen = gen
		userID := sig.UserID
		time.AfterFunc(r.expire, func() {
			r.expireEntry(userID, gen)
		})
	} else if _, ok := r.typers[sig.UserID]; ok {
		delete(r.typers, sig.UserID)
		changed = true
	}

	fn, snapshot := r.onChange, r.snapshotLocked()
	r.mu.Unlock()

	if changed && fn != nil {
		fn(snapshot)
	}
}

// Typers returns a copy of the current typing set (sender id to name).
func (r *Receiver) Typers() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Receiver) expireEntry(userID string, gen uint64) {
	r.mu.Lock()
	entry, ok := r.typers[userID]
	if !ok || entry.gen != gen {
		// Refreshed or already removed since this timer was armed.
		r.mu.Unlock()
		return
	}
	delete(r.typers, userID)
	fn, snapshot := r.onChange, r.snapshotLocked()
	r.mu.Unlock()

	if fn != nil {
		fn(snapshot)
	}
}

func (r *Receiver) snapshotLocked() map[string]string {
	out := make(map[string]string, len(r.typers))
	for id, entry := range r.typers {
		out[id] = entry.name
	}
	return out
}
