package router

import (
	"testing"

	"github.com/mulyachat/mulyachat/pkg/directory"
	"github.com/mulyachat/mulyachat/pkg/wire"
)

func newTestRouter(t *testing.T, localUser string, known map[string]wire.User) (*Router, *directory.Directory) {
	t.Helper()
	dir, err := directory.Open(localUser, directory.NewMemStore())
	if err != nil {
		t.Fatalf("open directory: %v", err)
	}
	r := New(localUser, dir, func(id string) (wire.User, bool) {
		u, ok := known[id]
		return u, ok
	})
	return r, dir
}

func broadcast(sender string) wire.Message {
	return wire.Message{SenderID: sender, Content: "hi", MessageType: wire.MessageText}
}

func direct(sender, recipient string) wire.Message {
	return wire.Message{SenderID: sender, RecipientID: recipient, Content: "hi", MessageType: wire.MessageText}
}

func TestRoute_BroadcastToActiveBroadcast(t *testing.T) {
	r, _ := newTestRouter(t, "me", nil)
	if got := r.Route(broadcast("u2"), Active{}); got != DispositionActive {
		t.Errorf("disposition: got %v, want active", got)
	}
}

func TestRoute_BroadcastWhileDirectActive(t *testing.T) {
	r, _ := newTestRouter(t, "me", nil)
	if got := r.Route(broadcast("u2"), Active{Direct: true, PeerID: "u2"}); got != DispositionDiscard {
		t.Errorf("disposition: got %v, want discard", got)
	}
}

func TestRoute_ActiveDirectBothDirections(t *testing.T) {
	r, _ := newTestRouter(t, "me", map[string]wire.User{"u2": {ID: "u2", Name: "Bob"}})
	active := Active{Direct: true, PeerID: "u2"}

	if got := r.Route(direct("u2", "me"), active); got != DispositionActive {
		t.Errorf("inbound: got %v, want active", got)
	}
	// Own echoed message for the same pair lands in the active view too.
	if got := r.Route(direct("me", "u2"), active); got != DispositionActive {
		t.Errorf("echo: got %v, want active", got)
	}
}

func TestRoute_NotifyIncrementsUnread(t *testing.T) {
	r, dir := newTestRouter(t, "me", map[string]wire.User{"u2": {ID: "u2", Name: "Bob"}})

	if got := r.Route(direct("u2", "me"), Active{}); got != DispositionNotify {
		t.Fatalf("disposition: got %v, want notify", got)
	}
	if n := dir.UnreadFor("u2"); n != 1 {
		t.Errorf("unread: got %d, want 1", n)
	}
}

func TestRoute_NotifyAutoDiscoversSender(t *testing.T) {
	r, dir := newTestRouter(t, "me", map[string]wire.User{"u9": {ID: "u9", Name: "Nina"}})

	if dir.Contains("u9") {
		t.Fatal("precondition: u9 must be unknown")
	}
	if got := r.Route(direct("u9", "me"), Active{}); got != DispositionNotify {
		t.Fatalf("disposition: got %v, want notify", got)
	}
	if !dir.Contains("u9") {
		t.Error("sender must be auto-added to the directory")
	}
	entries := dir.Entries()
	if len(entries) != 1 || entries[0].PeerName != "Nina" {
		t.Errorf("entries: got %v", entries)
	}
}

func TestRoute_UnresolvableSenderHeldThenRetried(t *testing.T) {
	known := map[string]wire.User{}
	r, dir := newTestRouter(t, "me", known)

	msg := direct("ghost", "me")
	if got := r.Route(msg, Active{}); got != DispositionHeld {
		t.Fatalf("disposition: got %v, want held", got)
	}
	if r.HeldCount() != 1 {
		t.Fatalf("held count: got %d, want 1", r.HeldCount())
	}
	if dir.UnreadFor("ghost") != 0 {
		t.Error("held message must not count as unread yet")
	}

	// Directory refresh makes the sender resolvable.
	known["ghost"] = wire.User{ID: "ghost", Name: "Ghost"}
	appended := r.RetryHeld(Active{})
	if len(appended) != 0 {
		t.Errorf("retry into background conversation must not append, got %v", appended)
	}
	if r.HeldCount() != 0 {
		t.Errorf("held count after retry: got %d, want 0", r.HeldCount())
	}
	if dir.UnreadFor("ghost") != 1 {
		t.Errorf("unread after retry: got %d, want 1", dir.UnreadFor("ghost"))
	}
	if !dir.Contains("ghost") {
		t.Error("retry must auto-discover the sender")
	}
}

func TestRetryHeld_AppendsWhenConversationNowActive(t *testing.T) {
	known := map[string]wire.User{}
	r, _ := newTestRouter(t, "me", known)

	r.Route(direct("ghost", "me"), Active{})
	known["ghost"] = wire.User{ID: "ghost", Name: "Ghost"}

	appended := r.RetryHeld(Active{Direct: true, PeerID: "ghost"})
	if len(appended) != 1 || appended[0].SenderID != "ghost" {
		t.Errorf("appended: got %v, want the held message", appended)
	}
}

func TestRoute_DiscardsForeignDirect(t *testing.T) {
	r, dir := newTestRouter(t, "me", map[string]wire.User{"u2": {ID: "u2"}, "u3": {ID: "u3"}})

	if got := r.Route(direct("u2", "u3"), Active{}); got != DispositionDiscard {
		t.Errorf("foreign pair: got %v, want discard", got)
	}
	if got := r.Route(direct("me", "u2"), Active{}); got != DispositionDiscard {
		t.Errorf("own outbound in background: got %v, want discard", got)
	}
	if len(dir.Unread()) != 0 {
		t.Errorf("unread must stay empty, got %v", dir.Unread())
	}
}

// Mirrors the background-message flow: a direct message arrives while the
// broadcast view is active, the unread count rises, and opening the
// conversation clears it before new routing resumes.
func TestRoute_UnreadLifecycle(t *testing.T) {
	r, dir := newTestRouter(t, "me", map[string]wire.User{"u2": {ID: "u2", Name: "Bob"}})

	if n := dir.UnreadFor("u2"); n != 0 {
		t.Fatalf("initial unread: got %d", n)
	}
	r.Route(direct("u2", "me"), Active{})
	if n := dir.UnreadFor("u2"); n != 1 {
		t.Fatalf("after background message: got %d, want 1", n)
	}

	dir.ClearUnread("u2")
	active := Active{Direct: true, PeerID: "u2"}
	if got := r.Route(direct("u2", "me"), active); got != DispositionActive {
		t.Fatalf("active routing: got %v", got)
	}
	if n := dir.UnreadFor("u2"); n != 0 {
		t.Errorf("active conversation must not accumulate unread, got %d", n)
	}
}
