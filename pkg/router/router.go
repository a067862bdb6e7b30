// Package router classifies inbound message events against the active
// conversation and the local user: append to the active view, notify a
// background conversation (auto-discovering unknown senders), hold until
// the sender becomes resolvable, or discard.
package router

import (
	"sync"

	"github.com/mulyachat/mulyachat/pkg/directory"
	"github.com/mulyachat/mulyachat/pkg/logger"
	"github.com/mulyachat/mulyachat/pkg/wire"
)

// Disposition is the outcome of routing one inbound message.
type Disposition int

const (
	// DispositionActive appends the message to the active view.
	DispositionActive Disposition = iota
	// DispositionNotify recorded an unread for a non-active conversation.
	DispositionNotify
	// DispositionHeld deferred the message because its sender cannot be
	// resolved yet; it is retried when the user directory refreshes.
	DispositionHeld
	// DispositionDiscard dropped the message as out of scope for this
	// client's view.
	DispositionDiscard
)

// Active identifies the conversation currently selected for display.
// The zero value is the broadcast conversation.
type Active struct {
	Direct bool
	PeerID string
}

// Resolver looks a user id up in the (cached) user directory.
type Resolver func(userID string) (wire.User, bool)

// Router routes inbound messages. Held messages are bounded only by the
// set of distinct unresolvable senders observed, which in practice is the
// backlog of one directory refresh.
type Router struct {
	localUser string
	dir       *directory.Directory
	resolve   Resolver

	mu   sync.Mutex
	held []wire.Message
}

// New creates a router for the logged-in user.
func New(localUser string, dir *directory.Directory, resolve Resolver) *Router {
	return &Router{localUser: localUser, dir: dir, resolve: resolve}
}

// Route decides the disposition of one inbound message, applying the
// directory and unread side effects for notification-worthy messages.
//
// Priority order: active broadcast view, active direct view (either
// direction), notification for the local user, discard.
func (r *Router) Route(msg wire.Message, active Active) Disposition {
	if !msg.IsDirect() {
		if !active.Direct {
			return DispositionActive
		}
		return DispositionDiscard
	}

	if active.Direct && msg.SamePair(active.PeerID, r.localUser) {
		return DispositionActive
	}

	if msg.RecipientID == r.localUser && msg.SenderID != r.localUser {
		return r.notify(msg)
	}

	return DispositionDiscard
}

func (r *Router) notify(msg wire.Message) Disposition {
	if !r.dir.Contains(msg.SenderID) {
		user, ok := r.resolve(msg.SenderID)
		if !ok {
			// The sender is not in the user directory yet. Hold the
			// message rather than dropping it; RetryHeld re-routes it
			// after the next directory refresh.
			r.mu.Lock()
			r.held = append(r.held, msg)
			r.mu.Unlock()
			logger.DebugCF("router", "Holding message from unresolvable sender",
				map[string]any{"sender_id": msg.SenderID})
			return DispositionHeld
		}
		if _, err := r.dir.Add(user); err != nil {
			logger.WarnCF("router", "Directory persist failed", map[string]any{
				"peer_id": user.ID, "error": err.Error(),
			})
		}
	}

	r.dir.IncrementUnread(msg.SenderID)
	return DispositionNotify
}

// RetryHeld re-routes every held message against the current active
// conversation. Call after the user directory cache refreshes. Returns the
// messages that resolved into the active view, in arrival order.
func (r *Router) RetryHeld(active Active) []wire.Message {
	r.mu.Lock()
	pending := r.held
	r.held = nil
	r.mu.Unlock()

	var appended []wire.Message
	for _, msg := range pending {
		if r.Route(msg, active) == DispositionActive {
			appended = append(appended, msg)
		}
	}
	return appended
}

// HeldCount reports how many messages are deferred.
func (r *Router) HeldCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.held)
}
