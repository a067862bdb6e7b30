package bus

import "github.com/mulyachat/mulyachat/pkg/wire"

// EventKind identifies which slice of session state changed.
type EventKind string

const (
	EventMessagesChanged   EventKind = "messages_changed"
	EventTypingSetChanged  EventKind = "typing_set_changed"
	EventPresenceChanged   EventKind = "presence_changed"
	EventUnreadChanged     EventKind = "unread_changed"
	EventConnectionChanged EventKind = "connection_changed"
)

// Event is one state-change notification delivered to the UI collaborator.
// Only the fields relevant to the Kind are populated; every slice and map
// is a snapshot copy owned by the receiver.
type Event struct {
	Kind EventKind

	// EventMessagesChanged: the active conversation's full view.
	Messages []wire.Message

	// EventTypingSetChanged: sender id to display name.
	Typing map[string]string

	// EventPresenceChanged: currently-online participant ids.
	Online []string

	// EventUnreadChanged: peer id to unread count.
	Unread map[string]int

	// EventConnectionChanged.
	Status string
}
