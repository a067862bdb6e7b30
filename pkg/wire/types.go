// Package wire defines the canonical event shapes exchanged with the
// mulyachat backend and normalizes the ambiguous identity shapes found on
// the REST surface into single canonical types. Nothing outside this
// package parses raw payloads.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Broadcast topics and per-user queues, as exposed by the backend.
const (
	TopicGeneral = "/topic/general"
	TopicTyping  = "/topic/typing"
	TopicStatus  = "/topic/status"
)

// Application destinations for outbound frames.
const (
	DestSendMessage = "/app/chat.sendMessage"
	DestTyping      = "/app/chat.typing"
	DestStopTyping  = "/app/chat.stopTyping"
)

// UserQueueMessages returns the private message queue for a user.
func UserQueueMessages(userID string) string {
	return "/user/" + userID + "/queue/messages"
}

// UserQueueTyping returns the private typing queue for a user.
func UserQueueTyping(userID string) string {
	return "/user/" + userID + "/queue/typing"
}

// Frame types on the socket.
const (
	FrameSubscribe = "subscribe"
	FrameSend      = "send"
)

// Frame is the envelope carried on the websocket. Client-to-server frames
// carry a Type, and subscribe frames a client-assigned subscription ID;
// server-to-client frames carry only destination and body.
type Frame struct {
	Type        string          `json:"type,omitempty"`
	ID          string          `json:"id,omitempty"`
	Destination string          `json:"destination"`
	Body        json.RawMessage `json:"body,omitempty"`
}

// Message type tags.
const (
	MessageText = "TEXT"
	MessageFile = "FILE"
)

// Message is one chat message, broadcast or direct. An empty RecipientID
// means broadcast scope.
type Message struct {
	ID          int64    `json:"id,omitempty"`
	SenderID    string   `json:"senderId"`
	SenderName  string   `json:"senderName,omitempty"`
	RecipientID string   `json:"recipientId,omitempty"`
	Content     string   `json:"content"`
	MessageType string   `json:"messageType"`
	FileName    string   `json:"fileName,omitempty"`
	FileType    string   `json:"fileType,omitempty"`
	FileSize    int64    `json:"fileSize,omitempty"`
	SentAt      WireTime `json:"sentAt"`
}

// IsDirect reports whether the message is scoped to a direct conversation.
func (m Message) IsDirect() bool {
	return m.RecipientID != ""
}

// SamePair reports whether the message travels between exactly the two
// given participants, in either direction.
func (m Message) SamePair(a, b string) bool {
	return (m.SenderID == a && m.RecipientID == b) ||
		(m.SenderID == b && m.RecipientID == a)
}

// WireTime is a timestamp that tolerates the backend's two serializations:
// RFC 3339 with zone (client-originated) and a bare local datetime
// (server-persisted LocalDateTime).
type WireTime struct {
	time.Time
}

var wireTimeFormats = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

func (t WireTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

func (t *WireTime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for _, layout := range wireTimeFormats {
		parsed, err := time.Parse(layout, s)
		if err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", s)
}

// TypingSignal is an inbound typing indicator.
type TypingSignal struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	IsTyping bool   `json:"isTyping"`
}

// TypingRequest is the outbound typing / stop-typing payload.
type TypingRequest struct {
	SenderID    string `json:"senderId"`
	RecipientID string `json:"recipientId,omitempty"`
}

// LegacyTypingSender is the synthetic sender id used for typing payloads in
// the legacy plain-string format, which carries no user id.
const LegacyTypingSender = "unknown"

const legacyTypingSuffix = " is typing..."

// ErrMalformedTyping is returned for typing payloads that are neither valid
// JSON nor the legacy plain-string format.
var ErrMalformedTyping = errors.New("malformed typing payload")

// ParseTypingSignal decodes a typing payload. The second return value is
// true when the payload used the legacy "<name> is typing..." format, in
// which case the signal carries the synthetic LegacyTypingSender id and
// must be auto-expired by the receiver since no stop signal will follow.
func ParseTypingSignal(payload []byte) (TypingSignal, bool, error) {
	var sig TypingSignal
	if err := json.Unmarshal(payload, &sig); err == nil && sig.UserID != "" {
		return sig, false, nil
	}

	text := strings.TrimSpace(string(payload))
	// The legacy format may arrive either as raw text or as a JSON-encoded
	// string, depending on the backend path that produced it.
	var quoted string
	if err := json.Unmarshal(payload, &quoted); err == nil {
		text = strings.TrimSpace(quoted)
	}
	if strings.HasSuffix(text, legacyTypingSuffix) {
		return TypingSignal{
			UserID:   LegacyTypingSender,
			UserName: strings.TrimSuffix(text, legacyTypingSuffix),
			IsTyping: true,
		}, true, nil
	}

	return TypingSignal{}, false, ErrMalformedTyping
}

// PresenceEvent is an incremental online/offline delta for one user.
type PresenceEvent struct {
	UserID string `json:"userId"`
	Online bool   `json:"online"`
}

// User is the canonical participant identity. The backend's REST surface
// emits two shapes for the same record ({userId, userName} from the session
// store, {id, name} from the fallback path); UnmarshalJSON collapses both
// so the ambiguity never crosses into the core.
type User struct {
	ID    string
	Name  string
	Email string
}

func (u *User) UnmarshalJSON(data []byte) error {
	var raw struct {
		UserID   string `json:"userId"`
		ID       string `json:"id"`
		UserName string `json:"userName"`
		Name     string `json:"name"`
		Email    string `json:"email"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	u.ID = raw.UserID
	if u.ID == "" {
		u.ID = raw.ID
	}
	u.Name = raw.UserName
	if u.Name == "" {
		u.Name = raw.Name
	}
	u.Email = raw.Email
	if u.ID == "" {
		return errors.New("user record has no id")
	}
	return nil
}

func (u User) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		UserID   string `json:"userId"`
		UserName string `json:"userName"`
		Email    string `json:"email,omitempty"`
	}{u.ID, u.Name, u.Email})
}
