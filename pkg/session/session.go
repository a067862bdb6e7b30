// Package session composes the transport, router, typing coordinator,
// presence tracker and conversation directory into the single facade the
// UI collaborator talks to. Commands come in through methods; state
// changes go out as bus events.
package session

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/mulyachat/mulyachat/pkg/api"
	"github.com/mulyachat/mulyachat/pkg/bus"
	"github.com/mulyachat/mulyachat/pkg/config"
	"github.com/mulyachat/mulyachat/pkg/directory"
	"github.com/mulyachat/mulyachat/pkg/logger"
	"github.com/mulyachat/mulyachat/pkg/presence"
	"github.com/mulyachat/mulyachat/pkg/router"
	"github.com/mulyachat/mulyachat/pkg/transport"
	"github.com/mulyachat/mulyachat/pkg/typing"
	"github.com/mulyachat/mulyachat/pkg/wire"
)

// BroadcastID is the well-known identifier of the shared channel.
const BroadcastID = "general"

// MaxUploadBytes caps client-side file uploads.
const MaxUploadBytes = 10 * 1024 * 1024

// Conversation describes a selectable conversation. The zero value is the
// broadcast conversation.
type Conversation struct {
	Direct   bool
	PeerID   string
	PeerName string
}

// Broadcast returns the descriptor of the shared channel.
func Broadcast() Conversation {
	return Conversation{}
}

// Direct returns the descriptor of a direct conversation with a peer.
func Direct(peerID, peerName string) Conversation {
	return Conversation{Direct: true, PeerID: peerID, PeerName: peerName}
}

// ID returns the conversation identifier used for display and logging.
func (c Conversation) ID() string {
	if c.Direct {
		return c.PeerID
	}
	return BroadcastID
}

// Session is the facade. One Session serves one logged-in user; Login
// must complete before any other command.
type Session struct {
	cfg       *config.Config
	apiClient *api.Client
	events    *bus.EventBus
	store     directory.Store
	ts        *transport.Session

	// mu guards the active conversation, the view and the login state.
	// Inbound routing and conversation switches both run under it, so a
	// switch's unread reset can never interleave with an in-flight
	// routing decision.
	mu       sync.Mutex
	userID   string
	active   Conversation
	view     []wire.Message
	fetchSeq uint64
	loggedIn bool

	// usersMu guards the cached user directory separately so the router's
	// resolver can be called while mu is held.
	usersMu sync.Mutex
	users   map[string]wire.User

	dir        *directory.Directory
	route      *router.Router
	typingSend *typing.Sender
	typingRecv *typing.Receiver
	tracker    *presence.Tracker

	cancel context.CancelFunc
}

// New assembles a session from its collaborators. The transport session
// is constructed here so its queue survives reconnects within this login.
func New(cfg *config.Config, apiClient *api.Client, events *bus.EventBus, store directory.Store) *Session {
	s := &Session{
		cfg:       cfg,
		apiClient: apiClient,
		events:    events,
		store:     store,
		users:     make(map[string]wire.User),
		tracker:   presence.NewTracker(),
	}
	s.ts = transport.NewSession(cfg.Server.WSURL,
		transport.WithQueueCap(cfg.Transport.QueueCap),
		transport.WithReconnectDelay(cfg.ReconnectDelay()))
	s.typingSend = typing.NewSender(cfg.TypingIdleStop(), s.emitTyping)
	s.typingRecv = typing.NewReceiver(cfg.TypingExpire())
	return s
}

// Login authenticates the user with the backend, loads the persisted
// conversation directory, connects the transport and selects the
// broadcast conversation.
func (s *Session) Login(ctx context.Context, userID string) error {
	s.mu.Lock()
	if s.loggedIn {
		s.mu.Unlock()
		return fmt.Errorf("session already logged in as %s", s.userID)
	}
	s.userID = userID
	s.loggedIn = true
	s.mu.Unlock()

	if err := s.apiClient.Login(ctx, userID); err != nil {
		s.mu.Lock()
		s.loggedIn = false
		s.mu.Unlock()
		return fmt.Errorf("login %s: %w", userID, err)
	}

	dir, err := directory.Open(userID, s.store)
	if err != nil {
		// A failed store read leaves an empty directory; the session still
		// works, auto-discovery just starts from scratch.
		logger.WarnCF("session", "Directory load failed", map[string]any{
			"user_id": userID, "error": err.Error(),
		})
	}
	s.mu.Lock()
	s.dir = dir
	s.route = router.New(userID, dir, s.resolveUser)
	s.mu.Unlock()

	dir.SetOnUnread(func(unread map[string]int) {
		s.publish(bus.Event{Kind: bus.EventUnreadChanged, Unread: unread})
	})
	s.tracker.SetOnChange(func(online []string) {
		s.publish(bus.Event{Kind: bus.EventPresenceChanged, Online: online})
	})
	s.typingRecv.SetLocalUser(userID)
	s.typingRecv.SetOnChange(func(typers map[string]string) {
		s.publish(bus.Event{Kind: bus.EventTypingSetChanged, Typing: typers})
	})

	s.refreshUsers(ctx)

	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	if err := s.ts.Connect(runCtx, userID, transport.Handlers{
		OnMessage:  s.handleInbound,
		OnTyping:   s.typingRecv.HandlePayload,
		OnPresence: s.tracker.ApplyEvent,
		OnStatus:   s.handleStatus,
	}); err != nil {
		cancel()
		return fmt.Errorf("connect transport: %w", err)
	}

	go s.refreshLoop(runCtx)

	s.SelectConversation(Broadcast())

	logger.InfoCF("session", "Logged in", map[string]any{"user_id": userID})
	return nil
}

// Logout tears the session down. The transport disconnect runs exactly
// once; a later Login on a fresh Session drains anything still queued.
func (s *Session) Logout() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.loggedIn = false
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.typingSend.Cancel()
	s.ts.Disconnect()
	logger.InfoC("session", "Logged out")
}

// SelectConversation activates a conversation: clears the view, resets the
// peer's unread counter, drops stale typing state and issues a history
// fetch whose result is discarded if another switch happens first.
func (s *Session) SelectConversation(conv Conversation) {
	s.mu.Lock()
	if s.dir == nil {
		s.mu.Unlock()
		return
	}
	s.active = conv
	s.view = nil
	s.fetchSeq++
	seq := s.fetchSeq
	// The unread reset happens under the routing lock: an in-flight
	// message routed before the switch has already landed its increment
	// and is cleared here; one routed after the switch sees the
	// conversation as active and never increments. The reset always wins.
	if conv.Direct {
		s.dir.ClearUnread(conv.PeerID)
	}
	s.mu.Unlock()

	s.typingSend.Cancel()
	s.typingRecv.SetScope(conv.Direct, conv.PeerID)
	s.publishView()

	go s.fetchHistory(seq, conv)
}

// SendText submits one text message to the active conversation. A
// stop-typing signal is emitted first, mirroring the input clearing.
func (s *Session) SendText(content string) error {
	s.typingSend.Stop()

	s.mu.Lock()
	msg := wire.Message{
		SenderID:    s.userID,
		Content:     content,
		MessageType: wire.MessageText,
		SentAt:      wire.WireTime{Time: time.Now()},
	}
	if s.active.Direct {
		msg.RecipientID = s.active.PeerID
	}
	s.mu.Unlock()

	return s.ts.Send(wire.DestSendMessage, msg)
}

// SendFile uploads the file content and then submits a FILE-typed message
// referencing it.
func (s *Session) SendFile(ctx context.Context, fileName, fileType string, size int64, content io.Reader) error {
	if size > MaxUploadBytes {
		return fmt.Errorf("file %s exceeds the %d byte limit", fileName, MaxUploadBytes)
	}

	s.mu.Lock()
	userID := s.userID
	recipientID := ""
	if s.active.Direct {
		recipientID = s.active.PeerID
	}
	s.mu.Unlock()

	if _, err := s.apiClient.UploadFile(ctx, fileName, userID, recipientID, content); err != nil {
		return fmt.Errorf("upload %s: %w", fileName, err)
	}

	s.typingSend.Stop()
	msg := wire.Message{
		SenderID:    userID,
		RecipientID: recipientID,
		Content:     "📎 " + fileName,
		MessageType: wire.MessageFile,
		FileName:    fileName,
		FileType:    fileType,
		FileSize:    size,
		SentAt:      wire.WireTime{Time: time.Now()},
	}
	return s.ts.Send(wire.DestSendMessage, msg)
}

// NotifyTyping records one local keystroke in the active conversation.
func (s *Session) NotifyTyping() {
	s.typingSend.Keystroke()
}

// NotifyStopTyping emits an immediate stop-typing signal.
func (s *Session) NotifyStopTyping() {
	s.typingSend.Stop()
}

// ClearUnread resets a peer's unread counter without switching to it.
func (s *Session) ClearUnread(peerID string) {
	if s.dir != nil {
		s.dir.ClearUnread(peerID)
	}
}

// StartConversation adds a peer to the directory (idempotently) and
// activates the conversation with them. This is the explicit search-
// initiated path; auto-discovery uses the same insert.
func (s *Session) StartConversation(peer wire.User) {
	if s.dir == nil {
		return
	}
	if _, err := s.dir.Add(peer); err != nil {
		logger.WarnCF("session", "Directory persist failed", map[string]any{
			"peer_id": peer.ID, "error": err.Error(),
		})
	}
	s.SelectConversation(Direct(peer.ID, peer.Name))
}

// Conversations returns the user's direct-conversation list.
func (s *Session) Conversations() []directory.Entry {
	if s.dir == nil {
		return nil
	}
	return s.dir.Entries()
}

// Users returns the cached user directory.
func (s *Session) Users() []wire.User {
	s.usersMu.Lock()
	defer s.usersMu.Unlock()
	out := make([]wire.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	return out
}

// Online returns the current presence snapshot.
func (s *Session) Online() []string {
	return s.tracker.Online()
}

// Active returns the active conversation descriptor.
func (s *Session) Active() Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Messages returns a copy of the active view.
func (s *Session) Messages() []wire.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]wire.Message, len(s.view))
	copy(out, s.view)
	return out
}

// handleInbound runs on the transport read goroutine; one callback
// completes before the next event is dispatched. The whole routing
// decision, including its directory side effects, runs under mu so a
// concurrent conversation switch is either fully before or fully after
// it.
func (s *Session) handleInbound(msg wire.Message) {
	s.mu.Lock()
	route := s.route
	if route == nil {
		s.mu.Unlock()
		return
	}
	appended := route.Route(msg, s.activeKeyLocked()) == router.DispositionActive
	if appended {
		s.view = append(s.view, msg)
	}
	s.mu.Unlock()

	if appended {
		s.publishView()
	}
}

func (s *Session) handleStatus(state transport.State) {
	s.publish(bus.Event{Kind: bus.EventConnectionChanged, Status: string(state)})
}

// fetchHistory loads the conversation's recent messages. The result is
// dropped when the user has already switched away (seq is stale).
func (s *Session) fetchHistory(seq uint64, conv Conversation) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var history []wire.Message
	var err error
	if conv.Direct {
		history, err = s.apiClient.DirectHistory(ctx, s.userID, conv.PeerID, s.cfg.History.Limit)
	} else {
		history, err = s.apiClient.BroadcastHistory(ctx, s.cfg.History.Limit)
	}
	if err != nil {
		logger.WarnCF("session", "History fetch failed", map[string]any{
			"conversation": conv.ID(), "error": err.Error(),
		})
		return
	}

	s.mu.Lock()
	if s.fetchSeq != seq {
		s.mu.Unlock()
		return
	}
	// Keep messages that arrived live while the fetch was in flight.
	s.view = append(history, s.view...)
	s.mu.Unlock()
	s.publishView()
}

// refreshLoop periodically re-synchronizes the presence snapshot and the
// user directory cache, retrying held messages after each cache refresh.
func (s *Session) refreshLoop(ctx context.Context) {
	s.refreshPresence(ctx)

	ticker := time.NewTicker(s.cfg.PresenceRefresh())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refreshPresence(ctx)
			s.refreshUsers(ctx)
			s.retryHeld()
		}
	}
}

func (s *Session) refreshPresence(ctx context.Context) {
	online, err := s.apiClient.OnlineUsers(ctx)
	if err != nil {
		// Non-fatal; the set stays as-is until the next refresh.
		logger.DebugCF("session", "Presence snapshot failed", map[string]any{
			"error": err.Error(),
		})
		return
	}
	s.tracker.ApplySnapshot(online)
}

func (s *Session) refreshUsers(ctx context.Context) {
	users, err := s.apiClient.ListAllUsers(ctx)
	if err != nil {
		logger.DebugCF("session", "User directory fetch failed", map[string]any{
			"error": err.Error(),
		})
		return
	}
	s.usersMu.Lock()
	s.users = make(map[string]wire.User, len(users))
	for _, u := range users {
		s.users[u.ID] = u
	}
	s.usersMu.Unlock()
}

func (s *Session) retryHeld() {
	s.mu.Lock()
	route := s.route
	if route == nil {
		s.mu.Unlock()
		return
	}
	appended := route.RetryHeld(s.activeKeyLocked())
	if len(appended) > 0 {
		s.view = append(s.view, appended...)
	}
	s.mu.Unlock()

	if len(appended) > 0 {
		s.publishView()
	}
}

func (s *Session) resolveUser(userID string) (wire.User, bool) {
	s.usersMu.Lock()
	defer s.usersMu.Unlock()
	u, ok := s.users[userID]
	return u, ok
}

// emitTyping is the sender-side typing emission, scoped to the active
// conversation at emission time. Typing frames are ephemeral; they are
// never queued across a disconnect.
func (s *Session) emitTyping(stop bool) {
	s.mu.Lock()
	req := wire.TypingRequest{SenderID: s.userID}
	if s.active.Direct {
		req.RecipientID = s.active.PeerID
	}
	s.mu.Unlock()

	dest := wire.DestTyping
	if stop {
		dest = wire.DestStopTyping
	}
	if err := s.ts.SendEphemeral(dest, req); err != nil {
		logger.DebugCF("session", "Typing emission failed", map[string]any{
			"error": err.Error(),
		})
	}
}

func (s *Session) activeKeyLocked() router.Active {
	return router.Active{Direct: s.active.Direct, PeerID: s.active.PeerID}
}

func (s *Session) publishView() {
	s.mu.Lock()
	view := make([]wire.Message, len(s.view))
	copy(view, s.view)
	s.mu.Unlock()
	s.publish(bus.Event{Kind: bus.EventMessagesChanged, Messages: view})
}

// publish never blocks: a stalled UI consumer must not wedge the
// transport read goroutine that most events originate from.
func (s *Session) publish(ev bus.Event) {
	if !s.events.TryPublish(ev) {
		logger.DebugCF("session", "Event dropped", map[string]any{
			"kind": string(ev.Kind),
		})
	}
}
