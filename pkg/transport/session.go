// Package transport maintains the logical duplex channel to the mulyachat
// backend over a websocket, abstracting physical reconnects. Outbound
// frames submitted while the channel is down are queued in order and
// drained on the next successful connection.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mulyachat/mulyachat/pkg/logger"
	"github.com/mulyachat/mulyachat/pkg/wire"
)

// State is the session lifecycle state.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateClosed       State = "closed"
)

// Handlers receive inbound events from the session. Each callback runs to
// completion on the session's read goroutine before the next event is
// dispatched; handlers must not block indefinitely.
type Handlers struct {
	// OnMessage receives decoded chat messages from the broadcast topic and
	// the user's private queue.
	OnMessage func(wire.Message)
	// OnTyping receives the raw typing payload; the receiver is responsible
	// for decoding it, including the legacy plain-string format.
	OnTyping func(payload []byte)
	// OnPresence receives incremental online/offline deltas.
	OnPresence func(wire.PresenceEvent)
	// OnStatus is invoked on every lifecycle state transition.
	OnStatus func(State)
}

// Option configures a Session.
type Option func(*Session)

// WithQueueCap bounds the outbound queue. Beyond the cap the oldest frame
// is dropped. Zero means the default of 256.
func WithQueueCap(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.queueCap = n
		}
	}
}

// WithReconnectDelay sets the pause between reconnect attempts.
func WithReconnectDelay(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.reconnectDelay = d
		}
	}
}

// Session owns one logical connection to the backend. The zero lifecycle is
// Idle -> Connecting -> Connected -> Disconnected -> Connecting -> ...,
// terminal only on an explicit Disconnect after which the state is Closed
// and Connect must be called again to reuse the session.
type Session struct {
	url            string
	queueCap       int
	reconnectDelay time.Duration

	mu       sync.Mutex
	state    State
	conn     *websocket.Conn
	userID   string
	handlers Handlers
	queue    []wire.Frame
	cancel   context.CancelFunc
	gen      uint64

	// statusCh serializes status callbacks so transitions are observed in
	// the order they happened.
	statusCh chan State
}

// NewSession creates a session for the given websocket URL. The session is
// Idle until Connect is called.
func NewSession(url string, opts ...Option) *Session {
	s := &Session{
		url:            url,
		queueCap:       256,
		reconnectDelay: 3 * time.Second,
		state:          StateIdle,
		statusCh:       make(chan State, 16),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.notifyStatus(s.statusCh)
	return s
}

// notifyStatus delivers transitions until its channel is closed by
// Disconnect. A session revived by a later Connect gets a fresh channel
// and consumer.
func (s *Session) notifyStatus(ch <-chan State) {
	for state := range ch {
		s.mu.Lock()
		cb := s.handlers.OnStatus
		s.mu.Unlock()
		if cb != nil {
			cb(state)
		}
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect establishes the transport and subscribes to the broadcast,
// typing and presence topics, plus the user-scoped private queues when
// userID is non-empty. Connect is idempotent while a connection attempt is
// live. Subscriptions are re-established on every successful reconnect.
func (s *Session) Connect(ctx context.Context, userID string, handlers Handlers) error {
	s.mu.Lock()
	switch s.state {
	case StateConnecting, StateConnected, StateDisconnected:
		s.mu.Unlock()
		return nil
	}

	s.userID = userID
	s.handlers = handlers
	s.gen++
	gen := s.gen

	if s.statusCh == nil {
		s.statusCh = make(chan State, 16)
		go s.notifyStatus(s.statusCh)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.setStateLocked(StateConnecting)
	s.mu.Unlock()

	go s.run(runCtx, gen)
	return nil
}

// Send serializes one outbound frame. When the channel is not established
// the frame is appended to the outbound queue instead of being dropped;
// the queue is drained in FIFO order on the next successful connection.
func (s *Session) Send(destination string, body any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal outbound body: %w", err)
	}
	frame := wire.Frame{Type: wire.FrameSend, Destination: destination, Body: raw}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateConnected && s.conn != nil {
		if err := s.writeLocked(frame); err == nil {
			return nil
		}
		// Publish failure while nominally connected: fall through to the
		// queue; the read loop will notice the broken connection.
	}

	s.enqueueLocked(frame)
	return nil
}

// SendEphemeral serializes one outbound frame that is only meaningful
// right now (typing indicators). When the channel is down the frame is
// dropped instead of queued; replaying a stale typing signal after a
// reconnect would be worse than losing it.
func (s *Session) SendEphemeral(destination string, body any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal outbound body: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected || s.conn == nil {
		return nil
	}
	_ = s.writeLocked(wire.Frame{Type: wire.FrameSend, Destination: destination, Body: raw})
	return nil
}

// Disconnect tears the session down gracefully. It runs exactly once per
// Connect; further calls are no-ops. After Disconnect, Send still queues
// and a later Connect drains the queue.
func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.conn != nil {
		_ = s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = s.conn.Close()
		s.conn = nil
	}
	s.setStateLocked(StateClosed)
	if s.statusCh != nil {
		close(s.statusCh)
		s.statusCh = nil
	}
}

// QueueLen reports the number of frames waiting for the next connection.
func (s *Session) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Session) enqueueLocked(frame wire.Frame) {
	if len(s.queue) >= s.queueCap {
		drop := len(s.queue) - s.queueCap + 1
		s.queue = append(s.queue[:0], s.queue[drop:]...)
		logger.WarnCF("transport", "Outbound queue cap reached, dropping oldest",
			map[string]any{"dropped": drop, "cap": s.queueCap})
	}
	s.queue = append(s.queue, frame)
}

func (s *Session) writeLocked(frame wire.Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Session) setStateLocked(state State) {
	if s.state == state {
		return
	}
	s.state = state
	if s.statusCh == nil {
		return
	}
	select {
	case s.statusCh <- state:
	default:
		// A stalled status consumer must not block the session.
	}
}

// run is the connect/reconnect loop. One run goroutine is live per Connect;
// it exits when the context is cancelled by Disconnect.
func (s *Session) run(ctx context.Context, gen uint64) {
	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
		if err != nil {
			logger.WarnCF("transport", "Connect failed", map[string]any{
				"url": s.url, "error": err.Error(),
			})
			s.mu.Lock()
			if s.gen == gen {
				s.setStateLocked(StateDisconnected)
			}
			s.mu.Unlock()
			if !s.sleep(ctx) {
				return
			}
			continue
		}

		connID := uuid.New().String()

		s.mu.Lock()
		if s.gen != gen || ctx.Err() != nil {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.conn = conn
		err = s.subscribeLocked()
		if err == nil {
			err = s.drainLocked()
		}
		if err != nil {
			s.conn = nil
			s.setStateLocked(StateDisconnected)
			s.mu.Unlock()
			_ = conn.Close()
			if !s.sleep(ctx) {
				return
			}
			continue
		}
		s.setStateLocked(StateConnected)
		s.mu.Unlock()

		logger.InfoCF("transport", "Connected", map[string]any{
			"conn_id": connID, "user_id": s.userID,
		})

		s.readLoop(ctx, conn)

		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		stopped := s.gen != gen || s.state == StateClosed
		if !stopped {
			s.setStateLocked(StateDisconnected)
		}
		s.mu.Unlock()
		_ = conn.Close()

		if stopped || ctx.Err() != nil {
			return
		}
		if !s.sleep(ctx) {
			return
		}
	}
}

// subscribeLocked re-issues every subscription frame. Called on each
// successful connection, not only the first.
func (s *Session) subscribeLocked() error {
	topics := []string{wire.TopicGeneral, wire.TopicTyping, wire.TopicStatus}
	if s.userID != "" {
		topics = append(topics,
			wire.UserQueueMessages(s.userID),
			wire.UserQueueTyping(s.userID))
	}
	for _, topic := range topics {
		frame := wire.Frame{
			Type:        wire.FrameSubscribe,
			ID:          uuid.New().String(),
			Destination: topic,
		}
		if err := s.writeLocked(frame); err != nil {
			return err
		}
	}
	return nil
}

// drainLocked flushes the outbound queue in submission order. The lock is
// held for the whole drain so no caller-issued Send can interleave before
// queued frames.
func (s *Session) drainLocked() error {
	for len(s.queue) > 0 {
		if err := s.writeLocked(s.queue[0]); err != nil {
			return err
		}
		s.queue = s.queue[1:]
	}
	return nil
}

func (s *Session) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				logger.DebugCF("transport", "Read failed", map[string]any{
					"error": err.Error(),
				})
			}
			return
		}
		s.dispatch(data)
	}
}

// dispatch routes one inbound frame to the registered handler. Malformed
// frames are skipped; they must never take the session down.
func (s *Session) dispatch(data []byte) {
	var frame wire.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		logger.DebugCF("transport", "Dropping malformed frame", map[string]any{
			"error": err.Error(),
		})
		return
	}

	s.mu.Lock()
	handlers := s.handlers
	userID := s.userID
	s.mu.Unlock()

	switch frame.Destination {
	case wire.TopicGeneral, wire.UserQueueMessages(userID):
		if handlers.OnMessage == nil {
			return
		}
		var msg wire.Message
		if err := json.Unmarshal(frame.Body, &msg); err != nil {
			logger.DebugCF("transport", "Dropping malformed message", map[string]any{
				"error": err.Error(),
			})
			return
		}
		handlers.OnMessage(msg)
	case wire.TopicTyping, wire.UserQueueTyping(userID):
		if handlers.OnTyping != nil {
			handlers.OnTyping(frame.Body)
		}
	case wire.TopicStatus:
		if handlers.OnPresence == nil {
			return
		}
		var ev wire.PresenceEvent
		if err := json.Unmarshal(frame.Body, &ev); err != nil {
			logger.DebugCF("transport", "Dropping malformed presence event", map[string]any{
				"error": err.Error(),
			})
			return
		}
		handlers.OnPresence(ev)
	default:
		// Out-of-scope destination.
	}
}

// sleep pauses between reconnect attempts. Returns false when the context
// was cancelled during the pause.
func (s *Session) sleep(ctx context.Context) bool {
	timer := time.NewTimer(s.reconnectDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
