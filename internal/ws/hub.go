package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/supportchat/internal/bus"
	"github.com/supportchat/internal/logger"
	"github.com/supportchat/internal/model"
	"github.com/supportchat/internal/repository"
)

const (
	defaultMaxConns   = 10000
	defaultReplay     = 50
	persistAttempts   = 2
	persistRetryDelay = 100 * time.Millisecond
)

// ChatStore is the subset of repository.ChatRepository the hub needs.
type ChatStore interface {
	GetByID(ctx context.Context, id string) (*model.Chat, error)
	Touch(ctx context.Context, id string, at time.Time) error
}

// MessageStore persists and replays messages.
type MessageStore interface {
	Create(ctx context.Context, m *model.Message) error
	AttachMentions(ctx context.Context, messageID string, userIDs []string) error
	ListRecent(ctx context.Context, chatID string, limit int) ([]model.Message, error)
}

// NotificationStore records mention notifications.
type NotificationStore interface {
	Create(ctx context.Context, n *model.Notification) error
}

// AccessResolver answers identity and authorization questions; implemented by
// access.Resolver.
type AccessResolver interface {
	ResolveUser(ctx context.Context, id string) (*model.User, error)
	ResolveRole(ctx context.Context, userID string) (model.Role, error)
	ResolveProfile(ctx context.Context, userID string) (*model.Profile, bool, error)
	CanAccessChat(ctx context.Context, user *model.User, chat *model.Chat) (bool, error)
	ResolveMentions(ctx context.Context, handles []string) ([]model.User, error)
}

// TokenVerifier checks a bearer token and returns its subject user id;
// implemented by token.Codec.
type TokenVerifier interface {
	Verify(raw string) (string, error)
}

// PushNotifier sends push notifications. Nil disables pushes.
type PushNotifier interface {
	Notify(ctx context.Context, userID, title, body string, data map[string]string)
}

// Deps bundles the hub's collaborators.
type Deps struct {
	Chats         ChatStore
	Messages      MessageStore
	Notifications NotificationStore
	Access        AccessResolver
	Tokens        TokenVerifier
	Bus           bus.Bus
	Push          PushNotifier
}

// Hub keeps the room registry and runs the persist-then-broadcast pipeline.
// Delivery goes through the bus even for a single process, so the local and
// multi-node paths are the same code.
type Hub struct {
	deps        Deps
	maxConns    int
	replayLimit int
	tuning      Tuning

	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}
	total int

	// commitMu serializes persist+publish per room, so broadcast order always
	// matches commit order. Entries are never pruned: rooms are one per user,
	// so the map stays bounded.
	commitMuMu sync.Mutex
	commitMu   map[string]*sync.Mutex

	done chan struct{}
}

// ErrServerFull is returned by Join when the connection limit is reached.
var ErrServerFull = errors.New("ws: connection limit reached")

func NewHub(deps Deps, maxConns, replayLimit int, tuning Tuning) *Hub {
	if maxConns <= 0 {
		maxConns = defaultMaxConns
	}
	if replayLimit < 0 {
		replayLimit = defaultReplay
	}
	h := &Hub{
		deps:        deps,
		maxConns:    maxConns,
		replayLimit: replayLimit,
		tuning:      tuning.withDefaults(),
		rooms:       make(map[string]map[*Client]struct{}),
		commitMu:    make(map[string]*sync.Mutex),
		done:        make(chan struct{}),
	}
	deps.Bus.Subscribe(h.deliverLocal)
	return h
}

// Run blocks until ctx is cancelled, then closes every connection and waits
// for their pumps to exit.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	<-ctx.Done()
	h.shutdown()
}

func (h *Hub) shutdown() {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	all := make([]*Client, 0, h.total)
	for _, clients := range h.rooms {
		for c := range clients {
			all = append(all, c)
		}
	}
	h.rooms = make(map[string]map[*Client]struct{})
	h.total = 0
	h.mu.Unlock()

	// Close connections outside the lock (network I/O).
	for _, c := range all {
		c.Close()
	}
	for _, c := range all {
		c.Wait()
	}
}

// Accept wraps a freshly upgraded connection. The client starts in
// StateConnecting; callers Close it on any pre-Join failure.
func (h *Hub) Accept(conn *websocket.Conn) *Client {
	return newClient(h, conn)
}

// Authorize runs the handshake checks and returns the immutable session.
// Callers close the socket without any payload when it fails.
func (h *Hub) Authorize(ctx context.Context, c *Client, rawToken, chatID string) (*Session, error) {
	c.state.Store(int32(StateAuthorizing))

	userID, err := h.deps.Tokens.Verify(rawToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	user, err := h.deps.Access.ResolveUser(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, fmt.Errorf("ws.Authorize: resolve user: %w", err)
	}

	chat, err := h.deps.Chats.GetByID(ctx, chatID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, fmt.Errorf("ws.Authorize: get chat: %w", err)
	}

	ok, err := h.deps.Access.CanAccessChat(ctx, user, chat)
	if err != nil {
		return nil, fmt.Errorf("ws.Authorize: check access: %w", err)
	}
	if !ok {
		return nil, ErrAccessDenied
	}

	role, err := h.deps.Access.ResolveRole(ctx, user.ID)
	if err != nil {
		logger.Errorf("ws resolve role user=%s: %v", user.ID, err)
	}

	return &Session{
		UserID:   user.ID,
		Username: user.Username,
		Role:     role,
		ChatID:   chat.ID,
	}, nil
}

// Join replays recent history to the new connection and registers it in its
// room. Replay and registration happen under the room's commit lock, so the
// connection sees each committed message exactly once: either in the replay
// or as a live broadcast, never both and never neither.
func (h *Hub) Join(ctx context.Context, c *Client, sess *Session) error {
	c.sess = sess

	lock := h.roomLock(sess.ChatID)
	lock.Lock()
	history, err := h.deps.Messages.ListRecent(ctx, sess.ChatID, h.replayLimit)
	if err != nil {
		lock.Unlock()
		return fmt.Errorf("ws.Join: list recent: %w", err)
	}
	for _, m := range history {
		data, err := json.Marshal(chatMessageEventFromModel(m))
		if err != nil {
			logger.Errorf("ws marshal replay chat=%s: %v", sess.ChatID, err)
			continue
		}
		// send is buffered past the default replay limit; frames wait for the
		// pumps. Guard against a misconfigured limit larger than the buffer.
		select {
		case c.send <- data:
		default:
			logger.Errorf("ws replay overflow chat=%s, dropping frame", sess.ChatID)
		}
	}
	if err := h.addClient(c); err != nil {
		lock.Unlock()
		return err
	}
	lock.Unlock()

	c.state.Store(int32(StateJoined))
	pumpCtx, cancel := context.WithCancel(context.Background())
	c.Start(pumpCtx, cancel)
	return nil
}

func (h *Hub) addClient(c *Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.total >= h.maxConns {
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.maxConns, c.sess.UserID)
		return ErrServerFull
	}
	if _, ok := h.rooms[c.sess.ChatID]; !ok {
		h.rooms[c.sess.ChatID] = make(map[*Client]struct{})
	}
	h.rooms[c.sess.ChatID][c] = struct{}{}
	h.total++
	return nil
}

// Unregister removes the client from its room; empty rooms are pruned.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	clients, ok := h.rooms[c.sess.ChatID]
	if ok {
		if _, exists := clients[c]; exists {
			delete(clients, c)
			h.total--
			if len(clients) == 0 {
				delete(h.rooms, c.sess.ChatID)
			}
		}
	}
	h.mu.Unlock()

	// Network I/O outside the lock.
	c.Close()
}

// HandleChatMessage runs the full inbound pipeline: validate, persist (with
// one retry), resolve mentions, record notifications, then publish. The
// message is durable before anyone sees it; a failed save produces a local
// error frame and nothing is broadcast.
func (h *Hub) HandleChatMessage(ctx context.Context, c *Client, ev IncomingEvent) {
	defer logger.DeferLogDuration("ws.HandleChatMessage", time.Now())()
	if strings.TrimSpace(ev.Message) == "" {
		h.sendError(c, "message required")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	lock := h.roomLock(c.sess.ChatID)
	lock.Lock()
	defer lock.Unlock()

	m := &model.Message{
		ID:        uuid.New().String(),
		ChatID:    c.sess.ChatID,
		SenderID:  c.sess.UserID,
		Content:   ev.Message,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.persist(ctx, m); err != nil {
		logger.Errorf("ws save message chat=%s user=%s: %v", c.sess.ChatID, c.sess.UserID, err)
		h.sendError(c, "failed to save message")
		return
	}

	mentioned, err := h.deps.Access.ResolveMentions(ctx, ev.Mentions)
	if err != nil {
		logger.Errorf("ws resolve mentions chat=%s: %v", c.sess.ChatID, err)
		mentioned = nil
	}
	if len(mentioned) > 0 {
		ids := make([]string, len(mentioned))
		for i, u := range mentioned {
			ids[i] = u.ID
		}
		if err := h.deps.Messages.AttachMentions(ctx, m.ID, ids); err != nil {
			logger.Errorf("ws attach mentions message=%s: %v", m.ID, err)
		}
	}
	h.notifyMentions(ctx, c, m, mentioned)

	if err := h.deps.Chats.Touch(ctx, c.sess.ChatID, m.CreatedAt); err != nil {
		logger.Errorf("ws touch chat=%s: %v", c.sess.ChatID, err)
	}

	out := newChatMessageEvent(m.Content, c.sess.Username, c.sess.Role, m.CreatedAt, ev.Mentions)
	data, err := json.Marshal(out)
	if err != nil {
		logger.Errorf("ws marshal event chat=%s: %v", c.sess.ChatID, err)
		return
	}
	if err := h.deps.Bus.Publish(ctx, c.sess.ChatID, data); err != nil {
		logger.Errorf("ws publish chat=%s: %v", c.sess.ChatID, err)
	}
}

func (h *Hub) persist(ctx context.Context, m *model.Message) error {
	var err error
	for attempt := 0; attempt < persistAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(persistRetryDelay):
			}
		}
		if err = h.deps.Messages.Create(ctx, m); err == nil {
			return nil
		}
	}
	return err
}

// notifyMentions records one notification per mentioned user that has a
// profile. Each recipient is handled independently: one failing insert never
// blocks the rest, and never blocks the broadcast.
func (h *Hub) notifyMentions(ctx context.Context, c *Client, m *model.Message, mentioned []model.User) {
	for _, u := range mentioned {
		profile, ok, err := h.deps.Access.ResolveProfile(ctx, u.ID)
		if err != nil {
			logger.Errorf("ws resolve profile user=%s: %v", u.ID, err)
			continue
		}
		if !ok {
			continue
		}
		n := &model.Notification{
			ID:        uuid.New().String(),
			ProfileID: profile.ID,
			MessageID: m.ID,
			ChatID:    m.ChatID,
			CreatedAt: m.CreatedAt,
		}
		if err := h.deps.Notifications.Create(ctx, n); err != nil {
			logger.Errorf("ws create notification user=%s message=%s: %v", u.ID, m.ID, err)
			continue
		}
		if h.deps.Push != nil && u.ID != c.sess.UserID {
			body := m.Content
			if len(body) > 120 {
				body = body[:117] + "..."
			}
			uid := u.ID
			data := map[string]string{"chat_id": m.ChatID, "message_id": m.ID}
			go h.deps.Push.Notify(context.Background(), uid, c.sess.Username, body, data)
		}
	}
}

// deliverLocal fans a published frame out to this process's members of the
// room. It is the bus subscription handler, so remote and local publishes
// take the same path.
func (h *Hub) deliverLocal(roomID string, payload []byte) {
	h.mu.RLock()
	clients, ok := h.rooms[roomID]
	if !ok {
		h.mu.RUnlock()
		return
	}
	targets := make([]*Client, 0, len(clients))
	for c := range clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, payload)
	}
}

func (h *Hub) sendError(c *Client, msg string) {
	data, err := json.Marshal(ErrorEvent{Type: EventError, Error: msg})
	if err != nil {
		return
	}
	h.sendToClient(c, data)
}

func (h *Hub) sendToClient(c *Client, data []byte) {
	select {
	case c.send <- data:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close slow client.
		logger.Errorf("ws send buffer full, closing slow client user=%s", c.sess.UserID)
		c.Close()
	}
}

func (h *Hub) roomLock(chatID string) *sync.Mutex {
	h.commitMuMu.Lock()
	defer h.commitMuMu.Unlock()
	lock, ok := h.commitMu[chatID]
	if !ok {
		lock = &sync.Mutex{}
		h.commitMu[chatID] = lock
	}
	return lock
}

// roomSize reports the number of local connections in a room.
func (h *Hub) roomSize(chatID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[chatID])
}
