package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/supportchat/internal/access"
	"github.com/supportchat/internal/bus"
	"github.com/supportchat/internal/model"
	"github.com/supportchat/internal/repository"
)

type fakeDir struct {
	users    map[string]model.User
	profiles map[string]model.Profile
}

func (f *fakeDir) GetByID(_ context.Context, id string) (*model.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}

func (f *fakeDir) GetByUsernames(_ context.Context, usernames []string) ([]model.User, error) {
	var out []model.User
	for _, name := range usernames {
		for _, u := range f.users {
			if u.Username == name {
				out = append(out, u)
			}
		}
	}
	return out, nil
}

func (f *fakeDir) GetProfile(_ context.Context, userID string) (*model.Profile, error) {
	p, ok := f.profiles[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

type fakeChatStore struct {
	chats map[string]model.Chat
}

func (f *fakeChatStore) GetByID(_ context.Context, id string) (*model.Chat, error) {
	c, ok := f.chats[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &c, nil
}

func (f *fakeChatStore) Touch(_ context.Context, _ string, _ time.Time) error { return nil }

type fakeMessageStore struct {
	mu       sync.Mutex
	msgs     []model.Message
	failures int
	mentions map[string][]string
}

func (f *fakeMessageStore) Create(_ context.Context, m *model.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("db down")
	}
	m.Seq = int64(len(f.msgs) + 1)
	f.msgs = append(f.msgs, *m)
	return nil
}

func (f *fakeMessageStore) AttachMentions(_ context.Context, messageID string, userIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mentions == nil {
		f.mentions = make(map[string][]string)
	}
	f.mentions[messageID] = append(f.mentions[messageID], userIDs...)
	return nil
}

func (f *fakeMessageStore) ListRecent(_ context.Context, chatID string, limit int) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var in []model.Message
	for _, m := range f.msgs {
		if m.ChatID == chatID {
			in = append(in, m)
		}
	}
	if len(in) > limit {
		in = in[len(in)-limit:]
	}
	out := make([]model.Message, len(in))
	copy(out, in)
	return out, nil
}

func (f *fakeMessageStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

type fakeNotificationStore struct {
	mu      sync.Mutex
	created []model.Notification
}

func (f *fakeNotificationStore) Create(_ context.Context, n *model.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, *n)
	return nil
}

func (f *fakeNotificationStore) all() []model.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Notification, len(f.created))
	copy(out, f.created)
	return out
}

type fakeTokens struct {
	byToken map[string]string
}

func (f *fakeTokens) Verify(raw string) (string, error) {
	id, ok := f.byToken[raw]
	if !ok {
		return "", errors.New("bad token")
	}
	return id, nil
}

type fixture struct {
	hub    *Hub
	msgs   *fakeMessageStore
	notifs *fakeNotificationStore
	srv    *httptest.Server
	cancel context.CancelFunc

	mu     sync.Mutex
	phases []State
	last   *Client
}

// observe snapshots the client's state as the server-side handshake advances.
func (f *fixture) observe(c *Client) {
	f.mu.Lock()
	f.phases = append(f.phases, c.State())
	f.last = c
	f.mu.Unlock()
}

// newFixture wires a hub with fake stores behind a real HTTP upgrade path.
// Users: alice (u1) owns chat c1, bob (u2) owns chat c2 and has a profile.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	dir := &fakeDir{
		users: map[string]model.User{
			"u1": {ID: "u1", Username: "alice"},
			"u2": {ID: "u2", Username: "bob"},
		},
		profiles: map[string]model.Profile{
			"u2": {ID: "prof-u2", UserID: "u2", UserType: model.RoleUser},
		},
	}
	chats := &fakeChatStore{chats: map[string]model.Chat{
		"c1": {ID: "c1", OwnerID: "u1"},
		"c2": {ID: "c2", OwnerID: "u2"},
	}}
	msgs := &fakeMessageStore{}
	notifs := &fakeNotificationStore{}
	tokens := &fakeTokens{byToken: map[string]string{
		"tok-alice": "u1",
		"tok-bob":   "u2",
	}}

	hub := NewHub(Deps{
		Chats:         chats,
		Messages:      msgs,
		Notifications: notifs,
		Access:        access.NewResolver(dir, false),
		Tokens:        tokens,
		Bus:           bus.NewMemory(),
	}, 0, defaultReplay, Tuning{})

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	f := &fixture{hub: hub, msgs: msgs, notifs: notifs, cancel: cancel}

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		chatID := r.URL.Query().Get("chat")
		tok := r.URL.Query().Get("token")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := hub.Accept(conn)
		f.observe(c)
		sess, err := hub.Authorize(r.Context(), c, tok, chatID)
		f.observe(c)
		if err != nil {
			c.Close()
			return
		}
		if err := hub.Join(r.Context(), c, sess); err != nil {
			c.Close()
			return
		}
		f.observe(c)
	}))

	t.Cleanup(func() {
		f.srv.Close()
		cancel()
	})
	return f
}

func (f *fixture) dial(t *testing.T, token, chatID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/?token=" + token + "&chat=" + chatID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev map[string]any
	if err := json.Unmarshal(raw, &ev); err != nil {
		t.Fatalf("unmarshal %q: %v", raw, err)
	}
	return ev
}

func sendEvent(t *testing.T, conn *websocket.Conn, message string, mentions []string) {
	t.Helper()
	data, err := json.Marshal(IncomingEvent{Message: message, Mentions: mentions})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestBroadcastOrderMatchesSendOrder(t *testing.T) {
	f := newFixture(t)
	sender := f.dial(t, "tok-alice", "c1")
	receiver := f.dial(t, "tok-alice", "c1")

	const n = 20
	for i := 0; i < n; i++ {
		sendEvent(t, sender, fmt.Sprintf("msg-%d", i), nil)
	}
	for i := 0; i < n; i++ {
		ev := readEvent(t, receiver)
		if ev["type"] != EventChatMessage {
			t.Fatalf("event %d type = %v, want %q", i, ev["type"], EventChatMessage)
		}
		if got, want := ev["message"], fmt.Sprintf("msg-%d", i); got != want {
			t.Fatalf("event %d message = %v, want %v", i, got, want)
		}
	}
}

func TestBroadcastFrameShape(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, "tok-alice", "c1")

	sendEvent(t, conn, "hello", []string{"bob"})
	ev := readEvent(t, conn)

	if ev["type"] != EventChatMessage {
		t.Fatalf("type = %v", ev["type"])
	}
	if ev["sender"] != "alice" {
		t.Fatalf("sender = %v, want alice", ev["sender"])
	}
	if ev["sender_type"] != string(model.RoleUser) {
		t.Fatalf("sender_type = %v, want %q", ev["sender_type"], model.RoleUser)
	}
	ts, _ := ev["timestamp"].(string)
	if _, err := time.Parse(time.RFC3339Nano, ts); err != nil {
		t.Fatalf("timestamp %q: %v", ts, err)
	}
}

func TestReplayOnJoin(t *testing.T) {
	f := newFixture(t)
	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < defaultReplay+1; i++ {
		f.msgs.msgs = append(f.msgs.msgs, model.Message{
			ID:        fmt.Sprintf("m-%d", i),
			Seq:       int64(i + 1),
			ChatID:    "c1",
			SenderID:  "u1",
			Content:   fmt.Sprintf("old-%d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
			Sender:    "alice",
		})
	}

	conn := f.dial(t, "tok-alice", "c1")
	// The oldest of the 51 stored messages is dropped; the rest arrive
	// oldest-first before any live traffic.
	for i := 1; i <= defaultReplay; i++ {
		ev := readEvent(t, conn)
		if got, want := ev["message"], fmt.Sprintf("old-%d", i); got != want {
			t.Fatalf("replay frame = %v, want %v", got, want)
		}
	}

	sendEvent(t, conn, "live", nil)
	ev := readEvent(t, conn)
	if ev["message"] != "live" {
		t.Fatalf("after replay got %v, want live", ev["message"])
	}
}

func TestHandshakeFailuresCloseSilently(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		name   string
		token  string
		chatID string
	}{
		{"bad token", "tok-nope", "c1"},
		{"missing room", "tok-alice", "c404"},
		{"foreign room", "tok-alice", "c2"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conn := f.dial(t, tc.token, tc.chatID)
			conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			if _, raw, err := conn.ReadMessage(); err == nil {
				t.Fatalf("got frame %q, want silent close", raw)
			}
		})
	}
	if n := f.hub.roomSize("c1") + f.hub.roomSize("c2"); n != 0 {
		t.Fatalf("rooms hold %d connections after failed handshakes", n)
	}
}

func TestHandshakeStateProgression(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, "tok-alice", "c1")

	// The server side finishes the handshake after the dial returns; wait for
	// all three phase snapshots.
	deadline := time.Now().Add(2 * time.Second)
	var phases []State
	var c *Client
	for time.Now().Before(deadline) {
		f.mu.Lock()
		phases = append(phases[:0], f.phases...)
		c = f.last
		f.mu.Unlock()
		if len(phases) >= 3 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	want := []State{StateConnecting, StateAuthorizing, StateJoined}
	if len(phases) != len(want) {
		t.Fatalf("observed %d handshake phases, want %d", len(phases), len(want))
	}
	for i := range want {
		if phases[i] != want[i] {
			t.Fatalf("phase %d = %v, want %v", i, phases[i], want[i])
		}
	}

	conn.Close()
	for time.Now().Before(deadline) {
		if c.State() == StateClosed {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("state after close = %v, want StateClosed", c.State())
}

func TestMentionNotifications(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, "tok-alice", "c1")

	// bob has a profile, ghost does not exist, alice has no profile.
	sendEvent(t, conn, "ping", []string{"bob", "ghost", "alice"})
	ev := readEvent(t, conn)

	mentions, _ := ev["mentions"].([]any)
	if len(mentions) != 3 {
		t.Fatalf("mentions = %v, want verbatim echo of 3 handles", ev["mentions"])
	}

	created := f.notifs.all()
	if len(created) != 1 {
		t.Fatalf("got %d notifications, want 1", len(created))
	}
	if created[0].ProfileID != "prof-u2" {
		t.Fatalf("notification profile = %s, want prof-u2", created[0].ProfileID)
	}
	if created[0].ChatID != "c1" {
		t.Fatalf("notification chat = %s, want c1", created[0].ChatID)
	}

	// Both resolved users are linked to the message; the ghost is not.
	f.msgs.mu.Lock()
	linked := f.msgs.mentions[created[0].MessageID]
	f.msgs.mu.Unlock()
	if len(linked) != 2 {
		t.Fatalf("linked mention ids = %v, want [u2 u1]", linked)
	}
}

func TestMalformedPayloadKeepsConnection(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, "tok-alice", "c1")

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	ev := readEvent(t, conn)
	if ev["type"] != EventError {
		t.Fatalf("type = %v, want %q", ev["type"], EventError)
	}

	sendEvent(t, conn, "still here", nil)
	ev = readEvent(t, conn)
	if ev["message"] != "still here" {
		t.Fatalf("connection unusable after error frame: %v", ev)
	}
}

func TestEmptyMessageRejected(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, "tok-alice", "c1")

	sendEvent(t, conn, "   ", nil)
	ev := readEvent(t, conn)
	if ev["type"] != EventError {
		t.Fatalf("type = %v, want %q", ev["type"], EventError)
	}
	if f.msgs.count() != 0 {
		t.Fatalf("blank message was persisted")
	}
}

func TestPersistRetrySucceeds(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, "tok-alice", "c1")

	f.msgs.failures = 1
	sendEvent(t, conn, "flaky", nil)
	ev := readEvent(t, conn)
	if ev["type"] != EventChatMessage || ev["message"] != "flaky" {
		t.Fatalf("got %v, want broadcast after retry", ev)
	}
	if f.msgs.count() != 1 {
		t.Fatalf("stored %d messages, want 1", f.msgs.count())
	}
}

func TestPersistFailureNotBroadcast(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, "tok-alice", "c1")

	f.msgs.failures = persistAttempts
	sendEvent(t, conn, "doomed", nil)
	ev := readEvent(t, conn)
	if ev["type"] != EventError {
		t.Fatalf("type = %v, want %q", ev["type"], EventError)
	}
	if f.msgs.count() != 0 {
		t.Fatalf("failed message was persisted")
	}
}

func TestTuningDefaultsAndSendBuffer(t *testing.T) {
	tn := Tuning{}.withDefaults()
	if tn.SendBufferSize != defaultSendBufSize || tn.WriteTimeout != defaultWriteWait ||
		tn.PongTimeout != defaultPongWait || tn.MaxMessageSize != defaultMaxMessageSize {
		t.Fatalf("zero tuning = %+v, want defaults", tn)
	}
	if p := tn.pingPeriod(); p <= 0 || p >= tn.PongTimeout {
		t.Fatalf("ping period = %v, want inside pong window %v", p, tn.PongTimeout)
	}

	hub := NewHub(Deps{Bus: bus.NewMemory()}, 0, 0, Tuning{SendBufferSize: 8})
	c := hub.Accept(nil)
	if cap(c.send) != 8 {
		t.Fatalf("send buffer capacity = %d, want 8", cap(c.send))
	}
}
