package http

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/chatrelay/internal/auth"
	"github.com/vovakirdan/chatrelay/internal/config"
	"github.com/vovakirdan/chatrelay/internal/core"
	"github.com/vovakirdan/chatrelay/internal/proto"
	"github.com/vovakirdan/chatrelay/internal/store"
	"github.com/vovakirdan/chatrelay/internal/store/sqlite"
)

// frame covers both chat and error frames the server emits.
type frame struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Username  string `json:"username"`
	Timestamp string `json:"timestamp"`
	Code      string `json:"code"`
	Msg       string `json:"msg"`
}

func startTestServer(t *testing.T) (*httptest.Server, *auth.Service) {
	t.Helper()
	return startCustomServer(t, config.Default(), nil)
}

// startCustomServer wires a server with the given config. wrap, when non-nil,
// decorates the backing store before it reaches the handlers, so tests can
// inject storage failures.
func startCustomServer(t *testing.T, cfg config.Config, wrap func(store.Store) store.Store) (*httptest.Server, *auth.Service) {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	cfg.DatabasePath = ":memory:"

	authService := auth.NewService(st, &auth.JWTConfig{
		Secret:   []byte("test-secret-change-me"),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      time.Hour,
	})

	var serverStore store.Store = st
	if wrap != nil {
		serverStore = wrap(st)
	}

	logger := testLogger()
	server := NewServer(core.NewRegistry(), serverStore, authService, cfg, logger)

	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	return ts, authService
}

func dialRoom(t *testing.T, ctx context.Context, ts *httptest.Server, room string) *websocket.Conn {
	t.Helper()

	wsURL := strings.Replace(ts.URL, "http", "ws", 1) + "/ws/" + room
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", room, err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

func sendChat(t *testing.T, ctx context.Context, conn *websocket.Conn, user, text string) {
	t.Helper()

	if err := wsjson.Write(ctx, conn, proto.Inbound{Message: text, Username: user}); err != nil {
		t.Fatalf("send: %v", err)
	}
}

func readFrame(t *testing.T, ctx context.Context, conn *websocket.Conn) frame {
	t.Helper()

	var f frame
	if err := wsjson.Read(ctx, conn, &f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := startTestServer(t)

	resp, err := ts.Client().Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func TestBroadcastReachesSenderAndPeers(t *testing.T) {
	ts, _ := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	connA := dialRoom(t, ctx, ts, "general")
	sendChat(t, ctx, connA, "alice", "ping")
	if f := readFrame(t, ctx, connA); f.Message != "ping" {
		t.Fatalf("unexpected echo: %+v", f)
	}

	// B's history frame proves its membership: the server joins the room
	// before replaying, so everything broadcast afterwards reaches B.
	connB := dialRoom(t, ctx, ts, "general")
	if f := readFrame(t, ctx, connB); f.Message != "ping" || f.Timestamp == "" {
		t.Fatalf("unexpected history frame: %+v", f)
	}

	sendChat(t, ctx, connA, "alice", "hi")

	// Both the sender and the peer receive exactly one live frame.
	for _, conn := range []*websocket.Conn{connA, connB} {
		f := readFrame(t, ctx, conn)
		if f.Type != proto.TypeChatMessage || f.Message != "hi" || f.Username != "alice" {
			t.Fatalf("unexpected frame: %+v", f)
		}
		if f.Timestamp != "" {
			t.Fatalf("live frame must not carry a timestamp: %+v", f)
		}
	}
}

func TestSequentialBroadcastsKeepOrder(t *testing.T) {
	ts, _ := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	connA := dialRoom(t, ctx, ts, "general")
	sendChat(t, ctx, connA, "alice", "sync")
	if f := readFrame(t, ctx, connA); f.Message != "sync" {
		t.Fatalf("unexpected echo: %+v", f)
	}

	connB := dialRoom(t, ctx, ts, "general")
	if f := readFrame(t, ctx, connB); f.Message != "sync" || f.Timestamp == "" {
		t.Fatalf("unexpected history frame: %+v", f)
	}

	sendChat(t, ctx, connA, "alice", "first")
	if f := readFrame(t, ctx, connA); f.Message != "first" {
		t.Fatalf("unexpected echo: %+v", f)
	}
	sendChat(t, ctx, connA, "alice", "second")
	if f := readFrame(t, ctx, connA); f.Message != "second" {
		t.Fatalf("unexpected echo: %+v", f)
	}

	if f := readFrame(t, ctx, connB); f.Message != "first" {
		t.Fatalf("expected first, got %+v", f)
	}
	if f := readFrame(t, ctx, connB); f.Message != "second" {
		t.Fatalf("expected second, got %+v", f)
	}
}

func TestHistoryReplayBeforeLiveMessages(t *testing.T) {
	ts, _ := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	connA := dialRoom(t, ctx, ts, "general")
	sendChat(t, ctx, connA, "alice", "hi")
	// Reading the echo guarantees the message was persisted and broadcast.
	if f := readFrame(t, ctx, connA); f.Message != "hi" {
		t.Fatalf("unexpected echo: %+v", f)
	}

	connB := dialRoom(t, ctx, ts, "general")

	// First frame must be the history entry, timestamped.
	f := readFrame(t, ctx, connB)
	if f.Type != proto.TypeChatMessage || f.Message != "hi" || f.Username != "alice" {
		t.Fatalf("unexpected history frame: %+v", f)
	}
	if f.Timestamp == "" {
		t.Fatal("history frame must carry a timestamp")
	}
	if _, err := time.Parse(proto.TimestampLayout, f.Timestamp); err != nil {
		t.Fatalf("bad timestamp format %q: %v", f.Timestamp, err)
	}

	// A live message after the replay arrives exactly once, untimestamped.
	sendChat(t, ctx, connA, "alice", "welcome")
	f = readFrame(t, ctx, connB)
	if f.Message != "welcome" || f.Timestamp != "" {
		t.Fatalf("unexpected live frame: %+v", f)
	}
}

func TestRoomsAreIsolated(t *testing.T) {
	ts, _ := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	connA := dialRoom(t, ctx, ts, "general")
	connB := dialRoom(t, ctx, ts, "random")

	sendChat(t, ctx, connA, "alice", "general only")
	if f := readFrame(t, ctx, connA); f.Message != "general only" {
		t.Fatalf("unexpected echo: %+v", f)
	}

	// The first frame B observes is its own echo, never A's message.
	sendChat(t, ctx, connB, "bob", "random only")
	if f := readFrame(t, ctx, connB); f.Message != "random only" || f.Username != "bob" {
		t.Fatalf("cross-room leak: %+v", f)
	}
}

func TestValidationErrorKeepsConnectionOpen(t *testing.T) {
	ts, _ := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialRoom(t, ctx, ts, "general")

	sendChat(t, ctx, conn, "alice", "")
	f := readFrame(t, ctx, conn)
	if f.Type != proto.TypeError || f.Code != proto.CodeBadRequest {
		t.Fatalf("expected bad_request error, got %+v", f)
	}

	sendChat(t, ctx, conn, "", "no name")
	f = readFrame(t, ctx, conn)
	if f.Type != proto.TypeError || f.Code != proto.CodeBadRequest {
		t.Fatalf("expected bad_request error, got %+v", f)
	}

	// Connection survives rejected messages.
	sendChat(t, ctx, conn, "alice", "still here")
	f = readFrame(t, ctx, conn)
	if f.Type != proto.TypeChatMessage || f.Message != "still here" {
		t.Fatalf("expected echo after validation errors, got %+v", f)
	}
}

func TestMalformedPayloadKeepsConnectionOpen(t *testing.T) {
	ts, _ := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialRoom(t, ctx, ts, "general")

	if err := conn.Write(ctx, websocket.MessageText, []byte("not json")); err != nil {
		t.Fatalf("write raw: %v", err)
	}
	f := readFrame(t, ctx, conn)
	if f.Type != proto.TypeError || f.Code != proto.CodeBadRequest {
		t.Fatalf("expected bad_request error, got %+v", f)
	}

	sendChat(t, ctx, conn, "alice", "recovered")
	if f := readFrame(t, ctx, conn); f.Message != "recovered" {
		t.Fatalf("expected echo after malformed payload, got %+v", f)
	}
}

func TestTokenPinsUsername(t *testing.T) {
	ts, authService := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	token, username, err := authService.CreateGuestUser(ctx)
	if err != nil {
		t.Fatalf("guest login: %v", err)
	}

	wsURL := strings.Replace(ts.URL, "http", "ws", 1) + "/ws/general?token=" + token
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial with token: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	// The frame's username is ignored in favor of the token's identity.
	if err := wsjson.Write(ctx, conn, proto.Inbound{Message: "hello", Username: "impostor"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	f := readFrame(t, ctx, conn)
	if f.Username != username {
		t.Fatalf("expected pinned username %q, got %+v", username, f)
	}
}

// appendFailStore fails AppendMessage while tripped; everything else passes
// through to the wrapped store.
type appendFailStore struct {
	store.Store
	fail atomic.Bool
}

func (s *appendFailStore) AppendMessage(ctx context.Context, room, username, content string) (*store.Message, error) {
	if s.fail.Load() {
		return nil, errors.New("disk full")
	}
	return s.Store.AppendMessage(ctx, room, username, content)
}

func TestPersistFailureSignalsSenderAndStillBroadcasts(t *testing.T) {
	failing := &appendFailStore{}
	ts, _ := startCustomServer(t, config.Default(), func(st store.Store) store.Store {
		failing.Store = st
		return failing
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	connA := dialRoom(t, ctx, ts, "general")
	sendChat(t, ctx, connA, "alice", "sync")
	if f := readFrame(t, ctx, connA); f.Message != "sync" {
		t.Fatalf("unexpected echo: %+v", f)
	}

	connB := dialRoom(t, ctx, ts, "general")
	if f := readFrame(t, ctx, connB); f.Message != "sync" || f.Timestamp == "" {
		t.Fatalf("unexpected history frame: %+v", f)
	}

	failing.fail.Store(true)
	sendChat(t, ctx, connA, "alice", "doomed")

	// The sender is told persistence failed before the best-effort echo.
	f := readFrame(t, ctx, connA)
	if f.Type != proto.TypeError || f.Code != proto.CodeStorageError {
		t.Fatalf("expected storage_error frame, got %+v", f)
	}
	f = readFrame(t, ctx, connA)
	if f.Type != proto.TypeChatMessage || f.Message != "doomed" || f.Timestamp != "" {
		t.Fatalf("expected best-effort echo, got %+v", f)
	}

	// The peer still receives the unpersisted message, untimestamped.
	f = readFrame(t, ctx, connB)
	if f.Type != proto.TypeChatMessage || f.Message != "doomed" || f.Username != "alice" {
		t.Fatalf("expected best-effort broadcast, got %+v", f)
	}
	if f.Timestamp != "" {
		t.Fatalf("live frame must not carry a timestamp: %+v", f)
	}

	// Once storage recovers, messages persist again and the failed one is
	// absent from history.
	failing.fail.Store(false)
	sendChat(t, ctx, connA, "alice", "after")
	if f := readFrame(t, ctx, connA); f.Message != "after" {
		t.Fatalf("unexpected echo: %+v", f)
	}

	connC := dialRoom(t, ctx, ts, "general")
	if f := readFrame(t, ctx, connC); f.Message != "sync" {
		t.Fatalf("expected sync first in history, got %+v", f)
	}
	if f := readFrame(t, ctx, connC); f.Message != "after" {
		t.Fatalf("expected after next in history, got %+v", f)
	}
}

func TestReplayCursorSuppressesOnlyReplayedMessages(t *testing.T) {
	s := &session{cursor: 4}

	cases := []struct {
		id   int64
		want bool
	}{
		{id: 3, want: true},
		{id: 4, want: true},
		{id: 5, want: false},
		// Unpersisted messages are never suppressed.
		{id: 0, want: false},
	}
	for _, tc := range cases {
		if got := s.alreadyReplayed(&core.Message{ID: tc.id}); got != tc.want {
			t.Errorf("id %d with cursor 4: suppressed=%v, want %v", tc.id, got, tc.want)
		}
	}

	// An empty replay suppresses nothing.
	empty := &session{}
	if empty.alreadyReplayed(&core.Message{ID: 1}) {
		t.Error("empty replay must not suppress live messages")
	}
}

func TestJoinDuringFloodSeesEachMessageOnceInOrder(t *testing.T) {
	ts, _ := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	connA := dialRoom(t, ctx, ts, "general")

	const total = 30
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < total; i++ {
			msg := proto.Inbound{Message: fmt.Sprintf("m%d", i), Username: "alice"}
			if err := wsjson.Write(ctx, connA, msg); err != nil {
				t.Errorf("flood send %d: %v", i, err)
				return
			}
		}
	}()

	// Readers joining mid-flood land on the history/live seam: messages
	// persisted before their snapshot but broadcast after their join arrive
	// twice at the queue and must be delivered once.
	for round := 0; round < 4; round++ {
		conn := dialRoom(t, ctx, ts, "general")
		last := -1
		for last < total-1 {
			f := readFrame(t, ctx, conn)
			if f.Type != proto.TypeChatMessage {
				t.Fatalf("round %d: unexpected frame: %+v", round, f)
			}
			var idx int
			if _, err := fmt.Sscanf(f.Message, "m%d", &idx); err != nil {
				t.Fatalf("round %d: unexpected message %q", round, f.Message)
			}
			if idx <= last {
				t.Fatalf("round %d: got m%d after m%d (duplicate or out of order)", round, idx, last)
			}
			last = idx
		}
		_ = conn.Close(websocket.StatusNormalClosure, "done")
	}

	<-done
}

func TestRateLimitRejectsBurstAndKeepsConnectionOpen(t *testing.T) {
	cfg := config.Default()
	cfg.MessageRateLimit = 1
	ts, _ := startCustomServer(t, cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialRoom(t, ctx, ts, "general")

	sendChat(t, ctx, conn, "alice", "first")
	if f := readFrame(t, ctx, conn); f.Type != proto.TypeChatMessage || f.Message != "first" {
		t.Fatalf("unexpected echo: %+v", f)
	}

	// The second message within the minute is rejected, not broadcast.
	sendChat(t, ctx, conn, "alice", "second")
	f := readFrame(t, ctx, conn)
	if f.Type != proto.TypeError || f.Code != proto.CodeRateLimited {
		t.Fatalf("expected rate_limited error, got %+v", f)
	}

	// The connection survives: validation still answers.
	sendChat(t, ctx, conn, "alice", "")
	f = readFrame(t, ctx, conn)
	if f.Type != proto.TypeError || f.Code != proto.CodeBadRequest {
		t.Fatalf("expected bad_request error, got %+v", f)
	}
}

func TestInvalidTokenRejectsUpgrade(t *testing.T) {
	ts, _ := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := strings.Replace(ts.URL, "http", "ws", 1) + "/ws/general?token=garbage"
	if _, _, err := websocket.Dial(ctx, wsURL, nil); err == nil {
		t.Fatal("expected dial to fail with an invalid token")
	}
}
