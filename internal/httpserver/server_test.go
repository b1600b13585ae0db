package httpserver

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lilsandesh/NeoShare/internal/config"
	"github.com/lilsandesh/NeoShare/internal/identity"
	"github.com/lilsandesh/NeoShare/internal/metrics"
	"github.com/lilsandesh/NeoShare/internal/presence"
	"github.com/lilsandesh/NeoShare/internal/registry"
	"github.com/lilsandesh/NeoShare/internal/room"
	"github.com/lilsandesh/NeoShare/internal/signaling"
	"github.com/lilsandesh/NeoShare/internal/store"
)

type harness struct {
	ts  *httptest.Server
	mem *store.Memory
}

func newHarness(t *testing.T, cfg config.Config) *harness {
	t.Helper()

	m := metrics.New()
	mem := store.NewMemory()
	dispatch := store.NewDispatcher(cfg.StoreWorkers, cfg.StoreQueue)
	t.Cleanup(dispatch.Close)

	reg := registry.New(nil, m)
	tracker := presence.NewTracker(mem, dispatch, reg, nil, m)
	router, err := signaling.NewRouter(reg, nil, m)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	coord := room.NewCoordinator(room.Options{
		Store:    mem,
		Dispatch: dispatch,
		Presence: tracker,
		Registry: reg,
		Metrics:  m,
		CodeLen:  cfg.RoomCodeLength,
	})

	srv := New(cfg, discardLogger(), m, BuildInfo{Commit: "test"})
	srv.ready.Store(true)
	srv.RegisterRoomRoutes(coord, identity.QueryProvider{})

	feeds := signaling.NewServer(signaling.ServerOptions{
		Registry:        reg,
		Presence:        tracker,
		Router:          router,
		Store:           mem,
		Dispatch:        dispatch,
		Identity:        identity.QueryProvider{},
		Metrics:         m,
		CheckOrigin:     CheckOrigin(cfg),
		SendBuffer:      cfg.SendBuffer,
		MaxMessageBytes: cfg.MaxMessageBytes,
		MsgsPerMinute:   cfg.MaxMessagesPerMinute,
	})
	feeds.RegisterRoutes(srv.Mux())

	ts := httptest.NewServer(srv.srv.Handler)
	t.Cleanup(ts.Close)
	return &harness{ts: ts, mem: mem}
}

func defaultTestConfig() config.Config {
	return config.Config{
		ListenAddr:           "127.0.0.1:0",
		Mode:                 config.ModeDev,
		StoreWorkers:         2,
		StoreQueue:           16,
		RoomCodeLength:       6,
		MaxMessagesPerMinute: 10,
		MaxMessageBytes:      64 * 1024,
		SendBuffer:           32,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (h *harness) postJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	resp, err := http.Post(h.ts.URL+path, "application/json", &buf)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return v
}

func TestHealthAndVersionEndpoints(t *testing.T) {
	h := newHarness(t, defaultTestConfig())

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(h.ts.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d; want 200", path, resp.StatusCode)
		}
	}

	resp, err := http.Get(h.ts.URL + "/version")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	build := decodeBody[BuildInfo](t, resp)
	if build.Commit != "test" {
		t.Errorf("version commit = %q", build.Commit)
	}
}

func TestRoomLifecycleOverREST(t *testing.T) {
	h := newHarness(t, defaultTestConfig())

	// Create as alice.
	resp := h.postJSON(t, "/rooms?user_id=alice&display_name=Alice", nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create = %d; want 201", resp.StatusCode)
	}
	created := decodeBody[map[string]any](t, resp)
	code, _ := created["room_code"].(string)
	if len(code) != 6 {
		t.Fatalf("room_code = %q", code)
	}

	// Join as bob.
	resp = h.postJSON(t, "/rooms/join?user_id=bob", map[string]string{"room_code": code})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("join = %d; want 200", resp.StatusCode)
	}

	// Duplicate join conflicts.
	resp = h.postJSON(t, "/rooms/join?user_id=bob", map[string]string{"room_code": code})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate join = %d; want 409", resp.StatusCode)
	}

	// Unknown room is 404.
	resp = h.postJSON(t, "/rooms/join?user_id=bob", map[string]string{"room_code": "ZZZZZ9"})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("join unknown = %d; want 404", resp.StatusCode)
	}

	// Fetch shows both members.
	getResp, err := http.Get(h.ts.URL + "/rooms/" + code + "?user_id=alice")
	if err != nil {
		t.Fatal(err)
	}
	defer getResp.Body.Close()
	got := decodeBody[map[string]any](t, getResp)
	if members, _ := got["members"].([]any); len(members) != 2 {
		t.Fatalf("members = %v; want 2", got["members"])
	}

	// Leave as bob.
	resp = h.postJSON(t, "/rooms/leave?user_id=bob", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("leave = %d; want 200", resp.StatusCode)
	}
	resp = h.postJSON(t, "/rooms/leave?user_id=bob", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second leave = %d; want 409", resp.StatusCode)
	}
}

func TestRoomEndpointsRequireIdentity(t *testing.T) {
	h := newHarness(t, defaultTestConfig())

	resp := h.postJSON(t, "/rooms", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("create without identity = %d; want 401", resp.StatusCode)
	}
}

func TestOriginPolicyOnREST(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.AllowedOrigins = []string{"https://app.example.com"}
	h := newHarness(t, cfg)

	req, _ := http.NewRequest("POST", h.ts.URL+"/rooms?user_id=alice", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("cross-origin create = %d; want 403", resp.StatusCode)
	}

	req, _ = http.NewRequest("POST", h.ts.URL+"/rooms?user_id=alice", nil)
	req.Header.Set("Origin", "https://app.example.com:443")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("allowed-origin create = %d; want 201", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Fatalf("Access-Control-Allow-Origin = %q", got)
	}
}

func wsURL(ts *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + path
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("reading event: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("decoding event: %v", err)
	}
	return m
}

func TestLiveFeedBroadcastsPresence(t *testing.T) {
	h := newHarness(t, defaultTestConfig())

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(h.ts, "/ws/live?user_id=alice&display_name=Alice"), nil)
	if err != nil {
		t.Fatalf("dialing live feed: %v", err)
	}
	defer conn.Close()

	ev := readEvent(t, conn)
	if ev["type"] != "users_update" {
		t.Fatalf("first event = %v; want users_update", ev["type"])
	}
	users, _ := ev["users"].([]any)
	if len(users) != 1 {
		t.Fatalf("users = %v; want alice only", users)
	}
	first, _ := users[0].(map[string]any)
	if first["user_id"] != "alice" || first["is_current_user"] != true {
		t.Fatalf("entry = %v", first)
	}
}

func TestLiveFeedRequiresIdentity(t *testing.T) {
	h := newHarness(t, defaultTestConfig())

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(h.ts, "/ws/live"), nil)
	if err == nil {
		t.Fatal("dial succeeded without identity")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("handshake status = %v; want 401", resp)
	}
}

func TestDashboardAdmitsGuests(t *testing.T) {
	h := newHarness(t, defaultTestConfig())

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(h.ts, "/ws/dashboard/ABC123"), nil)
	if err != nil {
		t.Fatalf("dialing dashboard as guest: %v", err)
	}
	defer conn.Close()

	ev := readEvent(t, conn)
	if ev["type"] != "users_update" {
		t.Fatalf("first event = %v; want users_update", ev["type"])
	}
	users, _ := ev["users"].([]any)
	if len(users) != 1 {
		t.Fatalf("users = %v; want the guest itself", users)
	}
	guest, _ := users[0].(map[string]any)
	connID, _ := guest["connection_id"].(string)
	if !strings.HasPrefix(connID, "guest-") {
		t.Fatalf("guest connection_id = %q", connID)
	}
	if guest["is_current_user"] != true {
		t.Fatalf("guest entry = %v; want is_current_user", guest)
	}
}

func TestTransferFeedRelaysOffer(t *testing.T) {
	h := newHarness(t, defaultTestConfig())

	target, _, err := websocket.DefaultDialer.Dial(wsURL(h.ts, "/ws/transfer?user_id=9"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer target.Close()

	sender, _, err := websocket.DefaultDialer.Dial(wsURL(h.ts, "/ws/transfer?user_id=7"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer sender.Close()

	// The target's notify subscription races the sender's first message;
	// give the server a beat to finish admitting both sockets.
	time.Sleep(100 * time.Millisecond)

	offer := `{"action":"offer","target_id":"9","offer":{"sdp":"v=0","type":"offer"}}`
	if err := sender.WriteMessage(websocket.TextMessage, []byte(offer)); err != nil {
		t.Fatal(err)
	}

	ev := readEvent(t, target)
	if ev["type"] != "webrtc_offer" {
		t.Fatalf("event type = %v; want webrtc_offer", ev["type"])
	}
	if ev["sender_id"] != "7" {
		t.Fatalf("sender_id = %v; want 7", ev["sender_id"])
	}
	payload, _ := ev["payload"].(map[string]any)
	if payload["sdp"] != "v=0" {
		t.Fatalf("payload = %v", payload)
	}
}

func TestWebSocketOriginGate(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.AllowedOrigins = []string{"https://app.example.com"}
	h := newHarness(t, cfg)

	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(h.ts, "/ws/live?user_id=alice"), header)
	if err == nil {
		t.Fatal("dial succeeded from a forbidden origin")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("handshake status = %v; want 403", resp)
	}
}
