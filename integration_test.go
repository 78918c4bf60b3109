package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

// ---------- helpers ----------

var uuidRegex = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

type testServer struct {
	srv   *httptest.Server
	wsURL string
	hub   *Hub
	db    *DB
}

type serverOption func(*Config)

func withAdmin(pass string) serverOption {
	return func(c *Config) { c.AdminPass = pass }
}

func withMaxPlayers(n int) serverOption {
	return func(c *Config) { c.MaxPlayers = n }
}

func withHistory() serverOption {
	return func(c *Config) { c.DBPath = "history.db" }
}

// startTestServer wires a full server around an httptest.Server the same
// way main does, with a static client dir and a small fixed maze
func startTestServer(t *testing.T, opts ...serverOption) *testServer {
	t.Helper()
	cfg := sessionConfig(t)
	for _, o := range opts {
		o(&cfg)
	}

	tmpDir := t.TempDir()
	cfg.ClientDir = filepath.Join(tmpDir, "client")
	os.MkdirAll(filepath.Join(cfg.ClientDir, "js"), 0o755)
	os.WriteFile(filepath.Join(cfg.ClientDir, "index.html"), []byte("<html>pacman</html>"), 0o644)
	os.WriteFile(filepath.Join(cfg.ClientDir, "js", "main.js"), []byte("// test"), 0o644)

	ts := &testServer{}
	var sink RoundSink
	if cfg.DBPath != "" {
		db, err := OpenDB(filepath.Join(tmpDir, cfg.DBPath))
		if err != nil {
			t.Fatal(err)
		}
		ts.db = db
		sink = recorderFunc(func(r RoundResult) {
			if _, err := db.InsertRound(r); err != nil {
				t.Errorf("insert round: %v", err)
			}
		})
	}
	admin, err := NewAdminAuth(ts.db, cfg.AdminPass)
	if err != nil {
		t.Fatal(err)
	}
	perf := NewPerfMonitor()
	sessions := NewSessionManager(cfg, sink, perf)
	ts.hub = NewHub(cfg, sessions, ts.db, admin, perf)
	go ts.hub.Run()

	ts.srv = httptest.NewServer(SetupRoutes(ts.hub))
	ts.wsURL = "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/ws"
	t.Cleanup(func() {
		sessions.Shutdown("test over")
		ts.srv.Close()
		if ts.db != nil {
			ts.db.Close()
		}
	})
	return ts
}

type recorderFunc func(RoundResult)

func (f recorderFunc) Record(r RoundResult) { f(r) }

// dialWS opens a WebSocket connection to the test server.
func dialWS(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial WS: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// sendMsg sends a typed message over the WebSocket.
func sendMsg(t *testing.T, conn *websocket.Conn, msgType string, data interface{}) {
	t.Helper()
	raw, _ := json.Marshal(Envelope{T: msgType, Data: data})
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("write WS: %v", err)
	}
}

// readEnvelope reads one message. Binary frames are msgpack envelopes and
// are re-encoded as JSON so callers can treat both formats alike.
func readEnvelope(t *testing.T, conn *websocket.Conn) InEnvelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read WS: %v", err)
	}
	if msgType == websocket.BinaryMessage {
		var env struct {
			T string `msgpack:"t"`
			D any    `msgpack:"d"`
		}
		if err := msgpack.Unmarshal(raw, &env); err != nil {
			t.Fatalf("msgpack unmarshal: %v", err)
		}
		d, _ := json.Marshal(env.D)
		return InEnvelope{T: env.T, D: d}
	}
	var env InEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return env
}

// readUntil skips messages until one of the given kind arrives
func readUntil(t *testing.T, conn *websocket.Conn, kind string, v any) {
	t.Helper()
	for i := 0; i < 100; i++ {
		env := readEnvelope(t, conn)
		if env.T != kind {
			continue
		}
		if v != nil {
			if err := json.Unmarshal(env.D, v); err != nil {
				t.Fatalf("decode %s: %v", kind, err)
			}
		}
		return
	}
	t.Fatalf("no %s message received", kind)
}

func joinWS(t *testing.T, conn *websocket.Conn, name string) LobbyJoinedMsg {
	t.Helper()
	sendMsg(t, conn, MsgJoinGame, JoinMsg{Name: name})
	var joined LobbyJoinedMsg
	readUntil(t, conn, MsgLobbyJoined, &joined)
	return joined
}

func postJSON(t *testing.T, url, token string, body any) *http.Response {
	t.Helper()
	raw, _ := json.Marshal(body)
	req, _ := http.NewRequest(http.MethodPost, url, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// ---------- ID generation ----------

func TestGenerateUUIDFormat(t *testing.T) {
	for i := 0; i < 20; i++ {
		id := GenerateUUID()
		if !uuidRegex.MatchString(id) {
			t.Errorf("GenerateUUID() = %q, does not match UUID v4 format", id)
		}
	}
}

func TestGenerateUUIDUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := GenerateUUID()
		if seen[id] {
			t.Fatalf("duplicate UUID generated: %s", id)
		}
		seen[id] = true
	}
}

func TestGenerateIDLength(t *testing.T) {
	for _, n := range []int{4, 8, 16} {
		if id := GenerateID(n); len(id) != n*2 {
			t.Errorf("GenerateID(%d) length = %d, want %d", n, len(id), n*2)
		}
	}
}

func TestClamp(t *testing.T) {
	tests := []struct{ v, lo, hi, want int }{
		{5, 1, 10, 5},
		{-1, 1, 10, 1},
		{50, 1, 10, 10},
	}
	for _, tt := range tests {
		if got := clampInt(tt.v, tt.lo, tt.hi); got != tt.want {
			t.Errorf("clampInt(%d, %d, %d) = %d, want %d", tt.v, tt.lo, tt.hi, got, tt.want)
		}
	}
}

func TestSanitizeName(t *testing.T) {
	if got := sanitizeName("   "); got != defaultName {
		t.Errorf("blank name should default, got %q", got)
	}
	if got := sanitizeName("  Bob "); got != "Bob" {
		t.Errorf("expected trimmed name, got %q", got)
	}
	long := strings.Repeat("é", maxNameLen+4)
	if got := sanitizeName(long); len([]rune(got)) != maxNameLen {
		t.Errorf("expected %d runes, got %d", maxNameLen, len([]rune(got)))
	}
}

// ---------- WebSocket flow ----------

func TestSessionIDIsUUID(t *testing.T) {
	ts := startTestServer(t)
	conn := dialWS(t, ts.wsURL)
	joined := joinWS(t, conn, "Alice")
	if !uuidRegex.MatchString(joined.PlayerID) {
		t.Errorf("player ID %q is not a valid UUID v4", joined.PlayerID)
	}
	g := ts.hub.sessions.Current()
	if g == nil || !uuidRegex.MatchString(g.ID) {
		t.Error("session ID should be a UUID")
	}
}

func TestJoinAndStartOverWS(t *testing.T) {
	ts := startTestServer(t)
	conn := dialWS(t, ts.wsURL)

	joined := joinWS(t, conn, "Alice")
	if !joined.IsHost {
		t.Error("first player should be host")
	}
	if joined.LobbyState.Phase != PhaseLobby || joined.LobbyState.PlayerCount != 1 {
		t.Errorf("unexpected lobby %+v", joined.LobbyState)
	}

	sendMsg(t, conn, MsgStartGame, nil)
	var started GameStartedMsg
	readUntil(t, conn, MsgGameStarted, &started)
	if started.Round != 1 || len(started.Players) != 1 || len(started.MapData) != 7 {
		t.Errorf("unexpected snapshot round=%d players=%d rows=%d", started.Round, len(started.Players), len(started.MapData))
	}
	if started.TileSize != 20 {
		t.Errorf("expected tile size 20, got %d", started.TileSize)
	}

	sendMsg(t, conn, MsgPlayerMove, MoveMsg{Direction: DirRight})
	var moved PlayerMovedMsg
	readUntil(t, conn, MsgPlayerMoved, &moved)
	if moved.PlayerID != joined.PlayerID || moved.Position != (Position{40, 20}) {
		t.Errorf("unexpected move %+v", moved)
	}
}

func TestSecondPlayerSeesJoin(t *testing.T) {
	ts := startTestServer(t)
	host := dialWS(t, ts.wsURL)
	joinWS(t, host, "Alice")

	guest := dialWS(t, ts.wsURL)
	joined := joinWS(t, guest, "Bob")
	if joined.IsHost {
		t.Error("second player should not be host")
	}

	var pj PlayerJoinedMsg
	readUntil(t, host, MsgPlayerJoined, &pj)
	if pj.PlayerID != joined.PlayerID || pj.Name != "Bob" {
		t.Errorf("unexpected player_joined %+v", pj)
	}
}

func TestGameFullOverWS(t *testing.T) {
	ts := startTestServer(t, withMaxPlayers(1))
	joinWS(t, dialWS(t, ts.wsURL), "Alice")

	conn := dialWS(t, ts.wsURL)
	sendMsg(t, conn, MsgJoinGame, JoinMsg{Name: "Bob"})
	var full MessageMsg
	readUntil(t, conn, MsgGameFull, &full)
	if full.Message != "Game is full. Maximum 1 players allowed." {
		t.Errorf("unexpected message %q", full.Message)
	}
}

func TestDefaultPlayerName(t *testing.T) {
	ts := startTestServer(t)
	conn := dialWS(t, ts.wsURL)
	joined := joinWS(t, conn, "  ")
	if len(joined.LobbyState.Players) != 1 || joined.LobbyState.Players[0].Name != defaultName {
		t.Errorf("expected default name, got %+v", joined.LobbyState.Players)
	}
}

func TestDoubleJoinRejected(t *testing.T) {
	ts := startTestServer(t)
	conn := dialWS(t, ts.wsURL)
	joinWS(t, conn, "Alice")
	sendMsg(t, conn, MsgJoinGame, JoinMsg{Name: "Again"})
	var msg MessageMsg
	readUntil(t, conn, MsgError, &msg)
	if msg.Message != "Already in the game" {
		t.Errorf("unexpected error %q", msg.Message)
	}
}

func TestInputBeforeJoin(t *testing.T) {
	ts := startTestServer(t)
	conn := dialWS(t, ts.wsURL)
	sendMsg(t, conn, MsgPlayerMove, MoveMsg{Direction: DirUp})
	var msg MessageMsg
	readUntil(t, conn, MsgError, &msg)
	if msg.Message != "Join the game first" {
		t.Errorf("unexpected error %q", msg.Message)
	}
}

func TestUnknownAndMalformedMessages(t *testing.T) {
	ts := startTestServer(t)
	conn := dialWS(t, ts.wsURL)

	sendMsg(t, conn, "fly", nil)
	var msg MessageMsg
	readUntil(t, conn, MsgError, &msg)
	if msg.Message != "Unknown message type: fly" {
		t.Errorf("unexpected error %q", msg.Message)
	}

	conn.WriteMessage(websocket.TextMessage, []byte("{not json"))
	readUntil(t, conn, MsgError, &msg)
	if msg.Message != "Malformed message" {
		t.Errorf("unexpected error %q", msg.Message)
	}
}

func TestInvalidDirectionOverWS(t *testing.T) {
	ts := startTestServer(t)
	conn := dialWS(t, ts.wsURL)
	joinWS(t, conn, "Alice")
	sendMsg(t, conn, MsgPlayerMove, map[string]int{"direction": 5})
	var msg MessageMsg
	readUntil(t, conn, MsgError, &msg)
	if msg.Message != "Invalid direction" {
		t.Errorf("unexpected error %q", msg.Message)
	}
}

func TestBinaryClient(t *testing.T) {
	ts := startTestServer(t)
	conn := dialWS(t, ts.wsURL)
	sendMsg(t, conn, MsgJoinGame, JoinMsg{Name: "Bin", Binary: true})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, _, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if msgType != websocket.BinaryMessage {
		t.Fatalf("expected a binary frame, got type %d", msgType)
	}

	sendMsg(t, conn, MsgStartGame, nil)
	readUntil(t, conn, MsgGameStarted, nil)

	// [0x01, index into Directions]; 3 is right
	if err := conn.WriteMessage(websocket.BinaryMessage, []byte{0x01, 3}); err != nil {
		t.Fatal(err)
	}
	var moved PlayerMovedMsg
	readUntil(t, conn, MsgPlayerMoved, &moved)
	if moved.Direction != DirRight {
		t.Errorf("expected move right, got %s", moved.Direction)
	}
}

func TestLeaveWithoutJoining(t *testing.T) {
	ts := startTestServer(t)
	conn := dialWS(t, ts.wsURL)
	sendMsg(t, conn, MsgLeaveGame, nil)
	sendMsg(t, conn, MsgGetLobbyState, nil)
	var msg MessageMsg
	readUntil(t, conn, MsgError, &msg)
	if msg.Message != "Join the game first" {
		t.Errorf("unexpected error %q", msg.Message)
	}
}

func TestDisconnectNotifiesOthers(t *testing.T) {
	ts := startTestServer(t)
	host := dialWS(t, ts.wsURL)
	joinWS(t, host, "Alice")
	guest := dialWS(t, ts.wsURL)
	joined := joinWS(t, guest, "Bob")

	guest.Close()
	var msg PlayerIDMsg
	readUntil(t, host, MsgPlayerDisconnected, &msg)
	if msg.PlayerID != joined.PlayerID {
		t.Errorf("expected %s to disconnect, got %s", joined.PlayerID, msg.PlayerID)
	}
}

func TestDisconnectLastPlayerTearsDownSession(t *testing.T) {
	ts := startTestServer(t)
	conn := dialWS(t, ts.wsURL)
	joinWS(t, conn, "Alice")
	first := ts.hub.sessions.Current()

	conn.Close()
	waitFor(t, "session teardown", func() bool { return ts.hub.sessions.Current() == nil })
	waitFor(t, "connection release", func() bool { return ts.hub.TotalConns() == 0 })

	again := dialWS(t, ts.wsURL)
	if joined := joinWS(t, again, "Carol"); !joined.IsHost {
		t.Error("a fresh session makes its first player host")
	}
	if ts.hub.sessions.Current() == first {
		t.Error("expected a new session")
	}
}

func TestShutdownOverWS(t *testing.T) {
	ts := startTestServer(t)
	conn := dialWS(t, ts.wsURL)
	joinWS(t, conn, "Alice")

	ts.hub.sessions.Shutdown("Server shutting down")
	var msg GameEndedMsg
	readUntil(t, conn, MsgGameEnded, &msg)
	if msg.Message != "Server shutting down" || len(msg.Leaderboard) != 1 {
		t.Errorf("unexpected game_ended %+v", msg)
	}
}

// ---------- HTTP endpoints ----------

func TestHealthz(t *testing.T) {
	ts := startTestServer(t)
	resp, err := http.Get(ts.srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var h healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		t.Fatal(err)
	}
	if h.Status != "ok" || h.Session != nil || h.Clients != 0 {
		t.Errorf("unexpected idle health %+v", h)
	}

	joinWS(t, dialWS(t, ts.wsURL), "Alice")
	waitFor(t, "stats", func() bool { return ts.hub.sessions.Current().Stats().Players == 1 })
	waitFor(t, "hub client", func() bool { return ts.hub.ClientCount() == 1 })
	resp2, err := http.Get(ts.srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	h = healthResponse{}
	json.NewDecoder(resp2.Body).Decode(&h)
	if h.Session == nil || h.Session.Players != 1 || h.Conns != 1 {
		t.Errorf("unexpected health %+v", h)
	}
	if h.Clients != 1 {
		t.Errorf("expected 1 client, got %d", h.Clients)
	}
	if h.Session != nil && h.Session.Conns != 1 {
		t.Errorf("expected 1 attached connection, got %d", h.Session.Conns)
	}
}

func TestJoinQRCode(t *testing.T) {
	ts := startTestServer(t)
	resp, err := http.Get(ts.srv.URL + "/join.png")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Errorf("expected image/png, got %s", ct)
	}
	buf := make([]byte, 8)
	if _, err := resp.Body.Read(buf); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf, []byte("\x89PNG\r\n\x1a\n")) {
		t.Errorf("not a PNG: %x", buf)
	}
}

func TestJoinURL(t *testing.T) {
	h := &Hub{}
	r := httptest.NewRequest(http.MethodGet, "/join.png", nil)
	r.Host = "arcade.local:8080"
	if got := h.joinURL(r); got != "http://arcade.local:8080/" {
		t.Errorf("unexpected url %s", got)
	}
	r.Header.Set("X-Forwarded-Proto", "https")
	if got := h.joinURL(r); got != "https://arcade.local:8080/" {
		t.Errorf("unexpected url %s", got)
	}
	h.cfg.PublicURL = "https://pac.example/"
	if got := h.joinURL(r); got != "https://pac.example/" {
		t.Errorf("public url should win, got %s", got)
	}
}

func TestLeaderboardDisabled(t *testing.T) {
	ts := startTestServer(t)
	resp, err := http.Get(ts.srv.URL + "/api/leaderboard")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503 without history, got %d", resp.StatusCode)
	}
}

func TestLeaderboardAfterRound(t *testing.T) {
	ts := startTestServer(t, withHistory())
	conn := dialWS(t, ts.wsURL)
	joinWS(t, conn, "Alice")
	sendMsg(t, conn, MsgStartGame, nil)
	readUntil(t, conn, MsgGameStarted, nil)
	sendMsg(t, conn, MsgPlayerMove, MoveMsg{Direction: DirRight})
	readUntil(t, conn, MsgPelletCollected, nil)
	sendMsg(t, conn, MsgEndRound, nil)
	readUntil(t, conn, MsgRoundEnded, nil)

	resp, err := http.Get(ts.srv.URL + "/api/leaderboard?limit=5")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var lb leaderboardResponse
	if err := json.NewDecoder(resp.Body).Decode(&lb); err != nil {
		t.Fatal(err)
	}
	if len(lb.Recent) != 1 || lb.Recent[0].Reason != ReasonHostEnded {
		t.Fatalf("unexpected recent rounds %+v", lb.Recent)
	}
	if len(lb.Top) != 1 || lb.Top[0].Name != "Alice" || lb.Top[0].Score != 10 {
		t.Errorf("unexpected top scores %+v", lb.Top)
	}

	bad, err := http.Get(ts.srv.URL + "/api/leaderboard?limit=abc")
	if err != nil {
		t.Fatal(err)
	}
	bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for bad limit, got %d", bad.StatusCode)
	}
}

func TestAdminEndRound(t *testing.T) {
	ts := startTestServer(t, withAdmin("hunter2"))

	resp := postJSON(t, ts.srv.URL+"/admin/login", "", loginRequest{Password: "nope"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", resp.StatusCode)
	}
	resp = postJSON(t, ts.srv.URL+"/admin/login", "", loginRequest{Password: "hunter2"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	token := body["token"]

	if resp := postJSON(t, ts.srv.URL+"/admin/end-round", "", nil); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", resp.StatusCode)
	}
	if resp := postJSON(t, ts.srv.URL+"/admin/end-round", token, nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 without a session, got %d", resp.StatusCode)
	}

	conn := dialWS(t, ts.wsURL)
	joinWS(t, conn, "Alice")
	sendMsg(t, conn, MsgStartGame, nil)
	readUntil(t, conn, MsgGameStarted, nil)

	if resp := postJSON(t, ts.srv.URL+"/admin/end-round", token, nil); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	var ended RoundEndedMsg
	readUntil(t, conn, MsgRoundEnded, &ended)
	if ended.Reason != ReasonExternal {
		t.Errorf("expected external reason, got %s", ended.Reason)
	}
}

func TestAdminDisabledReturnsNotFound(t *testing.T) {
	ts := startTestServer(t)
	resp := postJSON(t, ts.srv.URL+"/admin/login", "", loginRequest{Password: "x"})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestStaticClient(t *testing.T) {
	ts := startTestServer(t)
	resp, err := http.Get(ts.srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET / status = %d, want 200", resp.StatusCode)
	}
	if cc := resp.Header.Get("Cache-Control"); cc != "no-cache" {
		t.Errorf("Cache-Control = %q, want no-cache", cc)
	}

	js, err := http.Get(ts.srv.URL + "/js/main.js")
	if err != nil {
		t.Fatal(err)
	}
	js.Body.Close()
	if js.StatusCode != http.StatusOK {
		t.Errorf("GET /js/main.js status = %d, want 200", js.StatusCode)
	}
}

func TestHubConnectionLimits(t *testing.T) {
	h := NewHub(testConfig(), nil, nil, nil, nil)
	for i := 0; i < maxConnsPerIP; i++ {
		if !h.CanAccept("1.1.1.1") {
			t.Fatalf("connection %d should be accepted", i+1)
		}
		h.TrackConnect("1.1.1.1")
	}
	if h.CanAccept("1.1.1.1") {
		t.Error("per-IP limit should apply")
	}
	if !h.CanAccept("2.2.2.2") {
		t.Error("other addresses are unaffected")
	}
	h.TrackDisconnect("1.1.1.1")
	if !h.CanAccept("1.1.1.1") || h.TotalConns() != maxConnsPerIP-1 {
		t.Errorf("expected a freed slot, total %d", h.TotalConns())
	}
}
