package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/TKAles/transfercontrollerdaemon/internal/audit"
	"github.com/TKAles/transfercontrollerdaemon/internal/history"
	"github.com/TKAles/transfercontrollerdaemon/internal/infrastructure/config"
	"github.com/TKAles/transfercontrollerdaemon/internal/infrastructure/database"
	"github.com/TKAles/transfercontrollerdaemon/internal/infrastructure/logging"
	"github.com/TKAles/transfercontrollerdaemon/internal/motion"
	"github.com/TKAles/transfercontrollerdaemon/internal/positions"
	"github.com/TKAles/transfercontrollerdaemon/internal/transfer"
	"github.com/TKAles/transfercontrollerdaemon/migrations"
)

type testEnv struct {
	srv     *Server
	router  http.Handler
	engine  *transfer.Engine
	sim     *motion.Simulator
	store   *positions.Store
	history *history.SQLiteRepository
	audit   *audit.SQLiteRepository
}

// testServer wires a Server to a simulated controller and a migrated
// SQLite database.
func testServer(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{Path: filepath.Join(t.TempDir(), "api.db")})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(ctx, migrations.Source); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	store := positions.NewStore(positions.NewSQLiteRepository(db.DB))
	hist := history.NewSQLiteRepository(db.DB)
	auditLog := audit.NewSQLiteRepository(db.DB)

	cfg := transfer.DefaultConfig()
	cfg.PollInterval = 2 * time.Millisecond
	cfg.InterlockInterval = time.Millisecond
	cfg.HomeOnConnect = false

	sim := motion.NewSimulator(motion.SimulatorConfig{})
	reg := prometheus.NewRegistry()
	engine := transfer.New(cfg, transfer.Deps{
		Dial:       func(context.Context) (motion.Controller, error) { return sim, nil },
		Targets:    store,
		Registerer: reg,
	})
	store.OnChange(engine.SetTargets)
	t.Cleanup(func() { engine.Close(context.Background()) }) //nolint:errcheck // Test cleanup

	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		WS: config.WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Metrics:   config.MetricsConfig{Enabled: true, Path: "/metrics"},
		Logger:    log,
		Engine:    engine,
		Positions: store,
		History:   hist,
		Audit:     auditLog,
		DB:        db,
		Gatherer:  reg,
		Version:   "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	return &testEnv{srv: srv, router: srv.buildRouter(), engine: engine, sim: sim, store: store, history: hist, audit: auditLog}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return v
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestNew_RequiresDeps(t *testing.T) {
	log := logging.Default()
	if _, err := New(Deps{}); err == nil {
		t.Error("New() without logger succeeded")
	}
	if _, err := New(Deps{Logger: log}); err == nil {
		t.Error("New() without engine succeeded")
	}
	if _, err := New(Deps{Logger: log, Engine: transfer.New(transfer.DefaultConfig(), transfer.Deps{})}); err == nil {
		t.Error("New() without position store succeeded")
	}
}

// ─── Health and middleware ─────────────────────────────────────────

func TestHealth(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	resp := decode[map[string]any](t, w)
	if resp["status"] != "ok" || resp["version"] != "test" || resp["mode"] != "offline" {
		t.Errorf("health = %v", resp)
	}
}

func TestRequestID(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodGet, "/api/v1/health", "")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want client-123", got)
	}
}

func TestCORS_Preflight(t *testing.T) {
	env := testServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/auto", nil)
	req.Header.Set("Origin", "http://hmi.local")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://hmi.local" {
		t.Errorf("ACAO = %q", got)
	}
}

func TestNotFound(t *testing.T) {
	env := testServer(t)

	if w := env.do(t, http.MethodGet, "/api/v1/nonexistent", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "transferd_engine_mode") {
		t.Error("engine mode gauge missing from exposition")
	}
}

func TestSystem(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodGet, "/api/v1/system", "")
	if w.Code != http.StatusOK {
		t.Fatalf("system status = %d", w.Code)
	}
	info := decode[SystemInfo](t, w)
	if info.Version != "test" || info.Database == nil {
		t.Errorf("system = %+v", info)
	}
	if len(info.Dependencies) != 1 || info.Dependencies[0].Name != "database" || !info.Dependencies[0].Healthy {
		t.Errorf("dependencies = %+v", info.Dependencies)
	}
}

// ─── Engine control ────────────────────────────────────────────────

func TestStatus_Offline(t *testing.T) {
	env := testServer(t)

	st := decode[transfer.Status](t, env.do(t, http.MethodGet, "/api/v1/status", ""))
	if st.Mode != transfer.ModeOffline || st.Status != transfer.StatusNotConnected {
		t.Errorf("status = %+v", st)
	}
}

func TestConnectAndDisconnect(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodPost, "/api/v1/connect", "")
	if w.Code != http.StatusOK {
		t.Fatalf("connect status = %d: %s", w.Code, w.Body.String())
	}
	if st := decode[transfer.Status](t, w); st.Mode != transfer.ModeOnline {
		t.Errorf("mode after connect = %q", st.Mode)
	}

	w = env.do(t, http.MethodPost, "/api/v1/connect", "")
	if w.Code != http.StatusConflict {
		t.Errorf("second connect status = %d, want 409", w.Code)
	}

	w = env.do(t, http.MethodPost, "/api/v1/disconnect", "")
	if w.Code != http.StatusOK {
		t.Fatalf("disconnect status = %d", w.Code)
	}
	if env.engine.Mode() != transfer.ModeOffline {
		t.Errorf("mode after disconnect = %q", env.engine.Mode())
	}
}

func TestHome_NotConnected(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodPost, "/api/v1/home", "")
	if w.Code != http.StatusConflict {
		t.Fatalf("home status = %d, want 409", w.Code)
	}
	if e := decode[Error](t, w); e.Code != ErrCodeNotConnected {
		t.Errorf("error code = %q", e.Code)
	}
}

func TestHome_Accepted(t *testing.T) {
	env := testServer(t)
	env.do(t, http.MethodPost, "/api/v1/connect", "")

	w := env.do(t, http.MethodPost, "/api/v1/home", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("home status = %d: %s", w.Code, w.Body.String())
	}
	waitFor(t, "homing complete", func() bool {
		return env.engine.Status().Status == transfer.StatusHomed
	})
}

func TestSetAuto(t *testing.T) {
	env := testServer(t)

	if w := env.do(t, http.MethodPut, "/api/v1/auto", "{"); w.Code != http.StatusBadRequest {
		t.Errorf("bad JSON status = %d", w.Code)
	}
	if w := env.do(t, http.MethodPut, "/api/v1/auto", "{}"); w.Code != http.StatusBadRequest {
		t.Errorf("missing enabled status = %d", w.Code)
	}
	if w := env.do(t, http.MethodPut, "/api/v1/auto", `{"enabled":true}`); w.Code != http.StatusConflict {
		t.Errorf("auto while offline status = %d, want 409", w.Code)
	}

	env.do(t, http.MethodPost, "/api/v1/connect", "")
	w := env.do(t, http.MethodPut, "/api/v1/auto", `{"enabled":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("auto on status = %d: %s", w.Code, w.Body.String())
	}
	if m := env.engine.Mode(); m != transfer.ModeAutoIdle && m != transfer.ModeAutoRunning {
		t.Errorf("mode = %q, want auto", m)
	}

	if w := env.do(t, http.MethodPut, "/api/v1/auto", `{"enabled":false}`); w.Code != http.StatusOK {
		t.Errorf("auto off status = %d", w.Code)
	}
	waitFor(t, "online", func() bool { return env.engine.Mode() == transfer.ModeOnline })
}

// ─── Zone targets ──────────────────────────────────────────────────

func TestPositions_SetAndGet(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodPut, "/api/v1/positions/sras_load", `{"x":40000,"y":8000,"z":2500}`)
	if w.Code != http.StatusOK {
		t.Fatalf("set status = %d: %s", w.Code, w.Body.String())
	}

	set := decode[positions.Set](t, env.do(t, http.MethodGet, "/api/v1/positions", ""))
	want := positions.Target{X: 40000, Y: 8000, Z: 2500}
	if set.SrasLoad != want {
		t.Errorf("SrasLoad = %+v, want %+v", set.SrasLoad, want)
	}
	if env.engine.Targets().SrasLoad != want {
		t.Error("engine did not receive the new target")
	}
}

func TestPositions_UnknownZone(t *testing.T) {
	env := testServer(t)

	if w := env.do(t, http.MethodPut, "/api/v1/positions/kitchen", `{"x":1}`); w.Code != http.StatusNotFound {
		t.Errorf("unknown zone status = %d, want 404", w.Code)
	}
}

func TestPositions_Replace(t *testing.T) {
	env := testServer(t)

	body := `{"robomet_load":{"x":1,"y":2,"z":3},"xz_transfer":{"x":4,"y":5,"z":6},"sras_load":{"x":7,"y":8,"z":9}}`
	if w := env.do(t, http.MethodPut, "/api/v1/positions", body); w.Code != http.StatusOK {
		t.Fatalf("replace status = %d: %s", w.Code, w.Body.String())
	}
	if got := env.store.Current().XZTransfer; got != (positions.Target{X: 4, Y: 5, Z: 6}) {
		t.Errorf("XZTransfer = %+v", got)
	}
}

func TestPositions_Sync(t *testing.T) {
	env := testServer(t)

	if w := env.do(t, http.MethodPost, "/api/v1/positions/xz_transfer/sync", ""); w.Code != http.StatusConflict {
		t.Errorf("sync while offline status = %d, want 409", w.Code)
	}

	env.do(t, http.MethodPost, "/api/v1/connect", "")
	if err := env.sim.MoveAbsolute(context.Background(), motion.AxisX, 1234); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "observation at 1234", func() bool {
		obs, ok := env.engine.Observation()
		return ok && obs.X == 1234
	})

	w := env.do(t, http.MethodPost, "/api/v1/positions/xz_transfer/sync", "")
	if w.Code != http.StatusOK {
		t.Fatalf("sync status = %d: %s", w.Code, w.Body.String())
	}
	if got := env.store.Current().XZTransfer.X; got != 1234 {
		t.Errorf("taught X = %d, want 1234", got)
	}
}

// ─── History ───────────────────────────────────────────────────────

func TestCycles(t *testing.T) {
	env := testServer(t)
	ctx := context.Background()

	start := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	for i, id := range []string{"cyc-a", "cyc-b"} {
		rec := transfer.CycleRecord{
			ID:        id,
			StartedAt: start.Add(time.Duration(i) * time.Minute),
			EndedAt:   start.Add(time.Duration(i)*time.Minute + 30*time.Second),
			Outcome:   transfer.CycleComplete,
		}
		if err := env.history.RecordCycle(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	w := env.do(t, http.MethodGet, "/api/v1/cycles?limit=1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("cycles status = %d", w.Code)
	}
	resp := decode[struct {
		Cycles []transfer.CycleRecord `json:"cycles"`
		Count  int                    `json:"count"`
	}](t, w)
	if resp.Count != 1 || resp.Cycles[0].ID != "cyc-b" {
		t.Errorf("cycles = %+v", resp)
	}

	if w := env.do(t, http.MethodGet, "/api/v1/cycles/cyc-a", ""); w.Code != http.StatusOK {
		t.Errorf("get cycle status = %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/api/v1/cycles/cyc-zzz", ""); w.Code != http.StatusNotFound {
		t.Errorf("missing cycle status = %d, want 404", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/api/v1/cycles?limit=zero", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/api/v1/faults?since=yesterday", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad since status = %d, want 400", w.Code)
	}
}

func TestAuditTrail(t *testing.T) {
	env := testServer(t)

	// Fails while offline, then succeeds.
	env.do(t, http.MethodPut, "/api/v1/auto", `{"enabled":true}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/connect", nil)
	req.Header.Set("X-Operator", "jdoe")
	env.router.ServeHTTP(httptest.NewRecorder(), req)
	env.do(t, http.MethodPut, "/api/v1/positions/robomet_load", `{"x":10,"y":20,"z":30}`)

	w := env.do(t, http.MethodGet, "/api/v1/audit", "")
	if w.Code != http.StatusOK {
		t.Fatalf("audit status = %d", w.Code)
	}
	res := decode[audit.ListResult](t, w)
	if res.Total != 3 {
		t.Fatalf("audit entries = %+v", res.Entries)
	}
	byAction := map[string]audit.Entry{}
	for _, e := range res.Entries {
		byAction[e.Action] = e
	}
	if e := byAction[audit.ActionAutoOn]; e.Outcome != audit.OutcomeFailed || e.Error == "" {
		t.Errorf("auto_on entry = %+v", e)
	}
	if e := byAction[audit.ActionConnect]; e.Outcome != audit.OutcomeOK || e.Actor != "jdoe" {
		t.Errorf("connect entry = %+v", e)
	}
	if e := byAction[audit.ActionSetTarget]; e.Zone != "robomet_load" || e.Source != audit.SourceAPI {
		t.Errorf("set_target entry = %+v", e)
	}

	filtered := decode[audit.ListResult](t, env.do(t, http.MethodGet, "/api/v1/audit?action=connect", ""))
	if filtered.Total != 1 {
		t.Errorf("filtered total = %d, want 1", filtered.Total)
	}
	if w := env.do(t, http.MethodGet, "/api/v1/audit?limit=-1", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", w.Code)
	}
}

func TestHistoryDisabled(t *testing.T) {
	env := testServer(t)
	env.srv.history = nil
	env.srv.audit = nil

	if w := env.do(t, http.MethodGet, "/api/v1/faults", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("faults without history status = %d, want 503", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/api/v1/audit", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("audit without repository status = %d, want 503", w.Code)
	}
}

// ─── WebSocket ─────────────────────────────────────────────────────

func TestHub_BroadcastToSubscribed(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}, logging.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	phaseOnly := newWSClient(hub, nil, string(transfer.EventPhase))
	everything := newWSClient(hub, nil, WSChannelAll)
	hub.Register(phaseOnly)
	hub.Register(everything)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	hub.Broadcast(transfer.Event{Type: transfer.EventFault, At: at, Status: "command"})

	select {
	case msg := <-everything.send:
		var wsMsg WSMessage
		if err := json.Unmarshal(msg, &wsMsg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if wsMsg.Channel != string(transfer.EventFault) {
			t.Errorf("channel = %q, want fault", wsMsg.Channel)
		}
		if !wsMsg.At.Equal(at) {
			t.Errorf("at = %v, want %v", wsMsg.At, at)
		}
	case <-time.After(time.Second):
		t.Error("wildcard client missed the broadcast")
	}

	select {
	case <-phaseOnly.send:
		t.Error("phase-only client received a fault")
	case <-time.After(50 * time.Millisecond):
	}

	hub.Unregister(phaseOnly)
	if hub.ClientCount() != 1 {
		t.Errorf("client count = %d, want 1", hub.ClientCount())
	}
	// Unregistered clients are closed; a late broadcast must not panic.
	hub.Broadcast(transfer.Event{Type: transfer.EventPhase})
	hub.Unregister(phaseOnly)
}

func TestHub_CountsDroppedEvents(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}, logging.Default())
	slow := newWSClient(hub, nil, WSChannelAll)
	hub.Register(slow)

	for range wsSendBufferSize + 3 {
		hub.Broadcast(transfer.Event{Type: transfer.EventPosition})
	}
	if got := hub.Dropped(); got != 3 {
		t.Errorf("Dropped() = %d, want 3", got)
	}
	if len(slow.send) != wsSendBufferSize {
		t.Errorf("queued = %d, want %d", len(slow.send), wsSendBufferSize)
	}
}

func TestWSClient_RejectsUnknownChannel(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, logging.Default())
	c := newWSClient(hub, nil)

	c.handle([]byte(`{"type":"subscribe","id":"s1","payload":{"channels":["phase","telemetry"]}}`))

	var msg WSMessage
	if err := json.Unmarshal(<-c.send, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != WSTypeError || msg.ID != "s1" {
		t.Errorf("reply = %+v, want error for s1", msg)
	}
	if c.subscribed(string(transfer.EventPhase)) {
		t.Error("a rejected subscribe must not add any channel")
	}

	c.handle([]byte(`{"type":"subscribe","id":"s2","payload":{"channels":["phase"]}}`))
	c.handle([]byte(`{"type":"unsubscribe","id":"s3","payload":{"channels":["phase"]}}`))
	if c.subscribed(string(transfer.EventPhase)) {
		t.Error("phase still subscribed after unsubscribe")
	}
	if len(c.send) != 2 {
		t.Errorf("replies = %d, want 2", len(c.send))
	}
}

func TestWebSocket_StatusThenEvents(t *testing.T) {
	env := testServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go env.srv.hub.Run(ctx)
	go env.srv.relayEvents(ctx)

	ts := httptest.NewServer(env.router)
	defer ts.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil) //nolint:bodyclose // upgraded connection
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer ws.Close()

	ws.SetReadDeadline(time.Now().Add(3 * time.Second)) //nolint:errcheck // test deadline
	var first WSMessage
	if err := ws.ReadJSON(&first); err != nil {
		t.Fatalf("read status: %v", err)
	}
	if first.Channel != WSChannelStatus {
		t.Fatalf("first message = %+v, want status", first)
	}

	// Wait until the relay is subscribed before triggering events.
	waitFor(t, "hub client", func() bool { return env.srv.hub.ClientCount() == 1 })
	if err := env.engine.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	for {
		var msg WSMessage
		if err := ws.ReadJSON(&msg); err != nil {
			t.Fatalf("read event: %v", err)
		}
		if msg.Channel == string(transfer.EventMode) {
			break
		}
	}
}

func TestWebSocket_PingAndErrors(t *testing.T) {
	env := testServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go env.srv.hub.Run(ctx)

	ts := httptest.NewServer(env.router)
	defer ts.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil) //nolint:bodyclose // upgraded connection
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer ws.Close()
	ws.SetReadDeadline(time.Now().Add(3 * time.Second)) //nolint:errcheck // test deadline

	var msg WSMessage
	if err := ws.ReadJSON(&msg); err != nil { // status
		t.Fatal(err)
	}

	if err := ws.WriteJSON(WSMessage{Type: WSTypePing, ID: "ping-1"}); err != nil {
		t.Fatal(err)
	}
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != WSTypePong || msg.ID != "ping-1" {
		t.Errorf("pong = %+v", msg)
	}

	if err := ws.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatal(err)
	}
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != WSTypeError {
		t.Errorf("response to garbage = %+v, want error", msg)
	}

	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: []string{"cycle", "fault"}},
	}); err != nil {
		t.Fatal(err)
	}
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != WSTypeResponse || msg.ID != "sub-1" {
		t.Errorf("subscribe response = %+v", msg)
	}
}
