package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/lanwake/internal/auth"
	"github.com/nerrad567/lanwake/internal/controller"
	"github.com/nerrad567/lanwake/internal/events"
	"github.com/nerrad567/lanwake/internal/infrastructure/config"
	"github.com/nerrad567/lanwake/internal/infrastructure/logging"
	"github.com/nerrad567/lanwake/internal/macaddr"
	"github.com/nerrad567/lanwake/internal/netstack"
	"github.com/nerrad567/lanwake/internal/ratelimit"
	"github.com/nerrad567/lanwake/internal/registry"
)

const (
	testUser     = "operator"
	testPassword = "correct horse"
	testRemote   = "192.168.1.50:40000"
)

var cheapParams = auth.Params{Time: 1, Memory: 64, Threads: 1, KeyLen: 16, SaltLen: 8}

type memRepo struct {
	mu   sync.Mutex
	macs []macaddr.MAC
}

func (m *memRepo) Load(context.Context) ([]macaddr.MAC, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]macaddr.MAC(nil), m.macs...), nil
}

func (m *memRepo) Save(_ context.Context, macs []macaddr.MAC) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.macs = append([]macaddr.MAC(nil), macs...)
	return nil
}

func (m *memRepo) Erase(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.macs = nil
	return nil
}

type fakeClock struct{ now atomic.Uint32 }

func (c *fakeClock) Now() ratelimit.Millis { return ratelimit.Millis(c.now.Load()) }

func (c *fakeClock) advance(d time.Duration) { c.now.Add(uint32(d.Milliseconds())) }

type fakeNetwork struct {
	iface netstack.Interface
	gw    netip.Addr
}

func (n fakeNetwork) InterfaceByName(string) (netstack.Interface, error)    { return n.iface, nil }
func (n fakeNetwork) InterfaceByAddr(netip.Addr) (netstack.Interface, error) { return n.iface, nil }
func (n fakeNetwork) Gateway(string) (netip.Addr, error)                    { return n.gw, nil }

type fakeController struct {
	conn    *controller.Connectivity
	pending atomic.Bool
}

func (c *fakeController) RequestScan() bool                      { return c.pending.CompareAndSwap(false, true) }
func (c *fakeController) ScanPending() bool                      { return c.pending.Load() }
func (c *fakeController) Connectivity() *controller.Connectivity { return c.conn }

type fakeWaker struct {
	mu    sync.Mutex
	calls []wakeCall
	err   error
}

type wakeCall struct {
	mac       macaddr.MAC
	broadcast netip.Addr
}

func (w *fakeWaker) Wake(_ context.Context, mac macaddr.MAC, broadcast netip.Addr) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.calls = append(w.calls, wakeCall{mac: mac, broadcast: broadcast})
	return nil
}

type testEnv struct {
	srv      *Server
	handler  http.Handler
	limiter  *ratelimit.Limiter
	clock    *fakeClock
	registry *registry.Registry
	ctrl     *fakeController
	waker    *fakeWaker
	verifier *auth.Verifier
	events   *[]events.Event
}

// newTestEnv builds a Server around fakes. The station link is up on
// 192.168.1.20/24 unless provisioned is false, in which case the verifier
// has no account.
func newTestEnv(t *testing.T, provisioned bool) *testEnv {
	t.Helper()

	verifier := auth.NewVerifier(15 * time.Minute)
	if provisioned {
		hash, err := auth.HashPasswordWith(testPassword, cheapParams)
		if err != nil {
			t.Fatalf("HashPasswordWith: %v", err)
		}
		verifier.SetCredentials(auth.Credentials{
			Username:     testUser,
			PasswordHash: hash,
			WorkerID:     "worker-1",
			JWTSecret:    strings.Repeat("k", 64),
		})
	}

	iface := netstack.Interface{
		Name:   "eth0",
		Index:  2,
		Up:     true,
		Addr:   netip.MustParseAddr("192.168.1.20"),
		Prefix: netip.MustParsePrefix("192.168.1.20/24"),
	}
	conn := controller.NewConnectivity(fakeNetwork{iface: iface, gw: netip.MustParseAddr("192.168.1.1")},
		"eth0", 200*time.Millisecond, time.Second)
	conn.HandleLinkEvent(netstack.LinkEvent{State: netstack.LinkUp, Interface: iface, At: time.Now()})

	reg := registry.New(&memRepo{}, 4)
	clock := &fakeClock{}
	clock.now.Store(1000)
	limiter := ratelimit.New(4, ratelimit.DefaultSlotTTL)

	var (
		mu        sync.Mutex
		published []events.Event
	)
	fanout := events.NewFanout()
	fanout.Add("capture", events.SinkFunc(func(e events.Event) {
		mu.Lock()
		published = append(published, e)
		mu.Unlock()
	}))

	ctrl := &fakeController{conn: conn}
	waker := &fakeWaker{}

	srv, err := New(Deps{
		Config: config.APIConfig{Host: "127.0.0.1", Port: 0},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logger:     logging.Discard(),
		Limiter:    limiter,
		Clock:      clock,
		Verifier:   verifier,
		Registry:   reg,
		Controller: ctrl,
		Waker:      waker,
		Events:     fanout,
		Version:    "test",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	return &testEnv{
		srv:      srv,
		handler:  srv.Handler(),
		limiter:  limiter,
		clock:    clock,
		registry: reg,
		ctrl:     ctrl,
		waker:    waker,
		verifier: verifier,
		events:   &published,
	}
}

func (e *testEnv) do(method, path string, body string, authorise func(*http.Request)) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.RemoteAddr = testRemote
	if authorise != nil {
		authorise(req)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func basic(user, pass string) func(*http.Request) {
	return func(r *http.Request) { r.SetBasicAuth(user, pass) }
}

func bearer(token string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decoding response: %v (body %q)", err, rec.Body.String())
	}
}

var callerAddr = netip.MustParseAddr("192.168.1.50")

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Fatal("New(Deps{}) should fail")
	}
	if _, err := New(Deps{Logger: logging.Discard()}); err == nil {
		t.Fatal("New without limiter should fail")
	}
}

func TestHealth_Ungated(t *testing.T) {
	env := newTestEnv(t, true)

	rec := env.do(http.MethodGet, "/api/v1/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	decode(t, rec, &body)
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("body = %v", body)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
}

func TestPanel_MountedUngated(t *testing.T) {
	env := newTestEnv(t, true)
	env.srv.panel = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte(r.URL.Path))
	})
	env.handler = env.srv.Handler()

	for _, path := range []string{"/", "/ui"} {
		rec := env.do(http.MethodGet, path, "", nil)
		if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/ui/" {
			t.Errorf("GET %s = %d Location %q, want 302 to /ui/", path, rec.Code, rec.Header().Get("Location"))
		}
	}

	rec := env.do(http.MethodGet, "/ui/app.js", "", nil)
	if rec.Code != http.StatusTeapot || rec.Body.String() != "/ui/app.js" {
		t.Errorf("GET /ui/app.js = %d %q, want panel handler", rec.Code, rec.Body.String())
	}
}

func TestPanel_AbsentByDefault(t *testing.T) {
	env := newTestEnv(t, true)

	if rec := env.do(http.MethodGet, "/ui/", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("GET /ui/ without panel = %d, want 404", rec.Code)
	}
}

func TestGate_MissingCredentialsIsNotAFailure(t *testing.T) {
	env := newTestEnv(t, true)

	rec := env.do(http.MethodGet, "/api/v1/devices", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if rec.Header().Get("WWW-Authenticate") == "" {
		t.Error("401 without WWW-Authenticate challenge")
	}
	if got := env.limiter.Failures(callerAddr); got != 0 {
		t.Errorf("Failures = %d, want 0", got)
	}
}

func TestGate_BadCredentialsThrottle(t *testing.T) {
	env := newTestEnv(t, true)

	rec := env.do(http.MethodGet, "/api/v1/devices", "", basic(testUser, "wrong"))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if got := env.limiter.Failures(callerAddr); got != 1 {
		t.Fatalf("Failures = %d, want 1", got)
	}

	// Even good credentials are rejected while the backoff runs.
	rec = env.do(http.MethodGet, "/api/v1/devices", "", basic(testUser, testPassword))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "5" {
		t.Errorf("Retry-After = %q, want 5", got)
	}

	env.clock.advance(5 * time.Second)
	rec = env.do(http.MethodGet, "/api/v1/devices", "", basic(testUser, testPassword))
	if rec.Code != http.StatusOK {
		t.Fatalf("status after backoff = %d, want 200", rec.Code)
	}
	if got := env.limiter.Failures(callerAddr); got != 0 {
		t.Errorf("Failures after success = %d, want 0", got)
	}
}

func TestGate_OtherCallersUnaffected(t *testing.T) {
	env := newTestEnv(t, true)

	env.do(http.MethodGet, "/api/v1/devices", "", basic(testUser, "wrong"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil)
	req.RemoteAddr = "192.168.1.51:40000"
	req.SetBasicAuth(testUser, testPassword)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestGate_NotProvisioned(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(http.MethodGet, "/api/v1/status", "", basic(testUser, testPassword))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if got := env.limiter.Failures(callerAddr); got != 0 {
		t.Errorf("Failures = %d, want 0", got)
	}
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t, true)

	rec := env.do(http.MethodPost, "/api/v1/auth/login", `{"username":"operator","password":"nope"}`, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad login status = %d, want 401", rec.Code)
	}
	if got := env.limiter.Failures(callerAddr); got != 1 {
		t.Fatalf("Failures = %d, want 1", got)
	}

	rec = env.do(http.MethodPost, "/api/v1/auth/login", `{"username":"operator","password":"correct horse"}`, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("login during backoff status = %d, want 429", rec.Code)
	}

	env.clock.advance(5 * time.Second)
	rec = env.do(http.MethodPost, "/api/v1/auth/login", `{"username":"operator","password":"correct horse"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	var resp loginResponse
	decode(t, rec, &resp)
	if resp.TokenType != "Bearer" || resp.AccessToken == "" {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.ExpiresIn <= 0 || resp.ExpiresIn > 900 {
		t.Errorf("ExpiresIn = %d, want (0, 900]", resp.ExpiresIn)
	}

	rec = env.do(http.MethodGet, "/api/v1/devices", "", bearer(resp.AccessToken))
	if rec.Code != http.StatusOK {
		t.Fatalf("bearer status = %d, want 200", rec.Code)
	}

	rec = env.do(http.MethodGet, "/api/v1/devices", "", bearer(resp.AccessToken+"x"))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("tampered bearer status = %d, want 401", rec.Code)
	}
}

func TestLogin_BadBody(t *testing.T) {
	env := newTestEnv(t, true)

	for _, body := range []string{"not json", `{"username":"operator"}`} {
		rec := env.do(http.MethodPost, "/api/v1/auth/login", body, nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, rec.Code)
		}
	}
}

func TestScan_Idempotent(t *testing.T) {
	env := newTestEnv(t, true)

	for i, wantPending := range []bool{false, true, true} {
		rec := env.do(http.MethodPost, "/api/v1/scan", "", basic(testUser, testPassword))
		if rec.Code != http.StatusAccepted {
			t.Fatalf("request %d: status = %d, want 202", i, rec.Code)
		}
		var resp scanResponse
		decode(t, rec, &resp)
		if resp.AlreadyPending != wantPending || resp.Accepted == wantPending {
			t.Errorf("request %d: resp = %+v, want already_pending=%v", i, resp, wantPending)
		}
	}
}

func TestDevices_ListAndClear(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()

	macs := []macaddr.MAC{
		macaddr.MustParse("AA:BB:CC:00:00:02"),
		macaddr.MustParse("AA:BB:CC:00:00:01"),
	}
	for _, m := range macs {
		if _, err := env.registry.Add(ctx, m); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	rec := env.do(http.MethodGet, "/api/v1/devices", "", basic(testUser, testPassword))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var list struct {
		Devices  []string `json:"devices"`
		Count    int      `json:"count"`
		Capacity int      `json:"capacity"`
	}
	decode(t, rec, &list)
	want := []string{"AA:BB:CC:00:00:02", "AA:BB:CC:00:00:01"}
	if strings.Join(list.Devices, ",") != strings.Join(want, ",") {
		t.Errorf("Devices = %v, want %v", list.Devices, want)
	}
	if list.Count != 2 || list.Capacity != 4 {
		t.Errorf("Count/Capacity = %d/%d, want 2/4", list.Count, list.Capacity)
	}

	rec = env.do(http.MethodDelete, "/api/v1/devices", "", basic(testUser, testPassword))
	if rec.Code != http.StatusOK {
		t.Fatalf("clear status = %d, want 200", rec.Code)
	}
	if env.registry.Len() != 0 {
		t.Errorf("registry Len = %d after clear", env.registry.Len())
	}

	evs := *env.events
	if len(evs) != 1 || evs[0].Topic != events.RegistryCleared {
		t.Fatalf("events = %+v, want one registry.cleared", evs)
	}
	if got := evs[0].Data.(events.Registry).Removed; got != 2 {
		t.Errorf("Removed = %d, want 2", got)
	}

	rec = env.do(http.MethodGet, "/api/v1/devices", "", basic(testUser, testPassword))
	if !strings.Contains(rec.Body.String(), `"devices":[]`) {
		t.Errorf("empty list body = %s, want devices:[]", rec.Body.String())
	}
}

func TestWake(t *testing.T) {
	tests := []struct {
		name     string
		mac      string
		wantCode int
		wantMAC  string
	}{
		{"uppercase", "AA:BB:CC:DD:EE:FF", http.StatusOK, "AA:BB:CC:DD:EE:FF"},
		{"lowercase normalised", "aa:bb:cc:dd:ee:0f", http.StatusOK, "AA:BB:CC:DD:EE:0F"},
		{"escaped colons", "AA%3ABB%3ACC%3ADD%3AEE%3AFF", http.StatusOK, "AA:BB:CC:DD:EE:FF"},
		{"too short", "AA:BB:CC:DD:EE", http.StatusBadRequest, ""},
		{"dash separated", "AA-BB-CC-DD-EE-FF", http.StatusBadRequest, ""},
		{"not hex", "GG:BB:CC:DD:EE:FF", http.StatusBadRequest, ""},
		{"zero", "00:00:00:00:00:00", http.StatusBadRequest, ""},
		{"broadcast", "FF:FF:FF:FF:FF:FF", http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, true)

			rec := env.do(http.MethodPost, "/api/v1/wake/"+tt.mac, "", basic(testUser, testPassword))
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantCode, rec.Body.String())
			}

			if tt.wantCode != http.StatusOK {
				if len(env.waker.calls) != 0 {
					t.Errorf("waker called %d times for rejected input", len(env.waker.calls))
				}
				return
			}

			if len(env.waker.calls) != 1 {
				t.Fatalf("waker calls = %d, want 1", len(env.waker.calls))
			}
			call := env.waker.calls[0]
			if call.mac.String() != tt.wantMAC {
				t.Errorf("mac = %s, want %s", call.mac, tt.wantMAC)
			}
			if call.broadcast != netip.MustParseAddr("192.168.1.255") {
				t.Errorf("broadcast = %s, want 192.168.1.255", call.broadcast)
			}

			var resp wakeResponse
			decode(t, rec, &resp)
			if resp.MAC.String() != tt.wantMAC || resp.Registered {
				t.Errorf("resp = %+v", resp)
			}

			evs := *env.events
			if len(evs) != 1 || evs[0].Topic != events.WakeSent {
				t.Errorf("events = %+v, want one wake.sent", evs)
			}
		})
	}
}

func TestWake_SendFailure(t *testing.T) {
	env := newTestEnv(t, true)
	env.waker.err = errors.New("network unreachable")

	rec := env.do(http.MethodPost, "/api/v1/wake/AA:BB:CC:DD:EE:FF", "", basic(testUser, testPassword))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if len(*env.events) != 0 {
		t.Errorf("events published for failed wake: %+v", *env.events)
	}
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t, true)
	env.ctrl.RequestScan()

	rec := env.do(http.MethodGet, "/api/v1/status", "", basic(testUser, testPassword))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp StatusResponse
	decode(t, rec, &resp)

	if resp.Connectivity.State != "connected" {
		t.Errorf("State = %q, want connected", resp.Connectivity.State)
	}
	if resp.Connectivity.Interface != "eth0" || resp.Connectivity.Addr != "192.168.1.20" {
		t.Errorf("Connectivity = %+v", resp.Connectivity)
	}
	if resp.Connectivity.Gateway != "192.168.1.1" || resp.Connectivity.BlinkInterval != "1s" {
		t.Errorf("Connectivity = %+v", resp.Connectivity)
	}
	if !resp.Scanner.Pending || resp.Scanner.State != "unknown" {
		t.Errorf("Scanner = %+v", resp.Scanner)
	}
	if resp.RateLimit.Occupied != 1 || resp.RateLimit.Capacity != 4 {
		t.Errorf("RateLimit = %+v, want 1/4", resp.RateLimit)
	}
	if resp.WorkerID != "worker-1" {
		t.Errorf("WorkerID = %q", resp.WorkerID)
	}
	if resp.Heartbeat != nil {
		t.Errorf("Heartbeat = %+v, want omitted", resp.Heartbeat)
	}
}

func TestMetrics(t *testing.T) {
	env := newTestEnv(t, true)

	rec := env.do(http.MethodGet, "/api/v1/metrics", "", basic(testUser, testPassword))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var m SystemMetrics
	decode(t, rec, &m)
	if m.Version != "test" || m.Runtime.Goroutines == 0 {
		t.Errorf("metrics = %+v", m)
	}
	if m.Devices.Capacity != 4 || m.RateLimit.Capacity != 4 {
		t.Errorf("capacities = %d/%d, want 4/4", m.Devices.Capacity, m.RateLimit.Capacity)
	}
	if m.MQTT.Enabled {
		t.Error("MQTT reported enabled without a client")
	}
}

func TestCORS_Preflight(t *testing.T) {
	env := newTestEnv(t, true)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/scan", nil)
	req.RemoteAddr = testRemote
	req.Header.Set("Origin", "http://panel.local")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "http://panel.local" {
		t.Errorf("Allow-Origin = %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestWebSocket_TicketFlow(t *testing.T) {
	env := newTestEnv(t, true)
	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go env.srv.Hub().Run(ctx)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/auth/ws-ticket", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.SetBasicAuth(testUser, testPassword)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("ticket request: %v", err)
	}
	var ticketResp struct {
		Ticket    string `json:"ticket"`
		ExpiresIn int    `json:"expires_in"`
	}
	err = json.NewDecoder(resp.Body).Decode(&ticketResp)
	resp.Body.Close()
	if err != nil || ticketResp.Ticket == "" {
		t.Fatalf("ticket response: %v %+v", err, ticketResp)
	}

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws?ticket=" + ticketResp.Ticket
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "1",
		Payload: WSSubscribePayload{Channels: []string{WSChannelAll}},
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second)) //nolint:errcheck // Test deadline
	var ack WSMessage
	if err := conn.ReadJSON(&ack); err != nil || ack.Type != WSTypeResponse || ack.ID != "1" {
		t.Fatalf("subscribe ack: %v %+v", err, ack)
	}

	fanout := events.NewFanout()
	fanout.Add("hub", events.HubSink(env.srv.Hub()))
	fanout.Publish(events.DeviceAdded, events.Device{MAC: "AA:BB:CC:DD:EE:FF"})

	var ev WSMessage
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.Type != WSTypeEvent || ev.EventType != string(events.DeviceAdded) {
		t.Errorf("event = %+v", ev)
	}

	// Tickets are single use.
	_, httpResp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("second dial with the same ticket succeeded")
	}
	if httpResp == nil || httpResp.StatusCode != http.StatusUnauthorized {
		t.Errorf("second dial response = %v, want 401", httpResp)
	}
}

func TestTicketStore_Expiry(t *testing.T) {
	store := newTicketStore()
	now := time.Now()
	store.now = func() time.Time { return now }

	ticket := store.issue("operator")
	if store.len() != 1 {
		t.Fatalf("len = %d, want 1", store.len())
	}

	now = now.Add(ticketTTL + time.Second)
	if _, ok := store.consume(ticket); ok {
		t.Error("expired ticket accepted")
	}

	store.issue("operator")
	store.sweep()
	if store.len() != 1 {
		t.Errorf("sweep removed a live ticket")
	}
	now = now.Add(ticketTTL + time.Second)
	store.sweep()
	if store.len() != 0 {
		t.Errorf("sweep left %d expired tickets", store.len())
	}
}

func TestClientAddr(t *testing.T) {
	tests := []struct {
		remote string
		want   string
	}{
		{"192.168.1.50:1234", "192.168.1.50"},
		{"[::ffff:192.168.1.50]:1234", "192.168.1.50"},
		{"[fe80::1]:80", "fe80::1"},
		{"10.0.0.1", "10.0.0.1"},
		{"garbage", "invalid IP"},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = tt.remote
		if got := clientAddr(r).String(); got != tt.want {
			t.Errorf("clientAddr(%q) = %q, want %q", tt.remote, got, tt.want)
		}
	}
}

func TestWriteTooManyRequests_RoundsUp(t *testing.T) {
	tests := []struct {
		retry time.Duration
		want  string
	}{
		{0, "1"},
		{300 * time.Millisecond, "1"},
		{5 * time.Second, "5"},
		{5*time.Second + time.Millisecond, "6"},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		writeTooManyRequests(rec, tt.retry)
		if got := rec.Header().Get("Retry-After"); got != tt.want {
			t.Errorf("Retry-After for %v = %q, want %q", tt.retry, got, tt.want)
		}
		if rec.Code != http.StatusTooManyRequests {
			t.Errorf("status = %d, want 429", rec.Code)
		}
	}
}
