package server

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mercator-hq/chatrelay/internal/upstreamtest"
	"mercator-hq/chatrelay/pkg/config"
	"mercator-hq/chatrelay/pkg/proxy/types"
	"mercator-hq/chatrelay/pkg/relay"
	"mercator-hq/chatrelay/pkg/session"
	"mercator-hq/chatrelay/pkg/telemetry"
)

// ==================================================================
// Fixture
// ==================================================================

const (
	chromeMacUA    = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	firefoxLinuxUA = "Mozilla/5.0 (X11; Linux x86_64; rv:120.0) Gecko/20100101 Firefox/120.0"
)

var testKeys = session.Keys{
	Client:   []byte("client-signing-key-0123456789abcdef"),
	Upstream: []byte("upstream-signing-key-0123456789abcdef"),
}

type harness struct {
	server   *Server
	http     *httptest.Server
	upstream *upstreamtest.Server
}

func testConfig(webhookURL string) *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.Server.ListenAddress = "127.0.0.1:0"
	cfg.Server.ShutdownTimeout = 5 * time.Second
	cfg.Session.AllowedOrigins = []string{"example.com", "*.example.org"}
	cfg.Upstream.WebhookURL = webhookURL
	cfg.Upstream.Deadline = 5 * time.Second
	cfg.Upstream.RequestsPerSecond = 0
	cfg.Telemetry.Logging.Level = "error"
	cfg.Telemetry.Logging.Format = "text"
	return cfg
}

func newHarness(t *testing.T, script upstreamtest.Script) *harness {
	t.Helper()

	up := upstreamtest.NewServer(script)
	t.Cleanup(up.Close)

	cfg := testConfig(up.URL())
	tel, err := telemetry.New(&cfg.Telemetry)
	require.NoError(t, err)

	srv, err := New(context.Background(), cfg, tel,
		WithSigningKeys(testKeys),
		WithVersion("1.2.3", "abc1234", "2026-01-01T00:00:00Z"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.store.Close() })

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &harness{server: srv, http: ts, upstream: up}
}

type call struct {
	method    string
	path      string
	body      string
	token     string
	userAgent string
	header    map[string]string
}

func (h *harness) do(t *testing.T, c call) (*http.Response, string) {
	t.Helper()

	var body io.Reader
	if c.body != "" {
		body = strings.NewReader(c.body)
	}
	req, err := http.NewRequest(c.method, h.http.URL+c.path, body)
	require.NoError(t, err)

	if c.body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	ua := c.userAgent
	if ua == "" {
		ua = chromeMacUA
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range c.header {
		req.Header.Set(k, v)
	}

	resp, err := h.http.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(raw)
}

func (h *harness) createSession(t *testing.T) types.CreateSessionResponse {
	t.Helper()
	resp, body := h.do(t, call{
		method: http.MethodPost,
		path:   "/session/create",
		body:   `{"origin_domain":"https://example.com","fingerprint_material":{"screen":"1920x1080"}}`,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)

	var created types.CreateSessionResponse
	require.NoError(t, json.Unmarshal([]byte(body), &created))
	require.NotEmpty(t, created.SessionID)
	require.NotEmpty(t, created.ClientToken)
	return created
}

func errorCode(t *testing.T, body string) string {
	t.Helper()
	var resp types.ErrorResponse
	require.NoError(t, json.Unmarshal([]byte(body), &resp), body)
	return resp.Error.Code
}

func sseEvents(t *testing.T, body string) []relay.Event {
	t.Helper()
	var events []relay.Event
	for _, frame := range strings.Split(body, "\n\n") {
		data, ok := strings.CutPrefix(frame, "data: ")
		if !ok {
			continue
		}
		var ev relay.Event
		require.NoError(t, json.Unmarshal([]byte(data), &ev), frame)
		events = append(events, ev)
	}
	return events
}

func ndjsonEvents(t *testing.T, body string) []relay.Event {
	t.Helper()
	var events []relay.Event
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		var ev relay.Event
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev), sc.Text())
		events = append(events, ev)
	}
	return events
}

func eventTypes(events []relay.Event) []relay.EventType {
	out := make([]relay.EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func itemText(events []relay.Event) string {
	var sb strings.Builder
	for _, ev := range events {
		if ev.Type == relay.EventItem {
			sb.WriteString(ev.Content)
		}
	}
	return sb.String()
}

// splitScript delivers the envelopes in reads that cut through JSON
// objects and line boundaries.
var splitScript = upstreamtest.Script{
	Chunks: []string{
		`{"type":"begin"}` + "\n" + `{"type":"item","con`,
		`tent":"Hel"}` + "\n" + `{"type":"item","content":"lo`,
		`!"}` + "\n" + `{"ty`,
		`pe":"end"}` + "\n",
	},
	ChunkDelay: 10 * time.Millisecond,
}

// ==================================================================
// End-to-end relay
// ==================================================================

func TestEndToEnd_StagedStreamWithSplitReads(t *testing.T) {
	h := newHarness(t, splitScript)
	created := h.createSession(t)

	resp, body := h.do(t, call{
		method: http.MethodPost,
		path:   "/chat/message",
		body:   `{"message":"hello","screen":"1920x1080"}`,
		token:  created.ClientToken,
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode, body)

	var accepted types.MessageAcceptedResponse
	require.NoError(t, json.Unmarshal([]byte(body), &accepted))
	require.Contains(t, accepted.StreamURL, "/chat/stream/"+created.SessionID)
	require.Zero(t, h.upstream.RequestCount(), "upstream called before the stream opened")

	resp, body = h.do(t, call{method: http.MethodGet, path: accepted.StreamURL, token: created.ClientToken})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	require.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream"))

	events := sseEvents(t, body)
	require.Equal(t,
		[]relay.EventType{relay.EventBegin, relay.EventItem, relay.EventItem, relay.EventEnd},
		eventTypes(events))
	require.Equal(t, "Hello!", itemText(events))

	reqs := h.upstream.Requests()
	require.Len(t, reqs, 1)
	require.Equal(t, "hello", reqs[0].Payload.Message)
	require.Equal(t, created.SessionID, reqs[0].Payload.Session.ID)
	require.Equal(t, "example.com", reqs[0].Payload.Session.OriginDomain)
	require.NotEmpty(t, reqs[0].Payload.JWTToken)
	require.NotEqual(t, created.UpstreamToken, reqs[0].Payload.JWTToken, "upstream token must be fresh per call")
}

func TestEndToEnd_InlineNDJSON(t *testing.T) {
	h := newHarness(t, splitScript)
	created := h.createSession(t)

	resp, body := h.do(t, call{
		method: http.MethodPost,
		path:   "/chat/message",
		body:   `{"message":"hello","stream":true}`,
		token:  created.ClientToken,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	require.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "application/x-ndjson"))

	events := ndjsonEvents(t, body)
	require.Equal(t,
		[]relay.EventType{relay.EventBegin, relay.EventItem, relay.EventItem, relay.EventEnd},
		eventTypes(events))
	require.Equal(t, "Hello!", itemText(events))
}

func TestEndToEnd_UpstreamClosesWithoutEnd(t *testing.T) {
	h := newHarness(t, upstreamtest.Script{
		Chunks: []string{
			upstreamtest.Line("begin", ""),
			upstreamtest.Line("item", "partial"),
		},
	})
	created := h.createSession(t)

	resp, body := h.do(t, call{
		method: http.MethodPost,
		path:   "/chat/message",
		body:   `{"message":"hello","stream":true}`,
		token:  created.ClientToken,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)

	events := ndjsonEvents(t, body)
	require.Equal(t,
		[]relay.EventType{relay.EventBegin, relay.EventItem, relay.EventError},
		eventTypes(events))
	require.Equal(t, "partial", events[1].Content)
	require.NotEmpty(t, events[2].Content)

	require.Empty(t, h.server.relay.Connections(), "connection record left behind")
	require.Zero(t, h.server.relay.Stats().Active)

	// The session is free again for the next message.
	resp, body = h.do(t, call{
		method: http.MethodPost,
		path:   "/chat/message",
		body:   `{"message":"again"}`,
		token:  created.ClientToken,
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode, body)
}

func TestEndToEnd_FingerprintMismatchTerminates(t *testing.T) {
	h := newHarness(t, splitScript)
	created := h.createSession(t)

	resp, body := h.do(t, call{method: http.MethodGet, path: "/session/validate", token: created.ClientToken})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)

	var valid types.ValidateSessionResponse
	require.NoError(t, json.Unmarshal([]byte(body), &valid))
	require.Equal(t, string(session.StateActive), valid.State)

	resp, body = h.do(t, call{
		method:    http.MethodGet,
		path:      "/session/validate",
		token:     created.ClientToken,
		userAgent: firefoxLinuxUA,
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode, body)
	require.Equal(t, types.CodeFingerprintMismatch, errorCode(t, body))

	sess, err := h.server.sessions.Get(context.Background(), created.SessionID)
	require.NoError(t, err)
	require.Equal(t, session.StateTerminated, sess.State)

	// The original browser is locked out too.
	resp, body = h.do(t, call{method: http.MethodGet, path: "/session/validate", token: created.ClientToken})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode, body)
	require.Equal(t, types.CodeInvalidSession, errorCode(t, body))

	resp, body = h.do(t, call{
		method: http.MethodPost,
		path:   "/chat/message",
		body:   `{"message":"hello","stream":true}`,
		token:  created.ClientToken,
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode, body)
	require.Zero(t, h.upstream.RequestCount())
}

func TestEndToEnd_StreamToleratesSoftDrift(t *testing.T) {
	h := newHarness(t, splitScript)
	created := h.createSession(t)
	german := map[string]string{"Accept-Language": "de-DE,de;q=0.9"}

	resp, body := h.do(t, call{
		method: http.MethodPost,
		path:   "/chat/message",
		body:   `{"message":"hello","screen":"1920x1080"}`,
		token:  created.ClientToken,
		header: german,
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode, body)

	var accepted types.MessageAcceptedResponse
	require.NoError(t, json.Unmarshal([]byte(body), &accepted))

	// EventSource cannot send the screen; only the language drifted.
	resp, body = h.do(t, call{method: http.MethodGet, path: accepted.StreamURL, token: created.ClientToken, header: german})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	require.Equal(t, "Hello!", itemText(sseEvents(t, body)))

	sess, err := h.server.sessions.Get(context.Background(), created.SessionID)
	require.NoError(t, err)
	require.Equal(t, session.StateActive, sess.State)
}

func TestEndToEnd_DestroyClearsCookie(t *testing.T) {
	h := newHarness(t, splitScript)
	created := h.createSession(t)

	resp, body := h.do(t, call{method: http.MethodDelete, path: "/session/destroy", token: created.ClientToken})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)

	var cleared bool
	for _, c := range resp.Cookies() {
		if c.Name == config.DefaultCookieName && c.MaxAge < 0 {
			cleared = true
		}
	}
	require.True(t, cleared, "session cookie not cleared")

	resp, body = h.do(t, call{method: http.MethodGet, path: "/session/validate", token: created.ClientToken})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode, body)
	require.Equal(t, types.CodeInvalidSession, errorCode(t, body))
}

// ==================================================================
// Router and operations
// ==================================================================

func TestServer_OperationalEndpoints(t *testing.T) {
	h := newHarness(t, splitScript)
	h.createSession(t)

	tests := []struct {
		path     string
		contains string
	}{
		{"/health", `"status":"ok"`},
		{"/ready", "session_store"},
		{"/version", "1.2.3"},
		{"/metrics", "chatrelay_relay_active_connections"},
		{"/chat/stats", `"breaker_state":"closed"`},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, body := h.do(t, call{method: http.MethodGet, path: tt.path})
			require.Equal(t, http.StatusOK, resp.StatusCode, body)
			require.Contains(t, body, tt.contains)
		})
	}
}

func TestServer_RequestIDAndRateLimitHeaders(t *testing.T) {
	h := newHarness(t, splitScript)

	resp, body := h.do(t, call{
		method: http.MethodPost,
		path:   "/session/create",
		body:   `{"origin_domain":"example.com"}`,
		header: map[string]string{"X-Request-ID": "req-abc-123"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	require.Equal(t, "req-abc-123", resp.Header.Get("X-Request-ID"))
	require.NotEmpty(t, resp.Header.Get("X-RateLimit-Limit"))
	require.NotEmpty(t, resp.Header.Get("X-RateLimit-Remaining"))
}

func TestServer_CORS(t *testing.T) {
	h := newHarness(t, splitScript)

	tests := []struct {
		name    string
		origin  string
		status  int
		allowed bool
	}{
		{"allow-listed host", "https://example.com", http.StatusNoContent, true},
		{"wildcard subdomain", "https://chat.example.org", http.StatusNoContent, true},
		{"unknown origin", "https://evil.example.net", http.StatusForbidden, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := h.do(t, call{
				method: http.MethodOptions,
				path:   "/chat/message",
				header: map[string]string{
					"Origin":                        tt.origin,
					"Access-Control-Request-Method": "POST",
				},
			})
			require.Equal(t, tt.status, resp.StatusCode)
			if tt.allowed {
				require.Equal(t, tt.origin, resp.Header.Get("Access-Control-Allow-Origin"))
				require.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))
			} else {
				require.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
			}
		})
	}
}

func TestServer_ApplyConfig(t *testing.T) {
	h := newHarness(t, splitScript)

	next := testConfig(h.upstream.URL())
	next.Session.AllowedOrigins = []string{"other.com"}
	next.Limits.SessionCreate.Limit = 2
	h.server.applyConfig(next)

	// The rejected origin still spends one of the two creations.
	resp, body := h.do(t, call{method: http.MethodPost, path: "/session/create", body: `{"origin_domain":"example.com"}`})
	require.Equal(t, http.StatusForbidden, resp.StatusCode, body)
	require.Equal(t, types.CodeOriginRejected, errorCode(t, body))

	resp, body = h.do(t, call{method: http.MethodPost, path: "/session/create", body: `{"origin_domain":"other.com"}`})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)

	resp, body = h.do(t, call{method: http.MethodPost, path: "/session/create", body: `{"origin_domain":"other.com"}`})
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode, body)
	require.NotEmpty(t, resp.Header.Get("Retry-After"))
}

func TestServer_ApplyConfigConnectionCap(t *testing.T) {
	h := newHarness(t, splitScript)

	next := testConfig(h.upstream.URL())
	next.Relay.MaxConnections = 3
	h.server.applyConfig(next)
	require.EqualValues(t, 3, h.server.relay.Stats().Limit)

	resp, body := h.do(t, call{method: http.MethodGet, path: "/chat/stats"})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)

	var stats types.StatsResponse
	require.NoError(t, json.Unmarshal([]byte(body), &stats))
	require.EqualValues(t, 3, stats.Connections.Limit)
}

func TestServer_StatsListsActiveConnections(t *testing.T) {
	h := newHarness(t, upstreamtest.Script{
		Chunks: []string{upstreamtest.Line("begin", "")},
		Hold:   true,
	})
	created := h.createSession(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.http.URL+"/chat/message",
		strings.NewReader(`{"message":"hello","stream":true}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", chromeMacUA)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Authorization", "Bearer "+created.ClientToken)

	done := make(chan struct{})
	go func() {
		defer close(done)
		resp, err := h.http.Client().Do(req)
		if err == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
	}()

	var stats types.StatsResponse
	require.Eventually(t, func() bool {
		resp, err := h.http.Client().Get(h.http.URL + "/chat/stats")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var got types.StatsResponse
		if json.NewDecoder(resp.Body).Decode(&got) != nil || len(got.Connections.Records) != 1 {
			return false
		}
		stats = got
		return true
	}, 5*time.Second, 20*time.Millisecond)

	rec := stats.Connections.Records[0]
	require.Equal(t, created.SessionID, rec.SessionID)
	require.NotEmpty(t, rec.ID)
	require.Equal(t, 1, stats.Connections.Active)

	cancel()
	<-done
}

func TestServer_OperatorKeys(t *testing.T) {
	h := newHarness(t, splitScript)

	resp, body := h.do(t, call{method: http.MethodGet, path: "/chat/stats"})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)

	next := testConfig(h.upstream.URL())
	next.Security.Operator.Keys = []config.OperatorKeyConfig{
		{Name: "oncall", Key: "operator-key-0123456789"},
	}
	h.server.applyConfig(next)

	resp, body = h.do(t, call{method: http.MethodGet, path: "/chat/stats"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode, body)
	require.Equal(t, types.CodeInvalidOperatorKey, errorCode(t, body))

	resp, body = h.do(t, call{
		method: http.MethodGet,
		path:   "/chat/stats",
		header: map[string]string{"X-Operator-Key": "operator-key-0123456789"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	require.Contains(t, body, "breaker_state")

	// Metrics stay open unless protect_metrics is set at startup.
	resp, _ = h.do(t, call{method: http.MethodGet, path: "/metrics"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNew_RejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"unknown store", func(c *config.Config) { c.Session.Store.Backend = "redis" }},
		{"missing webhook", func(c *config.Config) { c.Upstream.WebhookURL = "" }},
		{"token ttl above session ttl", func(c *config.Config) { c.Session.UpstreamTokenTTL = 2 * c.Session.TTL }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig("http://127.0.0.1:1/webhook")
			tt.mutate(cfg)
			tel, err := telemetry.New(&cfg.Telemetry)
			require.NoError(t, err)

			_, err = New(context.Background(), cfg, tel, WithSigningKeys(testKeys))
			require.Error(t, err)
		})
	}
}

func TestNew_LoadsKeysFromEnvironment(t *testing.T) {
	t.Setenv("CHATRELAY_CLIENT_TOKEN_KEY", "client-signing-key-0123456789abcdef")
	t.Setenv("CHATRELAY_UPSTREAM_TOKEN_KEY", "upstream-signing-key-0123456789abcdef")

	cfg := testConfig("http://127.0.0.1:1/webhook")
	tel, err := telemetry.New(&cfg.Telemetry)
	require.NoError(t, err)

	srv, err := New(context.Background(), cfg, tel)
	require.NoError(t, err)
	require.NoError(t, srv.store.Close())
}

func TestServer_StartShutdown(t *testing.T) {
	up := upstreamtest.NewServer(splitScript)
	defer up.Close()

	cfg := testConfig(up.URL())
	tel, err := telemetry.New(&cfg.Telemetry)
	require.NoError(t, err)
	srv, err := New(context.Background(), cfg, tel, WithSigningKeys(testKeys))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	require.Eventually(t, func() bool { return srv.Addr() != nil }, 5*time.Second, 10*time.Millisecond)
	require.True(t, srv.IsRunning())

	resp, err := http.Get("http://" + srv.Addr().String() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Error(t, srv.Start(ctx), "second Start must fail")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
	require.False(t, srv.IsRunning())
}
