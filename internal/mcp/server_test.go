package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewServer_Options(t *testing.T) {
	ts := newTestToolset(t, &fakeDispatcher{})

	tests := []struct {
		name        string
		opts        []ServerOption
		wantHost    string
		wantVerbose int
		wantLimiter bool
		wantBurst   int
	}{
		{"defaults", nil, "", 0, false, 0},
		{"host and verbosity", []ServerOption{WithHost("127.0.0.1"), WithVerbosity(2)}, "127.0.0.1", 2, false, 0},
		{"rate limit", []ServerOption{WithRateLimit(5, 10)}, "", 0, true, 10},
		{"rate limit zero rps disables", []ServerOption{WithRateLimit(0, 10)}, "", 0, false, 0},
		{"rate limit burst floor", []ServerOption{WithRateLimit(1, 0)}, "", 0, true, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(ts, 8080, tt.opts...)
			if s.port != 8080 {
				t.Errorf("port = %d", s.port)
			}
			if s.host != tt.wantHost {
				t.Errorf("host = %q, want %q", s.host, tt.wantHost)
			}
			if s.verbosity != tt.wantVerbose {
				t.Errorf("verbosity = %d, want %d", s.verbosity, tt.wantVerbose)
			}
			if (s.limiter != nil) != tt.wantLimiter {
				t.Fatalf("limiter = %v, want present=%v", s.limiter, tt.wantLimiter)
			}
			if s.limiter != nil && s.limiter.Burst() != tt.wantBurst {
				t.Errorf("burst = %d, want %d", s.limiter.Burst(), tt.wantBurst)
			}
		})
	}
}

func TestIsAllowedOrigin(t *testing.T) {
	tests := []struct {
		origin string
		want   bool
	}{
		{"http://localhost", true},
		{"http://localhost:3000", true},
		{"https://localhost:8443", true},
		{"http://127.0.0.1:8080", true},
		{"http://[::1]:8080", true},
		{"http://localhost.evil.com", false},
		{"http://127.0.0.1.nip.io", false},
		{"https://example.com", false},
		{"null", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := isAllowedOrigin(tt.origin); got != tt.want {
			t.Errorf("isAllowedOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}

func TestHandler_Origin(t *testing.T) {
	s := NewServer(newTestToolset(t, &fakeDispatcher{}), 0)
	h := s.Handler()

	tests := []struct {
		name       string
		method     string
		origin     string
		wantStatus int
		wantACAO   string
	}{
		{"no origin", http.MethodGet, "", http.StatusOK, ""},
		{"localhost origin", http.MethodGet, "http://localhost:5173", http.StatusOK, "http://localhost:5173"},
		{"foreign origin", http.MethodGet, "https://evil.example", http.StatusForbidden, ""},
		{"preflight", http.MethodOptions, "http://127.0.0.1", http.StatusOK, "http://127.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/health", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantACAO {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, tt.wantACAO)
			}
		})
	}
}

func TestHandleHealth(t *testing.T) {
	s := NewServer(newTestToolset(t, &fakeDispatcher{}), 0)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v (%s)", err, rec.Body.String())
	}
	if body["status"] != "ok" || body["server"] != ServerName || body["sessions"] != float64(0) {
		t.Errorf("health = %v", body)
	}
}

func TestHandleMessage_SessionErrors(t *testing.T) {
	s := NewServer(newTestToolset(t, &fakeDispatcher{}), 0)
	h := s.Handler()

	for _, target := range []string{"/message", "/message?sessionId=nope"} {
		t.Run(target, func(t *testing.T) {
			rec := httptest.NewRecorder()
			body := strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`)
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, target, body))

			var resp JSONRPCResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Error == nil || resp.Error.Code != CodeInvalidRequest {
				t.Errorf("error = %+v, want %d", resp.Error, CodeInvalidRequest)
			}
		})
	}
}

func TestClientLogAttrs(t *testing.T) {
	tests := []struct {
		name        string
		initialized bool
		clientName  string
		want        string
	}{
		{"not initialized", false, "", "(not initialized)"},
		{"empty name", true, "", "(empty name)"},
		{"named", true, "claude-code", "claude-code"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &client{initialized: tt.initialized, clientName: tt.clientName, userAgent: "ua"}
			attrs := clientLogAttrs(c)
			if len(attrs) != 4 || attrs[1] != tt.want || attrs[3] != "ua" {
				t.Errorf("clientLogAttrs() = %v", attrs)
			}
		})
	}
}

// sseSession is a test client holding one open SSE stream.
// sseSessionは1本のSSEストリームを保持するテスト用クライアントです。
type sseSession struct {
	t        *testing.T
	base     string
	endpoint string
	messages chan []byte
	nextID   int
}

// openSession connects to /sse and waits for the endpoint event.
// openSessionは/sseに接続し、endpointイベントを待ちます。
func openSession(t *testing.T, base string) *sseSession {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/sse", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /sse: %v", err)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	sess := &sseSession{t: t, base: base, messages: make(chan []byte, 16)}
	endpoint := make(chan string, 1)
	go func() {
		defer resp.Body.Close()
		reader := bufio.NewReader(resp.Body)
		var event string
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				close(sess.messages)
				return
			}
			line = strings.TrimRight(line, "\r\n")
			switch {
			case strings.HasPrefix(line, "event: "):
				event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data := strings.TrimPrefix(line, "data: ")
				if event == "endpoint" {
					endpoint <- data
				} else if event == "message" {
					sess.messages <- []byte(data)
				}
			}
		}
	}()

	select {
	case sess.endpoint = <-endpoint:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for endpoint event")
	}
	if !strings.HasPrefix(sess.endpoint, "/message?sessionId=") {
		t.Fatalf("endpoint = %q", sess.endpoint)
	}
	return sess
}

// post sends a raw body and returns the HTTP status.
func (s *sseSession) post(body string) int {
	s.t.Helper()
	resp, err := http.Post(s.base+s.endpoint, "application/json", strings.NewReader(body))
	if err != nil {
		s.t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	return resp.StatusCode
}

// call sends a request with a fresh id and waits for its response on the stream.
// callは新しいidでリクエストを送り、ストリーム上のレスポンスを待ちます。
func (s *sseSession) call(method string, params any) JSONRPCResponse {
	s.t.Helper()
	s.nextID++
	body, err := json.Marshal(JSONRPCRequest{JSONRPC: "2.0", ID: s.nextID, Method: method, Params: params})
	if err != nil {
		s.t.Fatal(err)
	}
	if status := s.post(string(body)); status != http.StatusAccepted {
		s.t.Fatalf("%s: status = %d", method, status)
	}

	for {
		select {
		case msg, ok := <-s.messages:
			if !ok {
				s.t.Fatalf("%s: stream closed", method)
			}
			var resp JSONRPCResponse
			if err := json.Unmarshal(msg, &resp); err != nil {
				s.t.Fatalf("decode %s: %v", msg, err)
			}
			if resp.ID == float64(s.nextID) {
				return resp
			}
		case <-time.After(5 * time.Second):
			s.t.Fatalf("%s: timed out waiting for response", method)
		}
	}
}

func (s *sseSession) initialize() {
	s.t.Helper()
	resp := s.call("initialize", map[string]any{
		"protocolVersion": ProtocolVersion,
		"clientInfo":      map[string]any{"name": "test-client", "version": "1.0"},
	})
	if resp.Error != nil {
		s.t.Fatalf("initialize: %+v", resp.Error)
	}
}

func wantRPCCode(t *testing.T, resp JSONRPCResponse, code int) {
	t.Helper()
	if resp.Error == nil {
		t.Fatalf("expected error %d, got result %v", code, resp.Result)
	}
	if resp.Error.Code != code {
		t.Errorf("error code = %d (%s), want %d", resp.Error.Code, resp.Error.Message, code)
	}
}

func toolText(t *testing.T, resp JSONRPCResponse) string {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	result, _ := resp.Result.(map[string]any)
	content, _ := result["content"].([]any)
	var b strings.Builder
	for _, c := range content {
		block, _ := c.(map[string]any)
		text, _ := block["text"].(string)
		b.WriteString(text)
	}
	return b.String()
}

func newHTTPServer(t *testing.T, opts ...ServerOption) (*Server, *httptest.Server, string) {
	t.Helper()
	tools, root := newGatewayToolset(t)
	s := NewServer(tools, 0, opts...)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return s, srv, root
}

func TestSSE_EndToEnd(t *testing.T) {
	s, srv, root := newHTTPServer(t)
	if err := os.WriteFile(filepath.Join(root, "notes.txt"), []byte("hello gateway"), 0644); err != nil {
		t.Fatal(err)
	}

	sess := openSession(t, srv.URL)

	t.Run("not initialized", func(t *testing.T) {
		wantRPCCode(t, sess.call("tools/list", nil), CodeNotInitialized)
	})

	sess.initialize()
	if n := s.SessionCount(); n != 1 {
		t.Errorf("SessionCount() = %d, want 1", n)
	}

	t.Run("ping", func(t *testing.T) {
		if resp := sess.call("ping", nil); resp.Error != nil {
			t.Errorf("ping: %+v", resp.Error)
		}
	})

	t.Run("tools/list", func(t *testing.T) {
		resp := sess.call("tools/list", nil)
		result, _ := resp.Result.(map[string]any)
		tools, _ := result["tools"].([]any)
		if len(tools) != len(GetTools()) {
			t.Errorf("tools/list returned %d tools", len(tools))
		}
	})

	t.Run("read_file", func(t *testing.T) {
		resp := sess.call("tools/call", map[string]any{
			"name":      "read_file",
			"arguments": map[string]any{"path": "notes.txt"},
		})
		if got := toolText(t, resp); got != "hello gateway" {
			t.Errorf("read_file = %q", got)
		}
	})

	t.Run("write then read", func(t *testing.T) {
		resp := sess.call("tools/call", map[string]any{
			"name":      "write_file",
			"arguments": map[string]any{"path": "out.txt", "content": "written"},
		})
		toolText(t, resp)
		data, err := os.ReadFile(filepath.Join(root, "out.txt"))
		if err != nil || string(data) != "written" {
			t.Errorf("out.txt = %q, %v", data, err)
		}
	})

	t.Run("access denied", func(t *testing.T) {
		resp := sess.call("tools/call", map[string]any{
			"name":      "read_file",
			"arguments": map[string]any{"path": "../../etc/passwd"},
		})
		wantRPCCode(t, resp, CodeInternalError)
		data, _ := resp.Error.Data.(map[string]any)
		if data["kind"] != "AccessDenied" {
			t.Errorf("data = %v", resp.Error.Data)
		}
	})

	t.Run("invalid arguments", func(t *testing.T) {
		resp := sess.call("tools/call", map[string]any{"name": "read_file", "arguments": map[string]any{}})
		wantRPCCode(t, resp, CodeInvalidParams)
	})

	t.Run("arguments not an object", func(t *testing.T) {
		resp := sess.call("tools/call", map[string]any{"name": "read_file", "arguments": "notes.txt"})
		wantRPCCode(t, resp, CodeInvalidParams)
	})

	t.Run("unknown tool", func(t *testing.T) {
		resp := sess.call("tools/call", map[string]any{"name": "format_disk", "arguments": map[string]any{}})
		wantRPCCode(t, resp, CodeMethodNotFound)
	})

	t.Run("unknown method", func(t *testing.T) {
		wantRPCCode(t, sess.call("resources/list", nil), CodeMethodNotFound)
	})

	t.Run("notification", func(t *testing.T) {
		status := sess.post(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)
		if status != http.StatusAccepted {
			t.Errorf("status = %d, want 202", status)
		}
	})

	t.Run("parse error", func(t *testing.T) {
		resp, err := http.Post(srv.URL+sess.endpoint, "application/json", bytes.NewBufferString("{not json"))
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		var rpc JSONRPCResponse
		if err := json.NewDecoder(resp.Body).Decode(&rpc); err != nil {
			t.Fatal(err)
		}
		wantRPCCode(t, rpc, CodeParseError)
	})
}

func TestSSE_SessionsAreIndependent(t *testing.T) {
	_, srv, _ := newHTTPServer(t)

	a := openSession(t, srv.URL)
	b := openSession(t, srv.URL)
	if a.endpoint == b.endpoint {
		t.Fatalf("sessions share endpoint %q", a.endpoint)
	}

	a.initialize()
	wantRPCCode(t, b.call("tools/list", nil), CodeNotInitialized)
}

func TestSSE_RateLimit(t *testing.T) {
	_, srv, _ := newHTTPServer(t, WithRateLimit(0.001, 2))
	sess := openSession(t, srv.URL)
	sess.initialize()

	call := func() JSONRPCResponse {
		return sess.call("tools/call", map[string]any{
			"name":      "list_directory",
			"arguments": map[string]any{"path": "."},
		})
	}
	for i := 0; i < 2; i++ {
		toolText(t, call())
	}
	wantRPCCode(t, call(), CodeRateLimited)

	// Only tools/call is throttled.
	if resp := sess.call("tools/list", nil); resp.Error != nil {
		t.Errorf("tools/list after limit: %+v", resp.Error)
	}
}
