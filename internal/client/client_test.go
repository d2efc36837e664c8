// Tests for the hostgate HTTP client, run against the real SSE server
// backed by a gateway rooted in a temp directory.
//
// hostgate HTTPクライアントのテストです。一時ディレクトリをルートとする
// ゲートウェイを持つ実際のSSEサーバーに対して実行します。
package client

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/docker/go-connections/sockets"

	"github.com/YujiSuzuki/hostgate/internal/config"
	"github.com/YujiSuzuki/hostgate/internal/gateway"
	"github.com/YujiSuzuki/hostgate/internal/mcp"
)

// newTestServer starts an SSE server over a fresh gateway and returns its
// handler and root.
//
// newTestServerは新しいゲートウェイ上でSSEサーバーを起動し、
// ハンドラとルートを返します。
func newTestServer(t *testing.T) (*mcp.Server, string) {
	t.Helper()
	gw, err := gateway.New(config.GatewayConfig{
		Root:            t.TempDir(),
		AllowedCommands: config.DefaultAllowedCommands,
	})
	if err != nil {
		t.Fatalf("gateway.New() error = %v", err)
	}
	tools, err := mcp.NewToolset(gw)
	if err != nil {
		t.Fatalf("NewToolset() error = %v", err)
	}
	return mcp.NewServer(tools, 0), gw.Root()
}

func connect(t *testing.T, url string) *Client {
	t.Helper()
	c, err := NewClient(url)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	return c
}

func TestNewClient(t *testing.T) {
	tests := []struct {
		url     string
		wantURL string
	}{
		{"http://localhost:8080", "http://localhost:8080"},
		{"http://localhost:8080/", "http://localhost:8080"},
		{"unix:///run/hostgate.sock", "http://hostgate"},
	}
	for _, tt := range tests {
		c, err := NewClient(tt.url)
		if err != nil {
			t.Fatalf("NewClient(%q) error = %v", tt.url, err)
		}
		if c.baseURL != tt.wantURL {
			t.Errorf("NewClient(%q).baseURL = %q, want %q", tt.url, c.baseURL, tt.wantURL)
		}
		c.Close()
	}
}

func TestHealthCheck(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		wantErr    bool
	}{
		{"healthy server", http.StatusOK, false},
		{"unhealthy server", http.StatusInternalServerError, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/health" {
					t.Errorf("Expected /health, got %s", r.URL.Path)
				}
				w.WriteHeader(tt.statusCode)
				json.NewEncoder(w).Encode(map[string]any{"status": "ok", "server": "hostgate", "sessions": 2})
			}))
			defer server.Close()

			c, err := NewClient(server.URL)
			if err != nil {
				t.Fatal(err)
			}
			h, err := c.HealthCheck()
			if (err != nil) != tt.wantErr {
				t.Fatalf("HealthCheck() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && (h.Status != "ok" || h.Sessions != 2) {
				t.Errorf("HealthCheck() = %+v", h)
			}
		})
	}
}

func TestCallTool_NotConnected(t *testing.T) {
	c, err := NewClient("http://localhost:1")
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if _, err := c.CallTool("read_file", nil); err == nil || !strings.Contains(err.Error(), "not connected") {
		t.Errorf("CallTool() error = %v", err)
	}
}

func TestClient_EndToEnd(t *testing.T) {
	s, root := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	// Registered before connect so the client closes its stream first.
	t.Cleanup(srv.Close)

	if err := os.WriteFile(filepath.Join(root, "hello.txt"), []byte("hi there"), 0644); err != nil {
		t.Fatal(err)
	}

	c := connect(t, srv.URL)
	// Connect is idempotent.
	if err := c.Connect(); err != nil {
		t.Fatalf("second Connect() error = %v", err)
	}

	t.Run("list tools", func(t *testing.T) {
		tools, err := c.ListTools()
		if err != nil {
			t.Fatal(err)
		}
		if len(tools) != len(gateway.Operations()) {
			t.Errorf("ListTools() returned %d tools", len(tools))
		}
		if tools[0].Name != "execute_command" || tools[0].InputSchema["type"] != "object" {
			t.Errorf("first tool = %+v", tools[0])
		}
	})

	t.Run("read file", func(t *testing.T) {
		result, err := c.CallTool("read_file", map[string]any{"path": "hello.txt"})
		if err != nil {
			t.Fatal(err)
		}
		if got := result.Text(); got != "hi there" {
			t.Errorf("Text() = %q", got)
		}
	})

	t.Run("calculate hash", func(t *testing.T) {
		result, err := c.CallTool("calculate_hash", map[string]any{"path": "hello.txt", "algorithm": "md5"})
		if err != nil {
			t.Fatal(err)
		}
		if got := result.Text(); !strings.HasPrefix(got, "MD5: ") || len(got) != len("MD5: ")+32 {
			t.Errorf("md5 = %q", got)
		}
	})

	t.Run("access denied carries kind", func(t *testing.T) {
		_, err := c.CallTool("read_file", map[string]any{"path": "/etc/hostname"})
		var rpcErr *JSONRPCError
		if !errors.As(err, &rpcErr) {
			t.Fatalf("CallTool() error = %v, want *JSONRPCError", err)
		}
		if rpcErr.Kind() != "AccessDenied" || rpcErr.Code != mcp.CodeInternalError {
			t.Errorf("error = %+v", rpcErr)
		}
		if !strings.HasPrefix(err.Error(), "AccessDenied: ") {
			t.Errorf("Error() = %q", err.Error())
		}
	})

	t.Run("invalid params", func(t *testing.T) {
		_, err := c.CallTool("copy_file", map[string]any{"source": "hello.txt"})
		var rpcErr *JSONRPCError
		if !errors.As(err, &rpcErr) || rpcErr.Code != mcp.CodeInvalidParams {
			t.Errorf("CallTool() error = %v", err)
		}
		if rpcErr != nil && rpcErr.Kind() != "" {
			t.Errorf("Kind() = %q for a protocol error", rpcErr.Kind())
		}
	})

	t.Run("health reports session", func(t *testing.T) {
		h, err := c.HealthCheck()
		if err != nil {
			t.Fatal(err)
		}
		if h.Server != mcp.ServerName || h.Sessions != 1 {
			t.Errorf("HealthCheck() = %+v", h)
		}
	})
}

func TestClient_ConnectFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c, err := NewClient(server.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if err := c.Connect(); err == nil || !strings.Contains(err.Error(), "503") {
		t.Errorf("Connect() error = %v", err)
	}
}

func TestClient_UnixSocket(t *testing.T) {
	s, root := newTestServer(t)
	if err := os.WriteFile(filepath.Join(root, "sock.txt"), []byte("via socket"), 0644); err != nil {
		t.Fatal(err)
	}

	sockPath := filepath.Join(t.TempDir(), "hg.sock")
	l, err := sockets.NewUnixSocket(sockPath, os.Getgid())
	if err != nil {
		t.Skipf("unix sockets unavailable: %v", err)
	}
	go s.Serve(l)
	t.Cleanup(func() { s.Stop(context.Background()) })

	c := connect(t, "unix://"+sockPath)
	result, err := c.CallTool("read_file", map[string]any{"path": "sock.txt"})
	if err != nil {
		t.Fatal(err)
	}
	if result.Text() != "via socket" {
		t.Errorf("Text() = %q", result.Text())
	}
}

func TestConfigureUnixTransport_IgnoresHost(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "dial.sock")
	l, err := net.Listen("unix", sockPath)
	if err != nil {
		t.Skipf("unix sockets unavailable: %v", err)
	}
	defer l.Close()
	accepted := make(chan struct{}, 1)
	go func() {
		if conn, err := l.Accept(); err == nil {
			conn.Close()
			accepted <- struct{}{}
		}
	}()

	tr := http.DefaultTransport.(*http.Transport).Clone()
	if err := configureUnixTransport(tr, sockPath); err != nil {
		t.Fatal(err)
	}
	conn, err := tr.DialContext(context.Background(), "tcp", "hostgate:80")
	if err != nil {
		t.Fatalf("DialContext() error = %v", err)
	}
	conn.Close()

	select {
	case <-accepted:
	case <-time.After(5 * time.Second):
		t.Fatal("socket never saw a connection")
	}
	if tr.Proxy != nil {
		t.Error("Proxy should be cleared for unix sockets")
	}
}

func TestToolResultText(t *testing.T) {
	r := &ToolResult{Content: []Content{{Type: "text", Text: "a"}, {Type: "image"}, {Text: "b"}}}
	if got := r.Text(); got != "a\nb" {
		t.Errorf("Text() = %q", got)
	}
}
