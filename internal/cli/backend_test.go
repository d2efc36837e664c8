package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/YujiSuzuki/hostgate/internal/config"
	"github.com/YujiSuzuki/hostgate/internal/gateway"
)

// testConfig returns the default config rooted in a fresh temp directory
// with the Docker probe disabled.
//
// testConfigはDockerプローブを無効にし、新しい一時ディレクトリをルートとする
// デフォルト設定を返します。
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.Gateway.Root = t.TempDir()
	cfg.SystemInfo.Docker = false
	return cfg
}

func newTestDirectBackend(t *testing.T, cfg *config.Config) *DirectBackend {
	t.Helper()
	b, err := newDirectBackend(cfg)
	if err != nil {
		t.Fatalf("newDirectBackend() error = %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestDirectBackend_Call(t *testing.T) {
	cfg := testConfig(t)
	writeFile(t, filepath.Join(cfg.Gateway.Root, "notes.txt"), "remember the milk")
	b := newTestDirectBackend(t, cfg)
	ctx := context.Background()

	tests := []struct {
		name       string
		tool       string
		args       map[string]any
		want       string
		wantErrPfx string
	}{
		{
			name: "read file",
			tool: "read_file",
			args: map[string]any{"path": "notes.txt"},
			want: "remember the milk",
		},
		{
			name:       "outside root",
			tool:       "read_file",
			args:       map[string]any{"path": "/etc/passwd"},
			wantErrPfx: "AccessDenied: ",
		},
		{
			name:       "blocked by config",
			tool:       "write_file",
			args:       map[string]any{"path": ".env", "content": "X=1"},
			wantErrPfx: "AccessDenied: ",
		},
		{
			name:       "command not allowed",
			tool:       "execute_command",
			args:       map[string]any{"command": "rm", "args": []any{"-rf", "."}},
			wantErrPfx: "CommandNotAllowed: ",
		},
		{
			name:       "schema violation",
			tool:       "read_file",
			args:       map[string]any{},
			wantErrPfx: "Invalid arguments for read_file",
		},
		{
			name:       "unknown tool",
			tool:       "format_disk",
			args:       map[string]any{},
			wantErrPfx: "Unknown tool: format_disk",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := b.Call(ctx, tt.tool, tt.args)
			if tt.wantErrPfx != "" {
				if err == nil || !strings.HasPrefix(err.Error(), tt.wantErrPfx) {
					t.Fatalf("Call() error = %v, want prefix %q", err, tt.wantErrPfx)
				}
				return
			}
			if err != nil {
				t.Fatalf("Call() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Call() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildGateway_IgnoreFile(t *testing.T) {
	cfg := testConfig(t)
	root := cfg.Gateway.Root
	writeFile(t, filepath.Join(root, ".aiexclude"), "# private notes\nprivate.txt\n")
	writeFile(t, filepath.Join(root, "private.txt"), "diary")
	writeFile(t, filepath.Join(root, "public.txt"), "hello")

	b := newTestDirectBackend(t, cfg)
	ctx := context.Background()

	if _, err := b.Call(ctx, "read_file", map[string]any{"path": "private.txt"}); err == nil || !strings.HasPrefix(err.Error(), "AccessDenied") {
		t.Errorf("read private.txt error = %v, want AccessDenied", err)
	}
	if got, err := b.Call(ctx, "read_file", map[string]any{"path": "public.txt"}); err != nil || got != "hello" {
		t.Errorf("read public.txt = %q, %v", got, err)
	}
}

func TestBuildGateway_BadRoot(t *testing.T) {
	cfg := testConfig(t)
	cfg.Gateway.Root = filepath.Join(cfg.Gateway.Root, "missing")
	if _, _, err := buildGateway(cfg); err == nil {
		t.Error("buildGateway() with missing root should fail")
	}
}

func TestDirectBackend_Tools(t *testing.T) {
	b := newTestDirectBackend(t, testConfig(t))
	tools, err := b.Tools(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	ops := gateway.Operations()
	if len(tools) != len(ops) {
		t.Fatalf("Tools() returned %d entries, want %d", len(tools), len(ops))
	}
	for i, op := range ops {
		if tools[i].Name != op.String() {
			t.Errorf("tools[%d] = %s, want %s", i, tools[i].Name, op)
		}
	}

	for _, tool := range tools {
		if tool.Name != "copy_file" {
			continue
		}
		if len(tool.Params) != 2 || !tool.Params[0].Required || !tool.Params[1].Required {
			t.Fatalf("copy_file params = %+v", tool.Params)
		}
		if tool.Params[0].Name != "destination" || tool.Params[1].Name != "source" {
			t.Errorf("copy_file params not sorted: %+v", tool.Params)
		}
	}
}

func TestSortParams(t *testing.T) {
	params := []ParamInfo{
		{Name: "recursive"},
		{Name: "path", Required: true},
		{Name: "depth"},
		{Name: "content", Required: true},
	}
	sortParams(params)

	var names []string
	for _, p := range params {
		names = append(names, p.Name)
	}
	if got := strings.Join(names, ","); got != "content,path,depth,recursive" {
		t.Errorf("sortParams() order = %s", got)
	}
}

func TestRunExecWith_DirectBackend(t *testing.T) {
	cfg := testConfig(t)
	b := newTestDirectBackend(t, cfg)

	var out bytes.Buffer
	if err := runExecWith(context.Background(), b, &out, []string{"echo", "'hello world'"}, 0); err != nil {
		t.Fatalf("runExecWith() error = %v", err)
	}
	if !strings.Contains(out.String(), "hello world") {
		t.Errorf("output = %q", out.String())
	}
}
