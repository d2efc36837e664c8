package gateway

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/YujiSuzuki/hostgate/internal/config"
	"github.com/YujiSuzuki/hostgate/internal/executor"
	"github.com/YujiSuzuki/hostgate/internal/security"
)

// fakeRunner records every spawn instead of running anything.
// fakeRunnerは何も実行せずに起動要求をすべて記録します。
type fakeRunner struct {
	mu     sync.Mutex
	calls  []fakeCall
	result *executor.Result
	err    error
}

type fakeCall struct {
	name string
	args []string
	opts executor.Options
}

func (f *fakeRunner) Run(_ context.Context, name string, args []string, opts executor.Options) (*executor.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fakeCall{name: name, args: append([]string(nil), args...), opts: opts})
	if f.result == nil && f.err == nil {
		return &executor.Result{}, nil
	}
	return f.result, f.err
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// newTestGateway builds a Gateway rooted at a fresh temp directory.
// newTestGatewayは新しい一時ディレクトリをルートとするGatewayを構築します。
func newTestGateway(t *testing.T, mutate func(*config.GatewayConfig), opts ...Option) *Gateway {
	t.Helper()
	cfg := config.GatewayConfig{
		Root:            t.TempDir(),
		AllowedCommands: config.DefaultAllowedCommands,
		MaxOutput:       "1MiB",
	}
	if mutate != nil {
		mutate(&cfg)
	}
	g, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return g
}

// writeTree creates files (path -> content) under dir.
func writeTree(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func wantOK(t *testing.T, out Outcome) {
	t.Helper()
	if !out.OK() {
		t.Fatalf("unexpected failure: %s: %s", out.Err.Kind, out.Err.Message)
	}
}

func wantKind(t *testing.T, out Outcome, kind ErrorKind) {
	t.Helper()
	if out.OK() {
		t.Fatalf("expected %s, got success: %q", kind, out.Text())
	}
	if out.Err.Kind != kind {
		t.Fatalf("kind = %s, want %s (message %q)", out.Err.Kind, kind, out.Err.Message)
	}
}

func TestNew(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		g := newTestGateway(t, nil)
		if g.commandTimeout != executor.DefaultTimeout {
			t.Errorf("commandTimeout = %v, want %v", g.commandTimeout, executor.DefaultTimeout)
		}
		if g.ArchiveTimeout() != 60*time.Second {
			t.Errorf("ArchiveTimeout() = %v, want 60s", g.ArchiveTimeout())
		}
		if g.maxOutput != 1<<20 {
			t.Errorf("maxOutput = %d, want %d", g.maxOutput, 1<<20)
		}
		if len(g.AllowedCommands()) != len(config.DefaultAllowedCommands) {
			t.Errorf("AllowedCommands() = %v", g.AllowedCommands())
		}
	})

	t.Run("missing root", func(t *testing.T) {
		_, err := New(config.GatewayConfig{Root: filepath.Join(t.TempDir(), "nope")})
		if err == nil {
			t.Error("expected error for missing root")
		}
	})

	t.Run("invalid max output", func(t *testing.T) {
		_, err := New(config.GatewayConfig{Root: t.TempDir(), MaxOutput: "lots"})
		if err == nil {
			t.Error("expected error for invalid max_output")
		}
	})

	t.Run("root is canonical", func(t *testing.T) {
		base := t.TempDir()
		if err := os.Mkdir(filepath.Join(base, "real"), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.Symlink(filepath.Join(base, "real"), filepath.Join(base, "alias")); err != nil {
			t.Fatal(err)
		}
		g, err := New(config.GatewayConfig{Root: filepath.Join(base, "alias")})
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		if filepath.Base(g.Root()) != "real" {
			t.Errorf("Root() = %q, want the resolved directory", g.Root())
		}
	})
}

func TestCall_UnknownOperation(t *testing.T) {
	g := newTestGateway(t, nil)

	out := g.Call(context.Background(), "format_disk", nil)
	wantKind(t, out, KindUnknownOperation)
	if out.Err.Message != "Unknown tool: format_disk" {
		t.Errorf("message = %q", out.Err.Message)
	}

	out = g.Dispatch(context.Background(), Request{Kind: OperationKind(99)})
	wantKind(t, out, KindUnknownOperation)
}

func TestCall_NilArgs(t *testing.T) {
	g := newTestGateway(t, nil)
	out := g.Call(context.Background(), "read_file", nil)
	wantKind(t, out, KindInvalidArguments)
}

func TestExecuteCommand_NotAllowed(t *testing.T) {
	runner := &fakeRunner{}
	g := newTestGateway(t, nil, WithRunner(runner))

	commands := []string{
		"rm",
		"sh",
		"bash",
		"python3",
		"LS",
		"ls;rm",
		"ls && rm",
		"ls|cat",
		"/bin/ls",
		"./ls",
		"../ls",
		"ls ",
		"$(ls)",
		"`ls`",
	}
	for _, cmd := range commands {
		t.Run(cmd, func(t *testing.T) {
			out := g.Call(context.Background(), "execute_command", map[string]any{"command": cmd})
			wantKind(t, out, KindCommandNotAllowed)
			if want := fmt.Sprintf("Command '%s' is not allowed", cmd); out.Err.Message != want {
				t.Errorf("message = %q, want %q", out.Err.Message, want)
			}
		})
	}

	if n := runner.count(); n != 0 {
		t.Errorf("runner called %d times for rejected commands, want 0", n)
	}
}

func TestExecuteCommand_EveryAllowedCommandReachesRunner(t *testing.T) {
	runner := &fakeRunner{}
	g := newTestGateway(t, nil, WithRunner(runner))

	for _, cmd := range config.DefaultAllowedCommands {
		out := g.Call(context.Background(), "execute_command", map[string]any{"command": cmd})
		wantOK(t, out)
	}
	if n := runner.count(); n != len(config.DefaultAllowedCommands) {
		t.Errorf("runner called %d times, want %d", n, len(config.DefaultAllowedCommands))
	}
}

func TestExecuteCommand_RunnerOptions(t *testing.T) {
	runner := &fakeRunner{}
	g := newTestGateway(t, nil, WithRunner(runner))

	out := g.Call(context.Background(), "execute_command", map[string]any{
		"command": "grep",
		"args":    []any{"a;b", "x|y", "<in>", "plain", "a&&b"},
	})
	wantOK(t, out)

	call := runner.calls[0]
	if call.name != "grep" {
		t.Errorf("name = %q, want grep", call.name)
	}
	wantArgs := []string{"ab", "xy", "in", "plain", "ab"}
	if strings.Join(call.args, ",") != strings.Join(wantArgs, ",") {
		t.Errorf("args = %q, want %q", call.args, wantArgs)
	}
	if call.opts.Dir != g.Root() {
		t.Errorf("Dir = %q, want root %q", call.opts.Dir, g.Root())
	}
	if call.opts.Timeout != executor.DefaultTimeout {
		t.Errorf("Timeout = %v, want %v", call.opts.Timeout, executor.DefaultTimeout)
	}
	if call.opts.MaxOutput != 1<<20 {
		t.Errorf("MaxOutput = %d", call.opts.MaxOutput)
	}
}

func TestExecuteCommand_InvalidArguments(t *testing.T) {
	runner := &fakeRunner{}
	g := newTestGateway(t, nil, WithRunner(runner))

	tests := []struct {
		name string
		args map[string]any
	}{
		{"missing command", map[string]any{}},
		{"empty command", map[string]any{"command": ""}},
		{"command not string", map[string]any{"command": 42}},
		{"args not array", map[string]any{"command": "ls", "args": "-la"}},
		{"args element not string", map[string]any{"command": "ls", "args": []any{"-l", 3}}},
		{"zero timeout", map[string]any{"command": "ls", "timeout": float64(0)}},
		{"negative timeout", map[string]any{"command": "ls", "timeout": float64(-5)}},
		{"fractional timeout", map[string]any{"command": "ls", "timeout": 1.5}},
		{"timeout above cap", map[string]any{"command": "ls", "timeout": float64(24*60*60*1000 + 1)}},
		{"timeout overflowing duration", map[string]any{"command": "ls", "timeout": float64(1e13)}},
		{"timeout wrapping to microseconds", map[string]any{"command": "ls", "timeout": float64(18446744073710)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wantKind(t, g.Call(context.Background(), "execute_command", tt.args), KindInvalidArguments)
		})
	}
	if n := runner.count(); n != 0 {
		t.Errorf("runner called %d times, want 0", n)
	}
}

func TestExecuteCommand_Outcome(t *testing.T) {
	tests := []struct {
		name      string
		result    *executor.Result
		masking   *config.OutputMaskingConfig
		wantTexts []string
	}{
		{
			name:      "stdout only",
			result:    &executor.Result{Stdout: "a.txt\n"},
			wantTexts: []string{"Command executed successfully:\na.txt\n"},
		},
		{
			name:   "stderr block",
			result: &executor.Result{Stdout: "out", Stderr: "warn"},
			wantTexts: []string{
				"Command executed successfully:\nout",
				"Stderr:\nwarn",
			},
		},
		{
			name:      "truncated",
			result:    &executor.Result{Stdout: "xxxx", Truncated: true},
			wantTexts: []string{"Command executed successfully:\nxxxx\n[output truncated at 1048576 bytes]"},
		},
		{
			name:   "masked",
			result: &executor.Result{Stdout: "token=secret-abc", Stderr: "secret-def"},
			masking: &config.OutputMaskingConfig{
				Enabled:     true,
				Replacement: "***",
				Patterns:    []string{`secret-[a-z]+`},
			},
			wantTexts: []string{
				"Command executed successfully:\ntoken=***",
				"Stderr:\n***",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := []Option{WithRunner(&fakeRunner{result: tt.result})}
			if tt.masking != nil {
				opts = append(opts, WithOutputMasker(security.NewOutputMasker(tt.masking)))
			}
			g := newTestGateway(t, nil, opts...)

			out := g.Call(context.Background(), "execute_command", map[string]any{"command": "ls"})
			wantOK(t, out)
			if len(out.Content) != len(tt.wantTexts) {
				t.Fatalf("got %d content blocks, want %d: %+v", len(out.Content), len(tt.wantTexts), out.Content)
			}
			for i, want := range tt.wantTexts {
				if out.Content[i].Type != "text" || out.Content[i].Text != want {
					t.Errorf("content[%d] = %+v, want text %q", i, out.Content[i], want)
				}
			}
		})
	}
}

func TestExecuteCommand_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		timeout  float64
		wantKind ErrorKind
		wantMsg  string
	}{
		{
			name:     "timeout",
			err:      fmt.Errorf("%w after 250ms", executor.ErrTimeout),
			timeout:  250,
			wantKind: KindCommandTimedOut,
			wantMsg:  "Command timed out after 250ms",
		},
		{
			name:     "exit status",
			err:      &executor.ExitError{Result: &executor.Result{ExitCode: 2, Stderr: "no such file"}},
			timeout:  1000,
			wantKind: KindCommandExecutionFailed,
			wantMsg:  "Command failed: exit status 2: no such file",
		},
		{
			name:     "spawn failure",
			err:      errors.New("execution error: exec: \"ls\": executable file not found in $PATH"),
			timeout:  1000,
			wantKind: KindCommandExecutionFailed,
			wantMsg:  "Command failed: execution error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGateway(t, nil, WithRunner(&fakeRunner{err: tt.err}))
			out := g.Call(context.Background(), "execute_command", map[string]any{
				"command": "ls",
				"timeout": tt.timeout,
			})
			wantKind(t, out, tt.wantKind)
			if !strings.HasPrefix(out.Err.Message, tt.wantMsg) {
				t.Errorf("message = %q, want prefix %q", out.Err.Message, tt.wantMsg)
			}
		})
	}
}

func TestExecuteCommand_RealProcess(t *testing.T) {
	g := newTestGateway(t, func(c *config.GatewayConfig) {
		c.AllowedCommands = append([]string{"sleep"}, config.DefaultAllowedCommands...)
	})
	writeTree(t, g.Root(), map[string]string{"a.txt": "hello"})

	t.Run("ls runs in root", func(t *testing.T) {
		out := g.Call(context.Background(), "execute_command", map[string]any{
			"command": "ls",
			"args":    []any{"a.txt"},
		})
		wantOK(t, out)
		if !strings.Contains(out.Text(), "a.txt") {
			t.Errorf("output = %q, want a.txt", out.Text())
		}
	})

	t.Run("metacharacters reach program as literals", func(t *testing.T) {
		out := g.Call(context.Background(), "execute_command", map[string]any{
			"command": "echo",
			"args":    []any{"$HOME", "*"},
		})
		wantOK(t, out)
		if !strings.Contains(out.Text(), "$HOME *") {
			t.Errorf("output = %q, want literal arguments", out.Text())
		}
	})

	t.Run("non-zero exit", func(t *testing.T) {
		out := g.Call(context.Background(), "execute_command", map[string]any{
			"command": "ls",
			"args":    []any{"does-not-exist"},
		})
		wantKind(t, out, KindCommandExecutionFailed)
		if !strings.HasPrefix(out.Err.Message, "Command failed:") {
			t.Errorf("message = %q", out.Err.Message)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		start := time.Now()
		out := g.Call(context.Background(), "execute_command", map[string]any{
			"command": "sleep",
			"args":    []any{"10"},
			"timeout": float64(200),
		})
		wantKind(t, out, KindCommandTimedOut)
		if out.Err.Message != "Command timed out after 200ms" {
			t.Errorf("message = %q", out.Err.Message)
		}
		if elapsed := time.Since(start); elapsed > 5*time.Second {
			t.Errorf("timeout took %v", elapsed)
		}
	})
}

func TestGateway_ConcurrentRequests(t *testing.T) {
	g := newTestGateway(t, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan string, 20)
	for i := range 20 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			path := fmt.Sprintf("f%d.txt", i)
			want := fmt.Sprintf("content %d", i)
			if out := g.Call(ctx, "write_file", map[string]any{"path": path, "content": want}); !out.OK() {
				errs <- out.Err.Message
				return
			}
			out := g.Call(ctx, "read_file", map[string]any{"path": path})
			if !out.OK() || out.Text() != want {
				errs <- fmt.Sprintf("read %s = %q", path, out.Text())
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for msg := range errs {
		t.Error(msg)
	}
}
