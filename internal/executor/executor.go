// Package executor runs external programs from an argv array under a hard
// deadline and a combined output cap. No shell is involved: arguments reach
// the program exactly as given.
//
// executorパッケージは外部プログラムをargv配列から、厳格な期限と出力上限の下で
// 実行します。シェルは介在せず、引数はそのままプログラムに渡されます。
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultTimeout applies when Options.Timeout is zero.
	// DefaultTimeoutはOptions.Timeoutが0の場合に適用されます。
	DefaultTimeout = 30 * time.Second

	// DefaultMaxOutput applies when Options.MaxOutput is zero.
	// DefaultMaxOutputはOptions.MaxOutputが0の場合に適用されます。
	DefaultMaxOutput = 1 << 20

	// waitDelay bounds how long Wait drains pipes after the kill, in case a
	// grandchild escaped the process group and still holds them open.
	waitDelay = 2 * time.Second
)

// ErrTimeout is returned when the deadline expires and the process is killed.
// ErrTimeoutは期限切れでプロセスが強制終了された場合に返されます。
var ErrTimeout = errors.New("execution timed out")

// Options controls a single Run.
// OptionsはRun一回分の動作を制御します。
type Options struct {
	// Dir is the working directory. Empty inherits the current one.
	// Dirは作業ディレクトリです。空の場合は現在のものを継承します。
	Dir string

	// Timeout is the hard kill deadline.
	// Timeoutは強制終了の期限です。
	Timeout time.Duration

	// MaxOutput caps stdout and stderr combined, in bytes.
	// MaxOutputはstdoutとstderrの合計バイト数の上限です。
	MaxOutput int64

	// OnStart, if set, is called with the child PID right after it starts.
	// OnStartが設定されている場合、子プロセス起動直後にPIDを渡して呼ばれます。
	OnStart func(pid int)
}

// Result holds the output of a command execution.
// Resultはコマンド実行の出力を保持します。
type Result struct {
	Stdout    string        `json:"stdout"`
	Stderr    string        `json:"stderr"`
	ExitCode  int           `json:"exit_code"`
	Truncated bool          `json:"truncated,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// String formats the result for display.
// Stringは結果を表示用にフォーマットします。
func (r *Result) String() string {
	var b strings.Builder
	if r.Stdout != "" {
		b.WriteString(r.Stdout)
	}
	if r.Stderr != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("[stderr]\n")
		b.WriteString(r.Stderr)
	}
	if r.Truncated {
		b.WriteString("\n[output truncated]")
	}
	if r.ExitCode != 0 {
		fmt.Fprintf(&b, "\n[exit code: %d]", r.ExitCode)
	}
	return b.String()
}

// ExitError reports a non-zero exit. Result carries whatever was captured.
// ExitErrorは0以外の終了を報告します。Resultには取得できた出力が含まれます。
type ExitError struct {
	Result *Result
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("exit status %d", e.Result.ExitCode)
	if stderr := strings.TrimSpace(e.Result.Stderr); stderr != "" {
		msg += ": " + stderr
	}
	return msg
}

// Local runs programs on this host. It is the production Runner.
// Localはこのホスト上でプログラムを実行します。本番用のRunnerです。
type Local struct{}

// Run implements the gateway's Runner interface.
func (Local) Run(ctx context.Context, name string, args []string, opts Options) (*Result, error) {
	return Run(ctx, name, args, opts)
}

// Run spawns name with args and waits for it. On deadline expiry the whole
// process group is killed and ErrTimeout is returned; when Run returns the
// child has been reaped. A non-zero exit yields *ExitError.
//
// Runはnameをargsで起動し、終了を待ちます。期限切れの場合はプロセスグループ
// 全体を強制終了してErrTimeoutを返します。Runが戻る時点で子プロセスは回収済みです。
// 0以外の終了は*ExitErrorになります。
func Run(ctx context.Context, name string, args []string, opts Options) (*Result, error) {
	if name == "" {
		return nil, fmt.Errorf("empty command")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	limit := opts.MaxOutput
	if limit <= 0 {
		limit = DefaultMaxOutput
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, name, args...)
	cmd.Dir = opts.Dir
	cmd.WaitDelay = waitDelay
	setProcessGroup(cmd)

	out := &cappedOutput{remaining: limit}
	cmd.Stdout = out.writer(&out.stdout)
	cmd.Stderr = out.writer(&out.stderr)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", name, err)
	}
	if opts.OnStart != nil {
		opts.OnStart(cmd.Process.Pid)
	}
	err := cmd.Wait()

	result := &Result{
		Stdout:    out.stdout.String(),
		Stderr:    out.stderr.String(),
		Truncated: out.truncated,
		Duration:  time.Since(start),
	}

	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %v", ErrTimeout, timeout)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("execution cancelled: %w", ctxErr)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, &ExitError{Result: result}
		}
		return nil, fmt.Errorf("execution error: %w", err)
	}

	return result, nil
}

// cappedOutput enforces one byte budget shared by stdout and stderr.
// Bytes beyond the budget are dropped but still reported as written so the
// child never sees a broken pipe because of the cap.
type cappedOutput struct {
	mu        sync.Mutex
	remaining int64
	truncated bool
	stdout    bytes.Buffer
	stderr    bytes.Buffer
}

func (c *cappedOutput) writer(buf *bytes.Buffer) *cappedWriter {
	return &cappedWriter{parent: c, buf: buf}
}

type cappedWriter struct {
	parent *cappedOutput
	buf    *bytes.Buffer
}

func (w *cappedWriter) Write(p []byte) (int, error) {
	c := w.parent
	c.mu.Lock()
	defer c.mu.Unlock()

	n := int64(len(p))
	if n > c.remaining {
		n = c.remaining
		c.truncated = true
	}
	if n > 0 {
		w.buf.Write(p[:n])
		c.remaining -= n
	}
	return len(p), nil
}
