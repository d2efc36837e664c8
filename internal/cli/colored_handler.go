// colored_handler.go implements a colored slog handler for terminal output.
// It adds ANSI color codes to log levels for better visibility in terminals.
//
// colored_handler.goはターミナル出力用のカラーslogハンドラーを実装します。
// ターミナルでの視認性向上のためにログレベルにANSIカラーコードを追加します。
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

// ANSI color codes for terminal output.
// ターミナル出力用のANSIカラーコード。
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
)

// ColoredHandler is a slog.Handler that outputs colored log messages to terminals.
// Colors are only applied when the output is a TTY.
//
// ColoredHandlerはターミナルにカラーログメッセージを出力するslog.Handlerです。
// 出力がTTYの場合のみ色が適用されます。
type ColoredHandler struct {
	out     io.Writer
	level   slog.Level
	colored bool

	// attrs are pre-rendered " key=value" pairs from WithAttrs.
	// attrsはWithAttrsで事前に整形された" key=value"の組です。
	attrs string

	// mu is shared with handlers derived through WithAttrs.
	// muはWithAttrsで派生したハンドラーと共有されます。
	mu *sync.Mutex
}

// NewColoredHandler creates a new ColoredHandler.
// If out is a terminal, colors will be enabled.
//
// NewColoredHandlerは新しいColoredHandlerを作成します。
// outがターミナルの場合、色が有効になります。
func NewColoredHandler(out io.Writer, level slog.Level) *ColoredHandler {
	return &ColoredHandler{
		out:     out,
		level:   level,
		colored: isTerminal(out),
		mu:      &sync.Mutex{},
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Enabled implements slog.Handler.Enabled.
// EnabledはslogHandler.Enabledを実装します。
func (h *ColoredHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

// Handle implements slog.Handler.Handle.
// HandleはslogHandler.Handleを実装します。
func (h *ColoredHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder

	timeStr := r.Time.Format(time.DateTime)
	levelStr, levelColor := levelInfo(r.Level)
	if h.colored {
		fmt.Fprintf(&b, "%s%s%s %s%-5s%s %s",
			colorGray, timeStr, colorReset,
			levelColor, levelStr, colorReset,
			r.Message,
		)
	} else {
		fmt.Fprintf(&b, "%s %-5s %s", timeStr, levelStr, r.Message)
	}

	b.WriteString(h.attrs)
	r.Attrs(func(a slog.Attr) bool {
		b.WriteString(h.formatAttr(a))
		return true
	})
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, b.String())
	return err
}

// formatAttr renders " key=value". Error values are shown in red.
// formatAttrは" key=value"を整形します。エラー値は赤で表示されます。
func (h *ColoredHandler) formatAttr(a slog.Attr) string {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return ""
	}
	if !h.colored {
		return fmt.Sprintf(" %s=%v", a.Key, a.Value)
	}
	if a.Key == "error" {
		return fmt.Sprintf(" %s%s%s=%s%v%s", colorCyan, a.Key, colorReset, colorRed, a.Value, colorReset)
	}
	return fmt.Sprintf(" %s%s%s=%v", colorCyan, a.Key, colorReset, a.Value)
}

// WithAttrs implements slog.Handler.WithAttrs.
// WithAttrsはslog.Handler.WithAttrsを実装します。
func (h *ColoredHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	clone := *h
	var b strings.Builder
	b.WriteString(h.attrs)
	for _, a := range attrs {
		b.WriteString(h.formatAttr(a))
	}
	clone.attrs = b.String()
	return &clone
}

// WithGroup implements slog.Handler.WithGroup.
// Groups are flattened; this handler is for humans.
//
// WithGroupはslog.Handler.WithGroupを実装します。グループは平坦化されます。
func (h *ColoredHandler) WithGroup(name string) slog.Handler {
	return h
}

// levelInfo returns the level string and color for a given slog.Level.
// levelInfoは指定されたslog.Levelのレベル文字列と色を返します。
func levelInfo(level slog.Level) (string, string) {
	switch {
	case level < slog.LevelInfo:
		return "DEBUG", colorBlue
	case level < slog.LevelWarn:
		return "INFO", colorGreen
	case level < slog.LevelError:
		return "WARN", colorYellow
	default:
		return "ERROR", colorRed
	}
}

// parseLevel converts "debug", "info", "warn" or "error" to a slog.Level.
// Unknown values map to info.
//
// parseLevelは"debug"、"info"、"warn"、"error"をslog.Levelに変換します。
func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// multiHandler is a slog.Handler that writes to multiple handlers.
// It allows logging to both a terminal (colored) and a file (plain) simultaneously.
//
// multiHandlerは複数のハンドラーに書き込むslog.Handlerです。
// ターミナル（カラー）とファイル（プレーン）の両方に同時にログを出力できます。
type multiHandler struct {
	handlers []slog.Handler
}

// Enabled reports whether any handler is enabled for the level.
// Enabledはいずれかのハンドラーがレベルに対して有効かを返します。
func (m *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle writes to all enabled handlers.
// Handleは有効なすべてのハンドラーに書き込みます。
func (m *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range m.handlers {
		if h.Enabled(ctx, r.Level) {
			if err := h.Handle(ctx, r.Clone()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		handlers[i] = h.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (m *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		handlers[i] = h.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}

// setupLogging installs the default slog logger. Console output goes to
// console (stderr for stdio transport, whose stdout carries protocol
// frames). With logFile set, the file gets plain text and the console is
// used only when alsoConsole is true. The returned func closes the file.
//
// setupLoggingはデフォルトのslogロガーを設定します。コンソール出力はconsoleへ
// 送られます（stdioトランスポートではstdoutがプロトコルフレームを運ぶためstderr）。
// logFileが設定されている場合、ファイルにはプレーンテキストが書かれ、
// alsoConsoleがtrueの場合のみコンソールも使用されます。戻り値の関数はファイルを閉じます。
func setupLogging(console io.Writer, level slog.Level, logFile string, alsoConsole bool) (func(), error) {
	if logFile == "" {
		slog.SetDefault(slog.New(NewColoredHandler(console, level)))
		return func() {}, nil
	}

	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	fileHandler := slog.NewTextHandler(f, &slog.HandlerOptions{Level: level})
	if alsoConsole {
		slog.SetDefault(slog.New(&multiHandler{handlers: []slog.Handler{NewColoredHandler(console, level), fileHandler}}))
	} else {
		slog.SetDefault(slog.New(fileHandler))
	}
	return func() { f.Close() }, nil
}
