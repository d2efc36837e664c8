// Package audit records security-relevant gateway events: every tool call,
// every refused command and every path that fell outside the sandbox.
//
// auditパッケージはセキュリティ関連のゲートウェイイベントを記録します。
// すべてのツール呼び出し、拒否されたコマンド、サンドボックス外のパスが対象です。
package audit

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/YujiSuzuki/hostgate/internal/config"
)

// EventType represents the type of audit event.
// EventTypeは監査イベントのタイプを表します。
type EventType string

const (
	// EventToolCall is logged when an operation is dispatched.
	// EventToolCallは操作がディスパッチされた時にログ記録されます。
	EventToolCall EventType = "tool_call"

	// EventAccessDenied is logged when a path escapes the root or is blocked.
	// EventAccessDeniedはパスがルート外またはブロック対象の時にログ記録されます。
	EventAccessDenied EventType = "access_denied"

	// EventCommandDenied is logged when a command is not on the allow-list.
	// EventCommandDeniedはコマンドが許可リストにない時にログ記録されます。
	EventCommandDenied EventType = "command_denied"

	// EventClientConnect is logged when a client completes initialize.
	// EventClientConnectはクライアントがinitializeを完了した時にログ記録されます。
	EventClientConnect EventType = "client_connect"

	// EventClientDisconnect is logged when an initialized client goes away.
	// EventClientDisconnectは初期化済みクライアントが切断した時にログ記録されます。
	EventClientDisconnect EventType = "client_disconnect"
)

// Result represents the outcome of an operation.
// Resultは操作の結果を表します。
type Result string

const (
	ResultSuccess Result = "success"
	ResultDenied  Result = "denied"
	ResultError   Result = "error"
)

// Event represents an audit event.
// Eventは監査イベントを表します。
type Event struct {
	Type EventType

	// Tool is the operation name (execute_command, read_file, ...).
	// Toolは操作名です（execute_command、read_fileなど）。
	Tool string

	// Target is the path or command the operation acted on, as given by the caller.
	// Targetは呼び出し元が指定した、操作対象のパスまたはコマンドです。
	Target string

	Result     Result
	ClientName string
	SessionID  string

	// Details contains additional event-specific information.
	// Detailsは追加のイベント固有情報を含みます。
	Details map[string]any

	DurationMs int64

	// ErrorMessage contains the error message if Result is error/denied.
	// ErrorMessageはResultがerror/deniedの場合のエラーメッセージです。
	ErrorMessage string
}

// Logger is the audit logger.
// Loggerは監査ロガーです。
type Logger struct {
	cfg    config.AuditConfig
	logger *slog.Logger
	mu     sync.Mutex
	file   *os.File
}

var (
	globalLogger *Logger
	once         sync.Once
)

// Initialize sets up the global audit logger.
// InitializeはグローバルAuditロガーを設定します。
func Initialize(cfg config.AuditConfig) error {
	var initErr error
	once.Do(func() {
		logger, err := newLogger(cfg)
		if err != nil {
			initErr = err
			return
		}
		globalLogger = logger
	})
	return initErr
}

// New creates a standalone audit logger writing JSON lines to w.
// NewはwにJSON行を書き込む独立した監査ロガーを作成します。
func New(cfg config.AuditConfig, w io.Writer) *Logger {
	return &Logger{
		cfg:    cfg,
		logger: slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})),
	}
}

func newLogger(cfg config.AuditConfig) (*Logger, error) {
	if cfg.File == "" {
		return New(cfg, os.Stdout), nil
	}
	f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, err
	}
	l := New(cfg, f)
	l.file = f
	return l, nil
}

// Close closes the audit logger.
// Closeは監査ロガーをクローズします。
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Log records an audit event.
// Logは監査イベントを記録します。
func (l *Logger) Log(ctx context.Context, event Event) {
	if l == nil || !l.cfg.Enabled {
		return
	}
	if !l.shouldLog(event.Type) {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	attrs := []any{
		slog.String("event_type", string(event.Type)),
	}

	if event.Tool != "" {
		attrs = append(attrs, slog.String("tool", event.Tool))
	}
	if event.Target != "" {
		attrs = append(attrs, slog.String("target", event.Target))
	}
	if event.Result != "" {
		attrs = append(attrs, slog.String("result", string(event.Result)))
	}
	if event.ClientName != "" {
		attrs = append(attrs, slog.String("client_name", event.ClientName))
	}
	if event.SessionID != "" {
		attrs = append(attrs, slog.String("session_id", event.SessionID))
	}
	if event.DurationMs > 0 {
		attrs = append(attrs, slog.Int64("duration_ms", event.DurationMs))
	}
	if event.ErrorMessage != "" {
		attrs = append(attrs, slog.String("error", event.ErrorMessage))
	}
	if len(event.Details) > 0 {
		attrs = append(attrs, slog.Any("details", event.Details))
	}

	l.logger.InfoContext(ctx, "audit_event", attrs...)
}

func (l *Logger) shouldLog(eventType EventType) bool {
	switch eventType {
	case EventToolCall:
		return l.cfg.Events.ToolCalls
	case EventAccessDenied:
		return l.cfg.Events.AccessDenied
	case EventCommandDenied:
		return l.cfg.Events.CommandDenied
	case EventClientConnect, EventClientDisconnect:
		return l.cfg.Events.ClientConnections
	default:
		return true
	}
}

// LogToolCall logs one dispatched operation.
// LogToolCallはディスパッチされた操作1件をログ記録します。
func LogToolCall(ctx context.Context, tool, sessionID string, result Result, durationMs int64, errMsg string) {
	if globalLogger == nil {
		return
	}
	globalLogger.Log(ctx, Event{
		Type:         EventToolCall,
		Tool:         tool,
		SessionID:    sessionID,
		Result:       result,
		DurationMs:   durationMs,
		ErrorMessage: errMsg,
	})
}

// LogAccessDenied logs a path refused by confinement.
// LogAccessDeniedは閉じ込めにより拒否されたパスをログ記録します。
func LogAccessDenied(ctx context.Context, tool, sessionID, reason string, details map[string]any) {
	if globalLogger == nil {
		return
	}
	globalLogger.Log(ctx, Event{
		Type:         EventAccessDenied,
		Tool:         tool,
		SessionID:    sessionID,
		Result:       ResultDenied,
		ErrorMessage: reason,
		Details:      details,
	})
}

// LogCommandDenied logs a command refused by the allow-list.
// LogCommandDeniedは許可リストにより拒否されたコマンドをログ記録します。
func LogCommandDenied(ctx context.Context, command, sessionID, reason string) {
	if globalLogger == nil {
		return
	}
	globalLogger.Log(ctx, Event{
		Type:         EventCommandDenied,
		Tool:         "execute_command",
		Target:       command,
		SessionID:    sessionID,
		Result:       ResultDenied,
		ErrorMessage: reason,
	})
}

// LogClientConnect logs a client connection.
// LogClientConnectはクライアント接続をログ記録します。
func LogClientConnect(ctx context.Context, clientName, sessionID string) {
	if globalLogger == nil {
		return
	}
	globalLogger.Log(ctx, Event{
		Type:       EventClientConnect,
		ClientName: clientName,
		SessionID:  sessionID,
		Result:     ResultSuccess,
	})
}

// LogClientDisconnect logs a client disconnection.
// LogClientDisconnectはクライアント切断をログ記録します。
func LogClientDisconnect(ctx context.Context, clientName, sessionID string, durationMs int64) {
	if globalLogger == nil {
		return
	}
	globalLogger.Log(ctx, Event{
		Type:       EventClientDisconnect,
		ClientName: clientName,
		SessionID:  sessionID,
		Result:     ResultSuccess,
		DurationMs: durationMs,
	})
}

// MeasureDuration is a helper to measure operation duration.
// MeasureDurationは操作の所要時間を計測するヘルパーです。
func MeasureDuration(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}

// SetLogger sets the global audit logger (for testing).
// SetLoggerはグローバルAuditロガーを設定します（テスト用）。
func SetLogger(l *Logger) {
	globalLogger = l
}

// ResetLogger closes and clears the global audit logger.
// ResetLoggerはグローバルAuditロガーをクローズしてクリアします。
func ResetLogger() {
	if globalLogger != nil {
		globalLogger.Close()
	}
	globalLogger = nil
	once = sync.Once{}
}
