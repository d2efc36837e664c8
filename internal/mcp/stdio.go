package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/oklog/ulid/v2"
)

// NewMCPServer registers the catalog on an mcp-go server. Each handler runs
// through the same Toolset as the SSE transport, so schema validation,
// auditing and error mapping are identical; sessionID tags audit events.
//
// NewMCPServerはカタログをmcp-goサーバーに登録します。各ハンドラはSSE
// トランスポートと同じToolsetを通るため、スキーマ検証・監査・エラー変換は同一です。
func NewMCPServer(tools *Toolset, sessionID string) (*server.MCPServer, error) {
	s := server.NewMCPServer(ServerName, ServerVersion,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	for _, tool := range tools.Tools() {
		schema, err := json.Marshal(tool.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal schema for %s: %w", tool.Name, err)
		}
		s.AddTool(mcpgo.NewToolWithRawSchema(tool.Name, tool.Description, schema), stdioHandler(tools, sessionID, tool.Name))
	}
	return s, nil
}

func stdioHandler(tools *Toolset, sessionID, name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		slog.Info("Tool called", "tool", name, "sessionID", sessionID, "transport", "stdio")
		out, err := tools.Call(ctx, sessionID, name, req.GetArguments())
		if err != nil {
			return nil, err
		}
		return outcomeResult(out), nil
	}
}

// ServeStdio serves the catalog over newline-delimited JSON-RPC on in/out
// until ctx is cancelled or in reaches EOF. Logs must not go to out.
//
// ServeStdioはctxがキャンセルされるかinがEOFになるまで、in/out上の改行区切り
// JSON-RPCでカタログを提供します。ログをoutに出力してはいけません。
func ServeStdio(ctx context.Context, tools *Toolset, in io.Reader, out io.Writer) error {
	sessionID := ulid.Make().String()
	s, err := NewMCPServer(tools, sessionID)
	if err != nil {
		return err
	}

	stdio := server.NewStdioServer(s)
	stdio.SetErrorLogger(log.New(slogWriter{}, "", 0))

	slog.Info("Serving MCP over stdio", "sessionID", sessionID)
	if err := stdio.Listen(ctx, in, out); err != nil && ctx.Err() == nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// slogWriter forwards mcp-go's error logger into slog.
type slogWriter struct{}

func (slogWriter) Write(p []byte) (int, error) {
	slog.Error("stdio transport", "message", string(p))
	return len(p), nil
}
