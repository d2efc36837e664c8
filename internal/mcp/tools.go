// Package mcp exposes the gateway's operations as MCP tools. This file holds
// the tool catalog and the Toolset that validates arguments against each
// tool's input schema before dispatching to the gateway.
//
// mcpパッケージはゲートウェイの操作をMCPツールとして公開します。
// このファイルはツールカタログと、各ツールの入力スキーマで引数を検証してから
// ゲートウェイにディスパッチするToolsetを保持します。
package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/YujiSuzuki/hostgate/internal/audit"
	"github.com/YujiSuzuki/hostgate/internal/config"
	"github.com/YujiSuzuki/hostgate/internal/gateway"
)

// ServerVersion is the version string returned in MCP initialize response.
// This can be set by the CLI package to match the application version.
// Default value "dev" indicates a development build.
//
// ServerVersionはMCP initializeレスポンスで返されるバージョン文字列です。
// CLIパッケージからアプリケーションバージョンに合わせて設定できます。
// デフォルト値"dev"は開発ビルドを示します。
var ServerVersion = "dev"

// ServerName is reported as serverInfo.name by both transports.
const ServerName = "hostgate"

// ProtocolVersion is the MCP revision spoken by the SSE transport.
const ProtocolVersion = "2024-11-05"

// ToolInputSchema represents the JSON schema for tool input parameters.
// ToolInputSchemaはツール入力パラメータのJSONスキーマを表します。
type ToolInputSchema struct {
	// Type is the JSON type of the input (always "object")
	// Typeは入力のJSON型（常に"object"）
	Type string `json:"type"`

	// Properties defines the individual parameters and their schemas
	// Propertiesは個々のパラメータとそのスキーマを定義します
	Properties map[string]ToolProperty `json:"properties"`

	// Required lists the parameter names that must be provided
	// Requiredは必ず提供しなければならないパラメータ名のリスト
	Required []string `json:"required,omitempty"`
}

// ToolProperty represents a property in the tool input schema.
// ToolPropertyはツール入力スキーマ内のプロパティを表します。
type ToolProperty struct {
	Type        string `json:"type"`
	Description string `json:"description"`

	// Default is the value the gateway uses when the parameter is absent.
	// Defaultはパラメータが省略された場合にゲートウェイが使用する値です。
	Default any `json:"default,omitempty"`

	// Minimum sets the minimum value for numeric parameters
	// Minimumは数値パラメータの最小値を設定します
	Minimum *int `json:"minimum,omitempty"`

	// Maximum sets the maximum value for numeric parameters
	// Maximumは数値パラメータの最大値を設定します
	Maximum *int `json:"maximum,omitempty"`

	// Items describes array elements.
	// Itemsは配列要素を記述します。
	Items *ToolProperty `json:"items,omitempty"`
}

// Tool represents an MCP tool that can be invoked by AI assistants.
// The name is the gateway operation name.
//
// ToolはAIアシスタントが呼び出せるMCPツールを表します。
// 名前はゲートウェイの操作名です。
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema ToolInputSchema `json:"inputSchema"`
}

// ClientInfo represents the client information sent during MCP initialization.
// ClientInfoはMCP初期化中に送信されるクライアント情報を表します。
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeParams represents the parameters for the MCP initialize method.
// InitializeParamsはMCPのinitializeメソッドのパラメータを表します。
type InitializeParams struct {
	ClientInfo ClientInfo `json:"clientInfo"`
}

func str(desc string) ToolProperty {
	return ToolProperty{Type: "string", Description: desc}
}

func pathOnly(desc string) map[string]ToolProperty {
	return map[string]ToolProperty{"path": str(desc)}
}

func sourceDest(src, dst string) map[string]ToolProperty {
	return map[string]ToolProperty{
		"source":      str(src),
		"destination": str(dst),
	}
}

func object(props map[string]ToolProperty, required ...string) ToolInputSchema {
	return ToolInputSchema{Type: "object", Properties: props, Required: required}
}

// GetTools returns the catalog of all 17 operations. Every path is relative
// to the allowed root unless absolute, and must resolve inside it.
//
// GetToolsは全17操作のカタログを返します。すべてのパスは絶対パスでない限り
// 許可されたルートからの相対パスで、ルート内に解決される必要があります。
func GetTools() []Tool {
	one := 1
	maxTimeout := int(config.MaxCommandTimeout / time.Millisecond)
	return []Tool{
		{
			Name:        "execute_command",
			Description: "Execute an allow-listed program directly (no shell) in the allowed root. Arguments are passed verbatim after stripping <>&|; characters.",
			InputSchema: object(map[string]ToolProperty{
				"command": str("Program name; must be on the allow-list and contain no path separators"),
				"args": {
					Type:        "array",
					Description: "Command arguments",
					Items:       &ToolProperty{Type: "string", Description: "One argument"},
				},
				"timeout": {
					Type:        "integer",
					Description: "Timeout in milliseconds",
					Default:     30000,
					Minimum:     &one,
					Maximum:     &maxTimeout,
				},
			}, "command"),
		},
		{
			Name:        "read_file",
			Description: "Read file content",
			InputSchema: object(map[string]ToolProperty{
				"path":     str("File path to read"),
				"encoding": {Type: "string", Description: "Output encoding: utf8, base64 or hex", Default: "utf8"},
			}, "path"),
		},
		{
			Name:        "write_file",
			Description: "Write content to a file, creating it if needed",
			InputSchema: object(map[string]ToolProperty{
				"path":     str("File path to write"),
				"content":  str("Content to write"),
				"encoding": {Type: "string", Description: "Encoding of content: utf8, base64 or hex", Default: "utf8"},
				"append":   {Type: "boolean", Description: "Append to file instead of overwrite", Default: false},
			}, "path", "content"),
		},
		{
			Name:        "list_directory",
			Description: "List directory contents as JSON entries with name, type and root-relative path",
			InputSchema: object(map[string]ToolProperty{
				"path":      str("Directory path to list"),
				"recursive": {Type: "boolean", Description: "List recursively", Default: false},
			}, "path"),
		},
		{
			Name:        "get_system_info",
			Description: "Get host platform, CPU, memory, uptime, network and (when reachable) Docker engine information",
			InputSchema: object(map[string]ToolProperty{}),
		},
		{
			Name:        "create_file",
			Description: "Create a file with optional initial content, replacing any existing file",
			InputSchema: object(map[string]ToolProperty{
				"path":    str("File path to create"),
				"content": {Type: "string", Description: "Initial content", Default: ""},
			}, "path"),
		},
		{
			Name:        "create_directory",
			Description: "Create a new directory",
			InputSchema: object(map[string]ToolProperty{
				"path":      str("Directory path to create"),
				"recursive": {Type: "boolean", Description: "Create parent directories", Default: false},
			}, "path"),
		},
		{
			Name:        "delete_file",
			Description: "Delete a file or symbolic link",
			InputSchema: object(pathOnly("File path to delete"), "path"),
		},
		{
			Name:        "delete_directory",
			Description: "Delete a directory recursively. The allowed root itself cannot be deleted.",
			InputSchema: object(pathOnly("Directory path to delete"), "path"),
		},
		{
			Name:        "copy_file",
			Description: "Copy a file",
			InputSchema: object(sourceDest("Source file path", "Destination file path"), "source", "destination"),
		},
		{
			Name:        "move_file",
			Description: "Move or rename a file or directory",
			InputSchema: object(sourceDest("Source path", "Destination path"), "source", "destination"),
		},
		{
			Name:        "get_file_info",
			Description: "Get size, modification time, type and permissions of a path",
			InputSchema: object(pathOnly("Path to inspect"), "path"),
		},
		{
			Name:        "change_permissions",
			Description: "Change file permissions",
			InputSchema: object(map[string]ToolProperty{
				"path": str("File path to change permissions"),
				"mode": str("Permission mode as an octal string, e.g. 0644"),
			}, "path", "mode"),
		},
		{
			Name:        "search_files",
			Description: "Search for files whose name matches a pattern. A pattern containing * is a wildcard over the whole name; otherwise it is a substring match.",
			InputSchema: object(map[string]ToolProperty{
				"path":      str("Directory to search in"),
				"pattern":   str("Name pattern"),
				"recursive": {Type: "boolean", Description: "Search recursively", Default: true},
			}, "path", "pattern"),
		},
		{
			Name:        "compress_file",
			Description: "Compress a file or directory into an archive",
			InputSchema: object(map[string]ToolProperty{
				"source":      str("Source path to compress"),
				"destination": str("Destination archive path"),
				"format":      {Type: "string", Description: "Archive format: zip, tar or gz (tar.gz)", Default: "zip"},
			}, "source", "destination"),
		},
		{
			Name:        "extract_file",
			Description: "Extract a .zip, .tar, .tar.gz or .tgz archive into a directory",
			InputSchema: object(sourceDest("Archive file to extract", "Destination directory"), "source", "destination"),
		},
		{
			Name:        "calculate_hash",
			Description: "Calculate a file digest",
			InputSchema: object(map[string]ToolProperty{
				"path":      str("File path to hash"),
				"algorithm": {Type: "string", Description: "Hash algorithm: md5, sha1, sha256 or sha512", Default: "sha256"},
			}, "path"),
		},
	}
}

// Dispatcher runs one named operation. *gateway.Gateway implements it.
// Dispatcherは名前付きの操作を1件実行します。*gateway.Gatewayが実装します。
type Dispatcher interface {
	Call(ctx context.Context, name string, args map[string]any) gateway.Outcome
}

// Toolset binds the catalog to a dispatcher. It is shared by every
// transport and safe for concurrent use.
//
// Toolsetはカタログをディスパッチャに結び付けます。
// すべてのトランスポートで共有され、並行利用しても安全です。
type Toolset struct {
	gw      Dispatcher
	tools   []Tool
	schemas map[string]*jsonschema.Schema
}

// NewToolset compiles every tool's input schema.
// NewToolsetはすべてのツールの入力スキーマをコンパイルします。
func NewToolset(gw Dispatcher) (*Toolset, error) {
	tools := GetTools()
	ts := &Toolset{
		gw:      gw,
		tools:   tools,
		schemas: make(map[string]*jsonschema.Schema, len(tools)),
	}

	c := jsonschema.NewCompiler()
	for _, tool := range tools {
		raw, err := json.Marshal(tool.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal schema for %s: %w", tool.Name, err)
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("failed to decode schema for %s: %w", tool.Name, err)
		}
		url := schemaURL(tool.Name)
		if err := c.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("failed to add schema for %s: %w", tool.Name, err)
		}
		sch, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("failed to compile schema for %s: %w", tool.Name, err)
		}
		ts.schemas[tool.Name] = sch
	}
	return ts, nil
}

func schemaURL(tool string) string {
	return "https://hostgate.invalid/schemas/" + tool + ".json"
}

// Tools returns the catalog.
func (t *Toolset) Tools() []Tool {
	return t.tools
}

// Validate checks args against the named tool's input schema.
// Validateは指定ツールの入力スキーマに対してargsを検証します。
func (t *Toolset) Validate(name string, args map[string]any) error {
	sch, ok := t.schemas[name]
	if !ok {
		return &JSONRPCError{Code: CodeMethodNotFound, Message: fmt.Sprintf("Unknown tool: %s", name)}
	}
	if args == nil {
		args = map[string]any{}
	}
	if err := sch.Validate(args); err != nil {
		return &JSONRPCError{Code: CodeInvalidParams, Message: fmt.Sprintf("Invalid arguments for %s: %v", name, err)}
	}
	return nil
}

// Call validates args, dispatches the operation and records the audit
// trail. A gateway failure is returned as a *JSONRPCError.
//
// Callはargsを検証して操作をディスパッチし、監査証跡を記録します。
// ゲートウェイの失敗は*JSONRPCErrorとして返されます。
func (t *Toolset) Call(ctx context.Context, sessionID, name string, args map[string]any) (gateway.Outcome, error) {
	if err := t.Validate(name, args); err != nil {
		audit.LogToolCall(ctx, name, sessionID, audit.ResultError, 0, err.Error())
		return gateway.Outcome{}, err
	}

	start := time.Now()
	out := t.gw.Call(ctx, name, args)
	ms := audit.MeasureDuration(start)

	if out.Err == nil {
		audit.LogToolCall(ctx, name, sessionID, audit.ResultSuccess, ms, "")
		return out, nil
	}

	result := audit.ResultError
	switch out.Err.Kind {
	case gateway.KindAccessDenied:
		result = audit.ResultDenied
		slog.Warn("Access denied", "tool", name, "session", sessionID, "error", out.Err.Message)
		audit.LogAccessDenied(ctx, name, sessionID, out.Err.Message, nil)
	case gateway.KindCommandNotAllowed:
		result = audit.ResultDenied
		command, _ := args["command"].(string)
		slog.Warn("Command denied", "command", command, "session", sessionID)
		audit.LogCommandDenied(ctx, command, sessionID, out.Err.Message)
	}
	audit.LogToolCall(ctx, name, sessionID, result, ms, out.Err.Message)

	return out, &JSONRPCError{
		Code:    errorCode(out.Err.Kind),
		Message: out.Err.Message,
		Data:    map[string]string{"kind": out.Err.Kind.String()},
	}
}

// errorCode maps a gateway failure to its JSON-RPC code.
func errorCode(kind gateway.ErrorKind) int {
	switch kind {
	case gateway.KindUnknownOperation:
		return CodeMethodNotFound
	case gateway.KindInvalidArguments:
		return CodeInvalidParams
	default:
		return CodeInternalError
	}
}

// initialize handles the MCP initialization request.
// It returns the server capabilities and extracts the client name and version for logging.
//
// initializeはMCP初期化リクエストを処理します。
// サーバーの機能を返し、ログ記録用にクライアント名とバージョンを抽出します。
func (s *Server) initialize(params any) (any, string, string) {
	slog.Debug("Handling initialize request")
	var clientName, clientVersion string

	// Round-trip through JSON instead of asserting nested map types.
	// ネストしたマップ型をアサートする代わりにJSONを往復させます。
	paramsBytes, err := json.Marshal(params)
	if err != nil {
		slog.Warn("Could not marshal initialize params", "error", err)
	} else {
		var initParams InitializeParams
		if err := json.Unmarshal(paramsBytes, &initParams); err != nil {
			slog.Debug("Could not unmarshal initialize params into expected structure", "error", err)
		} else {
			clientName = initParams.ClientInfo.Name
			clientVersion = initParams.ClientInfo.Version
		}
	}

	response := map[string]any{
		"protocolVersion": ProtocolVersion,
		"serverInfo": map[string]string{
			"name":    ServerName,
			"version": ServerVersion,
		},
		"capabilities": map[string]any{
			"tools": map[string]bool{},
		},
	}
	return response, clientName, clientVersion
}

// listTools returns the catalog wrapped in the MCP response format.
// listToolsはカタログをMCPレスポンス形式でラップして返します。
func (s *Server) listTools() any {
	return map[string]any{
		"tools": s.tools.Tools(),
	}
}

// callTool extracts the tool name and arguments and runs them through the Toolset.
// callToolはツール名と引数を抽出し、Toolsetで実行します。
func (s *Server) callTool(ctx context.Context, sessionID string, params any) (any, error) {
	paramsMap, ok := params.(map[string]any)
	if !ok {
		return nil, &JSONRPCError{Code: CodeInvalidParams, Message: "invalid params format"}
	}

	toolName, ok := paramsMap["name"].(string)
	if !ok || toolName == "" {
		return nil, &JSONRPCError{Code: CodeInvalidParams, Message: "missing tool name"}
	}

	var arguments map[string]any
	switch a := paramsMap["arguments"].(type) {
	case nil:
		arguments = map[string]any{}
	case map[string]any:
		arguments = a
	default:
		return nil, &JSONRPCError{Code: CodeInvalidParams, Message: "arguments must be an object"}
	}

	out, err := s.tools.Call(ctx, sessionID, toolName, arguments)
	if err != nil {
		return nil, err
	}
	return outcomeResponse(out), nil
}
