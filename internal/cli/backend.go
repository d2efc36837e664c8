// backend.go defines the Backend interface and its implementations for gateway operations.
// It provides two backends: DirectBackend (an in-process gateway) and HTTPBackend (via a hostgate server).
// This abstraction allows CLI commands to work both locally and remotely.
//
// backend.goはゲートウェイ操作のためのBackendインターフェースとその実装を定義します。
// 2つのバックエンドを提供します：DirectBackend（プロセス内ゲートウェイ）とHTTPBackend（hostgateサーバー経由）。
// この抽象化により、CLIコマンドはローカルとリモートの両方で動作できます。
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"

	"github.com/YujiSuzuki/hostgate/internal/client"
	"github.com/YujiSuzuki/hostgate/internal/config"
	"github.com/YujiSuzuki/hostgate/internal/docker"
	"github.com/YujiSuzuki/hostgate/internal/gateway"
	"github.com/YujiSuzuki/hostgate/internal/mcp"
	"github.com/YujiSuzuki/hostgate/internal/security"
)

// Backend runs gateway operations by name.
// Backendは名前でゲートウェイ操作を実行します。
type Backend interface {
	// Call runs one operation and returns its text output.
	// Callは操作を1件実行し、テキスト出力を返します。
	Call(ctx context.Context, tool string, args map[string]any) (string, error)

	// Tools lists the operation catalog.
	// Toolsは操作カタログを一覧表示します。
	Tools(ctx context.Context) ([]ToolInfo, error)

	// Close releases any resources held by the backend.
	// Closeはバックエンドが保持するリソースを解放します。
	Close() error
}

// ToolInfo is a transport-neutral catalog entry for display.
// ToolInfoは表示用のトランスポート非依存なカタログエントリです。
type ToolInfo struct {
	Name        string
	Description string
	Params      []ParamInfo
}

// ParamInfo describes one input parameter.
type ParamInfo struct {
	Name     string
	Type     string
	Required bool
}

// loadConfig loads the config file and applies the --root flag.
// loadConfigは設定ファイルを読み込み、--rootフラグを適用します。
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if flagRoot != "" {
		cfg.Gateway.Root = flagRoot
	}
	return cfg, nil
}

// buildGateway assembles the gateway from configuration: blocked paths
// (plus ignore files found in the root), output masking and, when enabled,
// the Docker engine probe. The returned func releases the probe.
//
// buildGatewayは設定からゲートウェイを組み立てます：ブロックパス
// （ルート内の除外ファイルを含む）、出力マスキング、有効な場合はDockerエンジンプローブ。
// 戻り値の関数はプローブを解放します。
func buildGateway(cfg *config.Config) (*gateway.Gateway, func(), error) {
	root, err := cfg.Gateway.ResolveRoot()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to determine root: %w", err)
	}

	blocked := security.NewBlockedPaths(cfg.Security.BlockedPaths)
	for _, name := range cfg.Security.IgnoreFiles {
		if err := blocked.LoadIgnoreFile(filepath.Join(root, name)); err != nil {
			slog.Warn("Failed to load ignore file", "file", name, "error", err)
		}
	}

	opts := []gateway.Option{
		gateway.WithBlockedPaths(blocked),
		gateway.WithOutputMasker(security.NewOutputMasker(&cfg.Security.OutputMasking)),
	}

	closer := func() {}
	if cfg.SystemInfo.Docker {
		dc, err := docker.NewClient()
		if err != nil {
			slog.Debug("Docker probe disabled", "error", err)
		} else {
			opts = append(opts, gateway.WithDockerProbe(dc))
			closer = func() { dc.Close() }
		}
	}

	gw, err := gateway.New(cfg.Gateway, opts...)
	if err != nil {
		closer()
		return nil, nil, err
	}
	return gw, closer, nil
}

// DirectBackend runs operations on an in-process gateway built from the
// local configuration. It goes through the same schema validation as the
// server does.
//
// DirectBackendはローカル設定から構築したプロセス内ゲートウェイで操作を実行します。
// サーバーと同じスキーマ検証を通ります。
type DirectBackend struct {
	gw      *gateway.Gateway
	tools   *mcp.Toolset
	release func()
}

// NewDirectBackend creates a DirectBackend from the loaded configuration.
// NewDirectBackendは読み込まれた設定からDirectBackendを作成します。
func NewDirectBackend() (*DirectBackend, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return newDirectBackend(cfg)
}

func newDirectBackend(cfg *config.Config) (*DirectBackend, error) {
	gw, release, err := buildGateway(cfg)
	if err != nil {
		return nil, err
	}
	tools, err := mcp.NewToolset(gw)
	if err != nil {
		release()
		return nil, err
	}
	return &DirectBackend{gw: gw, tools: tools, release: release}, nil
}

// Root returns the gateway's canonical root.
func (b *DirectBackend) Root() string {
	return b.gw.Root()
}

// Call validates and runs one operation in-process.
// Callは1件の操作を検証してプロセス内で実行します。
func (b *DirectBackend) Call(ctx context.Context, tool string, args map[string]any) (string, error) {
	out, err := b.tools.Call(ctx, "cli", tool, args)
	if err != nil {
		var rpcErr *mcp.JSONRPCError
		if errors.As(err, &rpcErr) {
			if data, ok := rpcErr.Data.(map[string]string); ok && data["kind"] != "" {
				return "", fmt.Errorf("%s: %s", data["kind"], rpcErr.Message)
			}
		}
		return "", err
	}
	return out.Text(), nil
}

// Tools returns the local catalog.
// Toolsはローカルのカタログを返します。
func (b *DirectBackend) Tools(context.Context) ([]ToolInfo, error) {
	var infos []ToolInfo
	for _, t := range b.tools.Tools() {
		required := map[string]bool{}
		for _, r := range t.InputSchema.Required {
			required[r] = true
		}
		info := ToolInfo{Name: t.Name, Description: t.Description}
		for name, p := range t.InputSchema.Properties {
			info.Params = append(info.Params, ParamInfo{Name: name, Type: p.Type, Required: required[name]})
		}
		sortParams(info.Params)
		infos = append(infos, info)
	}
	return infos, nil
}

// Close releases the Docker probe, if any.
func (b *DirectBackend) Close() error {
	b.release()
	return nil
}

// HTTPBackend implements Backend using a running hostgate server.
// It connects via HTTP/SSE and uses MCP.
//
// HTTPBackendは実行中のhostgateサーバーを使用してBackendを実装します。
// HTTP/SSE経由で接続し、MCPを使用します。
type HTTPBackend struct {
	client *client.Client
}

// NewHTTPBackend connects to the server at url. It performs a health check
// and establishes the SSE session before returning.
//
// NewHTTPBackendはurlのサーバーに接続します。返す前にヘルスチェックを実行し、
// SSEセッションを確立します。
func NewHTTPBackend(url, suffix string) (*HTTPBackend, error) {
	c, err := client.NewClient(url)
	if err != nil {
		return nil, err
	}
	if suffix != "" {
		c.SetClientSuffix(suffix)
	}

	if _, err := c.HealthCheck(); err != nil {
		c.Close()
		return nil, fmt.Errorf("server health check failed: %w", err)
	}
	if err := c.Connect(); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	return &HTTPBackend{client: c}, nil
}

// Call runs one operation on the server.
// Callはサーバー上で操作を1件実行します。
func (b *HTTPBackend) Call(_ context.Context, tool string, args map[string]any) (string, error) {
	result, err := b.client.CallTool(tool, args)
	if err != nil {
		return "", err
	}
	return result.Text(), nil
}

// Tools returns the server's catalog.
// Toolsはサーバーのカタログを返します。
func (b *HTTPBackend) Tools(context.Context) ([]ToolInfo, error) {
	tools, err := b.client.ListTools()
	if err != nil {
		return nil, err
	}
	var infos []ToolInfo
	for _, t := range tools {
		required := map[string]bool{}
		if list, ok := t.InputSchema["required"].([]any); ok {
			for _, r := range list {
				if s, ok := r.(string); ok {
					required[s] = true
				}
			}
		}
		info := ToolInfo{Name: t.Name, Description: t.Description}
		props, _ := t.InputSchema["properties"].(map[string]any)
		for name, raw := range props {
			p, _ := raw.(map[string]any)
			typ, _ := p["type"].(string)
			info.Params = append(info.Params, ParamInfo{Name: name, Type: typ, Required: required[name]})
		}
		sortParams(info.Params)
		infos = append(infos, info)
	}
	return infos, nil
}

// Close closes the SSE session.
func (b *HTTPBackend) Close() error {
	return b.client.Close()
}

// sortParams puts required parameters first, then sorts by name.
// sortParamsは必須パラメータを先頭にし、次に名前順に並べます。
func sortParams(params []ParamInfo) {
	sort.Slice(params, func(i, j int) bool {
		if params[i].Required != params[j].Required {
			return params[i].Required
		}
		return params[i].Name < params[j].Name
	})
}
