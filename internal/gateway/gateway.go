// Package gateway implements the sandboxed operation gateway: the layer that
// decides, for every operation request, whether it is safe to run against
// the host, and runs it under scope and resource limits.
//
// gatewayパッケージはサンドボックス化された操作ゲートウェイを実装します。
// すべての操作リクエストについてホストに対して安全に実行できるかを判断し、
// スコープとリソースの制限下で実行する層です。
//
// A Gateway is built once from an immutable policy (allow-list, boundary
// root, limits) and holds no per-request state, so one instance can serve
// any number of concurrent requests without locking.
//
// Gatewayは不変のポリシー（許可リスト、境界ルート、制限）から一度だけ構築され、
// リクエストごとの状態を持たないため、ロックなしで任意の数の並行リクエストを処理できます。
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/YujiSuzuki/hostgate/internal/config"
	"github.com/YujiSuzuki/hostgate/internal/executor"
	"github.com/YujiSuzuki/hostgate/internal/security"
)

// Runner spawns a program from an argv array. executor.Local is the
// production implementation; tests substitute a counting fake.
//
// Runnerはargv配列からプログラムを起動します。executor.Localが本番実装で、
// テストではカウント用のフェイクに置き換えます。
type Runner interface {
	Run(ctx context.Context, name string, args []string, opts executor.Options) (*executor.Result, error)
}

// Request is one decoded operation. It must not be modified after Dispatch.
// Requestはデコード済みの操作1件です。Dispatch後に変更してはいけません。
type Request struct {
	Kind OperationKind
	Args Args
}

// Gateway dispatches operation requests under a fixed policy.
// Gatewayは固定ポリシーの下で操作リクエストを振り分けます。
type Gateway struct {
	policy   *security.CommandPolicy
	confiner *security.Confiner
	blocked  *security.BlockedPaths
	masker   *security.OutputMasker
	runner   Runner
	docker   DockerProbe

	commandTimeout time.Duration
	archiveTimeout time.Duration
	maxOutput      int64
	maxDepth       int
}

// Option configures a Gateway at construction.
// OptionはGatewayを構築時に設定します。
type Option func(*Gateway)

// WithRunner replaces the process runner.
func WithRunner(r Runner) Option {
	return func(g *Gateway) { g.runner = r }
}

// WithBlockedPaths denies matching paths inside the root.
func WithBlockedPaths(b *security.BlockedPaths) Option {
	return func(g *Gateway) { g.blocked = b }
}

// WithOutputMasker masks secrets in command output.
func WithOutputMasker(m *security.OutputMasker) Option {
	return func(g *Gateway) { g.masker = m }
}

// WithDockerProbe adds Docker engine details to get_system_info.
func WithDockerProbe(p DockerProbe) Option {
	return func(g *Gateway) { g.docker = p }
}

// New builds a Gateway. The root is resolved here, once; the allow-list is
// copied. Neither changes for the lifetime of the Gateway.
//
// NewはGatewayを構築します。ルートはここで一度だけ解決され、許可リストはコピーされます。
// どちらもGatewayの生存期間中に変わることはありません。
func New(cfg config.GatewayConfig, opts ...Option) (*Gateway, error) {
	maxOutput, err := cfg.MaxOutputBytes()
	if err != nil {
		return nil, err
	}
	root, err := cfg.ResolveRoot()
	if err != nil {
		return nil, fmt.Errorf("failed to determine root: %w", err)
	}

	g := &Gateway{
		policy:         security.NewCommandPolicy(cfg.AllowedCommands),
		runner:         executor.Local{},
		commandTimeout: cfg.CommandTimeout,
		archiveTimeout: cfg.ArchiveTimeout,
		maxOutput:      maxOutput,
		maxDepth:       cfg.MaxDepth,
	}
	if g.commandTimeout <= 0 {
		g.commandTimeout = executor.DefaultTimeout
	}
	if g.archiveTimeout <= 0 {
		g.archiveTimeout = 60 * time.Second
	}
	if g.maxDepth <= 0 {
		g.maxDepth = 32
	}
	for _, opt := range opts {
		opt(g)
	}

	g.confiner, err = security.NewConfiner(root, g.blocked)
	if err != nil {
		return nil, err
	}
	return g, nil
}

// Root returns the canonical boundary root.
// Rootは正規化された境界ルートを返します。
func (g *Gateway) Root() string {
	return g.confiner.Root()
}

// AllowedCommands returns the command allow-list.
// AllowedCommandsはコマンド許可リストを返します。
func (g *Gateway) AllowedCommands() []string {
	return g.policy.AllowedCommands()
}

type handlerFunc func(g *Gateway, ctx context.Context, args Args) Outcome

var handlers = map[OperationKind]handlerFunc{
	OpExecuteCommand:    (*Gateway).executeCommand,
	OpReadFile:          (*Gateway).readFile,
	OpWriteFile:         (*Gateway).writeFile,
	OpListDirectory:     (*Gateway).listDirectory,
	OpGetSystemInfo:     (*Gateway).getSystemInfo,
	OpCreateFile:        (*Gateway).createFile,
	OpCreateDirectory:   (*Gateway).createDirectory,
	OpDeleteFile:        (*Gateway).deleteFile,
	OpDeleteDirectory:   (*Gateway).deleteDirectory,
	OpCopyFile:          (*Gateway).copyFile,
	OpMoveFile:          (*Gateway).moveFile,
	OpGetFileInfo:       (*Gateway).getFileInfo,
	OpChangePermissions: (*Gateway).changePermissions,
	OpSearchFiles:       (*Gateway).searchFiles,
	OpCompressFile:      (*Gateway).compressFile,
	OpExtractFile:       (*Gateway).extractFile,
	OpCalculateHash:     (*Gateway).calculateHash,
}

// Dispatch runs one request and returns exactly one outcome. Failures are
// reported in Outcome.Err; Dispatch itself never panics.
//
// Dispatchは1件のリクエストを実行し、ちょうど1つの結果を返します。
// 失敗はOutcome.Errで報告され、Dispatch自体がpanicすることはありません。
func (g *Gateway) Dispatch(ctx context.Context, req Request) (out Outcome) {
	h, ok := handlers[req.Kind]
	if !ok {
		return failed(newError(KindUnknownOperation, "Unknown tool: %s", req.Kind))
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Operation panicked", "operation", req.Kind.String(), "panic", r)
			kind := KindFilesystemOperationFailed
			if req.Kind == OpExecuteCommand {
				kind = KindCommandExecutionFailed
			}
			out = failed(newError(kind, "internal error in %s", req.Kind))
		}
	}()

	args := req.Args
	if args == nil {
		args = Args{}
	}

	start := time.Now()
	out = h(g, ctx, args)
	if out.Err != nil {
		slog.Debug("Operation failed",
			"operation", req.Kind.String(),
			"kind", out.Err.Kind.String(),
			"error", out.Err.Message,
			"duration", time.Since(start))
	} else {
		slog.Debug("Operation completed",
			"operation", req.Kind.String(),
			"duration", time.Since(start))
	}
	return out
}

// Call parses name and dispatches it.
// Callはnameを解析してDispatchします。
func (g *Gateway) Call(ctx context.Context, name string, args map[string]any) Outcome {
	kind, err := ParseOperation(name)
	if err != nil {
		gerr, _ := AsError(err)
		return failed(gerr)
	}
	return g.Dispatch(ctx, Request{Kind: kind, Args: Args(args)})
}
