// serve.go implements the 'serve' command for starting the hostgate MCP server.
// This file handles server configuration, logging setup, and graceful shutdown.
//
// serve.goはhostgate MCPサーバーを起動する'serve'コマンドを実装します。
// このファイルはサーバー設定、ログ設定、グレースフルシャットダウンを処理します。
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docker/go-connections/sockets"
	"github.com/spf13/cobra"

	"github.com/YujiSuzuki/hostgate/internal/audit"
	"github.com/YujiSuzuki/hostgate/internal/config"
	"github.com/YujiSuzuki/hostgate/internal/mcp"
)

var (
	// flagTransport selects "sse" or "stdio" (overrides config and HOSTGATE_TRANSPORT).
	// flagTransportは"sse"または"stdio"を選択します（設定とHOSTGATE_TRANSPORTを上書き）。
	flagTransport string

	// flagPort specifies the port number for the server to listen on.
	// flagPortはサーバーがリッスンするポート番号を指定します。
	flagPort int

	// flagHost specifies the host address to bind the server to.
	// flagHostはサーバーをバインドするホストアドレスを指定します。
	flagHost string

	// flagSocket listens on a unix socket instead of host:port.
	// flagSocketはhost:portの代わりにunixソケットで待ち受けます。
	flagSocket string

	// flagLogLevel specifies the logging level: debug, info, warn, error.
	// flagLogLevelはログレベルを指定します: debug, info, warn, error
	flagLogLevel string

	// flagLogFile specifies the path to the log file.
	// If empty, logs are written to the console.
	//
	// flagLogFileはログファイルへのパスを指定します。
	// 空の場合、ログはコンソールに出力されます。
	flagLogFile string

	// flagLogAlsoStdout enables dual logging to both file and console.
	// Only effective when flagLogFile is set.
	//
	// flagLogAlsoStdoutはファイルとコンソールの両方へのログ出力を有効にします。
	// flagLogFileが設定されている場合のみ有効です。
	flagLogAlsoStdout bool

	// flagAllowCommand adds commands to the allow-list for this session only.
	// flagAllowCommandはこのセッションに限りコマンドを許可リストに追加します。
	flagAllowCommand []string

	// flagVerbosity controls the verbosity level for logging.
	// Level 0: Normal (INFO level, minimal output)
	// Level 1 (-v): Verbose (INFO + JSON for initialized clients)
	// Level 2 (-vv): More verbose (DEBUG + JSON, filter noise)
	// Level 3 (-vvv): Full debug (DEBUG + all JSON, show noise)
	// Level 4 (-vvvv): Full debug + HTTP headers
	//
	// flagVerbosityはログの詳細レベルを制御します。
	// レベル0: 通常（INFOレベル、最小出力）
	// レベル1 (-v): 詳細（INFO + 初期化済みクライアントのJSON）
	// レベル2 (-vv): より詳細（DEBUG + JSON、ノイズをフィルタ）
	// レベル3 (-vvv): フルデバッグ（DEBUG + 全JSON、ノイズも表示）
	// レベル4 (-vvvv): フルデバッグ + HTTPヘッダー表示
	flagVerbosity int
)

// serveCmd represents the 'serve' command that starts the MCP server.
// serveCmdはMCPサーバーを起動する'serve'コマンドを表します。
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server",
	Long: `Start the hostgate MCP server.

With --transport sse (default) the server listens for HTTP/SSE clients on
host:port, or on a unix socket with --socket. With --transport stdio it
speaks MCP on stdin/stdout and logs to stderr.

Examples:
  hostgate serve --root ~/project
  hostgate serve --transport stdio --root .
  hostgate serve --socket /run/hostgate.sock --allow-command git`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&flagTransport, "transport", "", "Transport: sse or stdio (overrides config)")
	serveCmd.Flags().IntVar(&flagPort, "port", 0, "Port to listen on (overrides config)")
	serveCmd.Flags().StringVar(&flagHost, "host", "", "Host to bind to (overrides config)")
	serveCmd.Flags().StringVar(&flagSocket, "socket", "", "Listen on a unix socket instead of host:port")
	serveCmd.Flags().StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	serveCmd.Flags().StringVar(&flagLogFile, "log-file", "", "Log file path (default: console, set to enable file logging)")
	serveCmd.Flags().BoolVar(&flagLogAlsoStdout, "log-also-stdout", false, "Also log to the console when log-file is set")
	serveCmd.Flags().StringArrayVar(&flagAllowCommand, "allow-command", []string{}, "Temporarily allow a command (repeatable)")
	serveCmd.Flags().CountVarP(&flagVerbosity, "verbose", "v", "Increase verbosity level (-v: JSON output, -vv: debug level, -vvv: full debug with noise, -vvvv: + HTTP headers)")
}

// serveOptions is the flag state runServe applies over the loaded config.
// serveOptionsはrunServeが読み込んだ設定に適用するフラグの状態です。
type serveOptions struct {
	root          string
	transport     string
	port          int
	host          string
	socket        string
	logLevel      string
	verbosity     int
	allowCommands []string
}

// applyServeFlags overrides cfg with command-line flags and re-validates.
// CLI flags take precedence over the config file and environment.
//
// applyServeFlagsはコマンドラインフラグでcfgを上書きし、再検証します。
// CLIフラグは設定ファイルと環境変数よりも優先されます。
func applyServeFlags(cfg *config.Config, o serveOptions) error {
	if o.root != "" {
		cfg.Gateway.Root = o.root
	}
	if o.transport != "" {
		cfg.Server.Transport = o.transport
	}
	if o.port > 0 {
		cfg.Server.Port = o.port
	}
	if o.host != "" {
		cfg.Server.Host = o.host
	}
	if o.socket != "" {
		cfg.Server.Socket = o.socket
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	// -vv and above imply debug.
	// -vv以上はdebugを意味します。
	if o.verbosity >= 2 {
		cfg.Logging.Level = "debug"
	}
	if err := applyAllowCommandFlags(cfg, o.allowCommands); err != nil {
		return err
	}
	return cfg.Validate()
}

// applyAllowCommandFlags appends --allow-command entries to the allow-list.
// Entries are bare program names; anything with a path separator or
// whitespace is rejected, since the policy matches names exactly.
//
// applyAllowCommandFlagsは--allow-commandのエントリを許可リストに追加します。
// エントリはプログラム名のみで、パス区切りや空白を含むものは拒否されます。
func applyAllowCommandFlags(cfg *config.Config, commands []string) error {
	if len(commands) == 0 {
		return nil
	}
	slog.Warn("Runtime allow-list additions (temporary, will be cleared on restart):")
	for _, c := range commands {
		if c == "" || containsAny(c, "/\\ \t") {
			return fmt.Errorf("invalid --allow-command %q (expected a bare program name)", c)
		}
		cfg.Gateway.AllowedCommands = append(cfg.Gateway.AllowedCommands, c)
		slog.Warn("  Added temporary allow-list entry", "command", c)
	}
	return nil
}

func containsAny(s, chars string) bool {
	for _, r := range s {
		for _, c := range chars {
			if r == c {
				return true
			}
		}
	}
	return false
}

// runServe is the main entry point for the serve command.
// runServeはserveコマンドのメインエントリーポイントです。
func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	err = applyServeFlags(cfg, serveOptions{
		root:          flagRoot,
		transport:     flagTransport,
		port:          flagPort,
		host:          flagHost,
		socket:        flagSocket,
		logLevel:      flagLogLevel,
		verbosity:     flagVerbosity,
		allowCommands: flagAllowCommand,
	})
	if err != nil {
		return err
	}

	stdio := cfg.Server.Transport == config.TransportStdio

	// stdout carries protocol frames in stdio mode.
	// stdioモードではstdoutがプロトコルフレームを運びます。
	var console io.Writer = os.Stdout
	if stdio {
		console = os.Stderr
	}
	closeLog, err := setupLogging(console, parseLevel(cfg.Logging.Level), flagLogFile, flagLogAlsoStdout)
	if err != nil {
		return err
	}
	defer closeLog()

	if err := setupAudit(cfg.Audit, stdio); err != nil {
		return err
	}
	defer audit.ResetLogger()

	gw, release, err := buildGateway(cfg)
	if err != nil {
		return fmt.Errorf("failed to create gateway: %w", err)
	}
	defer release()

	tools, err := mcp.NewToolset(gw)
	if err != nil {
		return err
	}
	mcp.ServerVersion = Version

	slog.Info("Starting hostgate server",
		"version", Version,
		"transport", cfg.Server.Transport,
		"root", gw.Root(),
		"allowed_commands", len(gw.AllowedCommands()),
		"log_level", cfg.Logging.Level,
	)
	if flagVerbosity > 0 {
		verbosityDesc := []string{
			"",
			"-v: JSON output enabled, noise filtered",
			"-vv: DEBUG level, JSON output enabled, noise filtered",
			"-vvv: DEBUG level, full JSON output, all connections shown",
		}
		slog.Info("Verbosity mode enabled", "level", flagVerbosity, "description", verbosityDesc[min(flagVerbosity, 3)])
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if stdio {
		return mcp.ServeStdio(ctx, tools, os.Stdin, os.Stdout)
	}
	return serveSSE(ctx, cfg, tools)
}

// setupAudit initializes the global audit logger. In stdio mode an audit
// log without a file goes to stderr instead of stdout.
//
// setupAuditはグローバル監査ロガーを初期化します。stdioモードでは、
// ファイル指定のない監査ログはstdoutではなくstderrに出力されます。
func setupAudit(cfg config.AuditConfig, stdio bool) error {
	if !cfg.Enabled {
		return nil
	}
	if stdio && cfg.File == "" {
		audit.SetLogger(audit.New(cfg, os.Stderr))
		return nil
	}
	if err := audit.Initialize(cfg); err != nil {
		return fmt.Errorf("failed to initialize audit log: %w", err)
	}
	return nil
}

// listen opens the configured listener: a unix socket when Socket is set,
// otherwise TCP on host:port.
//
// listenは設定されたリスナーを開きます。Socketが設定されていればunixソケット、
// それ以外はhost:portのTCPです。
func listen(cfg *config.Config) (net.Listener, error) {
	if cfg.Server.Socket != "" {
		gid := cfg.Server.SocketGroup
		if gid == 0 {
			gid = os.Getgid()
		}
		l, err := sockets.NewUnixSocket(cfg.Server.Socket, gid)
		if err != nil {
			return nil, fmt.Errorf("failed to listen on %s: %w", cfg.Server.Socket, err)
		}
		return l, nil
	}
	addr := cfg.GetAddress()
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return l, nil
}

// serveSSE runs the HTTP/SSE server until ctx is cancelled.
// serveSSEはctxがキャンセルされるまでHTTP/SSEサーバーを実行します。
func serveSSE(ctx context.Context, cfg *config.Config, tools *mcp.Toolset) error {
	var serverOpts []mcp.ServerOption
	serverOpts = append(serverOpts, mcp.WithHost(cfg.Server.Host))
	if flagVerbosity > 0 {
		serverOpts = append(serverOpts, mcp.WithVerbosity(flagVerbosity))
	}
	if rl := cfg.Server.RateLimit; rl.Enabled {
		serverOpts = append(serverOpts, mcp.WithRateLimit(rl.RequestsPerSecond, rl.Burst))
		slog.Info("Rate limit enabled", "requests_per_second", rl.RequestsPerSecond, "burst", rl.Burst)
	}
	mcpServer := mcp.NewServer(tools, cfg.Server.Port, serverOpts...)

	l, err := listen(cfg)
	if err != nil {
		return err
	}

	errChan := make(chan error, 1)
	go func() {
		if err := mcpServer.Serve(l); err != nil {
			errChan <- err
		}
	}()

	if cfg.Server.Socket != "" {
		slog.Info("MCP server listening", "socket", cfg.Server.Socket)
	} else {
		addr := l.Addr().String()
		slog.Info("MCP server listening",
			"url", fmt.Sprintf("http://%s", addr),
			"health_check", fmt.Sprintf("http://%s/health", addr),
			"sse_endpoint", fmt.Sprintf("http://%s/sse", addr),
		)
	}
	slog.Info("Press Ctrl+C to stop")

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := mcpServer.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("failed to stop server: %w", err)
		}
		slog.Info("Server stopped")
	}
	return nil
}
