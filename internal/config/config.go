// Package config provides configuration management for hostgate.
// It handles loading, parsing, and validating configuration from YAML files
// and environment variables.
//
// configパッケージはhostgateの設定管理を提供します。
// YAMLファイルと環境変数からの設定の読み込み、解析、検証を処理します。
//
// Configuration is loaded from the following locations (in order of precedence):
// 設定は以下の場所から読み込まれます（優先順位順）：
//  1. Explicitly specified config file path (明示的に指定された設定ファイルパス)
//  2. ./hostgate.yaml or ./hostgate.yml (カレントディレクトリ)
//  3. ./configs/hostgate.yaml (configsディレクトリ)
//  4. ~/.hostgate/hostgate.yaml (ホームディレクトリ)
//
// Environment variables (HOSTGATE_ROOT, HOSTGATE_TRANSPORT, HOSTGATE_PORT)
// override values from the file. Command-line flags override both.
//
// 環境変数（HOSTGATE_ROOT, HOSTGATE_TRANSPORT, HOSTGATE_PORT）はファイルの値を上書きします。
// コマンドラインフラグは両方を上書きします。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"
)

// Environment variable names recognized by ApplyEnv.
// ApplyEnvが認識する環境変数名。
const (
	EnvRoot      = "HOSTGATE_ROOT"
	EnvTransport = "HOSTGATE_TRANSPORT"
	EnvPort      = "HOSTGATE_PORT"
)

// Transport names accepted by ServerConfig.Transport.
// ServerConfig.Transportで受け付けるトランスポート名。
const (
	TransportSSE   = "sse"
	TransportStdio = "stdio"
)

// DefaultAllowedCommands is the built-in command allow-list.
// Only read-only inspection and network diagnostic tools are listed.
//
// DefaultAllowedCommandsは組み込みのコマンド許可リストです。
// 読み取り専用の調査ツールとネットワーク診断ツールのみが含まれます。
var DefaultAllowedCommands = []string{
	"ls", "cat", "grep", "find", "head", "tail", "wc", "sort", "uniq",
	"echo", "pwd", "date", "whoami", "id", "ps", "top", "df", "du",
	"curl", "wget", "ping", "traceroute", "nslookup", "dig",
}

// Config represents the complete application configuration.
// Configはアプリケーション全体の設定を表します。
type Config struct {
	// Server contains transport settings (sse/stdio, port, host, socket)
	// Serverはトランスポート設定を含みます（sse/stdio、ポート、ホスト、ソケット）
	Server ServerConfig `yaml:"server"`

	// Gateway contains the sandbox policy applied to every operation
	// Gatewayはすべての操作に適用されるサンドボックスポリシーを含みます
	Gateway GatewayConfig `yaml:"gateway"`

	// Security contains blocked paths and output masking settings
	// Securityはブロックパスと出力マスキングの設定を含みます
	Security SecurityConfig `yaml:"security"`

	// SystemInfo controls what get_system_info reports
	// SystemInfoはget_system_infoが報告する内容を制御します
	SystemInfo SystemInfoConfig `yaml:"system_info"`

	// Logging contains log output settings
	// Loggingはログ出力の設定を含みます
	Logging LoggingConfig `yaml:"logging"`

	// Audit contains audit logging settings for security monitoring
	// Auditはセキュリティ監視のための監査ログ設定を含みます
	Audit AuditConfig `yaml:"audit"`
}

// ServerConfig holds server-related configuration.
// ServerConfigはサーバー関連の設定を保持します。
type ServerConfig struct {
	// Transport selects how MCP messages are carried: "sse" (HTTP) or "stdio"
	// TransportはMCPメッセージの伝送方法を選択します: "sse"（HTTP）または"stdio"
	Transport string `yaml:"transport"`

	// Port is the TCP port to listen on (default: 8080)
	// Portは待ち受けるTCPポートです（デフォルト: 8080）
	Port int `yaml:"port"`

	// Host is the network interface to bind to (default: "127.0.0.1")
	// Hostはバインドするネットワークインターフェースです（デフォルト: "127.0.0.1"）
	Host string `yaml:"host"`

	// Socket, when set, listens on a unix socket instead of host:port.
	// Socketが設定されている場合、host:portの代わりにunixソケットで待ち受けます。
	Socket string `yaml:"socket"`

	// SocketGroup is the numeric group ID that owns the unix socket.
	// SocketGroupはunixソケットを所有する数値グループIDです。
	SocketGroup int `yaml:"socket_group"`

	// RateLimit throttles tools/call requests across all sessions.
	// RateLimitは全セッションにわたってtools/callリクエストを制限します。
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig configures the token bucket applied to tools/call.
// RateLimitConfigはtools/callに適用されるトークンバケットを設定します。
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// GatewayConfig is the immutable sandbox policy handed to the gateway at
// construction. Nothing in it changes while a server is running.
//
// GatewayConfigは構築時にゲートウェイへ渡される不変のサンドボックスポリシーです。
// サーバー実行中に変更されることはありません。
type GatewayConfig struct {
	// Root is the boundary directory. Every path argument must resolve inside it.
	// Empty means the process working directory.
	//
	// Rootは境界ディレクトリです。すべてのパス引数はこの内側に解決される必要があります。
	// 空の場合はプロセスの作業ディレクトリを意味します。
	Root string `yaml:"root"`

	// AllowedCommands is the exact, case-sensitive command allow-list.
	// AllowedCommandsは完全一致・大文字小文字区別のコマンド許可リストです。
	AllowedCommands []string `yaml:"allowed_commands"`

	// CommandTimeout is the default deadline for execute_command (default: 30s)
	// CommandTimeoutはexecute_commandのデフォルト期限です（デフォルト: 30s）
	CommandTimeout time.Duration `yaml:"command_timeout"`

	// ArchiveTimeout is the deadline for compress_file/extract_file (default: 60s)
	// ArchiveTimeoutはcompress_file/extract_fileの期限です（デフォルト: 60s）
	ArchiveTimeout time.Duration `yaml:"archive_timeout"`

	// MaxOutput caps combined stdout+stderr of spawned processes, e.g. "1MiB".
	// MaxOutputは起動したプロセスのstdout+stderr合計の上限です（例: "1MiB"）。
	MaxOutput string `yaml:"max_output"`

	// MaxDepth bounds recursive directory traversal.
	// MaxDepthは再帰的なディレクトリ走査の深さを制限します。
	MaxDepth int `yaml:"max_depth"`
}

// SecurityConfig holds secondary defenses layered on top of confinement.
// SecurityConfigは境界制限の上に重ねる二次防御を保持します。
type SecurityConfig struct {
	// BlockedPaths are glob patterns (relative to the root or matching the
	// base name) that are denied even inside the root.
	//
	// BlockedPathsはルート内であっても拒否されるglobパターンです
	// （ルートからの相対パスまたはベース名にマッチ）。
	BlockedPaths []string `yaml:"blocked_paths"`

	// IgnoreFiles are gitignore-style files, relative to the root, whose
	// patterns are added to BlockedPaths. Missing files are skipped.
	//
	// IgnoreFilesはルートからの相対パスで指定するgitignore形式のファイルで、
	// そのパターンがBlockedPathsに追加されます。存在しないファイルはスキップされます。
	IgnoreFiles []string `yaml:"ignore_files"`

	// OutputMasking configures masking of sensitive data in command output.
	// OutputMaskingはコマンド出力内の機密データのマスキングを設定します。
	OutputMasking OutputMaskingConfig `yaml:"output_masking"`
}

// OutputMaskingConfig configures masking of sensitive data in output.
// OutputMaskingConfigは出力内の機密データのマスキングを設定します。
type OutputMaskingConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Replacement string   `yaml:"replacement"`
	Patterns    []string `yaml:"patterns"`
}

// SystemInfoConfig controls optional probes in get_system_info.
// SystemInfoConfigはget_system_infoの任意プローブを制御します。
type SystemInfoConfig struct {
	// Docker reports the local Docker engine version when a daemon is reachable.
	// Dockerはデーモンに到達可能な場合にローカルDockerエンジンのバージョンを報告します。
	Docker bool `yaml:"docker"`
}

// LoggingConfig holds logging configuration.
// Log output destination is configured via --log-file and --log-also-stdout.
//
// LoggingConfigはログ設定を保持します。
// ログの出力先は--log-fileと--log-also-stdoutで設定します。
type LoggingConfig struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error"
	// Levelは最小ログレベルを設定します: "debug", "info", "warn", "error"
	Level string `yaml:"level"`
}

// AuditConfig holds audit logging configuration.
// AuditConfigは監査ログ設定を保持します。
type AuditConfig struct {
	Enabled bool        `yaml:"enabled"`
	File    string      `yaml:"file"`
	Events  AuditEvents `yaml:"events"`
}

// AuditEvents specifies which event types to include in audit logs.
// AuditEventsは監査ログに含めるイベントタイプを指定します。
type AuditEvents struct {
	ToolCalls         bool `yaml:"tool_calls"`
	AccessDenied      bool `yaml:"access_denied"`
	CommandDenied     bool `yaml:"command_denied"`
	ClientConnections bool `yaml:"client_connections"`
}

// MaxCommandTimeout caps both the configured and the per-call
// execute_command deadline.
//
// MaxCommandTimeoutは設定値と呼び出しごとのexecute_command期限の上限です。
const MaxCommandTimeout = 24 * time.Hour

// NewDefaultConfig returns a Config with default values.
// NewDefaultConfigはデフォルト値を持つConfigを返します。
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Transport: TransportSSE,
			Port:      8080,
			Host:      "127.0.0.1",
			RateLimit: RateLimitConfig{
				Enabled:           false,
				RequestsPerSecond: 10,
				Burst:             20,
			},
		},
		Gateway: GatewayConfig{
			AllowedCommands: append([]string(nil), DefaultAllowedCommands...),
			CommandTimeout:  30 * time.Second,
			ArchiveTimeout:  60 * time.Second,
			MaxOutput:       "1MiB",
			MaxDepth:        32,
		},
		Security: SecurityConfig{
			BlockedPaths: []string{
				".env",
				"*.key",
				"*.pem",
				"secrets/*",
			},
			IgnoreFiles: []string{".aiexclude"},
			OutputMasking: OutputMaskingConfig{
				Enabled:     true,
				Replacement: "[MASKED]",
				Patterns: []string{
					`(?i)(password|passwd|pwd)\s*[=:]\s*["']?[^\s"'\n]+["']?`,
					`(?i)(api[_-]?key|apikey|secret[_-]?key)\s*[=:]\s*["']?[^\s"'\n]+["']?`,
					`(?i)bearer\s+[a-zA-Z0-9._-]+`,
					`sk-[a-zA-Z0-9]{20,}`,
					`(?i)(postgres|mysql|mongodb|redis)://[^:]+:[^@]+@`,
				},
			},
		},
		SystemInfo: SystemInfoConfig{
			Docker: true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Audit: AuditConfig{
			Enabled: false,
			Events: AuditEvents{
				ToolCalls:         true,
				AccessDenied:      true,
				CommandDenied:     true,
				ClientConnections: true,
			},
		},
	}
}

// Load loads configuration from a file, applies environment overrides and
// validates the result. If configPath is empty, common locations are searched
// and defaults are used when nothing is found.
//
// Loadはファイルから設定を読み込み、環境変数による上書きを適用して検証します。
// configPathが空の場合は一般的な場所を検索し、見つからなければデフォルトを使用します。
func Load(configPath string) (*Config, error) {
	cfg := NewDefaultConfig()
	fileToRead := configPath

	if fileToRead == "" {
		searchPaths := []string{".", "./configs"}
		if home, err := os.UserHomeDir(); err == nil {
			searchPaths = append(searchPaths, filepath.Join(home, ".hostgate"))
		}
	search:
		for _, p := range searchPaths {
			for _, ext := range []string{"yaml", "yml"} {
				f := filepath.Join(p, "hostgate."+ext)
				if _, err := os.Stat(f); err == nil {
					fileToRead = f
					break search
				}
			}
		}
	}

	if fileToRead != "" {
		data, err := os.ReadFile(fileToRead)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", fileToRead, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", fileToRead, err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overrides fields from environment variables.
// lookup is os.LookupEnv in production and a map lookup in tests.
//
// ApplyEnvは環境変数からフィールドを上書きします。
// lookupは本番ではos.LookupEnv、テストではマップ検索です。
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvRoot); ok && v != "" {
		c.Gateway.Root = v
	}
	if v, ok := lookup(EnvTransport); ok && v != "" {
		c.Server.Transport = v
	}
	if v, ok := lookup(EnvPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %q", EnvPort, v)
		}
		c.Server.Port = port
	}
	return nil
}

// Validate checks that the configuration is valid.
// Returns an error describing the first validation failure found.
//
// Validateは設定が有効かどうかをチェックします。
// 最初に見つかった検証エラーを説明するエラーを返します。
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1-65535)", c.Server.Port)
	}

	switch c.Server.Transport {
	case TransportSSE, TransportStdio:
	default:
		return fmt.Errorf("invalid transport: %s (must be sse or stdio)", c.Server.Transport)
	}

	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("invalid rate limit: %v requests per second", c.Server.RateLimit.RequestsPerSecond)
	}

	if c.Gateway.CommandTimeout <= 0 || c.Gateway.CommandTimeout > MaxCommandTimeout {
		return fmt.Errorf("invalid command_timeout: %s (must be between 1ms and %s)", c.Gateway.CommandTimeout, MaxCommandTimeout)
	}
	if c.Gateway.ArchiveTimeout <= 0 {
		return fmt.Errorf("invalid archive_timeout: %s", c.Gateway.ArchiveTimeout)
	}
	if _, err := c.Gateway.MaxOutputBytes(); err != nil {
		return err
	}
	if c.Gateway.MaxDepth < 1 {
		return fmt.Errorf("invalid max_depth: %d", c.Gateway.MaxDepth)
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	return nil
}

// GetAddress returns the server address in "host:port" format.
// GetAddressは"host:port"形式のサーバーアドレスを返します。
func (c *Config) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// MaxOutputBytes parses MaxOutput ("1MiB", "512k", "1048576").
// MaxOutputBytesはMaxOutput（"1MiB"、"512k"、"1048576"）を解析します。
func (g GatewayConfig) MaxOutputBytes() (int64, error) {
	if g.MaxOutput == "" {
		return 1 << 20, nil
	}
	n, err := units.RAMInBytes(g.MaxOutput)
	if err != nil {
		return 0, fmt.Errorf("invalid max_output %q: %w", g.MaxOutput, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid max_output %q: must be positive", g.MaxOutput)
	}
	return n, nil
}

// ResolveRoot returns Root, or the process working directory when Root is empty.
// ResolveRootはRootを返します。Rootが空の場合はプロセスの作業ディレクトリを返します。
func (g GatewayConfig) ResolveRoot() (string, error) {
	if g.Root != "" {
		return g.Root, nil
	}
	return os.Getwd()
}
