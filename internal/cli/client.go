// client.go implements the 'client' parent command for HTTP-based remote access.
// This command group talks to a running hostgate server over HTTP/SSE instead
// of building a gateway in-process, so it works from environments that only
// see the server, such as DevContainers.
//
// client.goはHTTPベースのリモートアクセス用の'client'親コマンドを実装します。
// このコマンドグループはプロセス内でゲートウェイを構築せず、実行中のhostgateサーバーと
// HTTP/SSEで通信するため、DevContainerなどサーバーしか見えない環境から利用できます。
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/YujiSuzuki/hostgate/internal/client"
)

// Environment variables read by client commands when the flag is not set.
// フラグ未指定時にクライアントコマンドが読む環境変数。
const (
	EnvServerURL    = "HOSTGATE_SERVER_URL"
	EnvClientSuffix = "HOSTGATE_CLIENT_SUFFIX"
)

var (
	// serverURL holds the hostgate server URL for client commands.
	// Use unix:///path/to.sock for a server listening on a unix socket.
	//
	// serverURLはクライアントコマンド用のhostgateサーバーURLを保持します。
	// unixソケットで待ち受けるサーバーにはunix:///path/to.sockを使用します。
	serverURL string

	// clientSuffix is appended to the client name for identification.
	// The full client name becomes "hostgate-client_<suffix>".
	// This helps distinguish AI operations from manual user operations.
	//
	// clientSuffixはクライアント名に追加される識別用サフィックスです。
	// 完全なクライアント名は"hostgate-client_<suffix>"になります。
	// これによりAIの操作とユーザーの手動操作を区別できます。
	clientSuffix string

	// clientExecTimeout is the 'client exec' timeout in milliseconds.
	clientExecTimeout int

	// clientCmd is the parent command for all client subcommands.
	// clientCmdはすべてのクライアントサブコマンドの親コマンドです。
	clientCmd = &cobra.Command{
		Use:   "client",
		Short: "Client commands for connecting to a hostgate server",
		Long: `Client commands run gateway operations on a running hostgate server
through its HTTP/SSE endpoint. The server's configuration (root, allow-list,
blocked paths) applies, not the local one.`,
		// Flag values take precedence over environment variables.
		// フラグの値が環境変数より優先されます。
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			applyClientEnv(cmd.Flags().Changed("url"), cmd.Flags().Changed("client-suffix"), os.LookupEnv)
			return nil
		},
	}

	clientCallCmd = &cobra.Command{
		Use:   "call <operation> [json-arguments]",
		Short: "Run an operation on the server",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := NewHTTPBackend(serverURL, clientSuffix)
			if err != nil {
				return err
			}
			defer backend.Close()
			return runCallWith(cmd.Context(), backend, cmd.InOrStdin(), cmd.OutOrStdout(), args)
		},
	}

	clientExecCmd = &cobra.Command{
		Use:   "exec <command line>",
		Short: "Run an allow-listed command on the server",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := NewHTTPBackend(serverURL, clientSuffix)
			if err != nil {
				return err
			}
			defer backend.Close()
			return runExecWith(cmd.Context(), backend, cmd.OutOrStdout(), args, clientExecTimeout)
		},
	}

	clientToolsCmd = &cobra.Command{
		Use:   "tools",
		Short: "List the server's operations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := NewHTTPBackend(serverURL, clientSuffix)
			if err != nil {
				return err
			}
			defer backend.Close()
			return runToolsWith(cmd.Context(), backend, cmd.OutOrStdout())
		},
	}

	clientHealthCmd = &cobra.Command{
		Use:   "health",
		Short: "Check that the server is up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client.NewClient(serverURL)
			if err != nil {
				return err
			}
			defer c.Close()
			h, err := c.HealthCheck()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %s (%d sessions)\n", h.Server, h.Version, h.Status, h.Sessions)
			return nil
		},
	}
)

// applyClientEnv falls back to HOSTGATE_SERVER_URL and HOSTGATE_CLIENT_SUFFIX
// for flags that were not set explicitly.
//
// applyClientEnvは明示的に指定されていないフラグについて
// HOSTGATE_SERVER_URLとHOSTGATE_CLIENT_SUFFIXにフォールバックします。
func applyClientEnv(urlSet, suffixSet bool, lookup func(string) (string, bool)) {
	if !urlSet {
		if v, ok := lookup(EnvServerURL); ok && v != "" {
			serverURL = v
		}
	}
	if !suffixSet {
		if v, ok := lookup(EnvClientSuffix); ok && v != "" {
			clientSuffix = v
		}
	}
}

func init() {
	rootCmd.AddCommand(clientCmd)
	clientCmd.AddCommand(clientCallCmd, clientExecCmd, clientToolsCmd, clientHealthCmd)

	clientCmd.PersistentFlags().StringVar(&serverURL, "url", "http://127.0.0.1:8080",
		"hostgate server URL, http://host:port or unix:///path (can also be set via "+EnvServerURL+")")
	clientCmd.PersistentFlags().StringVarP(&clientSuffix, "client-suffix", "s", "",
		"Suffix to append to client name (e.g., 'user-cli' becomes 'hostgate-client_user-cli')\n"+
			"Can also be set via "+EnvClientSuffix+" environment variable")
	clientExecCmd.Flags().IntVar(&clientExecTimeout, "timeout", 0, "Timeout in milliseconds (default: server command_timeout)")
}
