// Package cli implements the command-line interface for hostgate.
// It provides commands for starting the MCP server, running single gateway
// operations locally, and client operations against a remote server.
//
// cliパッケージはhostgateのコマンドラインインターフェースを実装します。
// MCPサーバーの起動、ゲートウェイ操作のローカル単発実行、
// およびリモートサーバーに対するクライアント操作のコマンドを提供します。
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// cfgFile holds the path to the configuration file.
	// If empty, ./hostgate.yaml, ./configs/hostgate.yaml and ~/.hostgate/hostgate.yaml are searched.
	//
	// cfgFileは設定ファイルへのパスを保持します。
	// 空の場合、./hostgate.yaml、./configs/hostgate.yaml、~/.hostgate/hostgate.yamlを検索します。
	cfgFile string

	// flagRoot overrides gateway.root for every command that builds a gateway.
	// flagRootはゲートウェイを構築するすべてのコマンドでgateway.rootを上書きします。
	flagRoot string

	// rootCmd is the base command for the hostgate CLI.
	// rootCmdはhostgate CLIの基本コマンドです。
	rootCmd = &cobra.Command{
		Use:   "hostgate",
		Short: "hostgate - sandboxed host access for AI assistants",
		Long: `hostgate exposes a fixed set of host operations (allow-listed commands,
file and directory management, search, archives, hashing and system info)
to AI assistants through MCP (Model Context Protocol).

Every path argument is confined to a single root directory and every
command must be on the allow-list. Nothing is run through a shell.`,
		SilenceUsage: true,
	}
)

// Execute runs the root command and all its subcommands.
// If an error occurs, it prints the error to stderr and exits with code 1.
//
// Executeはルートコマンドとそのすべてのサブコマンドを実行します。
// エラーが発生した場合、stderrにエラーを出力し、終了コード1で終了します。
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./hostgate.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagRoot, "root", "", "Allowed root directory (overrides config and HOSTGATE_ROOT)")
	rootCmd.SilenceErrors = true
}
