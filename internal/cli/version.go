// version.go implements the 'version' command for displaying the hostgate version.
// The version is typically set at build time using ldflags.
//
// version.goはhostgateのバージョンを表示する'version'コマンドを実装します。
// バージョンは通常、ldflagsを使用してビルド時に設定されます。
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version holds the application version string.
// This is set at build time using ldflags:
// go build -ldflags "-X github.com/YujiSuzuki/hostgate/internal/cli.Version=1.0.0"
// The default value "dev" indicates a development build.
//
// Versionはアプリケーションのバージョン文字列を保持します。
// これはldflagsを使用してビルド時に設定されます：
// go build -ldflags "-X github.com/YujiSuzuki/hostgate/internal/cli.Version=1.0.0"
// デフォルト値"dev"は開発ビルドを示します。
var Version = "dev"

// versionCmd prints the version number and exits.
// versionCmdはバージョン番号を出力して終了します。
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of hostgate",
	Long:  `Print the version number of hostgate. This version is set at build time.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
