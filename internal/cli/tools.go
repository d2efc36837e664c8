// tools.go implements the 'tools' command, which prints the operation catalog.
// tools.goは操作カタログを表示する'tools'コマンドを実装します。
package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// toolsCmd lists the operations the gateway exposes.
// toolsCmdはゲートウェイが公開する操作を一覧表示します。
var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the available operations",
	Long: `List every gateway operation with its parameters.
Required parameters are marked with '*'.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, err := NewDirectBackend()
		if err != nil {
			return err
		}
		defer backend.Close()
		fmt.Fprintf(cmd.OutOrStdout(), "Root: %s\n\n", backend.Root())
		return runToolsWith(cmd.Context(), backend, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(toolsCmd)
}

// formatParams renders "name*:type, name:type" with required ones marked.
// formatParamsは必須パラメータに印を付けて"name*:type, name:type"を整形します。
func formatParams(params []ParamInfo) string {
	parts := make([]string, 0, len(params))
	for _, p := range params {
		name := p.Name
		if p.Required {
			name += "*"
		}
		if p.Type != "" {
			name += ":" + p.Type
		}
		parts = append(parts, name)
	}
	return strings.Join(parts, ", ")
}

// runToolsWith prints b's catalog as a table.
// runToolsWithはbのカタログを表形式で表示します。
func runToolsWith(ctx context.Context, b Backend, w io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	tools, err := b.Tools(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tools: %w", err)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tPARAMETERS\tDESCRIPTION")
	for _, t := range tools {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", t.Name, formatParams(t.Params), t.Description)
	}
	return tw.Flush()
}
