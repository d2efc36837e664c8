// call.go implements the 'call' command, which runs any gateway operation
// by name with JSON arguments.
//
// call.goは任意のゲートウェイ操作を名前とJSON引数で実行する'call'コマンドを実装します。
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// callCmd represents the 'call' command.
// callCmdは'call'コマンドを表します。
var callCmd = &cobra.Command{
	Use:   "call <operation> [json-arguments]",
	Short: "Run a gateway operation with JSON arguments",
	Long: `Run one gateway operation using the local configuration.
Arguments are a JSON object; pass "-" to read it from stdin.

Examples:
  hostgate call read_file '{"path": "README.md"}'
  hostgate call calculate_hash '{"path": "go.mod", "algorithm": "sha256"}'
  echo '{"path": "."}' | hostgate call list_directory -`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, err := NewDirectBackend()
		if err != nil {
			return err
		}
		defer backend.Close()
		return runCallWith(cmd.Context(), backend, cmd.InOrStdin(), cmd.OutOrStdout(), args)
	},
}

func init() {
	rootCmd.AddCommand(callCmd)
}

// parseCallArgs decodes the JSON argument object. Empty input means no
// arguments.
//
// parseCallArgsはJSON引数オブジェクトをデコードします。空の入力は引数なしを意味します。
func parseCallArgs(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("arguments must be a JSON object: %w", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// runCallWith runs args[0] with the JSON object in args[1] (or stdin for "-").
// runCallWithはargs[1]のJSONオブジェクト（"-"の場合は標準入力）でargs[0]を実行します。
func runCallWith(ctx context.Context, b Backend, in io.Reader, w io.Writer, args []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	raw := ""
	if len(args) > 1 {
		raw = args[1]
		if raw == "-" {
			if in == nil {
				in = os.Stdin
			}
			data, err := io.ReadAll(in)
			if err != nil {
				return fmt.Errorf("failed to read arguments: %w", err)
			}
			raw = string(data)
		}
	}
	callArgs, err := parseCallArgs(raw)
	if err != nil {
		return err
	}

	out, err := b.Call(ctx, args[0], callArgs)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, strings.TrimRight(out, "\n"))
	return nil
}
