// exec.go implements the 'exec' command for running an allow-listed program
// in the gateway root. The command line is split with shell quoting rules
// but never handed to a shell.
//
// exec.goはゲートウェイルートで許可リストのプログラムを実行する'exec'コマンドを実装します。
// コマンドラインはシェルのクォート規則で分割されますが、シェルには渡されません。
package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/mattn/go-shellwords"
	"github.com/spf13/cobra"
)

// execTimeout is the per-command timeout in milliseconds; 0 uses the
// gateway default.
//
// execTimeoutはコマンドごとのタイムアウト（ミリ秒）です。0はゲートウェイのデフォルトを使います。
var execTimeout int

// execCmd represents the 'exec' command.
// execCmdは'exec'コマンドを表します。
var execCmd = &cobra.Command{
	Use:   "exec <command line>",
	Short: "Run an allow-listed command in the root directory",
	Long: `Run an allow-listed command in the root directory using the local
configuration. Quotes group arguments, but pipes, redirects and other shell
syntax are not interpreted.

Examples:
  hostgate exec git status
  hostgate exec "grep -rn 'TODO' ."
  hostgate exec --timeout 5000 -- ls -la`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		backend, err := NewDirectBackend()
		if err != nil {
			return err
		}
		defer backend.Close()
		return runExecWith(cmd.Context(), backend, cmd.OutOrStdout(), args, execTimeout)
	},
}

func init() {
	rootCmd.AddCommand(execCmd)
	execCmd.Flags().IntVar(&execTimeout, "timeout", 0, "Timeout in milliseconds (default: gateway command_timeout)")
}

// execArgs parses a command line into execute_command arguments. An
// unquoted shell operator (; & | < >) is rejected rather than dropped.
//
// execArgsはコマンドラインをexecute_commandの引数に変換します。
// クォートされていないシェル演算子（; & | < >）は無視せず拒否します。
func execArgs(line string, timeoutMs int) (map[string]any, error) {
	p := shellwords.NewParser()
	words, err := p.Parse(line)
	if err != nil {
		return nil, fmt.Errorf("failed to parse command line: %w", err)
	}
	if p.Position >= 0 {
		return nil, fmt.Errorf("shell operators are not supported in %q (quote them to pass literally)", line)
	}
	if len(words) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	argv := make([]any, 0, len(words)-1)
	for _, w := range words[1:] {
		argv = append(argv, w)
	}
	args := map[string]any{
		"command": words[0],
		"args":    argv,
	}
	if timeoutMs > 0 {
		args["timeout"] = float64(timeoutMs)
	}
	return args, nil
}

// runExecWith runs one command line through b and prints its output.
// runExecWithはbを通して1つのコマンドラインを実行し、出力を表示します。
func runExecWith(ctx context.Context, b Backend, w io.Writer, args []string, timeoutMs int) error {
	if ctx == nil {
		ctx = context.Background()
	}
	callArgs, err := execArgs(strings.Join(args, " "), timeoutMs)
	if err != nil {
		return err
	}
	out, err := b.Call(ctx, "execute_command", callArgs)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, strings.TrimRight(out, "\n"))
	return nil
}
