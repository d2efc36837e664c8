// Package security provides the sandbox policy enforced by hostgate: the
// command allow-list, argument sanitization, path confinement, blocked paths
// and output masking.
//
// securityパッケージはhostgateが適用するサンドボックスポリシーを提供します：
// コマンド許可リスト、引数サニタイズ、パス境界制限、ブロックパス、出力マスキング。
package security

import (
	"errors"
	"fmt"
	"strings"
)

// ErrCommandNotAllowed is returned when a command is not in the allow-list.
// ErrCommandNotAllowedはコマンドが許可リストにない場合に返されます。
var ErrCommandNotAllowed = errors.New("command not allowed")

// strippedArgChars are removed from every argument before a spawn.
// strippedArgCharsは起動前にすべての引数から除去されます。
const strippedArgChars = "<>&|;"

// CommandPolicy decides which programs may be spawned.
// It is read-only after construction and safe for concurrent use.
//
// CommandPolicyはどのプログラムを起動してよいかを決定します。
// 構築後は読み取り専用で、並行利用に対して安全です。
type CommandPolicy struct {
	allowed map[string]struct{}
	names   []string
}

// NewCommandPolicy creates a CommandPolicy from an allow-list of bare
// program names. Entries are copied; later changes to the slice have no effect.
//
// NewCommandPolicyはプログラム名の許可リストからCommandPolicyを作成します。
// エントリはコピーされるため、後でスライスを変更しても影響しません。
func NewCommandPolicy(allowed []string) *CommandPolicy {
	p := &CommandPolicy{allowed: make(map[string]struct{}, len(allowed))}
	for _, name := range allowed {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, dup := p.allowed[name]; dup {
			continue
		}
		p.allowed[name] = struct{}{}
		p.names = append(p.names, name)
	}
	return p
}

// Authorize reports whether command may be spawned. The match is exact and
// case-sensitive; "LS", "/bin/ls" and "ls -la" are all rejected for an
// allow-list containing "ls".
//
// Authorizeはcommandを起動してよいかを報告します。一致は完全一致かつ
// 大文字小文字を区別します。
func (p *CommandPolicy) Authorize(command string) error {
	if containsShellMetaChars(command) || strings.ContainsAny(command, `/\ `) {
		return fmt.Errorf("%w: %s", ErrCommandNotAllowed, command)
	}
	if _, ok := p.allowed[command]; !ok {
		return fmt.Errorf("%w: %s", ErrCommandNotAllowed, command)
	}
	return nil
}

// AllowedCommands returns a copy of the allow-list in configuration order.
// AllowedCommandsは許可リストのコピーを設定順で返します。
func (p *CommandPolicy) AllowedCommands() []string {
	return append([]string(nil), p.names...)
}

// SanitizeArgs returns a copy of args with every '<', '>', '&', '|' and ';'
// removed. Characters are deleted, not escaped, so "a;b" becomes "ab".
// Arguments are passed to the program as an argv array and never reach a
// shell; the stripping is a secondary defense.
//
// SanitizeArgsはargsから'<'、'>'、'&'、'|'、';'を除去したコピーを返します。
// 文字はエスケープではなく削除されます。
func SanitizeArgs(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = strings.Map(func(r rune) rune {
			if strings.ContainsRune(strippedArgChars, r) {
				return -1
			}
			return r
		}, a)
	}
	return out
}

// containsShellMetaChars checks if s contains shell meta-characters
// that could enable injection: pipes, redirects, command chaining,
// command substitution ($(), backticks), and newlines.
//
// containsShellMetaCharsはsにインジェクションを可能にするシェルメタ文字が
// 含まれているかチェックします。
func containsShellMetaChars(s string) bool {
	if strings.Contains(s, "$(") {
		return true
	}
	for _, ch := range s {
		switch ch {
		case '|', '>', '<', ';', '&', '`', '\n':
			return true
		}
	}
	return false
}
