// blocked_paths.go provides file path blocking inside the boundary root.
// It keeps AI assistants away from secrets, API keys and credential files
// even when they sit inside the allowed directory.
//
// blocked_paths.goは境界ルート内でのファイルパスブロック機能を提供します。
// 許可ディレクトリ内にあっても、AIアシスタントがシークレット、APIキー、
// 認証情報ファイルに触れることを防ぎます。
package security

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// BlockedPath represents a blocked path pattern with metadata about why it's blocked.
// BlockedPathはブロックされたパスパターンとブロック理由のメタデータを表します。
type BlockedPath struct {
	// Pattern is the path pattern to block (supports globs)
	// Patternはブロックするパスパターン（globをサポート）
	Pattern string `json:"pattern"`

	// Reason explains why this path is blocked (e.g., "config", "ignore_file")
	// Reasonはこのパスがブロックされている理由を説明します
	Reason string `json:"reason"`

	// Source is the file where this block was defined
	// Sourceはこのブロックが定義されたファイルです
	Source string `json:"source,omitempty"`
}

// BlockedPaths matches root-relative paths against blocked patterns.
// BlockedPathsはルート相対パスをブロックパターンと照合します。
type BlockedPaths struct {
	paths []BlockedPath
}

// NewBlockedPaths creates a matcher from configured patterns.
// NewBlockedPathsは設定されたパターンからマッチャーを作成します。
func NewBlockedPaths(patterns []string) *BlockedPaths {
	b := &BlockedPaths{}
	for _, p := range patterns {
		b.Add(BlockedPath{Pattern: p, Reason: "config", Source: "hostgate.yaml"})
	}
	return b
}

// Add appends a blocked path. Not safe for use once the matcher is shared.
// Addはブロックパスを追加します。マッチャー共有後の使用は安全ではありません。
func (b *BlockedPaths) Add(blocked BlockedPath) {
	blocked.Pattern = strings.TrimSpace(blocked.Pattern)
	if blocked.Pattern == "" {
		return
	}
	b.paths = append(b.paths, blocked)
}

// LoadIgnoreFile imports gitignore-style patterns (one per line, '#' comments)
// from a file such as .aiexclude. A missing file is not an error.
//
// LoadIgnoreFileは.aiexcludeのようなファイルからgitignore形式のパターン
// （1行1パターン、'#'コメント）をインポートします。ファイルがなくてもエラーではありません。
func (b *BlockedPaths) LoadIgnoreFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to open ignore file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		// Negations are not supported
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
			continue
		}
		line = strings.TrimPrefix(line, "/")
		if strings.HasSuffix(line, "/") {
			line += "*"
		}
		b.Add(BlockedPath{Pattern: line, Reason: "ignore_file", Source: filepath.Base(path)})
	}
	return scanner.Err()
}

// IsPathBlocked checks a root-relative, slash-or-separator path.
// Returns the matching BlockedPath, or nil if the path is allowed.
//
// IsPathBlockedはルート相対パスをチェックします。
// 一致したBlockedPathを返し、許可されている場合はnilを返します。
func (b *BlockedPaths) IsPathBlocked(rel string) *BlockedPath {
	if b == nil || rel == "" || rel == "." {
		return nil
	}
	rel = filepath.ToSlash(filepath.Clean(rel))
	for i := range b.paths {
		if matchPath(rel, b.paths[i].Pattern) {
			return &b.paths[i]
		}
	}
	return nil
}

// Patterns returns a copy of all blocked paths.
// Patternsはすべてのブロックパスのコピーを返します。
func (b *BlockedPaths) Patterns() []BlockedPath {
	return append([]BlockedPath(nil), b.paths...)
}

// matchPath checks if a path matches a blocked pattern.
// Supports exact matches, filename matches, directory patterns, and glob patterns.
//
// matchPathはパスがブロックパターンに一致するかチェックします。
// 完全一致、ファイル名一致、ディレクトリパターン、globパターンをサポートします。
func matchPath(path, pattern string) bool {
	pattern = filepath.ToSlash(filepath.Clean(pattern))

	if path == pattern {
		return true
	}

	// Filename match (e.g., ".env" matches "app/.env", "*.key" matches "a/b.key")
	// ファイル名一致（例: ".env"は"app/.env"にマッチ）
	if !strings.Contains(pattern, "/") {
		for _, part := range strings.Split(path, "/") {
			if matched, _ := filepath.Match(pattern, part); matched {
				return true
			}
		}
		return false
	}

	// Directory pattern (e.g., "secrets/*" matches "app/secrets/deep/key.pem")
	// ディレクトリパターン（例: "secrets/*"は"app/secrets/deep/key.pem"にマッチ）
	if strings.HasSuffix(pattern, "/*") {
		withSlash := strings.TrimSuffix(pattern, "*")
		if strings.HasPrefix(path, withSlash) || strings.Contains(path, "/"+withSlash) {
			return true
		}
	}

	matched, _ := filepath.Match(pattern, path)
	return matched
}
