// This file implements path confinement: every path argument must resolve,
// after symlink resolution, to the boundary root or a descendant of it.
//
// このファイルはパスの境界制限を実装します。すべてのパス引数はシンボリックリンク
// 解決後に境界ルートまたはその子孫に解決される必要があります。

package security

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrAccessDenied is returned for any path that escapes the root or is blocked.
// ErrAccessDeniedはルート外に出るパス、またはブロックされたパスに対して返されます。
var ErrAccessDenied = errors.New("access denied")

// DeniedError carries the raw path the caller supplied. The resolved host
// path is deliberately absent so denials do not reveal host layout.
//
// DeniedErrorは呼び出し元が渡した生のパスを保持します。
// 拒否によってホストのレイアウトが漏れないよう、解決後のパスは含めません。
type DeniedError struct {
	Path   string
	Reason string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("access denied: %s: %s", e.Reason, e.Path)
}

// Is makes errors.Is(err, ErrAccessDenied) true.
func (e *DeniedError) Is(target error) bool {
	return target == ErrAccessDenied
}

// ResolvedPath is a path that passed confinement.
// ResolvedPathは境界チェックを通過したパスです。
type ResolvedPath struct {
	// Raw is the caller-supplied path
	// Rawは呼び出し元が渡したパスです
	Raw string

	// Path is the absolute, symlink-resolved path
	// Pathは絶対パスかつシンボリックリンク解決済みのパスです
	Path string

	// Rel is Path relative to the root ("." for the root itself)
	// RelはルートからのPathの相対パスです（ルート自身は"."）
	Rel string
}

// IsRoot reports whether the path is the boundary root itself.
// IsRootはパスが境界ルート自身かどうかを報告します。
func (p ResolvedPath) IsRoot() bool {
	return p.Rel == "."
}

// Confiner validates paths against a boundary root. The root is resolved
// once at construction; candidate paths are resolved on every call.
//
// Confinerは境界ルートに対してパスを検証します。ルートは構築時に一度だけ解決され、
// 候補パスは呼び出しのたびに解決されます。
type Confiner struct {
	root    string
	blocked *BlockedPaths
}

// NewConfiner creates a Confiner for root. The root must exist and be a
// directory. blocked may be nil.
//
// NewConfinerはrootに対するConfinerを作成します。ルートは存在し、
// ディレクトリである必要があります。blockedはnilでも構いません。
func NewConfiner(root string, blocked *BlockedPaths) (*Confiner, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root %q: %w", root, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root %q: %w", root, err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("failed to stat root %q: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %q is not a directory", root)
	}
	return &Confiner{root: resolved, blocked: blocked}, nil
}

// Root returns the canonical boundary root.
// Rootは正規化された境界ルートを返します。
func (c *Confiner) Root() string {
	return c.root
}

// Confine resolves raw and checks it against the root. Relative paths are
// taken relative to the root, not the process working directory. Paths that
// do not exist yet are accepted when their deepest existing ancestor
// resolves inside the root.
//
// Confineはrawを解決し、ルートに対してチェックします。相対パスはプロセスの
// 作業ディレクトリではなくルートからの相対として扱われます。まだ存在しないパスは、
// 存在する最も深い祖先がルート内に解決される場合に受け入れられます。
func (c *Confiner) Confine(raw string) (ResolvedPath, error) {
	if strings.ContainsRune(raw, 0) {
		return ResolvedPath{}, &DeniedError{Path: raw, Reason: "invalid path"}
	}

	p := raw
	if !filepath.IsAbs(p) {
		p = filepath.Join(c.root, p)
	}
	p = filepath.Clean(p)

	resolved, err := resolvePath(p)
	if err != nil {
		return ResolvedPath{}, &DeniedError{Path: raw, Reason: "path outside allowed directory"}
	}
	if !IsWithin(c.root, resolved) {
		return ResolvedPath{}, &DeniedError{Path: raw, Reason: "path outside allowed directory"}
	}

	rel, err := filepath.Rel(c.root, resolved)
	if err != nil {
		return ResolvedPath{}, &DeniedError{Path: raw, Reason: "path outside allowed directory"}
	}
	if c.blocked.IsPathBlocked(rel) != nil {
		return ResolvedPath{}, &DeniedError{Path: raw, Reason: "path is blocked"}
	}

	return ResolvedPath{Raw: raw, Path: resolved, Rel: rel}, nil
}

// IsBlocked reports whether a root-relative path matches a blocked pattern.
// Used by traversals to hide blocked entries from listings.
//
// IsBlockedはルート相対パスがブロックパターンに一致するかを報告します。
func (c *Confiner) IsBlocked(rel string) bool {
	return c.blocked.IsPathBlocked(rel) != nil
}

// IsWithin reports whether target equals root or lies beneath it. Both must
// be clean absolute paths. A plain prefix test is not enough: "/srv/data-evil"
// starts with "/srv/data" but is a sibling, not a descendant.
//
// IsWithinはtargetがrootと等しいか、その配下にあるかを報告します。
func IsWithin(root, target string) bool {
	if target == root {
		return true
	}
	if strings.HasSuffix(root, string(filepath.Separator)) {
		return strings.HasPrefix(target, root)
	}
	return strings.HasPrefix(target, root+string(filepath.Separator))
}

// resolvePath resolves symlinks in p. When p does not exist, the deepest
// existing ancestor is resolved and the missing components are re-appended.
// A dangling symlink anywhere in the missing tail is an error, since writing
// through it would land wherever it points.
//
// resolvePathはpのシンボリックリンクを解決します。pが存在しない場合は、
// 存在する最も深い祖先を解決し、欠けている要素を再度付加します。
func resolvePath(p string) (string, error) {
	resolved, err := filepath.EvalSymlinks(p)
	if err == nil {
		return resolved, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}

	var missing []string
	cur := p
	for {
		if _, lerr := os.Lstat(cur); lerr == nil {
			// Exists but could not be resolved: dangling symlink
			return "", fmt.Errorf("unresolvable path component: %w", err)
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return "", err
		}
		missing = append(missing, filepath.Base(cur))
		cur = parent

		resolvedParent, perr := filepath.EvalSymlinks(cur)
		if perr == nil {
			for i := len(missing) - 1; i >= 0; i-- {
				resolvedParent = filepath.Join(resolvedParent, missing[i])
			}
			return resolvedParent, nil
		}
		if !errors.Is(perr, fs.ErrNotExist) {
			return "", perr
		}
	}
}
