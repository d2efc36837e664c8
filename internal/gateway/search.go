package gateway

import (
	"context"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"

	"github.com/YujiSuzuki/hostgate/internal/security"
)

// walkEntry is one directory entry seen during a traversal.
type walkEntry struct {
	Name string
	// Rel is the logical path relative to the root, slash-separated
	Rel   string
	IsDir bool
	Type  string
}

// walk lazily yields the entries under start. Symlinked directories are
// followed only when their real path stays inside the root; each real
// directory is visited at most once and depth is bounded by maxDepth.
// Blocked entries are skipped. Read errors are yielded, and the caller
// decides whether to stop.
func (g *Gateway) walk(ctx context.Context, start security.ResolvedPath, recursive bool) iter.Seq2[walkEntry, error] {
	return func(yield func(walkEntry, error) bool) {
		visited := map[string]struct{}{start.Path: {}}

		var visit func(dir, rel string, depth int) bool
		visit = func(dir, rel string, depth int) bool {
			if err := ctx.Err(); err != nil {
				return yield(walkEntry{}, err)
			}
			entries, err := os.ReadDir(dir)
			if err != nil {
				return yield(walkEntry{}, err)
			}
			for _, de := range entries {
				childRel := filepath.Join(rel, de.Name())
				if g.confiner.IsBlocked(childRel) {
					continue
				}
				childPath := filepath.Join(dir, de.Name())

				we := walkEntry{Name: de.Name(), Rel: filepath.ToSlash(childRel), Type: "file"}
				real := ""
				switch {
				case de.IsDir():
					we.IsDir, we.Type, real = true, "directory", childPath
				case de.Type()&fs.ModeSymlink != 0:
					we.Type = "symlink"
					if target, ok := g.followable(childPath); ok {
						we.IsDir, real = true, target
					}
				}

				if !yield(we, nil) {
					return false
				}

				if !recursive || real == "" || depth+1 >= g.maxDepth {
					continue
				}
				if _, seen := visited[real]; seen {
					continue
				}
				visited[real] = struct{}{}
				if !visit(real, childRel, depth+1) {
					return false
				}
			}
			return true
		}

		visit(start.Path, start.Rel, 0)
	}
}

// followable resolves a symlink and reports whether it is a directory
// inside the root that a traversal may enter.
func (g *Gateway) followable(link string) (string, bool) {
	target, err := filepath.EvalSymlinks(link)
	if err != nil || !security.IsWithin(g.Root(), target) {
		return "", false
	}
	rel, err := filepath.Rel(g.Root(), target)
	if err != nil || g.confiner.IsBlocked(rel) {
		return "", false
	}
	info, err := os.Stat(target)
	if err != nil || !info.IsDir() {
		return "", false
	}
	return target, true
}

// ListEntry is one element of the list_directory result.
// ListEntryはlist_directoryの結果の1要素です。
type ListEntry struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Path string `json:"path"`
}

func (g *Gateway) listDirectory(ctx context.Context, args Args) Outcome {
	raw, aerr := args.RequiredString("path")
	if aerr != nil {
		return failed(aerr)
	}
	recursive, aerr := args.Bool("recursive", false)
	if aerr != nil {
		return failed(aerr)
	}
	p, gerr := g.confine(raw)
	if gerr != nil {
		return failed(gerr)
	}

	result := []ListEntry{}
	for we, err := range g.walk(ctx, p, recursive) {
		if err != nil {
			return failed(fsError("list directory", raw, err))
		}
		result = append(result, ListEntry{Name: we.Name, Type: we.Type, Path: we.Rel})
	}
	return jsonOutcome(result)
}

// compilePattern turns a search pattern into a base-name matcher. A pattern
// containing '*' is a wildcard anchored at both ends ("*.txt"); anything
// else is a literal substring.
func compilePattern(pattern string) (func(string) bool, error) {
	if !strings.Contains(pattern, "*") {
		return func(name string) bool { return strings.Contains(name, pattern) }, nil
	}
	parts := strings.Split(pattern, "*")
	for i, part := range parts {
		parts[i] = regexp.QuoteMeta(part)
	}
	re, err := regexp.Compile("^" + strings.Join(parts, ".*") + "$")
	if err != nil {
		return nil, err
	}
	return re.MatchString, nil
}

// Search confines root and returns a lazy sequence of root-relative paths
// of non-directory entries whose base name matches pattern. The sequence is
// finite and single-use; a traversal error is yielded once and ends it.
//
// Searchはrootを境界チェックし、ベース名がpatternに一致するディレクトリ以外の
// エントリのルート相対パスを遅延シーケンスとして返します。シーケンスは有限で
// 一度しか使えません。走査エラーは一度だけ返され、そこで終了します。
func (g *Gateway) Search(ctx context.Context, root, pattern string, recursive bool) (iter.Seq2[string, error], error) {
	p, gerr := g.confine(root)
	if gerr != nil {
		return nil, gerr
	}
	match, err := compilePattern(pattern)
	if err != nil {
		return nil, newError(KindInvalidArguments, "invalid pattern: %s", pattern)
	}

	var used atomic.Bool
	return func(yield func(string, error) bool) {
		if !used.CompareAndSwap(false, true) {
			return
		}
		for we, err := range g.walk(ctx, p, recursive) {
			if err != nil {
				yield("", err)
				return
			}
			if we.IsDir || !match(we.Name) {
				continue
			}
			if !yield(we.Rel, nil) {
				return
			}
		}
	}, nil
}

func (g *Gateway) searchFiles(ctx context.Context, args Args) Outcome {
	raw, aerr := args.RequiredString("path")
	if aerr != nil {
		return failed(aerr)
	}
	pattern, aerr := args.RequiredString("pattern")
	if aerr != nil {
		return failed(aerr)
	}
	recursive, aerr := args.Bool("recursive", true)
	if aerr != nil {
		return failed(aerr)
	}

	seq, err := g.Search(ctx, raw, pattern, recursive)
	if err != nil {
		gerr, _ := AsError(err)
		return failed(gerr)
	}

	files := []string{}
	for rel, err := range seq {
		if err != nil {
			return failed(fsError("search files", raw, err))
		}
		files = append(files, rel)
	}
	return jsonOutcome(files)
}
