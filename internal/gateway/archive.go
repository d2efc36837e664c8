package gateway

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/YujiSuzuki/hostgate/internal/executor"
)

// archiveFormat selects the external archiver invocation.
type archiveFormat int

const (
	formatZip archiveFormat = iota + 1
	formatTar
	formatTarGz
)

// compressionFormat maps the compress_file "format" argument.
func compressionFormat(name string) (archiveFormat, bool) {
	switch strings.ToLower(name) {
	case "zip":
		return formatZip, true
	case "tar":
		return formatTar, true
	case "gz", "gzip", "tar.gz", "tgz":
		return formatTarGz, true
	}
	return 0, false
}

// detectArchiveFormat picks the extractor from the file name.
func detectArchiveFormat(name string) (archiveFormat, bool) {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return formatZip, true
	case strings.HasSuffix(lower, ".tar"):
		return formatTar, true
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"), strings.HasSuffix(lower, ".gz"):
		return formatTarGz, true
	}
	return 0, false
}

// compressArgv builds the archiver argv. Members are stored relative to the
// source's parent, so extracting reproduces the source's base name. With a
// nil member list the source is archived recursively; otherwise exactly the
// listed members are stored. Symbolic links are stored as links.
func compressArgv(f archiveFormat, src, dst string, members []string) (string, []string) {
	parent, base := filepath.Dir(src), filepath.Base(src)
	switch f {
	case formatZip:
		// zip has no -C; runArchive sets the working directory to parent
		if members != nil {
			return "zip", append([]string{"-q", "-y", dst}, members...)
		}
		return "zip", []string{"-r", "-q", "-y", dst, base}
	case formatTar:
		if members != nil {
			return "tar", append([]string{"-cf", dst, "-C", parent, "--no-recursion"}, members...)
		}
		return "tar", []string{"-cf", dst, "-C", parent, base}
	default:
		if members != nil {
			return "tar", append([]string{"-czf", dst, "-C", parent, "--no-recursion"}, members...)
		}
		return "tar", []string{"-czf", dst, "-C", parent, base}
	}
}

// archiveMembers lists the entries under src relative to its parent when
// any of them is blocked, so the archiver can be given everything else.
// It returns nil when nothing under src is blocked. Symbolic links are
// not followed, matching what the archivers store.
func (g *Gateway) archiveMembers(src string) ([]string, error) {
	parent := filepath.Dir(src)
	var members []string
	blocked := false
	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(g.Root(), path)
		if err != nil {
			return err
		}
		if g.confiner.IsBlocked(rel) {
			blocked = true
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		member, err := filepath.Rel(parent, path)
		if err != nil {
			return err
		}
		members = append(members, member)
		return nil
	})
	if err != nil || !blocked {
		return nil, err
	}
	return members, nil
}

func extractArgv(f archiveFormat, src, dst string) (string, []string) {
	switch f {
	case formatZip:
		return "unzip", []string{"-o", "-q", src, "-d", dst}
	case formatTar:
		return "tar", []string{"-xf", src, "-C", dst}
	default:
		return "tar", []string{"-xzf", src, "-C", dst}
	}
}

// runArchive runs a fixed archiver invocation. These are internal argv
// arrays built from confined paths, so they bypass the command allow-list.
func (g *Gateway) runArchive(ctx context.Context, dir, name string, argv []string) *Error {
	_, err := g.runner.Run(ctx, name, argv, executor.Options{
		Dir:       dir,
		Timeout:   g.archiveTimeout,
		MaxOutput: g.maxOutput,
	})
	if err != nil {
		return g.commandError(err, g.archiveTimeout)
	}
	return nil
}

func (g *Gateway) compressFile(ctx context.Context, args Args) Outcome {
	srcRaw, aerr := args.RequiredString("source")
	if aerr != nil {
		return failed(aerr)
	}
	dstRaw, aerr := args.RequiredString("destination")
	if aerr != nil {
		return failed(aerr)
	}
	formatName, aerr := args.String("format", "zip")
	if aerr != nil {
		return failed(aerr)
	}
	format, ok := compressionFormat(formatName)
	if !ok {
		return failed(newError(KindUnsupportedFormat, "Unsupported format: %s", formatName))
	}

	src, srcErr := g.confine(srcRaw)
	dst, dstErr := g.confine(dstRaw)
	if srcErr != nil {
		return failed(srcErr)
	}
	if dstErr != nil {
		return failed(dstErr)
	}
	if src.IsRoot() {
		return failed(newError(KindFilesystemOperationFailed, "Failed to compress %s: refusing to archive the root directory", srcRaw))
	}
	if _, err := os.Stat(src.Path); err != nil {
		return failed(fsError("compress", srcRaw, err))
	}

	members, err := g.archiveMembers(src.Path)
	if err != nil {
		return failed(fsError("compress", srcRaw, err))
	}
	name, argv := compressArgv(format, src.Path, dst.Path, members)
	if gerr := g.runArchive(ctx, filepath.Dir(src.Path), name, argv); gerr != nil {
		return failed(gerr)
	}
	return textOutcome(fmt.Sprintf("File compressed successfully to %s", dstRaw))
}

func (g *Gateway) extractFile(ctx context.Context, args Args) Outcome {
	srcRaw, aerr := args.RequiredString("source")
	if aerr != nil {
		return failed(aerr)
	}
	dstRaw, aerr := args.RequiredString("destination")
	if aerr != nil {
		return failed(aerr)
	}
	format, ok := detectArchiveFormat(srcRaw)
	if !ok {
		return failed(newError(KindUnsupportedFormat, "Unsupported archive format: %s", srcRaw))
	}

	src, srcErr := g.confine(srcRaw)
	dst, dstErr := g.confine(dstRaw)
	if srcErr != nil {
		return failed(srcErr)
	}
	if dstErr != nil {
		return failed(dstErr)
	}
	if _, err := os.Stat(src.Path); err != nil {
		return failed(fsError("extract", srcRaw, err))
	}
	if err := os.MkdirAll(dst.Path, 0755); err != nil {
		return failed(fsError("extract", dstRaw, err))
	}

	// Links that already escaped before extraction belong to the caller's
	// tree and are left alone.
	existing, err := g.escapingLinks(dst.Path)
	if err != nil {
		return failed(fsError("extract", dstRaw, err))
	}

	name, argv := extractArgv(format, src.Path, dst.Path)
	gerr := g.runArchive(ctx, dst.Path, name, argv)

	// Audit even on failure: a partial extraction may already have
	// written links.
	removed, err := g.pruneEscapingLinks(dst.Path, existing)
	if err != nil {
		slog.Warn("Failed to audit extracted files", "destination", dstRaw, "error", err)
	}
	if gerr != nil {
		return failed(gerr)
	}

	texts := []string{fmt.Sprintf("File extracted successfully to %s", dstRaw)}
	if removed > 0 {
		texts = append(texts, fmt.Sprintf("Removed %d symbolic link(s) pointing outside the allowed directory", removed))
	}
	return textOutcome(texts...)
}

// escapingLinks returns every symlink under dir that does not resolve to a
// path inside the root, including dangling ones. WalkDir does not follow
// links, so the scan itself stays inside dir.
func (g *Gateway) escapingLinks(dir string) (map[string]struct{}, error) {
	links := make(map[string]struct{})
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.Type()&fs.ModeSymlink == 0 {
			return nil
		}
		if _, cerr := g.confiner.Confine(path); cerr != nil {
			links[path] = struct{}{}
		}
		return nil
	})
	return links, err
}

// pruneEscapingLinks removes escaping links under dir that are not in keep.
func (g *Gateway) pruneEscapingLinks(dir string, keep map[string]struct{}) (int, error) {
	links, err := g.escapingLinks(dir)
	removed := 0
	for path := range links {
		if _, ok := keep[path]; ok {
			continue
		}
		if rerr := os.Remove(path); rerr != nil {
			err = errors.Join(err, rerr)
			continue
		}
		slog.Warn("Removed escaping symlink from extracted archive", "path", path)
		removed++
	}
	return removed, err
}

// ArchiveTimeout returns the deadline applied to archiver invocations.
func (g *Gateway) ArchiveTimeout() time.Duration {
	return g.archiveTimeout
}
