package gateway

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/docker/go-units"

	"github.com/YujiSuzuki/hostgate/internal/security"
)

// entry is a confined path whose final component is left unresolved, so a
// symlink is deleted, renamed or inspected as a link rather than through it.
type entry struct {
	security.ResolvedPath
	Entry string
}

// confineEntry confines raw fully (target must be inside the root) and
// also confines its parent, returning the lexical entry under that parent.
func (g *Gateway) confineEntry(raw string) (entry, *Error) {
	p, gerr := g.confine(raw)
	if gerr != nil {
		return entry{}, gerr
	}
	if p.IsRoot() {
		return entry{ResolvedPath: p, Entry: p.Path}, nil
	}

	clean := filepath.Clean(raw)
	if !filepath.IsAbs(clean) {
		clean = filepath.Join(g.Root(), clean)
	}
	parent, gerr := g.confine(filepath.Dir(clean))
	if gerr != nil {
		return entry{}, accessDenied(raw)
	}
	return entry{ResolvedPath: p, Entry: filepath.Join(parent.Path, filepath.Base(clean))}, nil
}

// confineLink confines the parent of raw and, when raw names a symbolic
// link, returns that link without resolving it. The link's own location
// must be inside the root and not blocked; its target may dangle or point
// anywhere. Anything other than a link goes through confineEntry.
func (g *Gateway) confineLink(raw string) (entry, *Error) {
	clean := filepath.Clean(raw)
	if !filepath.IsAbs(clean) {
		clean = filepath.Join(g.Root(), clean)
	}
	if clean == g.Root() {
		return g.confineEntry(raw)
	}
	parent, gerr := g.confine(filepath.Dir(clean))
	if gerr != nil {
		return entry{}, accessDenied(raw)
	}
	link := filepath.Join(parent.Path, filepath.Base(clean))
	info, err := os.Lstat(link)
	if err != nil || info.Mode()&fs.ModeSymlink == 0 {
		return g.confineEntry(raw)
	}
	rel, err := filepath.Rel(g.Root(), link)
	if err != nil || !security.IsWithin(g.Root(), link) || g.confiner.IsBlocked(rel) {
		return entry{}, accessDenied(raw)
	}
	return entry{ResolvedPath: security.ResolvedPath{Raw: raw, Path: link, Rel: rel}, Entry: link}, nil
}

// decodeContent converts caller content to bytes per encoding.
func decodeContent(content, encoding string) ([]byte, *Error) {
	switch encoding {
	case "", "utf8", "utf-8":
		return []byte(content), nil
	case "base64":
		b, err := base64.StdEncoding.DecodeString(content)
		if err != nil {
			return nil, newError(KindInvalidArguments, "invalid base64 content: %v", err)
		}
		return b, nil
	case "hex":
		b, err := hex.DecodeString(content)
		if err != nil {
			return nil, newError(KindInvalidArguments, "invalid hex content: %v", err)
		}
		return b, nil
	default:
		return nil, newError(KindInvalidArguments, "unsupported encoding: %s", encoding)
	}
}

func encodeContent(data []byte, encoding string) (string, *Error) {
	switch encoding {
	case "", "utf8", "utf-8":
		return string(data), nil
	case "base64":
		return base64.StdEncoding.EncodeToString(data), nil
	case "hex":
		return hex.EncodeToString(data), nil
	default:
		return "", newError(KindInvalidArguments, "unsupported encoding: %s", encoding)
	}
}

func (g *Gateway) readFile(_ context.Context, args Args) Outcome {
	raw, aerr := args.RequiredString("path")
	if aerr != nil {
		return failed(aerr)
	}
	encoding, aerr := args.String("encoding", "utf8")
	if aerr != nil {
		return failed(aerr)
	}
	p, gerr := g.confine(raw)
	if gerr != nil {
		return failed(gerr)
	}

	data, err := os.ReadFile(p.Path)
	if err != nil {
		return failed(fsError("read file", raw, err))
	}
	text, gerr := encodeContent(data, encoding)
	if gerr != nil {
		return failed(gerr)
	}
	return textOutcome(text)
}

func (g *Gateway) writeFile(_ context.Context, args Args) Outcome {
	raw, aerr := args.RequiredString("path")
	if aerr != nil {
		return failed(aerr)
	}
	content, ok := args["content"].(string)
	if !ok {
		return failed(invalidArg("content"))
	}
	encoding, aerr := args.String("encoding", "utf8")
	if aerr != nil {
		return failed(aerr)
	}
	appendMode, aerr := args.Bool("append", false)
	if aerr != nil {
		return failed(aerr)
	}
	data, gerr := decodeContent(content, encoding)
	if gerr != nil {
		return failed(gerr)
	}
	p, gerr := g.confine(raw)
	if gerr != nil {
		return failed(gerr)
	}

	if appendMode {
		f, err := os.OpenFile(p.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return failed(fsError("write file", raw, err))
		}
		_, err = f.Write(data)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return failed(fsError("write file", raw, err))
		}
		return textOutcome("File appended successfully")
	}

	if err := os.WriteFile(p.Path, data, 0644); err != nil {
		return failed(fsError("write file", raw, err))
	}
	return textOutcome("File written successfully")
}

func (g *Gateway) createFile(_ context.Context, args Args) Outcome {
	raw, aerr := args.RequiredString("path")
	if aerr != nil {
		return failed(aerr)
	}
	content, aerr := args.String("content", "")
	if aerr != nil {
		return failed(aerr)
	}
	p, gerr := g.confine(raw)
	if gerr != nil {
		return failed(gerr)
	}

	if err := os.WriteFile(p.Path, []byte(content), 0644); err != nil {
		return failed(fsError("create file", raw, err))
	}
	return textOutcome("File created successfully")
}

func (g *Gateway) createDirectory(_ context.Context, args Args) Outcome {
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

	var err error
	if recursive {
		err = os.MkdirAll(p.Path, 0755)
	} else {
		err = os.Mkdir(p.Path, 0755)
	}
	if err != nil {
		return failed(fsError("create directory", raw, err))
	}
	return textOutcome("Directory created successfully")
}

func (g *Gateway) deleteFile(_ context.Context, args Args) Outcome {
	raw, aerr := args.RequiredString("path")
	if aerr != nil {
		return failed(aerr)
	}
	e, gerr := g.confineLink(raw)
	if gerr != nil {
		return failed(gerr)
	}

	info, err := os.Lstat(e.Entry)
	if err != nil {
		return failed(fsError("delete file", raw, err))
	}
	if info.IsDir() {
		return failed(newError(KindFilesystemOperationFailed, "Failed to delete file %s: is a directory", raw))
	}
	if err := os.Remove(e.Entry); err != nil {
		return failed(fsError("delete file", raw, err))
	}
	return textOutcome("File deleted successfully")
}

// deleteDirectory removes a directory tree. A missing directory is not an
// error. os.RemoveAll never follows symlinks, so a link cycle inside the
// tree cannot extend the deletion beyond it.
func (g *Gateway) deleteDirectory(_ context.Context, args Args) Outcome {
	raw, aerr := args.RequiredString("path")
	if aerr != nil {
		return failed(aerr)
	}
	e, gerr := g.confineEntry(raw)
	if gerr != nil {
		return failed(gerr)
	}
	if e.IsRoot() {
		return failed(newError(KindFilesystemOperationFailed, "Failed to delete directory %s: refusing to delete the root directory", raw))
	}

	info, err := os.Lstat(e.Entry)
	if errors.Is(err, fs.ErrNotExist) {
		return textOutcome("Directory deleted successfully")
	}
	if err != nil {
		return failed(fsError("delete directory", raw, err))
	}
	if !info.IsDir() && info.Mode()&fs.ModeSymlink == 0 {
		return failed(newError(KindFilesystemOperationFailed, "Failed to delete directory %s: not a directory", raw))
	}
	if err := os.RemoveAll(e.Entry); err != nil {
		return failed(fsError("delete directory", raw, err))
	}
	return textOutcome("Directory deleted successfully")
}

// copyFile copies a regular file's bytes. It is not atomic: a failure
// after the destination is created leaves a partial file.
func (g *Gateway) copyFile(_ context.Context, args Args) Outcome {
	srcRaw, aerr := args.RequiredString("source")
	if aerr != nil {
		return failed(aerr)
	}
	dstRaw, aerr := args.RequiredString("destination")
	if aerr != nil {
		return failed(aerr)
	}
	src, srcErr := g.confine(srcRaw)
	dst, dstErr := g.confine(dstRaw)
	if srcErr != nil {
		return failed(srcErr)
	}
	if dstErr != nil {
		return failed(dstErr)
	}

	in, err := os.Open(src.Path)
	if err != nil {
		return failed(fsError("copy file", srcRaw, err))
	}
	defer in.Close()

	srcInfo, err := in.Stat()
	if err != nil {
		return failed(fsError("copy file", srcRaw, err))
	}
	if !srcInfo.Mode().IsRegular() {
		return failed(newError(KindFilesystemOperationFailed, "Failed to copy file %s: not a regular file", srcRaw))
	}
	if dstInfo, err := os.Stat(dst.Path); err == nil && os.SameFile(srcInfo, dstInfo) {
		return failed(newError(KindFilesystemOperationFailed, "Failed to copy file %s: source and destination are the same file", srcRaw))
	}

	out, err := os.OpenFile(dst.Path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, srcInfo.Mode().Perm())
	if err != nil {
		return failed(fsError("copy file", dstRaw, err))
	}
	_, err = io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return failed(fsError("copy file", dstRaw, err))
	}
	return textOutcome("File copied successfully")
}

func (g *Gateway) moveFile(_ context.Context, args Args) Outcome {
	srcRaw, aerr := args.RequiredString("source")
	if aerr != nil {
		return failed(aerr)
	}
	dstRaw, aerr := args.RequiredString("destination")
	if aerr != nil {
		return failed(aerr)
	}
	src, srcErr := g.confineEntry(srcRaw)
	dst, dstErr := g.confineEntry(dstRaw)
	if srcErr != nil {
		return failed(srcErr)
	}
	if dstErr != nil {
		return failed(dstErr)
	}
	if src.IsRoot() {
		return failed(newError(KindFilesystemOperationFailed, "Failed to move file %s: refusing to move the root directory", srcRaw))
	}

	if err := os.Rename(src.Entry, dst.Entry); err != nil {
		return failed(fsError("move file", srcRaw, err))
	}
	return textOutcome("File moved successfully")
}

// FileInfo is the get_file_info result.
// FileInfoはget_file_infoの結果です。
type FileInfo struct {
	Name        string    `json:"name"`
	Path        string    `json:"path"`
	Size        int64     `json:"size"`
	HumanSize   string    `json:"humanSize"`
	Modified    time.Time `json:"modified"`
	IsDirectory bool      `json:"isDirectory"`
	IsFile      bool      `json:"isFile"`
	IsSymlink   bool      `json:"isSymlink"`
	Permissions string    `json:"permissions"`
}

func (g *Gateway) getFileInfo(_ context.Context, args Args) Outcome {
	raw, aerr := args.RequiredString("path")
	if aerr != nil {
		return failed(aerr)
	}
	e, gerr := g.confineEntry(raw)
	if gerr != nil {
		return failed(gerr)
	}

	info, err := os.Stat(e.Path)
	if err != nil {
		return failed(fsError("get file info", raw, err))
	}
	linfo, err := os.Lstat(e.Entry)
	if err != nil {
		return failed(fsError("get file info", raw, err))
	}

	return jsonOutcome(FileInfo{
		Name:        filepath.Base(e.Entry),
		Path:        filepath.ToSlash(e.Rel),
		Size:        info.Size(),
		HumanSize:   units.HumanSize(float64(info.Size())),
		Modified:    info.ModTime(),
		IsDirectory: info.IsDir(),
		IsFile:      info.Mode().IsRegular(),
		IsSymlink:   linfo.Mode()&fs.ModeSymlink != 0,
		Permissions: formatMode(info.Mode()),
	})
}

// formatMode renders permission and special bits in octal, e.g. "0755", "4755".
func formatMode(m fs.FileMode) string {
	bits := uint32(m.Perm())
	if m&fs.ModeSetuid != 0 {
		bits |= 04000
	}
	if m&fs.ModeSetgid != 0 {
		bits |= 02000
	}
	if m&fs.ModeSticky != 0 {
		bits |= 01000
	}
	return fmt.Sprintf("%04o", bits)
}

// parseMode accepts an octal string such as "755", "0644" or "4755".
func parseMode(s string) (fs.FileMode, *Error) {
	n, err := strconv.ParseUint(s, 8, 32)
	if err != nil || n > 07777 {
		return 0, newError(KindInvalidArguments, "invalid mode: %s", s)
	}
	m := fs.FileMode(n & 0777)
	if n&04000 != 0 {
		m |= fs.ModeSetuid
	}
	if n&02000 != 0 {
		m |= fs.ModeSetgid
	}
	if n&01000 != 0 {
		m |= fs.ModeSticky
	}
	return m, nil
}

func (g *Gateway) changePermissions(_ context.Context, args Args) Outcome {
	raw, aerr := args.RequiredString("path")
	if aerr != nil {
		return failed(aerr)
	}
	modeStr, aerr := args.RequiredString("mode")
	if aerr != nil {
		return failed(aerr)
	}
	mode, gerr := parseMode(modeStr)
	if gerr != nil {
		return failed(gerr)
	}
	p, gerr := g.confine(raw)
	if gerr != nil {
		return failed(gerr)
	}

	if err := os.Chmod(p.Path, mode); err != nil {
		return failed(fsError("change permissions", raw, err))
	}
	return textOutcome("Permissions changed successfully")
}
