package gateway

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/YujiSuzuki/hostgate/internal/security"
)

// ErrorKind classifies a failed operation. Every kind is terminal; the
// gateway never retries.
//
// ErrorKindは失敗した操作を分類します。すべての種別は終端的で、
// ゲートウェイは再試行しません。
type ErrorKind int

const (
	KindCommandNotAllowed ErrorKind = iota + 1
	KindCommandTimedOut
	KindCommandExecutionFailed
	KindAccessDenied
	KindFilesystemOperationFailed
	KindUnsupportedFormat
	KindUnknownOperation
	KindInvalidArguments
)

var kindNames = map[ErrorKind]string{
	KindCommandNotAllowed:         "CommandNotAllowed",
	KindCommandTimedOut:           "CommandTimedOut",
	KindCommandExecutionFailed:    "CommandExecutionFailed",
	KindAccessDenied:              "AccessDenied",
	KindFilesystemOperationFailed: "FilesystemOperationFailed",
	KindUnsupportedFormat:         "UnsupportedFormat",
	KindUnknownOperation:          "UnknownOperation",
	KindInvalidArguments:          "InvalidArguments",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Error is the tagged failure carried by an Outcome.
// ErrorはOutcomeが保持するタグ付きの失敗です。
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches another *Error of the same kind, so callers can write
// errors.Is(err, &gateway.Error{Kind: gateway.KindAccessDenied}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func newError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// AsError extracts the gateway error from err, if any.
// AsErrorはerrからゲートウェイのエラーを取り出します。
func AsError(err error) (*Error, bool) {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr, true
	}
	return nil, false
}

// accessDenied builds the uniform denial. Two-sided operations use the same
// message shape for either side so a caller cannot tell which side failed
// from anything but its own input.
func accessDenied(raw string) *Error {
	return newError(KindAccessDenied, "Access denied: path outside allowed directory: %s", raw)
}

// fsError maps a host filesystem error to FilesystemOperationFailed. The
// *PathError op and path are dropped so host layout does not leak; the
// underlying reason ("no such file or directory", "directory not empty",
// "invalid cross-device link", ...) is preserved.
func fsError(action, raw string, err error) *Error {
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		err = pathErr.Err
	}
	var linkErr *os.LinkError
	if errors.As(err, &linkErr) {
		err = linkErr.Err
	}
	return newError(KindFilesystemOperationFailed, "Failed to %s %s: %v", action, raw, err)
}

// confine maps a confinement failure to AccessDenied.
func (g *Gateway) confine(raw string) (security.ResolvedPath, *Error) {
	p, err := g.confiner.Confine(raw)
	if err != nil {
		return security.ResolvedPath{}, accessDenied(raw)
	}
	return p, nil
}
