package gateway

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"io"
	"os"
	"strings"
)

var hashAlgorithms = map[string]func() hash.Hash{
	"md5":    md5.New,
	"sha1":   sha1.New,
	"sha256": sha256.New,
	"sha512": sha512.New,
}

// ctxReader stops a long read once the request is cancelled.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// calculateHash streams the file through the digest; memory use does not
// depend on file size.
func (g *Gateway) calculateHash(ctx context.Context, args Args) Outcome {
	raw, aerr := args.RequiredString("path")
	if aerr != nil {
		return failed(aerr)
	}
	alg, aerr := args.String("algorithm", "sha256")
	if aerr != nil {
		return failed(aerr)
	}
	alg = strings.ToLower(alg)
	newHash, ok := hashAlgorithms[alg]
	if !ok {
		return failed(newError(KindUnsupportedFormat, "Unsupported algorithm: %s", alg))
	}
	p, gerr := g.confine(raw)
	if gerr != nil {
		return failed(gerr)
	}

	f, err := os.Open(p.Path)
	if err != nil {
		return failed(fsError("hash file", raw, err))
	}
	defer f.Close()

	h := newHash()
	if _, err := io.Copy(h, ctxReader{ctx: ctx, r: f}); err != nil {
		return failed(fsError("hash file", raw, err))
	}
	return textOutcome(strings.ToUpper(alg) + ": " + hex.EncodeToString(h.Sum(nil)))
}
