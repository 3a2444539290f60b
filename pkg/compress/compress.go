// Package compress provides the file codecs used to write and read SQL dumps.
//
// Every codec follows the same lifecycle: Open a path for reading or
// writing, stream data through it, then Close. Close is idempotent and
// flushes any trailer the format needs before releasing the file handle.
package compress

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
)

// Kind names a compression method.
type Kind string

const (
	None       Kind = "none"
	Gzip       Kind = "gzip"
	GzipStream Kind = "gzipstream"
	Bzip2      Kind = "bzip2"
	Zstd       Kind = "zstd"
	Xz         Kind = "xz"
)

// Mode selects the direction a codec is opened in.
type Mode int

const (
	ModeRead Mode = iota
	ModeWrite
)

func (m Mode) String() string {
	if m == ModeWrite {
		return "write"
	}
	return "read"
}

// Codec is a byte sink or source backed by a single file.
//
// Read drains the decompressed stream; callers typically hand the codec to
// io.Copy to materialize the plain text elsewhere.
type Codec interface {
	io.ReadWriteCloser
	Open(path string, mode Mode) error
	Kind() Kind
}

// backend produces the stream wrappers for a Kind.
type backend struct {
	newWriter func(io.Writer) (io.WriteCloser, error)
	newReader func(io.Reader) (io.ReadCloser, error)
}

// recognized lists every name New understands. A recognized Kind without a
// backend reports ErrDriverMissing.
var recognized = map[Kind]bool{
	None:       true,
	Gzip:       true,
	GzipStream: true,
	Bzip2:      true,
	Zstd:       true,
	Xz:         true,
}

var backends = map[Kind]backend{
	None:       {newWriter: nopWriter, newReader: nopReader},
	Gzip:       {newWriter: gzipWriter, newReader: gzipReader},
	GzipStream: {newWriter: gzipStreamWriter, newReader: gzipReader},
	Bzip2:      {newWriter: bzip2Writer, newReader: bzip2Reader},
	Zstd:       {newWriter: zstdWriter, newReader: zstdReader},
}

// ParseKind resolves a compression name case-insensitively.
// An empty name means None.
func ParseKind(name string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(name)))
	if k == "" {
		return None, nil
	}
	if !recognized[k] {
		return "", fmt.Errorf("%w: %q", ErrUnknownCompressor, name)
	}
	return k, nil
}

// New returns an unopened codec for kind.
func New(kind Kind) (Codec, error) {
	k, err := ParseKind(string(kind))
	if err != nil {
		return nil, err
	}
	b, ok := backends[k]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDriverMissing, k)
	}
	return &fileCodec{kind: k, backend: b}, nil
}

// Kinds returns the kinds that have a working backend, sorted by name.
func Kinds() []Kind {
	out := make([]Kind, 0, len(backends))
	for k := range backends {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ForExtension picks the codec for a dump file from its extension.
// Only .sql, .gz/.gzip, .bz2/.bzip2 and .zst/.zstd are accepted.
func ForExtension(path string) (Kind, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	switch ext {
	case "sql":
		return None, nil
	case "gz", "gzip":
		return Gzip, nil
	case "bz2", "bzip2":
		return Bzip2, nil
	case "zst", "zstd":
		return Zstd, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedExtension, filepath.Base(path))
	}
}

// Extension returns the file suffix written for kind, including ".sql".
func Extension(kind Kind) string {
	switch kind {
	case Gzip, GzipStream:
		return ".sql.gz"
	case Bzip2:
		return ".sql.bz2"
	case Zstd:
		return ".sql.zst"
	default:
		return ".sql"
	}
}
