package compress

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

type fileCodec struct {
	kind    Kind
	backend backend

	path string
	mode Mode
	file *os.File
	w    io.WriteCloser
	r    io.ReadCloser
}

func (c *fileCodec) Kind() Kind {
	return c.kind
}

func (c *fileCodec) Open(path string, mode Mode) error {
	if c.file != nil {
		if err := c.Close(); err != nil {
			return err
		}
	}
	c.path = path
	c.mode = mode

	if mode == ModeWrite {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return c.fail("open", fmt.Errorf("%w: %w", ErrFileNotWritable, err))
		}
		w, err := c.backend.newWriter(f)
		if err != nil {
			f.Close()
			return c.fail("open", fmt.Errorf("%w: %w", ErrFileNotWritable, err))
		}
		c.file, c.w = f, w
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return c.fail("open", fmt.Errorf("%w: %w", ErrReadFailed, err))
	}
	r, err := c.backend.newReader(f)
	if err != nil {
		f.Close()
		return c.fail("open", fmt.Errorf("%w: %w", ErrReadFailed, err))
	}
	c.file, c.r = f, r
	return nil
}

func (c *fileCodec) Write(p []byte) (int, error) {
	if c.w == nil {
		return 0, c.fail("write", ErrNotOpen)
	}
	n, err := c.w.Write(p)
	if err != nil {
		return n, c.fail("write", fmt.Errorf("%w: %w", ErrWriteFailed, err))
	}
	return n, nil
}

func (c *fileCodec) Read(p []byte) (int, error) {
	if c.r == nil {
		return 0, c.fail("read", ErrNotOpen)
	}
	n, err := c.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, c.fail("read", fmt.Errorf("%w: %w", ErrReadFailed, err))
	}
	return n, err
}

// Close flushes the encoder trailer and releases the file. Calling Close
// on a closed or never-opened codec is a no-op.
func (c *fileCodec) Close() error {
	if c.file == nil {
		return nil
	}
	var errs []error
	if c.w != nil {
		if err := c.w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%w: %w", ErrWriteFailed, err))
		}
	}
	if c.r != nil {
		if err := c.r.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%w: %w", ErrReadFailed, err))
		}
	}
	if err := c.file.Close(); err != nil {
		errs = append(errs, err)
	}
	c.file, c.w, c.r = nil, nil, nil
	if len(errs) > 0 {
		return c.fail("close", errors.Join(errs...))
	}
	return nil
}

func (c *fileCodec) fail(op string, err error) error {
	return &CodecError{Op: op, Path: c.path, Kind: c.kind, Err: err}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func nopWriter(w io.Writer) (io.WriteCloser, error) {
	return nopWriteCloser{w}, nil
}

func nopReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(r), nil
}

func gzipWriter(w io.Writer) (io.WriteCloser, error) {
	return gzip.NewWriterLevel(w, gzip.DefaultCompression)
}

// gzipStreamWriter produces the same gzip container at maximum compression,
// which suits long dumps written in many small increments.
func gzipStreamWriter(w io.Writer) (io.WriteCloser, error) {
	return gzip.NewWriterLevel(w, gzip.BestCompression)
}

func gzipReader(r io.Reader) (io.ReadCloser, error) {
	return gzip.NewReader(r)
}

func bzip2Writer(w io.Writer) (io.WriteCloser, error) {
	return bzip2.NewWriter(w, &bzip2.WriterConfig{Level: bzip2.BestCompression})
}

func bzip2Reader(r io.Reader) (io.ReadCloser, error) {
	return bzip2.NewReader(r, nil)
}

func zstdWriter(w io.Writer) (io.WriteCloser, error) {
	return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
}

func zstdReader(r io.Reader) (io.ReadCloser, error) {
	d, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	return d.IOReadCloser(), nil
}
