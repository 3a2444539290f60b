package compress

import "errors"

var (
	ErrUnknownCompressor    = errors.New("unknown compression method")
	ErrDriverMissing        = errors.New("compression backend not available")
	ErrUnsupportedExtension = errors.New("unsupported dump file extension")
	ErrFileNotWritable      = errors.New("file is not writable")
	ErrWriteFailed          = errors.New("failed to write to file")
	ErrReadFailed           = errors.New("failed to read from file")
	ErrNotOpen              = errors.New("codec is not open")
)

// CodecError records the operation and path that failed.
type CodecError struct {
	Op   string
	Path string
	Kind Kind
	Err  error
}

func (e *CodecError) Error() string {
	return e.Kind.String() + " " + e.Op + " " + e.Path + ": " + e.Err.Error()
}

func (e *CodecError) Unwrap() error {
	return e.Err
}

func (k Kind) String() string {
	return string(k)
}
