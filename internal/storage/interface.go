// Package storage keeps dump files and their manifests in a local directory
// or an S3-compatible bucket. Keys are slash separated and relative to the
// backend root.
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

type Backend interface {
	Write(ctx context.Context, key string, r io.Reader) error
	Read(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]Object, error)
	Stat(ctx context.Context, key string) (Object, error)

	// Upload stores the file at localPath under key.
	Upload(ctx context.Context, key, localPath string) error
	// Download writes the object at key to localPath.
	Download(ctx context.Context, key, localPath string) error
}

// Object describes a stored file. List returns objects newest first.
type Object struct {
	Key          string
	Size         int64
	LastModified time.Time
}

type Config struct {
	Backend string
	// Path is the base directory for local storage and the key prefix
	// inside the bucket for S3.
	Path string
	S3   *S3Config
}

type S3Config struct {
	Bucket    string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Create(cfg Config) (Backend, error) {
	switch cfg.Backend {
	case "local":
		return NewLocalStorage(cfg.Path)
	case "s3":
		if cfg.S3 == nil {
			return nil, ErrS3ConfigRequired
		}
		return NewS3Storage(*cfg.S3, cfg.Path)
	default:
		return nil, &StorageError{Op: "create", Path: cfg.Backend, Err: ErrUnknownBackend}
	}
}

var (
	ErrNotFound         = errors.New("object not found")
	ErrInvalidKey       = errors.New("invalid object key")
	ErrS3ConfigRequired = errors.New("s3 config required")
	ErrUnknownBackend   = errors.New("unknown backend")
)

type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return e.Op + " " + e.Path + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Exists reports whether key is present in b.
func Exists(ctx context.Context, b Backend, key string) (bool, error) {
	_, err := b.Stat(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}
