package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type LocalStorage struct {
	basePath string
}

func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if basePath == "" {
		return nil, fmt.Errorf("local storage path is required")
	}
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	return &LocalStorage{basePath: basePath}, nil
}

func (l *LocalStorage) fullPath(key string) (string, error) {
	rel := filepath.FromSlash(key)
	if key == "" || !filepath.IsLocal(rel) {
		return "", &StorageError{Op: "resolve", Path: key, Err: ErrInvalidKey}
	}
	return filepath.Join(l.basePath, rel), nil
}

// Write stores r under key. The data lands in a temporary sibling first so
// a failed write never leaves a truncated dump behind.
func (l *LocalStorage) Write(ctx context.Context, key string, r io.Reader) error {
	path, err := l.fullPath(key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return &StorageError{Op: "write", Path: key, Err: err}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return &StorageError{Op: "write", Path: key, Err: err}
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, readerWithContext(ctx, r)); err != nil {
		tmp.Close()
		return &StorageError{Op: "write", Path: key, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &StorageError{Op: "write", Path: key, Err: err}
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return &StorageError{Op: "write", Path: key, Err: err}
	}

	return nil
}

func (l *LocalStorage) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	path, err := l.fullPath(key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &StorageError{Op: "read", Path: key, Err: ErrNotFound}
		}
		return nil, &StorageError{Op: "read", Path: key, Err: err}
	}

	return f, nil
}

func (l *LocalStorage) Delete(ctx context.Context, key string) error {
	path, err := l.fullPath(key)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &StorageError{Op: "delete", Path: key, Err: err}
	}

	return nil
}

func (l *LocalStorage) List(ctx context.Context, prefix string) ([]Object, error) {
	var objects []Object

	err := filepath.WalkDir(l.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}

		rel, err := filepath.Rel(l.basePath, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		objects = append(objects, Object{
			Key:          key,
			Size:         info.Size(),
			LastModified: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return objects, nil
		}
		return nil, &StorageError{Op: "list", Path: prefix, Err: err}
	}

	sortNewestFirst(objects)
	return objects, nil
}

func (l *LocalStorage) Stat(ctx context.Context, key string) (Object, error) {
	path, err := l.fullPath(key)
	if err != nil {
		return Object{}, err
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Object{}, &StorageError{Op: "stat", Path: key, Err: ErrNotFound}
		}
		return Object{}, &StorageError{Op: "stat", Path: key, Err: err}
	}

	return Object{Key: key, Size: info.Size(), LastModified: info.ModTime()}, nil
}

func (l *LocalStorage) Upload(ctx context.Context, key, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return &StorageError{Op: "upload", Path: localPath, Err: err}
	}
	defer f.Close()

	return l.Write(ctx, key, f)
}

func (l *LocalStorage) Download(ctx context.Context, key, localPath string) error {
	r, err := l.Read(ctx, key)
	if err != nil {
		return err
	}
	defer r.Close()

	return writeFile(ctx, localPath, r)
}

func writeFile(ctx context.Context, path string, r io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return &StorageError{Op: "download", Path: path, Err: err}
	}
	if _, err := io.Copy(f, readerWithContext(ctx, r)); err != nil {
		f.Close()
		os.Remove(path)
		return &StorageError{Op: "download", Path: path, Err: err}
	}
	if err := f.Close(); err != nil {
		return &StorageError{Op: "download", Path: path, Err: err}
	}
	return nil
}

func sortNewestFirst(objects []Object) {
	sort.Slice(objects, func(i, j int) bool {
		return objects[i].LastModified.After(objects[j].LastModified)
	})
}

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

// readerWithContext stops a copy once ctx is done.
func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	return ctxReader{ctx: ctx, r: r}
}
