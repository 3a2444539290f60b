package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/localrivet/datadumper/internal/storage"
	"github.com/localrivet/datadumper/pkg/manifest"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockStorage keeps objects in memory.
type mockStorage struct {
	mu        sync.Mutex
	files     map[string][]byte
	modified  map[string]time.Time
	statErr   error
	uploadErr error
	deleteErr map[string]error
}

func newMockStorage() *mockStorage {
	return &mockStorage{
		files:     make(map[string][]byte),
		modified:  make(map[string]time.Time),
		deleteErr: make(map[string]error),
	}
}

func (m *mockStorage) put(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[key] = data
	m.modified[key] = time.Now()
}

func (m *mockStorage) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k := range m.files {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (m *mockStorage) Write(ctx context.Context, key string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.put(key, data)
	return nil
}

func (m *mockStorage) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[key]
	if !ok {
		return nil, &storage.StorageError{Op: "read", Path: key, Err: storage.ErrNotFound}
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *mockStorage) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.deleteErr[key]; err != nil {
		return err
	}
	delete(m.files, key)
	return nil
}

func (m *mockStorage) List(ctx context.Context, prefix string) ([]storage.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.Object
	for k, v := range m.files {
		if strings.HasPrefix(k, prefix) {
			out = append(out, storage.Object{Key: k, Size: int64(len(v)), LastModified: m.modified[k]})
		}
	}
	return out, nil
}

func (m *mockStorage) Stat(ctx context.Context, key string) (storage.Object, error) {
	if m.statErr != nil {
		return storage.Object{}, m.statErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[key]
	if !ok {
		return storage.Object{}, &storage.StorageError{Op: "stat", Path: key, Err: storage.ErrNotFound}
	}
	return storage.Object{Key: key, Size: int64(len(data)), LastModified: m.modified[key]}, nil
}

func (m *mockStorage) Upload(ctx context.Context, key, localPath string) error {
	if m.uploadErr != nil {
		return m.uploadErr
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	m.put(key, data)
	return nil
}

func (m *mockStorage) Download(ctx context.Context, key, localPath string) error {
	r, err := m.Read(ctx, key)
	if err != nil {
		return err
	}
	data, _ := io.ReadAll(r)
	return os.WriteFile(localPath, data, 0644)
}

// storeDump puts content under id+ext together with a matching manifest.
func storeDump(store *mockStorage, id, ext string, content []byte, ts time.Time) *manifest.Manifest {
	key := id + ext
	store.put(key, content)

	sum, _ := manifest.Checksum(bytes.NewReader(content))
	m := manifest.New(id, manifest.DatabaseInfo{Name: "shop", Driver: "sqlite"}, ts)
	m.SetDumpInfo(int64(len(content)), int64(len(content)), time.Second, sum)
	m.AddFile(key)
	m.AddFile(manifest.Path(id))

	data, err := m.ToJSON()
	if err != nil {
		panic(fmt.Sprintf("marshal manifest: %v", err))
	}
	store.put(manifest.Path(id), data)
	return m
}

var errBoom = errors.New("boom")
