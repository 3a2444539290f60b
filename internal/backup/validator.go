package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/localrivet/datadumper/internal/storage"
	"github.com/localrivet/datadumper/pkg/compress"
	"github.com/localrivet/datadumper/pkg/dumper"
	"github.com/localrivet/datadumper/pkg/manifest"
)

// Validator checks a stored dump against its manifest without touching a
// database.
type Validator struct {
	storage storage.Backend
	logger  *slog.Logger
}

func NewValidator(store storage.Backend, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{storage: store, logger: logger}
}

type ValidationResult struct {
	DumpID     string
	Valid      bool
	FileExists bool
	SizeMatch  bool
	ChecksumOK bool
	Parsed     bool
	Statements int
	Errors     []string
}

func (r *ValidationResult) fail(format string, args ...any) {
	r.Valid = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Validate downloads the dump named by m, compares its size and checksum,
// then decompresses it and splits it into statements. Problems with the
// dump itself are reported in the result; the error is reserved for
// storage failures.
func (v *Validator) Validate(ctx context.Context, m *manifest.Manifest) (*ValidationResult, error) {
	result := &ValidationResult{DumpID: m.ID, Valid: true}

	file := m.DataFile()
	if file == "" {
		result.fail("no dump file listed in manifest")
		return result, nil
	}

	obj, err := v.storage.Stat(ctx, file)
	if errors.Is(err, storage.ErrNotFound) {
		result.fail("dump file %s does not exist", file)
		return result, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat dump file: %w", err)
	}
	result.FileExists = true

	result.SizeMatch = obj.Size == m.Dump.CompressedSize
	if !result.SizeMatch {
		result.fail("size mismatch: expected %d, got %d", m.Dump.CompressedSize, obj.Size)
	}

	tmpDir, err := os.MkdirTemp("", "datadumper-verify-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	local := filepath.Join(tmpDir, path.Base(file))
	if err := v.storage.Download(ctx, file, local); err != nil {
		return nil, fmt.Errorf("failed to download dump file: %w", err)
	}

	if m.Dump.Checksum != "" {
		sum, err := manifest.CalculateChecksum(local)
		if err != nil {
			return nil, err
		}
		result.ChecksumOK = sum == m.Dump.Checksum
		if !result.ChecksumOK {
			result.fail("checksum mismatch: expected %s, got %s", m.Dump.Checksum, sum)
		}
	} else {
		result.ChecksumOK = true
	}

	n, err := countStatements(local)
	result.Statements = n
	if err != nil {
		result.fail("dump is not readable: %v", err)
		return result, nil
	}
	result.Parsed = true
	if n == 0 {
		result.fail("dump contains no statements")
	}

	v.logger.Debug("dump validated",
		"id", m.ID,
		"valid", result.Valid,
		"statements", result.Statements,
	)
	return result, nil
}

// countStatements decodes the dump at path and counts its statements. A
// trailing statement without a terminator means the dump was cut short.
func countStatements(path string) (int, error) {
	kind, err := compress.ForExtension(path)
	if err != nil {
		return 0, err
	}
	codec, err := compress.New(kind)
	if err != nil {
		return 0, err
	}
	if err := codec.Open(path, compress.ModeRead); err != nil {
		return 0, err
	}
	defer codec.Close()

	n := 0
	scanner := dumper.NewStatementScanner(codec)
	for scanner.Scan() {
		n++
	}
	if err := scanner.Err(); err != nil {
		return n, err
	}
	if rest := scanner.Pending(); rest != "" {
		return n, fmt.Errorf("unterminated statement after %d statement(s)", n)
	}
	return n, nil
}
