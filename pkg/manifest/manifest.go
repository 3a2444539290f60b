// Package manifest describes a stored dump: where it came from, how it was
// written and how long it is kept.
package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// Suffix is appended to a dump ID to name its manifest file.
const Suffix = ".meta.json"

type Manifest struct {
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	Type      string        `json:"type"`
	Database  DatabaseInfo  `json:"database"`
	Dump      DumpInfo      `json:"dump"`
	Files     []string      `json:"files"`
	Retention RetentionInfo `json:"retention"`
}

type DatabaseInfo struct {
	Name    string `json:"name"`
	Host    string `json:"host"`
	Version string `json:"version"`
	Driver  string `json:"driver"`
}

type DumpInfo struct {
	Format          string  `json:"format"`
	Compression     string  `json:"compression"`
	SizeBytes       int64   `json:"size_bytes"`
	CompressedSize  int64   `json:"compressed_size_bytes"`
	DurationSeconds float64 `json:"duration_seconds"`
	Checksum        string  `json:"checksum"`
	Tables          int     `json:"tables"`
	Views           int     `json:"views"`
	Rows            int64   `json:"rows"`
}

type RetentionInfo struct {
	KeepUntil time.Time `json:"keep_until"`
	Policy    string    `json:"policy"`
}

func New(id string, db DatabaseInfo, timestamp time.Time) *Manifest {
	return &Manifest{
		ID:        id,
		Timestamp: timestamp.UTC(),
		Type:      "daily",
		Database:  db,
		Dump: DumpInfo{
			Format:      "sql",
			Compression: "none",
		},
		Files: make([]string, 0),
	}
}

// SetDumpInfo records the sizes, timing and checksum of the written file.
func (m *Manifest) SetDumpInfo(sizeBytes, compressedSize int64, duration time.Duration, checksum string) {
	m.Dump.SizeBytes = sizeBytes
	m.Dump.CompressedSize = compressedSize
	m.Dump.DurationSeconds = duration.Seconds()
	m.Dump.Checksum = checksum
}

func (m *Manifest) SetContents(tables, views int, rows int64) {
	m.Dump.Tables = tables
	m.Dump.Views = views
	m.Dump.Rows = rows
}

func (m *Manifest) SetRetention(keepUntil time.Time, policy string) {
	m.Retention.KeepUntil = keepUntil
	m.Retention.Policy = policy
	m.Type = policy
}

func (m *Manifest) AddFile(filename string) {
	m.Files = append(m.Files, filename)
}

// DataFile returns the first stored file that is not the manifest itself.
func (m *Manifest) DataFile() string {
	for _, f := range m.Files {
		if !strings.HasSuffix(f, Suffix) {
			return f
		}
	}
	return ""
}

func (m *Manifest) ToJSON() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if m.ID == "" {
		return nil, fmt.Errorf("failed to parse manifest: missing id")
	}
	return &m, nil
}

func CalculateChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file for checksum: %w", err)
	}
	defer f.Close()
	return Checksum(f)
}

// Checksum hashes r in the "sha256:<hex>" form stored in manifests.
func Checksum(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("failed to calculate checksum: %w", err)
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}

func GenerateID(timestamp time.Time) string {
	return fmt.Sprintf("dump_%s", timestamp.UTC().Format("20060102_150405"))
}

// Path names the manifest file for a dump ID.
func Path(id string) string {
	return id + Suffix
}
