package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var testDB = DatabaseInfo{Name: "shop", Host: "localhost", Version: "8.0.36", Driver: "mysql"}

func TestNew(t *testing.T) {
	ts := time.Date(2024, 1, 15, 14, 30, 45, 0, time.FixedZone("CET", 3600))
	m := New("dump-001", testDB, ts)

	if m.ID != "dump-001" {
		t.Errorf("ID = %v, want dump-001", m.ID)
	}
	if m.Database != testDB {
		t.Errorf("Database = %+v, want %+v", m.Database, testDB)
	}
	if m.Type != "daily" {
		t.Errorf("Type = %v, want daily", m.Type)
	}
	if m.Dump.Format != "sql" {
		t.Errorf("Dump.Format = %v, want sql", m.Dump.Format)
	}
	if m.Timestamp.Location() != time.UTC || !m.Timestamp.Equal(ts) {
		t.Errorf("Timestamp = %v, want %v in UTC", m.Timestamp, ts)
	}
}

func TestManifest_SetDumpInfoAndContents(t *testing.T) {
	m := New("dump-001", testDB, time.Now())
	m.SetDumpInfo(1024, 512, 5*time.Second, "sha256:abc123")
	m.SetContents(4, 1, 1200)

	if m.Dump.SizeBytes != 1024 {
		t.Errorf("SizeBytes = %v, want 1024", m.Dump.SizeBytes)
	}
	if m.Dump.CompressedSize != 512 {
		t.Errorf("CompressedSize = %v, want 512", m.Dump.CompressedSize)
	}
	if m.Dump.DurationSeconds != 5.0 {
		t.Errorf("DurationSeconds = %v, want 5.0", m.Dump.DurationSeconds)
	}
	if m.Dump.Checksum != "sha256:abc123" {
		t.Errorf("Checksum = %v, want sha256:abc123", m.Dump.Checksum)
	}
	if m.Dump.Tables != 4 || m.Dump.Views != 1 || m.Dump.Rows != 1200 {
		t.Errorf("contents = %d/%d/%d, want 4/1/1200", m.Dump.Tables, m.Dump.Views, m.Dump.Rows)
	}
}

func TestManifest_SetRetention(t *testing.T) {
	m := New("dump-001", testDB, time.Now())

	keepUntil := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	m.SetRetention(keepUntil, "monthly")

	if !m.Retention.KeepUntil.Equal(keepUntil) {
		t.Errorf("KeepUntil = %v, want %v", m.Retention.KeepUntil, keepUntil)
	}
	if m.Retention.Policy != "monthly" {
		t.Errorf("Policy = %v, want monthly", m.Retention.Policy)
	}
	if m.Type != "monthly" {
		t.Errorf("Type = %v, want monthly", m.Type)
	}
}

func TestManifest_DataFile(t *testing.T) {
	m := New("dump-001", testDB, time.Now())
	if m.DataFile() != "" {
		t.Errorf("DataFile() = %v, want empty", m.DataFile())
	}

	m.AddFile(Path("dump-001"))
	m.AddFile("dump-001.sql.gz")

	if m.DataFile() != "dump-001.sql.gz" {
		t.Errorf("DataFile() = %v, want dump-001.sql.gz", m.DataFile())
	}
}

func TestParse(t *testing.T) {
	data := `{
		"id": "dump-001",
		"timestamp": "2024-01-15T12:00:00Z",
		"type": "weekly",
		"database": {"name": "shop", "host": "db", "version": "15.0", "driver": "postgres"},
		"dump": {
			"format": "sql",
			"compression": "zstd",
			"size_bytes": 1024,
			"compressed_size_bytes": 512,
			"duration_seconds": 5.0,
			"checksum": "sha256:abc123",
			"tables": 3,
			"rows": 99
		},
		"files": ["dump-001.sql.zst", "dump-001.meta.json"],
		"retention": {"keep_until": "2024-12-31T00:00:00Z", "policy": "weekly"}
	}`

	m, err := Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if m.Database.Driver != "postgres" {
		t.Errorf("Database.Driver = %v, want postgres", m.Database.Driver)
	}
	if m.Dump.Compression != "zstd" {
		t.Errorf("Dump.Compression = %v, want zstd", m.Dump.Compression)
	}
	if m.Dump.Rows != 99 {
		t.Errorf("Dump.Rows = %v, want 99", m.Dump.Rows)
	}
	if m.DataFile() != "dump-001.sql.zst" {
		t.Errorf("DataFile() = %v, want dump-001.sql.zst", m.DataFile())
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"broken json", `{invalid json{{{`},
		{"missing id", `{"type": "daily"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.data)); err == nil {
				t.Error("Parse() should error")
			}
		})
	}
}

func TestManifest_RoundTrip(t *testing.T) {
	original := New("dump-test", testDB, time.Date(2024, 6, 1, 2, 0, 0, 0, time.UTC))
	original.SetDumpInfo(2048, 1024, 15*time.Second, "sha256:xyz789")
	original.SetRetention(time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC), "weekly")
	original.AddFile("dump-test.sql.gz")

	data, err := original.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON() error: %v", err)
	}
	parsed, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	if parsed.Dump != original.Dump {
		t.Errorf("Dump = %+v, want %+v", parsed.Dump, original.Dump)
	}
	if parsed.Type != "weekly" {
		t.Errorf("Type = %v, want weekly", parsed.Type)
	}
	if !parsed.Timestamp.Equal(original.Timestamp) {
		t.Errorf("Timestamp = %v, want %v", parsed.Timestamp, original.Timestamp)
	}
}

func TestCalculateChecksum(t *testing.T) {
	dir := t.TempDir()
	file1 := filepath.Join(dir, "a.sql")
	file2 := filepath.Join(dir, "b.sql")
	os.WriteFile(file1, []byte("content 1"), 0644)
	os.WriteFile(file2, []byte("content 2"), 0644)

	sum1, err := CalculateChecksum(file1)
	if err != nil {
		t.Fatalf("CalculateChecksum() error: %v", err)
	}
	if !strings.HasPrefix(sum1, "sha256:") || len(sum1) != len("sha256:")+64 {
		t.Errorf("CalculateChecksum() = %v, want sha256:<64 hex>", sum1)
	}

	again, _ := CalculateChecksum(file1)
	if sum1 != again {
		t.Errorf("Checksum should be consistent, got %v and %v", sum1, again)
	}

	sum2, _ := CalculateChecksum(file2)
	if sum1 == sum2 {
		t.Error("Different content should produce different checksums")
	}

	fromReader, err := Checksum(strings.NewReader("content 1"))
	if err != nil {
		t.Fatalf("Checksum() error: %v", err)
	}
	if fromReader != sum1 {
		t.Errorf("Checksum() = %v, want %v", fromReader, sum1)
	}
}

func TestCalculateChecksum_FileNotFound(t *testing.T) {
	if _, err := CalculateChecksum("/nonexistent/file.sql"); err == nil {
		t.Error("CalculateChecksum() should error when file doesn't exist")
	}
}

func TestGenerateID(t *testing.T) {
	ts := time.Date(2024, 1, 15, 14, 30, 45, 0, time.UTC)
	if got := GenerateID(ts); got != "dump_20240115_143045" {
		t.Errorf("GenerateID() = %v, want dump_20240115_143045", got)
	}
	if GenerateID(ts) == GenerateID(ts.Add(time.Second)) {
		t.Error("Different times should produce different IDs")
	}
	if got := Path("dump_20240115_143045"); got != "dump_20240115_143045.meta.json" {
		t.Errorf("Path() = %v, want dump_20240115_143045.meta.json", got)
	}
}
