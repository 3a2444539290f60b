package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/localrivet/datadumper/internal/restore"
	"github.com/localrivet/datadumper/pkg/manifest"
)

type EmptyInput struct{}

type DumpNowInput struct {
	IncludeTables []string `json:"include_tables,omitempty" jsonschema:"Only dump these tables; /regex/ entries are patterns"`
	ExcludeTables []string `json:"exclude_tables,omitempty" jsonschema:"Skip these tables; /regex/ entries are patterns"`
	NoData        bool     `json:"no_data,omitempty" jsonschema:"Dump schema only"`
	Message       string   `json:"message,omitempty" jsonschema:"Comment written into the dump header"`
}

func (in DumpNowInput) overrides() map[string]any {
	values := map[string]any{}
	if len(in.IncludeTables) > 0 {
		values["include_tables"] = in.IncludeTables
	}
	if len(in.ExcludeTables) > 0 {
		values["exclude_tables"] = in.ExcludeTables
	}
	if in.NoData {
		values["no_data"] = true
	}
	if in.Message != "" {
		values["message"] = in.Message
	}
	return values
}

type DumpNowOutput struct {
	DumpID         string `json:"dump_id"`
	Timestamp      string `json:"timestamp"`
	Database       string `json:"database"`
	SizeBytes      int64  `json:"size_bytes"`
	CompressedSize int64  `json:"compressed_size"`
	DurationMs     int64  `json:"duration_ms"`
	Checksum       string `json:"checksum"`
	Tables         int    `json:"tables"`
	Views          int    `json:"views"`
	Rows           int64  `json:"rows"`
	Tier           string `json:"tier"`
	Verified       bool   `json:"verified"`
}

type ListDumpsInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"Maximum number of dumps to return (default: 20)"`
}

type DumpItem struct {
	ID             string `json:"id"`
	Timestamp      string `json:"timestamp"`
	Database       string `json:"database"`
	Driver         string `json:"driver"`
	Compression    string `json:"compression"`
	CompressedSize int64  `json:"compressed_size"`
	Tier           string `json:"tier"`
	Checksum       string `json:"checksum"`
}

type ListDumpsOutput struct {
	Count int        `json:"count"`
	Dumps []DumpItem `json:"dumps"`
}

type DumpIDInput struct {
	DumpID string `json:"dump_id" jsonschema:"The dump ID, e.g. dump_20240305_020000"`
}

type GetDumpOutput struct {
	ID        string                `json:"id"`
	Timestamp string                `json:"timestamp"`
	Tier      string                `json:"tier"`
	Database  manifest.DatabaseInfo `json:"database"`
	Dump      manifest.DumpInfo     `json:"dump"`
	Files     []string              `json:"files"`
	KeepUntil string                `json:"keep_until"`
}

type RestoreDumpInput struct {
	DumpID   string `json:"dump_id" jsonschema:"The dump ID to restore from"`
	TargetDB string `json:"target_db,omitempty" jsonschema:"Database name, or file path for SQLite, to restore into"`
	DryRun   bool   `json:"dry_run,omitempty" jsonschema:"Check the dump without touching any database"`
	Force    bool   `json:"force,omitempty" jsonschema:"Required to restore over the configured database"`
}

type RestoreDumpOutput struct {
	DumpID        string `json:"dump_id"`
	TargetDB      string `json:"target_db"`
	Success       bool   `json:"success"`
	DryRun        bool   `json:"dry_run"`
	ChecksumValid bool   `json:"checksum_valid"`
	Statements    int64  `json:"statements"`
	TablesCreated int    `json:"tables_created"`
	RowsInserted  int64  `json:"rows_inserted"`
	DurationMs    int64  `json:"duration_ms"`
	Snapshot      string `json:"snapshot,omitempty"`
}

type DumpStatusOutput struct {
	Status       string `json:"status"`
	Running      bool   `json:"running"`
	TotalDumps   int    `json:"total_dumps"`
	StorageBytes int64  `json:"storage_bytes"`
	LastDump     string `json:"last_dump,omitempty"`
	LastRun      string `json:"last_run,omitempty"`
	LastError    string `json:"last_error,omitempty"`
}

type CleanupOutput struct {
	DeletedCount int    `json:"deleted_count"`
	Message      string `json:"message"`
}

type VerifyDumpOutput struct {
	DumpID     string   `json:"dump_id"`
	Valid      bool     `json:"valid"`
	FileExists bool     `json:"file_exists"`
	SizeMatch  bool     `json:"size_match"`
	ChecksumOK bool     `json:"checksum_ok"`
	Parsed     bool     `json:"parsed"`
	Statements int      `json:"statements"`
	Errors     []string `json:"errors,omitempty"`
}

func dumpItem(m *manifest.Manifest) DumpItem {
	return DumpItem{
		ID:             m.ID,
		Timestamp:      m.Timestamp.Format(time.RFC3339),
		Database:       m.Database.Name,
		Driver:         m.Database.Driver,
		Compression:    m.Dump.Compression,
		CompressedSize: m.Dump.CompressedSize,
		Tier:           m.Type,
		Checksum:       m.Dump.Checksum,
	}
}

// RegisterDumpTools adds the dump, restore and housekeeping tools to server.
func RegisterDumpTools(server *mcp.Server, tc *ToolContext) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "dump_now",
		Description: "Dump the configured database to storage immediately",
	}, tc.dumpNow)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_dumps",
		Description: "List stored dumps, newest first",
	}, tc.listDumps)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_dump",
		Description: "Get the manifest of a stored dump",
	}, tc.getDump)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "restore_dump",
		Description: "Replay a stored dump into a database. Use with caution!",
	}, tc.restoreDump)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "dump_status",
		Description: "Report dump freshness, storage use and the last run",
	}, tc.dumpStatus)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "cleanup_dumps",
		Description: "Delete dumps that fall outside the retention policy",
	}, tc.cleanupDumps)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "verify_dump",
		Description: "Check a stored dump's size, checksum and statement stream",
	}, tc.verifyDump)
}

func (tc *ToolContext) dumpNow(ctx context.Context, _ *mcp.CallToolRequest, in DumpNowInput) (*mcp.CallToolResult, DumpNowOutput, error) {
	result, err := tc.Dumps.RunWith(ctx, in.overrides())
	if err != nil {
		return nil, DumpNowOutput{}, err
	}
	return nil, DumpNowOutput{
		DumpID:         result.ID,
		Timestamp:      result.Timestamp.Format(time.RFC3339),
		Database:       result.Database,
		SizeBytes:      result.Size,
		CompressedSize: result.CompressedSize,
		DurationMs:     result.Duration.Milliseconds(),
		Checksum:       result.Checksum,
		Tables:         result.Tables,
		Views:          result.Views,
		Rows:           result.Rows,
		Tier:           string(result.Tier),
		Verified:       result.Verified,
	}, nil
}

func (tc *ToolContext) listDumps(ctx context.Context, _ *mcp.CallToolRequest, in ListDumpsInput) (*mcp.CallToolResult, ListDumpsOutput, error) {
	limit := in.Limit
	if limit <= 0 {
		limit = 20
	}

	dumps, err := tc.Dumps.ListDumps(ctx)
	if err != nil {
		return nil, ListDumpsOutput{}, err
	}
	if len(dumps) > limit {
		dumps = dumps[:limit]
	}

	items := make([]DumpItem, len(dumps))
	for i, m := range dumps {
		items[i] = dumpItem(m)
	}
	return nil, ListDumpsOutput{Count: len(items), Dumps: items}, nil
}

func (tc *ToolContext) getDump(ctx context.Context, _ *mcp.CallToolRequest, in DumpIDInput) (*mcp.CallToolResult, GetDumpOutput, error) {
	m, err := tc.Dumps.GetDump(ctx, in.DumpID)
	if err != nil {
		return nil, GetDumpOutput{}, err
	}
	return nil, GetDumpOutput{
		ID:        m.ID,
		Timestamp: m.Timestamp.Format(time.RFC3339),
		Tier:      m.Type,
		Database:  m.Database,
		Dump:      m.Dump,
		Files:     m.Files,
		KeepUntil: m.Retention.KeepUntil.Format(time.RFC3339),
	}, nil
}

func (tc *ToolContext) restoreDump(ctx context.Context, _ *mcp.CallToolRequest, in RestoreDumpInput) (*mcp.CallToolResult, RestoreDumpOutput, error) {
	result, err := tc.Restores.Restore(ctx, restore.Options{
		DumpID:   in.DumpID,
		TargetDB: in.TargetDB,
		DryRun:   in.DryRun,
		Force:    in.Force,
	})
	if err != nil {
		return nil, RestoreDumpOutput{}, err
	}
	return nil, RestoreDumpOutput{
		DumpID:        result.DumpID,
		TargetDB:      result.TargetDB,
		Success:       result.Success,
		DryRun:        in.DryRun,
		ChecksumValid: result.ChecksumValid,
		Statements:    result.Statements,
		TablesCreated: result.TablesCreated,
		RowsInserted:  result.RowsInserted,
		DurationMs:    result.Duration.Milliseconds(),
		Snapshot:      result.Snapshot,
	}, nil
}

func (tc *ToolContext) dumpStatus(ctx context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, DumpStatusOutput, error) {
	dumps, err := tc.Dumps.ListDumps(ctx)
	if err != nil {
		return nil, DumpStatusOutput{}, err
	}

	out := DumpStatusOutput{
		Running:    tc.Dumps.Running(),
		TotalDumps: len(dumps),
	}

	var last time.Time
	for _, m := range dumps {
		out.StorageBytes += m.Dump.CompressedSize
		if m.Timestamp.After(last) {
			last = m.Timestamp
		}
	}

	switch {
	case len(dumps) == 0:
		out.Status = "warning: no dumps found"
	case tc.now().Sub(last) > tc.Config.AlertDuration():
		out.Status = "warning: dump overdue"
	default:
		out.Status = "healthy"
	}

	if !last.IsZero() {
		out.LastDump = last.Format(time.RFC3339)
	}
	if run := tc.Dumps.LastRun(); !run.IsZero() {
		out.LastRun = run.Format(time.RFC3339)
	}
	if err := tc.Dumps.LastError(); err != nil {
		out.LastError = err.Error()
	}
	return nil, out, nil
}

func (tc *ToolContext) cleanupDumps(ctx context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, CleanupOutput, error) {
	n, err := tc.Dumps.Cleanup(ctx)
	if err != nil {
		return nil, CleanupOutput{}, err
	}
	return nil, CleanupOutput{
		DeletedCount: n,
		Message:      fmt.Sprintf("Removed %d expired dump(s)", n),
	}, nil
}

func (tc *ToolContext) verifyDump(ctx context.Context, _ *mcp.CallToolRequest, in DumpIDInput) (*mcp.CallToolResult, VerifyDumpOutput, error) {
	result, err := tc.Dumps.Verify(ctx, in.DumpID)
	if err != nil {
		return nil, VerifyDumpOutput{}, err
	}
	return nil, VerifyDumpOutput{
		DumpID:     in.DumpID,
		Valid:      result.Valid,
		FileExists: result.FileExists,
		SizeMatch:  result.SizeMatch,
		ChecksumOK: result.ChecksumOK,
		Parsed:     result.Parsed,
		Statements: result.Statements,
		Errors:     result.Errors,
	}, nil
}
