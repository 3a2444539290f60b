package tools

import (
	"log/slog"
	"time"

	"github.com/localrivet/datadumper/internal/backup"
	"github.com/localrivet/datadumper/internal/config"
	"github.com/localrivet/datadumper/internal/restore"
	"github.com/localrivet/datadumper/internal/storage"
)

// ToolContext is shared by every tool handler. The engines are long-lived so
// dump_status sees the scheduler's runs.
type ToolContext struct {
	Config   *config.Config
	Storage  storage.Backend
	Dumps    *backup.Engine
	Restores *restore.Engine
	Logger   *slog.Logger

	Now func() time.Time
}

func (c *ToolContext) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}
