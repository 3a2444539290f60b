package dialect

import (
	"context"

	"github.com/localrivet/datadumper/pkg/option"
)

// Base supplies the no-op defaults for optional capabilities. Concrete
// adapters embed it and override what their database supports.
type Base struct {
	q   Querier
	opt *option.Option
}

func (b Base) Option() *option.Option { return b.opt }

func (Base) InitCommands() []string { return nil }

func (Base) ShowProcedures(string) string { return "" }
func (Base) ShowFunctions(string) string  { return "" }
func (Base) ShowEvents(string) string     { return "" }

func (Base) ShowCreateTrigger(string) string   { return "" }
func (Base) ShowCreateProcedure(string) string { return "" }
func (Base) ShowCreateFunction(string) string  { return "" }
func (Base) ShowCreateEvent(string) string     { return "" }

func (Base) CreateTrigger(Row) (string, error)   { return "", nil }
func (Base) CreateProcedure(Row) (string, error) { return "", nil }
func (Base) CreateFunction(Row) (string, error)  { return "", nil }
func (Base) CreateEvent(Row) (string, error)     { return "", nil }

// Indexes, foreign keys and sequences default to being part of the table
// definition.
func (Base) ShowIndexes(string) string            { return "" }
func (Base) ShowForeignKeys(string) string        { return "" }
func (Base) ShowSequences(string) string          { return "" }
func (Base) CreateIndex(Row) (string, error)      { return "", nil }
func (Base) CreateForeignKey(Row) (string, error) { return "", nil }
func (Base) ResetSequence(string, string) string  { return "" }

// DatabaseHeader is a comment block naming the database being dumped.
func (Base) DatabaseHeader(database string) string {
	if database == "" {
		return ""
	}
	return "--\n-- Current Database: `" + database + "`\n--\n\n"
}

func (Base) CreateDatabase(context.Context, string) (string, error) { return "", nil }

func (Base) DropDatabase(string) string { return "" }
func (Base) DropTrigger(string) string  { return "" }

func (Base) BackupParameters() string  { return "" }
func (Base) RestoreParameters() string { return "" }

func (Base) SetupTransaction() string { return "" }

func (Base) LockTable(context.Context, string) error   { return nil }
func (Base) UnlockTable(context.Context, string) error { return nil }

func (Base) StartAddLockTable(string) string { return "" }
func (Base) EndAddLockTable(string) string   { return "" }
func (Base) StartDisableKeys(string) string  { return "" }
func (Base) EndDisableKeys(string) string    { return "" }
func (Base) StartDisableAutocommit() string  { return "" }
func (Base) EndDisableAutocommit() string    { return "" }

func (Base) ForeignKeyChecks(bool) string { return "" }

func (Base) InsertPrefix(bool) string { return "INSERT INTO" }
func (Base) InsertSuffix(bool) string { return "" }
