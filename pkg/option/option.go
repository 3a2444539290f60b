// Package option holds the settings that drive a dump or a restore.
package option

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/go-viper/mapstructure/v2"
)

// Option is the full set of dump and restore settings. Known keys decode
// into typed fields; anything else lands in Extra.
type Option struct {
	Compress            string            `mapstructure:"compress"`
	DefaultCharacterSet string            `mapstructure:"default_character_set"`
	Where               string            `mapstructure:"where"`
	NetBufferLength     int               `mapstructure:"net_buffer_length"`
	IncludeTables       []string          `mapstructure:"include_tables"`
	ExcludeTables       []string          `mapstructure:"exclude_tables"`
	IncludeViews        []string          `mapstructure:"include_views"`
	NoData              bool              `mapstructure:"no_data"`
	NoDataTables        []string          `mapstructure:"no_data_tables"`
	TableWheres         map[string]string `mapstructure:"table_wheres"`
	TableLimits         map[string]int    `mapstructure:"table_limits"`
	Message             string            `mapstructure:"message"`

	IfNotExists             bool `mapstructure:"if_not_exists"`
	ResetAutoIncrement      bool `mapstructure:"reset_auto_increment"`
	AddDropDatabase         bool `mapstructure:"add_drop_database"`
	AddDropTable            bool `mapstructure:"add_drop_table"`
	AddDropTrigger          bool `mapstructure:"add_drop_trigger"`
	AddLocks                bool `mapstructure:"add_locks"`
	CompleteInsert          bool `mapstructure:"complete_insert"`
	Databases               bool `mapstructure:"databases"`
	DisableKeys             bool `mapstructure:"disable_keys"`
	ExtendedInsert          bool `mapstructure:"extended_insert"`
	Events                  bool `mapstructure:"events"`
	HexBlob                 bool `mapstructure:"hex_blob"`
	InsertIgnore            bool `mapstructure:"insert_ignore"`
	NoAutocommit            bool `mapstructure:"no_autocommit"`
	NoCreateDB              bool `mapstructure:"no_create_db"`
	NoCreateInfo            bool `mapstructure:"no_create_info"`
	LockTables              bool `mapstructure:"lock_tables"`
	Routines                bool `mapstructure:"routines"`
	SingleTransaction       bool `mapstructure:"single_transaction"`
	SkipTriggers            bool `mapstructure:"skip_triggers"`
	SkipTzUTC               bool `mapstructure:"skip_tz_utc"`
	SkipComments            bool `mapstructure:"skip_comments"`
	SkipDumpDate            bool `mapstructure:"skip_dump_date"`
	SkipDefiner             bool `mapstructure:"skip_definer"`
	DisableForeignKeysCheck bool `mapstructure:"disable_foreign_keys_check"`

	// InitCommands are session statements run before any dump or restore
	// work. They are derived once, at construction.
	InitCommands []string `mapstructure:"-"`

	// Extra holds keys with no typed field, readable through Get.
	Extra map[string]any `mapstructure:"-"`
}

// Default returns an Option populated with the built-in defaults and its
// derived fields.
func Default() *Option {
	o := &Option{
		Compress:            "none",
		DefaultCharacterSet: "utf8",
		NetBufferLength:     1000000,
		AddDropTrigger:      true,
		AddLocks:            true,
		DisableKeys:         true,
		ExtendedInsert:      true,
		HexBlob:             true,
		NoAutocommit:        true,
		LockTables:          true,
		SingleTransaction:   true,
		TableWheres:         map[string]string{},
		TableLimits:         map[string]int{},
		Extra:               map[string]any{},
	}
	o.derive(false)
	return o
}

// New builds an Option from defaults overlaid with values. Derived fields
// are computed from the merged result and not recomputed by later Set calls.
func New(values map[string]any) (*Option, error) {
	o := Default()
	_, viewsGiven := values["include_views"]
	if err := o.Set(values); err != nil {
		return nil, err
	}
	o.derive(viewsGiven)
	return o, nil
}

func (o *Option) derive(viewsGiven bool) {
	o.InitCommands = []string{"SET NAMES " + o.DefaultCharacterSet}
	if !o.SkipTzUTC {
		o.InitCommands = append(o.InitCommands, "SET TIME_ZONE='+00:00'")
	}
	if !viewsGiven {
		o.IncludeViews = slices.Clone(o.IncludeTables)
	}
}

// Set patches the option with values. Unknown keys are kept in Extra. On
// error the option is left as it was.
func (o *Option) Set(values map[string]any) error {
	if len(values) == 0 {
		return nil
	}
	in := maps.Clone(values)

	// no_data accepts either a flag or a list of table names.
	if v, ok := in["no_data"]; ok {
		switch v.(type) {
		case bool, string, int:
		default:
			in["no_data_tables"] = v
			delete(in, "no_data")
		}
	}

	next := o.Clone()
	var md mapstructure.Metadata
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           next,
		Metadata:         &md,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return fmt.Errorf("failed to create option decoder: %w", err)
	}
	if err := dec.Decode(in); err != nil {
		return fmt.Errorf("invalid option: %w", err)
	}

	if next.NetBufferLength <= 0 {
		return fmt.Errorf("invalid option: net_buffer_length must be positive, got %d", next.NetBufferLength)
	}

	if next.Extra == nil {
		next.Extra = map[string]any{}
	}
	for _, key := range md.Unused {
		next.Extra[key] = in[key]
	}
	if _, ok := in["message"]; ok {
		next.Message = normalizeMessage(next.Message)
	}
	*o = *next
	return nil
}

// Get returns an Extra value by key.
func (o *Option) Get(key string) (any, bool) {
	v, ok := o.Extra[key]
	return v, ok
}

// Clone returns a deep copy.
func (o *Option) Clone() *Option {
	c := *o
	c.IncludeTables = slices.Clone(o.IncludeTables)
	c.ExcludeTables = slices.Clone(o.ExcludeTables)
	c.IncludeViews = slices.Clone(o.IncludeViews)
	c.NoDataTables = slices.Clone(o.NoDataTables)
	c.InitCommands = slices.Clone(o.InitCommands)
	c.TableWheres = maps.Clone(o.TableWheres)
	c.TableLimits = maps.Clone(o.TableLimits)
	c.Extra = maps.Clone(o.Extra)
	return &c
}

// normalizeMessage prefixes every line of msg with an SQL comment marker.
func normalizeMessage(msg string) string {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return ""
	}
	lines := strings.Split(msg, "\n")
	for i, l := range lines {
		l = strings.TrimRight(l, "\r")
		if !strings.HasPrefix(l, "--") {
			l = "-- " + l
		}
		lines[i] = l
	}
	return strings.Join(lines, "\n")
}
