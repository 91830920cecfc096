package domain

import (
	"fmt"
	"time"
)

// Config is the explicit configuration value handed to each component's
// constructor. It is loaded once per process by the config adapter; nothing
// reads configuration from package state.
type Config struct {
	// Dataset names the target dataset (one upstream listing).
	Dataset string `toml:"dataset" validate:"required"`

	Store      StoreConfig      `toml:"store"`
	Upstream   UpstreamConfig   `toml:"upstream"`
	Fetch      FetchConfig      `toml:"fetch"`
	Sync       SyncConfig       `toml:"sync"`
	Detector   DetectorConfig   `toml:"detector"`
	Processing ProcessingConfig `toml:"processing"`
	Scheduler  SchedulerConfig  `toml:"scheduler"`
	Logging    LoggingConfig    `toml:"logging"`
}

// StoreConfig selects and configures the persistent store.
type StoreConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `toml:"driver" validate:"oneof=sqlite postgres"`

	// DataDir holds the SQLite database. Defaults to ~/.harvest/data.
	DataDir string `toml:"data_dir"`

	// DSN is the Postgres connection string.
	DSN string `toml:"dsn" validate:"required_if=Driver postgres"`

	// MaxConns caps the Postgres pool.
	MaxConns int `toml:"max_conns" validate:"gte=0"`

	// LockTTL is how long a run lock lease lives without a heartbeat.
	LockTTL Duration `toml:"lock_ttl"`
}

// UpstreamConfig describes the external paginated listing endpoint.
type UpstreamConfig struct {
	// BaseURL is the listing endpoint.
	BaseURL string `toml:"base_url" validate:"required,url"`

	// Query holds fixed query parameters sent with every page.
	Query map[string]string `toml:"query"`

	// PageParam is the query parameter carrying the page number.
	PageParam string `toml:"page_param" validate:"required"`

	// SizeParam is the query parameter carrying the page size.
	SizeParam string `toml:"size_param" validate:"required"`

	// FirstPage is the upstream's first page number (0 or 1).
	FirstPage int `toml:"first_page" validate:"gte=0,lte=1"`

	// RecordsPath is the dotted path to the record array in a page payload.
	// Empty means the payload itself is the array.
	RecordsPath string `toml:"records_path"`

	// TotalPath is the dotted path to the total-count hint. Empty disables
	// the primary termination bound.
	TotalPath string `toml:"total_path"`

	// KeyField is the record field holding the upstream identity key.
	KeyField string `toml:"key_field" validate:"required"`

	// TokenEnv names an environment variable holding a bearer token.
	TokenEnv string `toml:"token_env"`

	// Timeout bounds each request.
	Timeout Duration `toml:"timeout"`

	// RateLimit is the proactive request rate in requests per second (0 = none).
	RateLimit float64 `toml:"rate_limit" validate:"gte=0"`

	// UserAgent is sent with every request.
	UserAgent string `toml:"user_agent"`
}

// FetchConfig tunes the paginated fetcher.
type FetchConfig struct {
	// PageSize is the number of records requested per page.
	PageSize int `toml:"page_size" validate:"gte=1"`

	// Workers bounds concurrent page requests within a chunk.
	Workers int `toml:"workers" validate:"gte=1"`

	// RetryAttempts is the number of tries per page, including the first.
	RetryAttempts int `toml:"retry_attempts" validate:"gte=1"`

	// RetryBaseDelay is the first backoff delay; it doubles per retry.
	RetryBaseDelay Duration `toml:"retry_base_delay"`

	// RetryMaxDelay caps a single backoff delay.
	RetryMaxDelay Duration `toml:"retry_max_delay"`

	// MaxPages is a hard cap on pages per run (0 = no cap).
	MaxPages int `toml:"max_pages" validate:"gte=0"`
}

// SyncConfig tunes the batch checkpoint processor.
type SyncConfig struct {
	// ChunkPages is the number of pages committed per checkpoint.
	ChunkPages int `toml:"chunk_pages" validate:"gte=1"`

	// Limit caps records processed per run (0 = no limit).
	Limit int `toml:"limit" validate:"gte=0"`
}

// DetectorConfig holds the comparison field-set and normalisation rules.
type DetectorConfig struct {
	// Fields is the comparison field-set.
	Fields []FieldSpec `toml:"fields" validate:"dive"`

	// NullValues are sentinels collapsed to absent before comparison.
	NullValues []string `toml:"null_values"`

	// DateLayouts are accepted date formats, tried in order.
	DateLayouts []string `toml:"date_layouts"`
}

// FieldKind selects how a comparison field is normalised.
type FieldKind string

// Field kinds.
const (
	FieldAuto   FieldKind = "auto"
	FieldText   FieldKind = "text"
	FieldNumber FieldKind = "number"
	FieldDate   FieldKind = "date"
	FieldBool   FieldKind = "bool"
)

// FieldSpec is one comparison field.
type FieldSpec struct {
	Name string    `toml:"name" validate:"required"`
	Kind FieldKind `toml:"kind" validate:"omitempty,oneof=auto text number date bool"`
}

// ProcessingConfig tunes downstream per-item processing.
type ProcessingConfig struct {
	// Task names the work recorded on attempts.
	Task string `toml:"task" validate:"required"`

	// DocumentsField is the entity field holding document references.
	// It may be a URL string, one object, or an array of version objects.
	DocumentsField string `toml:"documents_field" validate:"required"`

	// URLField, IDField, CreatedField and MIMEField name the keys inside a
	// document reference object.
	URLField     string `toml:"url_field"`
	IDField      string `toml:"id_field"`
	CreatedField string `toml:"created_field"`
	MIMEField    string `toml:"mime_field"`

	// Workers bounds concurrent items.
	Workers int `toml:"workers" validate:"gte=1"`

	// ItemTimeout bounds one item's fetch and parse.
	ItemTimeout Duration `toml:"item_timeout"`

	// Limit caps items per processing pass (0 = no limit).
	Limit int `toml:"limit" validate:"gte=0"`

	HTML ExtractorConfig `toml:"html"`
	JSON ExtractorConfig `toml:"json"`
}

// ExtractorConfig maps output field names to selectors (CSS for HTML,
// dotted paths for JSON). Required fields must be found or the parse fails
// with EXPECTED_STRUCTURE_MISSING.
type ExtractorConfig struct {
	Fields   map[string]string `toml:"fields"`
	Required []string          `toml:"required"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level      string `toml:"level" validate:"omitempty,oneof=trace debug info warn error"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `toml:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `toml:"max_age_days" validate:"gte=0"`
}

// DefaultConfig returns sensible defaults. Upstream endpoint fields are left
// empty and must come from the config file.
func DefaultConfig() Config {
	return Config{
		Store: StoreConfig{
			Driver:   "sqlite",
			MaxConns: 4,
			LockTTL:  Duration{2 * time.Minute},
		},
		Upstream: UpstreamConfig{
			PageParam:   "page",
			SizeParam:   "page_size",
			FirstPage:   1,
			RecordsPath: "data",
			KeyField:    "id",
			Timeout:     Duration{30 * time.Second},
			UserAgent:   "harvest/1",
		},
		Fetch: FetchConfig{
			PageSize:       50,
			Workers:        4,
			RetryAttempts:  3,
			RetryBaseDelay: Duration{time.Second},
			RetryMaxDelay:  Duration{30 * time.Second},
		},
		Sync: SyncConfig{
			ChunkPages: 20,
		},
		Detector: DetectorConfig{
			NullValues:  []string{"", "null", "none", "n/a", "-"},
			DateLayouts: []string{time.RFC3339, "2006-01-02", "2006-01-02 15:04:05", "02/01/2006", "02.01.2006"},
		},
		Processing: ProcessingConfig{
			Task:           "parse_document",
			DocumentsField: "documents",
			URLField:       "url",
			IDField:        "id",
			CreatedField:   "created_at",
			MIMEField:      "mime_type",
			Workers:        4,
			ItemTimeout:    Duration{time.Minute},
			Limit:          100,
		},
		Scheduler: DefaultSchedulerConfig(),
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Duration is a time.Duration that reads and writes as a string ("30s").
type Duration struct {
	time.Duration
}

// UnmarshalText parses a duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("%w: duration %q", ErrInvalidInput, string(text))
	}
	d.Duration = v
	return nil
}

// MarshalText renders the duration as a string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}
