// Package config loads and validates ingestion configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config captures all pipeline configuration knobs loaded via Viper.
type Config struct {
	BBox      BBoxConfig      `mapstructure:"bbox"`
	Overpass  OverpassConfig  `mapstructure:"overpass"`
	Sampling  SamplingConfig  `mapstructure:"sampling"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Imagery   ImageryConfig   `mapstructure:"imagery"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Events    EventsConfig    `mapstructure:"events"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// BBoxConfig is the area of interest in degrees.
type BBoxConfig struct {
	MinLat float64 `mapstructure:"min_lat"`
	MinLon float64 `mapstructure:"min_lon"`
	MaxLat float64 `mapstructure:"max_lat"`
	MaxLon float64 `mapstructure:"max_lon"`
}

// OverpassConfig controls the geometry source.
type OverpassConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	Tag            string `mapstructure:"tag"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// SamplingConfig controls point sampling.
type SamplingConfig struct {
	SpacingMeters float64 `mapstructure:"spacing_meters"`
	// Precision is the number of decimals kept on sampled coordinates; negative disables rounding.
	Precision int `mapstructure:"precision"`
}

// SchedulerConfig controls pacing of the acquisition loop.
type SchedulerConfig struct {
	DelayMs int    `mapstructure:"delay_ms"`
	Seed    uint64 `mapstructure:"seed"`
}

// ImageryConfig configures Street View requests.
type ImageryConfig struct {
	Endpoint       string  `mapstructure:"endpoint"`
	APIKey         string  `mapstructure:"api_key"`
	Signature      string  `mapstructure:"signature"`
	Size           string  `mapstructure:"size"`
	FOV            int     `mapstructure:"fov"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	MaxQPS         float64 `mapstructure:"max_qps"`
	MaxAttempts    int     `mapstructure:"max_attempts"`
	UserAgent      string  `mapstructure:"user_agent"`
}

// StorageConfig selects and configures the blob store.
type StorageConfig struct {
	Provider      string `mapstructure:"provider"`
	Bucket        string `mapstructure:"bucket"`
	Prefix        string `mapstructure:"prefix"`
	PublicBaseURL string `mapstructure:"public_base_url"`
	LocalDir      string `mapstructure:"local_dir"`
}

// DBConfig selects and configures the metadata store.
type DBConfig struct {
	Provider     string `mapstructure:"provider"`
	DSN          string `mapstructure:"dsn"`
	Table        string `mapstructure:"table"`
	RunsTable    string `mapstructure:"runs_table"`
	MaxConns     int32  `mapstructure:"max_conns"`
	EnsureSchema bool   `mapstructure:"ensure_schema"`
}

// CacheConfig configures the optional Valkey geometry cache.
type CacheConfig struct {
	Addr       string `mapstructure:"addr"`
	TTLSeconds int    `mapstructure:"ttl_seconds"`
}

// EventsConfig selects the stored-record notification sink.
type EventsConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
	NATSURL   string `mapstructure:"nats_url"`
	Subject   string `mapstructure:"subject"`
}

// MetricsConfig controls the metrics HTTP listener.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Provider names.
const (
	ProviderMemory   = "memory"
	ProviderLocal    = "local"
	ProviderGCS      = "gcs"
	ProviderPostgres = "postgres"
	ProviderNoop     = "noop"
	ProviderPubSub   = "pubsub"
	ProviderNATS     = "nats"
)

// Load builds a Config from an optional .env file, an optional config file and the environment.
func Load(path string) (Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix("INGEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindAliases(v); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load %s: %w", path, err)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("bbox.min_lat", 43.6415)
	v.SetDefault("bbox.min_lon", -79.395)
	v.SetDefault("bbox.max_lat", 43.6677)
	v.SetDefault("bbox.max_lon", -79.3676)
	v.SetDefault("overpass.endpoint", "https://overpass-api.de/api/interpreter")
	v.SetDefault("overpass.tag", "highway")
	v.SetDefault("overpass.timeout_seconds", 60)
	v.SetDefault("sampling.spacing_meters", 50.0)
	v.SetDefault("sampling.precision", 7)
	v.SetDefault("scheduler.delay_ms", 100)
	v.SetDefault("scheduler.seed", 0)
	v.SetDefault("imagery.endpoint", "https://maps.googleapis.com/maps/api/streetview")
	v.SetDefault("imagery.api_key", "")
	v.SetDefault("imagery.signature", "")
	v.SetDefault("imagery.size", "2000x300")
	v.SetDefault("imagery.fov", 90)
	v.SetDefault("imagery.timeout_seconds", 15)
	v.SetDefault("imagery.max_qps", 0.0)
	v.SetDefault("imagery.max_attempts", 3)
	v.SetDefault("imagery.user_agent", "streetview-ingestor/0.1")
	v.SetDefault("storage.provider", ProviderMemory)
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.prefix", "")
	v.SetDefault("storage.public_base_url", "")
	v.SetDefault("storage.local_dir", "data/imagery")
	v.SetDefault("db.provider", ProviderMemory)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "street_view_images")
	v.SetDefault("db.runs_table", "ingest_runs")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.ensure_schema", false)
	v.SetDefault("cache.addr", "")
	v.SetDefault("cache.ttl_seconds", 86400)
	v.SetDefault("events.provider", ProviderNoop)
	v.SetDefault("events.project_id", "")
	v.SetDefault("events.topic", "imagery-stored")
	v.SetDefault("events.nats_url", "")
	v.SetDefault("events.subject", "streetview")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "")
}

// bindAliases lets the conventional unprefixed variables fill their keys.
func bindAliases(v *viper.Viper) error {
	aliases := map[string][]string{
		"imagery.api_key":   {"INGEST_IMAGERY_API_KEY", "GOOGLE_API_KEY"},
		"storage.bucket":    {"INGEST_STORAGE_BUCKET", "STORAGE_BUCKET"},
		"db.dsn":            {"INGEST_DB_DSN", "DATABASE_URL"},
		"events.project_id": {"INGEST_EVENTS_PROJECT_ID", "GOOGLE_CLOUD_PROJECT"},
	}
	for key, envs := range aliases {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

// Validate enforces required values and reasonable limits shared by every command.
func (c Config) Validate() error {
	b := c.BBox
	if b.MinLat < -90 || b.MaxLat > 90 || b.MinLon < -180 || b.MaxLon > 180 {
		return fmt.Errorf("bbox must lie within [-90,90] x [-180,180]")
	}
	if b.MinLat >= b.MaxLat || b.MinLon >= b.MaxLon {
		return fmt.Errorf("bbox min values must be below max values")
	}
	if c.Overpass.TimeoutSeconds <= 0 {
		return fmt.Errorf("overpass.timeout_seconds must be > 0")
	}
	if c.Sampling.SpacingMeters <= 0 {
		return fmt.Errorf("sampling.spacing_meters must be > 0")
	}
	if c.Sampling.Precision > 15 {
		return fmt.Errorf("sampling.precision must be <= 15")
	}
	if c.Scheduler.DelayMs < 0 {
		return fmt.Errorf("scheduler.delay_ms must be >= 0")
	}
	if c.Cache.Addr != "" && c.Cache.TTLSeconds <= 0 {
		return fmt.Errorf("cache.ttl_seconds must be > 0 when cache.addr is set")
	}
	return nil
}

// ValidateIngest adds the checks needed before imagery is fetched and stored.
func (c Config) ValidateIngest() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Imagery.APIKey == "" {
		return fmt.Errorf("imagery.api_key (or GOOGLE_API_KEY) is required")
	}
	if c.Imagery.FOV <= 0 || c.Imagery.FOV > 120 {
		return fmt.Errorf("imagery.fov must be in (0,120]")
	}
	if c.Imagery.TimeoutSeconds <= 0 {
		return fmt.Errorf("imagery.timeout_seconds must be > 0")
	}
	if c.Imagery.MaxAttempts <= 0 {
		return fmt.Errorf("imagery.max_attempts must be > 0")
	}
	if c.Imagery.MaxQPS < 0 {
		return fmt.Errorf("imagery.max_qps must be >= 0")
	}

	switch c.Storage.Provider {
	case ProviderMemory:
	case ProviderLocal:
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir is required for the local provider")
		}
	case ProviderGCS:
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket (or STORAGE_BUCKET) is required for the gcs provider")
		}
	default:
		return fmt.Errorf("unknown storage.provider %q", c.Storage.Provider)
	}

	switch c.DB.Provider {
	case ProviderMemory:
	case ProviderPostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn is required for the postgres provider")
		}
	default:
		return fmt.Errorf("unknown db.provider %q", c.DB.Provider)
	}

	switch c.Events.Provider {
	case ProviderNoop, ProviderMemory:
	case ProviderPubSub:
		if c.Events.ProjectID == "" || c.Events.Topic == "" {
			return fmt.Errorf("events.project_id and events.topic are required for the pubsub provider")
		}
	case ProviderNATS:
		if c.Events.NATSURL == "" {
			return fmt.Errorf("events.nats_url is required for the nats provider")
		}
	default:
		return fmt.Errorf("unknown events.provider %q", c.Events.Provider)
	}
	return nil
}

// OverpassTimeout returns the geometry query timeout.
func (c Config) OverpassTimeout() time.Duration {
	return time.Duration(c.Overpass.TimeoutSeconds) * time.Second
}

// ImageryTimeout returns the per-request imagery timeout.
func (c Config) ImageryTimeout() time.Duration {
	return time.Duration(c.Imagery.TimeoutSeconds) * time.Second
}

// SchedulerDelay returns the pause between points. Zero is reported as a negative
// duration so the scheduler treats it as "no delay" rather than "use the default".
func (c Config) SchedulerDelay() time.Duration {
	if c.Scheduler.DelayMs == 0 {
		return -1
	}
	return time.Duration(c.Scheduler.DelayMs) * time.Millisecond
}

// CacheTTL returns the geometry cache entry lifetime.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}
