// Package config loads and validates harvester configuration via Viper.
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

// EnvPrefix prefixes every environment override, e.g. HARVESTER_HARVEST_WORKERS.
const EnvPrefix = "HARVESTER"

// MainProxyEnv sets the proxy of the coordinator's own requests.
const MainProxyEnv = "HTTP_PROXY_URL"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Harvest    HarvestConfig    `mapstructure:"harvest"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Rotation   RotationConfig   `mapstructure:"rotation"`
	Probe      ProbeConfig      `mapstructure:"probe"`
	Identity   IdentityConfig   `mapstructure:"identity"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Audit      AuditConfig      `mapstructure:"audit"`
	DB         DBConfig         `mapstructure:"db"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	APIKey          string        `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// HarvestConfig governs the coordinator and its workers.
type HarvestConfig struct {
	Workers           int           `mapstructure:"workers"`
	PageLimit         int           `mapstructure:"page_limit"`
	FallbackPageLimit int           `mapstructure:"fallback_page_limit"`
	Languages         string        `mapstructure:"languages"`
	EntityMarker      string        `mapstructure:"entity_marker"`
	DefaultEntity     string        `mapstructure:"default_entity"`
	MainProxy         string        `mapstructure:"main_proxy"`
	PauseEvery        int           `mapstructure:"pause_every"`
	PauseMin          time.Duration `mapstructure:"pause_min"`
	PauseMax          time.Duration `mapstructure:"pause_max"`
	PageDelayMin      time.Duration `mapstructure:"page_delay_min"`
	PageDelayMax      time.Duration `mapstructure:"page_delay_max"`
	BatchSize         int           `mapstructure:"batch_size"`
	BatchDelayMin     time.Duration `mapstructure:"batch_delay_min"`
	BatchDelayMax     time.Duration `mapstructure:"batch_delay_max"`
	StopOnEmpty       bool          `mapstructure:"stop_on_empty"`
}

// HTTPConfig configures the page fetcher.
type HTTPConfig struct {
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRPS         float64       `mapstructure:"max_rps"`
	Burst          int           `mapstructure:"burst"`
	AcceptLanguage string        `mapstructure:"accept_language"`
}

// RotationConfig configures identity rotation on blocking responses.
type RotationConfig struct {
	MaxAttempts   int           `mapstructure:"max_attempts"`
	BackoffStep   time.Duration `mapstructure:"backoff_step"`
	BlockStatuses []int         `mapstructure:"block_statuses"`
}

// ProbeConfig configures the inner, same-identity retry layer.
type ProbeConfig struct {
	MaxAttempts   int           `mapstructure:"max_attempts"`
	BackoffMin    time.Duration `mapstructure:"backoff_min"`
	BackoffMax    time.Duration `mapstructure:"backoff_max"`
	RetryStatuses []int         `mapstructure:"retry_statuses"`
}

// IdentityConfig lists the proxies and user agents rotated by workers.
type IdentityConfig struct {
	Proxies    []string `mapstructure:"proxies"`
	UserAgents []string `mapstructure:"user_agents"`
}

// StorageConfig selects the artifact sink backend.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	RootDir   string `mapstructure:"root_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// AuditConfig locates the blocking audit log.
type AuditConfig struct {
	Path string `mapstructure:"path"`
}

// DBConfig controls access to the harvest ledger database.
type DBConfig struct {
	DSN           string `mapstructure:"dsn"`
	RunsTable     string `mapstructure:"runs_table"`
	FailuresTable string `mapstructure:"failures_table"`
	MaxConns      int32  `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// DispatcherConfig bounds background job execution.
type DispatcherConfig struct {
	QueueDepth  int `mapstructure:"queue_depth"`
	Concurrency int `mapstructure:"concurrency"`
}

// TelemetryConfig toggles OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from .env, disk and environment. An empty path searches for
// harvester.{yaml,json,toml} in the working directory and /etc/review-harvester.
func Load(path string) (Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("harvest.main_proxy", EnvPrefix+"_HARVEST_MAIN_PROXY", MainProxyEnv); err != nil {
		return Config{}, fmt.Errorf("bind %s: %w", MainProxyEnv, err)
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("harvester")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/review-harvester/")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
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

// loadDotEnv populates the process environment from path. Variables already set win;
// a missing file is not an error.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.api_key", "")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")

	v.SetDefault("harvest.workers", 3)
	v.SetDefault("harvest.page_limit", 0)
	v.SetDefault("harvest.fallback_page_limit", 20_000_000)
	v.SetDefault("harvest.languages", "all")
	v.SetDefault("harvest.entity_marker", "review")
	v.SetDefault("harvest.default_entity", "unknown_company")
	v.SetDefault("harvest.main_proxy", "")
	v.SetDefault("harvest.pause_every", 50)
	v.SetDefault("harvest.pause_min", "5s")
	v.SetDefault("harvest.pause_max", "10s")
	v.SetDefault("harvest.page_delay_min", "1s")
	v.SetDefault("harvest.page_delay_max", "2s")
	v.SetDefault("harvest.batch_size", 5)
	v.SetDefault("harvest.batch_delay_min", "3s")
	v.SetDefault("harvest.batch_delay_max", "5s")
	v.SetDefault("harvest.stop_on_empty", false)

	v.SetDefault("http.timeout", "30s")
	v.SetDefault("http.max_rps", 0)
	v.SetDefault("http.burst", 1)
	v.SetDefault("http.accept_language", "en-US,en;q=0.9")

	v.SetDefault("rotation.max_attempts", 10)
	v.SetDefault("rotation.backoff_step", "10s")
	v.SetDefault("rotation.block_statuses", []int{403, 502})

	v.SetDefault("probe.max_attempts", 3)
	v.SetDefault("probe.backoff_min", "2s")
	v.SetDefault("probe.backoff_max", "10s")
	v.SetDefault("probe.retry_statuses", []int{429, 500, 502, 503, 504})

	v.SetDefault("identity.proxies", []string{})
	v.SetDefault("identity.user_agents", []string{})

	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.root_dir", "scraped_data")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "")

	v.SetDefault("audit.path", "logs/scraper_retry_log.md")

	v.SetDefault("db.dsn", "")
	v.SetDefault("db.runs_table", "harvest_runs")
	v.SetDefault("db.failures_table", "harvest_page_failures")
	v.SetDefault("db.max_conns", 4)

	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")

	v.SetDefault("dispatcher.queue_depth", 16)
	v.SetDefault("dispatcher.concurrency", 1)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Harvest.Workers <= 0 {
		return fmt.Errorf("harvest.workers must be > 0")
	}
	if c.Harvest.FallbackPageLimit <= 0 {
		return fmt.Errorf("harvest.fallback_page_limit must be > 0")
	}
	if c.Harvest.PauseMin > c.Harvest.PauseMax {
		return fmt.Errorf("harvest.pause_min must be <= harvest.pause_max")
	}
	if c.Harvest.PageDelayMin > c.Harvest.PageDelayMax {
		return fmt.Errorf("harvest.page_delay_min must be <= harvest.page_delay_max")
	}
	if c.Harvest.BatchDelayMin > c.Harvest.BatchDelayMax {
		return fmt.Errorf("harvest.batch_delay_min must be <= harvest.batch_delay_max")
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be > 0")
	}
	if c.Rotation.MaxAttempts <= 0 {
		return fmt.Errorf("rotation.max_attempts must be > 0")
	}
	if c.Probe.MaxAttempts <= 0 {
		return fmt.Errorf("probe.max_attempts must be > 0")
	}
	switch c.Storage.Backend {
	case "local":
		if c.Storage.RootDir == "" {
			return fmt.Errorf("storage.root_dir is required for the local backend")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs backend")
		}
	case "memory":
	default:
		return fmt.Errorf("storage.backend must be one of local, gcs, memory; got %q", c.Storage.Backend)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	if c.Dispatcher.QueueDepth <= 0 || c.Dispatcher.Concurrency <= 0 {
		return fmt.Errorf("dispatcher.queue_depth and dispatcher.concurrency must be > 0")
	}
	return nil
}
