// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/job-ingest-crawler/internal/crawler"
	"github.com/JakeFAU/job-ingest-crawler/internal/normalize"
)

// EnvPrefix prefixes every environment override, e.g. JOBCRAWLER_INGEST_SECRET.
const EnvPrefix = "JOBCRAWLER"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging     LoggingConfig          `mapstructure:"logging"`
	Fetch       FetchConfig            `mapstructure:"fetch"`
	Extract     ExtractConfig          `mapstructure:"extract"`
	Classify    normalize.Keywords     `mapstructure:"classify"`
	Dedup       DedupConfig            `mapstructure:"dedup"`
	Ingest      IngestConfig           `mapstructure:"ingest"`
	Pipeline    PipelineConfig         `mapstructure:"pipeline"`
	Storage     StorageConfig          `mapstructure:"storage"`
	PubSub      PubSubConfig           `mapstructure:"pubsub"`
	DB          DBConfig               `mapstructure:"db"`
	Metrics     MetricsConfig          `mapstructure:"metrics"`
	Server      ServerConfig           `mapstructure:"server"`
	RapidAPIKey string                 `mapstructure:"rapidapi_key"`
	Sources     []crawler.SourceConfig `mapstructure:"sources"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// FetchConfig governs the shared fetch layer.
type FetchConfig struct {
	UserAgent            string           `mapstructure:"user_agent"`
	RespectRobots        bool             `mapstructure:"respect_robots"`
	RequestTimeout       time.Duration    `mapstructure:"request_timeout"`
	MaxBodyBytes         int              `mapstructure:"max_body_bytes"`
	MinBodyBytes         int              `mapstructure:"min_body_bytes"`
	MaxAttempts          int              `mapstructure:"max_attempts"`
	BackoffInitial       time.Duration    `mapstructure:"backoff_initial"`
	BackoffMax           time.Duration    `mapstructure:"backoff_max"`
	PerDomainConcurrency int              `mapstructure:"per_domain_concurrency"`
	MinInterval          time.Duration    `mapstructure:"min_interval"`
	DomainIntervals      []DomainInterval `mapstructure:"domain_intervals"`
	ForbiddenThreshold   int              `mapstructure:"forbidden_threshold"`
	BlockedDomains       []string         `mapstructure:"blocked_domains"`
}

// DomainInterval overrides fetch.min_interval for one host. Hosts are
// listed rather than used as map keys because Viper splits keys on dots.
type DomainInterval struct {
	Domain   string        `mapstructure:"domain"`
	Interval time.Duration `mapstructure:"interval"`
}

// Intervals returns the per-host overrides keyed by lowercase host.
func (f FetchConfig) Intervals() map[string]time.Duration {
	if len(f.DomainIntervals) == 0 {
		return nil
	}
	out := make(map[string]time.Duration, len(f.DomainIntervals))
	for _, d := range f.DomainIntervals {
		out[strings.ToLower(strings.TrimSpace(d.Domain))] = d.Interval
	}
	return out
}

// ExtractConfig tunes card detection on HTML boards.
type ExtractConfig struct {
	MinGroupSize int `mapstructure:"min_group_size"`
	MinCardText  int `mapstructure:"min_card_text"`
}

// DedupConfig selects the hash store.
type DedupConfig struct {
	SkipKnown bool          `mapstructure:"skip_known"`
	Store     string        `mapstructure:"store"`
	Path      string        `mapstructure:"path"`
	TTL       time.Duration `mapstructure:"ttl"`
	Table     string        `mapstructure:"table"`
}

// IngestConfig describes the backend ingest endpoint.
type IngestConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	Secret      string        `mapstructure:"secret"`
	BatchSize   int           `mapstructure:"batch_size"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

// PipelineConfig controls a run.
type PipelineConfig struct {
	SourceConcurrency int  `mapstructure:"source_concurrency"`
	DryRun            bool `mapstructure:"dry_run"`
}

// StorageConfig selects where HTML snapshots are archived.
type StorageConfig struct {
	Provider  string `mapstructure:"provider"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls access to Postgres.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	RunsTable       string        `mapstructure:"runs_table"`
}

// PubSubConfig holds metadata for run report notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// MetricsConfig configures the optional Pushgateway push at run end.
type MetricsConfig struct {
	PushGatewayURL string `mapstructure:"pushgateway_url"`
	Job            string `mapstructure:"job"`
	Instance       string `mapstructure:"instance"`
}

// ServerConfig controls serve mode.
type ServerConfig struct {
	Port             int           `mapstructure:"port"`
	APIKey           string        `mapstructure:"api_key"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	ScheduleInterval time.Duration `mapstructure:"schedule_interval"`
	RunHistory       int           `mapstructure:"run_history"`
}

// Option adjusts the loader before unmarshalling, typically from CLI flags.
type Option func(*viper.Viper)

// WithDryRun forces pipeline.dry_run.
func WithDryRun(dryRun bool) Option {
	return func(v *viper.Viper) {
		if dryRun {
			v.Set("pipeline.dry_run", true)
		}
	}
}

// Load builds a Config from disk/environment.
func Load(path string, opts ...Option) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}
	for _, opt := range opts {
		opt(v)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.applySourceDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("fetch.user_agent", "job-ingest-crawler/1.0 (+https://github.com/JakeFAU/job-ingest-crawler)")
	v.SetDefault("fetch.respect_robots", true)
	v.SetDefault("fetch.request_timeout", 20*time.Second)
	v.SetDefault("fetch.max_body_bytes", 10<<20)
	v.SetDefault("fetch.min_body_bytes", 512)
	v.SetDefault("fetch.max_attempts", 3)
	v.SetDefault("fetch.backoff_initial", 500*time.Millisecond)
	v.SetDefault("fetch.backoff_max", 10*time.Second)
	v.SetDefault("fetch.per_domain_concurrency", 2)
	v.SetDefault("fetch.min_interval", time.Second)
	v.SetDefault("fetch.forbidden_threshold", 3)
	v.SetDefault("extract.min_group_size", 2)
	v.SetDefault("extract.min_card_text", 40)
	v.SetDefault("dedup.skip_known", true)
	v.SetDefault("dedup.store", "local")
	v.SetDefault("dedup.path", "data/seen_hashes.json")
	v.SetDefault("dedup.ttl", 30*24*time.Hour)
	v.SetDefault("dedup.table", "seen_job_hashes")
	v.SetDefault("ingest.base_url", "")
	v.SetDefault("ingest.secret", "")
	v.SetDefault("ingest.batch_size", 50)
	v.SetDefault("ingest.timeout", 30*time.Second)
	v.SetDefault("ingest.max_attempts", 3)
	v.SetDefault("pipeline.source_concurrency", 4)
	v.SetDefault("pipeline.dry_run", false)
	v.SetDefault("storage.provider", "none")
	v.SetDefault("storage.local_dir", "data/snapshots")
	v.SetDefault("storage.prefix", "")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime", time.Hour)
	v.SetDefault("db.runs_table", "")
	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.job", "jobcrawler")
	v.SetDefault("metrics.instance", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("server.schedule_interval", 0)
	v.SetDefault("server.run_history", 50)
	v.SetDefault("rapidapi_key", "")
}

// applySourceDefaults fills the RapidAPI key from the environment and the
// name of unnamed sources from their kind.
func (c *Config) applySourceDefaults() {
	for i := range c.Sources {
		src := &c.Sources[i]
		src.Kind = crawler.SourceKind(strings.ToLower(strings.TrimSpace(string(src.Kind))))
		if src.Name == "" {
			src.Name = string(src.Kind)
		}
		if src.Kind == crawler.SourceKindRapidAPI && src.APIKey == "" {
			src.APIKey = c.RapidAPIKey
		}
	}
}

// EnabledSources returns the sources not marked disabled.
func (c Config) EnabledSources() []crawler.SourceConfig {
	out := make([]crawler.SourceConfig, 0, len(c.Sources))
	for _, s := range c.Sources {
		if !s.Disabled {
			out = append(out, s)
		}
	}
	return out
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if !c.Pipeline.DryRun {
		if strings.TrimSpace(c.Ingest.BaseURL) == "" {
			errs = append(errs, fmt.Errorf("%w: ingest.base_url (or %s_INGEST_BASE_URL)", crawler.ErrMissingConfig, EnvPrefix))
		}
		if strings.TrimSpace(c.Ingest.Secret) == "" {
			errs = append(errs, fmt.Errorf("%w: ingest.secret (or %s_INGEST_SECRET)", crawler.ErrMissingConfig, EnvPrefix))
		}
	}
	if c.Fetch.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("fetch.request_timeout must be > 0"))
	}
	if c.Fetch.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("fetch.max_attempts must be > 0"))
	}
	if c.Fetch.PerDomainConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("fetch.per_domain_concurrency must be > 0"))
	}
	if c.Pipeline.SourceConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.source_concurrency must be > 0"))
	}
	if c.Ingest.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("ingest.batch_size must be > 0"))
	}

	switch c.Dedup.Store {
	case "memory", "local":
	case "postgres":
		if c.DB.DSN == "" {
			errs = append(errs, fmt.Errorf("%w: db.dsn is required when dedup.store is postgres", crawler.ErrMissingConfig))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown dedup.store %q", c.Dedup.Store))
	}
	switch c.Storage.Provider {
	case "none", "memory", "local":
	case "gcs":
		if c.Storage.GCSBucket == "" {
			errs = append(errs, fmt.Errorf("%w: storage.gcs_bucket is required when storage.provider is gcs", crawler.ErrMissingConfig))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.provider %q", c.Storage.Provider))
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		errs = append(errs, fmt.Errorf("%w: pubsub.project_id is required with pubsub.topic_name", crawler.ErrMissingConfig))
	}
	if c.Server.Port <= 0 {
		errs = append(errs, fmt.Errorf("server.port must be > 0"))
	}

	if len(c.EnabledSources()) == 0 {
		errs = append(errs, fmt.Errorf("%w: at least one enabled source", crawler.ErrMissingConfig))
	}
	seen := make(map[string]struct{}, len(c.Sources))
	for i, src := range c.Sources {
		if _, dup := seen[src.Name]; dup {
			errs = append(errs, fmt.Errorf("sources[%d]: duplicate name %q", i, src.Name))
		}
		seen[src.Name] = struct{}{}
		if err := validateSource(src); err != nil {
			errs = append(errs, fmt.Errorf("sources[%d] %s: %w", i, src.Name, err))
		}
	}
	return errors.Join(errs...)
}

func validateSource(src crawler.SourceConfig) error {
	switch src.Kind {
	case crawler.SourceKindGreenhouse, crawler.SourceKindLever:
		if len(src.Companies) == 0 {
			return fmt.Errorf("%w: companies", crawler.ErrMissingConfig)
		}
		for _, co := range src.Companies {
			if strings.TrimSpace(co.Slug) == "" {
				return fmt.Errorf("%w: company slug", crawler.ErrMissingConfig)
			}
		}
	case crawler.SourceKindRapidAPI:
		if len(src.Queries) == 0 {
			return fmt.Errorf("%w: queries", crawler.ErrMissingConfig)
		}
		if src.APIKey == "" && !src.Disabled {
			return fmt.Errorf("%w: api_key (or %s_RAPIDAPI_KEY)", crawler.ErrMissingConfig, EnvPrefix)
		}
	case crawler.SourceKindHTML:
		if len(src.URLs) == 0 {
			return fmt.Errorf("%w: urls", crawler.ErrMissingConfig)
		}
		for _, u := range src.URLs {
			if _, err := crawler.ResolveURL("", u); err != nil {
				return fmt.Errorf("url %q: %w", u, err)
			}
		}
	default:
		return fmt.Errorf("unknown kind %q", src.Kind)
	}
	return nil
}
