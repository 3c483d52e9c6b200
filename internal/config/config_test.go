package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/job-ingest-crawler/internal/crawler"
)

const fullYAML = `
logging:
  development: true
  level: debug
fetch:
  user_agent: test-agent
  request_timeout: 5s
  min_interval: 250ms
  domain_intervals:
    - domain: Boards-API.greenhouse.io
      interval: 2s
  blocked_domains: ["linkedin.com"]
classify:
  graduate: ["graduate", "grad scheme"]
dedup:
  store: memory
ingest:
  base_url: https://backend.example.com
  secret: from-file
  batch_size: 25
storage:
  provider: local
  local_dir: /tmp/snapshots
pubsub:
  project_id: proj
  topic_name: crawl-runs
server:
  port: 9090
  schedule_interval: 6h
sources:
  - name: gh
    kind: greenhouse
    companies:
      - slug: stripe
        name: Stripe
  - kind: Lever
    companies:
      - slug: acme
  - name: jsearch
    kind: rapidapi
    queries: ["graduate analyst uk"]
    max_pages: 2
  - name: uni
    kind: html
    company: University of Example
    urls: ["https://jobs.example.ac.uk/graduates", "https://mirror.example.ac.uk/graduates"]
  - name: old-board
    kind: html
    disabled: true
    urls: ["https://old.example.com/"]
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Setenv("JOBCRAWLER_RAPIDAPI_KEY", "rapid-key")
	t.Setenv("JOBCRAWLER_INGEST_SECRET", "from-env")

	cfg, err := Load(writeConfig(t, fullYAML))
	require.NoError(t, err)

	assert.True(t, cfg.Logging.Development)
	assert.Equal(t, "test-agent", cfg.Fetch.UserAgent)
	assert.Equal(t, 5*time.Second, cfg.Fetch.RequestTimeout)
	assert.Equal(t, 250*time.Millisecond, cfg.Fetch.MinInterval)
	assert.Equal(t, 2*time.Second, cfg.Fetch.Intervals()["boards-api.greenhouse.io"])
	assert.Equal(t, []string{"graduate", "grad scheme"}, cfg.Classify.Graduate)
	assert.Equal(t, "from-env", cfg.Ingest.Secret, "environment wins over the file")
	assert.Equal(t, 25, cfg.Ingest.BatchSize)
	assert.Equal(t, 6*time.Hour, cfg.Server.ScheduleInterval)
	assert.Equal(t, 30*24*time.Hour, cfg.Dedup.TTL)

	require.Len(t, cfg.Sources, 5)
	assert.Equal(t, "Stripe", cfg.Sources[0].Companies[0].Name)
	assert.Equal(t, crawler.SourceKindLever, cfg.Sources[1].Kind)
	assert.Equal(t, "lever", cfg.Sources[1].Name)
	assert.Equal(t, "rapid-key", cfg.Sources[2].APIKey)
	assert.Equal(t, 2, cfg.Sources[2].MaxPages)
	assert.Len(t, cfg.Sources[3].URLs, 2)
	assert.Len(t, cfg.EnabledSources(), 4)
}

func TestLoadRequiresIngestUnlessDryRun(t *testing.T) {
	path := writeConfig(t, `
sources:
  - kind: html
    urls: ["https://jobs.example.com/"]
`)
	_, err := Load(path)
	require.ErrorIs(t, err, crawler.ErrMissingConfig)
	assert.Contains(t, err.Error(), "ingest.secret")
	assert.Contains(t, err.Error(), "ingest.base_url")

	cfg, err := Load(path, WithDryRun(true))
	require.NoError(t, err)
	assert.True(t, cfg.Pipeline.DryRun)
	assert.Equal(t, "local", cfg.Dedup.Store)
}

func TestLoadEnvBaseURL(t *testing.T) {
	t.Setenv("JOBCRAWLER_INGEST_BASE_URL", "https://env.example.com")
	t.Setenv("JOBCRAWLER_INGEST_SECRET", "s")

	cfg, err := Load(writeConfig(t, `
sources:
  - kind: html
    urls: ["https://jobs.example.com/"]
`))
	require.NoError(t, err)
	assert.Equal(t, "https://env.example.com", cfg.Ingest.BaseURL)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func() Config {
		return Config{
			Fetch:    FetchConfig{RequestTimeout: time.Second, MaxAttempts: 1, PerDomainConcurrency: 1},
			Ingest:   IngestConfig{BaseURL: "https://b", Secret: "s", BatchSize: 1},
			Pipeline: PipelineConfig{SourceConcurrency: 1},
			Dedup:    DedupConfig{Store: "memory"},
			Storage:  StorageConfig{Provider: "none"},
			Server:   ServerConfig{Port: 1},
			Sources: []crawler.SourceConfig{
				{Name: "a", Kind: crawler.SourceKindHTML, URLs: []string{"https://a.example"}},
			},
		}
	}
	require.NoError(t, valid().Validate())

	tests := map[string]func(*Config){
		"no sources":         func(c *Config) { c.Sources = nil },
		"all disabled":       func(c *Config) { c.Sources[0].Disabled = true },
		"unknown kind":       func(c *Config) { c.Sources[0].Kind = "workday" },
		"relative url":       func(c *Config) { c.Sources[0].URLs = []string{"/jobs"} },
		"duplicate names":    func(c *Config) { c.Sources = append(c.Sources, c.Sources[0]) },
		"greenhouse no cos":  func(c *Config) { c.Sources[0] = crawler.SourceConfig{Name: "g", Kind: crawler.SourceKindGreenhouse} },
		"rapidapi no key":    func(c *Config) { c.Sources[0] = crawler.SourceConfig{Name: "r", Kind: crawler.SourceKindRapidAPI, Queries: []string{"q"}} },
		"postgres no dsn":    func(c *Config) { c.Dedup.Store = "postgres" },
		"gcs no bucket":      func(c *Config) { c.Storage.Provider = "gcs" },
		"bad storage":        func(c *Config) { c.Storage.Provider = "s3" },
		"topic no project":   func(c *Config) { c.PubSub.TopicName = "runs" },
		"zero batch":         func(c *Config) { c.Ingest.BatchSize = 0 },
		"zero fetch timeout": func(c *Config) { c.Fetch.RequestTimeout = 0 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			cfg := valid()
			mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
