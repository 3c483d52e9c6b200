// Package crawler defines core types shared across subsystems.
package crawler

import (
	"net/http"
	"time"
)

// JobType is the derived category of a posting.
type JobType string

// Job type values understood by the ingest backend.
const (
	JobTypeInternship JobType = "internship"
	JobTypePlacement  JobType = "placement"
	JobTypeGraduate   JobType = "graduate"
	JobTypeOther      JobType = "other"
)

// SourceKind selects the adapter used for a configured source.
type SourceKind string

// Supported adapter kinds.
const (
	SourceKindGreenhouse SourceKind = "greenhouse"
	SourceKindLever      SourceKind = "lever"
	SourceKindRapidAPI   SourceKind = "rapidapi"
	SourceKindHTML       SourceKind = "html"
)

// Company is the structured employer shape the backend stores.
type Company struct {
	Name string `json:"name"`
}

// Job is the canonical record delivered to the ingest endpoint.
type Job struct {
	Source        string     `json:"source"`
	SourceURL     string     `json:"sourceUrl,omitempty"`
	Title         string     `json:"title"`
	Company       Company    `json:"company"`
	Location      string     `json:"location,omitempty"`
	ApplyURL      string     `json:"applyUrl"`
	JobType       JobType    `json:"jobType"`
	Industry      *string    `json:"industry"`
	Salary        *string    `json:"salary"`
	RelatedDegree *string    `json:"relatedDegree"`
	DegreeLevel   *string    `json:"degreeLevel"`
	Description   string     `json:"description,omitempty"`
	PostedAt      *time.Time `json:"postedAt,omitempty"`
	Slug          string     `json:"slug"`
	Hash          string     `json:"hash"`
}

// RawPosting is what an adapter or the extractor produces before normalization.
// Every field may be empty; the normalizer decides admissibility.
type RawPosting struct {
	Source        string
	SourceURL     string
	Title         string
	Company       string
	Location      string
	ApplyURL      string
	Description   string
	PostedAt      *time.Time
	Industry      string
	Salary        string
	RelatedDegree string
	DegreeLevel   string
}

// CompanyConfig identifies one board on an ATS.
type CompanyConfig struct {
	Slug string `mapstructure:"slug"`
	Name string `mapstructure:"name"`
}

// SourceConfig is the static description of one board family.
type SourceConfig struct {
	Name      string          `mapstructure:"name"`
	Kind      SourceKind      `mapstructure:"kind"`
	Disabled  bool            `mapstructure:"disabled"`
	Company   string          `mapstructure:"company"`
	Companies []CompanyConfig `mapstructure:"companies"`
	URLs      []string        `mapstructure:"urls"`
	APIHost   string          `mapstructure:"api_host"`
	APIKey    string          `mapstructure:"api_key"`
	Queries   []string        `mapstructure:"queries"`
	MaxPages  int             `mapstructure:"max_pages"`
	PageSize  int             `mapstructure:"page_size"`
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// IngestFailure is one record the backend refused.
type IngestFailure struct {
	Hash  string `json:"hash"`
	Error string `json:"error"`
}

// IngestResult aggregates the backend's per-batch upsert report.
type IngestResult struct {
	Batches       int             `json:"batches"`
	Sent          int             `json:"sent"`
	Created       int             `json:"created"`
	Updated       int             `json:"updated"`
	Failed        int             `json:"failed"`
	FailedBatches int             `json:"failed_batches"`
	Failures      []IngestFailure `json:"failures,omitempty"`
	// Unconfirmed counts jobs in 2xx batches whose response did not say which
	// records failed. They are left out of Delivered.
	Unconfirmed int `json:"unconfirmed,omitempty"`
	// Delivered lists the hashes the backend accepted.
	Delivered []string `json:"-"`
}

// SourceReport summarizes what one configured source produced during a run.
type SourceReport struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Raw      int    `json:"raw"`
	Accepted int    `json:"accepted"`
	Dropped  int    `json:"dropped"`
	Error    string `json:"error,omitempty"`
}

// RunCounts holds the per-stage totals of a run.
type RunCounts struct {
	Raw        int            `json:"raw"`
	Normalized int            `json:"normalized"`
	Dropped    map[string]int `json:"dropped"`
	Duplicates int            `json:"duplicates"`
	Unique     int            `json:"unique"`
	Known      int            `json:"known"`
	Dispatched int            `json:"dispatched"`
}

// RunStatus is the lifecycle state of a crawl run.
type RunStatus string

// Run status values.
const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusPartial   RunStatus = "partial"
	RunStatusFailed    RunStatus = "failed"
)

// RunReport is the outcome of one crawl invocation.
type RunReport struct {
	RunID         string         `json:"run_id"`
	Status        RunStatus      `json:"status"`
	StartedAt     time.Time      `json:"started_at"`
	FinishedAt    *time.Time     `json:"finished_at,omitempty"`
	DryRun        bool           `json:"dry_run"`
	Sources       []SourceReport `json:"sources"`
	FailedSources []string       `json:"failed_sources"`
	Counts        RunCounts      `json:"counts"`
	Ingest        IngestResult   `json:"ingest"`
	BlockedHosts  []HostBlock    `json:"blocked_hosts,omitempty"`
	ErrorText     string         `json:"error_text,omitempty"`
}
