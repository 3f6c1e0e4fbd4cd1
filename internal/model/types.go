// Package model holds the data types shared across the extraction
// pipeline: scrapers, jobs, monitors, the schema sum type, and the
// wire envelopes carried on the event bus.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// SchemaKind tags the two legal shapes of Schema.
type SchemaKind string

const (
	SchemaKindPrompt     SchemaKind = "prompt"
	SchemaKindStructured SchemaKind = "structured"
)

// Schema is the sum type StringPrompt | StructuredSchema described by
// the extraction pipeline's data model. Only the structured branch
// participates in JSON-schema validation and in cache-key
// canonicalization.
type Schema struct {
	Kind       SchemaKind
	Prompt     string
	Structured map[string]any
}

// NewPromptSchema builds a natural-language Schema.
func NewPromptSchema(prompt string) Schema {
	return Schema{Kind: SchemaKindPrompt, Prompt: prompt}
}

// NewStructuredSchema builds a structured (JSON Schema) Schema.
func NewStructuredSchema(s map[string]any) Schema {
	return Schema{Kind: SchemaKindStructured, Structured: s}
}

// IsStructured reports whether this schema participates in JSON
// Schema validation and canonical-key generation.
func (s Schema) IsStructured() bool {
	return s.Kind == SchemaKindStructured && s.Structured != nil
}

// MarshalJSON encodes the schema back into whichever shape it was
// constructed from: a bare string or a bare object. Only the raw
// shape is ever persisted, matching the untagged JSON value the
// gateway accepts on scraper creation.
func (s Schema) MarshalJSON() ([]byte, error) {
	switch s.Kind {
	case SchemaKindPrompt:
		return json.Marshal(s.Prompt)
	case SchemaKindStructured:
		return json.Marshal(s.Structured)
	default:
		return json.Marshal(nil)
	}
}

// UnmarshalJSON infers the kind from the JSON value's shape: a string
// is a prompt, an object is a structured schema.
func (s *Schema) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" || trimmed == "" {
		*s = Schema{}
		return nil
	}

	if trimmed[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = NewPromptSchema(str)
		return nil
	}

	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("schema must be a string prompt or a JSON object: %w", err)
	}
	*s = NewStructuredSchema(obj)
	return nil
}

// CanonicalString returns the representation used as the schema half
// of the extraction-cache key: sorted-key JSON for structured schemas,
// the raw prompt text otherwise. Two structured schemas that differ
// only in key order must produce the same string.
func (s Schema) CanonicalString() string {
	if !s.IsStructured() {
		return s.Prompt
	}
	return canonicalJSON(s.Structured)
}

// canonicalJSON renders v as JSON with map keys sorted at every level.
func canonicalJSON(v any) string {
	var b strings.Builder
	writeCanonical(&b, v)
	return b.String()
}

func writeCanonical(b *strings.Builder, v any) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			b.Write(kb)
			b.WriteByte(':')
			writeCanonical(b, val[k])
		}
		b.WriteByte('}')
	case []any:
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			writeCanonical(b, item)
		}
		b.WriteByte(']')
	default:
		vb, err := json.Marshal(val)
		if err != nil {
			b.WriteString("null")
			return
		}
		b.Write(vb)
	}
}

// ScheduleType distinguishes the two ways a schedule can be expressed.
type ScheduleType string

const (
	ScheduleInterval ScheduleType = "interval"
	ScheduleCron     ScheduleType = "cron"
)

// ScheduleInfo is the parsed form of Scraper.Schedule.
type ScheduleInfo struct {
	Type            ScheduleType `json:"type"`
	IntervalMinutes int          `json:"interval_minutes,omitempty"`
	Cron            string       `json:"cron,omitempty"`
}

// MinScheduleMinutes is the smallest integer-minutes schedule the
// gateway accepts when creating a scraper (spec scenario S5).
const MinScheduleMinutes = 5

// ParseSchedule turns a raw schedule value (an int number of minutes
// or a cron string) into a ScheduleInfo, or an error if an integer
// schedule is below MinScheduleMinutes.
func ParseSchedule(raw any) (*ScheduleInfo, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case int:
		return parseIntSchedule(v)
	case int64:
		return parseIntSchedule(int(v))
	case float64:
		return parseIntSchedule(int(v))
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return nil, nil
		}
		return &ScheduleInfo{Type: ScheduleCron, Cron: trimmed}, nil
	default:
		return nil, fmt.Errorf("schedule must be an integer number of minutes or a cron string")
	}
}

func parseIntSchedule(minutes int) (*ScheduleInfo, error) {
	if minutes < MinScheduleMinutes {
		return nil, errors.New("schedule must be at least 5 minutes")
	}
	return &ScheduleInfo{Type: ScheduleInterval, IntervalMinutes: minutes}, nil
}

// ScraperOptions are the per-scraper defaults merged under per-request
// options (request wins per key, §4.1 step 2).
type ScraperOptions struct {
	TimeoutMs        int  `json:"timeout_ms,omitempty"`
	WaitForMs        int  `json:"wait_for_ms,omitempty"`
	UseSimpleScraper bool `json:"use_simple_scraper,omitempty"`
}

// Scraper is the long-lived, user-created configuration addressed by
// scraper_id.
type Scraper struct {
	ScraperID    string         `json:"scraper_id"`
	Name         string         `json:"name"`
	Description  string         `json:"description,omitempty"`
	Schema       Schema         `json:"schema"`
	ExampleURL   string         `json:"example_url,omitempty"`
	WebhookURL   string         `json:"webhook_url,omitempty"`
	Schedule     any            `json:"schedule,omitempty"`
	ScheduleInfo *ScheduleInfo  `json:"schedule_info,omitempty"`
	Options      ScraperOptions `json:"options"`
	CreatedAt    time.Time      `json:"created_at"`
}

// JobStatus is the forward-only status lattice of a Job (invariant 1).
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobFetching   JobStatus = "fetching"
	JobFetched    JobStatus = "fetched"
	JobExtracting JobStatus = "extracting"
	JobExtracted  JobStatus = "extracted"
	JobValidating JobStatus = "validating"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further status transition is legal.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed
}

// RequestOptions is the set of knobs a client may pass to run_scraper,
// merged over the scraper's saved ScraperOptions.
type RequestOptions struct {
	UseCache         bool  `json:"use_cache"`
	WaitForMs        int   `json:"wait_for_ms,omitempty"`
	TimeoutMs        int   `json:"timeout_ms,omitempty"`
	UseSimpleScraper *bool `json:"use_simple_scraper,omitempty"`
	SkipMonitoring   bool  `json:"skip_monitoring,omitempty"`
	Async            bool  `json:"async,omitempty"`

	// LLM tuning, pulled through to the Extract stage's event options.
	Model       string  `json:"model,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxRetries  int     `json:"max_retries,omitempty"`
}

// MergeOptions overlays request-supplied fields onto the scraper's
// saved options: for every key, the per-request value wins whenever
// it is set, falling back to the scraper's saved default.
func MergeOptions(saved ScraperOptions, req RequestOptions) RequestOptions {
	merged := req
	if merged.TimeoutMs == 0 {
		merged.TimeoutMs = saved.TimeoutMs
	}
	if merged.WaitForMs == 0 {
		merged.WaitForMs = saved.WaitForMs
	}
	if merged.UseSimpleScraper == nil {
		merged.UseSimpleScraper = &saved.UseSimpleScraper
	}
	return merged
}

// SimpleScraper reports the resolved use_simple_scraper value, treating
// an unset pointer (never merged through MergeOptions) as false.
func (o RequestOptions) SimpleScraper() bool {
	return o.UseSimpleScraper != nil && *o.UseSimpleScraper
}

// Job is a single run of the pipeline for one URL through one scraper.
type Job struct {
	JobID       string         `json:"job_id"`
	ScraperID   string         `json:"scraper_id"`
	URL         string         `json:"url"`
	Status      JobStatus      `json:"status"`
	Options     RequestOptions `json:"options"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	FailedAt    *time.Time     `json:"failed_at,omitempty"`
	Error       string         `json:"error,omitempty"`
	Stage       string         `json:"stage,omitempty"`
}

// Monitor is a (scraper, url) pair scheduled for periodic refresh.
type Monitor struct {
	MonitorID       string       `json:"monitor_id"`
	ScraperID       string       `json:"scraper_id"`
	URL             string       `json:"url"`
	ScheduleType    ScheduleType `json:"schedule_type"`
	IntervalMinutes int          `json:"interval_minutes,omitempty"`
	Cron            string       `json:"cron,omitempty"`
	Active          bool         `json:"active"`
	LastRun         *time.Time   `json:"last_run,omitempty"`
	NextRun         time.Time    `json:"next_run"`
	RunCount        int          `json:"run_count"`
	LastJobID       string       `json:"last_job_id,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// Extraction is the terminal, user-visible record for a job: either a
// completed result or a failure triple.
type Extraction struct {
	JobID            string         `json:"job_id"`
	Status           JobStatus      `json:"status"`
	Data             map[string]any `json:"data,omitempty"`
	URL              string         `json:"url"`
	Schema           Schema         `json:"schema"`
	ScraperID        string         `json:"scraper_id"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
	Model            string         `json:"model,omitempty"`
	Usage            map[string]any `json:"usage,omitempty"`
	Cached           bool           `json:"cached"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	Error            string         `json:"error,omitempty"`
	Stage            string         `json:"stage,omitempty"`
	ValidationErrors []string       `json:"validation_errors,omitempty"`
	FailedAt         *time.Time     `json:"failed_at,omitempty"`
}

// ExtractionCacheEntry is the value stored under the extraction_cache
// namespace.
type ExtractionCacheEntry struct {
	Data      map[string]any `json:"data"`
	URL       string         `json:"url"`
	Schema    Schema         `json:"schema"`
	ScraperID string         `json:"scraper_id"`
	Model     string         `json:"model,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CachedAt  time.Time      `json:"cached_at"`
}

// ContentCacheEntry is the value stored under the content_cache
// namespace.
type ContentCacheEntry struct {
	Markdown string         `json:"markdown"`
	Metadata map[string]any `json:"metadata,omitempty"`
	CachedAt time.Time      `json:"cached_at"`
}

// JobPayload is the job_payloads side-table row: the data the Fetch
// stage needs but that is too large (or not its business) to carry on
// the event envelope.
type JobPayload struct {
	Schema    Schema `json:"schema"`
	ScraperID string `json:"scraper_id"`
}

// FetchPayload is the fetch_payloads side-table row produced by the
// Fetch stage and consumed by the Extract stage.
type FetchPayload struct {
	Markdown string         `json:"markdown"`
	Schema   Schema         `json:"schema"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ExtractionPayload is the extraction_payloads side-table row produced
// by the Extract stage and consumed by the Store stage.
type ExtractionPayload struct {
	Data     map[string]any `json:"data"`
	Schema   Schema         `json:"schema"`
	Model    string         `json:"model"`
	Usage    map[string]any `json:"usage,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Event envelopes — all fields here, together, must stay under the
// bus's ~4 KiB per-message cap; anything larger goes through a
// side-table payload namespace instead.

// ExtractionRequested is emitted by the Gateway and the Scheduler.
type ExtractionRequested struct {
	JobID     string         `json:"job_id"`
	URL       string         `json:"url"`
	ScraperID string         `json:"scraper_id"`
	Options   RequestOptions `json:"options"`
}

// WebpageFetched is emitted by the Fetch stage.
type WebpageFetched struct {
	JobID          string         `json:"job_id"`
	URL            string         `json:"url"`
	ScraperID      string         `json:"scraper_id"`
	Options        RequestOptions `json:"options"`
	Cached         bool           `json:"cached"`
	CacheType      string         `json:"cache_type,omitempty"`
	MarkdownLength int            `json:"markdown_length"`
}

// ExtractionCompleted is emitted by the Fetch stage (cache short-circuit)
// and by the Extract stage.
type ExtractionCompleted struct {
	JobID     string `json:"job_id"`
	URL       string `json:"url"`
	ScraperID string `json:"scraper_id"`
	Cached    bool   `json:"cached"`
	CacheType string `json:"cache_type,omitempty"`
}

// ResultsStored is emitted by the Store stage; it is the pipeline's
// terminal success event.
type ResultsStored struct {
	JobID       string    `json:"job_id"`
	URL         string    `json:"url"`
	ScraperID   string    `json:"scraper_id"`
	CompletedAt time.Time `json:"completed_at"`
	Cached      bool      `json:"cached"`
}

// ExtractionFailed may be emitted by any stage; it is the pipeline's
// terminal failure event.
type ExtractionFailed struct {
	JobID            string   `json:"job_id"`
	Error            string   `json:"error"`
	Stage            string   `json:"stage"`
	URL              string   `json:"url,omitempty"`
	ValidationErrors []string `json:"validation_errors,omitempty"`
}

// ProgressUpdate is the per-job value written to the Progress Stream
// (C3). Writes are last-write-wins per job_id.
type ProgressUpdate struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	Percent   int       `json:"percent"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// State-store namespace names, shared by the gateway, the pipeline
// stages, and the scheduler so none of them hand-roll a namespace
// string.
const (
	NSScrapers           = "scrapers"
	NSJobs               = "jobs"
	NSExtractions        = "extractions"
	NSMonitors           = "monitors"
	NSContentCache       = "content_cache"
	NSExtractionCache    = "extraction_cache"
	NSJobPayloads        = "job_payloads"
	NSFetchPayloads      = "fetch_payloads"
	NSExtractionPayloads = "extraction_payloads"
)

// FailureStagePercent maps an ExtractionFailed stage to the progress
// percent the Error handler publishes.
func FailureStagePercent(stage string) int {
	switch stage {
	case "fetching":
		return 20
	case "extracting":
		return 60
	case "storing":
		return 90
	default:
		return 50
	}
}
