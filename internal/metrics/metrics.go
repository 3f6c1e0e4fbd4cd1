package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Simple Prometheus-style metrics for HTTP requests and pipeline
// stages. This is intentionally minimal and in-memory only.

var (
	mu             sync.RWMutex
	requestsTotal  = make(map[reqKey]int64)
	latencyMsSum   = make(map[latKey]int64)
	latencyMsCount = make(map[latKey]int64)
	llmExtracts    = make(map[llmKey]int64)

	stageDurationMsSum   = make(map[string]int64)
	stageDurationMsCount = make(map[string]int64)
	cacheLookupsTotal    = make(map[cacheKey]int64)
	redeliveriesTotal    = make(map[string]int64)
)

type reqKey struct {
	Method string
	Path   string
	Status int
}

type latKey struct {
	Method string
	Path   string
}

type llmKey struct {
	Provider string
	Model    string
	Success  string
}

type cacheKey struct {
	CacheType string
	Hit       string
}

// RecordRequest increments request counter and records latency.
func RecordRequest(method, path string, status int, latencyMs int64) {
	mu.Lock()
	defer mu.Unlock()

	rk := reqKey{Method: method, Path: path, Status: status}
	requestsTotal[rk]++

	lk := latKey{Method: method, Path: path}
	latencyMsSum[lk] += latencyMs
	latencyMsCount[lk]++
}

// RecordLLMExtract increments LLM extract counters.
func RecordLLMExtract(provider, model string, success bool) {
	mu.Lock()
	defer mu.Unlock()

	s := "false"
	if success {
		s = "true"
	}
	key := llmKey{Provider: provider, Model: model, Success: s}
	llmExtracts[key]++
}

// RecordStageDuration records one pipeline stage handler's wall-clock
// duration, keyed by stage name ("fetching", "extracting", "storing",
// "error_handler").
func RecordStageDuration(stage string, durationMs int64) {
	mu.Lock()
	defer mu.Unlock()
	stageDurationMsSum[stage] += durationMs
	stageDurationMsCount[stage]++
}

// RecordCacheLookup records a cache lookup outcome, keyed by cache
// type ("extraction" or "content") and hit/miss.
func RecordCacheLookup(cacheType string, hit bool) {
	mu.Lock()
	defer mu.Unlock()
	h := "false"
	if hit {
		h = "true"
	}
	cacheLookupsTotal[cacheKey{CacheType: cacheType, Hit: h}]++
}

// RecordRedelivery records one at-least-once redelivery observed by a
// stage handler (the bus delivered a message more than once for the
// same job).
func RecordRedelivery(stage string) {
	mu.Lock()
	defer mu.Unlock()
	redeliveriesTotal[stage]++
}

// Export returns Prometheus-style metrics text.
func Export() string {
	mu.RLock()
	defer mu.RUnlock()

	var b strings.Builder

	b.WriteString("# HELP raito_http_requests_total Total HTTP requests\n")
	b.WriteString("# TYPE raito_http_requests_total counter\n")

	var reqKeys []reqKey
	for k := range requestsTotal {
		reqKeys = append(reqKeys, k)
	}
	sort.Slice(reqKeys, func(i, j int) bool {
		if reqKeys[i].Method != reqKeys[j].Method {
			return reqKeys[i].Method < reqKeys[j].Method
		}
		if reqKeys[i].Path != reqKeys[j].Path {
			return reqKeys[i].Path < reqKeys[j].Path
		}
		return reqKeys[i].Status < reqKeys[j].Status
	})

	for _, k := range reqKeys {
		v := requestsTotal[k]
		fmt.Fprintf(&b, "raito_http_requests_total{method=\"%s\",path=\"%s\",status=\"%d\"} %d\n",
			k.Method, k.Path, k.Status, v)
	}

	b.WriteString("# HELP raito_http_request_duration_ms_sum Total request duration in milliseconds\n")
	b.WriteString("# TYPE raito_http_request_duration_ms_sum counter\n")
	b.WriteString("# HELP raito_http_request_duration_ms_count Request count for latency metric\n")
	b.WriteString("# TYPE raito_http_request_duration_ms_count counter\n")

	var latKeys []latKey
	for k := range latencyMsSum {
		latKeys = append(latKeys, k)
	}
	sort.Slice(latKeys, func(i, j int) bool {
		if latKeys[i].Method != latKeys[j].Method {
			return latKeys[i].Method < latKeys[j].Method
		}
		return latKeys[i].Path < latKeys[j].Path
	})

	for _, k := range latKeys {
		sum := latencyMsSum[k]
		cnt := latencyMsCount[k]
		fmt.Fprintf(&b, "raito_http_request_duration_ms_sum{method=\"%s\",path=\"%s\"} %d\n",
			k.Method, k.Path, sum)
		fmt.Fprintf(&b, "raito_http_request_duration_ms_count{method=\"%s\",path=\"%s\"} %d\n",
			k.Method, k.Path, cnt)
	}

	b.WriteString("# HELP raito_llm_extract_requests_total Total LLM extract requests\n")
	b.WriteString("# TYPE raito_llm_extract_requests_total counter\n")

	var llmKeys []llmKey
	for k := range llmExtracts {
		llmKeys = append(llmKeys, k)
	}
	sort.Slice(llmKeys, func(i, j int) bool {
		if llmKeys[i].Provider != llmKeys[j].Provider {
			return llmKeys[i].Provider < llmKeys[j].Provider
		}
		if llmKeys[i].Model != llmKeys[j].Model {
			return llmKeys[i].Model < llmKeys[j].Model
		}
		return llmKeys[i].Success < llmKeys[j].Success
	})

	for _, k := range llmKeys {
		v := llmExtracts[k]
		fmt.Fprintf(&b, "raito_llm_extract_requests_total{provider=\"%s\",model=\"%s\",success=\"%s\"} %d\n",
			k.Provider, k.Model, k.Success, v)
	}

	b.WriteString("# HELP raito_stage_duration_ms_sum Total pipeline stage handler duration in milliseconds\n")
	b.WriteString("# TYPE raito_stage_duration_ms_sum counter\n")
	b.WriteString("# HELP raito_stage_duration_ms_count Pipeline stage handler invocation count\n")
	b.WriteString("# TYPE raito_stage_duration_ms_count counter\n")

	var stages []string
	for s := range stageDurationMsSum {
		stages = append(stages, s)
	}
	sort.Strings(stages)
	for _, s := range stages {
		fmt.Fprintf(&b, "raito_stage_duration_ms_sum{stage=\"%s\"} %d\n", s, stageDurationMsSum[s])
		fmt.Fprintf(&b, "raito_stage_duration_ms_count{stage=\"%s\"} %d\n", s, stageDurationMsCount[s])
	}

	b.WriteString("# HELP raito_cache_lookups_total Total cache lookups by cache type and hit/miss\n")
	b.WriteString("# TYPE raito_cache_lookups_total counter\n")

	var cacheKeys []cacheKey
	for k := range cacheLookupsTotal {
		cacheKeys = append(cacheKeys, k)
	}
	sort.Slice(cacheKeys, func(i, j int) bool {
		if cacheKeys[i].CacheType != cacheKeys[j].CacheType {
			return cacheKeys[i].CacheType < cacheKeys[j].CacheType
		}
		return cacheKeys[i].Hit < cacheKeys[j].Hit
	})
	for _, k := range cacheKeys {
		fmt.Fprintf(&b, "raito_cache_lookups_total{cache_type=\"%s\",hit=\"%s\"} %d\n",
			k.CacheType, k.Hit, cacheLookupsTotal[k])
	}

	b.WriteString("# HELP raito_stage_redeliveries_total Total redelivered messages observed per stage\n")
	b.WriteString("# TYPE raito_stage_redeliveries_total counter\n")

	var redeliveryStages []string
	for s := range redeliveriesTotal {
		redeliveryStages = append(redeliveryStages, s)
	}
	sort.Strings(redeliveryStages)
	for _, s := range redeliveryStages {
		fmt.Fprintf(&b, "raito_stage_redeliveries_total{stage=\"%s\"} %d\n", s, redeliveriesTotal[s])
	}

	return b.String()
}
