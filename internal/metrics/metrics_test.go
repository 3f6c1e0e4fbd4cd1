package metrics

import (
	"strings"
	"testing"
)

func TestRecordRequestAndExport(t *testing.T) {
	// Record a single request and ensure it appears in the export.
	RecordRequest("GET", "/v1/scrape", 200, 42)

	out := Export()
	if !strings.Contains(out, "raito_http_requests_total{method=\"GET\",path=\"/v1/scrape\",status=\"200\"}") {
		t.Fatalf("expected HTTP request metric for GET /v1/scrape in export, got:\n%s", out)
	}
	if !strings.Contains(out, "raito_http_request_duration_ms_sum") || !strings.Contains(out, "raito_http_request_duration_ms_count") {
		t.Fatalf("expected latency metrics headers in export, got:\n%s", out)
	}
}

func TestRecordLLMExtractMetrics(t *testing.T) {
	RecordLLMExtract("openai", "gpt-test", true)
	RecordLLMExtract("openai", "gpt-test", false)

	out := Export()
	if !strings.Contains(out, "raito_llm_extract_requests_total{provider=\"openai\",model=\"gpt-test\",success=\"true\"}") {
		t.Fatalf("expected llm_extract_requests_total success for openai/gpt-test, got:\n%s", out)
	}
	if !strings.Contains(out, "raito_llm_extract_requests_total{provider=\"openai\",model=\"gpt-test\",success=\"false\"}") {
		t.Fatalf("expected llm_extract_requests_total failure for openai/gpt-test, got:\n%s", out)
	}
}

func TestRecordStageDurationCacheAndRedelivery(t *testing.T) {
	RecordStageDuration("fetching", 15)
	RecordCacheLookup("content", true)
	RecordRedelivery("error_handler")

	out := Export()
	if !strings.Contains(out, "raito_stage_duration_ms_sum{stage=\"fetching\"}") {
		t.Fatalf("expected stage duration metric for fetching, got:\n%s", out)
	}
	if !strings.Contains(out, "raito_cache_lookups_total{cache_type=\"content\",hit=\"true\"}") {
		t.Fatalf("expected cache lookup metric for content hit, got:\n%s", out)
	}
	if !strings.Contains(out, "raito_stage_redeliveries_total{stage=\"error_handler\"}") {
		t.Fatalf("expected redelivery metric for error_handler, got:\n%s", out)
	}
}
