package model

import (
	"encoding/json"
	"testing"
)

func TestSchemaCanonicalStringIgnoresKeyOrder(t *testing.T) {
	a := NewStructuredSchema(map[string]any{"b": 1.0, "a": 2.0})
	b := NewStructuredSchema(map[string]any{"a": 2.0, "b": 1.0})

	if a.CanonicalString() != b.CanonicalString() {
		t.Fatalf("expected canonical strings to match, got %q vs %q", a.CanonicalString(), b.CanonicalString())
	}
}

func TestSchemaPromptCanonicalIsRawString(t *testing.T) {
	s := NewPromptSchema("extract the title")
	if s.CanonicalString() != "extract the title" {
		t.Fatalf("expected raw prompt, got %q", s.CanonicalString())
	}
}

func TestSchemaRoundTripJSON(t *testing.T) {
	cases := []Schema{
		NewPromptSchema("get the title"),
		NewStructuredSchema(map[string]any{"type": "object"}),
	}

	for _, s := range cases {
		data, err := json.Marshal(s)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var got Schema
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got.Kind != s.Kind {
			t.Fatalf("kind mismatch: got %v want %v", got.Kind, s.Kind)
		}
	}
}

func TestParseScheduleRejectsShortInterval(t *testing.T) {
	if _, err := ParseSchedule(3); err == nil {
		t.Fatal("expected error for schedule below minimum")
	}

	info, err := ParseSchedule(5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.Type != ScheduleInterval || info.IntervalMinutes != 5 {
		t.Fatalf("unexpected schedule info: %+v", info)
	}
}

func TestParseScheduleCron(t *testing.T) {
	info, err := ParseSchedule("*/5 * * * *")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.Type != ScheduleCron || info.Cron != "*/5 * * * *" {
		t.Fatalf("unexpected schedule info: %+v", info)
	}
}

func TestMergeOptionsRequestWins(t *testing.T) {
	saved := ScraperOptions{TimeoutMs: 1000, WaitForMs: 500, UseSimpleScraper: true}
	req := RequestOptions{TimeoutMs: 2000}

	merged := MergeOptions(saved, req)
	if merged.TimeoutMs != 2000 {
		t.Fatalf("expected request timeout to win, got %d", merged.TimeoutMs)
	}
	if merged.WaitForMs != 500 {
		t.Fatalf("expected saved wait_for to fill in, got %d", merged.WaitForMs)
	}
	if !merged.SimpleScraper() {
		t.Fatal("expected saved use_simple_scraper to fill in")
	}
}

func TestMergeOptionsRequestCanOverrideFalse(t *testing.T) {
	saved := ScraperOptions{UseSimpleScraper: true}
	disable := false
	req := RequestOptions{UseSimpleScraper: &disable}

	merged := MergeOptions(saved, req)
	if merged.SimpleScraper() {
		t.Fatal("expected explicit use_simple_scraper=false to override the saved default")
	}
}

func TestFailureStagePercent(t *testing.T) {
	cases := map[string]int{"fetching": 20, "extracting": 60, "storing": 90, "unknown": 50}
	for stage, want := range cases {
		if got := FailureStagePercent(stage); got != want {
			t.Fatalf("stage %q: got %d want %d", stage, got, want)
		}
	}
}
