package schedule

import (
	"testing"
	"time"

	"raito/internal/model"
)

func TestNextRunInterval(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	info := &model.ScheduleInfo{Type: model.ScheduleInterval, IntervalMinutes: 15}
	got := NextRun(info, from)
	want := from.Add(15 * time.Minute)
	if !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestNextRunCron(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	info := &model.ScheduleInfo{Type: model.ScheduleCron, Cron: "0 * * * *"}
	got := NextRun(info, from)
	want := time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestNextRunMalformedCronFallsBack(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	info := &model.ScheduleInfo{Type: model.ScheduleCron, Cron: "not a cron"}
	got := NextRun(info, from)
	want := from.Add(time.Hour)
	if !got.Equal(want) {
		t.Fatalf("expected fallback %v, got %v", want, got)
	}
}

func TestNextRunNilFallsBack(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	got := NextRun(nil, from)
	want := from.Add(time.Hour)
	if !got.Equal(want) {
		t.Fatalf("expected fallback %v, got %v", want, got)
	}
}
