package scheduler

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"raito/internal/bus"
	"raito/internal/model"
	"raito/internal/store"
)

func TestRunOnceFiresDueMonitorAndReschedules(t *testing.T) {
	s := store.NewMemoryStore()
	b := bus.NewMemoryBus()
	ctx := context.Background()

	scr := model.Scraper{ScraperID: "scr_1", Name: "test", Schema: model.NewPromptSchema("x")}
	if err := s.Set(ctx, model.NSScrapers, scr.ScraperID, scr); err != nil {
		t.Fatalf("seed scraper: %v", err)
	}

	past := time.Now().UTC().Add(-time.Minute)
	monitor := model.Monitor{
		MonitorID: "scr_1_abc", ScraperID: "scr_1", URL: "https://x/a",
		ScheduleType: model.ScheduleInterval, IntervalMinutes: 15,
		Active: true, NextRun: past, CreatedAt: past, UpdatedAt: past,
	}
	if err := s.Set(ctx, model.NSMonitors, monitor.MonitorID, monitor); err != nil {
		t.Fatalf("seed monitor: %v", err)
	}

	received := make(chan struct{}, 1)
	b.Subscribe("extraction.requested", func(ctx context.Context, payload []byte) error {
		received <- struct{}{}
		return nil
	})

	sched := New(s, b, slog.New(slog.NewTextHandler(io.Discard, nil)), time.Minute)
	sched.runOnce(ctx)

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("expected a due monitor to fire extraction.requested")
	}

	var updated model.Monitor
	if err := s.Get(ctx, model.NSMonitors, monitor.MonitorID, &updated); err != nil {
		t.Fatalf("get monitor: %v", err)
	}
	if updated.RunCount != 1 {
		t.Fatalf("expected run_count 1, got %d", updated.RunCount)
	}
	if !updated.NextRun.After(past) {
		t.Fatalf("expected next_run to advance past %v, got %v", past, updated.NextRun)
	}
	if updated.LastJobID == "" {
		t.Fatal("expected last_job_id to be set")
	}
}

func TestRunOnceSkipsInactiveAndFutureMonitors(t *testing.T) {
	s := store.NewMemoryStore()
	b := bus.NewMemoryBus()
	ctx := context.Background()

	future := time.Now().UTC().Add(time.Hour)
	if err := s.Set(ctx, model.NSMonitors, "m1", model.Monitor{
		MonitorID: "m1", Active: true, NextRun: future,
	}); err != nil {
		t.Fatalf("seed monitor: %v", err)
	}
	past := time.Now().UTC().Add(-time.Minute)
	if err := s.Set(ctx, model.NSMonitors, "m2", model.Monitor{
		MonitorID: "m2", Active: false, NextRun: past,
	}); err != nil {
		t.Fatalf("seed monitor: %v", err)
	}

	var emitted bool
	b.Subscribe("extraction.requested", func(ctx context.Context, payload []byte) error {
		emitted = true
		return nil
	})

	sched := New(s, b, slog.New(slog.NewTextHandler(io.Discard, nil)), time.Minute)
	sched.runOnce(ctx)

	time.Sleep(50 * time.Millisecond)
	if emitted {
		t.Fatal("expected neither an inactive nor a not-yet-due monitor to fire")
	}
}
