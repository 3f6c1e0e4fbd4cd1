// Package scheduler implements the Monitor Scheduler (C7): a ticker
// loop that scans due monitors and fires a fresh extraction.requested
// for each one, then reschedules it.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"raito/internal/bus"
	"raito/internal/idgen"
	"raito/internal/model"
	"raito/internal/schedule"
	"raito/internal/store"
)

// DefaultTick is the spec's 5-minute monitor scan interval.
const DefaultTick = 5 * time.Minute

// Scheduler polls the monitors namespace and fires due ones. It holds
// no transport dependency, the same way Gateway does.
type Scheduler struct {
	Store  store.Interface
	Bus    bus.Bus
	Logger *slog.Logger
	Tick   time.Duration
}

// New builds a Scheduler. A zero tick defaults to DefaultTick.
func New(st store.Interface, b bus.Bus, logger *slog.Logger, tick time.Duration) *Scheduler {
	if tick <= 0 {
		tick = DefaultTick
	}
	return &Scheduler{Store: st, Bus: b, Logger: logger, Tick: tick}
}

// Start runs the ticker loop in the caller's goroutine until ctx is
// canceled: select on ctx.Done()/ticker.C, one pass of work per tick.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		s.runOnce(ctx)
	}
}

// runOnce scans every monitor and fires the ones at or past next_run.
func (s *Scheduler) runOnce(ctx context.Context) {
	monitors, err := store.ListGroup[model.Monitor](ctx, s.Store, model.NSMonitors)
	if err != nil {
		s.Logger.Error("scheduler: list monitors", "error", err)
		return
	}

	now := time.Now().UTC()
	for _, monitor := range monitors {
		if !monitor.Active || monitor.NextRun.After(now) {
			continue
		}
		if err := s.fire(ctx, monitor, now); err != nil {
			s.Logger.Error("scheduler: fire monitor", "monitor_id", monitor.MonitorID, "error", err)
		}
	}
}

// fire mints a fresh job for monitor, group-keyed by hash(url) so
// repeated scheduled refreshes of the same url never run concurrently.
// This contrasts with the gateway, which groups by job_id instead.
func (s *Scheduler) fire(ctx context.Context, monitor model.Monitor, now time.Time) error {
	jobID := idgen.NewJobID()
	job := model.Job{
		JobID:     jobID,
		ScraperID: monitor.ScraperID,
		URL:       monitor.URL,
		Status:    model.JobQueued,
		Options:   model.RequestOptions{UseCache: false},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Store.Set(ctx, model.NSJobs, jobID, job); err != nil {
		return err
	}

	var scr model.Scraper
	if err := s.Store.Get(ctx, model.NSScrapers, monitor.ScraperID, &scr); err != nil {
		return err
	}
	if err := s.Store.Set(ctx, model.NSJobPayloads, jobID, model.JobPayload{
		Schema: scr.Schema, ScraperID: monitor.ScraperID,
	}); err != nil {
		return err
	}

	group := idgen.HashURL(monitor.URL)
	if err := s.Bus.Emit(ctx, "extraction.requested", group, model.ExtractionRequested{
		JobID: jobID, URL: monitor.URL, ScraperID: monitor.ScraperID,
		Options: model.RequestOptions{UseCache: false},
	}); err != nil {
		return err
	}

	monitor.LastRun = &now
	monitor.LastJobID = jobID
	monitor.RunCount++
	monitor.NextRun = schedule.NextRun(scheduleInfoOf(monitor), now)
	monitor.UpdatedAt = now
	return s.Store.Set(ctx, model.NSMonitors, monitor.MonitorID, monitor)
}

func scheduleInfoOf(monitor model.Monitor) *model.ScheduleInfo {
	return &model.ScheduleInfo{
		Type:            monitor.ScheduleType,
		IntervalMinutes: monitor.IntervalMinutes,
		Cron:            monitor.Cron,
	}
}
