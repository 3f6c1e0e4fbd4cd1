package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"raito/internal/idgen"
	"raito/internal/model"
)

// CreateScraperRequest is the gateway's input for registering a new
// reusable scraper configuration.
type CreateScraperRequest struct {
	Name        string
	Description string
	Schema      model.Schema
	ExampleURL  string
	WebhookURL  string
	Schedule    any
	Options     model.ScraperOptions
	MonitorURLs []string
	// WarmCache queues an async extraction.requested per monitor URL right
	// after creation, so the first scheduled run isn't a cold cache miss.
	WarmCache bool
}

// CreateScraper validates name/schema/schedule, persists the scraper,
// and seeds any requested monitors.
func (g *Gateway) CreateScraper(ctx context.Context, req CreateScraperRequest) (*model.Scraper, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, errors.New("gateway: name is required")
	}
	if req.Schema.Kind == "" || (!req.Schema.IsStructured() && req.Schema.Prompt == "") {
		return nil, errors.New("gateway: schema is required")
	}

	scheduleInfo, err := model.ParseSchedule(req.Schedule)
	if err != nil {
		return nil, fmt.Errorf("gateway: invalid schedule: %w", err)
	}

	now := time.Now().UTC()
	scr := model.Scraper{
		ScraperID:    idgen.NewScraperID(),
		Name:         name,
		Description:  req.Description,
		Schema:       req.Schema,
		ExampleURL:   req.ExampleURL,
		WebhookURL:   req.WebhookURL,
		Schedule:     req.Schedule,
		ScheduleInfo: scheduleInfo,
		Options:      req.Options,
		CreatedAt:    now,
	}
	if err := g.Store.Set(ctx, model.NSScrapers, scr.ScraperID, scr); err != nil {
		return nil, fmt.Errorf("gateway: persist scraper: %w", err)
	}

	for _, rawURL := range req.MonitorURLs {
		url := strings.TrimSpace(rawURL)
		if url == "" {
			continue
		}
		if scheduleInfo != nil {
			if err := g.upsertMonitorIfScheduled(ctx, scr, url, model.RequestOptions{}); err != nil {
				g.Logger.Error("gateway: seed monitor", "scraper_id", scr.ScraperID, "url", url, "error", err)
			}
		}
		if req.WarmCache {
			// Async so creating a scraper with many monitor_urls never
			// blocks on the 30s sync poll once per URL.
			if _, err := g.RunScraper(ctx, scr.ScraperID, url, model.RequestOptions{UseCache: true, Async: true}); err != nil {
				g.Logger.Error("gateway: warm cache", "scraper_id", scr.ScraperID, "url", url, "error", err)
			}
		}
	}

	return &scr, nil
}
