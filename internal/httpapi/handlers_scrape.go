package httpapi

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"raito/internal/gateway"
	"raito/internal/model"
)

// runScraperRequest is the POST /scrape/:scraperId body.
type runScraperRequest struct {
	URL              string  `json:"url"`
	UseCache         *bool   `json:"use_cache,omitempty"`
	WaitForMs        int     `json:"wait_for_ms,omitempty"`
	TimeoutMs        int     `json:"timeout_ms,omitempty"`
	UseSimpleScraper *bool   `json:"use_simple_scraper,omitempty"`
	SkipMonitoring   bool    `json:"skip_monitoring,omitempty"`
	Async            bool    `json:"async,omitempty"`
	Model            string  `json:"model,omitempty"`
	Temperature      float64 `json:"temperature,omitempty"`
	MaxRetries       int     `json:"max_retries,omitempty"`
}

func (s *Server) runScraper(c *fiber.Ctx) error {
	scraperID := c.Params("scraperId")

	var body runScraperRequest
	if err := c.BodyParser(&body); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "BAD_REQUEST_INVALID_JSON", "malformed JSON body")
	}
	if body.URL == "" {
		return jsonError(c, fiber.StatusBadRequest, "BAD_REQUEST", "missing required field 'url'")
	}

	useCache := true
	if body.UseCache != nil {
		useCache = *body.UseCache
	}

	opts := model.RequestOptions{
		UseCache: useCache, WaitForMs: body.WaitForMs, TimeoutMs: body.TimeoutMs,
		UseSimpleScraper: body.UseSimpleScraper, SkipMonitoring: body.SkipMonitoring,
		Async: body.Async, Model: body.Model, Temperature: body.Temperature,
		MaxRetries: body.MaxRetries,
	}

	result, err := s.gateway.RunScraper(c.Context(), scraperID, body.URL, opts)
	if err != nil {
		if errors.Is(err, gateway.ErrScraperNotFound) {
			return jsonError(c, fiber.StatusNotFound, "SCRAPER_NOT_FOUND", "scraper not found")
		}
		return jsonError(c, fiber.StatusBadGateway, "RUN_SCRAPER_FAILED", err.Error())
	}

	switch result.Status {
	case gateway.RunCompleted:
		return c.JSON(fiber.Map{
			"success": true, "status": "completed", "job_id": result.JobID,
			"data": result.Data, "cached": result.Cached, "cache_type": result.CacheType,
		})
	case gateway.RunFailed:
		return c.JSON(fiber.Map{
			"success": true, "status": "failed", "job_id": result.JobID, "error": result.Error,
		})
	default:
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"success": true, "status": "queued", "job_id": result.JobID,
			"status_url": result.StatusURL, "results_url": result.ResultsURL,
		})
	}
}

// createScraperRequest is the POST /scrapers body.
type createScraperRequest struct {
	Name        string               `json:"name"`
	Description string               `json:"description,omitempty"`
	Schema      model.Schema         `json:"schema"`
	ExampleURL  string               `json:"example_url,omitempty"`
	WebhookURL  string               `json:"webhook_url,omitempty"`
	Schedule    any                  `json:"schedule,omitempty"`
	Options     model.ScraperOptions `json:"options,omitempty"`
	MonitorURLs []string             `json:"monitor_urls,omitempty"`
	WarmCache   bool                 `json:"warm_cache,omitempty"`
}

func (s *Server) createScraper(c *fiber.Ctx) error {
	var body createScraperRequest
	if err := c.BodyParser(&body); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "BAD_REQUEST_INVALID_JSON", "malformed JSON body")
	}

	scr, err := s.gateway.CreateScraper(c.Context(), gateway.CreateScraperRequest{
		Name: body.Name, Description: body.Description, Schema: body.Schema,
		ExampleURL: body.ExampleURL, WebhookURL: body.WebhookURL, Schedule: body.Schedule,
		Options: body.Options, MonitorURLs: body.MonitorURLs, WarmCache: body.WarmCache,
	})
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, "CREATE_SCRAPER_FAILED", err.Error())
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "scraper": scr})
}
