// Package httpapi wires the Fiber router and handlers for the
// extraction pipeline's public surface: scraper creation, run_scraper,
// job status/results, and monitor management.
package httpapi

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"raito/internal/gateway"
	"raito/internal/metrics"
	"raito/internal/model"
	"raito/internal/store"
)

// Server wraps the Fiber app and the collaborators its handlers need.
type Server struct {
	app     *fiber.App
	gateway *gateway.Gateway
	store   store.Interface
	logger  *slog.Logger
}

// NewServer builds the Fiber app, its middleware, and every route.
func NewServer(gw *gateway.Gateway, st store.Interface, logger *slog.Logger) *Server {
	app := fiber.New()

	app.Use(func(c *fiber.Ctx) error {
		c.Locals("gateway", gw)
		c.Locals("store", st)
		return c.Next()
	})

	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()

		reqID := c.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.New().String()
		}
		c.Locals("request_id", reqID)

		err := c.Next()

		latency := time.Since(start)
		status := c.Response().StatusCode()
		metrics.RecordRequest(c.Method(), c.Path(), status, latency.Milliseconds())

		if logger != nil {
			logger.Info("request",
				"request_id", reqID,
				"method", c.Method(),
				"path", c.Path(),
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
		return err
	})

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", func(c *fiber.Ctx) error {
		c.Type("text/plain")
		return c.SendString(metrics.Export())
	})

	s := &Server{app: app, gateway: gw, store: st, logger: logger}

	app.Post("/scrapers", s.createScraper)
	app.Post("/scrape/:scraperId", s.runScraper)
	app.Get("/status/:jobId", s.jobStatus)
	app.Get("/results/:jobId", s.jobResults)
	app.Get("/monitors", s.listMonitors)
	app.Delete("/monitors/:monitorId", s.deleteMonitor)

	return s
}

// Listen starts the HTTP server on addr (e.g. "0.0.0.0:8080").
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// errorResponse is the {success, code, error} envelope every error
// response uses.
type errorResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Error   string `json:"error"`
}

func jsonError(c *fiber.Ctx, status int, code, msg string) error {
	return c.Status(status).JSON(errorResponse{Success: false, Code: code, Error: msg})
}

// jobStatus handles GET /status/:jobId.
func (s *Server) jobStatus(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	var job model.Job
	if err := s.store.Get(c.Context(), model.NSJobs, jobID, &job); err != nil {
		return jsonError(c, fiber.StatusNotFound, "JOB_NOT_FOUND", "job not found")
	}
	return c.JSON(fiber.Map{
		"success": true, "job_id": job.JobID, "status": job.Status,
		"stage": job.Stage, "error": job.Error, "created_at": job.CreatedAt,
		"updated_at": job.UpdatedAt,
	})
}

// jobResults handles GET /results/:jobId.
func (s *Server) jobResults(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	var extraction model.Extraction
	if err := s.store.Get(c.Context(), model.NSExtractions, jobID, &extraction); err != nil {
		return jsonError(c, fiber.StatusNotFound, "RESULTS_NOT_FOUND", "no results for job")
	}
	return c.JSON(fiber.Map{"success": true, "extraction": extraction})
}

// listMonitors handles GET /monitors.
func (s *Server) listMonitors(c *fiber.Ctx) error {
	monitors, err := store.ListGroup[model.Monitor](c.Context(), s.store, model.NSMonitors)
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "LIST_FAILED", err.Error())
	}
	return c.JSON(fiber.Map{"success": true, "monitors": monitors})
}

// deleteMonitor handles DELETE /monitors/:monitorId, deactivating the
// monitor rather than erasing its history.
func (s *Server) deleteMonitor(c *fiber.Ctx) error {
	monitorID := c.Params("monitorId")
	var monitor model.Monitor
	if err := s.store.Get(c.Context(), model.NSMonitors, monitorID, &monitor); err != nil {
		return jsonError(c, fiber.StatusNotFound, "MONITOR_NOT_FOUND", "monitor not found")
	}
	monitor.Active = false
	monitor.UpdatedAt = time.Now().UTC()
	if err := s.store.Set(c.Context(), model.NSMonitors, monitorID, monitor); err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "DELETE_FAILED", err.Error())
	}
	return c.JSON(fiber.Map{"success": true})
}
