package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/temoto/robotstxt"
)

// RobotsConfig controls whether RodScraper consults robots.txt before
// launching a browser against a URL.
type RobotsConfig struct {
	Respect   bool
	UserAgent string
	Timeout   time.Duration
}

// checkRobots fetches robots.txt for u's host and reports whether
// UserAgent may fetch u. A robots.txt fetch failure is treated as
// allow (most sites don't serve one at all), matching the permissive
// default web2api's fetch_step.py uses when the robots request itself
// errors rather than returning a disallow rule.
func checkRobots(ctx context.Context, cfg RobotsConfig, u *url.URL) (bool, error) {
	if !cfg.Respect {
		return true, nil
	}

	robotsURL := &url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/robots.txt"}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return true, nil
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return true, nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return true, nil
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return true, nil
	}

	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		return true, nil
	}

	agent := cfg.UserAgent
	if agent == "" {
		agent = "raito"
	}
	group := data.FindGroup(agent)
	allowed := group.Test(u.Path)
	if !allowed {
		return false, fmt.Errorf("robots.txt disallows %s for agent %q", u.Path, agent)
	}
	return true, nil
}
