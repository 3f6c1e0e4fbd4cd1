package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorKind classifies a scraper failure into the buckets the Fetch
// stage surfaces on extraction.failed. Timeout, rate-limit (HTTP
// 429), and 404 are each classified distinctly but all converge on
// extraction.failed with stage=fetching.
type ErrorKind string

const (
	ErrorTimeout           ErrorKind = "provider-timeout"
	ErrorRateLimit         ErrorKind = "provider-rate-limit"
	ErrorNotFound          ErrorKind = "provider-not-found"
	ErrorRobotsDisallowed  ErrorKind = "provider-robots-disallowed"
	ErrorOther             ErrorKind = "provider-other"
)

// Error wraps a scraper failure with its classification.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Classify maps a raw error or HTTP status code from a scraper
// backend into an ErrorKind.
func Classify(status int, err error) ErrorKind {
	if status == http.StatusTooManyRequests {
		return ErrorRateLimit
	}
	if status == http.StatusNotFound {
		return ErrorNotFound
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTimeout
	}

	if err != nil {
		return ErrorOther
	}
	return ""
}
