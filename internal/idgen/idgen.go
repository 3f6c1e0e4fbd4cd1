// Package idgen generates the pipeline's identifiers and content
// hashes: job/scraper/monitor ids and the two cache keys.
package idgen

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
	"raito/internal/model"
)

func shortUUID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// NewJobID mints a job_id ("job_" + 12 hex chars).
func NewJobID() string {
	return "job_" + shortUUID()
}

// NewScraperID mints a scraper_id ("scr_" + 12 hex chars).
func NewScraperID() string {
	return "scr_" + shortUUID()
}

// HashURL returns the first 12 hex characters of SHA-256(url), used
// as the message-group id for scheduled refreshes and as half of
// MonitorID.
func HashURL(url string) string {
	return hashHex(url)[:12]
}

// HashURLFull returns the full SHA-256(url) hex digest, used as the
// content-cache key.
func HashURLFull(url string) string {
	return hashHex(url)
}

func hashHex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// MonitorID derives a deterministic monitor id from a scraper id and
// url: scraper_id + "_" + first-12-hex of SHA-256(url).
func MonitorID(scraperID, url string) string {
	return scraperID + "_" + HashURL(url)
}

// ExtractionCacheKey returns the first 16 hex characters of
// SHA-256(url + "|" + canonical(schema)). Two schemas that differ only
// in key order must collide, which is why it goes through
// Schema.CanonicalString rather than re-serializing the schema itself.
func ExtractionCacheKey(url string, schema model.Schema) string {
	combined := url + "|" + schema.CanonicalString()
	return hashHex(combined)[:16]
}

// ContentCacheKey returns the full SHA-256(url) hex digest — the same
// value as HashURLFull, kept as a distinct name because the two keys
// are conceptually different namespaces that happen to share an
// algorithm.
func ContentCacheKey(url string) string {
	return HashURLFull(url)
}
