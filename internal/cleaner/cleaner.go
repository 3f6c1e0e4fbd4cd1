// Package cleaner reduces fetched HTML down to the markdown the
// Extract stage feeds to the LLM client. The Fetch stage calls it when
// a scraper result carries HTML but no markdown; HTTPScraper and
// RodScraper still run their own inline conversion.
package cleaner

import (
	"fmt"

	htmlmd "github.com/JohannesKaufmann/html-to-markdown"
)

// ToMarkdown converts an HTML document into markdown using the same
// CommonMark-enabled converter the scraper backends use inline.
func ToMarkdown(html string) (string, error) {
	converter := htmlmd.NewConverter("", true, nil)
	markdown, err := converter.ConvertString(html)
	if err != nil {
		return "", fmt.Errorf("cleaner: convert html to markdown: %w", err)
	}
	return markdown, nil
}
