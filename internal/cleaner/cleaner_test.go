package cleaner

import (
	"strings"
	"testing"
)

func TestToMarkdownConvertsHeading(t *testing.T) {
	md, err := ToMarkdown("<html><body><h1>Hello</h1><p>World</p></body></html>")
	if err != nil {
		t.Fatalf("ToMarkdown: %v", err)
	}
	if !strings.Contains(md, "Hello") || !strings.Contains(md, "World") {
		t.Fatalf("expected markdown to contain source text, got %q", md)
	}
}

func TestToMarkdownEmptyInput(t *testing.T) {
	md, err := ToMarkdown("")
	if err != nil {
		t.Fatalf("ToMarkdown: %v", err)
	}
	if strings.TrimSpace(md) != "" {
		t.Fatalf("expected empty markdown for empty input, got %q", md)
	}
}
