package progress

import (
	"context"
	"testing"
)

func TestMemoryStreamLastWriteWins(t *testing.T) {
	s := NewMemoryStream()
	ctx := context.Background()

	if err := s.Update(ctx, "job_1", "fetching", 20, "fetching page"); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := s.Update(ctx, "job_1", "extracting", 60, "extracting fields"); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, ok := s.Get("job_1")
	if !ok {
		t.Fatal("expected entry")
	}
	if got.Status != "extracting" || got.Percent != 60 {
		t.Fatalf("expected last write to win, got %+v", got)
	}
}
