// Package progress implements the pipeline's Progress Stream (C3):
// one key per job_id, last-write-wins, used by stages to surface
// real-time status to clients.
package progress

import "context"

// Stream is the contract both backends satisfy. Writes are advisory:
// a failed write must never fail the stage that issued it, mirroring
// web2api's progress_service, which swallows its own write errors and
// logs at debug level only.
type Stream interface {
	Update(ctx context.Context, jobID, status string, percent int, message string) error
}
