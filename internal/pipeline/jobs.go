package pipeline

import (
	"context"
	"time"

	"raito/internal/model"
	"raito/internal/store"
)

// statusOrder gives each JobStatus its position in the forward-only
// lattice (spec invariant 1); terminal statuses sort last and are
// mutually exclusive.
var statusOrder = map[model.JobStatus]int{
	model.JobQueued:     0,
	model.JobFetching:   1,
	model.JobFetched:    2,
	model.JobExtracting: 3,
	model.JobExtracted:  4,
	model.JobValidating: 5,
	model.JobCompleted:  6,
	model.JobFailed:     6,
}

func loadJob(ctx context.Context, s store.Interface, jobID string) (*model.Job, error) {
	var job model.Job
	if err := s.Get(ctx, model.NSJobs, jobID, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// advanceJobStatus moves job to status, refusing to move a terminal
// job backward or sideways into a different terminal state — this is
// what keeps a late duplicate extraction.failed from clobbering an
// already-completed job.
func advanceJobStatus(ctx context.Context, s store.Interface, jobID string, status model.JobStatus, mutate func(*model.Job)) error {
	job, err := loadJob(ctx, s, jobID)
	if err != nil {
		return err
	}

	if job.Status.IsTerminal() {
		return nil
	}
	if statusOrder[status] < statusOrder[job.Status] {
		return nil
	}

	job.Status = status
	job.UpdatedAt = time.Now().UTC()
	if mutate != nil {
		mutate(job)
	}
	return s.Set(ctx, model.NSJobs, jobID, job)
}

func markJobFailed(ctx context.Context, s store.Interface, jobID, errMsg, stage string) error {
	return advanceJobStatus(ctx, s, jobID, model.JobFailed, func(j *model.Job) {
		now := time.Now().UTC()
		j.Error = errMsg
		j.Stage = stage
		j.FailedAt = &now
	})
}

func markJobCompleted(ctx context.Context, s store.Interface, jobID string) error {
	return advanceJobStatus(ctx, s, jobID, model.JobCompleted, func(j *model.Job) {
		now := time.Now().UTC()
		j.CompletedAt = &now
	})
}
