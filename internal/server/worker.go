package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cwbudde/esbench/internal/experiment"
	"github.com/cwbudde/esbench/internal/store"
)

// runJob executes the job's experiment in the background. Results are saved
// to st under the job ID; traces go to traceDir when the config enables them.
func runJob(ctx context.Context, jm *JobManager, st store.Store, traceDir, jobID string) error {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return fmt.Errorf("job not found: %s", jobID)
	}

	err := jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateRunning
	})
	if err != nil {
		return err
	}

	slog.Info("Starting job",
		"job_id", jobID,
		"algorithm", job.Config.Algorithm,
		"problem", job.Config.Problem,
		"runs", job.Config.Runs,
	)

	select {
	case <-ctx.Done():
		markJobCancelled(jm, jobID)
		return ctx.Err()
	default:
	}

	progressDone := make(chan struct{})
	go monitorProgress(ctx, jm, jobID, progressDone)

	runner := &experiment.Runner{
		Store:    st,
		TraceDir: traceDir,
		OnRun: func(p experiment.Progress) {
			best := p.Best
			jm.UpdateJob(jobID, func(j *Job) {
				j.RunsCompleted = p.Run + 1
				j.BestFitness = &best
			})
			if updated, ok := jm.GetJob(jobID); ok {
				jm.broadcaster.Broadcast(progressEvent(updated))
			}
		},
	}

	result, err := runner.RunWithID(ctx, jobID, job.Config)
	close(progressDone)

	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			markJobCancelled(jm, jobID)
		} else {
			markJobFailed(jm, jobID, err)
		}
		return err
	}

	endTime := time.Now()
	summary := result.Summary
	err = jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCompleted
		j.RunsCompleted = len(result.Runs)
		j.BestFitness = &summary.Best
		j.Summary = &summary
		j.EndTime = &endTime
	})
	if err != nil {
		return err
	}

	slog.Info("Job completed",
		"job_id", jobID,
		"elapsed", endTime.Sub(job.StartTime),
		"best", summary.Best,
		"mean", summary.Mean,
	)

	broadcastState(jm, jobID)
	return nil
}

// monitorProgress periodically broadcasts progress events so that stream
// clients see elapsed time advance during long runs.
func monitorProgress(ctx context.Context, jm *JobManager, jobID string, done chan struct{}) {
	ticker := time.NewTicker(500 * time.Millisecond) // Throttle to 2 updates per second
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			job, exists := jm.GetJob(jobID)
			if !exists || job.Finished() {
				return
			}
			jm.broadcaster.Broadcast(progressEvent(job))
		}
	}
}

func broadcastState(jm *JobManager, jobID string) {
	if job, ok := jm.GetJob(jobID); ok {
		jm.broadcaster.Broadcast(progressEvent(job))
	}
}

// markJobFailed marks a job as failed with an error message
func markJobFailed(jm *JobManager, jobID string, err error) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateFailed
		j.Error = err.Error()
		j.EndTime = &endTime
	})
	slog.Error("Job failed", "job_id", jobID, "error", err)
	broadcastState(jm, jobID)
}

// markJobCancelled marks a job as cancelled
func markJobCancelled(jm *JobManager, jobID string) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCancelled
		j.EndTime = &endTime
	})
	slog.Info("Job cancelled", "job_id", jobID)
	broadcastState(jm, jobID)
}
