package server

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cwbudde/esbench/internal/store"
	"github.com/google/uuid"
)

// JobState represents the current state of a job
type JobState string

const (
	StatePending   JobState = "pending"
	StateRunning   JobState = "running"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
	StateCancelled JobState = "cancelled"
)

// JobConfig is the experiment a job executes.
type JobConfig = store.ExperimentConfig

// Job is an experiment executed in the background by the server.
// The job ID doubles as the experiment ID in the store.
type Job struct {
	ID            string         `json:"id"`
	State         JobState       `json:"state"`
	Config        JobConfig      `json:"config"`
	RunsCompleted int            `json:"runsCompleted"`
	BestFitness   *float64       `json:"bestFitness,omitempty"` // best over completed runs
	Summary       *store.Summary `json:"summary,omitempty"`
	StartTime     time.Time      `json:"startTime"`
	EndTime       *time.Time     `json:"endTime,omitempty"`
	Error         string         `json:"error,omitempty"`
}

// Finished reports whether the job reached a terminal state.
func (j *Job) Finished() bool {
	return j.State == StateCompleted || j.State == StateFailed || j.State == StateCancelled
}

// Elapsed returns the wall time spent on the job so far.
func (j *Job) Elapsed() time.Duration {
	if j.EndTime != nil {
		return j.EndTime.Sub(j.StartTime)
	}
	return time.Since(j.StartTime)
}

// JobManager manages the lifecycle of jobs
type JobManager struct {
	mu          sync.RWMutex
	jobs        map[string]*Job
	cancels     map[string]context.CancelFunc
	broadcaster *EventBroadcaster
}

// NewJobManager creates a new JobManager
func NewJobManager() *JobManager {
	return &JobManager{
		jobs:        make(map[string]*Job),
		cancels:     make(map[string]context.CancelFunc),
		broadcaster: NewEventBroadcaster(),
	}
}

// CreateJob registers a pending job for the given configuration
func (jm *JobManager) CreateJob(config JobConfig) *Job {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job := &Job{
		ID:        uuid.New().String(),
		State:     StatePending,
		Config:    config,
		StartTime: time.Now(),
	}

	jm.jobs[job.ID] = job
	snapshot := *job
	return &snapshot
}

// GetJob returns a snapshot of the job with the given ID
func (jm *JobManager) GetJob(id string) (*Job, bool) {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	job, exists := jm.jobs[id]
	if !exists {
		return nil, false
	}
	snapshot := *job
	return &snapshot, true
}

// ListJobs returns snapshots of all jobs, oldest first
func (jm *JobManager) ListJobs() []*Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	jobs := make([]*Job, 0, len(jm.jobs))
	for _, job := range jm.jobs {
		snapshot := *job
		jobs = append(jobs, &snapshot)
	}
	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].StartTime.Before(jobs[k].StartTime)
	})
	return jobs
}

// UpdateJob atomically updates a job using the provided function
func (jm *JobManager) UpdateJob(id string, updateFn func(*Job)) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job, exists := jm.jobs[id]
	if !exists {
		return fmt.Errorf("job not found: %s", id)
	}

	updateFn(job)
	return nil
}

// GetRunningJobs returns all jobs currently in the running state
func (jm *JobManager) GetRunningJobs() []*Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	runningJobs := make([]*Job, 0)
	for _, job := range jm.jobs {
		if job.State == StateRunning {
			snapshot := *job
			runningJobs = append(runningJobs, &snapshot)
		}
	}
	return runningJobs
}

// Start derives a cancellable context for the job's worker.
func (jm *JobManager) Start(parent context.Context, id string) context.Context {
	ctx, cancel := context.WithCancel(parent)

	jm.mu.Lock()
	jm.cancels[id] = cancel
	jm.mu.Unlock()

	return ctx
}

// Done releases the job's context once its worker has returned.
func (jm *JobManager) Done(id string) {
	jm.mu.Lock()
	cancel, ok := jm.cancels[id]
	delete(jm.cancels, id)
	jm.mu.Unlock()

	if ok {
		cancel()
	}
}

// CancelJob asks the job's worker to stop. Experiments observe cancellation
// between runs, so the current run is finished first.
func (jm *JobManager) CancelJob(id string) error {
	jm.mu.RLock()
	job, exists := jm.jobs[id]
	var finished bool
	if exists {
		finished = job.Finished()
	}
	cancel, running := jm.cancels[id]
	jm.mu.RUnlock()

	if !exists {
		return fmt.Errorf("job not found: %s", id)
	}
	if finished || !running {
		return fmt.Errorf("job %s is not running", id)
	}

	cancel()
	return nil
}
