package server

import (
	"context"
	"testing"
	"time"

	"github.com/cwbudde/esbench/internal/experiment"
)

func TestJobManager_CreateJob(t *testing.T) {
	jm := NewJobManager()

	config := experiment.DefaultConfig()
	config.Problem = 1

	job := jm.CreateJob(config)

	if job.ID == "" {
		t.Error("Job ID should not be empty")
	}

	if job.State != StatePending {
		t.Errorf("Initial state should be pending, got %s", job.State)
	}

	if job.Config.Problem != 1 {
		t.Errorf("Config not set correctly")
	}
}

func TestJobManager_GetJob(t *testing.T) {
	jm := NewJobManager()

	job := jm.CreateJob(experiment.DefaultConfig())

	retrieved, exists := jm.GetJob(job.ID)
	if !exists {
		t.Fatal("Job should exist")
	}

	if retrieved.ID != job.ID {
		t.Error("Retrieved wrong job")
	}

	// Snapshots do not alias the managed job
	retrieved.State = StateFailed
	again, _ := jm.GetJob(job.ID)
	if again.State != StatePending {
		t.Errorf("Modifying a snapshot changed the job: %s", again.State)
	}

	_, exists = jm.GetJob("nonexistent")
	if exists {
		t.Error("Should not find nonexistent job")
	}
}

func TestJobManager_ListJobs(t *testing.T) {
	jm := NewJobManager()

	if len(jm.ListJobs()) != 0 {
		t.Error("Should start with no jobs")
	}

	first := jm.CreateJob(experiment.DefaultConfig())
	time.Sleep(time.Millisecond)
	second := jm.CreateJob(experiment.DefaultConfig())

	jobs := jm.ListJobs()
	if len(jobs) != 2 {
		t.Fatalf("Expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0].ID != first.ID || jobs[1].ID != second.ID {
		t.Error("Jobs should be listed oldest first")
	}
}

func TestJobManager_UpdateJob(t *testing.T) {
	jm := NewJobManager()

	job := jm.CreateJob(experiment.DefaultConfig())

	best := 123.45
	err := jm.UpdateJob(job.ID, func(j *Job) {
		j.State = StateRunning
		j.RunsCompleted = 10
		j.BestFitness = &best
	})

	if err != nil {
		t.Errorf("Update should succeed: %v", err)
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateRunning {
		t.Error("State should be updated")
	}
	if updated.RunsCompleted != 10 {
		t.Error("RunsCompleted should be updated")
	}
	if updated.BestFitness == nil || *updated.BestFitness != 123.45 {
		t.Error("BestFitness should be updated")
	}

	running := jm.GetRunningJobs()
	if len(running) != 1 || running[0].ID != job.ID {
		t.Errorf("Expected one running job, got %d", len(running))
	}

	err = jm.UpdateJob("nonexistent", func(j *Job) {})
	if err == nil {
		t.Error("Update of nonexistent job should fail")
	}
}

func TestJobManager_Cancel(t *testing.T) {
	jm := NewJobManager()

	job := jm.CreateJob(experiment.DefaultConfig())

	// Not started yet
	if err := jm.CancelJob(job.ID); err == nil {
		t.Error("Cancelling a job without a worker should fail")
	}

	ctx := jm.Start(context.Background(), job.ID)
	if err := jm.CancelJob(job.ID); err != nil {
		t.Fatalf("CancelJob failed: %v", err)
	}

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("Job context was not cancelled")
	}

	jm.Done(job.ID)
	if err := jm.CancelJob(job.ID); err == nil {
		t.Error("Cancelling a finished worker should fail")
	}
	if err := jm.CancelJob("nonexistent"); err == nil {
		t.Error("Cancelling a nonexistent job should fail")
	}
}

func TestJob_Elapsed(t *testing.T) {
	start := time.Now().Add(-2 * time.Second)
	end := start.Add(time.Second)

	job := &Job{StartTime: start, EndTime: &end, State: StateCompleted}
	if job.Elapsed() != time.Second {
		t.Errorf("Expected 1s elapsed, got %v", job.Elapsed())
	}
	if !job.Finished() {
		t.Error("Completed job should be finished")
	}

	job = &Job{StartTime: start, State: StateRunning}
	if job.Elapsed() < 2*time.Second {
		t.Errorf("Expected at least 2s elapsed, got %v", job.Elapsed())
	}
	if job.Finished() {
		t.Error("Running job should not be finished")
	}
}

func TestJobManager_ThreadSafety(t *testing.T) {
	jm := NewJobManager()

	job := jm.CreateJob(experiment.DefaultConfig())

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func(run int) {
			jm.UpdateJob(job.ID, func(j *Job) {
				j.RunsCompleted = run
				time.Sleep(1 * time.Millisecond)
			})
			jm.ListJobs()
			done <- true
		}(i)
	}

	for i := 0; i < 10; i++ {
		<-done
	}

	_, exists := jm.GetJob(job.ID)
	if !exists {
		t.Error("Job should still exist after concurrent updates")
	}
}
