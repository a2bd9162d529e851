package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cwbudde/esbench/internal/problem"
	"github.com/cwbudde/esbench/internal/store"
)

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()

	tmpDir := t.TempDir()
	st, err := store.NewFSStore(tmpDir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	s := NewServer(":8080", st, tmpDir)
	t.Cleanup(func() { s.Shutdown(context.Background()) })
	return s, tmpDir
}

// waitForState polls the job manager until the job leaves pending/running.
func waitForState(t *testing.T, s *Server, jobID string) *Job {
	t.Helper()

	for i := 0; i < 100; i++ {
		job, ok := s.jobManager.GetJob(jobID)
		if !ok {
			t.Fatalf("Job %s disappeared", jobID)
		}
		if job.Finished() {
			return job
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("Job did not finish in time")
	return nil
}

func TestServer_CreateJob(t *testing.T) {
	s, _ := newTestServer(t)

	body, _ := json.Marshal(testJobConfig())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", bytes.NewReader(body))
	w := httptest.NewRecorder()

	s.handleCreateJob(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}

	var job Job
	if err := json.NewDecoder(w.Body).Decode(&job); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if job.ID == "" {
		t.Error("Job ID should not be empty")
	}

	// State should be pending or running (since worker starts immediately)
	if job.State != StatePending && job.State != StateRunning {
		t.Errorf("Expected pending or running state, got %s", job.State)
	}

	if finished := waitForState(t, s, job.ID); finished.State != StateCompleted {
		t.Errorf("Expected completed job, got %s (%s)", finished.State, finished.Error)
	}
}

func TestServer_CreateJob_Defaults(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", strings.NewReader(`{"runs": 1, "budget": 0}`))
	w := httptest.NewRecorder()

	s.handleCreateJob(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}

	var job Job
	json.NewDecoder(w.Body).Decode(&job)

	if job.Config.Problem != 23 || job.Config.Dimension != 10 || job.Config.PopulationSize != 50 {
		t.Errorf("Omitted fields should take defaults, got %+v", job.Config)
	}
	if job.Config.Runs != 1 {
		t.Errorf("Expected runs 1, got %d", job.Config.Runs)
	}

	waitForState(t, s, job.ID)
}

func TestServer_CreateJob_Invalid(t *testing.T) {
	s, _ := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"runs":`},
		{"zero runs", `{"runs": 0}`},
		{"negative sigma", `{"sigma": -1}`},
		{"inverted bounds", `{"lower": 5, "upper": -5}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", strings.NewReader(tt.body))
			w := httptest.NewRecorder()

			s.handleCreateJob(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d", w.Code)
			}
		})
	}

	if len(s.jobManager.ListJobs()) != 0 {
		t.Error("Invalid requests should not create jobs")
	}
}

func TestServer_CreateJob_TraceWithoutDir(t *testing.T) {
	s := NewServer(":8080", nil, "")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", strings.NewReader(`{"trace": true}`))
	w := httptest.NewRecorder()

	s.handleCreateJob(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestServer_ListJobs(t *testing.T) {
	s, _ := newTestServer(t)

	s.jobManager.CreateJob(testJobConfig())
	s.jobManager.CreateJob(testJobConfig())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
	w := httptest.NewRecorder()

	s.handleListJobs(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var jobs []*Job
	if err := json.NewDecoder(w.Body).Decode(&jobs); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if len(jobs) != 2 {
		t.Errorf("Expected 2 jobs, got %d", len(jobs))
	}
}

func TestServer_GetJobStatus(t *testing.T) {
	s, _ := newTestServer(t)

	job := s.jobManager.CreateJob(testJobConfig())

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/jobs/%s/status", job.ID), nil)
	w := httptest.NewRecorder()

	s.handleGetJobStatus(w, req, job.ID)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var response map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if response["id"] != job.ID {
		t.Error("Response should contain job ID")
	}

	if response["state"] != string(StatePending) {
		t.Errorf("Expected pending state, got %v", response["state"])
	}

	if response["runs"] != float64(3) {
		t.Errorf("Expected 3 runs, got %v", response["runs"])
	}
}

func TestServer_GetJobStatus_NotFound(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/nonexistent/status", nil)
	w := httptest.NewRecorder()

	s.handleGetJobStatus(w, req, "nonexistent")

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestServer_CancelJob(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	config := testJobConfig()
	config.Runs = 100000
	config.Budget = 1000
	body, _ := json.Marshal(config)

	resp, err := http.Post(srv.URL+"/api/v1/jobs", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to create job: %v", err)
	}
	var job Job
	json.NewDecoder(resp.Body).Decode(&job)
	resp.Body.Close()

	// GET is not allowed
	resp, err = http.Get(srv.URL + "/api/v1/jobs/" + job.ID + "/cancel")
	if err != nil {
		t.Fatalf("GET cancel failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", resp.StatusCode)
	}

	resp, err = http.Post(srv.URL+"/api/v1/jobs/"+job.ID+"/cancel", "application/json", nil)
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", resp.StatusCode)
	}

	if finished := waitForState(t, s, job.ID); finished.State != StateCancelled {
		t.Errorf("Expected cancelled job, got %s", finished.State)
	}

	// Cancelling again conflicts
	resp, err = http.Post(srv.URL+"/api/v1/jobs/"+job.ID+"/cancel", "application/json", nil)
	if err != nil {
		t.Fatalf("Second cancel failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("Expected 409, got %d", resp.StatusCode)
	}
}

func TestServer_Integration(t *testing.T) {
	// Skip in short mode
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	config := testJobConfig()
	config.Trace = true
	body, _ := json.Marshal(config)

	resp, err := http.Post(srv.URL+"/api/v1/jobs", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to create job: %v", err)
	}
	defer resp.Body.Close()

	var job Job
	json.NewDecoder(resp.Body).Decode(&job)

	// Poll status until completed
	maxAttempts := 50
	for i := 0; i < maxAttempts; i++ {
		resp, err := http.Get(srv.URL + "/api/v1/jobs/" + job.ID + "/status")
		if err != nil {
			t.Fatalf("Failed to get status: %v", err)
		}

		var status map[string]interface{}
		json.NewDecoder(resp.Body).Decode(&status)
		resp.Body.Close()

		if status["state"] == string(StateCompleted) {
			break
		}

		if status["state"] == string(StateFailed) {
			t.Fatalf("Job failed: %v", status["error"])
		}

		if i == maxAttempts-1 {
			t.Fatal("Job did not complete in time")
		}

		time.Sleep(100 * time.Millisecond)
	}

	// Stored experiment is listed and retrievable
	resp, err = http.Get(srv.URL + "/api/v1/experiments")
	if err != nil {
		t.Fatalf("Failed to list experiments: %v", err)
	}
	var infos []store.ExperimentInfo
	json.NewDecoder(resp.Body).Decode(&infos)
	resp.Body.Close()
	if len(infos) != 1 || infos[0].ID != job.ID {
		t.Fatalf("Expected experiment %s in listing, got %+v", job.ID, infos)
	}

	resp, err = http.Get(srv.URL + "/api/v1/experiments/" + job.ID)
	if err != nil {
		t.Fatalf("Failed to get experiment: %v", err)
	}
	var exp store.Experiment
	json.NewDecoder(resp.Body).Decode(&exp)
	resp.Body.Close()
	if len(exp.Runs) != 3 {
		t.Errorf("Expected 3 runs, got %d", len(exp.Runs))
	}

	// Trace is served as JSON lines
	resp, err = http.Get(srv.URL + "/api/v1/experiments/" + job.ID + "/trace")
	if err != nil {
		t.Fatalf("Failed to get trace: %v", err)
	}
	if resp.Header.Get("Content-Type") != "application/x-ndjson" {
		t.Errorf("Unexpected trace content type %q", resp.Header.Get("Content-Type"))
	}
	lines := 0
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		lines++
	}
	resp.Body.Close()
	total := 0
	for _, run := range exp.Runs {
		total += run.Evaluations
	}
	if lines != total {
		t.Errorf("Expected %d trace lines, got %d", total, lines)
	}

	// Delete removes the experiment
	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/experiments/"+job.ID, nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/api/v1/experiments/" + job.ID)
	if err != nil {
		t.Fatalf("Failed to get experiment: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 after delete, got %d", resp.StatusCode)
	}
}

func TestServer_Experiments_EncodedDotDotRejected(t *testing.T) {
	s, tmpDir := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	canary := filepath.Join(tmpDir, "canary.txt")
	if err := os.WriteFile(canary, []byte("keep"), 0644); err != nil {
		t.Fatalf("Failed to write canary: %v", err)
	}

	requests := []struct {
		method string
		path   string
	}{
		{http.MethodDelete, "/api/v1/experiments/%2E%2E"},
		{http.MethodDelete, "/api/v1/experiments/%2e%2e"},
		{http.MethodGet, "/api/v1/experiments/%2E%2E"},
		{http.MethodGet, "/api/v1/experiments/%2E%2E/trace"},
	}

	for _, tc := range requests {
		req, err := http.NewRequest(tc.method, srv.URL+tc.path, nil)
		if err != nil {
			t.Fatalf("NewRequest %s failed: %v", tc.path, err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s %s failed: %v", tc.method, tc.path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s %s: expected 400, got %d", tc.method, tc.path, resp.StatusCode)
		}
	}

	if _, err := os.Stat(canary); err != nil {
		t.Errorf("Data directory was touched, canary missing: %v", err)
	}
}

func TestServer_Experiments_NotFound(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	for _, path := range []string{"/api/v1/experiments/missing", "/api/v1/experiments/missing/trace"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s failed: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("GET %s: expected 404, got %d", path, resp.StatusCode)
		}
	}
}

func TestServer_Experiments_NoStore(t *testing.T) {
	s := NewServer(":8080", nil, "")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/experiments", nil)
	w := httptest.NewRecorder()
	s.handleListExperiments(w, req)

	if w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("Expected empty list, got %d %q", w.Code, w.Body.String())
	}
}

func TestServer_ListProblems(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/problems", nil)
	w := httptest.NewRecorder()
	s.handleListProblems(w, req)

	var infos []problem.Info
	if err := json.NewDecoder(w.Body).Decode(&infos); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(infos) != len(problem.Problems()) {
		t.Errorf("Expected %d problems, got %d", len(problem.Problems()), len(infos))
	}
}

func TestServer_Index(t *testing.T) {
	s, _ := newTestServer(t)
	s.jobManager.CreateJob(testJobConfig())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	s.handleIndex(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if !strings.HasPrefix(w.Header().Get("Content-Type"), "text/html") {
		t.Errorf("Expected HTML, got %s", w.Header().Get("Content-Type"))
	}
	if !containsString(w.Body.String(), "f1_sphere (d=2)") {
		t.Error("Expected job row in index page")
	}

	req = httptest.NewRequest(http.MethodGet, "/other", nil)
	w = httptest.NewRecorder()
	s.handleIndex(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown path, got %d", w.Code)
	}
}

func TestServer_JobStream_SSE(t *testing.T) {
	// Skip in short mode
	if testing.Short() {
		t.Skip("Skipping SSE test in short mode")
	}

	s, tmpDir := newTestServer(t)
	st, _ := store.NewFSStore(tmpDir)

	job := s.jobManager.CreateJob(testJobConfig())

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/jobs/%s/stream", job.ID), nil)
	w := httptest.NewRecorder()

	done := make(chan bool)
	go func() {
		s.handleJobStream(w, req, job.ID)
		done <- true
	}()

	// Give the handler time to subscribe before the job starts
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	go runJob(ctx, s.jobManager, st, tmpDir, job.ID)

	// The stream closes itself on the completion event
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("SSE handler did not finish after job completion")
	}

	if w.Header().Get("Content-Type") != "text/event-stream" {
		t.Error("Expected text/event-stream content type")
	}

	var events []ProgressEvent
	for _, line := range strings.Split(w.Body.String(), "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev ProgressEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("Failed to parse SSE event %q: %v", line, err)
		}
		events = append(events, ev)
	}

	if len(events) < 2 {
		t.Fatalf("Expected initial and completion events, got %d", len(events))
	}
	if events[0].State != StatePending {
		t.Errorf("First event should report pending, got %s", events[0].State)
	}
	final := events[len(events)-1]
	if final.State != StateCompleted || final.RunsCompleted != 3 || final.BestFitness == nil {
		t.Errorf("Unexpected final event: %+v", final)
	}
}

func TestServer_JobStream_Finished(t *testing.T) {
	s, _ := newTestServer(t)

	job := s.jobManager.CreateJob(testJobConfig())
	s.jobManager.UpdateJob(job.ID, func(j *Job) { j.State = StateFailed; j.Error = "boom" })

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+job.ID+"/stream", nil)
	w := httptest.NewRecorder()

	// Returns immediately for finished jobs
	s.handleJobStream(w, req, job.ID)

	if !containsString(w.Body.String(), `"error":"boom"`) {
		t.Errorf("Expected failed state event, got %q", w.Body.String())
	}
}

func TestServer_JobStream_NotFound(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/nonexistent/stream", nil)
	w := httptest.NewRecorder()

	s.handleJobStream(w, req, "nonexistent")

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestEventBroadcaster(t *testing.T) {
	eb := NewEventBroadcaster()

	ch := eb.Subscribe("job1")
	defer eb.Unsubscribe("job1", ch)

	best := 100.5
	event := ProgressEvent{
		JobID:         "job1",
		State:         StateRunning,
		RunsCompleted: 10,
		Runs:          20,
		BestFitness:   &best,
		Timestamp:     time.Now(),
	}
	eb.Broadcast(event)

	select {
	case received := <-ch:
		if received.JobID != "job1" {
			t.Errorf("Expected jobID job1, got %s", received.JobID)
		}
		if received.RunsCompleted != 10 {
			t.Errorf("Expected 10 runs completed, got %d", received.RunsCompleted)
		}
	case <-time.After(1 * time.Second):
		t.Error("Timeout waiting for event")
	}

	// Late subscribers get the last event
	late := eb.Subscribe("job1")
	select {
	case received := <-late:
		if received.RunsCompleted != 10 {
			t.Errorf("Expected replayed event, got %+v", received)
		}
	case <-time.After(1 * time.Second):
		t.Error("Late subscriber did not receive last event")
	}

	// Cleanup closes channels; the deferred Unsubscribe must not panic
	eb.CleanupJob("job1")
	if _, ok := <-late; ok {
		t.Error("Channel should be closed after cleanup")
	}
}

func TestShutdownClosesStreams(t *testing.T) {
	s, _ := newTestServer(t)

	job := s.jobManager.CreateJob(testJobConfig())
	events := s.jobManager.broadcaster.Subscribe(job.ID)

	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	select {
	case _, ok := <-events:
		if ok {
			t.Error("Expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Error("Subscriber channel still open after shutdown")
	}
}

func TestBroadcastKeepsTerminalEvent(t *testing.T) {
	eb := NewEventBroadcaster()
	ch := eb.Subscribe("job1")
	defer eb.Unsubscribe("job1", ch)

	for i := 0; i < subscriberBuffer+5; i++ {
		eb.Broadcast(ProgressEvent{JobID: "job1", State: StateRunning, RunsCompleted: i})
	}
	eb.Broadcast(ProgressEvent{JobID: "job1", State: StateCompleted, RunsCompleted: 20})

	var last ProgressEvent
	for len(ch) > 0 {
		last = <-ch
	}
	if last.State != StateCompleted {
		t.Errorf("Expected terminal event at the end of a full buffer, got %+v", last)
	}
}

func containsString(haystack, needle string) bool {
	return bytes.Contains([]byte(haystack), []byte(needle))
}
