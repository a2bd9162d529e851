package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// ProgressEvent represents a progress update event
type ProgressEvent struct {
	JobID         string    `json:"jobId"`
	State         JobState  `json:"state"`
	RunsCompleted int       `json:"runsCompleted"`
	Runs          int       `json:"runs"`
	BestFitness   *float64  `json:"bestFitness,omitempty"`
	Elapsed       float64   `json:"elapsed"` // seconds
	Error         string    `json:"error,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

func progressEvent(job *Job) ProgressEvent {
	return ProgressEvent{
		JobID:         job.ID,
		State:         job.State,
		RunsCompleted: job.RunsCompleted,
		Runs:          job.Config.Runs,
		BestFitness:   job.BestFitness,
		Elapsed:       job.Elapsed().Seconds(),
		Error:         job.Error,
		Timestamp:     time.Now(),
	}
}

// subscriberBuffer bounds the events queued for a slow SSE client.
const subscriberBuffer = 10

// EventBroadcaster fans job progress out to SSE subscribers and remembers the
// latest event per job for clients that connect mid-experiment.
type EventBroadcaster struct {
	mu          sync.Mutex
	subscribers map[string]map[chan ProgressEvent]struct{}
	latest      map[string]ProgressEvent
}

func NewEventBroadcaster() *EventBroadcaster {
	return &EventBroadcaster{
		subscribers: make(map[string]map[chan ProgressEvent]struct{}),
		latest:      make(map[string]ProgressEvent),
	}
}

// Subscribe registers a channel for jobID. The latest known event, if any,
// is queued on it immediately.
func (eb *EventBroadcaster) Subscribe(jobID string) chan ProgressEvent {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := make(chan ProgressEvent, subscriberBuffer)

	subs := eb.subscribers[jobID]
	if subs == nil {
		subs = make(map[chan ProgressEvent]struct{})
		eb.subscribers[jobID] = subs
	}
	subs[ch] = struct{}{}

	if ev, ok := eb.latest[jobID]; ok {
		deliver(ch, ev)
	}

	slog.Debug("SSE client subscribed", "jobID", jobID, "subscribers", len(subs))
	return ch
}

// Unsubscribe closes ch unless CleanupJob already did.
func (eb *EventBroadcaster) Unsubscribe(jobID string, ch chan ProgressEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	subs := eb.subscribers[jobID]
	if _, ok := subs[ch]; !ok {
		return
	}

	delete(subs, ch)
	close(ch)
	if len(subs) == 0 {
		delete(eb.subscribers, jobID)
	}

	slog.Debug("SSE client unsubscribed", "jobID", jobID)
}

// Broadcast records event as the latest for its job and queues it for every
// subscriber without blocking.
func (eb *EventBroadcaster) Broadcast(event ProgressEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.latest[event.JobID] = event

	subs := eb.subscribers[event.JobID]
	if len(subs) == 0 {
		return
	}

	slog.Debug("Broadcasting progress", "jobID", event.JobID, "subscribers", len(subs),
		"state", event.State, "runs_completed", event.RunsCompleted)

	for ch := range subs {
		if !deliver(ch, event) {
			slog.Warn("SSE subscriber lagging, dropped progress event", "jobID", event.JobID, "run", event.RunsCompleted)
		}
	}
}

// deliver queues ev on ch without blocking. A terminal event evicts the
// oldest queued event when the buffer is full so streams always see the end
// of the job. Callers must hold the broadcaster lock.
func deliver(ch chan ProgressEvent, ev ProgressEvent) bool {
	select {
	case ch <- ev:
		return true
	default:
	}

	if !isTerminal(ev.State) {
		return false
	}

	select {
	case <-ch:
	default:
	}
	select {
	case ch <- ev:
		return true
	default:
		return false
	}
}

func isTerminal(state JobState) bool {
	switch state {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// CleanupJob closes every subscriber of jobID and forgets its latest event.
func (eb *EventBroadcaster) CleanupJob(jobID string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for ch := range eb.subscribers[jobID] {
		close(ch)
	}
	delete(eb.subscribers, jobID)
	delete(eb.latest, jobID)

	slog.Debug("Released SSE subscribers", "jobID", jobID)
}

// handleJobStream handles SSE connections for job progress.
// The stream ends after the job reaches a terminal state.
func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request, jobID string) {
	job, exists := s.jobManager.GetJob(jobID)
	if !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	eventChan := s.jobManager.broadcaster.Subscribe(jobID)
	defer s.jobManager.broadcaster.Unsubscribe(jobID, eventChan)

	if err := writeSSEEvent(w, progressEvent(job)); err != nil {
		slog.Error("Failed to write initial SSE event", "error", err)
		return
	}
	flusher.Flush()
	if job.Finished() {
		return
	}

	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			slog.Debug("SSE client disconnected", "jobID", jobID)
			return

		case event, ok := <-eventChan:
			if !ok {
				return
			}

			if err := writeSSEEvent(w, event); err != nil {
				slog.Error("Failed to write SSE event", "error", err)
				return
			}
			flusher.Flush()

			if isTerminal(event.State) {
				return
			}

		case <-pingTicker.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

// writeSSEEvent writes an event in SSE format
func writeSSEEvent(w http.ResponseWriter, event ProgressEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	// SSE format: "data: {json}\n\n"
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
