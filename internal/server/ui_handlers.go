package server

import (
	"log/slog"
	"net/http"

	"github.com/cwbudde/esbench/internal/ui"
)

// handleIndex handles GET /
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	// Only handle exact root path
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	jobs := s.jobManager.ListJobs()
	jobItems := make([]ui.JobListItem, len(jobs))
	for i, job := range jobs {
		jobItems[i] = ui.JobListItem{
			ID:            job.ID,
			State:         string(job.State),
			Algorithm:     job.Config.Algorithm,
			ProblemName:   problemLabel(job.Config.Problem, job.Config.Dimension),
			Runs:          job.Config.Runs,
			RunsCompleted: job.RunsCompleted,
			BestFitness:   job.BestFitness,
			StartTime:     job.StartTime,
			Error:         job.Error,
		}
	}

	var expItems []ui.ExperimentListItem
	if s.store != nil {
		infos, err := s.store.ListExperiments()
		if err != nil {
			slog.Warn("Failed to list experiments for index", "error", err)
		}
		for _, info := range infos {
			expItems = append(expItems, ui.ExperimentListItem{
				ID:          info.ID,
				Name:        info.Name,
				Algorithm:   info.Algorithm,
				ProblemName: info.ProblemName,
				Dimension:   info.Dimension,
				Runs:        info.Runs,
				Budget:      info.Budget,
				Best:        info.Best,
				Mean:        info.Mean,
				Timestamp:   info.Timestamp,
			})
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := ui.Index(jobItems, expItems).Render(r.Context(), w); err != nil {
		http.Error(w, "Failed to render page", http.StatusInternalServerError)
		return
	}
}
