package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"text/tabwriter"
	"time"

	"github.com/cwbudde/esbench/internal/store"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	serverURL string
)

var statusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Query server status or specific job",
	Long: `Queries the server for job status information.
If no job-id is provided, lists all jobs.
If job-id is provided, shows detailed status for that job.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	rootCmd.AddCommand(statusCmd)
}

// jobStatus mirrors the server's job and status payloads.
type jobStatus struct {
	ID            string                 `json:"id"`
	State         string                 `json:"state"`
	Config        store.ExperimentConfig `json:"config"`
	RunsCompleted int                    `json:"runsCompleted"`
	BestFitness   *float64               `json:"bestFitness"`
	Summary       *store.Summary         `json:"summary"`
	Elapsed       float64                `json:"elapsed"`
	StartTime     time.Time              `json:"startTime"`
	Error         string                 `json:"error"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if len(args) == 0 {
		var jobs []jobStatus
		if err := getJSON(fmt.Sprintf("%s/api/v1/jobs", serverURL), &jobs); err != nil {
			return err
		}
		printJobs(out, jobs)
		return nil
	}

	jobID := args[0]
	var status jobStatus
	if err := getJSON(fmt.Sprintf("%s/api/v1/jobs/%s/status", serverURL, jobID), &status); err != nil {
		var statusErr *httpStatusError
		if errors.As(err, &statusErr) && statusErr.code == http.StatusNotFound {
			return fmt.Errorf("job not found: %s", jobID)
		}
		return err
	}
	printJobStatus(out, status)
	return nil
}

type httpStatusError struct {
	code int
	body string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.code, e.body)
}

func getJSON(url string, v any) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &httpStatusError{code: resp.StatusCode, body: string(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func printJobs(out io.Writer, jobs []jobStatus) {
	if len(jobs) == 0 {
		fmt.Fprintln(out, "No jobs found")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "JOB ID\tSTATE\tALGORITHM\tPROBLEM\tRUNS\tBEST\tSTARTED")
	for _, job := range jobs {
		best := "-"
		if job.BestFitness != nil {
			best = fmt.Sprintf("%.6g", *job.BestFitness)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\tf%d d=%d\t%d/%d\t%s\t%s\n",
			job.ID,
			job.State,
			job.Config.Algorithm,
			job.Config.Problem,
			job.Config.Dimension,
			job.RunsCompleted,
			job.Config.Runs,
			best,
			humanize.Time(job.StartTime),
		)
	}
	w.Flush()
}

func printJobStatus(out io.Writer, status jobStatus) {
	cfg := status.Config

	fmt.Fprintf(out, "Job: %s\n", status.ID)
	fmt.Fprintf(out, "State: %s\n\n", status.State)

	fmt.Fprintln(out, "Configuration:")
	fmt.Fprintf(out, "  Algorithm: %s\n", cfg.Algorithm)
	fmt.Fprintf(out, "  Problem: f%d, dimension %d, instance %d\n", cfg.Problem, cfg.Dimension, cfg.Instance)
	fmt.Fprintf(out, "  Runs: %d x %s evaluations\n", cfg.Runs, humanize.Comma(int64(cfg.Budget)))
	fmt.Fprintf(out, "  mu=%d lambda=%d sigma=%g seed=%d\n\n", cfg.PopulationSize, cfg.OffspringSize, cfg.Sigma, cfg.Seed)

	fmt.Fprintln(out, "Progress:")
	fmt.Fprintf(out, "  Runs completed: %d/%d\n", status.RunsCompleted, cfg.Runs)
	if status.BestFitness != nil {
		fmt.Fprintf(out, "  Best fitness: %.8g\n", *status.BestFitness)
	}
	if status.Summary != nil {
		fmt.Fprintf(out, "  Mean: %.8g  Std: %.8g\n", status.Summary.Mean, status.Summary.Std)
	}
	elapsed := time.Duration(status.Elapsed * float64(time.Second))
	fmt.Fprintf(out, "  Elapsed: %s\n", elapsed.Round(time.Millisecond))

	if status.Error != "" {
		fmt.Fprintf(out, "\nError: %s\n", status.Error)
	}
}
