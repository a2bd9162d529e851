// Package ui renders the server's HTML overview page.
package ui

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/a-h/templ"
	"github.com/dustin/go-humanize"
)

// JobListItem is one row of the jobs table.
type JobListItem struct {
	ID            string
	State         string
	Algorithm     string
	ProblemName   string
	Runs          int
	RunsCompleted int
	BestFitness   *float64
	StartTime     time.Time
	Error         string
}

// ExperimentListItem is one row of the stored experiments table.
type ExperimentListItem struct {
	ID          string
	Name        string
	Algorithm   string
	ProblemName string
	Dimension   int
	Runs        int
	Budget      int
	Best        float64
	Mean        float64
	Timestamp   time.Time
}

const pageHead = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>esbench</title>
<style>
body { font-family: sans-serif; margin: 2rem; }
table { border-collapse: collapse; margin-bottom: 2rem; }
th, td { border: 1px solid #ccc; padding: 0.3rem 0.6rem; text-align: left; }
td.num { text-align: right; font-family: monospace; }
.failed { color: #b00; }
</style>
</head>
<body>
`

// Index renders the job and experiment overview.
func Index(jobs []JobListItem, experiments []ExperimentListItem) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, pageHead); err != nil {
			return err
		}
		if err := jobTable(jobs).Render(ctx, w); err != nil {
			return err
		}
		if err := experimentTable(experiments).Render(ctx, w); err != nil {
			return err
		}
		_, err := io.WriteString(w, "</body>\n</html>\n")
		return err
	})
}

func jobTable(jobs []JobListItem) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, "<h1>Jobs</h1>\n"); err != nil {
			return err
		}
		if len(jobs) == 0 {
			_, err := io.WriteString(w, "<p>No jobs yet.</p>\n")
			return err
		}

		io.WriteString(w, "<table>\n<tr><th>ID</th><th>State</th><th>Algorithm</th><th>Problem</th><th>Runs</th><th>Best</th><th>Started</th></tr>\n")
		for _, j := range jobs {
			best := "-"
			if j.BestFitness != nil {
				best = formatFloat(*j.BestFitness)
			}
			state := templ.EscapeString(j.State)
			if j.Error != "" {
				state = fmt.Sprintf(`<span class="failed" title="%s">%s</span>`, templ.EscapeString(j.Error), state)
			}
			_, err := fmt.Fprintf(w,
				`<tr><td><a href="/api/v1/jobs/%s">%s</a></td><td>%s</td><td>%s</td><td>%s</td><td class="num">%d/%d</td><td class="num">%s</td><td>%s</td></tr>`+"\n",
				templ.EscapeString(j.ID), templ.EscapeString(shortID(j.ID)), state,
				templ.EscapeString(j.Algorithm), templ.EscapeString(j.ProblemName),
				j.RunsCompleted, j.Runs, best, humanize.Time(j.StartTime),
			)
			if err != nil {
				return err
			}
		}
		_, err := io.WriteString(w, "</table>\n")
		return err
	})
}

func experimentTable(experiments []ExperimentListItem) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, "<h1>Experiments</h1>\n"); err != nil {
			return err
		}
		if len(experiments) == 0 {
			_, err := io.WriteString(w, "<p>No stored experiments.</p>\n")
			return err
		}

		io.WriteString(w, "<table>\n<tr><th>ID</th><th>Name</th><th>Algorithm</th><th>Problem</th><th>Dim</th><th>Runs</th><th>Budget</th><th>Best</th><th>Mean</th><th>Finished</th></tr>\n")
		for _, e := range experiments {
			_, err := fmt.Fprintf(w,
				`<tr><td><a href="/api/v1/experiments/%s">%s</a></td><td>%s</td><td>%s</td><td>%s</td><td class="num">%d</td><td class="num">%d</td><td class="num">%s</td><td class="num">%s</td><td class="num">%s</td><td>%s</td></tr>`+"\n",
				templ.EscapeString(e.ID), templ.EscapeString(shortID(e.ID)), templ.EscapeString(e.Name),
				templ.EscapeString(e.Algorithm), templ.EscapeString(e.ProblemName),
				e.Dimension, e.Runs, humanize.Comma(int64(e.Budget)),
				formatFloat(e.Best), formatFloat(e.Mean), humanize.Time(e.Timestamp),
			)
			if err != nil {
				return err
			}
		}
		_, err := io.WriteString(w, "</table>\n")
		return err
	})
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', 8, 64)
}
