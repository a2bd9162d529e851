package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/cwbudde/esbench/internal/problem"
)

// TraceEntry represents a single objective evaluation in the trace.
// Each entry is serialized as a JSON line in trace.jsonl.
type TraceEntry struct {
	// Run is the index of the independent run within the experiment
	Run int `json:"run"`

	// Evaluation is the objective's evaluation counter after this call
	Evaluation int `json:"evaluation"`

	Fitness   float64 `json:"fitness"`
	Precision float64 `json:"precision"` // fitness minus the optimum value
	BestSoFar float64 `json:"bestSoFar"`

	// Position is the evaluated candidate (optional, only with IncludePositions)
	Position []float64 `json:"position,omitempty"`
}

// TraceHeader labels a trace with the experiment that produced it.
// It is written to trace.meta.json next to trace.jsonl.
type TraceHeader struct {
	ExperimentID  string `json:"experimentId"`
	Name          string `json:"name"`
	Algorithm     string `json:"algorithm"`
	AlgorithmInfo string `json:"algorithmInfo,omitempty"`
	ProblemName   string `json:"problemName"`
	Dimension     int    `json:"dimension"`
	Instance      int    `json:"instance"`

	OptimumValue    float64   `json:"optimumValue"`
	OptimumPosition []float64 `json:"optimumPosition,omitempty"` // only with positions
}

// TraceWriter writes trace entries to a JSONL file.
// It uses buffered I/O for performance and is safe for concurrent use.
// Callers must Close it to guarantee all entries reach the disk.
type TraceWriter struct {
	mu        sync.Mutex
	file      *os.File
	writer    *bufio.Writer
	path      string
	positions bool
}

func tracePath(baseDir, id string) string {
	return filepath.Join(ExperimentDir(baseDir, id), "trace.jsonl")
}

func traceHeaderPath(baseDir, id string) string {
	return filepath.Join(ExperimentDir(baseDir, id), "trace.meta.json")
}

// NewTraceWriter creates a new trace writer for the given experiment.
// The trace file is created at <baseDir>/experiments/<id>/trace.jsonl and the
// header is written to trace.meta.json. If append is true, new entries are
// appended to an existing file.
func NewTraceWriter(baseDir, id string, header TraceHeader, append bool) (*TraceWriter, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	dir := ExperimentDir(baseDir, id)

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create experiment directory: %w", err)
	}

	meta, err := json.MarshalIndent(header, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal trace header: %w", err)
	}
	if err := os.WriteFile(traceHeaderPath(baseDir, id), meta, 0644); err != nil {
		return nil, fmt.Errorf("failed to write trace header: %w", err)
	}

	path := tracePath(baseDir, id)

	var file *os.File
	if append {
		file, err = os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	} else {
		file, err = os.Create(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}

	writer := bufio.NewWriterSize(file, 64*1024) // 64KB buffer

	return &TraceWriter{
		file:   file,
		writer: writer,
		path:   path,
	}, nil
}

// IncludePositions controls whether evaluated candidates are written.
func (tw *TraceWriter) IncludePositions(include bool) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	tw.positions = include
}

// Write appends a trace entry to the file.
// The entry is buffered and will be written on Flush() or Close().
func (tw *TraceWriter) Write(entry TraceEntry) error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if !tw.positions {
		entry.Position = nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal trace entry: %w", err)
	}

	if _, err := tw.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write trace entry: %w", err)
	}

	if err := tw.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

// ForRun returns a recorder that tags every evaluation with the run index.
// Attach it to the objective after each Reset.
func (tw *TraceWriter) ForRun(run int) problem.Recorder {
	return &runRecorder{tw: tw, run: run}
}

type runRecorder struct {
	tw  *TraceWriter
	run int
}

func (r *runRecorder) Record(e problem.Evaluation) error {
	return r.tw.Write(TraceEntry{
		Run:        r.run,
		Evaluation: e.Count,
		Fitness:    e.Fitness,
		Precision:  e.Precision,
		BestSoFar:  e.BestSoFar,
		Position:   e.Position,
	})
}

// Flush writes any buffered data to the file.
func (tw *TraceWriter) Flush() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if err := tw.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush trace writer: %w", err)
	}

	// Also sync to disk for durability
	if err := tw.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync trace file: %w", err)
	}

	return nil
}

// Close flushes buffered data and closes the trace file.
func (tw *TraceWriter) Close() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if err := tw.writer.Flush(); err != nil {
		tw.file.Close() // Try to close anyway
		return fmt.Errorf("failed to flush on close: %w", err)
	}

	if err := tw.file.Close(); err != nil {
		return fmt.Errorf("failed to close trace file: %w", err)
	}

	return nil
}

// Path returns the filesystem path to the trace file.
func (tw *TraceWriter) Path() string {
	return tw.path
}

// ReadTraceHeader loads trace.meta.json for the given experiment.
func ReadTraceHeader(baseDir, id string) (*TraceHeader, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(traceHeaderPath(baseDir, id))
	if os.IsNotExist(err) {
		return nil, &NotFoundError{ID: id}
	} else if err != nil {
		return nil, fmt.Errorf("failed to read trace header: %w", err)
	}

	var header TraceHeader
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trace header: %w", err)
	}
	return &header, nil
}

// TraceReader reads trace entries from a JSONL file.
type TraceReader struct {
	file    *os.File
	scanner *bufio.Scanner
}

// NewTraceReader creates a new trace reader for the given experiment.
func NewTraceReader(baseDir, id string) (*TraceReader, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	file, err := os.Open(tracePath(baseDir, id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &NotFoundError{ID: id}
		}
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}

	scanner := bufio.NewScanner(file)
	// Set larger buffer for long lines (if positions are included)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024) // 64KB initial, 1MB max

	return &TraceReader{
		file:    file,
		scanner: scanner,
	}, nil
}

// Read reads the next trace entry from the file.
// Returns io.EOF when no more entries are available.
func (tr *TraceReader) Read() (*TraceEntry, error) {
	if !tr.scanner.Scan() {
		if err := tr.scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to scan trace line: %w", err)
		}
		return nil, io.EOF
	}

	var entry TraceEntry
	if err := json.Unmarshal(tr.scanner.Bytes(), &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trace entry: %w", err)
	}

	return &entry, nil
}

// ReadAll reads all trace entries from the file.
func (tr *TraceReader) ReadAll() ([]TraceEntry, error) {
	var entries []TraceEntry

	for {
		entry, err := tr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}

	return entries, nil
}

// Close closes the trace reader.
func (tr *TraceReader) Close() error {
	if err := tr.file.Close(); err != nil {
		return fmt.Errorf("failed to close trace file: %w", err)
	}
	return nil
}

// DeleteTrace removes the trace and its header for the given experiment.
// Returns nil if the files don't exist.
func DeleteTrace(baseDir, id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	for _, path := range []string{tracePath(baseDir, id), traceHeaderPath(baseDir, id)} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete trace file: %w", err)
		}
	}

	// Drop the experiment directory if the trace was all it held
	os.Remove(ExperimentDir(baseDir, id))
	return nil
}
