package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/cwbudde/esbench/internal/store"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	keepLast      int
	olderThanDays int
	forceClean    bool
)

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "Manage stored experiments",
	Long: `Manage stored experiments including listing, inspecting and cleaning old results.
Deleting an experiment also removes its trace.`,
}

var listResultsCmd = &cobra.Command{
	Use:   "list",
	Short: "List all stored experiments",
	Long:  `Display all experiments with their problem, run count, summary statistics and size on disk.`,
	RunE:  runListResults,
}

var showResultsCmd = &cobra.Command{
	Use:   "show <experiment-id>",
	Short: "Show per-run results of an experiment",
	Args:  cobra.ExactArgs(1),
	RunE:  runShowResults,
}

var cleanResultsCmd = &cobra.Command{
	Use:   "clean",
	Short: "Clean old experiments",
	Long: `Delete old experiments based on retention policy.
You can keep only the N most recent experiments or delete experiments older than N days.`,
	RunE: runCleanResults,
}

func init() {
	rootCmd.AddCommand(resultsCmd)

	resultsCmd.AddCommand(listResultsCmd)
	resultsCmd.AddCommand(showResultsCmd)
	resultsCmd.AddCommand(cleanResultsCmd)

	cleanResultsCmd.Flags().IntVar(&keepLast, "keep-last", 0, "Keep only the last N experiments (0 = keep all)")
	cleanResultsCmd.Flags().IntVar(&olderThanDays, "older-than", 0, "Delete experiments older than N days (0 = no age limit)")
	cleanResultsCmd.Flags().BoolVarP(&forceClean, "force", "f", false, "Skip confirmation prompt")
}

func openStore() (store.Store, error) {
	st, err := store.NewStore(storeKind, dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return st, nil
}

func runListResults(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer store.CloseIfSupported(st)

	infos, err := st.ListExperiments()
	if err != nil {
		return fmt.Errorf("failed to list experiments: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(infos) == 0 {
		fmt.Fprintln(out, "No experiments found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tALGORITHM\tPROBLEM\tDIM\tRUNS\tBEST\tMEAN\tSIZE\tFINISHED")

	for _, info := range infos {
		sizeStr := "-"
		if size, err := getDirSize(store.ExperimentDir(dataDir, info.ID)); err == nil {
			sizeStr = humanize.Bytes(uint64(size))
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%.6g\t%.6g\t%s\t%s\n",
			displayID(info.ID),
			info.Name,
			info.Algorithm,
			info.ProblemName,
			info.Dimension,
			info.Runs,
			info.Best,
			info.Mean,
			sizeStr,
			humanize.Time(info.Timestamp),
		)
	}
	w.Flush()

	fmt.Fprintf(out, "\nTotal experiments: %d\n", len(infos))
	return nil
}

func runShowResults(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer store.CloseIfSupported(st)

	exp, err := st.LoadExperiment(args[0])
	if err != nil {
		return err
	}

	printExperiment(cmd.OutOrStdout(), exp)

	if header, err := store.ReadTraceHeader(dataDir, exp.ID); err == nil {
		fmt.Fprintf(cmd.OutOrStdout(), "trace: %s (%s)\n",
			filepath.Join(store.ExperimentDir(dataDir, exp.ID), "trace.jsonl"), header.AlgorithmInfo)
	}
	return nil
}

func runCleanResults(cmd *cobra.Command, args []string) error {
	if keepLast == 0 && olderThanDays == 0 {
		return fmt.Errorf("must specify either --keep-last or --older-than")
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer store.CloseIfSupported(st)

	infos, err := st.ListExperiments()
	if err != nil {
		return fmt.Errorf("failed to list experiments: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(infos) == 0 {
		fmt.Fprintln(out, "No experiments to clean.")
		return nil
	}

	toDelete := selectExperimentsForDeletion(infos, keepLast, olderThanDays, time.Now())
	if len(toDelete) == 0 {
		fmt.Fprintln(out, "No experiments match deletion criteria.")
		return nil
	}

	fmt.Fprintf(out, "Found %d experiment(s) to delete:\n", len(toDelete))
	for _, info := range toDelete {
		fmt.Fprintf(out, "  - %s (%s, %s)\n",
			displayID(info.ID),
			info.ProblemName,
			info.Timestamp.Format("2006-01-02 15:04:05"),
		)
	}

	if !forceClean && !confirm(cmd.InOrStdin(), out, "\nProceed with deletion? [y/N]: ") {
		fmt.Fprintln(out, "Aborted.")
		return nil
	}

	deleted, failed := 0, 0
	for _, info := range toDelete {
		if err := st.DeleteExperiment(info.ID); err != nil {
			slog.Error("Failed to delete experiment", "id", info.ID, "error", err)
			failed++
		} else {
			slog.Info("Deleted experiment", "id", info.ID)
			deleted++
		}
	}

	fmt.Fprintf(out, "\nDeleted %d experiment(s), %d failed.\n", deleted, failed)
	return nil
}

func confirm(in io.Reader, out io.Writer, prompt string) bool {
	fmt.Fprint(out, prompt)
	var response string
	fmt.Fscanln(in, &response)
	return response == "y" || response == "Y"
}

// selectExperimentsForDeletion applies the retention policy: experiments
// older than olderThanDays, plus all but the keepLast most recent.
func selectExperimentsForDeletion(infos []store.ExperimentInfo, keepLast, olderThanDays int, now time.Time) []store.ExperimentInfo {
	selected := make(map[string]bool)
	var toDelete []store.ExperimentInfo

	add := func(info store.ExperimentInfo) {
		if !selected[info.ID] {
			selected[info.ID] = true
			toDelete = append(toDelete, info)
		}
	}

	if olderThanDays > 0 {
		cutoff := now.AddDate(0, 0, -olderThanDays)
		for _, info := range infos {
			if info.Timestamp.Before(cutoff) {
				add(info)
			}
		}
	}

	if keepLast > 0 && len(infos) > keepLast {
		sorted := make([]store.ExperimentInfo, len(infos))
		copy(sorted, infos)
		sort.SliceStable(sorted, func(i, j int) bool {
			return sorted[i].Timestamp.Before(sorted[j].Timestamp)
		})
		for _, info := range sorted[:len(sorted)-keepLast] {
			add(info)
		}
	}

	return toDelete
}

// getDirSize calculates the total size of a directory
func getDirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}

func displayID(id string) string {
	if len(id) > 12 {
		return id[:12] + "..."
	}
	return id
}
