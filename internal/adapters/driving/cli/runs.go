package cli

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/harvest/internal/core/domain"
)

var (
	runsLimit     int
	runsOlderThan time.Duration
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect pipeline runs",
	Long: `Every sync leaves a run row with its status and counters. A run still
marked running long after it started was most likely interrupted; it is
reported by "runs stale" and left untouched.`,
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs, newest first",
	Args:  cobra.NoArgs,
	RunE:  runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show [run-id]",
	Short: "Show one run in full",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

var runsStaleCmd = &cobra.Command{
	Use:   "stale",
	Short: "List runs stuck in running",
	Args:  cobra.NoArgs,
	RunE:  runRunsStale,
}

func init() {
	runsListCmd.Flags().IntVar(&runsLimit, "limit", 20, "maximum runs to list")
	runsStaleCmd.Flags().DurationVar(&runsOlderThan, "older-than", 0, "age after which a running run is stale (default from config)")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsStaleCmd)
	rootCmd.AddCommand(runsCmd)
}

func runRunsList(cmd *cobra.Command, _ []string) error {
	if err := requireServices(cmd.Context()); err != nil {
		return err
	}
	runs, err := runTracker.List(cmd.Context(), datasetName(), runsLimit)
	if err != nil {
		return fmt.Errorf("listing runs: %w", err)
	}
	printRuns(cmd, runs)
	return nil
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	if err := requireServices(cmd.Context()); err != nil {
		return err
	}
	run, err := runTracker.Get(cmd.Context(), args[0])
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("run %s not found", args[0])
	}
	if err != nil {
		return fmt.Errorf("getting run: %w", err)
	}

	st := newStyler(cmd.OutOrStdout())
	c := run.Counters
	cmd.Printf("%s %s\n", st.title("Run"), run.ID)
	cmd.Printf("  dataset:   %s\n", run.Dataset)
	cmd.Printf("  status:    %s\n", st.runStatus(run.Status))
	cmd.Printf("  started:   %s\n", run.StartedAt.Local().Format(time.RFC3339))
	if run.FinishedAt != nil {
		cmd.Printf("  finished:  %s\n", run.FinishedAt.Local().Format(time.RFC3339))
	}
	cmd.Printf("  new:       %d\n", c.New)
	cmd.Printf("  updated:   %d\n", c.Updated)
	cmd.Printf("  unchanged: %d\n", c.Unchanged)
	cmd.Printf("  failed:    %d\n", c.Failed)
	cmd.Printf("  pages:     %d (%d chunks failed)\n", c.Pages, c.ChunksFailed)
	if run.Error != "" {
		cmd.Printf("  error:     %s\n", run.Error)
	}
	return nil
}

func runRunsStale(cmd *cobra.Command, _ []string) error {
	if err := requireServices(cmd.Context()); err != nil {
		return err
	}
	olderThan := runsOlderThan
	if olderThan == 0 && appConfig != nil {
		olderThan = appConfig.Scheduler.StaleAfter.Duration
	}
	if olderThan <= 0 {
		olderThan = domain.DefaultSchedulerConfig().StaleAfter.Duration
	}

	runs, err := runTracker.Stale(cmd.Context(), olderThan)
	if err != nil {
		return fmt.Errorf("checking stale runs: %w", err)
	}
	if len(runs) == 0 {
		cmd.Printf("No runs running for longer than %s.\n", olderThan)
		return nil
	}
	cmd.Printf("%d runs still running after %s:\n", len(runs), olderThan)
	printRuns(cmd, runs)
	return nil
}

func printRuns(cmd *cobra.Command, runs []domain.PipelineRun) {
	if len(runs) == 0 {
		cmd.Println("No runs found.")
		return
	}
	st := newStyler(cmd.OutOrStdout())
	rows := make([][]string, 0, len(runs))
	for i := range runs {
		r := &runs[i]
		duration := "-"
		if r.FinishedAt != nil {
			duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		rows = append(rows, []string{
			r.ID,
			st.runStatus(r.Status),
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			duration,
			strconv.Itoa(r.Counters.New),
			strconv.Itoa(r.Counters.Updated),
			strconv.Itoa(r.Counters.Unchanged),
			strconv.Itoa(r.Counters.Failed),
		})
	}
	cmd.Print(st.table([]string{"RUN", "STATUS", "STARTED", "DURATION", "NEW", "UPDATED", "UNCHANGED", "FAILED"}, rows))
}

// datasetName is the configured dataset, or empty to match every dataset.
func datasetName() string {
	if appConfig == nil {
		return ""
	}
	return appConfig.Dataset
}
