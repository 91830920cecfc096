package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/harvest/internal/core/ports/driving"
)

var (
	syncBatchSize int
	syncPreview   bool
	syncStage     string
	syncLimit     int
)

// progressInterval is how often a running sync is polled for counters.
var progressInterval = 500 * time.Millisecond

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronise the dataset from upstream",
	Long: `Fetches the upstream listing, classifies every record as new, updated or
unchanged, and commits the changes chunk by chunk. Progress is checkpointed
after every chunk so an interrupted run keeps what it committed.

Use --preview to see what a run would change without writing anything, and
--stage to run only the fetch or only the document processing stage.`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().IntVar(&syncBatchSize, "batch-size", 0, "pages per checkpoint chunk (default from config)")
	syncCmd.Flags().BoolVar(&syncPreview, "preview", false, "classify without writing and print a JSON report")
	syncCmd.Flags().StringVar(&syncStage, "stage", string(driving.StageAll), "stage to run: fetch, process or all")
	syncCmd.Flags().IntVar(&syncLimit, "limit", 0, "cap records classified and documents processed")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, _ []string) error {
	stage := driving.Stage(strings.ToLower(syncStage))
	if !stage.IsValid() {
		return fmt.Errorf("invalid stage %q: use fetch, process or all", syncStage)
	}
	if syncBatchSize < 0 || syncLimit < 0 {
		return errors.New("--batch-size and --limit must not be negative")
	}
	if syncPreview && stage == driving.StageProcess {
		return errors.New("--preview applies to the fetch stage only")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := requireServices(ctx); err != nil {
		return err
	}

	opts := driving.SyncOptions{BatchSize: syncBatchSize, Limit: syncLimit}
	if syncPreview {
		return runPreview(ctx, cmd, opts)
	}

	if stage != driving.StageProcess {
		if err := runFetchStage(ctx, cmd, opts); err != nil {
			return err
		}
	}
	if stage != driving.StageFetch {
		if err := runProcessStage(ctx, cmd, driving.ProcessOptions{Limit: syncLimit}); err != nil {
			return err
		}
	}
	return nil
}

func runPreview(ctx context.Context, cmd *cobra.Command, opts driving.SyncOptions) error {
	report, previewErr := syncService.Preview(ctx, opts)
	if report != nil {
		// A failed preview still prints what was classified before the failure.
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding preview: %w", err)
		}
		cmd.Println(string(data))
	}
	if previewErr != nil {
		return fmt.Errorf("preview failed: %w", previewErr)
	}
	return nil
}

func runFetchStage(ctx context.Context, cmd *cobra.Command, opts driving.SyncOptions) error {
	st := newStyler(cmd.OutOrStdout())
	cmd.Println("Synchronising dataset...")

	report, err := syncWithProgress(ctx, cmd, syncService, opts)
	if report != nil {
		printSyncReport(cmd, st, report)
	}
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}
	return nil
}

// syncWithProgress runs sync while displaying checkpointed counters.
func syncWithProgress(
	ctx context.Context,
	cmd *cobra.Command,
	svc driving.SyncService,
	opts driving.SyncOptions,
) (*driving.SyncReport, error) {
	type result struct {
		report *driving.SyncReport
		err    error
	}
	done := make(chan result, 1)
	go func() {
		report, err := svc.Run(ctx, opts)
		done <- result{report, err}
	}()

	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	lastCount := 0
	for {
		select {
		case r := <-done:
			if lastCount > 0 {
				cmd.Println()
			}
			return r.report, r.err
		case <-ticker.C:
			// Best effort; a status error only skips this tick.
			status, err := svc.Status(ctx)
			if err != nil || status == nil || !status.Running {
				continue
			}
			if n := status.Counters.Classified(); n > lastCount {
				cmd.Printf("\rClassified %d records (%d new, %d updated)",
					n, status.Counters.New, status.Counters.Updated)
				lastCount = n
			}
		}
	}
}

func printSyncReport(cmd *cobra.Command, st styler, r *driving.SyncReport) {
	c := r.Counters
	cmd.Printf("Run %s %s in %s\n", r.RunID, st.runStatus(r.Status),
		r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	cmd.Printf("  new:       %d\n", c.New)
	cmd.Printf("  updated:   %d\n", c.Updated)
	cmd.Printf("  unchanged: %d\n", c.Unchanged)
	cmd.Printf("  failed:    %d\n", c.Failed)
	cmd.Printf("  pages:     %d (%d chunks, %d failed)\n", c.Pages, r.Chunks, c.ChunksFailed)
	for _, e := range r.Errors {
		cmd.Printf("  %s %s\n", st.muted("error:"), e)
	}
}

func runProcessStage(ctx context.Context, cmd *cobra.Command, opts driving.ProcessOptions) error {
	cmd.Println("Processing documents...")
	report, err := processingService.Process(ctx, opts)
	if err != nil {
		return fmt.Errorf("processing failed: %w", err)
	}
	cmd.Printf("Attempted %d items: %d succeeded, %d failed\n",
		report.Attempted, report.Succeeded, report.Failed)
	printErrorTypes(cmd, newStyler(cmd.OutOrStdout()), report.ByErrorType)
	return nil
}
