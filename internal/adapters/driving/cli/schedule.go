package cli

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/harvest/internal/logger"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the scheduler daemon",
	Long: `Runs entity sync, document processing and the stale run check on their
cron schedules until interrupted. Schedules are read from the [scheduler]
section of the config file and reloaded when the file changes.`,
	Args: cobra.NoArgs,
	RunE: runSchedule,
}

var scheduleStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the persisted state of every scheduled task",
	Args:  cobra.NoArgs,
	RunE:  runScheduleStatus,
}

func init() {
	scheduleCmd.AddCommand(scheduleStatusCmd)
	rootCmd.AddCommand(scheduleCmd)
}

func runSchedule(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := requireServices(ctx); err != nil {
		return err
	}
	if scheduler == nil {
		return errors.New("scheduler not configured")
	}
	if appConfig != nil && !appConfig.Scheduler.Enabled {
		return errors.New("scheduler is disabled: set enabled = true under [scheduler]")
	}

	cmd.Println("Scheduler running. Press Ctrl+C to stop.")
	logger.Info("scheduler started")
	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("scheduler failed: %w", err)
	}
	cmd.Println("Scheduler stopped.")
	return nil
}

func runScheduleStatus(cmd *cobra.Command, _ []string) error {
	if err := requireServices(cmd.Context()); err != nil {
		return err
	}
	if scheduler == nil {
		return errors.New("scheduler not configured")
	}
	tasks, err := scheduler.Tasks(cmd.Context())
	if err != nil {
		return fmt.Errorf("listing tasks: %w", err)
	}
	if len(tasks) == 0 {
		cmd.Println("No tasks recorded yet. Start the scheduler with 'harvest schedule'.")
		return nil
	}

	st := newStyler(cmd.OutOrStdout())
	rows := make([][]string, 0, len(tasks))
	for i := range tasks {
		t := &tasks[i]
		enabled := "no"
		if t.Enabled {
			enabled = "yes"
		}
		rows = append(rows, []string{
			t.ID,
			t.Schedule,
			enabled,
			formatTaskTime(t.LastRun),
			formatTaskTime(t.NextRun),
			truncate(t.LastError, 50),
		})
	}
	cmd.Print(st.table([]string{"TASK", "SCHEDULE", "ENABLED", "LAST RUN", "NEXT RUN", "LAST ERROR"}, rows))
	return nil
}

func formatTaskTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}
