package cli

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/harvest/internal/core/domain"
)

var (
	attemptsLimit     int
	attemptsErrorType string
)

var attemptsCmd = &cobra.Command{
	Use:   "attempts",
	Short: "Inspect and reset document processing attempts",
	Long: `Every processed document leaves an attempt row with its latest outcome.
Failures carry an error type so they can be fixed one class at a time:
look at the summary, fix the cause, reset that error type and process again.`,
}

var attemptsSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show attempt counts by status and error type",
	Args:  cobra.NoArgs,
	RunE:  runAttemptsSummary,
}

var attemptsPendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List items waiting to be attempted",
	Args:  cobra.NoArgs,
	RunE:  runAttemptsPending,
}

var attemptsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List failed items of one error type",
	Args:  cobra.NoArgs,
	RunE:  runAttemptsList,
}

var attemptsResetCmd = &cobra.Command{
	Use:   "reset [item-id...]",
	Short: "Move failed items back to pending",
	Long: `Resets the given items, or every failed item of --error-type, to pending
so the next processing pass attempts them again. Their error type is kept
as history.`,
	RunE: runAttemptsReset,
}

func init() {
	attemptsPendingCmd.Flags().IntVar(&attemptsLimit, "limit", 50, "maximum items to list")
	attemptsListCmd.Flags().IntVar(&attemptsLimit, "limit", 50, "maximum items to list")
	attemptsListCmd.Flags().StringVar(&attemptsErrorType, "error-type", "", "error type to list (required)")
	attemptsResetCmd.Flags().StringVar(&attemptsErrorType, "error-type", "", "reset every failed item of this type")

	attemptsCmd.AddCommand(attemptsSummaryCmd)
	attemptsCmd.AddCommand(attemptsPendingCmd)
	attemptsCmd.AddCommand(attemptsListCmd)
	attemptsCmd.AddCommand(attemptsResetCmd)
	rootCmd.AddCommand(attemptsCmd)
}

func runAttemptsSummary(cmd *cobra.Command, _ []string) error {
	if err := requireServices(cmd.Context()); err != nil {
		return err
	}
	summary, err := processingService.Summary(cmd.Context())
	if err != nil {
		return fmt.Errorf("summary failed: %w", err)
	}

	st := newStyler(cmd.OutOrStdout())
	s := summary.Stats
	cmd.Printf("%s %d pending, %d success, %d error\n", st.title("Attempts:"), s.Pending, s.Success, s.Error)
	if len(summary.Errors) == 0 {
		cmd.Println("No failures recorded.")
		return nil
	}
	rows := make([][]string, 0, len(summary.Errors))
	for _, e := range summary.Errors {
		rows = append(rows, []string{string(e.ErrorType), strconv.Itoa(e.Count)})
	}
	cmd.Print(st.table([]string{"ERROR TYPE", "COUNT"}, rows))
	return nil
}

func runAttemptsPending(cmd *cobra.Command, _ []string) error {
	if err := requireServices(cmd.Context()); err != nil {
		return err
	}
	items, err := processingService.Pending(cmd.Context(), attemptsLimit)
	if err != nil {
		return fmt.Errorf("listing pending items: %w", err)
	}
	printAttempts(cmd, items)
	return nil
}

func runAttemptsList(cmd *cobra.Command, _ []string) error {
	if attemptsErrorType == "" {
		return errors.New("--error-type is required")
	}
	if err := requireServices(cmd.Context()); err != nil {
		return err
	}
	errType := domain.ErrorType(strings.ToUpper(attemptsErrorType))
	items, err := processingService.ByErrorType(cmd.Context(), errType, attemptsLimit)
	if err != nil {
		return fmt.Errorf("listing %s items: %w", errType, err)
	}
	printAttempts(cmd, items)
	return nil
}

func runAttemptsReset(cmd *cobra.Command, args []string) error {
	if attemptsErrorType == "" && len(args) == 0 {
		return errors.New("give item IDs or --error-type")
	}
	if attemptsErrorType != "" && len(args) > 0 {
		return errors.New("give either item IDs or --error-type, not both")
	}
	if err := requireServices(cmd.Context()); err != nil {
		return err
	}

	if attemptsErrorType != "" {
		errType := domain.ErrorType(strings.ToUpper(attemptsErrorType))
		n, err := processingService.ResetByErrorType(cmd.Context(), errType)
		if err != nil {
			return fmt.Errorf("reset failed: %w", err)
		}
		cmd.Printf("Reset %d %s items to pending.\n", n, errType)
		return nil
	}

	n, err := processingService.Reset(cmd.Context(), args)
	if err != nil {
		return fmt.Errorf("reset failed: %w", err)
	}
	cmd.Printf("Reset %d of %d items to pending.\n", n, len(args))
	return nil
}

func printAttempts(cmd *cobra.Command, items []domain.ProcessingAttempt) {
	if len(items) == 0 {
		cmd.Println("No items found.")
		return
	}
	st := newStyler(cmd.OutOrStdout())
	rows := make([][]string, 0, len(items))
	for i := range items {
		a := &items[i]
		last := "-"
		if a.LastAttemptAt != nil {
			last = a.LastAttemptAt.Local().Format("2006-01-02 15:04")
		}
		errType := "-"
		if a.ErrorType != "" {
			errType = string(a.ErrorType)
		}
		rows = append(rows, []string{
			a.ItemID,
			st.attemptStatus(a.Status),
			errType,
			strconv.Itoa(a.Attempts),
			last,
			truncate(a.ErrorMessage, 60),
		})
	}
	cmd.Print(st.table([]string{"ITEM", "STATUS", "ERROR TYPE", "TRIES", "LAST ATTEMPT", "MESSAGE"}, rows))
}

// printErrorTypes lists failure counts, largest first.
func printErrorTypes(cmd *cobra.Command, st styler, counts map[domain.ErrorType]int) {
	if len(counts) == 0 {
		return
	}
	types := make([]domain.ErrorType, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool {
		if counts[types[i]] != counts[types[j]] {
			return counts[types[i]] > counts[types[j]]
		}
		return types[i] < types[j]
	})
	rows := make([][]string, 0, len(types))
	for _, t := range types {
		rows = append(rows, []string{string(t), strconv.Itoa(counts[t])})
	}
	cmd.Print(st.table([]string{"ERROR TYPE", "COUNT"}, rows))
}
