// Package cli provides the cobra command tree for the harvest binary.
package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/harvest/internal/core/domain"
	"github.com/custodia-labs/harvest/internal/core/ports/driving"
	"github.com/custodia-labs/harvest/internal/logger"
)

// version is set at build time via -ldflags.
var version = "dev"

var (
	configPath string
	verbose    bool
)

// Services used by the commands. They are wired lazily from the config file
// on the first command that needs them.
var (
	appConfig         *domain.Config
	syncService       driving.SyncService
	processingService driving.ProcessingService
	runTracker        driving.RunTracker
	scheduler         driving.Scheduler
	closeServices     func() error
)

// wireServices builds the service graph. Tests replace it.
var wireServices = wire

var rootCmd = &cobra.Command{
	Use:   "harvest",
	Short: "Incremental dataset synchroniser",
	Long: `Harvest mirrors a paginated upstream listing into a local store.

Each run fetches the listing page by page, classifies every record as new,
updated or unchanged against the stored entity, and commits the result in
checkpointed chunks. Linked documents are then fetched and parsed, and
failures are tracked by error type so they can be fixed and reprocessed.`,
	SilenceUsage: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.SetVerbose(verbose)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.harvest/config.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
}

// Execute runs the root command.
func Execute() error {
	defer shutdown()
	return rootCmd.Execute()
}

// requireServices wires the services on first use.
func requireServices(ctx context.Context) error {
	if syncService != nil {
		return nil
	}
	if err := wireServices(ctx, configPath); err != nil {
		return err
	}
	if syncService == nil {
		return errors.New("sync service not configured")
	}
	return nil
}

// shutdown releases whatever wiring opened.
func shutdown() {
	if closeServices != nil {
		if err := closeServices(); err != nil {
			logger.Warn("closing services: %v", err)
		}
		closeServices = nil
	}
	_ = logger.Close()
}
