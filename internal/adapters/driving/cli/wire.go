package cli

import (
	"context"
	"fmt"

	"github.com/custodia-labs/harvest/internal/adapters/driven/config/file"
	"github.com/custodia-labs/harvest/internal/adapters/driven/storage/postgres"
	"github.com/custodia-labs/harvest/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/harvest/internal/connectors/rest"
	"github.com/custodia-labs/harvest/internal/core/domain"
	"github.com/custodia-labs/harvest/internal/core/ports/driven"
	"github.com/custodia-labs/harvest/internal/core/services"
	"github.com/custodia-labs/harvest/internal/logger"
	"github.com/custodia-labs/harvest/internal/parsers"
	"github.com/custodia-labs/harvest/internal/parsers/docx"
	"github.com/custodia-labs/harvest/internal/parsers/html"
	"github.com/custodia-labs/harvest/internal/parsers/jsonpath"
	"github.com/custodia-labs/harvest/internal/parsers/plaintext"
)

// storeSet is the set of driven stores one backend provides.
type storeSet struct {
	snapshots driven.SnapshotStore
	entities  driven.EntityStore
	runs      driven.RunStore
	attempts  driven.AttemptStore
	tasks     driven.SchedulerStore
	locker    driven.RunLocker
	close     func() error
}

// wire loads the config file and builds every service from it.
func wire(ctx context.Context, path string) error {
	configs, err := file.NewConfigStore(path)
	if err != nil {
		return fmt.Errorf("config store: %w", err)
	}
	cfg, err := configs.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := logger.SetFile(logger.FileOptions{
		Path:       cfg.Logging.File,
		Level:      cfg.Logging.Level,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	}); err != nil {
		return fmt.Errorf("log file: %w", err)
	}

	stores, err := openStores(ctx, cfg.Store)
	if err != nil {
		return err
	}

	client, err := rest.NewClient(ctx, cfg.Upstream)
	if err != nil {
		_ = stores.close()
		return fmt.Errorf("upstream client: %w", err)
	}

	fetcher := services.NewFetcher(client, rest.NewJSONDecoder(cfg.Upstream), cfg.Dataset, cfg.Fetch)
	detector := services.NewChangeDetector(cfg.Detector)
	tracker := services.NewRunTracker(stores.runs)
	syncSvc := services.NewSyncService(cfg, fetcher, detector, stores.snapshots, stores.entities, tracker, stores.locker)

	registry := parsers.NewRegistry(
		html.New(cfg.Processing.HTML),
		jsonpath.New(cfg.Processing.JSON),
		docx.New(),
		plaintext.New(),
	)
	processing := services.NewProcessingService(cfg, stores.entities, stores.attempts, client, registry)

	appConfig = cfg
	syncService = syncSvc
	processingService = processing
	runTracker = tracker
	scheduler = services.NewScheduler(cfg.Scheduler, stores.tasks, syncSvc, processing, tracker, configs)
	closeServices = stores.close

	logger.Debug("wired dataset %q on %s store", cfg.Dataset, cfg.Store.Driver)
	return nil
}

// openStores opens the backend selected by the store driver.
func openStores(ctx context.Context, cfg domain.StoreConfig) (*storeSet, error) {
	switch cfg.Driver {
	case "postgres":
		pg, err := postgres.NewStore(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("opening postgres store: %w", err)
		}
		return &storeSet{
			snapshots: pg.SnapshotStore(),
			entities:  pg.EntityStore(),
			runs:      pg.RunStore(),
			attempts:  pg.AttemptStore(),
			tasks:     pg.SchedulerStore(),
			locker:    pg.RunLocker(),
			close:     pg.Close,
		}, nil
	case "", "sqlite":
		lite, err := sqlite.NewStore(cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		return &storeSet{
			snapshots: lite.SnapshotStore(),
			entities:  lite.EntityStore(),
			runs:      lite.RunStore(),
			attempts:  lite.AttemptStore(),
			tasks:     lite.SchedulerStore(),
			locker:    lite.RunLocker(cfg.LockTTL.Duration),
			close:     lite.Close,
		}, nil
	default:
		return nil, fmt.Errorf("%w: store driver %q", domain.ErrUnsupportedType, cfg.Driver)
	}
}
