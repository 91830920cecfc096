package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"

	"github.com/custodia-labs/harvest/internal/core/domain"
	"github.com/custodia-labs/harvest/internal/core/ports/driven"
)

// Ensure ConfigStore implements the interface.
var _ driven.ConfigStore = (*ConfigStore)(nil)

// reloadDebounce coalesces the burst of events editors emit on save.
const reloadDebounce = 200 * time.Millisecond

// ConfigStore is a file-based implementation of driven.ConfigStore using TOML.
// Values missing from the file keep their domain.DefaultConfig value.
type ConfigStore struct {
	mu       sync.Mutex
	filePath string
	validate *validator.Validate
}

// NewConfigStore creates a new TOML-based config store.
// If path is empty, defaults to ~/.harvest/config.toml.
func NewConfigStore(path string) (*ConfigStore, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(home, ".harvest", "config.toml")
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("cron", validateCron); err != nil {
		return nil, err
	}

	return &ConfigStore{
		filePath: path,
		validate: v,
	}, nil
}

// Load reads the TOML file over the defaults and validates the result.
func (s *ConfigStore) Load() (*domain.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s: %w", s.filePath, domain.ErrNotFound)
		}
		return nil, err
	}
	return s.parse(data)
}

// parse decodes and validates one file revision.
func (s *ConfigStore) parse(data []byte) (*domain.Config, error) {
	cfg := domain.DefaultConfig()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %w", domain.ErrInvalidInput, s.filePath, err)
	}
	if err := s.validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidInput, describe(err))
	}
	return &cfg, nil
}

// Save persists a configuration to disk.
func (s *ConfigStore) Save(cfg *domain.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.validate.Struct(cfg); err != nil {
		return fmt.Errorf("%w: %s", domain.ErrInvalidInput, describe(err))
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0700); err != nil {
		return err
	}

	// Write with restricted permissions
	return os.WriteFile(s.filePath, data, 0600)
}

// Watch reloads the file whenever it changes until ctx is cancelled.
// The parent directory is watched so atomic renames by editors are seen.
func (s *ConfigStore) Watch(ctx context.Context, onChange func(*domain.Config), onError func(error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	dir := filepath.Dir(s.filePath)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch config directory %s: %w", dir, err)
	}

	go func() {
		defer watcher.Close()

		var timer *time.Timer
		var fire <-chan time.Time
		name := filepath.Clean(s.filePath)

		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != name {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(reloadDebounce)
				} else {
					timer.Reset(reloadDebounce)
				}
				fire = timer.C

			case <-fire:
				fire = nil
				cfg, err := s.Load()
				if err != nil {
					if onError != nil {
						onError(err)
					}
					continue
				}
				onChange(cfg)

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if onError != nil {
					onError(err)
				}
			}
		}
	}()

	return nil
}

// Path returns the configuration file path.
func (s *ConfigStore) Path() string {
	return s.filePath
}

// validateCron accepts robfig/cron specs including descriptors like @hourly.
func validateCron(fl validator.FieldLevel) bool {
	_, err := cron.ParseStandard(fl.Field().String())
	return err == nil
}

// describe flattens validation errors into "field: rule" pairs.
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s: %s=%s", field, fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s: %s", field, fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}
