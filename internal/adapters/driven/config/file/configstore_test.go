package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/harvest/internal/core/domain"
)

const minimalConfig = `
dataset = "projects"

[upstream]
base_url = "https://api.example.test/v1/projects"
total_path = "meta.total"

[fetch]
page_size = 25
retry_base_delay = "250ms"

[[detector.fields]]
name = "status"
kind = "text"

[[detector.fields]]
name = "budget"
kind = "number"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestNewConfigStore_DefaultPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("Cannot determine home directory")
	}

	store, err := NewConfigStore("")

	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".harvest", "config.toml"), store.Path())
}

func TestConfigStore_Load_OverlaysDefaults(t *testing.T) {
	store, err := NewConfigStore(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	cfg, err := store.Load()

	require.NoError(t, err)
	assert.Equal(t, "projects", cfg.Dataset)
	assert.Equal(t, 25, cfg.Fetch.PageSize)
	assert.Equal(t, 250*time.Millisecond, cfg.Fetch.RetryBaseDelay.Duration)
	assert.Equal(t, "meta.total", cfg.Upstream.TotalPath)
	require.Len(t, cfg.Detector.Fields, 2)
	assert.Equal(t, domain.FieldKind("number"), cfg.Detector.Fields[1].Kind)

	// Untouched sections keep defaults
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 3, cfg.Fetch.RetryAttempts)
	assert.Equal(t, 20, cfg.Sync.ChunkPages)
}

func TestConfigStore_Load_Missing(t *testing.T) {
	store, err := NewConfigStore(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)

	_, err = store.Load()

	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestConfigStore_Load_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "missing dataset",
			content: "[upstream]\nbase_url = \"https://x.test\"\n",
			want:    "Dataset: required",
		},
		{
			name:    "postgres without dsn",
			content: "dataset = \"d\"\n[store]\ndriver = \"postgres\"\n[upstream]\nbase_url = \"https://x.test\"\n",
			want:    "Store.DSN: required_if",
		},
		{
			name:    "bad field kind",
			content: "dataset = \"d\"\n[upstream]\nbase_url = \"https://x.test\"\n[[detector.fields]]\nname = \"a\"\nkind = \"blob\"\n",
			want:    "Detector.Fields[0].Kind: oneof",
		},
		{
			name:    "bad cron",
			content: "dataset = \"d\"\n[upstream]\nbase_url = \"https://x.test\"\n[scheduler.tasks.entity-sync]\nenabled = true\nschedule = \"every tuesday\"\n",
			want:    "cron",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := NewConfigStore(writeConfig(t, tt.content))
			require.NoError(t, err)

			_, err = store.Load()

			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestConfigStore_Load_BadDuration(t *testing.T) {
	store, err := NewConfigStore(writeConfig(t, minimalConfig+"\n[processing]\nitem_timeout = \"soon\"\n"))
	require.NoError(t, err)

	_, err = store.Load()

	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestConfigStore_SaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	store, err := NewConfigStore(path)
	require.NoError(t, err)

	cfg := domain.DefaultConfig()
	cfg.Dataset = "projects"
	cfg.Upstream.BaseURL = "https://api.example.test/v1/projects"
	cfg.Detector.Fields = []domain.FieldSpec{{Name: "status"}}

	require.NoError(t, store.Save(&cfg))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, cfg.Dataset, loaded.Dataset)
	assert.Equal(t, cfg.Fetch, loaded.Fetch)
	assert.Equal(t, cfg.Detector.Fields, loaded.Detector.Fields)
}

func TestConfigStore_Save_RejectsInvalid(t *testing.T) {
	store, err := NewConfigStore(filepath.Join(t.TempDir(), "config.toml"))
	require.NoError(t, err)

	cfg := domain.DefaultConfig()

	assert.ErrorIs(t, store.Save(&cfg), domain.ErrInvalidInput)
}

func TestConfigStore_Watch(t *testing.T) {
	path := writeConfig(t, minimalConfig)
	store, err := NewConfigStore(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *domain.Config, 4)
	require.NoError(t, store.Watch(ctx, func(cfg *domain.Config) { changes <- cfg }, nil))

	updated := minimalConfig + "\n[sync]\nchunk_pages = 5\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0600))

	select {
	case cfg := <-changes:
		assert.Equal(t, 5, cfg.Sync.ChunkPages)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}
