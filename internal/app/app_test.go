package app_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/channel-monitor/internal/app"
	"github.com/JakeFAU/channel-monitor/internal/config"
	"github.com/JakeFAU/channel-monitor/internal/storage/memory"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestNewAppWithMemoryStorage(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "db:\n  provider: memory\nlogging:\n  development: false\n")
	a, err := app.NewApp(context.Background(), path)
	require.NoError(t, err)
	defer a.Close()

	assert.NotNil(t, a.GetLogger())
	assert.IsType(t, &memory.Store{}, a.GetStorage())
	assert.Equal(t, config.ProviderMemory, a.GetConfig().DB.Provider)
}

func TestNewAppRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "db:\n  provider: postgres\n")
	_, err := app.NewApp(context.Background(), path)
	require.ErrorContains(t, err, "db.dsn")
}

func TestNewAppWithConfigRejectsBadDSN(t *testing.T) {
	t.Parallel()

	cfg := config.Config{DB: config.DBConfig{Provider: config.ProviderPostgres, DSN: "::not a dsn::"}}
	_, err := app.NewAppWithConfig(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
}

func TestCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	a, err := app.NewAppWithConfig(context.Background(),
		config.Config{DB: config.DBConfig{Provider: config.ProviderMemory}}, nil)
	require.NoError(t, err)
	a.Close()
	a.Close()
}
