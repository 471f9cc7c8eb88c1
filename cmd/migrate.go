package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/channel-monitor/internal/config"
	"github.com/JakeFAU/channel-monitor/internal/storage/postgres"
)

// runMigrations is swapped out in tests.
var runMigrations = postgres.Migrate

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "Applies the embedded database schema migrations",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{string(postgres.Up), string(postgres.Down)},
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cfg := appInstance.GetConfig()
			if cfg.DB.Provider != config.ProviderPostgres {
				return fmt.Errorf("migrate requires db.provider %q, got %q", config.ProviderPostgres, cfg.DB.Provider)
			}
			dir := postgres.Up
			if len(args) == 1 {
				dir = postgres.Direction(args[0])
			}
			if err := runMigrations(cfg.DB.DSN, dir); err != nil {
				return err
			}
			appInstance.GetLogger().Info("migrations applied", zap.String("direction", string(dir)))
			return nil
		},
	}
}
