package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/otcsettle/pkg/config"
	"github.com/angelmondragon/otcsettle/pkg/db"
	"github.com/angelmondragon/otcsettle/pkg/logger"
)

// MaybeRunDev applies the embedded migrations when the app runs in dev mode with
// auto-migrate enabled, or whenever the sqlite dev driver is in use.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	sqliteDev := client.Dialect() == config.DriverSQLite
	if !sqliteDev && (!cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate) {
		return nil
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}

	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "driver": client.Dialect()})
	logg.Info(ctx, "running goose migrations (dev auto-run)")

	if err := Up(ctx, sqlDB, client.Dialect()); err != nil {
		return fmt.Errorf("running goose up: %w", err)
	}

	logg.Info(ctx, "goose migrations completed")
	return nil
}
