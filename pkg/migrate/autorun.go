package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/evrent-backend/pkg/config"
	"github.com/angelmondragon/evrent-backend/pkg/db"
	"github.com/angelmondragon/evrent-backend/pkg/db/models"
	"github.com/angelmondragon/evrent-backend/pkg/logger"
)

// MaybeRunDev executes migrations automatically when the app is running in dev mode and
// the feature flag is enabled. sqlite databases are migrated from the gorm models.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}

	if client.Driver() == db.DriverSQLite {
		logg.Info(logg.WithField(ctx, "driver", db.DriverSQLite), "running gorm auto-migrate (dev auto-run)")
		if err := AutoMigrateModels(client); err != nil {
			return fmt.Errorf("auto-migrating models: %w", err)
		}
		return nil
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}
	m, err := New(sqlDB, EmbeddedFS())
	if err != nil {
		return err
	}

	ctx = logg.WithField(ctx, "env", cfg.App.Env)
	applied, err := m.Up(ctx)
	if err != nil {
		return err
	}
	for _, a := range applied {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"version":     a.Version,
			"file":        a.File,
			"duration_ms": a.Duration.Milliseconds(),
		}), "migration applied")
	}
	logg.Info(logg.WithField(ctx, "applied", len(applied)), "dev migrations complete")
	return nil
}

// AutoMigrateModels creates every table from its gorm model.
func AutoMigrateModels(client *db.Client) error {
	return client.DB().AutoMigrate(
		&models.Wallet{},
		&models.WalletTransaction{},
		&models.Promotion{},
		&models.Vehicle{},
		&models.Order{},
		&models.Payment{},
		&models.OutboxEvent{},
		&models.OutboxDLQ{},
	)
}
