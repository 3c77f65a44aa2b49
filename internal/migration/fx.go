package migration

import (
	"context"

	"github.com/smallbiznis/tableside/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		if !cfg.DBMigrateOnStart {
			return nil
		}
		log = log.Named("migration")

		switch conn.Dialector.Name() {
		case "postgres":
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		case "sqlite":
			if err := ApplySchema(context.Background(), conn); err != nil {
				return err
			}
		default:
			log.Warn("schema migrations skipped for dialect", zap.String("dialect", conn.Dialector.Name()))
			return nil
		}
		log.Info("schema up to date", zap.String("dialect", conn.Dialector.Name()))
		return nil
	}),
)
