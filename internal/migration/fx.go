package migration

import (
	"github.com/smallbiznis/copydesk/internal/config"
	"github.com/smallbiznis/copydesk/internal/seed"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}

		version, err := Up(sqlDB)
		if err != nil {
			return err
		}
		log.Info("schema up to date", zap.Uint("version", version))

		if !cfg.IsProduction() && cfg.SeedUserEmail != "" {
			user, err := seed.EnsureUser(conn, cfg.SeedUserEmail)
			if err != nil {
				return err
			}
			log.Info("seed user ready",
				zap.String("user_id", user.ID.String()),
				zap.String("email", user.Email),
			)
		}
		return nil
	}),
)
