package database

import (
	"fmt"

	"github.com/synaptica-ai/clinicalcoder/pkg/common/config"
	"github.com/synaptica-ai/clinicalcoder/pkg/common/logger"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// OpenPostgres connects to the relational terminology store. The caller owns
// the handle and closes it with ClosePostgres.
func OpenPostgres(cfg *config.Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		cfg.PostgresHost,
		cfg.PostgresUser,
		cfg.PostgresPassword,
		cfg.PostgresDB,
		cfg.PostgresPort,
		cfg.PostgresSSLMode,
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		logger.Log.WithError(err).Error("Failed to connect to PostgreSQL")
		return nil, err
	}

	logger.Log.WithField("db", cfg.PostgresDB).Info("Connected to PostgreSQL")
	return db, nil
}

func ClosePostgres(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
