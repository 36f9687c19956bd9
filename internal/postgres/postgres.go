package postgres

import (
	"fmt"
	"log"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"radar/internal/model"
)

// Init opens the database connection
func Init(url string) (*gorm.DB, error) {
	return Open(postgres.Open(url))
}

// Open connects through any gorm dialector
func Open(dialector gorm.Dialector) (*gorm.DB, error) {
	// Configure GORM logger with higher slow SQL threshold
	gormLogger := logger.New(
		log.New(log.Writer(), "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold: time.Millisecond * 500,
			LogLevel:      logger.Warn,
		},
	)

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  gormLogger,
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

// Migrate creates or updates the tables the service uses
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&model.Profile{}, &model.AuthSession{}, &model.PresenceSignal{}); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
