package repository

import (
	"fmt"

	"github.com/example/bookshop/pkg/config"
	"github.com/example/bookshop/pkg/models"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// OpenMySQL connects the primary store and migrates the schema. TranslateError
// is on so duplicate-key violations surface as gorm.ErrDuplicatedKey instead
// of a driver-specific error number.
func OpenMySQL(cfg *config.MySQLConfig) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(cfg.DSN()), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MySQL: %w", err)
	}

	if err := db.AutoMigrate(&models.Order{}, &models.NewsletterSignup{}); err != nil {
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access connection pool: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)

	return db, nil
}
