package database

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/mycoool/tongbu/internal/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	// pure-Go sqlite driver, registers as "sqlite" for cgo-free builds
	_ "modernc.org/sqlite"
)

var DB *gorm.DB

// InitDatabase opens the database and migrates the schema.
func InitDatabase(config *types.DatabaseConfig) error {
	var dialector gorm.Dialector

	switch config.Type {
	case "", "sqlite":
		dbFile := config.Database
		if dbFile == "" {
			dbFile = "tongbu.db"
		}
		dbDir := filepath.Dir(dbFile)
		if dbDir != "." && dbDir != "" {
			if err := os.MkdirAll(dbDir, 0755); err != nil {
				return fmt.Errorf("failed to create database directory: %v", err)
			}
		}
		if os.Getenv("TONGBU_PURE_GO_SQLITE") == "true" {
			dialector = sqlite.Dialector{DriverName: "sqlite", DSN: dbFile}
		} else {
			dialector = sqlite.Open(dbFile)
		}
	default:
		return fmt.Errorf("unsupported database type: %s", config.Type)
	}

	logLevel := logger.Error
	if os.Getenv("DB_DEBUG") == "true" {
		logLevel = logger.Info
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(&SyncTask{}, &SyncLog{}); err != nil {
		return fmt.Errorf("failed to migrate database: %v", err)
	}

	DB = db
	log.Printf("Database connected successfully (type: %s)", config.Type)
	return nil
}

// GetDB returns the database instance.
func GetDB() *gorm.DB {
	return DB
}

// CloseDatabase closes the underlying connection.
func CloseDatabase() error {
	if DB == nil {
		return nil
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
