package database

import (
	"log"
	"sync"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/formgate/formgate/internal/config"
)

var (
	once sync.Once
	db   *gorm.DB
)

// Connect initializes a singleton PostgreSQL connection using GORM.
func Connect() *gorm.DB {
	once.Do(func() {
		cfg := config.MustGet()
		conn, err := Open(cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("failed to connect to postgres: %v", err)
		}
		db = conn
	})

	return db
}

// Open dials a PostgreSQL database without touching the singleton.
func Open(dsn string) (*gorm.DB, error) {
	return gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
}

// DB returns the initialized database or nil if Connect was not called.
func DB() *gorm.DB {
	return db
}
