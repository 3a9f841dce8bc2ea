package database

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/creditdesk/creditdesk/internal/logger"
)

// Connect opens the database named by dsn. A "sqlite:" prefix selects SQLite
// (the rest is the file path); anything else is handed to the PostgreSQL driver.
func Connect(dsn string, logLevel gormlogger.LogLevel, log *logger.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	driver := "postgres"
	if path, ok := strings.CutPrefix(dsn, "sqlite:"); ok {
		driver = "sqlite"
		dialector = sqlite.Open(path)
	} else {
		dialector = postgres.Open(dsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormlogger.Default.LogMode(logLevel),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if driver == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to access sql.DB: %w", err)
		}
		// SQLite serializes writers; one connection avoids "database is locked".
		sqlDB.SetMaxOpenConns(1)
	}

	log.Info("Database connection established", "driver", driver)
	return db, nil
}

// AutoMigrate creates or updates every table.
func AutoMigrate(db *gorm.DB, log *logger.Logger) error {
	log.Info("Running database migrations")
	err := db.AutoMigrate(
		&ApplicationRecord{},
		&DecisionEvent{},
		&ContestationRecord{},
		&AuditEntry{},
		&User{},
		&NotificationOutbox{},
	)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Info("Database migrations completed")
	return nil
}

// EnsureAdmin creates the admin account if it does not exist yet. An existing
// account keeps its password.
func EnsureAdmin(db *gorm.DB, username, password, role string, log *logger.Logger) error {
	if username == "" || password == "" {
		return fmt.Errorf("admin username and password are required")
	}
	var count int64
	if err := db.Model(&User{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to look up admin user: %w", err)
	}
	if count > 0 {
		return nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}
	if err := db.Create(&User{Username: username, PasswordHash: string(hash), Role: role}).Error; err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}
	log.Info("Created admin user", "username", username)
	return nil
}
