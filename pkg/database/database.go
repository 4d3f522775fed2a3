package database

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"libcatalog/pkg/models"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	// DriverMemory keeps the catalog in process memory; OpenCatalog is not
	// used for it.
	DriverMemory = "memory"
)

type Options struct {
	Driver     string
	Host       string
	Port       string
	User       string
	Password   string
	Name       string
	SQLitePath string

	MaxRetries int
	RetryDelay time.Duration
}

func (o Options) dialector() (gorm.Dialector, string, error) {
	switch o.Driver {
	case DriverPostgres, "":
		dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
			o.Host, o.User, o.Password, o.Name, o.Port)
		return postgres.Open(dsn), fmt.Sprintf("postgres host=%s port=%s db=%s", o.Host, o.Port, o.Name), nil
	case DriverSQLite:
		dsn := o.SQLitePath + "?_busy_timeout=5000"
		return sqlite.Open(dsn), "sqlite " + o.SQLitePath, nil
	default:
		return nil, "", errors.Errorf("unknown database driver %q", o.Driver)
	}
}

// OpenCatalog connects to the catalog database, retrying while the server
// comes up, and migrates the book table.
func OpenCatalog(o Options, log *zap.Logger) (*gorm.DB, error) {
	dialector, target, err := o.dialector()
	if err != nil {
		return nil, err
	}
	log.Info("connecting to catalog database", zap.String("target", target))

	maxRetries := o.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}

	var db *gorm.DB
	for i := 0; i < maxRetries; i++ {
		db, err = gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
		if err == nil {
			if sqlDB, pingErr := db.DB(); pingErr == nil {
				err = sqlDB.Ping()
			} else {
				err = pingErr
			}
		}
		if err == nil {
			break
		}
		log.Warn("database not ready",
			zap.Int("attempt", i+1), zap.Int("max_attempts", maxRetries), zap.Error(err))
		if i < maxRetries-1 {
			time.Sleep(o.RetryDelay)
		}
	}
	if err != nil {
		return nil, errors.Wrapf(err, "connect %s", target)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "database handle")
	}
	if o.Driver == DriverSQLite {
		// sqlite serialises writers; a single connection avoids SQLITE_BUSY
		// between the pool's own connections.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.AutoMigrate(&models.BookRecord{}); err != nil {
		return nil, errors.Wrap(err, "database migration failed")
	}

	log.Info("database connection established")
	return db, nil
}
