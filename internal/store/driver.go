package store

import (
	"fmt"
	"os"

	_ "modernc.org/sqlite"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// sqliteDialector opens gorm's sqlite dialect against the modernc.org/sqlite
// pure-Go driver (registered as "sqlite" by its blank import above) instead
// of the cgo mattn/go-sqlite3 binding gorm.io/driver/sqlite defaults to.
func sqliteDialector(path string) gorm.Dialector {
	return &sqlite.Dialector{DriverName: "sqlite", DSN: path}
}

// DBType selects the backing database engine. The reference control
// plane's own DBDriver abstraction (store/store.go) is referenced but not
// retrievable from the pack; this is a from-scratch reconstruction of its
// usage pattern (Type + Path for sqlite, env-driven config for postgres).
type DBType string

const (
	DBTypeSQLite   DBType = "sqlite"
	DBTypePostgres DBType = "postgres"
)

// DBConfig configures a DBDriver.
type DBConfig struct {
	Type DBType
	Path string // sqlite file path

	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// DBDriver wraps a *gorm.DB behind the engine-neutral interface the rest
// of the store package depends on. The sqlite dialect is backed by
// modernc.org/sqlite's pure-Go driver rather than a cgo sqlite3 binding,
// so gorm.io/driver/sqlite is opened with the modernc driver name instead
// of its own default driver.
type DBDriver struct {
	Type DBType
	db   *gorm.DB
}

// NewDBDriver opens a database connection per cfg.
func NewDBDriver(cfg DBConfig) (*DBDriver, error) {
	var dialector gorm.Dialector

	switch cfg.Type {
	case DBTypePostgres:
		dsn := fmt.Sprintf(
			"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		if cfg.Path == "" {
			cfg.Path = "gridbot.db"
		}
		dialector = sqliteDialector(cfg.Path)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	return &DBDriver{Type: cfg.Type, db: db}, nil
}

// NewDBDriverFromEnv builds a DBDriver from DB_TYPE/DB_PATH or
// DB_HOST/DB_PORT/DB_USER/DB_PASSWORD/DB_NAME/DB_SSLMODE, matching the
// teacher's NewDBDriverFromEnv env-var convention.
func NewDBDriverFromEnv() (*DBDriver, error) {
	dbType := DBType(os.Getenv("DB_TYPE"))
	if dbType == "" {
		dbType = DBTypeSQLite
	}

	cfg := DBConfig{Type: dbType}
	if dbType == DBTypePostgres {
		cfg.Host = os.Getenv("DB_HOST")
		cfg.Port = os.Getenv("DB_PORT")
		cfg.User = os.Getenv("DB_USER")
		cfg.Password = os.Getenv("DB_PASSWORD")
		cfg.Name = os.Getenv("DB_NAME")
		cfg.SSLMode = os.Getenv("DB_SSLMODE")
		if cfg.SSLMode == "" {
			cfg.SSLMode = "disable"
		}
	} else {
		cfg.Path = os.Getenv("DB_PATH")
		if cfg.Path == "" {
			cfg.Path = "data/gridbot.db"
		}
	}
	return NewDBDriver(cfg)
}

// DB exposes the underlying *gorm.DB for table migration and queries.
func (d *DBDriver) DB() *gorm.DB {
	return d.db
}

// Close releases the underlying connection.
func (d *DBDriver) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
