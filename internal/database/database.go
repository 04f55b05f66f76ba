// Package database opens the queue's persistence backend. It supports SQLite,
// PostgreSQL, and MySQL through GORM.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/convertarr/internal/config"
)

// DB wraps a GORM database connection.
type DB struct {
	*gorm.DB
	driver string
	logger *slog.Logger
}

// Options contains optional configuration for database connections.
type Options struct {
	// PrepareStmt enables prepared statement caching. Default is true.
	PrepareStmt bool
}

// New opens the backend selected by the queue URL.
// Pass nil opts for defaults (PrepareStmt: true).
func New(queue config.QueueConfig, cfg config.DatabaseConfig, log *slog.Logger, opts *Options) (*DB, error) {
	if opts == nil {
		opts = &Options{PrepareStmt: true}
	}
	if log == nil {
		log = slog.Default()
	}

	driver, dsn, err := queue.Backend()
	if err != nil {
		return nil, fmt.Errorf("parsing queue url: %w", err)
	}

	dialector, err := getDialector(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("getting dialector: %w", err)
	}

	gormLogger := newGormLogger(cfg.LogLevel, log)

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 gormLogger,
		SkipDefaultTransaction: true,
		PrepareStmt:            opts.PrepareStmt,
		NowFunc:                func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting underlying sql.DB: %w", err)
	}
	gormLogger.SetSQLDB(sqlDB)

	// SQLite allows a single writer; a handful of connections covers the
	// workers, the stall sweep and API reads.
	maxOpen := cfg.MaxOpenConns
	maxIdle := cfg.MaxIdleConns
	if driver == "sqlite" {
		maxOpen = 6
		maxIdle = 3
	}
	if maxOpen > 0 {
		sqlDB.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		sqlDB.SetMaxIdleConns(maxIdle)
	}
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	log.Info("queue backend opened",
		slog.String("driver", driver),
		slog.String("dsn", dsn),
		slog.Int("max_open_conns", maxOpen),
	)

	return &DB{DB: db, driver: driver, logger: log}, nil
}

// getDialector returns the GORM dialector for the driver.
func getDialector(driver, dsn string) (gorm.Dialector, error) {
	switch driver {
	case "sqlite":
		// Pure Go driver (modernc.org/sqlite); PRAGMAs apply to every pooled connection.
		if strings.Contains(dsn, "?") {
			dsn += "&"
		} else {
			dsn += "?"
		}
		dsn += "_pragma=busy_timeout(30000)" +
			"&_pragma=journal_mode(WAL)" +
			"&_pragma=synchronous(NORMAL)" +
			"&_pragma=foreign_keys(ON)"
		return sqlite.Open(dsn), nil
	case "postgres":
		return postgres.Open(dsn), nil
	case "mysql":
		return mysql.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}
}

// Migrate creates or updates the tables for the given models.
func (db *DB) Migrate(ctx context.Context, models ...any) error {
	if err := db.DB.WithContext(ctx).AutoMigrate(models...); err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return fmt.Errorf("getting underlying sql.DB: %w", err)
	}
	return sqlDB.Close()
}

// Ping verifies the database connection is alive.
func (db *DB) Ping(ctx context.Context) error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return fmt.Errorf("getting underlying sql.DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// Driver returns the database driver name.
func (db *DB) Driver() string {
	return db.driver
}

// gormLogLevel maps string log levels to GORM logger levels.
func gormLogLevel(level string) logger.LogLevel {
	switch level {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}

func newGormLogger(level string, log *slog.Logger) *slogGormLogger {
	return &slogGormLogger{
		logger: log,
		level:  gormLogLevel(level),
	}
}

// slogGormLogger implements GORM's logger.Interface using slog.
type slogGormLogger struct {
	logger *slog.Logger
	level  logger.LogLevel
	sqlDB  *sql.DB

	statsMu      sync.Mutex
	lastStatsLog time.Time
}

// SetSQLDB sets the sql.DB used for pool stats on lock contention.
func (l *slogGormLogger) SetSQLDB(db *sql.DB) {
	l.sqlDB = db
}

func (l *slogGormLogger) LogMode(level logger.LogLevel) logger.Interface {
	return &slogGormLogger{
		logger: l.logger,
		level:  level,
		sqlDB:  l.sqlDB,
	}
}

func (l *slogGormLogger) Info(ctx context.Context, msg string, args ...any) {
	if l.level >= logger.Info {
		l.logger.InfoContext(ctx, fmt.Sprintf(msg, args...))
	}
}

func (l *slogGormLogger) Warn(ctx context.Context, msg string, args ...any) {
	if l.level >= logger.Warn {
		l.logger.WarnContext(ctx, fmt.Sprintf(msg, args...))
	}
}

func (l *slogGormLogger) Error(ctx context.Context, msg string, args ...any) {
	if l.level >= logger.Error {
		l.logger.ErrorContext(ctx, fmt.Sprintf(msg, args...))
	}
}

const (
	slowQueryThreshold = time.Second
	maxSQLLogLength    = 200
)

func truncateSQL(sql string) string {
	if len(sql) <= maxSQLLogLength {
		return sql
	}
	return sql[:maxSQLLogLength] + "... (truncated)"
}

// logStatsOnBusy logs pool stats at most once a minute.
func (l *slogGormLogger) logStatsOnBusy() {
	if l.sqlDB == nil {
		return
	}

	l.statsMu.Lock()
	defer l.statsMu.Unlock()
	if time.Since(l.lastStatsLog) < time.Minute {
		return
	}
	l.lastStatsLog = time.Now()

	stats := l.sqlDB.Stats()
	l.logger.Warn("connection pool stats on lock contention",
		slog.Int("open_conns", stats.OpenConnections),
		slog.Int("in_use", stats.InUse),
		slog.Int64("wait_count", stats.WaitCount),
		slog.Duration("wait_duration", stats.WaitDuration),
	)
}

func (l *slogGormLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if l.level <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	// Record-not-found is an expected outcome for lookups.
	isError := err != nil && err != gorm.ErrRecordNotFound
	isSlow := elapsed > slowQueryThreshold

	var willLog bool
	switch {
	case isError && l.level >= logger.Error:
		willLog = true
	case isSlow && l.level >= logger.Warn:
		willLog = l.logger.Enabled(ctx, slog.LevelWarn)
	case l.level >= logger.Info:
		willLog = l.logger.Enabled(ctx, slog.LevelDebug)
	}
	if !willLog {
		return
	}

	sqlStr, rows := fc()

	switch {
	case isError:
		if strings.Contains(err.Error(), "database is locked") {
			l.logStatsOnBusy()
		}
		l.logger.ErrorContext(ctx, "database error",
			slog.String("sql", truncateSQL(sqlStr)),
			slog.Int64("rows", rows),
			slog.Duration("elapsed", elapsed),
			slog.String("error", err.Error()),
		)
	case isSlow:
		l.logger.WarnContext(ctx, "slow query",
			slog.String("sql", truncateSQL(sqlStr)),
			slog.Int64("rows", rows),
			slog.Duration("elapsed", elapsed),
		)
	default:
		l.logger.DebugContext(ctx, "database query",
			slog.String("sql", truncateSQL(sqlStr)),
			slog.Int64("rows", rows),
			slog.Duration("elapsed", elapsed),
		)
	}
}
