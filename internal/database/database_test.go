package database

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/convertarr/internal/config"
)

type widget struct {
	ID   uint `gorm:"primarykey"`
	Name string
}

func openTestDB(t *testing.T) *DB {
	t.Helper()
	queue := config.QueueConfig{URL: "sqlite://" + filepath.Join(t.TempDir(), "test.db")}
	db, err := New(queue, config.DatabaseConfig{LogLevel: "silent"}, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestNew_SQLite(t *testing.T) {
	db := openTestDB(t)

	assert.NoError(t, db.Ping(context.Background()))
	assert.Equal(t, "sqlite", db.Driver())

	var journalMode string
	require.NoError(t, db.Raw("PRAGMA journal_mode").Scan(&journalMode).Error)
	assert.Equal(t, "wal", journalMode)
}

func TestNew_InvalidURL(t *testing.T) {
	db, err := New(config.QueueConfig{URL: "redis://localhost:6379"}, config.DatabaseConfig{}, nil, nil)
	assert.Error(t, err)
	assert.Nil(t, db)
}

func TestGetDialector(t *testing.T) {
	for _, driver := range []string{"sqlite", "postgres", "mysql"} {
		d, err := getDialector(driver, "x")
		require.NoError(t, err, driver)
		assert.Equal(t, driver, d.Name())
	}

	_, err := getDialector("oracle", "x")
	assert.Error(t, err)
}

func TestDB_Migrate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Migrate(ctx, &widget{}))
	require.NoError(t, db.Create(&widget{Name: "a"}).Error)

	var count int64
	require.NoError(t, db.Model(&widget{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestGormLogLevel(t *testing.T) {
	assert.Equal(t, logger.Silent, gormLogLevel("silent"))
	assert.Equal(t, logger.Error, gormLogLevel("error"))
	assert.Equal(t, logger.Warn, gormLogLevel("warn"))
	assert.Equal(t, logger.Info, gormLogLevel("info"))
	assert.Equal(t, logger.Warn, gormLogLevel("unknown"))
}

func TestSlogGormLogger_Trace(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	l := newGormLogger("warn", log)
	fc := func() (string, int64) { return "SELECT 1", 1 }

	l.Trace(context.Background(), time.Now(), fc, nil)
	assert.Empty(t, buf.String(), "fast queries are not logged at warn")

	l.Trace(context.Background(), time.Now(), fc, gorm.ErrRecordNotFound)
	assert.Empty(t, buf.String(), "not found is not an error")

	l.Trace(context.Background(), time.Now(), fc, errors.New("boom"))
	assert.Contains(t, buf.String(), "database error")
	assert.Contains(t, buf.String(), "boom")

	buf.Reset()
	l.Trace(context.Background(), time.Now().Add(-2*time.Second), fc, nil)
	assert.Contains(t, buf.String(), "slow query")
}

func TestTruncateSQL(t *testing.T) {
	short := "SELECT * FROM conversion_jobs"
	assert.Equal(t, short, truncateSQL(short))

	long := string(bytes.Repeat([]byte("x"), 500))
	assert.Len(t, truncateSQL(long), maxSQLLogLength+len("... (truncated)"))
}
