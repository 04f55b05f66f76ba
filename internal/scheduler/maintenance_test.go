package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/convertarr/internal/storage"
)

func writeAged(t *testing.T, dir, name string, age time.Duration) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o600))
	mtime := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, mtime, mtime))
	return path
}

func TestMaintenance_RunOnce(t *testing.T) {
	repo := setupJobRepo(t)
	ctx := context.Background()

	finished := enqueue(t, repo, "done")
	job := acquire(t, repo)
	require.NoError(t, repo.Fail(ctx, job, "internal", "boom"))
	pending := enqueue(t, repo, "waiting")

	files, err := storage.NewFileStore(t.TempDir(), t.TempDir(), discardLogger)
	require.NoError(t, err)
	require.NoError(t, files.EnsureDirectories())

	oldUpload := writeAged(t, files.Dir(storage.KindUploads), "old.mov", 2*time.Hour)
	freshUpload := writeAged(t, files.Dir(storage.KindUploads), "fresh.mov", time.Minute)
	oldOutput := writeAged(t, files.Dir(storage.KindOutputs), "old.mp4", 3*time.Hour)

	time.Sleep(5 * time.Millisecond)
	m := NewMaintenance(repo, files, MaintenanceConfig{
		Retention:  time.Millisecond,
		MaxFileAge: time.Hour,
	}).WithLogger(discardLogger)

	result, err := m.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, MaintenanceResult{JobsDeleted: 1, UploadsRemoved: 1, OutputsRemoved: 1}, result)

	gone, err := repo.GetByID(ctx, finished.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
	assert.NotNil(t, getJob(t, repo, pending.ID))

	assert.NoFileExists(t, oldUpload)
	assert.NoFileExists(t, oldOutput)
	assert.FileExists(t, freshUpload)
}

func TestMaintenance_RunOnceDisabled(t *testing.T) {
	repo := setupJobRepo(t)
	ctx := context.Background()

	enqueue(t, repo, "done")
	job := acquire(t, repo)
	require.NoError(t, repo.Fail(ctx, job, "internal", "boom"))

	m := NewMaintenance(repo, nil, MaintenanceConfig{}).WithLogger(discardLogger)
	result, err := m.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, result)
}

func TestMaintenance_StartStop(t *testing.T) {
	repo := setupJobRepo(t)

	m := NewMaintenance(repo, nil, MaintenanceConfig{Schedule: "*/5 * * * * *"}).WithLogger(discardLogger)
	require.NoError(t, m.Start(context.Background()))
	assert.Error(t, m.Start(context.Background()))
	m.Stop()
	m.Stop()

	bad := NewMaintenance(repo, nil, MaintenanceConfig{Schedule: "not a schedule"}).WithLogger(discardLogger)
	assert.Error(t, bad.Start(context.Background()))
}

func TestValidateCron(t *testing.T) {
	valid := []string{"@hourly", "@daily", "0 3 * * *", "0 */15 * * * *", "@every 30m"}
	for _, expr := range valid {
		assert.NoError(t, ValidateCron(expr), expr)
	}

	invalid := []string{"", "invalid", "60 * * * *", "* * *"}
	for _, expr := range invalid {
		assert.Error(t, ValidateCron(expr), expr)
	}
}

func TestNextRun(t *testing.T) {
	from := time.Date(2026, 3, 1, 10, 17, 0, 0, time.UTC)

	next, err := NextRun("0 * * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC), next)

	_, err = NextRun("bogus", from)
	assert.Error(t, err)
}
