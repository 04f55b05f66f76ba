package cmd

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/convertarr/internal/config"
)

func TestToMap_FormatsDurationsAndNests(t *testing.T) {
	v := viper.New()
	config.SetDefaults(v)
	cfg, err := config.FromViper(v)
	require.NoError(t, err)

	m := toMap(cfg)

	queue, ok := m["queue"].(map[string]any)
	require.True(t, ok, "queue section should be a nested map")
	assert.Equal(t, "5m0s", queue["lock_duration"])
	assert.Equal(t, 3, queue["workers"])
	assert.Equal(t, "sqlite://convertarr.db", queue["url"])

	server, ok := m["server"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, (30 * time.Second).String(), server["read_timeout"])
}

func TestConvertOptions_OnlySetsChangedPointers(t *testing.T) {
	t.Cleanup(func() {
		convertOpts = convertFlags{}
		for _, name := range []string{"start", "duration", "quality", "width"} {
			convertCmd.Flags().Lookup(name).Changed = false
		}
	})

	require.NoError(t, convertCmd.Flags().Set("width", "1280"))
	require.NoError(t, convertCmd.Flags().Set("start", "0"))

	opts := convertOptions(convertCmd)
	assert.Equal(t, 1280, opts.Width)
	require.NotNil(t, opts.StartTime)
	assert.Zero(t, *opts.StartTime)
	assert.Nil(t, opts.Duration)
	assert.Nil(t, opts.Quality)
}
