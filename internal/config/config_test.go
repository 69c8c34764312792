package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadStreams_AppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	streamsPath := filepath.Join(dir, "streams.json")
	raw := `[{"stream":"s1","name":"Stream 1","type":"GEN"}]`
	require.NoError(t, os.WriteFile(streamsPath, []byte(raw), 0o644))

	streams, err := LoadStreams(streamsPath)
	require.NoError(t, err)
	require.Len(t, streams, 1)

	s := streams[0]
	assert.Equal(t, "s1", s.Stream)
	assert.Equal(t, DefaultTargetFps, s.TargetFps)
	assert.Equal(t, DefaultIntraInterval, s.IntraInterval)
	assert.Equal(t, 0, s.MaxAdaptationSet())
	require.Len(t, s.Qualities.Video, 1)
}

func TestLoadStreams_MissingFileIsError(t *testing.T) {
	_, err := LoadStreams("/no/such/file.json")
	assert.Error(t, err)
}

func TestLoadConfig_VersionFlagShortCircuits(t *testing.T) {
	cfg, printVersion, err := LoadConfig([]string{"llrelay", "-version"}, t.TempDir())
	require.NoError(t, err)
	assert.True(t, printVersion)
	assert.Nil(t, cfg)
}

func TestLoadConfig_DefaultsAndCLIOverride(t *testing.T) {
	cfg, printVersion, err := LoadConfig([]string{"llrelay", "-port", "9999"}, t.TempDir())
	require.NoError(t, err)
	assert.False(t, printVersion)
	require.NotNil(t, cfg)
	assert.Equal(t, 9999, cfg.Port)
	assert.Equal(t, DefaultWaitForAbsent, cfg.WaitForAbsentSegment)
}

func TestLoadConfig_RejectsConflictingTLSOptions(t *testing.T) {
	_, _, err := LoadConfig([]string{"llrelay", "-domains", "example.com", "-sslKeyFile", "key.pem", "-sslCertFile", "cert.pem"}, t.TempDir())
	assert.Error(t, err)
}
