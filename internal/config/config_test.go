package config

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(afero.NewMemMapFs(), "/conf/itchgrab", "")
	require.NoError(t, err)
	assert.Equal(t, "itchgrab/1.0", cfg.UserAgent)
	assert.Equal(t, ".", cfg.DownloadTo)
	assert.Equal(t, 1, cfg.Parallel)
	assert.False(t, cfg.MirrorWeb)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/conf/itchgrab/config.json", []byte(`{
		"api_key": "from-file",
		"download_to": "/games",
		"parallel": 4,
		"filter_files_platform": ["p_linux"]
	}`), 0o600))

	cfg, err := Load(fs, "/conf/itchgrab", "")
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.APIKey)
	assert.Equal(t, "/games", cfg.DownloadTo)
	assert.Equal(t, 4, cfg.Parallel)
	assert.Equal(t, []string{"p_linux"}, cfg.FilterFilesPlatform)
	assert.Equal(t, "itchgrab/1.0", cfg.UserAgent)
}

func TestLoadProfileOverlay(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/conf/itchgrab/config.json",
		[]byte(`{"api_key": "base-key", "parallel": 2}`), 0o600))
	require.NoError(t, afero.WriteFile(fs, "/conf/itchgrab/profiles/work",
		[]byte(`{"parallel": 8, "mirror_web": true}`), 0o600))

	cfg, err := Load(fs, "/conf/itchgrab", "work")
	require.NoError(t, err)
	assert.Equal(t, "base-key", cfg.APIKey, "base values survive the overlay")
	assert.Equal(t, 8, cfg.Parallel, "profile values win")
	assert.True(t, cfg.MirrorWeb)
}

func TestLoadMissingProfile(t *testing.T) {
	_, err := Load(afero.NewMemMapFs(), "/conf/itchgrab", "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `profile "nope" not found`)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("ITCHGRAB_DOWNLOAD_TO", "/from-env")
	cfg, err := Load(afero.NewMemMapFs(), "/conf/itchgrab", "")
	require.NoError(t, err)
	assert.Equal(t, "/from-env", cfg.DownloadTo)
}

func TestLoadAPIKeyFallback(t *testing.T) {
	t.Setenv("ITCH_API_KEY", "fallback-key")
	cfg, err := Load(afero.NewMemMapFs(), "/conf/itchgrab", "")
	require.NoError(t, err)
	assert.Equal(t, "fallback-key", cfg.APIKey)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cfg := Config{UserAgent: "x", DownloadTo: ".", Parallel: 0}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parallel must be >= 1")

	cfg = Config{UserAgent: "", DownloadTo: ".", Parallel: 1}
	require.Error(t, cfg.Validate())

	cfg = Config{UserAgent: "x", DownloadTo: ".", Parallel: 1}
	require.NoError(t, cfg.Validate())
}

func TestNormalizePlatforms(t *testing.T) {
	t.Parallel()

	got := NormalizePlatforms([]string{"win", "Linux", " mac ", "osx", "darwin", "android"}, zap.NewNop())
	assert.Equal(t, []string{"p_windows", "p_linux", "p_osx", "p_osx", "p_osx", "p_android"}, got)

	// Unknown names pass through with the trait prefix.
	got = NormalizePlatforms([]string{"haiku"}, zap.NewNop())
	assert.Equal(t, []string{"p_haiku"}, got)

	native := NormalizePlatforms([]string{"native"}, zap.NewNop())
	require.Len(t, native, 1)
	assert.Contains(t, []string{"p_windows", "p_linux", "p_osx"}, native[0])
}
