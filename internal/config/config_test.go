package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_FallsBackToHomeDir(t *testing.T) {
	original := os.Getenv(EnvZBHome)
	defer os.Setenv(EnvZBHome, original)
	require.NoError(t, os.Unsetenv(EnvZBHome))

	cfg, err := DefaultConfig()
	require.NoError(t, err)

	home, _ := os.UserHomeDir()
	expected := filepath.Join(home, ".zb")
	require.Equal(t, expected, cfg.RootDir)
	require.Equal(t, filepath.Join(expected, "store"), cfg.StoreDir)
	require.Equal(t, filepath.Join(expected, "cache", "blobs"), cfg.BlobCacheDir)
	require.Equal(t, filepath.Join(expected, "cache", "tmp"), cfg.TmpCacheDir)
	require.Equal(t, filepath.Join(expected, "db"), cfg.DBDir)
	require.Equal(t, filepath.Join(expected, "locks"), cfg.LocksDir)
	require.Equal(t, filepath.Join(expected, "prefix"), cfg.PrefixDir)
}

func TestDefaultConfig_HonorsZBHome(t *testing.T) {
	original := os.Getenv(EnvZBHome)
	defer os.Setenv(EnvZBHome, original)
	os.Setenv(EnvZBHome, "/custom/zb")

	cfg, err := DefaultConfig()
	require.NoError(t, err)
	require.Equal(t, "/custom/zb", cfg.RootDir)
	require.Equal(t, filepath.Join("/custom/zb", "store"), cfg.StoreDir)
}

func TestDefaultConfig_HonorsZBPrefix(t *testing.T) {
	origHome := os.Getenv(EnvZBHome)
	origPrefix := os.Getenv(EnvZBPrefix)
	defer func() {
		os.Setenv(EnvZBHome, origHome)
		os.Setenv(EnvZBPrefix, origPrefix)
	}()
	os.Setenv(EnvZBHome, "/custom/zb")
	os.Setenv(EnvZBPrefix, "/opt/zb")

	cfg, err := DefaultConfig()
	require.NoError(t, err)
	require.Equal(t, "/opt/zb", cfg.PrefixDir)
}

func TestEnsureDirectories(t *testing.T) {
	tmp := t.TempDir()
	cfg := &Config{
		RootDir:      filepath.Join(tmp, "zb"),
		PrefixDir:    filepath.Join(tmp, "zb", "prefix"),
		StoreDir:     filepath.Join(tmp, "zb", "store"),
		CacheDir:     filepath.Join(tmp, "zb", "cache"),
		BlobCacheDir: filepath.Join(tmp, "zb", "cache", "blobs"),
		TmpCacheDir:  filepath.Join(tmp, "zb", "cache", "tmp"),
		DBDir:        filepath.Join(tmp, "zb", "db"),
		LocksDir:     filepath.Join(tmp, "zb", "locks"),
	}

	require.NoError(t, cfg.EnsureDirectories())

	for _, dir := range []string{cfg.RootDir, cfg.PrefixDir, cfg.StoreDir, cfg.CacheDir, cfg.BlobCacheDir, cfg.TmpCacheDir, cfg.DBDir, cfg.LocksDir} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		require.True(t, info.IsDir())
	}
}

func TestGetDuration_DefaultInvalidAndClamped(t *testing.T) {
	original := os.Getenv(EnvAPITimeout)
	defer os.Setenv(EnvAPITimeout, original)

	os.Unsetenv(EnvAPITimeout)
	require.Equal(t, DefaultAPITimeout, getDuration(EnvAPITimeout, DefaultAPITimeout, time.Second, 10*time.Minute))

	os.Setenv(EnvAPITimeout, "not-a-duration")
	require.Equal(t, DefaultAPITimeout, getDuration(EnvAPITimeout, DefaultAPITimeout, time.Second, 10*time.Minute))

	os.Setenv(EnvAPITimeout, "100ms")
	require.Equal(t, time.Second, getDuration(EnvAPITimeout, DefaultAPITimeout, time.Second, 10*time.Minute))

	os.Setenv(EnvAPITimeout, "1h")
	require.Equal(t, 10*time.Minute, getDuration(EnvAPITimeout, DefaultAPITimeout, time.Second, 10*time.Minute))
}

func TestGetInt_DefaultInvalidAndClamped(t *testing.T) {
	original := os.Getenv(EnvDownloadConcurrency)
	defer os.Setenv(EnvDownloadConcurrency, original)

	os.Unsetenv(EnvDownloadConcurrency)
	require.Equal(t, 20, getInt(EnvDownloadConcurrency, 20, 1, 256))

	os.Setenv(EnvDownloadConcurrency, "nope")
	require.Equal(t, 20, getInt(EnvDownloadConcurrency, 20, 1, 256))

	os.Setenv(EnvDownloadConcurrency, "0")
	require.Equal(t, 1, getInt(EnvDownloadConcurrency, 20, 1, 256))

	os.Setenv(EnvDownloadConcurrency, "9000")
	require.Equal(t, 256, getInt(EnvDownloadConcurrency, 20, 1, 256))
}

func TestParseByteSize(t *testing.T) {
	tests := []struct {
		input   string
		want    int64
		wantErr bool
	}{
		{"0", 0, false},
		{"1024", 1024, false},
		{"100B", 100, false},
		{"1K", 1024, false},
		{"50M", 50 * 1024 * 1024, false},
		{"1G", 1024 * 1024 * 1024, false},
		{"1.5M", int64(1.5 * 1024 * 1024), false},
		{"", 0, true},
		{"abc", 0, true},
		{"50TB", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseByteSize(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestDefaultConfig_TOMLLayering(t *testing.T) {
	tmp := t.TempDir()
	originalHome := os.Getenv(EnvZBHome)
	originalPrefix := os.Getenv(EnvZBPrefix)
	defer func() {
		os.Setenv(EnvZBHome, originalHome)
		os.Setenv(EnvZBPrefix, originalPrefix)
	}()
	os.Unsetenv(EnvZBPrefix)
	os.Setenv(EnvZBHome, tmp)

	require.NoError(t, os.WriteFile(filepath.Join(tmp, "config.toml"), []byte(`
prefix = "/srv/zb-prefix"
download_concurrency = 8
`), 0644))

	cfg, err := DefaultConfig()
	require.NoError(t, err)
	require.Equal(t, "/srv/zb-prefix", cfg.PrefixDir)
	require.Equal(t, 8, cfg.DownloadConcurrency)
}
