// Package config resolves zb's on-disk layout and tunables: the root
// directory holding the store/cache/db/locks, the prefix kegs are linked
// into, and the concurrency/timeout knobs the install pipeline reads at
// startup. Precedence is environment variable > config.toml > built-in
// default.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	// EnvZBHome overrides the root directory (default ~/.zb).
	EnvZBHome = "ZB_HOME"
	// EnvZBPrefix overrides the install prefix (default <root>/prefix).
	EnvZBPrefix = "ZB_PREFIX"
	// EnvAPITimeout configures the Formula API request timeout.
	EnvAPITimeout = "ZB_API_TIMEOUT"
	// EnvDownloadConcurrency configures the blob download worker pool size.
	EnvDownloadConcurrency = "ZB_DOWNLOAD_CONCURRENCY"
	// EnvUnpackConcurrency configures the store-unpack worker pool size.
	EnvUnpackConcurrency = "ZB_UNPACK_CONCURRENCY"
	// EnvMaterializeConcurrency configures the materialize+link worker pool size.
	EnvMaterializeConcurrency = "ZB_MATERIALIZE_CONCURRENCY"
	// EnvRegistryURL overrides the Formula API base URL (tests point this at httptest servers).
	EnvRegistryURL = "ZB_REGISTRY_URL"

	// DefaultAPITimeout is used when EnvAPITimeout is unset or invalid.
	DefaultAPITimeout = 30 * time.Second
	// DefaultDownloadConcurrency is the default blob download pool size.
	DefaultDownloadConcurrency = 20
	// DefaultUnpackConcurrency is the default store-unpack pool size.
	DefaultUnpackConcurrency = 4
	// DefaultMaterializeConcurrency is the default materialize+link pool size.
	DefaultMaterializeConcurrency = 4
	// DefaultRegistryURL is Homebrew's public formula metadata API.
	DefaultRegistryURL = "https://formulae.brew.sh"
)

// DefaultHomeOverride lets a dev build (via ldflags) default to a
// different root directory. ZB_HOME still takes precedence.
var DefaultHomeOverride string

// Config holds zb's resolved directory layout and tunables.
type Config struct {
	RootDir   string // $ZB_HOME
	PrefixDir string // $ZB_PREFIX

	StoreDir     string // <root>/store
	CacheDir     string // <root>/cache
	BlobCacheDir string // <root>/cache/blobs
	TmpCacheDir  string // <root>/cache/tmp
	DBDir        string // <root>/db
	LocksDir     string // <root>/locks
	ConfigFile   string // <root>/config.toml

	RegistryURL            string
	APITimeout             time.Duration
	DownloadConcurrency    int
	UnpackConcurrency      int
	MaterializeConcurrency int
}

// fileConfig is the shape of config.toml. Every field is optional; zero
// values mean "not set" and fall through to the environment/default.
type fileConfig struct {
	Prefix                 string `toml:"prefix"`
	RegistryURL            string `toml:"registry_url"`
	DownloadConcurrency    int    `toml:"download_concurrency"`
	UnpackConcurrency      int    `toml:"unpack_concurrency"`
	MaterializeConcurrency int    `toml:"materialize_concurrency"`
}

// DefaultConfig resolves ZB_HOME (or DefaultHomeOverride, or ~/.zb),
// layers config.toml under it, then applies environment variable
// overrides, producing a fully populated Config.
func DefaultConfig() (*Config, error) {
	root := os.Getenv(EnvZBHome)
	if root == "" {
		if DefaultHomeOverride != "" {
			root = DefaultHomeOverride
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("config: resolve home directory: %w", err)
			}
			root = filepath.Join(home, ".zb")
		}
	}

	c := &Config{
		RootDir:      root,
		StoreDir:     filepath.Join(root, "store"),
		CacheDir:     filepath.Join(root, "cache"),
		BlobCacheDir: filepath.Join(root, "cache", "blobs"),
		TmpCacheDir:  filepath.Join(root, "cache", "tmp"),
		DBDir:        filepath.Join(root, "db"),
		LocksDir:     filepath.Join(root, "locks"),
		ConfigFile:   filepath.Join(root, "config.toml"),

		RegistryURL:            DefaultRegistryURL,
		APITimeout:             DefaultAPITimeout,
		DownloadConcurrency:    DefaultDownloadConcurrency,
		UnpackConcurrency:      DefaultUnpackConcurrency,
		MaterializeConcurrency: DefaultMaterializeConcurrency,
	}
	c.PrefixDir = filepath.Join(root, "prefix")

	var fc fileConfig
	if _, err := toml.DecodeFile(c.ConfigFile, &fc); err == nil {
		if fc.Prefix != "" {
			c.PrefixDir = fc.Prefix
		}
		if fc.RegistryURL != "" {
			c.RegistryURL = fc.RegistryURL
		}
		if fc.DownloadConcurrency > 0 {
			c.DownloadConcurrency = fc.DownloadConcurrency
		}
		if fc.UnpackConcurrency > 0 {
			c.UnpackConcurrency = fc.UnpackConcurrency
		}
		if fc.MaterializeConcurrency > 0 {
			c.MaterializeConcurrency = fc.MaterializeConcurrency
		}
	} else if !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Warning: failed to read %s: %v\n", c.ConfigFile, err)
	}

	if v := os.Getenv(EnvZBPrefix); v != "" {
		c.PrefixDir = v
	}
	if v := os.Getenv(EnvRegistryURL); v != "" {
		c.RegistryURL = v
	}
	c.APITimeout = getDuration(EnvAPITimeout, DefaultAPITimeout, time.Second, 10*time.Minute)
	c.DownloadConcurrency = getInt(EnvDownloadConcurrency, c.DownloadConcurrency, 1, 256)
	c.UnpackConcurrency = getInt(EnvUnpackConcurrency, c.UnpackConcurrency, 1, 64)
	c.MaterializeConcurrency = getInt(EnvMaterializeConcurrency, c.MaterializeConcurrency, 1, 64)

	return c, nil
}

// EnsureDirectories creates every directory this Config names.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.RootDir, c.PrefixDir,
		c.StoreDir, c.CacheDir, c.BlobCacheDir, c.TmpCacheDir,
		c.DBDir, c.LocksDir,
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("config: create directory %s: %w", dir, err)
		}
	}
	return nil
}

// getDuration reads name as a time.Duration, falling back to def on any
// parse error and clamping to [min, max], warning to stderr either way.
func getDuration(name string, def, min, max time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: invalid %s value %q, using default %v\n", name, v, def)
		return def
	}
	if d < min {
		fmt.Fprintf(os.Stderr, "Warning: %s too low (%v), using minimum %v\n", name, d, min)
		return min
	}
	if d > max {
		fmt.Fprintf(os.Stderr, "Warning: %s too high (%v), using maximum %v\n", name, d, max)
		return max
	}
	return d
}

// getInt reads name as an int, falling back to def on any parse error and
// clamping to [min, max].
func getInt(name string, def, min, max int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: invalid %s value %q, using default %d\n", name, v, def)
		return def
	}
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}

// ParseByteSize parses a human-readable byte size ("50MB", "50M", "52428800").
// Case-insensitive, accepts plain numbers as bytes.
func ParseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}

	var numStr, suffix string
	for i, c := range s {
		if (c >= '0' && c <= '9') || c == '.' {
			numStr += string(c)
		} else {
			suffix = s[i:]
			break
		}
	}
	if numStr == "" {
		return 0, fmt.Errorf("invalid size format: %q", s)
	}

	num, err := strconv.ParseFloat(numStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size number: %q", numStr)
	}

	var multiplier float64
	switch suffix {
	case "", "B":
		multiplier = 1
	case "K", "KB":
		multiplier = 1024
	case "M", "MB":
		multiplier = 1024 * 1024
	case "G", "GB":
		multiplier = 1024 * 1024 * 1024
	default:
		return 0, fmt.Errorf("invalid size suffix: %q", suffix)
	}

	return int64(num * multiplier), nil
}
