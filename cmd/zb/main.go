package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zb-pm/zb/internal/apiclient"
	"github.com/zb-pm/zb/internal/blobcache"
	"github.com/zb-pm/zb/internal/buildinfo"
	"github.com/zb-pm/zb/internal/config"
	"github.com/zb-pm/zb/internal/httputil"
	"github.com/zb-pm/zb/internal/install"
	"github.com/zb-pm/zb/internal/log"
	"github.com/zb-pm/zb/internal/metadatastore"
	"github.com/zb-pm/zb/internal/platform"
	"github.com/zb-pm/zb/internal/store"
)

var (
	quietFlag   bool
	verboseFlag bool
	debugFlag   bool
)

// globalCtx is canceled on SIGINT/SIGTERM; commands pass it through to
// cancellable pipeline operations.
var globalCtx context.Context
var globalCancel context.CancelFunc

// pipeline and meta are the application's shared collaborators, wired
// once in init and used by every subcommand.
var pipeline *install.Pipeline
var meta *metadatastore.Store

var rootCmd = &cobra.Command{
	Use:   "zb",
	Short: "A fast, local package installer for Homebrew bottles",
	Long: `zb installs prebuilt Homebrew bottles into a local prefix without
requiring Homebrew itself.

It resolves a formula's dependency closure against the formulae.brew.sh
API, fetches and verifies bottle archives, and links them into a shared
prefix with reference-counted deduplication across versions.`,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Show errors only")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Show verbose output (INFO level)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "Show debug output")

	rootCmd.PersistentPreRun = initLogger
	rootCmd.Version = buildinfo.Version()

	cfg, err := config.DefaultConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get config: %v\n", err)
		exitWithCode(ExitGeneral)
	}

	if err := wire(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		exitWithCode(ExitGeneral)
	}

	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(uninstallCmd)
	rootCmd.AddCommand(reinstallCmd)
	rootCmd.AddCommand(gcCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(statusCmd)
}

// wire resolves every on-disk directory cfg names, opens the metadata
// store, and builds the install.Pipeline every subcommand shares.
func wire(cfg *config.Config) error {
	for _, dir := range []string{cfg.StoreDir, cfg.BlobCacheDir, cfg.TmpCacheDir, cfg.DBDir, cfg.LocksDir, cfg.PrefixDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	dbPath := filepath.Join(cfg.DBDir, "zb.db")
	dbLock := filepath.Join(cfg.LocksDir, "zb.db.lock")
	m, err := metadatastore.Open(dbPath, dbLock)
	if err != nil {
		return fmt.Errorf("opening metadata store: %w", err)
	}
	meta = m

	httpClient := httputil.NewSecureClient(httputil.DefaultOptions())
	apiClient := apiclient.New(httpClient, cfg.RegistryURL, meta, log.Default())
	blobs := blobcache.New(cfg.CacheDir, httpClient, cfg.DownloadConcurrency, log.Default())
	st := store.New(cfg.StoreDir, cfg.LocksDir)

	target, err := platform.DetectTarget()
	if err != nil {
		return fmt.Errorf("detecting platform: %w", err)
	}

	pipeline = install.New(apiClient, blobs, st, meta, target, install.Options{
		Prefix:                 cfg.PrefixDir,
		CellarDir:              filepath.Join(cfg.PrefixDir, "Cellar"),
		UnpackConcurrency:      cfg.UnpackConcurrency,
		MaterializeConcurrency: cfg.MaterializeConcurrency,
	})
	return nil
}

func main() {
	globalCtx, globalCancel = context.WithCancel(context.Background())
	defer globalCancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		fmt.Fprintf(os.Stderr, "\nReceived %s, canceling operation...\n", sig)
		globalCancel()

		<-sigChan
		fmt.Fprintln(os.Stderr, "Forced exit")
		exitWithCode(ExitCancelled)
	}()

	defer func() {
		if meta != nil {
			meta.Close()
		}
	}()

	if err := rootCmd.Execute(); err != nil {
		if globalCtx.Err() == context.Canceled {
			exitWithCode(ExitCancelled)
		}
		fmt.Fprintln(os.Stderr, err)
		exitWithCode(ExitGeneral)
	}
}

func initLogger(cmd *cobra.Command, args []string) {
	level := determineLogLevel()
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	log.SetDefault(log.New(handler))
}

func determineLogLevel() slog.Level {
	if debugFlag {
		return slog.LevelDebug
	}
	if verboseFlag {
		return slog.LevelInfo
	}
	if quietFlag {
		return slog.LevelError
	}
	if isTruthy(os.Getenv("ZB_DEBUG")) {
		return slog.LevelDebug
	}
	if isTruthy(os.Getenv("ZB_VERBOSE")) {
		return slog.LevelInfo
	}
	if isTruthy(os.Getenv("ZB_QUIET")) {
		return slog.LevelError
	}
	return slog.LevelWarn
}

func isTruthy(s string) bool {
	s = strings.ToLower(s)
	return s == "1" || s == "true" || s == "yes" || s == "on"
}
