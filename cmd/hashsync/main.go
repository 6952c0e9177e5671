package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/schaermu/hashsync/internal/config"
	"github.com/schaermu/hashsync/internal/sync"
	"github.com/spf13/cobra"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile     string
	logLevel    string
	logFormat   string
	sourceDir   string
	destDir     string
	manifestDir string
	dryRun      bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "hashsync",
	Short: "Mirror a directory tree using content hash manifests",
	Long: `hashsync keeps a destination tree (typically a removable drive) in step
with a source tree. Both trees are described by persisted manifests mapping
relative paths to content digests, so a sync only has to compare manifests
instead of reading both trees side by side.

Files are only ever added or overwritten on the destination, never deleted.`,
	SilenceUsage: true,
}

var scanSourceCmd = &cobra.Command{
	Use:   "scan-source",
	Short: "Hash the source tree and replace the source manifest",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScan(config.Source)
	},
}

var scanDestCmd = &cobra.Command{
	Use:   "scan-dest",
	Short: "Hash the destination tree and replace the destination manifest",
	Long: `Scan-dest rebuilds the destination manifest from the files actually present
on the destination. Use it after the destination was modified out of band.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScan(config.Dest)
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Copy stale and missing files from source to destination",
	Long: `Sync compares the persisted source and destination manifests, checks which
destination files exist, and copies every file that is missing or differs.

The destination manifest is not updated by sync; run reconcile afterwards to
record the copies.`,
	RunE: runSync,
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Verify destination files and record them in the destination manifest",
	Long: `Reconcile re-hashes destination files whose manifest entry disagrees with
the source manifest. Entries whose content now matches are updated; every
other path is reported as still needing a sync.`,
	RunE: runReconcile,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Scan the source, sync and reconcile in one pass",
	RunE:  runRun,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("hashsync %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/hashsync/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().StringVar(&sourceDir, "source", "", "source tree root (overrides paths.source)")
	rootCmd.PersistentFlags().StringVar(&destDir, "dest", "", "destination tree root (overrides paths.dest)")
	rootCmd.PersistentFlags().StringVar(&manifestDir, "manifest-dir", "", "manifest directory (overrides manifests.dir)")

	// Dry-run applies to every command that writes
	for _, cmd := range []*cobra.Command{scanSourceCmd, scanDestCmd, syncCmd, reconcileCmd, runCmd} {
		cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be done without making changes")
	}

	// Add commands
	rootCmd.AddCommand(scanSourceCmd)
	rootCmd.AddCommand(scanDestCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func newEngine() (*sync.Engine, *slog.Logger, error) {
	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	engine, err := sync.NewEngine(cfg, logger, dryRun)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create engine: %w", err)
	}
	return engine, logger, nil
}

func runScan(side config.Side) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	engine, logger, err := newEngine()
	if err != nil {
		return err
	}

	if _, err := engine.ScanAndSave(ctx, side); err != nil {
		logger.Error("scan failed", "side", side, "error", err)
		return err
	}
	return nil
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	engine, logger, err := newEngine()
	if err != nil {
		return err
	}

	logger.Info("starting sync operation")
	result, err := engine.DiffAndSync(ctx)
	if err != nil {
		logger.Error("sync failed", "error", err)
		return err
	}
	return checkSyncResult(logger, result)
}

func runReconcile(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	engine, logger, err := newEngine()
	if err != nil {
		return err
	}

	if _, err := engine.ReconcileProgress(ctx); err != nil {
		logger.Error("reconcile failed", "error", err)
		return err
	}
	return nil
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	engine, logger, err := newEngine()
	if err != nil {
		return err
	}

	result, err := engine.Run(ctx)
	if err != nil {
		logger.Error("run failed", "error", err)
		return err
	}
	return checkSyncResult(logger, result.Sync)
}

// checkSyncResult turns copy failures into a non-zero exit
func checkSyncResult(logger *slog.Logger, result *sync.SyncResult) error {
	if result == nil || len(result.Failed) == 0 {
		return nil
	}
	for _, f := range result.Failed {
		logger.Error("file not copied", "path", f.Path, "error", f.Err)
	}
	return fmt.Errorf("%d of %d files failed to copy", len(result.Failed), result.Planned)
}

func setupLogger() *slog.Logger {
	return newLogger(os.Stdout)
}

func newLogger(w io.Writer) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	// Create handler based on format
	var handler slog.Handler
	if logFormat == "json" {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	} else {
		handler = tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
			NoColor:    !isTerminal(w),
		})
	}

	return slog.New(handler)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func loadConfig(logger *slog.Logger) (*config.Config, error) {
	// Determine config file path
	configPath := cfgFile
	explicit := configPath != ""
	if !explicit {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "hashsync", "config.yaml")
	}

	data, err := os.ReadFile(os.ExpandEnv(configPath))
	switch {
	case err == nil:
		logger.Info("loading configuration", "path", configPath)
	case !explicit && errors.Is(err, fs.ErrNotExist):
		// flags alone may describe the trees
		logger.Debug("no config file found, using flags", "path", configPath)
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := config.Parse(data)
	if err != nil {
		return nil, err
	}

	if sourceDir != "" {
		cfg.Paths.Source = sourceDir
	}
	if destDir != "" {
		cfg.Paths.Dest = destDir
	}
	if manifestDir != "" {
		cfg.Manifests.Dir = manifestDir
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger.Debug("configuration loaded",
		"source", cfg.Paths.Source,
		"dest", cfg.Paths.Dest,
		"manifest_dir", cfg.Manifests.Dir,
		"algorithm", cfg.Hash.Algorithm)

	return cfg, nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
