package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/schaermu/rindex/internal/config"
	"github.com/schaermu/rindex/internal/entry"
	"github.com/schaermu/rindex/internal/filter"
	"github.com/schaermu/rindex/internal/fscache"
	"github.com/schaermu/rindex/internal/metrics"
	"github.com/schaermu/rindex/internal/pathutil"
	"github.com/schaermu/rindex/internal/progress"
	"github.com/schaermu/rindex/internal/repo"
	"github.com/schaermu/rindex/internal/sync"
	"github.com/schaermu/rindex/internal/watch"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string

	// Sync flags
	noCache         bool
	metricsTextfile string
	progressMode    string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "rindex",
	Short: "Save file metadata to index files",
	Long: `rindex walks a directory tree and records size, modification time and
content digests of every file in index.toml files inside a repository.

The repository is the nearest directory holding a rindex.toml, which decides
where index files are written, which digests are saved and which paths are
aliased or ignored. Unchanged files are recognized by device and inode and
are not read again.`,
	SilenceUsage: true,
}

var syncCmd = &cobra.Command{
	Use:   "sync SRC [DEST]",
	Short: "Index SRC into the repository at DEST",
	Long: `Sync indexes the file or directory SRC at the location of DEST inside its
repository. DEST defaults to the current directory; the repository root is
found by walking up from DEST.

Entries of files that no longer exist are dropped, stale repository
directories are pruned and empty ones removed.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runSync,
}

var watchCmd = &cobra.Command{
	Use:   "watch SRC [DEST]",
	Short: "Sync, then re-sync whenever SRC changes",
	Long: `Watch performs an initial sync and then keeps watching SRC. Changes are
debounced by watch.delay; at most one sync runs at a time and at most one
more is queued behind it.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runWatch,
}

var initCmd = &cobra.Command{
	Use:   "init [DIR]",
	Short: "Write a default rindex.toml",
	Long: `Init creates DIR/rindex.toml (DIR defaults to the current directory) holding
the default value of every option. An existing file is never overwritten.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

var explainCmd = &cobra.Command{
	Use:   "explain [PATH]",
	Short: "Print the resolved configuration of a path",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runExplain,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("rindex %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "settings file (default is $HOME/.config/rindex/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	for _, c := range []*cobra.Command{syncCmd, watchCmd} {
		c.Flags().BoolVar(&noCache, "no-cache", false, "do not persist the fast cache")
		c.Flags().StringVar(&metricsTextfile, "metrics-textfile", "", "write run metrics to this node exporter textfile")
		c.Flags().StringVar(&progressMode, "progress", "auto", "show progress (auto, always, never)")
	}

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(explainCmd)
	rootCmd.AddCommand(versionCmd)
}

func syncArgs(args []string) (string, string) {
	dest := "."
	if len(args) > 1 {
		dest = args[1]
	}
	return args[0], dest
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	settings, err := loadSettings(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := setupLogger()

	src, dest := syncArgs(args)
	if err := syncOnce(ctx, settings, logger, src, dest, os.Stderr); err != nil {
		logger.Error("sync failed", "error", err)
		return err
	}
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	settings, err := loadSettings(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := setupLogger()

	src, dest := syncArgs(args)
	root, err := filepath.Abs(src)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", src, err)
	}

	// progress lines would interleave with the log
	settings.Sync.Progress = progress.ModeNever

	repoRoot, logical, err := repo.FindRoot(dest)
	if err != nil {
		return err
	}
	cfg, err := repo.LoadConfig(repoRoot, filter.Default())
	if err != nil {
		return err
	}

	w := watch.New(root, func(ctx context.Context) error {
		return syncOnce(ctx, settings, logger, src, dest, io.Discard)
	}, settings.Watch.Delay, logger, watch.WithSkip(watch.SkipUnsynced(root, logical, cfg)))

	return w.Start(ctx)
}

// syncOnce performs one complete sync run of src into the repository at dest
func syncOnce(ctx context.Context, settings *config.Config, logger *slog.Logger, src, dest string, out io.Writer) error {
	m := metrics.New()
	r, logical, err := repo.Open(dest, filter.Default(), logger, m)
	if err != nil {
		return fmt.Errorf("failed to open repository: %w", err)
	}

	cache, err := openCache(settings, r, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := cache.Close(); err != nil {
			logger.Warn("failed to close fast cache", "error", err)
		}
	}()

	p := progress.New(out, settings.Sync.Progress)
	worker := sync.NewWorker(r, cache, logger, sync.WithMetrics(m), sync.WithProgress(p))

	logger.Info("starting sync", "src", src, "repo", r.Root(), "path", logical.String())
	err = worker.Sync(ctx, src, logical)
	p.Done()
	if err != nil {
		return err
	}
	if err := r.Close(); err != nil {
		return err
	}

	if err := m.WriteTextfile(settings.Metrics.Textfile); err != nil {
		return err
	}
	logger.Info("sync completed")
	return nil
}

func openCache(settings *config.Config, r *repo.Repository, logger *slog.Logger) (fscache.Cache, error) {
	dir := settings.CacheDir(r.StateDir())
	if dir == "" {
		logger.Debug("fast cache disabled")
		return fscache.NewMemory(), nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return fscache.OpenBadger(dir, logger)
}

func runInit(cmd *cobra.Command, args []string) error {
	logger := setupLogger()

	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}

	path, err := repo.WriteDefaultConfig(dir, filter.Default())
	if err != nil {
		return err
	}
	logger.Info("a default config file was written", "path", path)
	return nil
}

func runExplain(cmd *cobra.Command, args []string) error {
	target := "."
	if len(args) > 0 {
		target = args[0]
	}

	root, rel, err := repo.FindRoot(target)
	if err != nil {
		return err
	}
	chain := filter.Default()
	cfg, err := repo.LoadConfig(root, chain)
	if err != nil {
		return err
	}

	return explain(cmd.OutOrStdout(), cfg, rel)
}

// explain prints the options in effect for p as a rindex.toml table
func explain(w io.Writer, cfg *repo.Config, p pathutil.RelPath) error {
	pc := cfg.Lookup(p)
	doc := map[string]any{p.String(): cfg.Chain().DumpConfig(pc)}
	if pc.Mode == entry.ModeBind {
		_, _ = fmt.Fprintf(w, "# %s is bound to %s and is not indexed\n", p, pc.Target)
	}
	return toml.NewEncoder(w).Encode(doc)
}

func setupLogger() *slog.Logger {
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

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// loadSettings reads the settings file and lets explicitly set flags win
func loadSettings(cmd *cobra.Command) (*config.Config, error) {
	path, explicit := cfgFile, cfgFile != ""
	if !explicit {
		path = config.DefaultPath
	}

	settings, err := config.Load(path, explicit)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if !flags.Changed("log-level") {
		logLevel = settings.Log.Level
	}
	if !flags.Changed("log-format") {
		logFormat = settings.Log.Format
	}
	if flags.Changed("no-cache") {
		settings.Cache.Disabled = noCache
	}
	if flags.Changed("metrics-textfile") {
		abs, err := filepath.Abs(metricsTextfile)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", metricsTextfile, err)
		}
		settings.Metrics.Textfile = abs
	}
	if flags.Changed("progress") {
		settings.Sync.Progress = progress.Mode(progressMode)
	}

	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid flags: %w", err)
	}
	return settings, nil
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
