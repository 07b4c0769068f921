package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"github.com/schaermu/rindex/internal/config"
	"github.com/schaermu/rindex/internal/filter"
	"github.com/schaermu/rindex/internal/repo"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestSetupLogger(t *testing.T) {
	// Save original globals.
	origLevel := logLevel
	origFormat := logFormat
	t.Cleanup(func() {
		logLevel = origLevel
		logFormat = origFormat
	})

	for _, tc := range []struct {
		name      string
		logLevel  string
		logFormat string
	}{
		{name: "debug/text", logLevel: "debug", logFormat: "text"},
		{name: "info/json", logLevel: "info", logFormat: "json"},
		{name: "warn/text", logLevel: "warn", logFormat: "text"},
		{name: "error/text", logLevel: "error", logFormat: "text"},
		{name: "unknown/text", logLevel: "unknown", logFormat: "text"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			logLevel = tc.logLevel
			logFormat = tc.logFormat

			logger := setupLogger()
			if logger == nil {
				t.Fatal("setupLogger returned nil")
			}
		})
	}
}

func TestLoadSettings_WithExplicitPath(t *testing.T) {
	origCfgFile, origLevel := cfgFile, logLevel
	t.Cleanup(func() { cfgFile, logLevel = origCfgFile, origLevel })

	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte("log:\n  level: warn\nsync:\n  progress: never\n")
	if err := os.WriteFile(cfgPath, content, 0o600); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfgFile = cfgPath
	settings, err := loadSettings(syncCmd)
	if err != nil {
		t.Fatalf("loadSettings returned error: %v", err)
	}
	if logLevel != "warn" {
		t.Errorf("expected log level from settings file, got %q", logLevel)
	}
	if settings.Sync.Progress != "never" {
		t.Errorf("expected progress never, got %q", settings.Sync.Progress)
	}
}

func TestLoadSettings_MissingFile(t *testing.T) {
	origCfgFile := cfgFile
	t.Cleanup(func() { cfgFile = origCfgFile })

	cfgFile = filepath.Join(t.TempDir(), "nonexistent.yaml")
	if _, err := loadSettings(syncCmd); err == nil {
		t.Fatal("expected error for missing config file, got nil")
	}
}

func TestLoadSettings_DefaultPath(t *testing.T) {
	origCfgFile, origLevel := cfgFile, logLevel
	t.Cleanup(func() { cfgFile, logLevel = origCfgFile, origLevel })

	cfgFile = ""
	t.Setenv("HOME", t.TempDir())

	settings, err := loadSettings(syncCmd)
	if err != nil {
		t.Fatalf("expected defaults when the default settings file doesn't exist: %v", err)
	}
	if settings.Watch.Delay == 0 {
		t.Error("expected default watch delay")
	}
}

func TestSetupSignalHandler(t *testing.T) {
	ctx, cancel := setupSignalHandler()
	if ctx == nil {
		t.Fatal("setupSignalHandler returned nil context")
	}

	cancel()

	<-ctx.Done()
	if err := ctx.Err(); err == nil {
		t.Fatal("expected context error after cancel, got nil")
	}
}

func TestVersionCmd(t *testing.T) {
	t.Helper()
	// versionCmd.Run simply prints version info; should not panic.
	versionCmd.Run(versionCmd, []string{})
}

func TestRunInit(t *testing.T) {
	dir := t.TempDir()

	if err := runInit(initCmd, []string{dir}); err != nil {
		t.Fatalf("runInit failed: %v", err)
	}
	if _, err := repo.LoadConfig(dir, filter.Default()); err != nil {
		t.Fatalf("written config does not load: %v", err)
	}

	if err := runInit(initCmd, []string{dir}); err == nil {
		t.Fatal("expected runInit to refuse overwriting")
	}
}

func TestSyncOnce(t *testing.T) {
	dir := t.TempDir()
	if _, err := repo.WriteDefaultConfig(dir, filter.Default()); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "docs"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "docs", "a.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}

	settings := config.Default()
	settings.Metrics.Textfile = filepath.Join(t.TempDir(), "rindex.prom")

	// twice, so the second run reopens the persisted fast cache
	for i := 0; i < 2; i++ {
		var out bytes.Buffer
		if err := syncOnce(context.Background(), settings, testLogger(), dir, dir, &out); err != nil {
			t.Fatalf("run %d: syncOnce failed: %v", i, err)
		}
	}

	data, err := os.ReadFile(filepath.Join(dir, repo.IndexFilename))
	if err != nil {
		t.Fatalf("index not written: %v", err)
	}
	var index map[string]any
	if err := toml.Unmarshal(data, &index); err != nil {
		t.Fatal(err)
	}
	if _, ok := index["docs/a.txt"]; !ok {
		t.Errorf("expected docs/a.txt in index, got %v", index)
	}
	if len(index) != 1 {
		t.Errorf("expected only docs/a.txt in index, got %v", index)
	}

	if _, err := os.Stat(filepath.Join(dir, repo.StateDirname, "fscache")); err != nil {
		t.Errorf("expected fast cache in state dir: %v", err)
	}

	prom, err := os.ReadFile(settings.Metrics.Textfile)
	if err != nil {
		t.Fatalf("metrics textfile not written: %v", err)
	}
	if !strings.Contains(string(prom), "rindex_files_reused_total 1") {
		t.Errorf("expected the second run to reuse the digest, got:\n%s", prom)
	}
}

func TestSyncOnce_NoRepository(t *testing.T) {
	dir := t.TempDir()
	err := syncOnce(context.Background(), config.Default(), testLogger(), dir, dir, &bytes.Buffer{})
	if err == nil {
		t.Fatal("expected error outside of a repository")
	}
}

func TestExplain(t *testing.T) {
	raw := map[string]any{
		"a": map[string]any{"data": map[string]any{"bind": "b"}},
		"c": map[string]any{"standalone": 2, "save_md5": true},
	}
	cfg, err := repo.NewConfig(raw, filter.Default())
	if err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := explain(&out, cfg, "a/x"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "is bound to b/x") {
		t.Errorf("expected bind note, got:\n%s", out.String())
	}

	out.Reset()
	if err := explain(&out, cfg, "c/d"); err != nil {
		t.Fatal(err)
	}
	var doc map[string]map[string]any
	if err := toml.Unmarshal(out.Bytes(), &doc); err != nil {
		t.Fatalf("explain output is not TOML: %v\n%s", err, out.String())
	}
	table := doc["c/d"]
	if table["standalone"] != int64(1) {
		t.Errorf("expected standalone 1 one level below c, got %v", table["standalone"])
	}
	if table["save_md5"] != true {
		t.Errorf("expected save_md5 inherited from c, got %v", table["save_md5"])
	}
}
