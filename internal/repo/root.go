package repo

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/schaermu/rindex/internal/filter"
	"github.com/schaermu/rindex/internal/pathutil"
	"github.com/schaermu/rindex/internal/store"
)

// FindRoot walks up from start to the first directory holding a config
// file. It returns that directory and start's path relative to it.
func FindRoot(start string) (string, pathutil.RelPath, error) {
	abs, err := filepath.Abs(start)
	if err != nil {
		return "", "", fmt.Errorf("failed to resolve %s: %w", start, err)
	}

	dir := abs
	for {
		info, err := os.Stat(filepath.Join(dir, ConfigFilename))
		if err == nil && info.Mode().IsRegular() {
			rel, err := pathutil.FromOS(dir, abs)
			if err != nil {
				return "", "", err
			}
			return dir, rel, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", "", fmt.Errorf("%w: no %s in %s or any parent directory", ErrNoRepository, ConfigFilename, abs)
		}
		dir = parent
	}
}

// LoadConfig parses and resolves the config file of the repository at root
func LoadConfig(root string, chain *filter.Chain) (*Config, error) {
	path := filepath.Join(root, ConfigFilename)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if raw == nil {
		raw = map[string]any{}
	}

	return NewConfig(raw, chain)
}

// WriteDefaultConfig creates a config file in dir holding the root defaults
// of every filter. An existing file is never overwritten.
func WriteDefaultConfig(dir string, chain *filter.Chain) (string, error) {
	path := filepath.Join(dir, ConfigFilename)
	_, err := os.Stat(path)
	if err == nil {
		return "", fmt.Errorf("%s already exists", path)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("failed to check %s: %w", path, err)
	}

	doc := map[string]any{
		pathutil.Root.String(): chain.DumpConfig(chain.DefaultConfig()),
	}
	err = store.SafeDump(path, func(w io.Writer) error {
		return toml.NewEncoder(w).Encode(doc)
	})
	if err != nil {
		return "", err
	}
	return path, nil
}
