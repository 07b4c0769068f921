package repo

import (
	"fmt"
	"maps"
	"slices"

	"github.com/schaermu/rindex/internal/entry"
	"github.com/schaermu/rindex/internal/filter"
	"github.com/schaermu/rindex/internal/pathutil"
	"github.com/schaermu/rindex/internal/tree"
)

// Config is the resolved per-path configuration of a repository.
// It is built once and never mutated afterwards.
type Config struct {
	chain *filter.Chain
	tree  *tree.Tree[*entry.PathConfig]
}

// NewConfig resolves a raw mapping of path -> option table.
// Bind and overlay targets are rewritten to their final location, so a
// chain a -> b -> c resolves a straight to c.
func NewConfig(raw map[string]any, chain *filter.Chain) (*Config, error) {
	original := make(map[pathutil.RelPath]string, len(raw))
	for _, key := range slices.Sorted(maps.Keys(raw)) {
		p, err := pathutil.Sanitize(key)
		if err != nil {
			return nil, &ConfigError{Path: key, Err: err}
		}
		if prev, ok := original[p]; ok {
			return nil, &ConfigError{Path: key, Err: fmt.Errorf("%w: %q and %q", ErrPathConflict, key, prev)}
		}
		original[p] = key
	}

	paths := slices.Collect(maps.Keys(original))
	slices.SortFunc(paths, func(a, b pathutil.RelPath) int {
		switch {
		case pathutil.Less(a, b):
			return -1
		case pathutil.Less(b, a):
			return 1
		}
		return 0
	})

	t := tree.New[*entry.PathConfig]()
	t.Set(pathutil.Root, chain.DefaultConfig())

	for _, p := range paths {
		key := original[p]
		opts, ok := raw[key].(map[string]any)
		if !ok {
			return nil, &ConfigError{Path: key, Err: fmt.Errorf("%w: expected a table, got %T", filter.ErrInvalidOption, raw[key])}
		}

		at, parent, _ := t.Nearest(p)
		suffix, _ := p.Rel(at)
		cfg := chain.Calc(parent, suffix)
		if err := chain.Apply(opts, cfg); err != nil {
			return nil, &ConfigError{Path: key, Err: err}
		}
		t.Set(p, cfg)
	}

	rootCfg, _ := t.Get(pathutil.Root)
	if rootCfg.Standalone <= 0 {
		return nil, &ConfigError{Path: pathutil.Root.String(), Err: ErrRootNotStandalone}
	}

	c := &Config{chain: chain, tree: t}
	if err := c.resolveAliases(); err != nil {
		return nil, err
	}
	return c, nil
}

// holder returns the configured path that governs p and its config
func (c *Config) holder(p pathutil.RelPath) (pathutil.RelPath, *entry.PathConfig) {
	at, cfg, _ := c.tree.Nearest(p)
	return at, cfg
}

// resolveAliases orders the configured paths so every alias target's holder
// comes before the alias, then collapses each target in that order
func (c *Config) resolveAliases() error {
	vertices := c.tree.Paths()

	var edges []tree.Edge[pathutil.RelPath]
	for _, p := range vertices {
		if !p.IsRoot() {
			at, _ := c.holder(p.Parent())
			edges = append(edges, tree.Edge[pathutil.RelPath]{From: at, To: p})
		}
		if cfg, _ := c.tree.Get(p); cfg.Aliased() {
			at, _ := c.holder(cfg.Target)
			edges = append(edges, tree.Edge[pathutil.RelPath]{From: at, To: p})
		}
	}

	order := tree.TopSort(vertices, edges)
	if len(order) < len(vertices) {
		return ErrCycle
	}

	for _, p := range order {
		cfg, _ := c.tree.Get(p)
		if !cfg.Aliased() {
			continue
		}
		at, h := c.holder(cfg.Target)
		rel, _ := cfg.Target.Rel(at)
		base := at
		if h.Mode == entry.ModeBind {
			base = h.Target
		}
		cfg.Target = base.JoinPath(rel)
	}
	return nil
}

// Lookup returns the effective config of p. The result is a fresh copy.
func (c *Config) Lookup(p pathutil.RelPath) *entry.PathConfig {
	at, cfg := c.holder(p)
	suffix, _ := p.Rel(at)
	return c.chain.Calc(cfg, suffix)
}

// Chain returns the filter chain the config was built with
func (c *Config) Chain() *filter.Chain {
	return c.chain
}

// Configured returns every explicitly configured path, ancestors first.
// The root is always included.
func (c *Config) Configured() []pathutil.RelPath {
	return c.tree.Paths()
}
