// Package tree provides a tree keyed by relative path segments.
//
// Only nodes that were explicitly assigned hold a value; intermediate
// segments are pass-throughs. Read-only queries never create nodes.
package tree

import (
	"sort"

	"github.com/schaermu/rindex/internal/pathutil"
)

// Tree stores values at arbitrary relative paths
type Tree[T any] struct {
	root *node[T]
}

type node[T any] struct {
	children map[string]*node[T]
	value    T
	has      bool
}

// New creates an empty tree
func New[T any]() *Tree[T] {
	return &Tree[T]{root: &node[T]{}}
}

// lookup walks to p without creating nodes
func (t *Tree[T]) lookup(p pathutil.RelPath) *node[T] {
	n := t.root
	for _, s := range p.Parts() {
		child, ok := n.children[s]
		if !ok {
			return nil
		}
		n = child
	}
	return n
}

// Set assigns v at p, creating intermediate nodes as needed
func (t *Tree[T]) Set(p pathutil.RelPath, v T) {
	n := t.root
	for _, s := range p.Parts() {
		if n.children == nil {
			n.children = make(map[string]*node[T])
		}
		child, ok := n.children[s]
		if !ok {
			child = &node[T]{}
			n.children[s] = child
		}
		n = child
	}
	n.value = v
	n.has = true
}

// Get returns the value stored exactly at p
func (t *Tree[T]) Get(p pathutil.RelPath) (T, bool) {
	var zero T
	n := t.lookup(p)
	if n == nil || !n.has {
		return zero, false
	}
	return n.value, true
}

// Nearest returns the closest ancestor of p (p included) that holds a value,
// together with its path and value. ok is false only when no node on the
// way, including the root, holds a value.
func (t *Tree[T]) Nearest(p pathutil.RelPath) (at pathutil.RelPath, v T, ok bool) {
	n := t.root
	cur := pathutil.Root
	if n.has {
		at, v, ok = cur, n.value, true
	}
	for _, s := range p.Parts() {
		child, exists := n.children[s]
		if !exists {
			break
		}
		n = child
		cur = cur.Join(s)
		if n.has {
			at, v, ok = cur, n.value, true
		}
	}
	return at, v, ok
}

// Visit is called for every node during a traversal
type Visit[T any] func(p pathutil.RelPath, v T, has bool)

// Postorder visits every node after its children. Siblings are visited in
// name order so traversals are reproducible.
func (t *Tree[T]) Postorder(fn Visit[T]) {
	postorder(t.root, pathutil.Root, fn)
}

func postorder[T any](n *node[T], p pathutil.RelPath, fn Visit[T]) {
	for _, name := range sortedNames(n) {
		postorder(n.children[name], p.Join(name), fn)
	}
	fn(p, n.value, n.has)
}

// Reduce replaces every node's value, bottom-up, with merge(value, children's values).
// Children without values contribute nothing to the slice.
func (t *Tree[T]) Reduce(merge func(v T, has bool, children []T) (T, bool)) {
	reduce(t.root, merge)
}

func reduce[T any](n *node[T], merge func(v T, has bool, children []T) (T, bool)) {
	var vals []T
	for _, name := range sortedNames(n) {
		child := n.children[name]
		reduce(child, merge)
		if child.has {
			vals = append(vals, child.value)
		}
	}
	n.value, n.has = merge(n.value, n.has, vals)
}

// Paths returns every path holding a value, ancestors first
func (t *Tree[T]) Paths() []pathutil.RelPath {
	var out []pathutil.RelPath
	t.Postorder(func(p pathutil.RelPath, _ T, has bool) {
		if has {
			out = append(out, p)
		}
	})
	sort.Slice(out, func(i, j int) bool { return pathutil.Less(out[i], out[j]) })
	return out
}

func sortedNames[T any](n *node[T]) []string {
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
