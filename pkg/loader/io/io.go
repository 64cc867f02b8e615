// Package io serves file-scheme content references from a confined
// directory tree.
package io

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/graphloom/loom/pkg/common"
	"github.com/graphloom/loom/pkg/loader"
)

// Fetcher reads file references relative to its root directory. The
// reference key is rooted before joining, so a document cannot name
// paths outside the tree.
type Fetcher struct {
	root  string
	cache *loader.Cache
}

func NewFetcher(root string) *Fetcher {
	return &Fetcher{root: root, cache: loader.NewCache()}
}

func (f *Fetcher) Fetch(ctx context.Context, ref common.ContentRef) ([]byte, error) {
	if ref.Key == "" {
		return nil, fmt.Errorf("file ref has no key")
	}

	path := filepath.Join(f.root, filepath.Clean("/"+ref.Key))
	return f.cache.Do(path, func() ([]byte, error) {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", ref.Key, err)
		}
		return content, nil
	})
}
