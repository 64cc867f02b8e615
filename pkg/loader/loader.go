// Package loader materializes document content from content references.
// Each reference scheme has a Fetcher; the loader picks one by scheme,
// then applies the reference's format transform (docx text extraction).
// Fetchers memoize through Cache, so a document read several times in
// one run hits its source once.
package loader

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/graphloom/loom/pkg/common"
	"github.com/graphloom/loom/pkg/loader/doc"
)

// Fetcher retrieves the raw bytes behind one content reference scheme.
type Fetcher interface {
	Fetch(ctx context.Context, ref common.ContentRef) ([]byte, error)
}

// Client resolves content references to text for the pipeline. Inline
// references are served directly; every other scheme needs a registered
// fetcher, so a deployment only exposes the sources it is configured
// for.
type Client struct {
	fetchers map[string]Fetcher
}

func NewClient() *Client {
	return &Client{fetchers: make(map[string]Fetcher)}
}

// Register wires a fetcher for a scheme, replacing any previous one.
// Returns the client for chaining.
func (c *Client) Register(scheme string, f Fetcher) *Client {
	c.fetchers[scheme] = f
	return c
}

// Load returns the text content behind ref: fetched bytes as-is for
// plain text, extracted text for docx payloads.
func (c *Client) Load(ctx context.Context, ref common.ContentRef) ([]byte, error) {
	raw, err := c.fetch(ctx, ref)
	if err != nil {
		return nil, err
	}

	switch ref.Format {
	case "", common.FormatText:
		return raw, nil
	case common.FormatDocx:
		return doc.ExtractText(raw)
	default:
		return nil, fmt.Errorf("unsupported content format %q", ref.Format)
	}
}

func (c *Client) fetch(ctx context.Context, ref common.ContentRef) ([]byte, error) {
	if ref.Scheme == common.RefInline {
		return ref.Inline, nil
	}
	f, ok := c.fetchers[ref.Scheme]
	if !ok {
		return nil, fmt.Errorf("no fetcher registered for scheme %q", ref.Scheme)
	}
	return f.Fetch(ctx, ref)
}

// Cache memoizes fetched content and collapses concurrent fetches of
// the same key into a single upstream call.
type Cache struct {
	mu    sync.RWMutex
	data  map[string][]byte
	group singleflight.Group
}

func NewCache() *Cache {
	return &Cache{data: make(map[string][]byte)}
}

// Do returns the cached content for key, or runs fetch once and caches
// its result. Errors are not cached.
func (c *Cache) Do(key string, fetch func() ([]byte, error)) ([]byte, error) {
	c.mu.RLock()
	if b, ok := c.data[key]; ok {
		c.mu.RUnlock()
		return b, nil
	}
	c.mu.RUnlock()

	v, err, _ := c.group.Do(key, func() (any, error) {
		c.mu.RLock()
		if b, ok := c.data[key]; ok {
			c.mu.RUnlock()
			return b, nil
		}
		c.mu.RUnlock()

		b, err := fetch()
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.data[key] = b
		c.mu.Unlock()
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}
