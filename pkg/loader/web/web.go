// Package web serves web-scheme content references. HTML responses are
// reduced to their readable article text; other content types pass
// through unchanged.
package web

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"codeberg.org/readeck/go-readability/v2"

	"github.com/graphloom/loom/pkg/common"
	"github.com/graphloom/loom/pkg/loader"
)

// Response bodies are capped so one oversized page cannot exhaust the
// worker.
const maxBodyBytes = 20 << 20

type Fetcher struct {
	client *http.Client
	cache  *loader.Cache
}

func NewFetcher() *Fetcher {
	return &Fetcher{
		client: &http.Client{Timeout: 30 * time.Second},
		cache:  loader.NewCache(),
	}
}

// NewFetcherWithClient uses the given HTTP client, for callers that need
// custom transports or timeouts.
func NewFetcherWithClient(client *http.Client) *Fetcher {
	return &Fetcher{client: client, cache: loader.NewCache()}
}

func (f *Fetcher) Fetch(ctx context.Context, ref common.ContentRef) ([]byte, error) {
	if ref.URL == "" {
		return nil, fmt.Errorf("web ref has no url")
	}

	return f.cache.Do(ref.URL, func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref.URL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}

		resp, err := f.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch url: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("failed to fetch url: status %d", resp.StatusCode)
		}

		body := io.LimitReader(resp.Body, maxBodyBytes)
		if strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
			pageURL, err := url.Parse(ref.URL)
			if err != nil {
				return nil, fmt.Errorf("failed to parse url: %w", err)
			}
			article, err := readability.FromReader(body, pageURL)
			if err != nil {
				return nil, fmt.Errorf("failed to parse html: %w", err)
			}
			var sb strings.Builder
			if err := article.RenderText(&sb); err != nil {
				return nil, fmt.Errorf("failed to render article text: %w", err)
			}
			return []byte(sb.String()), nil
		}

		content, err := io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		return content, nil
	})
}
