package loader

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/graphloom/loom/pkg/common"
)

type fakeFetcher struct {
	data  []byte
	err   error
	calls int
	last  common.ContentRef
}

func (f *fakeFetcher) Fetch(ctx context.Context, ref common.ContentRef) ([]byte, error) {
	f.calls++
	f.last = ref
	if f.err != nil {
		return nil, f.err
	}
	return f.data, nil
}

func TestLoadInline(t *testing.T) {
	c := NewClient()
	got, err := c.Load(context.Background(), common.ContentRef{
		Scheme: common.RefInline,
		Inline: []byte("inline content"),
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if string(got) != "inline content" {
		t.Errorf("Load() = %q, want inline bytes", got)
	}
}

func TestLoadDispatchesByScheme(t *testing.T) {
	f := &fakeFetcher{data: []byte("object body")}
	c := NewClient().Register(common.RefS3, f)

	ref := common.ContentRef{Scheme: common.RefS3, Bucket: "docs", Key: "a.txt"}
	got, err := c.Load(context.Background(), ref)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if string(got) != "object body" {
		t.Errorf("Load() = %q, want fetched bytes", got)
	}
	if f.calls != 1 || f.last.Key != "a.txt" {
		t.Errorf("fetcher saw %d calls, last key %q", f.calls, f.last.Key)
	}
}

func TestLoadUnregisteredScheme(t *testing.T) {
	c := NewClient()
	_, err := c.Load(context.Background(), common.ContentRef{Scheme: common.RefWeb, URL: "https://example.com"})
	if err == nil || !strings.Contains(err.Error(), "no fetcher registered") {
		t.Fatalf("Load() error = %v, want unregistered scheme failure", err)
	}
}

func TestLoadDocxFormat(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatalf("failed to create zip entry: %v", err)
	}
	xml := `<?xml version="1.0"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body><w:p><w:r><w:t>Hello from Word.</w:t></w:r></w:p></w:body>
</w:document>`
	if _, err := w.Write([]byte(xml)); err != nil {
		t.Fatalf("failed to write zip entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("failed to close zip: %v", err)
	}

	f := &fakeFetcher{data: buf.Bytes()}
	c := NewClient().Register(common.RefS3, f)

	got, err := c.Load(context.Background(), common.ContentRef{
		Scheme: common.RefS3,
		Bucket: "docs",
		Key:    "report.docx",
		Format: common.FormatDocx,
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if string(got) != "Hello from Word.\n" {
		t.Errorf("Load() = %q, want extracted docx text", got)
	}
}

func TestLoadUnsupportedFormat(t *testing.T) {
	c := NewClient()
	_, err := c.Load(context.Background(), common.ContentRef{
		Scheme: common.RefInline,
		Inline: []byte("x"),
		Format: "spreadsheet",
	})
	if err == nil || !strings.Contains(err.Error(), "unsupported content format") {
		t.Fatalf("Load() error = %v, want unsupported format failure", err)
	}
}

func TestCacheMemoizes(t *testing.T) {
	cache := NewCache()
	calls := 0
	fetch := func() ([]byte, error) {
		calls++
		return []byte("payload"), nil
	}

	for range 3 {
		got, err := cache.Do("k", fetch)
		if err != nil {
			t.Fatalf("Do() error = %v", err)
		}
		if string(got) != "payload" {
			t.Errorf("Do() = %q, want payload", got)
		}
	}
	if calls != 1 {
		t.Errorf("fetch ran %d times, want 1", calls)
	}
}

func TestCacheDoesNotCacheErrors(t *testing.T) {
	cache := NewCache()
	calls := 0
	fetch := func() ([]byte, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("transient")
		}
		return []byte("recovered"), nil
	}

	if _, err := cache.Do("k", fetch); err == nil {
		t.Fatalf("Do() error = nil, want first-call failure")
	}
	got, err := cache.Do("k", fetch)
	if err != nil {
		t.Fatalf("Do() error = %v on retry", err)
	}
	if string(got) != "recovered" {
		t.Errorf("Do() = %q, want recovered", got)
	}
	if calls != 2 {
		t.Errorf("fetch ran %d times, want 2", calls)
	}
}
