package ingest

import (
	"os"
	"path/filepath"
)

const pageCacheFile = "page.html"

// PageCache keeps the raw landing-page HTML inside the bill directory so
// the scrape stage can re-run offline against the exact bytes it saw.
type PageCache struct {
	billDir string
}

func NewPageCache(billDir string) *PageCache {
	return &PageCache{billDir: billDir}
}

// Path returns the cache file location.
func (c *PageCache) Path() string {
	return filepath.Join(c.billDir, pageCacheFile)
}

// Get retrieves the cached page HTML. Returns empty string if not cached.
func (c *PageCache) Get() string {
	data, err := os.ReadFile(c.Path())
	if err != nil {
		return ""
	}
	return string(data)
}

// Set stores the page HTML, creating the bill directory if needed.
func (c *PageCache) Set(pageHTML string) error {
	if err := os.MkdirAll(c.billDir, 0755); err != nil {
		return err
	}
	return os.WriteFile(c.Path(), []byte(pageHTML), 0644)
}

// Has checks if a cached page exists.
func (c *PageCache) Has() bool {
	_, err := os.Stat(c.Path())
	return err == nil
}

// Clear removes the cached page.
func (c *PageCache) Clear() error {
	err := os.Remove(c.Path())
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
