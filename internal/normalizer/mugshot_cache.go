package normalizer

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// MugshotCache bounded URL -> base64 image cache. One instance per scrape run;
// the least recently used entry is evicted at capacity.
type MugshotCache struct {
	cache *lru.Cache[string, string]
}

// NewMugshotCache creates a cache holding at most size images
func NewMugshotCache(size int) (*MugshotCache, error) {
	if size <= 0 {
		return nil, fmt.Errorf("mugshot cache size must be positive, got %d", size)
	}
	c, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create mugshot cache: %w", err)
	}
	return &MugshotCache{cache: c}, nil
}

// Get returns the cached image for url
func (m *MugshotCache) Get(url string) (string, bool) {
	if m == nil {
		return "", false
	}
	return m.cache.Get(url)
}

// Add stores an image
func (m *MugshotCache) Add(url, image string) {
	if m == nil || url == "" || image == "" {
		return
	}
	m.cache.Add(url, image)
}

// Len number of cached images
func (m *MugshotCache) Len() int {
	if m == nil {
		return 0
	}
	return m.cache.Len()
}
