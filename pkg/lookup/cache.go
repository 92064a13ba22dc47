package lookup

import (
	"context"
	"errors"
	"sync"

	"github.com/synaptica-ai/clinicalcoder/pkg/common/models"
)

var (
	// ErrLookupMiss is returned when a concept has no codes in any
	// consulted tier.
	ErrLookupMiss = errors.New("lookup miss")
	// ErrReadOnly is returned by caches opened without write access.
	ErrReadOnly = errors.New("code cache is read-only")
)

// Cache is the fast tier. Get reports found=false on a miss; errors are
// reserved for backend failures.
type Cache interface {
	Get(ctx context.Context, cui string) (codes []models.CodeEntry, found bool, err error)
	Set(ctx context.Context, cui string, codes []models.CodeEntry) error
}

// Source is the authoritative tier. An unknown concept yields an empty slice.
type Source interface {
	Codes(ctx context.Context, cui string) ([]models.CodeEntry, error)
}

type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string][]models.CodeEntry
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string][]models.CodeEntry)}
}

func (c *MemoryCache) Get(_ context.Context, cui string) ([]models.CodeEntry, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	codes, ok := c.entries[cui]
	if !ok {
		return nil, false, nil
	}
	return append([]models.CodeEntry(nil), codes...), true, nil
}

func (c *MemoryCache) Set(_ context.Context, cui string, codes []models.CodeEntry) error {
	c.mu.Lock()
	c.entries[cui] = append([]models.CodeEntry(nil), codes...)
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
