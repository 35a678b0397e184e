package model

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Vault represents a lending pool contract. Static fields are read once at
// creation; only the pull-oracle feed cache changes afterwards.
type Vault struct {
	Address       common.Address
	Asset         common.Address
	UnitOfAccount common.Address
	Oracle        common.Address
	LTVList       []common.Address

	mu             sync.Mutex
	feedIDs        []string
	feedsFetchedAt time.Time
}

// CachedFeedIDs returns the cached pull-oracle feed IDs if they were resolved
// within maxAge. The second return reports whether the cache is still fresh.
func (v *Vault) CachedFeedIDs(maxAge time.Duration) ([]string, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.feedsFetchedAt.IsZero() || time.Since(v.feedsFetchedAt) > maxAge {
		return nil, false
	}
	ids := make([]string, len(v.feedIDs))
	copy(ids, v.feedIDs)
	return ids, true
}

// SetFeedIDs stores freshly resolved feed IDs and stamps the cache.
func (v *Vault) SetFeedIDs(ids []string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.feedIDs = make([]string, len(ids))
	copy(v.feedIDs, ids)
	v.feedsFetchedAt = time.Now()
}
