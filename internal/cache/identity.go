// Package cache memoizes provider lookups for the length of one export run.
package cache

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/yairfalse/runport/internal/collectors"
	"github.com/yairfalse/runport/internal/errors"
	"github.com/yairfalse/runport/pkg/types"
)

// Stats counts lookups served from the cache and from the provider
type Stats struct {
	Hits   int64
	Misses int64
	Size   int64
}

type identityEntry struct {
	info *types.ServiceAccountInfo
	err  error
}

// IdentityProvider wraps a provider so each service account is described
// at most once. Concurrent lookups of the same email share one call.
// Found and NotFound answers are kept; any other failure is not, so the
// next resource referencing the identity tries again.
type IdentityProvider struct {
	collectors.Provider

	group  singleflight.Group
	mu     sync.RWMutex
	items  map[string]identityEntry
	hits   atomic.Int64
	misses atomic.Int64
}

var _ collectors.Provider = (*IdentityProvider)(nil)

// NewIdentityProvider wraps p
func NewIdentityProvider(p collectors.Provider) *IdentityProvider {
	return &IdentityProvider{
		Provider: p,
		items:    make(map[string]identityEntry),
	}
}

// DescribeIdentity returns a copy of the cached service account, fetching it on first use
func (c *IdentityProvider) DescribeIdentity(ctx context.Context, email string) (*types.ServiceAccountInfo, error) {
	c.mu.RLock()
	entry, ok := c.items[email]
	c.mu.RUnlock()
	if ok {
		c.hits.Add(1)
		return entry.copyInfo(), entry.err
	}

	v, err, _ := c.group.Do(email, func() (interface{}, error) {
		// a call that finished between the read above and Do has filled the entry
		c.mu.RLock()
		entry, ok := c.items[email]
		c.mu.RUnlock()
		if ok {
			return entry.info, entry.err
		}

		c.misses.Add(1)
		info, err := c.Provider.DescribeIdentity(ctx, email)
		if err == nil || errors.IsNotFound(err) {
			c.mu.Lock()
			c.items[email] = identityEntry{info: info, err: err}
			c.mu.Unlock()
		}
		return info, err
	})
	if err != nil {
		return nil, err
	}
	return identityEntry{info: v.(*types.ServiceAccountInfo)}.copyInfo(), nil
}

// Stats returns cache statistics
func (c *IdentityProvider) Stats() Stats {
	c.mu.RLock()
	size := len(c.items)
	c.mu.RUnlock()
	return Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Size:   int64(size),
	}
}

func (e identityEntry) copyInfo() *types.ServiceAccountInfo {
	if e.info == nil {
		return nil
	}
	info := *e.info
	return &info
}
