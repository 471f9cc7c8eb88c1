// Package identity maps platform ids of channels and videos to the ids Storage assigned them.
package identity

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/channel-monitor/internal/monitor"
)

// Kind separates the channel and video namespaces.
type Kind string

// Known kinds.
const (
	KindChannel Kind = "channel"
	KindVideo   Kind = "video"
)

// CreateFunc produces the internal id of an entity the cache does not know yet.
type CreateFunc func(ctx context.Context) (int64, error)

// Cache is an unbounded read-through, write-through identity map. Once it holds a mapping
// the mapping is never re-resolved.
type Cache struct {
	mu     sync.RWMutex
	ids    map[Kind]map[string]int64
	flight singleflight.Group
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{
		ids: map[Kind]map[string]int64{
			KindChannel: {},
			KindVideo:   {},
		},
	}
}

// Lookup returns the cached internal id for externalID.
func (c *Cache) Lookup(kind Kind, externalID string) (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.ids[kind][externalID]
	return id, ok
}

// Store records a mapping. An existing mapping is kept.
func (c *Cache) Store(kind Kind, externalID string, internalID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ns, ok := c.ids[kind]
	if !ok {
		ns = make(map[string]int64)
		c.ids[kind] = ns
	}
	if _, exists := ns[externalID]; !exists {
		ns[externalID] = internalID
	}
}

// Len reports how many mappings of kind are cached.
func (c *Cache) Len(kind Kind) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.ids[kind])
}

// ExternalIDs lists the cached external ids of kind in sorted order.
func (c *Cache) ExternalIDs(kind Kind) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.ids[kind]))
	for id := range c.ids[kind] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Resolve returns the internal id for externalID, calling create on a miss. Concurrent
// callers for the same key share a single create call; a failed create is not cached.
func (c *Cache) Resolve(ctx context.Context, kind Kind, externalID string, create CreateFunc) (int64, error) {
	if id, ok := c.Lookup(kind, externalID); ok {
		return id, nil
	}
	v, err, _ := c.flight.Do(string(kind)+"/"+externalID, func() (any, error) {
		if id, ok := c.Lookup(kind, externalID); ok {
			return id, nil
		}
		id, err := create(ctx)
		if err != nil {
			return int64(0), err
		}
		c.Store(kind, externalID, id)
		return id, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

// Preload fills the cache with every channel and video already present in store.
func (c *Cache) Preload(ctx context.Context, store monitor.Storage) error {
	sources := []struct {
		kind  Kind
		table string
	}{
		{KindChannel, monitor.TableChannel},
		{KindVideo, monitor.TableVideo},
	}
	for _, src := range sources {
		idCol := monitor.IDColumn(src.table)
		rows, err := store.Select(ctx, src.table, []string{idCol, "yt_id"})
		if err != nil {
			return fmt.Errorf("preload %s ids: %w", src.kind, err)
		}
		for _, row := range rows {
			externalID, _ := row["yt_id"].(string)
			if externalID == "" {
				continue
			}
			id, err := monitor.Int64(row[idCol])
			if err != nil {
				return fmt.Errorf("preload %s %s: %w", src.kind, externalID, err)
			}
			c.Store(src.kind, externalID, id)
		}
	}
	return nil
}
