package lightning

import (
	"context"
	"sync"
	"time"
)

// NodeCache holds the node graph aliases with a refresh TTL so payee
// lookups on the parse path don't hit listnodes every request. Injected
// where needed rather than read from a package global so tests can seed it.
type NodeCache struct {
	client Client
	ttl    time.Duration

	mu      sync.RWMutex
	byID    map[string]string
	fetched time.Time
}

func NewNodeCache(client Client, ttl time.Duration) *NodeCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &NodeCache{client: client, ttl: ttl, byID: map[string]string{}}
}

// Alias resolves a node id to its advertised alias, falling back to a
// truncated id for unknown nodes.
func (c *NodeCache) Alias(ctx context.Context, nodeID string) (string, error) {
	c.mu.RLock()
	fresh := time.Since(c.fetched) < c.ttl
	alias, ok := c.byID[nodeID]
	c.mu.RUnlock()

	if ok && fresh {
		return alias, nil
	}
	if !fresh {
		if err := c.refresh(ctx); err != nil {
			// Stale data beats a failed parse request.
			if ok {
				return alias, nil
			}
			return shortID(nodeID), err
		}
		c.mu.RLock()
		alias, ok = c.byID[nodeID]
		c.mu.RUnlock()
	}
	if !ok || alias == "" {
		return shortID(nodeID), nil
	}
	return alias, nil
}

func (c *NodeCache) Invalidate() {
	c.mu.Lock()
	c.fetched = time.Time{}
	c.mu.Unlock()
}

func (c *NodeCache) refresh(ctx context.Context) error {
	nodes, err := c.client.ListNodes(ctx)
	if err != nil {
		return err
	}
	byID := make(map[string]string, len(nodes))
	for _, n := range nodes {
		byID[n.NodeID] = n.Alias
	}
	c.mu.Lock()
	c.byID = byID
	c.fetched = time.Now()
	c.mu.Unlock()
	return nil
}

func shortID(nodeID string) string {
	if len(nodeID) > 12 {
		return nodeID[:12]
	}
	return nodeID
}
