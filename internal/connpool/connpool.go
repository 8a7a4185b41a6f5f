// Package connpool is the stateless-connector pool of spec §4.6, keyed by
// namespace + ":" + url, grounded on the teacher's
// pkg/gateway/clientpool.go keptClients map (sync.RWMutex-guarded map,
// winner-publishes-loser-discards race handling).
package connpool

import (
	"context"
	"sync"

	"github.com/mcpbundler/gateway/internal/connector"
	"github.com/mcpbundler/gateway/internal/gwlog"
)

// Key builds the pool key for a namespace + url pair, spec §4.6.
func Key(namespace, url string) string { return namespace + ":" + url }

// Pool shares stateless connectors across sessions.
type Pool struct {
	mu    sync.RWMutex
	conns map[string]connector.Connector
}

func New() *Pool {
	return &Pool{conns: make(map[string]connector.Connector)}
}

// Get returns the pooled connector for key, if any.
func (p *Pool) Get(key string) (connector.Connector, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.conns[key]
	return c, ok
}

// Has reports whether key is already pooled.
func (p *Pool) Has(key string) bool {
	_, ok := p.Get(key)
	return ok
}

// GetOrCreate returns the pooled connector for key, creating and
// connecting one via create if absent. If two callers race to create the
// same key, only the first publish wins; the loser's transient connector
// is disconnected (if it reached CONNECTED) or simply discarded, never
// published (spec §4.6).
func (p *Pool) GetOrCreate(ctx context.Context, key string, create func() connector.Connector) (connector.Connector, error) {
	if c, ok := p.Get(key); ok {
		return c, nil
	}

	candidate := create()
	if err := candidate.Connect(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	if existing, ok := p.conns[key]; ok {
		p.mu.Unlock()
		if err := candidate.Disconnect(ctx); err != nil {
			gwlog.Warn("failed to disconnect losing race connector", map[string]any{
				"key":   key,
				"error": err.Error(),
			})
		}
		return existing, nil
	}
	p.conns[key] = candidate
	p.mu.Unlock()
	return candidate, nil
}

// Set publishes connector c under key unconditionally, used when a caller
// has already resolved the create-vs-race decision itself.
func (p *Pool) Set(key string, c connector.Connector) {
	p.mu.Lock()
	p.conns[key] = c
	p.mu.Unlock()
}

// Shutdown disconnects every pooled connector and empties the pool, spec
// §4.6.
func (p *Pool) Shutdown(ctx context.Context) {
	p.mu.Lock()
	existing := p.conns
	p.conns = make(map[string]connector.Connector)
	p.mu.Unlock()

	for key, c := range existing {
		if err := c.Disconnect(ctx); err != nil {
			gwlog.Warn("failed to disconnect pooled connector during shutdown", map[string]any{
				"key":   key,
				"error": err.Error(),
			})
		}
	}
}

// Size reports the number of pooled connectors, for diagnostics.
func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.conns)
}
