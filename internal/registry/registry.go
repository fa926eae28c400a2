// Package registry exposes read-only access to the agent directory.
package registry

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/orca-live/orcad/internal/store"
)

const cacheKey = "registry:agents"

type agentLister interface {
	ListAgents(ctx context.Context) ([]store.Agent, error)
}

// Directory reads agent records from the persistent store, optionally
// through a short-lived Redis cache. The directory never mutates agents.
type Directory struct {
	store  agentLister
	rdb    *redis.Client
	ttl    time.Duration
	logger *log.Logger
}

// NewDirectory builds a Directory. rdb may be nil, in which case every read
// goes straight to the store.
func NewDirectory(st agentLister, rdb *redis.Client, ttl time.Duration, logger *log.Logger) *Directory {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[REGISTRY] ", log.LstdFlags)
	}
	return &Directory{store: st, rdb: rdb, ttl: ttl, logger: logger}
}

// Agents returns every registered agent, preserving the store's order.
// Cache faults are logged and fall through to the store.
func (d *Directory) Agents(ctx context.Context) ([]store.Agent, error) {
	if d.rdb != nil {
		if cached, err := d.rdb.Get(ctx, cacheKey).Bytes(); err == nil {
			var agents []store.Agent
			if err := json.Unmarshal(cached, &agents); err == nil {
				return agents, nil
			}
			d.logger.Printf("dropping unreadable registry cache entry")
			_ = d.rdb.Del(ctx, cacheKey).Err()
		}
	}

	agents, err := d.store.ListAgents(ctx)
	if err != nil {
		return nil, err
	}
	if d.rdb != nil {
		if encoded, err := json.Marshal(agents); err == nil {
			if err := d.rdb.Set(ctx, cacheKey, encoded, d.ttl).Err(); err != nil {
				d.logger.Printf("registry cache write failed: %v", err)
			}
		}
	}
	return agents, nil
}

// Agent returns one agent by id out of the directory snapshot.
func (d *Directory) Agent(ctx context.Context, id string) (store.Agent, bool, error) {
	agents, err := d.Agents(ctx)
	if err != nil {
		return store.Agent{}, false, err
	}
	for _, a := range agents {
		if a.ID == id {
			return a, true, nil
		}
	}
	return store.Agent{}, false, nil
}
