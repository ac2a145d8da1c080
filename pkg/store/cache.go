package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	agentKeyPrefix  = "vai-calls:agent:"
	defaultAgentTTL = 5 * time.Minute
)

// AgentSource loads agent configuration.
type AgentSource interface {
	GetAgent(ctx context.Context, id string) (Agent, error)
}

// CachedAgents serves agent lookups from Redis and falls back to the
// underlying source on a miss. Redis failures degrade to the source.
type CachedAgents struct {
	next   AgentSource
	client redis.Cmdable
	ttl    time.Duration
	logger *slog.Logger
}

func NewCachedAgents(next AgentSource, client redis.Cmdable, ttl time.Duration, logger *slog.Logger) *CachedAgents {
	if ttl <= 0 {
		ttl = defaultAgentTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedAgents{next: next, client: client, ttl: ttl, logger: logger}
}

func (c *CachedAgents) GetAgent(ctx context.Context, id string) (Agent, error) {
	key := agentKeyPrefix + id
	val, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var a Agent
		if jsonErr := json.Unmarshal(val, &a); jsonErr == nil {
			return a, nil
		}
		c.logger.Warn("discarding corrupt cached agent", "agent_id", id)
	case errors.Is(err, redis.Nil):
	default:
		c.logger.Warn("agent cache read failed", "agent_id", id, "error", err)
	}

	a, err := c.next.GetAgent(ctx, id)
	if err != nil {
		return Agent{}, err
	}
	data, err := json.Marshal(a)
	if err != nil {
		return a, nil
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("agent cache write failed", "agent_id", id, "error", err)
	}
	return a, nil
}

// Invalidate drops the cached copy of an agent.
func (c *CachedAgents) Invalidate(ctx context.Context, id string) error {
	if err := c.client.Del(ctx, agentKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("invalidate agent %q: %w", id, err)
	}
	return nil
}
