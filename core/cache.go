package core

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// NewRedisClient returns a configured go-redis client from URL (e.g., redis://localhost:6379/0).
func NewRedisClient(redisURL string) (*redis.Client, error) {
	if redisURL == "" {
		return nil, errors.New("empty redis url")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return client, nil
}

// cachedUser is the serialized cache entry. The password digest is deliberately
// absent: the resolve path never needs it and Redis should not hold digests.
type cachedUser struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Role      string    `json:"role"`
	School    string    `json:"school"`
	County    string    `json:"county"`
	Active    bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// IdentityCache is a short-TTL cache of identity-by-id lookups, trading a
// bounded staleness window for one fewer store round trip per request.
//
// Staleness: on nodes that did not perform a mutation, a role change or
// deactivation may be observed up to TTL late. The node performing the
// mutation invalidates its entry immediately, so its own subsequent requests
// see fresh state. All operations are best-effort; a Redis failure degrades
// to a store lookup, never to a request failure.
type IdentityCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewIdentityCache builds a cache with the given TTL. A TTL <= 0 disables
// caching entirely (returns nil).
func NewIdentityCache(client *redis.Client, ttl time.Duration) *IdentityCache {
	if client == nil || ttl <= 0 {
		return nil
	}
	return &IdentityCache{client: client, ttl: ttl}
}

func identityKey(id uuid.UUID) string {
	return "identity:" + id.String()
}

// Get returns the cached record for id, or ok=false on miss or Redis error.
func (c *IdentityCache) Get(ctx context.Context, id uuid.UUID) (*UserRecord, bool) {
	raw, err := c.client.Get(ctx, identityKey(id)).Result()
	if err != nil {
		return nil, false
	}
	var cu cachedUser
	if err := json.Unmarshal([]byte(raw), &cu); err != nil {
		return nil, false
	}
	role, err := ParseRole(cu.Role)
	if err != nil {
		return nil, false
	}
	return &UserRecord{
		ID:        cu.ID,
		Email:     cu.Email,
		FirstName: cu.FirstName,
		LastName:  cu.LastName,
		Role:      role,
		School:    cu.School,
		County:    cu.County,
		Active:    cu.Active,
		CreatedAt: cu.CreatedAt,
	}, true
}

// Put stores the record under its id with the configured TTL.
func (c *IdentityCache) Put(ctx context.Context, rec *UserRecord) {
	cu := cachedUser{
		ID:        rec.ID,
		Email:     rec.Email,
		FirstName: rec.FirstName,
		LastName:  rec.LastName,
		Role:      rec.Role.String(),
		School:    rec.School,
		County:    rec.County,
		Active:    rec.Active,
		CreatedAt: rec.CreatedAt,
	}
	raw, err := json.Marshal(cu)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, identityKey(rec.ID), raw, c.ttl).Err()
}

// Invalidate drops the cache entry for id. Called after role updates and
// activation changes so the mutating node observes them immediately.
func (c *IdentityCache) Invalidate(ctx context.Context, id uuid.UUID) {
	_ = c.client.Del(ctx, identityKey(id)).Err()
}
