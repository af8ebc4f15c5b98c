package core

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Version is the reported API version.
const Version = "1.0.0"

// SystemStatus aggregates component health for the /healthz endpoint.
type SystemStatus struct {
	Status     string          `json:"status"`
	Components map[string]bool `json:"components"`
	UptimeSec  int64           `json:"uptime_seconds"`
	Timestamp  time.Time       `json:"timestamp"`
	Version    string          `json:"version"`
}

// CollectSystemStatus probes the database and Redis with a short deadline.
// Overall status is "ok" only when every component responds; a degraded
// process still answers so orchestrators can see which dependency is down.
func CollectSystemStatus(ctx context.Context, db *pgxpool.Pool, redisClient *redis.Client, startedAt time.Time) SystemStatus {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	st := SystemStatus{
		Components: map[string]bool{},
		Timestamp:  time.Now().UTC(),
		Version:    Version,
	}

	if db != nil {
		st.Components["database"] = db.Ping(ctx) == nil
	}
	if redisClient != nil {
		st.Components["redis"] = redisClient.Ping(ctx).Err() == nil
	}

	st.Status = "ok"
	for _, healthy := range st.Components {
		if !healthy {
			st.Status = "degraded"
			break
		}
	}

	if !startedAt.IsZero() {
		st.UptimeSec = int64(time.Since(startedAt).Seconds())
	}
	return st
}
