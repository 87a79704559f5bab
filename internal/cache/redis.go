// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Rdb is the process-wide Redis client. It stays nil when Redis is not
// configured; every publisher checks before use so the journal is strictly
// optional.
var Rdb *redis.Client

// MatchEventQueueKey is the list the journal worker drains with BLPOP.
const MatchEventQueueKey = "flotilla:match_events"

// ConnectRedis initializes Rdb from environment variables and verifies the
// connection with a ping.
func ConnectRedis(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%s", getEnv("REDIS_HOST", "localhost"), getEnv("REDIS_PORT", "6379"))
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       getEnvInt("REDIS_DB", 0),
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping %s: %w", addr, err)
	}
	Rdb = client
	logrus.Infof("Connected to Redis at %s", addr)
	return nil
}

// MatchEventRecord is one journal entry describing a match-affecting action.
// Payload holds the action-specific body and is stored as raw JSON.
type MatchEventRecord struct {
	GameID    uuid.UUID   `json:"gameId"`
	ActorID   uuid.UUID   `json:"actorId"`
	Kind      string      `json:"kind"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// PublishMatchEvent appends one record to the journal queue. Failures are
// logged and swallowed; the journal never blocks or fails gameplay.
func PublishMatchEvent(ctx context.Context, rec MatchEventRecord) {
	if Rdb == nil {
		return
	}
	b, err := json.Marshal(rec)
	if err != nil {
		logrus.Warnf("cache: marshal match event for game %s: %v", rec.GameID, err)
		return
	}
	if err := Rdb.RPush(ctx, MatchEventQueueKey, b).Err(); err != nil {
		logrus.Warnf("cache: publish match event for game %s: %v", rec.GameID, err)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
