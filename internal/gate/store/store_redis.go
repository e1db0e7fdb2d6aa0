package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"stepup/internal/gate"
)

const markerKeyPrefix = "stepup:marker:"

// Redis is the durable MarkerStore for distributed deployments. Expiry is
// delegated to Redis TTLs; consumption uses GETDEL for atomic single-use.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis constructs a Redis-backed marker store with the given TTL window.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

func redisMarkerKey(userID, operationName string) string {
	return markerKeyPrefix + userID + ":" + operationName
}

// Put writes the marker with the store's TTL, replacing any previous one.
func (r *Redis) Put(ctx context.Context, userID string, marker gate.PendingAuthMarker) error {
	payload, err := json.Marshal(marker)
	if err != nil {
		return fmt.Errorf("marshal marker: %w", err)
	}
	return r.client.Set(ctx, redisMarkerKey(userID, marker.OperationName), payload, r.ttl).Err()
}

// Consume atomically reads and deletes the marker for the pair.
func (r *Redis) Consume(ctx context.Context, userID, operationName string) (*gate.PendingAuthMarker, error) {
	payload, err := r.client.GetDel(ctx, redisMarkerKey(userID, operationName)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("consume marker: %w", err)
	}

	var marker gate.PendingAuthMarker
	if err := json.Unmarshal([]byte(payload), &marker); err != nil {
		return nil, fmt.Errorf("unmarshal marker: %w", err)
	}

	// TTL normally enforces expiry; the timestamp check covers markers
	// written with a longer window before a config change.
	if marker.Expired(time.Now(), r.ttl) {
		return nil, nil
	}
	return &marker, nil
}
