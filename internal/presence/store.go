// Package presence turns connection-registry transitions into broadcasts and
// maintains the best-effort persisted presence mirror. The in-memory registry
// is authoritative for "is user online right now"; the Redis mirror exists
// for other subsystems (profile pages, "last seen" labels) and is only
// eventually consistent.
package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// KeyPrefix is the Redis key prefix for presence hashes.
	KeyPrefix = "presence:"

	// RecordTTL bounds how long a presence record survives without refresh,
	// so records for departed users eventually disappear on their own.
	RecordTTL = 24 * time.Hour
)

// Record is a user's mirrored presence state.
type Record struct {
	UserID       string `redis:"user_id" json:"userId"`
	IsOnline     bool   `redis:"is_online" json:"isOnline"`
	LastSeen     int64  `redis:"last_seen" json:"lastSeen"`
	LastActivity int64  `redis:"last_activity" json:"lastActivity"`
}

// Store mirrors presence records to Redis.
type Store struct {
	client *redis.Client
}

// NewStore connects to Redis and verifies the connection.
func NewStore(redisAddr string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("presence: redis connection failed: %w", err)
	}

	return &Store{client: client}, nil
}

// SetOnline marks the user online and stamps both last_seen and
// last_activity with the current time.
func (s *Store) SetOnline(ctx context.Context, userID string) error {
	key := KeyPrefix + userID
	now := time.Now().Unix()

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"user_id":       userID,
		"is_online":     true,
		"last_seen":     now,
		"last_activity": now,
	})
	pipe.Expire(ctx, key, RecordTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// SetOffline marks the user offline and records when they were last seen.
func (s *Store) SetOffline(ctx context.Context, userID string) error {
	key := KeyPrefix + userID
	now := time.Now().Unix()

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, "is_online", false, "last_seen", now)
	pipe.Expire(ctx, key, RecordTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// RefreshActivity bumps last_activity and re-asserts the online flag without
// touching last_seen. Called on periodic client activity pings.
func (s *Store) RefreshActivity(ctx context.Context, userID string) error {
	key := KeyPrefix + userID

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, "is_online", true, "last_activity", time.Now().Unix())
	pipe.Expire(ctx, key, RecordTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Get retrieves the mirrored record for a user. Returns nil if the user has
// no record.
func (s *Store) Get(ctx context.Context, userID string) (*Record, error) {
	key := KeyPrefix + userID
	var rec Record
	if err := s.client.HGetAll(ctx, key).Scan(&rec); err != nil {
		return nil, err
	}
	if rec.UserID == "" {
		return nil, nil // not found
	}
	return &rec, nil
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}
