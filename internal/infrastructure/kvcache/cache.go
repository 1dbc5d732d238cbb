package kvcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/smartcat/habitat-core/internal/infrastructure/config"
	"github.com/smartcat/habitat-core/internal/snapshot"
)

const (
	defaultPrefix      = "habitat"
	defaultDialTimeout = 5 * time.Second
	scanBatch          = 200
)

// Cache writes snapshots to Redis. It is safe for concurrent use.
type Cache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// Connect opens a client from cfg and verifies it with PING.
func Connect(ctx context.Context, cfg config.RedisConfig) (*Cache, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: defaultDialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	return New(client, cfg.KeyPrefix, time.Duration(cfg.TTL)*time.Second), nil
}

// New wraps an existing client. A zero ttl keeps keys until overwritten.
func New(client *redis.Client, prefix string, ttl time.Duration) *Cache {
	prefix = strings.Trim(prefix, ":")
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Cache{client: client, prefix: prefix, ttl: ttl}
}

func (c *Cache) snapshotKey(deviceID string) string {
	return c.prefix + ":snapshot:" + deviceID
}

// EventsChannel is the pub/sub channel snapshot updates are announced on.
func (c *Cache) EventsChannel() string {
	return c.prefix + ":events:snapshot"
}

// WriteSnapshot stores snap as the device's latest state and publishes it.
// Its signature matches snapshot.ObserverFunc.
func (c *Cache) WriteSnapshot(ctx context.Context, snap snapshot.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("kvcache: encoding snapshot: %w", err)
	}

	pipe := c.client.TxPipeline()
	pipe.Set(ctx, c.snapshotKey(snap.DeviceID), data, c.ttl)
	pipe.Publish(ctx, c.EventsChannel(), data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("kvcache: writing snapshot for %s: %w", snap.DeviceID, err)
	}
	return nil
}

// LatestSnapshot reads back the mirrored snapshot for deviceID.
func (c *Cache) LatestSnapshot(ctx context.Context, deviceID string) (snapshot.Snapshot, error) {
	data, err := c.client.Get(ctx, c.snapshotKey(deviceID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return snapshot.Snapshot{}, ErrMiss
	}
	if err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("kvcache: reading snapshot for %s: %w", deviceID, err)
	}

	var snap snapshot.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("kvcache: decoding snapshot for %s: %w", deviceID, err)
	}
	return snap, nil
}

// Devices lists the device IDs that currently have a mirrored snapshot.
func (c *Cache) Devices(ctx context.Context) ([]string, error) {
	prefix := c.snapshotKey("")
	var (
		ids    []string
		cursor uint64
	)
	for {
		keys, next, err := c.client.Scan(ctx, cursor, prefix+"*", scanBatch).Result()
		if err != nil {
			return nil, fmt.Errorf("kvcache: scanning snapshots: %w", err)
		}
		for _, k := range keys {
			ids = append(ids, strings.TrimPrefix(k, prefix))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return ids, nil
}

// Forget drops the mirrored snapshot for deviceID.
func (c *Cache) Forget(ctx context.Context, deviceID string) error {
	if err := c.client.Del(ctx, c.snapshotKey(deviceID)).Err(); err != nil {
		return fmt.Errorf("kvcache: deleting snapshot for %s: %w", deviceID, err)
	}
	return nil
}

// HealthCheck pings Redis.
func (c *Cache) HealthCheck(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("kvcache health check: %w", err)
	}
	return nil
}

// Close releases the client.
func (c *Cache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
