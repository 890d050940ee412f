// Package cache mirrors provisioned devices and startup cookies into Redis
// so downstream consumers can draw from a hot pool without touching MySQL.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/mwzzzh/devreg/pkg/config"
	"github.com/mwzzzh/devreg/pkg/pool"
	"github.com/mwzzzh/devreg/pkg/util"
)

// Cache wraps the Redis connection and the pool key scheme. Keys live under
// <prefix>:device_pool and <prefix>:cookie_pool.
type Cache struct {
	rdb     *redis.Client
	idField string

	devicePrefix string
	cookiePrefix string
}

// New connects to Redis and verifies the connection.
func New(cfg config.Redis, idField string) (*Cache, error) {
	if cfg.Addr == "" {
		return nil, util.NewConfigError("REDIS_ADDR", "required for the Redis mirror")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if idField == "" {
		idField = config.DefaultIDField
	}
	return &Cache{
		rdb:          rdb,
		idField:      idField,
		devicePrefix: cfg.KeyPrefix + ":device_pool",
		cookiePrefix: cfg.KeyPrefix + ":cookie_pool",
	}, nil
}

// Close releases the connection.
func (c *Cache) Close() error { return c.rdb.Close() }

// deviceKeys returns the member set, data hash and use-count zset for the
// device pool.
func (c *Cache) deviceKeys() (idsKey, dataKey, useKey string) {
	return c.devicePrefix + ":ids", c.devicePrefix + ":data", c.devicePrefix + ":use"
}

// MirrorRows writes committed rows into the device pool. Implements the
// pipeline's post-commit mirror hook.
func (c *Cache) MirrorRows(ctx context.Context, rows []pool.Row) error {
	if len(rows) == 0 {
		return nil
	}
	idsKey, dataKey, useKey := c.deviceKeys()
	pipe := c.rdb.TxPipeline()
	for _, r := range rows {
		pipe.SAdd(ctx, idsKey, r.DeviceID)
		pipe.HSet(ctx, dataKey, r.DeviceID, string(r.JSON))
		pipe.ZAddNX(ctx, useKey, &redis.Z{Member: r.DeviceID, Score: 0})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("mirroring %d devices: %w", len(rows), err)
	}
	return nil
}

// DeviceCount reports how many devices the mirror holds.
func (c *Cache) DeviceCount(ctx context.Context) (int64, error) {
	idsKey, _, _ := c.deviceKeys()
	return c.rdb.SCard(ctx, idsKey).Result()
}

// ImportResult summarizes one bulk import.
type ImportResult struct {
	Input   int
	Added   int
	Invalid int
}

// ImportDevices loads device JSON lines into the mirror. With overwrite the
// existing pool is cleared first; otherwise lines merge in.
func (c *Cache) ImportDevices(ctx context.Context, lines []string, overwrite bool) (ImportResult, error) {
	res := ImportResult{Input: len(lines)}
	idsKey, dataKey, useKey := c.deviceKeys()

	if overwrite {
		if err := c.rdb.Del(ctx, idsKey, dataKey, useKey).Err(); err != nil {
			return res, fmt.Errorf("clearing device pool: %w", err)
		}
	}

	for _, raw := range lines {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		var m map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			res.Invalid++
			continue
		}
		id, ok := m[c.idField].(string)
		if !ok || strings.TrimSpace(id) == "" {
			res.Invalid++
			continue
		}
		use := int64FromAny(m["use_count"])

		pipe := c.rdb.Pipeline()
		pipe.SAdd(ctx, idsKey, id)
		pipe.HSet(ctx, dataKey, id, raw)
		pipe.ZAdd(ctx, useKey, &redis.Z{Member: id, Score: float64(use)})
		if _, err := pipe.Exec(ctx); err != nil {
			return res, fmt.Errorf("importing device %s: %w", id, err)
		}
		res.Added++
	}
	return res, nil
}

// ImportCookies loads startup-cookie lines into the cookie pool. A line is
// either a cookie string or a JSON object; blank lines are skipped.
func (c *Cache) ImportCookies(ctx context.Context, lines []string, overwrite bool) (ImportResult, error) {
	res := ImportResult{Input: len(lines)}
	setKey := c.cookiePrefix + ":set"

	if overwrite {
		if err := c.rdb.Del(ctx, setKey).Err(); err != nil {
			return res, fmt.Errorf("clearing cookie pool: %w", err)
		}
	}

	for _, raw := range lines {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if err := c.rdb.SAdd(ctx, setKey, raw).Err(); err != nil {
			return res, fmt.Errorf("importing cookie: %w", err)
		}
		res.Added++
	}
	return res, nil
}

func int64FromAny(v interface{}) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	case string:
		var i int64
		fmt.Sscan(n, &i)
		return i
	default:
		return 0
	}
}
