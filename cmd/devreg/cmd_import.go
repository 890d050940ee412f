package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mwzzzh/devreg/pkg/cache"
	"github.com/mwzzzh/devreg/pkg/pool"
	"github.com/mwzzzh/devreg/pkg/util"
)

var (
	importToRedis   bool
	importOverwrite bool
	importEvict     bool
)

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Bulk-load device JSON lines into the pool",
	Long: `Import reads one device JSON object per line and upserts each into
the sharded MySQL pool (shard chosen by hashing the device id). With
--redis the devices go into the Redis mirror instead; --overwrite clears
the Redis pool first and is only valid with --redis.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		lines, err := readLines(args[0])
		if err != nil {
			return err
		}

		if importToRedis {
			mirror, err := cache.New(cfg.Redis, cfg.DB.IDField)
			if err != nil {
				return err
			}
			defer mirror.Close()

			res, err := mirror.ImportDevices(ctx, lines, importOverwrite)
			if err != nil {
				return err
			}
			fmt.Printf("redis import: %d in, %d added, %d invalid\n", res.Input, res.Added, res.Invalid)
			return nil
		}

		if importOverwrite {
			return fmt.Errorf("--overwrite requires --redis; the MySQL pool always merges")
		}

		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		rows, invalid := parseDeviceLines(lines)
		if importEvict {
			if err := evictForCapacity(ctx, store, rows); err != nil {
				return err
			}
		}
		if len(rows) > 0 {
			if err := store.Upsert(ctx, rows); err != nil {
				return err
			}
		}
		fmt.Printf("db import: %d in, %d upserted, %d invalid\n", len(lines), len(rows), invalid)
		return nil
	},
}

// evictForCapacity removes the most-used devices from any shard that would
// exceed the per-shard target once the import lands.
func evictForCapacity(ctx context.Context, store pool.Store, rows []pool.Row) error {
	target := int64(cfg.Fill.Target)
	if target <= 0 {
		return fmt.Errorf("--evict needs a per-shard target (DB_MAX_DEVICES)")
	}

	incoming := make(map[int]int64)
	for _, r := range rows {
		incoming[r.ShardID]++
	}
	for shard, add := range incoming {
		have, err := store.CountShard(ctx, shard)
		if err != nil {
			return err
		}
		overflow := have + add - target
		if overflow <= 0 {
			continue
		}
		removed, err := store.Evict(ctx, shard, int(overflow))
		if err != nil {
			return err
		}
		util.WithShard(shard).Infof("evicted %d devices to make room for %d", removed, add)
	}
	return nil
}

var importCookiesCmd = &cobra.Command{
	Use:   "import-cookies <file>",
	Short: "Load startup cookies into the Redis cookie pool",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		lines, err := readLines(args[0])
		if err != nil {
			return err
		}

		mirror, err := cache.New(cfg.Redis, cfg.DB.IDField)
		if err != nil {
			return err
		}
		defer mirror.Close()

		res, err := mirror.ImportCookies(ctx, lines, importOverwrite)
		if err != nil {
			return err
		}
		fmt.Printf("cookie import: %d in, %d added\n", res.Input, res.Added)
		return nil
	},
}

// parseDeviceLines turns JSON lines into shard-assigned rows. Lines without
// a usable device id are counted and skipped.
func parseDeviceLines(lines []string) ([]pool.Row, int) {
	rows := make([]pool.Row, 0, len(lines))
	invalid := 0
	for _, raw := range lines {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		var m map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			invalid++
			continue
		}
		id := deviceIDFromMap(m, cfg.DB.IDField)
		if id == "" {
			invalid++
			continue
		}
		rows = append(rows, pool.Row{
			ShardID:  pool.ShardOf(id, cfg.DB.Shards),
			DeviceID: id,
			JSON:     []byte(raw),
		})
	}
	if invalid > 0 {
		util.Warnf("skipped %d invalid device lines", invalid)
	}
	return rows, invalid
}

// deviceIDFromMap pulls the pool id from a raw device object, falling back
// through the stable identifier chain.
func deviceIDFromMap(m map[string]interface{}, idField string) string {
	for _, k := range []string{idField, "device_id", "device_uid", "cdid", "clientudid", "openudid"} {
		if k == "" {
			continue
		}
		if v, ok := m[k].(string); ok {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return lines, nil
}

func init() {
	importCmd.Flags().BoolVar(&importToRedis, "redis", false, "Import into the Redis mirror instead of MySQL")
	importCmd.Flags().BoolVar(&importOverwrite, "overwrite", false, "Clear the Redis pool before importing")
	importCmd.Flags().BoolVar(&importEvict, "evict", false, "Evict most-used devices from full shards to make room (MySQL)")
	importCookiesCmd.Flags().BoolVar(&importOverwrite, "overwrite", false, "Clear the cookie pool before importing")
	rootCmd.AddCommand(importCmd, importCookiesCmd)
}
