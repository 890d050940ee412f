package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mwzzzh/devreg/pkg/cache"
	"github.com/mwzzzh/devreg/pkg/cli"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show per-shard fill levels of the device pool",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		target := int64(cfg.Fill.Target)
		var total int64

		t := cli.NewTable("SHARD", "DEVICES", "TARGET", "STATE")
		for s := 0; s < cfg.DB.Shards; s++ {
			n, err := store.CountShard(ctx, s)
			if err != nil {
				return err
			}
			total += n

			state := cli.Green("full")
			if target <= 0 {
				state = cli.Dim("-")
			} else if n < target {
				state = cli.Yellow(fmt.Sprintf("missing %d", target-n))
			}
			targetCol := "-"
			if target > 0 {
				targetCol = strconv.FormatInt(target, 10)
			}
			t.Row(strconv.Itoa(s), strconv.FormatInt(n, 10), targetCol, state)
		}
		t.Flush()
		fmt.Printf("total: %d devices across %d shards\n", total, cfg.DB.Shards)

		if cfg.Redis.Mirror {
			mirror, err := cache.New(cfg.Redis, cfg.DB.IDField)
			if err != nil {
				return err
			}
			defer mirror.Close()
			n, err := mirror.DeviceCount(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("redis mirror: %d devices\n", n)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
