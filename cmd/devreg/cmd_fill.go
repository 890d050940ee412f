package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mwzzzh/devreg/pkg/engine"
	"github.com/mwzzzh/devreg/pkg/util"
)

var (
	fillWatch  bool
	fillTarget int
)

var fillCmd = &cobra.Command{
	Use:   "fill",
	Short: "Top every DB shard up to its per-shard target",
	Long: `Fill measures each shard of the device pool, finds the emptiest,
and generates bounded batches until every shard holds DB_MAX_DEVICES
devices. With --watch it keeps re-checking on an interval instead of
exiting once full.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext(context.Background())
		defer cancel()

		fillCfg := cfg.Fill
		if fillTarget > 0 {
			fillCfg.Target = fillTarget
		}
		if fillWatch {
			fillCfg.Once = false
		}
		if fillCfg.Target <= 0 {
			return util.NewConfigError("DB_MAX_DEVICES", "per-shard target required for fill")
		}

		d, err := buildEngine(ctx)
		if err != nil {
			return err
		}
		defer d.close()

		f := engine.NewFiller(fillCfg, cfg.DB.Shards, d.store, d.assigner, d.eng)
		err = f.Loop(ctx)
		if errors.Is(err, context.Canceled) {
			err = nil
		}

		fmt.Printf("fill loop committed %d devices (attempted %d, failed %d)\n",
			f.Total(), d.eng.Attempted(), d.eng.Failed())
		return err
	},
}

func init() {
	fillCmd.Flags().BoolVarP(&fillWatch, "watch", "w", false, "Keep re-checking after the pool is full")
	fillCmd.Flags().IntVar(&fillTarget, "target", 0, "Per-shard device target (default from env)")
	rootCmd.AddCommand(fillCmd)
}
