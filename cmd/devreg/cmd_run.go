package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mwzzzh/devreg/pkg/util"
)

var runTasks int

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Register a fixed batch of devices",
	Long: `Run fabricates devices and drives each through the three-stage
handshake, persisting every success into the device pool. The batch size
comes from MWZZZH_TASKS unless overridden with --tasks.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext(context.Background())
		defer cancel()

		d, err := buildEngine(ctx)
		if err != nil {
			return err
		}
		defer d.close()

		tasks := cfg.Tasks
		if runTasks > 0 {
			tasks = runTasks
		}

		util.Infof("starting run: %d tasks, concurrency %d", tasks, cfg.Concurrency)
		saved, err := d.eng.Run(ctx, tasks)
		if err != nil {
			return err
		}

		fmt.Printf("attempted %d, registered %d, failed %d\n",
			d.eng.Attempted(), saved, d.eng.Failed())
		return nil
	},
}

func init() {
	runCmd.Flags().IntVarP(&runTasks, "tasks", "t", 0, "Number of devices to register (default from env)")
	rootCmd.AddCommand(runCmd)
}
