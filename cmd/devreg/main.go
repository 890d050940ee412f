// Devreg - Device Registration Pipeline
//
// A CLI for provisioning synthetic mobile devices through the three-stage
// remote handshake and filling the sharded device pool:
//
//	devreg run              # register a fixed number of devices
//	devreg fill             # top every DB shard up to its target
//	devreg status           # per-shard fill levels
//	devreg import           # bulk-load device JSON lines into the pool
//	devreg import-cookies   # load startup cookies into Redis
//
// Configuration comes from the environment (optionally via an env file);
// see the README for the variable reference.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/mwzzzh/devreg/pkg/config"
	"github.com/mwzzzh/devreg/pkg/util"
	"github.com/mwzzzh/devreg/pkg/version"
)

var (
	// Global option flags
	verbose    bool
	jsonLogs   bool
	errorFile  string

	// Global state, populated by the root PersistentPreRunE
	cfg config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:               "devreg",
	Short:             "Device registration and pool-fill pipeline",
	SilenceUsage:      true,
	SilenceErrors:     true,
	CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
	Long: `Devreg provisions synthetic mobile devices through the remote
registration handshake and persists them into a sharded device pool.

Run mode registers a fixed batch; fill mode keeps every shard topped
up to its configured target.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "version" {
			return nil
		}

		if verbose {
			util.SetLogLevel("debug")
		} else {
			util.SetLogLevel("info")
		}
		if jsonLogs {
			util.SetJSONFormat()
		}
		if errorFile != "" {
			if err := util.SetErrorFile(errorFile); err != nil {
				util.Warnf("could not open error log file: %v", err)
			}
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Info())
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "log-json", false, "Emit logs as JSON")
	rootCmd.PersistentFlags().StringVar(&errorFile, "error-file", "", "Also write error-level logs to this file")

	rootCmd.AddCommand(versionCmd)
}

// signalContext returns a context cancelled by the first SIGINT/SIGTERM.
// A second signal exits immediately without draining.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ch
		util.Warnf("shutdown requested; draining (interrupt again to abort)")
		cancel()
		<-ch
		util.Errorf("hard abort")
		os.Exit(1)
	}()
	return ctx, cancel
}

// dbPassword returns the configured DB password, prompting on the terminal
// when it is unset and stdin is interactive.
func dbPassword() (string, error) {
	if cfg.DB.Password != "" {
		return cfg.DB.Password, nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", nil
	}
	fmt.Fprintf(os.Stderr, "DB password for %s@%s: ", cfg.DB.User, cfg.DB.Host)
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(pw), nil
}
