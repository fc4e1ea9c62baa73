// bgp-leakscan detects full-view route leaks from daily per-AS counts of
// announced prefixes and prefixes in conflict.
//
// Usage:
//
//	bgp-leakscan detect prefixes.json conflicts.json
//	bgp-leakscan detect --jsonl documents.json.gz --fit-params --strategy elbow
//	bgp-leakscan fit prefixes.json conflicts.json --candidates
//	bgp-leakscan explain prefixes.json conflicts.json --asn 64500 --day 42
//
// Settings are read from .bgp-leakscan.yaml (current directory or $HOME)
// and from BGP_LEAKSCAN_* environment variables, for example
// BGP_LEAKSCAN_DATABASE_URL or BGP_LEAKSCAN_DETECTION_MAX_NB_PEAKS.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "bgp-leakscan",
		Short: "Detect full-view BGP route leaks in daily per-AS series",
		Long: `bgp-leakscan looks for days on which an AS suddenly announces many more
prefixes while, on the same day, many of its announcements conflict with
other origins. Such simultaneous peaks are the signature of a full-view
route leak.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./.bgp-leakscan.yaml or $HOME/.bgp-leakscan.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format (text or json)")

	rootCmd.AddCommand(detectCmd())
	rootCmd.AddCommand(fitCmd())
	rootCmd.AddCommand(explainCmd())
	rootCmd.AddCommand(convertCmd())

	return rootCmd
}
