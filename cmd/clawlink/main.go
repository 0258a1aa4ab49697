package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"clawlink/internal/config"
	"clawlink/internal/datadir"
	"clawlink/internal/version"
)

var (
	cfgFile        string
	verbose        bool
	quiet          bool
	connectTimeout time.Duration
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "clawlink",
	Short: "Command-line client for a local agent gateway",
	Long: `clawlink talks to an agent gateway over its WebSocket protocol.

It sends messages to the agent and streams the reply, inspects and resets
sessions, watches gateway events, and fires prompts on cron schedules.
Finished runs are recorded in a local transcript database.`,
	Version:       version.Full(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initLogging)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (default ~/.clawlink/config.json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress log output")
	rootCmd.PersistentFlags().DurationVar(&connectTimeout, "connect-timeout", 10*time.Second, "how long to wait for the gateway handshake")
}

func initLogging() {
	switch {
	case quiet:
		log.SetOutput(io.Discard)
	case verbose:
		log.SetFlags(log.LstdFlags | log.Lshortfile)
		log.Println("Verbose logging enabled")
	}
}

// loadConfig resolves the data directory, loads .env files, then the config
func loadConfig() (*config.Config, error) {
	dd, err := datadir.New("")
	if err != nil {
		log.Printf("WARNING: Could not resolve data directory: %v", err)
	} else if err := datadir.LoadEnv(dd.Root()); err != nil {
		log.Printf("WARNING: Failed to load .env files: %v", err)
	}

	path := cfgFile
	if path == "" {
		if dd == nil {
			return nil, fmt.Errorf("no --config given and no data directory available")
		}
		path = dd.ConfigPath()
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.Debug.VerboseLogging && !quiet && !verbose {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}
	return cfg, nil
}

// commandContext returns a context cancelled by SIGINT/SIGTERM
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signalContext(cmd.Context())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
