package main

import (
	"fmt"
	"github.com/spf13/cobra"
	"github.com/ssau-fiit/cloudocs-sync/config"
	"os"
)

var (
	configPath string
	verbose    bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "cloudocs",
	Short: "Real-time collaborative document sync",
	Long: `cloudocs runs the document relay server and connects to it as a
collaborative editing client.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}

		level := loaded.LogLevel
		if verbose {
			level = "debug"
		}
		if err := config.SetupLogging(level, os.Stderr); err != nil {
			return err
		}

		cfg = loaded
		return applySessionFlags(cmd)
	},
}

// Execute runs the root command and exits on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("CLOUDOCS_CONFIG"), "Path to YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().String("server", "", "Relay server base URL")
}

// addSessionFlags registers the flags shared by commands that join a session.
func addSessionFlags(cmd *cobra.Command) {
	cmd.Flags().String("endpoint", "", "Websocket URL of the document (derived from --server when empty)")
	cmd.Flags().StringP("session", "s", "", "Session (document) id")
	cmd.Flags().String("client-id", "", "Client id (random when empty)")
}

func applySessionFlags(cmd *cobra.Command) error {
	for name, dst := range map[string]*string{
		"server":    &cfg.ServerURL,
		"endpoint":  &cfg.Endpoint,
		"session":   &cfg.SessionID,
		"client-id": &cfg.ClientID,
	} {
		flag := cmd.Flags().Lookup(name)
		if flag == nil || !flag.Changed {
			continue
		}
		*dst = flag.Value.String()
	}
	return nil
}
