package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"case-mail-router/internal/app"
	"case-mail-router/internal/config"
)

var (
	// version is set via ldflags at build time.
	version = "dev"
	cfgFile string
)

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "case-mail-router",
		Short:         "Email classification and case assignment service",
		Long:          "Routes law firm mail to clients and cases, backfills contact history and chases outstanding documents.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (default ./config.yaml)")
	root.AddCommand(newServeCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newRemindersCmd())
	root.AddCommand(newSyncCmd())
	root.AddCommand(newAuthCmd())
	return root
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		logrus.Errorf("%v", err)
		os.Exit(1)
	}
}

// loadConfig reads and validates the configuration and sets up logging
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	app.ConfigureLogging(cfg.Log.Level)
	return cfg, nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
