package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/devicelabs/entrasync/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long: `Load the configuration file and report every structural problem at
once: missing fields, duplicate credential references, and organization IDs
targeted by more than one scope. Exits non-zero when the configuration is
invalid.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.LoadConfig(config.WithConfigPath(configPath()))
		if err != nil {
			cmd.SilenceUsage = true
			return err
		}

		jobs := config.GetSyncJobs(cfg)
		fmt.Printf("Configuration OK: %d tenant(s), %d sync job(s)\n", len(cfg.Tenants), len(jobs))
		return nil
	},
}
