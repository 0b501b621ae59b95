// Package app provides the entry point for the entrasync CLI.
package app

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/devicelabs/entrasync/internal/config"
	"github.com/devicelabs/entrasync/internal/versions"
)

// EnvPrefix is the viper environment variable prefix
const EnvPrefix = "ENTRASYNC"

var rootCmd = &cobra.Command{
	Use:               "entrasync",
	DisableAutoGenTag: true,
	Short:             "Sync directory device metadata to the endpoint platform",
	Long: `entrasync synchronizes device inventory metadata from the identity
directory into the endpoint-management platform, so that group membership
and device attributes recorded in the directory can drive dynamic grouping
and automation on the platform.

It runs as a scheduled or manual batch job. Runs are dry-run by default;
pass --dry-run=false to apply patches.`,
	Run: func(cmd *cobra.Command, _ []string) {
		// If no subcommand is provided, print help
		if err := cmd.Help(); err != nil {
			slog.Error("Error displaying help", "error", err)
		}
	},
}

// NewRootCmd creates a new root command for entrasync.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().String("config", "", "Path to configuration file (defaults to the XDG config home)")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		slog.Error("Error binding debug flag", "error", err)
	}
	if err := viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config")); err != nil {
		slog.Error("Error binding config flag", "error", err)
	}

	viper.SetEnvPrefix(EnvPrefix)
	viper.AutomaticEnv()

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)

	return rootCmd
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		info := versions.GetVersionInfo()
		format, err := cmd.Flags().GetString("format")
		if err != nil {
			slog.Error("Error retrieving format flag", "error", err)
			return
		}

		if format == "json" {
			output, err := json.MarshalIndent(info, "", "  ")
			if err != nil {
				slog.Error("Error formatting version info as JSON", "error", err)
				return
			}
			fmt.Println(string(output))
		} else {
			fmt.Printf("entrasync %s (commit %s, built %s, %s, %s)\n",
				info.Version, info.Commit, info.BuildDate, info.GoVersion, info.Platform)
		}
	},
}

func init() {
	versionCmd.Flags().String("format", "", "Output format (json)")
}

// newLogger builds the zap logger the run threads through the orchestrator
func newLogger() (*zap.Logger, error) {
	if viper.GetBool("debug") {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.DisableStacktrace = true
	return cfg.Build()
}

// configPath resolves the config file path from the flag or XDG default
func configPath() string {
	if path := viper.GetString("config"); path != "" {
		return path
	}
	return config.DefaultPath()
}
