package app

import (
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/devicelabs/entrasync/internal/config"
	"github.com/devicelabs/entrasync/internal/secrets"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and edit tool configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the resolved configuration",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.LoadConfig(config.WithConfigPath(configPath()))
		if err != nil {
			cmd.SilenceUsage = true
			return err
		}

		fmt.Printf("config file: %s\n", configPath())
		fmt.Printf("platform: %s (clientId %s, secret slot %q)\n",
			cfg.Platform.BaseURL, cfg.Platform.ClientID, cfg.Platform.SecretRef)
		for _, tenant := range cfg.Tenants {
			fmt.Printf("tenant %q: tenantId %s, secret slot %q\n", tenant.Name, tenant.TenantID, tenant.SecretRef)
			for _, scope := range tenant.Targets {
				fmt.Printf("  organizations %v, %d mapping(s)\n", scope.OrganizationIDs, len(scope.Mappings))
			}
		}
		return nil
	},
}

var configSetSecretCmd = &cobra.Command{
	Use:   "set-secret <ref>",
	Short: "Store a credential in the OS keychain",
	Long: `Store a credential under the named secret slot in the OS keychain.
The value is read from stdin, or prompted for when stdin is a terminal.
Configuration references credentials by slot name only; no secret material
ever lives in the config file.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		value, err := readSecretValue()
		if err != nil {
			return err
		}
		if value == "" {
			return fmt.Errorf("refusing to store an empty secret")
		}

		store := secrets.NewKeyringStore()
		if err := store.Set(args[0], value); err != nil {
			return err
		}

		fmt.Printf("Stored secret %q\n", args[0])
		return nil
	},
}

// readSecretValue reads the secret from stdin, with a no-echo prompt when
// attached to a terminal.
func readSecretValue() (string, error) {
	if term.IsTerminal(int(syscall.Stdin)) {
		fmt.Fprint(os.Stderr, "Secret value: ")
		value, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("failed to read secret: %w", err)
		}
		return string(value), nil
	}

	var value string
	if _, err := fmt.Fscanln(os.Stdin, &value); err != nil {
		return "", fmt.Errorf("failed to read secret from stdin: %w", err)
	}
	return value, nil
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetSecretCmd)
}
