package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/statorq/statorq/pkg/api"
	"github.com/statorq/statorq/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample statorq configuration file.

By default, the configuration file is created at $XDG_CONFIG_HOME/statorq/config.yaml.
Use --config to specify a custom path.

Examples:
  # Initialize with default location
  statorq init

  # Initialize with custom path
  statorq init --config /etc/statorq/config.yaml

  # Force overwrite existing config
  statorq init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := GetConfigFile()
	if configPath == "" {
		configPath = config.GetDefaultConfigPath()
	}

	if _, err := os.Stat(configPath); err == nil && !initForce {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", configPath)
	}

	if err := config.SaveConfig(config.GetDefaultConfig(), configPath); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration file to customize your setup")
	fmt.Println("  2. Start the server with: statorq serve")
	fmt.Printf("  3. Or specify custom config: statorq serve --config %s\n", configPath)
	fmt.Println("\nSecurity note:")
	fmt.Println("  The ingress runs open until an API key is configured.")
	fmt.Println("  For production, set one via environment variable:")
	fmt.Printf("    export %s=$(openssl rand -hex 32)\n", api.EnvAPIKey)

	return nil
}
