package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hoprnet/hopr-session-go/internal/cli/prompt"
	"github.com/hoprnet/hopr-session-go/pkg/config"
)

var force bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample configuration file with annotated defaults.

Use --config to write to a custom path, or it will use the default
location at $XDG_CONFIG_HOME/hoprsessiond/config.yaml.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing configuration file without prompting")
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := GetConfigFile()
	if configPath == "" {
		configPath = config.GetDefaultConfigPath()
	}

	if !force && fileExists(configPath) {
		overwrite, err := prompt.Confirm(fmt.Sprintf("%s already exists. Overwrite?", configPath), false)
		if err != nil {
			return err
		}
		if !overwrite {
			fmt.Println("Aborted.")
			return nil
		}
	}

	if err := config.InitConfigToPath(configPath, true); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration file to customize your setup")
	fmt.Println("  2. Start the node with: hoprsessiond serve")
	fmt.Printf("  3. Or specify custom config: hoprsessiond serve --config %s\n", configPath)
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
