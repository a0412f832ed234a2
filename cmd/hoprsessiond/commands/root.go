// Package commands implements the hoprsessiond CLI.
package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/hoprnet/hopr-session-go/internal/cli/output"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	cfgFile    string
	outputFlag string
)

var rootCmd = &cobra.Command{
	Use:   "hoprsessiond",
	Short: "HOPR session transport node",
	Long: `hoprsessiond runs the HOPR session transport core: a segmented,
optionally reliable byte stream transport riding on a fixed-payload
mix-network packet carrier.

Use "hoprsessiond [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and runs it. It is
// called once by main.main.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/hoprsessiond/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&outputFlag, "output", "o", "table", "output format: table, json, yaml")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(probeCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// GetConfigFile returns the config file path from the global flag.
func GetConfigFile() string {
	return cfgFile
}

// GetOutputFormat parses the global --output flag.
func GetOutputFormat() (output.Format, error) {
	return output.ParseFormat(outputFlag)
}

// Exit prints an error and exits with code 1.
func Exit(format string, args ...any) {
	rootCmd.PrintErrf(format+"\n", args...)
	os.Exit(1)
}
