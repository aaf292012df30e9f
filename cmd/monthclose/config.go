package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jgoulah/monthclose/internal/config"
)

var configForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with default values",
	Long: `Writes the default configuration to the config path. Meter credentials are
left empty; supply them via MONTHCLOSE_METER_USERNAME and MONTHCLOSE_METER_PASSWORD.`,
	RunE: runConfigInit,
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing config file")
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := getConfigPath()

	if _, err := os.Stat(path); err == nil && !configForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	if err := config.Save(path, config.Default()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Config written to %s\n", path)
	return nil
}
