package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jgoulah/monthclose/internal/config"
	"github.com/jgoulah/monthclose/internal/database"
)

var (
	cfgFile string
	dbPath  string
)

var rootCmd = &cobra.Command{
	Use:   "monthclose",
	Short: "Finalize monthly energy consumption of metered devices",
	Long: `monthclose tracks active metered devices during the last minutes of each
month and commits every device's accumulated consumption to its usage record
at 23:59 local time. Devices and usage records live in a local SQLite database.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database file (overrides database.path)")
}

// getConfigPath returns the config file path
func getConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultConfigPath()
}

// loadConfig loads and validates the configuration file
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return nil, err
	}
	applyFlags(cfg)
	return cfg, nil
}

// readConfig loads the configuration without validating meter settings
func readConfig() (*config.Config, error) {
	cfg, err := config.Read(getConfigPath())
	if err != nil {
		return nil, err
	}
	applyFlags(cfg)
	return cfg, nil
}

func applyFlags(cfg *config.Config) {
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}
}

// openDB opens the database connection
func openDB(cfg *config.Config) (*database.DB, error) {
	if cfg.Database.Path == "" {
		return nil, fmt.Errorf("database path is empty")
	}
	return database.New(cfg.Database.Path, cfg.Database.BusyTimeout)
}
