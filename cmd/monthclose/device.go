package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jgoulah/monthclose/internal/config"
	"github.com/jgoulah/monthclose/internal/database"
	"github.com/jgoulah/monthclose/internal/monthend"
)

var (
	deviceAlias    string
	devicePeriod   string
	deviceBaseline float64
)

var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Manage registered devices",
}

var deviceAddCmd = &cobra.Command{
	Use:   "add <id> <address>",
	Short: "Register a device and open its usage record",
	Long: `Registers an active device reachable at address (host or host:port) and
opens its usage record for the given period with the given baseline.`,
	Args: cobra.ExactArgs(2),
	RunE: runDeviceAdd,
}

var deviceActivateCmd = &cobra.Command{
	Use:   "activate <id>",
	Short: "Include a device in month-end finalization",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setDeviceActive(cmd, args[0], true)
	},
}

var deviceDeactivateCmd = &cobra.Command{
	Use:   "deactivate <id>",
	Short: "Exclude a device from month-end finalization",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setDeviceActive(cmd, args[0], false)
	},
}

func init() {
	deviceAddCmd.Flags().StringVar(&deviceAlias, "alias", "", "Display name (default is the id)")
	deviceAddCmd.Flags().StringVar(&devicePeriod, "period", "", "Usage period YYYY-MM (default is the current month)")
	deviceAddCmd.Flags().Float64Var(&deviceBaseline, "baseline", 0, "Month-to-date kWh already counted before tracking starts")

	deviceCmd.AddCommand(deviceAddCmd, deviceActivateCmd, deviceDeactivateCmd)
	rootCmd.AddCommand(deviceCmd)
}

func openAdminDB() (*config.Config, *database.DB, error) {
	cfg, err := readConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	db, err := openDB(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	return cfg, db, nil
}

func runDeviceAdd(cmd *cobra.Command, args []string) error {
	id, address := args[0], args[1]
	alias := deviceAlias
	if alias == "" {
		alias = id
	}

	cfg, db, err := openAdminDB()
	if err != nil {
		return err
	}
	defer db.Close()

	period := devicePeriod
	if period == "" {
		period = monthend.Period(time.Now().In(cfg.Location()))
	}

	ctx := cmd.Context()
	if err := db.AddDevice(ctx, id, alias, address); err != nil {
		return err
	}
	recordID, err := db.OpenUsageRecord(ctx, id, period, deviceBaseline)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Added device %s (%s) at %s, usage record %d for %s\n",
		id, alias, address, recordID, period)
	return nil
}

func setDeviceActive(cmd *cobra.Command, id string, active bool) error {
	_, db, err := openAdminDB()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.SetDeviceActive(cmd.Context(), id, active); err != nil {
		return err
	}

	state := "deactivated"
	if active {
		state = "activated"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Device %s %s\n", id, state)
	return nil
}
