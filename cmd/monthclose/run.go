package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one month-end invocation now",
	Long: `Performs a single month-end invocation immediately, for use with an external
scheduler such as a systemd timer firing at 23:55. Outside the last day of the
month it exits at once; otherwise it blocks until the 23:59 finalization.`,
	RunE: runOnce,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runOnce(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	return a.invoke(ctx)
}
