package main

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jgoulah/monthclose/pkg/models"
)

var listDevice string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored usage records",
	Long:  `Displays monthly usage records from the database, newest period first.`,
	RunE:  runList,
}

func init() {
	listCmd.Flags().StringVar(&listDevice, "device", "", "Filter by device id")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := readConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	db, err := openDB(cfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	records, err := db.ListUsage(cmd.Context(), listDevice)
	if err != nil {
		return fmt.Errorf("listing usage records: %w", err)
	}

	if len(records) == 0 {
		if listDevice != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "No usage records found for %s\n", listDevice)
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), "No usage records found")
		}
		return nil
	}

	printRecords(cmd.OutOrStdout(), records)
	return nil
}

func printRecords(w io.Writer, records []models.UsageRecord) {
	const rule = "--------------------------------------------------------------------------"

	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "%-8s  %-16s  %-16s  %10s  %12s  %s\n", "Period", "Device", "Alias", "Baseline", "kWh", "Status")
	fmt.Fprintln(w, rule)

	var total float64
	var finalized int
	for _, r := range records {
		kwh := "-"
		status := "open"
		if r.Tracking {
			status = "tracking"
		}
		if r.Accumulated != nil {
			kwh = humanize.FormatFloat("#,###.##", *r.Accumulated)
			total += *r.Accumulated
		}
		if r.FinalizedAt != nil {
			status = "finalized " + humanize.Time(*r.FinalizedAt)
			finalized++
		}
		fmt.Fprintf(w, "%-8s  %-16s  %-16s  %10s  %12s  %s\n",
			r.Period, r.DeviceID, r.Alias,
			humanize.FormatFloat("#,###.##", r.Baseline), kwh, status)
	}

	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Total: %s kWh (%s finalized of %s records)\n",
		humanize.FormatFloat("#,###.##", total),
		humanize.Comma(int64(finalized)),
		humanize.Comma(int64(len(records))),
	)
}
