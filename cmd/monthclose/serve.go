package main

import (
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/jgoulah/monthclose/internal/logging"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the daily month-end trigger",
	Long: `Starts a long-running process that triggers the month-end check on the
configured cron schedule (default 23:55 every day) in the configured timezone.
On days other than the last of the month the trigger returns immediately.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
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

	c := cron.New(
		cron.WithLocation(cfg.Location()),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{a.log})),
	)
	if _, err := c.AddFunc(cfg.Schedule, func() { _ = a.invoke(ctx) }); err != nil {
		return fmt.Errorf("scheduling %q: %w", cfg.Schedule, err)
	}

	c.Start()
	a.log.Info("month-end trigger scheduled",
		"schedule", cfg.Schedule,
		"timezone", cfg.Timezone,
		"next", c.Entries()[0].Next,
	)

	<-ctx.Done()
	a.log.Info("shutting down")

	// Waits for a running invocation, which observes the same cancellation
	<-c.Stop().Done()
	return nil
}

// cronLogger adapts the structured logger to cron.Logger
type cronLogger struct {
	log *logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
