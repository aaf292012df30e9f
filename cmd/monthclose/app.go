package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/jgoulah/monthclose/internal/config"
	"github.com/jgoulah/monthclose/internal/database"
	"github.com/jgoulah/monthclose/internal/logging"
	"github.com/jgoulah/monthclose/internal/meter"
	"github.com/jgoulah/monthclose/internal/monthend"
	"github.com/jgoulah/monthclose/internal/publisher"
	"github.com/jgoulah/monthclose/internal/tsdb"
)

// app holds the collaborators of one process
type app struct {
	cfg       *config.Config
	log       *logging.Logger
	db        *database.DB
	scheduler *monthend.Scheduler
	closers   []func()
}

// newApp wires the registry, meter client and optional reporters into a
// Scheduler. Reporters that fail to connect are skipped with a warning.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	log := logging.New(cfg.Logging, version)

	db, err := openDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	a := &app{cfg: cfg, log: log, db: db}
	a.closers = append(a.closers, func() {
		if err := db.Close(); err != nil {
			log.Error("error closing database", "error", err)
		}
	})

	var reporters monthend.Reporters
	if cfg.MQTT.Enabled {
		pub, err := publisher.New(cfg.MQTT)
		if err != nil {
			log.Warn("MQTT publishing disabled", "broker", cfg.MQTT.Broker, "error", err)
		} else {
			reporters = append(reporters, pub)
			a.closers = append(a.closers, pub.Close)
			log.Info("MQTT publishing enabled", "broker", cfg.MQTT.Broker)
		}
	}
	if cfg.InfluxDB.Enabled {
		w, err := tsdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			log.Warn("InfluxDB writes disabled", "url", cfg.InfluxDB.URL, "error", err)
		} else {
			reporters = append(reporters, w)
			a.closers = append(a.closers, w.Close)
			log.Info("InfluxDB writes enabled", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
		}
	}

	opts := []monthend.Option{monthend.WithLocation(cfg.Location())}
	if len(reporters) > 0 {
		opts = append(opts, monthend.WithReporter(reporters))
	}

	reader := meter.New(cfg.Meter, cfg.GetMeterTimeout())
	a.scheduler = monthend.NewScheduler(db, reader, log, opts...)
	return a, nil
}

// invoke runs one month-end invocation and logs its outcome
func (a *app) invoke(ctx context.Context) error {
	err := a.scheduler.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.log.Error("month-end invocation failed", "error", err)
	}
	return err
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
