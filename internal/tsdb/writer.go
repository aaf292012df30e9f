// Package tsdb writes committed settlements to InfluxDB.
package tsdb

import (
	"context"
	"errors"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/jgoulah/monthclose/internal/config"
	"github.com/jgoulah/monthclose/pkg/models"
)

// Measurement is the InfluxDB measurement settlements are written to
const Measurement = "monthly_energy"

const (
	defaultConnectTimeout = 10 * time.Second
	defaultWriteTimeout   = 10 * time.Second
)

var (
	// ErrDisabled indicates InfluxDB is disabled in config
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	// ErrConnectionFailed indicates the initial ping failed
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrWriteFailed indicates a settlement point was rejected
	ErrWriteFailed = errors.New("influxdb: write failed")
)

// Writer records one point per settlement. Writes are blocking so a
// failure is visible to the caller at finalization time.
type Writer struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
}

// Connect creates a client and verifies the server answers a ping
func Connect(ctx context.Context, cfg config.InfluxDBConfig) (*Writer, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()

	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	return &Writer{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
	}, nil
}

// Report writes s, timestamped at its finalization time
func (w *Writer) Report(ctx context.Context, s models.Settlement) error {
	writeCtx, cancel := context.WithTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	if err := w.writeAPI.WritePoint(writeCtx, settlementPoint(s)); err != nil {
		return fmt.Errorf("%w: device %s: %w", ErrWriteFailed, s.DeviceID, err)
	}
	return nil
}

// Close releases the underlying HTTP client
func (w *Writer) Close() {
	if w.client != nil {
		w.client.Close()
	}
}

func settlementPoint(s models.Settlement) *write.Point {
	return write.NewPoint(
		Measurement,
		map[string]string{
			"device_id": s.DeviceID,
			"alias":     s.Alias,
			"period":    s.Period,
		},
		map[string]interface{}{
			"accumulated_kwh": s.Accumulated,
			"reading_kwh":     s.Reading,
			"baseline_kwh":    s.Baseline,
			"usage_record_id": s.UsageRecordID,
		},
		s.FinalizedAt,
	)
}
