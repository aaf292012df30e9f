package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jgoulah/monthclose/pkg/models"
)

// ListActiveDevices returns every active device joined with its open usage
// record for period, ordered by device id. Devices whose open record belongs
// to another period are left out; see StaleOpenRecords.
func (db *DB) ListActiveDevices(ctx context.Context, period string) ([]models.ActiveDevice, error) {
	query := `
	SELECT d.id, d.alias, d.address, u.id, u.baseline
	FROM devices d
	JOIN usage_records u ON u.device_id = d.id AND u.period = ? AND u.accumulated IS NULL
	WHERE d.active = 1
	ORDER BY d.id
	`

	rows, err := db.conn.QueryContext(ctx, query, period)
	if err != nil {
		return nil, &PersistenceError{Op: "listing active devices", Err: err}
	}
	defer rows.Close()

	var devices []models.ActiveDevice
	for rows.Next() {
		var d models.ActiveDevice
		if err := rows.Scan(&d.DeviceID, &d.Alias, &d.Address, &d.UsageRecordID, &d.BaselineConsumption); err != nil {
			return nil, &PersistenceError{Op: "scanning active device", Err: err}
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{Op: "listing active devices", Err: err}
	}

	return devices, nil
}

// SetTrackingFlag sets or clears the tracking flag on an open usage record
func (db *DB) SetTrackingFlag(ctx context.Context, recordID int64, tracking bool) error {
	query := `UPDATE usage_records SET tracking = ? WHERE id = ? AND accumulated IS NULL`

	res, err := db.conn.ExecContext(ctx, query, boolToInt(tracking), recordID)
	if err != nil {
		return &PersistenceError{Op: "setting tracking flag", RecordID: recordID, Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &PersistenceError{Op: "setting tracking flag", RecordID: recordID, Err: err}
	}
	if n == 0 {
		return &PersistenceError{Op: "setting tracking flag", RecordID: recordID, Err: ErrRecordNotFound}
	}

	return nil
}

// CommitAccumulatedValue finalizes a usage record: it stores the accumulated
// value, clears the tracking flag and opens the following period's record
// with a zero baseline, all in one transaction.
func (db *DB) CommitAccumulatedValue(ctx context.Context, recordID int64, value float64) error {
	fail := func(err error) error {
		return &PersistenceError{Op: "committing accumulated value", RecordID: recordID, Err: err}
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fail(err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var deviceID, period string
	err = tx.QueryRowContext(ctx,
		`SELECT device_id, period FROM usage_records WHERE id = ? AND accumulated IS NULL`,
		recordID,
	).Scan(&deviceID, &period)
	if errors.Is(err, sql.ErrNoRows) {
		return fail(ErrRecordNotFound)
	}
	if err != nil {
		return fail(err)
	}

	finalizedAt := db.now().UTC().Format(timeLayout)
	if _, err := tx.ExecContext(ctx,
		`UPDATE usage_records SET accumulated = ?, tracking = 0, finalized_at = ? WHERE id = ?`,
		value, finalizedAt, recordID,
	); err != nil {
		return fail(err)
	}

	next, err := nextPeriod(period)
	if err != nil {
		return fail(err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO usage_records (device_id, period, baseline) VALUES (?, ?, 0)`,
		deviceID, next,
	); err != nil {
		return fail(err)
	}

	if err := tx.Commit(); err != nil {
		return fail(err)
	}
	return nil
}

// AddDevice registers a new active device
func (db *DB) AddDevice(ctx context.Context, id, alias, address string) error {
	query := `
	INSERT INTO devices (id, alias, address, active, created_at)
	VALUES (?, ?, ?, 1, ?)
	`
	createdAt := db.now().UTC().Format(timeLayout)
	if _, err := db.conn.ExecContext(ctx, query, id, alias, address, createdAt); err != nil {
		return fmt.Errorf("inserting device %s: %w", id, err)
	}
	return nil
}

// SetDeviceActive marks a device active or inactive
func (db *DB) SetDeviceActive(ctx context.Context, id string, active bool) error {
	res, err := db.conn.ExecContext(ctx, `UPDATE devices SET active = ? WHERE id = ?`, boolToInt(active), id)
	if err != nil {
		return fmt.Errorf("updating device %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating device %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("updating device %s: %w", id, ErrDeviceNotFound)
	}
	return nil
}

// OpenUsageRecord creates the usage record for a device and period if it
// does not exist yet and returns its id. A device has at most one open
// record; asking for another period while one is open fails with
// ErrOpenRecordExists.
func (db *DB) OpenUsageRecord(ctx context.Context, deviceID, period string, baseline float64) (int64, error) {
	if _, err := time.Parse(periodLayout, period); err != nil {
		return 0, fmt.Errorf("invalid period %q (use YYYY-MM)", period)
	}

	var openPeriod string
	err := db.conn.QueryRowContext(ctx,
		`SELECT period FROM usage_records WHERE device_id = ? AND accumulated IS NULL`,
		deviceID,
	).Scan(&openPeriod)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return 0, fmt.Errorf("reading open usage record: %w", err)
	case openPeriod != period:
		return 0, fmt.Errorf("device %s has a record open for %s: %w", deviceID, openPeriod, ErrOpenRecordExists)
	}

	if _, err := db.conn.ExecContext(ctx,
		`INSERT OR IGNORE INTO usage_records (device_id, period, baseline) VALUES (?, ?, ?)`,
		deviceID, period, baseline,
	); err != nil {
		return 0, fmt.Errorf("opening usage record: %w", err)
	}

	var id int64
	if err := db.conn.QueryRowContext(ctx,
		`SELECT id FROM usage_records WHERE device_id = ? AND period = ?`,
		deviceID, period,
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("reading usage record id: %w", err)
	}
	return id, nil
}

// StaleOpenRecords returns open usage records of active devices that belong
// to a period before period. Such a device missed a finalization and is not
// tracked until its record is settled.
func (db *DB) StaleOpenRecords(ctx context.Context, period string) ([]models.UsageRecord, error) {
	query := `
	SELECT u.id, u.device_id, d.alias, u.period, u.baseline, u.accumulated, u.tracking, u.finalized_at
	FROM usage_records u
	JOIN devices d ON d.id = u.device_id
	WHERE d.active = 1 AND u.accumulated IS NULL AND u.period < ?
	ORDER BY u.device_id
	`

	rows, err := db.conn.QueryContext(ctx, query, period)
	if err != nil {
		return nil, &PersistenceError{Op: "listing stale usage records", Err: err}
	}
	defer rows.Close()

	return scanUsage(rows)
}

// ListUsage retrieves usage records, newest period first. An empty deviceID
// lists all devices.
func (db *DB) ListUsage(ctx context.Context, deviceID string) ([]models.UsageRecord, error) {
	query := `
	SELECT u.id, u.device_id, d.alias, u.period, u.baseline, u.accumulated, u.tracking, u.finalized_at
	FROM usage_records u
	JOIN devices d ON d.id = u.device_id
	WHERE (? = '' OR u.device_id = ?)
	ORDER BY u.period DESC, u.device_id
	`

	rows, err := db.conn.QueryContext(ctx, query, deviceID, deviceID)
	if err != nil {
		return nil, fmt.Errorf("querying usage records: %w", err)
	}
	defer rows.Close()

	return scanUsage(rows)
}

func scanUsage(rows *sql.Rows) ([]models.UsageRecord, error) {
	var results []models.UsageRecord
	for rows.Next() {
		var r models.UsageRecord
		var accumulated sql.NullFloat64
		var tracking int
		var finalizedAt sql.NullString

		if err := rows.Scan(&r.ID, &r.DeviceID, &r.Alias, &r.Period, &r.Baseline, &accumulated, &tracking, &finalizedAt); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		r.Tracking = tracking != 0
		if accumulated.Valid {
			v := accumulated.Float64
			r.Accumulated = &v
		}
		if finalizedAt.Valid && finalizedAt.String != "" {
			t, err := time.Parse(timeLayout, finalizedAt.String)
			if err != nil {
				return nil, fmt.Errorf("parsing finalized_at: %w", err)
			}
			r.FinalizedAt = &t
		}

		results = append(results, r)
	}

	return results, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
