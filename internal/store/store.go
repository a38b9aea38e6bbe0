// Package store keeps telemetry and firmware upload history in a local
// SQLite database (WAL mode).
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/chaz8081/blecfg/internal/device"
)

// DB wraps *sql.DB with domain helpers.
type DB struct {
	*sql.DB
}

// Open opens (or creates) the SQLite file at path with WAL journal mode.
// The parent directory is created if needed.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create %s: %w", dir, err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	raw, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if err := raw.Ping(); err != nil {
		raw.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	// Single writer; WAL still allows concurrent readers.
	raw.SetMaxOpenConns(1)
	return &DB{raw}, nil
}

// Migrate applies the schema. It is idempotent.
func Migrate(db *DB) error {
	for _, stmt := range []string{ddlReadings, ddlUploads} {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

const ddlReadings = `
CREATE TABLE IF NOT EXISTS readings (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id   TEXT    NOT NULL,
    device       TEXT    NOT NULL,
    temperature  REAL,
    humidity     REAL,
    battery      REAL,
    uptime_ms    INTEGER,             -- device uptime when sampled
    recorded_at  INTEGER NOT NULL     -- Unix milliseconds
);
CREATE INDEX IF NOT EXISTS idx_readings_recorded_at ON readings (recorded_at DESC);
`

const ddlUploads = `
CREATE TABLE IF NOT EXISTS ota_uploads (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    device       TEXT    NOT NULL,
    image_name   TEXT    NOT NULL,
    size_bytes   INTEGER NOT NULL,
    fingerprint  TEXT    NOT NULL,
    success      INTEGER NOT NULL DEFAULT 0,
    status       TEXT    NOT NULL DEFAULT '',
    message      TEXT    NOT NULL DEFAULT '',
    error        TEXT    NOT NULL DEFAULT '',
    started_at   INTEGER NOT NULL,    -- Unix milliseconds
    finished_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ota_uploads_started_at ON ota_uploads (started_at DESC);
`

// Reading is one stored telemetry sample.
type Reading struct {
	ID         int64                `json:"id"`
	SessionID  string               `json:"session_id"`
	Device     string               `json:"device"`
	Reading    device.SensorReading `json:"reading"`
	RecordedAt time.Time            `json:"recorded_at"`
}

// Upload is one firmware upload attempt.
type Upload struct {
	ID          int64     `json:"id"`
	Device      string    `json:"device"`
	ImageName   string    `json:"image_name"`
	SizeBytes   int       `json:"size_bytes"`
	Fingerprint string    `json:"fingerprint"`
	Success     bool      `json:"success"`
	Status      string    `json:"status"`
	Message     string    `json:"message"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

// RecordReading stores a telemetry sample and returns its row ID.
func (db *DB) RecordReading(ctx context.Context, r Reading) (int64, error) {
	if r.RecordedAt.IsZero() {
		r.RecordedAt = time.Now().UTC()
	}
	var uptime sql.NullInt64
	if r.Reading.Timestamp != nil {
		uptime = sql.NullInt64{Int64: r.Reading.Timestamp.Duration().Milliseconds(), Valid: true}
	}
	res, err := db.ExecContext(ctx,
		`INSERT INTO readings (session_id, device, temperature, humidity, battery, uptime_ms, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.SessionID, r.Device,
		nullFloat(r.Reading.Temperature), nullFloat(r.Reading.Humidity), nullFloat(r.Reading.BatteryLevel),
		uptime, r.RecordedAt.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("store: insert reading: %w", err)
	}
	return res.LastInsertId()
}

// RecentReadings returns up to limit samples, newest first.
func (db *DB) RecentReadings(ctx context.Context, limit int) ([]Reading, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, session_id, device, temperature, humidity, battery, uptime_ms, recorded_at
		 FROM readings ORDER BY recorded_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: query readings: %w", err)
	}
	defer rows.Close()

	var out []Reading
	for rows.Next() {
		var (
			r               Reading
			temp, hum, batt sql.NullFloat64
			uptime          sql.NullInt64
			recordedAt      int64
		)
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Device, &temp, &hum, &batt, &uptime, &recordedAt); err != nil {
			return nil, fmt.Errorf("store: scan reading: %w", err)
		}
		r.Reading.Temperature = floatPtr(temp)
		r.Reading.Humidity = floatPtr(hum)
		r.Reading.BatteryLevel = floatPtr(batt)
		if uptime.Valid {
			u := device.Uptime(time.Duration(uptime.Int64) * time.Millisecond)
			r.Reading.Timestamp = &u
		}
		r.RecordedAt = time.UnixMilli(recordedAt).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecordOTA stores an upload attempt and returns its row ID.
func (db *DB) RecordOTA(ctx context.Context, u Upload) (int64, error) {
	if u.FinishedAt.IsZero() {
		u.FinishedAt = time.Now().UTC()
	}
	if u.StartedAt.IsZero() {
		u.StartedAt = u.FinishedAt
	}
	res, err := db.ExecContext(ctx,
		`INSERT INTO ota_uploads (device, image_name, size_bytes, fingerprint, success, status, message, error, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.Device, u.ImageName, u.SizeBytes, u.Fingerprint, u.Success, u.Status, u.Message, u.Error,
		u.StartedAt.UnixMilli(), u.FinishedAt.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("store: insert upload: %w", err)
	}
	return res.LastInsertId()
}

// RecentOTA returns up to limit upload attempts, newest first.
func (db *DB) RecentOTA(ctx context.Context, limit int) ([]Upload, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, device, image_name, size_bytes, fingerprint, success, status, message, error, started_at, finished_at
		 FROM ota_uploads ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: query uploads: %w", err)
	}
	defer rows.Close()

	var out []Upload
	for rows.Next() {
		var (
			u                 Upload
			started, finished int64
		)
		if err := rows.Scan(&u.ID, &u.Device, &u.ImageName, &u.SizeBytes, &u.Fingerprint, &u.Success,
			&u.Status, &u.Message, &u.Error, &started, &finished); err != nil {
			return nil, fmt.Errorf("store: scan upload: %w", err)
		}
		u.StartedAt = time.UnixMilli(started).UTC()
		u.FinishedAt = time.UnixMilli(finished).UTC()
		out = append(out, u)
	}
	return out, rows.Err()
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}
