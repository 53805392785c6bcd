package recorder

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"smart-tank-dashboard/backend/internal/device"
	"smart-tank-dashboard/backend/pkg/dialect"
	"smart-tank-dashboard/backend/pkg/utils"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// Store persists telemetry samples and status messages.
type Store struct {
	db      *sql.DB
	dialect dialect.Dialect
	l       *slog.Logger
}

// Open connects to an already migrated database.
func Open(ctx context.Context, l *slog.Logger, d dialect.Dialect, connString string) (*Store, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open(d.Driver(), connString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if d == dialect.SQLite {
		// single writer, avoids SQLITE_BUSY between the worker and API reads
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		utils.LogOnError(l, db.Close, "failed to close database")
		return nil, fmt.Errorf("database unreachable: %w", err)
	}

	return &Store{db: db, dialect: d, l: l.With(slog.String("component", "recorder-store"))}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InsertSamples stores samples of one device in a single transaction.
func (s *Store) InsertSamples(ctx context.Context, deviceName string, samples []device.ChannelSample) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, s.dialect.Rebind(
		`INSERT INTO telemetry_samples (id, device_name, channel, value, recorded_at) VALUES (?, ?, ?, ?, ?)`,
	))
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer utils.LogOnError(s.l, stmt.Close, "failed to close statement")

	for _, smp := range samples {
		if _, err := stmt.ExecContext(ctx, utils.NewUUID(), deviceName, string(smp.Channel), smp.Value, smp.Timestamp.UTC()); err != nil {
			return fmt.Errorf("failed to insert sample: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit samples: %w", err)
	}

	return nil
}

func (s *Store) InsertStatus(ctx context.Context, deviceName string, msg device.StatusMessage) error {
	_, err := s.db.ExecContext(ctx, s.dialect.Rebind(
		`INSERT INTO status_messages (id, device_name, status_code, message, received_at) VALUES (?, ?, ?, ?, ?)`,
	), utils.NewUUID(), deviceName, msg.StatusCode, msg.Text, msg.ReceivedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert status: %w", err)
	}

	return nil
}

// History returns up to limit samples of channel, newest first.
func (s *Store) History(ctx context.Context, deviceName string, channel device.Channel, limit int) ([]device.Sample, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(
		`SELECT value, recorded_at FROM telemetry_samples
		WHERE device_name = ? AND channel = ?
		ORDER BY recorded_at DESC, id DESC
		LIMIT ?`,
	), deviceName, string(channel), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer utils.LogOnError(s.l, rows.Close, "failed to close history rows")

	samples := []device.Sample{}
	for rows.Next() {
		var (
			value float64
			at    time.Time
		)
		if err := rows.Scan(&value, &at); err != nil {
			return nil, fmt.Errorf("failed to scan sample: %w", err)
		}
		samples = append(samples, device.Sample{Timestamp: at, Value: value})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate history: %w", err)
	}

	return samples, nil
}

// Statuses returns up to limit status messages, newest first.
func (s *Store) Statuses(ctx context.Context, deviceName string, limit int) ([]device.StatusMessage, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(
		`SELECT status_code, message, received_at FROM status_messages
		WHERE device_name = ?
		ORDER BY received_at DESC, id DESC
		LIMIT ?`,
	), deviceName, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query statuses: %w", err)
	}
	defer utils.LogOnError(s.l, rows.Close, "failed to close status rows")

	statuses := []device.StatusMessage{}
	for rows.Next() {
		var msg device.StatusMessage
		if err := rows.Scan(&msg.StatusCode, &msg.Text, &msg.ReceivedAt); err != nil {
			return nil, fmt.Errorf("failed to scan status: %w", err)
		}
		statuses = append(statuses, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate statuses: %w", err)
	}

	return statuses, nil
}
