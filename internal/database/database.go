package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"stationbook/internal/models"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

// DB represents the database connection and its venue cache.
type DB struct {
	*sql.DB
	venueCache map[string]models.Venue
	mu         sync.RWMutex
	logger     *zerolog.Logger
}

// Tx is a write transaction. Every method runs on the same connection.
type Tx struct {
	*sql.Tx
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// NewDB initializes a new database connection and creates tables if they don't exist.
func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// WAL, busy timeout and BEGIN IMMEDIATE so writers queue instead of failing on lock upgrade.
	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_txlock=immediate&_foreign_keys=on"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	instance := &DB{
		DB:         db,
		venueCache: make(map[string]models.Venue),
		logger:     logger,
	}

	if err := instance.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %v", err)
	}

	logger.Info().Str("path", path).Msg("Database initialized")
	return instance, nil
}

func (db *DB) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS venues (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			owner_id TEXT NOT NULL,
			address TEXT,
			opening_time TEXT,
			closing_time TEXT,
			timezone TEXT,
			staff_chat_id INTEGER NOT NULL DEFAULT 0,
			is_active BOOLEAN NOT NULL DEFAULT 1,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS station_groups (
			venue_id TEXT NOT NULL,
			room_name TEXT NOT NULL,
			station_type TEXT NOT NULL,
			price_per_hour TEXT NOT NULL,
			room_position INTEGER NOT NULL DEFAULT 0,
			group_position INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (venue_id, room_name, station_type),
			FOREIGN KEY (venue_id) REFERENCES venues(id)
		)`,
		`CREATE TABLE IF NOT EXISTS stations (
			venue_id TEXT NOT NULL,
			id TEXT NOT NULL,
			room_name TEXT NOT NULL,
			station_type TEXT NOT NULL,
			price_per_hour TEXT NOT NULL,
			position INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'available',
			active_reservation_id TEXT,
			session_started_at DATETIME,
			is_retired BOOLEAN NOT NULL DEFAULT 0,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (venue_id, id),
			FOREIGN KEY (venue_id) REFERENCES venues(id)
		)`,
		`CREATE TABLE IF NOT EXISTS reservations (
			id TEXT PRIMARY KEY,
			customer_id TEXT,
			walk_in_name TEXT,
			phone TEXT,
			venue_id TEXT NOT NULL,
			owner_id TEXT NOT NULL,
			booking_date TEXT NOT NULL,
			start_time TEXT NOT NULL,
			start_hour INTEGER NOT NULL,
			duration REAL NOT NULL,
			total_price TEXT NOT NULL,
			status TEXT NOT NULL,
			session_start_time DATETIME,
			calculated_end_time DATETIME,
			session_end_time DATETIME,
			extended_hours REAL NOT NULL DEFAULT 0,
			verification_code TEXT,
			permanently_cancelled BOOLEAN NOT NULL DEFAULT 0,
			cancelled_at DATETIME,
			payment_method TEXT,
			payment_status TEXT NOT NULL DEFAULT 'pending',
			is_paid BOOLEAN NOT NULL DEFAULT 0,
			payment_reference TEXT,
			friend_count INTEGER NOT NULL DEFAULT 0,
			reminder_sent BOOLEAN NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			version INTEGER NOT NULL DEFAULT 1,
			FOREIGN KEY (venue_id) REFERENCES venues(id)
		)`,
		`CREATE TABLE IF NOT EXISTS reservation_items (
			reservation_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			room_name TEXT NOT NULL,
			station_type TEXT NOT NULL,
			quantity INTEGER NOT NULL,
			price_per_hour TEXT NOT NULL,
			PRIMARY KEY (reservation_id, position),
			FOREIGN KEY (reservation_id) REFERENCES reservations(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS reservation_bindings (
			reservation_id TEXT NOT NULL,
			station_id TEXT NOT NULL,
			room_name TEXT NOT NULL,
			station_type TEXT NOT NULL,
			PRIMARY KEY (reservation_id, station_id),
			FOREIGN KEY (reservation_id) REFERENCES reservations(id) ON DELETE CASCADE
		)`,

		`CREATE INDEX IF NOT EXISTS idx_reservations_venue_date_status ON reservations(venue_id, booking_date, status)`,
		`CREATE INDEX IF NOT EXISTS idx_reservations_status ON reservations(status)`,
		`CREATE INDEX IF NOT EXISTS idx_reservations_customer ON reservations(customer_id)`,
		`CREATE INDEX IF NOT EXISTS idx_reservation_items_slot ON reservation_items(room_name, station_type)`,
		`CREATE INDEX IF NOT EXISTS idx_stations_active_reservation ON stations(venue_id, active_reservation_id)`,
		`CREATE INDEX IF NOT EXISTS idx_stations_room_type ON stations(venue_id, room_name, station_type, status)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %v", query, err)
		}
	}

	return db.ensureNewColumns()
}

// ensureNewColumns adds columns introduced after the first schema to existing databases.
func (db *DB) ensureNewColumns() error {
	migrations := []string{
		`ALTER TABLE reservations ADD COLUMN friend_count INTEGER NOT NULL DEFAULT 0`,
		`ALTER TABLE reservations ADD COLUMN reminder_sent BOOLEAN NOT NULL DEFAULT 0`,
		`ALTER TABLE stations ADD COLUMN is_retired BOOLEAN NOT NULL DEFAULT 0`,
	}

	for _, m := range migrations {
		_, err := db.Exec(m)
		if err != nil && !strings.Contains(strings.ToLower(err.Error()), "duplicate column") {
			if db.logger != nil {
				db.logger.Debug().Err(err).Str("migration", m).Msg("Migration skipped")
			}
		}
	}
	return nil
}

// WithTx runs fn in a write transaction and commits when fn returns nil.
func (db *DB) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(&Tx{Tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (db *DB) Close() error {
	return db.DB.Close()
}

func nullTime(t *time.Time) interface{} {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC()
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
