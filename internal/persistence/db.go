// Package persistence provides the SQLite-backed relational store.
// All multi-row writes that participate in an invariant run inside WithTx;
// transient busy/locked failures are retried with backoff before surfacing
// as STORE_UNAVAILABLE.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/havenworlds/haven-server/internal/apperr"
)

// Store wraps the SQLite connection.
type Store struct {
	conn *sqlx.DB
}

// Open opens or creates the database at the given DSN and runs migrations.
// Foreign keys are enabled per connection: the schema leans on ON DELETE
// CASCADE for world and settlement teardown.
func Open(dsn string) (*Store, error) {
	const pragmas = "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	switch {
	case dsn == ":memory:":
		dsn = "file::memory:?" + pragmas
	case !strings.Contains(dsn, "?"):
		dsn += "?" + pragmas + "&_pragma=journal_mode(WAL)"
	}
	conn, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// SQLite writes are single-threaded; one connection avoids lock storms.
	conn.SetMaxOpenConns(1)

	s := &Store{conn: conn}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if err := s.seedDefinitions(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("seed definitions: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

const (
	txRetries      = 3
	txBackoffStart = 50 * time.Millisecond
)

// WithTx runs fn inside a transaction, retrying transient SQLite contention
// with doubling backoff. Validation errors from fn are never retried.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	backoff := txBackoffStart
	var lastErr error

	for attempt := 0; attempt <= txRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		err := s.runTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return err
		}
		lastErr = err
		slog.Warn("transient store failure, retrying", "attempt", attempt+1, "error", err)
	}

	return apperr.Transient(apperr.CodeStoreUnavailable, "store unavailable after retries").Wrap(lastErr)
}

func (s *Store) runTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// isTransient detects SQLite contention errors worth retrying.
func isTransient(err error) bool {
	if err == nil || errors.Is(err, sql.ErrNoRows) {
		return false
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return ae.Kind == apperr.KindTransient
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		auth_token TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT 'MEMBER',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS profiles (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL UNIQUE REFERENCES accounts(id) ON DELETE CASCADE,
		username TEXT NOT NULL UNIQUE,
		avatar TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS servers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		hostname TEXT NOT NULL,
		port INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'OFFLINE',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE(hostname, port)
	);

	CREATE TABLE IF NOT EXISTS worlds (
		id TEXT PRIMARY KEY,
		server_id TEXT NOT NULL REFERENCES servers(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'generating',
		fail_reason TEXT NOT NULL DEFAULT '',
		seed INTEGER NOT NULL,
		width_regions INTEGER NOT NULL,
		height_regions INTEGER NOT NULL,
		noise_json TEXT NOT NULL,
		template TEXT NOT NULL,
		config_json TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS regions (
		id TEXT PRIMARY KEY,
		world_id TEXT NOT NULL REFERENCES worlds(id) ON DELETE CASCADE,
		x INTEGER NOT NULL,
		y INTEGER NOT NULL,
		elevation_json TEXT NOT NULL,
		precipitation_json TEXT NOT NULL,
		temperature_json TEXT NOT NULL,
		UNIQUE(world_id, x, y)
	);

	CREATE TABLE IF NOT EXISTS tiles (
		id TEXT PRIMARY KEY,
		region_id TEXT NOT NULL REFERENCES regions(id) ON DELETE CASCADE,
		world_id TEXT NOT NULL,
		x INTEGER NOT NULL,
		y INTEGER NOT NULL,
		type TEXT NOT NULL,
		elevation REAL NOT NULL,
		temperature REAL NOT NULL,
		precipitation REAL NOT NULL,
		quality_food REAL NOT NULL DEFAULT 0,
		quality_water REAL NOT NULL DEFAULT 0,
		quality_wood REAL NOT NULL DEFAULT 0,
		quality_stone REAL NOT NULL DEFAULT 0,
		quality_ore REAL NOT NULL DEFAULT 0,
		special_resource TEXT,
		plot_slots INTEGER NOT NULL DEFAULT 5,
		base_production_modifier REAL NOT NULL DEFAULT 1.0,
		settlement_id TEXT,
		biome INTEGER NOT NULL,
		UNIQUE(region_id, x, y)
	);
	CREATE INDEX IF NOT EXISTS idx_tiles_region ON tiles(region_id);
	CREATE INDEX IF NOT EXISTS idx_tiles_world ON tiles(world_id);

	CREATE TABLE IF NOT EXISTS settlements (
		id TEXT PRIMARY KEY,
		world_id TEXT NOT NULL REFERENCES worlds(id) ON DELETE CASCADE,
		profile_id TEXT NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
		tile_id TEXT NOT NULL UNIQUE REFERENCES tiles(id),
		name TEXT NOT NULL,
		tier INTEGER NOT NULL DEFAULT 1,
		resilience INTEGER NOT NULL DEFAULT 0,
		errored INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_settlements_world ON settlements(world_id);

	CREATE TABLE IF NOT EXISTS settlement_storage (
		settlement_id TEXT PRIMARY KEY REFERENCES settlements(id) ON DELETE CASCADE,
		food INTEGER NOT NULL DEFAULT 0 CHECK(food >= 0),
		water INTEGER NOT NULL DEFAULT 0 CHECK(water >= 0),
		wood INTEGER NOT NULL DEFAULT 0 CHECK(wood >= 0),
		stone INTEGER NOT NULL DEFAULT 0 CHECK(stone >= 0),
		ore INTEGER NOT NULL DEFAULT 0 CHECK(ore >= 0),
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS settlement_population (
		settlement_id TEXT PRIMARY KEY REFERENCES settlements(id) ON DELETE CASCADE,
		current INTEGER NOT NULL DEFAULT 0,
		happiness INTEGER NOT NULL DEFAULT 50,
		last_growth_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS structure_defs (
		subtype TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		category TEXT NOT NULL,
		tier INTEGER NOT NULL,
		max_level INTEGER NOT NULL,
		construction_secs INTEGER NOT NULL,
		population_required INTEGER NOT NULL,
		area_cost INTEGER NOT NULL,
		is_unique INTEGER NOT NULL,
		min_town_hall_level INTEGER NOT NULL,
		extracts TEXT NOT NULL DEFAULT '',
		requirements_json TEXT NOT NULL,
		prerequisites_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS settlement_structures (
		id TEXT PRIMARY KEY,
		settlement_id TEXT NOT NULL REFERENCES settlements(id) ON DELETE CASCADE,
		subtype TEXT NOT NULL,
		level INTEGER NOT NULL DEFAULT 1,
		health REAL NOT NULL DEFAULT 100,
		population_assigned INTEGER NOT NULL DEFAULT 0,
		tile_id TEXT,
		slot_position INTEGER,
		damaged_at TIMESTAMP,
		repaired_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_structures_settlement ON settlement_structures(settlement_id);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_structures_tile_slot
		ON settlement_structures(tile_id, slot_position)
		WHERE tile_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS settlement_modifiers (
		settlement_id TEXT NOT NULL REFERENCES settlements(id) ON DELETE CASCADE,
		modifier_type TEXT NOT NULL,
		total_value REAL NOT NULL,
		source_count INTEGER NOT NULL,
		contributions_json TEXT NOT NULL,
		last_calculated_at TIMESTAMP NOT NULL,
		PRIMARY KEY(settlement_id, modifier_type)
	);

	CREATE TABLE IF NOT EXISTS construction_queue (
		id TEXT PRIMARY KEY,
		settlement_id TEXT NOT NULL REFERENCES settlements(id) ON DELETE CASCADE,
		subtype TEXT NOT NULL,
		tile_id TEXT,
		slot_position INTEGER,
		cost_json TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'QUEUED',
		position INTEGER NOT NULL,
		is_emergency INTEGER NOT NULL DEFAULT 0,
		started_at TIMESTAMP,
		completes_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_queue_settlement ON construction_queue(settlement_id);

	CREATE TABLE IF NOT EXISTS disaster_events (
		id TEXT PRIMARY KEY,
		world_id TEXT NOT NULL REFERENCES worlds(id) ON DELETE CASCADE,
		type TEXT NOT NULL,
		severity REAL NOT NULL,
		severity_level TEXT NOT NULL,
		region_id TEXT,
		biomes_json TEXT NOT NULL DEFAULT '[]',
		scheduled_at TIMESTAMP NOT NULL,
		warning_secs INTEGER NOT NULL,
		impact_secs INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'SCHEDULED',
		warning_at TIMESTAMP,
		impact_started_at TIMESTAMP,
		impact_ended_at TIMESTAMP,
		resolved_at TIMESTAMP,
		imminent_issued INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_disasters_world ON disaster_events(world_id, status);

	CREATE TABLE IF NOT EXISTS disaster_history (
		id TEXT PRIMARY KEY,
		settlement_id TEXT NOT NULL REFERENCES settlements(id) ON DELETE CASCADE,
		disaster_id TEXT NOT NULL REFERENCES disaster_events(id) ON DELETE CASCADE,
		casualties INTEGER NOT NULL DEFAULT 0,
		structures_damaged INTEGER NOT NULL DEFAULT 0,
		structures_destroyed INTEGER NOT NULL DEFAULT 0,
		resources_lost_json TEXT NOT NULL DEFAULT '{}',
		resilience_gained INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		UNIQUE(settlement_id, disaster_id)
	);
	`
	_, err := s.conn.Exec(schema)
	return err
}
