// Package persistence provides SQLite-based colony telemetry storage: runs,
// the event log, and periodic stockpile and worker snapshots.
package persistence

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/mini-colony/internal/engine"
	"github.com/talgya/mini-colony/internal/world"
)

// DB wraps a SQLite connection for telemetry persistence.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path. ":memory:"
// gives a private in-memory database.
func Open(path string) (*DB, error) {
	dsn := path
	if path != ":memory:" {
		dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	conn, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One connection: SQLite has a single writer, and each in-memory
	// connection would otherwise see its own empty database.
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		seed INTEGER NOT NULL,
		width INTEGER NOT NULL,
		height INTEGER NOT NULL,
		config_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		tick INTEGER NOT NULL,
		sim_time REAL NOT NULL,
		category TEXT NOT NULL,
		description TEXT NOT NULL,
		worker_id INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS stock_snapshots (
		run_id TEXT NOT NULL,
		tick INTEGER NOT NULL,
		kind TEXT NOT NULL,
		stored INTEGER NOT NULL,
		extracted INTEGER NOT NULL,
		delivered INTEGER NOT NULL,
		remaining INTEGER NOT NULL,
		PRIMARY KEY (run_id, tick, kind)
	);

	CREATE TABLE IF NOT EXISTS worker_snapshots (
		run_id TEXT NOT NULL,
		tick INTEGER NOT NULL,
		worker_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		state TEXT NOT NULL,
		cell_x INTEGER NOT NULL,
		cell_y INTEGER NOT NULL,
		cargo_json TEXT NOT NULL,
		PRIMARY KEY (run_id, tick, worker_id)
	);

	CREATE TABLE IF NOT EXISTS colony_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_run_tick ON events(run_id, tick);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// Run identifies one simulation process lifetime.
type Run struct {
	ID         string `db:"id" json:"id"`
	StartedAt  string `db:"started_at" json:"started_at"`
	Seed       int64  `db:"seed" json:"seed"`
	Width      int    `db:"width" json:"width"`
	Height     int    `db:"height" json:"height"`
	ConfigJSON string `db:"config_json" json:"-"`
}

// StartRun registers a new run under a fresh UUID. cfg is stored as JSON
// for later inspection.
func (db *DB) StartRun(seed int64, width, height int, cfg any) (Run, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return Run{}, fmt.Errorf("encode run config: %w", err)
	}
	run := Run{
		ID:         uuid.NewString(),
		StartedAt:  time.Now().UTC().Format(time.RFC3339),
		Seed:       seed,
		Width:      width,
		Height:     height,
		ConfigJSON: string(raw),
	}
	_, err = db.conn.NamedExec(`INSERT INTO runs (id, started_at, seed, width, height, config_json)
		VALUES (:id, :started_at, :seed, :width, :height, :config_json)`, run)
	if err != nil {
		return Run{}, fmt.Errorf("insert run: %w", err)
	}
	if err := db.SaveMeta("last_run", run.ID); err != nil {
		return Run{}, fmt.Errorf("save meta: %w", err)
	}
	return run, nil
}

// Runs lists runs, newest first.
func (db *DB) Runs() ([]Run, error) {
	var runs []Run
	err := db.conn.Select(&runs, "SELECT * FROM runs ORDER BY started_at DESC, rowid DESC")
	return runs, err
}

// SaveEvents appends events to the run's log.
func (db *DB) SaveEvents(runID string, events []engine.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Preparex(`INSERT INTO events
		(run_id, tick, sim_time, category, description, worker_id)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range events {
		if _, err := stmt.Exec(runID, e.Tick, e.Time, e.Category, e.Description, e.Worker); err != nil {
			return fmt.Errorf("insert event at tick %d: %w", e.Tick, err)
		}
	}

	return tx.Commit()
}

type eventRow struct {
	Tick        uint64  `db:"tick"`
	SimTime     float64 `db:"sim_time"`
	Category    string  `db:"category"`
	Description string  `db:"description"`
	WorkerID    uint64  `db:"worker_id"`
}

// RecentEvents returns the most recent limit events of a run, newest first.
func (db *DB) RecentEvents(runID string, limit int) ([]engine.Event, error) {
	var rows []eventRow
	err := db.conn.Select(&rows,
		`SELECT tick, sim_time, category, description, worker_id FROM events
		 WHERE run_id = ? ORDER BY id DESC LIMIT ?`,
		runID, limit,
	)
	if err != nil {
		return nil, err
	}
	out := make([]engine.Event, len(rows))
	for i, r := range rows {
		out[i] = engine.Event{
			Tick:        r.Tick,
			Time:        r.SimTime,
			Category:    r.Category,
			Description: r.Description,
			Worker:      world.WorkerID(r.WorkerID),
		}
	}
	return out, nil
}

// StockRow is one kind's totals at a snapshot tick.
type StockRow struct {
	Tick      uint64 `db:"tick" json:"tick"`
	Kind      string `db:"kind" json:"kind"`
	Stored    int    `db:"stored" json:"stored"`
	Extracted int    `db:"extracted" json:"extracted"`
	Delivered int    `db:"delivered" json:"delivered"`
	Remaining int    `db:"remaining" json:"remaining"`
}

// SaveSnapshot writes per-kind stock totals and every worker's state for
// one tick. Paths and reservations are not stored.
func (db *DB) SaveSnapshot(runID string, snap engine.Snapshot) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	st := snap.Stats
	for _, k := range world.AllKinds() {
		_, err := tx.Exec(`INSERT OR REPLACE INTO stock_snapshots
			(run_id, tick, kind, stored, extracted, delivered, remaining)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			runID, snap.Tick, k.String(), snap.Stockpile[k.String()],
			st.Extracted[k], st.Delivered[k], st.Remaining[k],
		)
		if err != nil {
			return fmt.Errorf("insert stock %s: %w", k, err)
		}
	}

	for _, w := range snap.Workers {
		cargoJSON, _ := json.Marshal(w.Cargo)
		_, err := tx.Exec(`INSERT OR REPLACE INTO worker_snapshots
			(run_id, tick, worker_id, name, state, cell_x, cell_y, cargo_json)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, snap.Tick, w.ID, w.Name, w.State.String(), w.Cell.X, w.Cell.Y, string(cargoJSON),
		)
		if err != nil {
			return fmt.Errorf("insert worker %d: %w", w.ID, err)
		}
	}

	return tx.Commit()
}

// StockHistory returns one kind's snapshots for a run in tick order.
func (db *DB) StockHistory(runID string, kind world.Kind) ([]StockRow, error) {
	var rows []StockRow
	err := db.conn.Select(&rows,
		`SELECT tick, kind, stored, extracted, delivered, remaining FROM stock_snapshots
		 WHERE run_id = ? AND kind = ? ORDER BY tick`,
		runID, kind.String(),
	)
	return rows, err
}

// WorkerRow is one worker's persisted state at a snapshot tick.
type WorkerRow struct {
	Tick      uint64 `db:"tick" json:"tick"`
	WorkerID  uint64 `db:"worker_id" json:"worker_id"`
	Name      string `db:"name" json:"name"`
	State     string `db:"state" json:"state"`
	CellX     int    `db:"cell_x" json:"cell_x"`
	CellY     int    `db:"cell_y" json:"cell_y"`
	CargoJSON string `db:"cargo_json" json:"cargo"`
}

// WorkersAt returns the worker rows saved at tick.
func (db *DB) WorkersAt(runID string, tick uint64) ([]WorkerRow, error) {
	var rows []WorkerRow
	err := db.conn.Select(&rows,
		`SELECT tick, worker_id, name, state, cell_x, cell_y, cargo_json FROM worker_snapshots
		 WHERE run_id = ? AND tick = ? ORDER BY worker_id`,
		runID, tick,
	)
	return rows, err
}

// SaveMeta stores a key-value pair in colony metadata.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO colony_meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM colony_meta WHERE key = ?", key)
	return value, err
}

// SaveRunState flushes pending events and a snapshot of sim, then records
// the tick reached.
func (db *DB) SaveRunState(runID string, sim *engine.Simulation) error {
	events := sim.DrainEvents()
	snap := sim.Snapshot()

	if err := db.SaveEvents(runID, events); err != nil {
		return fmt.Errorf("save events: %w", err)
	}
	if err := db.SaveSnapshot(runID, snap); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	if err := db.SaveMeta("last_tick", strconv.FormatUint(snap.Tick, 10)); err != nil {
		return fmt.Errorf("save meta: %w", err)
	}

	slog.Debug("run state saved", "run", runID, "tick", snap.Tick, "events", len(events))
	return nil
}
