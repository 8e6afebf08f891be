// Package db stores probe history and diagnostics in SQLite
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/mscrnt/vidbridge/pkg/diag"
	"github.com/mscrnt/vidbridge/pkg/engine"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("not found")

// DB wraps the SQL database connection
type DB struct {
	conn *sql.DB
	path string
}

// Open creates or opens a SQLite database
func Open(path string) (*DB, error) {
	// Create directory if it doesn't exist
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{
		conn: conn,
		path: path,
	}

	if err := db.Migrate(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// Path returns the database file path
func (db *DB) Path() string {
	return db.path
}

// Migrate creates or updates the database schema
func (db *DB) Migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS probes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		cause TEXT NOT NULL,
		time DATETIME NOT NULL,
		status INTEGER DEFAULT 0,
		classified TEXT,
		applied TEXT,
		preset_id INTEGER,
		xres INTEGER DEFAULT 0,
		yres INTEGER DEFAULT 0,
		bpp_log2 INTEGER DEFAULT 0,
		pixel_clock_mhz INTEGER DEFAULT 0,
		frame_rate INTEGER,
		committed BOOLEAN DEFAULT 0,
		polls INTEGER DEFAULT 0,
		source TEXT,
		output TEXT,
		registers TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS diagnostics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		message TEXT NOT NULL,
		time DATETIME NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_probes_time ON probes(time);
	CREATE INDEX IF NOT EXISTS idx_probes_applied ON probes(applied);
	CREATE INDEX IF NOT EXISTS idx_probes_committed ON probes(committed);
	CREATE INDEX IF NOT EXISTS idx_diagnostics_kind ON diagnostics(kind);
	CREATE INDEX IF NOT EXISTS idx_diagnostics_time ON diagnostics(time);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// RecordOutcome implements engine.Recorder
func (db *DB) RecordOutcome(o engine.Outcome) error {
	_, err := db.CreateProbe(o)
	return err
}

// CreateProbe stores an engine outcome
func (db *DB) CreateProbe(o engine.Outcome) (*Probe, error) {
	p := &Probe{
		Trigger:   string(o.Trigger),
		Time:      o.Time,
		Status:    o.Status,
		Committed: o.Sync.Committed,
		Polls:     o.Sync.Polls,
		CreatedAt: time.Now(),
	}
	if p.Time.IsZero() {
		p.Time = p.CreatedAt
	}

	var err error
	if o.Trigger == engine.TriggerPreset {
		id := o.PresetID
		p.PresetID = &id
		p.XRes = o.Result.Output.XRes
		p.YRes = o.Result.Output.YRes
		p.BppLog2 = o.Result.Output.BppLog2
		p.PixelClockMHz = o.Result.Output.PixelClockMHz
	} else {
		p.Classified = o.Result.Classified.String()
		p.Applied = o.Result.Applied.String()
		p.XRes = o.Source.XRes
		p.YRes = o.Source.YRes
		p.BppLog2 = o.Source.BppLog2
		p.PixelClockMHz = o.Source.PixelClockMHz
		if hz, ok := o.Source.FrameRate(); ok {
			p.FrameRate = &hz
		}
		if p.Source, err = toJSONData(o.Source); err != nil {
			return nil, fmt.Errorf("failed to encode source timing: %w", err)
		}
	}
	if p.Output, err = toJSONData(o.Result.Output); err != nil {
		return nil, fmt.Errorf("failed to encode output timing: %w", err)
	}
	if p.Registers, err = toJSONData(o.Registers); err != nil {
		return nil, fmt.Errorf("failed to encode registers: %w", err)
	}

	result, err := db.conn.Exec(
		`INSERT INTO probes (cause, time, status, classified, applied, preset_id,
		 xres, yres, bpp_log2, pixel_clock_mhz, frame_rate, committed, polls,
		 source, output, registers, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Trigger, p.Time, p.Status, p.Classified, p.Applied, p.PresetID,
		p.XRes, p.YRes, p.BppLog2, p.PixelClockMHz, p.FrameRate, p.Committed, p.Polls,
		p.Source, p.Output, p.Registers, p.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create probe: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}
	p.ID = id
	return p, nil
}

const probeColumns = `id, cause, time, status, classified, applied, preset_id,
	xres, yres, bpp_log2, pixel_clock_mhz, frame_rate, committed, polls,
	source, output, registers, created_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanProbe(s scanner) (*Probe, error) {
	p := &Probe{}
	var classified, applied sql.NullString
	var presetID, frameRate sql.NullInt64
	err := s.Scan(
		&p.ID, &p.Trigger, &p.Time, &p.Status, &classified, &applied, &presetID,
		&p.XRes, &p.YRes, &p.BppLog2, &p.PixelClockMHz, &frameRate, &p.Committed, &p.Polls,
		&p.Source, &p.Output, &p.Registers, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Classified = classified.String
	p.Applied = applied.String
	if presetID.Valid {
		id := int(presetID.Int64)
		p.PresetID = &id
	}
	if frameRate.Valid {
		hz := uint32(frameRate.Int64)
		p.FrameRate = &hz
	}
	return p, nil
}

// GetProbe retrieves a probe by ID
func (db *DB) GetProbe(id int64) (*Probe, error) {
	p, err := scanProbe(db.conn.QueryRow(
		`SELECT `+probeColumns+` FROM probes WHERE id = ?`, id,
	))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("probe %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get probe: %w", err)
	}
	return p, nil
}

// ListProbes retrieves probes based on filters, newest first
func (db *DB) ListProbes(filter ProbeFilter) ([]*Probe, error) {
	query := `SELECT ` + probeColumns + ` FROM probes WHERE 1=1`
	args := []interface{}{}

	if filter.Trigger != "" {
		query += " AND cause = ?"
		args = append(args, filter.Trigger)
	}

	if filter.Applied != "" {
		query += " AND applied = ?"
		args = append(args, filter.Applied)
	}

	if filter.Since != nil {
		query += " AND time >= ?"
		args = append(args, filter.Since)
	}

	if filter.Until != nil {
		query += " AND time <= ?"
		args = append(args, filter.Until)
	}

	if filter.Failed != nil {
		query += " AND committed = ?"
		args = append(args, !*filter.Failed)
	}

	query += " ORDER BY time DESC, id DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)

		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list probes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var probes []*Probe
	for rows.Next() {
		p, err := scanProbe(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan probe: %w", err)
		}
		probes = append(probes, p)
	}

	return probes, rows.Err()
}

// CountByMode returns the number of probes per applied strategy
func (db *DB) CountByMode() (map[string]int, error) {
	rows, err := db.conn.Query(
		`SELECT applied, COUNT(*) FROM probes WHERE applied IS NOT NULL AND applied != '' GROUP BY applied`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count probes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int)
	for rows.Next() {
		var mode string
		var n int
		if err := rows.Scan(&mode, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[mode] = n
	}
	return counts, rows.Err()
}

// CreateDiagnostic stores a diagnostic event
func (db *DB) CreateDiagnostic(e diag.Event) (*Diagnostic, error) {
	d := &Diagnostic{
		Kind:      string(e.Kind),
		Message:   e.Message,
		Time:      e.Time,
		CreatedAt: time.Now(),
	}
	if d.Time.IsZero() {
		d.Time = d.CreatedAt
	}

	result, err := db.conn.Exec(
		`INSERT INTO diagnostics (kind, message, time, created_at) VALUES (?, ?, ?, ?)`,
		d.Kind, d.Message, d.Time, d.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create diagnostic: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}
	d.ID = id
	return d, nil
}

// ListDiagnostics retrieves diagnostics based on filters, newest first
func (db *DB) ListDiagnostics(filter DiagnosticFilter) ([]*Diagnostic, error) {
	query := `SELECT id, kind, message, time, created_at FROM diagnostics WHERE 1=1`
	args := []interface{}{}

	if filter.Kind != "" {
		query += " AND kind = ?"
		args = append(args, filter.Kind)
	}

	if filter.Since != nil {
		query += " AND time >= ?"
		args = append(args, filter.Since)
	}

	if filter.Until != nil {
		query += " AND time <= ?"
		args = append(args, filter.Until)
	}

	query += " ORDER BY time DESC, id DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)

		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list diagnostics: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var diags []*Diagnostic
	for rows.Next() {
		d := &Diagnostic{}
		if err := rows.Scan(&d.ID, &d.Kind, &d.Message, &d.Time, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan diagnostic: %w", err)
		}
		diags = append(diags, d)
	}

	return diags, rows.Err()
}

// Prune deletes probes and diagnostics older than before and returns the
// number of rows removed
func (db *DB) Prune(before time.Time) (int64, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		// Only rollback if we haven't committed
		_ = tx.Rollback()
	}()

	var total int64
	for _, table := range []string{"probes", "diagnostics"} {
		res, err := tx.Exec(`DELETE FROM `+table+` WHERE time < ?`, before)
		if err != nil {
			return 0, fmt.Errorf("failed to prune %s: %w", table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to count pruned %s: %w", table, err)
		}
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return total, nil
}

// Sink records diagnostics to a database. Failures are logged, not returned.
type Sink struct {
	DB     *DB
	Logger *log.Logger
}

// Report implements diag.Sink
func (s Sink) Report(e diag.Event) {
	if _, err := s.DB.CreateDiagnostic(e); err != nil && s.Logger != nil {
		s.Logger.Printf("Failed to record diagnostic: %v", err)
	}
}
