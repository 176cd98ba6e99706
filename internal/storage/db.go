// Package storage owns the SQLite schema and the one-transaction-per-tick
// write path. The logger holds the only writing connection; downstream
// tools read the same file through OpenReadOnly.
package storage

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/0xrushi/rpi-energy-logger/internal/collector"
)

const schema = `
CREATE TABLE IF NOT EXISTS system_sample (
	ts INTEGER PRIMARY KEY,
	voltage REAL,
	current REAL,
	power REAL,
	battery_pct REAL,
	cpu_total REAL NOT NULL,
	cpu_freq REAL NOT NULL,
	load1 REAL NOT NULL,
	load5 REAL NOT NULL,
	load15 REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS cpu_core (
	ts INTEGER NOT NULL,
	core INTEGER NOT NULL,
	usage REAL NOT NULL,
	PRIMARY KEY (ts, core),
	FOREIGN KEY (ts) REFERENCES system_sample(ts) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS process_sample (
	ts INTEGER NOT NULL,
	pid INTEGER NOT NULL,
	name TEXT NOT NULL,
	cpu REAL NOT NULL,
	mem REAL NOT NULL,
	PRIMARY KEY (ts, pid),
	FOREIGN KEY (ts) REFERENCES system_sample(ts) ON DELETE CASCADE
);
`

// training_view derives absolute watts and mutually exclusive drain/charge
// rates (mA/min) from the sign of current. Recreated on every open so view
// changes ship without a migration.
const viewSQL = `
DROP VIEW IF EXISTS training_view;
CREATE VIEW training_view AS
SELECT
	ts,
	cpu_total,
	cpu_freq,
	load1,
	load5,
	load15,
	voltage,
	current,
	power,
	battery_pct,
	ABS(power) AS watts,
	CASE
		WHEN current IS NULL THEN NULL
		WHEN current < 0 THEN (-current * 1000.0) / 60.0
		ELSE 0.0
	END AS drain_mah_per_min,
	CASE
		WHEN current IS NULL THEN NULL
		WHEN current > 0 THEN (current * 1000.0) / 60.0
		ELSE 0.0
	END AS charge_mah_per_min
FROM system_sample;
`

const dsnOptions = "?_foreign_keys=on&_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"

// DB wraps the telemetry store for the life of one logger run.
type DB struct {
	db     *sql.DB
	lastTS int64
	hasTS  bool
}

// Open opens or creates the store at path, applies the schema and any
// pending additive migration, and recreates the derived view. The returned
// DB uses a single connection with write access for the whole run.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+dsnOptions)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)

	// temp_store is not a DSN option in go-sqlite3.
	if _, err := db.Exec("PRAGMA temp_store=MEMORY"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set temp_store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(viewSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create view: %w", err)
	}

	d := &DB{db: db}
	// Seed the monotonic timestamp floor so restarts against the same store
	// never reuse a key.
	var last sql.NullInt64
	if err := db.QueryRow("SELECT MAX(ts) FROM system_sample").Scan(&last); err != nil {
		db.Close()
		return nil, fmt.Errorf("read last timestamp: %w", err)
	}
	if last.Valid {
		d.lastTS = last.Int64
		d.hasTS = true
	}
	return d, nil
}

// OpenReadOnly returns a read-only handle for downstream consumers. They
// tolerate lock waits up to the shared busy timeout and must never write.
func OpenReadOnly(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db read-only: %w", err)
	}
	return db, nil
}

// migrate adds columns introduced after the original schema. Additive only:
// existing rows are never dropped or rewritten.
func migrate(db *sql.DB) error {
	rows, err := db.Query("PRAGMA table_info(system_sample)")
	if err != nil {
		return fmt.Errorf("table_info: %w", err)
	}
	defer rows.Close()

	hasBatteryPct := false
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, typ        string
			dflt             sql.NullString
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return fmt.Errorf("scan table_info: %w", err)
		}
		if name == "battery_pct" {
			hasBatteryPct = true
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("table_info: %w", err)
	}
	if !hasBatteryPct {
		if _, err := db.Exec("ALTER TABLE system_sample ADD COLUMN battery_pct REAL"); err != nil {
			return fmt.Errorf("add battery_pct column: %w", err)
		}
	}
	return nil
}

// Close closes the store.
func (d *DB) Close() error {
	return d.db.Close()
}

// LastTimestamp returns the most recently committed timestamp, or false if
// the store is empty.
func (d *DB) LastTimestamp() (int64, bool) {
	return d.lastTS, d.hasTS
}

// AppendSample writes one full sample set in a single transaction: the
// system row, one row per core, and the ranked process rows. The proposed
// timestamp (wall-clock epoch seconds) is bumped to lastTS+1 if it is not
// strictly greater than the previous one, keeping the key sequence strictly
// increasing through same-second re-entry or clock steps. Returns the
// timestamp actually used. Any failure rolls the whole tick back.
func (d *DB) AppendSample(now int64, s *collector.Sample) (int64, error) {
	ts := now
	if d.hasTS && ts <= d.lastTS {
		ts = d.lastTS + 1
	}

	tx, err := d.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}

	b := s.Battery
	if _, err := tx.Exec(
		`INSERT INTO system_sample
		   (ts, voltage, current, power, battery_pct, cpu_total, cpu_freq, load1, load5, load15)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ts, b.Voltage, b.Current, b.Power, b.BatteryPct,
		s.CPUTotal, s.CPUFreq, s.Load1, s.Load5, s.Load15,
	); err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("insert system_sample: %w", err)
	}

	coreStmt, err := tx.Prepare("INSERT INTO cpu_core (ts, core, usage) VALUES (?, ?, ?)")
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("prepare cpu_core: %w", err)
	}
	defer coreStmt.Close()
	for core, usage := range s.CoreUsage {
		if _, err := coreStmt.Exec(ts, core, usage); err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("insert cpu_core %d: %w", core, err)
		}
	}

	if len(s.Processes) > 0 {
		procStmt, err := tx.Prepare("INSERT INTO process_sample (ts, pid, name, cpu, mem) VALUES (?, ?, ?, ?, ?)")
		if err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("prepare process_sample: %w", err)
		}
		defer procStmt.Close()
		for _, p := range s.Processes {
			if _, err := procStmt.Exec(ts, p.PID, p.Name, p.CPU, p.Mem); err != nil {
				tx.Rollback()
				return 0, fmt.Errorf("insert process_sample pid %d: %w", p.PID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit tick: %w", err)
	}
	d.lastTS = ts
	d.hasTS = true
	return ts, nil
}
