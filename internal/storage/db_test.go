package storage

import (
	"database/sql"
	"math"
	"path/filepath"
	"testing"

	"github.com/0xrushi/rpi-energy-logger/internal/collector"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Fatalf("Close() error = %v", err)
		}
	})

	return db
}

func f(v float64) *float64 { return &v }

func testSample() *collector.Sample {
	return &collector.Sample{
		Battery: collector.BatteryReading{
			Voltage:    f(5.0),
			Current:    f(-0.5),
			Power:      f(-2.5),
			BatteryPct: f(80),
		},
		CPUTotal:  25.0,
		CPUFreq:   1500,
		Load1:     0.5,
		Load5:     0.4,
		Load15:    0.3,
		CoreUsage: []float64{10, 20, 30, 40},
		Processes: []collector.ProcessSample{
			{PID: 1, Name: "init", CPU: 1.5, Mem: 0.2},
			{PID: 42, Name: "stress --cpu 1", CPU: 95.0, Mem: 1.1},
		},
	}
}

func TestAppendSample_RoundTrip(t *testing.T) {
	db := openTestDB(t)

	ts, err := db.AppendSample(1000, testSample())
	if err != nil {
		t.Fatalf("AppendSample() error = %v", err)
	}
	if ts != 1000 {
		t.Fatalf("AppendSample() ts = %d, want 1000", ts)
	}

	var (
		voltage, current, power, pct sql.NullFloat64
		cpuTotal, cpuFreq            float64
	)
	err = db.db.QueryRow(
		"SELECT voltage, current, power, battery_pct, cpu_total, cpu_freq FROM system_sample WHERE ts = ?", ts,
	).Scan(&voltage, &current, &power, &pct, &cpuTotal, &cpuFreq)
	if err != nil {
		t.Fatalf("query system_sample: %v", err)
	}
	if !voltage.Valid || voltage.Float64 != 5.0 || !current.Valid || current.Float64 != -0.5 {
		t.Fatalf("system row = v:%v c:%v, want 5.0/-0.5", voltage, current)
	}
	if cpuTotal != 25.0 || cpuFreq != 1500 {
		t.Fatalf("system row cpu = %v/%v, want 25/1500", cpuTotal, cpuFreq)
	}

	var coreRows int
	if err := db.db.QueryRow("SELECT COUNT(*) FROM cpu_core WHERE ts = ?", ts).Scan(&coreRows); err != nil {
		t.Fatalf("count cpu_core: %v", err)
	}
	if coreRows != 4 {
		t.Fatalf("cpu_core rows = %d, want one per detected core (4)", coreRows)
	}

	var procRows int
	if err := db.db.QueryRow("SELECT COUNT(*) FROM process_sample WHERE ts = ?", ts).Scan(&procRows); err != nil {
		t.Fatalf("count process_sample: %v", err)
	}
	if procRows != 2 {
		t.Fatalf("process_sample rows = %d, want 2", procRows)
	}
}

func TestAppendSample_NullBatteryFields(t *testing.T) {
	db := openTestDB(t)

	s := testSample()
	s.Battery = collector.BatteryReading{}
	ts, err := db.AppendSample(1000, s)
	if err != nil {
		t.Fatalf("AppendSample() error = %v", err)
	}

	var voltage, power sql.NullFloat64
	if err := db.db.QueryRow("SELECT voltage, power FROM system_sample WHERE ts = ?", ts).Scan(&voltage, &power); err != nil {
		t.Fatalf("query system_sample: %v", err)
	}
	if voltage.Valid || power.Valid {
		t.Fatalf("battery fields = %v/%v, want NULL", voltage, power)
	}
}

func TestAppendSample_TimestampsStrictlyIncrease(t *testing.T) {
	db := openTestDB(t)

	// Same second re-entry and a clock step backward both bump to last+1.
	for i, tc := range []struct {
		now  int64
		want int64
	}{
		{100, 100},
		{100, 101},
		{50, 102},
		{200, 200},
	} {
		ts, err := db.AppendSample(tc.now, testSample())
		if err != nil {
			t.Fatalf("AppendSample(#%d) error = %v", i, err)
		}
		if ts != tc.want {
			t.Fatalf("AppendSample(now=%d) ts = %d, want %d", tc.now, ts, tc.want)
		}
	}
}

func TestAppendSample_MonotonicAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if _, err := db.AppendSample(500, testSample()); err != nil {
		t.Fatalf("AppendSample() error = %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	db, err = Open(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer db.Close()

	if last, ok := db.LastTimestamp(); !ok || last != 500 {
		t.Fatalf("LastTimestamp() = %d,%v, want 500,true", last, ok)
	}
	ts, err := db.AppendSample(500, testSample())
	if err != nil {
		t.Fatalf("AppendSample() after reopen error = %v", err)
	}
	if ts != 501 {
		t.Fatalf("AppendSample() ts = %d, want 501 (bumped past stored max)", ts)
	}
}

func TestAppendSample_RollsBackWholeTick(t *testing.T) {
	db := openTestDB(t)

	s := testSample()
	// Duplicate pid violates the (ts, pid) primary key partway through the
	// transaction.
	s.Processes = append(s.Processes, collector.ProcessSample{PID: 42, Name: "dup", CPU: 1, Mem: 1})

	if _, err := db.AppendSample(1000, s); err == nil {
		t.Fatal("AppendSample() error = nil, want constraint violation")
	}

	for _, table := range []string{"system_sample", "cpu_core", "process_sample"} {
		var n int
		if err := db.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
			t.Fatalf("count %s: %v", table, err)
		}
		if n != 0 {
			t.Fatalf("%s has %d rows after rollback, want 0", table, n)
		}
	}

	// The failed timestamp was not consumed.
	ts, err := db.AppendSample(1000, testSample())
	if err != nil {
		t.Fatalf("AppendSample() after rollback error = %v", err)
	}
	if ts != 1000 {
		t.Fatalf("AppendSample() ts = %d, want 1000", ts)
	}
}

func TestOpen_MigratesStoreWithoutBatteryPct(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")

	// Build a store in the pre-battery_pct shape with one existing row.
	raw, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	_, err = raw.Exec(`
		CREATE TABLE system_sample (
			ts INTEGER PRIMARY KEY,
			voltage REAL, current REAL, power REAL,
			cpu_total REAL NOT NULL, cpu_freq REAL NOT NULL,
			load1 REAL NOT NULL, load5 REAL NOT NULL, load15 REAL NOT NULL
		);
		INSERT INTO system_sample VALUES (10, 5.0, -0.1, -0.5, 12.0, 700, 0.1, 0.2, 0.3);
	`)
	if err != nil {
		t.Fatalf("seed old schema: %v", err)
	}
	if err := raw.Close(); err != nil {
		t.Fatalf("close raw db: %v", err)
	}

	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open() on old store error = %v", err)
	}
	defer db.Close()

	// Existing row is untouched, new column reads NULL, view is queryable.
	var (
		voltage float64
		pct     sql.NullFloat64
		watts   sql.NullFloat64
	)
	err = db.db.QueryRow("SELECT voltage, battery_pct, watts FROM training_view WHERE ts = 10").Scan(&voltage, &pct, &watts)
	if err != nil {
		t.Fatalf("query view after migration: %v", err)
	}
	if voltage != 5.0 {
		t.Fatalf("voltage = %v, want 5.0 (row rewritten?)", voltage)
	}
	if pct.Valid {
		t.Fatalf("battery_pct = %v, want NULL for pre-migration row", pct)
	}
	if !watts.Valid || watts.Float64 != 0.5 {
		t.Fatalf("watts = %v, want 0.5", watts)
	}
}

func TestView_DrainFromNegativeCurrent(t *testing.T) {
	db := openTestDB(t)

	// power_now=0 case from the sysfs sensor: 5.0 V * -0.5 A = -2.5 W.
	if _, err := db.AppendSample(1000, testSample()); err != nil {
		t.Fatalf("AppendSample() error = %v", err)
	}

	var watts, drain, charge float64
	err := db.db.QueryRow(
		"SELECT watts, drain_mah_per_min, charge_mah_per_min FROM training_view WHERE ts = 1000",
	).Scan(&watts, &drain, &charge)
	if err != nil {
		t.Fatalf("query view: %v", err)
	}
	if watts != 2.5 {
		t.Fatalf("watts = %v, want 2.5", watts)
	}
	if math.Abs(drain-500.0/60.0) > 1e-9 {
		t.Fatalf("drain_mah_per_min = %v, want %v", drain, 500.0/60.0)
	}
	if charge != 0 {
		t.Fatalf("charge_mah_per_min = %v, want 0", charge)
	}
}

func TestView_ChargeFromPositiveCurrent(t *testing.T) {
	db := openTestDB(t)

	s := testSample()
	s.Battery.Current = f(0.3)
	s.Battery.Power = f(1.5)
	if _, err := db.AppendSample(1000, s); err != nil {
		t.Fatalf("AppendSample() error = %v", err)
	}

	var drain, charge float64
	err := db.db.QueryRow(
		"SELECT drain_mah_per_min, charge_mah_per_min FROM training_view WHERE ts = 1000",
	).Scan(&drain, &charge)
	if err != nil {
		t.Fatalf("query view: %v", err)
	}
	if drain != 0 {
		t.Fatalf("drain_mah_per_min = %v, want 0", drain)
	}
	if math.Abs(charge-300.0/60.0) > 1e-9 {
		t.Fatalf("charge_mah_per_min = %v, want 5", charge)
	}
}

func TestView_UnknownCurrentYieldsNullRates(t *testing.T) {
	db := openTestDB(t)

	s := testSample()
	s.Battery = collector.BatteryReading{}
	if _, err := db.AppendSample(1000, s); err != nil {
		t.Fatalf("AppendSample() error = %v", err)
	}

	var drain, charge sql.NullFloat64
	err := db.db.QueryRow(
		"SELECT drain_mah_per_min, charge_mah_per_min FROM training_view WHERE ts = 1000",
	).Scan(&drain, &charge)
	if err != nil {
		t.Fatalf("query view: %v", err)
	}
	if drain.Valid || charge.Valid {
		t.Fatalf("rates = %v/%v, want NULL/NULL for unknown current", drain, charge)
	}
}

func TestView_DrainAndChargeNeverBothNonzero(t *testing.T) {
	db := openTestDB(t)

	currents := []float64{-0.5, -0.01, 0, 0.01, 0.5}
	for i, c := range currents {
		s := testSample()
		s.Battery.Current = f(c)
		if _, err := db.AppendSample(int64(1000+i), s); err != nil {
			t.Fatalf("AppendSample(#%d) error = %v", i, err)
		}
	}

	var violations int
	err := db.db.QueryRow(
		"SELECT COUNT(*) FROM training_view WHERE drain_mah_per_min > 0 AND charge_mah_per_min > 0",
	).Scan(&violations)
	if err != nil {
		t.Fatalf("query view: %v", err)
	}
	if violations != 0 {
		t.Fatalf("%d rows have both drain and charge nonzero", violations)
	}
}
