package export

import (
	"bytes"
	"database/sql"
	"encoding/csv"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/0xrushi/rpi-energy-logger/internal/collector"
	"github.com/0xrushi/rpi-energy-logger/internal/storage"
)

func f(v float64) *float64 { return &v }

// seedStore writes ten ticks, the last of which has no power reading and
// must be excluded from the export.
func seedStore(t *testing.T) *sql.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	db, err := storage.Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	for i := 0; i < 10; i++ {
		s := &collector.Sample{
			Battery: collector.BatteryReading{
				Voltage: f(5.0),
				Current: f(-0.4),
				Power:   f(-2.0),
			},
			CPUTotal:  float64(10 + i),
			CPUFreq:   1200,
			CoreUsage: []float64{10, 20},
			Processes: []collector.ProcessSample{
				{PID: 42, Name: "stress", CPU: 50, Mem: 2.0},
				{PID: 43, Name: "worker", CPU: 10, Mem: 1.0},
			},
		}
		if i == 9 {
			s.Battery = collector.BatteryReading{}
		}
		if _, err := db.AppendSample(int64(1000+i*5), s); err != nil {
			t.Fatalf("AppendSample(#%d) error = %v", i, err)
		}
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	ro, err := storage.OpenReadOnly(path)
	if err != nil {
		t.Fatalf("OpenReadOnly() error = %v", err)
	}
	t.Cleanup(func() { ro.Close() })
	return ro
}

func readCSV(t *testing.T, buf *bytes.Buffer) [][]string {
	t.Helper()

	records, err := csv.NewReader(buf).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	return records
}

func TestFeatures_BaseExport(t *testing.T) {
	db := seedStore(t)

	var buf bytes.Buffer
	n, err := Features(db, &buf, nil)
	if err != nil {
		t.Fatalf("Features() error = %v", err)
	}
	if n != 9 {
		t.Fatalf("Features() rows = %d, want 9 (null-watts tick excluded)", n)
	}

	records := readCSV(t, &buf)
	if len(records) != 10 {
		t.Fatalf("csv has %d records, want header + 9 rows", len(records))
	}
	if !reflect.DeepEqual(records[0], Columns(nil)) {
		t.Fatalf("header = %v, want %v", records[0], Columns(nil))
	}

	// First data row: ts, cpu_total, watts, process aggregates.
	row := records[1]
	if row[0] != "1000" {
		t.Fatalf("first row ts = %q, want 1000", row[0])
	}
	if row[9] != "2" { // watts = ABS(-2.0)
		t.Fatalf("first row watts = %q, want 2", row[9])
	}
	if row[12] != "60" || row[15] != "2" { // total_proc_cpu, num_procs
		t.Fatalf("proc aggregates = %q/%q, want 60/2", row[12], row[15])
	}
}

func TestFeatures_LagColumnsAndWarmupRows(t *testing.T) {
	db := seedStore(t)

	var buf bytes.Buffer
	n, err := Features(db, &buf, []int{1, 2})
	if err != nil {
		t.Fatalf("Features() error = %v", err)
	}
	// 9 exportable rows minus 2 warmup rows without lag-2 history.
	if n != 7 {
		t.Fatalf("Features() rows = %d, want 7", n)
	}

	records := readCSV(t, &buf)
	if !reflect.DeepEqual(records[0], Columns([]int{1, 2})) {
		t.Fatalf("header = %v, want %v", records[0], Columns([]int{1, 2}))
	}
	lagIdx := len(Columns(nil)) // first lag column
	if records[0][lagIdx] != "watts_lag1" {
		t.Fatalf("lag column header = %q, want watts_lag1", records[0][lagIdx])
	}
	for i, row := range records[1:] {
		if row[lagIdx] == "" {
			t.Fatalf("row %d has empty watts_lag1, warmup rows not dropped", i)
		}
	}
}

func TestFeatures_EmptyStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.db")
	db, err := storage.Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	ro, err := storage.OpenReadOnly(path)
	if err != nil {
		t.Fatalf("OpenReadOnly() error = %v", err)
	}
	defer ro.Close()

	var buf bytes.Buffer
	n, err := Features(ro, &buf, nil)
	if err != nil {
		t.Fatalf("Features() error = %v", err)
	}
	if n != 0 {
		t.Fatalf("Features() rows = %d, want 0", n)
	}
	records := readCSV(t, &buf)
	if len(records) != 1 {
		t.Fatalf("csv has %d records, want header only", len(records))
	}
}
