// Package export writes the ML feature matrix: training_view joined with
// per-tick process aggregates, optionally with lagged columns for
// time-series models. Read-only over the persisted schema.
package export

import (
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

const baseQuery = `
WITH proc_agg AS (
  SELECT ts,
    SUM(cpu) AS total_proc_cpu,
    MAX(cpu) AS max_proc_cpu,
    SUM(mem) AS total_proc_mem,
    COUNT(*) AS num_procs
  FROM process_sample
  GROUP BY ts
)
SELECT
  t.ts,
  t.cpu_total,
  t.cpu_freq,
  t.load1, t.load5, t.load15,
  t.battery_pct,
  t.voltage,
  t.current,
  t.watts,
  t.drain_mah_per_min,
  t.charge_mah_per_min,
  COALESCE(p.total_proc_cpu, 0) AS total_proc_cpu,
  COALESCE(p.max_proc_cpu, 0) AS max_proc_cpu,
  COALESCE(p.total_proc_mem, 0) AS total_proc_mem,
  COALESCE(p.num_procs, 0) AS num_procs
FROM training_view t
LEFT JOIN proc_agg p ON p.ts = t.ts
WHERE t.watts IS NOT NULL
ORDER BY t.ts`

// Features writes the feature matrix as CSV. lagPeriods, when non-empty,
// adds watts and cpu_total columns lagged by each period (in samples) and
// drops the leading rows where the largest lag has no history. Returns the
// number of data rows written.
func Features(db *sql.DB, w io.Writer, lagPeriods []int) (int, error) {
	query := baseQuery
	if len(lagPeriods) > 0 {
		query = withLags(lagPeriods)
	}

	rows, err := db.Query(query)
	if err != nil {
		return 0, fmt.Errorf("query features: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return 0, fmt.Errorf("read columns: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}

	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	record := make([]string, len(columns))

	count := 0
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return count, fmt.Errorf("scan row: %w", err)
		}
		for i, v := range values {
			record[i] = formatValue(v)
		}
		if err := cw.Write(record); err != nil {
			return count, fmt.Errorf("write row: %w", err)
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return count, fmt.Errorf("iterate rows: %w", err)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return count, fmt.Errorf("flush csv: %w", err)
	}
	return count, nil
}

// Columns returns the header the export will produce for the given lag
// configuration.
func Columns(lagPeriods []int) []string {
	cols := []string{
		"ts", "cpu_total", "cpu_freq", "load1", "load5", "load15",
		"battery_pct", "voltage", "current", "watts",
		"drain_mah_per_min", "charge_mah_per_min",
		"total_proc_cpu", "max_proc_cpu", "total_proc_mem", "num_procs",
	}
	for _, p := range lagPeriods {
		cols = append(cols, fmt.Sprintf("watts_lag%d", p), fmt.Sprintf("cpu_total_lag%d", p))
	}
	return cols
}

// withLags wraps the base query with LAG window columns. Lags are computed
// in an intermediate CTE because window functions may not appear in a WHERE
// clause. Periods are integers formatted directly into the SQL;
// placeholders cannot parameterize window frames.
func withLags(periods []int) string {
	query := "WITH base AS (" + baseQuery + "),\nlagged AS (\nSELECT base.*"
	maxLag := periods[0]
	for _, p := range periods {
		if p > maxLag {
			maxLag = p
		}
		query += fmt.Sprintf(",\n  LAG(watts, %d) OVER (ORDER BY ts) AS watts_lag%d", p, p)
		query += fmt.Sprintf(",\n  LAG(cpu_total, %d) OVER (ORDER BY ts) AS cpu_total_lag%d", p, p)
	}
	// Drop the warmup rows that have no history at the largest lag.
	query += fmt.Sprintf("\nFROM base\n)\nSELECT * FROM lagged WHERE watts_lag%d IS NOT NULL", maxLag)
	return query
}

// formatValue renders one SQLite value for CSV output. NULL becomes an
// empty field.
func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case []byte:
		return string(x)
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}
