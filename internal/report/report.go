// Package report generates the battery-analysis summary from a telemetry
// store. It is a read-only consumer of the persisted schema: plain SQL
// aggregation over training_view and process_sample, printed as text.
package report

import (
	"database/sql"
	"fmt"
	"io"
	"strings"
	"time"
)

// Assumed pack size for the battery-life estimate.
const batteryCapacityMAh = 5000

// Analyze prints a battery report for the store behind db. hours limits the
// analysis to the trailing window ending at the newest sample; 0 means all
// data.
func Analyze(db *sql.DB, hours int, w io.Writer) error {
	filter := "WHERE watts IS NOT NULL"
	args := []any{}
	period := "all data"
	if hours > 0 {
		var cutoff sql.NullInt64
		err := db.QueryRow("SELECT MAX(ts) - ? FROM system_sample", hours*3600).Scan(&cutoff)
		if err != nil {
			return fmt.Errorf("compute cutoff: %w", err)
		}
		if cutoff.Valid {
			filter += " AND ts >= ?"
			args = append(args, cutoff.Int64)
		}
		period = fmt.Sprintf("last %d hours", hours)
	}

	var (
		count                  int64
		startTS, endTS         sql.NullInt64
		avgW, minW, maxW       sql.NullFloat64
		avgDrain               sql.NullFloat64
		avgPct, minPct, maxPct sql.NullFloat64
	)
	err := db.QueryRow(`
		SELECT COUNT(*), MIN(ts), MAX(ts),
		       AVG(watts), MIN(watts), MAX(watts),
		       AVG(drain_mah_per_min),
		       AVG(battery_pct), MIN(battery_pct), MAX(battery_pct)
		FROM training_view `+filter, args...,
	).Scan(&count, &startTS, &endTS, &avgW, &minW, &maxW, &avgDrain, &avgPct, &minPct, &maxPct)
	if err != nil {
		return fmt.Errorf("query stats: %w", err)
	}
	if count == 0 {
		fmt.Fprintf(w, "No battery data found for %s\n", period)
		return nil
	}

	durationH := float64(endTS.Int64-startTS.Int64) / 3600

	rule := strings.Repeat("=", 70)
	sep := strings.Repeat("-", 70)
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "BATTERY ANALYSIS REPORT")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "\nPeriod: %s\n", period)
	fmt.Fprintf(w, "Start: %s\n", time.Unix(startTS.Int64, 0).Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "End:   %s\n", time.Unix(endTS.Int64, 0).Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Duration: %.2f hours (%d samples)\n", durationH, count)

	fmt.Fprintf(w, "\n%s\nPOWER CONSUMPTION\n%s\n", sep, sep)
	fmt.Fprintf(w, "Average power: %.2f W\n", avgW.Float64)
	fmt.Fprintf(w, "Min power:     %.2f W\n", minW.Float64)
	fmt.Fprintf(w, "Max power:     %.2f W\n", maxW.Float64)
	if avgDrain.Valid {
		fmt.Fprintf(w, "Average drain: %.2f mAh/min\n", avgDrain.Float64)
		fmt.Fprintf(w, "Hourly drain:  %.2f mAh/hour\n", avgDrain.Float64*60)
	}

	if avgPct.Valid {
		fmt.Fprintf(w, "\n%s\nBATTERY LEVEL\n%s\n", sep, sep)
		fmt.Fprintf(w, "Average:  %.1f%%\n", avgPct.Float64)
		fmt.Fprintf(w, "Min:      %.1f%%\n", minPct.Float64)
		fmt.Fprintf(w, "Max:      %.1f%%\n", maxPct.Float64)
		change := maxPct.Float64 - minPct.Float64
		if durationH > 0 {
			fmt.Fprintf(w, "Change:   %.1f%% (%.2f%%/hour)\n", change, change/durationH)
		}
	}

	if avgDrain.Valid && avgDrain.Float64 > 0 {
		lifeMin := batteryCapacityMAh / avgDrain.Float64
		fmt.Fprintf(w, "\n%s\nESTIMATED BATTERY LIFE (assuming %d mAh capacity)\n%s\n", sep, batteryCapacityMAh, sep)
		fmt.Fprintf(w, "At current avg drain: %.2f hours (%.0f minutes)\n", lifeMin/60, lifeMin)
	}

	if err := loadBreakdown(db, filter, args, w, sep); err != nil {
		return err
	}
	if err := topProcesses(db, filter, args, w, sep); err != nil {
		return err
	}

	fmt.Fprintf(w, "\n%s\n", rule)
	return nil
}

// loadBreakdown buckets samples by aggregate CPU load and averages power
// within each bucket.
func loadBreakdown(db *sql.DB, filter string, args []any, w io.Writer, sep string) error {
	rows, err := db.Query(`
		SELECT
			CASE
				WHEN cpu_total < 10 THEN 'Idle (<10%)'
				WHEN cpu_total < 30 THEN 'Light (10-30%)'
				WHEN cpu_total < 60 THEN 'Medium (30-60%)'
				WHEN cpu_total < 80 THEN 'High (60-80%)'
				ELSE 'Very High (>80%)'
			END AS load_category,
			COUNT(*) AS samples,
			AVG(watts) AS avg_watts,
			AVG(cpu_total) AS avg_cpu
		FROM training_view `+filter+`
		GROUP BY load_category
		ORDER BY avg_cpu`, args...)
	if err != nil {
		return fmt.Errorf("query load breakdown: %w", err)
	}
	defer rows.Close()

	fmt.Fprintf(w, "\n%s\nPOWER BY LOAD CATEGORY\n%s\n", sep, sep)
	fmt.Fprintf(w, "%-20s %-10s %-12s %-10s\n", "Category", "Samples", "Avg Watts", "Avg CPU")
	fmt.Fprintln(w, sep)
	for rows.Next() {
		var (
			category         string
			samples          int64
			avgWatts, avgCPU float64
		)
		if err := rows.Scan(&category, &samples, &avgWatts, &avgCPU); err != nil {
			return fmt.Errorf("scan load breakdown: %w", err)
		}
		fmt.Fprintf(w, "%-20s %-10d %10.2f W  %8.1f%%\n", category, samples, avgWatts, avgCPU)
	}
	return rows.Err()
}

// topProcesses lists the processes most often present while power draw was
// high. Processes seen in five or fewer ticks are noise and skipped.
func topProcesses(db *sql.DB, filter string, args []any, w io.Writer, sep string) error {
	rows, err := db.Query(`
		SELECT p.name,
			COUNT(*) AS appearances,
			AVG(s.watts) AS avg_watts,
			AVG(p.cpu) AS avg_cpu
		FROM process_sample p
		JOIN (SELECT ts, watts FROM training_view `+filter+`) s ON s.ts = p.ts
		GROUP BY p.name
		HAVING appearances > 5
		ORDER BY avg_watts DESC
		LIMIT 10`, args...)
	if err != nil {
		return fmt.Errorf("query top processes: %w", err)
	}
	defer rows.Close()

	fmt.Fprintf(w, "\n%s\nTOP POWER-CONSUMING PROCESSES\n%s\n", sep, sep)
	fmt.Fprintf(w, "%-25s %-13s %-12s %-10s\n", "Process", "Appearances", "Avg Watts", "Avg CPU")
	fmt.Fprintln(w, sep)
	for rows.Next() {
		var (
			name             string
			appearances      int64
			avgWatts, avgCPU float64
		)
		if err := rows.Scan(&name, &appearances, &avgWatts, &avgCPU); err != nil {
			return fmt.Errorf("scan top processes: %w", err)
		}
		fmt.Fprintf(w, "%-25s %-13d %10.2f W  %8.1f%%\n", name, appearances, avgWatts, avgCPU)
	}
	return rows.Err()
}
