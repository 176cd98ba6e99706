// Command export-features writes an ML-ready feature matrix from a
// telemetry database to CSV: system metrics joined with process-level
// aggregates and optional lag features. Read-only over the store.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/0xrushi/rpi-energy-logger/internal/export"
	"github.com/0xrushi/rpi-energy-logger/internal/storage"
)

func main() {
	os.Exit(run())
}

func run() int {
	output := flag.String("o", "features.csv", "output CSV file")
	lags := flag.Bool("lags", false, "include lagged features for time-series models")
	lagPeriods := flag.String("lag-periods", "1,2,6,12", "comma-separated lag periods in samples (at 5s sampling: 5s, 10s, 30s, 1min)")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <db>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		return 2
	}

	var periods []int
	if *lags {
		for _, s := range strings.Split(*lagPeriods, ",") {
			p, err := strconv.Atoi(strings.TrimSpace(s))
			if err != nil || p < 1 {
				fmt.Fprintf(os.Stderr, "Error: invalid lag period %q\n", s)
				return 2
			}
			periods = append(periods, p)
		}
	}

	db, err := storage.OpenReadOnly(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer db.Close()

	f, err := os.Create(*output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	rows, err := export.Features(db, f, periods)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Printf("Exported %d rows to %s\n", rows, *output)
	fmt.Printf("Columns: %s\n", strings.Join(export.Columns(periods), ", "))
	return 0
}
