// Command battery-report prints summary statistics and insights about
// battery drain patterns from a telemetry database. Read-only: it never
// writes to the store.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/0xrushi/rpi-energy-logger/internal/report"
	"github.com/0xrushi/rpi-energy-logger/internal/storage"
)

func main() {
	os.Exit(run())
}

func run() int {
	hours := flag.Int("hours", 0, "limit analysis to last N hours (default: all data)")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <db>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		return 2
	}

	db, err := storage.OpenReadOnly(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer db.Close()

	if err := report.Analyze(db, *hours, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
