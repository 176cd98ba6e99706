// Package sampler owns the telemetry run loop: one tick per interval, each
// tick producing exactly one committed sample set.
package sampler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/0xrushi/rpi-energy-logger/internal/collector"
	"github.com/0xrushi/rpi-energy-logger/internal/config"
	"github.com/0xrushi/rpi-energy-logger/internal/storage"
)

// Sampler drives the collectors and the store from a single control loop.
// There are no parallel workers; the only blocking point is the inter-tick
// sleep, which is the only place cancellation is observed. An in-progress
// tick always runs to commit.
type Sampler struct {
	cfg     *config.Config
	store   *storage.DB
	battery collector.BatterySensor
	ranker  *collector.Ranker

	log        *slog.Logger
	cpuLog     *slog.Logger
	batteryLog *slog.Logger
	processLog *slog.Logger
}

// New builds a Sampler from validated config. The logger's "topic"
// attribute routes per-subsystem detail through the topic filter.
func New(cfg *config.Config, store *storage.DB, battery collector.BatterySensor, log *slog.Logger) *Sampler {
	return &Sampler{
		cfg:        cfg,
		store:      store,
		battery:    battery,
		ranker:     collector.NewRanker(cfg.TopProcs),
		log:        log,
		cpuLog:     log.With("topic", "cpu"),
		batteryLog: log.With("topic", "battery"),
		processLog: log.With("topic", "process"),
	}
}

// Run executes the sampling loop until ctx is cancelled. Cancellation is
// checked once per iteration, after the tick's commit, so shutdown never
// truncates a write. Returns nil on cancellation; a persistence failure is
// returned as-is and terminates the run.
func (s *Sampler) Run(ctx context.Context) error {
	interval := time.Duration(s.cfg.IntervalSeconds) * time.Second

	collector.PrimeCPU()
	lastTick := time.Now()
	deadline := time.Now()

	for {
		// Advance the deadline before doing work so tick duration does not
		// skew the schedule.
		deadline = deadline.Add(interval)

		now := time.Now()
		wallDelta := now.Sub(lastTick).Seconds()
		lastTick = now

		if err := s.tick(wallDelta); err != nil {
			return err
		}

		if ctx.Err() != nil {
			s.log.Info("stopping")
			return nil
		}

		deadline = nextDeadline(deadline, time.Now())
		if sleep := time.Until(deadline); sleep > 0 {
			timer := time.NewTimer(sleep)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				s.log.Info("stopping")
				return nil
			}
		}
	}
}

// nextDeadline returns the wake target after a tick: the already-advanced
// deadline if it is still ahead of now. A tick that overran its interval
// resynchronizes to now instead, so slow ticks never accumulate a backlog
// of missed deadlines.
func nextDeadline(deadline, now time.Time) time.Time {
	if deadline.After(now) {
		return deadline
	}
	return now
}

// tick collects one full sample set and commits it atomically.
func (s *Sampler) tick(wallDelta float64) error {
	total, cores := collector.CPUUsage()
	freq := collector.CPUFreqMHz()
	load1, load5, load15 := collector.LoadAvg()
	batt := s.battery.Read()

	var procs []collector.ProcessSample
	if s.cfg.TopProcs > 0 {
		procs = s.ranker.Sample(wallDelta)
	} else {
		s.ranker.Reset()
	}

	sample := &collector.Sample{
		Battery:   batt,
		CPUTotal:  total,
		CPUFreq:   freq,
		Load1:     load1,
		Load5:     load5,
		Load15:    load15,
		CoreUsage: cores,
		Processes: procs,
	}

	ts, err := s.store.AppendSample(time.Now().Unix(), sample)
	if err != nil {
		return fmt.Errorf("persist tick: %w", err)
	}

	s.cpuLog.Debug("sample",
		"ts", ts,
		"cpu_total", fmt.Sprintf("%.1f", total),
		"cpu_freq_mhz", fmt.Sprintf("%.0f", freq),
		"load1", load1)
	if batt.Power != nil {
		s.batteryLog.Debug("sample", "ts", ts, "power_w", fmt.Sprintf("%.2f", *batt.Power))
	}
	if s.cfg.Verbose {
		s.log.Info("tick",
			"ts", ts,
			"cpu_total", fmt.Sprintf("%.1f", total),
			"cores", len(cores),
			"procs", len(procs))
	}
	for _, p := range procs {
		s.processLog.Debug("top process", "pid", p.PID, "cpu", fmt.Sprintf("%.1f", p.CPU), "name", p.Name)
	}
	return nil
}
