package collector

import (
	"fmt"
	"sort"

	"github.com/shirou/gopsutil/v4/process"
)

// Ranker tracks per-process cumulative CPU time across ticks and selects
// the top-N busiest processes. The baseline map is replaced wholesale each
// tick, so processes that exited are dropped from history automatically.
type Ranker struct {
	topN    int
	prevCPU map[int32]float64 // pid -> cumulative user+system seconds
}

// NewRanker creates a Ranker keeping the top n processes per tick.
func NewRanker(n int) *Ranker {
	return &Ranker{topN: n, prevCPU: make(map[int32]float64)}
}

// Reset drops the per-process baseline. Used when process sampling is
// disabled so a later re-enable starts from scratch.
func (r *Ranker) Reset() {
	r.prevCPU = make(map[int32]float64)
}

// Sample enumerates live processes and returns the top-N by CPU percentage
// over the given wall-clock delta (seconds). Processes that exit or become
// inaccessible mid-read are skipped for this tick. The first tick after
// startup reports 0% for every process: there is no prior baseline.
func (r *Ranker) Sample(wallDelta float64) []ProcessSample {
	procs, err := process.Processes()
	if err != nil {
		return nil
	}

	nextCPU := make(map[int32]float64, len(procs))
	candidates := make([]ProcessSample, 0, len(procs))
	for _, p := range procs {
		times, err := p.Times()
		if err != nil {
			continue
		}
		mem, err := p.MemoryPercent()
		if err != nil {
			continue
		}
		total := times.User + times.System
		cpuPct := r.observe(nextCPU, p.Pid, total, wallDelta)
		candidates = append(candidates, ProcessSample{
			PID:  p.Pid,
			Name: displayName(p),
			CPU:  cpuPct,
			Mem:  float64(mem),
		})
	}
	r.prevCPU = nextCPU

	return selectTop(candidates, r.topN)
}

// observe records a process's cumulative CPU seconds in next and returns
// its CPU percentage against the previous baseline. No baseline means 0%.
// Negative deltas (counter reset, pid reuse) clamp to 0.
func (r *Ranker) observe(next map[int32]float64, pid int32, totalCPU, wallDelta float64) float64 {
	next[pid] = totalCPU
	prev, ok := r.prevCPU[pid]
	if !ok || wallDelta <= 0 {
		return 0
	}
	pct := (totalCPU - prev) / wallDelta * 100
	if pct < 0 {
		return 0
	}
	return pct
}

// selectTop sorts candidates by CPU percentage descending and keeps the
// first n. Equal percentages order by lower pid first.
func selectTop(candidates []ProcessSample, n int) []ProcessSample {
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].CPU != candidates[j].CPU {
			return candidates[i].CPU > candidates[j].CPU
		}
		return candidates[i].PID < candidates[j].PID
	})
	if len(candidates) > n {
		candidates = candidates[:n]
	}
	return candidates
}

// displayName picks the most descriptive label available: full command
// line, then executable path, then short name, then a pid placeholder.
func displayName(p *process.Process) string {
	if cmdline, err := p.Cmdline(); err == nil && cmdline != "" {
		return cmdline
	}
	if exe, err := p.Exe(); err == nil && exe != "" {
		return exe
	}
	if name, err := p.Name(); err == nil && name != "" {
		return name
	}
	return fmt.Sprintf("[pid %d]", p.Pid)
}
