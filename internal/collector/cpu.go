package collector

import (
	"path/filepath"
	"strconv"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/load"
)

// CPUUsage returns per-core utilization percentages since the previous
// measurement (see PrimeCPU) and their mean. A failed read degrades to
// (0, nil) rather than failing the tick.
func CPUUsage() (total float64, cores []float64) {
	cores, err := cpu.Percent(0, true)
	if err != nil || len(cores) == 0 {
		return 0, nil
	}
	for _, c := range cores {
		total += c
	}
	return total / float64(len(cores)), cores
}

// PrimeCPU establishes the measurement baseline so the first real tick
// reports utilization over the interval instead of since process start.
func PrimeCPU() {
	cpu.Percent(0, true)
}

// CPUFreqMHz returns the mean current scaling frequency across all cores in
// MHz, or 0 if the platform exposes no cpufreq interface. Read from sysfs
// because the static model frequency is not the running clock speed.
func CPUFreqMHz() float64 {
	paths, err := filepath.Glob(filepath.Join(sysfsRoot, "devices/system/cpu/cpu[0-9]*/cpufreq/scaling_cur_freq"))
	if err != nil || len(paths) == 0 {
		return 0
	}
	var sumKHz, n float64
	for _, path := range paths {
		khz, err := strconv.ParseFloat(readAttr(path), 64)
		if err != nil {
			continue
		}
		sumKHz += khz
		n++
	}
	if n == 0 {
		return 0
	}
	return sumKHz / n / 1000
}

// LoadAvg returns the 1/5/15-minute load averages, or zeros on platforms
// without support.
func LoadAvg() (load1, load5, load15 float64) {
	avg, err := load.Avg()
	if err != nil || avg == nil {
		return 0, 0, 0
	}
	return avg.Load1, avg.Load5, avg.Load15
}
