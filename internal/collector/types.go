package collector

// BatteryReading holds one point-in-time power reading. Fields are nil when
// the underlying sensor does not expose them or a read failed. Units:
// voltage V, current A (sign is driver-dependent), power W, battery percent.
type BatteryReading struct {
	Voltage    *float64
	Current    *float64
	Power      *float64
	BatteryPct *float64
}

// ProcessSample describes one process observed during a tick.
type ProcessSample struct {
	PID  int32
	Name string
	CPU  float64 // percent of one core over the last wall-clock interval
	Mem  float64 // percent of physical memory
}

// Sample is one logical tick's worth of metrics: the system-wide reading
// plus per-core usage and the top-N process rows.
type Sample struct {
	Battery   BatteryReading
	CPUTotal  float64 // mean of CoreUsage, percent
	CPUFreq   float64 // MHz, 0 if the platform exposes none
	Load1     float64
	Load5     float64
	Load15    float64
	CoreUsage []float64 // index is the core number
	Processes []ProcessSample
}
