package collector

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// sysfsRoot is swapped out by tests to point at a fixture tree.
var sysfsRoot = "/sys"

func powerSupplyDir() string {
	return filepath.Join(sysfsRoot, "class", "power_supply")
}

// BatterySensor produces a point-in-time power reading. Implementations
// never fail as a whole; unavailable attributes come back as nil fields.
type BatterySensor interface {
	Read() BatteryReading
}

// NullSensor is used when power monitoring is disabled or no battery exists.
type NullSensor struct{}

func (NullSensor) Read() BatteryReading { return BatteryReading{} }

// SysfsSensor reads battery attributes from one directory under
// /sys/class/power_supply (UPS HATs and SBC PMICs expose this interface).
type SysfsSensor struct {
	dir string
}

// NewSysfsSensor returns a sensor for the named power-supply directory,
// e.g. "BAT0" or "bq27441-0".
func NewSysfsSensor(name string) *SysfsSensor {
	return &SysfsSensor{dir: filepath.Join(powerSupplyDir(), name)}
}

// Detect resolves a power-source selector to a sensor: "none" disables
// power monitoring, "auto" scans for the first battery, anything else names
// a power-supply directory explicitly.
func Detect(selector string) BatterySensor {
	switch selector {
	case "none":
		return NullSensor{}
	case "auto":
		return autoDetect()
	default:
		return NewSysfsSensor(selector)
	}
}

// autoDetect scans the power-supply directory in sorted order and picks the
// first entry whose type file reads "Battery". Falls back to NullSensor.
func autoDetect() BatterySensor {
	entries, err := os.ReadDir(powerSupplyDir())
	if err != nil {
		return NullSensor{}
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	for _, name := range names {
		if readAttr(filepath.Join(powerSupplyDir(), name, "type")) == "Battery" {
			return NewSysfsSensor(name)
		}
	}
	return NullSensor{}
}

// Read collects voltage, current, power, and capacity. Each attribute
// degrades to nil independently when its file is missing or unparsable.
func (s *SysfsSensor) Read() BatteryReading {
	voltage := s.readMicro("voltage_now")
	current := s.readMicro("current_now")
	power := s.readMicro("power_now")

	// Some drivers expose power_now but always report 0; recompute from
	// voltage and current in that case.
	if power == nil || *power == 0 {
		power = nil
		if voltage != nil && current != nil {
			p := *voltage * *current
			power = &p
		}
	}

	var pct *float64
	if v, err := strconv.ParseFloat(readAttr(filepath.Join(s.dir, "capacity")), 64); err == nil {
		pct = &v
	}

	return BatteryReading{Voltage: voltage, Current: current, Power: power, BatteryPct: pct}
}

// readMicro reads a micro-unit attribute (µV, µA, µW) and converts it to
// the base unit. Returns nil on any read or parse failure.
func (s *SysfsSensor) readMicro(attr string) *float64 {
	raw, err := strconv.ParseInt(readAttr(filepath.Join(s.dir, attr)), 10, 64)
	if err != nil {
		return nil
	}
	v := float64(raw) / 1e6
	return &v
}

func readAttr(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
