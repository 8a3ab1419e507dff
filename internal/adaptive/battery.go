package adaptive

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/marcelosanchez/locateme-web/internal/policy/engine"
)

// ErrNoBattery is returned by monitors on hosts without a battery.
var ErrNoBattery = errors.New("battery: not available")

// BatteryMonitor is the optional battery capability.
type BatteryMonitor interface {
	Read(ctx context.Context) (engine.Battery, error)
}

// NoBattery is the capability on hosts without a battery.
type NoBattery struct{}

// Read always reports ErrNoBattery.
func (NoBattery) Read(context.Context) (engine.Battery, error) {
	return engine.Battery{}, ErrNoBattery
}

// SysfsBattery reads a Linux power_supply battery directory (capacity, status).
type SysfsBattery struct {
	Dir string
}

// Read returns the battery's capacity and charging state.
func (s SysfsBattery) Read(context.Context) (engine.Battery, error) {
	raw, err := os.ReadFile(filepath.Join(s.Dir, "capacity"))
	if err != nil {
		return engine.Battery{}, err
	}
	level, err := strconv.ParseFloat(strings.TrimSpace(string(raw)), 64)
	if err != nil {
		return engine.Battery{}, err
	}
	b := engine.Battery{Known: true, Level: level}
	if st, err := os.ReadFile(filepath.Join(s.Dir, "status")); err == nil {
		switch strings.TrimSpace(string(st)) {
		case "Charging", "Full", "Not charging":
			b.Charging = true
		}
	}
	return b, nil
}

// DetectBattery returns a SysfsBattery for the first BAT* supply under root
// that reports a capacity, or NoBattery.
func DetectBattery(root string) BatteryMonitor {
	if root == "" {
		return NoBattery{}
	}
	matches, _ := filepath.Glob(filepath.Join(root, "BAT*"))
	for _, dir := range matches {
		if _, err := os.Stat(filepath.Join(dir, "capacity")); err == nil {
			return SysfsBattery{Dir: dir}
		}
	}
	return NoBattery{}
}
