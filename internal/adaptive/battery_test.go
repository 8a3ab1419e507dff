package adaptive

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeSupply(t *testing.T, root, name, capacity, status string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if capacity != "" {
		if err := os.WriteFile(filepath.Join(dir, "capacity"), []byte(capacity+"\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if status != "" {
		if err := os.WriteFile(filepath.Join(dir, "status"), []byte(status+"\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestDetectBattery(t *testing.T) {
	root := t.TempDir()
	writeSupply(t, root, "AC", "", "")
	writeSupply(t, root, "BAT0", "15", "Discharging")

	mon := DetectBattery(root)
	b, err := mon.Read(context.Background())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !b.Known || b.Level != 15 || b.Charging {
		t.Errorf("battery = %+v, want known 15%% discharging", b)
	}
}

func TestSysfsBatteryCharging(t *testing.T) {
	dir := writeSupply(t, t.TempDir(), "BAT1", "50", "Charging")
	b, err := SysfsBattery{Dir: dir}.Read(context.Background())
	if err != nil || !b.Charging {
		t.Errorf("Read = %+v, %v; want charging", b, err)
	}
}

func TestDetectBatteryAbsent(t *testing.T) {
	for _, root := range []string{"", t.TempDir()} {
		mon := DetectBattery(root)
		if _, err := mon.Read(context.Background()); !errors.Is(err, ErrNoBattery) {
			t.Errorf("DetectBattery(%q).Read err = %v, want ErrNoBattery", root, err)
		}
	}
}
