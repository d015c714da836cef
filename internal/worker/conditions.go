package worker

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Conditions answers whether constraint-gated records may run right now.
// Probes are best effort; an unreadable probe counts as satisfied so a
// constraint can never wedge the queue on an unsupported platform.
type Conditions interface {
	WifiAvailable() bool
	Charging() bool
}

// AlwaysReady satisfies every constraint. Used in tests and by the one-shot
// run command, where the person asking clearly wants the upload now.
type AlwaysReady struct{}

func (AlwaysReady) WifiAvailable() bool { return true }
func (AlwaysReady) Charging() bool      { return true }

// SystemConditions probes the host. Desktop links are treated as unmetered;
// charging state is read from the power supply class on Linux.
type SystemConditions struct{}

func (SystemConditions) WifiAvailable() bool { return true }

func (SystemConditions) Charging() bool {
	if runtime.GOOS != "linux" {
		return true
	}
	matches, err := filepath.Glob("/sys/class/power_supply/*/online")
	if err != nil || len(matches) == 0 {
		// No battery, so effectively always on power.
		return true
	}
	for _, m := range matches {
		data, err := os.ReadFile(m)
		if err == nil && strings.TrimSpace(string(data)) == "1" {
			return true
		}
	}
	return false
}
