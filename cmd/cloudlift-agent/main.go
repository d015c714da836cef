// CloudLift Agent - durable upload queue for cloud storage accounts.
package main

import (
	"os"

	"github.com/cloudlift/cloudlift-agent/internal/cli"
	"github.com/cloudlift/cloudlift-agent/internal/version"
)

// Version information - release builds inject these via LDFLAGS.
var (
	Version   = "v1.0.0"
	BuildTime = "unknown"
)

func main() {
	// Canonical source for all packages, mirrored into cli for display.
	version.Version = Version
	version.BuildTime = BuildTime
	cli.Version = Version
	cli.BuildTime = BuildTime

	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
