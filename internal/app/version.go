package app

import (
	"fmt"
	"io"
	"os"
	"runtime"

	"skyburst/internal/telemetry"
)

// Build metadata, injected with -ldflags "-X skyburst/internal/app.Version=..."
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// ShowVersion prints build metadata and the link format to stdout.
func ShowVersion() {
	writeVersion(os.Stdout)
}

func writeVersion(w io.Writer) {
	fmt.Fprintf(w, "skyburst %s (commit %s, built %s)\n", Version, GitCommit, BuildTime)
	fmt.Fprintf(w, "Go: %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(w, "Link format: %d-byte records, x%d fixed point, burst marker 0x%08X\n",
		telemetry.WireRecordSize, telemetry.FixedPointScale, uint32(telemetry.EndOfBurstMarker))
}
