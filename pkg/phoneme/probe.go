package phoneme

import (
	"bufio"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Minimums for on-device inference. These are advisory; a device that passes
// may still be too slow.
const (
	MinMemoryBytes = 4 << 30
	MinCPUs        = 2
)

// CheckRuntimeSupport reports whether this binary can run on-device inference
// at all: the native inference backend needs cgo and a desktop OS.
func CheckRuntimeSupport() bool {
	return cgoEnabled && !isMobile(runtime.GOOS)
}

// Resources describes the host for [CheckDeviceResources].
type Resources struct {
	GOOS string
	CPUs int

	// MemoryBytes is total system memory; zero means unknown.
	MemoryBytes uint64
}

// HostResources samples the current machine. Memory is only detected on
// Linux.
func HostResources() Resources {
	return Resources{
		GOOS:        runtime.GOOS,
		CPUs:        runtime.NumCPU(),
		MemoryBytes: totalMemory(),
	}
}

// Adequate reports whether r meets the inference minimums. Unknown memory is
// not held against the device.
func (r Resources) Adequate() bool {
	if isMobile(r.GOOS) {
		return false
	}
	if r.CPUs < MinCPUs {
		return false
	}
	return r.MemoryBytes == 0 || r.MemoryBytes >= MinMemoryBytes
}

// CheckDeviceResources reports whether the host looks capable of on-device
// inference without degrading the session.
func CheckDeviceResources() bool {
	return HostResources().Adequate()
}

func isMobile(goos string) bool {
	return goos == "android" || goos == "ios"
}

func totalMemory() uint64 {
	if runtime.GOOS != "linux" {
		return 0
	}
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0
	}
	defer f.Close()
	return parseMemTotal(bufio.NewScanner(f))
}

// parseMemTotal reads the "MemTotal: N kB" line.
func parseMemTotal(sc *bufio.Scanner) uint64 {
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 || fields[0] != "MemTotal:" {
			continue
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return 0
		}
		return kb * 1024
	}
	return 0
}
