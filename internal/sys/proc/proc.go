// Package proc reads process and kernel state from the /proc filesystem.
package proc

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultRoot is the procfs mount point.
const DefaultRoot = "/proc"

// Linux capability bit positions (from include/uapi/linux/capability.h).
const (
	CapSysAdmin = 21 // CAP_SYS_ADMIN
	CapPerfmon  = 38 // CAP_PERFMON (kernel 5.8+)
)

// FS reads procfs files below Root. The zero value reads /proc.
type FS struct {
	Root string
}

func (p FS) path(elem ...string) string {
	root := p.Root
	if root == "" {
		root = DefaultRoot
	}
	return filepath.Join(append([]string{root}, elem...)...)
}

// KernelVersion reads the kernel release from <root>/version.
func (p FS) KernelVersion() string {
	data, err := os.ReadFile(p.path("version"))
	if err != nil {
		return "unknown"
	}

	// Parse version from output like "Linux version 5.15.0-xxx...".
	version := string(data)
	if idx := strings.Index(version, "Linux version "); idx >= 0 {
		version = version[idx+14:]
		if idx := strings.Index(version, " "); idx >= 0 {
			version = version[:idx]
		}
		return version
	}

	return "unknown"
}

// PerfEventParanoid returns the value of kernel.perf_event_paranoid.
func (p FS) PerfEventParanoid() (int, error) {
	data, err := os.ReadFile(p.path("sys", "kernel", "perf_event_paranoid"))
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid perf_event_paranoid value: %w", err)
	}
	return v, nil
}

// EffectiveCapabilities returns the CapEff bitmask of the current process.
func (p FS) EffectiveCapabilities() (uint64, error) {
	return readCapabilityBitmask(p.path("self", "status"), "CapEff")
}

// HasCapability checks if a specific capability bit is set in the bitmask.
func HasCapability(bitmask uint64, capBit int) bool {
	return (bitmask & (1 << uint(capBit))) != 0
}

// readCapabilityBitmask reads a capability bitmask from a status file.
func readCapabilityBitmask(procStatusPath, capName string) (uint64, error) {
	//nolint:gosec // G304: Path is from /proc filesystem for system information.
	file, err := os.Open(procStatusPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", procStatusPath, err)
	}
	defer file.Close() // nolint:errcheck

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, capName+":") {
			continue
		}

		// Format: "CapEff:\t00000000a80435fb"
		parts := strings.Fields(line)
		if len(parts) < 2 {
			return 0, fmt.Errorf("invalid %s format: %s", capName, line)
		}

		bitmask, err := strconv.ParseUint(parts[1], 16, 64)
		if err != nil {
			return 0, fmt.Errorf("failed to parse %s bitmask: %w", capName, err)
		}

		return bitmask, nil
	}

	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("failed to scan %s: %w", procStatusPath, err)
	}

	return 0, fmt.Errorf("%s not found in %s", capName, procStatusPath)
}
