// Package sysfs provides utilities for interacting with the /sys filesystem.
package sysfs

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// PowercapRoot is where the kernel exposes RAPL power-capping zones.
const PowercapRoot = "/sys/class/powercap"

// RAPL zone directories for the first package and its DRAM subzone.
const (
	PackageZone = "intel-rapl/intel-rapl:0"
	DRAMZone    = "intel-rapl/intel-rapl:0:1"
)

// EnergyPath returns the energy_uj counter file of a zone below root.
func EnergyPath(root, zone string) string {
	if root == "" {
		root = PowercapRoot
	}
	return filepath.Join(root, zone, "energy_uj")
}

// Exists reports whether path exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// ReadUint reads a single unsigned decimal value such as a RAPL energy counter.
func ReadUint(path string) (uint64, error) {
	//nolint:gosec // G304: Path is a sysfs counter.
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return v, nil
}
