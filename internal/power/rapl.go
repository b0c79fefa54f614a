package power

import (
	"fmt"
	"time"

	"github.com/coral-mesh/idleprof/internal/sys/sysfs"
)

// EnergySample is one read of the cumulative RAPL counters, in microjoules.
type EnergySample struct {
	Time      time.Time
	PackageUJ uint64
	DRAMUJ    uint64
}

// EnergyReader reads the package and DRAM energy counters.
type EnergyReader interface {
	ReadEnergy() (pkg, dram uint64, err error)
}

// RAPLReader reads energy_uj files from the powercap sysfs tree.
type RAPLReader struct {
	PackagePath string
	DRAMPath    string
}

// NewRAPLReader returns a reader for the first package zone and its DRAM subzone
// below root ("" means /sys/class/powercap).
func NewRAPLReader(root string) RAPLReader {
	return RAPLReader{
		PackagePath: sysfs.EnergyPath(root, sysfs.PackageZone),
		DRAMPath:    sysfs.EnergyPath(root, sysfs.DRAMZone),
	}
}

// ReadEnergy implements EnergyReader.
func (r RAPLReader) ReadEnergy() (uint64, uint64, error) {
	pkg, err := sysfs.ReadUint(r.PackagePath)
	if err != nil {
		return 0, 0, fmt.Errorf("package energy: %w", err)
	}
	dram, err := sysfs.ReadUint(r.DRAMPath)
	if err != nil {
		return 0, 0, fmt.Errorf("dram energy: %w", err)
	}
	return pkg, dram, nil
}
