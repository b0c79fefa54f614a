// Package power samples RAPL energy counters and converts them to average watts.
package power

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// Output formats.
const (
	FormatWatts = "watts"
	FormatRaw   = "raw"
)

// Reading is the average power between two consecutive samples.
type Reading struct {
	Time         time.Time
	PackageWatts float64
	DRAMWatts    float64
}

// DeltaUJ returns cur - prev, or 0 when the counter went backwards (wrap or reset).
func DeltaUJ(cur, prev uint64) uint64 {
	if cur >= prev {
		return cur - prev
	}
	return 0
}

// Compute derives average watts over the interval between prev and cur.
// A counter that went backwards yields exactly 0 W for that counter.
func Compute(prev, cur EnergySample) Reading {
	r := Reading{Time: cur.Time}

	dt := cur.Time.Sub(prev.Time).Seconds()
	if dt <= 0 {
		return r
	}

	r.PackageWatts = float64(DeltaUJ(cur.PackageUJ, prev.PackageUJ)) / (dt * 1e6)
	r.DRAMWatts = float64(DeltaUJ(cur.DRAMUJ, prev.DRAMUJ)) / (dt * 1e6)
	return r
}

// Sampler polls an EnergyReader on a fixed interval and writes CSV rows.
type Sampler struct {
	Reader   EnergyReader
	Interval time.Duration
	Format   string
	Logger   zerolog.Logger

	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

func (s *Sampler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Header returns the CSV header row for the configured format.
func (s *Sampler) Header() []string {
	if s.Format == FormatRaw {
		return []string{"timestamp", "package_uj", "dram_uj"}
	}
	return []string{"timestamp", "package_watts", "dram_watts"}
}

// Run samples until ctx is canceled. Rows are buffered and always flushed to out
// before Run returns.
func (s *Sampler) Run(ctx context.Context, out io.Writer) (err error) {
	interval := s.Interval
	if interval <= 0 {
		interval = time.Second
	}

	buf := bufio.NewWriter(out)
	w := csv.NewWriter(buf)
	defer func() {
		w.Flush()
		if ferr := w.Error(); ferr != nil && err == nil {
			err = ferr
		}
		if ferr := buf.Flush(); ferr != nil && err == nil {
			err = fmt.Errorf("failed to flush power samples: %w", ferr)
		}
	}()

	if err := w.Write(s.Header()); err != nil {
		return err
	}

	var (
		prev   EnergySample
		primed bool
		rows   int
	)

	sample := func() {
		pkg, dram, rerr := s.Reader.ReadEnergy()
		if rerr != nil {
			s.Logger.Warn().Err(rerr).Msg("Energy read failed, skipping tick")
			return
		}
		cur := EnergySample{Time: s.now(), PackageUJ: pkg, DRAMUJ: dram}

		if s.Format == FormatRaw {
			s.write(w, cur.Time, strconv.FormatUint(cur.PackageUJ, 10), strconv.FormatUint(cur.DRAMUJ, 10))
			rows++
			prev, primed = cur, true
			return
		}

		if primed {
			if cur.PackageUJ < prev.PackageUJ || cur.DRAMUJ < prev.DRAMUJ {
				s.Logger.Debug().
					Uint64("package_uj", cur.PackageUJ).
					Uint64("dram_uj", cur.DRAMUJ).
					Msg("Energy counter went backwards, reporting 0 W")
			}
			r := Compute(prev, cur)
			s.write(w, r.Time, formatWatts(r.PackageWatts), formatWatts(r.DRAMWatts))
			rows++
		}
		prev, primed = cur, true
	}

	sample()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Close out the partial interval since the last tick.
			if primed {
				sample()
			}
			s.Logger.Debug().Int("rows", rows).Msg("Power sampler stopping")
			return nil
		case <-ticker.C:
			sample()
		}
	}
}

func (s *Sampler) write(w *csv.Writer, t time.Time, a, b string) {
	if err := w.Write([]string{formatTimestamp(t), a, b}); err != nil {
		s.Logger.Warn().Err(err).Msg("Failed to write power sample")
	}
}

// formatTimestamp renders Unix seconds with nanosecond precision.
func formatTimestamp(t time.Time) string {
	return fmt.Sprintf("%d.%09d", t.Unix(), t.Nanosecond())
}

func formatWatts(w float64) string {
	return strconv.FormatFloat(w, 'f', 3, 64)
}
