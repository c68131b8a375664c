// Package sensors runs the auxiliary, independent threads named in
// spec.md §5: CPU-temperature logging and LED blinking. Neither touches
// the snapshot registry; each communicates only through its own
// idempotent read/write of device state.
package sensors

import (
	"context"
	"time"

	"github.com/containerd/log"
	"github.com/shirou/gopsutil/v3/host"
)

// TemperatureSampler periodically logs CPU temperature readings.
type TemperatureSampler struct {
	Interval time.Duration
}

const defaultSampleInterval = 30 * time.Second

// Run logs a temperature sample on Interval until ctx is cancelled. A
// sensor read failure is logged and skipped, never fatal: this thread's
// failure must never affect the coordinator loop.
func (s *TemperatureSampler) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = defaultSampleInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sampleOnce(ctx)
		}
	}
}

func (s *TemperatureSampler) sampleOnce(ctx context.Context) {
	temps, err := host.SensorsTemperaturesWithContext(ctx)
	if err != nil {
		log.G(ctx).WithError(err).Debug("temperature sample failed")
		return
	}
	for _, t := range temps {
		log.G(ctx).WithField("sensor", t.SensorKey).WithField("celsius", t.Temperature).Debug("cpu temperature")
	}
}
