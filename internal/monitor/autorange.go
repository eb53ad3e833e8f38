package monitor

import (
	"context"
	"log"
	"time"

	"telemetry-hub/internal/models"
)

// AdjustRanges runs one auto-range pass over every channel and publishes
// a RangeChanged event for each committed change.
func (m *Monitor) AdjustRanges() {
	channels := append(m.ecgChannels(), m.spo2)
	for _, ch := range channels {
		rng, changed := ch.adjustRange()
		if !changed {
			continue
		}
		m.bus.Publish(models.RangeChanged{Kind: ch.kind, DeviceID: ch.deviceID, Range: rng})
	}
}

// RunAutoRange adjusts ranges every interval until ctx is done.
func (m *Monitor) RunAutoRange(ctx context.Context, interval time.Duration) {
	log.Printf("Auto-range started, interval %v", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Println("Auto-range stopping.")
			return
		case <-ticker.C:
			m.AdjustRanges()
		}
	}
}
