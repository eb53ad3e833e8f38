package monitor

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"telemetry-hub/internal/models"
)

// RunHousekeepingCycle logs a status report every interval until ctx is
// done.
func (m *Monitor) RunHousekeepingCycle(ctx context.Context, interval time.Duration) {
	log.Printf("Housekeeping cycle started. Will report every %v.", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Housekeeping cycle stopping.")
			return
		case <-ticker.C:
			log.Println(m.HousekeepingReport())
		}
	}
}

// HousekeepingReport renders the channel table logged by the housekeeping
// cycle.
func (m *Monitor) HousekeepingReport() string {
	snap := m.Snapshot()

	var report strings.Builder
	report.WriteString("\n--- Housekeeping Report ---\n")
	report.WriteString(fmt.Sprintf("Streaming: %s\n", snap.Streaming))
	report.WriteString(fmt.Sprintf("%-6s | %-6s | %-11s | %-11s | %-19s | %-8s | %-3s\n",
		"Chan", "Device", "Cursor", "Window", "Range", "BPM", "Rec"))
	report.WriteString(strings.Repeat("-", 82) + "\n")
	for _, ch := range snap.Channels {
		bpm := "none"
		switch {
		case ch.HasBPM:
			bpm = fmt.Sprintf("%.0f", ch.BPM)
		case ch.Value != 0:
			bpm = fmt.Sprintf("%.1f%%", ch.Value)
		}
		rng := fmt.Sprintf("%.0f..%.0f", ch.Range.Min, ch.Range.Max)
		if !ch.AutoRange {
			rng += " (fixed)"
		}
		rec := ""
		if ch.Kind == models.ChannelECG && m.rec.Recording(ch.DeviceID) {
			rec = "*"
		}
		report.WriteString(fmt.Sprintf("%-6s | %-6d | %5d/%-5d | %5d/%-5d | %-19s | %-8s | %-3s\n",
			ch.Kind, ch.DeviceID, ch.Cursor, ch.Capacity, ch.WindowLen, ch.SamplingRate*m.opts.WindowSeconds, rng, bpm, rec))
	}

	filled := 0
	for _, p := range snap.Patients {
		if !p.Empty() {
			filled++
		}
	}
	report.WriteString(fmt.Sprintf("Patient records filled: %d/%d\n", filled, len(snap.Patients)))

	rec := snap.Recording
	if rec.Recording {
		report.WriteString(fmt.Sprintf("Recording %s: device %d, %d samples since %s\n",
			rec.SessionID, rec.DeviceID, rec.Samples, rec.StartedAt.Format(time.TimeOnly)))
	} else {
		report.WriteString("Recording: idle\n")
	}
	report.WriteString(fmt.Sprintf("Events dropped: %d\n", m.bus.Dropped()))
	report.WriteString(strings.Repeat("-", 82))
	return report.String()
}
