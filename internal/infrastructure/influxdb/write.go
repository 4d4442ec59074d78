package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementScan      = "lanwake_scan"
	MeasurementHeartbeat = "lanwake_heartbeat"
	MeasurementEvent     = "lanwake_event"
	MeasurementRegistry  = "lanwake_registry"
)

// ScanStats is the per-pass summary written to MeasurementScan.
type ScanStats struct {
	Interface  string
	Duration   time.Duration
	Candidates int
	Probed     int
	Resolved   int
	Added      int
	Known      int
	Rejected   int
	Failed     int
	Full       int
	Aborted    bool
}

// WriteScanPass records one completed or aborted scan pass.
func (c *Client) WriteScanPass(at time.Time, s ScanStats) {
	c.writePoint(MeasurementScan,
		map[string]string{"interface": s.Interface},
		map[string]any{
			"duration_ms": float64(s.Duration) / float64(time.Millisecond),
			"candidates":  s.Candidates,
			"probed":      s.Probed,
			"resolved":    s.Resolved,
			"added":       s.Added,
			"known":       s.Known,
			"rejected":    s.Rejected,
			"failed":      s.Failed,
			"full":        s.Full,
			"aborted":     s.Aborted,
		},
		at)
}

// WriteHeartbeat records one check-in attempt. status is the HTTP status
// code, or 0 when the request never got a response.
func (c *Client) WriteHeartbeat(at time.Time, ok bool, status int, latency time.Duration) {
	c.writePoint(MeasurementHeartbeat,
		nil,
		map[string]any{
			"ok":         ok,
			"status":     status,
			"latency_ms": float64(latency) / float64(time.Millisecond),
		},
		at)
}

// WriteRegistrySize records the registry occupancy after a change.
func (c *Client) WriteRegistrySize(at time.Time, size, capacity int) {
	c.writePoint(MeasurementRegistry,
		nil,
		map[string]any{"size": size, "capacity": capacity},
		at)
}

// WriteEvent counts an occurrence of a named controller event.
func (c *Client) WriteEvent(at time.Time, name string) {
	c.writePoint(MeasurementEvent,
		map[string]string{"event": name},
		map[string]any{"count": 1},
		at)
}

// WritePointWithTime writes an arbitrary point.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) {
	c.writePoint(measurement, tags, fields, timestamp)
}

func (c *Client) writePoint(measurement string, tags map[string]string, fields map[string]any, at time.Time) {
	if !c.IsConnected() {
		return
	}
	if tags == nil {
		tags = map[string]string{}
	}
	c.writer.WritePoint(write.NewPoint(measurement, tags, fields, at))
}
