package events

import (
	"time"

	"github.com/nerrad567/lanwake/internal/heartbeat"
	"github.com/nerrad567/lanwake/internal/infrastructure/influxdb"
	"github.com/nerrad567/lanwake/internal/scanner"
)

// EventPublisher is satisfied by *mqtt.Client.
type EventPublisher interface {
	PublishEvent(name string, at time.Time, data any) error
}

// MetricsWriter is satisfied by *influxdb.Client.
type MetricsWriter interface {
	WriteScanPass(at time.Time, s influxdb.ScanStats)
	WriteHeartbeat(at time.Time, ok bool, status int, latency time.Duration)
	WriteEvent(at time.Time, name string)
}

// MQTTSink forwards every event to a broker. Failures are logged at
// debug level since the broker being away is routine.
func MQTTSink(pub EventPublisher, logger Logger) Sink {
	if logger == nil {
		logger = noopLogger{}
	}
	return SinkFunc(func(e Event) {
		if err := pub.PublishEvent(string(e.Topic), e.At, e.Data); err != nil {
			logger.Debug("mqtt event publish failed", "topic", e.Topic, "error", err)
		}
	})
}

// InfluxSink turns scan and heartbeat events into measurements and counts
// every event.
func InfluxSink(w MetricsWriter) Sink {
	return SinkFunc(func(e Event) {
		switch d := e.Data.(type) {
		case scanner.PassResult:
			w.WriteScanPass(e.At, influxdb.ScanStats{
				Interface:  d.Interface,
				Duration:   d.Duration,
				Candidates: d.Candidates,
				Probed:     d.Probed,
				Resolved:   d.Resolved,
				Added:      d.Added,
				Known:      d.Known,
				Rejected:   d.Rejected,
				Failed:     d.Failed,
				Full:       d.Full,
				Aborted:    d.Aborted,
			})
		case heartbeat.Result:
			w.WriteHeartbeat(d.At, d.OK, d.StatusCode, d.Latency)
		}
		w.WriteEvent(e.At, string(e.Topic))
	})
}

// Broadcaster is satisfied by the API websocket hub.
type Broadcaster interface {
	Broadcast(channel string, payload any)
}

// HubSink forwards events to websocket clients subscribed to the topic.
func HubSink(b Broadcaster) Sink {
	return SinkFunc(func(e Event) {
		b.Broadcast(string(e.Topic), e.Data)
	})
}
