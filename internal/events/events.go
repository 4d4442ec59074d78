// Package events carries controller events from the tasks that produce
// them to the outputs that report them: the websocket hub, the MQTT
// broker and the InfluxDB bucket.
//
// Producers call Fanout.Publish, which never blocks. Sinks that talk to
// the network are wrapped in a Queue so a slow broker cannot stall the
// scan or connectivity tasks.
package events

import (
	"sync"
	"time"
)

// Topic names an event kind. The string is used verbatim as the MQTT
// topic suffix and the websocket channel.
type Topic string

// Event topics.
const (
	ConnectivityChanged Topic = "connectivity.changed"
	ScanStarted         Topic = "scan.started"
	ScanCompleted       Topic = "scan.completed"
	DeviceAdded         Topic = "device.added"
	RegistryCleared     Topic = "registry.cleared"
	WakeSent            Topic = "wake.sent"
	Heartbeat           Topic = "heartbeat"
)

// AllTopics lists every topic a Fanout may carry.
var AllTopics = []Topic{
	ConnectivityChanged,
	ScanStarted,
	ScanCompleted,
	DeviceAdded,
	RegistryCleared,
	WakeSent,
	Heartbeat,
}

// Event is one published occurrence.
type Event struct {
	Topic Topic     `json:"topic"`
	At    time.Time `json:"at"`
	Data  any       `json:"data,omitempty"`
}

// Connectivity is the payload of ConnectivityChanged.
type Connectivity struct {
	State     string `json:"state"`
	Previous  string `json:"previous"`
	Interface string `json:"interface,omitempty"`
	Addr      string `json:"addr,omitempty"`
}

// Device is the payload of DeviceAdded.
type Device struct {
	MAC  string `json:"mac"`
	Addr string `json:"addr,omitempty"`
}

// Wake is the payload of WakeSent.
type Wake struct {
	MAC       string `json:"mac"`
	Broadcast string `json:"broadcast"`
}

// Registry is the payload of RegistryCleared.
type Registry struct {
	Removed  int `json:"removed"`
	Capacity int `json:"capacity"`
}

// Sink receives events. Publish must not block for long; wrap slow
// sinks in a Queue.
type Sink interface {
	Publish(e Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Publish calls f(e).
func (f SinkFunc) Publish(e Event) { f(e) }

// Logger is the logging surface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type namedSink struct {
	name string
	sink Sink
}

// Fanout delivers each event to every registered sink in registration
// order. A panicking sink is logged and skipped.
type Fanout struct {
	mu     sync.RWMutex
	sinks  []namedSink
	now    func() time.Time
	logger Logger
}

// NewFanout returns an empty Fanout.
func NewFanout() *Fanout {
	return &Fanout{now: time.Now, logger: noopLogger{}}
}

// SetLogger sets the logger used for sink panics.
func (f *Fanout) SetLogger(logger Logger) { f.logger = logger }

// Add registers sink under name. Names appear only in logs.
func (f *Fanout) Add(name string, sink Sink) {
	if sink == nil {
		return
	}
	f.mu.Lock()
	f.sinks = append(f.sinks, namedSink{name: name, sink: sink})
	f.mu.Unlock()
}

// Len returns the number of registered sinks.
func (f *Fanout) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.sinks)
}

// Publish stamps an event with the current time and delivers it.
// Safe on a nil Fanout, so producers need no nil checks.
func (f *Fanout) Publish(topic Topic, data any) {
	if f == nil {
		return
	}
	f.Emit(Event{Topic: topic, At: f.now(), Data: data})
}

// Emit delivers a fully formed event.
func (f *Fanout) Emit(e Event) {
	if f == nil {
		return
	}
	f.mu.RLock()
	sinks := make([]namedSink, len(f.sinks))
	copy(sinks, f.sinks)
	f.mu.RUnlock()

	for _, s := range sinks {
		f.deliver(s, e)
	}
}

func (f *Fanout) deliver(s namedSink, e Event) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("event sink panic recovered", "sink", s.name, "topic", e.Topic, "panic", r)
		}
	}()
	s.sink.Publish(e)
}
