package mqtt

import (
	"fmt"
	"strings"
)

// TopicRoot is the first segment of every lanwake topic.
const TopicRoot = "lanwake"

// Topics builds the topic names for one worker.
//
//	t := mqtt.NewTopics("bench-01")
//	t.Event("device.added") // "lanwake/bench-01/event/device.added"
type Topics struct {
	worker string
}

// NewTopics returns a builder scoped to worker. An empty worker id falls
// back to "unprovisioned" so topics are always well formed.
func NewTopics(worker string) Topics {
	worker = sanitiseSegment(worker)
	if worker == "" {
		worker = "unprovisioned"
	}
	return Topics{worker: worker}
}

// Worker returns the worker segment used in every topic.
func (t Topics) Worker() string {
	return t.worker
}

// Status is the retained online/offline topic, also used for the LWT.
//
// Example: lanwake/bench-01/status
func (t Topics) Status() string {
	return fmt.Sprintf("%s/%s/status", TopicRoot, t.worker)
}

// Event returns the topic an event of the given name is published on.
//
// Example: lanwake/bench-01/event/scan.completed
func (t Topics) Event(name string) string {
	return fmt.Sprintf("%s/%s/event/%s", TopicRoot, t.worker, name)
}

// Command returns the inbound command topic for name.
//
// Example: lanwake/bench-01/command/scan
func (t Topics) Command(name string) string {
	return fmt.Sprintf("%s/%s/command/%s", TopicRoot, t.worker, name)
}

// AllEvents matches every event topic of this worker.
//
// Pattern: lanwake/bench-01/event/#
func (t Topics) AllEvents() string {
	return fmt.Sprintf("%s/%s/event/#", TopicRoot, t.worker)
}

// sanitiseSegment strips characters that would change the topic structure.
func sanitiseSegment(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '+', '#', 0:
			return -1
		}
		return r
	}, strings.TrimSpace(s))
}
