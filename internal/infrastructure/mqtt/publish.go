package mqtt

import (
	"encoding/json"
	"fmt"
	"time"
)

// maxPayloadSize caps a single message at 1 MiB.
const maxPayloadSize = 1 << 20

// Publish sends payload to topic at the given QoS.
//
// Retained messages should be reserved for state (the status topic);
// events are published unretained.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// eventEnvelope wraps every event body with its name and timestamp.
type eventEnvelope struct {
	Event     string    `json:"event"`
	Worker    string    `json:"worker_id"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// PublishEvent marshals data into an event envelope and publishes it on
// the worker's event topic for name with the configured QoS.
func (c *Client) PublishEvent(name string, at time.Time, data any) error {
	if sanitiseSegment(name) != name || name == "" {
		return fmt.Errorf("%w: event name %q", ErrInvalidTopic, name)
	}

	body, err := json.Marshal(eventEnvelope{
		Event:     name,
		Worker:    c.topics.Worker(),
		Timestamp: at.UTC(),
		Data:      data,
	})
	if err != nil {
		return fmt.Errorf("%w: encoding %s: %w", ErrPublishFailed, name, err)
	}
	return c.Publish(c.topics.Event(name), body, byte(c.cfg.QoS), false)
}
