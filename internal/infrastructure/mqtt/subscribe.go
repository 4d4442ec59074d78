package mqtt

import "fmt"

// Subscribe registers handler for topic. The subscription is remembered
// and restored after every reconnect.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.subMu.Lock()
	c.subscriptions[topic] = subscription{topic: topic, qos: qos, handler: handler}
	c.subMu.Unlock()

	token := c.client.Subscribe(topic, qos, c.wrapHandler(handler))
	if !token.WaitTimeout(defaultPublishTimeout) {
		c.forget(topic)
		return fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		c.forget(topic)
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	return nil
}

// OnCommand subscribes to the worker's command topic for name. The
// payload is ignored; fn runs once per message received.
//
//	client.OnCommand("scan", func() { orchestrator.RequestScan() })
func (c *Client) OnCommand(name string, fn func()) error {
	if fn == nil {
		return fmt.Errorf("%w: command handler cannot be nil", ErrSubscribeFailed)
	}
	return c.Subscribe(c.topics.Command(name), byte(c.cfg.QoS), func(_ string, _ []byte) error {
		fn()
		return nil
	})
}

// SubscriptionCount returns the number of tracked subscriptions.
func (c *Client) SubscriptionCount() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subscriptions)
}

func (c *Client) forget(topic string) {
	c.subMu.Lock()
	delete(c.subscriptions, topic)
	c.subMu.Unlock()
}
