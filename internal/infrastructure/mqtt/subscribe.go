package mqtt

import (
	"fmt"
	"sync"
)

type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// subscriptionSet remembers active subscriptions so they can be replayed
// on reconnect.
type subscriptionSet struct {
	mu     sync.RWMutex
	byName map[string]subscription
}

func newSubscriptionSet() *subscriptionSet {
	return &subscriptionSet{byName: make(map[string]subscription)}
}

func (s *subscriptionSet) put(sub subscription) {
	s.mu.Lock()
	s.byName[sub.topic] = sub
	s.mu.Unlock()
}

func (s *subscriptionSet) drop(topic string) {
	s.mu.Lock()
	delete(s.byName, topic)
	s.mu.Unlock()
}

func (s *subscriptionSet) has(topic string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byName[topic]
	return ok
}

func (s *subscriptionSet) all() []subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]subscription, 0, len(s.byName))
	for _, sub := range s.byName {
		out = append(out, sub)
	}
	return out
}

// Subscribe registers handler for a topic pattern (+ and # allowed). The
// subscription is replayed after every reconnect.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if err := checkTopic(topic, qos); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	// Track first so a reconnect racing the SUBACK still replays it.
	c.subs.put(subscription{topic: topic, qos: qos, handler: handler})
	if err := await(c.paho.Subscribe(topic, qos, c.deliver(handler)), defaultPublishTimeout, ErrSubscribeFailed); err != nil {
		c.subs.drop(topic)
		return err
	}
	return nil
}

// Unsubscribe stops delivery for a pattern. In-flight messages may still
// reach the old handler.
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	c.subs.drop(topic)
	return await(c.paho.Unsubscribe(topic), defaultPublishTimeout, ErrUnsubscribeFailed)
}

// SubscriptionCount is the number of patterns replayed on reconnect.
func (c *Client) SubscriptionCount() int {
	c.subs.mu.RLock()
	defer c.subs.mu.RUnlock()
	return len(c.subs.byName)
}

// HasSubscription reports whether exactly this pattern is tracked.
func (c *Client) HasSubscription(topic string) bool {
	return c.subs.has(topic)
}
