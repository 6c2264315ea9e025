package mqtt

import (
	"fmt"
	"sort"
	"sync"
)

type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// subscriptionSet remembers what the server subscribed to. The broker
// session is clean, so every reconnect replays the set.
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

func (s *subscriptionSet) remove(topic string) {
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

func (s *subscriptionSet) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byName)
}

// snapshot returns the subscriptions ordered by topic.
func (s *subscriptionSet) snapshot() []subscription {
	s.mu.RLock()
	out := make([]subscription, 0, len(s.byName))
	for _, sub := range s.byName {
		out = append(out, sub)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].topic < out[j].topic })
	return out
}

// Subscribe registers handler for topic (wildcards allowed). The
// subscription survives reconnects.
//
//	err := client.Subscribe(client.Topics().AllDeviceStates(), 1, reconciler.HandleMessage)
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	switch {
	case topic == "":
		return ErrInvalidTopic
	case qos > maxQoS:
		return ErrInvalidQoS
	case handler == nil:
		return fmt.Errorf("%w: nil handler for %s", ErrSubscribeFailed, topic)
	case !c.IsConnected():
		return ErrNotConnected
	}

	// Tracked before the SUBSCRIBE goes out so a reconnect racing with it
	// still restores the topic.
	c.track(topic, qos, handler)
	if err := c.await(c.client.Subscribe(topic, qos, c.wrapHandler(handler)), ErrSubscribeFailed); err != nil {
		c.untrack(topic)
		return err
	}
	return nil
}

// Unsubscribe drops a subscription made with Subscribe.
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	c.untrack(topic)
	return c.await(c.client.Unsubscribe(topic), ErrUnsubscribeFailed)
}

func (c *Client) track(topic string, qos byte, handler MessageHandler) {
	c.subs.put(subscription{topic: topic, qos: qos, handler: handler})
}

func (c *Client) untrack(topic string) { c.subs.remove(topic) }

// SubscriptionCount returns the number of tracked subscriptions.
func (c *Client) SubscriptionCount() int { return c.subs.len() }

// HasSubscription reports whether exactly topic is tracked.
func (c *Client) HasSubscription(topic string) bool { return c.subs.has(topic) }
