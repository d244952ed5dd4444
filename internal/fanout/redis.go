package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher satisfies Publisher by fanning events out through Redis
// pub/sub channels, one channel per topic, so multiple worker processes can
// share a single logical fan-out surface, per spec.md §4.6's "Redis-backed
// for multi-worker horizontal scale" pluggability requirement. Join still
// keeps the in-process subscriber map (websocket clients attach to this
// process only); a background goroutine per joined topic relays inbound
// Redis messages to local subscribers.
type RedisPublisher struct {
	client *redis.Client
	prefix string

	mu       sync.Mutex
	relaying map[Topic]bool

	local *Hub
}

func NewRedisPublisher(client *redis.Client, keyPrefix string, local *Hub) *RedisPublisher {
	if keyPrefix == "" {
		keyPrefix = "skywatch:fanout:"
	}
	return &RedisPublisher{
		client:   client,
		prefix:   keyPrefix,
		relaying: make(map[Topic]bool),
		local:    local,
	}
}

func (p *RedisPublisher) channelName(topic Topic) string {
	return p.prefix + string(topic)
}

// Publish marshals the event and PUBLISHes it to the topic's Redis channel.
// A publish failure is logged and swallowed by the caller (SafetyMonitor/
// AlertEngine/FanOut callers treat fan-out as best-effort, per spec.md §7).
func (p *RedisPublisher) Publish(topic Topic, event string, payload interface{}) error {
	e := Event{Topic: topic, Event: event, Payload: payload}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("fanout: marshal redis event: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisPublishTimeout)
	defer cancel()
	if err := p.client.Publish(ctx, p.channelName(topic), data).Err(); err != nil {
		return fmt.Errorf("fanout: redis publish %s: %w", topic, err)
	}
	return nil
}

// Join both registers the subscriber locally and ensures a relay goroutine
// is running for each of its topics, so events published by any process in
// the cluster reach this subscriber.
func (p *RedisPublisher) Join(sub Subscriber, topics map[Topic]bool) error {
	expanded := expandTopics(topics)
	for t := range expanded {
		p.ensureRelay(t)
	}
	return p.local.Join(sub, topics)
}

func (p *RedisPublisher) ensureRelay(topic Topic) {
	p.mu.Lock()
	if p.relaying[topic] {
		p.mu.Unlock()
		return
	}
	p.relaying[topic] = true
	p.mu.Unlock()

	go p.relay(topic)
}

func (p *RedisPublisher) relay(topic Topic) {
	ctx := context.Background()
	sub := p.client.Subscribe(ctx, p.channelName(topic))
	defer sub.Close()

	ch := sub.Channel()
	for msg := range ch {
		var e Event
		if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
			continue
		}
		p.local.Publish(e.Topic, e.Event, e.Payload)
	}
}
