// Package fanout delivers server-side events to N concurrently connected
// subscribers over topic-addressed channels, per spec.md §4.6. The in-process
// Hub generalizes the teacher's internal/api/websocket.go Hub (register/
// unregister channels, per-client buffered send, non-blocking drop-on-full)
// from one implicit aircraft stream to the full topic set. Transports are
// pluggable behind the Publisher interface; Redis.go supplies the
// multi-worker horizontal-scale implementation spec.md calls for.
package fanout

import (
	"encoding/json"
	"log"
	"sync"
	"time"
)

// Topic is one of the named channels a client can subscribe to, or the
// wildcard "all" which joins every real topic.
type Topic string

const (
	TopicAircraft  Topic = "aircraft"
	TopicPositions Topic = "positions"
	TopicAirspace  Topic = "airspace"
	TopicSafety    Topic = "safety"
	TopicAlerts    Topic = "alerts"
	TopicAcars     Topic = "acars"
	TopicAudio     Topic = "audio"
	TopicStats     Topic = "stats"
	TopicAll       Topic = "all"
)

// Topics lists every real (non-wildcard) topic, used to expand TopicAll.
var Topics = []Topic{TopicAircraft, TopicPositions, TopicAirspace, TopicSafety, TopicAlerts, TopicAcars, TopicAudio, TopicStats}

// redisPublishTimeout bounds the outbound PUBLISH call made by RedisPublisher.
const redisPublishTimeout = 2 * time.Second

// Event is one message published to a topic: an event name (snapshot, new,
// update, remove, heartbeat, event, triggered, message, ...) plus a payload.
type Event struct {
	Topic   Topic       `json:"topic"`
	Event   string      `json:"event"`
	Payload interface{} `json:"payload,omitempty"`
	At      time.Time   `json:"at"`
}

// Publisher is the abstraction the core depends on; implementations may be
// in-process (Hub), Redis-backed, or websocket-native.
type Publisher interface {
	Publish(topic Topic, event string, payload interface{}) error
	Join(sub Subscriber, topics map[Topic]bool) error
}

// Subscriber is anything with a bounded mailbox for outbound events. The
// websocket transport's Client satisfies this; tests use a plain channel.
type Subscriber interface {
	Deliver(e Event) bool
}

// ChanSubscriber is a minimal Subscriber backed by a buffered channel,
// convenient for tests and for non-websocket consumers.
type ChanSubscriber struct {
	ch chan Event
}

func NewChanSubscriber(buffer int) *ChanSubscriber {
	return &ChanSubscriber{ch: make(chan Event, buffer)}
}

func (c *ChanSubscriber) Deliver(e Event) bool {
	select {
	case c.ch <- e:
		return true
	default:
		return false
	}
}

func (c *ChanSubscriber) C() <-chan Event { return c.ch }

type registration struct {
	sub    Subscriber
	topics map[Topic]bool
}

// Hub is the in-process Publisher: subscriber sets mutate on connect/
// disconnect via register/unregister channels; publish holds only a
// read-only view while iterating, per spec.md §5's shared-resource policy.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[Subscriber]map[Topic]bool

	register   chan registration
	unregister chan Subscriber
	publish    chan Event

	closed chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[Subscriber]map[Topic]bool),
		register:    make(chan registration),
		unregister:  make(chan Subscriber),
		publish:     make(chan Event, 1024),
		closed:      make(chan struct{}),
	}
}

// Run drives the hub's single-writer loop until stopped. Register/unregister
// go through channels so the subscriber map only ever mutates from this
// goroutine; Publish below takes the read lock directly since it only reads.
func (h *Hub) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			close(h.closed)
			return
		case r := <-h.register:
			h.mu.Lock()
			h.subscribers[r.sub] = r.topics
			h.mu.Unlock()
		case sub := <-h.unregister:
			h.mu.Lock()
			delete(h.subscribers, sub)
			h.mu.Unlock()
		}
	}
}

// Join subscribes sub to the given topic set (TopicAll is expanded to every
// real topic) and immediately enqueues the registration.
func (h *Hub) Join(sub Subscriber, topics map[Topic]bool) error {
	expanded := expandTopics(topics)
	select {
	case h.register <- registration{sub: sub, topics: expanded}:
	case <-h.closed:
	}
	return nil
}

// Leave unregisters a subscriber, e.g. on client disconnect.
func (h *Hub) Leave(sub Subscriber) {
	select {
	case h.unregister <- sub:
	case <-h.closed:
	}
}

// Publish delivers one event to every subscriber joined to topic. Per-client
// delivery never blocks: a full mailbox drops the message for that client
// rather than stalling the others, per spec.md §4.6's "parallel broadcast"
// and "a failure in one must not block the others" contract.
func (h *Hub) Publish(topic Topic, event string, payload interface{}) error {
	e := Event{Topic: topic, Event: event, Payload: payload, At: time.Now().UTC()}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub, topics := range h.subscribers {
		if !topics[topic] {
			continue
		}
		if !sub.Deliver(e) {
			log.Printf("[FANOUT] dropped %s/%s: subscriber mailbox full", topic, event)
		}
	}
	return nil
}

// SubscriberCount reports the number of currently joined subscribers, for
// the statistics surface.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

func expandTopics(requested map[Topic]bool) map[Topic]bool {
	if requested[TopicAll] {
		out := make(map[Topic]bool, len(Topics))
		for _, t := range Topics {
			out[t] = true
		}
		return out
	}
	return requested
}

// ParseTopics turns an already split list of topic names from a client's
// subscribe request into the topic-set shape Join expects.
func ParseTopics(raw []string) map[Topic]bool {
	out := make(map[Topic]bool, len(raw))
	for _, r := range raw {
		out[Topic(r)] = true
	}
	return out
}

// Marshal renders an Event for a websocket/Redis wire send.
func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}
