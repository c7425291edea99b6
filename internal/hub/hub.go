package hub

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"callsight/internal/observability"
)

// TopicGlobal receives every dashboard-wide event. Every connection is
// subscribed to it at registration so list views work before the client has
// resolved a call-scoped topic.
const TopicGlobal = "global"

// TopicCall names the per-call state topic.
func TopicCall(callID string) string { return "call:" + callID }

// TopicStrategy names the per-call strategy topic.
func TopicStrategy(callID string) string { return "strategy:" + callID }

func topicFamily(topic string) string {
	switch {
	case topic == TopicGlobal:
		return "global"
	case strings.HasPrefix(topic, "call:"):
		return "call"
	case strings.HasPrefix(topic, "strategy:"):
		return "strategy"
	default:
		return "other"
	}
}

// Envelope is the wire shape of every fanned-out event.
type Envelope struct {
	Topic     string    `json:"topic"`
	Event     string    `json:"event"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Hub is the topic-scoped broadcast layer. Delivery is fire-and-forget:
// at most once per currently-subscribed connection, no queuing for
// disconnected viewers, and a slow connection never blocks the others.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[*Client]struct{}
	byConn map[*Client]map[string]struct{}

	log     *slog.Logger
	metrics *observability.Metrics
	clock   func() time.Time
}

func New(log *slog.Logger, metrics *observability.Metrics) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		topics:  make(map[string]map[*Client]struct{}),
		byConn:  make(map[*Client]map[string]struct{}),
		log:     log,
		metrics: metrics,
		clock:   time.Now,
	}
}

// Register adds a connection and subscribes it to the global topic.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.byConn[c] = make(map[string]struct{})
	h.mu.Unlock()

	h.Subscribe(c, TopicGlobal)
	h.metrics.SetConnectedClients(h.ClientCount())
}

// Unregister removes a connection from every topic and closes its send
// channel. Safe to call more than once.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	topics, ok := h.byConn[c]
	if ok {
		for topic := range topics {
			h.removeFromTopic(c, topic)
		}
		delete(h.byConn, c)
	}
	h.mu.Unlock()

	if ok {
		c.close()
		h.metrics.SetConnectedClients(h.ClientCount())
	}
}

// Subscribe joins the connection to a topic. Unknown connections are ignored
// (a racing disconnect must not resurrect state for them).
func (h *Hub) Subscribe(c *Client, topic string) {
	if topic == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	topics, ok := h.byConn[c]
	if !ok {
		return
	}
	topics[topic] = struct{}{}
	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[*Client]struct{})
		h.topics[topic] = subs
	}
	subs[c] = struct{}{}
}

// Unsubscribe removes the connection from a topic.
func (h *Hub) Unsubscribe(c *Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if topics, ok := h.byConn[c]; ok {
		delete(topics, topic)
	}
	h.removeFromTopic(c, topic)
}

// removeFromTopic must be called with h.mu held.
func (h *Hub) removeFromTopic(c *Client, topic string) {
	if subs, ok := h.topics[topic]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
}

// Publish fans one event out to the current subscribers of topic. A full
// subscriber buffer drops that delivery only; other subscribers are
// unaffected.
func (h *Hub) Publish(topic, event string, payload any) {
	env := Envelope{
		Topic:     topic,
		Event:     event,
		Data:      payload,
		Timestamp: h.clock().UTC(),
	}
	msg, err := json.Marshal(env)
	if err != nil {
		h.log.Error("broadcast marshal failed", "topic", topic, "event", event, "err", err)
		return
	}

	h.mu.RLock()
	subs := make([]*Client, 0, len(h.topics[topic]))
	for c := range h.topics[topic] {
		subs = append(subs, c)
	}
	h.mu.RUnlock()

	for _, c := range subs {
		if c.enqueue(msg) {
			h.metrics.IncFanout(topicFamily(topic))
		} else {
			h.metrics.IncFanoutDropped()
			h.log.Debug("delivery dropped, subscriber buffer full",
				"topic", topic, "event", event, "conn_id", c.ID)
		}
	}
}

// Subscribed reports whether c is currently subscribed to topic.
func (h *Hub) Subscribed(c *Client, topic string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.topics[topic][c]
	return ok
}

// ClientCount returns the number of registered connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byConn)
}
