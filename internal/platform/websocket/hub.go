// Package websocket pushes assessment events to connected dashboards. Clients
// subscribe to topics and receive the events published on them.
package websocket

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"

	riskTopicPrefix = "assessments:"
	userTopicPrefix = "user:"

	sendBuffer = 256
)

// RiskTopic carries every completed assessment with the given risk level.
func RiskTopic(level string) string { return riskTopicPrefix + level }

// UserTopic carries the assessments of a single user.
func UserTopic(userID string) string { return userTopicPrefix + userID }

// Event is a message pushed to subscribers.
type Event struct {
	Type         string          `json:"type"`
	Topic        string          `json:"topic"`
	AssessmentID string          `json:"assessmentId,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
	Data         json.RawMessage `json:"data,omitempty"`
}

// ClientMessage is an inbound subscription request.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// EventPublisher is implemented by Hub.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// ConnObserver is notified when clients come and go.
type ConnObserver interface {
	ClientConnected()
	ClientDisconnected()
}

// Client is a single connection. Clinician clients may subscribe to any
// topic; everyone else only to their own user topic.
type Client struct {
	ID        string
	UserID    string
	Clinician bool
	Topics    []string
	Send      chan []byte
}

// NewClient returns a client with a buffered send channel.
func NewClient(id, userID string, clinician bool) *Client {
	return &Client{
		ID:        id,
		UserID:    userID,
		Clinician: clinician,
		Topics:    []string{},
		Send:      make(chan []byte, sendBuffer),
	}
}

// CanSubscribe reports whether the client may receive events on topic.
func (c *Client) CanSubscribe(topic string) bool {
	if c.Clinician {
		return strings.HasPrefix(topic, riskTopicPrefix) || strings.HasPrefix(topic, userTopicPrefix)
	}
	return c.UserID != "" && topic == UserTopic(c.UserID)
}

// Hub tracks clients and their topic subscriptions. It is safe for
// concurrent use.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]map[*Client]struct{} // topic -> subscribers
	all      map[*Client]struct{}
	logger   zerolog.Logger
	observer ConnObserver
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		logger:  logger.With().Str("component", "websocket").Logger(),
	}
}

// WithObserver attaches a connection observer and returns h.
func (h *Hub) WithObserver(o ConnObserver) *Hub {
	h.observer = o
	return h
}

// Register adds a client and subscribes it to the permitted subset of its
// initial topics.
func (h *Hub) Register(client *Client) {
	initial := client.Topics
	client.Topics = []string{}

	h.mu.Lock()
	h.all[client] = struct{}{}
	h.subscribeLocked(client, initial)
	h.mu.Unlock()

	if h.observer != nil {
		h.observer.ClientConnected()
	}
}

// Unregister removes a client from every topic and closes its Send channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.all[client]; !ok {
		h.mu.Unlock()
		return
	}
	for _, topic := range client.Topics {
		h.removeLocked(topic, client)
	}
	delete(h.all, client)
	close(client.Send)
	h.mu.Unlock()

	if h.observer != nil {
		h.observer.ClientDisconnected()
	}
}

// Subscribe adds topics to a registered client and returns the topics that
// were refused.
func (h *Hub) Subscribe(client *Client, topics []string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.subscribeLocked(client, topics)
}

func (h *Hub) subscribeLocked(client *Client, topics []string) []string {
	var denied []string
	for _, topic := range topics {
		if !client.CanSubscribe(topic) {
			denied = append(denied, topic)
			continue
		}
		if h.clients[topic] == nil {
			h.clients[topic] = make(map[*Client]struct{})
		}
		if _, dup := h.clients[topic][client]; dup {
			continue
		}
		h.clients[topic][client] = struct{}{}
		client.Topics = append(client.Topics, topic)
	}
	return denied
}

// Unsubscribe removes topics from a registered client.
func (h *Hub) Unsubscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	remove := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		remove[t] = struct{}{}
		h.removeLocked(t, client)
	}

	remaining := make([]string, 0, len(client.Topics))
	for _, t := range client.Topics {
		if _, rm := remove[t]; !rm {
			remaining = append(remaining, t)
		}
	}
	client.Topics = remaining
}

func (h *Hub) removeLocked(topic string, client *Client) {
	if subscribers, ok := h.clients[topic]; ok {
		delete(subscribers, client)
		if len(subscribers) == 0 {
			delete(h.clients, topic)
		}
	}
}

// ProcessMessage dispatches a client message and returns refused topics.
func (h *Hub) ProcessMessage(client *Client, msg ClientMessage) []string {
	switch msg.Action {
	case ActionSubscribe:
		return h.Subscribe(client, msg.Topics)
	case ActionUnsubscribe:
		h.Unsubscribe(client, msg.Topics)
	}
	return nil
}

// Broadcast sends event to the subscribers of topic. Clients whose buffer is
// full miss the event.
func (h *Hub) Broadcast(topic string, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Str("topic", topic).Msg("failed to marshal event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[topic] {
		select {
		case client.Send <- data:
		default:
			h.logger.Warn().Str("client_id", client.ID).Str("topic", topic).Msg("client buffer full, dropping event")
		}
	}
}

// Publish broadcasts the event on its topic without blocking.
func (h *Hub) Publish(_ context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	h.Broadcast(event.Topic, event)
	return nil
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}
