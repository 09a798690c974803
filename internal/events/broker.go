// Package events fans out conversation and delivery events to monitoring
// clients over SSE. Events travel through redis pub/sub so every process
// instance sees them regardless of which one handled the webhook.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	redisclient "github.com/huntred/chatflow/internal/redis"
)

const (
	HeartbeatInterval = 30 * time.Second
)

// Event types published by the dispatch pipeline.
const (
	TypeMessageDelivered        = "message_delivered"
	TypeDeliveryFailed          = "delivery_failed"
	TypeConversationUpdated     = "conversation_updated"
	TypeNotificationIntercepted = "notification_intercepted"
)

type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// NewEvent marshals data into an Event. Marshal failures return a bare event
// with the type only.
func NewEvent(eventType string, data any) Event {
	raw, err := json.Marshal(data)
	if err != nil {
		log.Error().Err(err).Str("type", eventType).Msg("failed to marshal event payload")
		return Event{Type: eventType}
	}
	return Event{Type: eventType, Data: raw}
}

type Client struct {
	BusinessUnitID string
	Events         chan Event
	Done           chan struct{}
}

type Broker struct {
	redis   *redisclient.Client
	clients map[string]map[*Client]bool // businessUnitID -> set of clients
	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewBroker(redisClient *redisclient.Client) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		redis:   redisClient,
		clients: make(map[string]map[*Client]bool),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (b *Broker) Subscribe(businessUnitID string) *Client {
	client := &Client{
		BusinessUnitID: businessUnitID,
		Events:         make(chan Event, 100),
		Done:           make(chan struct{}),
	}

	b.mu.Lock()
	if b.clients[businessUnitID] == nil {
		b.clients[businessUnitID] = make(map[*Client]bool)
		go b.subscribeToRedis(businessUnitID)
	}
	b.clients[businessUnitID][client] = true
	clientCount := len(b.clients[businessUnitID])
	b.mu.Unlock()

	log.Info().
		Str("businessUnitId", businessUnitID).
		Int("clientCount", clientCount).
		Msg("event client subscribed")

	return client
}

func (b *Broker) Unsubscribe(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if clients, ok := b.clients[client.BusinessUnitID]; ok {
		delete(clients, client)
		close(client.Done)

		if len(clients) == 0 {
			delete(b.clients, client.BusinessUnitID)
		}

		log.Info().
			Str("businessUnitId", client.BusinessUnitID).
			Int("clientCount", len(clients)).
			Msg("event client unsubscribed")
	}
}

// Publish pushes an event onto the pub/sub channel for a business unit.
// Failures are callers' to handle; the dispatcher treats them as advisory.
func (b *Broker) Publish(ctx context.Context, businessUnitID string, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	channel := redisclient.EventChannel(businessUnitID)
	return b.redis.Publish(ctx, channel, data).Err()
}

func (b *Broker) subscribeToRedis(businessUnitID string) {
	channel := redisclient.EventChannel(businessUnitID)
	pubsub := b.redis.Subscribe(b.ctx, channel)
	defer pubsub.Close()

	log.Debug().
		Str("businessUnitId", businessUnitID).
		Str("channel", channel).
		Msg("redis pubsub subscribed")

	ch := pubsub.Channel()

	for {
		select {
		case <-b.ctx.Done():
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Error().Err(err).Msg("failed to unmarshal event")
				continue
			}

			b.broadcast(businessUnitID, event)
		}
	}
}

func (b *Broker) broadcast(businessUnitID string, event Event) {
	b.mu.RLock()
	clients := b.clients[businessUnitID]
	b.mu.RUnlock()

	for client := range clients {
		select {
		case client.Events <- event:
		default:
			log.Warn().
				Str("businessUnitId", businessUnitID).
				Msg("client event buffer full, dropping event")
		}
	}
}

func (b *Broker) Close() {
	b.cancel()

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, clients := range b.clients {
		for client := range clients {
			close(client.Done)
		}
	}
	b.clients = make(map[string]map[*Client]bool)
}

func (b *Broker) ClientCount(businessUnitID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients[businessUnitID])
}

func (b *Broker) TotalClients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := 0
	for _, clients := range b.clients {
		total += len(clients)
	}
	return total
}
