package sse

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	redisclient "github.com/openclaw/token-ledger/internal/redis"
)

const (
	HeartbeatInterval = 30 * time.Second
	clientBufferSize  = 64
)

// Event types fanned out to account subscribers.
const (
	EventUsageRecorded = "usage_recorded"
	EventUsageReset    = "usage_reset"
	EventLimitChanged  = "limit_changed"
)

type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type Client struct {
	AccountID string
	Events    chan Event
	Done      chan struct{}
}

// Broker relays account events through Redis pub/sub so every server
// instance sharing the Redis sees every committed transaction.
type Broker struct {
	redis   *redisclient.Client
	clients map[string]map[*Client]bool    // accountID -> set of clients
	subs    map[string]context.CancelFunc // accountID -> redis subscription
	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewBroker(redisClient *redisclient.Client) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		redis:   redisClient,
		clients: make(map[string]map[*Client]bool),
		subs:    make(map[string]context.CancelFunc),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (b *Broker) Subscribe(accountID string) *Client {
	client := &Client{
		AccountID: accountID,
		Events:    make(chan Event, clientBufferSize),
		Done:      make(chan struct{}),
	}

	b.mu.Lock()
	if b.clients[accountID] == nil {
		b.clients[accountID] = make(map[*Client]bool)

		subCtx, cancel := context.WithCancel(b.ctx)
		b.subs[accountID] = cancel
		go b.subscribeToRedis(subCtx, accountID)
	}
	b.clients[accountID][client] = true
	clientCount := len(b.clients[accountID])
	b.mu.Unlock()

	log.Info().
		Str("accountId", accountID).
		Int("clientCount", clientCount).
		Msg("usage stream subscribed")

	return client
}

func (b *Broker) Unsubscribe(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if clients, ok := b.clients[client.AccountID]; ok {
		if !clients[client] {
			return
		}
		delete(clients, client)
		close(client.Done)

		if len(clients) == 0 {
			delete(b.clients, client.AccountID)
			if cancel, ok := b.subs[client.AccountID]; ok {
				cancel()
				delete(b.subs, client.AccountID)
			}
		}

		log.Info().
			Str("accountId", client.AccountID).
			Int("clientCount", len(clients)).
			Msg("usage stream unsubscribed")
	}
}

// Publish marshals data into an Event of the given type and sends it on the
// account's channel.
func (b *Broker) Publish(ctx context.Context, accountID, eventType string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}

	message, err := json.Marshal(Event{Type: eventType, Data: payload})
	if err != nil {
		return err
	}

	channel := redisclient.UsageChannel(accountID)
	return b.redis.Publish(ctx, channel, message).Err()
}

// subscribeToRedis relays one account's channel until ctx is cancelled by
// the last Unsubscribe or by Close.
func (b *Broker) subscribeToRedis(ctx context.Context, accountID string) {
	if ctx.Err() != nil {
		return
	}

	channel := redisclient.UsageChannel(accountID)
	pubsub := b.redis.Subscribe(ctx, channel)
	defer pubsub.Close()

	log.Debug().
		Str("accountId", accountID).
		Str("channel", channel).
		Msg("redis pubsub subscribed")

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-ch:
			if !ok || ctx.Err() != nil {
				return
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Error().Err(err).Msg("failed to unmarshal usage event")
				continue
			}

			b.broadcast(accountID, event)
		}
	}
}

func (b *Broker) broadcast(accountID string, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for client := range b.clients[accountID] {
		select {
		case client.Events <- event:
		default:
			log.Warn().
				Str("accountId", accountID).
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
	for _, cancel := range b.subs {
		cancel()
	}
	b.clients = make(map[string]map[*Client]bool)
	b.subs = make(map[string]context.CancelFunc)
}

func (b *Broker) ClientCount(accountID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients[accountID])
}
