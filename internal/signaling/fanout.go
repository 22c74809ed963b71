package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

/*
LEARNING: MULTI-INSTANCE RELAY

Peers of one room may land on different relay instances behind a load
balancer. Each instance publishes what its peers send and delivers what
the others publish:

  peer → instance A → local peers
                    → PUBLISH blueprint:room:<id>
                         → instance B → its local peers

Messages carry the publishing instance id so nobody delivers its own
messages twice.
*/

// Fanout moves relay traffic between hub instances
type Fanout interface {
	Publish(ctx context.Context, room string, payload []byte) error
	// Subscribe blocks, calling handler for every published payload, until ctx is done
	Subscribe(ctx context.Context, handler func(room string, payload []byte)) error
	Close() error
}

// fanoutEnvelope wraps a relay message with its routing data
type fanoutEnvelope struct {
	Origin string `json:"origin"`
	To     string `json:"to,omitempty"`
	Data   []byte `json:"data"`
}

const publishTimeout = 2 * time.Second

func (h *Hub) publish(room, to string, data []byte) {
	if h.fanout == nil {
		return
	}
	payload, err := json.Marshal(fanoutEnvelope{Origin: h.instanceID, To: to, Data: data})
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := h.fanout.Publish(ctx, room, payload); err != nil {
		log.Warn().Err(err).Str("blueprint", room).Msg("⚠️  Failed to publish to fanout")
	}
}

// queuePublish hands a room-wide message to publishLoop without blocking
func (h *Hub) queuePublish(room string, data []byte) {
	if h.fanout == nil {
		return
	}
	select {
	case h.outbound <- &envelope{room: room, data: data}:
	default:
		log.Warn().Str("blueprint", room).Msg("⚠️  Fanout queue full, dropping presence message")
	}
}

func (h *Hub) publishLoop() {
	for {
		select {
		case <-h.done:
			return
		case env := <-h.outbound:
			h.publish(env.room, env.to, env.data)
		}
	}
}

func (h *Hub) handleRemote(room string, payload []byte) {
	var env fanoutEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		log.Warn().Err(err).Msg("⚠️  Dropping malformed fanout message")
		return
	}
	if env.Origin == h.instanceID {
		return
	}

	select {
	case h.broadcast <- &envelope{room: room, to: env.To, data: env.Data}:
	case <-h.done:
	}
}

// RedisFanout implements Fanout with Redis pub/sub
type RedisFanout struct {
	client *redis.Client
	prefix string
}

// NewRedisFanout connects to redisURL
func NewRedisFanout(redisURL string) (*RedisFanout, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisFanoutWithClient(client), nil
}

// NewRedisFanoutWithClient creates a fanout from an existing Redis client
func NewRedisFanoutWithClient(client *redis.Client) *RedisFanout {
	return &RedisFanout{
		client: client,
		prefix: "blueprint:room:",
	}
}

func (f *RedisFanout) channel(room string) string {
	return f.prefix + room
}

// Publish sends payload to every instance subscribed to room
func (f *RedisFanout) Publish(ctx context.Context, room string, payload []byte) error {
	if err := f.client.Publish(ctx, f.channel(room), payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", room, err)
	}
	return nil
}

// Subscribe listens on every room channel until ctx is done
func (f *RedisFanout) Subscribe(ctx context.Context, handler func(room string, payload []byte)) error {
	pubsub := f.client.PSubscribe(ctx, f.prefix+"*")
	defer pubsub.Close()

	// wait for the subscription to be confirmed
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			handler(strings.TrimPrefix(msg.Channel, f.prefix), []byte(msg.Payload))
		}
	}
}

// Ping checks the Redis connection
func (f *RedisFanout) Ping(ctx context.Context) error {
	return f.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (f *RedisFanout) Close() error {
	return f.client.Close()
}
