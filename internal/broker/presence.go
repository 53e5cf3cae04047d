package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// connectionTTL bounds how long a registered connection survives without
// a refresh before Redis expires it via a heartbeat-refreshed TTL.
const connectionTTL = 2 * time.Minute

// crossReplayChannel is the Redis pub/sub channel relay frames are
// published to when the destination username is connected to a
// different broker replica.
const crossReplayChannel = "duskwire:relay"

// Presence tracks, in Redis, which broker replica each connected
// username is attached to, and fans cross-replica relay frames out over
// pub/sub.
type Presence struct {
	client *redis.Client
}

// NewPresence dials Redis at addr and verifies the connection.
func NewPresence(addr string) (*Presence, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("broker: connecting to redis: %w", err)
	}

	return &Presence{client: client}, nil
}

// Close closes the Redis connection.
func (p *Presence) Close() error {
	return p.client.Close()
}

// RegisterConnection records that username is attached to replicaID,
// refreshing its TTL.
func (p *Presence) RegisterConnection(ctx context.Context, username, replicaID string) error {
	key := "conn:" + username
	if err := p.client.Set(ctx, key, replicaID, connectionTTL).Err(); err != nil {
		return fmt.Errorf("broker: registering connection for %s: %w", username, err)
	}
	return nil
}

// RefreshConnection extends username's connection TTL, called on each
// inbound pong.
func (p *Presence) RefreshConnection(ctx context.Context, username string) error {
	return p.client.Expire(ctx, "conn:"+username, connectionTTL).Err()
}

// UnregisterConnection removes username's presence record.
func (p *Presence) UnregisterConnection(ctx context.Context, username string) error {
	return p.client.Del(ctx, "conn:"+username).Err()
}

// Locate reports which replica username is currently attached to, if any.
func (p *Presence) Locate(ctx context.Context, username string) (replicaID string, online bool, err error) {
	val, err := p.client.Get(ctx, "conn:"+username).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("broker: locating %s: %w", username, err)
	}
	return val, true, nil
}

// PublishRelay fans an encoded relay frame out to every broker replica,
// used when a destination username is not attached to this replica.
func (p *Presence) PublishRelay(ctx context.Context, frame []byte) error {
	if err := p.client.Publish(ctx, crossReplayChannel, frame).Err(); err != nil {
		return fmt.Errorf("broker: publishing relay frame: %w", err)
	}
	return nil
}

// SubscribeRelay returns a subscription to the cross-replica relay
// channel; the caller is responsible for closing it.
func (p *Presence) SubscribeRelay(ctx context.Context) *redis.PubSub {
	return p.client.Subscribe(ctx, crossReplayChannel)
}
