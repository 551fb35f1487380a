package realtime

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// Deliverer hands an encoded frame to locally connected clients.
type Deliverer interface {
	Deliver(boardID uint, frame []byte) int
}

// RedisRelay publishes broadcasts to Redis and relays every board
// channel back into the local hub, so clients connected to any process
// receive events produced by any other.
type RedisRelay struct {
	client    *redis.Client
	prefix    string
	local     Deliverer
	ready     chan struct{}
	readyOnce sync.Once
}

func NewRedisRelay(client *redis.Client, prefix string, local Deliverer) *RedisRelay {
	return &RedisRelay{
		client: client,
		prefix: prefix,
		local:  local,
		ready:  make(chan struct{}),
	}
}

func (r *RedisRelay) channel(boardID uint) string {
	return r.prefix + RoomName(boardID)
}

func (r *RedisRelay) Broadcast(ctx context.Context, boardID uint, event string, payload any) error {
	frame, err := EncodeFrame(boardID, event, payload)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel(boardID), frame).Err(); err != nil {
		return fmt.Errorf("publish %s to board %d: %w", event, boardID, err)
	}
	return nil
}

// Ready is closed once the first subscription is confirmed.
func (r *RedisRelay) Ready() <-chan struct{} {
	return r.ready
}

// Run relays board channels into the local hub until ctx is done,
// resubscribing when the pub/sub connection drops. Messages published
// while disconnected are lost.
func (r *RedisRelay) Run(ctx context.Context) {
	pattern := r.prefix + roomPrefix + "*"
	for {
		r.relay(ctx, pattern)
		if ctx.Err() != nil {
			return
		}
		log.WithField("pattern", pattern).Error("pubsub channel closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func (r *RedisRelay) relay(ctx context.Context, pattern string) {
	sub := r.client.PSubscribe(ctx, pattern)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() == nil {
			log.WithError(err).Error("psubscribe failed")
		}
		return
	}
	r.readyOnce.Do(func() { close(r.ready) })

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			boardID, ok := ParseRoom(strings.TrimPrefix(msg.Channel, r.prefix))
			if !ok {
				log.WithField("channel", msg.Channel).Warn("ignoring message on unexpected channel")
				continue
			}
			r.local.Deliver(boardID, []byte(msg.Payload))
		}
	}
}
