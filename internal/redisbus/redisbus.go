// Package redisbus fans a ReflowStatus delta out to Redis Pub/Sub in
// addition to the in-process WebSocket hub (§10/J), so a second
// reflow-gateway instance — or any other collaborator, e.g. the curve
// library's own UI — can subscribe to run status without talking to this
// process's WebSocket directly. This is the narrow role the teacher's
// redis/go-redis/v9 dependency keeps in this repository; see DESIGN.md for
// why its broader device-command-routing role (redisrouter.RedisRouter) has
// no home here.
package redisbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/holla2040/reflow-mpc/internal/reflow"
)

// Publisher publishes ReflowStatus deltas to a single Redis Pub/Sub channel.
type Publisher struct {
	rdb     *redis.Client
	channel string
}

// New returns a Publisher bound to addr/channel. The client is not
// connected eagerly; Redis errors surface per-Publish call and are logged,
// never fatal to the caller (status delivery to the local WebSocket hub is
// the primary path and must not be blocked by Redis being unavailable).
func New(addr, channel string) *Publisher {
	return &Publisher{
		rdb:     redis.NewClient(&redis.Options{Addr: addr}),
		channel: channel,
	}
}

// Close releases the underlying Redis client.
func (p *Publisher) Close() error {
	return p.rdb.Close()
}

// Publish marshals status and publishes it to the configured channel.
// Errors are logged and swallowed: a Redis outage must not stall the
// Monitor's status-delta loop (§4.E item 3).
func (p *Publisher) Publish(ctx context.Context, status reflow.ReflowStatus) {
	data, err := json.Marshal(status)
	if err != nil {
		log.Printf("redisbus: marshal status: %v", err)
		return
	}
	if err := p.rdb.Publish(ctx, p.channel, data).Err(); err != nil {
		log.Printf("redisbus: publish to %s: %v", p.channel, err)
	}
}

// Subscribe opens a subscription to the configured channel and invokes fn
// for each decoded ReflowStatus until ctx is cancelled. Used by secondary
// gateway instances that want status fan-out without owning the Monitor.
func Subscribe(ctx context.Context, addr, channel string, fn func(reflow.ReflowStatus)) error {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()

	sub := rdb.Subscribe(ctx, channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("redisbus: subscription to %s closed", channel)
			}
			var status reflow.ReflowStatus
			if err := json.Unmarshal([]byte(msg.Payload), &status); err != nil {
				log.Printf("redisbus: discarding malformed status: %v", err)
				continue
			}
			fn(status)
		}
	}
}
