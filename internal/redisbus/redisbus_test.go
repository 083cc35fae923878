package redisbus

import (
	"context"
	"testing"
	"time"

	"github.com/holla2040/reflow-mpc/internal/reflow"
)

// Unreachable address, mirroring internal/redishealth's test pattern: Redis
// being down must never crash the caller, only log.
const unreachableAddr = "127.0.0.1:1"

func TestPublishToUnreachableRedisDoesNotPanic(t *testing.T) {
	p := New(unreachableAddr, "reflow:status")
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	p.Publish(ctx, reflow.ReflowStatus{State: reflow.ControlRunning})
}

func TestSubscribeReturnsErrorOnUnreachableRedis(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	err := Subscribe(ctx, unreachableAddr, "reflow:status", func(reflow.ReflowStatus) {})
	if err == nil {
		t.Fatalf("Subscribe() against unreachable redis returned nil error")
	}
}
