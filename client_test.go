// Copyright 2024 The redisq Authors. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package redisq

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/redisq/redisq/internal/clock"
)

func newTestClient(t *testing.T, cfg Config) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	t.Cleanup(mr.Close)
	return newTestClientAt(t, mr.Addr(), cfg), mr
}

// newTestClientAt builds another Client against an already-running
// miniredis, so tests can simulate multiple workers sharing one broker.
func newTestClientAt(t *testing.T, addr string, cfg Config) *Client {
	t.Helper()
	rc := redis.NewClient(&redis.Options{Addr: addr})
	c := NewClientFromRedisClient(rc, cfg)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClientEnqueueDefaultsQueueAndID(t *testing.T) {
	c, _ := newTestClient(t, Config{})
	ctx := context.Background()

	msg, err := c.Enqueue(ctx, NewMessage([]byte("hi")))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if msg.Queue() != "default" {
		t.Fatalf("expected default queue, got %q", msg.Queue())
	}
	if msg.ID() == "" {
		t.Fatalf("expected generated id")
	}
}

func TestClientEnqueueHonorsExplicitZeroPriorityOverDefault(t *testing.T) {
	defaultPriority := int64(5)
	c, _ := newTestClient(t, Config{DefaultPriority: &defaultPriority})
	ctx := context.Background()

	msg, err := c.Enqueue(ctx, NewMessage([]byte("b"), Queue("q"), Priority(0)))
	if err != nil {
		t.Fatal(err)
	}
	if msg.Priority() != 0 {
		t.Fatalf("expected explicit Priority(0) to survive a non-zero default, got %d", msg.Priority())
	}

	fetched, err := c.fetch(ctx, "q", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(fetched) != 1 || fetched[0].Priority != 0 {
		t.Fatalf("expected stored priority 0, got %+v", fetched)
	}
}

func TestClientEnqueueAppliesDefaultPriorityWhenUnset(t *testing.T) {
	defaultPriority := int64(5)
	c, _ := newTestClient(t, Config{DefaultPriority: &defaultPriority})
	ctx := context.Background()

	msg, err := c.Enqueue(ctx, NewMessage([]byte("a"), Queue("q")))
	if err != nil {
		t.Fatal(err)
	}
	if msg.Priority() != 5 {
		t.Fatalf("expected default priority 5, got %d", msg.Priority())
	}
}

func TestClientEnqueueRejectsBlankQueue(t *testing.T) {
	c, _ := newTestClient(t, Config{})
	ctx := context.Background()

	if _, err := c.Enqueue(ctx, NewMessage([]byte("hi"), Queue("   "))); err == nil {
		t.Fatalf("expected error for blank queue name")
	}
}

func TestClientAckRemovesMessage(t *testing.T) {
	c, _ := newTestClient(t, Config{})
	ctx := context.Background()

	msg, err := c.Enqueue(ctx, NewMessage([]byte("hi"), Queue("q")))
	if err != nil {
		t.Fatal(err)
	}
	fetched, err := c.fetch(ctx, "q", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(fetched) != 1 {
		t.Fatalf("expected 1 fetched message, got %d", len(fetched))
	}
	if err := c.Ack(ctx, "q", msg.ID()); err != nil {
		t.Fatalf("ack: %v", err)
	}
	size, err := c.QSize(ctx, "q")
	if err != nil {
		t.Fatal(err)
	}
	if size != 0 {
		t.Fatalf("expected empty queue, got %d", size)
	}
}

func TestClientPurgeClearsQueue(t *testing.T) {
	c, _ := newTestClient(t, Config{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := c.Enqueue(ctx, NewMessage([]byte("x"), Queue("q"))); err != nil {
			t.Fatal(err)
		}
	}
	if err := c.Purge(ctx, "q"); err != nil {
		t.Fatalf("purge: %v", err)
	}
	size, err := c.QSize(ctx, "q")
	if err != nil {
		t.Fatal(err)
	}
	if size != 0 {
		t.Fatalf("expected empty queue after purge, got %d", size)
	}
}

func TestClientRequeueBatchRestoresMessages(t *testing.T) {
	c, _ := newTestClient(t, Config{})
	ctx := context.Background()

	if _, err := c.Enqueue(ctx, NewMessage([]byte("x"), Queue("q"), Priority(7))); err != nil {
		t.Fatal(err)
	}
	fetched, err := c.fetch(ctx, "q", 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.RequeueBatch(ctx, "q", fetched); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	refetched, err := c.fetch(ctx, "q", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(refetched) != 1 || refetched[0].Priority != 7 {
		t.Fatalf("expected requeued message at priority 7, got %+v", refetched)
	}
}

func TestClientSimulatedClockDrivesHeartbeatRecovery(t *testing.T) {
	ctx := context.Background()
	t0 := time.Unix(1_700_000_000, 0)
	deadClock := clock.NewSimulatedClock(t0)

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	dead := newTestClientAt(t, mr.Addr(), Config{
		Clock:            deadClock,
		HeartbeatTimeout: time.Minute,
	})
	if _, err := dead.Enqueue(ctx, NewMessage([]byte("x"), Queue("q"))); err != nil {
		t.Fatal(err)
	}
	if _, err := dead.fetch(ctx, "q", 1); err != nil {
		t.Fatal(err)
	}

	// The dead worker's heartbeat is now stamped at t0. Advance a second,
	// independently clocked worker well past HeartbeatTimeout and force
	// maintenance; SimulatedClock is the only thing making this
	// deterministic instead of a real sleep.
	liveClock := clock.NewSimulatedClock(t0.Add(2 * time.Minute))
	live := newTestClientAt(t, mr.Addr(), Config{
		Clock:                  liveClock,
		HeartbeatTimeout:       time.Minute,
		MaintenanceProbability: 1,
	})

	msgs, err := live.fetch(ctx, "q", 10)
	if err != nil {
		t.Fatalf("fetch after simulated time advance: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected maintenance to recover the dead worker's message, got %d", len(msgs))
	}
}

func TestClientCallOptsCarriesWorkerIdentity(t *testing.T) {
	c, _ := newTestClient(t, Config{})
	opts := c.callOpts()
	if opts.WorkerID != c.WorkerID() {
		t.Fatalf("expected callOpts.WorkerID %q, got %q", c.WorkerID(), opts.WorkerID)
	}
	if opts.NowMS <= 0 {
		t.Fatalf("expected positive NowMS, got %d", opts.NowMS)
	}
}
