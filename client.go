// Copyright 2024 The redisq Authors. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package redisq

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/redisq/redisq/internal/base"
	"github.com/redisq/redisq/internal/clock"
	"github.com/redisq/redisq/internal/errs"
	"github.com/redisq/redisq/internal/log"
	"github.com/redisq/redisq/internal/rdb"
)

// Client is the Broker Client of spec.md §4.2: a process-local adapter that
// formats broker script calls and owns the namespace, heartbeat cadence,
// and maintenance-probability parameter. A process typically constructs one
// Client and shares it between its Worker and any ad-hoc producer code.
type Client struct {
	broker    base.Broker
	namespace string

	// workerID is a stable UUID generated once at construction, reused by
	// every Consumer this Client creates, per spec.md §3 "Worker identity".
	workerID string

	heartbeatTimeoutMS int64
	deadMessageTTLMS   int64
	maintenanceProb    float64
	defaultPriority    int64

	clock  clock.Clock
	logger *log.Logger

	sharedConnection bool
}

// NewClient returns a Client connected via the given RedisConnOpt.
func NewClient(r RedisConnOpt, cfg Config) *Client {
	redisClient, ok := r.MakeRedisClient().(redis.UniversalClient)
	if !ok {
		panic(fmt.Sprintf("redisq: unsupported RedisConnOpt type %T", r))
	}
	c := NewClientFromRedisClient(redisClient, cfg)
	c.sharedConnection = false
	return c
}

// NewClientFromRedisClient returns a Client backed by an existing
// redis.UniversalClient. The caller retains ownership of the connection;
// Client.Close will not close it.
func NewClientFromRedisClient(rc redis.UniversalClient, cfg Config) *Client {
	logger := log.NewLogger(cfg.Logger)
	if cfg.LogLevel != nil {
		logger.SetLevel(*cfg.LogLevel)
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.NewRealClock()
	}
	return &Client{
		broker:             rdb.NewRDB(rc, cfg.namespace()),
		namespace:          cfg.namespace(),
		workerID:           uuid.NewString(),
		heartbeatTimeoutMS: cfg.heartbeatTimeout().Milliseconds(),
		deadMessageTTLMS:   cfg.deadMessageTTL().Milliseconds(),
		maintenanceProb:    cfg.maintenanceProbability(),
		defaultPriority:    cfg.defaultPriority(),
		clock:              clk,
		logger:             logger,
		sharedConnection:   true,
	}
}

// WorkerID returns the stable identity this Client's ack groups and
// heartbeat entries are recorded under.
func (c *Client) WorkerID() string { return c.workerID }

// Close releases the underlying Redis connection, unless it was supplied by
// the caller via NewClientFromRedisClient.
func (c *Client) Close() error {
	if c.sharedConnection {
		return nil
	}
	return c.broker.Close()
}

// Ping checks connectivity to Redis.
func (c *Client) Ping() error {
	return c.broker.Ping()
}

func (c *Client) callOpts() base.CallOpts {
	return base.CallOpts{
		WorkerID:           c.workerID,
		NowMS:              clock.NowMS(c.clock),
		HeartbeatTimeoutMS: c.heartbeatTimeoutMS,
		DeadMessageTTLMS:   c.deadMessageTTLMS,
		DoMaintenance:      rand.Float64() < c.maintenanceProb,
	}
}

// Enqueue submits msg to Redis. Queue defaults to base.DefaultQueueName and
// priority to the Client's configured default if the Message did not
// specify them; id defaults to a new UUID. Enqueueing under an id that
// already exists is idempotent: the second call updates the stored
// priority and payload (spec.md §4.1).
func (c *Client) Enqueue(ctx context.Context, msg *Message) (*Message, error) {
	if msg.queue == "" {
		msg.queue = base.DefaultQueueName
	}
	if err := base.ValidateQueueName(msg.queue); err != nil {
		return nil, err
	}
	if msg.id == "" {
		msg.id = uuid.NewString()
	}
	if !msg.hasPriority {
		msg.priority = c.defaultPriority
	}
	if err := c.broker.Enqueue(ctx, c.callOpts(), msg.queue, msg.id, msg.payload, msg.priority); err != nil {
		return nil, err
	}
	return msg, nil
}

// Ack acknowledges successful processing of msgID on queue. Idempotent.
func (c *Client) Ack(ctx context.Context, queue, msgID string) error {
	return c.broker.Ack(ctx, c.callOpts(), queue, msgID)
}

// Nack moves msgID to queue's dead-letter queue.
func (c *Client) Nack(ctx context.Context, queue, msgID string) error {
	return c.broker.Nack(ctx, c.callOpts(), queue, msgID)
}

// RequeueBatch restores a batch of previously-fetched messages to queue at
// their original priorities, used by Consumer.Close for graceful shutdown.
func (c *Client) RequeueBatch(ctx context.Context, queue string, msgs []*base.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	return c.broker.Requeue(ctx, c.callOpts(), queue, msgs)
}

// Purge deletes all state for queue: pending messages, payloads, every
// worker's ack group on it, and its dead-letter queue.
func (c *Client) Purge(ctx context.Context, queue string) error {
	return c.broker.Purge(ctx, c.callOpts(), queue)
}

// QSize reports this worker's view of queue's size: unfetched messages plus
// this worker's own in-flight count. Test-only, per spec.md §4.1.
func (c *Client) QSize(ctx context.Context, queue string) (int64, error) {
	return c.broker.QSize(ctx, c.callOpts(), queue)
}

func (c *Client) fetch(ctx context.Context, queue string, n int) ([]*base.Message, error) {
	if n <= 0 {
		return nil, errs.E(errs.FailedPrecondition, "fetch count must be positive")
	}
	return c.broker.Fetch(ctx, c.callOpts(), queue, n)
}

// Consume returns a Consumer bound to this Client for the given queue.
// Prefetch bounds the Consumer's in-memory buffer (spec.md §4.3).
func (c *Client) Consume(queue string, prefetch int, minRefresh, maxBackoff time.Duration) *Consumer {
	return newConsumer(c, queue, prefetch, minRefresh, maxBackoff)
}
