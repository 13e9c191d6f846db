// Copyright 2024 The redisq Authors. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package redisq

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/redisq/redisq/internal/base"
	"github.com/redisq/redisq/internal/log"
)

// ConsumerState is one of the states in the Consumer lifecycle described in
// spec.md §4.3: Idle -> Fetching -> Serving -> Draining -> Closed.
type ConsumerState int32

const (
	ConsumerIdle ConsumerState = iota
	ConsumerFetching
	ConsumerServing
	ConsumerDraining
	ConsumerClosed
)

func (s ConsumerState) String() string {
	switch s {
	case ConsumerIdle:
		return "idle"
	case ConsumerFetching:
		return "fetching"
	case ConsumerServing:
		return "serving"
	case ConsumerDraining:
		return "draining"
	case ConsumerClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Consumer is one per (worker, queue) pair (spec.md §4.3): it prefetches
// batches from the broker into a bounded in-memory buffer and hands them
// out one at a time via Next. On Close, anything still buffered but not
// yet handed out is requeued at its original priority.
type Consumer struct {
	client *Client
	queue  string

	prefetch   int
	minRefresh time.Duration
	maxBackoff time.Duration

	// limiter paces the fetch loop: it runs at 1/minRefresh while the queue
	// is producing work, and backs off exponentially, capped at maxBackoff,
	// while fetches keep coming back empty.
	limiter *rate.Limiter

	buf    chan *base.Message
	cancel context.CancelFunc
	wg     sync.WaitGroup

	state atomic.Int32
	chain *middlewareChain

	logger *log.Logger
}

func newConsumer(c *Client, queue string, prefetch int, minRefresh, maxBackoff time.Duration) *Consumer {
	if prefetch <= 0 {
		prefetch = 1
	}
	if minRefresh <= 0 {
		minRefresh = 50 * time.Millisecond
	}
	if maxBackoff <= 0 {
		maxBackoff = time.Second
	}
	return &Consumer{
		client:     c,
		queue:      queue,
		prefetch:   prefetch,
		minRefresh: minRefresh,
		maxBackoff: maxBackoff,
		limiter:    rate.NewLimiter(rate.Every(minRefresh), 1),
		buf:        make(chan *base.Message, prefetch),
		logger:     c.logger,
	}
}

// State returns the Consumer's current lifecycle state.
func (con *Consumer) State() ConsumerState {
	return ConsumerState(con.state.Load())
}

func (con *Consumer) setState(s ConsumerState) {
	con.state.Store(int32(s))
}

// Start begins the background fetch loop. Safe to call once.
func (con *Consumer) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	con.cancel = cancel
	con.setState(ConsumerFetching)
	con.wg.Add(1)
	go con.loop(ctx)
}

func (con *Consumer) loop(ctx context.Context) {
	defer con.wg.Done()
	for {
		if err := con.limiter.Wait(ctx); err != nil {
			return
		}

		buffered := len(con.buf)
		if buffered >= con.prefetch/2+1 {
			// Still well stocked; re-check on the next tick without
			// spending a real fetch round-trip.
			continue
		}

		con.setState(ConsumerFetching)
		n := con.prefetch - buffered
		msgs, err := con.client.fetch(ctx, con.queue, n)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			con.logger.Errorf("consumer %s: fetch failed: %v", con.queue, err)
			con.backoff()
			continue
		}
		if len(msgs) == 0 {
			con.backoff()
			continue
		}
		con.limiter.SetLimit(rate.Every(con.minRefresh))
		con.setState(ConsumerServing)
		for _, m := range msgs {
			select {
			case con.buf <- m:
			case <-ctx.Done():
				requeueNow(con.client, con.queue, remainderFrom(msgs, m))
				return
			}
		}
	}
}

// backoff doubles the fetch loop's interval, capped at maxBackoff, after an
// empty or failed fetch.
func (con *Consumer) backoff() {
	cur := time.Duration(float64(time.Second) / float64(con.limiter.Limit()))
	next := cur * 2
	if next > con.maxBackoff {
		next = con.maxBackoff
	}
	con.limiter.SetLimit(rate.Every(next))
}

// remainderFrom returns m and everything after it in all, preserving order,
// so a mid-batch shutdown requeues the whole undelivered tail together.
func remainderFrom(all []*base.Message, m *base.Message) []*base.Message {
	for i, x := range all {
		if x == m {
			return all[i:]
		}
	}
	return []*base.Message{m}
}

// Next blocks until a message is available, the consumer is closed, or ctx
// is done. The returned message's ack-group membership in Redis is
// guaranteed until it is acked, nacked, or recovered by maintenance.
func (con *Consumer) Next(ctx context.Context) (*base.Message, error) {
	select {
	case m, ok := <-con.buf:
		if !ok {
			return nil, errConsumerClosed
		}
		return m, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops fetching and requeues every message still buffered but not
// yet handed to Next, restoring each at its original priority.
func (con *Consumer) Close(ctx context.Context) error {
	if con.chain != nil {
		con.chain.fireBeforeConsumerStop(con.queue)
	}
	con.setState(ConsumerDraining)
	if con.cancel != nil {
		con.cancel()
	}
	con.wg.Wait()

	close(con.buf)
	remaining := make([]*base.Message, 0, len(con.buf))
	for m := range con.buf {
		remaining = append(remaining, m)
	}
	con.setState(ConsumerClosed)
	if len(remaining) == 0 {
		return nil
	}
	return con.client.RequeueBatch(ctx, con.queue, remaining)
}

func requeueNow(c *Client, queue string, msgs []*base.Message) {
	if len(msgs) == 0 {
		return
	}
	if err := c.RequeueBatch(context.Background(), queue, msgs); err != nil {
		c.logger.Errorf("consumer %s: requeue on shutdown failed: %v", queue, err)
	}
}

var errConsumerClosed = consumerClosedError{}

type consumerClosedError struct{}

func (consumerClosedError) Error() string { return "redisq: consumer closed" }
