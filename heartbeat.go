// Copyright 2024 The redisq Authors. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package redisq

import (
	"context"
	"sync"
	"time"

	"github.com/redisq/redisq/internal/log"
)

// heartbeater keeps a worker's heartbeat entry fresh between Consumer
// fetches. Every broker call already refreshes it as a side effect (the
// Lua script's unconditional prelude), but a worker whose consumers are
// fully stocked can go a while without issuing one; this ticker makes a
// cheap call on a fixed interval so maintenance never mistakes a busy
// worker for a dead one.
type heartbeater struct {
	logger   *log.Logger
	client   *Client
	queue    string
	interval time.Duration

	done chan struct{}
}

func newHeartbeater(c *Client, queue string, interval time.Duration) *heartbeater {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &heartbeater{
		logger:   c.logger,
		client:   c,
		queue:    queue,
		interval: interval,
		done:     make(chan struct{}),
	}
}

func (h *heartbeater) shutdown() {
	close(h.done)
}

func (h *heartbeater) start(wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		timer := time.NewTimer(h.interval)
		defer timer.Stop()
		for {
			select {
			case <-h.done:
				return
			case <-timer.C:
				h.exec()
				timer.Reset(h.interval)
			}
		}
	}()
}

func (h *heartbeater) exec() {
	ctx, cancel := context.WithTimeout(context.Background(), h.interval)
	defer cancel()
	if _, err := h.client.QSize(ctx, h.queue); err != nil {
		h.logger.Warnf("heartbeater: refresh failed: %v", err)
	}
}
