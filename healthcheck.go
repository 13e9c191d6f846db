// Copyright 2020 Kentaro Hibino. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package redisq

import (
	"sync"
	"time"

	"github.com/redisq/redisq/internal/log"
)

// healthchecker periodically pings the broker and invokes a user-provided
// callback with the result of each ping (nil when it is reachable).
type healthchecker struct {
	logger *log.Logger
	client *Client

	done chan struct{}

	interval        time.Duration
	healthcheckFunc func(error)
}

func newHealthChecker(c *Client, interval time.Duration, fn func(error)) *healthchecker {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &healthchecker{
		logger:          c.logger,
		client:          c,
		done:            make(chan struct{}),
		interval:        interval,
		healthcheckFunc: fn,
	}
}

func (hc *healthchecker) shutdown() {
	close(hc.done)
}

func (hc *healthchecker) start(wg *sync.WaitGroup) {
	if hc.healthcheckFunc == nil {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		timer := time.NewTimer(hc.interval)
		defer timer.Stop()
		for {
			select {
			case <-hc.done:
				return
			case <-timer.C:
				hc.exec()
				timer.Reset(hc.interval)
			}
		}
	}()
}

func (hc *healthchecker) exec() {
	err := hc.client.Ping()
	hc.healthcheckFunc(err)
}
