// Copyright 2024 The redisq Authors. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package redisq

import "sync"

// restartSignaler is the capability restart middlewares use to trigger the
// worker's restart state machine. Implemented by *Worker.
type restartSignaler interface {
	requestRestart()
}

// MaxTasksPerChild signals a worker restart once it has completed limit
// messages, mirroring dramatiq's middleware of the same name (grounded on
// original_source/dramatiq/middleware/max_tasks_per_child.py). The counter
// is in-memory only and resets to zero at process start, per spec.md §4.5.
type MaxTasksPerChild struct {
	BaseMiddleware

	limit int

	mu        sync.Mutex
	completed int
	signaler  restartSignaler
}

// NewMaxTasksPerChild returns a MaxTasksPerChild middleware. A limit of 0
// (or less) disables it, matching spec.md §6's max_tasks_per_child config
// option.
func NewMaxTasksPerChild(limit int) *MaxTasksPerChild {
	return &MaxTasksPerChild{limit: limit}
}

func (m *MaxTasksPerChild) bind(s restartSignaler) { m.signaler = s }

// AfterProcessMessage implements AfterProcessHook.
func (m *MaxTasksPerChild) AfterProcessMessage(_ *Message, _ Outcome) {
	if m.limit <= 0 {
		return
	}
	m.mu.Lock()
	m.completed++
	reached := m.completed >= m.limit
	m.mu.Unlock()
	if reached && m.signaler != nil {
		m.signaler.requestRestart()
	}
}

// RestartOnRequest signals a worker restart when a Handler returns
// OutcomeRestartRequested, mirroring dramatiq's RestartWorker exception
// convention (spec.md §4.5). It is registered on every Worker by default:
// the signal is core to the worker lifecycle even though it is expressed as
// a middleware for the sake of a uniform event-driven dispatch mechanism.
type RestartOnRequest struct {
	BaseMiddleware

	signaler restartSignaler
}

// NewRestartOnRequest returns a RestartOnRequest middleware.
func NewRestartOnRequest() *RestartOnRequest {
	return &RestartOnRequest{}
}

func (r *RestartOnRequest) bind(s restartSignaler) { r.signaler = s }

// AfterProcessMessage implements AfterProcessHook.
func (r *RestartOnRequest) AfterProcessMessage(_ *Message, outcome Outcome) {
	if outcome.Kind == OutcomeRestartRequested && r.signaler != nil {
		r.signaler.requestRestart()
	}
}
