// Copyright 2024 The redisq Authors. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package redisq

// Middleware is the marker interface for a worker-lifecycle listener. A
// concrete middleware implements one or more of the hook interfaces below;
// the Worker dispatches to each hook via a type assertion instead of a
// string-keyed event name, so the compiler catches mistyped hook names
// (spec.md §9 design note on dynamic middleware dispatch).
type Middleware interface {
	middlewareMarker()
}

// BaseMiddleware is embedded by concrete middlewares so they satisfy
// Middleware without boilerplate.
type BaseMiddleware struct{}

func (BaseMiddleware) middlewareMarker() {}

// BeforeProcessHook is implemented by middlewares that want to observe a
// message immediately before the Handler runs.
type BeforeProcessHook interface {
	Middleware
	BeforeProcessMessage(msg *Message)
}

// AfterProcessHook is implemented by middlewares that want to observe the
// Outcome of processing a message, including OutcomeRestartRequested.
type AfterProcessHook interface {
	Middleware
	AfterProcessMessage(msg *Message, outcome Outcome)
}

// BeforeConsumerStopHook is implemented by middlewares that want to observe
// a consumer entering its Draining state.
type BeforeConsumerStopHook interface {
	Middleware
	BeforeConsumerStop(queue string)
}

// middlewareChain fires each hook interface a middleware happens to
// implement, in registration order.
type middlewareChain struct {
	middlewares []Middleware
}

func newMiddlewareChain(mws ...Middleware) *middlewareChain {
	return &middlewareChain{middlewares: mws}
}

func (c *middlewareChain) add(mw Middleware) {
	c.middlewares = append(c.middlewares, mw)
}

func (c *middlewareChain) fireBeforeProcess(msg *Message) {
	for _, mw := range c.middlewares {
		if h, ok := mw.(BeforeProcessHook); ok {
			h.BeforeProcessMessage(msg)
		}
	}
}

func (c *middlewareChain) fireAfterProcess(msg *Message, outcome Outcome) {
	for _, mw := range c.middlewares {
		if h, ok := mw.(AfterProcessHook); ok {
			h.AfterProcessMessage(msg, outcome)
		}
	}
}

func (c *middlewareChain) fireBeforeConsumerStop(queue string) {
	for _, mw := range c.middlewares {
		if h, ok := mw.(BeforeConsumerStopHook); ok {
			h.BeforeConsumerStop(queue)
		}
	}
}
