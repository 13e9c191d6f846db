// Copyright 2024 The redisq Authors. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package redisq

// Message is an opaque unit of work submitted by a producer and delivered
// to a worker's executor. Payload framing/encoding is entirely up to the
// caller; redisq never inspects it.
type Message struct {
	id          string
	queue       string
	priority    int64
	hasPriority bool
	payload     []byte
}

// NewMessage returns a Message carrying payload, with defaults applied by
// Option values. The message id, if not overridden with MessageID, is
// generated by the Client at Enqueue time.
func NewMessage(payload []byte, opts ...Option) *Message {
	m := &Message{payload: payload}
	for _, opt := range opts {
		opt.apply(m)
	}
	return m
}

// ID returns the message's unique identifier.
func (m *Message) ID() string { return m.id }

// Queue returns the queue the message was (or will be) enqueued to.
func (m *Message) Queue() string { return m.queue }

// Priority returns the message's priority; lower values are executed first.
func (m *Message) Priority() int64 { return m.priority }

// Payload returns the message's opaque payload bytes.
func (m *Message) Payload() []byte { return m.payload }

// Option configures a Message at construction or enqueue time.
type Option interface {
	apply(*Message)
}

type optionFunc func(*Message)

func (f optionFunc) apply(m *Message) { f(m) }

// Queue overrides the destination queue for a message. Defaults to
// base.DefaultQueueName ("default") if unset.
func Queue(name string) Option {
	return optionFunc(func(m *Message) { m.queue = name })
}

// Priority overrides a message's priority. Lower values run first. If
// unset, the Client's configured DefaultPriority is used. An explicit
// Priority(0) is honored as-is and never overridden by the default.
func Priority(p int64) Option {
	return optionFunc(func(m *Message) {
		m.priority = p
		m.hasPriority = true
	})
}

// MessageID overrides the generated message id with a caller-supplied one.
// Re-using an id is idempotent: it updates the existing message's priority
// and payload rather than creating a duplicate (spec.md §4.1 enqueue).
func MessageID(id string) Option {
	return optionFunc(func(m *Message) { m.id = id })
}

// Delayed marks queue as the delayed variant of its canonical queue,
// returning "queue.DQ". Delayed and canonical queues share one dead-letter
// queue (spec.md §3).
func Delayed(queue string) string {
	return queue + ".DQ"
}
