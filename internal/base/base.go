// Copyright 2024 The redisq Authors. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

// Package base defines the Redis key layout and the Broker interface shared
// between the client-facing redisq package and internal/rdb.
package base

import (
	"context"
	"strings"

	"github.com/redisq/redisq/internal/errs"
)

// Version of the redisq protocol. Bump when the broker script's KEYS/ARGV
// contract changes in a backwards-incompatible way.
const Version = "1.0.0"

// DefaultQueueName is the queue used when the caller specifies none.
const DefaultQueueName = "default"

// delayedSuffix marks a queue as the delayed variant of its canonical queue;
// it shares the canonical queue's dead-letter queue (spec.md §3, Queue entity).
const delayedSuffix = ".DQ"

// ValidateQueueName rejects empty or whitespace-only queue names.
func ValidateQueueName(qname string) error {
	if len(strings.TrimSpace(qname)) == 0 {
		return errs.E(errs.FailedPrecondition, "queue name must contain one or more characters")
	}
	return nil
}

// CanonicalQueue strips a trailing ".DQ" suffix, per spec.md §3/§4.1.
func CanonicalQueue(qname string) string {
	return strings.TrimSuffix(qname, delayedSuffix)
}

// HeartbeatsKey returns the key for the namespace's worker-heartbeat zset.
func HeartbeatsKey(namespace string) string {
	return namespace + ":__heartbeats__"
}

// QueueKey returns the key for the queue's pending priority zset (NS:Q).
func QueueKey(namespace, qname string) string {
	return namespace + ":" + qname
}

// QueueMsgsKey returns the key for the queue's payload hash (NS:Q.msgs).
func QueueMsgsKey(namespace, qname string) string {
	return QueueKey(namespace, qname) + ".msgs"
}

// AckGroupKey returns the key for a worker's in-flight ack group on a queue
// (NS:__acks__.W.Q).
func AckGroupKey(namespace, workerID, qname string) string {
	return namespace + ":__acks__." + workerID + "." + qname
}

// AckGroupPattern returns a glob matching every ack group owned by workerID
// across all queues in the namespace. broker.lua's maintenance builds the
// same glob itself to decide whether a dead worker's heartbeat entry can be
// removed.
func AckGroupPattern(namespace, workerID string) string {
	return namespace + ":__acks__." + workerID + ".*"
}

// LegacyAckKey returns the key of the pre-migration ack zset for a queue
// (NS:Q.acks), hoisted by maintenance per spec.md §4.1 backwards-compat step.
func LegacyAckKey(namespace, qname string) string {
	return QueueKey(namespace, qname) + ".acks"
}

// DLQKey returns the key for a canonical queue's dead-letter zset
// (NS:Q.XQ). qname must already be canonical.
func DLQKey(namespace, qname string) string {
	return QueueKey(namespace, qname) + ".XQ"
}

// DLQMsgsKey returns the key for a canonical queue's dead-letter payload hash
// (NS:Q.XQ.msgs). qname must already be canonical.
func DLQMsgsKey(namespace, qname string) string {
	return DLQKey(namespace, qname) + ".msgs"
}

// Message is the wire-level representation delivered to a Consumer: an
// opaque payload with its message-id and the priority it was fetched at
// (needed so a graceful requeue can restore the original priority per
// spec.md §4.3).
type Message struct {
	ID       string
	Payload  []byte
	Priority int64
}

// CallOpts carries the parameters spec.md §4.1 says accompany every broker
// script invocation: the caller's clock reading, worker identity, and the
// maintenance parameters needed for the unconditional prelude (heartbeat
// refresh) and the probabilistic maintenance sweep.
type CallOpts struct {
	WorkerID            string
	NowMS               int64
	HeartbeatTimeoutMS  int64
	DeadMessageTTLMS    int64
	DoMaintenance       bool
}

// Broker is the atomic-script-mediated interface to the shared Redis state.
// See internal/rdb.RDB as the reference implementation and spec.md §4.1 for
// the command semantics. Every method refreshes the calling worker's
// heartbeat and, when opts.DoMaintenance is set, runs the maintenance sweep
// scoped to qname before performing its own operation.
type Broker interface {
	Ping() error
	Close() error

	// Enqueue inserts payload under msgID at the given priority. Idempotent
	// on identical id: a second call updates priority and payload.
	Enqueue(ctx context.Context, opts CallOpts, qname, msgID string, payload []byte, priority int64) error

	// Fetch pops up to n messages from qname's pending zset, lowest-priority
	// first, moving them into the calling worker's ack group.
	Fetch(ctx context.Context, opts CallOpts, qname string, n int) ([]*Message, error)

	// Requeue restores each message to qname's pending zset at its given
	// priority, removing it from the calling worker's ack group. Used for
	// graceful consumer shutdown (spec.md §4.3).
	Requeue(ctx context.Context, opts CallOpts, qname string, msgs []*Message) error

	// Ack removes msgID from the worker's ack group and deletes its payload.
	// Idempotent.
	Ack(ctx context.Context, opts CallOpts, qname, msgID string) error

	// Nack removes msgID from the worker's ack group and moves its payload
	// to the canonical queue's dead-letter queue.
	Nack(ctx context.Context, opts CallOpts, qname, msgID string) error

	// Purge deletes all keys (pending, msgs, ack group, DLQ + DLQ msgs) for
	// qname.
	Purge(ctx context.Context, opts CallOpts, qname string) error

	// QSize reports the number of unfetched-plus-in-flight messages for
	// this worker's view of qname (test-only per spec.md §4.1).
	QSize(ctx context.Context, opts CallOpts, qname string) (int64, error)
}
