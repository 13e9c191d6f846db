// Copyright 2024 The redisq Authors. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

// Package rdb wraps the atomic broker script (broker.lua) with typed Go
// methods implementing base.Broker.
package rdb

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cast"

	"github.com/redisq/redisq/internal/base"
	"github.com/redisq/redisq/internal/errs"
)

//go:embed broker.lua
var brokerScriptSrc string

var brokerScript = redis.NewScript(brokerScriptSrc)

// RDB is a client interface to the redisq broker script. Instantiated once
// per redisq.Client and shared across every Consumer it creates.
type RDB struct {
	client    redis.UniversalClient
	namespace string
}

// NewRDB returns a new instance of RDB, namespacing all keys under ns.
func NewRDB(client redis.UniversalClient, ns string) *RDB {
	return &RDB{client: client, namespace: ns}
}

// Ping checks connectivity to the underlying Redis server.
func (r *RDB) Ping() error {
	return r.client.Ping(context.Background()).Err()
}

// Close closes the underlying Redis connection.
func (r *RDB) Close() error {
	return r.client.Close()
}

func (r *RDB) keys(workerID, qname string) []string {
	canonical := base.CanonicalQueue(qname)
	return []string{
		base.QueueKey(r.namespace, qname),
		base.QueueMsgsKey(r.namespace, qname),
		base.AckGroupKey(r.namespace, workerID, qname),
		base.HeartbeatsKey(r.namespace),
		base.DLQKey(r.namespace, canonical),
		base.DLQMsgsKey(r.namespace, canonical),
		base.LegacyAckKey(r.namespace, qname),
	}
}

func (r *RDB) preamble(cmd string, opts base.CallOpts, qname string) []interface{} {
	maint := "0"
	if opts.DoMaintenance {
		maint = "1"
	}
	return []interface{}{
		cmd,
		opts.NowMS,
		opts.WorkerID,
		opts.HeartbeatTimeoutMS,
		opts.DeadMessageTTLMS,
		maint,
		r.namespace,
		qname,
		base.CanonicalQueue(qname),
	}
}

func (r *RDB) run(ctx context.Context, opts base.CallOpts, cmd, qname string, extra ...interface{}) (interface{}, error) {
	if err := base.ValidateQueueName(qname); err != nil {
		return nil, err
	}
	argv := append(r.preamble(cmd, opts, qname), extra...)
	res, err := brokerScript.Run(ctx, r.client, r.keys(opts.WorkerID, qname), argv...).Result()
	if err != nil {
		return nil, errs.Wrap(errs.Unavailable, fmt.Sprintf("broker script %q failed", cmd), err)
	}
	return res, nil
}

// Enqueue implements base.Broker.
func (r *RDB) Enqueue(ctx context.Context, opts base.CallOpts, qname, msgID string, payload []byte, priority int64) error {
	_, err := r.run(ctx, opts, "enqueue", qname, msgID, payload, priority)
	return err
}

// Fetch implements base.Broker.
func (r *RDB) Fetch(ctx context.Context, opts base.CallOpts, qname string, n int) ([]*base.Message, error) {
	res, err := r.run(ctx, opts, "fetch", qname, n)
	if err != nil {
		return nil, err
	}
	rows, ok := res.([]interface{})
	if !ok {
		return nil, errs.E(errs.Protocol, "fetch: unexpected script reply shape")
	}
	if len(rows)%3 != 0 {
		return nil, errs.E(errs.Protocol, "fetch: script reply length not a multiple of 3")
	}
	msgs := make([]*base.Message, 0, len(rows)/3)
	for i := 0; i < len(rows); i += 3 {
		id, err := cast.ToStringE(rows[i])
		if err != nil {
			return nil, errs.Wrap(errs.Protocol, "fetch: decoding message id", err)
		}
		priority, err := cast.ToInt64E(rows[i+1])
		if err != nil {
			return nil, errs.Wrap(errs.Protocol, "fetch: decoding priority", err)
		}
		payloadVal := rows[i+2]
		if b, isFalse := payloadVal.(bool); isFalse && !b {
			// The popped id had no entry in the queue's payload hash, so the
			// script returned false for it; skip it.
			continue
		}
		payload, err := cast.ToStringE(payloadVal)
		if err != nil {
			return nil, errs.Wrap(errs.Protocol, "fetch: decoding payload", err)
		}
		msgs = append(msgs, &base.Message{ID: id, Payload: []byte(payload), Priority: priority})
	}
	return msgs, nil
}

// Requeue implements base.Broker.
func (r *RDB) Requeue(ctx context.Context, opts base.CallOpts, qname string, msgs []*base.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	extra := make([]interface{}, 0, len(msgs)*2)
	for _, m := range msgs {
		extra = append(extra, m.ID, m.Priority)
	}
	_, err := r.run(ctx, opts, "requeue", qname, extra...)
	return err
}

// Ack implements base.Broker.
func (r *RDB) Ack(ctx context.Context, opts base.CallOpts, qname, msgID string) error {
	_, err := r.run(ctx, opts, "ack", qname, msgID)
	return err
}

// Nack implements base.Broker.
func (r *RDB) Nack(ctx context.Context, opts base.CallOpts, qname, msgID string) error {
	_, err := r.run(ctx, opts, "nack", qname, msgID)
	return err
}

// Purge implements base.Broker.
func (r *RDB) Purge(ctx context.Context, opts base.CallOpts, qname string) error {
	_, err := r.run(ctx, opts, "purge", qname)
	return err
}

// QSize implements base.Broker.
func (r *RDB) QSize(ctx context.Context, opts base.CallOpts, qname string) (int64, error) {
	res, err := r.run(ctx, opts, "qsize", qname)
	if err != nil {
		return 0, err
	}
	return cast.ToInt64E(res)
}
