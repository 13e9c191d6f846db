// Copyright 2024 The redisq Authors. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

/*
Package redisq is a priority-aware, Redis-backed message broker for
distributed task execution.

Messages are enqueued into a per-queue priority set; workers fetch the
lowest-priority-value messages first, hold them in a per-worker in-flight
ack group while a Handler processes them, and either ack, nack to a
dead-letter queue, or leave them for a dead-worker recovery sweep to
reclaim. All of this — the heartbeat refresh, the probabilistic maintenance
sweep, and the fetch/requeue/ack/nack state transitions — is mediated by one
atomic Lua script, so there is no separate locking or leasing layer.

# Quick Start

Client (enqueue messages):

	client := redisq.NewClient(redisq.RedisClientOpt{Addr: "localhost:6379"}, redisq.Config{})
	defer client.Close()

	payload, _ := json.Marshal(map[string]int{"user_id": 42})
	msg, err := client.Enqueue(ctx, redisq.NewMessage(payload, redisq.Queue("emails")))
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("enqueued: %s", msg.ID())

Worker (process messages):

	worker := redisq.NewWorker(client, redisq.WorkerConfig{
		Concurrency: 10,
		Queues:      []string{"emails", "reports"},
	}, redisq.HandlerFunc(func(ctx context.Context, msg *redisq.Message) redisq.Outcome {
		log.Printf("processing %s", msg.ID())
		return redisq.Success()
	}))

	code, err := worker.RunWithSignals(context.Background())
	if err != nil {
		log.Fatal(err)
	}
	os.Exit(code)

# Message Options

Available options for NewMessage and Enqueue:

	Queue(name)     - target queue; defaults to "default"
	Priority(p)     - lower values run first; defaults to the client's DefaultPriority
	MessageID(id)   - caller-supplied id; re-using one updates the existing message

# Outcomes

A Handler reports how a message finished via an Outcome instead of a plain
error, so "the task asked to restart the worker" is never confused with
"the task failed":

	Success()          - acked
	Retryable(err)      - left un-acked for an external retry policy
	Terminal(err)       - nacked, moved to the queue's dead-letter queue
	RequestRestart()    - acked (by default) and the worker recycles itself

# Restart Middlewares

MaxTasksPerChild and RestartOnRequest observe AfterProcessMessage and drive
the worker's Running -> RestartPending -> Draining -> Exit(3) lifecycle.
RestartOnRequest is registered on every Worker automatically.

# Architecture

Each (worker, queue) pair runs one Consumer: a bounded prefetch buffer
refilled from the broker script, backing off exponentially (capped, via
golang.org/x/time/rate) when a queue is empty. A Worker fans the messages
its consumers produce out to a pool of executor goroutines, running the
configured Handler and middleware chain, and coordinates graceful shutdown:
consumers requeue anything still buffered, executors finish in-flight
Handler calls up to WorkerConfig.ShutdownGrace, and a heartbeater keeps the
worker's liveness entry fresh between fetches so maintenance never mistakes
a busy worker for a dead one.
*/
package redisq
