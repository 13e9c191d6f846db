// Copyright 2024 The redisq Authors. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package redisq

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

func TestWorkerProcessesEnqueuedMessages(t *testing.T) {
	c, _ := newTestClient(t, Config{})
	ctx := context.Background()

	const n = 20
	for i := 0; i < n; i++ {
		if _, err := c.Enqueue(ctx, NewMessage([]byte("x"), Queue("q"))); err != nil {
			t.Fatal(err)
		}
	}

	var processed int64
	handler := HandlerFunc(func(ctx context.Context, msg *Message) Outcome {
		atomic.AddInt64(&processed, 1)
		return Success()
	})

	w := NewWorker(c, WorkerConfig{
		Concurrency:        3,
		Queues:             []string{"q"},
		MinRefreshInterval: time.Millisecond,
		MaxBackoff:         10 * time.Millisecond,
	}, handler)

	if err := w.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { w.Shutdown(context.Background()) })

	deadline := time.After(2 * time.Second)
	for {
		if atomic.LoadInt64(&processed) >= n {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out; processed %d/%d", atomic.LoadInt64(&processed), n)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestWorkerTerminalOutcomeDeadLettersMessage(t *testing.T) {
	c, mr := newTestClient(t, Config{})
	ctx := context.Background()

	if _, err := c.Enqueue(ctx, NewMessage([]byte("x"), Queue("q"))); err != nil {
		t.Fatal(err)
	}

	var handled int64
	handler := HandlerFunc(func(ctx context.Context, msg *Message) Outcome {
		atomic.AddInt64(&handled, 1)
		return Terminal(fmt.Errorf("boom"))
	})

	w := NewWorker(c, WorkerConfig{
		Concurrency:        1,
		Queues:             []string{"q"},
		MinRefreshInterval: time.Millisecond,
		MaxBackoff:         10 * time.Millisecond,
	}, handler)
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}

	waitUntil(t, func() bool { return atomic.LoadInt64(&handled) == 1 })
	if err := w.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	size, err := c.QSize(ctx, "q")
	if err != nil {
		t.Fatal(err)
	}
	if size != 0 {
		t.Fatalf("expected queue drained (message moved to DLQ), got %d", size)
	}
	if !mr.Exists("dramatiq:q.XQ") {
		t.Fatalf("expected the message in the dead-letter queue dramatiq:q.XQ")
	}
}

// TestWorkerRestartRequestedTriggersDrain mirrors spec.md §8 scenario 6:
// one task requests a restart and one plain task is queued behind it. The
// worker processes the first, acks it, drains, and exits with
// RestartExitCode without touching the second; a relaunched worker then
// processes the second.
func TestWorkerRestartRequestedTriggersDrain(t *testing.T) {
	c, _ := newTestClient(t, Config{})
	ctx := context.Background()

	if _, err := c.Enqueue(ctx, NewMessage([]byte("restart-me"), Queue("q"), MessageID("first"))); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Enqueue(ctx, NewMessage([]byte("plain"), Queue("q"), MessageID("second"))); err != nil {
		t.Fatal(err)
	}

	var firstSeen, secondSeen int64
	handler := HandlerFunc(func(ctx context.Context, msg *Message) Outcome {
		if msg.ID() == "first" {
			atomic.AddInt64(&firstSeen, 1)
			return RequestRestart()
		}
		atomic.AddInt64(&secondSeen, 1)
		return Success()
	})

	// Zero-value WorkerConfig: the default for OutcomeRestartRequested is
	// to ack, not nack (spec.md §4.4 item 3).
	w1 := NewWorker(c, WorkerConfig{
		Concurrency:        1,
		Queues:             []string{"q"},
		Prefetch:           1,
		MinRefreshInterval: time.Millisecond,
		MaxBackoff:         10 * time.Millisecond,
	}, handler)

	code, err := w1.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if code != RestartExitCode {
		t.Fatalf("expected exit code %d, got %d", RestartExitCode, code)
	}
	if w1.State() != WorkerExited {
		t.Fatalf("expected state exited, got %v", w1.State())
	}
	if firstSeen != 1 {
		t.Fatalf("expected first worker to process exactly the restart-requesting task, got %d", firstSeen)
	}
	if secondSeen != 0 {
		t.Fatalf("expected first worker to leave the second task untouched, got %d", secondSeen)
	}

	w2 := NewWorker(c, WorkerConfig{
		Concurrency:        1,
		Queues:             []string{"q"},
		MinRefreshInterval: time.Millisecond,
		MaxBackoff:         10 * time.Millisecond,
	}, handler)
	if err := w2.Start(ctx); err != nil {
		t.Fatalf("start relaunched worker: %v", err)
	}
	t.Cleanup(func() { w2.Shutdown(context.Background()) })

	waitUntil(t, func() bool { return atomic.LoadInt64(&secondSeen) == 1 })

	size, err := c.QSize(ctx, "q")
	if err != nil {
		t.Fatal(err)
	}
	if size != 0 {
		t.Fatalf("expected queue drained after relaunch, got %d outstanding", size)
	}
}

func TestWorkerNackOnRestartRequestDeadLettersMessage(t *testing.T) {
	c, mr := newTestClient(t, Config{})
	ctx := context.Background()

	if _, err := c.Enqueue(ctx, NewMessage([]byte("x"), Queue("q"))); err != nil {
		t.Fatal(err)
	}

	handler := HandlerFunc(func(ctx context.Context, msg *Message) Outcome {
		return RequestRestart()
	})

	w := NewWorker(c, WorkerConfig{
		Concurrency:          1,
		Queues:               []string{"q"},
		MinRefreshInterval:   time.Millisecond,
		MaxBackoff:           10 * time.Millisecond,
		NackOnRestartRequest: true,
	}, handler)

	code, err := w.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if code != RestartExitCode {
		t.Fatalf("expected exit code %d, got %d", RestartExitCode, code)
	}

	size, err := c.QSize(ctx, "q")
	if err != nil {
		t.Fatal(err)
	}
	if size != 0 {
		t.Fatalf("expected message moved to DLQ, got %d outstanding", size)
	}
	if !mr.Exists("dramatiq:q.XQ") {
		t.Fatalf("expected the message in the dead-letter queue dramatiq:q.XQ")
	}
}

// TestWorkerMaxTasksPerChildTriggersRestart mirrors spec.md §8 scenario 5:
// with max_tasks_per_child=3, a worker processes 3 of 10 enqueued tasks
// then exits with RestartExitCode; a relaunched worker (sharing the same
// broker) processes the remaining 7.
func TestWorkerMaxTasksPerChildTriggersRestart(t *testing.T) {
	c, _ := newTestClient(t, Config{})
	ctx := context.Background()

	const total = 10
	const limit = 3
	for i := 0; i < total; i++ {
		if _, err := c.Enqueue(ctx, NewMessage([]byte("x"), Queue("q"))); err != nil {
			t.Fatal(err)
		}
	}

	newWorker := func(processed *int64, maxTasksPerChild int) *Worker {
		handler := HandlerFunc(func(ctx context.Context, msg *Message) Outcome {
			atomic.AddInt64(processed, 1)
			return Success()
		})
		return NewWorker(c, WorkerConfig{
			Concurrency:        1,
			Queues:             []string{"q"},
			MinRefreshInterval: time.Millisecond,
			MaxBackoff:         10 * time.Millisecond,
			MaxTasksPerChild:   maxTasksPerChild,
		}, handler)
	}

	var firstProcessed int64
	w1 := newWorker(&firstProcessed, limit)
	code, err := w1.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if code != RestartExitCode {
		t.Fatalf("expected exit code %d, got %d", RestartExitCode, code)
	}
	if firstProcessed != limit {
		t.Fatalf("expected first worker to process %d tasks, got %d", limit, firstProcessed)
	}

	// The relaunched worker has no per-child cap of its own; it drains the
	// remainder in one run, matching the scenario's "processes the
	// remaining 7" (rather than restarting again itself).
	var secondProcessed int64
	w2 := newWorker(&secondProcessed, 0)
	if err := w2.Start(ctx); err != nil {
		t.Fatalf("start relaunched worker: %v", err)
	}
	t.Cleanup(func() { w2.Shutdown(context.Background()) })

	waitUntil(t, func() bool { return atomic.LoadInt64(&secondProcessed) >= total-limit })

	size, err := c.QSize(ctx, "q")
	if err != nil {
		t.Fatal(err)
	}
	if size != 0 {
		t.Fatalf("expected queue drained after relaunch, got %d outstanding", size)
	}
}

// TestWorkerShutdownRequeuesUnfinishedWork calls Shutdown while a
// single-concurrency worker's executor is permanently blocked processing
// the first of four prefetched messages, so the other three are still
// somewhere between the consumer's buffer and the worker's dispatch
// channel when the drain begins. It verifies Shutdown requeues every one of
// them rather than only the ones the consumer itself was still holding.
func TestWorkerShutdownRequeuesUnfinishedWork(t *testing.T) {
	c, _ := newTestClient(t, Config{})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, err := c.Enqueue(ctx, NewMessage([]byte("x"), Queue("q"))); err != nil {
			t.Fatal(err)
		}
	}

	block := make(chan struct{})
	var started int64
	handler := HandlerFunc(func(ctx context.Context, msg *Message) Outcome {
		atomic.AddInt64(&started, 1)
		<-block // never released: simulates a handler that hangs
		return Success()
	})

	w := NewWorker(c, WorkerConfig{
		Concurrency:        1,
		Queues:             []string{"q"},
		Prefetch:           4,
		MinRefreshInterval: time.Millisecond,
		MaxBackoff:         10 * time.Millisecond,
		ShutdownGrace:      150 * time.Millisecond,
	}, handler)
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { close(block) })

	// Wait for the sole executor to be wedged on the first message, and
	// give the consumer's fetch loop time to have pulled the rest into its
	// buffer and the worker's dispatch channel.
	waitUntil(t, func() bool { return atomic.LoadInt64(&started) == 1 })
	time.Sleep(30 * time.Millisecond)

	if err := w.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	// Nothing is lost. QSize is HLEN(msgs) + ZCARD(this worker's ack group):
	// all 4 messages still have stored payloads (none were ever acked), and
	// the one still wedged inside the handler is still counted in the ack
	// group on top of that, so the total is 5, not 4 — the double-count is
	// the documented qsize quirk, not a leak.
	size, err := c.QSize(ctx, "q")
	if err != nil {
		t.Fatal(err)
	}
	if size != 5 {
		t.Fatalf("expected 4 stored messages plus 1 still-held ack-group entry, got %d", size)
	}

	// And concretely: the three unfinished-but-not-yet-dispatched messages
	// are genuinely back in the pending set, not merely still counted.
	refetched, err := c.fetch(ctx, "q", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(refetched) != 3 {
		t.Fatalf("expected 3 requeued messages to be fetchable, got %d", len(refetched))
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for condition")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
