// Copyright 2024 The redisq Authors. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package redisq

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redisq/redisq/internal/base"
	"github.com/redisq/redisq/internal/log"
)

// WorkerState is a state in the restart lifecycle of spec.md §4.4:
// Running -> RestartPending -> Draining -> Exit(3). A plain graceful
// Shutdown (no restart requested) goes Running -> Draining -> Exit(0).
type WorkerState int32

const (
	WorkerNew WorkerState = iota
	WorkerRunning
	WorkerRestartPending
	WorkerDraining
	WorkerExited
)

func (s WorkerState) String() string {
	switch s {
	case WorkerNew:
		return "new"
	case WorkerRunning:
		return "running"
	case WorkerRestartPending:
		return "restart_pending"
	case WorkerDraining:
		return "draining"
	case WorkerExited:
		return "exited"
	default:
		return "unknown"
	}
}

// RestartExitCode is the process exit code a supervisor (systemd, a
// container orchestrator, dramatiq's own process-restart loop) should watch
// for to know a recycle, rather than a crash, is what happened.
const RestartExitCode = 3

// errWorkerClosed indicates the operation is illegal because the worker has
// already exited.
var errWorkerClosed = fmt.Errorf("redisq: worker closed")

// Worker is the process coordinator of spec.md §4.4: it owns one Consumer
// per configured queue, a pool of executor goroutines that run a Handler
// against fetched messages, a middleware chain observing that dispatch, and
// the restart state machine that lets task code or a middleware recycle the
// process cleanly.
type Worker struct {
	client  *Client
	cfg     WorkerConfig
	handler Handler
	chain   *middlewareChain
	logger  *log.Logger

	consumers     []*Consumer
	work          chan dispatch
	heartbeater   *heartbeater
	healthchecker *healthchecker

	state       atomic.Int32
	exitCode    atomic.Int32
	restartOnce sync.Once
	drainOnce   sync.Once

	drainCh  chan struct{}
	exitedCh chan struct{}

	// wg tracks executors, the heartbeater, and the healthchecker. pumpWG
	// tracks pump goroutines separately, so Shutdown can wait for every
	// producer of work to stop before it is safe to close and drain work.
	wg     sync.WaitGroup
	pumpWG sync.WaitGroup
}

type dispatch struct {
	queue string
	msg   *base.Message
}

// NewWorker returns a Worker bound to c, configured by cfg. RestartOnRequest
// is always registered; MaxTasksPerChild is registered additionally when
// cfg.MaxTasksPerChild is positive. extra middlewares run after both, in the
// order given.
func NewWorker(c *Client, cfg WorkerConfig, handler Handler, extra ...Middleware) *Worker {
	w := &Worker{
		client:   c,
		cfg:      cfg,
		handler:  handler,
		logger:   c.logger,
		drainCh:  make(chan struct{}),
		exitedCh: make(chan struct{}),
	}
	w.state.Store(int32(WorkerNew))

	restarter := NewRestartOnRequest()
	restarter.bind(w)
	mws := []Middleware{restarter}
	if cfg.MaxTasksPerChild > 0 {
		mtc := NewMaxTasksPerChild(cfg.MaxTasksPerChild)
		mtc.bind(w)
		mws = append(mws, mtc)
	}
	mws = append(mws, extra...)
	w.chain = newMiddlewareChain(mws...)
	return w
}

// State returns the Worker's current lifecycle state.
func (w *Worker) State() WorkerState {
	return WorkerState(w.state.Load())
}

// ExitCode returns the process exit code recorded when the worker last
// exited: 0 for a plain Shutdown, RestartExitCode when a restart was
// requested. Only meaningful after Wait returns.
func (w *Worker) ExitCode() int {
	return int(w.exitCode.Load())
}

// Start launches the worker's consumers and executor pool.
func (w *Worker) Start(ctx context.Context) error {
	if !w.state.CompareAndSwap(int32(WorkerNew), int32(WorkerRunning)) {
		return fmt.Errorf("redisq: worker already started")
	}
	concurrency := w.cfg.Concurrency
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}
	prefetch := w.cfg.prefetch(concurrency)
	minRefresh := w.cfg.minRefreshInterval()
	maxBackoff := w.cfg.maxBackoff()

	w.work = make(chan dispatch, concurrency)

	for _, q := range w.cfg.queues() {
		con := w.client.Consume(q, prefetch, minRefresh, maxBackoff)
		con.chain = w.chain
		con.Start(ctx)
		w.consumers = append(w.consumers, con)

		w.pumpWG.Add(1)
		go w.pump(ctx, con)
	}

	for i := 0; i < concurrency; i++ {
		w.wg.Add(1)
		go w.execute(ctx)
	}

	w.heartbeater = newHeartbeater(w.client, w.cfg.queues()[0], w.cfg.HeartbeatInterval)
	w.heartbeater.start(&w.wg)

	w.healthchecker = newHealthChecker(w.client, w.cfg.HealthcheckInterval, w.cfg.HealthcheckFunc)
	w.healthchecker.start(&w.wg)

	w.logger.Infof("worker started: queues=%v concurrency=%d prefetch=%d", w.cfg.queues(), concurrency, prefetch)
	return nil
}

// pump feeds one consumer's messages into the shared work channel until the
// worker starts draining.
func (w *Worker) pump(ctx context.Context, con *Consumer) {
	defer w.pumpWG.Done()
	for {
		msg, err := con.Next(ctx)
		if err != nil {
			return
		}
		select {
		case w.work <- dispatch{queue: con.queue, msg: msg}:
		case <-w.drainCh:
			requeueNow(w.client, con.queue, []*base.Message{msg})
			return
		}
	}
}

func (w *Worker) execute(ctx context.Context) {
	defer w.wg.Done()
	for {
		// requestRestart and drain leave WorkerRunning synchronously, before
		// drainCh is closed; checking here keeps this executor from taking
		// one more message after a restart was requested.
		if w.State() != WorkerRunning {
			return
		}
		select {
		case d, ok := <-w.work:
			if !ok {
				return
			}
			w.process(ctx, d)
		case <-w.drainCh:
			return
		}
	}
}

func (w *Worker) process(ctx context.Context, d dispatch) {
	msg := &Message{id: d.msg.ID, queue: d.queue, priority: d.msg.Priority, payload: d.msg.Payload}
	w.chain.fireBeforeProcess(msg)
	outcome := w.handler.Process(ctx, msg)
	w.chain.fireAfterProcess(msg, outcome)

	switch outcome.Kind {
	case OutcomeSuccess:
		if err := w.client.Ack(ctx, d.queue, msg.id); err != nil {
			w.logger.Errorf("worker: ack failed for %s/%s: %v", d.queue, msg.id, err)
		}
	case OutcomeRetryable:
		// Left un-acked; an external retry policy (or maintenance's
		// heartbeat-timeout recovery, absent one) resolves it.
	case OutcomeTerminal:
		if err := w.client.Nack(ctx, d.queue, msg.id); err != nil {
			w.logger.Errorf("worker: nack failed for %s/%s: %v", d.queue, msg.id, err)
		}
	case OutcomeRestartRequested:
		if w.cfg.NackOnRestartRequest {
			if err := w.client.Nack(ctx, d.queue, msg.id); err != nil {
				w.logger.Errorf("worker: nack failed for %s/%s: %v", d.queue, msg.id, err)
			}
		} else if err := w.client.Ack(ctx, d.queue, msg.id); err != nil {
			w.logger.Errorf("worker: ack failed for %s/%s: %v", d.queue, msg.id, err)
		}
	}
}

// requeueStranded drains any dispatches left in a closed work channel and
// requeues them grouped by queue. It runs only after every pump has stopped
// sending, so ranging over the closed channel terminates.
func requeueStranded(c *Client, work chan dispatch) {
	byQueue := make(map[string][]*base.Message)
	for d := range work {
		byQueue[d.queue] = append(byQueue[d.queue], d.msg)
	}
	for queue, msgs := range byQueue {
		requeueNow(c, queue, msgs)
	}
}

// requestRestart implements restartSignaler. It is called by
// RestartOnRequest and MaxTasksPerChild and moves the worker from Running to
// RestartPending exactly once, then begins draining toward
// RestartExitCode.
func (w *Worker) requestRestart() {
	w.restartOnce.Do(func() {
		w.state.CompareAndSwap(int32(WorkerRunning), int32(WorkerRestartPending))
		w.exitCode.Store(int32(RestartExitCode))
		w.logger.Info("worker: restart requested, draining")
		go w.drain()
	})
}

// Stop signals the worker to stop pulling new work, without waiting for
// in-flight messages. Shutdown should be called afterward to wait for the
// drain to complete.
func (w *Worker) Stop() {
	w.drain()
}

func (w *Worker) drain() {
	w.drainOnce.Do(func() {
		w.state.CompareAndSwap(int32(WorkerRunning), int32(WorkerDraining))
		w.state.CompareAndSwap(int32(WorkerRestartPending), int32(WorkerDraining))
		close(w.drainCh)
	})
}

// Shutdown gracefully stops the worker: it stops fetching new messages,
// waits up to cfg.ShutdownGrace for in-flight Handler calls and consumer
// drains to finish, then exits. It is safe to call more than once.
func (w *Worker) Shutdown(ctx context.Context) error {
	if w.state.Load() == int32(WorkerExited) {
		return errWorkerClosed
	}
	w.drain()

	w.heartbeater.shutdown()
	w.healthchecker.shutdown()

	done := make(chan struct{})
	go func() {
		for _, con := range w.consumers {
			if err := con.Close(ctx); err != nil {
				w.logger.Errorf("worker: consumer close failed for %s: %v", con.queue, err)
			}
		}
		// Each consumer's Close has closed its buffer, which ends its pump's
		// Next; once pumpWG.Wait returns no one else sends on w.work.
		// Closing it here lets idle executors exit via their <-w.work case
		// and surfaces anything a busy executor never got to pick up.
		w.pumpWG.Wait()
		close(w.work)
		requeueStranded(w.client, w.work)

		w.wg.Wait()
		close(done)
	}()

	grace := w.cfg.shutdownGrace()
	select {
	case <-done:
	case <-time.After(grace):
		w.logger.Warnf("worker: shutdown grace period (%s) exceeded, exiting anyway", grace)
	}

	w.state.Store(int32(WorkerExited))
	close(w.exitedCh)
	if err := w.client.Close(); err != nil {
		return err
	}
	return nil
}

// Wait blocks until the worker has exited (either via Shutdown or a
// self-initiated restart drain) and returns its exit code.
func (w *Worker) Wait() int {
	<-w.exitedCh
	return w.ExitCode()
}

// Run starts the worker, blocks until it drains (either because
// restart-triggering code ran, or ctx was canceled), then shuts it down and
// returns its ExitCode. Callers embedding redisq in a longer-lived process
// typically call Start/Shutdown directly instead.
func (w *Worker) Run(ctx context.Context) (int, error) {
	if err := w.Start(ctx); err != nil {
		return 0, err
	}
	select {
	case <-w.drainCh:
	case <-ctx.Done():
	}
	if err := w.Shutdown(context.Background()); err != nil {
		return w.ExitCode(), err
	}
	return w.ExitCode(), nil
}

// RunWithSignals starts the worker and blocks until it receives SIGTERM or
// SIGINT (SIGTSTP pauses consumption via Stop without exiting), or until a
// restart is requested from within, then shuts down and returns ExitCode.
func (w *Worker) RunWithSignals(ctx context.Context) (int, error) {
	if err := w.Start(ctx); err != nil {
		return 0, err
	}
	sigDone := make(chan struct{})
	go func() {
		w.waitForSignals()
		close(sigDone)
	}()
	select {
	case <-sigDone:
	case <-w.drainCh:
		// Stop (SIGTSTP) also closes drainCh; only a restart request ends
		// the wait here, a stopped worker keeps waiting for SIGTERM/SIGINT.
		if w.ExitCode() != RestartExitCode {
			<-sigDone
		}
	}
	if err := w.Shutdown(context.Background()); err != nil {
		return w.ExitCode(), err
	}
	return w.ExitCode(), nil
}
