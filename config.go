// Copyright 2024 The redisq Authors. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package redisq

import (
	"os"
	"strconv"
	"time"

	"github.com/redisq/redisq/internal/base"
	"github.com/redisq/redisq/internal/clock"
	"github.com/redisq/redisq/internal/log"
)

// defaultPriorityEnvVar is read once at Client construction if
// Config.DefaultPriority is nil (spec.md §6).
const defaultPriorityEnvVar = "dramatiq_actor_default_priority"

// Level is a logging severity, re-exported from internal/log so callers can
// set Config.LogLevel without importing an internal package.
type Level = log.Level

const (
	DebugLevel = log.DebugLevel
	InfoLevel  = log.InfoLevel
	WarnLevel  = log.WarnLevel
	ErrorLevel = log.ErrorLevel
	FatalLevel = log.FatalLevel
)

// Logger is the logging interface a caller can implement to redirect
// redisq's log output, re-exported from internal/log.
type Logger = log.Base

const (
	defaultNamespace              = "dramatiq"
	defaultHeartbeatTimeout       = 60 * time.Second
	defaultDeadMessageTTL         = 7 * 24 * time.Hour
	defaultMaintenanceProbability = 0.01
	defaultShutdownGrace          = 10 * time.Second
	minRefreshInterval            = 50 * time.Millisecond
	maxBackoff                    = time.Second
)

// Config configures a Client (the Broker Client of spec.md §4.2).
type Config struct {
	// Namespace prefixes every Redis key redisq touches. Defaults to
	// "dramatiq" for compatibility with deployments migrating from it.
	Namespace string

	// HeartbeatTimeout is the duration after which a worker with no
	// refreshed heartbeat is considered dead by maintenance.
	HeartbeatTimeout time.Duration

	// DeadMessageTTL is how long a dead-lettered message survives before
	// maintenance evicts it.
	DeadMessageTTL time.Duration

	// MaintenanceProbability is the chance, in (0, 1], that any given
	// broker call also performs the maintenance sweep.
	MaintenanceProbability float64

	// DefaultPriority is used for messages enqueued without an explicit
	// Priority option. If nil, it is read once from the
	// dramatiq_actor_default_priority environment variable, defaulting to
	// 0 if that is unset or unparsable.
	DefaultPriority *int64

	// Logger specifies the logger used by the client and any worker built
	// from it. If unset, a default logger writing to stderr is used.
	Logger log.Base

	// LogLevel specifies the minimum log level to enable. Defaults to
	// InfoLevel if nil; a non-nil DebugLevel is honored explicitly.
	LogLevel *Level

	// Clock supplies the time source used to stamp heartbeat and
	// maintenance calls (internal/clock.Clock). Defaults to the system
	// clock; tests inject a simulated one to exercise heartbeat-timeout
	// and DLQ-TTL expiry without sleeping.
	Clock clock.Clock
}

func (c Config) namespace() string {
	if c.Namespace == "" {
		return defaultNamespace
	}
	return c.Namespace
}

func (c Config) heartbeatTimeout() time.Duration {
	if c.HeartbeatTimeout <= 0 {
		return defaultHeartbeatTimeout
	}
	return c.HeartbeatTimeout
}

func (c Config) deadMessageTTL() time.Duration {
	if c.DeadMessageTTL <= 0 {
		return defaultDeadMessageTTL
	}
	return c.DeadMessageTTL
}

func (c Config) maintenanceProbability() float64 {
	if c.MaintenanceProbability <= 0 || c.MaintenanceProbability > 1 {
		return defaultMaintenanceProbability
	}
	return c.MaintenanceProbability
}

func (c Config) defaultPriority() int64 {
	if c.DefaultPriority != nil {
		return *c.DefaultPriority
	}
	if v, ok := os.LookupEnv(defaultPriorityEnvVar); ok {
		if p, err := strconv.ParseInt(v, 10, 64); err == nil {
			return p
		}
	}
	return 0
}

// WorkerConfig configures a Worker (spec.md §4.4).
type WorkerConfig struct {
	// Concurrency is the number of executor goroutines. Defaults to
	// runtime.NumCPU() if unset.
	Concurrency int

	// Queues lists the queues this worker's consumers subscribe to. At
	// least one is required; defaults to base.DefaultQueueName.
	Queues []string

	// Prefetch bounds each consumer's in-memory buffer. Defaults to
	// 2*Concurrency, per spec.md §6.
	Prefetch int

	// MaxTasksPerChild, if greater than zero, restarts the worker after
	// this many completed messages (spec.md §4.5). Zero disables it.
	MaxTasksPerChild int

	// NackOnRestartRequest controls whether a message that returned
	// OutcomeRestartRequested is nacked (true) instead of the default
	// behavior of acking it. The zero value acks, per spec.md §4.4 item 3.
	NackOnRestartRequest bool

	// ShutdownGrace bounds how long Shutdown waits for in-flight messages
	// to finish. When it passes, Shutdown marks the worker exited and
	// returns; Handler calls still running are not cancelled and the
	// process is not exited.
	ShutdownGrace time.Duration

	// MinRefreshInterval is the minimum time between a consumer's
	// low-watermark refills, preventing a hot loop when the buffer drains
	// just below prefetch/2 repeatedly.
	MinRefreshInterval time.Duration

	// MaxBackoff caps the exponential backoff used when polling an empty
	// queue.
	MaxBackoff time.Duration

	// HeartbeatInterval is how often the worker refreshes its heartbeat
	// entry independent of Consumer fetch traffic. Defaults to 15s.
	HeartbeatInterval time.Duration

	// HealthcheckInterval is how often the worker pings the broker to
	// invoke HealthcheckFunc. Defaults to 15s.
	HealthcheckInterval time.Duration

	// HealthcheckFunc, if set, is called with the result of each broker
	// ping on HealthcheckInterval. A nil error means the broker is
	// reachable.
	HealthcheckFunc func(error)
}

func (c WorkerConfig) queues() []string {
	if len(c.Queues) == 0 {
		return []string{base.DefaultQueueName}
	}
	return c.Queues
}

func (c WorkerConfig) prefetch(concurrency int) int {
	if c.Prefetch <= 0 {
		return 2 * concurrency
	}
	return c.Prefetch
}

func (c WorkerConfig) shutdownGrace() time.Duration {
	if c.ShutdownGrace <= 0 {
		return defaultShutdownGrace
	}
	return c.ShutdownGrace
}

func (c WorkerConfig) minRefreshInterval() time.Duration {
	if c.MinRefreshInterval <= 0 {
		return minRefreshInterval
	}
	return c.MinRefreshInterval
}

func (c WorkerConfig) maxBackoff() time.Duration {
	if c.MaxBackoff <= 0 {
		return maxBackoff
	}
	return c.MaxBackoff
}
