// Copyright 2024 The redisq Authors. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package redisq

// OutcomeKind classifies how a Handler finished processing a Message.
//
// Handler failures are routed explicitly through this type rather than via
// a distinguished error value threaded through the normal error return, so
// that "the user asked to restart the worker" can never be confused with
// "the task failed and should go to the DLQ" (spec.md §9 design note on
// exception-as-signal).
type OutcomeKind int

const (
	// OutcomeSuccess indicates the Handler completed without error.
	OutcomeSuccess OutcomeKind = iota

	// OutcomeRetryable indicates a failure that an external retry policy
	// should handle; redisq itself does not retry (spec.md §7 taxonomy,
	// item 3). The message is left un-acked for the retry middleware to
	// resolve.
	OutcomeRetryable

	// OutcomeTerminal indicates a poison or non-retryable failure; the
	// message is nacked and moves to the dead-letter queue.
	OutcomeTerminal

	// OutcomeRestartRequested indicates the task asked the worker process
	// to recycle itself (spec.md §4.4 item 3). The message is completed
	// (acked, by default) and the worker transitions to RestartPending.
	OutcomeRestartRequested
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeTerminal:
		return "terminal"
	case OutcomeRestartRequested:
		return "restart_requested"
	default:
		return "unknown"
	}
}

// Outcome is the result of a Handler processing one Message.
type Outcome struct {
	Kind OutcomeKind
	Err  error
}

// Success reports that the Handler completed successfully.
func Success() Outcome { return Outcome{Kind: OutcomeSuccess} }

// Retryable reports a failure an external retry policy should act on.
func Retryable(err error) Outcome { return Outcome{Kind: OutcomeRetryable, Err: err} }

// Terminal reports a poison failure; the message is dead-lettered.
func Terminal(err error) Outcome { return Outcome{Kind: OutcomeTerminal, Err: err} }

// RequestRestart reports that task code asked to recycle the worker
// process. Equivalent to raising dramatiq's RestartRequested exception.
func RequestRestart() Outcome { return Outcome{Kind: OutcomeRestartRequested} }
