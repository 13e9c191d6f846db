// Copyright 2024 The redisq Authors. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package redisq

import "context"

// Handler processes one Message and reports how it went. Process must not
// block past ctx's deadline. A Worker passes the ctx given to Start (or Run)
// and does not cancel it on Shutdown; in-flight calls are left to finish.
type Handler interface {
	Process(ctx context.Context, msg *Message) Outcome
}

// HandlerFunc adapts a function to a Handler.
type HandlerFunc func(ctx context.Context, msg *Message) Outcome

// Process calls fn(ctx, msg).
func (fn HandlerFunc) Process(ctx context.Context, msg *Message) Outcome {
	return fn(ctx, msg)
}
