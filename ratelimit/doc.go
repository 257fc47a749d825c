// Copyright (c) LLMFlow Authors.
// Licensed under the MIT License.

// Package ratelimit gates outgoing calls per endpoint.
//
// A Limiter owns one endpoint's fixed accounting window: at most R
// requests and K estimated tokens are admitted per period. Callers that
// do not fit suspend on Admit — never spin, never drop — queued FIFO so
// the first caller to ask is the first admitted. After the real call
// completes, Reconcile trues up the window's token counter with the
// actual usage; the adjustment only affects subsequent admission and
// never re-blocks a call that already ran.
//
// No lock is held while a caller is suspended. The critical sections
// touch only the counters and the waiter queue.
package ratelimit
