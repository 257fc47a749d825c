// Copyright (c) LLMFlow Authors.
// Licensed under the MIT License.

// Package budget tracks dollar spend across nested scopes.
//
// A Ledger owns every Scope opened through it. Scopes nest by lifetime:
// Open puts the new scope on the returned context, and a charge against
// a scope is attributed to it and to every still-open ancestor in one
// atomic step. Caps are enforced two ways: Precheck blocks the next
// call once a capped scope is strictly over its cap, and Charge reports
// BUDGET_EXCEEDED after recording a charge that pushed a cap over.
// Cost is only known after the remote call has happened, so the charge
// that crosses the cap is detected, never prevented; only subsequent
// calls are blocked.
//
// The ledger is an injectable shared object. All state is guarded by a
// single mutex; no lock is held while any caller is suspended.
package budget
