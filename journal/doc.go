// Copyright (c) LLMFlow Authors.
// Licensed under the MIT License.

// Package journal persists finalized call records.
//
// A Store implements envelope.Sink: every record the envelope
// finalizes is flattened into one row. Appends are idempotent on the
// call ID, so a sink retry never double counts. On top of the rows the
// store answers the two questions operators actually ask: what ran
// recently (Recent) and what did each endpoint consume (
// SummarizeByEndpoint).
//
// The schema is owned by internal/migration; AutoMigrate exists for
// development and tests. Open dials postgres, mysql or sqlite from one
// options struct.
package journal
