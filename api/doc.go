// Package api defines the wire types of the LLMFlow ops API.
//
// This package contains the request/response DTOs shared by the HTTP
// handlers, the configuration API and the websocket event feed.
//
// # API Overview
//
// LLMFlow exposes a small operational API for:
//   - Managed LLM invocations (admission, retry, budget, journal)
//   - Usage and call-record queries backed by the call journal
//   - Live call-record events over websocket
//   - Configuration inspection and hot reload
//   - Health monitoring and metrics
//
// # Authentication
//
// Ops endpoints accept a bearer token when auth is enabled:
//
//	Authorization: Bearer <jwt>
//
// The configuration API additionally supports the X-API-Key header.
//
// # Base URL
//
// The default base URL for the API is:
//
//	http://localhost:8080
//
// # Response Envelope
//
// Every JSON endpoint answers with the same envelope:
//
//	{
//	  "success": true,
//	  "data": { ... },
//	  "timestamp": "2026-08-25T10:00:00Z",
//	  "request_id": "req-123"
//	}
//
// Failures carry an error object instead of data; its code field is the
// string form of a types.ErrorCode.
package api
