// Package server exposes the HTTP API: capture control, status and
// transcript queries, Prometheus metrics, and a WebSocket endpoint that
// streams transcription and status events to clients.
package server
