// Package transcription sends speech chunks to an inference endpoint and
// restores result ordering. The Client speaks multipart HTTP to the engine;
// the Scheduler runs a bounded worker pool in front of it and releases
// results strictly in submission order regardless of per-call latency.
package transcription
