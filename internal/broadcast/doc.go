// Package broadcast fans transcription and status events out to connected
// subscribers. Slow consumers never stall the pipeline: each subscriber has
// a bounded buffer, and one that stays full past the send timeout is
// dropped.
package broadcast
