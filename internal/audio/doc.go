// Package audio provides the capture source abstraction, fixed-duration
// overlapping chunk assembly, and WAV encoding for the transcription pipeline.
// Samples are mono float32 in [-1, 1] at a fixed configured rate.
package audio
