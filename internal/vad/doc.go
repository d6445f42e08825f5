// Package vad classifies assembled audio chunks as speech or silence using
// RMS energy and peak amplitude thresholds, so silent chunks never reach
// the transcription engine.
package vad
