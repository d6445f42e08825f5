// Package session owns the capture lifecycle. The controller runs at most
// one session at a time: it opens the audio source, feeds frames through
// chunk assembly and the activity gate into the inference scheduler, and
// pumps ordered results to the broadcaster and the transcript store. Stop
// drains in-flight work before the controller returns to idle.
package session
