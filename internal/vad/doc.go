// Package vad provides speech presence detection on PCM buffers.
// It scores fixed-size windows by RMS energy and reports whether enough of the
// buffer carries voice to be worth sending to a recognizer.
package vad
