// Package stream manages WebSocket streaming sessions. Each session owns the
// recognizer session of its current utterance, and idle sessions are removed
// by a periodic cleanup routine.
package stream
