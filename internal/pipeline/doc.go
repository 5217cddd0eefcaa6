// Package pipeline runs one recording through the service:
// validate, transcode, speech gate, recognize, translate and respond.
//
// Every run owns its temp file manager and recognizer session. Temp files
// are released on every exit path, including a recovered panic. Failures are
// reported as a tagged Outcome with a configurable user-facing message rather
// than as Go errors.
package pipeline
