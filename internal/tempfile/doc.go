// Package tempfile manages request-scoped scratch files.
// Every path a Manager hands out or is told about is removed by ReleaseAll,
// which is best effort and never fails the caller.
package tempfile
