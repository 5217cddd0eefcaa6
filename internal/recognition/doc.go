// Package recognition turns PCM audio into text.
//
// An Engine is a speech recognition backend (OpenAI, a Whisper compatible HTTP
// endpoint or a local Vosk model). Engines only hand out Sessions; every request
// or streaming connection owns its own Session so partial hypotheses never mix
// between callers. The Adapter bounds the number of open sessions, enforces the
// minimum audio length and maps backend failures onto the package sentinel errors.
package recognition
