// Package audio holds the PCM and WAV helpers shared by the transcoder and the recognizers.
// PCM here always means mono signed 16-bit little-endian samples.
package audio
