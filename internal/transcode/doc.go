// Package transcode converts browser recordings into mono 16 kHz s16le PCM.
//
// Conversion is delegated to an external media converter (ffmpeg) through a
// Runner. A Transcoder tries an ordered list of strategies and records a typed
// Attempt for each one; when every strategy fails the Result carries an empty
// PCM buffer rather than an error, and the caller decides how to report it.
package transcode
