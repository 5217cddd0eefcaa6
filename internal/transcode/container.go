package transcode

import (
	"bytes"
	"mime"
	"path/filepath"
	"strings"

	"github.com/Heliossandro/projeto-transcricao/internal/audio"
)

// Container hints understood by the transcoder
const (
	HintPCM  = "pcm"
	HintWAV  = "wav"
	HintWebM = "webm"
	HintOgg  = "ogg"
	HintMP3  = "mp3"
	HintMP4  = "mp4"
)

var mimeHints = map[string]string{
	"audio/webm":     HintWebM,
	"video/webm":     HintWebM,
	"audio/ogg":      HintOgg,
	"audio/opus":     HintOgg,
	"audio/wav":      HintWAV,
	"audio/wave":     HintWAV,
	"audio/x-wav":    HintWAV,
	"audio/vnd.wave": HintWAV,
	"audio/mpeg":     HintMP3,
	"audio/mp3":      HintMP3,
	"audio/mp4":      HintMP4,
	"audio/x-m4a":    HintMP4,
	"audio/l16":      HintPCM,
	"audio/pcm":      HintPCM,
}

var extHints = map[string]string{
	".webm":  HintWebM,
	".ogg":   HintOgg,
	".opus":  HintOgg,
	".oga":   HintOgg,
	".wav":   HintWAV,
	".wave":  HintWAV,
	".mp3":   HintMP3,
	".mp4":   HintMP4,
	".m4a":   HintMP4,
	".pcm":   HintPCM,
	".raw":   HintPCM,
	".s16le": HintPCM,
}

// DetectContainer guesses the container of an upload. Magic bytes win over
// the declared content type, which wins over the file name.
func DetectContainer(data []byte, contentType, filename string) string {
	switch {
	case audio.IsWAV(data):
		return HintWAV
	case bytes.HasPrefix(data, []byte{0x1A, 0x45, 0xDF, 0xA3}):
		return HintWebM
	case bytes.HasPrefix(data, []byte("OggS")):
		return HintOgg
	case bytes.HasPrefix(data, []byte("ID3")):
		return HintMP3
	}

	if contentType != "" {
		if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
			if hint, ok := mimeHints[strings.ToLower(mediaType)]; ok {
				return hint
			}
		}
	}

	if hint, ok := extHints[strings.ToLower(filepath.Ext(filename))]; ok {
		return hint
	}

	return ""
}

// NormalizeHint maps user supplied format names onto known hints
func NormalizeHint(hint string) string {
	hint = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(hint), "."))
	switch hint {
	case "s16le", "raw", "l16":
		return HintPCM
	case "wave", "x-wav":
		return HintWAV
	case "opus", "oga":
		return HintOgg
	case "m4a":
		return HintMP4
	}
	return hint
}

func suffixFor(hint string) string {
	if hint == "" {
		return ".bin"
	}
	return "." + hint
}
