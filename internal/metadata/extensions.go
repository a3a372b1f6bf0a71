// Package metadata extracts audiobook metadata from audio files using
// embedded tags, with ffprobe as an optional source for duration and
// technical details.
package metadata

import (
	"path/filepath"
	"strings"
)

// AudiobookExtensions defines the audio formats recognized as audiobooks.
// Keys are lowercase extensions without the leading dot.
var AudiobookExtensions = map[string]bool{
	"mp3":  true,
	"m4a":  true,
	"m4b":  true,
	"flac": true,
	"ogg":  true,
	"wav":  true,
	"aac":  true,
}

// DefaultExtensions returns the default extension set as a slice, suitable
// for scanner configuration.
func DefaultExtensions() []string {
	exts := make([]string, 0, len(AudiobookExtensions))
	for ext := range AudiobookExtensions {
		exts = append(exts, ext)
	}
	return exts
}

// IsAudiobookFile checks if a file has a supported audiobook extension
func IsAudiobookFile(filename string) bool {
	return AudiobookExtensions[NormalizeExtension(filepath.Ext(filename))]
}

// NormalizeExtension lowercases an extension and strips the leading dot
func NormalizeExtension(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}
