// Package mediaprobe classifies raw attachment metadata reported by a media
// source into media items.
//
// Classification is a pure function over metadata: it never touches the
// network or the filesystem. Missing or contradictory metadata is never an
// error; the item falls back to a document with a name derived from its ID
// and is flagged Ambiguous so callers can surface it.
package mediaprobe

import (
	"strings"

	"github.com/fpang/media-bundler/internal/media"
)

// PhotoExtensions maps photo file extensions to MIME types.
var PhotoExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".heic": "image/heic",
	".heif": "image/heif",
}

// VideoExtensions maps video file extensions to MIME types.
var VideoExtensions = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/x-m4v",
	".mov":  "video/quicktime",
	".avi":  "video/x-msvideo",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
	".3gp":  "video/3gpp",
}

// AudioExtensions maps audio file extensions to MIME types.
var AudioExtensions = map[string]string{
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".wav":  "audio/wav",
	".ogg":  "audio/ogg",
	".oga":  "audio/ogg",
	".opus": "audio/opus",
	".flac": "audio/flac",
}

// mimeExtensions is the preferred extension for a MIME type when the source
// reports no filename.
var mimeExtensions = map[string]string{
	"image/jpeg":       ".jpg",
	"image/png":        ".png",
	"image/gif":        ".gif",
	"image/webp":       ".webp",
	"video/mp4":        ".mp4",
	"video/quicktime":  ".mov",
	"video/webm":       ".webm",
	"video/x-matroska": ".mkv",
	"audio/mpeg":       ".mp3",
	"audio/mp4":        ".m4a",
	"audio/ogg":        ".ogg",
	"audio/wav":        ".wav",
	"application/pdf":  ".pdf",
	"application/zip":  ".zip",
	"text/plain":       ".txt",
}

// kindDefaults are the extensions used when a kind is known but nothing else is.
var kindDefaults = map[media.Kind]string{
	media.KindPhoto: ".jpg",
	media.KindVideo: ".mp4",
	media.KindAudio: ".mp3",
}

// IsPhoto returns true if the file extension corresponds to a photo.
func IsPhoto(ext string) bool {
	_, ok := PhotoExtensions[strings.ToLower(ext)]
	return ok
}

// IsVideo returns true if the file extension corresponds to a video.
func IsVideo(ext string) bool {
	_, ok := VideoExtensions[strings.ToLower(ext)]
	return ok
}

// IsAudio returns true if the file extension corresponds to an audio file.
func IsAudio(ext string) bool {
	_, ok := AudioExtensions[strings.ToLower(ext)]
	return ok
}

// ExtensionForMIME returns the preferred extension for a MIME type, or "".
func ExtensionForMIME(mimeType string) string {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	return mimeExtensions[mimeType]
}
