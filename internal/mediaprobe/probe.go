package mediaprobe

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/fpang/media-bundler/internal/media"
)

// maxFilenameBytes keeps names well under the 255-byte limit of common
// filesystems once a " (n)" disambiguator or a numbered prefix is added.
const maxFilenameBytes = 200

// Classify turns raw source metadata into a media item.
//
// Kind is taken from an explicit photo/video/audio kind reported by the
// source, then from the MIME type, then from the filename extension. A
// source-reported "document" is treated as a hint only, so a document
// carrying video/mp4 is still classified as a video.
func Classify(raw media.RawMetadata) media.Item {
	item := media.Item{
		ID:        raw.ID,
		Size:      raw.Size,
		MIMEType:  strings.ToLower(strings.TrimSpace(raw.MIMEType)),
		Container: strings.ToLower(strings.TrimSpace(raw.Container)),
		Codec:     strings.ToLower(strings.TrimSpace(raw.Codec)),
		Date:      raw.Date,
		Topic:     strings.TrimSpace(raw.Topic),
		Probed:    true,
		Raw:       raw,
	}
	if item.Size < 0 {
		item.Size = 0
	}

	name := SanitizeFilename(raw.Filename)
	ext := strings.ToLower(filepath.Ext(name))

	kind, ok := kindFromSource(raw.Kind)
	if !ok {
		kind, ok = kindFromMIME(item.MIMEType)
	}
	if !ok {
		kind, ok = kindFromExtension(ext)
	}
	if !ok {
		kind = media.KindDocument
		item.Ambiguous = raw.Kind == "" && item.MIMEType == "" && ext == ""
	}
	item.Kind = kind

	if name == "" {
		name = fallbackName(raw.ID, kind, item.MIMEType)
		item.Ambiguous = item.Ambiguous || raw.Filename != ""
	} else if ext == "" {
		if mimeExt := ExtensionForMIME(item.MIMEType); mimeExt != "" {
			name += mimeExt
		}
	}
	item.Filename = name

	if item.Container == "" {
		item.Container = containerHint(item.Filename, item.MIMEType)
	}
	if item.ID == "" {
		item.Ambiguous = true
	}

	return item
}

func kindFromSource(kind string) (media.Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "photo", "image", "picture":
		return media.KindPhoto, true
	case "video", "animation", "video_note", "round":
		return media.KindVideo, true
	case "audio", "voice", "music":
		return media.KindAudio, true
	}
	return "", false
}

func kindFromMIME(mimeType string) (media.Kind, bool) {
	switch {
	case mimeType == "":
		return "", false
	case strings.HasPrefix(mimeType, "image/"):
		return media.KindPhoto, true
	case strings.HasPrefix(mimeType, "video/"):
		return media.KindVideo, true
	case strings.HasPrefix(mimeType, "audio/"):
		return media.KindAudio, true
	}
	return media.KindDocument, true
}

func kindFromExtension(ext string) (media.Kind, bool) {
	switch {
	case ext == "":
		return "", false
	case IsPhoto(ext):
		return media.KindPhoto, true
	case IsVideo(ext):
		return media.KindVideo, true
	case IsAudio(ext):
		return media.KindAudio, true
	}
	return media.KindDocument, true
}

// fallbackName derives a name like "video_1234.mp4" from the item identity.
func fallbackName(id string, kind media.Kind, mimeType string) string {
	ext := ExtensionForMIME(mimeType)
	if ext == "" {
		ext = kindDefaults[kind]
	}
	base := SanitizeFilename(id)
	if base == "" {
		base = "unknown"
	}
	return fmt.Sprintf("%s_%s%s", kind, base, ext)
}

// containerHint guesses the container from the extension, then the MIME
// subtype ("video/x-matroska" → "matroska").
func containerHint(name, mimeType string) string {
	if ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), "."); ext != "" {
		return ext
	}
	if i := strings.IndexByte(mimeType, '/'); i >= 0 {
		return strings.TrimPrefix(mimeType[i+1:], "x-")
	}
	return ""
}

// SanitizeFilename makes a single path component safe for every common
// filesystem. Path separators and reserved characters become "_", control
// characters are dropped, and leading/trailing dots and spaces are trimmed so
// the result is never hidden or reserved on Windows. It returns
// "" when nothing usable remains.
func SanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r == utf8.RuneError:
			continue
		case unicode.IsControl(r):
			continue
		case strings.ContainsRune(`/\:*?"<>|`, r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}

	clean := strings.Trim(strings.TrimSpace(b.String()), ". ")
	if clean == "" || strings.Trim(clean, "._") == "" {
		return ""
	}

	return truncateName(clean, maxFilenameBytes)
}

// truncateName shortens name to at most limit bytes, keeping the extension
// and never splitting a UTF-8 sequence.
func truncateName(name string, limit int) string {
	if len(name) <= limit {
		return name
	}
	ext := filepath.Ext(name)
	if len(ext) > 16 {
		ext = ""
	}
	stem := strings.TrimSuffix(name, ext)
	budget := limit - len(ext)
	for len(stem) > budget {
		_, size := utf8.DecodeLastRuneInString(stem)
		stem = stem[:len(stem)-size]
	}
	return stem + ext
}
