package mediaprobe

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Namer hands out unique names within one batch. Names are compared
// case-insensitively so archives extract cleanly on macOS and Windows.
//
// A Namer is not safe for concurrent use.
type Namer struct {
	used map[string]struct{}
}

// NewNamer creates an empty Namer.
func NewNamer() *Namer {
	return &Namer{used: make(map[string]struct{})}
}

// Assign returns a name not yet handed out by this Namer. Collisions get a
// " (n)" disambiguator before the extension: "a.mp4", "a (1).mp4", "a (2).mp4".
func (n *Namer) Assign(name string) string {
	candidate := name
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 1; n.taken(candidate); i++ {
		candidate = fmt.Sprintf("%s (%d)%s", stem, i, ext)
	}
	n.used[strings.ToLower(candidate)] = struct{}{}
	return candidate
}

func (n *Namer) taken(name string) bool {
	_, ok := n.used[strings.ToLower(name)]
	return ok
}

// Numbered prefixes name with its 1-based position in the batch
// ("001_clip.mp4") so an archive listing preserves source order.
func Numbered(position int, name string) string {
	return fmt.Sprintf("%03d_%s", position, name)
}

// ReplaceExtension swaps the extension of name, e.g. for a normalized video
// that is now an MP4. A name without an extension gets ext appended.
func ReplaceExtension(name, ext string) string {
	return strings.TrimSuffix(name, filepath.Ext(name)) + ext
}
