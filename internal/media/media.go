// Package media defines the item model shared by the probe, download,
// transcode and archive stages.
package media

import (
	"time"
)

// Kind classifies a media attachment.
type Kind string

const (
	KindPhoto    Kind = "photo"
	KindVideo    Kind = "video"
	KindAudio    Kind = "audio"
	KindDocument Kind = "document"
)

// RawMetadata is what a media source reports about a single attachment
// before classification. Every field except ID is optional.
type RawMetadata struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind,omitempty"`
	Filename  string    `json:"filename,omitempty"`
	MIMEType  string    `json:"mimeType,omitempty"`
	Size      int64     `json:"size,omitempty"`
	Container string    `json:"container,omitempty"`
	Codec     string    `json:"codec,omitempty"`
	Date      time.Time `json:"date,omitempty"`
	Topic     string    `json:"topic,omitempty"`

	// Ref is an opaque locator the source uses to fetch the bytes
	// (an S3 key, a file path, a gateway URL). Empty means "use ID".
	Ref string `json:"ref,omitempty"`
}

// Item is a classified media attachment. Items are values; lifecycle
// status is tracked by the pipeline ledger, never on the item itself.
type Item struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Size      int64     `json:"size,omitempty"` // declared bytes, 0 when unknown
	Filename  string    `json:"filename"`
	MIMEType  string    `json:"mimeType,omitempty"`
	Container string    `json:"container,omitempty"`
	Codec     string    `json:"codec,omitempty"`
	Date      time.Time `json:"date,omitempty"`
	Topic     string    `json:"topic,omitempty"`

	// Ambiguous is set when classification fell back to defaults.
	Ambiguous bool `json:"ambiguous,omitempty"`

	// Probed is false for items that still need classification.
	Probed bool        `json:"-"`
	Raw    RawMetadata `json:"-"`
}
