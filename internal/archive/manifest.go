package archive

import "time"

// ManifestEntry is one line of a batch manifest: item name → terminal status.
type ManifestEntry struct {
	Index    int      `json:"index"`
	ItemID   string   `json:"id"`
	Name     string   `json:"name"`
	Status   string   `json:"status"`
	Archived bool     `json:"archived"`
	Size     int64    `json:"size,omitempty"`
	Reason   string   `json:"reason,omitempty"`
	Notes    []string `json:"notes,omitempty"`
}

// Manifest describes every item of a batch, archived or not.
type Manifest struct {
	BatchID     string          `json:"batchId"`
	ArchiveID   string          `json:"archiveId,omitempty"`
	ArchiveName string          `json:"archiveName,omitempty"`
	ArchiveSize int64           `json:"archiveSize,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	Entries     []ManifestEntry `json:"entries"`
}

// ArchivedCount returns how many entries made it into the archive.
func (m *Manifest) ArchivedCount() int {
	n := 0
	for _, e := range m.Entries {
		if e.Archived {
			n++
		}
	}
	return n
}
