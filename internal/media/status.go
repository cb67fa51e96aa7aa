package media

// Status is a point in an item's lifecycle within a batch.
type Status string

const (
	StatusPending         Status = "Pending"
	StatusDownloading     Status = "Downloading"
	StatusDownloaded      Status = "Downloaded"
	StatusDownloadFailed  Status = "DownloadFailed"
	StatusTranscoding     Status = "Transcoding"
	StatusTranscoded      Status = "Transcoded"
	StatusTranscodeFailed Status = "TranscodeFailed"
	StatusFinalized       Status = "Finalized"
)

// transitions lists the forward edges of the item state machine.
var transitions = map[Status][]Status{
	StatusPending:         {StatusDownloading},
	StatusDownloading:     {StatusDownloaded, StatusDownloadFailed},
	StatusDownloaded:      {StatusTranscoding, StatusFinalized},
	StatusTranscoding:     {StatusTranscoded, StatusTranscodeFailed},
	StatusTranscoded:      {StatusFinalized},
	StatusTranscodeFailed: {StatusFinalized},
	StatusDownloadFailed:  {StatusFinalized},
}

// String returns the string representation of Status.
func (s Status) String() string {
	return string(s)
}

// CanTransition reports whether to is a legal next state after s.
func (s Status) CanTransition(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal returns true once no further transition can occur.
func (s Status) IsTerminal() bool {
	return s == StatusFinalized
}

// IsActive returns true while a worker holds the item.
func (s Status) IsActive() bool {
	return s == StatusDownloading || s == StatusTranscoding
}

// HasFile reports whether an item whose last outcome is s has a local file
// worth archiving.
func (s Status) HasFile() bool {
	return s == StatusDownloaded || s == StatusTranscoded || s == StatusTranscodeFailed
}
