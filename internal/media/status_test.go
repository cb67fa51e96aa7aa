package media

import "testing"

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusDownloading, true},
		{StatusPending, StatusDownloaded, false},
		{StatusDownloading, StatusDownloaded, true},
		{StatusDownloading, StatusDownloadFailed, true},
		{StatusDownloading, StatusFinalized, false},
		{StatusDownloaded, StatusTranscoding, true},
		{StatusDownloaded, StatusFinalized, true},
		{StatusDownloaded, StatusTranscoded, false},
		{StatusTranscoding, StatusTranscoded, true},
		{StatusTranscoding, StatusTranscodeFailed, true},
		{StatusTranscoded, StatusFinalized, true},
		{StatusTranscodeFailed, StatusFinalized, true},
		{StatusDownloadFailed, StatusFinalized, true},
		{StatusDownloadFailed, StatusDownloading, false},
		{StatusFinalized, StatusPending, false},
		{StatusTranscoded, StatusDownloading, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.want {
				t.Errorf("%s.CanTransition(%s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestStatusHelpers(t *testing.T) {
	if !StatusFinalized.IsTerminal() {
		t.Error("Finalized should be terminal")
	}
	if StatusDownloadFailed.IsTerminal() {
		t.Error("DownloadFailed still moves to Finalized")
	}
	if !StatusDownloading.IsActive() || !StatusTranscoding.IsActive() {
		t.Error("Downloading and Transcoding are active states")
	}
	for _, s := range []Status{StatusDownloaded, StatusTranscoded, StatusTranscodeFailed} {
		if !s.HasFile() {
			t.Errorf("%s should carry a file", s)
		}
	}
	for _, s := range []Status{StatusPending, StatusDownloadFailed, StatusDownloading} {
		if s.HasFile() {
			t.Errorf("%s should not carry a file", s)
		}
	}
}
