package cli

import (
	"io"
	"os"
	"sync"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"

	"github.com/fpang/media-bundler/internal/media"
	"github.com/fpang/media-bundler/internal/pipeline"
)

// IsTerminal reports whether f is an interactive terminal.
func IsTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// BatchProgress is a pipeline.Sink that advances a progress bar once per
// finalized item and counts bytes moved.
type BatchProgress struct {
	mu    sync.Mutex
	bar   *progressbar.ProgressBar
	done  int
	bytes int64
}

// NewBatchProgress draws a bar for total items on w. When w is not a
// terminal the bar is silent and only the counters are kept.
func NewBatchProgress(w io.Writer, total int, interactive bool) *BatchProgress {
	if !interactive {
		w = io.Discard
	}
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("Downloading"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(30),
		progressbar.OptionClearOnFinish(),
	)
	return &BatchProgress{bar: bar}
}

// Publish implements pipeline.Sink.
func (p *BatchProgress) Publish(ev pipeline.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch ev.To {
	case media.StatusDownloaded:
		p.bytes += ev.Bytes
	case media.StatusTranscoding:
		p.bar.Describe("Converting")
	case media.StatusFinalized:
		p.done++
		p.bar.Add(1)
	}
}

// Finish completes the bar and returns items finalized and bytes fetched.
func (p *BatchProgress) Finish() (int, int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bar.Finish()
	return p.done, p.bytes
}
