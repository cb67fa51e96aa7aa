// Package transcode wraps the external ffmpeg executable used to normalize
// downloaded videos into a widely playable MP4.
//
// Normalization never re-encodes video: the video stream is copied, audio is
// re-encoded to AAC at a fixed bitrate, and the MP4 index is moved to the
// front of the file for progressive playback.
package transcode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrUnavailable is reported when no working ffmpeg executable was found.
var ErrUnavailable = errors.New("transcoder unavailable")

// wellKnownPaths are probed after the configured path and before PATH.
var wellKnownPaths = []string{
	"/usr/bin/ffmpeg",
	"/usr/local/bin/ffmpeg",
	"./ffmpeg/ffmpeg",
}

// Capability is the result of transcoder detection. It is a plain value so
// it can be injected into a coordinator and shared read-only.
type Capability struct {
	Available bool   `json:"available"`
	Path      string `json:"path,omitempty"`
	Version   string `json:"version,omitempty"`
	Reason    string `json:"reason,omitempty"` // why it is unavailable
}

// Unavailable returns a Capability that disables normalization.
func Unavailable(reason string) Capability {
	return Capability{Reason: reason}
}

// Runner executes an external command and returns its combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Detector locates ffmpeg once and caches the result for its lifetime.
type Detector struct {
	// ConfiguredPath is tried first when set.
	ConfiguredPath string
	Runner         Runner

	lookPath func(string) (string, error)
	stat     func(string) (os.FileInfo, error)

	once sync.Once
	cap  Capability
}

// NewDetector creates a Detector that probes configuredPath first.
func NewDetector(configuredPath string) *Detector {
	return &Detector{
		ConfiguredPath: configuredPath,
		Runner:         ExecRunner{},
		lookPath:       exec.LookPath,
		stat:           os.Stat,
	}
}

// Detect returns the cached capability, probing on first use.
func (d *Detector) Detect(ctx context.Context) Capability {
	d.once.Do(func() {
		start := time.Now()
		d.cap = d.probe(ctx)
		if d.cap.Available {
			log.Info().
				Str("path", d.cap.Path).
				Str("version", d.cap.Version).
				Dur("elapsed", time.Since(start)).
				Msg("ffmpeg found")
		} else {
			log.Warn().Str("reason", d.cap.Reason).Msg("ffmpeg not available, videos will not be normalized")
		}
	})
	return d.cap
}

func (d *Detector) probe(ctx context.Context) Capability {
	path := d.locate()
	if path == "" {
		return Unavailable("ffmpeg not found. Install FFmpeg with: brew install ffmpeg (macOS) or apt install ffmpeg (Linux)")
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	out, err := d.Runner.Run(ctx, path, "-hide_banner", "-version")
	if err != nil {
		return Unavailable(fmt.Sprintf("%s -version failed: %v", path, err))
	}

	version, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	return Capability{Available: true, Path: path, Version: strings.TrimSpace(version)}
}

func (d *Detector) locate() string {
	candidates := wellKnownPaths
	if d.ConfiguredPath != "" {
		candidates = append([]string{d.ConfiguredPath}, wellKnownPaths...)
	}
	for _, p := range candidates {
		info, err := d.stat(p)
		if err == nil && info.Mode().IsRegular() && info.Mode().Perm()&0o111 != 0 {
			return p
		}
	}
	if p, err := d.lookPath("ffmpeg"); err == nil {
		return p
	}
	return ""
}

// probePath returns the ffprobe binary that sits next to ffmpegPath.
func probePath(ffmpegPath string) string {
	dir, file := splitPath(ffmpegPath)
	return dir + strings.Replace(file, "ffmpeg", "ffprobe", 1)
}

func splitPath(p string) (dir, file string) {
	i := strings.LastIndexAny(p, `/\`)
	return p[:i+1], p[i+1:]
}
