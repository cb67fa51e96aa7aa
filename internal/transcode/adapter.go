package transcode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/media-bundler/internal/media"
	"github.com/fpang/media-bundler/internal/metrics"
)

const (
	// DefaultAudioBitrate is the AAC bitrate used for re-encoded audio.
	DefaultAudioBitrate = "192k"

	// DefaultTimeout bounds a single ffmpeg run.
	DefaultTimeout = 5 * time.Minute
)

// Outcome is the result class of Normalize.
type Outcome string

const (
	Normalized Outcome = "normalized"
	NotNeeded  Outcome = "not_needed"
	Failed     Outcome = "failed"
)

// Result reports what Normalize did. Path is the file the item should use
// from now on: the normalized output, or the untouched input.
type Result struct {
	Outcome Outcome
	Path    string
	Reason  string
	Elapsed time.Duration
}

// mp4Containers are containers ffmpeg output can be used from without remuxing.
var mp4Containers = map[string]bool{
	"mp4": true,
	"m4v": true,
}

// incompatibleCodecs are audio codecs common players cannot decode inside MP4.
var incompatibleCodecs = []string{"opus", "vorbis", "flac"}

// Options configures an Adapter.
type Options struct {
	AudioBitrate string
	Timeout      time.Duration
}

// Adapter normalizes videos with the detected ffmpeg.
type Adapter struct {
	cap     Capability
	runner  Runner
	bitrate string
	timeout time.Duration
}

// NewAdapter creates an Adapter bound to cap. A nil runner uses ExecRunner.
func NewAdapter(cap Capability, runner Runner, opts Options) *Adapter {
	if runner == nil {
		runner = ExecRunner{}
	}
	if opts.AudioBitrate == "" {
		opts.AudioBitrate = DefaultAudioBitrate
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Adapter{cap: cap, runner: runner, bitrate: opts.AudioBitrate, timeout: opts.Timeout}
}

// Capability returns the capability the adapter was built with.
func (a *Adapter) Capability() Capability {
	return a.cap
}

// NeedsNormalization reports whether item should go through ffmpeg. It is
// always false when the transcoder is unavailable. Only videos qualify: a
// video needs work when its container is not MP4 (or unknown) or its codec
// hint names an audio codec MP4 players do not handle.
func (a *Adapter) NeedsNormalization(item media.Item) bool {
	if !a.cap.Available || item.Kind != media.KindVideo {
		return false
	}
	return needsWork(item.Container, item.Codec)
}

func needsWork(container, codec string) bool {
	if !mp4Containers[strings.ToLower(container)] {
		return true
	}
	codec = strings.ToLower(codec)
	for _, c := range incompatibleCodecs {
		if strings.Contains(codec, c) {
			return true
		}
	}
	return false
}

// Normalize remuxes localPath into an MP4 with AAC audio. The input is
// removed only after the output has been written successfully; on failure
// the input is left in place and any partial output is removed.
func (a *Adapter) Normalize(ctx context.Context, localPath string, item media.Item) Result {
	if !a.cap.Available {
		return Result{Outcome: Failed, Path: localPath, Reason: ErrUnavailable.Error()}
	}

	container, codec := item.Container, item.Codec
	if container == "" {
		container = strings.TrimPrefix(strings.ToLower(filepath.Ext(localPath)), ".")
	}
	if container == "" || codec == "" {
		if probed, err := a.inspect(ctx, localPath); err == nil {
			container, codec = probed.container, probed.codecs
		} else {
			log.Debug().Err(err).Str("path", localPath).Msg("ffprobe unavailable, using hints only")
		}
	}
	if !needsWork(container, codec) {
		return Result{Outcome: NotNeeded, Path: localPath}
	}

	outputPath := OutputPath(localPath)
	args := buildArgs(localPath, outputPath, a.bitrate)

	log.Debug().Str("item", item.ID).Strs("args", args).Msg("Running ffmpeg normalization")

	runCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	output, err := a.runner.Run(runCtx, a.cap.Path, args...)
	elapsed := time.Since(start)

	if err == nil {
		var info os.FileInfo
		info, err = os.Stat(outputPath)
		if err == nil && info.Size() == 0 {
			err = errors.New("ffmpeg produced an empty file")
		}
	}
	if err != nil {
		if rmErr := os.Remove(outputPath); rmErr != nil && !os.IsNotExist(rmErr) {
			log.Warn().Err(rmErr).Str("path", outputPath).Msg("Failed to remove partial ffmpeg output")
		}
		reason := failureReason(runCtx, err, output)
		log.Warn().
			Err(err).
			Str("item", item.ID).
			Str("input_path", localPath).
			Dur("duration", elapsed).
			Msg("ffmpeg normalization failed, keeping original file")
		metrics.New(metrics.Namespace).
			Metric("TranscodeMs", float64(elapsed.Milliseconds()), metrics.UnitMilliseconds).
			Count("TranscodeErrors").
			Flush()
		return Result{Outcome: Failed, Path: localPath, Reason: reason, Elapsed: elapsed}
	}

	if err := os.Remove(localPath); err != nil {
		log.Warn().Err(err).Str("path", localPath).Msg("Failed to remove original after normalization")
	}

	metrics.New(metrics.Namespace).
		Metric("TranscodeMs", float64(elapsed.Milliseconds()), metrics.UnitMilliseconds).
		Count("Transcodes").
		Flush()

	log.Info().
		Str("item", item.ID).
		Str("output_path", outputPath).
		Dur("duration", elapsed).
		Msg("Video normalized")

	return Result{Outcome: Normalized, Path: outputPath, Elapsed: elapsed}
}

// OutputPath is where Normalize writes: the input with a .mp4 extension, or
// "<name>.normalized.mp4" when the input already ends in .mp4.
func OutputPath(inputPath string) string {
	ext := filepath.Ext(inputPath)
	base := strings.TrimSuffix(inputPath, ext)
	if strings.EqualFold(ext, ".mp4") {
		return base + ".normalized.mp4"
	}
	return base + ".mp4"
}

// buildArgs copies video, re-encodes audio to AAC and moves the moov atom
// to the front. Streams are optional so audio-only or silent files work.
func buildArgs(inputPath, outputPath, bitrate string) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-i", inputPath,
		"-map", "0:v?",
		"-map", "0:a?",
		"-c:v", "copy",
		"-c:a", "aac",
		"-b:a", bitrate,
		"-movflags", "+faststart",
		"-y", outputPath,
	}
}

func failureReason(ctx context.Context, err error, output []byte) string {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "transcode timed out"
	}
	msg := strings.TrimSpace(string(output))
	if i := strings.LastIndexByte(msg, '\n'); i >= 0 {
		msg = msg[i+1:]
	}
	if msg == "" {
		return fmt.Sprintf("transcode failed: %v", err)
	}
	return "transcode failed: " + msg
}

// probeResult is what inspect extracts from ffprobe.
type probeResult struct {
	container string // "mp4" when the format list includes it
	codecs    string // comma-separated codec names of all streams
}

type ffprobeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
	} `json:"streams"`
	Format struct {
		FormatName string `json:"format_name"`
	} `json:"format"`
}

// inspect asks ffprobe for the real container and codecs of path.
func (a *Adapter) inspect(ctx context.Context, path string) (probeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	out, err := a.runner.Run(ctx, probePath(a.cap.Path),
		"-v", "error",
		"-show_entries", "stream=codec_type,codec_name:format=format_name",
		"-of", "json",
		path,
	)
	if err != nil {
		return probeResult{}, fmt.Errorf("ffprobe: %w", err)
	}

	var parsed ffprobeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return probeResult{}, fmt.Errorf("parse ffprobe output: %w", err)
	}

	var res probeResult
	for _, name := range strings.Split(parsed.Format.FormatName, ",") {
		if mp4Containers[name] {
			res.container = name
			break
		}
	}
	if res.container == "" {
		res.container, _, _ = strings.Cut(parsed.Format.FormatName, ",")
	}
	codecs := make([]string, 0, len(parsed.Streams))
	for _, s := range parsed.Streams {
		codecs = append(codecs, s.CodecName)
	}
	res.codecs = strings.Join(codecs, ",")
	return res, nil
}
