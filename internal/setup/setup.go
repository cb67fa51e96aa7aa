// Package setup builds the pipeline pieces every binary shares from a
// loaded config: the media source for a reference and a Coordinator with
// the transcoder detected once at startup.
package setup

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fpang/media-bundler/internal/archive"
	"github.com/fpang/media-bundler/internal/auth"
	"github.com/fpang/media-bundler/internal/config"
	"github.com/fpang/media-bundler/internal/pipeline"
	"github.com/fpang/media-bundler/internal/source"
	"github.com/fpang/media-bundler/internal/transcode"
)

// Source opens the source that serves ref. Gateway sources need a session
// token; S3 references need s3Client.
func Source(ref string, cfg *config.Config, s3Client source.S3API) (source.Source, error) {
	opts := source.Options{
		GatewayURL: cfg.Source.GatewayURL,
		S3:         s3Client,
		S3Bucket:   cfg.Source.S3Bucket,
		DirRoot:    cfg.Source.DirRoot,
	}
	if opts.GatewayURL != "" && !strings.HasPrefix(ref, "s3://") {
		token, err := auth.SessionToken()
		if err != nil {
			return nil, err
		}
		opts.SessionToken = token
	}
	return source.Open(ref, opts)
}

// Transcoder detects ffmpeg when transcoding is enabled and returns an
// adapter bound to the result. Detection runs once per call; binaries call
// it once at startup.
func Transcoder(ctx context.Context, cfg *config.Config) *transcode.Adapter {
	capability := transcode.Unavailable("disabled in config")
	if cfg.Transcode.Enabled {
		capability = transcode.NewDetector(cfg.Transcode.FFmpegPath).Detect(ctx)
	}
	if capability.Available {
		log.Info().Str("path", capability.Path).Str("version", capability.Version).Msg("Transcoder available")
	} else {
		log.Warn().Str("reason", capability.Reason).Msg("Transcoder unavailable, videos will be archived as downloaded")
	}
	return transcode.NewAdapter(capability, nil, transcode.Options{
		AudioBitrate: cfg.Transcode.AudioBitrate,
		Timeout:      cfg.TranscodeTimeout(),
	})
}

// Coordinator wires a Coordinator from cfg. registry may be nil when the
// caller takes ownership of archives itself.
func Coordinator(src source.Source, adapter *transcode.Adapter, cfg *config.Config, registry *archive.Registry, sourceName string) (*pipeline.Coordinator, error) {
	compression, err := archive.ParseCompression(cfg.Archive.Compression)
	if err != nil {
		return nil, fmt.Errorf("archive compression: %w", err)
	}
	assembler := archive.NewAssembler(cfg.Paths.ArchiveDir, compression)
	return pipeline.NewCoordinator(src, adapter, assembler, registry, pipeline.Options{
		TempDir:              cfg.Paths.TempDir,
		MaxConcurrency:       cfg.Download.MaxConcurrency,
		TranscodeConcurrency: cfg.Transcode.Concurrency,
		RetryDelay:           cfg.RetryDelay(),
		MaxRetryWait:         cfg.MaxRetryWait(),
		RatePerSecond:        cfg.Download.RatePerSecond,
		SourceName:           sourceName,
	}), nil
}

// SourceName labels a reference for logs and metrics.
func SourceName(ref string, cfg *config.Config) string {
	switch {
	case strings.HasPrefix(ref, "s3://"):
		return "s3"
	case cfg.Source.GatewayURL != "":
		return "gateway"
	default:
		return "dir"
	}
}

// IsMissingSession reports whether err means no session token was found.
func IsMissingSession(err error) bool {
	return errors.Is(err, auth.ErrNoSession)
}
