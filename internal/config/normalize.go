package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// envOverride maps one MEDIA_* variable onto a config field.
type envOverride struct {
	name  string
	apply func(c *Config, value string) error
}

var envOverrides = []envOverride{
	{"MEDIA_TEMP_DIR", func(c *Config, v string) error { c.Paths.TempDir = v; return nil }},
	{"MEDIA_ARCHIVE_DIR", func(c *Config, v string) error { c.Paths.ArchiveDir = v; return nil }},
	{"MEDIA_CONCURRENCY", intField(func(c *Config) *int { return &c.Download.Concurrency })},
	{"MEDIA_MAX_CONCURRENCY", intField(func(c *Config) *int { return &c.Download.MaxConcurrency })},
	{"MEDIA_FETCH_LIMIT", intField(func(c *Config) *int { return &c.Download.FetchLimit })},
	{"MEDIA_TRANSCODE", boolField(func(c *Config) *bool { return &c.Transcode.Enabled })},
	{"MEDIA_FFMPEG_PATH", func(c *Config, v string) error { c.Transcode.FFmpegPath = v; return nil }},
	{"MEDIA_TRANSCODE_CONCURRENCY", intField(func(c *Config) *int { return &c.Transcode.Concurrency })},
	{"MEDIA_ARCHIVE_TTL_MINUTES", intField(func(c *Config) *int { return &c.Archive.TTLMinutes })},
	{"MEDIA_ARCHIVE_COMPRESSION", func(c *Config, v string) error { c.Archive.Compression = v; return nil }},
	{"MEDIA_GATEWAY_URL", func(c *Config, v string) error { c.Source.GatewayURL = v; return nil }},
	{"MEDIA_DIR_ROOT", func(c *Config, v string) error { c.Source.DirRoot = v; return nil }},
	{"MEDIA_S3_BUCKET", func(c *Config, v string) error { c.Source.S3Bucket = v; return nil }},
	{"MEDIA_LISTEN_PORT", intField(func(c *Config) *int { return &c.Server.ListenPort })},
}

func intField(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("expected an integer, got %q", v)
		}
		*field(c) = n
		return nil
	}
}

func boolField(field func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("expected true or false, got %q", v)
		}
		*field(c) = b
		return nil
	}
}

// applyEnv overlays MEDIA_* environment variables. Empty values are ignored.
func (c *Config) applyEnv() error {
	for _, o := range envOverrides {
		v, ok := os.LookupEnv(o.name)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		if err := o.apply(c, strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("%s: %w", o.name, err)
		}
	}
	return nil
}

func (c *Config) normalize() error {
	var err error
	if c.Paths.TempDir, err = expandPath(c.Paths.TempDir); err != nil {
		return fmt.Errorf("paths.temp_dir: %w", err)
	}
	if c.Paths.ArchiveDir, err = expandPath(c.Paths.ArchiveDir); err != nil {
		return fmt.Errorf("paths.archive_dir: %w", err)
	}
	if c.Source.DirRoot, err = expandPath(c.Source.DirRoot); err != nil {
		return fmt.Errorf("source.dir_root: %w", err)
	}
	if c.Transcode.FFmpegPath, err = expandPath(c.Transcode.FFmpegPath); err != nil {
		return fmt.Errorf("transcode.ffmpeg_path: %w", err)
	}

	c.Source.GatewayURL = strings.TrimRight(strings.TrimSpace(c.Source.GatewayURL), "/")
	c.Archive.Compression = strings.ToLower(strings.TrimSpace(c.Archive.Compression))
	if c.Archive.Compression == "" {
		c.Archive.Compression = defaultCompression
	}
	c.Transcode.AudioBitrate = strings.TrimSpace(c.Transcode.AudioBitrate)
	if c.Transcode.AudioBitrate == "" {
		c.Transcode.AudioBitrate = defaultAudioBitrate
	}

	if c.Download.MaxConcurrency <= 0 {
		c.Download.MaxConcurrency = defaultMaxConcurrency
	}
	if c.Download.Concurrency <= 0 {
		c.Download.Concurrency = defaultConcurrency
	}
	if c.Download.Concurrency > c.Download.MaxConcurrency {
		c.Download.Concurrency = c.Download.MaxConcurrency
	}
	if c.Transcode.Concurrency <= 0 {
		c.Transcode.Concurrency = defaultTranscodeConcurrency
	}
	if c.Transcode.TimeoutSeconds <= 0 {
		c.Transcode.TimeoutSeconds = defaultTranscodeTimeout
	}
	if c.Archive.TTLMinutes <= 0 {
		c.Archive.TTLMinutes = defaultArchiveTTLMinutes
	}
	return nil
}
