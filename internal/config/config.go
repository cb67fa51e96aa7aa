package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains working directory configuration.
type Paths struct {
	TempDir    string `toml:"temp_dir"`
	ArchiveDir string `toml:"archive_dir"`
}

// Download contains download pool settings.
type Download struct {
	Concurrency         int     `toml:"concurrency"`
	MaxConcurrency      int     `toml:"max_concurrency"`
	FetchLimit          int     `toml:"fetch_limit"`
	RetryDelayMS        int     `toml:"retry_delay_ms"`
	MaxRetryWaitSeconds int     `toml:"max_retry_wait_seconds"`
	RatePerSecond       float64 `toml:"fetch_rate_per_second"`
}

// Transcode contains ffmpeg normalization settings.
type Transcode struct {
	Enabled        bool   `toml:"enabled"`
	FFmpegPath     string `toml:"ffmpeg_path"`
	Concurrency    int    `toml:"concurrency"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	AudioBitrate   string `toml:"audio_bitrate"`
}

// Archive contains archive retention and compression settings.
type Archive struct {
	TTLMinutes  int    `toml:"ttl_minutes"`
	Compression string `toml:"compression"`
}

// Source selects where media comes from. A gateway URL takes precedence
// over a local directory; s3:// references always use S3Bucket's client.
type Source struct {
	GatewayURL string `toml:"gateway_url"`
	DirRoot    string `toml:"dir_root"`
	S3Bucket   string `toml:"s3_bucket"`
}

// Server contains HTTP server settings.
type Server struct {
	ListenPort int `toml:"listen_port"`
}

// Config encapsulates all configuration values.
//
// Configuration sections by subsystem:
//   - Paths: temp and archive directories
//   - Download: pool size, retry and rate limits
//   - Transcode: ffmpeg location and normalization settings
//   - Archive: retention and compression
//   - Source: media source location
//   - Server: HTTP listen port
type Config struct {
	Paths     Paths     `toml:"paths"`
	Download  Download  `toml:"download"`
	Transcode Transcode `toml:"transcode"`
	Archive   Archive   `toml:"archive"`
	Source    Source    `toml:"source"`
	Server    Server    `toml:"server"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file, then applies
// MEDIA_* environment overrides. A missing file is not an error. It
// returns the config, the resolved path and whether the file existed.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config %s: %w", resolvedPath, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path == "" {
		path = defaultConfigPath
	}
	expanded, err := expandPath(path)
	if err != nil {
		return "", false, err
	}
	info, err := os.Stat(expanded)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return expanded, false, nil
		}
		return "", false, fmt.Errorf("stat config: %w", err)
	}
	if info.IsDir() {
		return "", false, fmt.Errorf("config path %s is a directory", expanded)
	}
	return expanded, true, nil
}

// SampleConfig returns the commented sample configuration.
func SampleConfig() string {
	return sampleConfig
}

// WriteSample writes the sample configuration to path, refusing to
// overwrite an existing file.
func WriteSample(path string) (string, error) {
	if path == "" {
		path = defaultConfigPath
	}
	expanded, err := expandPath(path)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(expanded); err == nil {
		return "", fmt.Errorf("config already exists at %s", expanded)
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(expanded, []byte(sampleConfig), 0o644); err != nil {
		return "", fmt.Errorf("write config: %w", err)
	}
	return expanded, nil
}

// EnsureDirectories creates the temp and archive directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.TempDir, c.Paths.ArchiveDir} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// RetryDelay returns the minimum wait before a retry.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Download.RetryDelayMS) * time.Millisecond
}

// MaxRetryWait returns the cap on the retry wait.
func (c *Config) MaxRetryWait() time.Duration {
	return time.Duration(c.Download.MaxRetryWaitSeconds) * time.Second
}

// TranscodeTimeout returns the bound on a single ffmpeg run.
func (c *Config) TranscodeTimeout() time.Duration {
	return time.Duration(c.Transcode.TimeoutSeconds) * time.Second
}

// ArchiveTTL returns how long unretrieved archives are kept.
func (c *Config) ArchiveTTL() time.Duration {
	return time.Duration(c.Archive.TTLMinutes) * time.Minute
}

// ListenAddr returns the HTTP listen address.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Server.ListenPort)
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}
