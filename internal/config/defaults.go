package config

import (
	"os"
	"path/filepath"
)

const (
	defaultConfigPath = "~/.config/media-bundler/config.toml"

	defaultConcurrency          = 3
	defaultMaxConcurrency       = 10
	defaultFetchLimit           = 5000
	maxFetchLimit               = 10000
	defaultRetryDelayMS         = 1000
	defaultMaxRetryWaitSeconds  = 30
	defaultTranscodeConcurrency = 1
	defaultTranscodeTimeout     = 300
	defaultAudioBitrate         = "192k"
	defaultArchiveTTLMinutes    = 60
	defaultCompression          = "deflate"
	defaultListenPort           = 8080
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	base := filepath.Join(os.TempDir(), "media-bundler")
	return Config{
		Paths: Paths{
			TempDir:    filepath.Join(base, "work"),
			ArchiveDir: filepath.Join(base, "archives"),
		},
		Download: Download{
			Concurrency:         defaultConcurrency,
			MaxConcurrency:      defaultMaxConcurrency,
			FetchLimit:          defaultFetchLimit,
			RetryDelayMS:        defaultRetryDelayMS,
			MaxRetryWaitSeconds: defaultMaxRetryWaitSeconds,
		},
		Transcode: Transcode{
			Enabled:        true,
			Concurrency:    defaultTranscodeConcurrency,
			TimeoutSeconds: defaultTranscodeTimeout,
			AudioBitrate:   defaultAudioBitrate,
		},
		Archive: Archive{
			TTLMinutes:  defaultArchiveTTLMinutes,
			Compression: defaultCompression,
		},
		Server: Server{
			ListenPort: defaultListenPort,
		},
	}
}
