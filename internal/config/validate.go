package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
)

var bitratePattern = regexp.MustCompile(`^[1-9][0-9]*[kKmM]?$`)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateDownload(); err != nil {
		return err
	}
	if err := c.validateTranscode(); err != nil {
		return err
	}
	if err := c.validateArchive(); err != nil {
		return err
	}
	if err := c.validateSource(); err != nil {
		return err
	}
	return c.validateServer()
}

func (c *Config) validateDownload() error {
	if c.Download.MaxConcurrency < 1 || c.Download.MaxConcurrency > defaultMaxConcurrency {
		return fmt.Errorf("download.max_concurrency must be between 1 and %d", defaultMaxConcurrency)
	}
	if c.Download.FetchLimit < 1 || c.Download.FetchLimit > maxFetchLimit {
		return fmt.Errorf("download.fetch_limit must be between 1 and %d", maxFetchLimit)
	}
	if c.Download.RetryDelayMS < 0 {
		return errors.New("download.retry_delay_ms must not be negative")
	}
	if c.Download.MaxRetryWaitSeconds < 0 {
		return errors.New("download.max_retry_wait_seconds must not be negative")
	}
	if c.Download.RatePerSecond < 0 {
		return errors.New("download.fetch_rate_per_second must not be negative")
	}
	return nil
}

func (c *Config) validateTranscode() error {
	if !bitratePattern.MatchString(c.Transcode.AudioBitrate) {
		return fmt.Errorf("transcode.audio_bitrate %q is not a bitrate like 192k", c.Transcode.AudioBitrate)
	}
	return nil
}

func (c *Config) validateArchive() error {
	switch c.Archive.Compression {
	case "deflate", "zstd", "store":
		return nil
	}
	return fmt.Errorf("archive.compression must be deflate, zstd or store (got %q)", c.Archive.Compression)
}

func (c *Config) validateSource() error {
	if c.Source.GatewayURL == "" {
		return nil
	}
	u, err := url.Parse(c.Source.GatewayURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("source.gateway_url %q must be an http(s) URL", c.Source.GatewayURL)
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.ListenPort < 1 || c.Server.ListenPort > 65535 {
		return errors.New("server.listen_port must be between 1 and 65535")
	}
	return nil
}
