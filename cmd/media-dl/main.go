// Command media-dl lists and downloads the media attachments of a chat,
// converting videos to MP4 when ffmpeg is available and bundling everything
// into a single ZIP archive.
package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/fpang/media-bundler/internal/config"
	"github.com/fpang/media-bundler/internal/logging"
)

// CLI flags
var (
	configFlag   string
	logLevelFlag string
)

// Loaded by the root command's PersistentPreRunE.
var (
	cfg        *config.Config
	configPath string
	configSeen bool
)

var rootCmd = &cobra.Command{
	Use:   "media-dl",
	Short: "Download chat media into a single archive",
	Long: `media-dl lists the photos, videos and audio attached to a chat and downloads
them in parallel into one ZIP archive. Videos in containers common players
cannot open are converted to MP4 when ffmpeg is installed.

Examples:
  media-dl list https://t.me/c/2381311281/21
  media-dl fetch @somechannel --kind video --numbered
  media-dl fetch ./exports/family --output family.zip
  media-dl doctor`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logging.Init()
		if logLevelFlag != "" {
			zerolog.SetGlobalLevel(logging.ParseLevel(logLevelFlag))
		}
		var err error
		cfg, configPath, configSeen, err = config.Load(configFlag)
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Config file (default ~/.config/media-bundler/config.toml)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level: debug, info, warn, error (overrides MEDIA_LOG_LEVEL)")

	rootCmd.AddCommand(listCmd, fetchCmd, doctorCmd, loginCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
