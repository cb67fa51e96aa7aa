package main

import (
	"fmt"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/fpang/media-bundler/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or create the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a commented sample config",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := config.WriteSample(configFlag)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := toml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("encode config: %w", err)
		}
		if configSeen {
			fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", configPath)
		} else if path, err := config.DefaultConfigPath(); err == nil {
			fmt.Fprintf(cmd.OutOrStdout(), "# defaults (no config file at %s)\n", path)
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

var configSampleCmd = &cobra.Command{
	Use:   "sample",
	Short: "Print the commented sample config",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprint(cmd.OutOrStdout(), config.SampleConfig())
	},
}

func init() {
	configCmd.AddCommand(configInitCmd, configShowCmd, configSampleCmd)
}
