package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fpang/media-bundler/internal/archive"
	"github.com/fpang/media-bundler/internal/auth"
	"github.com/fpang/media-bundler/internal/cli"
	"github.com/fpang/media-bundler/internal/setup"
)

// staleAfter is how old a leftover batch directory must be before doctor
// reports or removes it.
const staleAfter = 24 * time.Hour

var (
	doctorChat  string
	doctorClean bool
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration, ffmpeg and the session",
	RunE:  runDoctor,
}

func init() {
	doctorCmd.Flags().StringVar(&doctorChat, "chat", "", "Also verify the session can read this chat")
	doctorCmd.Flags().BoolVar(&doctorClean, "clean", false, "Remove stale batch directories left by interrupted runs")
}

type checkKind string

const (
	checkOK    checkKind = "OK"
	checkWarn  checkKind = "WARN"
	checkError checkKind = "ERROR"
	checkInfo  checkKind = "INFO"
)

func printCheck(w io.Writer, label string, kind checkKind, message string) {
	fmt.Fprintf(w, "  %-20s [%s] %s\n", label+":", kind, message)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	w := cmd.OutOrStdout()
	ctx := cmd.Context()
	failed := false

	fmt.Fprintf(w, "media-dl %s (built %s)\n\n", commitHash, buildTime)

	if configSeen {
		printCheck(w, "Config", checkOK, configPath)
	} else {
		printCheck(w, "Config", checkInfo, "defaults (no file at "+configPath+")")
	}

	if err := cfg.EnsureDirectories(); err != nil {
		printCheck(w, "Directories", checkError, err.Error())
		failed = true
	} else {
		printCheck(w, "Directories", checkOK, cfg.Paths.TempDir+", "+cfg.Paths.ArchiveDir)
	}

	adapter := setup.Transcoder(ctx, cfg)
	switch capability := adapter.Capability(); {
	case capability.Available:
		printCheck(w, "ffmpeg", checkOK, capability.Path+" "+capability.Version)
	case !cfg.Transcode.Enabled:
		printCheck(w, "ffmpeg", checkInfo, "transcoding disabled in config")
	default:
		printCheck(w, "ffmpeg", checkWarn, capability.Reason+"; videos will be archived as downloaded")
	}

	switch {
	case cfg.Source.GatewayURL == "":
		printCheck(w, "Source", checkInfo, "local directories under "+displayRoot())
	default:
		printCheck(w, "Source", checkOK, "gateway "+cfg.Source.GatewayURL)
		if _, err := auth.SessionToken(); err != nil {
			printCheck(w, "Session", checkError, cli.ValidationMessage(&auth.ValidationError{Type: auth.ErrTypeNoToken, Err: err}))
			failed = true
		} else {
			printCheck(w, "Session", checkOK, "token found")
		}
	}

	if doctorChat != "" {
		if err := checkChat(cmd, doctorChat); err != nil {
			printCheck(w, "Chat", checkError, cli.ValidationMessage(err))
			failed = true
		} else {
			printCheck(w, "Chat", checkOK, "readable")
		}
	}

	if doctorClean {
		n, err := archive.SweepStale(cfg.Paths.TempDir, staleAfter)
		if err != nil {
			printCheck(w, "Cleanup", checkWarn, err.Error())
		} else {
			printCheck(w, "Cleanup", checkOK, fmt.Sprintf("removed %d stale batch directories", n))
		}
	}

	if failed {
		return fmt.Errorf("doctor found problems")
	}
	return nil
}

func displayRoot() string {
	if cfg.Source.DirRoot != "" {
		return cfg.Source.DirRoot
	}
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

func checkChat(cmd *cobra.Command, chat string) error {
	ref, err := resolveRef(chat)
	if err != nil {
		return err
	}
	src, err := setup.Source(ref, cfg, nil)
	if err != nil {
		return err
	}
	return auth.ValidateSession(cmd.Context(), src, ref)
}
