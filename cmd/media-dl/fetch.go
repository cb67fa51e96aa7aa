package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/media-bundler/internal/archive"
	"github.com/fpang/media-bundler/internal/cli"
	"github.com/fpang/media-bundler/internal/jobs"
	"github.com/fpang/media-bundler/internal/media"
	"github.com/fpang/media-bundler/internal/pipeline"
	"github.com/fpang/media-bundler/internal/setup"
)

var (
	fetchSel         setup.Selection
	fetchConcurrency int
	fetchNoTranscode bool
	fetchNumbered    bool
	fetchOutput      string
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <chat>",
	Short: "Download media from a chat into a ZIP archive",
	Long: `Fetch downloads the selected attachments with a bounded number of parallel
downloads, converts incompatible videos to MP4 when ffmpeg is available, and
writes one ZIP archive. Press Ctrl-C to stop: items already downloaded are
still archived.`,
	Args: cobra.ExactArgs(1),
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().StringSliceVar(&fetchSel.Kinds, "kind", nil, "Only fetch these kinds (photo, video, audio, document)")
	fetchCmd.Flags().StringSliceVar(&fetchSel.IDs, "id", nil, "Only fetch these attachment IDs (see media-dl list)")
	fetchCmd.Flags().IntVar(&fetchSel.Limit, "limit", 0, "Maximum attachments to consider (default: fetch_limit from config)")
	fetchCmd.Flags().IntVarP(&fetchConcurrency, "concurrency", "c", 0, "Parallel downloads (default from config, max 10)")
	fetchCmd.Flags().BoolVar(&fetchNoTranscode, "no-transcode", false, "Archive videos as downloaded")
	fetchCmd.Flags().BoolVar(&fetchNumbered, "numbered", false, "Prefix archive names with their position (001_name.ext)")
	fetchCmd.Flags().StringVarP(&fetchOutput, "output", "o", "", "Archive path (default ./media-<batch>.zip)")
}

func runFetch(cmd *cobra.Command, args []string) error {
	if err := fetchSel.Validate(); err != nil {
		return err
	}
	if fetchConcurrency < 0 || fetchConcurrency > cfg.Download.MaxConcurrency {
		return fmt.Errorf("concurrency must be between 1 and %d", cfg.Download.MaxConcurrency)
	}
	concurrency := fetchConcurrency
	if concurrency == 0 {
		concurrency = cfg.Download.Concurrency
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ref, err := resolveRef(args[0])
	if err != nil {
		return err
	}
	src, err := setup.Source(ref, cfg, nil)
	if err != nil {
		if setup.IsMissingSession(err) {
			return fmt.Errorf("%s", cli.ValidationMessage(err))
		}
		return err
	}
	items, err := setup.ListItems(ctx, src, ref, fetchSel, cfg.Download.FetchLimit)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Nothing to download.")
		return nil
	}

	adapter := setup.Transcoder(ctx, cfg)
	coord, err := setup.Coordinator(src, adapter, cfg, nil, setup.SourceName(ref, cfg))
	if err != nil {
		return err
	}

	batch := pipeline.Batch{
		ID:          jobs.GenerateID(jobs.BatchPrefix),
		SourceRef:   ref,
		Items:       items,
		Concurrency: concurrency,
		Transcode:   cfg.Transcode.Enabled && !fetchNoTranscode,
		Numbered:    fetchNumbered,
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Fetching %d attachments from %s (%d parallel)\n", len(items), ref, coord.Limit(concurrency))

	progress := cli.NewBatchProgress(os.Stderr, len(items), cli.IsTerminal(os.Stderr))
	res, runErr := coord.Execute(ctx, batch, progress)
	_, fetched := progress.Finish()

	if res == nil {
		return runErr
	}
	printResult(cmd.OutOrStdout(), res)

	if res.Archive != nil {
		dest, err := placeArchive(res.Archive, fetchOutput)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\nArchive: %s (%s, %d files)\n", dest, cli.FormatSize(res.Archive.Size), len(res.Archive.Files))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Done in %s, %s at %s\n",
		cli.FormatDurationShort(res.Duration), cli.FormatSize(fetched), cli.FormatSpeed(fetched, res.Duration))

	if runErr != nil {
		return runErr
	}
	if res.Cancelled {
		return errors.New("cancelled")
	}
	return nil
}

func printResult(w io.Writer, res *pipeline.BatchResult) {
	rows := make([][]string, 0, len(res.Items))
	for _, it := range res.Items {
		detail := it.Reason
		if len(it.Notes) > 0 {
			if detail != "" {
				detail += "; "
			}
			detail += strings.Join(it.Notes, "; ")
		}
		outcome := string(it.Outcome)
		if it.Status == media.StatusPending {
			outcome = "Skipped"
		}
		rows = append(rows, []string{it.Name, string(it.Kind), outcome, cli.FormatSize(it.Bytes), detail})
	}
	fmt.Fprintln(w, cli.RenderTable(
		[]string{"Name", "Kind", "Result", "Size", "Details"},
		rows,
		[]cli.Alignment{cli.AlignLeft, cli.AlignLeft, cli.AlignLeft, cli.AlignRight},
	))
	fmt.Fprintf(w, "%d succeeded, %d failed, %d skipped\n", res.Succeeded, res.Failed, res.Skipped)
}

// placeArchive moves the finished archive to output (a file or an existing
// directory). It falls back to copying when a rename crosses filesystems.
func placeArchive(h *archive.Handle, output string) (string, error) {
	dest := output
	if dest == "" {
		dest = h.Filename()
	} else if info, err := os.Stat(dest); err == nil && info.IsDir() {
		dest = filepath.Join(dest, h.Filename())
	}
	if err := os.Rename(h.Path, dest); err == nil {
		return dest, nil
	}

	log.Debug().Str("from", h.Path).Str("to", dest).Msg("Rename failed, copying archive")
	in, err := os.Open(h.Path)
	if err != nil {
		return "", fmt.Errorf("open archive: %w", err)
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", dest, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dest)
		return "", fmt.Errorf("copy archive: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", dest, err)
	}
	os.Remove(h.Path)
	return dest, nil
}
