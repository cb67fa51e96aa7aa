package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/fpang/media-bundler/internal/cli"
	"github.com/fpang/media-bundler/internal/media"
	"github.com/fpang/media-bundler/internal/setup"
)

var listSel setup.Selection

var listCmd = &cobra.Command{
	Use:   "list <chat>",
	Short: "List the media attachments of a chat, grouped by topic",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := listSel.Validate(); err != nil {
			return err
		}
		ref, err := resolveRef(args[0])
		if err != nil {
			return err
		}
		src, err := setup.Source(ref, cfg, nil)
		if err != nil {
			return err
		}
		items, err := setup.ListItems(cmd.Context(), src, ref, listSel, cfg.Download.FetchLimit)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No media found.")
			return nil
		}
		printListing(cmd, items)
		return nil
	},
}

func init() {
	listCmd.Flags().StringSliceVar(&listSel.Kinds, "kind", nil, "Only list these kinds (photo, video, audio, document)")
	listCmd.Flags().IntVar(&listSel.Limit, "limit", 0, "Maximum attachments to list (default: fetch_limit from config)")
}

func printListing(cmd *cobra.Command, items []media.Item) {
	var order []string
	groups := make(map[string][]media.Item)
	for _, it := range items {
		t := setup.TopicOf(it)
		if _, ok := groups[t]; !ok {
			order = append(order, t)
		}
		groups[t] = append(groups[t], it)
	}

	out := cmd.OutOrStdout()
	var total int64
	for _, topic := range order {
		rows := make([][]string, 0, len(groups[topic]))
		for i, it := range groups[topic] {
			total += it.Size
			date := ""
			if !it.Date.IsZero() {
				date = it.Date.Local().Format("2006-01-02 15:04")
			}
			rows = append(rows, []string{strconv.Itoa(i + 1), it.ID, it.Filename, string(it.Kind), cli.FormatSize(it.Size), date})
		}
		fmt.Fprintf(out, "\n%s (%d)\n", topic, len(rows))
		fmt.Fprintln(out, cli.RenderTable(
			[]string{"#", "ID", "Name", "Kind", "Size", "Date"},
			rows,
			[]cli.Alignment{cli.AlignRight, cli.AlignLeft, cli.AlignLeft, cli.AlignLeft, cli.AlignRight},
		))
	}
	fmt.Fprintf(out, "\n%d attachments, %s total\n", len(items), cli.FormatSize(total))
}
