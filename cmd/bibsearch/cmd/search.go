package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	bserrors "github.com/Aman-CERP/bibsearch/internal/errors"
	"github.com/Aman-CERP/bibsearch/internal/output"
	"github.com/Aman-CERP/bibsearch/pkg/searcher"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	limit  int
	format string // "text", "json"
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the text of indexed PDFs",
		Long: `Search the text of every indexed PDF page.

Words are ANDed. Use OR and NOT, "quoted phrases" and parentheses to
refine. Matching is case-insensitive and ignores common English words.

Examples:
  bibsearch search graphene
  bibsearch search '"phase transition" NOT review' -n 5
  bibsearch search "(lattice OR crystal) defect" --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Maximum number of results (default from config)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
	if opts.format != "text" && opts.format != "json" {
		return bserrors.InvalidArgument(fmt.Sprintf("unknown format %q (valid options: text, json)", opts.format))
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	limit := opts.limit
	if !cmd.Flags().Changed("limit") {
		limit = cfg.Search.DefaultLimit
	}

	svc, err := openIndex(ctx, cfg, openOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	slog.Info("search_started", slog.String("query", query), slog.Int("limit", limit))
	res, err := svc.Search(ctx, searcher.Request{Query: &query, MaxResults: limit})
	if err != nil {
		if opts.format == "json" {
			// Scripts reading stdout get the error as a JSON object too.
			if data, jerr := bserrors.FormatJSON(err); jerr == nil {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			}
		}
		return err
	}

	if opts.format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	return formatText(output.New(cmd.OutOrStdout()), res)
}

func formatText(out *output.Writer, res *searcher.Results) error {
	if len(res.Hits) == 0 {
		out.Status("", fmt.Sprintf("No results found for %q", res.Query))
		return nil
	}

	for i, h := range res.Hits {
		out.Hit(i+1, h.EntryKey, h.Page, h.Score, h.File, h.Snippet)
		out.Newline()
	}
	out.Summary(len(res.Hits), res.Total, res.Query, res.Took.Round(time.Microsecond).String())
	return nil
}
